package session

import (
	"context"
	"errors"
	"math/rand"
	"time"

	"github.com/google/uuid"
	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/paperdesk/paperdesk-backend/internal/repository"
	"github.com/rs/zerolog"
)

// State is the controller's lifecycle phase.
type State string

const (
	StateLoading          State = "LOADING"
	StateStarting         State = "STARTING"
	StateResuming         State = "RESUMING"
	StateInProgress       State = "IN_PROGRESS"
	StateSubmitting       State = "SUBMITTING"
	StateCompleted        State = "COMPLETED"
	StateAlreadyCompleted State = "ALREADY_COMPLETED"
	StateFailed           State = "FAILED"
)

// Trigger identifies what caused a submission.
type Trigger string

const (
	TriggerManual    Trigger = "manual"
	TriggerTimer     Trigger = "timer"
	TriggerTabSwitch Trigger = "tab_switch"
)

// Store is the attempt backend the controller drives.
type Store interface {
	GetOrCreateAttempt(ctx context.Context, paperID, studentID uuid.UUID) (*model.Attempt, error)
	SaveProgress(ctx context.Context, attemptID, studentID uuid.UUID, req model.SaveProgressRequest) error
	Submit(ctx context.Context, studentID uuid.UUID, req model.SubmitRequest) (*model.ExamResult, error)
}

// Config wires a Controller.
type Config struct {
	Store     Store
	Clock     Clock
	Focus     FocusMonitor
	Payload   *model.PaperPayload
	StudentID uuid.UUID
	// Rand drives the per-session option shuffle. Required.
	Rand             *rand.Rand
	AutosaveInterval time.Duration
	TabSwitchLimit   int
	Logger           zerolog.Logger
}

// Snapshot is a consistent read of the controller state.
type Snapshot struct {
	State          State
	Questions      []model.MCQQuestion
	Answers        map[int]string
	TimeRemaining  int
	TabSwitchCount int
	Warned         bool
	Result         *model.ExamResult
	Err            error
}

// Controller runs one student's exam session: it owns the countdown,
// autosave cadence, focus-loss strikes and the single submission. All state
// lives on the Run goroutine; external callers go through the command
// channel, so no mutex is needed and submissions are naturally serialized.
type Controller struct {
	store Store
	clock Clock
	focus FocusMonitor
	rng   *rand.Rand
	log   zerolog.Logger

	payload        *model.PaperPayload
	studentID      uuid.UUID
	autosaveEvery  int
	tabSwitchLimit int

	cmds     chan func()
	done     chan struct{}
	warnings chan int

	// Everything below is touched only by the Run goroutine.
	state          State
	attempt        *model.Attempt
	questions      []model.MCQQuestion
	answers        map[int]string
	timeRemaining  int
	tabSwitchCount int
	warned         bool
	timerFired     bool
	result         *model.ExamResult
	failure        error
}

// NewController creates a Controller. Run must be called for it to do
// anything.
func NewController(cfg Config) *Controller {
	autosaveEvery := int(cfg.AutosaveInterval / time.Second)
	if autosaveEvery < 1 {
		autosaveEvery = 30
	}
	limit := cfg.TabSwitchLimit
	if limit < 1 {
		limit = 2
	}
	return &Controller{
		store:          cfg.Store,
		clock:          cfg.Clock,
		focus:          cfg.Focus,
		rng:            cfg.Rand,
		log:            cfg.Logger.With().Str("component", "session_controller").Logger(),
		payload:        cfg.Payload,
		studentID:      cfg.StudentID,
		autosaveEvery:  autosaveEvery,
		tabSwitchLimit: limit,
		cmds:           make(chan func()),
		done:           make(chan struct{}),
		warnings:       make(chan int, 4),
		state:          StateLoading,
		answers:        make(map[int]string),
	}
}

// Run drives the session until it reaches a terminal state or ctx is
// cancelled. Cancellation flushes one last progress snapshot so a resume
// picks up where the student left off.
func (c *Controller) Run(ctx context.Context) error {
	defer close(c.done)

	if err := c.load(ctx); err != nil {
		c.state = StateFailed
		c.failure = err
		return err
	}
	if c.state == StateAlreadyCompleted {
		return nil
	}

	focusCh := c.focus.Events()
	ticksSinceAutosave := 0
	for {
		select {
		case <-ctx.Done():
			if c.state == StateInProgress {
				c.autosave(context.Background())
			}
			return ctx.Err()

		case fn := <-c.cmds:
			fn()

		case <-c.clock.Tick():
			if c.state != StateInProgress {
				continue
			}
			if c.timeRemaining > 0 {
				c.timeRemaining--
			}
			if c.timeRemaining == 0 && !c.timerFired {
				c.timerFired = true
				c.submit(ctx, TriggerTimer)
				break
			}
			ticksSinceAutosave++
			if ticksSinceAutosave >= c.autosaveEvery {
				ticksSinceAutosave = 0
				c.autosave(ctx)
			}

		case _, ok := <-focusCh:
			if !ok {
				focusCh = nil
				continue
			}
			if c.state != StateInProgress {
				continue
			}
			c.strike(ctx)
		}

		switch c.state {
		case StateCompleted, StateAlreadyCompleted, StateFailed:
			return nil
		}
	}
}

// SelectAnswer records the student's choice for a question. Ignored outside
// IN_PROGRESS.
func (c *Controller) SelectAnswer(number int, option string) {
	c.do(func() {
		if c.state != StateInProgress {
			return
		}
		c.answers[number] = option
	})
}

// Submit requests a manual submission. Ignored when a submission already
// ran or is running.
func (c *Controller) Submit() {
	c.do(func() {
		if c.state != StateInProgress {
			return
		}
		c.submit(context.Background(), TriggerManual)
	})
}

// ReportFocusLoss feeds a strike without going through the FocusMonitor.
// Used by transports that multiplex events on one connection.
func (c *Controller) ReportFocusLoss() {
	c.do(func() {
		if c.state != StateInProgress {
			return
		}
		c.strike(context.Background())
	})
}

// Warnings delivers the strike count after each focus loss that did not hit
// the limit. The transport forwards these to the client as they happen.
func (c *Controller) Warnings() <-chan int { return c.warnings }

// Snapshot returns a copy of the current state. Safe from any goroutine.
func (c *Controller) Snapshot() Snapshot {
	var snap Snapshot
	c.doSync(func() {
		answers := make(map[int]string, len(c.answers))
		for k, v := range c.answers {
			answers[k] = v
		}
		questions := make([]model.MCQQuestion, len(c.questions))
		copy(questions, c.questions)
		snap = Snapshot{
			State:          c.state,
			Questions:      questions,
			Answers:        answers,
			TimeRemaining:  c.timeRemaining,
			TabSwitchCount: c.tabSwitchCount,
			Warned:         c.warned,
			Result:         c.result,
			Err:            c.failure,
		}
	})
	if snap.State == "" {
		// Run already exited; read the final values directly.
		snap = Snapshot{
			State:          c.state,
			Answers:        c.answers,
			TimeRemaining:  c.timeRemaining,
			TabSwitchCount: c.tabSwitchCount,
			Warned:         c.warned,
			Result:         c.result,
			Err:            c.failure,
		}
	}
	return snap
}

// Done is closed when Run has returned.
func (c *Controller) Done() <-chan struct{} { return c.done }

func (c *Controller) do(fn func()) {
	select {
	case c.cmds <- fn:
	case <-c.done:
	}
}

func (c *Controller) doSync(fn func()) {
	ready := make(chan struct{})
	select {
	case c.cmds <- func() { fn(); close(ready) }:
		<-ready
	case <-c.done:
	}
}

func (c *Controller) load(ctx context.Context) error {
	attempt, err := c.store.GetOrCreateAttempt(ctx, c.payload.PaperID, c.studentID)
	if err != nil {
		return err
	}
	c.attempt = attempt

	if attempt.IsSubmitted {
		c.state = StateAlreadyCompleted
		return nil
	}

	fresh := len(attempt.Answers) == 0 &&
		attempt.TabSwitchCount == 0 &&
		attempt.TimeRemaining == c.payload.DurationMinutes*60
	if fresh {
		c.state = StateStarting
	} else {
		c.state = StateResuming
	}

	c.answers = attempt.Answers.ToMap()
	c.timeRemaining = attempt.TimeRemaining
	c.tabSwitchCount = attempt.TabSwitchCount
	c.warned = attempt.TabSwitchCount > 0
	c.questions = shuffleOptions(c.payload.Questions, c.rng)

	c.state = StateInProgress
	return nil
}

func (c *Controller) autosave(ctx context.Context) {
	req := model.SaveProgressRequest{
		Answers:        model.AnswersFromMap(c.answers),
		TimeRemaining:  c.timeRemaining,
		TabSwitchCount: c.tabSwitchCount,
	}
	if err := c.store.SaveProgress(ctx, c.attempt.ID, c.studentID, req); err != nil {
		// Local state is intact; the next interval retries with a
		// fresher snapshot.
		c.log.Warn().Err(err).Str("attempt_id", c.attempt.ID.String()).Msg("Autosave failed")
	}
}

// strike records one focus loss: warn and flush below the limit, auto-submit
// at the limit.
func (c *Controller) strike(ctx context.Context) {
	c.tabSwitchCount++
	c.log.Warn().
		Int("count", c.tabSwitchCount).
		Str("student_id", c.studentID.String()).
		Msg("Focus loss recorded")
	if c.tabSwitchCount >= c.tabSwitchLimit {
		c.submit(ctx, TriggerTabSwitch)
		return
	}
	c.warned = true
	select {
	case c.warnings <- c.tabSwitchCount:
	default:
	}
	c.autosave(ctx)
}

func (c *Controller) submit(ctx context.Context, trigger Trigger) {
	c.state = StateSubmitting

	req := model.SubmitRequest{
		AttemptID: c.attempt.ID,
		PaperID:   c.payload.PaperID,
		Answers:   model.AnswersFromMap(c.answers),
	}
	result, err := c.store.Submit(ctx, c.studentID, req)
	if err != nil {
		if errors.Is(err, repository.ErrAlreadySubmitted) {
			c.state = StateAlreadyCompleted
			return
		}
		c.log.Error().Err(err).Str("trigger", string(trigger)).Msg("Submission failed")
		// The attempt is still open regardless of what triggered the
		// submission; the timer stays latched at zero and a later
		// submit retries. The error is surfaced via Snapshot.
		c.failure = err
		c.state = StateInProgress
		return
	}

	c.failure = nil
	c.result = result
	c.state = StateCompleted
	c.log.Info().
		Str("attempt_id", c.attempt.ID.String()).
		Str("trigger", string(trigger)).
		Int("score", result.Score).
		Msg("Session completed")
}

// shuffleOptions permutes each question's option order per session. The
// letter prefix is part of the option text, so a choice keeps its identity
// wherever it lands on screen.
func shuffleOptions(questions []model.MCQQuestion, rng *rand.Rand) []model.MCQQuestion {
	out := make([]model.MCQQuestion, len(questions))
	copy(out, questions)
	for i := range out {
		opts := make([]string, len(out[i].Options))
		copy(opts, out[i].Options)
		rng.Shuffle(len(opts), func(a, b int) {
			opts[a], opts[b] = opts[b], opts[a]
		})
		out[i].Options = opts
	}
	return out
}
