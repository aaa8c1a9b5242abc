package session

import (
	"context"
	"errors"
	"math/rand"
	"sync"
	"testing"
	"time"

	"github.com/google/uuid"
	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/paperdesk/paperdesk-backend/internal/repository"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/require"
)

type fakeClock struct {
	ch chan time.Time
}

func newFakeClock() *fakeClock             { return &fakeClock{ch: make(chan time.Time)} }
func (f *fakeClock) Tick() <-chan time.Time { return f.ch }
func (f *fakeClock) Now() time.Time         { return time.Unix(0, 0) }
func (f *fakeClock) Stop()                  {}

// tick blocks until the controller has received the tick, which serializes
// it against later Snapshot calls.
func (f *fakeClock) tick() { f.ch <- time.Unix(0, 0) }

type fakeStore struct {
	mu          sync.Mutex
	attempt     *model.Attempt
	saveErr     error
	submitErr   error
	saveCalls   int
	submitCalls int
	lastSave    model.SaveProgressRequest
	lastSubmit  model.SubmitRequest
	result      *model.ExamResult
}

func (s *fakeStore) GetOrCreateAttempt(ctx context.Context, paperID, studentID uuid.UUID) (*model.Attempt, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	a := *s.attempt
	return &a, nil
}

func (s *fakeStore) SaveProgress(ctx context.Context, attemptID, studentID uuid.UUID, req model.SaveProgressRequest) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.saveCalls++
	s.lastSave = req
	return s.saveErr
}

func (s *fakeStore) Submit(ctx context.Context, studentID uuid.UUID, req model.SubmitRequest) (*model.ExamResult, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitCalls++
	s.lastSubmit = req
	if s.submitErr != nil {
		return nil, s.submitErr
	}
	return s.result, nil
}

func (s *fakeStore) setSubmitErr(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.submitErr = err
}

func (s *fakeStore) submits() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.submitCalls
}

func (s *fakeStore) saves() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.saveCalls
}

func testPayload() *model.PaperPayload {
	return &model.PaperPayload{
		PaperID:          uuid.New(),
		Title:            "Physics - Grade 10",
		DurationMinutes:  1,
		MarksPerQuestion: 1,
		Questions: []model.MCQQuestion{
			{Number: 1, Question: "Q1", Options: []string{"A) Red", "B) Green", "C) Blue", "D) Black"}},
			{Number: 2, Question: "Q2", Options: []string{"A) One", "B) Two", "C) Three", "D) Four"}},
		},
	}
}

func freshAttempt(payload *model.PaperPayload, studentID uuid.UUID) *model.Attempt {
	return &model.Attempt{
		ID:            uuid.New(),
		PaperID:       payload.PaperID,
		StudentID:     studentID,
		Answers:       model.AnswerSet{},
		TimeRemaining: payload.DurationMinutes * 60,
	}
}

func startController(t *testing.T, store *fakeStore, payload *model.PaperPayload, studentID uuid.UUID) (*Controller, *fakeClock, context.CancelFunc) {
	t.Helper()

	clock := newFakeClock()
	focus := NewChannelFocusMonitor()
	ctrl := NewController(Config{
		Store:            store,
		Clock:            clock,
		Focus:            focus,
		Payload:          payload,
		StudentID:        studentID,
		Rand:             rand.New(rand.NewSource(1)),
		AutosaveInterval: 30 * time.Second,
		TabSwitchLimit:   2,
		Logger:           zerolog.Nop(),
	})

	ctx, cancel := context.WithCancel(context.Background())
	go ctrl.Run(ctx)
	t.Cleanup(cancel)
	return ctrl, clock, cancel
}

func TestFreshStartCountsDown(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	store := &fakeStore{attempt: freshAttempt(payload, studentID)}

	ctrl, clock, _ := startController(t, store, payload, studentID)

	snap := ctrl.Snapshot()
	require.Equal(t, StateInProgress, snap.State)
	require.Equal(t, 60, snap.TimeRemaining)

	clock.tick()
	clock.tick()
	clock.tick()

	snap = ctrl.Snapshot()
	require.Equal(t, 57, snap.TimeRemaining)
}

func TestTimerExpiryAutoSubmitsExactlyOnce(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	attempt := freshAttempt(payload, studentID)
	attempt.TimeRemaining = 2
	store := &fakeStore{
		attempt: attempt,
		result:  &model.ExamResult{Score: 0, WrongCount: 2, TotalQuestions: 2},
	}

	ctrl, clock, _ := startController(t, store, payload, studentID)

	clock.tick()
	clock.tick()

	select {
	case <-ctrl.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not finish after timer expiry")
	}

	require.Equal(t, 1, store.submits())
	require.Equal(t, StateCompleted, ctrl.Snapshot().State)
}

func TestSecondStrikeAutoSubmits(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	store := &fakeStore{
		attempt: freshAttempt(payload, studentID),
		result:  &model.ExamResult{TotalQuestions: 2},
	}

	ctrl, _, _ := startController(t, store, payload, studentID)

	ctrl.ReportFocusLoss()
	snap := ctrl.Snapshot()
	require.Equal(t, StateInProgress, snap.State)
	require.Equal(t, 1, snap.TabSwitchCount)
	require.True(t, snap.Warned)
	require.Equal(t, 0, store.submits())
	// First strike flushes progress so a reload keeps the count.
	require.Equal(t, 1, store.saves())
	require.Equal(t, 1, store.lastSave.TabSwitchCount)

	ctrl.ReportFocusLoss()

	select {
	case <-ctrl.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not finish after second strike")
	}

	require.Equal(t, 1, store.submits())
	require.Equal(t, StateCompleted, ctrl.Snapshot().State)
}

func TestResumeRestoresProgress(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	attempt := freshAttempt(payload, studentID)
	attempt.Answers = model.AnswerSet{{Number: 1, Answer: "B) Green"}}
	attempt.TimeRemaining = 45
	attempt.TabSwitchCount = 1
	store := &fakeStore{attempt: attempt}

	ctrl, _, _ := startController(t, store, payload, studentID)

	snap := ctrl.Snapshot()
	require.Equal(t, StateInProgress, snap.State)
	require.Equal(t, map[int]string{1: "B) Green"}, snap.Answers)
	require.Equal(t, 45, snap.TimeRemaining)
	require.Equal(t, 1, snap.TabSwitchCount)
	require.True(t, snap.Warned)
}

func TestAlreadySubmittedAttemptShortCircuits(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	attempt := freshAttempt(payload, studentID)
	attempt.IsSubmitted = true
	store := &fakeStore{attempt: attempt}

	ctrl, _, _ := startController(t, store, payload, studentID)

	select {
	case <-ctrl.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not finish for submitted attempt")
	}

	require.Equal(t, StateAlreadyCompleted, ctrl.Snapshot().State)
	require.Equal(t, 0, store.submits())
}

func TestManualSubmitIsNotReentrant(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	store := &fakeStore{
		attempt: freshAttempt(payload, studentID),
		result:  &model.ExamResult{Score: 2, CorrectCount: 2, TotalQuestions: 2},
	}

	ctrl, _, _ := startController(t, store, payload, studentID)

	ctrl.SelectAnswer(1, "A) Red")
	ctrl.SelectAnswer(2, "B) Two")
	ctrl.Submit()
	ctrl.Submit()

	select {
	case <-ctrl.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not finish after submit")
	}

	require.Equal(t, 1, store.submits())
	require.Equal(t, store.attempt.ID, store.lastSubmit.AttemptID)
	require.ElementsMatch(t, model.AnswerSet{
		{Number: 1, Answer: "A) Red"},
		{Number: 2, Answer: "B) Two"},
	}, store.lastSubmit.Answers)
}

func TestSubmitAlreadySubmittedByOtherDevice(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	store := &fakeStore{
		attempt:   freshAttempt(payload, studentID),
		submitErr: repository.ErrAlreadySubmitted,
	}

	ctrl, _, _ := startController(t, store, payload, studentID)

	ctrl.Submit()

	select {
	case <-ctrl.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not finish")
	}

	require.Equal(t, StateAlreadyCompleted, ctrl.Snapshot().State)
}

func TestAutosaveCadenceAndFailureRetry(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	store := &fakeStore{
		attempt: freshAttempt(payload, studentID),
		saveErr: errors.New("redis down"),
	}

	clock := newFakeClock()
	focus := NewChannelFocusMonitor()
	ctrl := NewController(Config{
		Store:            store,
		Clock:            clock,
		Focus:            focus,
		Payload:          payload,
		StudentID:        studentID,
		Rand:             rand.New(rand.NewSource(1)),
		AutosaveInterval: 2 * time.Second,
		TabSwitchLimit:   2,
		Logger:           zerolog.Nop(),
	})
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	go ctrl.Run(ctx)

	ctrl.SelectAnswer(1, "C) Blue")

	clock.tick()
	clock.tick()
	ctrl.Snapshot() // barrier: the tick handler has finished once this returns
	require.Equal(t, 1, store.saves())

	// The failed save must not lose local state; the next interval
	// retries with the same answers.
	clock.tick()
	clock.tick()
	ctrl.Snapshot()
	require.Equal(t, 2, store.saves())
	require.Equal(t, model.AnswerSet{{Number: 1, Answer: "C) Blue"}}, store.lastSave.Answers)

	snap := ctrl.Snapshot()
	require.Equal(t, map[int]string{1: "C) Blue"}, snap.Answers)
}

func TestFailedTimerAutoSubmitKeepsAttemptOpen(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	attempt := freshAttempt(payload, studentID)
	attempt.TimeRemaining = 1
	store := &fakeStore{
		attempt:   attempt,
		submitErr: errors.New("scoring temporarily unavailable"),
		result:    &model.ExamResult{TotalQuestions: 2},
	}

	ctrl, clock, _ := startController(t, store, payload, studentID)

	clock.tick()
	snap := ctrl.Snapshot()
	require.Equal(t, StateInProgress, snap.State)
	require.Error(t, snap.Err)
	require.Equal(t, 1, store.submits())

	// The timer stays latched at zero: more ticks must not resubmit.
	clock.tick()
	clock.tick()
	ctrl.Snapshot()
	require.Equal(t, 1, store.submits())

	// A manual retry completes the session once the backend recovers.
	store.setSubmitErr(nil)
	ctrl.Submit()

	select {
	case <-ctrl.Done():
	case <-time.After(time.Second):
		t.Fatal("controller did not finish after retry")
	}

	require.Equal(t, 2, store.submits())
	require.Equal(t, StateCompleted, ctrl.Snapshot().State)
}

func TestFailedStrikeAutoSubmitKeepsAttemptOpen(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	store := &fakeStore{
		attempt:   freshAttempt(payload, studentID),
		submitErr: errors.New("scoring temporarily unavailable"),
	}

	ctrl, _, _ := startController(t, store, payload, studentID)

	ctrl.ReportFocusLoss()
	ctrl.ReportFocusLoss()

	snap := ctrl.Snapshot()
	require.Equal(t, StateInProgress, snap.State)
	require.Error(t, snap.Err)
	require.Equal(t, 1, store.submits())
	require.Equal(t, 2, snap.TabSwitchCount)
}

func TestFirstStrikeEmitsWarning(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	store := &fakeStore{attempt: freshAttempt(payload, studentID)}

	ctrl, _, _ := startController(t, store, payload, studentID)

	ctrl.ReportFocusLoss()

	select {
	case strikes := <-ctrl.Warnings():
		require.Equal(t, 1, strikes)
	case <-time.After(time.Second):
		t.Fatal("no warning after first strike")
	}
}

func TestShuffleIsDeterministicPerSeed(t *testing.T) {
	questions := testPayload().Questions

	a := shuffleOptions(questions, rand.New(rand.NewSource(42)))
	b := shuffleOptions(questions, rand.New(rand.NewSource(42)))
	require.Equal(t, a, b)

	// The shuffle permutes display order only: every option keeps its
	// letter prefix and no option is lost.
	for i := range questions {
		require.ElementsMatch(t, questions[i].Options, a[i].Options)
	}
}

func TestSelectAnswerIgnoredAfterCompletion(t *testing.T) {
	payload := testPayload()
	studentID := uuid.New()
	store := &fakeStore{
		attempt: freshAttempt(payload, studentID),
		result:  &model.ExamResult{TotalQuestions: 2},
	}

	ctrl, _, _ := startController(t, store, payload, studentID)

	ctrl.Submit()
	<-ctrl.Done()

	ctrl.SelectAnswer(1, "D) Black")
	snap := ctrl.Snapshot()
	require.Empty(t, snap.Answers)
}
