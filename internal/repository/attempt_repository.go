package repository

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/paperdesk/paperdesk-backend/internal/model"
)

// Attempt store errors.
var (
	ErrAttemptNotFound  = errors.New("attempt not found")
	ErrAlreadySubmitted = errors.New("attempt already submitted")
)

const attemptColumns = `id, paper_id, student_id, answers, time_remaining, tab_switch_count,
	 is_submitted, submitted_at, score, correct_count, wrong_count, total_questions,
	 created_at, updated_at`

// AttemptRepository handles exam attempt data access. It is the durable
// side of the attempt store: at most one row per (paper_id, student_id),
// mutable fields writable only while the attempt is open, and a one-way
// finalize transition.
type AttemptRepository struct {
	pool *pgxpool.Pool
}

// NewAttemptRepository creates a new AttemptRepository.
func NewAttemptRepository(pool *pgxpool.Pool) *AttemptRepository {
	return &AttemptRepository{pool: pool}
}

// Create inserts a fresh attempt row. The unique constraint on
// (paper_id, student_id) makes concurrent first-access requests collapse to
// a single row: the loser gets pgx.ErrNoRows (ON CONFLICT DO NOTHING scans
// nothing) and must re-read the winner's row.
func (r *AttemptRepository) Create(ctx context.Context, a *model.Attempt) error {
	answersJSON, err := json.Marshal(a.Answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	return r.pool.QueryRow(ctx,
		`INSERT INTO exam_attempts (paper_id, student_id, answers, time_remaining, tab_switch_count)
		 VALUES ($1, $2, $3, $4, $5)
		 ON CONFLICT (paper_id, student_id) DO NOTHING
		 RETURNING id, created_at, updated_at`,
		a.PaperID, a.StudentID, answersJSON, a.TimeRemaining, a.TabSwitchCount,
	).Scan(&a.ID, &a.CreatedAt, &a.UpdatedAt)
}

// GetByPaperAndStudent retrieves the attempt for a (paper, student) pair.
func (r *AttemptRepository) GetByPaperAndStudent(ctx context.Context, paperID, studentID uuid.UUID) (*model.Attempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM exam_attempts
		 WHERE paper_id = $1 AND student_id = $2`, paperID, studentID)
	return scanAttempt(row)
}

// GetByID retrieves an attempt by its ID.
func (r *AttemptRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Attempt, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT `+attemptColumns+`
		 FROM exam_attempts
		 WHERE id = $1`, id)
	return scanAttempt(row)
}

// SaveProgress overwrites the three mutable fields wholesale (last write
// wins, no merge). Writes against a submitted attempt are rejected with
// ErrAlreadySubmitted; the WHERE guard makes the check atomic.
func (r *AttemptRepository) SaveProgress(ctx context.Context, id uuid.UUID, answers model.AnswerSet, timeRemaining, tabSwitchCount int) error {
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET answers = $2, time_remaining = $3, tab_switch_count = $4, updated_at = NOW()
		 WHERE id = $1 AND is_submitted = FALSE`,
		id, answersJSON, timeRemaining, tabSwitchCount)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// Finalize flips is_submitted and writes the terminal fields exactly once.
// The first writer wins; any later call finds no open row and gets
// ErrAlreadySubmitted, leaving the stored result untouched.
func (r *AttemptRepository) Finalize(ctx context.Context, id uuid.UUID, answers model.AnswerSet, res model.AttemptResult) error {
	answersJSON, err := json.Marshal(answers)
	if err != nil {
		return fmt.Errorf("marshal answers: %w", err)
	}

	tag, err := r.pool.Exec(ctx,
		`UPDATE exam_attempts
		 SET is_submitted = TRUE,
		     submitted_at = $2,
		     answers = $3,
		     score = $4,
		     correct_count = $5,
		     wrong_count = $6,
		     total_questions = $7,
		     updated_at = NOW()
		 WHERE id = $1 AND is_submitted = FALSE`,
		id, res.SubmittedAt, answersJSON,
		res.Score, res.CorrectCount, res.WrongCount, res.TotalQuestions)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return r.classifyMiss(ctx, id)
	}
	return nil
}

// ListByPaper retrieves all attempts for a paper joined with student
// identity, for the teacher results view.
func (r *AttemptRepository) ListByPaper(ctx context.Context, paperID uuid.UUID) ([]model.AttemptSummary, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT a.id, a.student_id, u.name, u.email,
		        a.is_submitted, a.submitted_at,
		        a.score, a.correct_count, a.wrong_count, a.total_questions,
		        a.tab_switch_count
		 FROM exam_attempts a
		 JOIN users u ON a.student_id = u.id
		 WHERE a.paper_id = $1
		 ORDER BY u.name ASC`, paperID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var summaries []model.AttemptSummary
	for rows.Next() {
		var s model.AttemptSummary
		if err := rows.Scan(
			&s.AttemptID, &s.StudentID, &s.StudentName, &s.StudentEmail,
			&s.IsSubmitted, &s.SubmittedAt,
			&s.Score, &s.CorrectCount, &s.WrongCount, &s.TotalQuestions,
			&s.TabSwitchCount,
		); err != nil {
			return nil, err
		}
		summaries = append(summaries, s)
	}
	return summaries, rows.Err()
}

// classifyMiss distinguishes "row is terminal" from "row does not exist"
// after a guarded UPDATE touched nothing.
func (r *AttemptRepository) classifyMiss(ctx context.Context, id uuid.UUID) error {
	var submitted bool
	err := r.pool.QueryRow(ctx,
		`SELECT is_submitted FROM exam_attempts WHERE id = $1`, id,
	).Scan(&submitted)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return ErrAttemptNotFound
		}
		return err
	}
	if submitted {
		return ErrAlreadySubmitted
	}
	return ErrAttemptNotFound
}

func scanAttempt(row pgx.Row) (*model.Attempt, error) {
	a := &model.Attempt{}
	var answersJSON []byte
	err := row.Scan(
		&a.ID, &a.PaperID, &a.StudentID, &answersJSON,
		&a.TimeRemaining, &a.TabSwitchCount,
		&a.IsSubmitted, &a.SubmittedAt,
		&a.Score, &a.CorrectCount, &a.WrongCount, &a.TotalQuestions,
		&a.CreatedAt, &a.UpdatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(answersJSON) > 0 {
		if err := json.Unmarshal(answersJSON, &a.Answers); err != nil {
			return nil, fmt.Errorf("unmarshal answers: %w", err)
		}
	}
	return a, nil
}
