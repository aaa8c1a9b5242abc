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

var ErrPaperNotFound = errors.New("paper not found")

// PaperRepository handles question paper and answer key data access. The
// answer key lives in its own table so the paper row can be selected for
// student views without ever touching key material.
type PaperRepository struct {
	pool *pgxpool.Pool
}

// NewPaperRepository creates a new PaperRepository.
func NewPaperRepository(pool *pgxpool.Pool) *PaperRepository {
	return &PaperRepository{pool: pool}
}

// Create inserts a paper together with its answer key in one transaction.
func (r *PaperRepository) Create(ctx context.Context, p *model.Paper, key model.AnswerKey) error {
	questionsJSON, err := json.Marshal(p.Questions)
	if err != nil {
		return fmt.Errorf("marshal questions: %w", err)
	}
	keyJSON, err := json.Marshal(key)
	if err != nil {
		return fmt.Errorf("marshal answer key: %w", err)
	}

	tx, err := r.pool.Begin(ctx)
	if err != nil {
		return err
	}
	defer tx.Rollback(ctx)

	err = tx.QueryRow(ctx,
		`INSERT INTO question_papers
		   (paper_id, teacher_id, subject, class_name, duration_minutes,
		    marks_per_question, reveal_answers, status, questions)
		 VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
		 RETURNING id, created_at, updated_at`,
		p.PaperID, p.TeacherID, p.Subject, p.ClassName, p.DurationMinutes,
		p.MarksPerQuestion, p.RevealAnswers, p.Status, questionsJSON,
	).Scan(&p.ID, &p.CreatedAt, &p.UpdatedAt)
	if err != nil {
		return err
	}

	if _, err := tx.Exec(ctx,
		`INSERT INTO answer_keys (paper_id, entries) VALUES ($1, $2)`,
		p.ID, keyJSON,
	); err != nil {
		return err
	}

	return tx.Commit(ctx)
}

// GetByID retrieves a paper by its internal ID.
func (r *PaperRepository) GetByID(ctx context.Context, id uuid.UUID) (*model.Paper, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, paper_id, teacher_id, subject, class_name, duration_minutes,
		        marks_per_question, reveal_answers, status, questions, created_at, updated_at
		 FROM question_papers
		 WHERE id = $1`, id)
	return scanPaper(row)
}

// GetByPublicID retrieves a paper by its shareable code.
func (r *PaperRepository) GetByPublicID(ctx context.Context, paperID string) (*model.Paper, error) {
	row := r.pool.QueryRow(ctx,
		`SELECT id, paper_id, teacher_id, subject, class_name, duration_minutes,
		        marks_per_question, reveal_answers, status, questions, created_at, updated_at
		 FROM question_papers
		 WHERE paper_id = $1`, paperID)
	return scanPaper(row)
}

// GetAnswerKey retrieves the hidden key for a paper.
func (r *PaperRepository) GetAnswerKey(ctx context.Context, paperID uuid.UUID) (model.AnswerKey, error) {
	var entriesJSON []byte
	err := r.pool.QueryRow(ctx,
		`SELECT entries FROM answer_keys WHERE paper_id = $1`, paperID,
	).Scan(&entriesJSON)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaperNotFound
		}
		return nil, err
	}

	var key model.AnswerKey
	if err := json.Unmarshal(entriesJSON, &key); err != nil {
		return nil, fmt.Errorf("unmarshal answer key: %w", err)
	}
	return key, nil
}

// UpdateStatus transitions a paper's lifecycle state.
func (r *PaperRepository) UpdateStatus(ctx context.Context, id uuid.UUID, status model.PaperStatus) error {
	tag, err := r.pool.Exec(ctx,
		`UPDATE question_papers SET status = $2, updated_at = NOW() WHERE id = $1`,
		id, status)
	if err != nil {
		return err
	}
	if tag.RowsAffected() == 0 {
		return ErrPaperNotFound
	}
	return nil
}

// ListPublished returns all published papers, used to prewarm caches on boot.
func (r *PaperRepository) ListPublished(ctx context.Context) ([]model.Paper, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, paper_id, teacher_id, subject, class_name, duration_minutes,
		        marks_per_question, reveal_answers, status, questions, created_at, updated_at
		 FROM question_papers
		 WHERE status = $1`, model.PaperStatusPublished)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []model.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

// ListByTeacher returns a teacher's papers, newest first.
func (r *PaperRepository) ListByTeacher(ctx context.Context, teacherID uuid.UUID) ([]model.Paper, error) {
	rows, err := r.pool.Query(ctx,
		`SELECT id, paper_id, teacher_id, subject, class_name, duration_minutes,
		        marks_per_question, reveal_answers, status, questions, created_at, updated_at
		 FROM question_papers
		 WHERE teacher_id = $1
		 ORDER BY created_at DESC`, teacherID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var papers []model.Paper
	for rows.Next() {
		p, err := scanPaper(rows)
		if err != nil {
			return nil, err
		}
		papers = append(papers, *p)
	}
	return papers, rows.Err()
}

func scanPaper(row pgx.Row) (*model.Paper, error) {
	p := &model.Paper{}
	var questionsJSON []byte
	err := row.Scan(
		&p.ID, &p.PaperID, &p.TeacherID, &p.Subject, &p.ClassName,
		&p.DurationMinutes, &p.MarksPerQuestion, &p.RevealAnswers,
		&p.Status, &questionsJSON, &p.CreatedAt, &p.UpdatedAt,
	)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrPaperNotFound
		}
		return nil, err
	}
	if len(questionsJSON) > 0 {
		if err := json.Unmarshal(questionsJSON, &p.Questions); err != nil {
			return nil, fmt.Errorf("unmarshal questions: %w", err)
		}
	}
	return p, nil
}
