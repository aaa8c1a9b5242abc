package model

import (
	"time"

	"github.com/google/uuid"
)

// PaperStatus enumerates the lifecycle states of a question paper.
type PaperStatus string

const (
	PaperStatusDraft     PaperStatus = "DRAFT"
	PaperStatusPublished PaperStatus = "PUBLISHED"
)

// MCQQuestion is a single multiple-choice question. Every option carries a
// stable letter prefix ("A) ..."), which is what scoring compares against.
type MCQQuestion struct {
	Number   int      `json:"number" binding:"required,min=1"`
	Question string   `json:"question" binding:"required"`
	Options  []string `json:"options" binding:"required,min=2"`
	Marks    int      `json:"marks" binding:"omitempty,min=0"`
}

// Paper represents a generated exam paper.
type Paper struct {
	ID               uuid.UUID     `json:"id"`
	PaperID          string        `json:"paper_id"` // public share code
	TeacherID        uuid.UUID     `json:"teacher_id"`
	Subject          string        `json:"subject"`
	ClassName        string        `json:"class_name"`
	DurationMinutes  int           `json:"duration_minutes"`
	MarksPerQuestion int           `json:"marks_per_question"`
	RevealAnswers    bool          `json:"reveal_answers"`
	Status           PaperStatus   `json:"status"`
	Questions        []MCQQuestion `json:"questions"`
	CreatedAt        time.Time     `json:"created_at"`
	UpdatedAt        time.Time     `json:"updated_at"`
}

// Title builds the display title shown in the exam header.
func (p *Paper) Title() string {
	return p.Subject + " - " + p.ClassName
}

// PaperPayload is the Redis-cached paper view sent to students. It never
// contains the answer key.
type PaperPayload struct {
	PaperID          uuid.UUID     `json:"paper_id"`
	Title            string        `json:"title"`
	DurationMinutes  int           `json:"duration_minutes"`
	MarksPerQuestion int           `json:"marks_per_question"`
	RevealAnswers    bool          `json:"reveal_answers"`
	Questions        []MCQQuestion `json:"questions"`
}

// KeyEntry is one line of a paper's answer key.
type KeyEntry struct {
	Number        int    `json:"number" binding:"required,min=1"`
	CorrectAnswer string `json:"correctAnswer" binding:"required"`
	Explanation   string `json:"explanation,omitempty"`
}

// CreatePaperRequest is the teacher payload for a new paper. Questions and
// key are validated together so a paper can never be created half-formed.
type CreatePaperRequest struct {
	Subject          string        `json:"subject" binding:"required,max=200"`
	ClassName        string        `json:"class_name" binding:"required,max=200"`
	DurationMinutes  int           `json:"duration_minutes" binding:"required,min=1,max=600"`
	MarksPerQuestion int           `json:"marks_per_question" binding:"required,min=1"`
	RevealAnswers    bool          `json:"reveal_answers"`
	Questions        []MCQQuestion `json:"questions" binding:"required,min=1,dive"`
	AnswerKey        AnswerKey     `json:"answer_key" binding:"required,min=1,dive"`
}

// AnswerKey is the hidden per-paper key. It is only ever read by the
// scoring service and the owning teacher.
type AnswerKey []KeyEntry
