package model

import (
	"sort"
	"time"

	"github.com/google/uuid"
)

// Answer pairs a question number with the option text the student chose.
type Answer struct {
	Number int    `json:"number" binding:"required,min=1"`
	Answer string `json:"answer" binding:"required"`
}

// AnswerSet is the persisted form of a student's answers.
type AnswerSet []Answer

// ToMap converts the set to a number → option-text map. Later entries win
// on duplicate numbers.
func (as AnswerSet) ToMap() map[int]string {
	m := make(map[int]string, len(as))
	for _, a := range as {
		m[a.Number] = a.Answer
	}
	return m
}

// AnswersFromMap builds a deterministic (number-ordered) AnswerSet.
func AnswersFromMap(m map[int]string) AnswerSet {
	as := make(AnswerSet, 0, len(m))
	for n, v := range m {
		as = append(as, Answer{Number: n, Answer: v})
	}
	sort.Slice(as, func(i, j int) bool { return as[i].Number < as[j].Number })
	return as
}

// Attempt is a student's single permitted exam-taking session for one paper.
// The (PaperID, StudentID) pair is unique at the store level.
//
// While IsSubmitted is false only Answers, TimeRemaining and TabSwitchCount
// mutate. Once IsSubmitted flips to true those fields freeze and the result
// fields are written exactly once.
type Attempt struct {
	ID             uuid.UUID  `json:"id"`
	PaperID        uuid.UUID  `json:"paper_id"`
	StudentID      uuid.UUID  `json:"student_id"`
	Answers        AnswerSet  `json:"answers"`
	TimeRemaining  int        `json:"time_remaining"` // seconds
	TabSwitchCount int        `json:"tab_switch_count"`
	IsSubmitted    bool       `json:"is_submitted"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	Score          *int       `json:"score,omitempty"`
	CorrectCount   *int       `json:"correct_count,omitempty"`
	WrongCount     *int       `json:"wrong_count,omitempty"`
	TotalQuestions *int       `json:"total_questions,omitempty"`
	CreatedAt      time.Time  `json:"created_at"`
	UpdatedAt      time.Time  `json:"updated_at"`
}

// AttemptResult holds the terminal fields written by finalize.
type AttemptResult struct {
	Score          int       `json:"score"`
	CorrectCount   int       `json:"correctCount"`
	WrongCount     int       `json:"wrongCount"`
	TotalQuestions int       `json:"totalQuestions"`
	SubmittedAt    time.Time `json:"submittedAt"`
}

// SaveProgressRequest is the autosave payload. The caller always sends its
// full current view; the store overwrites wholesale (last write wins).
type SaveProgressRequest struct {
	Answers        AnswerSet `json:"answers" binding:"dive"`
	TimeRemaining  int       `json:"time_remaining" binding:"min=0"`
	TabSwitchCount int       `json:"tab_switch_count" binding:"min=0"`
}

// SubmitRequest is the scoring payload. AttemptID is optional; when the
// client sends it, it must name the student's own attempt for the paper.
type SubmitRequest struct {
	AttemptID uuid.UUID `json:"attemptId"`
	PaperID   uuid.UUID `json:"paperId" binding:"required"`
	Answers   AnswerSet `json:"answers" binding:"dive"`
}

// ExamResult is the scoring response. CorrectAnswers is present only when
// the paper's reveal flag is set.
type ExamResult struct {
	Score              int       `json:"score"`
	CorrectCount       int       `json:"correctCount"`
	WrongCount         int       `json:"wrongCount"`
	TotalQuestions     int       `json:"totalQuestions"`
	ShowCorrectAnswers bool      `json:"showCorrectAnswers"`
	CorrectAnswers     AnswerKey `json:"correctAnswers,omitempty"`
}

// IntegrityEventRequest reports a proctoring signal (e.g. tab switch).
type IntegrityEventRequest struct {
	Kind   string `json:"kind" binding:"required,oneof=tab_switch focus_loss copy_attempt paste_attempt context_menu"`
	Detail string `json:"detail" binding:"omitempty,max=2000"`
}

// AttemptSummary is a teacher-facing row combining the attempt with the
// student's identity.
type AttemptSummary struct {
	AttemptID      uuid.UUID  `json:"attempt_id"`
	StudentID      uuid.UUID  `json:"student_id"`
	StudentName    string     `json:"student_name"`
	StudentEmail   string     `json:"student_email"`
	IsSubmitted    bool       `json:"is_submitted"`
	SubmittedAt    *time.Time `json:"submitted_at,omitempty"`
	Score          *int       `json:"score,omitempty"`
	CorrectCount   *int       `json:"correct_count,omitempty"`
	WrongCount     *int       `json:"wrong_count,omitempty"`
	TotalQuestions *int       `json:"total_questions,omitempty"`
	TabSwitchCount int        `json:"tab_switch_count"`
}
