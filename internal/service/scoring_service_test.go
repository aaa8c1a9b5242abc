package service

import (
	"testing"

	"github.com/paperdesk/paperdesk-backend/internal/model"
	"github.com/stretchr/testify/require"
)

func TestGrade(t *testing.T) {
	key := model.AnswerKey{
		{Number: 1, CorrectAnswer: "A) Mitochondria"},
		{Number: 2, CorrectAnswer: "B) 42"},
		{Number: 3, CorrectAnswer: "C) Paris"},
	}

	t.Run("partial answers, unanswered counts as wrong", func(t *testing.T) {
		answers := model.AnswerSet{
			{Number: 1, Answer: "A) Mitochondria"},
			{Number: 2, Answer: "C) 40"},
		}

		correct, wrong := grade(answers, key)
		require.Equal(t, 1, correct)
		require.Equal(t, 2, wrong)
	})

	t.Run("all correct", func(t *testing.T) {
		answers := model.AnswerSet{
			{Number: 1, Answer: "A) Mitochondria"},
			{Number: 2, Answer: "B) 42"},
			{Number: 3, Answer: "C) Paris"},
		}

		correct, wrong := grade(answers, key)
		require.Equal(t, 3, correct)
		require.Equal(t, 0, wrong)
	})

	t.Run("empty submission", func(t *testing.T) {
		correct, wrong := grade(nil, key)
		require.Equal(t, 0, correct)
		require.Equal(t, 3, wrong)
	})

	t.Run("answers outside the key are ignored", func(t *testing.T) {
		answers := model.AnswerSet{
			{Number: 1, Answer: "A) Mitochondria"},
			{Number: 99, Answer: "D) Bogus"},
		}

		correct, wrong := grade(answers, key)
		require.Equal(t, 1, correct)
		require.Equal(t, 2, wrong)
	})

	t.Run("duplicate answer numbers, last one wins", func(t *testing.T) {
		answers := model.AnswerSet{
			{Number: 1, Answer: "B) Nucleus"},
			{Number: 1, Answer: "A) Mitochondria"},
		}

		correct, wrong := grade(answers, key)
		require.Equal(t, 1, correct)
		require.Equal(t, 2, wrong)
	})
}

func TestSameChoice(t *testing.T) {
	tests := []struct {
		name  string
		given string
		want  string
		match bool
	}{
		{"exact match", "A) Red", "A) Red", true},
		{"same letter different text", "A) Red", "A) Crimson", true},
		{"case insensitive", "a) red", "A) Red", true},
		{"leading whitespace", "  B) Green", "B) Green", true},
		{"different letter", "A) Red", "B) Red", false},
		{"empty given", "", "A) Red", false},
		{"whitespace only given", "   ", "A) Red", false},
		{"empty want", "A) Red", "", false},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			require.Equal(t, tt.match, sameChoice(tt.given, tt.want))
		})
	}
}
