package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// StudentSessionKey returns the cache key for a student's login session
func (r *CacheKeyStruct) StudentSessionKey(studentID string) string {
	return fmt.Sprintf("login:%s", studentID)
}

// PaperPayloadKey returns the cache key for a paper's student-facing payload
func (r *CacheKeyStruct) PaperPayloadKey(paperID string) string {
	return fmt.Sprintf("paper:%s:payload", paperID)
}

// PaperAnswerKey returns the cache key for a paper's hidden answer key
func (r *CacheKeyStruct) PaperAnswerKey(paperID string) string {
	return fmt.Sprintf("paper:%s:key", paperID)
}

// AttemptAnswersKey returns the cache key for an attempt's hot answer state
func (r *CacheKeyStruct) AttemptAnswersKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:answers", attemptID)
}

// AttemptProgressKey returns the cache key for an attempt's timer/warning state
func (r *CacheKeyStruct) AttemptProgressKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:progress", attemptID)
}

var CacheKey = NewCacheKeyStruct()
