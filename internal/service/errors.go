package service

import (
	"errors"

	"github.com/audiolibrelab/voicecollect/internal/session"
)

// ErrorClassifier allows errors to declare their classification.
type ErrorClassifier interface {
	// ErrorKind returns "device", "transient", "validation", "not_found"
	// or "programmer".
	ErrorKind() string
}

// ErrorKind returns the classification of err, or "unknown".
func ErrorKind(err error) string {
	var classifier ErrorClassifier
	if errors.As(err, &classifier) {
		return classifier.ErrorKind()
	}
	return "unknown"
}

// Retryable reports whether repeating the same operation may succeed.
// Device and transient failures are retryable; validation and programmer
// errors need a different input.
func Retryable(err error) bool {
	if errors.Is(err, session.ErrSessionComplete) {
		return false
	}
	switch ErrorKind(err) {
	case "device", "transient", "unknown":
		return true
	}
	return false
}
