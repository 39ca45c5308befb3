package domain

import (
	"errors"
	"fmt"
)

// Error kinds. Every error leaving the service layer wraps exactly one of these,
// so transports can branch with errors.Is.
var (
	ErrAuth       = errors.New("unauthorized")
	ErrValidation = errors.New("invalid input")
	ErrNotFound   = errors.New("not found")
	ErrPermission = errors.New("permission denied")
	ErrStorage    = errors.New("storage unavailable")
	ErrTimeout    = errors.New("request timed out")
)

var (
	ErrMissingCredential = fmt.Errorf("%w: missing credential", ErrAuth)
	ErrInvalidCredential = fmt.Errorf("%w: invalid or expired credential", ErrAuth)

	ErrEmptyMessage     = fmt.Errorf("%w: message needs a body or an image", ErrValidation)
	ErrMissingSender    = fmt.Errorf("%w: sender is required", ErrValidation)
	ErrMissingReceiver  = fmt.Errorf("%w: receiver is required", ErrValidation)
	ErrSelfMessage      = fmt.Errorf("%w: sender and receiver must differ", ErrValidation)
	ErrUnknownUser      = fmt.Errorf("%w: sender or receiver does not exist", ErrValidation)
	ErrAmbiguousImage   = fmt.Errorf("%w: send either image bytes or an image url, not both", ErrValidation)
	ErrMissingMessageID = fmt.Errorf("%w: message id is required", ErrValidation)
	ErrEmailTaken       = fmt.Errorf("%w: email already taken", ErrValidation)

	ErrMessageNotFound = fmt.Errorf("%w: message not found", ErrNotFound)
	ErrUserNotFound    = fmt.Errorf("%w: user not found", ErrNotFound)

	ErrNotParticipant = fmt.Errorf("%w: you are not a participant of this conversation", ErrPermission)
)

// Kind returns the taxonomy error wrapped by err, or nil when err carries none.
func Kind(err error) error {
	for _, kind := range []error{ErrAuth, ErrValidation, ErrNotFound, ErrPermission, ErrStorage, ErrTimeout} {
		if errors.Is(err, kind) {
			return kind
		}
	}
	return nil
}

// Code is the stable machine-readable code clients see for err.
func Code(err error) string {
	if errors.Is(err, ErrEmailTaken) {
		return "EMAIL_TAKEN"
	}
	switch Kind(err) {
	case ErrAuth:
		return "UNAUTHORIZED"
	case ErrValidation:
		return "VALIDATION_ERROR"
	case ErrNotFound:
		return "NOT_FOUND"
	case ErrPermission:
		return "FORBIDDEN"
	case ErrStorage:
		return "STORAGE_UNAVAILABLE"
	case ErrTimeout:
		return "TIMEOUT"
	}
	return "INTERNAL"
}
