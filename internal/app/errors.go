package app

import (
	"errors"
	"fmt"
)

var (
	ErrInvalidInput = errors.New("invalid input")
	ErrMessageEmpty = errors.New("message content is empty")

	ErrChatNotFound = errors.New("chat not found")
	ErrForbidden    = errors.New("not authorized to access this chat")
	ErrChatBusy     = errors.New("another message is being processed for this chat")
	// ErrNothingToRetry is returned when the newest turn of a chat is not an
	// unanswered user message.
	ErrNothingToRetry = errors.New("no unanswered user message to retry")

	ErrTriageUnavailable     = errors.New("triage service unavailable")
	ErrGenerationUnavailable = errors.New("generation service unavailable")
	ErrStoreUnavailable      = errors.New("message store unavailable")
)

func storeErr(err error) error {
	return fmt.Errorf("%w: %v", ErrStoreUnavailable, err)
}
