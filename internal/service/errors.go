package service

import (
	"errors"
	"fmt"

	"message-service/internal/repositories"
)

var (
	ErrValidation              = errors.New("validation failed")
	ErrNotFound                = errors.New("not found")
	ErrForbidden               = errors.New("not a member of the conversation")
	ErrUnsupportedConversation = errors.New("conversation does not support bot replies")
	ErrUpstreamUnavailable     = errors.New("upstream unavailable")
)

func validationError(msg string) error {
	return fmt.Errorf("%w: %s", ErrValidation, msg)
}

// mapStoreErr translates repository sentinels into service error kinds.
func mapStoreErr(err error) error {
	switch {
	case errors.Is(err, repositories.ErrConversationNotFound), errors.Is(err, repositories.ErrMessageNotFound):
		return fmt.Errorf("%w: %w", ErrNotFound, err)
	case errors.Is(err, repositories.ErrInvalidID):
		return fmt.Errorf("%w: %w", ErrValidation, err)
	default:
		return err
	}
}
