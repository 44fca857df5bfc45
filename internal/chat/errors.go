package chat

import (
	"errors"
	"fmt"

	"github.com/npezzotti/pawchat/internal/database"
)

var (
	ErrUnauthenticated      = errors.New("unauthenticated")
	ErrSameUser             = errors.New("cannot open a chat room with yourself")
	ErrNotFound             = errors.New("chat room not found")
	ErrUnknownUser          = errors.New("user not found")
	ErrNotAParticipant      = errors.New("not a participant of this chat room")
	ErrNotAuthorizedForRoom = errors.New("not authorized to join this chat room")
	ErrInvalidPayload       = errors.New("invalid payload")
	ErrServiceUnavailable   = errors.New("service unavailable")
)

// storeError classifies an error returned by a repository. A missing user
// becomes ErrUnknownUser, a missing room ErrNotFound, and anything else is
// reported as ErrServiceUnavailable.
func storeError(op string, err error) error {
	if errors.Is(err, database.ErrUnknownUser) {
		return fmt.Errorf("%s: %w", op, ErrUnknownUser)
	}
	if errors.Is(err, database.ErrNotFound) {
		return fmt.Errorf("%s: %w", op, ErrNotFound)
	}
	return fmt.Errorf("%s: %w: %w", op, ErrServiceUnavailable, err)
}
