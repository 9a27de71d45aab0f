package service

import (
	"errors"
	"fmt"
)

// Sentinel errors returned by every service. Handlers map them to HTTP
// statuses with errors.Is.
var (
	ErrUnauthenticated    = errors.New("unauthenticated")                     // 401
	ErrInvalidCredentials = errors.New("invalid email or password")           // 401
	ErrForbidden          = errors.New("only the creator may change a group") // 403
	ErrGroupNotFound      = errors.New("group not found")                     // 404
	ErrVenueNotFound      = errors.New("venue not found")                     // 404
	ErrUserNotFound       = errors.New("user not found")                      // 404
	ErrAlreadyMember      = errors.New("already a member of this group")      // 409
	ErrCapacityExceeded   = errors.New("group is full")                       // 409
	ErrEmailTaken         = errors.New("email already registered")            // 409
	ErrInvalidCapacity    = errors.New("invalid capacity")                    // 400
	ErrInvalidInput       = errors.New("invalid input")                       // 400

	ErrPersistenceUnavailable = errors.New("persistence unavailable") // 503
)

func unavailable(op string, err error) error {
	return fmt.Errorf("%s: %w: %w", op, ErrPersistenceUnavailable, err)
}

func invalid(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrInvalidInput, fmt.Sprintf(format, args...))
}
