package chat

import "errors"

// Domain errors surfaced to the HTTP boundary. The handler maps these to
// statuses with errors.Is; anything else is an infrastructure failure.
var (
	ErrInvalidProperty   = errors.New("unknown property")
	ErrInvalidVisitor    = errors.New("visitor does not belong to property")
	ErrNotFound          = errors.New("not found")
	ErrUnauthorized      = errors.New("session does not match visitor")
	ErrContentRequired   = errors.New("content is required")
	ErrInvalidSenderType = errors.New("sender type must be visitor or agent")
)
