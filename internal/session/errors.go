package session

import "errors"

// Sentinel errors for the synchronous API-misuse cases of spec §7: these
// are returned (not reified as engine events) because they indicate a
// caller bug rather than a runtime condition the model should react to.
var (
	ErrClosed           = errors.New("session: closed")
	ErrAlreadyReceiving = errors.New("session: already receiving")
	ErrNoPendingMessage = errors.New("session: no pending message")
	ErrAlreadySending   = errors.New("session: concurrent send rejected")
)
