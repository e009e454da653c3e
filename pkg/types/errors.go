package types

import "errors"

// Protocol-level parse errors. All of them map to an error frame reply with
// the connection left open.
var (
	ErrMalformedMessage   = errors.New("malformed message payload")
	ErrMissingMessageType = errors.New("message type is required")
	ErrMissingCredentials = errors.New("authenticate message requires credentials")
	ErrInvalidRoomID      = errors.New("room ID must be 1-128 characters, alphanumeric + underscore/hyphen/colon")
	ErrMissingContent     = errors.New("room message requires content")
	ErrInvalidContent     = errors.New("invalid JSON content")
	ErrContentTooLarge    = errors.New("message content exceeds 64KB limit")
)
