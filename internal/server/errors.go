package server

import "errors"

// Starting a running server is the one deliberate fail-fast in the
// system; stopping a stopped one is a no-op.
var ErrAlreadyRunning = errors.New("server is already running")

// Room policy errors.
var (
	ErrRoomNotFound  = errors.New("room does not exist")
	ErrRoomFull      = errors.New("room is full")
	ErrNotInRoom     = errors.New("not in room")
	ErrRoomExists    = errors.New("room already exists")
	ErrInvalidRoomID = errors.New("invalid room ID")
	ErrRateLimited   = errors.New("rate limit exceeded")
)
