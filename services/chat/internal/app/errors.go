package app

import "errors"

var (
	// ErrInvalidPeer indicates a peer id that cannot name another user.
	ErrInvalidPeer     = errors.New("invalid peer id")
	ErrPeerNotFound    = errors.New("peer not found")
	ErrContentRequired = errors.New("content is required")
	ErrContentTooLong  = errors.New("content too long")
	ErrUnauthenticated = errors.New("unauthenticated")
)
