package domain

import "errors"

var (
	ErrNotFound       = errors.New("not found")
	ErrAlreadyExists  = errors.New("already exists")
	ErrRateLimited    = errors.New("rate limited")
	ErrUnauthorized   = errors.New("unauthorized")
	ErrAlreadyJoined  = errors.New("game already joined")
	ErrPositionExists = errors.New("position already posted")
	ErrPositionClosed = errors.New("position already closed")
	ErrGameBusy       = errors.New("another game is in progress")
	ErrGrantExpired   = errors.New("signature grant expired")
	ErrFeedStale      = errors.New("price feed stale")
	ErrTxReverted     = errors.New("transaction reverted")
	ErrWSDisconnect   = errors.New("websocket disconnected")
	ErrLockHeld       = errors.New("lock already held")
)
