package domain

import "time"

// ChainEventKind enumerates the on-chain observations the orchestrator
// consumes.
type ChainEventKind string

const (
	ChainEventOpponentJoined ChainEventKind = "opponent_joined"
	ChainEventGameStarted    ChainEventKind = "game_started"
	ChainEventGameSettled    ChainEventKind = "game_settled"
)

// ChainEvent is one observation from the chain watcher.
type ChainEvent struct {
	Kind       ChainEventKind
	GameID     uint64
	StartedAt  time.Time // game_started only
	ObservedAt time.Time
}

// NotifyEvent enumerates the lifecycle events forwarded to chat channels.
type NotifyEvent string

const (
	NotifyGameJoined     NotifyEvent = "game_joined"
	NotifyPositionOpened NotifyEvent = "position_opened"
	NotifyPositionClosed NotifyEvent = "position_closed"
	NotifyGameSettled    NotifyEvent = "game_settled"
	NotifyGameError      NotifyEvent = "game_error"
)

// BackendEventKind enumerates push notifications from the backend socket.
type BackendEventKind string

const (
	BackendEventSignatureReady BackendEventKind = "signature_ready"
	BackendEventGameJoined     BackendEventKind = "game_joined"
)

// BackendEvent is one message from the backend notification stream.
type BackendEvent struct {
	Kind    BackendEventKind
	FightID string
	GameID  uint64
	Raw     []byte
}
