package domain

import "time"

// GrantOp identifies which contract call a signature grant authorizes.
type GrantOp string

const (
	GrantOpJoin     GrantOp = "join"
	GrantOpPosition GrantOp = "position"
)

// SignatureGrant is a backend-issued authorization for one contract call.
// Grants are single-use and must never be reused across attempts.
type SignatureGrant struct {
	Op        GrantOp
	GameID    uint64
	FightID   string
	Payload   []byte // signature bytes passed through to the contract
	Hashed    []byte // hashed direction commitment, position grants only
	ExpiresAt time.Time
}

// Expired reports whether the grant can no longer be submitted.
func (g SignatureGrant) Expired(now time.Time) bool {
	return !now.Before(g.ExpiresAt)
}
