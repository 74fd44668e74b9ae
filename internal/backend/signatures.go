package backend

import (
	"context"
	"encoding/hex"
	"encoding/json"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// positionGrantTTL bounds how long a position grant is considered
// submittable. The sign-position response carries no expiry of its own, so
// the contract-side signature window is approximated conservatively.
const positionGrantTTL = 60 * time.Second

// PositionSignature asks the backend to sign a position commitment for the
// given direction and nonce. The returned grant is single-use.
func (c *Client) PositionSignature(ctx context.Context, gameID uint64, player string, direction domain.Direction, nonce uint64) (domain.SignatureGrant, error) {
	if err := c.Authenticate(ctx); err != nil {
		return domain.SignatureGrant{}, err
	}

	dir := 0
	if direction == domain.DirectionShort {
		dir = 1
	}

	payload := map[string]any{
		"gameId":    gameID,
		"player":    player,
		"direction": dir,
		// nonce as string to avoid precision loss in JSON
		"nonce": strconv.FormatUint(nonce, 10),
	}

	body, err := c.do(ctx, http.MethodPost, "/api/v1/games/trading-fights/sign-position/", payload, true)
	if err != nil {
		return domain.SignatureGrant{}, fmt.Errorf("backend: sign position for game %d: %w", gameID, err)
	}

	var signResp struct {
		BackendSignature string `json:"backend_signature"`
		SignedMessage    struct {
			HashedDirection string `json:"hashedDirection"`
		} `json:"signed_message"`
	}
	if err := json.Unmarshal(body, &signResp); err != nil {
		return domain.SignatureGrant{}, fmt.Errorf("backend: decode sign-position response: %w", err)
	}
	if signResp.BackendSignature == "" {
		return domain.SignatureGrant{}, fmt.Errorf("backend: sign-position response missing backend_signature: %w", domain.ErrUnauthorized)
	}

	sig, err := hexBytes(signResp.BackendSignature)
	if err != nil {
		return domain.SignatureGrant{}, fmt.Errorf("backend: invalid backend_signature: %w", err)
	}

	grant := domain.SignatureGrant{
		Op:        domain.GrantOpPosition,
		GameID:    gameID,
		Payload:   sig,
		ExpiresAt: time.Now().Add(positionGrantTTL),
	}
	if signResp.SignedMessage.HashedDirection != "" {
		hashed, err := hexBytes(signResp.SignedMessage.HashedDirection)
		if err != nil {
			return domain.SignatureGrant{}, fmt.Errorf("backend: invalid hashedDirection: %w", err)
		}
		grant.Hashed = hashed
	}
	return grant, nil
}

// ParseJoinGrant extracts a join grant from a signature_ready notification
// payload. The expiry is the signing timestamp plus the requested TTL, as
// the contract checks signatureExpiration against block time.
func ParseJoinGrant(raw []byte) (domain.SignatureGrant, error) {
	var msg struct {
		Signature       string `json:"signature"`
		TradingFightID  string `json:"trading_fight_id"`
		OriginalRequest struct {
			GameID    json.Number `json:"game_id"`
			Player2   string      `json:"player2"`
			Timestamp int64       `json:"timestamp"`
			TTL       int64       `json:"ttl"`
		} `json:"original_request"`
	}
	if err := json.Unmarshal(raw, &msg); err != nil {
		return domain.SignatureGrant{}, fmt.Errorf("backend: decode signature_ready: %w", err)
	}
	if msg.Signature == "" || msg.OriginalRequest.Timestamp == 0 || msg.OriginalRequest.TTL == 0 {
		return domain.SignatureGrant{}, fmt.Errorf("backend: signature_ready missing required fields")
	}

	gameID, err := strconv.ParseUint(msg.OriginalRequest.GameID.String(), 10, 64)
	if err != nil {
		return domain.SignatureGrant{}, fmt.Errorf("backend: signature_ready has invalid game_id %q: %w", msg.OriginalRequest.GameID, err)
	}

	sig, err := hexBytes(msg.Signature)
	if err != nil {
		return domain.SignatureGrant{}, fmt.Errorf("backend: invalid join signature: %w", err)
	}

	return domain.SignatureGrant{
		Op:        domain.GrantOpJoin,
		GameID:    gameID,
		FightID:   msg.TradingFightID,
		Payload:   sig,
		ExpiresAt: time.Unix(msg.OriginalRequest.Timestamp+msg.OriginalRequest.TTL, 0),
	}, nil
}

func hexBytes(s string) ([]byte, error) {
	return hex.DecodeString(strings.TrimPrefix(s, "0x"))
}
