package backend

import (
	"context"
	"encoding/json"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"sync"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/config"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// backendStub is a minimal in-process stand-in for the game backend.
type backendStub struct {
	t *testing.T

	mu            sync.Mutex
	authCalls     int
	refreshCalls  int
	expireAccess  bool // make the current access token invalid once
	lastAddBody   map[string]any
	lastSignBody  map[string]any
	lastFightsURL string
}

func (s *backendStub) handler() http.Handler {
	mux := http.NewServeMux()

	mux.HandleFunc("POST /api/v1/users/auth/", func(w http.ResponseWriter, r *http.Request) {
		var req map[string]string
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&req))
		if req["token"] != "identity-token" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.authCalls++
		s.mu.Unlock()
		writeJSON(w, map[string]string{
			"access_token":  "access-1",
			"refresh_token": "refresh-1",
		})
	})

	mux.HandleFunc("GET /api/v1/users/me/", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		writeJSON(w, map[string]any{"id": 99})
	})

	mux.HandleFunc("POST /api/v1/users/auth/refresh/", func(w http.ResponseWriter, r *http.Request) {
		if r.Header.Get("Authorization") != "Bearer refresh-1" {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.refreshCalls++
		s.expireAccess = false
		s.mu.Unlock()
		writeJSON(w, map[string]string{"access_token": "access-2"})
	})

	mux.HandleFunc("GET /api/v1/games/trading-fights/", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		s.mu.Lock()
		s.lastFightsURL = r.URL.String()
		s.mu.Unlock()
		writeJSON(w, map[string]any{"results": []map[string]any{{
			"id":              "f-1",
			"game_id":         7,
			"pool_address":    "0xaa",
			"creator_address": "0xc1",
			"bet_amount":      "1000",
			"coin_id":         3,
			"status":          "Not started",
		}}})
	})

	mux.HandleFunc("POST /api/v1/games/trading-fights/f-1/add-opponent/", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&body))
		s.mu.Lock()
		s.lastAddBody = body
		s.mu.Unlock()
		writeJSON(w, map[string]string{"status": "ok"})
	})

	mux.HandleFunc("POST /api/v1/games/trading-fights/sign-position/", func(w http.ResponseWriter, r *http.Request) {
		if !s.authorized(r) {
			w.WriteHeader(http.StatusUnauthorized)
			return
		}
		var body map[string]any
		require.NoError(s.t, json.NewDecoder(r.Body).Decode(&body))
		s.mu.Lock()
		s.lastSignBody = body
		s.mu.Unlock()
		writeJSON(w, map[string]any{
			"backend_signature": "0xdeadbeef",
			"signed_message": map[string]string{
				"hashedDirection": "0x" + repeatHex("ab", 32),
			},
		})
	})

	mux.HandleFunc("GET /api/v1/pools/0xaa/price/", func(w http.ResponseWriter, _ *http.Request) {
		writeJSON(w, map[string]any{"price": "1.2345", "timestamp": 1700000000})
	})

	mux.HandleFunc("GET /api/v1/games/trading-fights/missing/", func(w http.ResponseWriter, _ *http.Request) {
		http.Error(w, "no such fight", http.StatusNotFound)
	})

	return mux
}

func (s *backendStub) authorized(r *http.Request) bool {
	s.mu.Lock()
	expired := s.expireAccess
	s.mu.Unlock()
	got := r.Header.Get("Authorization")
	if expired {
		return got == "Bearer access-2"
	}
	return got == "Bearer access-1" || got == "Bearer access-2"
}

func writeJSON(w http.ResponseWriter, v any) {
	w.Header().Set("Content-Type", "application/json")
	_ = json.NewEncoder(w).Encode(v)
}

func repeatHex(b string, n int) string {
	out := ""
	for range n {
		out += b
	}
	return out
}

func newTestClient(t *testing.T) (*Client, *backendStub) {
	t.Helper()
	stub := &backendStub{t: t}
	srv := httptest.NewServer(stub.handler())
	t.Cleanup(srv.Close)

	cfg := config.BackendConfig{
		BaseURL:     srv.URL,
		AuthToken:   "identity-token",
		HTTPTimeout: config.Duration{Duration: 5 * time.Second},
	}
	return NewClient(cfg, slog.New(slog.DiscardHandler)), stub
}

func TestAuthenticate_SessionReused(t *testing.T) {
	c, stub := newTestClient(t)
	ctx := context.Background()

	require.NoError(t, c.Authenticate(ctx))
	require.NoError(t, c.Authenticate(ctx))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, 1, stub.authCalls)
}

func TestAuthenticate_BadIdentityToken(t *testing.T) {
	c, _ := newTestClient(t)
	c.authToken = "wrong"
	assert.ErrorIs(t, c.Authenticate(context.Background()), domain.ErrUnauthorized)
}

func TestDo_RefreshesOnUnauthorized(t *testing.T) {
	c, stub := newTestClient(t)
	ctx := context.Background()
	require.NoError(t, c.Authenticate(ctx))

	// Invalidate the access token server-side; the next authenticated call
	// must transparently refresh and retry.
	stub.mu.Lock()
	stub.expireAccess = true
	stub.mu.Unlock()

	fights, err := c.AvailableGames(ctx)
	require.NoError(t, err)
	assert.Len(t, fights, 1)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, 1, stub.refreshCalls)
}

func TestAvailableGames(t *testing.T) {
	c, stub := newTestClient(t)

	fights, err := c.AvailableGames(context.Background())
	require.NoError(t, err)
	require.Len(t, fights, 1)

	f := fights[0]
	assert.Equal(t, "f-1", f.ID)
	assert.Equal(t, "0xaa", f.Pool)
	id, err := f.NumericGameID()
	require.NoError(t, err)
	assert.Equal(t, uint64(7), id)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Contains(t, stub.lastFightsURL, "statuses=Not+started")
	assert.Contains(t, stub.lastFightsURL, "user_id=99")
	assert.Contains(t, stub.lastFightsURL, "is_creator_online=true")
}

func TestAddOpponent_Payload(t *testing.T) {
	c, stub := newTestClient(t)

	err := c.AddOpponent(context.Background(), "f-1", 7, "0xb0b", 3)
	require.NoError(t, err)

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, "7", stub.lastAddBody["game_id"])
	assert.Equal(t, "0xb0b", stub.lastAddBody["player2"])
	assert.Equal(t, float64(300), stub.lastAddBody["ttl"])
	assert.Equal(t, float64(3), stub.lastAddBody["coin_id"])
	assert.NotZero(t, stub.lastAddBody["timestamp"])
}

func TestPositionSignature(t *testing.T) {
	c, stub := newTestClient(t)

	grant, err := c.PositionSignature(context.Background(), 7, "0xb0b", domain.DirectionShort, 4242)
	require.NoError(t, err)

	assert.Equal(t, domain.GrantOpPosition, grant.Op)
	assert.Equal(t, uint64(7), grant.GameID)
	assert.Equal(t, []byte{0xde, 0xad, 0xbe, 0xef}, grant.Payload)
	assert.Len(t, grant.Hashed, 32)
	assert.False(t, grant.Expired(time.Now()))
	assert.True(t, grant.Expired(time.Now().Add(2*time.Minute)))

	stub.mu.Lock()
	defer stub.mu.Unlock()
	assert.Equal(t, float64(1), stub.lastSignBody["direction"])
	assert.Equal(t, "4242", stub.lastSignBody["nonce"])
}

func TestPoolPrice(t *testing.T) {
	c, _ := newTestClient(t)

	price, ts, err := c.PoolPrice(context.Background(), "0xaa")
	require.NoError(t, err)
	assert.Equal(t, 1.2345, price)
	assert.Equal(t, int64(1700000000), ts.Unix())
}

func TestTradingFight_NotFound(t *testing.T) {
	c, _ := newTestClient(t)

	_, err := c.TradingFight(context.Background(), "missing")
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestCheckHTTPStatus(t *testing.T) {
	assert.NoError(t, checkHTTPStatus(200, nil))
	assert.NoError(t, checkHTTPStatus(204, nil))
	assert.ErrorIs(t, checkHTTPStatus(404, []byte("x")), domain.ErrNotFound)
	assert.ErrorIs(t, checkHTTPStatus(401, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, checkHTTPStatus(403, nil), domain.ErrUnauthorized)
	assert.ErrorIs(t, checkHTTPStatus(429, nil), domain.ErrRateLimited)
	assert.Error(t, checkHTTPStatus(500, []byte("boom")))
}

func TestParseJoinGrant(t *testing.T) {
	raw := []byte(`{
		"signature": "0x0102",
		"trading_fight_id": "f-1",
		"original_request": {
			"game_id": "7",
			"player2": "0xb0b",
			"timestamp": 1700000000,
			"ttl": 300
		}
	}`)

	grant, err := ParseJoinGrant(raw)
	require.NoError(t, err)
	assert.Equal(t, domain.GrantOpJoin, grant.Op)
	assert.Equal(t, uint64(7), grant.GameID)
	assert.Equal(t, "f-1", grant.FightID)
	assert.Equal(t, []byte{0x01, 0x02}, grant.Payload)
	assert.Equal(t, int64(1700000300), grant.ExpiresAt.Unix())
}

func TestParseJoinGrant_MissingFields(t *testing.T) {
	_, err := ParseJoinGrant([]byte(`{"signature": "0x01"}`))
	assert.Error(t, err)

	_, err = ParseJoinGrant([]byte(`not json`))
	assert.Error(t, err)
}
