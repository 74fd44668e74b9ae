package game

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"math/big"
	"sync"
	"testing"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/backend"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/chain"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/config"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

const (
	testPool = "0x00000000000000000000000000000000000000aa"
	testBot  = "0x00000000000000000000000000000000000000b0"
)

// fakeChain is an in-memory stand-in for the game contract. joinFailures
// and postFailures make the matching error transient: only that many calls
// fail before the operation starts succeeding.
type fakeChain struct {
	mu           sync.Mutex
	info         chain.GameInfo
	player       chain.PlayerInfo
	playerErr    error
	joinErr      error
	joinFailures int
	postErr      error
	postFailures int
	closeErr     error
	startOnJoin  bool
	joinCalls    int
	postCalls    int
	closeCalls   int
	finishCalls  int
}

func (c *fakeChain) JoinGame(_ context.Context, _ uint64, _ common.Address, _ domain.SignatureGrant, _ *big.Int) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.joinCalls++
	if c.joinErr != nil && (c.joinFailures == 0 || c.joinCalls <= c.joinFailures) {
		return c.joinErr
	}
	if c.startOnJoin {
		c.info.State = chain.StateStarted
		c.info.StartTime = time.Now()
	}
	return nil
}

func (c *fakeChain) PostPosition(_ context.Context, _ uint64, _ common.Hash, grant domain.SignatureGrant) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.postCalls++
	if grant.Expired(time.Now()) {
		return domain.ErrGrantExpired
	}
	if c.postErr != nil && (c.postFailures == 0 || c.postCalls <= c.postFailures) {
		return c.postErr
	}
	return nil
}

func (c *fakeChain) ClosePosition(_ context.Context, _ uint64, _ domain.Direction, _ uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.closeCalls++
	return c.closeErr
}

func (c *fakeChain) FinishGame(_ context.Context, _ uint64, _ domain.Direction, _ uint64) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.finishCalls++
	return nil
}

func (c *fakeChain) GameInfo(_ context.Context, _ uint64) (chain.GameInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.info, nil
}

func (c *fakeChain) PlayerInfo(_ context.Context, _ common.Address) (chain.PlayerInfo, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.player, c.playerErr
}

func (c *fakeChain) counts() (join, post, close, finish int) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.joinCalls, c.postCalls, c.closeCalls, c.finishCalls
}

// fakeBackend is an in-memory stand-in for the matchmaking API. When
// grantOnAdd is set, AddOpponent publishes a signature_ready event the way
// the real backend pushes one over the socket.
type fakeBackend struct {
	mu         sync.Mutex
	fights     []backend.TradingFight
	events     chan domain.BackendEvent
	grantOnAdd bool
	sigErr     error
	addCalls   int
	startCalls int
	sigCalls   int
}

func (b *fakeBackend) AvailableGames(context.Context) ([]backend.TradingFight, error) {
	return b.fights, nil
}

func (b *fakeBackend) AddOpponent(_ context.Context, fightID string, gameID uint64, player string, _ int) error {
	b.mu.Lock()
	b.addCalls++
	b.mu.Unlock()
	if b.grantOnAdd {
		raw := fmt.Sprintf(`{"signature":"0xdeadbeef","trading_fight_id":%q,"original_request":{"game_id":"%d","player2":%q,"timestamp":%d,"ttl":300}}`,
			fightID, gameID, player, time.Now().Unix())
		b.events <- domain.BackendEvent{
			Kind:    domain.BackendEventSignatureReady,
			FightID: fightID,
			GameID:  gameID,
			Raw:     []byte(raw),
		}
	}
	return nil
}

func (b *fakeBackend) StartFight(context.Context, string) error {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.startCalls++
	return nil
}

func (b *fakeBackend) PositionSignature(_ context.Context, gameID uint64, _ string, _ domain.Direction, _ uint64) (domain.SignatureGrant, error) {
	b.mu.Lock()
	defer b.mu.Unlock()
	b.sigCalls++
	if b.sigErr != nil {
		return domain.SignatureGrant{}, b.sigErr
	}
	return domain.SignatureGrant{
		Op:        domain.GrantOpPosition,
		GameID:    gameID,
		Payload:   []byte{0xde, 0xad},
		ExpiresAt: time.Now().Add(time.Minute),
	}, nil
}

// fakeMarket serves a controllable price and no sample stream.
type fakeMarket struct {
	mu       sync.Mutex
	price    float64
	stale    bool
	degraded bool
}

func (m *fakeMarket) Run(ctx context.Context) error {
	<-ctx.Done()
	return ctx.Err()
}

func (m *fakeMarket) Samples() <-chan domain.PriceSample { return nil }

func (m *fakeMarket) Snapshot() domain.MarketSnapshot {
	m.mu.Lock()
	defer m.mu.Unlock()
	return domain.MarketSnapshot{
		Pool:     testPool,
		Latest:   domain.PriceSample{Pool: testPool, Price: m.price, Timestamp: time.Now()},
		Samples:  10,
		Stale:    m.stale,
		Degraded: m.degraded,
	}
}

func (m *fakeMarket) setPrice(p float64) {
	m.mu.Lock()
	m.price = p
	m.mu.Unlock()
}

// fakeWatcher lets a test inject chain events.
type fakeWatcher struct {
	events chan domain.ChainEvent
}

func (w *fakeWatcher) Run(ctx context.Context) { <-ctx.Done() }

func (w *fakeWatcher) Events() <-chan domain.ChainEvent { return w.events }

// memGames is an in-memory GameStore.
type memGames struct {
	mu    sync.Mutex
	games map[uint64]*domain.Game
}

func newMemGames() *memGames { return &memGames{games: make(map[uint64]*domain.Game)} }

func (s *memGames) Create(_ context.Context, g domain.Game) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if _, ok := s.games[g.GameID]; ok {
		return domain.ErrAlreadyExists
	}
	s.games[g.GameID] = &g
	return nil
}

func (s *memGames) UpdateStatus(_ context.Context, gameID uint64, status domain.GameStatus, lastError string) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return domain.ErrNotFound
	}
	g.Status = status
	g.LastError = lastError
	return nil
}

func (s *memGames) SetStarted(_ context.Context, gameID uint64, startedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return domain.ErrNotFound
	}
	g.StartedAt = &startedAt
	return nil
}

func (s *memGames) Finish(_ context.Context, gameID uint64, result domain.GameResult, finalPnL float64, endedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return domain.ErrNotFound
	}
	g.Status = domain.GameStatusSettled
	g.Result = result
	g.FinalPnL = &finalPnL
	g.EndedAt = &endedAt
	return nil
}

func (s *memGames) GetByID(_ context.Context, gameID uint64) (domain.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	g, ok := s.games[gameID]
	if !ok {
		return domain.Game{}, domain.ErrNotFound
	}
	return *g, nil
}

func (s *memGames) LatestOpen(_ context.Context, bot string) (domain.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, g := range s.games {
		if g.Bot == bot && !g.Status.Terminal() {
			return *g, nil
		}
	}
	return domain.Game{}, domain.ErrNotFound
}

func (s *memGames) ListHistory(_ context.Context, bot string, _ domain.ListOpts) ([]domain.Game, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Game
	for _, g := range s.games {
		if g.Bot == bot {
			out = append(out, *g)
		}
	}
	return out, nil
}

// memPositions is an in-memory PositionStore with write-once close.
type memPositions struct {
	mu        sync.Mutex
	positions []*domain.Position
}

func (s *memPositions) Create(_ context.Context, pos domain.Position) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.GameID == pos.GameID && p.Nonce == pos.Nonce {
			return domain.ErrAlreadyExists
		}
	}
	s.positions = append(s.positions, &pos)
	return nil
}

func (s *memPositions) Close(_ context.Context, gameID, nonce uint64, exitPrice, pnl float64, forceClose bool, closedAt time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.GameID == gameID && p.Nonce == nonce {
			if p.Status == domain.PositionStatusClosed {
				return domain.ErrPositionClosed
			}
			p.Status = domain.PositionStatusClosed
			p.ExitPrice = &exitPrice
			p.PnL = &pnl
			p.ForceClose = forceClose
			p.ClosedAt = &closedAt
			return nil
		}
	}
	return domain.ErrNotFound
}

func (s *memPositions) Open(_ context.Context, gameID uint64) (domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	for _, p := range s.positions {
		if p.GameID == gameID && p.Status == domain.PositionStatusOpen {
			return *p, nil
		}
	}
	return domain.Position{}, domain.ErrNotFound
}

func (s *memPositions) ListByGame(_ context.Context, gameID uint64) ([]domain.Position, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	var out []domain.Position
	for _, p := range s.positions {
		if p.GameID == gameID {
			out = append(out, *p)
		}
	}
	return out, nil
}

// scriptEngine delegates to a closure so tests can react to game state. A
// non-nil err makes every call fail.
type scriptEngine struct {
	mu    sync.Mutex
	fn    func(m domain.MarketSnapshot, g domain.GameSnapshot) domain.Decision
	err   error
	calls int
}

func (e *scriptEngine) Name() string { return "script" }

func (e *scriptEngine) Decide(_ context.Context, m domain.MarketSnapshot, g domain.GameSnapshot) (domain.Decision, error) {
	e.mu.Lock()
	e.calls++
	err := e.err
	e.mu.Unlock()
	if err != nil {
		return domain.Decision{}, err
	}
	return e.fn(m, g), nil
}

func (e *scriptEngine) callCount() int {
	e.mu.Lock()
	defer e.mu.Unlock()
	return e.calls
}

type harness struct {
	orch      *Orchestrator
	chain     *fakeChain
	backend   *fakeBackend
	market    *fakeMarket
	watcher   *fakeWatcher
	games     *memGames
	positions *memPositions
	engine    *scriptEngine
}

func testGameConfig() config.Config {
	cfg := config.Defaults()
	cfg.Pools = []config.PoolConfig{{Address: testPool, Label: "TEST/USDT", StableSide: "token0"}}
	cfg.Game.Duration = config.Duration{Duration: 250 * time.Millisecond}
	cfg.Game.DecideInterval = config.Duration{Duration: 20 * time.Millisecond}
	cfg.Game.ForceCloseMargin = config.Duration{Duration: 60 * time.Millisecond}
	cfg.Game.SignatureWait = config.Duration{Duration: 200 * time.Millisecond}
	cfg.Game.DiscoveryInterval = config.Duration{Duration: 50 * time.Millisecond}
	cfg.Game.RetryAttempts = 2
	cfg.Game.RetryBackoff = config.Duration{Duration: time.Millisecond}
	cfg.Game.RetryBackoffMax = config.Duration{Duration: 5 * time.Millisecond}
	cfg.Game.MaxBetWei = "1000000000000000000"
	cfg.Decision.Timeout = config.Duration{}
	return cfg
}

func newHarness(t *testing.T, engineFn func(m domain.MarketSnapshot, g domain.GameSnapshot) domain.Decision) *harness {
	t.Helper()

	h := &harness{
		chain: &fakeChain{
			info: chain.GameInfo{State: chain.StateCreated, BetAmount: big.NewInt(1000)},
		},
		backend:   &fakeBackend{events: make(chan domain.BackendEvent, 8), grantOnAdd: true},
		market:    &fakeMarket{price: 1.25},
		watcher:   &fakeWatcher{events: make(chan domain.ChainEvent, 8)},
		games:     newMemGames(),
		positions: &memPositions{},
		engine:    &scriptEngine{fn: engineFn},
	}

	h.orch = New(testGameConfig(), common.HexToAddress(testBot), Deps{
		Chain:         h.chain,
		Backend:       h.backend,
		Engine:        h.engine,
		Games:         h.games,
		Positions:     h.positions,
		BackendEvents: h.backend.events,
		NewMarket:     func(config.PoolConfig) Market { return h.market },
		NewWatcher:    func(uint64) GameWatcher { return h.watcher },
		Logger:        slog.New(slog.DiscardHandler),
	})
	return h
}

func testFight(gameID uint64) backend.TradingFight {
	return backend.TradingFight{
		ID:        "f-1111",
		GameID:    json.Number(fmt.Sprintf("%d", gameID)),
		Pool:      testPool,
		Creator:   "0x00000000000000000000000000000000000000c1",
		BetAmount: "1000",
		CoinID:    7,
		Status:    "Not started",
	}
}
