package game

import (
	"context"
	"errors"
	"log/slog"
	"math/big"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/backend"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/chain"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

func holdAlways(domain.MarketSnapshot, domain.GameSnapshot) domain.Decision {
	return domain.Decision{Action: domain.ActionHold}
}

func openOnce(domain.MarketSnapshot, domain.GameSnapshot) domain.Decision {
	return domain.Decision{Action: domain.ActionOpenLong, Rationale: "test entry"}
}

func TestFightLifecycle_Win(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.startOnJoin = true
	h.backend.fights = []backend.TradingFight{testFight(7)}

	// Open long at 1.25, nudge the market up, close at 1.26, then sit out
	// the rest of the fight.
	var closed bool
	h.engine.fn = func(m domain.MarketSnapshot, g domain.GameSnapshot) domain.Decision {
		switch {
		case closed:
			return domain.Decision{Action: domain.ActionHold}
		case g.OpenPosition == nil:
			return domain.Decision{Action: domain.ActionOpenLong, Rationale: "trend up"}
		case m.Latest.Price < 1.26:
			h.market.setPrice(1.26)
			return domain.Decision{Action: domain.ActionHold}
		default:
			closed = true
			return domain.Decision{Action: domain.ActionClose, Rationale: "take profit"}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.discoverOnce(ctx))

	g, err := h.games.GetByID(ctx, 7)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusSettled, g.Status)
	assert.Equal(t, domain.GameResultWin, g.Result)
	require.NotNil(t, g.FinalPnL)
	assert.InDelta(t, 0.008, *g.FinalPnL, 0.0001)

	positions, err := h.positions.ListByGame(ctx, 7)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.PositionStatusClosed, positions[0].Status)
	assert.False(t, positions[0].ForceClose)
	assert.Equal(t, domain.DirectionLong, positions[0].Direction)

	join, post, closeCalls, finish := h.chain.counts()
	assert.Equal(t, 1, join)
	assert.Equal(t, 1, post)
	assert.Equal(t, 1, closeCalls)
	assert.Equal(t, 1, finish)
	assert.Equal(t, 1, h.backend.startCalls)
}

func TestFightLifecycle_ForceCloseAtDeadline(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.startOnJoin = true
	h.backend.fights = []backend.TradingFight{testFight(8)}
	h.engine.fn = func(_ domain.MarketSnapshot, g domain.GameSnapshot) domain.Decision {
		if g.OpenPosition == nil {
			return domain.Decision{Action: domain.ActionOpenLong, Rationale: "test entry"}
		}
		return domain.Decision{Action: domain.ActionHold}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.discoverOnce(ctx))

	g, err := h.games.GetByID(ctx, 8)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusSettled, g.Status)
	assert.Equal(t, domain.GameResultDraw, g.Result)

	positions, err := h.positions.ListByGame(ctx, 8)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.PositionStatusClosed, positions[0].Status)
	assert.True(t, positions[0].ForceClose)

	_, _, _, finish := h.chain.counts()
	assert.Equal(t, 1, finish)
}

func TestJoin_SignatureTimeout(t *testing.T) {
	h := newHarness(t, holdAlways)
	h.backend.grantOnAdd = false
	h.backend.fights = []backend.TradingFight{testFight(9)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.discoverOnce(ctx))

	g, err := h.games.GetByID(ctx, 9)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusError, g.Status)
	assert.Contains(t, g.LastError, "no join signature")

	join, _, _, _ := h.chain.counts()
	assert.Equal(t, 0, join)
}

func TestJoin_AlreadyJoinedOnChainIsIdempotent(t *testing.T) {
	h := newHarness(t, holdAlways)
	h.chain.joinErr = domain.ErrAlreadyJoined
	h.chain.player = chain.PlayerInfo{InGame: true, GameID: 10, Role: 2}
	h.chain.info = chain.GameInfo{State: chain.StateStarted, StartTime: time.Now()}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool := h.orch.pools[testPool]
	require.NoError(t, h.orch.joinAndPlay(ctx, testFight(10), 10, pool, big.NewInt(1000)))

	g, err := h.games.GetByID(ctx, 10)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusSettled, g.Status)
	assert.Equal(t, 1, h.backend.startCalls)
}

func TestJoin_SlotTaken(t *testing.T) {
	h := newHarness(t, holdAlways)
	h.chain.joinErr = domain.ErrAlreadyJoined
	h.chain.player = chain.PlayerInfo{InGame: false}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	pool := h.orch.pools[testPool]
	require.NoError(t, h.orch.joinAndPlay(ctx, testFight(11), 11, pool, big.NewInt(1000)))

	g, err := h.games.GetByID(ctx, 11)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusError, g.Status)
	assert.Equal(t, 0, h.backend.startCalls)
}

func TestClose_AlreadyClosedOnChainStillRecorded(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.startOnJoin = true
	h.chain.closeErr = domain.ErrPositionClosed
	h.backend.fights = []backend.TradingFight{testFight(12)}
	var closed bool
	h.engine.fn = func(_ domain.MarketSnapshot, g domain.GameSnapshot) domain.Decision {
		switch {
		case closed:
			return domain.Decision{Action: domain.ActionHold}
		case g.OpenPosition == nil:
			return domain.Decision{Action: domain.ActionOpenLong}
		default:
			closed = true
			return domain.Decision{Action: domain.ActionClose}
		}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.discoverOnce(ctx))

	positions, err := h.positions.ListByGame(ctx, 12)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.PositionStatusClosed, positions[0].Status)
	require.NotNil(t, positions[0].PnL)

	g, err := h.games.GetByID(ctx, 12)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusSettled, g.Status)
}

func TestResume_PlaysOpenGame(t *testing.T) {
	h := newHarness(t, holdAlways)
	started := time.Now()
	require.NoError(t, h.games.Create(context.Background(), domain.Game{
		GameID:    13,
		Pool:      testPool,
		Bot:       testBot,
		Role:      domain.GameRolePlayer2,
		Bet:       big.NewInt(1000),
		Status:    domain.GameStatusActive,
		Duration:  250 * time.Millisecond,
		StartedAt: &started,
	}))
	h.chain.player = chain.PlayerInfo{InGame: true, GameID: 13, Role: 2}
	h.chain.info = chain.GameInfo{State: chain.StateStarted, StartTime: started}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.resume(ctx))

	g, err := h.games.GetByID(ctx, 13)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusSettled, g.Status)

	_, _, _, finish := h.chain.counts()
	assert.Equal(t, 1, finish)
}

func TestResume_SettledWhileOffline(t *testing.T) {
	h := newHarness(t, holdAlways)
	started := time.Now().Add(-time.Minute)
	require.NoError(t, h.games.Create(context.Background(), domain.Game{
		GameID:    14,
		Pool:      testPool,
		Bot:       testBot,
		Status:    domain.GameStatusActive,
		Duration:  250 * time.Millisecond,
		StartedAt: &started,
	}))
	pnl := 0.01
	closedAt := started.Add(30 * time.Second)
	exit := 1.2625
	h.positions.positions = append(h.positions.positions, &domain.Position{
		GameID:     14,
		Nonce:      42,
		Direction:  domain.DirectionLong,
		Status:     domain.PositionStatusClosed,
		EntryPrice: 1.25,
		ExitPrice:  &exit,
		PnL:        &pnl,
		ClosedAt:   &closedAt,
	})
	h.chain.player = chain.PlayerInfo{InGame: false}
	h.chain.info = chain.GameInfo{State: chain.StateFinished}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.resume(ctx))

	g, err := h.games.GetByID(ctx, 14)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusSettled, g.Status)
	assert.Equal(t, domain.GameResultWin, g.Result)
	require.NotNil(t, g.FinalPnL)
	assert.InDelta(t, 0.01, *g.FinalPnL, 1e-9)

	_, _, _, finish := h.chain.counts()
	assert.Equal(t, 0, finish)
}

func TestResume_NothingOpen(t *testing.T) {
	h := newHarness(t, holdAlways)
	require.NoError(t, h.orch.resume(context.Background()))
}

func TestSettle_ChainFinishedFirstSkipsFinish(t *testing.T) {
	h := newHarness(t, holdAlways)
	h.chain.startOnJoin = true
	h.backend.fights = []backend.TradingFight{testFight(15)}

	go func() {
		time.Sleep(80 * time.Millisecond)
		h.watcher.events <- domain.ChainEvent{
			Kind:       domain.ChainEventGameSettled,
			GameID:     15,
			ObservedAt: time.Now(),
		}
	}()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.discoverOnce(ctx))

	g, err := h.games.GetByID(ctx, 15)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusSettled, g.Status)

	_, _, _, finish := h.chain.counts()
	assert.Equal(t, 0, finish)
}

func TestDecide_StaleFeedHolds(t *testing.T) {
	h := newHarness(t, openOnce)
	h.market.stale = true
	g := domain.Game{GameID: 16, Pool: testPool, Duration: time.Minute}

	require.NoError(t, h.orch.decide(context.Background(), &g, h.market))

	assert.Equal(t, 0, h.engine.callCount())
	_, post, _, _ := h.chain.counts()
	assert.Equal(t, 0, post)
}

func TestDecide_DegradedFeedHolds(t *testing.T) {
	h := newHarness(t, openOnce)
	h.market.degraded = true
	g := domain.Game{GameID: 20, Pool: testPool, Duration: time.Minute}

	require.NoError(t, h.orch.decide(context.Background(), &g, h.market))

	assert.Equal(t, 0, h.engine.callCount())
	_, post, _, _ := h.chain.counts()
	assert.Equal(t, 0, post)
}

func TestDecide_ConsecutiveEngineFailuresErrorGame(t *testing.T) {
	h := newHarness(t, holdAlways)
	h.chain.startOnJoin = true
	h.engine.err = errors.New("model unavailable")
	h.orch.cfg.Decision.MaxFailures = 2
	h.backend.fights = []backend.TradingFight{testFight(21)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.discoverOnce(ctx))

	g, err := h.games.GetByID(ctx, 21)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusError, g.Status)
	assert.Contains(t, g.LastError, "in a row")
	assert.Equal(t, 2, h.engine.callCount())

	_, post, _, _ := h.chain.counts()
	assert.Equal(t, 0, post)
}

func TestOpen_FreshGrantPerAttempt(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.startOnJoin = true
	h.chain.postErr = errors.New("connection reset")
	h.chain.postFailures = 1
	h.backend.fights = []backend.TradingFight{testFight(22)}
	h.engine.fn = func(_ domain.MarketSnapshot, g domain.GameSnapshot) domain.Decision {
		if g.OpenPosition == nil {
			return domain.Decision{Action: domain.ActionOpenLong}
		}
		return domain.Decision{Action: domain.ActionHold}
	}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.discoverOnce(ctx))

	// One signature per submission attempt: the failed send and the retry.
	assert.Equal(t, 2, h.backend.sigCalls)
	_, post, _, _ := h.chain.counts()
	assert.Equal(t, 2, post)

	positions, err := h.positions.ListByGame(ctx, 22)
	require.NoError(t, err)
	require.Len(t, positions, 1)
	assert.Equal(t, domain.PositionStatusClosed, positions[0].Status)
}

func TestOpen_SignatureFailureLeavesNoPosition(t *testing.T) {
	h := newHarness(t, nil)
	h.chain.startOnJoin = true
	h.backend.sigErr = errors.New("signer offline")
	h.engine.fn = func(_ domain.MarketSnapshot, g domain.GameSnapshot) domain.Decision {
		if g.OpenPosition == nil {
			return domain.Decision{Action: domain.ActionOpenLong}
		}
		return domain.Decision{Action: domain.ActionHold}
	}
	h.backend.fights = []backend.TradingFight{testFight(23)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.discoverOnce(ctx))

	// Nothing was committed on chain and nothing half-open was recorded.
	positions, err := h.positions.ListByGame(ctx, 23)
	require.NoError(t, err)
	assert.Empty(t, positions)
	_, post, _, _ := h.chain.counts()
	assert.Equal(t, 0, post)

	g, err := h.games.GetByID(ctx, 23)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusSettled, g.Status)
	assert.Equal(t, domain.GameResultDraw, g.Result)
}

func TestJoin_FreshGrantPerRetry(t *testing.T) {
	h := newHarness(t, holdAlways)
	h.chain.startOnJoin = true
	h.chain.joinErr = errors.New("connection reset")
	h.chain.joinFailures = 1
	h.backend.fights = []backend.TradingFight{testFight(24)}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.discoverOnce(ctx))

	// The second join attempt re-registered and waited for a new grant.
	assert.Equal(t, 2, h.backend.addCalls)
	join, _, _, _ := h.chain.counts()
	assert.Equal(t, 2, join)

	g, err := h.games.GetByID(ctx, 24)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusSettled, g.Status)
}

func TestDiscoverOnce_OneGameAtATime(t *testing.T) {
	h := newHarness(t, holdAlways)
	h.chain.startOnJoin = true
	second := testFight(26)
	second.ID = "f-2222"
	h.backend.fights = []backend.TradingFight{testFight(25), second}

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	require.NoError(t, h.orch.discoverOnce(ctx))

	// The pass plays the first joinable fight to completion and never
	// touches the second.
	assert.Equal(t, 1, h.backend.addCalls)
	join, _, _, _ := h.chain.counts()
	assert.Equal(t, 1, join)

	g, err := h.games.GetByID(ctx, 25)
	require.NoError(t, err)
	assert.Equal(t, domain.GameStatusSettled, g.Status)
	_, err = h.games.GetByID(ctx, 26)
	assert.ErrorIs(t, err, domain.ErrNotFound)
}

func TestDiscoverOnce_Filters(t *testing.T) {
	h := newHarness(t, holdAlways)
	h.chain.info = chain.GameInfo{State: chain.StateStarted} // listing lags the chain

	tooBig := testFight(17)
	tooBig.BetAmount = "2000000000000000000"
	unknownPool := testFight(18)
	unknownPool.Pool = "0x00000000000000000000000000000000000000ff"
	lagged := testFight(19)
	h.backend.fights = []backend.TradingFight{unknownPool, tooBig, lagged}

	err := h.orch.discoverOnce(context.Background())
	assert.ErrorIs(t, err, domain.ErrNotFound)
	assert.Equal(t, 0, h.backend.addCalls)
}

func TestRetryable(t *testing.T) {
	assert.False(t, Retryable(domain.ErrUnauthorized))
	assert.False(t, Retryable(domain.ErrAlreadyJoined))
	assert.False(t, Retryable(domain.ErrPositionClosed))
	assert.False(t, Retryable(domain.ErrGrantExpired))
	assert.True(t, Retryable(errors.New("connection reset")))
	assert.True(t, Retryable(domain.ErrTxReverted))
}

func TestRetryPolicy_RetriesTransient(t *testing.T) {
	p := RetryPolicy{Attempts: 3, Backoff: time.Millisecond, BackoffMax: 2 * time.Millisecond}
	calls := 0
	err := p.retry(context.Background(), slog.New(slog.DiscardHandler), "op", func() error {
		calls++
		if calls < 3 {
			return errors.New("transient")
		}
		return nil
	})
	require.NoError(t, err)
	assert.Equal(t, 3, calls)
}

func TestRetryPolicy_StopsOnPermanent(t *testing.T) {
	p := RetryPolicy{Attempts: 5, Backoff: time.Millisecond}
	calls := 0
	err := p.retry(context.Background(), slog.New(slog.DiscardHandler), "op", func() error {
		calls++
		return domain.ErrUnauthorized
	})
	assert.ErrorIs(t, err, domain.ErrUnauthorized)
	assert.Equal(t, 1, calls)
}

func TestRetryPolicy_ExhaustsAttempts(t *testing.T) {
	p := RetryPolicy{Attempts: 2, Backoff: time.Millisecond}
	calls := 0
	err := p.retry(context.Background(), slog.New(slog.DiscardHandler), "op", func() error {
		calls++
		return errors.New("still broken")
	})
	assert.Error(t, err)
	assert.Equal(t, 2, calls)
}
