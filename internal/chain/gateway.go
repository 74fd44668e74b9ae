package chain

import (
	"context"
	"fmt"
	"math/big"
	"time"

	"github.com/ethereum/go-ethereum/common"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

// On-chain game states.
const (
	StateCreated  uint8 = 1
	StateStarted  uint8 = 2
	StateFinished uint8 = 3
)

// Stable-token sides as reported by getPoolStableToken.
const (
	StableToken0 uint8 = 0
	StableToken1 uint8 = 1
)

// GameInfo mirrors the contract's game struct.
type GameInfo struct {
	Player1     common.Address
	Player2     common.Address
	Player1Pool common.Address
	Player2Pool common.Address
	StartTime   time.Time
	EndTime     time.Time
	BetAmount   *big.Int
	State       uint8
}

// PlayerInfo mirrors the contract's playerGameInfo view.
type PlayerInfo struct {
	InGame bool
	GameID uint64
	Role   uint8 // 0 none, 1 creator, 2 participant
}

// JoinGame stakes bet wei into the fight using a backend-issued join grant.
func (c *Client) JoinGame(ctx context.Context, gameID uint64, pool common.Address, grant domain.SignatureGrant, bet *big.Int) error {
	if grant.Expired(time.Now()) {
		return domain.ErrGrantExpired
	}

	callData, err := gameABI.Pack("joinGame",
		new(big.Int).SetUint64(gameID),
		pool,
		big.NewInt(grant.ExpiresAt.Unix()),
		grant.Payload,
	)
	if err != nil {
		return fmt.Errorf("chain: pack joinGame: %w", err)
	}

	_, err = c.submit(ctx, bet, callData)
	return err
}

// PostPosition opens a position with the backend-signed direction commitment.
func (c *Client) PostPosition(ctx context.Context, gameID uint64, hashedDirection common.Hash, grant domain.SignatureGrant) error {
	if grant.Expired(time.Now()) {
		return domain.ErrGrantExpired
	}

	callData, err := gameABI.Pack("postPosition",
		new(big.Int).SetUint64(gameID),
		hashedDirection,
		grant.Payload,
	)
	if err != nil {
		return fmt.Errorf("chain: pack postPosition: %w", err)
	}

	_, err = c.submit(ctx, nil, callData)
	return err
}

// ClosePosition reveals the direction and nonce, closing the open position.
func (c *Client) ClosePosition(ctx context.Context, gameID uint64, direction domain.Direction, nonce uint64) error {
	callData, err := gameABI.Pack("closePosition",
		new(big.Int).SetUint64(gameID),
		directionByte(direction),
		new(big.Int).SetUint64(nonce),
	)
	if err != nil {
		return fmt.Errorf("chain: pack closePosition: %w", err)
	}

	_, err = c.submit(ctx, nil, callData)
	return err
}

// FinishGame settles the fight. When the bot still has an open position the
// direction and nonce reveal it; otherwise zero values are passed.
func (c *Client) FinishGame(ctx context.Context, gameID uint64, direction domain.Direction, nonce uint64) error {
	callData, err := gameABI.Pack("finishGame",
		new(big.Int).SetUint64(gameID),
		directionByte(direction),
		new(big.Int).SetUint64(nonce),
	)
	if err != nil {
		return fmt.Errorf("chain: pack finishGame: %w", err)
	}

	_, err = c.submit(ctx, nil, callData)
	return err
}

// GameInfo reads the current contract state of a fight.
func (c *Client) GameInfo(ctx context.Context, gameID uint64) (GameInfo, error) {
	callData, err := gameABI.Pack("getGame", new(big.Int).SetUint64(gameID))
	if err != nil {
		return GameInfo{}, fmt.Errorf("chain: pack getGame: %w", err)
	}

	raw, err := c.call(ctx, c.contract, callData)
	if err != nil {
		return GameInfo{}, fmt.Errorf("chain: getGame(%d): %w", gameID, err)
	}

	vals, err := gameABI.Unpack("getGame", raw)
	if err != nil || len(vals) == 0 {
		return GameInfo{}, fmt.Errorf("chain: unpack getGame: %w", err)
	}

	out := vals[0].(struct {
		Player1     common.Address `abi:"player1"`
		Player2     common.Address `abi:"player2"`
		Player1Pool common.Address `abi:"player1Pool"`
		Player2Pool common.Address `abi:"player2Pool"`
		StartTime   *big.Int       `abi:"startTime"`
		EndTime     *big.Int       `abi:"endTime"`
		BetAmount   *big.Int       `abi:"betAmount"`
		State       uint8          `abi:"state"`
	})

	info := GameInfo{
		Player1:     out.Player1,
		Player2:     out.Player2,
		Player1Pool: out.Player1Pool,
		Player2Pool: out.Player2Pool,
		BetAmount:   out.BetAmount,
		State:       out.State,
	}
	if out.StartTime.Sign() > 0 {
		info.StartTime = time.Unix(out.StartTime.Int64(), 0)
	}
	if out.EndTime.Sign() > 0 {
		info.EndTime = time.Unix(out.EndTime.Int64(), 0)
	}
	return info, nil
}

// PlayerInfo reads the bot's current fight assignment from the contract.
func (c *Client) PlayerInfo(ctx context.Context, player common.Address) (PlayerInfo, error) {
	callData, err := gameABI.Pack("playerGameInfo", player)
	if err != nil {
		return PlayerInfo{}, fmt.Errorf("chain: pack playerGameInfo: %w", err)
	}

	raw, err := c.call(ctx, c.contract, callData)
	if err != nil {
		return PlayerInfo{}, fmt.Errorf("chain: playerGameInfo: %w", err)
	}

	vals, err := gameABI.Unpack("playerGameInfo", raw)
	if err != nil || len(vals) < 3 {
		return PlayerInfo{}, fmt.Errorf("chain: unpack playerGameInfo: %w", err)
	}

	return PlayerInfo{
		InGame: vals[0].(bool),
		GameID: vals[1].(*big.Int).Uint64(),
		Role:   vals[2].(uint8),
	}, nil
}

// PoolStableSide asks the game contract which side of the pair is the
// stable token.
func (c *Client) PoolStableSide(ctx context.Context, pool common.Address) (uint8, error) {
	callData, err := gameABI.Pack("getPoolStableToken", pool)
	if err != nil {
		return 0, fmt.Errorf("chain: pack getPoolStableToken: %w", err)
	}

	raw, err := c.call(ctx, c.contract, callData)
	if err != nil {
		return 0, fmt.Errorf("chain: getPoolStableToken: %w", err)
	}

	vals, err := gameABI.Unpack("getPoolStableToken", raw)
	if err != nil || len(vals) == 0 {
		return 0, fmt.Errorf("chain: unpack getPoolStableToken: %w", err)
	}
	return vals[0].(uint8), nil
}

// PoolReserves reads the pair's current reserves.
func (c *Client) PoolReserves(ctx context.Context, pool common.Address) (reserve0, reserve1 *big.Int, err error) {
	callData, err := pairABI.Pack("getReserves")
	if err != nil {
		return nil, nil, fmt.Errorf("chain: pack getReserves: %w", err)
	}

	raw, err := c.call(ctx, pool, callData)
	if err != nil {
		return nil, nil, fmt.Errorf("chain: getReserves(%s): %w", pool.Hex(), err)
	}

	vals, err := pairABI.Unpack("getReserves", raw)
	if err != nil || len(vals) < 2 {
		return nil, nil, fmt.Errorf("chain: unpack getReserves: %w", err)
	}
	return vals[0].(*big.Int), vals[1].(*big.Int), nil
}

// PoolPrice computes the pool price as stable reserve over volatile reserve.
func (c *Client) PoolPrice(ctx context.Context, pool common.Address, stableSide uint8) (float64, error) {
	r0, r1, err := c.PoolReserves(ctx, pool)
	if err != nil {
		return 0, err
	}
	return ReservePrice(r0, r1, stableSide)
}

// ReservePrice divides the stable-side reserve by the other reserve with
// big.Float precision.
func ReservePrice(reserve0, reserve1 *big.Int, stableSide uint8) (float64, error) {
	num, den := reserve0, reserve1
	if stableSide == StableToken1 {
		num, den = reserve1, reserve0
	}
	if den.Sign() == 0 {
		return 0, fmt.Errorf("chain: pool has zero reserve")
	}

	price, _ := new(big.Float).Quo(new(big.Float).SetInt(num), new(big.Float).SetInt(den)).Float64()
	return price, nil
}

var zeroAddress common.Address

func directionByte(d domain.Direction) uint8 {
	if d == domain.DirectionShort {
		return 1
	}
	return 0
}
