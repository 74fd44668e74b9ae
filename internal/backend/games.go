package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"time"
)

// opponentTTLSeconds is the signature lifetime requested when joining a
// fight. It matches what the frontend asks for.
const opponentTTLSeconds = 300

// TradingFight is one joinable fight as listed by the backend.
type TradingFight struct {
	ID        string      `json:"id"` // backend UUID
	GameID    json.Number `json:"game_id"`
	Pool      string      `json:"pool_address"`
	Creator   string      `json:"creator_address"`
	BetAmount string      `json:"bet_amount"`
	CoinID    int         `json:"coin_id"`
	Status    string      `json:"status"`
}

// NumericGameID returns the on-chain game id of the fight.
func (f TradingFight) NumericGameID() (uint64, error) {
	id, err := strconv.ParseUint(f.GameID.String(), 10, 64)
	if err != nil {
		return 0, fmt.Errorf("backend: fight %s has invalid game_id %q: %w", f.ID, f.GameID, err)
	}
	return id, nil
}

// AvailableGames lists fights that have not started, were not created by the
// bot, and whose creator is online.
func (c *Client) AvailableGames(ctx context.Context) ([]TradingFight, error) {
	if err := c.Authenticate(ctx); err != nil {
		return nil, err
	}

	c.mu.Lock()
	userID := c.userID
	c.mu.Unlock()

	params := url.Values{}
	params.Set("statuses", "Not started")
	params.Set("exclude_user_created_fights", "true")
	params.Set("user_id", userID)
	params.Set("is_creator_online", "true")
	params.Set("limit", "50")
	params.Set("offset", "0")

	body, err := c.get(ctx, "/api/v1/games/trading-fights/", params, true)
	if err != nil {
		return nil, fmt.Errorf("backend: list fights: %w", err)
	}

	// The endpoint pages as {"results": [...]} but some deployments return a
	// bare array.
	var paged struct {
		Results []TradingFight `json:"results"`
	}
	if err := json.Unmarshal(body, &paged); err == nil && paged.Results != nil {
		return paged.Results, nil
	}
	var fights []TradingFight
	if err := json.Unmarshal(body, &fights); err != nil {
		return nil, fmt.Errorf("backend: decode fights: %w", err)
	}
	return fights, nil
}

// TradingFight fetches one fight by its backend UUID.
func (c *Client) TradingFight(ctx context.Context, fightID string) (TradingFight, error) {
	if err := c.Authenticate(ctx); err != nil {
		return TradingFight{}, err
	}

	body, err := c.get(ctx, "/api/v1/games/trading-fights/"+fightID+"/", nil, true)
	if err != nil {
		return TradingFight{}, fmt.Errorf("backend: get fight %s: %w", fightID, err)
	}

	var fight TradingFight
	if err := json.Unmarshal(body, &fight); err != nil {
		return TradingFight{}, fmt.Errorf("backend: decode fight: %w", err)
	}
	return fight, nil
}

// AddOpponent registers the bot as player2 of the fight. The backend signs
// the join asynchronously and delivers the grant over the notification
// socket as a signature_ready message.
func (c *Client) AddOpponent(ctx context.Context, fightID string, gameID uint64, player string, coinID int) error {
	if err := c.Authenticate(ctx); err != nil {
		return err
	}

	payload := map[string]any{
		"game_id":   strconv.FormatUint(gameID, 10),
		"player2":   player,
		"timestamp": time.Now().Unix(),
		"ttl":       opponentTTLSeconds,
		"coin_id":   coinID,
	}

	_, err := c.do(ctx, http.MethodPost, "/api/v1/games/trading-fights/"+fightID+"/add-opponent/", payload, true)
	if err != nil {
		return fmt.Errorf("backend: add opponent to fight %s: %w", fightID, err)
	}

	c.logger.Info("opponent registration accepted", slog.String("fight_id", fightID), slog.Uint64("game_id", gameID))
	return nil
}

// StartFight tells the backend the on-chain join succeeded and the fight
// clock should start.
func (c *Client) StartFight(ctx context.Context, fightID string) error {
	if err := c.Authenticate(ctx); err != nil {
		return err
	}

	_, err := c.do(ctx, http.MethodPost, "/api/v1/games/trading-fights/"+fightID+"/start-fight/", nil, true)
	if err != nil {
		return fmt.Errorf("backend: start fight %s: %w", fightID, err)
	}

	c.logger.Info("fight started", slog.String("fight_id", fightID))
	return nil
}

// PoolPrice fetches the backend's view of a pool's price. Unauthenticated;
// used as an alternate price source when configured.
func (c *Client) PoolPrice(ctx context.Context, pool string) (float64, time.Time, error) {
	body, err := c.get(ctx, "/api/v1/pools/"+pool+"/price/", nil, false)
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("backend: pool price %s: %w", pool, err)
	}

	var priceResp struct {
		Price     json.Number `json:"price"`
		Timestamp int64       `json:"timestamp"`
	}
	if err := json.Unmarshal(body, &priceResp); err != nil {
		return 0, time.Time{}, fmt.Errorf("backend: decode pool price: %w", err)
	}

	price, err := priceResp.Price.Float64()
	if err != nil {
		return 0, time.Time{}, fmt.Errorf("backend: invalid price %q: %w", priceResp.Price, err)
	}

	ts := time.Now()
	if priceResp.Timestamp > 0 {
		ts = time.Unix(priceResp.Timestamp, 0)
	}
	return price, ts, nil
}
