// Package decision implements the pluggable trading brains. The LLM engine
// asks an OpenAI-compatible chat endpoint for an action; the momentum engine
// is a deterministic fallback driven by short-window trend.
package decision

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/config"
	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

const systemPrompt = `You are an expert crypto trader playing a 60-second PvP trading fight. Your goal is to finish with a better profit-and-loss than your opponent. You may open a long position, open a short position, close your open position, or hold. Base your choice on momentum, the time remaining, and your unrealized profit. Respond only with a JSON object of the form {"action": "...", "reasoning": "..."} where action is one of open_long, open_short, close, hold.`

// LLMEngine asks a chat-completions endpoint to pick the next action.
type LLMEngine struct {
	apiURL     string
	apiKey     string
	model      string
	httpClient *http.Client
	logger     *slog.Logger
}

// NewLLMEngine builds an engine from config. The endpoint must speak the
// OpenAI chat completions protocol.
func NewLLMEngine(cfg config.DecisionConfig, logger *slog.Logger) *LLMEngine {
	return &LLMEngine{
		apiURL:     strings.TrimRight(cfg.APIURL, "/"),
		apiKey:     cfg.APIKey,
		model:      cfg.Model,
		httpClient: &http.Client{Timeout: cfg.Timeout.Duration},
		logger:     logger.With(slog.String("component", "decision_llm")),
	}
}

func (e *LLMEngine) Name() string { return "llm" }

type chatMessage struct {
	Role    string `json:"role"`
	Content string `json:"content"`
}

type chatRequest struct {
	Model       string        `json:"model"`
	Messages    []chatMessage `json:"messages"`
	Temperature float64       `json:"temperature"`
}

type chatResponse struct {
	Choices []struct {
		Message chatMessage `json:"message"`
	} `json:"choices"`
	Error *struct {
		Message string `json:"message"`
	} `json:"error"`
}

// Decide sends the current market and game state to the model and parses the
// returned action. Any transport or parse failure is an error; the caller
// decides whether that means hold.
func (e *LLMEngine) Decide(ctx context.Context, market domain.MarketSnapshot, game domain.GameSnapshot) (domain.Decision, error) {
	req := chatRequest{
		Model: e.model,
		Messages: []chatMessage{
			{Role: "system", Content: systemPrompt},
			{Role: "user", Content: buildPrompt(market, game)},
		},
		Temperature: 0.2,
	}

	body, err := json.Marshal(req)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision: marshal request: %w", err)
	}

	httpReq, err := http.NewRequestWithContext(ctx, http.MethodPost, e.apiURL+"/chat/completions", bytes.NewReader(body))
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision: create request: %w", err)
	}
	httpReq.Header.Set("Content-Type", "application/json")
	httpReq.Header.Set("Authorization", "Bearer "+e.apiKey)

	resp, err := e.httpClient.Do(httpReq)
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision: chat request: %w", err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return domain.Decision{}, fmt.Errorf("decision: read response: %w", err)
	}
	if resp.StatusCode == http.StatusTooManyRequests {
		return domain.Decision{}, fmt.Errorf("decision: chat endpoint: %w", domain.ErrRateLimited)
	}
	if resp.StatusCode != http.StatusOK {
		return domain.Decision{}, fmt.Errorf("decision: chat endpoint returned %d: %s", resp.StatusCode, truncate(string(raw), 200))
	}

	var parsed chatResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return domain.Decision{}, fmt.Errorf("decision: decode response: %w", err)
	}
	if parsed.Error != nil {
		return domain.Decision{}, fmt.Errorf("decision: chat endpoint error: %s", parsed.Error.Message)
	}
	if len(parsed.Choices) == 0 {
		return domain.Decision{}, fmt.Errorf("decision: chat response has no choices")
	}

	dec := parseDecision(parsed.Choices[0].Message.Content)
	e.logger.Debug("llm decision",
		slog.String("action", string(dec.Action)),
		slog.String("rationale", truncate(dec.Rationale, 120)))
	return dec, nil
}

func buildPrompt(market domain.MarketSnapshot, game domain.GameSnapshot) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Market:\n- current price: %.8f\n- trend vs short average: %+.4f%%\n- variance: %.8g\n- samples in window: %d\n",
		market.Latest.Price, market.Trend*100, market.Variance, market.Samples)
	fmt.Fprintf(&b, "\nGame:\n- seconds remaining: %d\n", int(game.Remaining.Seconds()))
	if game.OpenPosition != nil {
		fmt.Fprintf(&b, "- open position: %s\n- entry price: %.8f\n- unrealized pnl: %+.4f%%\n",
			game.OpenPosition.Direction, game.EntryPrice, game.UnrealizedPnL*100)
	} else {
		b.WriteString("- open position: none\n")
	}
	b.WriteString("\nWhat is your next action?")
	return b.String()
}

// parseDecision extracts the action from the model output. It accepts a bare
// JSON object, a JSON object embedded in surrounding prose, or falls back to
// scanning the text for action keywords.
func parseDecision(content string) domain.Decision {
	var payload struct {
		Action    string `json:"action"`
		Reasoning string `json:"reasoning"`
	}

	candidate := content
	if start := strings.Index(content, "{"); start >= 0 {
		if end := strings.LastIndex(content, "}"); end > start {
			candidate = content[start : end+1]
		}
	}
	if err := json.Unmarshal([]byte(candidate), &payload); err == nil && payload.Action != "" {
		if action, ok := normalizeAction(payload.Action); ok {
			return domain.Decision{Action: action, Rationale: payload.Reasoning}
		}
	}

	lower := strings.ToLower(content)
	switch {
	case strings.Contains(lower, "open_long") || strings.Contains(lower, "open long"):
		return domain.Decision{Action: domain.ActionOpenLong, Rationale: "parsed from text"}
	case strings.Contains(lower, "open_short") || strings.Contains(lower, "open short"):
		return domain.Decision{Action: domain.ActionOpenShort, Rationale: "parsed from text"}
	case strings.Contains(lower, "close"):
		return domain.Decision{Action: domain.ActionClose, Rationale: "parsed from text"}
	default:
		return domain.Decision{Action: domain.ActionHold, Rationale: "unparseable response"}
	}
}

func normalizeAction(s string) (domain.DecisionAction, bool) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "open_long":
		return domain.ActionOpenLong, true
	case "open_short":
		return domain.ActionOpenShort, true
	case "close", "close_position":
		return domain.ActionClose, true
	case "hold", "wait":
		return domain.ActionHold, true
	default:
		return "", false
	}
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}
