package backend

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/MortalCoin/mortalcoin-alith-bot/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10

	// reconnectDelay is the base delay before attempting to reconnect.
	reconnectDelay = 2 * time.Second

	// maxReconnectDelay caps the exponential backoff for reconnection.
	maxReconnectDelay = 60 * time.Second
)

// TokenSource supplies a fresh JWT for the websocket auth handshake. The
// REST Client satisfies it.
type TokenSource interface {
	AccessToken(ctx context.Context) (string, error)
}

// WSClient receives push notifications from the backend: signature grants
// becoming ready and fights the bot was joined into. The first message after
// connect carries the JWT; the server sends no acknowledgement.
type WSClient struct {
	wsURL  string
	tokens TokenSource
	logger *slog.Logger

	mu     sync.RWMutex
	conn   *websocket.Conn
	closed bool

	events    chan domain.BackendEvent
	closeEvts sync.Once
	done      chan struct{}
}

// NewWSClient creates a notification client for the given websocket URL.
func NewWSClient(wsURL string, tokens TokenSource, logger *slog.Logger) *WSClient {
	return &WSClient{
		wsURL:  wsURL,
		tokens: tokens,
		logger: logger.With(slog.String("component", "backend_ws")),
		events: make(chan domain.BackendEvent, 16),
		done:   make(chan struct{}),
	}
}

// Events returns the channel notifications are delivered on.
func (w *WSClient) Events() <-chan domain.BackendEvent {
	return w.events
}

// Connect establishes the connection and performs the token handshake.
func (w *WSClient) Connect(ctx context.Context) error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return fmt.Errorf("backend/ws: %w", domain.ErrWSDisconnect)
	}

	token, err := w.tokens.AccessToken(ctx)
	if err != nil {
		return fmt.Errorf("backend/ws: fetch token: %w", err)
	}

	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, w.wsURL, nil)
	if err != nil {
		return fmt.Errorf("backend/ws: connect: %w", err)
	}

	// Auth is the first frame on the wire.
	conn.SetWriteDeadline(time.Now().Add(writeWait))
	if err := conn.WriteJSON(map[string]string{"token": token}); err != nil {
		conn.Close()
		return fmt.Errorf("backend/ws: auth handshake: %w", err)
	}

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	w.conn = conn

	go w.readLoop(conn)
	go w.pingLoop(conn)

	w.logger.Info("connected", slog.String("url", w.wsURL))
	return nil
}

// Close shuts down the connection and stops the read loop. The events
// channel is closed once the read loop exits.
func (w *WSClient) Close() error {
	w.mu.Lock()
	defer w.mu.Unlock()

	if w.closed {
		return nil
	}
	w.closed = true
	close(w.done)

	if w.conn != nil {
		_ = w.conn.WriteMessage(
			websocket.CloseMessage,
			websocket.FormatCloseMessage(websocket.CloseNormalClosure, ""),
		)
		return w.conn.Close()
	}
	// No read loop ever started, so nothing else will close the stream.
	w.closeEvents()
	return nil
}

// closeEvents closes the delivery channel exactly once. Only the goroutine
// that owns the read loop may call it while a connection exists.
func (w *WSClient) closeEvents() {
	w.closeEvts.Do(func() { close(w.events) })
}

// readLoop reads messages until the connection drops, then reconnects with
// exponential backoff.
func (w *WSClient) readLoop(conn *websocket.Conn) {
	defer conn.Close()

	for {
		select {
		case <-w.done:
			w.closeEvents()
			return
		default:
		}

		_, message, err := conn.ReadMessage()
		if err != nil {
			select {
			case <-w.done:
				w.closeEvents()
				return
			default:
			}
			w.logger.Warn("connection lost, reconnecting", slog.String("err", err.Error()))
			w.reconnect()
			return
		}

		w.handleMessage(message)
	}
}

// pingLoop sends periodic ping messages to keep the connection alive.
func (w *WSClient) pingLoop(conn *websocket.Conn) {
	ticker := time.NewTicker(pingPeriod)
	defer ticker.Stop()

	for {
		select {
		case <-w.done:
			return
		case <-ticker.C:
			conn.SetWriteDeadline(time.Now().Add(writeWait))
			if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
				return
			}
		}
	}
}

// handleMessage classifies a raw notification and forwards it. Signature
// messages sometimes arrive without a type field and are recognized by
// shape.
func (w *WSClient) handleMessage(raw []byte) {
	var envelope struct {
		Type            string          `json:"type"`
		TradingFightID  string          `json:"trading_fight_id"`
		GameID          json.Number     `json:"game_id"`
		Signature       string          `json:"signature"`
		OriginalRequest json.RawMessage `json:"original_request"`
	}
	if err := json.Unmarshal(raw, &envelope); err != nil {
		return // drop unparseable messages
	}

	msgType := envelope.Type
	if msgType == "" && envelope.Signature != "" && len(envelope.OriginalRequest) > 0 {
		msgType = string(domain.BackendEventSignatureReady)
	}

	var kind domain.BackendEventKind
	switch msgType {
	case string(domain.BackendEventSignatureReady):
		kind = domain.BackendEventSignatureReady
	case string(domain.BackendEventGameJoined):
		kind = domain.BackendEventGameJoined
	default:
		w.logger.Debug("unhandled notification", slog.String("type", msgType))
		return
	}

	gameID, _ := strconv.ParseUint(envelope.GameID.String(), 10, 64)
	ev := domain.BackendEvent{
		Kind:    kind,
		FightID: envelope.TradingFightID,
		GameID:  gameID,
		Raw:     raw,
	}

	select {
	case w.events <- ev:
	case <-w.done:
	}
}

// reconnect re-establishes the connection with exponential backoff. It
// blocks until successful or the client is closed.
func (w *WSClient) reconnect() {
	delay := reconnectDelay

	for {
		select {
		case <-w.done:
			w.closeEvents()
			return
		default:
		}

		time.Sleep(delay)

		ctx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
		err := w.Connect(ctx)
		cancel()

		if err == nil {
			return
		}
		w.logger.Warn("reconnect failed", slog.String("err", err.Error()))

		delay *= 2
		if delay > maxReconnectDelay {
			delay = maxReconnectDelay
		}
	}
}
