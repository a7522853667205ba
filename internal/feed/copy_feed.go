// Package feed consumes the tracked-wallet WebSocket stream and turns raw
// trade events into copy signals for the copy-trade service.
package feed

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"strconv"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/gorilla/websocket"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

const (
	// writeWait is the time allowed to write a message to the peer.
	writeWait = 10 * time.Second

	// pongWait is the time allowed to read the next pong message from the peer.
	pongWait = 60 * time.Second

	// pingPeriod sends pings to the peer at this interval. Must be less than pongWait.
	pingPeriod = (pongWait * 9) / 10
)

// wireSignal is the JSON shape of one tracked-wallet trade event on the
// stream. The amount arrives as a string to avoid float precision loss in
// upstream serialisers.
type wireSignal struct {
	ID        string `json:"id"`
	Wallet    string `json:"wallet"`
	Mint      string `json:"mint"`
	Symbol    string `json:"symbol"`
	Side      string `json:"side"`
	AmountSOL string `json:"amount_sol"`
	Timestamp int64  `json:"ts"`
}

// CopyFeed connects to the tracked-wallet WebSocket stream and publishes
// each observed trade as a domain.CopySignal on its output channel. It
// reconnects with exponential backoff on disconnect.
type CopyFeed struct {
	url          string
	reconnectMin time.Duration
	reconnectMax time.Duration
	out          chan domain.CopySignal
	logger       *slog.Logger
	closeOnce    sync.Once
	done         chan struct{}
}

// NewCopyFeed creates a feed for the given stream URL. Signals are
// delivered on the channel returned by Signals.
func NewCopyFeed(url string, reconnectMin, reconnectMax time.Duration, logger *slog.Logger) *CopyFeed {
	return &CopyFeed{
		url:          url,
		reconnectMin: reconnectMin,
		reconnectMax: reconnectMax,
		out:          make(chan domain.CopySignal, 64),
		logger:       logger.With(slog.String("component", "copy_feed")),
		done:         make(chan struct{}),
	}
}

// Signals returns the channel on which observed trades are delivered.
func (f *CopyFeed) Signals() <-chan domain.CopySignal {
	return f.out
}

// Run connects and reads until ctx is cancelled or Close is called. Each
// disconnect doubles the reconnect delay up to the configured maximum; a
// successful connection resets it.
func (f *CopyFeed) Run(ctx context.Context) error {
	delay := f.reconnectMin
	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		default:
		}

		err := f.runConnection(ctx)
		if ctx.Err() != nil {
			return ctx.Err()
		}
		select {
		case <-f.done:
			return nil
		default:
		}

		f.logger.Warn("copy feed disconnected, reconnecting",
			slog.String("error", err.Error()),
			slog.Duration("delay", delay),
		)
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-f.done:
			return nil
		case <-time.After(delay):
		}
		delay *= 2
		if delay > f.reconnectMax {
			delay = f.reconnectMax
		}
	}
}

// Close stops the feed.
func (f *CopyFeed) Close() {
	f.closeOnce.Do(func() { close(f.done) })
}

// runConnection dials the stream and reads messages until the connection
// drops. Returns the read error that ended the connection.
func (f *CopyFeed) runConnection(ctx context.Context) error {
	dialer := websocket.Dialer{
		HandshakeTimeout: 15 * time.Second,
	}

	conn, _, err := dialer.DialContext(ctx, f.url, nil)
	if err != nil {
		return fmt.Errorf("feed: connect: %w", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(pongWait))
	conn.SetPongHandler(func(string) error {
		conn.SetReadDeadline(time.Now().Add(pongWait))
		return nil
	})

	// Close the socket when the context ends so the blocked read returns.
	stop := make(chan struct{})
	defer close(stop)
	go func() {
		ticker := time.NewTicker(pingPeriod)
		defer ticker.Stop()
		for {
			select {
			case <-ctx.Done():
				conn.Close()
				return
			case <-f.done:
				conn.Close()
				return
			case <-stop:
				return
			case <-ticker.C:
				conn.SetWriteDeadline(time.Now().Add(writeWait))
				if err := conn.WriteMessage(websocket.PingMessage, nil); err != nil {
					conn.Close()
					return
				}
			}
		}
	}()

	f.logger.Info("copy feed connected", slog.String("url", f.url))

	for {
		_, message, err := conn.ReadMessage()
		if err != nil {
			return fmt.Errorf("feed: read: %w", err)
		}
		f.handleMessage(ctx, message)
	}
}

// handleMessage decodes one stream message and forwards it as a signal.
// Malformed messages are logged and dropped so one bad event cannot wedge
// the stream.
func (f *CopyFeed) handleMessage(ctx context.Context, message []byte) {
	var ws wireSignal
	if err := json.Unmarshal(message, &ws); err != nil {
		f.logger.Warn("copy feed: malformed message",
			slog.String("error", err.Error()),
		)
		return
	}

	sig, err := ws.toSignal()
	if err != nil {
		f.logger.Warn("copy feed: invalid signal",
			slog.String("id", ws.ID),
			slog.String("error", err.Error()),
		)
		return
	}

	select {
	case f.out <- sig:
	case <-ctx.Done():
	case <-f.done:
	default:
		// Consumer is behind. Dropping beats blocking the read loop and
		// timing out the socket.
		f.logger.Warn("copy feed: signal dropped, consumer backlogged",
			slog.String("id", sig.ID),
		)
	}
}

func (ws wireSignal) toSignal() (domain.CopySignal, error) {
	if ws.Wallet == "" || ws.Mint == "" {
		return domain.CopySignal{}, fmt.Errorf("missing wallet or mint")
	}

	side := domain.SwapSide(ws.Side)
	if side != domain.SwapSideBuy && side != domain.SwapSideSell {
		return domain.CopySignal{}, fmt.Errorf("unknown side %q", ws.Side)
	}

	amount, err := strconv.ParseFloat(ws.AmountSOL, 64)
	if err != nil {
		return domain.CopySignal{}, fmt.Errorf("parse amount %q: %w", ws.AmountSOL, err)
	}

	id := ws.ID
	if id == "" {
		id = uuid.NewString()
	}

	observed := time.Now().UTC()
	if ws.Timestamp > 0 {
		observed = time.Unix(ws.Timestamp, 0).UTC()
	}

	return domain.CopySignal{
		ID:           id,
		SourceWallet: ws.Wallet,
		Asset:        ws.Mint,
		Symbol:       ws.Symbol,
		Side:         side,
		AmountSOL:    amount,
		ObservedAt:   observed,
	}, nil
}
