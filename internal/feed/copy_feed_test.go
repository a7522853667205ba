package feed

import (
	"context"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/Iaminblockchain/MoonBot-sub000/internal/domain"
)

func testLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

func TestWireSignal_ToSignal(t *testing.T) {
	base := wireSignal{
		ID:        "sig-1",
		Wallet:    "TrackedWallet1111",
		Mint:      "MintAAAA",
		Symbol:    "AAA",
		Side:      "buy",
		AmountSOL: "1.25",
		Timestamp: 1_700_000_000,
	}

	sig, err := base.toSignal()
	if err != nil {
		t.Fatalf("toSignal: %v", err)
	}
	if sig.ID != "sig-1" || sig.SourceWallet != "TrackedWallet1111" || sig.Asset != "MintAAAA" {
		t.Fatalf("signal = %+v", sig)
	}
	if sig.Side != domain.SwapSideBuy || sig.AmountSOL != 1.25 {
		t.Fatalf("signal = %+v", sig)
	}
	if sig.ObservedAt.Unix() != 1_700_000_000 {
		t.Fatalf("observed = %v, want the wire timestamp", sig.ObservedAt)
	}
}

func TestWireSignal_Invalid(t *testing.T) {
	tests := []struct {
		name   string
		mutate func(*wireSignal)
	}{
		{"missing wallet", func(ws *wireSignal) { ws.Wallet = "" }},
		{"missing mint", func(ws *wireSignal) { ws.Mint = "" }},
		{"unknown side", func(ws *wireSignal) { ws.Side = "swap" }},
		{"empty side", func(ws *wireSignal) { ws.Side = "" }},
		{"bad amount", func(ws *wireSignal) { ws.AmountSOL = "a lot" }},
		{"empty amount", func(ws *wireSignal) { ws.AmountSOL = "" }},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ws := wireSignal{
				ID:        "sig-1",
				Wallet:    "W",
				Mint:      "M",
				Side:      "sell",
				AmountSOL: "2",
			}
			tt.mutate(&ws)
			if _, err := ws.toSignal(); err == nil {
				t.Fatal("expected an error")
			}
		})
	}
}

func TestWireSignal_GeneratesIDAndTimestampWhenMissing(t *testing.T) {
	ws := wireSignal{Wallet: "W", Mint: "M", Side: "buy", AmountSOL: "0.5"}

	before := time.Now().UTC().Add(-time.Second)
	sig, err := ws.toSignal()
	if err != nil {
		t.Fatalf("toSignal: %v", err)
	}
	if sig.ID == "" {
		t.Fatal("missing wire id should be replaced with a generated one")
	}
	if sig.ObservedAt.Before(before) {
		t.Fatalf("observed = %v, want roughly now", sig.ObservedAt)
	}
}

func TestHandleMessage_DeliversSignal(t *testing.T) {
	f := NewCopyFeed("ws://unused", time.Second, time.Minute, testLogger())

	f.handleMessage(context.Background(), []byte(`{"id":"sig-1","wallet":"W","mint":"M","symbol":"S","side":"buy","amount_sol":"0.1","ts":1700000000}`))

	select {
	case sig := <-f.Signals():
		if sig.ID != "sig-1" || sig.Side != domain.SwapSideBuy {
			t.Fatalf("signal = %+v", sig)
		}
	default:
		t.Fatal("no signal delivered")
	}
}

func TestHandleMessage_DropsMalformedAndInvalid(t *testing.T) {
	f := NewCopyFeed("ws://unused", time.Second, time.Minute, testLogger())

	f.handleMessage(context.Background(), []byte(`{not json`))
	f.handleMessage(context.Background(), []byte(`{"wallet":"","mint":"M","side":"buy","amount_sol":"1"}`))

	select {
	case sig := <-f.Signals():
		t.Fatalf("unexpected signal %+v", sig)
	default:
	}
}

func TestHandleMessage_DropsWhenConsumerBacklogged(t *testing.T) {
	f := NewCopyFeed("ws://unused", time.Second, time.Minute, testLogger())

	msg := []byte(`{"id":"x","wallet":"W","mint":"M","side":"buy","amount_sol":"1"}`)
	for i := 0; i < cap(f.out)+10; i++ {
		f.handleMessage(context.Background(), msg)
	}

	if n := len(f.out); n != cap(f.out) {
		t.Fatalf("buffered %d signals, want the full buffer of %d with the rest dropped", n, cap(f.out))
	}
}

func TestRun_ReadsFromStream(t *testing.T) {
	upgrader := websocket.Upgrader{}
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		msg := `{"id":"sig-live","wallet":"W","mint":"M","side":"buy","amount_sol":"0.3"}`
		if err := conn.WriteMessage(websocket.TextMessage, []byte(msg)); err != nil {
			return
		}
		// Hold the connection open until the client goes away.
		for {
			if _, _, err := conn.ReadMessage(); err != nil {
				return
			}
		}
	}))
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http")
	f := NewCopyFeed(url, 10*time.Millisecond, time.Second, testLogger())

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	runDone := make(chan error, 1)
	go func() { runDone <- f.Run(ctx) }()

	select {
	case sig := <-f.Signals():
		if sig.ID != "sig-live" {
			t.Fatalf("signal = %+v", sig)
		}
	case <-time.After(3 * time.Second):
		t.Fatal("no signal received from the stream")
	}

	f.Close()
	select {
	case <-runDone:
	case <-time.After(3 * time.Second):
		t.Fatal("Run did not stop after Close")
	}
}
