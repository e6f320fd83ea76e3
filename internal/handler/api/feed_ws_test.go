package api

import (
	"context"
	"encoding/json"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/labstack/echo/v4"

	"OptionPull/internal/domain/models"
	"OptionPull/internal/usecase"
)

func waitUntil(t *testing.T, cond func() bool, msg string) {
	t.Helper()
	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		if cond() {
			return
		}
		time.Sleep(5 * time.Millisecond)
	}
	t.Fatalf("timed out: %s", msg)
}

func TestChainFeedBroadcastsCycles(t *testing.T) {
	feed := NewChainFeed("NIFTY", 4, nil)
	e := echo.New()
	feed.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chain"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitUntil(t, func() bool { return feed.Clients() == 1 }, "subscriber registered")

	feed.OnCycle(context.Background(), []*models.Observation{
		observation(24000, models.Call, apiObserved, 20000),
		observation(24000, models.Put, apiObserved, 500),
	})

	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, msg, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("read: %v", err)
	}
	var chain usecase.LatestChain
	if err := json.Unmarshal(msg, &chain); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if chain.Symbol != "NIFTY" || len(chain.Rows) != 2 || !chain.ObservedAt.Equal(apiObserved) {
		t.Fatalf("unexpected cycle %+v", chain)
	}

	_ = conn.Close()
	waitUntil(t, func() bool { return feed.Clients() == 0 }, "subscriber removed")
}

func TestChainFeedCloseDisconnects(t *testing.T) {
	feed := NewChainFeed("NIFTY", 4, nil)
	e := echo.New()
	feed.RegisterRoutes(e)
	srv := httptest.NewServer(e)
	defer srv.Close()

	url := "ws" + strings.TrimPrefix(srv.URL, "http") + "/ws/chain"
	conn, _, err := websocket.DefaultDialer.Dial(url, nil)
	if err != nil {
		t.Fatalf("dial: %v", err)
	}
	defer conn.Close()
	waitUntil(t, func() bool { return feed.Clients() == 1 }, "subscriber registered")

	_ = feed.Close()
	_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	if _, _, err := conn.ReadMessage(); !websocket.IsCloseError(err, websocket.CloseGoingAway) {
		t.Fatalf("expected a going-away close, got %v", err)
	}
	if feed.Clients() != 0 {
		t.Fatalf("closed feed still tracks subscribers")
	}
}
