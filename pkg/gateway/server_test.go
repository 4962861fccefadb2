package gateway

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/approvals"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/engine"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/hub"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/store"
	"github.com/nipunasudha/monopoly-polymarket-agent/pkg/tools"
	"github.com/rs/zerolog"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

type nullEngine struct{}

func (nullEngine) Provider() string { return "null" }

func (nullEngine) Invoke(ctx context.Context, req engine.Request) (*engine.Response, error) {
	return &engine.Response{Content: "ok"}, nil
}

func newTestServer(t *testing.T) (*Server, *hub.Hub, *approvals.Manager) {
	t.Helper()

	h := hub.New(nullEngine{}, tools.NewRegistry(), hub.Options{})
	m := approvals.New(approvals.Options{GraceDelay: 50 * time.Millisecond})

	st, err := store.Open(filepath.Join(t.TempDir(), "gw.db"))
	require.NoError(t, err)
	t.Cleanup(func() { st.Close() })

	s, err := NewServer(Config{
		Host:      "127.0.0.1",
		Port:      18787,
		Hub:       h,
		Approvals: m,
		Store:     st,
		Logger:    zerolog.Nop(),
	})
	require.NoError(t, err)
	return s, h, m
}

func getJSON(t *testing.T, ts *httptest.Server, path string) map[string]interface{} {
	t.Helper()
	resp, err := http.Get(ts.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)

	var body map[string]interface{}
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&body))
	return body
}

func TestNewServerValidation(t *testing.T) {
	_, err := NewServer(Config{Port: 0})
	assert.Error(t, err)

	_, err = NewServer(Config{Port: 8787})
	assert.ErrorContains(t, err, "hub is required")
}

func TestStatusEndpoints(t *testing.T) {
	s, h, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	t.Run("healthz", func(t *testing.T) {
		body := getJSON(t, ts, "/healthz")
		assert.Equal(t, "ok", body["status"])
	})

	t.Run("status reflects hub state", func(t *testing.T) {
		h.Enqueue(&hub.Task{ID: "t1", Lane: hub.LaneResearch})

		body := getJSON(t, ts, "/api/status")
		hubStatus := body["hub"].(map[string]interface{})
		lanes := hubStatus["lane_status"].(map[string]interface{})
		research := lanes["research"].(map[string]interface{})
		assert.Equal(t, float64(1), research["queued"])
		assert.Equal(t, float64(3), research["limit"])

		approvalStats := body["approvals"].(map[string]interface{})
		assert.Equal(t, float64(0), approvalStats["total_requests"])
	})
}

func TestApprovalEndpoints(t *testing.T) {
	s, _, m := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	done := make(chan bool, 1)
	go func() {
		done <- m.RequestApproval(context.Background(), "trade-1",
			map[string]interface{}{"size": 0.25}, 5*time.Second)
	}()

	require.Eventually(t, func() bool {
		return len(m.GetPending()) == 1
	}, time.Second, 10*time.Millisecond)

	t.Run("pending listed", func(t *testing.T) {
		body := getJSON(t, ts, "/api/approvals")
		pending := body["pending"].(map[string]interface{})
		require.Contains(t, pending, "trade-1")
	})

	t.Run("approve via POST", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/approvals/trade-1/approve", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusOK, resp.StatusCode)

		select {
		case approved := <-done:
			assert.True(t, approved)
		case <-time.After(time.Second):
			t.Fatal("approval waiter not woken")
		}
	})

	t.Run("unknown trade returns 404", func(t *testing.T) {
		resp, err := http.Post(ts.URL+"/api/approvals/ghost/reject", "application/json", nil)
		require.NoError(t, err)
		defer resp.Body.Close()
		assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	})
}

func TestStoreEndpoints(t *testing.T) {
	s, _, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	ctx := context.Background()
	_, err := s.store.SaveForecast(ctx, &store.Forecast{
		MarketID: "m1", MarketQuestion: "q", Outcome: "YES",
		Probability: 0.6, Confidence: 0.7,
	})
	require.NoError(t, err)
	_, err = s.store.SaveTrade(ctx, &store.Trade{
		MarketID: "m1", MarketQuestion: "q", Outcome: "YES",
		Side: "BUY", Size: 0.1, ForecastProbability: 0.6,
	})
	require.NoError(t, err)

	t.Run("forecasts", func(t *testing.T) {
		body := getJSON(t, ts, "/api/forecasts?limit=5")
		forecasts := body["forecasts"].([]interface{})
		assert.Len(t, forecasts, 1)
	})

	t.Run("trades", func(t *testing.T) {
		body := getJSON(t, ts, "/api/trades")
		trades := body["trades"].([]interface{})
		assert.Len(t, trades, 1)
	})

	t.Run("portfolio empty", func(t *testing.T) {
		body := getJSON(t, ts, "/api/portfolio")
		assert.Nil(t, body["portfolio"])
	})
}

func TestWebSocketBroadcast(t *testing.T) {
	s, h, _ := newTestServer(t)
	ts := httptest.NewServer(s.Handler())
	defer ts.Close()

	wsURL := "ws" + strings.TrimPrefix(ts.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	require.NoError(t, err)
	defer conn.Close()

	require.Eventually(t, func() bool {
		return s.clients.Count() == 1
	}, time.Second, 10*time.Millisecond)

	readEvent := func() EventMessage {
		t.Helper()
		conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var msg EventMessage
		require.NoError(t, conn.ReadJSON(&msg))
		return msg
	}

	t.Run("task enqueued event", func(t *testing.T) {
		h.Enqueue(&hub.Task{ID: "ws-task", Lane: hub.LaneMain})

		msg := readEvent()
		assert.Equal(t, "task_enqueued", msg.Event)
		data := msg.Data.(map[string]interface{})
		assert.Equal(t, "ws-task", data["task_id"])
		assert.Equal(t, "main", data["lane"])
	})

	t.Run("approval request event via notifier", func(t *testing.T) {
		notifier := s.Notifier()
		require.NoError(t, notifier.Notify("trade-ws", map[string]interface{}{"size": 0.3}))

		msg := readEvent()
		assert.Equal(t, "approval_request", msg.Event)
		data := msg.Data.(map[string]interface{})
		assert.Equal(t, "trade-ws", data["trade_id"])
	})
}
