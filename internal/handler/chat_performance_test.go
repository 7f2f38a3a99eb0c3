package handler_test

import (
	"math"
	"net/http"
	"sort"
	"strconv"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/noah-isme/goalchat/internal/dto"
)

func TestChatWebsocketJoinP95Under250ms(t *testing.T) {
	if testing.Short() {
		t.Skip("performance test skipped in short mode")
	}

	env := newChatTestEnv(t)
	base := startFiberServer(t, env.app)

	clients := 200
	durations := make([]time.Duration, 0, clients)
	dialer := websocket.Dialer{HandshakeTimeout: 3 * time.Second}

	for i := 0; i < clients; i++ {
		url := base + "/api/v1/chat/ws?token=" + tokenFor(t, "perf-"+strconv.Itoa(i))

		start := time.Now()
		conn, resp, err := dialer.Dial(url, http.Header{"X-Correlation-ID": {"perf-" + strconv.Itoa(i)}})
		if err != nil {
			t.Fatalf("websocket dial failed: %v", err)
		}
		if resp != nil {
			_ = resp.Body.Close()
		}

		if err := conn.WriteJSON(dto.ChatInboundEvent{Type: dto.ChatEventJoin, RoomID: "anon:perf"}); err != nil {
			t.Fatalf("join write failed: %v", err)
		}
		_ = conn.SetReadDeadline(time.Now().Add(2 * time.Second))
		var event dto.ChatOutboundEvent
		if err := conn.ReadJSON(&event); err != nil {
			t.Fatalf("join read failed: %v", err)
		}
		if event.Type != dto.ChatEventJoined {
			t.Fatalf("expected joined event, got %q", event.Type)
		}
		_ = conn.Close()

		durations = append(durations, time.Since(start))
	}

	sort.Slice(durations, func(i, j int) bool { return durations[i] < durations[j] })
	p95 := percentile(durations, 0.95)

	if p95 > 250*time.Millisecond {
		t.Fatalf("expected websocket join P95 <= 250ms, got %s", p95)
	}
}

func percentile(values []time.Duration, pct float64) time.Duration {
	if len(values) == 0 {
		return 0
	}
	index := int(math.Ceil(pct*float64(len(values)))) - 1
	if index < 0 {
		index = 0
	}
	if index >= len(values) {
		index = len(values) - 1
	}
	return values[index]
}
