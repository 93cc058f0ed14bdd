package session

import (
	"encoding/json"
	"io"
	"log/slog"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"peacasso-client/internal/models"
	"peacasso-client/internal/queue"
)

const testToken = "secret-token"

func quietLogger() *slog.Logger {
	return slog.New(slog.NewTextHandler(io.Discard, nil))
}

// feedServer is a fake job-feed server. handle runs once per accepted
// connection with its 1-based connection number.
type feedServer struct {
	srv   *httptest.Server
	conns atomic.Int32
}

func newFeedServer(t *testing.T, handle func(n int, c *websocket.Conn)) *feedServer {
	t.Helper()
	fs := &feedServer{}
	upgrader := websocket.Upgrader{CheckOrigin: func(r *http.Request) bool { return true }}
	fs.srv = httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		conn, err := upgrader.Upgrade(w, r, nil)
		if err != nil {
			return
		}
		defer conn.Close()
		handle(int(fs.conns.Add(1)), conn)
	}))
	t.Cleanup(fs.srv.Close)
	return fs
}

func (fs *feedServer) URL() string {
	return "ws" + strings.TrimPrefix(fs.srv.URL, "http") + "/ws/generate/"
}

// acceptLogin reads the login request and answers with status
func acceptLogin(t *testing.T, c *websocket.Conn, status int) bool {
	t.Helper()
	var req models.LoginRequest
	if err := c.ReadJSON(&req); err != nil {
		return false
	}
	if req.Action != "login" || req.RequestID == "" {
		t.Errorf("unexpected login request %+v", req)
	}
	msg := "Login OK"
	if req.Token != testToken {
		status, msg = 403, "Invalid token"
	} else if status != 200 {
		msg = "Forbidden"
	}
	reply := map[string]any{
		"errors":          []string{},
		"data":            map[string]string{"message": msg},
		"action":          "login",
		"response_status": status,
		"request_id":      req.RequestID,
	}
	return c.WriteJSON(reply) == nil
}

func jobEnvelope(action, id, prompt string, imageURL any) map[string]any {
	return map[string]any{
		"errors":          []string{},
		"action":          action,
		"response_status": 200,
		"request_id":      nil,
		"data": map[string]any{
			"id":          id,
			"prompt_uuid": "7c1d2c06-4f0e-4b5e-9d0c-2f0c56f6a001",
			"prompt_config": map[string]any{
				"prompt":       prompt,
				"width":        64,
				"height":       64,
				"image_width":  64,
				"image_height": 64,
			},
			"created_at": "2024-05-01T12:00:00Z",
			"website":    "example.org",
			"image_url":  imageURL,
		},
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatal(err)
	}
	return b
}

// stubPool exposes bare queues with no workers behind them.
type stubPool struct {
	in  *queue.Queue[*models.Job]
	out *queue.Queue[*models.Result]
}

func newStubPool() *stubPool {
	return &stubPool{in: queue.New[*models.Job](), out: queue.New[*models.Result]()}
}

func (p *stubPool) Input() *queue.Queue[*models.Job]     { return p.in }
func (p *stubPool) Output() *queue.Queue[*models.Result] { return p.out }

// stateLog records state transitions.
type stateLog struct {
	mu     sync.Mutex
	states []State
}

func (l *stateLog) record(s State) {
	l.mu.Lock()
	defer l.mu.Unlock()
	l.states = append(l.states, s)
}

func (l *stateLog) count(s State) int {
	l.mu.Lock()
	defer l.mu.Unlock()
	n := 0
	for _, st := range l.states {
		if st == s {
			n++
		}
	}
	return n
}

func testConfig(url string, log *stateLog) Config {
	return Config{
		URL:            url,
		Token:          testToken,
		MaxReconnect:   3,
		PollTimeout:    10 * time.Millisecond,
		ReconnectDelay: time.Millisecond,
		MaxDelay:       5 * time.Millisecond,
		StableAfter:    time.Hour,
		OnState:        log.record,
		Logger:         quietLogger(),
	}
}

func waitFor(t *testing.T, timeout time.Duration, cond func() bool) {
	t.Helper()
	deadline := time.Now().Add(timeout)
	for !cond() {
		if time.Now().After(deadline) {
			t.Fatal("condition not met before timeout")
		}
		time.Sleep(5 * time.Millisecond)
	}
}
