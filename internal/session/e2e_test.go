package session

import (
	"bytes"
	"context"
	"encoding/base64"
	"image"
	_ "image/png"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"peacasso-client/internal/cache"
	"peacasso-client/internal/engine"
	"peacasso-client/internal/models"
	"peacasso-client/internal/queue"
	"peacasso-client/internal/worker"
)

// startStack runs a real worker pool with two fake devices behind a handler
// talking to a feed server that sends msgs after login and reports every
// update it receives.
func startStack(t *testing.T, delay time.Duration, msgs ...[]byte) <-chan models.UpdateRequest {
	t.Helper()
	return runStack(t, []string{"0", "1"}, delay, 0, msgs)
}

// runStack is startStack with the devices and the pause between server
// messages under the caller's control.
func runStack(t *testing.T, devices []string, delay, gap time.Duration, msgs [][]byte) <-chan models.UpdateRequest {
	t.Helper()
	updates := make(chan models.UpdateRequest, 16)
	fs := newFeedServer(t, func(n int, c *websocket.Conn) {
		if !acceptLogin(t, c, 200) {
			return
		}
		for i, m := range msgs {
			if i > 0 && gap > 0 {
				time.Sleep(gap)
			}
			if err := c.WriteMessage(websocket.TextMessage, m); err != nil {
				return
			}
		}
		for {
			var req models.UpdateRequest
			if err := c.ReadJSON(&req); err != nil {
				return
			}
			updates <- req
		}
	})

	pool, err := worker.New(worker.Config{
		Devices:     devices,
		Factory:     engine.FakeFactory(delay),
		Cache:       cache.New(t.TempDir(), quietLogger()),
		Logger:      quietLogger(),
		StopTimeout: time.Second,
	})
	if err != nil {
		t.Fatal(err)
	}
	ctx, cancel := context.WithCancel(context.Background())
	pool.Start(ctx)

	h := New(testConfig(fs.URL(), &stateLog{}), queue.NewDedupQueue(), pool)
	done := make(chan error, 1)
	go func() { done <- h.Run(ctx) }()

	t.Cleanup(func() {
		cancel()
		pool.Stop()
		if err := <-done; err != nil {
			t.Errorf("Run: %v", err)
		}
	})
	return updates
}

func TestEndToEnd_CreateProducesOneUpdate(t *testing.T) {
	const id = "0b7e4c1e-2b1f-4d7a-9f75-9c1d3c5b7a11"
	updates := startStack(t, 0, mustJSON(t, jobEnvelope("create", id, "a red square", nil)))

	var req models.UpdateRequest
	select {
	case req = <-updates:
	case <-time.After(5 * time.Second):
		t.Fatal("no update received")
	}
	if req.Action != "update" || req.PK != id {
		t.Fatalf("update = action %q pk %q", req.Action, req.PK)
	}
	data, err := base64.StdEncoding.DecodeString(req.Data.Image)
	if err != nil {
		t.Fatalf("image is not base64: %v", err)
	}
	img, format, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		t.Fatalf("image does not decode: %v", err)
	}
	if format != "png" || img.Bounds().Dx() != 64 || img.Bounds().Dy() != 64 {
		t.Fatalf("got %s %v", format, img.Bounds())
	}

	select {
	case extra := <-updates:
		t.Fatalf("unexpected second update for %s", extra.PK)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestEndToEnd_DuplicateUpdatesProduceOneResult(t *testing.T) {
	const id = "5d8f27a4-6c3b-4e0e-8a52-1f9e0c7d2b33"
	updates := startStack(t, 100*time.Millisecond,
		mustJSON(t, jobEnvelope("update", id, "first draft", nil)),
		mustJSON(t, jobEnvelope("update", id, "second draft", nil)),
	)

	select {
	case req := <-updates:
		if req.PK != id {
			t.Fatalf("pk = %q", req.PK)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update received")
	}
	select {
	case extra := <-updates:
		t.Fatalf("second result produced for %s", extra.PK)
	case <-time.After(500 * time.Millisecond):
	}
}

func TestEndToEnd_SkipsAssignedJobs(t *testing.T) {
	updates := startStack(t, 0,
		mustJSON(t, jobEnvelope("create", "has-image", "done already", "https://cdn.example.org/a.png")),
		mustJSON(t, jobEnvelope("create", "needs-image", "todo", nil)),
	)

	select {
	case req := <-updates:
		if req.PK != "needs-image" {
			t.Fatalf("got update for %q", req.PK)
		}
	case <-time.After(5 * time.Second):
		t.Fatal("no update received")
	}
	select {
	case extra := <-updates:
		t.Fatalf("unexpected update for %s", extra.PK)
	case <-time.After(300 * time.Millisecond):
	}
}

func TestEndToEnd_ResubmissionBehindOtherJobsProducesOneResult(t *testing.T) {
	// One busy worker: A waits for it while B arrives and A is resubmitted.
	updates := runStack(t, []string{"0"}, 500*time.Millisecond, 60*time.Millisecond, [][]byte{
		mustJSON(t, jobEnvelope("create", "Z", "keeps the worker busy", nil)),
		mustJSON(t, jobEnvelope("create", "A", "first draft", nil)),
		mustJSON(t, jobEnvelope("create", "B", "another job", nil)),
		mustJSON(t, jobEnvelope("update", "A", "second draft", nil)),
	})

	perID := make(map[string]int)
	for len(perID) < 3 {
		select {
		case req := <-updates:
			perID[req.PK]++
		case <-time.After(5 * time.Second):
			t.Fatalf("results per id: %v, want Z, A and B", perID)
		}
	}
	select {
	case req := <-updates:
		perID[req.PK]++
	case <-time.After(800 * time.Millisecond):
	}
	for _, id := range []string{"Z", "A", "B"} {
		if perID[id] != 1 {
			t.Fatalf("results per id: %v, want exactly one each", perID)
		}
	}
}
