// Package session owns the upstream connection to the job-feed server: it
// logs in, dispatches inbound envelopes, feeds the worker pool and streams
// results back, reconnecting within a fixed budget.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"sync/atomic"
	"time"

	"github.com/google/uuid"

	"peacasso-client/internal/backoff"
	"peacasso-client/internal/metrics"
	"peacasso-client/internal/models"
	"peacasso-client/internal/queue"
	"peacasso-client/internal/websocket"
)

var (
	// ErrNoToken is returned by Run when no credential is configured
	ErrNoToken = errors.New("empty token")
	// ErrAuth is returned when the server rejects the login
	ErrAuth = errors.New("login rejected")
	// ErrHandshake is returned when the server refuses the websocket upgrade
	ErrHandshake = errors.New("handshake failed")
	// ErrGaveUp is returned once the reconnect budget is exhausted
	ErrGaveUp = errors.New("reconnect budget exhausted")
)

// State of the session
type State int32

const (
	StateDisconnected State = iota
	StateConnecting
	StateLoggingIn
	StateActive
	StateGivingUp
)

func (s State) String() string {
	switch s {
	case StateDisconnected:
		return "disconnected"
	case StateConnecting:
		return "connecting"
	case StateLoggingIn:
		return "logging_in"
	case StateActive:
		return "active"
	case StateGivingUp:
		return "giving_up"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Transport is one open connection to the server
type Transport interface {
	ReadMessage() ([]byte, error)
	WriteJSON(v any) error
	Close() error
}

// Dialer opens a Transport
type Dialer func(ctx context.Context, url string) (Transport, error)

// Pool is the worker side of the session: the queue jobs are forwarded
// into and the queue results are collected from.
type Pool interface {
	Input() *queue.Queue[*models.Job]
	Output() *queue.Queue[*models.Result]
}

// Config configures a Handler
type Config struct {
	URL            string
	Token          string
	MaxReconnect   int
	PollTimeout    time.Duration
	ReconnectDelay time.Duration // first reconnect delay, doubled per attempt
	MaxDelay       time.Duration
	StableAfter    time.Duration // an Active session this long refills the budget; default 1m
	Dial           Dialer        // defaults to websocket.Dial
	OnState        func(State)   // optional, called on every transition
	Logger         *slog.Logger
}

// Handler runs the session state machine
type Handler struct {
	cfg        Config
	queue      *queue.DedupQueue
	pool       Pool
	budget     *backoff.Budget
	logger     *slog.Logger
	state      atomic.Int32
	reconnects atomic.Int64
	requestID  func() string
}

// New creates a handler feeding pool through q
func New(cfg Config, q *queue.DedupQueue, pool Pool) *Handler {
	if cfg.PollTimeout <= 0 {
		cfg.PollTimeout = 50 * time.Millisecond
	}
	if cfg.StableAfter <= 0 {
		cfg.StableAfter = time.Minute
	}
	if cfg.Logger == nil {
		cfg.Logger = slog.Default()
	}
	logger := cfg.Logger.With("component", "session")
	if cfg.Dial == nil {
		cfg.Dial = func(ctx context.Context, url string) (Transport, error) {
			return websocket.Dial(ctx, url, logger)
		}
	}
	return &Handler{
		cfg:       cfg,
		queue:     q,
		pool:      pool,
		budget:    backoff.New(cfg.MaxReconnect, cfg.ReconnectDelay, cfg.MaxDelay),
		logger:    logger,
		requestID: newRequestID,
	}
}

func newRequestID() string {
	return uuid.Must(uuid.NewV7()).String()
}

// State returns the current state
func (h *Handler) State() State {
	return State(h.state.Load())
}

// Reconnections returns how many reconnects the handler has made in total
func (h *Handler) Reconnections() int {
	return int(h.reconnects.Load())
}

func (h *Handler) setState(s State) {
	h.state.Store(int32(s))
	if s == StateActive {
		metrics.SessionActive.Set(1)
	} else {
		metrics.SessionActive.Set(0)
	}
	if h.cfg.OnState != nil {
		h.cfg.OnState(s)
	}
}

// Run connects and serves until ctx is cancelled (returning nil) or a
// terminal error occurs: ErrNoToken, ErrHandshake, ErrAuth or ErrGaveUp.
// After ErrGaveUp the state stays StateGivingUp.
func (h *Handler) Run(ctx context.Context) error {
	if h.cfg.Token == "" {
		return ErrNoToken
	}

	for {
		err := h.session(ctx)
		if ctx.Err() != nil {
			return nil
		}
		if errors.Is(err, ErrHandshake) || errors.Is(err, ErrAuth) {
			return err
		}
		h.logger.Warn("connection lost", "error", err)

		if err := h.reconnect(ctx); err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
	}
}

// session runs one connection through Connecting, LoggingIn and Active
func (h *Handler) session(ctx context.Context) error {
	h.setState(StateConnecting)
	conn, err := h.cfg.Dial(ctx, h.cfg.URL)
	if err != nil {
		h.setState(StateDisconnected)
		if errors.Is(err, websocket.ErrBadHandshake) {
			return fmt.Errorf("%w: %v", ErrHandshake, err)
		}
		return err
	}
	stop := context.AfterFunc(ctx, func() { conn.Close() })
	defer stop()
	defer conn.Close()

	h.setState(StateLoggingIn)
	if err := h.login(conn); err != nil {
		h.setState(StateDisconnected)
		return err
	}

	h.setState(StateActive)
	activeAt := time.Now()
	err = h.serve(ctx, conn)
	h.setState(StateDisconnected)
	if up := time.Since(activeAt); up >= h.cfg.StableAfter && h.budget.Used() > 0 {
		h.logger.Info("session was stable, reconnect budget refilled", "uptime", up)
		h.budget.Reset()
	}
	return err
}

// reconnect consumes one unit of the budget and waits out its delay
func (h *Handler) reconnect(ctx context.Context) error {
	delay, ok := h.budget.Next()
	if !ok {
		h.setState(StateGivingUp)
		h.logger.Error("giving up", "reconnections", h.budget.Used(), "max_reconnect", h.budget.Max())
		return ErrGaveUp
	}
	h.reconnects.Add(1)
	metrics.ReconnectsTotal.Inc()
	h.logger.Info("reconnecting", "attempt", h.budget.Used(), "max_reconnect", h.budget.Max(), "delay", delay)

	if delay <= 0 {
		return ctx.Err()
	}
	timer := time.NewTimer(delay)
	defer timer.Stop()
	select {
	case <-ctx.Done():
		return ctx.Err()
	case <-timer.C:
		return nil
	}
}

// login sends the credential and checks the single reply. Transport
// failures are returned as-is; a rejected or unreadable reply is ErrAuth.
func (h *Handler) login(conn Transport) error {
	req := models.LoginRequest{
		Action:    "login",
		RequestID: h.requestID(),
		Token:     h.cfg.Token,
	}
	if err := conn.WriteJSON(req); err != nil {
		return fmt.Errorf("send login: %w", err)
	}
	data, err := conn.ReadMessage()
	if err != nil {
		return fmt.Errorf("read login reply: %w", err)
	}

	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		return fmt.Errorf("%w: malformed reply: %v", ErrAuth, err)
	}
	var msg models.AuthMessage
	if env.HasData() {
		if err := json.Unmarshal(env.Data, &msg); err != nil {
			return fmt.Errorf("%w: malformed reply data: %v", ErrAuth, err)
		}
	}
	if env.ResponseStatus != models.StatusOK {
		return fmt.Errorf("%w: status %d: %s", ErrAuth, env.ResponseStatus, msg.Message)
	}
	h.logger.Info("login ok", "message", msg.Message)
	return nil
}

// serve receives messages until the transport fails. The forwarders run
// for exactly as long as serve does.
func (h *Handler) serve(ctx context.Context, conn Transport) error {
	fctx, cancel := context.WithCancel(ctx)
	done := make(chan struct{}, 2)
	go func() {
		defer func() { done <- struct{}{} }()
		h.forwardJobs(fctx)
	}()
	go func() {
		defer func() { done <- struct{}{} }()
		h.forwardResults(fctx, conn)
	}()

	var err error
	for {
		var data []byte
		data, err = conn.ReadMessage()
		if err != nil {
			break
		}
		h.handleMessage(data)
	}

	cancel()
	conn.Close()
	<-done
	<-done
	return err
}

// handleMessage decodes one envelope and dispatches on its action.
// Protocol errors are logged and the message is skipped.
func (h *Handler) handleMessage(data []byte) {
	var env models.Envelope
	if err := json.Unmarshal(data, &env); err != nil {
		metrics.MessagesReceivedTotal.WithLabelValues("invalid").Inc()
		h.logger.Warn("invalid JSON data", "error", err, "message", truncate(data, 200))
		return
	}

	action := models.ParseAction(env.Action)
	metrics.MessagesReceivedTotal.WithLabelValues(action.String()).Inc()

	switch action {
	case models.ActionCreate, models.ActionUpdate:
		h.enqueue(&env)
	case models.ActionClearQueue:
		h.clearQueue()
	default:
		h.logger.Debug("unknown action", "action", env.Action)
	}
}

func (h *Handler) enqueue(env *models.Envelope) {
	if !env.HasData() {
		return
	}
	var job models.Job
	if err := json.Unmarshal(env.Data, &job); err != nil {
		h.logger.Warn("invalid data format", "action", env.Action, "error", err)
		return
	}
	if job.ID == "" {
		h.logger.Warn("invalid data format", "action", env.Action, "error", "missing id")
		return
	}
	if !job.NeedsWork() {
		return
	}
	if job.SubmittedAt.IsZero() {
		job.SubmittedAt = time.Now()
	}

	if h.queue.Put(&job) {
		metrics.JobsQueuedTotal.Inc()
	} else {
		metrics.JobsDroppedTotal.WithLabelValues("in_flight").Inc()
		h.logger.Debug("update for in-flight job ignored", "job_id", job.ID)
	}
	metrics.QueueLength.WithLabelValues("dedup").Set(float64(h.queue.Len()))
}

func (h *Handler) clearQueue() {
	pending := h.queue.Clear()
	forwarded := len(h.pool.Input().Drain())
	metrics.JobsDroppedTotal.WithLabelValues("cleared").Add(float64(pending + forwarded))
	metrics.QueueLength.WithLabelValues("dedup").Set(0)
	metrics.QueueLength.WithLabelValues("input").Set(0)
	h.logger.Info("queue cleared", "pending", pending, "forwarded", forwarded)
}

func truncate(b []byte, n int) string {
	if len(b) <= n {
		return string(b)
	}
	return string(b[:n]) + "..."
}
