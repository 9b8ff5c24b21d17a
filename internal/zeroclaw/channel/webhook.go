package channel

import (
	"context"
	"crypto/hmac"
	"crypto/sha256"
	"encoding/hex"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"strings"
	"sync"
	"time"

	"github.com/zverozabr/zeroclaw/common/spec/envelope"
)

// DefaultWebhookRateLimit is the default maximum number of deliveries per
// source per minute when Config.RateLimit is unset.
const DefaultWebhookRateLimit = 60

// maxWebhookBodyBytes caps inbound webhook bodies to bound memory use.
const maxWebhookBodyBytes = 1 * 1024 * 1024 // 1 MiB

// WebhookAuth selects how an inbound delivery is authenticated.
type WebhookAuth string

const (
	WebhookAuthBearer WebhookAuth = "bearer"
	WebhookAuthHMAC   WebhookAuth = "hmac-sha256"
)

// WebhookConfig configures the generic inbound Webhook channel.
type WebhookConfig struct {
	Addr          string
	Path          string
	Auth          WebhookAuth
	BearerToken   string
	HMACSecret    []byte
	ChallengeAuth string // optional verification token for the challenge handshake
	RateLimit     int
}

// Webhook is a secondary Channel implementation: it hosts an HTTP server and
// turns authenticated inbound POSTs into Messages. It shares its
// authenticate/rate-limit/forward shape with the Lark webhook receive mode,
// but accepts the generic envelope.Event body instead of a Lark-specific one.
type Webhook struct {
	cfg     WebhookConfig
	limiter *windowLimiter
	srv     *http.Server

	mu     sync.Mutex
	out    chan<- Message
	stopCh chan struct{}
}

// NewWebhook constructs a Webhook channel from cfg.
func NewWebhook(cfg WebhookConfig) *Webhook {
	limit := cfg.RateLimit
	if limit <= 0 {
		limit = DefaultWebhookRateLimit
	}
	if cfg.Path == "" {
		cfg.Path = "/webhook"
	}
	return &Webhook{
		cfg:     cfg,
		limiter: newWindowLimiter(limit, time.Minute),
		stopCh:  make(chan struct{}),
	}
}

// Name implements Channel.
func (w *Webhook) Name() string { return "webhook" }

// Start binds the HTTP server and blocks until ctx is cancelled.
func (w *Webhook) Start(ctx context.Context, out chan<- Message) error {
	w.mu.Lock()
	w.out = out
	w.mu.Unlock()

	mux := http.NewServeMux()
	mux.HandleFunc(w.cfg.Path, w.handle)
	w.srv = &http.Server{Addr: w.cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := w.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("webhook channel: listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		w.Stop()
		return ctx.Err()
	case err := <-errCh:
		return err
	case <-w.stopCh:
		return nil
	}
}

// Stop shuts the HTTP server down.
func (w *Webhook) Stop() {
	select {
	case <-w.stopCh:
		return
	default:
		close(w.stopCh)
	}
	if w.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = w.srv.Shutdown(ctx)
	}
}

// Send is not supported: this channel is receive-only, matching the
// teacher's webhook proxy, which never originates outbound deliveries.
func (w *Webhook) Send(context.Context, SendMessage) error {
	return fmt.Errorf("webhook channel: outbound delivery is not supported")
}

func (w *Webhook) handle(rw http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
		return
	}

	source := strings.TrimPrefix(r.URL.Path, w.cfg.Path)
	source = strings.Trim(source, "/")
	if source == "" {
		source = "default"
	}

	if !w.limiter.Allow(source) {
		http.Error(rw, "too many requests", http.StatusTooManyRequests)
		return
	}

	body, err := io.ReadAll(io.LimitReader(r.Body, maxWebhookBodyBytes))
	if err != nil {
		http.Error(rw, "failed to read request body", http.StatusBadRequest)
		return
	}

	// Challenge handshake: some webhook providers verify ownership by
	// echoing a challenge value back.
	var probe struct {
		Challenge string `json:"challenge"`
		Token     string `json:"token"`
	}
	if json.Unmarshal(body, &probe) == nil && probe.Challenge != "" {
		if w.cfg.ChallengeAuth != "" && probe.Token != w.cfg.ChallengeAuth {
			http.Error(rw, "unauthorized", http.StatusUnauthorized)
			return
		}
		rw.Header().Set("Content-Type", "text/plain")
		_, _ = rw.Write([]byte(probe.Challenge))
		return
	}

	if err := w.authenticate(r, body); err != nil {
		slog.Info("webhook channel: auth failed", "source", source, "err", err)
		http.Error(rw, "unauthorized", http.StatusUnauthorized)
		return
	}

	evt, err := envelope.ParseEvent(body)
	if err != nil {
		slog.Info("webhook channel: malformed event", "source", source, "err", err)
		http.Error(rw, "bad request", http.StatusBadRequest)
		return
	}

	msg := NewMessage(source, source, evt.Payload.Message, w.Name())

	w.mu.Lock()
	out := w.out
	w.mu.Unlock()
	if out == nil {
		http.Error(rw, "channel not started", http.StatusServiceUnavailable)
		return
	}
	select {
	case out <- msg:
		rw.WriteHeader(http.StatusAccepted)
	case <-r.Context().Done():
		http.Error(rw, "request cancelled", http.StatusRequestTimeout)
	}
}

func (w *Webhook) authenticate(r *http.Request, body []byte) error {
	switch w.cfg.Auth {
	case WebhookAuthHMAC:
		return w.validateHMAC(r, body)
	case WebhookAuthBearer, "":
		return w.validateBearer(r)
	default:
		return fmt.Errorf("unsupported auth mode %q", w.cfg.Auth)
	}
}

func (w *Webhook) validateBearer(r *http.Request) error {
	if w.cfg.BearerToken == "" {
		return nil
	}
	const prefix = "Bearer "
	auth := r.Header.Get("Authorization")
	if !strings.HasPrefix(auth, prefix) {
		return fmt.Errorf("missing or malformed Authorization header")
	}
	if strings.TrimPrefix(auth, prefix) != w.cfg.BearerToken {
		return fmt.Errorf("invalid bearer token")
	}
	return nil
}

func (w *Webhook) validateHMAC(r *http.Request, body []byte) error {
	if len(w.cfg.HMACSecret) == 0 {
		return fmt.Errorf("hmac auth configured without a secret")
	}
	sigHdr := r.Header.Get("X-Hub-Signature-256")
	const prefix = "sha256="
	if !strings.HasPrefix(sigHdr, prefix) {
		return fmt.Errorf("missing or malformed X-Hub-Signature-256 header")
	}
	provided, err := hex.DecodeString(strings.TrimPrefix(sigHdr, prefix))
	if err != nil {
		return fmt.Errorf("invalid hex in X-Hub-Signature-256: %w", err)
	}
	mac := hmac.New(sha256.New, w.cfg.HMACSecret)
	mac.Write(body)
	if !hmac.Equal(mac.Sum(nil), provided) {
		return fmt.Errorf("hmac signature mismatch")
	}
	return nil
}
