package lark

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/url"
	"strconv"
	"strings"
	"sync"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zverozabr/zeroclaw/internal/zeroclaw/channel"
)

const (
	heartbeatTimeout         = 300 * time.Second
	defaultHeartbeatInterval = 120 * time.Second
	minHeartbeatInterval     = 10 * time.Second
	watchdogTick             = 10 * time.Second
	fragmentGCInterval       = 5 * time.Minute
	fragmentTTL              = 5 * time.Minute
	dedupWindow              = 30 * time.Minute
	ackReactionEmoji         = "SMILE"
)

// ReceiveMode selects how an Adapter receives inbound events.
type ReceiveMode string

const (
	ReceiveModeWebSocket ReceiveMode = "websocket"
	ReceiveModeWebhook   ReceiveMode = "webhook"
)

// Config configures a Lark/Feishu Adapter.
type Config struct {
	AppID             string
	AppSecret         string
	VerificationToken string
	AllowedUsers      []string
	UseFeishu         bool // true targets open.feishu.cn instead of open.larksuite.com
	ReceiveMode       ReceiveMode
	Addr              string // webhook mode only
	Path              string // webhook mode only, default "/lark"
	HTTPClient        *http.Client
}

// Adapter is the channel.Channel implementation for Lark/Feishu. In
// websocket mode it maintains the platform's long connection, acking,
// reassembling and deduplicating inbound frames; in webhook mode it hosts
// an HTTP receiver for the platform's event-callback push model. Both
// modes share the same tenant-token lifecycle, allowlist, and content
// extraction.
type Adapter struct {
	cfg    Config
	client *http.Client

	tokenMu sync.Mutex
	token   tenantToken

	seenMu sync.Mutex
	seen   map[string]time.Time

	fragMu sync.Mutex
	frags  map[string]*fragmentState

	srv *http.Server

	mu     sync.Mutex
	stopCh chan struct{}

	testBaseURL string // overrides baseURL() in tests; empty in production
}

type fragmentState struct {
	Sum       int
	Slots     [][]byte
	Filled    int
	UpdatedAt time.Time
}

// New constructs a Lark/Feishu Adapter. It does not contact the platform
// until Start is called.
func New(cfg Config) *Adapter {
	if cfg.ReceiveMode == "" {
		cfg.ReceiveMode = ReceiveModeWebSocket
	}
	if cfg.Path == "" {
		cfg.Path = "/lark"
	}
	client := cfg.HTTPClient
	if client == nil {
		client = &http.Client{Timeout: 15 * time.Second}
	}
	return &Adapter{
		cfg:    cfg,
		client: client,
		seen:   make(map[string]time.Time),
		frags:  make(map[string]*fragmentState),
		stopCh: make(chan struct{}),
	}
}

// Name implements channel.Channel.
func (a *Adapter) Name() string { return "lark" }

func (a *Adapter) baseURL() string {
	if a.testBaseURL != "" {
		return a.testBaseURL
	}
	if a.cfg.UseFeishu {
		return "https://open.feishu.cn"
	}
	return "https://open.larksuite.com"
}

// Start begins receiving messages per the configured ReceiveMode and
// blocks until ctx is cancelled or Stop is called.
func (a *Adapter) Start(ctx context.Context, out chan<- channel.Message) error {
	switch a.cfg.ReceiveMode {
	case ReceiveModeWebhook:
		return a.startWebhook(ctx, out)
	default:
		return a.startWebSocket(ctx, out)
	}
}

// Stop halts the receive loop, whichever mode it is in.
func (a *Adapter) Stop() {
	a.mu.Lock()
	defer a.mu.Unlock()
	select {
	case <-a.stopCh:
		return
	default:
		close(a.stopCh)
	}
	if a.srv != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = a.srv.Shutdown(ctx)
	}
}

func (a *Adapter) stopped() bool {
	select {
	case <-a.stopCh:
		return true
	default:
		return false
	}
}

// --- WebSocket mode ---

func (a *Adapter) startWebSocket(ctx context.Context, out chan<- channel.Message) error {
	backoff := 2 * time.Second
	const backoffMax = time.Minute
	for {
		if ctx.Err() != nil || a.stopped() {
			return ctx.Err()
		}
		err := a.connectAndServe(ctx, out)
		if ctx.Err() != nil || a.stopped() {
			return ctx.Err()
		}
		if err != nil {
			slog.Warn("lark channel: websocket session ended; reconnecting", "err", err, "backoff", backoff)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopCh:
			return nil
		case <-time.After(backoff):
		}
		backoff *= 2
		if backoff > backoffMax {
			backoff = backoffMax
		}
	}
}

type wsEndpoint struct {
	URL          string `json:"URL"`
	ClientConfig struct {
		PingInterval *uint64 `json:"PingInterval"`
	} `json:"ClientConfig"`
}

type wsEndpointResponse struct {
	Code int        `json:"code"`
	Msg  string     `json:"msg"`
	Data wsEndpoint `json:"data"`
}

func (a *Adapter) fetchWSEndpoint(ctx context.Context) (wsEndpoint, error) {
	q := url.Values{"app_id": {a.cfg.AppID}, "app_secret": {a.cfg.AppSecret}}
	reqURL := a.baseURL() + "/open-apis/callback/ws/endpoint?" + q.Encode()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, reqURL, nil)
	if err != nil {
		return wsEndpoint{}, err
	}
	resp, err := a.client.Do(req)
	if err != nil {
		return wsEndpoint{}, fmt.Errorf("lark: fetch ws endpoint: %w", err)
	}
	defer resp.Body.Close()
	body, err := io.ReadAll(io.LimitReader(resp.Body, 1<<20))
	if err != nil {
		return wsEndpoint{}, err
	}
	var parsed wsEndpointResponse
	if err := json.Unmarshal(body, &parsed); err != nil {
		return wsEndpoint{}, fmt.Errorf("lark: malformed ws endpoint response: %w", err)
	}
	if parsed.Code != 0 || parsed.Data.URL == "" {
		return wsEndpoint{}, fmt.Errorf("lark: ws endpoint request failed: %s", parsed.Msg)
	}
	return parsed.Data, nil
}

type wsRead struct {
	messageType int
	data        []byte
	err         error
}

func (a *Adapter) connectAndServe(ctx context.Context, out chan<- channel.Message) error {
	endpoint, err := a.fetchWSEndpoint(ctx)
	if err != nil {
		return err
	}

	conn, _, err := websocket.DefaultDialer.DialContext(ctx, endpoint.URL, nil)
	if err != nil {
		return fmt.Errorf("lark: dial websocket: %w", err)
	}
	defer conn.Close()

	heartbeatInterval := defaultHeartbeatInterval
	if endpoint.ClientConfig.PingInterval != nil {
		heartbeatInterval = time.Duration(*endpoint.ClientConfig.PingInterval) * time.Second
	}
	if heartbeatInterval < minHeartbeatInterval {
		heartbeatInterval = minHeartbeatInterval
	}

	if err := a.sendPing(conn); err != nil {
		return err
	}

	var lastRecvMu sync.Mutex
	lastRecv := time.Now()

	readCh := make(chan wsRead, 1)
	readerDone := make(chan struct{})
	go func() {
		defer close(readerDone)
		for {
			mt, data, err := conn.ReadMessage()
			select {
			case readCh <- wsRead{mt, data, err}:
			case <-readerDone:
				return
			}
			if err != nil {
				return
			}
		}
	}()

	heartbeatTicker := time.NewTicker(heartbeatInterval)
	defer heartbeatTicker.Stop()
	watchdogTicker := time.NewTicker(watchdogTick)
	defer watchdogTicker.Stop()
	gcTicker := time.NewTicker(fragmentGCInterval)
	defer gcTicker.Stop()

	for {
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-a.stopCh:
			return nil
		case <-heartbeatTicker.C:
			if err := a.sendPing(conn); err != nil {
				return err
			}
			a.gcFragments()
		case <-watchdogTicker.C:
			lastRecvMu.Lock()
			elapsed := time.Since(lastRecv)
			lastRecvMu.Unlock()
			if elapsed > heartbeatTimeout {
				return fmt.Errorf("lark: heartbeat watchdog timed out after %s", elapsed)
			}
		case <-gcTicker.C:
			a.gcFragments()
			a.gcSeen()
		case r := <-readCh:
			if r.err != nil {
				return fmt.Errorf("lark: websocket read: %w", r.err)
			}
			switch r.messageType {
			case websocket.BinaryMessage:
				lastRecvMu.Lock()
				lastRecv = time.Now()
				lastRecvMu.Unlock()
				if err := a.handleFrame(ctx, conn, r.data, out); err != nil {
					return err
				}
			case websocket.PingMessage:
				lastRecvMu.Lock()
				lastRecv = time.Now()
				lastRecvMu.Unlock()
				_ = conn.WriteMessage(websocket.PongMessage, nil)
			case websocket.PongMessage:
				lastRecvMu.Lock()
				lastRecv = time.Now()
				lastRecvMu.Unlock()
			case websocket.CloseMessage:
				return fmt.Errorf("lark: server closed the connection")
			}
		}
	}
}

func (a *Adapter) sendPing(conn *websocket.Conn) error {
	f := frame{Method: 0, Headers: []frameHeader{{Key: "type", Value: "ping"}}}
	return conn.WriteMessage(websocket.BinaryMessage, encodeFrame(f))
}

// sendAck immediately acknowledges a DATA frame, per the platform's
// within-a-few-seconds ack requirement. It is sent before the frame's
// payload is reassembled or parsed, so a slow or failing parse never
// risks a missed ack and a spurious redelivery.
func (a *Adapter) sendAck(conn *websocket.Conn, f frame) error {
	headers := append([]frameHeader{}, f.Headers...)
	headers = append(headers, frameHeader{Key: "biz_rt", Value: "0"})
	ack := frame{
		SeqID:   f.SeqID,
		LogID:   f.LogID,
		Service: f.Service,
		Method:  f.Method,
		Headers: headers,
		Payload: []byte(`{"code":200,"headers":{},"data":[]}`),
	}
	return conn.WriteMessage(websocket.BinaryMessage, encodeFrame(ack))
}

func (a *Adapter) handleFrame(ctx context.Context, conn *websocket.Conn, data []byte, out chan<- channel.Message) error {
	f, err := decodeFrame(data)
	if err != nil {
		return fmt.Errorf("lark: decode frame: %w", err)
	}
	if f.Method == 0 {
		return nil // control frame, no further action
	}

	if err := a.sendAck(conn, f); err != nil {
		return fmt.Errorf("lark: ack frame: %w", err)
	}

	typ, _ := headerValue(f.Headers, "type")
	msgID, _ := headerValue(f.Headers, "message_id")

	payload := f.Payload
	if sumStr, hasSum := headerValue(f.Headers, "sum"); hasSum {
		seqStr, _ := headerValue(f.Headers, "seq")
		sum, sumErr := strconv.Atoi(sumStr)
		seq, seqErr := strconv.Atoi(seqStr)
		if sumErr == nil && seqErr == nil && sum > 1 {
			complete, ready := a.reassemble(msgID, sum, seq, payload)
			if !ready {
				return nil
			}
			payload = complete
		}
	}

	if typ != "event" {
		return nil
	}

	return a.dispatchEvent(ctx, payload, out)
}

// reassemble accumulates a fragmented frame's payload slots. If a new
// fragment arrives for msgID with a different declared sum than the
// in-flight entry, the entry is reinitialized rather than rejected, since
// a changed sum only ever means the sender restarted the fragment series.
func (a *Adapter) reassemble(msgID string, sum, seq int, payload []byte) ([]byte, bool) {
	a.fragMu.Lock()
	defer a.fragMu.Unlock()

	st, ok := a.frags[msgID]
	if !ok || st.Sum != sum {
		st = &fragmentState{Sum: sum, Slots: make([][]byte, sum)}
		a.frags[msgID] = st
	}
	if seq >= 0 && seq < len(st.Slots) {
		if st.Slots[seq] == nil {
			st.Filled++
		}
		st.Slots[seq] = payload
	}
	st.UpdatedAt = time.Now()

	if st.Filled < st.Sum {
		return nil, false
	}
	var buf bytes.Buffer
	for _, s := range st.Slots {
		buf.Write(s)
	}
	delete(a.frags, msgID)
	return buf.Bytes(), true
}

func (a *Adapter) gcFragments() {
	a.fragMu.Lock()
	defer a.fragMu.Unlock()
	cutoff := time.Now().Add(-fragmentTTL)
	for id, st := range a.frags {
		if st.UpdatedAt.Before(cutoff) {
			delete(a.frags, id)
		}
	}
}

func (a *Adapter) seenBefore(id string) bool {
	a.seenMu.Lock()
	defer a.seenMu.Unlock()
	_, ok := a.seen[id]
	return ok
}

func (a *Adapter) markSeen(id string) {
	a.seenMu.Lock()
	defer a.seenMu.Unlock()
	a.seen[id] = time.Now()
}

func (a *Adapter) gcSeen() {
	a.seenMu.Lock()
	defer a.seenMu.Unlock()
	cutoff := time.Now().Add(-dedupWindow)
	for id, t := range a.seen {
		if t.Before(cutoff) {
			delete(a.seen, id)
		}
	}
}

func (a *Adapter) dispatchEvent(ctx context.Context, payload []byte, out chan<- channel.Message) error {
	var evt larkEvent
	if err := json.Unmarshal(payload, &evt); err != nil {
		slog.Warn("lark channel: malformed event payload", "err", err)
		return nil
	}
	if evt.Header.EventType != eventTypeMessageReceive {
		return nil
	}

	var msg msgReceivePayload
	if err := json.Unmarshal(evt.Event, &msg); err != nil {
		slog.Warn("lark channel: malformed message_receive event", "err", err)
		return nil
	}

	if msg.Sender.SenderType == "app" || msg.Sender.SenderType == "bot" {
		return nil
	}
	if !isUserAllowed(a.cfg.AllowedUsers, msg.Sender.SenderID.OpenID) {
		return nil
	}

	dedupKey := msg.Message.MessageID
	if dedupKey == "" {
		dedupKey = evt.Header.EventID
	}
	if dedupKey != "" && a.seenBefore(dedupKey) {
		return nil
	}

	if !shouldRespondInGroup(msg.Message.ChatType, msg.Message.Mentions) {
		return nil
	}

	text, ok := extractMessageText(msg.Message.MessageType, msg.Message.Content)
	if !ok {
		return nil
	}

	if dedupKey != "" {
		a.markSeen(dedupKey)
	}

	if msg.Message.MessageID != "" {
		go a.tryAddAckReaction(context.Background(), msg.Message.MessageID)
	}

	chatTarget := msg.Message.ChatID
	m := channel.NewMessage(chatTarget, chatTarget, text, a.Name())

	select {
	case out <- m:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}

// tryAddAckReaction posts a best-effort emoji reaction acknowledging the
// message was received and processed. Any failure here, including a token
// refresh failure, is logged and dropped: a missing reaction never fails
// the inbound pipeline.
func (a *Adapter) tryAddAckReaction(ctx context.Context, messageID string) {
	err := a.addReaction(ctx, messageID, false)
	if _, ok := err.(*tokenRefreshableError); ok {
		if err = a.addReaction(ctx, messageID, true); err != nil {
			slog.Info("lark channel: ack reaction failed after retry", "message_id", messageID, "err", err)
		}
		return
	}
	if err != nil {
		slog.Info("lark channel: ack reaction failed", "message_id", messageID, "err", err)
	}
}

type tokenRefreshableError struct{ err error }

func (e *tokenRefreshableError) Error() string { return e.err.Error() }

func (a *Adapter) addReaction(ctx context.Context, messageID string, forceRefresh bool) error {
	token, err := a.ensureToken(ctx, forceRefresh)
	if err != nil {
		return err
	}
	body, _ := json.Marshal(map[string]any{
		"reaction_type": map[string]string{"emoji_type": ackReactionEmoji},
	})
	reqURL := fmt.Sprintf("%s/open-apis/im/v1/messages/%s/reactions", a.baseURL(), url.PathEscape(messageID))
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := a.client.Do(req)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	code, msg := decodeBizCode(respBody)
	if shouldRefreshTenantToken(resp.StatusCode, code) && !forceRefresh {
		a.invalidateToken()
		return &tokenRefreshableError{err: fmt.Errorf("lark: reaction token rejected: %s", msg)}
	}
	return ensureSendSuccess(resp.StatusCode, code, msg)
}

// --- Tenant token lifecycle ---

type tokenResponse struct {
	Code              int    `json:"code"`
	Msg               string `json:"msg"`
	TenantAccessToken string `json:"tenant_access_token"`
	Expire            any    `json:"expire"`
}

func (a *Adapter) ensureToken(ctx context.Context, forceRefresh bool) (string, error) {
	a.tokenMu.Lock()
	current := a.token
	a.tokenMu.Unlock()

	if !forceRefresh && !current.expired(time.Now()) {
		return current.Value, nil
	}
	return a.refreshToken(ctx)
}

func (a *Adapter) invalidateToken() {
	a.tokenMu.Lock()
	a.token = tenantToken{}
	a.tokenMu.Unlock()
}

func (a *Adapter) refreshToken(ctx context.Context) (string, error) {
	body, _ := json.Marshal(map[string]string{"app_id": a.cfg.AppID, "app_secret": a.cfg.AppSecret})
	req, err := http.NewRequestWithContext(ctx, http.MethodPost,
		a.baseURL()+"/open-apis/auth/v3/tenant_access_token/internal", bytes.NewReader(body))
	if err != nil {
		return "", err
	}
	req.Header.Set("Content-Type", "application/json")
	resp, err := a.client.Do(req)
	if err != nil {
		return "", fmt.Errorf("lark: fetch tenant access token: %w", err)
	}
	defer resp.Body.Close()
	raw, err := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	if err != nil {
		return "", err
	}
	var parsed tokenResponse
	if err := json.Unmarshal(raw, &parsed); err != nil {
		return "", fmt.Errorf("lark: malformed tenant access token response: %w", err)
	}
	if resp.StatusCode != http.StatusOK || parsed.Code != 0 {
		return "", fmt.Errorf("lark: tenant access token request failed (status %d): %s", resp.StatusCode, parsed.Msg)
	}

	var raw2 map[string]any
	_ = json.Unmarshal(raw, &raw2)
	ttl := extractTokenTTLSeconds(raw2)

	now := time.Now()
	tok := tenantToken{Value: parsed.TenantAccessToken, RefreshAt: nextTokenRefreshDeadline(now, ttl)}

	a.tokenMu.Lock()
	a.token = tok
	a.tokenMu.Unlock()
	return tok.Value, nil
}

func decodeBizCode(body []byte) (int, string) {
	var parsed struct {
		Code int    `json:"code"`
		Msg  string `json:"msg"`
	}
	if err := json.Unmarshal(body, &parsed); err != nil {
		return 0, string(body)
	}
	return parsed.Code, parsed.Msg
}

// Send implements channel.Channel. It retries once, after invalidating the
// cached tenant token, on a 401 or an invalid-access-token business code.
func (a *Adapter) Send(ctx context.Context, msg channel.SendMessage) error {
	return a.send(ctx, msg, false)
}

func (a *Adapter) send(ctx context.Context, msg channel.SendMessage, forceRefresh bool) error {
	token, err := a.ensureToken(ctx, forceRefresh)
	if err != nil {
		return err
	}

	content, _ := json.Marshal(map[string]string{"text": msg.Content})
	body, _ := json.Marshal(map[string]string{
		"receive_id": msg.Recipient,
		"msg_type":   "text",
		"content":    string(content),
	})

	reqURL := a.baseURL() + "/open-apis/im/v1/messages?receive_id_type=chat_id"
	req, err := http.NewRequestWithContext(ctx, http.MethodPost, reqURL, bytes.NewReader(body))
	if err != nil {
		return err
	}
	req.Header.Set("Content-Type", "application/json")
	req.Header.Set("Authorization", "Bearer "+token)

	resp, err := a.client.Do(req)
	if err != nil {
		return fmt.Errorf("lark: send message: %w", err)
	}
	defer resp.Body.Close()
	respBody, _ := io.ReadAll(io.LimitReader(resp.Body, 1<<16))
	code, bizMsg := decodeBizCode(respBody)

	if shouldRefreshTenantToken(resp.StatusCode, code) && !forceRefresh {
		a.invalidateToken()
		return a.send(ctx, msg, true)
	}
	return ensureSendSuccess(resp.StatusCode, code, bizMsg)
}

// --- Webhook mode ---

func (a *Adapter) startWebhook(ctx context.Context, out chan<- channel.Message) error {
	mux := http.NewServeMux()
	mux.HandleFunc(a.cfg.Path, a.handleWebhook(out))
	a.srv = &http.Server{Addr: a.cfg.Addr, Handler: mux}

	errCh := make(chan error, 1)
	go func() {
		if err := a.srv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			errCh <- fmt.Errorf("lark channel: webhook listen: %w", err)
			return
		}
		errCh <- nil
	}()

	select {
	case <-ctx.Done():
		a.Stop()
		return ctx.Err()
	case err := <-errCh:
		return err
	case <-a.stopCh:
		return nil
	}
}

func (a *Adapter) handleWebhook(out chan<- channel.Message) http.HandlerFunc {
	return func(rw http.ResponseWriter, r *http.Request) {
		if r.Method != http.MethodPost {
			http.Error(rw, "method not allowed", http.StatusMethodNotAllowed)
			return
		}
		body, err := io.ReadAll(io.LimitReader(r.Body, 1<<20))
		if err != nil {
			http.Error(rw, "failed to read request body", http.StatusBadRequest)
			return
		}

		var probe struct {
			Challenge string `json:"challenge"`
			Token     string `json:"token"`
		}
		if json.Unmarshal(body, &probe) == nil && probe.Challenge != "" {
			if a.cfg.VerificationToken != "" && probe.Token != a.cfg.VerificationToken {
				http.Error(rw, "unauthorized", http.StatusUnauthorized)
				return
			}
			rw.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(rw).Encode(map[string]string{"challenge": probe.Challenge})
			return
		}

		var evt larkEvent
		if err := json.Unmarshal(body, &evt); err != nil {
			http.Error(rw, "bad request", http.StatusBadRequest)
			return
		}
		if evt.Header.EventType != eventTypeMessageReceive {
			rw.WriteHeader(http.StatusOK)
			return
		}

		var msg msgReceivePayload
		if err := json.Unmarshal(evt.Event, &msg); err != nil {
			rw.WriteHeader(http.StatusOK)
			return
		}

		chatID := msg.Message.ChatID
		if chatID == "" {
			chatID = msg.Sender.SenderID.OpenID
		}

		switch {
		case msg.Sender.SenderType == "app" || msg.Sender.SenderType == "bot":
		case !isUserAllowed(a.cfg.AllowedUsers, msg.Sender.SenderID.OpenID):
		case !shouldRespondInGroup(msg.Message.ChatType, msg.Message.Mentions):
		default:
			if text, ok := extractMessageText(msg.Message.MessageType, msg.Message.Content); ok {
				m := channel.NewMessage(chatID, chatID, text, a.Name())
				if ts := strings.TrimSpace(msg.Message.CreateTime); ts != "" {
					if secMillis, err := strconv.ParseInt(ts, 10, 64); err == nil {
						m.Timestamp = secMillis / 1000
					}
				}
				select {
				case out <- m:
				case <-r.Context().Done():
				}
				if msg.Message.MessageID != "" {
					go a.tryAddAckReaction(context.Background(), msg.Message.MessageID)
				}
			}
		}

		rw.WriteHeader(http.StatusOK)
	}
}
