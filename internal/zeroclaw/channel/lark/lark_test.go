package lark

import (
	"context"
	"encoding/json"
	"net"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/zverozabr/zeroclaw/internal/zeroclaw/channel"
)

func TestAdapter_Name(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret"})
	if a.Name() != "lark" {
		t.Fatalf("Name() = %q", a.Name())
	}
}

func newPipeConns() (adapterSide, testSide *websocket.Conn) {
	client, server := net.Pipe()
	adapterSide = websocket.NewConn(client, false, 4096, 4096)
	testSide = websocket.NewConn(server, true, 4096, 4096)
	return
}

// TestAdapter_AcksBeforeDispatch verifies that a DATA frame is acknowledged
// on the wire before its content is forwarded to the downstream channel,
// matching the ack-before-processing requirement.
func TestAdapter_AcksBeforeDispatch(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret", AllowedUsers: []string{"*"}})

	event := larkEvent{
		Header: larkEventHeader{EventType: eventTypeMessageReceive},
		Event: mustJSON(t, msgReceivePayload{
			Sender:  larkSender{SenderID: larkSenderID{OpenID: "ou_1"}, SenderType: "user"},
			Message: larkMessage{MessageID: "om_1", ChatID: "oc_1", ChatType: "p2p", MessageType: "text", Content: `{"text":"hi"}`},
		}),
	}
	payload := mustJSON(t, event)
	f := frame{SeqID: 1, LogID: 1, Method: 1, Headers: []frameHeader{
		{Key: "type", Value: "event"},
		{Key: "message_id", Value: "om_1"},
	}, Payload: payload}

	adapterSide, testSide := newPipeConns()
	defer adapterSide.Close()
	defer testSide.Close()

	out := make(chan channel.Message)
	errCh := make(chan error, 1)
	go func() {
		errCh <- a.handleFrame(context.Background(), adapterSide, encodeFrame(f), out)
	}()

	_, ackBytes, err := testSide.ReadMessage()
	if err != nil {
		t.Fatalf("read ack: %v", err)
	}
	ack, err := decodeFrame(ackBytes)
	if err != nil {
		t.Fatalf("decode ack: %v", err)
	}
	if v, _ := headerValue(ack.Headers, "biz_rt"); v != "0" {
		t.Fatalf("ack biz_rt = %q, want 0", v)
	}

	select {
	case m := <-out:
		if m.Content != "hi" {
			t.Fatalf("Content = %q", m.Content)
		}
	case <-time.After(time.Second):
		t.Fatal("timed out waiting for dispatched message after ack")
	}

	if err := <-errCh; err != nil {
		t.Fatalf("handleFrame: %v", err)
	}
}

func TestAdapter_ControlFrameNeedsNoAck(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret"})
	adapterSide, testSide := newPipeConns()
	defer adapterSide.Close()
	defer testSide.Close()

	out := make(chan channel.Message, 1)
	done := make(chan error, 1)
	go func() {
		f := frame{Method: 0, Headers: []frameHeader{{Key: "type", Value: "pong"}}}
		done <- a.handleFrame(context.Background(), adapterSide, encodeFrame(f), out)
	}()

	select {
	case err := <-done:
		if err != nil {
			t.Fatalf("handleFrame: %v", err)
		}
	case <-time.After(time.Second):
		t.Fatal("control frame handling should not block on an ack")
	}
}

func TestAdapter_DedupSuppressesRepeatedMessageID(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret", AllowedUsers: []string{"*"}})
	a.markSeen("om_1")
	if !a.seenBefore("om_1") {
		t.Fatal("expected a marked id to be reported as seen")
	}
}

func TestAdapter_GcSeenExpiresOldEntries(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret"})
	a.seen["om_old"] = time.Now().Add(-dedupWindow - time.Minute)
	a.seen["om_new"] = time.Now()
	a.gcSeen()
	if a.seenBefore("om_old") {
		t.Fatal("expected the stale entry to be garbage collected")
	}
	if !a.seenBefore("om_new") {
		t.Fatal("expected the fresh entry to survive gc")
	}
}

func TestAdapter_ReassembleAccumulatesFragments(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret"})
	if _, ready := a.reassemble("om_1", 2, 0, []byte("ab")); ready {
		t.Fatal("expected incomplete fragment set to not be ready")
	}
	full, ready := a.reassemble("om_1", 2, 1, []byte("cd"))
	if !ready {
		t.Fatal("expected the fragment set to complete")
	}
	if string(full) != "abcd" {
		t.Fatalf("full = %q", full)
	}
	if _, exists := a.frags["om_1"]; exists {
		t.Fatal("expected a completed fragment entry to be removed")
	}
}

func TestAdapter_ReassembleReinitializesOnSumMismatch(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret"})
	a.reassemble("om_1", 3, 0, []byte("x"))
	// A later frame for the same id declares a different sum; the entry
	// restarts rather than mixing slot counts.
	full, ready := a.reassemble("om_1", 1, 0, []byte("restarted"))
	if !ready {
		t.Fatal("expected a single-fragment series to complete immediately")
	}
	if string(full) != "restarted" {
		t.Fatalf("full = %q", full)
	}
}

func TestAdapter_GcFragmentsExpiresStaleEntries(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret"})
	a.frags["om_stale"] = &fragmentState{Sum: 2, Slots: make([][]byte, 2), UpdatedAt: time.Now().Add(-fragmentTTL - time.Minute)}
	a.gcFragments()
	if _, exists := a.frags["om_stale"]; exists {
		t.Fatal("expected the stale fragment entry to be garbage collected")
	}
}

func TestAdapter_DispatchEventDropsBotSender(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret", AllowedUsers: []string{"*"}})
	event := larkEvent{
		Header: larkEventHeader{EventType: eventTypeMessageReceive},
		Event: mustJSON(t, msgReceivePayload{
			Sender:  larkSender{SenderID: larkSenderID{OpenID: "ou_1"}, SenderType: "bot"},
			Message: larkMessage{MessageID: "om_1", ChatID: "oc_1", ChatType: "p2p", MessageType: "text", Content: `{"text":"hi"}`},
		}),
	}
	out := make(chan channel.Message, 1)
	if err := a.dispatchEvent(context.Background(), mustJSON(t, event), out); err != nil {
		t.Fatalf("dispatchEvent: %v", err)
	}
	select {
	case m := <-out:
		t.Fatalf("expected a bot sender to be dropped, got %+v", m)
	default:
	}
}

func TestAdapter_DispatchEventDropsUnlistedUser(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret", AllowedUsers: []string{"ou_allowed"}})
	event := larkEvent{
		Header: larkEventHeader{EventType: eventTypeMessageReceive},
		Event: mustJSON(t, msgReceivePayload{
			Sender:  larkSender{SenderID: larkSenderID{OpenID: "ou_other"}, SenderType: "user"},
			Message: larkMessage{MessageID: "om_1", ChatID: "oc_1", ChatType: "p2p", MessageType: "text", Content: `{"text":"hi"}`},
		}),
	}
	out := make(chan channel.Message, 1)
	if err := a.dispatchEvent(context.Background(), mustJSON(t, event), out); err != nil {
		t.Fatalf("dispatchEvent: %v", err)
	}
	select {
	case m := <-out:
		t.Fatalf("expected an unlisted user to be dropped, got %+v", m)
	default:
	}
}

func TestAdapter_DispatchEventDropsGroupMessageWithoutMention(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret", AllowedUsers: []string{"*"}})
	event := larkEvent{
		Header: larkEventHeader{EventType: eventTypeMessageReceive},
		Event: mustJSON(t, msgReceivePayload{
			Sender:  larkSender{SenderID: larkSenderID{OpenID: "ou_1"}, SenderType: "user"},
			Message: larkMessage{MessageID: "om_1", ChatID: "oc_1", ChatType: "group", MessageType: "text", Content: `{"text":"hi"}`},
		}),
	}
	out := make(chan channel.Message, 1)
	if err := a.dispatchEvent(context.Background(), mustJSON(t, event), out); err != nil {
		t.Fatalf("dispatchEvent: %v", err)
	}
	select {
	case m := <-out:
		t.Fatalf("expected an unmentioned group message to be dropped, got %+v", m)
	default:
	}
}

func TestAdapter_DispatchEventDropsDuplicateMessageID(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret", AllowedUsers: []string{"*"}})
	event := larkEvent{
		Header: larkEventHeader{EventType: eventTypeMessageReceive},
		Event: mustJSON(t, msgReceivePayload{
			Sender:  larkSender{SenderID: larkSenderID{OpenID: "ou_1"}, SenderType: "user"},
			Message: larkMessage{MessageID: "om_dup", ChatID: "oc_1", ChatType: "p2p", MessageType: "text", Content: `{"text":"hi"}`},
		}),
	}
	out := make(chan channel.Message, 2)
	raw := mustJSON(t, event)
	if err := a.dispatchEvent(context.Background(), raw, out); err != nil {
		t.Fatalf("dispatchEvent (first): %v", err)
	}
	if err := a.dispatchEvent(context.Background(), raw, out); err != nil {
		t.Fatalf("dispatchEvent (second): %v", err)
	}
	if len(out) != 1 {
		t.Fatalf("len(out) = %d, want 1 (second delivery should be deduped)", len(out))
	}
}

func TestAdapter_RefreshTokenOn401ThenRetriesSend(t *testing.T) {
	var tokenCalls, sendCalls int
	srv := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		switch r.URL.Path {
		case "/open-apis/auth/v3/tenant_access_token/internal":
			tokenCalls++
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{
				"code": 0, "msg": "ok", "tenant_access_token": "tok", "expire": 7200,
			})
		case "/open-apis/im/v1/messages":
			sendCalls++
			if sendCalls == 1 {
				w.WriteHeader(http.StatusUnauthorized)
				_ = json.NewEncoder(w).Encode(map[string]any{"code": 99991663, "msg": "invalid token"})
				return
			}
			w.Header().Set("Content-Type", "application/json")
			_ = json.NewEncoder(w).Encode(map[string]any{"code": 0, "msg": "ok"})
		default:
			http.NotFound(w, r)
		}
	}))
	defer srv.Close()

	a := New(Config{AppID: "cli_x", AppSecret: "secret", HTTPClient: srv.Client()})
	a.overrideBaseURLForTest(srv.URL)

	if err := a.Send(context.Background(), channel.SendMessage{Recipient: "oc_1", Content: "hello"}); err != nil {
		t.Fatalf("Send: %v", err)
	}
	if sendCalls != 2 {
		t.Fatalf("sendCalls = %d, want 2 (retried once)", sendCalls)
	}
	if tokenCalls != 2 {
		t.Fatalf("tokenCalls = %d, want 2 (refreshed once after the 401)", tokenCalls)
	}
}

func (a *Adapter) overrideBaseURLForTest(url string) {
	a.testBaseURL = url
}

func TestAdapter_WebhookChallengeHandshake(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret", VerificationToken: "vtok"})
	body := `{"challenge":"abc123","token":"vtok","type":"url_verification"}`
	req := httptest.NewRequest(http.MethodPost, "/lark", strings.NewReader(body))
	rw := httptest.NewRecorder()

	a.handleWebhook(make(chan channel.Message, 1))(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d", rw.Code)
	}
	var resp struct {
		Challenge string `json:"challenge"`
	}
	if err := json.Unmarshal(rw.Body.Bytes(), &resp); err != nil {
		t.Fatalf("decode response: %v", err)
	}
	if resp.Challenge != "abc123" {
		t.Fatalf("challenge = %q", resp.Challenge)
	}
}

func TestAdapter_WebhookChallengeRejectsWrongToken(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret", VerificationToken: "vtok"})
	body := `{"challenge":"abc123","token":"wrong"}`
	req := httptest.NewRequest(http.MethodPost, "/lark", strings.NewReader(body))
	rw := httptest.NewRecorder()

	a.handleWebhook(make(chan channel.Message, 1))(rw, req)

	if rw.Code != http.StatusUnauthorized {
		t.Fatalf("status = %d, want 401", rw.Code)
	}
}

func TestAdapter_WebhookDispatchesTextMessage(t *testing.T) {
	a := New(Config{AppID: "cli_x", AppSecret: "secret", AllowedUsers: []string{"*"}})
	event := larkEvent{
		Header: larkEventHeader{EventType: eventTypeMessageReceive},
		Event: mustJSON(t, msgReceivePayload{
			Sender:  larkSender{SenderID: larkSenderID{OpenID: "ou_1"}, SenderType: "user"},
			Message: larkMessage{MessageID: "om_1", ChatID: "oc_1", ChatType: "p2p", MessageType: "text", Content: `{"text":"hi there"}`},
		}),
	}
	req := httptest.NewRequest(http.MethodPost, "/lark", strings.NewReader(string(mustJSON(t, event))))
	rw := httptest.NewRecorder()
	out := make(chan channel.Message, 1)

	a.handleWebhook(out)(rw, req)

	if rw.Code != http.StatusOK {
		t.Fatalf("status = %d", rw.Code)
	}
	select {
	case m := <-out:
		if m.Content != "hi there" || m.ReplyTarget != "oc_1" {
			t.Fatalf("message = %+v", m)
		}
	default:
		t.Fatal("expected a message to be forwarded")
	}
}

func mustJSON(t *testing.T, v any) []byte {
	t.Helper()
	b, err := json.Marshal(v)
	if err != nil {
		t.Fatalf("marshal: %v", err)
	}
	return b
}
