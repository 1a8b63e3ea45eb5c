package httpapi

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"sync/atomic"
	"testing"
	"time"

	"github.com/gorilla/websocket"

	"github.com/litlabs-admin/daddyjohn/internal/auth"
	"github.com/litlabs-admin/daddyjohn/internal/chat"
	"github.com/litlabs-admin/daddyjohn/internal/completion"
	"github.com/litlabs-admin/daddyjohn/internal/memory"
	"github.com/litlabs-admin/daddyjohn/internal/observability"
	"github.com/litlabs-admin/daddyjohn/internal/protocol"
)

var namespaceSeq atomic.Int64

func testMetrics(t *testing.T) *observability.Metrics {
	t.Helper()
	return observability.NewMetrics(fmt.Sprintf("test_httpapi_%d_%d", time.Now().UnixNano(), namespaceSeq.Add(1)))
}

type stubChat struct {
	mu    sync.Mutex
	reply string
	err   error
	panic bool
	got   []string
	ids   []auth.Identity
}

func (c *stubChat) Handle(_ context.Context, id auth.Identity, message string) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.panic {
		panic("boom")
	}
	c.got = append(c.got, message)
	c.ids = append(c.ids, id)
	return c.reply, c.err
}

func (c *stubChat) fail(err error) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.err = err
}

func (c *stubChat) calls() ([]string, []auth.Identity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	return append([]string(nil), c.got...), append([]auth.Identity(nil), c.ids...)
}

type failingDirectory struct{}

func (failingDirectory) FindInvitedUser(context.Context, string) (memory.InvitedUser, error) {
	return memory.InvitedUser{}, fmt.Errorf("find user: %w", memory.ErrUnavailable)
}

type fixture struct {
	ts     *httptest.Server
	tokens *auth.Authority
	store  *memory.InMemoryStore
	chat   *stubChat
}

func newFixture(t *testing.T, users UserDirectory) *fixture {
	t.Helper()
	store := memory.NewInMemoryStore()
	if users == nil {
		users = store
	}
	tokens := auth.NewAuthority([]byte("test-secret"), time.Hour)
	c := &stubChat{reply: "Hey kiddo!"}
	srv := New(tokens, users, c, testMetrics(t), nil)
	ts := httptest.NewServer(srv.Router())
	t.Cleanup(ts.Close)
	return &fixture{ts: ts, tokens: tokens, store: store, chat: c}
}

func (f *fixture) post(t *testing.T, path, token, body string) (int, map[string]any) {
	t.Helper()
	req, err := http.NewRequest(http.MethodPost, f.ts.URL+path, strings.NewReader(body))
	if err != nil {
		t.Fatalf("new request: %v", err)
	}
	req.Header.Set("Content-Type", "application/json")
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("POST %s error = %v", path, err)
	}
	defer res.Body.Close()
	var payload map[string]any
	if err := json.NewDecoder(res.Body).Decode(&payload); err != nil {
		t.Fatalf("decode %s response: %v", path, err)
	}
	return res.StatusCode, payload
}

func seedUser(t *testing.T, store *memory.InMemoryStore, email, password string, active bool) memory.InvitedUser {
	t.Helper()
	hash, err := auth.HashPassword(password)
	if err != nil {
		t.Fatalf("hash password: %v", err)
	}
	user, err := store.CreateInvitedUser(context.Background(), email, hash, active)
	if err != nil {
		t.Fatalf("create user: %v", err)
	}
	return user
}

func TestLogin(t *testing.T) {
	f := newFixture(t, nil)
	user := seedUser(t, f.store, "kid@example.com", "hunter22", true)
	seedUser(t, f.store, "gone@example.com", "hunter22", false)

	cases := []struct {
		name       string
		body       string
		wantStatus int
		wantError  string
	}{
		{"empty body", "", http.StatusBadRequest, "Invalid JSON data"},
		{"not json", "{nope", http.StatusBadRequest, "Invalid JSON data"},
		{"missing password", `{"email":"kid@example.com"}`, http.StatusBadRequest, "Email and password are required"},
		{"unknown email", `{"email":"who@example.com","password":"x"}`, http.StatusUnauthorized, "Invalid email or password"},
		{"wrong password", `{"email":"kid@example.com","password":"nope"}`, http.StatusUnauthorized, "Invalid email or password"},
		{"inactive", `{"email":"gone@example.com","password":"hunter22"}`, http.StatusUnauthorized, "Account is not active"},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			status, payload := f.post(t, "/api/login", "", tc.body)
			if status != tc.wantStatus {
				t.Fatalf("status = %d, want %d", status, tc.wantStatus)
			}
			if payload["error"] != tc.wantError {
				t.Fatalf("error = %v, want %q", payload["error"], tc.wantError)
			}
		})
	}

	status, payload := f.post(t, "/api/login", "", `{"email":"  KID@Example.com ","password":"hunter22"}`)
	if status != http.StatusOK {
		t.Fatalf("login status = %d, want 200 (%v)", status, payload)
	}
	token, _ := payload["token"].(string)
	id, err := f.tokens.Verify(token)
	if err != nil {
		t.Fatalf("issued token does not verify: %v", err)
	}
	if id.UserID != user.ID || id.Email != "kid@example.com" {
		t.Fatalf("identity = %+v, want user %s", id, user.ID)
	}
	u, _ := payload["user"].(map[string]any)
	if u["id"] != user.ID || u["email"] != "kid@example.com" {
		t.Fatalf("user = %v", u)
	}
}

func TestLoginStoreUnavailable(t *testing.T) {
	f := newFixture(t, failingDirectory{})
	status, payload := f.post(t, "/api/login", "", `{"email":"kid@example.com","password":"x"}`)
	if status != http.StatusServiceUnavailable {
		t.Fatalf("status = %d, want 503", status)
	}
	if payload["error"] != "Login service temporarily unavailable" {
		t.Fatalf("error = %v", payload["error"])
	}
}

func TestChatRequiresToken(t *testing.T) {
	f := newFixture(t, nil)
	expired := auth.NewAuthority([]byte("test-secret"), time.Hour)
	expired.SetClock(func() time.Time { return time.Now().Add(-2 * time.Hour) })
	stale, err := expired.Issue("u1", "kid@example.com")
	if err != nil {
		t.Fatalf("issue: %v", err)
	}

	cases := map[string]struct {
		header string
		want   string
	}{
		"missing":   {"", "Missing Authorization header"},
		"malformed": {"Token abc", "Invalid Authorization header format"},
		"expired":   {"Bearer " + stale, "Invalid or expired token"},
	}
	for name, tc := range cases {
		t.Run(name, func(t *testing.T) {
			req, _ := http.NewRequest(http.MethodPost, f.ts.URL+"/api/chat", strings.NewReader(`{"message":"hi"}`))
			if tc.header != "" {
				req.Header.Set("Authorization", tc.header)
			}
			res, err := http.DefaultClient.Do(req)
			if err != nil {
				t.Fatalf("POST error = %v", err)
			}
			defer res.Body.Close()
			var payload protocol.ErrorResponse
			_ = json.NewDecoder(res.Body).Decode(&payload)
			if res.StatusCode != http.StatusUnauthorized || payload.Error != tc.want {
				t.Fatalf("got %d %q, want 401 %q", res.StatusCode, payload.Error, tc.want)
			}
		})
	}
	if got, _ := f.chat.calls(); len(got) != 0 {
		t.Fatalf("chat handler called %d times without auth", len(got))
	}
}

func TestChatReplies(t *testing.T) {
	f := newFixture(t, nil)
	token, _ := f.tokens.Issue("u1", "kid@example.com")

	status, payload := f.post(t, "/api/chat", token, `{"message":"hi"}`)
	if status != http.StatusOK || payload["reply"] != "Hey kiddo!" {
		t.Fatalf("got %d %v", status, payload)
	}
	got, ids := f.chat.calls()
	if got[0] != "hi" || ids[0].UserID != "u1" {
		t.Fatalf("chat saw %q for %+v", got[0], ids[0])
	}

	status, payload = f.post(t, "/api/chat", token, `not json`)
	if status != http.StatusBadRequest || payload["error"] != "Invalid JSON data" {
		t.Fatalf("malformed body got %d %v", status, payload)
	}
}

func TestChatStrictErrors(t *testing.T) {
	f := newFixture(t, nil)
	token, _ := f.tokens.Issue("u1", "kid@example.com")

	f.chat.fail(&chat.ValidationError{Kind: chat.EmptyMessage})
	status, payload := f.post(t, "/api/chat", token, `{"message":""}`)
	if status != http.StatusBadRequest || payload["error"] != "Message is required and cannot be empty" {
		t.Fatalf("empty message got %d %v", status, payload)
	}

	f.chat.fail(&completion.UpstreamError{Kind: completion.TransportFailure, Attempts: 3, Err: errors.New("502")})
	status, payload = f.post(t, "/api/chat", token, `{"message":"hello"}`)
	if status != http.StatusServiceUnavailable || payload["error"] != "AI service is currently unavailable. Please try again later." {
		t.Fatalf("upstream failure got %d %v", status, payload)
	}
}

func TestChatPanicBecomesJSON500(t *testing.T) {
	f := newFixture(t, nil)
	f.chat.mu.Lock()
	f.chat.panic = true
	f.chat.mu.Unlock()
	token, _ := f.tokens.Issue("u1", "kid@example.com")

	status, payload := f.post(t, "/api/chat", token, `{"message":"hello"}`)
	if status != http.StatusInternalServerError || payload["error"] != "Internal server error" {
		t.Fatalf("got %d %v", status, payload)
	}
}

func TestHealthAndFallbackRoutes(t *testing.T) {
	f := newFixture(t, nil)

	res, err := http.Get(f.ts.URL + "/health")
	if err != nil {
		t.Fatalf("GET /health error = %v", err)
	}
	var health protocol.HealthResponse
	if err := json.NewDecoder(res.Body).Decode(&health); err != nil {
		t.Fatalf("decode health: %v", err)
	}
	res.Body.Close()
	if health.Status != "healthy" || health.Timestamp <= 0 {
		t.Fatalf("health = %+v", health)
	}

	res, err = http.Get(f.ts.URL + "/nope")
	if err != nil {
		t.Fatalf("GET /nope error = %v", err)
	}
	var body protocol.ErrorResponse
	_ = json.NewDecoder(res.Body).Decode(&body)
	res.Body.Close()
	if res.StatusCode != http.StatusNotFound || body.Error != "Endpoint not found" {
		t.Fatalf("404 got %d %q", res.StatusCode, body.Error)
	}

	res, err = http.Get(f.ts.URL + "/api/chat")
	if err != nil {
		t.Fatalf("GET /api/chat error = %v", err)
	}
	body = protocol.ErrorResponse{}
	_ = json.NewDecoder(res.Body).Decode(&body)
	res.Body.Close()
	if res.StatusCode != http.StatusMethodNotAllowed || body.Error != "Method not allowed" {
		t.Fatalf("405 got %d %q", res.StatusCode, body.Error)
	}

	res, err = http.Get(f.ts.URL + "/metrics")
	if err != nil {
		t.Fatalf("GET /metrics error = %v", err)
	}
	var buf bytes.Buffer
	_, _ = buf.ReadFrom(res.Body)
	res.Body.Close()
	if res.StatusCode != http.StatusOK || !strings.Contains(buf.String(), "http_requests_total") {
		t.Fatalf("metrics got %d", res.StatusCode)
	}
}

func TestCORSPreflight(t *testing.T) {
	f := newFixture(t, nil)
	req, _ := http.NewRequest(http.MethodOptions, f.ts.URL+"/api/chat", nil)
	req.Header.Set("Origin", "https://example.org")
	req.Header.Set("Access-Control-Request-Method", http.MethodPost)
	req.Header.Set("Access-Control-Request-Headers", "Authorization, Content-Type")
	res, err := http.DefaultClient.Do(req)
	if err != nil {
		t.Fatalf("OPTIONS error = %v", err)
	}
	res.Body.Close()
	if got := res.Header.Get("Access-Control-Allow-Origin"); got != "*" {
		t.Fatalf("Access-Control-Allow-Origin = %q, want *", got)
	}
}

func TestChatWebSocket(t *testing.T) {
	f := newFixture(t, nil)
	token, _ := f.tokens.Issue("u1", "kid@example.com")
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/chat/ws"

	if _, res, err := websocket.DefaultDialer.Dial(wsURL, nil); err == nil {
		t.Fatalf("dial without token succeeded")
	} else if res == nil || res.StatusCode != http.StatusUnauthorized {
		t.Fatalf("dial without token: %v", err)
	}

	conn, _, err := websocket.DefaultDialer.Dial(wsURL+"?token="+token, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	if err := conn.WriteJSON(protocol.ChatMessage{Type: protocol.TypeChatMessage, RequestID: "r1", Message: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply protocol.ChatReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.Type != protocol.TypeChatReply || reply.RequestID != "r1" || reply.Reply != "Hey kiddo!" {
		t.Fatalf("reply = %+v", reply)
	}

	if err := conn.WriteMessage(websocket.TextMessage, []byte(`{"type":"bogus"}`)); err != nil {
		t.Fatalf("write: %v", err)
	}
	var event protocol.ErrorEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if event.Type != protocol.TypeErrorEvent || event.Code != "invalid_client_message" {
		t.Fatalf("event = %+v", event)
	}

	f.chat.fail(&completion.UpstreamError{Kind: completion.Timeout, Attempts: 3})
	if err := conn.WriteJSON(protocol.ChatMessage{Type: protocol.TypeChatMessage, RequestID: "r2", Message: "again"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	event = protocol.ErrorEvent{}
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if event.RequestID != "r2" || event.Code != "timeout" || !event.Retryable {
		t.Fatalf("event = %+v", event)
	}
}

func TestChatRejectsBodiesWithoutFields(t *testing.T) {
	f := newFixture(t, nil)
	token, _ := f.tokens.Issue("u1", "kid@example.com")

	for _, body := range []string{`null`, `{}`, `{"message":42}`, `[]`} {
		status, payload := f.post(t, "/api/chat", token, body)
		if status != http.StatusBadRequest || payload["error"] != "Invalid JSON data" {
			t.Fatalf("body %s got %d %v", body, status, payload)
		}
	}
	if got, _ := f.chat.calls(); len(got) != 0 {
		t.Fatalf("chat handler called for rejected bodies: %q", got)
	}

	status, payload := f.post(t, "/api/chat", token, `{"mood":"bored"}`)
	if status != http.StatusOK || payload["reply"] != "Hey kiddo!" {
		t.Fatalf("body without message got %d %v", status, payload)
	}
	if got, _ := f.chat.calls(); len(got) != 1 || got[0] != "" {
		t.Fatalf("chat saw %q, want one empty message", got)
	}
}

func TestChatWebSocketPanicKeepsConnection(t *testing.T) {
	f := newFixture(t, nil)
	token, _ := f.tokens.Issue("u1", "kid@example.com")
	wsURL := "ws" + strings.TrimPrefix(f.ts.URL, "http") + "/api/chat/ws?token=" + token

	conn, _, err := websocket.DefaultDialer.Dial(wsURL, nil)
	if err != nil {
		t.Fatalf("dial error = %v", err)
	}
	defer conn.Close()

	f.chat.mu.Lock()
	f.chat.panic = true
	f.chat.mu.Unlock()
	if err := conn.WriteJSON(protocol.ChatMessage{Type: protocol.TypeChatMessage, RequestID: "r1", Message: "hello"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var event protocol.ErrorEvent
	if err := conn.ReadJSON(&event); err != nil {
		t.Fatalf("read error event: %v", err)
	}
	if event.Type != protocol.TypeErrorEvent || event.RequestID != "r1" || event.Code != "internal" || event.Retryable {
		t.Fatalf("event = %+v", event)
	}

	f.chat.mu.Lock()
	f.chat.panic = false
	f.chat.mu.Unlock()
	if err := conn.WriteJSON(protocol.ChatMessage{Type: protocol.TypeChatMessage, RequestID: "r2", Message: "hi"}); err != nil {
		t.Fatalf("write: %v", err)
	}
	var reply protocol.ChatReply
	if err := conn.ReadJSON(&reply); err != nil {
		t.Fatalf("read reply: %v", err)
	}
	if reply.RequestID != "r2" || reply.Reply != "Hey kiddo!" {
		t.Fatalf("reply = %+v", reply)
	}
}
