package server

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"
	"net/http/httptest"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/gorilla/websocket"
	"github.com/parlorchat/parlor/internal/history"
	"github.com/parlorchat/parlor/internal/hub"
	"github.com/parlorchat/parlor/internal/presence"
	"github.com/parlorchat/parlor/internal/subscription"
)

func TestMain(m *testing.M) {
	gin.SetMode(gin.TestMode)
	m.Run()
}

type stubHistoryStore struct {
	recent    []history.Message
	recentErr error
}

func (s *stubHistoryStore) Insert(ctx context.Context, user, content string) error {
	return nil
}

func (s *stubHistoryStore) Recent(ctx context.Context, limit int) ([]history.Message, error) {
	if s.recentErr != nil {
		return nil, s.recentErr
	}
	if limit < len(s.recent) {
		return s.recent[:limit], nil
	}
	return s.recent, nil
}

type stubSubscriptionStore struct {
	mu         sync.Mutex
	inserted   []subscription.Record
	removed    []string
	subscribed map[string]bool
	insertErr  error
	removeErr  error
	checkErr   error
}

func (s *stubSubscriptionStore) Insert(ctx context.Context, record subscription.Record) error {
	if err := record.Validate(); err != nil {
		return err
	}
	if s.insertErr != nil {
		return s.insertErr
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.inserted = append(s.inserted, record)
	return nil
}

func (s *stubSubscriptionStore) Remove(ctx context.Context, userID string) error {
	if s.removeErr != nil {
		return s.removeErr
	}
	if !s.subscribed[userID] {
		return subscription.ErrNoSubscriptions
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	s.removed = append(s.removed, userID)
	return nil
}

func (s *stubSubscriptionStore) IsSubscribed(ctx context.Context, userID string) (bool, error) {
	if s.checkErr != nil {
		return false, s.checkErr
	}
	return s.subscribed[userID], nil
}

func (s *stubSubscriptionStore) AllExcluding(ctx context.Context, excludeUserID string) ([]subscription.Record, error) {
	return nil, nil
}

type routerFixture struct {
	handler       http.Handler
	history       *stubHistoryStore
	subscriptions *stubSubscriptionStore
}

func newRouterFixture(t *testing.T) *routerFixture {
	t.Helper()

	fixture := &routerFixture{
		history:       &stubHistoryStore{},
		subscriptions: &stubSubscriptionStore{subscribed: map[string]bool{}},
	}

	chatHub, err := hub.New(hub.Config{
		Presence: presence.NewRegistry(),
		History:  fixture.history,
	})
	if err != nil {
		t.Fatalf("failed to construct hub: %v", err)
	}
	go chatHub.Run()
	t.Cleanup(func() {
		_ = chatHub.Shutdown(time.Second)
	})

	handler, err := NewHTTPHandler(Dependencies{
		History:       fixture.history,
		Subscriptions: fixture.subscriptions,
		Hub:           chatHub,
	})
	if err != nil {
		t.Fatalf("failed to construct handler: %v", err)
	}
	fixture.handler = handler
	return fixture
}

func performRequest(t *testing.T, handler http.Handler, method, target, body string) *httptest.ResponseRecorder {
	t.Helper()
	var reader *strings.Reader
	if body == "" {
		reader = strings.NewReader("")
	} else {
		reader = strings.NewReader(body)
	}
	request := httptest.NewRequest(method, target, reader)
	if body != "" {
		request.Header.Set("Content-Type", "application/json")
	}
	recorder := httptest.NewRecorder()
	handler.ServeHTTP(recorder, request)
	return recorder
}

func decodeJSONBody(t *testing.T, recorder *httptest.ResponseRecorder) map[string]any {
	t.Helper()
	var payload map[string]any
	if err := json.Unmarshal(recorder.Body.Bytes(), &payload); err != nil {
		t.Fatalf("failed to decode response body %q: %v", recorder.Body.String(), err)
	}
	return payload
}

func TestHandlerRequiresDependencies(t *testing.T) {
	if _, err := NewHTTPHandler(Dependencies{}); err == nil {
		t.Fatal("expected construction error without dependencies")
	}
}

func TestHealthEndpoint(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := performRequest(t, fixture.handler, http.MethodGet, "/healthz", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if payload := decodeJSONBody(t, recorder); payload["status"] != "ok" {
		t.Fatalf("unexpected health payload %v", payload)
	}
}

func TestSubscribeStoresRecord(t *testing.T) {
	fixture := newRouterFixture(t)

	body := `{"endpoint":"https://push.example.com/send/abc","keys":{"auth":"auth-key","p256dh":"curve-key"}}`
	recorder := performRequest(t, fixture.handler, http.MethodPut, "/user-1/subscribe", body)
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if payload := decodeJSONBody(t, recorder); payload["message"] != "Subscribed successfully" {
		t.Fatalf("unexpected response payload %v", payload)
	}

	if len(fixture.subscriptions.inserted) != 1 {
		t.Fatalf("expected 1 stored record, got %d", len(fixture.subscriptions.inserted))
	}
	record := fixture.subscriptions.inserted[0]
	if record.UserID != "user-1" {
		t.Fatalf("expected user id from path, got %q", record.UserID)
	}
	if record.Endpoint != "https://push.example.com/send/abc" {
		t.Fatalf("unexpected endpoint %q", record.Endpoint)
	}
	if record.AuthKey != "auth-key" || record.P256dhKey != "curve-key" {
		t.Fatalf("unexpected keys %q %q", record.AuthKey, record.P256dhKey)
	}
}

func TestSubscribeRejectsIncompletePayload(t *testing.T) {
	fixture := newRouterFixture(t)

	testCases := []struct {
		name string
		body string
	}{
		{name: "missing keys", body: `{"endpoint":"https://push.example.com/send/abc"}`},
		{name: "missing endpoint", body: `{"keys":{"auth":"a","p256dh":"p"}}`},
		{name: "missing auth key", body: `{"endpoint":"https://push.example.com/x","keys":{"p256dh":"p"}}`},
		{name: "not json", body: `endpoint=abc`},
	}
	for _, testCase := range testCases {
		t.Run(testCase.name, func(t *testing.T) {
			recorder := performRequest(t, fixture.handler, http.MethodPut, "/user-1/subscribe", testCase.body)
			if recorder.Code != http.StatusBadRequest {
				t.Fatalf("expected 400, got %d", recorder.Code)
			}
			if payload := decodeJSONBody(t, recorder); payload["error"] != "Invalid subscription payload" {
				t.Fatalf("unexpected error payload %v", payload)
			}
		})
	}
	if len(fixture.subscriptions.inserted) != 0 {
		t.Fatalf("expected no stored records, got %d", len(fixture.subscriptions.inserted))
	}
}

func TestSubscribeRejectsBlankUserID(t *testing.T) {
	fixture := newRouterFixture(t)

	body := `{"endpoint":"https://push.example.com/send/abc","keys":{"auth":"a","p256dh":"p"}}`
	recorder := performRequest(t, fixture.handler, http.MethodPut, "/%20/subscribe", body)
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if payload := decodeJSONBody(t, recorder); payload["error"] != "User ID not provided" {
		t.Fatalf("unexpected error payload %v", payload)
	}
}

func TestSubscribeReportsStoreFailure(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.subscriptions.insertErr = errors.New("backend down")

	body := `{"endpoint":"https://push.example.com/send/abc","keys":{"auth":"a","p256dh":"p"}}`
	recorder := performRequest(t, fixture.handler, http.MethodPut, "/user-1/subscribe", body)
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestSubscribedCheck(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.subscriptions.subscribed["user-1"] = true

	recorder := performRequest(t, fixture.handler, http.MethodGet, "/user-1/subscribed", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if payload := decodeJSONBody(t, recorder); payload["subscribed"] != true {
		t.Fatalf("unexpected payload %v", payload)
	}

	recorder = performRequest(t, fixture.handler, http.MethodGet, "/user-2/subscribed", "")
	if payload := decodeJSONBody(t, recorder); payload["subscribed"] != false {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestSubscribedCheckReportsStoreFailure(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.subscriptions.checkErr = errors.New("backend down")

	recorder := performRequest(t, fixture.handler, http.MethodGet, "/user-1/subscribed", "")
	if recorder.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", recorder.Code)
	}
}

func TestUnsubscribeRemovesSubscription(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.subscriptions.subscribed["user-1"] = true

	recorder := performRequest(t, fixture.handler, http.MethodPut, "/user-1/unsubscribe", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", recorder.Code, recorder.Body.String())
	}
	if payload := decodeJSONBody(t, recorder); payload["message"] != "Unsubscribed successfully" {
		t.Fatalf("unexpected payload %v", payload)
	}
	if len(fixture.subscriptions.removed) != 1 || fixture.subscriptions.removed[0] != "user-1" {
		t.Fatalf("unexpected removals %v", fixture.subscriptions.removed)
	}
}

func TestUnsubscribeUnknownUser(t *testing.T) {
	fixture := newRouterFixture(t)

	recorder := performRequest(t, fixture.handler, http.MethodPut, "/nobody/unsubscribe", "")
	if recorder.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", recorder.Code)
	}
	if payload := decodeJSONBody(t, recorder); payload["error"] != "Bad request: invalid User ID." {
		t.Fatalf("unexpected payload %v", payload)
	}
}

func TestCORSAllowsCrossOriginSubscribe(t *testing.T) {
	fixture := newRouterFixture(t)

	request := httptest.NewRequest(http.MethodOptions, "/user-1/subscribe", http.NoBody)
	request.Header.Set("Origin", "https://chat.example.com")
	request.Header.Set("Access-Control-Request-Method", http.MethodPut)
	request.Header.Set("Access-Control-Request-Headers", "Content-Type")

	recorder := httptest.NewRecorder()
	fixture.handler.ServeHTTP(recorder, request)

	if recorder.Code != http.StatusNoContent {
		t.Fatalf("expected preflight status %d, got %d", http.StatusNoContent, recorder.Code)
	}
	if origin := recorder.Header().Get("Access-Control-Allow-Origin"); origin != "*" {
		t.Fatalf("expected wildcard origin, got %q", origin)
	}
	allowMethods := recorder.Header().Get("Access-Control-Allow-Methods")
	if !strings.Contains(allowMethods, http.MethodPut) {
		t.Fatalf("expected PUT in allowed methods, got %q", allowMethods)
	}
}

func TestIndexRendersHistory(t *testing.T) {
	fixture := newRouterFixture(t)
	sentAt := time.Date(2026, 1, 2, 15, 4, 0, 0, time.UTC)
	fixture.history.recent = []history.Message{
		{User: "Ada", Content: "hello parlor", SentAt: float64(sentAt.Unix())},
	}

	recorder := performRequest(t, fixture.handler, http.MethodGet, "/", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	body := recorder.Body.String()
	for _, fragment := range []string{"Ada", "hello parlor", "2026-01-02 15:04"} {
		if !strings.Contains(body, fragment) {
			t.Fatalf("expected page to contain %q, body:\n%s", fragment, body)
		}
	}
}

func TestIndexRendersWhenHistoryUnavailable(t *testing.T) {
	fixture := newRouterFixture(t)
	fixture.history.recentErr = errors.New("backend down")

	recorder := performRequest(t, fixture.handler, http.MethodGet, "/", "")
	if recorder.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", recorder.Code)
	}
	if !strings.Contains(recorder.Body.String(), "<ul id=\"messages\">") {
		t.Fatal("expected empty message list to render")
	}
}

func TestWebsocketEndpointJoinsHub(t *testing.T) {
	fixture := newRouterFixture(t)

	server := httptest.NewServer(fixture.handler)
	defer server.Close()

	endpoint := "ws" + strings.TrimPrefix(server.URL, "http") + "/ws"
	conn, _, err := websocket.DefaultDialer.Dial(endpoint, nil)
	if err != nil {
		t.Fatalf("failed to dial websocket: %v", err)
	}
	defer conn.Close()

	conn.SetReadDeadline(time.Now().Add(2 * time.Second))
	_, frame, err := conn.ReadMessage()
	if err != nil {
		t.Fatalf("expected a presence frame after connect: %v", err)
	}
	var envelope struct {
		Event string `json:"event"`
		Data  struct {
			Count int `json:"count"`
		} `json:"data"`
	}
	if err := json.Unmarshal(frame, &envelope); err != nil {
		t.Fatalf("failed to decode frame %q: %v", frame, err)
	}
	if envelope.Event != "update_online_count" || envelope.Data.Count != 1 {
		t.Fatalf("unexpected first frame %s", frame)
	}
}
