/*
handlers_test.go - HTTP tests through the real router

Tests for:
- The full expense flow: group, friends, expense, approval, payment
- Error mapping to status codes
- Authentication (header and JWT)
- Notifications inbox and the unread SSE stream
- Ops endpoints
*/
package api

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"io"
	"net/http"
	"net/http/httptest"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/shopspring/decimal"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/warp/expense-ledger/docstore/memory"
	"github.com/warp/expense-ledger/i18n"
	"github.com/warp/expense-ledger/ledger"
	"github.com/warp/expense-ledger/notify"
)

type testServer struct {
	router   http.Handler
	ledger   *ledger.Service
	notify   *notify.Service
	registry *prometheus.Registry
}

func newTestServer(t *testing.T, auth *Authenticator) *testServer {
	t.Helper()
	store := memory.New()
	t.Cleanup(func() { store.Close() })

	tr, err := i18n.New(i18n.English, nil)
	require.NoError(t, err)
	notifications := notify.NewService(store, tr)

	reg := prometheus.NewRegistry()
	svc := ledger.NewService(store, notifications,
		ledger.WithBackoff(0),
		ledger.WithMetrics(ledger.NewMetrics(reg)))

	h := NewHandler(svc, notifications, nil)
	h.StreamHeartbeat = 50 * time.Millisecond
	return &testServer{
		router: NewRouter(h, RouterOptions{
			Auth:     auth,
			Metrics:  NewHTTPMetrics(reg),
			Gatherer: reg,
		}),
		ledger:   svc,
		notify:   notifications,
		registry: reg,
	}
}

func (s *testServer) do(t *testing.T, method, path, actor string, body any) *httptest.ResponseRecorder {
	t.Helper()
	var r io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		r = bytes.NewReader(b)
	}
	req := httptest.NewRequest(method, path, r)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if actor != "" {
		req.Header.Set(UserHeader, actor)
	}
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	return rec
}

func decodeBody[T any](t *testing.T, rec *httptest.ResponseRecorder) T {
	t.Helper()
	var v T
	require.NoError(t, json.Unmarshal(rec.Body.Bytes(), &v), rec.Body.String())
	return v
}

// friendsGroup creates a group owned by owner with the given friends as members.
func (s *testServer) friendsGroup(t *testing.T, owner string, members ...string) string {
	t.Helper()
	rec := s.do(t, http.MethodPost, "/api/groups", owner, CreateGroupRequest{Name: "Trip", Currency: "eur"})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	g := decodeBody[ledger.Group](t, rec)
	assert.Equal(t, "EUR", g.Currency)

	for _, m := range members {
		rec = s.do(t, http.MethodPost, "/api/friend-requests", owner, FriendRequestRequest{ToUserID: m})
		require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
		id := decodeBody[IDResponse](t, rec).ID

		rec = s.do(t, http.MethodPost, "/api/friend-requests/"+id+"/accept", m, nil)
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

		rec = s.do(t, http.MethodPost, "/api/groups/"+g.ID+"/members", owner, AddMemberRequest{UserID: m})
		require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	}
	return g.ID
}

func assertBalances(t *testing.T, s *testServer, groupID, actor string, want map[string]string) {
	t.Helper()
	rec := s.do(t, http.MethodGet, "/api/groups/"+groupID+"/balances", actor, nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	got := decodeBody[BalancesResponse](t, rec)
	require.Len(t, got.Balances, len(want))
	for user, amount := range want {
		assert.True(t, got.Balances[user].Equal(decimal.RequireFromString(amount)),
			"balance of %s: got %s want %s", user, got.Balances[user], amount)
	}
}

// =============================================================================
// FLOWS
// =============================================================================

func TestExpenseFlow(t *testing.T) {
	// GIVEN: owner A and friend B in a group
	// WHEN: A logs 90 split equally, approves it, B pays 45 and A confirms
	// THEN: balances move to A +45 / B -45 and back to zero

	s := newTestServer(t, nil)
	gid := s.friendsGroup(t, "A", "B")

	rec := s.do(t, http.MethodPost, "/api/groups/"+gid+"/expenses", "A", CreateExpenseRequest{
		Description:  "Dinner",
		Amount:       decimal.RequireFromString("90"),
		DivisionType: "EQUAL",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	e := decodeBody[ledger.Expense](t, rec)
	assert.Equal(t, ledger.ExpensePending, e.Status)
	require.Len(t, e.Divisions, 2)

	assertBalances(t, s, gid, "B", map[string]string{"A": "0", "B": "0"})

	rec = s.do(t, http.MethodPost, "/api/expenses/"+e.ID+"/approve", "A", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertBalances(t, s, gid, "A", map[string]string{"A": "45", "B": "-45"})

	rec = s.do(t, http.MethodGet, "/api/groups/"+gid+"/settlements", "B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	settle := decodeBody[SettlementsResponse](t, rec)
	require.Len(t, settle.Transfers, 1)
	assert.Equal(t, "B", settle.Transfers[0].From)
	assert.Equal(t, "A", settle.Transfers[0].To)

	rec = s.do(t, http.MethodPost, "/api/expenses/"+e.ID+"/payments", "B", CreatePaymentRequest{
		Amount:        decimal.RequireFromString("45"),
		PaymentMethod: "PIX",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	p := decodeBody[ledger.Payment](t, rec)
	assert.Equal(t, "A", p.ToUserID)

	rec = s.do(t, http.MethodPost, "/api/payments/"+p.ID+"/confirm", "A", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assertBalances(t, s, gid, "A", map[string]string{"A": "0", "B": "0"})

	rec = s.do(t, http.MethodGet, "/api/groups/"+gid, "B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, ledger.GroupSettled, decodeBody[ledger.Group](t, rec).Status)

	rec = s.do(t, http.MethodGet, "/api/expenses/"+e.ID+"/payments", "B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ledger.Payment](t, rec), 1)

	rec = s.do(t, http.MethodGet, "/api/groups/"+gid+"/expenses", "A", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Len(t, decodeBody[[]ledger.Expense](t, rec), 1)

	now := time.Now().UTC()
	rec = s.do(t, http.MethodGet, "/api/me/total-paid?year="+strconv.Itoa(now.Year())+"&month="+strconv.Itoa(int(now.Month())), "A", nil)
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())
	assert.Equal(t, "90.00", decodeBody[map[string]string](t, rec)["total"])
}

func TestRejectExpense_WithReason(t *testing.T) {
	s := newTestServer(t, nil)
	gid := s.friendsGroup(t, "A", "B")

	rec := s.do(t, http.MethodPost, "/api/groups/"+gid+"/expenses", "B", CreateExpenseRequest{
		Description:  "Taxi",
		Amount:       decimal.RequireFromString("20"),
		DivisionType: "EQUAL",
	})
	require.Equal(t, http.StatusCreated, rec.Code, rec.Body.String())
	e := decodeBody[ledger.Expense](t, rec)

	rec = s.do(t, http.MethodPost, "/api/expenses/"+e.ID+"/reject", "A", RejectRequest{Reason: "duplicate"})
	require.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	rec = s.do(t, http.MethodPost, "/api/expenses/"+e.ID+"/approve", "A", nil)
	assert.Equal(t, http.StatusConflict, rec.Code)

	list, err := s.notify.List(context.Background(), "B", 0)
	require.NoError(t, err)
	require.NotEmpty(t, list)
	assert.Equal(t, ledger.EventExpenseRejected, list[0].Type)
	assert.Contains(t, list[0].Message, "Reason: duplicate")
}

// =============================================================================
// ERROR MAPPING
// =============================================================================

func TestErrorMapping(t *testing.T) {
	s := newTestServer(t, nil)
	gid := s.friendsGroup(t, "A", "B")

	rec := s.do(t, http.MethodPost, "/api/groups/"+gid+"/expenses", "B", CreateExpenseRequest{
		Description:  "Tickets",
		Amount:       decimal.RequireFromString("100"),
		DivisionType: "CUSTOM",
		Divisions: []DivisionRequest{
			{UserID: "A", Value: decimal.RequireFromString("40")},
			{UserID: "B", Value: decimal.RequireFromString("50")},
		},
	})
	assert.Equal(t, http.StatusBadRequest, rec.Code)
	body := decodeBody[ErrorResponse](t, rec)
	assert.Equal(t, "Failed to create expense", body.Error)
	assert.NotEmpty(t, body.Details)

	rec = s.do(t, http.MethodPost, "/api/groups/"+gid+"/expenses", "B", CreateExpenseRequest{
		Description:  "Tickets",
		Amount:       decimal.RequireFromString("100"),
		DivisionType: "EQUAL",
	})
	require.Equal(t, http.StatusCreated, rec.Code)
	e := decodeBody[ledger.Expense](t, rec)

	tests := []struct {
		name   string
		method string
		path   string
		actor  string
		body   any
		want   int
	}{
		{"non-owner approves", http.MethodPost, "/api/expenses/" + e.ID + "/approve", "B", nil, http.StatusForbidden},
		{"unknown expense", http.MethodPost, "/api/expenses/nope/approve", "A", nil, http.StatusNotFound},
		{"stranger reads group", http.MethodGet, "/api/groups/" + gid, "Z", nil, http.StatusForbidden},
		{"stranger reads expense", http.MethodGet, "/api/expenses/" + e.ID, "Z", nil, http.StatusForbidden},
		{"unknown group", http.MethodGet, "/api/groups/nope", "A", nil, http.StatusNotFound},
		{"malformed body", http.MethodPost, "/api/groups", "A", "not an object", http.StatusBadRequest},
		{"unknown field", http.MethodPost, "/api/friend-requests", "A", map[string]string{"to": "B"}, http.StatusBadRequest},
		{"bad month", http.MethodGet, "/api/me/total-paid?year=2025&month=13", "A", nil, http.StatusBadRequest},
		{"missing month", http.MethodGet, "/api/me/total-paid?year=2025", "A", nil, http.StatusBadRequest},
		{"unknown route", http.MethodGet, "/nope", "A", nil, http.StatusNotFound},
	}
	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rec := s.do(t, tt.method, tt.path, tt.actor, tt.body)
			assert.Equal(t, tt.want, rec.Code, rec.Body.String())
		})
	}
}

func TestStatusFor(t *testing.T) {
	tests := []struct {
		err  error
		want int
	}{
		{&ledger.ValidationError{Field: "amount", Reason: "must be positive"}, http.StatusBadRequest},
		{&ledger.AuthorizationError{ActorID: "B", Action: "approve", Required: "owner"}, http.StatusForbidden},
		{&ledger.NotFoundError{Kind: "expense", ID: "e1"}, http.StatusNotFound},
		{&ledger.AlreadyProcessedError{Kind: "expense", ID: "e1", Status: "APPROVED"}, http.StatusConflict},
		{&ledger.StoreUnavailableError{Op: "approve", Err: context.DeadlineExceeded}, http.StatusServiceUnavailable},
		{io.ErrUnexpectedEOF, http.StatusInternalServerError},
	}
	for _, tt := range tests {
		assert.Equal(t, tt.want, statusFor(tt.err), "%v", tt.err)
	}
}

// =============================================================================
// AUTHENTICATION
// =============================================================================

func TestAuth_HeaderRequiredInDevMode(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodGet, "/api/groups", "", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_JWT(t *testing.T) {
	auth := NewAuthenticator("test-secret", time.Hour)
	s := newTestServer(t, auth)

	token, err := auth.Issue("A")
	require.NoError(t, err)

	req := httptest.NewRequest(http.MethodGet, "/api/groups", nil)
	req.Header.Set("Authorization", "Bearer "+token)
	rec := httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusOK, rec.Code, rec.Body.String())

	// The development header is ignored once a secret is set.
	rec = s.do(t, http.MethodGet, "/api/groups", "A", nil)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)

	forged, err := NewAuthenticator("other-secret", time.Hour).Issue("A")
	require.NoError(t, err)
	req = httptest.NewRequest(http.MethodGet, "/api/groups", nil)
	req.Header.Set("Authorization", "Bearer "+forged)
	rec = httptest.NewRecorder()
	s.router.ServeHTTP(rec, req)
	assert.Equal(t, http.StatusUnauthorized, rec.Code)
}

func TestAuth_ExpiredToken(t *testing.T) {
	auth := NewAuthenticator("test-secret", time.Minute)
	auth.now = func() time.Time { return time.Now().Add(-time.Hour) }
	token, err := auth.Issue("A")
	require.NoError(t, err)

	_, err = NewAuthenticator("test-secret", time.Minute).Validate(token)
	assert.ErrorIs(t, err, ErrInvalidToken)
}

// =============================================================================
// NOTIFICATIONS
// =============================================================================

func TestNotificationsInbox(t *testing.T) {
	s := newTestServer(t, nil)
	rec := s.do(t, http.MethodPost, "/api/friend-requests", "A", FriendRequestRequest{ToUserID: "B"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/notifications/unread-count", "B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, 1, decodeBody[CountResponse](t, rec).Count)

	rec = s.do(t, http.MethodGet, "/api/notifications?limit=10", "B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	list := decodeBody[[]notify.Notification](t, rec)
	require.Len(t, list, 1)
	assert.Equal(t, "New friend request", list[0].Title)

	rec = s.do(t, http.MethodPost, "/api/notifications/"+list[0].ID+"/read", "A", nil)
	assert.Equal(t, http.StatusForbidden, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/notifications/"+list[0].ID+"/read", "B", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)

	rec = s.do(t, http.MethodPost, "/api/notifications/read-all", "B", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Zero(t, decodeBody[CountResponse](t, rec).Count)

	rec = s.do(t, http.MethodPost, "/api/notifications/"+list[0].ID+"/archive", "B", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodGet, "/api/notifications", "B", nil)
	assert.Empty(t, decodeBody[[]notify.Notification](t, rec))

	rec = s.do(t, http.MethodDelete, "/api/notifications/"+list[0].ID, "B", nil)
	assert.Equal(t, http.StatusNoContent, rec.Code)
	rec = s.do(t, http.MethodDelete, "/api/notifications/"+list[0].ID, "B", nil)
	assert.Equal(t, http.StatusNotFound, rec.Code)

	rec = s.do(t, http.MethodGet, "/api/notifications?limit=-1", "B", nil)
	assert.Equal(t, http.StatusBadRequest, rec.Code)
}

func TestStreamUnread(t *testing.T) {
	// GIVEN: B subscribed to the unread stream
	// WHEN: A sends B a friend request
	// THEN: B receives the initial count 0 and then 1

	s := newTestServer(t, nil)
	srv := httptest.NewServer(s.router)
	defer srv.Close()

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, srv.URL+"/api/notifications/stream", nil)
	require.NoError(t, err)
	req.Header.Set(UserHeader, "B")

	resp, err := srv.Client().Do(req)
	require.NoError(t, err)
	defer resp.Body.Close()
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "text/event-stream", resp.Header.Get("Content-Type"))

	events := make(chan string, 8)
	go func() {
		defer close(events)
		sc := bufio.NewScanner(resp.Body)
		for sc.Scan() {
			if data, ok := strings.CutPrefix(sc.Text(), "data: "); ok {
				events <- data
			}
		}
	}()

	assert.Equal(t, "0", nextEvent(t, events))

	_, err = s.ledger.SendFriendRequest(ctx, "A", "B")
	require.NoError(t, err)
	assert.Equal(t, "1", nextEvent(t, events))
}

func nextEvent(t *testing.T, events <-chan string) string {
	t.Helper()
	select {
	case e, ok := <-events:
		require.True(t, ok, "stream closed")
		return e
	case <-time.After(3 * time.Second):
		t.Fatal("timed out waiting for event")
		return ""
	}
}

// =============================================================================
// OPS
// =============================================================================

func TestOpsEndpoints(t *testing.T) {
	s := newTestServer(t, nil)

	rec := s.do(t, http.MethodGet, "/health", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Equal(t, "ok", decodeBody[HealthResponse](t, rec).Status)

	// Generate one ledger transition and one observed request.
	rec = s.do(t, http.MethodPost, "/api/groups", "A", CreateGroupRequest{Name: "Trip"})
	require.Equal(t, http.StatusCreated, rec.Code)

	rec = s.do(t, http.MethodGet, "/metrics", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	metrics := rec.Body.String()
	assert.Contains(t, metrics, "ledger_transitions_total")
	assert.Contains(t, metrics, `http_request_duration_seconds_count{method="POST",route="/api/groups/",status="201"} 1`)

	rec = s.do(t, http.MethodGet, "/swagger/doc.json", "", nil)
	require.Equal(t, http.StatusOK, rec.Code)
	assert.Contains(t, rec.Body.String(), `"/groups/{id}/expenses"`)
}
