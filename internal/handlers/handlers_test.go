package handlers

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/go-chi/chi/v5"
	"golang.org/x/crypto/bcrypt"

	"github.com/yofarm-hub/ussd/config"
	"github.com/yofarm-hub/ussd/internal/payment"
	"github.com/yofarm-hub/ussd/internal/services"
	"github.com/yofarm-hub/ussd/internal/store"
	"github.com/yofarm-hub/ussd/internal/ussd"
	"github.com/yofarm-hub/ussd/types"
)

type fakeCallbacks struct {
	phone, text string
}

func (f *fakeCallbacks) HandleCallback(ctx context.Context, phone, text string) ussd.Response {
	f.phone, f.text = phone, text
	return ussd.Con("Welcome")
}

func TestUSSDCallback(t *testing.T) {
	svc := &fakeCallbacks{}
	r := chi.NewRouter()
	r.Route("/ussd", func(r chi.Router) { USSDRouter(r, svc) })

	form := url.Values{"phoneNumber": {"+256701234567"}, "text": {"1*Jane"}, "sessionId": {"ATUid_1"}}
	req := httptest.NewRequest(http.MethodPost, "/ussd", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, req)

	if rec.Code != http.StatusOK || rec.Body.String() != "CON Welcome" {
		t.Fatalf("unexpected response: %d %q", rec.Code, rec.Body.String())
	}
	if !strings.HasPrefix(rec.Header().Get("Content-Type"), "text/plain") {
		t.Fatalf("unexpected content type %q", rec.Header().Get("Content-Type"))
	}
	if svc.phone != "+256701234567" || svc.text != "1*Jane" {
		t.Fatalf("unexpected arguments: %q %q", svc.phone, svc.text)
	}

	rec = httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/ussd?phoneNumber=0701234567&text=", nil))
	if rec.Code != http.StatusOK || svc.phone != "0701234567" || svc.text != "" {
		t.Fatalf("GET callback not handled: %d %q", rec.Code, svc.phone)
	}
}

type fakeReconciler struct {
	mu    sync.Mutex
	calls []types.PaymentNotification
	err   error
}

func (f *fakeReconciler) Reconcile(ctx context.Context, n types.PaymentNotification) error {
	f.mu.Lock()
	defer f.mu.Unlock()
	f.calls = append(f.calls, n)
	return f.err
}

type fakePublisher struct {
	published []types.PaymentNotification
	err       error
}

func (f *fakePublisher) Publish(ctx context.Context, n types.PaymentNotification) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	f.published = append(f.published, n)
	return "msg-1", nil
}

type fakeArchive struct {
	keys []string
	err  error
}

func (f *fakeArchive) StoreWebhook(ctx context.Context, txID string, payload []byte, receivedAt time.Time) (string, error) {
	if f.err != nil {
		return "", f.err
	}
	key := fmt.Sprintf("webhooks/%s.json", txID)
	f.keys = append(f.keys, key)
	return key, nil
}

func postWebhook(h *WebhookHandler, body string) *httptest.ResponseRecorder {
	r := chi.NewRouter()
	r.Route("/payment", func(r chi.Router) { WebhookRouter(r, h) })
	rec := httptest.NewRecorder()
	r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/payment/webhook", strings.NewReader(body)))
	return rec
}

func TestDecodeNotification(t *testing.T) {
	at := time.Date(2026, 6, 1, 0, 0, 0, 0, time.UTC)
	cases := []struct {
		name string
		body string
		want types.PaymentNotification
	}{
		{
			name: "flat",
			body: `{"transaction_id":"tx-1","status":"Success","msisdn":"256701234567","amount":9999}`,
			want: types.PaymentNotification{TransactionID: "tx-1", Status: "Success", MSISDN: "256701234567", Amount: 9999, ReceivedAt: at},
		},
		{
			name: "provider shape",
			body: `{"id":"tx-2","transaction_status":"Failed","customer":{"msisdn":"0701234567"}}`,
			want: types.PaymentNotification{TransactionID: "tx-2", Status: "Failed", MSISDN: "0701234567", ReceivedAt: at},
		},
		{
			name: "nested data",
			body: `{"event":"collection","data":{"transaction_id":"tx-3","status":"SentToVendor","amount":"9999"}}`,
			want: types.PaymentNotification{TransactionID: "tx-3", Status: "SentToVendor", Amount: 9999, ReceivedAt: at},
		},
		{
			name: "state and reference",
			body: `{"reference":"tx-4","state":"completed"}`,
			want: types.PaymentNotification{TransactionID: "tx-4", Status: "completed", ReceivedAt: at},
		},
	}

	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := decodeNotification([]byte(tc.body), at)
			if err != nil {
				t.Fatalf("decodeNotification: %v", err)
			}
			if got != tc.want {
				t.Fatalf("got %+v, want %+v", got, tc.want)
			}
		})
	}

	if _, err := decodeNotification([]byte(`{"status":"Success"}`), at); err == nil {
		t.Fatalf("expected error without transaction id")
	}
	if _, err := decodeNotification([]byte(`not json`), at); err == nil {
		t.Fatalf("expected error for malformed payload")
	}
}

func TestWebhookInline(t *testing.T) {
	rec := &fakeReconciler{}
	archive := &fakeArchive{}
	h := NewWebhookHandler(rec, nil, archive, nil)

	resp := postWebhook(h, `{"transaction_id":"tx-1","status":"Success"}`)
	if resp.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", resp.Code, resp.Body.String())
	}
	if len(rec.calls) != 1 || rec.calls[0].TransactionID != "tx-1" {
		t.Fatalf("expected inline reconciliation, got %+v", rec.calls)
	}
	if len(archive.keys) != 1 {
		t.Fatalf("payload not archived")
	}
}

func TestWebhookInlineFailureAsksForRedelivery(t *testing.T) {
	h := NewWebhookHandler(&fakeReconciler{err: errors.New("store down")}, nil, &fakeArchive{err: errors.New("bucket gone")}, nil)

	if resp := postWebhook(h, `{"transaction_id":"tx-1","status":"Success"}`); resp.Code != http.StatusInternalServerError {
		t.Fatalf("expected 500, got %d", resp.Code)
	}

	h = NewWebhookHandler(&fakeReconciler{err: services.ErrInvalidNotification}, nil, nil, nil)
	if resp := postWebhook(h, `{"transaction_id":"tx-1"}`); resp.Code != http.StatusBadRequest {
		t.Fatalf("expected 400, got %d", resp.Code)
	}
}

func TestWebhookQueued(t *testing.T) {
	rec := &fakeReconciler{}
	pub := &fakePublisher{}
	h := NewWebhookHandler(rec, pub, nil, nil)

	resp := postWebhook(h, `{"transaction_id":"tx-1","status":"Success"}`)
	if resp.Code != http.StatusAccepted {
		t.Fatalf("unexpected status %d", resp.Code)
	}
	if len(pub.published) != 1 || len(rec.calls) != 0 {
		t.Fatalf("expected queued notification only, published=%d inline=%d", len(pub.published), len(rec.calls))
	}

	pub.err = errors.New("broker down")
	if resp := postWebhook(h, `{"transaction_id":"tx-2","status":"Success"}`); resp.Code != http.StatusOK || len(rec.calls) != 1 {
		t.Fatalf("expected inline fallback, got %d with %d calls", resp.Code, len(rec.calls))
	}
}

func TestWebhookRejectsBadPayload(t *testing.T) {
	rec := &fakeReconciler{}
	h := NewWebhookHandler(rec, nil, nil, nil)

	for _, body := range []string{`{`, `{"status":"Success"}`, `{"transaction_id":"tx-1"}`, `{"transaction_id":"tx-1","status":""}`, strings.Repeat("x", maxWebhookBytes+1)} {
		if resp := postWebhook(h, body); resp.Code != http.StatusBadRequest {
			t.Fatalf("expected 400 for %.20q, got %d", body, resp.Code)
		}
	}
	if len(rec.calls) != 0 {
		t.Fatalf("bad payloads must not be reconciled")
	}
}

type fakeUsers struct {
	users map[string]types.User
	err   error
}

func (f *fakeUsers) GetByPhone(ctx context.Context, phone string) (types.User, error) {
	if f.err != nil {
		return types.User{}, f.err
	}
	msisdn, err := ussd.NormalizeMSISDN(phone)
	if err != nil {
		return types.User{}, err
	}
	u, ok := f.users[msisdn]
	if !ok {
		return types.User{}, store.ErrNotFound
	}
	return u, nil
}

type fakeTransactions struct {
	err error
}

func (f *fakeTransactions) TransactionStatus(ctx context.Context, txID string) (types.TransactionStatus, error) {
	if f.err != nil {
		return types.TransactionStatus{}, f.err
	}
	return types.TransactionStatus{TransactionID: txID, Status: "Success", Outcome: types.StatusRegistered}, nil
}

const testSecret = "test-secret"

func newAdminServer(t *testing.T, users UserLookup, txs TransactionLookup) (http.Handler, string) {
	t.Helper()
	auth := NewAuthHandler(config.AuthConfig{JWTSecret: testSecret}, nil)
	r := chi.NewRouter()
	r.Route("/admin", func(r chi.Router) { AdminRouter(r, users, txs, auth.RequireAuth) })

	token, _, err := issueToken("ops", []byte(testSecret), time.Hour)
	if err != nil {
		t.Fatalf("issueToken: %v", err)
	}
	return r, token
}

func adminGet(h http.Handler, path, token string) *httptest.ResponseRecorder {
	req := httptest.NewRequest(http.MethodGet, path, nil)
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	return rec
}

func TestAdminGetUser(t *testing.T) {
	users := &fakeUsers{users: map[string]types.User{"256701234567": {Phone: "256701234567", Name: "Jane", Status: types.StatusPending}}}
	h, token := newAdminServer(t, users, &fakeTransactions{})

	rec := adminGet(h, "/admin/users/0701234567", token)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d", rec.Code)
	}
	var got types.User
	if err := json.NewDecoder(rec.Body).Decode(&got); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if got.Name != "Jane" || got.Status != types.StatusPending {
		t.Fatalf("unexpected user: %+v", got)
	}

	cases := map[string]int{
		"/admin/users/0709999999": http.StatusNotFound,
		"/admin/users/123":        http.StatusBadRequest,
	}
	for path, want := range cases {
		if rec := adminGet(h, path, token); rec.Code != want {
			t.Fatalf("%s: got %d, want %d", path, rec.Code, want)
		}
	}

	if rec := adminGet(h, "/admin/users/0701234567", ""); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}
	if rec := adminGet(h, "/admin/users/0701234567", "garbage"); rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 with bad token, got %d", rec.Code)
	}
}

func TestAdminGetPaymentStatus(t *testing.T) {
	txs := &fakeTransactions{}
	h, token := newAdminServer(t, &fakeUsers{}, txs)

	rec := adminGet(h, "/admin/payments/tx-1", token)
	if rec.Code != http.StatusOK || !strings.Contains(rec.Body.String(), `"outcome":"registered"`) {
		t.Fatalf("unexpected response %d %s", rec.Code, rec.Body.String())
	}

	txs.err = fmt.Errorf("%w: timeout", payment.ErrServiceUnavailable)
	if rec := adminGet(h, "/admin/payments/tx-1", token); rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestLogin(t *testing.T) {
	hash, err := bcrypt.GenerateFromPassword([]byte("s3cret"), bcrypt.MinCost)
	if err != nil {
		t.Fatalf("hash: %v", err)
	}
	auth := NewAuthHandler(config.AuthConfig{
		JWTSecret:         testSecret,
		AdminUsername:     "ops",
		AdminPasswordHash: string(hash),
	}, nil)
	r := chi.NewRouter()
	r.Route("/auth", func(r chi.Router) { AuthRouter(r, auth, nil) })

	login := func(body string) *httptest.ResponseRecorder {
		rec := httptest.NewRecorder()
		r.ServeHTTP(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(body)))
		return rec
	}

	rec := login(`{"username":"ops","password":"s3cret"}`)
	if rec.Code != http.StatusOK {
		t.Fatalf("unexpected status %d: %s", rec.Code, rec.Body.String())
	}
	var resp AuthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	subject, err := parseTokenSubject(resp.Token, []byte(testSecret))
	if err != nil || subject != "ops" {
		t.Fatalf("issued token invalid: %q %v", subject, err)
	}

	me := httptest.NewRequest(http.MethodGet, "/auth/me", nil)
	me.Header.Set("Authorization", "Bearer "+resp.Token)
	meRec := httptest.NewRecorder()
	r.ServeHTTP(meRec, me)
	if meRec.Code != http.StatusOK || !strings.Contains(meRec.Body.String(), `"ops"`) {
		t.Fatalf("unexpected /me response %d %s", meRec.Code, meRec.Body.String())
	}

	for body, want := range map[string]int{
		`{"username":"ops","password":"wrong"}`:   http.StatusUnauthorized,
		`{"username":"root","password":"s3cret"}`: http.StatusUnauthorized,
		`{"username":"ops"}`:                      http.StatusBadRequest,
		`{`:                                       http.StatusBadRequest,
	} {
		if rec := login(body); rec.Code != want {
			t.Fatalf("%s: got %d, want %d", body, rec.Code, want)
		}
	}
}

func TestLoginDisabledWithoutCredentials(t *testing.T) {
	auth := NewAuthHandler(config.AuthConfig{}, nil)
	rec := httptest.NewRecorder()
	auth.Login(rec, httptest.NewRequest(http.MethodPost, "/auth/login", strings.NewReader(`{"username":"ops","password":"x"}`)))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503, got %d", rec.Code)
	}
}

func TestHealthz(t *testing.T) {
	healthy := func(context.Context) error { return nil }
	failing := func(context.Context) error { return errors.New("down") }

	h := NewHealthHandler(map[string]HealthCheck{"store": healthy, "payment": healthy})
	rec := httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}

	h = NewHealthHandler(map[string]HealthCheck{"store": healthy, "payment": failing})
	rec = httptest.NewRecorder()
	h.Healthz(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	var resp HealthResponse
	if err := json.NewDecoder(rec.Body).Decode(&resp); err != nil {
		t.Fatalf("decode: %v", err)
	}
	if rec.Code != http.StatusServiceUnavailable || resp.Checks["payment"] != "unhealthy" || resp.Checks["store"] != "ok" {
		t.Fatalf("unexpected health response %d %+v", rec.Code, resp)
	}
}
