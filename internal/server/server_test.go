package server

import (
	"context"
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"net/url"
	"strings"
	"testing"
	"time"

	"go.uber.org/zap"
	"go.uber.org/zap/zaptest/observer"

	"github.com/yofarm-hub/ussd/config"
	"github.com/yofarm-hub/ussd/internal/payment"
	"github.com/yofarm-hub/ussd/internal/services"
	"github.com/yofarm-hub/ussd/internal/store"
	"github.com/yofarm-hub/ussd/types"
)

// emptyRepo knows no users. Methods the tests never reach are left to the
// embedded nil interface.
type emptyRepo struct {
	services.UserRepository
	pingErr error
}

func (emptyRepo) Get(ctx context.Context, phone string) (types.User, error) {
	return types.User{}, store.ErrNotFound
}

func (r emptyRepo) Ping(ctx context.Context) error { return r.pingErr }

func testConfig(providerURL string) config.Config {
	return config.Config{
		Payment: config.PaymentConfig{
			AuthURL:       providerURL + "/token",
			CollectionURL: providerURL + "/collect",
			StatusURL:     providerURL + "/status",
			Currency:      "UGX",
			Timeout:       time.Second,
		},
		Registration: config.RegistrationConfig{
			ServiceName:  "Yofarm Hub B2B",
			InquiryPhone: "0200947464",
			PackageName:  "Yofarm Access",
			Amount:       9999,
		},
		Auth: config.AuthConfig{JWTSecret: "secret", LoginRPS: 1, LoginBurst: 2},
		CORS: config.CORSConfig{AllowedOrigins: []string{"https://ops.example.com"}},
	}
}

func newTestRouter(t *testing.T, repo emptyRepo, tokenStatus int) http.Handler {
	t.Helper()
	provider := httptest.NewServer(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if tokenStatus != http.StatusOK {
			w.WriteHeader(tokenStatus)
			return
		}
		_ = json.NewEncoder(w).Encode(map[string]any{"access_token": "tok", "expires_in": 300})
	}))
	t.Cleanup(provider.Close)

	ctx, cancel := context.WithCancel(context.Background())
	t.Cleanup(cancel)

	cfg := testConfig(provider.URL)
	deps := &Dependencies{
		Users:   repo,
		Gateway: payment.NewClient(cfg.Payment, zap.NewNop()),
		Menu:    MenuFromConfig(cfg),
	}
	return NewRouter(ctx, cfg, deps, zap.NewNop())
}

func TestRouterHealthz(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, emptyRepo{}, http.StatusOK).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected healthy, got %d %s", rec.Code, rec.Body.String())
	}

	rec = httptest.NewRecorder()
	newTestRouter(t, emptyRepo{}, http.StatusUnauthorized).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/healthz", nil))
	if rec.Code != http.StatusServiceUnavailable {
		t.Fatalf("expected 503 when the provider rejects credentials, got %d", rec.Code)
	}
}

func TestRouterUSSDMainMenu(t *testing.T) {
	form := url.Values{"phoneNumber": {"0701234567"}, "text": {""}}
	req := httptest.NewRequest(http.MethodPost, "/ussd", strings.NewReader(form.Encode()))
	req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	rec := httptest.NewRecorder()
	newTestRouter(t, emptyRepo{}, http.StatusOK).ServeHTTP(rec, req)

	if got := rec.Body.String(); got != "CON Welcome to Yofarm Hub B2B\n1. Register\n2. Exit" {
		t.Fatalf("unexpected reply %q", got)
	}
}

func TestRouterAdminRequiresToken(t *testing.T) {
	rec := httptest.NewRecorder()
	newTestRouter(t, emptyRepo{}, http.StatusOK).ServeHTTP(rec, httptest.NewRequest(http.MethodGet, "/admin/users/0701234567", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestRouterCORSPreflight(t *testing.T) {
	req := httptest.NewRequest(http.MethodOptions, "/admin/users/0701234567", nil)
	req.Header.Set("Origin", "https://ops.example.com")
	req.Header.Set("Access-Control-Request-Method", http.MethodGet)
	rec := httptest.NewRecorder()
	newTestRouter(t, emptyRepo{}, http.StatusOK).ServeHTTP(rec, req)

	if got := rec.Header().Get("Access-Control-Allow-Origin"); got != "https://ops.example.com" {
		t.Fatalf("unexpected allow origin %q", got)
	}
}

func TestRateLimiter(t *testing.T) {
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	rl := NewRateLimiter(ctx, 0.001, 2, zap.NewNop())
	h := rl.Middleware(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusNoContent)
	}))

	codes := make([]int, 0, 3)
	for range 3 {
		req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
		req.RemoteAddr = "10.0.0.1:5555"
		rec := httptest.NewRecorder()
		h.ServeHTTP(rec, req)
		codes = append(codes, rec.Code)
	}
	if codes[0] != http.StatusNoContent || codes[1] != http.StatusNoContent || codes[2] != http.StatusTooManyRequests {
		t.Fatalf("unexpected status sequence %v", codes)
	}

	req := httptest.NewRequest(http.MethodPost, "/auth/login", nil)
	req.RemoteAddr = "10.0.0.2:5555"
	rec := httptest.NewRecorder()
	h.ServeHTTP(rec, req)
	if rec.Code != http.StatusNoContent {
		t.Fatalf("limits must be per client, got %d", rec.Code)
	}
}

func TestAccessLog(t *testing.T) {
	core, logs := observer.New(zap.InfoLevel)
	h := AccessLog(zap.New(core))(http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusTeapot)
	}))
	h.ServeHTTP(httptest.NewRecorder(), httptest.NewRequest(http.MethodGet, "/healthz", nil))

	entries := logs.FilterMessage("http request").All()
	if len(entries) != 1 {
		t.Fatalf("expected one access log entry, got %d", len(entries))
	}
	if got := entries[0].ContextMap()["status"]; got != int64(http.StatusTeapot) {
		t.Fatalf("unexpected logged status %v", got)
	}
}
