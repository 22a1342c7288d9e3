package api

import (
	"bytes"
	"context"
	"crypto/rand"
	"crypto/rsa"
	"encoding/json"
	"fmt"
	"net/http"
	"net/http/httptest"
	"os"
	"path/filepath"
	"sort"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/jackc/pgx/v5/pgxpool"
	testcontainers "github.com/testcontainers/testcontainers-go"
	"github.com/testcontainers/testcontainers-go/wait"
	"golang.org/x/crypto/bcrypt"

	"thetiptop/internal/api/middleware"
	"thetiptop/internal/api/response"
	"thetiptop/internal/cache"
	"thetiptop/internal/event"
	"thetiptop/internal/model"
	"thetiptop/internal/repository/postgres"
	"thetiptop/internal/service"
	"thetiptop/pkg/logger"
)

const internalTestToken = "internal-test-token"

var (
	apiKeyOnce sync.Once
	apiKey     *rsa.PrivateKey
)

type envelope struct {
	Code       int             `json:"code"`
	Message    string          `json:"message"`
	Data       json.RawMessage `json:"data"`
	Pagination *struct {
		Total int64 `json:"total"`
	} `json:"pagination"`
}

type apiFixture struct {
	router *gin.Engine
	users  *service.UserService

	mu     sync.Mutex
	tokens map[string]string
}

func TestRedeemFlow_EndToEnd(t *testing.T) {
	f := setupAPITest(t, service.GameConfig{RequireVerifiedEmail: true, MaxRedemptionsPerDay: 3})

	admin := f.login(t, f.seedStaff(t, "admin.flow@example.com", model.RoleAdmin), "adminpass1")
	employee := f.login(t, f.seedStaff(t, "employee.flow@example.com", model.RoleEmployee), "adminpass1")

	resp := f.do(t, http.MethodPost, "/api/v1/gains", admin, map[string]any{
		"name":        "Infuseur à thé",
		"description": "<b>Infuseur</b><script>alert(1)</script>",
		"value":       8,
		"quantity":    2,
	})
	expectStatus(t, resp, http.StatusOK)
	var gain model.Gain
	decodeData(t, resp, &gain)
	if strings.Contains(gain.Description, "<script>") {
		t.Fatalf("description must be sanitized, got %q", gain.Description)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/codes/batch-generate", admin, map[string]any{
		"gain_id": gain.ID.String(),
		"count":   3,
	})
	expectStatus(t, resp, http.StatusOK)
	var batch service.BatchResult
	decodeData(t, resp, &batch)
	if len(batch.Codes) != 3 {
		t.Fatalf("expected 3 codes, got %d", len(batch.Codes))
	}

	resp = f.do(t, http.MethodPost, "/api/v1/auth/register", "", map[string]any{
		"email":      "winner.flow@example.com",
		"password":   "secret123",
		"first_name": "Camille",
	})
	expectStatus(t, resp, http.StatusOK)
	client := f.login(t, "winner.flow@example.com", "secret123")

	resp = f.do(t, http.MethodPost, "/api/v1/codes/redeem", client, map[string]any{"code": batch.Codes[0]})
	expectAppError(t, resp, http.StatusForbidden, response.ErrEmailNotVerified)

	resp = f.do(t, http.MethodPost, "/api/v1/auth/verify-email", "", map[string]any{
		"token": f.verificationToken(t, "winner.flow@example.com"),
	})
	expectStatus(t, resp, http.StatusOK)

	resp = f.do(t, http.MethodPost, "/api/v1/codes/redeem", client, map[string]any{"code": strings.ToLower(batch.Codes[0])})
	expectAppError(t, resp, http.StatusBadRequest, response.ErrCodeInvalidFormat)

	resp = f.do(t, http.MethodPost, "/api/v1/codes/redeem", client, map[string]any{"code": "NOSUCHCODE"})
	expectAppError(t, resp, http.StatusNotFound, response.ErrCodeNotFound)

	resp = f.do(t, http.MethodPost, "/api/v1/codes/redeem", client, map[string]any{"code": batch.Codes[0]})
	expectStatus(t, resp, http.StatusOK)
	var won model.Redemption
	decodeData(t, resp, &won)
	if won.Gain == nil || won.Gain.ID != gain.ID || won.Gain.RemainingQuantity != 1 {
		t.Fatalf("unexpected redemption: %+v", won.Gain)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/codes/redeem", client, map[string]any{"code": batch.Codes[0]})
	expectAppError(t, resp, http.StatusConflict, response.ErrCodeUsed)

	resp = f.do(t, http.MethodPost, "/api/v1/codes/redeem", client, map[string]any{"code": batch.Codes[1]})
	expectStatus(t, resp, http.StatusOK)

	resp = f.do(t, http.MethodPost, "/api/v1/codes/redeem", client, map[string]any{"code": batch.Codes[2]})
	expectAppError(t, resp, http.StatusGone, response.ErrGainExhausted)

	resp = f.do(t, http.MethodGet, "/api/v1/codes/redeem/history?page=1&page_size=10", client, nil)
	expectStatus(t, resp, http.StatusOK)
	history := decodeEnvelope(t, resp)
	if history.Pagination == nil || history.Pagination.Total != 2 {
		t.Fatalf("expected 2 history entries, got %+v", history.Pagination)
	}

	resp = f.do(t, http.MethodGet, "/api/v1/codes/lookup/"+batch.Codes[0], client, nil)
	expectAppError(t, resp, http.StatusForbidden, response.ErrForbidden)

	resp = f.do(t, http.MethodGet, "/api/v1/codes/lookup/"+batch.Codes[0], employee, nil)
	expectStatus(t, resp, http.StatusOK)
	var detail model.CodeDetail
	decodeData(t, resp, &detail)
	if detail.Winner == nil || detail.Winner.Email != "winner.flow@example.com" {
		t.Fatalf("expected winner in lookup, got %+v", detail.Winner)
	}

	resp = f.do(t, http.MethodPost, "/api/v1/codes/"+batch.Codes[2]+"/deliver", employee, nil)
	expectAppError(t, resp, http.StatusConflict, response.ErrCodeNotRedeemed)

	resp = f.do(t, http.MethodPost, "/api/v1/codes/"+batch.Codes[0]+"/deliver", employee, nil)
	expectStatus(t, resp, http.StatusOK)

	resp = f.do(t, http.MethodPost, "/api/v1/codes/"+batch.Codes[0]+"/deliver", employee, nil)
	expectAppError(t, resp, http.StatusConflict, response.ErrCodeAlreadyDelivered)

	resp = f.do(t, http.MethodGet, "/api/v1/stats", employee, nil)
	expectAppError(t, resp, http.StatusForbidden, response.ErrForbidden)

	resp = f.do(t, http.MethodGet, "/api/v1/stats", admin, nil)
	expectStatus(t, resp, http.StatusOK)
	var stats service.StatsOverview
	decodeData(t, resp, &stats)
	if stats.TotalCodes != 3 || stats.UsedCodes != 2 || stats.DeliveredCodes != 1 {
		t.Fatalf("unexpected stats: total=%d used=%d delivered=%d", stats.TotalCodes, stats.UsedCodes, stats.DeliveredCodes)
	}
}

func TestAuthSession_CookiesAndRotation(t *testing.T) {
	f := setupAPITest(t, service.GameConfig{})
	email := f.seedStaff(t, "session@example.com", model.RoleClient)

	resp := f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": email, "password": "wrongpass1"})
	expectAppError(t, resp, http.StatusUnauthorized, response.ErrPasswordWrong)

	resp = f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": email, "password": "adminpass1"})
	expectStatus(t, resp, http.StatusOK)

	refresh := findCookie(resp.Result().Cookies(), "refresh_token")
	access := findCookie(resp.Result().Cookies(), "access_token")
	if refresh == nil || access == nil || !refresh.HttpOnly || !refresh.Secure {
		t.Fatalf("expected secure httponly session cookies, got access=%v refresh=%v", access, refresh)
	}

	resp = f.doWithCookies(t, http.MethodGet, "/api/v1/users/me", nil, access)
	expectStatus(t, resp, http.StatusOK)
	var me model.User
	decodeData(t, resp, &me)
	if me.Email != email {
		t.Fatalf("expected %s, got %s", email, me.Email)
	}

	resp = f.doWithCookies(t, http.MethodPost, "/api/v1/auth/refresh", nil, refresh)
	expectStatus(t, resp, http.StatusOK)
	rotated := findCookie(resp.Result().Cookies(), "refresh_token")
	if rotated == nil || rotated.Value == refresh.Value {
		t.Fatal("expected a rotated refresh token")
	}

	resp = f.doWithCookies(t, http.MethodPost, "/api/v1/auth/refresh", nil, refresh)
	expectAppError(t, resp, http.StatusUnauthorized, response.ErrRefreshTokenInvalid)

	resp = f.doWithCookies(t, http.MethodPost, "/api/v1/auth/logout", nil, rotated)
	expectStatus(t, resp, http.StatusOK)

	resp = f.doWithCookies(t, http.MethodPost, "/api/v1/auth/refresh", nil, rotated)
	expectAppError(t, resp, http.StatusUnauthorized, response.ErrRefreshTokenInvalid)
}

func TestMaintenanceMode_AdminBypassAndProbes(t *testing.T) {
	f := setupAPITest(t, service.GameConfig{})
	admin := f.login(t, f.seedStaff(t, "admin.maint@example.com", model.RoleAdmin), "adminpass1")
	client := f.login(t, f.seedStaff(t, "client.maint@example.com", model.RoleClient), "adminpass1")

	resp := f.do(t, http.MethodPatch, "/api/v1/system/maintenance", client, map[string]any{"enabled": true})
	expectAppError(t, resp, http.StatusForbidden, response.ErrForbidden)

	resp = f.do(t, http.MethodPatch, "/api/v1/system/maintenance", admin, map[string]any{"enabled": true})
	expectStatus(t, resp, http.StatusOK)

	resp = f.do(t, http.MethodGet, "/api/v1/gains", client, nil)
	expectAppError(t, resp, http.StatusServiceUnavailable, response.ErrSystemMaintenance)

	resp = f.do(t, http.MethodGet, "/api/v1/gains", admin, nil)
	expectStatus(t, resp, http.StatusOK)

	resp = f.do(t, http.MethodGet, "/health/ready", "", nil)
	expectStatus(t, resp, http.StatusOK)

	resp = f.do(t, http.MethodPatch, "/api/v1/system/maintenance", admin, map[string]any{"enabled": false})
	expectStatus(t, resp, http.StatusOK)

	resp = f.do(t, http.MethodGet, "/api/v1/gains", client, nil)
	expectStatus(t, resp, http.StatusOK)

	resp = f.do(t, http.MethodGet, "/api/v1/audit?action="+model.AuditSystemMaintenance, admin, nil)
	expectStatus(t, resp, http.StatusOK)
	audit := decodeEnvelope(t, resp)
	if audit.Pagination == nil || audit.Pagination.Total != 2 {
		t.Fatalf("expected 2 maintenance audit entries, got %+v", audit.Pagination)
	}
}

func TestInternalMetrics_RequiresToken(t *testing.T) {
	f := setupAPITest(t, service.GameConfig{})

	resp := f.do(t, http.MethodGet, "/internal/metrics", "", nil)
	expectStatus(t, resp, http.StatusUnauthorized)

	req := httptest.NewRequest(http.MethodGet, "/internal/metrics", nil)
	req.Header.Set("X-Internal-Token", internalTestToken)
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	expectStatus(t, rec, http.StatusOK)
	if !strings.Contains(rec.Body.String(), "tiptop_") {
		t.Fatal("expected application metrics in exposition")
	}
}

func setupAPITest(t *testing.T, game service.GameConfig) *apiFixture {
	t.Helper()
	gin.SetMode(gin.TestMode)

	pool := startPostgresForAPITest(t)
	key := testSigningKey(t)
	middleware.SetJWTPublicKey(&key.PublicKey)

	userRepo := postgres.NewUserRepository(pool)
	gainRepo := postgres.NewGainRepository(pool)
	codeRepo := postgres.NewCodeRepository(pool)
	tokenRepo := postgres.NewRefreshTokenRepository(pool)
	auditRepo := postgres.NewAuditRepository(pool)
	middleware.SetAuditRepository(auditRepo)

	kv := cache.NewMemoryCache()
	bus := event.NewBus()

	f := &apiFixture{tokens: make(map[string]string)}
	bus.Subscribe(event.EventUserRegistered, func(payload any) {
		if p, ok := payload.(event.UserRegisteredPayload); ok {
			f.mu.Lock()
			f.tokens[p.Email] = p.VerificationToken
			f.mu.Unlock()
		}
	})

	systemSvc := service.NewSystemService(pool, kv, auditRepo, logger.NewSystemLogStore(100), game, nil)
	f.users = service.NewUserService(userRepo, codeRepo, tokenRepo, auditRepo, nil)
	f.router = NewRouter(RouterConfig{InternalToken: internalTestToken}, Services{
		Auth: service.NewAuthService(userRepo, tokenRepo, auditRepo, kv, bus, key, service.AuthConfig{
			BcryptCost: bcrypt.MinCost,
		}, nil),
		User:       f.users,
		Gain:       service.NewGainService(gainRepo, auditRepo, kv, time.Minute, nil),
		Code:       service.NewCodeService(codeRepo, gainRepo, auditRepo, 0, nil),
		Redemption: service.NewRedemptionService(codeRepo, gainRepo, userRepo, auditRepo, kv, bus, game, nil),
		Stats:      service.NewStatsService(codeRepo, userRepo),
		Audit:      service.NewAuditService(auditRepo),
		System:     systemSvc,
	})
	t.Cleanup(bus.Wait)

	return f
}

func (f *apiFixture) seedStaff(t *testing.T, email string, role model.Role) string {
	t.Helper()
	if _, err := f.users.Create(context.Background(), service.CreateUserRequest{
		Email:         email,
		PasswordPlain: "adminpass1",
		FirstName:     "Staff",
		Role:          role,
		EmailVerified: true,
	}); err != nil {
		t.Fatalf("create %s: %v", email, err)
	}
	return email
}

func (f *apiFixture) login(t *testing.T, email, password string) string {
	t.Helper()

	resp := f.do(t, http.MethodPost, "/api/v1/auth/login", "", map[string]any{"email": email, "password": password})
	expectStatus(t, resp, http.StatusOK)

	var tokens struct {
		AccessToken string `json:"access_token"`
	}
	decodeData(t, resp, &tokens)
	if tokens.AccessToken == "" {
		t.Fatalf("login %s returned no access token", email)
	}
	return tokens.AccessToken
}

func (f *apiFixture) verificationToken(t *testing.T, email string) string {
	t.Helper()

	deadline := time.Now().Add(2 * time.Second)
	for time.Now().Before(deadline) {
		f.mu.Lock()
		token := f.tokens[email]
		f.mu.Unlock()
		if token != "" {
			return token
		}
		time.Sleep(10 * time.Millisecond)
	}
	t.Fatalf("no verification token published for %s", email)
	return ""
}

func (f *apiFixture) do(t *testing.T, method, path, accessToken string, payload any) *httptest.ResponseRecorder {
	t.Helper()

	req := newJSONRequest(t, method, path, payload)
	if accessToken != "" {
		req.Header.Set("Authorization", "Bearer "+accessToken)
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func (f *apiFixture) doWithCookies(t *testing.T, method, path string, payload any, cookies ...*http.Cookie) *httptest.ResponseRecorder {
	t.Helper()

	req := newJSONRequest(t, method, path, payload)
	for _, cookie := range cookies {
		req.AddCookie(&http.Cookie{Name: cookie.Name, Value: cookie.Value})
	}
	rec := httptest.NewRecorder()
	f.router.ServeHTTP(rec, req)
	return rec
}

func newJSONRequest(t *testing.T, method, path string, payload any) *http.Request {
	t.Helper()

	var body []byte
	if payload != nil {
		raw, err := json.Marshal(payload)
		if err != nil {
			t.Fatalf("marshal payload: %v", err)
		}
		body = raw
	}

	req := httptest.NewRequest(method, path, bytes.NewReader(body))
	req.Header.Set("Content-Type", "application/json")
	return req
}

func decodeEnvelope(t *testing.T, rec *httptest.ResponseRecorder) envelope {
	t.Helper()

	var env envelope
	if err := json.Unmarshal(rec.Body.Bytes(), &env); err != nil {
		t.Fatalf("decode response: %v (body=%s)", err, rec.Body.String())
	}
	return env
}

func decodeData(t *testing.T, rec *httptest.ResponseRecorder, out any) {
	t.Helper()

	env := decodeEnvelope(t, rec)
	if err := json.Unmarshal(env.Data, out); err != nil {
		t.Fatalf("decode data: %v (body=%s)", err, rec.Body.String())
	}
}

func expectStatus(t *testing.T, rec *httptest.ResponseRecorder, status int) {
	t.Helper()
	if rec.Code != status {
		t.Fatalf("expected status %d, got %d (body=%s)", status, rec.Code, rec.Body.String())
	}
}

func expectAppError(t *testing.T, rec *httptest.ResponseRecorder, status, appCode int) {
	t.Helper()
	expectStatus(t, rec, status)
	if env := decodeEnvelope(t, rec); env.Code != appCode {
		t.Fatalf("expected app code %d, got %d (%s)", appCode, env.Code, env.Message)
	}
}

func findCookie(cookies []*http.Cookie, name string) *http.Cookie {
	for _, cookie := range cookies {
		if cookie.Name == name {
			return cookie
		}
	}
	return nil
}

func testSigningKey(t *testing.T) *rsa.PrivateKey {
	t.Helper()
	apiKeyOnce.Do(func() {
		key, err := rsa.GenerateKey(rand.Reader, 2048)
		if err != nil {
			panic(err)
		}
		apiKey = key
	})
	return apiKey
}

func startPostgresForAPITest(t *testing.T) *pgxpool.Pool {
	t.Helper()
	testcontainers.SkipIfProviderIsNotHealthy(t)

	ctx := context.Background()
	container, err := testcontainers.GenericContainer(ctx, testcontainers.GenericContainerRequest{
		ContainerRequest: testcontainers.ContainerRequest{
			Image:        "postgres:16-alpine",
			ExposedPorts: []string{"5432/tcp"},
			Env: map[string]string{
				"POSTGRES_USER":     "postgres",
				"POSTGRES_PASSWORD": "postgres",
				"POSTGRES_DB":       "tiptop_api_test",
			},
			WaitingFor: wait.ForListeningPort("5432/tcp").WithStartupTimeout(90 * time.Second),
		},
		Started: true,
	})
	if err != nil {
		t.Skipf("skipping test because docker/testcontainers is unavailable: %v", err)
	}
	t.Cleanup(func() {
		_ = container.Terminate(context.Background())
	})

	host, err := container.Host(ctx)
	if err != nil {
		t.Fatalf("container host: %v", err)
	}
	port, err := container.MappedPort(ctx, "5432/tcp")
	if err != nil {
		t.Fatalf("container mapped port: %v", err)
	}

	dsn := fmt.Sprintf("postgres://postgres:postgres@%s:%s/tiptop_api_test?sslmode=disable", host, port.Port())
	pool, err := pgxpool.New(ctx, dsn)
	if err != nil {
		t.Fatalf("create pgx pool: %v", err)
	}
	t.Cleanup(pool.Close)

	deadline := time.Now().Add(30 * time.Second)
	for {
		if err = pool.Ping(ctx); err == nil {
			break
		}
		if time.Now().After(deadline) {
			t.Fatalf("postgres did not become ready: %v", err)
		}
		time.Sleep(500 * time.Millisecond)
	}

	applyMigrations(t, ctx, pool)
	return pool
}

func applyMigrations(t *testing.T, ctx context.Context, pool *pgxpool.Pool) {
	t.Helper()

	dir := filepath.Join("..", "..", "migrations")
	entries, err := os.ReadDir(dir)
	if err != nil {
		t.Fatalf("read migrations dir: %v", err)
	}

	files := make([]string, 0, len(entries))
	for _, entry := range entries {
		if !entry.IsDir() && strings.HasSuffix(entry.Name(), ".up.sql") {
			files = append(files, entry.Name())
		}
	}
	sort.Strings(files)

	for _, file := range files {
		// #nosec G304 -- migration file list comes from the repository.
		raw, err := os.ReadFile(filepath.Join(dir, file))
		if err != nil {
			t.Fatalf("read migration %s: %v", file, err)
		}
		if _, err := pool.Exec(ctx, string(raw)); err != nil {
			t.Fatalf("apply migration %s: %v", file, err)
		}
	}
}
