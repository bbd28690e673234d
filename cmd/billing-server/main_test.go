package main

import (
	"bytes"
	"net/http"
	"net/http/httptest"
	"strings"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/labstack/echo/v4"
	"github.com/rs/zerolog"

	"github.com/hms/billing/internal/config"
	"github.com/hms/billing/internal/domain/billing"
	"github.com/hms/billing/internal/platform/auth"
	"github.com/hms/billing/internal/platform/db"
	"github.com/hms/billing/migrations"
)

const testSigningKey = "0123456789abcdef0123456789abcdef"

func testServer(t *testing.T, env string) *echo.Echo {
	t.Helper()
	cfg := &config.Config{
		Env:             env,
		DefaultHospital: "h1",
		CORSOrigins:     []string{"http://localhost:3000"},
		AuthIssuer:      "billing-test",
		AuthSigningKey:  testSigningKey,
	}
	policy := auth.NewPolicyEngine(auth.DefaultRules())
	svc := billing.NewService(billing.Repositories{}, nil, policy)
	return newServer(cfg, zerolog.Nop(), billing.NewHandler(svc, policy, time.UTC))
}

func serve(e *echo.Echo, req *http.Request) *httptest.ResponseRecorder {
	rec := httptest.NewRecorder()
	e.ServeHTTP(rec, req)
	return rec
}

func signToken(t *testing.T, issuer string, roles ...string) string {
	t.Helper()
	claims := auth.Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   "user-1",
			Issuer:    issuer,
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
		HospitalID: "h1",
		Roles:      roles,
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(testSigningKey))
	if err != nil {
		t.Fatalf("sign token: %v", err)
	}
	return signed
}

func TestRootCmd_Subcommands(t *testing.T) {
	root := rootCmd()
	want := map[string][]string{
		"serve":   nil,
		"migrate": {"up", "status"},
		"pricing": {"seed"},
	}
	for name, subs := range want {
		cmd, _, err := root.Find([]string{name})
		if err != nil || cmd.Name() != name {
			t.Fatalf("command %q not registered", name)
		}
		for _, sub := range subs {
			child, _, err := root.Find([]string{name, sub})
			if err != nil || child.Name() != sub {
				t.Errorf("command %q %q not registered", name, sub)
			}
		}
	}

	seed, _, _ := root.Find([]string{"pricing", "seed"})
	if seed.Flags().Lookup("hospital") == nil {
		t.Error("pricing seed should accept --hospital")
	}
}

func TestHealth(t *testing.T) {
	e := testServer(t, "production")
	rec := serve(e, httptest.NewRequest(http.MethodGet, "/health", nil))
	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if !strings.Contains(rec.Body.String(), `"status":"ok"`) {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
	if rec.Header().Get("X-Content-Type-Options") != "nosniff" {
		t.Error("expected security headers on every response")
	}
	if rec.Header().Get(echo.HeaderXRequestID) == "" {
		t.Error("expected a request id")
	}
}

func TestAPI_RequiresTokenOutsideDevelopment(t *testing.T) {
	e := testServer(t, "production")

	rec := serve(e, httptest.NewRequest(http.MethodGet, apiPrefix+"/pricing", nil))
	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401 without token, got %d", rec.Code)
	}

	req := httptest.NewRequest(http.MethodGet, apiPrefix+"/pricing", nil)
	req.Header.Set(auth.DevRoleHeader, auth.RoleHospitalAdmin)
	if rec := serve(e, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("dev role header must be ignored in production, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, apiPrefix+"/pricing", nil)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "someone-else", auth.RoleAccountant))
	if rec := serve(e, req); rec.Code != http.StatusUnauthorized {
		t.Errorf("expected 401 for wrong issuer, got %d", rec.Code)
	}
}

func TestAPI_TokenRolesReachPolicy(t *testing.T) {
	e := testServer(t, "production")
	body := `{"service_category":"laboratory","service_name":"ECG","base_price":5000}`

	req := httptest.NewRequest(http.MethodPost, apiPrefix+"/pricing", bytes.NewBufferString(body))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set("Authorization", "Bearer "+signToken(t, "billing-test", auth.RoleAccountant))
	rec := serve(e, req)
	if rec.Code != http.StatusForbidden {
		t.Fatalf("expected 403 for accountant, got %d: %s", rec.Code, rec.Body.String())
	}
	if !strings.Contains(rec.Body.String(), "Only admins can manage pricing") {
		t.Errorf("unexpected body %s", rec.Body.String())
	}
}

func TestAPI_DevelopmentAuth(t *testing.T) {
	e := testServer(t, "development")

	req := httptest.NewRequest(http.MethodPost, apiPrefix+"/payments", bytes.NewBufferString(`{}`))
	req.Header.Set(echo.HeaderContentType, echo.MIMEApplicationJSON)
	req.Header.Set(auth.DevRoleHeader, "nurse")
	if rec := serve(e, req); rec.Code != http.StatusForbidden {
		t.Errorf("expected 403 for nurse payment, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, apiPrefix+"/bills/not-a-uuid", nil)
	if rec := serve(e, req); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed id, got %d", rec.Code)
	}

	req = httptest.NewRequest(http.MethodGet, apiPrefix+"/bills/not-a-uuid", nil)
	req.Header.Set("X-Hospital-ID", "bad hospital!")
	if rec := serve(e, req); rec.Code != http.StatusBadRequest {
		t.Errorf("expected 400 for malformed hospital, got %d", rec.Code)
	}
}

func TestRunServer_InvalidConfig(t *testing.T) {
	t.Setenv("DATABASE_URL", "postgres://localhost:5432/billing_test")
	t.Setenv("ENV", "production")
	t.Setenv("AUTH_SIGNING_KEY", "")
	err := runServer()
	if err == nil || !strings.Contains(err.Error(), "AUTH_SIGNING_KEY") {
		t.Fatalf("expected a config error, got %v", err)
	}
}

func TestPrintStatuses(t *testing.T) {
	at := time.Date(2026, 3, 1, 9, 30, 0, 0, time.UTC)
	var buf bytes.Buffer
	printStatuses(&buf, []db.MigrationStatus{
		{Version: 1, Name: "billing", Applied: true, AppliedAt: &at},
		{Version: 2, Name: "reports"},
	})
	lines := strings.Split(strings.TrimSpace(buf.String()), "\n")
	if len(lines) != 4 {
		t.Fatalf("expected header, rule and 2 rows, got %d lines:\n%s", len(lines), buf.String())
	}
	if !strings.Contains(lines[2], "applied") || !strings.Contains(lines[2], "2026-03-01 09:30:00") {
		t.Errorf("unexpected applied row %q", lines[2])
	}
	if !strings.Contains(lines[3], "pending") {
		t.Errorf("unexpected pending row %q", lines[3])
	}
}

func TestEmbeddedMigrations(t *testing.T) {
	migs, err := db.NewMigrator(nil, migrations.FS).LoadMigrations()
	if err != nil {
		t.Fatalf("load migrations: %v", err)
	}
	if len(migs) == 0 || migs[0].Version != 1 {
		t.Fatalf("expected migration 001 first, got %+v", migs)
	}
	if !strings.Contains(migs[0].SQL, "document_sequences") {
		t.Error("expected the billing schema to create document_sequences")
	}
}
