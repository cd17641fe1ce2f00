package access

import (
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"
)

func signedToken(t *testing.T, secret []byte, claims *Claims) string {
	t.Helper()
	token, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(secret)
	if err != nil {
		t.Fatal(err)
	}
	return token
}

func middlewareRouter(secret []byte) (*mux.Router, **Access) {
	var captured *Access
	router := mux.NewRouter()
	router.Use(NewMiddleware(&MiddlewareBuilder{Key: secret, Algorithm: "HS256", Issuer: "test"}))
	router.HandleFunc("/probe", func(w http.ResponseWriter, r *http.Request) {
		captured = FromContext(r.Context())
		w.WriteHeader(http.StatusOK)
	})
	return router, &captured
}

func TestMiddlewareValidToken(t *testing.T) {
	secret := []byte("top-secret")
	tenantID := uuid.New()
	router, captured := middlewareRouter(secret)

	tokenString := signedToken(t, secret, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "test",
			Subject:   "user-1",
			Audience:  jwt.ClaimStrings{"orders.order.read"},
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
			ID:        "jti-1",
		},
		Tenant:   tenantID.String(),
		Critical: true,
	})

	r := httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d: %s", rec.Code, rec.Body.String())
	}
	acc := *captured
	if acc == nil {
		t.Fatal("no access in context")
	}
	if acc.UserID() != "user-1" || acc.TenantID() != tenantID {
		t.Fatalf("unexpected identity: %s %s", acc.UserID(), acc.TenantID())
	}
	if !acc.Token.Critical {
		t.Fatal("critical flag lost")
	}
	if _, ok := acc.Token.HasAudience([]string{"orders.order.read"}); !ok {
		t.Fatal("audience lost")
	}
}

func TestMiddlewareInvalidToken(t *testing.T) {
	router, _ := middlewareRouter([]byte("top-secret"))

	r := httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.Header.Set("Authorization", "Bearer not-a-token")
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}

func TestMiddlewareNoTokenPassesThrough(t *testing.T) {
	router, captured := middlewareRouter([]byte("top-secret"))

	r := httptest.NewRequest(http.MethodGet, "/probe", nil)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusOK {
		t.Fatalf("expected 200, got %d", rec.Code)
	}
	if *captured != nil {
		t.Fatal("expected no access without token")
	}
}

func TestMiddlewareWrongIssuer(t *testing.T) {
	secret := []byte("top-secret")
	router, _ := middlewareRouter(secret)

	tokenString := signedToken(t, secret, &Claims{
		RegisteredClaims: jwt.RegisteredClaims{
			Issuer:    "someone-else",
			ExpiresAt: jwt.NewNumericDate(time.Now().Add(time.Hour)),
		},
	})
	r := httptest.NewRequest(http.MethodGet, "/probe", nil)
	r.Header.Set("Authorization", "Bearer "+tokenString)
	rec := httptest.NewRecorder()
	router.ServeHTTP(rec, r)

	if rec.Code != http.StatusUnauthorized {
		t.Fatalf("expected 401, got %d", rec.Code)
	}
}
