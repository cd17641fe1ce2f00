package access

import (
	"net/http"
	"strings"

	"github.com/golang-jwt/jwt/v4"
	"github.com/google/uuid"
	"github.com/gorilla/mux"

	"github.com/relabs-tech/modelbind/core/apierror"
	"github.com/relabs-tech/modelbind/core/logger"
)

// Claims is the verified claim set carried by a bearer token
type Claims struct {
	jwt.RegisteredClaims
	Tenant   string   `json:"ten"`
	Roles    []string `json:"rls"`
	Critical bool     `json:"crt"`
}

// MiddlewareBuilder is a helper builder for the token middleware
type MiddlewareBuilder struct {
	// Key is the verification key: the shared secret for HMAC algorithms,
	// or a PEM-encoded public key for RSA algorithms. This is mandatory.
	Key []byte
	// Algorithm is the accepted signing algorithm, e.g. "HS256" or "RS256".
	// This is mandatory.
	Algorithm string
	// Issuer is the accepted issuer for the token. Optional.
	Issuer string
	// ScopeCache optionally replaces the token's audiences with the scopes
	// stored for the token id in redis.
	ScopeCache *ScopeCache
	// ScopeCacheURL is the redis URL for the scope cache.
	ScopeCacheURL string
}

// NewMiddleware returns a middleware handler to validate JWT bearer tokens.
//
// Tokens are accepted as "Authorization: Bearer" header or as
// "Modelbind-JWT"-cookie. A request without any token passes through
// unauthenticated; route-level scope requirements decide whether that is
// acceptable. A request with an invalid token is rejected.
//
// The middleware stores the verified access in the request context. Request
// handlers read it once and pass it explicitly into the core operations.
func NewMiddleware(mb *MiddlewareBuilder) mux.MiddlewareFunc {
	if len(mb.Key) == 0 || mb.Algorithm == "" {
		panic("token middleware needs key and algorithm")
	}

	var key interface{} = mb.Key
	if strings.HasPrefix(mb.Algorithm, "RS") {
		rsaKey, err := jwt.ParseRSAPublicKeyFromPEM(mb.Key)
		if err != nil {
			panic(err)
		}
		key = rsaKey
	}

	keyFunc := func(token *jwt.Token) (interface{}, error) {
		return key, nil
	}
	parser := jwt.NewParser(jwt.WithValidMethods([]string{mb.Algorithm}))

	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if FromContext(r.Context()) != nil { // already authorized
				h.ServeHTTP(w, r)
				return
			}

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) > 0 && bearer != "null" {
				if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
					tokenString = bearer[7:]
				} else {
					tokenString = bearer
				}
			} else if cookie, _ := r.Cookie("Modelbind-JWT"); cookie != nil {
				tokenString = cookie.Value
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			claims := Claims{}
			token, err := parser.ParseWithClaims(tokenString, &claims, keyFunc)
			if err != nil || !token.Valid || (mb.Issuer != "" && claims.Issuer != mb.Issuer) {
				apierror.Write(w, apierror.AuthInvalid("token_invalid", "invalid token"))
				return
			}

			acc, err := AccessFromClaims(&claims)
			if err != nil {
				apierror.Write(w, apierror.AuthInvalid("token_invalid", err.Error()))
				return
			}

			if mb.ScopeCache != nil {
				audiences, err := mb.ScopeCache.Audiences(r.Context(), mb.ScopeCacheURL, acc.Token.TokenID)
				if err != nil {
					logger.FromContext(r.Context()).WithError(err).Errorf("Error 4731: cannot read scopes for token %s", acc.Token.TokenID)
					apierror.Write(w, apierror.New(http.StatusInternalServerError, "InternalError", "internal", ""))
					return
				}
				acc.Token.Audiences = audiences
			}

			ctx := ContextWithIdentity(r.Context(), acc.UserID())
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, acc.UserID())
			ctx = ContextWithAccess(ctx, acc)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// AccessFromClaims builds an immutable access object from a verified claim set
func AccessFromClaims(claims *Claims) (*Access, error) {
	var tenantID uuid.UUID
	if claims.Tenant != "" {
		var err error
		tenantID, err = uuid.Parse(claims.Tenant)
		if err != nil {
			return nil, err
		}
	}
	token := &Token{
		Issuer:    claims.Issuer,
		UserID:    claims.Subject,
		TenantID:  tenantID,
		Audiences: claims.Audience,
		Roles:     claims.Roles,
		TokenID:   claims.ID,
		Critical:  claims.Critical,
	}
	if claims.IssuedAt != nil {
		token.IssuedAt = claims.IssuedAt.Time
	}
	if claims.NotBefore != nil {
		token.NotBefore = claims.NotBefore.Time
	}
	if claims.ExpiresAt != nil {
		token.ExpiresAt = claims.ExpiresAt.Time
	}
	return &Access{Token: token}, nil
}
