package access

import (
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v4"
	"github.com/gorilla/mux"

	"github.com/webkontor/sitecms/core/logger"
	"github.com/webkontor/sitecms/core/registry"
)

const signingKeyRegistryKey = "_token_signing_key_"

// TokenAuthBuilder is a helper builder for TokenAuth
type TokenAuthBuilder struct {
	// Registry persists the signing key across restarts. This is mandatory.
	Registry registry.Registry
	// Lifetime is the validity period for minted tokens. Defaults to 24 hours.
	Lifetime time.Duration
}

// TokenAuth mints and verifies the signed bearer tokens carried by
// mutating requests.
//
// Tokens are accepted as "Authorization: Bearer" header. The HMAC
// signing key is generated on first use and stored in the registry.
type TokenAuth struct {
	key      []byte
	lifetime time.Duration
	cache    *AuthorizationCache
}

type tokenClaims struct {
	Identity string `json:"identity"`
	Role     string `json:"role"`
	jwt.RegisteredClaims
}

// NewTokenAuth returns a new TokenAuth with the signing key from the
// registry. A fresh key is generated and persisted if there is none yet.
func NewTokenAuth(tab *TokenAuthBuilder) (*TokenAuth, error) {
	var keyHex string
	_, err := tab.Registry.Read(signingKeyRegistryKey, &keyHex)
	if err != nil {
		return nil, err
	}
	if len(keyHex) == 0 {
		raw := make([]byte, 32)
		if _, err := rand.Read(raw); err != nil {
			return nil, err
		}
		keyHex = hex.EncodeToString(raw)
		if err := tab.Registry.Write(signingKeyRegistryKey, keyHex); err != nil {
			return nil, err
		}
	}
	key, err := hex.DecodeString(keyHex)
	if err != nil {
		return nil, fmt.Errorf("corrupt token signing key in registry: %s", err)
	}
	lifetime := tab.Lifetime
	if lifetime == 0 {
		lifetime = 24 * time.Hour
	}
	return &TokenAuth{key: key, lifetime: lifetime, cache: NewAuthorizationCache()}, nil
}

// Mint creates a signed token for the passed authorization
func (t *TokenAuth) Mint(auth Authorization) (string, error) {
	now := time.Now()
	claims := tokenClaims{
		Identity: auth.Identity,
		Role:     auth.Role,
		RegisteredClaims: jwt.RegisteredClaims{
			Subject:   strconv.FormatInt(auth.AccountID, 10),
			IssuedAt:  jwt.NewNumericDate(now),
			ExpiresAt: jwt.NewNumericDate(now.Add(t.lifetime)),
		},
	}
	return jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString(t.key)
}

// Verify validates a token string and returns the authorization it carries.
func (t *TokenAuth) Verify(tokenString string) (*Authorization, error) {
	claims := tokenClaims{}
	token, err := jwt.ParseWithClaims(tokenString, &claims, func(token *jwt.Token) (interface{}, error) {
		if _, ok := token.Method.(*jwt.SigningMethodHMAC); !ok {
			return nil, fmt.Errorf("unexpected signing method %v", token.Header["alg"])
		}
		return t.key, nil
	})
	if err != nil || !token.Valid {
		return nil, errors.New("invalid token")
	}
	accountID, err := strconv.ParseInt(claims.Subject, 10, 64)
	if err != nil {
		return nil, errors.New("invalid token")
	}
	return &Authorization{
		AccountID: accountID,
		Identity:  claims.Identity,
		Role:      claims.Role,
	}, nil
}

// Middleware returns a middleware handler that validates bearer tokens.
//
// Requests without a token pass through unauthenticated; the resource
// routes decide whether that is acceptable. Requests with an invalid
// token are rejected right away.
func (t *TokenAuth) Middleware() mux.MiddlewareFunc {
	return func(h http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			if AuthorizationFromContext(r.Context()) != nil { // already authorized
				h.ServeHTTP(w, r)
				return
			}

			tokenString := ""
			bearer := r.Header.Get("Authorization")
			if len(bearer) >= 8 && strings.ToLower(bearer[:7]) == "bearer " {
				tokenString = bearer[7:]
			}
			if len(tokenString) == 0 {
				h.ServeHTTP(w, r) // no token no auth, moving on
				return
			}

			auth := t.cache.Read(tokenString)
			if auth == nil {
				var err error
				auth, err = t.Verify(tokenString)
				if err != nil {
					http.Error(w, "invalid token", http.StatusUnauthorized)
					return
				}
				t.cache.Write(tokenString, auth)
			}

			ctx := ContextWithAuthorization(r.Context(), auth)
			ctx, _ = logger.ContextWithLoggerIdentity(ctx, auth.Identity)
			h.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}
