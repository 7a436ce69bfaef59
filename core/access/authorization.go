/*Package access provides utilities for access control
 */
package access

import (
	"context"
	"net/http"
	"sync"

	"github.com/goccy/go-json"

	"github.com/gorilla/mux"
	"github.com/webkontor/sitecms/core/logger"
)

// contextKey is the type for context keys. Go linter does not like plain strings
type contextKey string

// the predefined context key
const (
	contextKeyAuthorization contextKey = "_authorization_"
)

// Authorization describes the authenticated caller of a request.
//
// It is added to a request context with
//
//	ctx = auth.ContextWithAuthorization(ctx)
//
// and retrieved with
//
//	auth := AuthorizationFromContext(ctx)
//
// The token middleware adds an authorization for every request that
// carries a valid bearer token.
type Authorization struct {
	AccountID int64  `json:"account_id"`
	Identity  string `json:"identity"`
	Role      string `json:"role"`
}

// HasRole returns true if the authorization carries the requested role;
// otherwise it returns false.
func (a *Authorization) HasRole(role string) bool {
	if a == nil {
		return false
	}
	return a.Role == role
}

// ContextWithAuthorization returns a new context with this authorization added to it
func (a *Authorization) ContextWithAuthorization(ctx context.Context) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// ContextWithAuthorization returns a new context with the passed authorization added to it
func ContextWithAuthorization(ctx context.Context, a *Authorization) context.Context {
	return context.WithValue(ctx, contextKeyAuthorization, a)
}

// AuthorizationFromContext retrieves an authorization from the context
func AuthorizationFromContext(ctx context.Context) *Authorization {
	a, ok := ctx.Value(contextKeyAuthorization).(*Authorization)
	if ok {
		return a
	}
	return nil
}

// AuthorizationCache is an in-memory cache for authorizations. It is used by
// the token middleware to cache authorization objects for bearer tokens.
// The purpose of the cache is to avoid verifying and decoding the very same
// token for every single request.
type AuthorizationCache struct {
	mutex sync.RWMutex
	cache map[string]*Authorization
}

// NewAuthorizationCache creates a new authorization cache
func NewAuthorizationCache() *AuthorizationCache {
	return &AuthorizationCache{cache: make(map[string]*Authorization)}
}

// Read returns an authorization from in-process cache.
// Token should be the temporary token the authorization was derived from, not any of the ids.
// This function is go-routine safe
func (a *AuthorizationCache) Read(token string) *Authorization {
	a.mutex.RLock()
	auth, ok := a.cache[token]
	a.mutex.RUnlock()
	if ok {
		return auth
	}
	return nil
}

// Write stores an authorization in the in-memory cache.
// Token should be the temporary token it was derived from, not any of the ids.
// This function is go-routine safe
func (a *AuthorizationCache) Write(token string, auth *Authorization) {
	a.mutex.Lock()
	a.cache[token] = auth
	a.mutex.Unlock()
}

// HandleAuthorizationRoute adds a route /authorization GET to the router
//
// The route returns the current authorization for the provided bearer token.
func HandleAuthorizationRoute(router *mux.Router) {
	logger.Default().Debugln("authorization")
	logger.Default().Debugln("  handle route: /authorization GET")
	router.HandleFunc("/authorization", func(w http.ResponseWriter, r *http.Request) {
		auth := AuthorizationFromContext(r.Context())
		if auth == nil {
			w.WriteHeader(http.StatusNoContent)
			return
		}
		jsonData, _ := json.MarshalIndent(auth, "", " ")
		w.Header().Set("Content-Type", "application/json")
		w.Write(jsonData)
	}).Methods(http.MethodGet)
}
