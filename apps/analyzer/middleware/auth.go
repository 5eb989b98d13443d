// Package middleware wraps the analyzer HTTP API with authentication and
// rate limiting.
package middleware

import (
	"encoding/json"
	"net/http"
	"slices"
	"strings"

	"github.com/pitabwire/frame/security"
	"github.com/pitabwire/util"
)

const (
	authHeaderParts = 2
	bearerScheme    = "bearer"
	authRealm       = `Bearer realm="requirements-analyzer"`
)

// errorBody matches the error shape of the analysis API.
type errorBody struct {
	Success bool      `json:"success"`
	Error   errorInfo `json:"error"`
}

type errorInfo struct {
	Code    string `json:"code"`
	Message string `json:"message"`
}

func writeError(w http.ResponseWriter, status int, code, message string) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(errorBody{Error: errorInfo{Code: code, Message: message}})
}

// Auth validates bearer tokens with Frame's authenticator. Paths listed as
// public bypass it.
type Auth struct {
	authenticator security.Authenticator
	public        []string
}

// NewAuth creates the middleware.
func NewAuth(authenticator security.Authenticator, publicPaths ...string) *Auth {
	return &Auth{authenticator: authenticator, public: publicPaths}
}

// Middleware rejects requests without a valid bearer token.
func (a *Auth) Middleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if slices.Contains(a.public, r.URL.Path) {
			next.ServeHTTP(w, r)
			return
		}

		ctx := r.Context()
		log := util.Log(ctx)

		token, problem := bearerToken(r)
		if problem != "" {
			log.Debug("rejecting request", "reason", problem, "path", r.URL.Path)
			a.unauthorized(w, problem)
			return
		}

		authCtx, err := a.authenticator.Authenticate(ctx, token)
		if err != nil {
			log.Debug("token validation failed", "error", err.Error())
			a.unauthorized(w, "Invalid or expired token")
			return
		}

		log.Debug("authenticated request", "subject", Subject(r.WithContext(authCtx)), "path", r.URL.Path)
		next.ServeHTTP(w, r.WithContext(authCtx))
	})
}

func bearerToken(r *http.Request) (string, string) {
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", "Missing authorization header"
	}
	parts := strings.SplitN(header, " ", authHeaderParts)
	if len(parts) != authHeaderParts || !strings.EqualFold(parts[0], bearerScheme) {
		return "", "Invalid authorization header format. Expected: Bearer <token>"
	}
	token := strings.TrimSpace(parts[1])
	if token == "" {
		return "", "Empty token"
	}
	return token, ""
}

func (a *Auth) unauthorized(w http.ResponseWriter, message string) {
	w.Header().Set("WWW-Authenticate", authRealm)
	writeError(w, http.StatusUnauthorized, "UNAUTHENTICATED", message)
}

// Subject returns the authenticated subject of the request, if any.
func Subject(r *http.Request) string {
	claims := security.ClaimsFromContext(r.Context())
	if claims == nil {
		return ""
	}
	subject, _ := claims.GetSubject()
	return subject
}
