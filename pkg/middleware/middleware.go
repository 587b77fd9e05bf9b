// Package middleware holds the HTTP middleware of the audit daemon: access
// token verification, the authority gate, request ids, logging, CORS, panic
// recovery and per-client rate limiting.
package middleware

import (
	"context"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5/middleware"
	"github.com/google/uuid"
	"go.uber.org/zap"

	"github.com/allsmog/zkaudit-go/pkg/jwt"
)

// ContextKey is used for storing values in context
type ContextKey string

const (
	// JWTClaimsKey is the context key for JWT claims
	JWTClaimsKey ContextKey = "jwt_claims"

	// RequestIDKey is the context key for the request id
	RequestIDKey ContextKey = "request_id"
)

// JWTMiddleware rejects requests without a valid bearer token for audience
// and stores the claims in the request context.
func JWTMiddleware(verifier jwt.TokenVerifier, expectedAudience string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			authHeader := r.Header.Get("Authorization")
			if authHeader == "" {
				http.Error(w, "missing Authorization header", http.StatusUnauthorized)
				return
			}

			const bearerPrefix = "Bearer "
			if !strings.HasPrefix(authHeader, bearerPrefix) {
				http.Error(w, "invalid Authorization header format", http.StatusUnauthorized)
				return
			}

			claims, err := verifier.Verify(strings.TrimPrefix(authHeader, bearerPrefix), expectedAudience)
			if err != nil {
				http.Error(w, "JWT verification failed", http.StatusUnauthorized)
				return
			}

			ctx := context.WithValue(r.Context(), JWTClaimsKey, claims)
			next.ServeHTTP(w, r.WithContext(ctx))
		})
	}
}

// GetJWTClaims extracts JWT claims from request context
func GetJWTClaims(r *http.Request) (*jwt.Claims, bool) {
	claims, ok := r.Context().Value(JWTClaimsKey).(*jwt.Claims)
	return claims, ok
}

// RequireAuthority admits tokens issued to one of the configured authority
// keys. publicKeys are the serialized keys in authority order; the token's
// slot index and key hash must both match.
func RequireAuthority(publicKeys [][]byte) func(http.Handler) http.Handler {
	hashes := make([]string, len(publicKeys))
	for i, pk := range publicKeys {
		hashes[i] = jwt.HashPublicKey(pk)
	}

	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetJWTClaims(r)
			if !ok {
				http.Error(w, "JWT claims required", http.StatusInternalServerError)
				return
			}

			a := claims.Authority
			if a == nil || a.Scheme != jwt.SchemeSchnorr {
				http.Error(w, "token not issued to an authority", http.StatusForbidden)
				return
			}
			if a.Index < 0 || a.Index >= len(hashes) || a.PKHash != hashes[a.Index] {
				http.Error(w, "token authority is not configured", http.StatusForbidden)
				return
			}

			next.ServeHTTP(w, r)
		})
	}
}

// AuthorityIndex returns the authority slot of the request's token.
func AuthorityIndex(r *http.Request) (int, bool) {
	claims, ok := GetJWTClaims(r)
	if !ok || claims.Authority == nil {
		return 0, false
	}
	return claims.Authority.Index, true
}

// RequireCurve admits tokens issued for the given curve only.
func RequireCurve(expectedCurve string) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			claims, ok := GetJWTClaims(r)
			if !ok {
				http.Error(w, "JWT claims required", http.StatusInternalServerError)
				return
			}
			if claims.Authority == nil || claims.Authority.Group != expectedCurve {
				http.Error(w, "token issued for another curve", http.StatusForbidden)
				return
			}
			next.ServeHTTP(w, r)
		})
	}
}

// CORS middleware for development
func CORS(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Access-Control-Allow-Origin", "*")
		w.Header().Set("Access-Control-Allow-Methods", "GET, POST, PUT, DELETE, OPTIONS")
		w.Header().Set("Access-Control-Allow-Headers", "Content-Type, Authorization")

		if r.Method == http.MethodOptions {
			w.WriteHeader(http.StatusOK)
			return
		}

		next.ServeHTTP(w, r)
	})
}

// RequestID keeps an incoming X-Request-ID or assigns a fresh one.
func RequestID(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		requestID := r.Header.Get("X-Request-ID")
		if requestID == "" {
			requestID = uuid.NewString()
		}
		w.Header().Set("X-Request-ID", requestID)

		ctx := context.WithValue(r.Context(), RequestIDKey, requestID)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

// GetRequestID returns the id assigned by RequestID.
func GetRequestID(r *http.Request) string {
	id, _ := r.Context().Value(RequestIDKey).(string)
	return id
}

// Logger logs one line per request.
func Logger(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			ww := middleware.NewWrapResponseWriter(w, r.ProtoMajor)
			start := time.Now()

			next.ServeHTTP(ww, r)

			log.Info("request",
				zap.String("id", GetRequestID(r)),
				zap.String("method", r.Method),
				zap.String("path", r.URL.Path),
				zap.Int("status", ww.Status()),
				zap.Int("bytes", ww.BytesWritten()),
				zap.Duration("duration", time.Since(start)),
			)
		})
	}
}

// Recovery turns panics into 500 responses.
func Recovery(log *zap.Logger) func(http.Handler) http.Handler {
	return func(next http.Handler) http.Handler {
		return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
			defer func() {
				if err := recover(); err != nil {
					log.Error("handler panic", zap.Any("panic", err), zap.String("path", r.URL.Path), zap.Stack("stack"))
					http.Error(w, "Internal Server Error", http.StatusInternalServerError)
				}
			}()

			next.ServeHTTP(w, r)
		})
	}
}
