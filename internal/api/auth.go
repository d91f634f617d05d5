package api

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/zenlist/notifier/internal/realtime"
	"github.com/zenlist/notifier/pkg/apikey"
	"github.com/zenlist/notifier/pkg/jsonutil"
)

const (
	headerUserID = "X-User-ID"
	headerAPIKey = "X-API-Key"
	tokenIssuer  = "zenlist"
)

var (
	ErrMissingCredentials = errors.New("authentication required")
	ErrInvalidToken       = errors.New("invalid token")
)

type ctxKey struct{}

// UserIDFrom returns the caller resolved by RequireUser.
func UserIDFrom(ctx context.Context) string {
	id, _ := ctx.Value(ctxKey{}).(string)
	return id
}

// Auth resolves callers. With a JWT secret, users present an HS256 bearer token whose
// subject is their id; without one the X-User-ID header set by the gateway is trusted.
type Auth struct {
	JWTSecret        string
	ServiceKeySecret string
	ServiceKeyHashes []string
}

// GenerateToken signs a user token. Used by tests and the CLI.
func GenerateToken(secret, userID string, ttl time.Duration) (string, error) {
	now := time.Now()
	claims := jwt.RegisteredClaims{
		Subject:   userID,
		Issuer:    tokenIssuer,
		IssuedAt:  jwt.NewNumericDate(now),
		ExpiresAt: jwt.NewNumericDate(now.Add(ttl)),
	}
	signed, err := jwt.NewWithClaims(jwt.SigningMethodHS256, claims).SignedString([]byte(secret))
	if err != nil {
		return "", fmt.Errorf("sign token: %w", err)
	}
	return signed, nil
}

func (a Auth) parseToken(raw string) (string, error) {
	claims := &jwt.RegisteredClaims{}
	token, err := jwt.ParseWithClaims(raw, claims, func(_ *jwt.Token) (any, error) {
		return []byte(a.JWTSecret), nil
	}, jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()}))
	if err != nil || !token.Valid || claims.Subject == "" {
		return "", ErrInvalidToken
	}
	return claims.Subject, nil
}

// UserID resolves the caller of r.
func (a Auth) UserID(r *http.Request) (string, error) {
	if a.JWTSecret == "" {
		id := strings.TrimSpace(r.Header.Get(headerUserID))
		if id == "" {
			return "", ErrMissingCredentials
		}
		return id, nil
	}
	header := r.Header.Get("Authorization")
	if header == "" {
		return "", ErrMissingCredentials
	}
	raw, ok := strings.CutPrefix(header, "Bearer ")
	if !ok {
		return "", ErrInvalidToken
	}
	return a.parseToken(raw)
}

// WebSocket returns the upgrade authenticator. Browsers cannot set headers on an upgrade,
// so the token may also come as the "token" query parameter. Without a JWT secret the
// connection is anonymous and the joined room is trusted.
func (a Auth) WebSocket() realtime.Authenticator {
	return func(r *http.Request) (string, error) {
		if a.JWTSecret == "" {
			return "", nil
		}
		if token := r.URL.Query().Get("token"); token != "" {
			return a.parseToken(token)
		}
		return a.UserID(r)
	}
}

// RequireUser rejects requests without a resolvable caller.
func (a Auth) RequireUser(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		userID, err := a.UserID(r)
		if err != nil {
			msg := "Authentication required"
			if errors.Is(err, ErrInvalidToken) {
				msg = "Invalid token"
			}
			jsonutil.WriteError(w, http.StatusUnauthorized, msg)
			return
		}
		next.ServeHTTP(w, r.WithContext(context.WithValue(r.Context(), ctxKey{}, userID)))
	})
}

// RequireServiceKey guards the internal routes with an HMAC-hashed service key.
func (a Auth) RequireServiceKey(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		key := r.Header.Get(headerAPIKey)
		if !apikey.ValidateKeyFormat(key, apikey.ServicePrefix) ||
			!apikey.Verify(key, a.ServiceKeySecret, a.ServiceKeyHashes) {
			jsonutil.WriteError(w, http.StatusUnauthorized, "Invalid service key")
			return
		}
		next.ServeHTTP(w, r)
	})
}
