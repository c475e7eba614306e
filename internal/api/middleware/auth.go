package middleware

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/golang-jwt/jwt/v5"
	"github.com/kiranshivaraju/docrender/internal/api/response"
	"github.com/kiranshivaraju/docrender/internal/config"
	"github.com/kiranshivaraju/docrender/internal/logging"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/rs/zerolog"
	"golang.org/x/crypto/bcrypt"
)

const (
	// APIKeyPrefix starts every issued API key.
	APIKeyPrefix = "dr_"
	// KeyPrefixLen is how much of a raw key is stored in clear for lookup.
	KeyPrefixLen = 8

	APIKeyHeader = "X-Api-Key"
)

var errInvalidToken = errors.New("invalid token")

// Auth resolves the owner of a request from an API key or a signed JWT.
type Auth struct {
	keys      store.APIKeyStore
	jwtSecret []byte
	issuer    string
	logger    zerolog.Logger
}

// NewAuth creates the authentication middleware. JWT bearer tokens are only
// accepted when cfg.JWTSecret is set.
func NewAuth(keys store.APIKeyStore, cfg config.AuthConfig, logger zerolog.Logger) *Auth {
	a := &Auth{keys: keys, issuer: cfg.JWTIssuer, logger: logger}
	if cfg.JWTSecret != "" {
		a.jwtSecret = []byte(cfg.JWTSecret)
	}
	return a
}

// Authenticate accepts either an X-Api-Key header or an Authorization
// bearer credential. Bearer values that look like API keys are checked as
// keys; anything else is parsed as an HS256 JWT whose subject is the owner.
func (a *Auth) Authenticate(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		var (
			owner, identity string
			err             error
		)

		rawKey := strings.TrimSpace(r.Header.Get(APIKeyHeader))
		bearer := extractBearerToken(r)
		switch {
		case rawKey != "":
			owner, identity, err = a.fromAPIKey(r.Context(), rawKey)
		case bearer != "" && strings.HasPrefix(bearer, APIKeyPrefix):
			owner, identity, err = a.fromAPIKey(r.Context(), bearer)
		case bearer != "" && a.jwtSecret != nil:
			owner, identity, err = a.fromJWT(bearer)
		default:
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Missing or invalid credentials", nil)
			return
		}

		if errors.Is(err, errInvalidToken) {
			response.Error(w, http.StatusUnauthorized,
				"INVALID_TOKEN", "Invalid credentials", nil)
			return
		}
		if err != nil {
			a.logger.Error().Err(err).Msg("api key lookup failed")
			response.Error(w, http.StatusInternalServerError,
				"INTERNAL_ERROR", "Failed to validate credentials", nil)
			return
		}

		ctx := SetOwnerID(r.Context(), owner)
		ctx = setIdentity(ctx, identity)
		ctx = logging.WithOwnerID(ctx, owner)
		next.ServeHTTP(w, r.WithContext(ctx))
	})
}

func (a *Auth) fromAPIKey(ctx context.Context, rawKey string) (owner, identity string, err error) {
	if len(rawKey) < KeyPrefixLen {
		return "", "", errInvalidToken
	}
	prefix := rawKey[:KeyPrefixLen]

	keys, err := a.keys.GetAPIKeyByPrefix(ctx, prefix)
	if err != nil {
		return "", "", err
	}

	now := time.Now()
	for _, key := range keys {
		if key.ExpiresAt != nil && now.After(*key.ExpiresAt) {
			continue
		}
		if bcrypt.CompareHashAndPassword([]byte(key.KeyHash), []byte(rawKey)) != nil {
			continue
		}
		id := key.ID
		go func() {
			if err := a.keys.UpdateAPIKeyLastUsed(context.Background(), id); err != nil {
				a.logger.Warn().Err(err).Str("key_prefix", prefix).Msg("updating api key last use failed")
			}
		}()
		return key.OwnerID, "key:" + prefix, nil
	}
	return "", "", errInvalidToken
}

func (a *Auth) fromJWT(raw string) (owner, identity string, err error) {
	opts := []jwt.ParserOption{jwt.WithValidMethods([]string{jwt.SigningMethodHS256.Alg()})}
	if a.issuer != "" {
		opts = append(opts, jwt.WithIssuer(a.issuer))
	}

	claims := &jwt.RegisteredClaims{}
	tkn, err := jwt.ParseWithClaims(raw, claims, func(*jwt.Token) (any, error) {
		return a.jwtSecret, nil
	}, opts...)
	if err != nil || !tkn.Valid || claims.Subject == "" {
		return "", "", errInvalidToken
	}
	return claims.Subject, "user:" + claims.Subject, nil
}

func extractBearerToken(r *http.Request) string {
	auth := r.Header.Get("Authorization")
	if auth == "" {
		return ""
	}
	parts := strings.SplitN(auth, " ", 2)
	if len(parts) != 2 || !strings.EqualFold(parts[0], "Bearer") {
		return ""
	}
	return strings.TrimSpace(parts[1])
}
