package handler

import (
	"context"
	"crypto/rand"
	"encoding/hex"
	"errors"
	"fmt"
	"net/http"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"
	"github.com/google/uuid"
	mw "github.com/kiranshivaraju/docrender/internal/api/middleware"
	"github.com/kiranshivaraju/docrender/internal/api/response"
	"github.com/kiranshivaraju/docrender/internal/store"
	"github.com/kiranshivaraju/docrender/pkg/models"
	"golang.org/x/crypto/bcrypt"
)

const maxKeyNameLen = 100

// PlanResolver returns the owner's current plan.
type PlanResolver interface {
	PlanFor(ctx context.Context, ownerID string) (models.Plan, error)
}

// GenerateAPIKey returns a new raw key and its bcrypt hash.
func GenerateAPIKey() (raw, hash string, err error) {
	buf := make([]byte, 24)
	if _, err := rand.Read(buf); err != nil {
		return "", "", fmt.Errorf("reading random bytes: %w", err)
	}
	raw = mw.APIKeyPrefix + hex.EncodeToString(buf)
	h, err := bcrypt.GenerateFromPassword([]byte(raw), bcrypt.DefaultCost)
	if err != nil {
		return "", "", fmt.Errorf("hashing api key: %w", err)
	}
	return raw, string(h), nil
}

type createdKeyResponse struct {
	ID        uuid.UUID  `json:"id"`
	Name      string     `json:"name"`
	Key       string     `json:"key"`
	KeyPrefix string     `json:"keyPrefix"`
	CreatedAt time.Time  `json:"createdAt"`
	ExpiresAt *time.Time `json:"expiresAt,omitempty"`
}

// NewCreateKeyHandler returns an http.HandlerFunc for POST /api/v1/keys.
// The raw key appears only in this response.
func NewCreateKeyHandler(keys store.APIKeyStore, plans PlanResolver, now func() time.Time) http.HandlerFunc {
	if now == nil {
		now = time.Now
	}
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerOrReject(w, r)
		if !ok {
			return
		}
		var req struct {
			Name          string `json:"name"`
			ExpiresInDays int    `json:"expiresInDays"`
		}
		if !decode(w, r, &req) {
			return
		}
		req.Name = strings.TrimSpace(req.Name)
		if req.Name == "" || len(req.Name) > maxKeyNameLen {
			response.Fail(w, http.StatusBadRequest, models.ErrCodeInvalidInput,
				fmt.Sprintf("name is required and must be at most %d characters", maxKeyNameLen), nil)
			return
		}
		if req.ExpiresInDays < 0 {
			response.Fail(w, http.StatusBadRequest, models.ErrCodeInvalidInput,
				"expiresInDays must not be negative", nil)
			return
		}

		plan, err := plans.PlanFor(r.Context(), owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		existing, err := keys.ListAPIKeys(r.Context(), owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if plan.APIKeysAllowed != models.Unlimited && len(existing) >= plan.APIKeysAllowed {
			response.Fail(w, http.StatusForbidden, models.ErrCodeUpgradeRequired,
				fmt.Sprintf("The %s plan allows %d API keys", plan.Name, plan.APIKeysAllowed),
				map[string]any{"plan": plan.Name, "allowed": plan.APIKeysAllowed})
			return
		}

		raw, hash, err := GenerateAPIKey()
		if err != nil {
			writeError(w, r, err)
			return
		}
		ts := now().UTC()
		key := &models.APIKey{
			ID:        uuid.New(),
			OwnerID:   owner,
			Name:      req.Name,
			KeyHash:   hash,
			KeyPrefix: raw[:mw.KeyPrefixLen],
			CreatedAt: ts,
			UpdatedAt: ts,
		}
		if req.ExpiresInDays > 0 {
			exp := ts.AddDate(0, 0, req.ExpiresInDays)
			key.ExpiresAt = &exp
		}
		if err := keys.CreateAPIKey(r.Context(), key); err != nil {
			writeError(w, r, err)
			return
		}

		response.Created(w, createdKeyResponse{
			ID:        key.ID,
			Name:      key.Name,
			Key:       raw,
			KeyPrefix: key.KeyPrefix,
			CreatedAt: key.CreatedAt,
			ExpiresAt: key.ExpiresAt,
		})
	}
}

// NewListKeysHandler returns an http.HandlerFunc for GET /api/v1/keys.
func NewListKeysHandler(keys store.APIKeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerOrReject(w, r)
		if !ok {
			return
		}
		list, err := keys.ListAPIKeys(r.Context(), owner)
		if err != nil {
			writeError(w, r, err)
			return
		}
		if list == nil {
			list = []*models.APIKey{}
		}
		response.JSON(w, list)
	}
}

// NewRevokeKeyHandler returns an http.HandlerFunc for DELETE /api/v1/keys/{keyID}.
func NewRevokeKeyHandler(keys store.APIKeyStore) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		owner, ok := ownerOrReject(w, r)
		if !ok {
			return
		}
		id, err := uuid.Parse(chi.URLParam(r, "keyID"))
		if err != nil {
			response.Fail(w, http.StatusBadRequest,
				models.ErrCodeInvalidInput, "keyID must be a valid UUID", nil)
			return
		}

		err = keys.RevokeAPIKey(r.Context(), id, owner)
		if errors.Is(err, store.ErrNotFound) {
			response.Fail(w, http.StatusNotFound,
				models.ErrCodeNotFound, "API key not found", nil)
			return
		}
		if err != nil {
			writeError(w, r, err)
			return
		}
		response.NoContent(w)
	}
}
