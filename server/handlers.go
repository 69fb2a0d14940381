package server

import (
	"context"
	"encoding/json"
	"fmt"
	"net/http"
	"strings"

	"mirlo/cache"
	"mirlo/core/archive"
	"mirlo/core/auth"
	"mirlo/core/fulfillment"
	"mirlo/logger"
	"mirlo/model"
	"mirlo/repository"
)

// BuildStatusReader is the read side of the build-status cache used by the
// polling endpoints.
type BuildStatusReader interface {
	TargetState(ctx context.Context, target model.Target, format model.AudioFormat) (cache.BuildState, bool, error)
	JobState(ctx context.Context, jobID string) (cache.BuildState, bool, error)
}

type contextKey string

const (
	ctxUserID  contextKey = "userID"
	ctxIsAdmin contextKey = "isAdmin"
	ctxEmail   contextKey = "email"
)

// APIHandler handles all API requests.
type APIHandler struct {
	fulfillment *fulfillment.Service
	users       repository.UserRepository
	purchases   repository.PurchaseRepository
	store       archive.ObjectStore
	status      BuildStatusReader

	downloadsBucket string
}

// NewAPIHandler creates a new API handler.
func NewAPIHandler(
	svc *fulfillment.Service,
	users repository.UserRepository,
	purchases repository.PurchaseRepository,
	store archive.ObjectStore,
	status BuildStatusReader,
	downloadsBucket string,
) *APIHandler {
	return &APIHandler{
		fulfillment:     svc,
		users:           users,
		purchases:       purchases,
		store:           store,
		status:          status,
		downloadsBucket: downloadsBucket,
	}
}

// AuthMiddleware requires a valid Bearer session token.
func (h *APIHandler) AuthMiddleware(next http.HandlerFunc) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		claims, ok := sessionClaims(r)
		if !ok {
			http.Error(w, "Unauthorized", http.StatusUnauthorized)
			return
		}

		ctx := context.WithValue(r.Context(), ctxUserID, claims.UserID)
		ctx = context.WithValue(ctx, ctxIsAdmin, claims.IsAdmin)
		ctx = context.WithValue(ctx, ctxEmail, claims.Email)
		next.ServeHTTP(w, r.WithContext(ctx))
	}
}

// sessionClaims parses the Authorization header if present and valid.
func sessionClaims(r *http.Request) (*auth.Claims, bool) {
	authHeader := r.Header.Get("Authorization")
	if authHeader == "" {
		return nil, false
	}
	parts := strings.Split(authHeader, " ")
	if len(parts) != 2 || parts[0] != "Bearer" {
		return nil, false
	}
	claims, err := auth.ParseToken(parts[1])
	if err != nil {
		return nil, false
	}
	return claims, true
}

// identityFromRequest builds the download identity: session claims when a
// valid Bearer token is present, otherwise the (email, token) query pair.
func identityFromRequest(r *http.Request) fulfillment.Identity {
	if claims, ok := sessionClaims(r); ok {
		return fulfillment.Identity{
			Authenticated: true,
			UserID:        claims.UserID,
			IsAdmin:       claims.IsAdmin,
			Email:         claims.Email,
		}
	}
	return fulfillment.Identity{
		Email: r.URL.Query().Get("email"),
		Token: r.URL.Query().Get("token"),
	}
}

// GetUserIDFromContext extracts the user ID from the request context.
func GetUserIDFromContext(ctx context.Context) (int64, error) {
	userID, ok := ctx.Value(ctxUserID).(int64)
	if !ok {
		return 0, fmt.Errorf("user ID not found in context")
	}
	return userID, nil
}

// IsAdminFromContext extracts the admin flag from the request context.
func IsAdminFromContext(ctx context.Context) bool {
	isAdmin, _ := ctx.Value(ctxIsAdmin).(bool)
	return isAdmin
}

func writeJSON(w http.ResponseWriter, status int, payload interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(payload); err != nil {
		logger.Error("failed to encode response", logger.ErrorField(err))
	}
}
