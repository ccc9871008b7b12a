package handlers

import (
	"context"
	"net/http"

	"github.com/upb/authcore/middleware"
	"github.com/upb/authcore/models"
	"github.com/upb/authcore/utils"
	"go.uber.org/zap"
)

// IdentityLoader reloads an identity by its token subject.
type IdentityLoader interface {
	LoadByIdentifier(ctx context.Context, identifier string) (*models.Identity, error)
}

// CurrentIdentityHandler serves the identity bound to the request.
type CurrentIdentityHandler struct {
	identities IdentityLoader
	logger     *zap.Logger
}

// NewCurrentIdentityHandler creates a new CurrentIdentityHandler
func NewCurrentIdentityHandler(identities IdentityLoader, logger *zap.Logger) *CurrentIdentityHandler {
	return &CurrentIdentityHandler{
		identities: identities,
		logger:     logger,
	}
}

// HandleGetCurrentIdentity handles GET /api/v1/me
// The identity is re-read from the store so the response reflects its
// current authorities and status flags.
func (h *CurrentIdentityHandler) HandleGetCurrentIdentity(w http.ResponseWriter, r *http.Request) {
	current := middleware.GetIdentityFromContext(r.Context())
	if current == nil {
		_ = utils.WriteUnauthorized(w, "Authentication required")
		return
	}

	identity, err := h.identities.LoadByIdentifier(r.Context(), current.ID)
	if err != nil {
		h.logger.Warn("failed to reload current identity",
			zap.String("sub", current.ID),
			zap.String("request_id", middleware.GetRequestIDFromContext(r.Context())),
			zap.Error(err))
		HandleServiceError(w, err, h.logger)
		return
	}

	if err := utils.WriteOK(w, identity); err != nil {
		h.logger.Error("failed to write identity response", zap.Error(err))
	}
}
