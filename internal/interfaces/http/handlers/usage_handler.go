package handlers

import (
	"net/http"

	"github.com/gin-gonic/gin"
	"go.uber.org/zap"

	"github.com/everettbu/chatsafe/internal/infrastructure/persistence"
	"github.com/everettbu/chatsafe/pkg/errors"
)

// recentUsageLimit caps the recent-rows slice served per ledger query.
const recentUsageLimit = 50

// UsageHandler serves the persisted usage ledger. The store is nil when
// persistence is disabled in config.
type UsageHandler struct {
	store  *persistence.Store
	logger *zap.Logger
}

func NewUsageHandler(store *persistence.Store, logger *zap.Logger) *UsageHandler {
	return &UsageHandler{store: store, logger: logger}
}

// UsageResponse pairs ledger totals with the newest records.
type UsageResponse struct {
	Totals persistence.Totals        `json:"totals"`
	Recent []persistence.UsageRecord `json:"recent"`
}

// Usage serves ledger totals plus recent rows.
// GET /v1/usage
func (h *UsageHandler) Usage(c *gin.Context) {
	if h.store == nil {
		respondError(c, errors.NewUnavailableError("usage ledger disabled"))
		return
	}

	totals, err := h.store.Totals(c.Request.Context())
	if err != nil {
		respondError(c, err)
		return
	}
	recent, err := h.store.Recent(c.Request.Context(), recentUsageLimit)
	if err != nil {
		respondError(c, err)
		return
	}

	c.JSON(http.StatusOK, UsageResponse{Totals: totals, Recent: recent})
}
