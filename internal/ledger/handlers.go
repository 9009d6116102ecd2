package ledger

import (
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/logging"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/validation"
)

// Handler provides HTTP endpoints for balances and ledger history
type Handler struct {
	accessor *Accessor
}

// NewHandler creates a new ledger handler
func NewHandler(accessor *Accessor) *Handler {
	return &Handler{accessor: accessor}
}

// GetBalance returns a user's balance fields
// GET /v1/users/:id/balance
func (h *Handler) GetBalance(c *gin.Context) {
	userID := c.Param("id")
	if !validation.IsValidID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_user_id",
			"message": "user ID is not well-formed",
		})
		return
	}

	bal, err := h.accessor.GetBalance(c.Request.Context(), userID)
	if err != nil {
		logging.L(c.Request.Context()).Error("get balance failed", "userId", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load balance",
		})
		return
	}

	c.JSON(http.StatusOK, bal)
}

// GetHistory returns a user's recent ledger entries
// GET /v1/users/:id/ledger?limit=50
func (h *Handler) GetHistory(c *gin.Context) {
	userID := c.Param("id")
	if !validation.IsValidID(userID) {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_user_id",
			"message": "user ID is not well-formed",
		})
		return
	}

	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 500 {
			limit = n
		}
	}

	entries, err := h.accessor.GetHistory(c.Request.Context(), userID, limit)
	if err != nil {
		logging.L(c.Request.Context()).Error("get ledger history failed", "userId", userID, "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to load ledger history",
		})
		return
	}

	if entries == nil {
		entries = []*Entry{}
	}
	c.JSON(http.StatusOK, gin.H{
		"entries": entries,
		"count":   len(entries),
	})
}
