package payments

import (
	"errors"
	"io"
	"net/http"
	"strings"

	"github.com/gin-gonic/gin"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/application"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/auth"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/gig"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/logging"
)

const maxWebhookBody = 1 << 20 // 1 MiB

// Handler exposes the provider-facing payment routes.
type Handler struct {
	reconciler *Reconciler
	secret     string
	successURL string
	errorURL   string
}

// NewHandler creates payment HTTP handlers.
func NewHandler(reconciler *Reconciler, secret, successURL, errorURL string) *Handler {
	return &Handler{
		reconciler: reconciler,
		secret:     secret,
		successURL: successURL,
		errorURL:   errorURL,
	}
}

// RegisterRoutes registers the unauthenticated provider callbacks: the
// server-to-server webhook and the user browser return. They are distinct
// routes on purpose; only the webhook may mutate state.
func (h *Handler) RegisterRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments/webhook", h.Webhook)
	rg.GET("/payments/return", h.Return)
	rg.POST("/payments/return", h.Return)
}

// RegisterProtectedRoutes registers the authenticated checkout routes.
func (h *Handler) RegisterProtectedRoutes(rg *gin.RouterGroup) {
	rg.POST("/payments/checkout", h.Checkout)
}

// Webhook handles POST /v1/payments/webhook
//
// Response contract: 200 with {received:true, state, processed} for any
// well-formed event, recognized or not; 400 only for malformed payloads;
// 503 when the store is unavailable so the provider redelivers.
func (h *Handler) Webhook(c *gin.Context) {
	body, err := io.ReadAll(io.LimitReader(c.Request.Body, maxWebhookBody))
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "unreadable body"})
		return
	}

	n, err := ParseNotification(c.ContentType(), body)
	if err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "malformed notification"})
		return
	}
	if !n.IsWebhook() {
		c.JSON(http.StatusBadRequest, gin.H{"error": "not a signed provider notification"})
		return
	}
	if err := n.VerifySignature(h.secret); err != nil {
		logging.L(c.Request.Context()).Warn("webhook signature rejected",
			"transactionId", n.ID, "state", n.State)
		c.JSON(http.StatusUnauthorized, gin.H{"error": "invalid signature"})
		return
	}

	res, err := h.reconciler.Process(c.Request.Context(), n)
	if err != nil {
		// Only transient store failures reach here; ask for redelivery.
		c.JSON(http.StatusServiceUnavailable, gin.H{"error": "temporarily unavailable"})
		return
	}

	c.JSON(http.StatusOK, gin.H{
		"received":  true,
		"state":     res.State,
		"processed": res.Processed,
	})
}

// Return handles GET|POST /v1/payments/return — the user's browser coming
// back from the provider's checkout page. Never mutates state: it only
// chooses a landing page and forwards every query parameter.
func (h *Handler) Return(c *gin.Context) {
	target := h.errorURL
	if returnSucceeded(c) {
		target = h.successURL
	}

	if raw := c.Request.URL.RawQuery; raw != "" {
		sep := "?"
		if strings.Contains(target, "?") {
			sep = "&"
		}
		target = target + sep + raw
	}
	c.Redirect(http.StatusFound, target)
}

func returnSucceeded(c *gin.Context) bool {
	status := strings.ToLower(c.Query("status"))
	action := strings.ToLower(c.Query("action"))
	switch status {
	case "success", "complete", "completed", "paid":
		return true
	case "cancelled", "canceled", "error", "failed", "abandoned":
		return false
	}
	return action != "cancel" && action != "error"
}

// Checkout handles POST /v1/payments/checkout — records the payment
// intent that later webhooks correlate against. Employer-only.
func (h *Handler) Checkout(c *gin.Context) {
	var req struct {
		GigID         string `json:"gigId" binding:"required"`
		TransactionID string `json:"transactionId"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": "gigId is required"})
		return
	}

	g, err := h.reconciler.gigs.Get(c.Request.Context(), req.GigID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	if g.EmployerID != auth.GetAuthenticatedUser(c) {
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": "only the employer can fund a gig"})
		return
	}
	if _, err := h.reconciler.apps.ActiveForGig(c.Request.Context(), req.GigID); err != nil {
		h.respondError(c, err)
		return
	}

	intent, err := h.reconciler.CreateIntent(c.Request.Context(), req.GigID, req.TransactionID)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, intent)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, gig.ErrGigNotFound) || errors.Is(err, ErrIntentNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "message": err.Error()})
	case errors.Is(err, application.ErrNoAcceptedApplication):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": "gig has no accepted application to fund"})
	case errors.Is(err, ErrDuplicateIntent):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("payments handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "message": "an unexpected error occurred"})
	}
}
