package application

import (
	"errors"
	"net/http"
	"strconv"
	"time"

	"github.com/gin-gonic/gin"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/auth"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/gig"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/logging"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/validation"
)

// Handler exposes application operations over HTTP.
type Handler struct {
	service *Service
}

// NewHandler creates HTTP handlers for the application service.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterProtectedRoutes registers the authenticated application routes.
func (h *Handler) RegisterProtectedRoutes(rg *gin.RouterGroup) {
	rg.POST("/gigs/:id/apply", h.Apply)
	rg.GET("/gigs/:id/applications", h.ListByGig)
	rg.GET("/my/applications", h.ListMine)
	rg.GET("/applications/:id", h.Get)
	rg.POST("/applications/:id/withdraw", h.Withdraw)
	rg.POST("/applications/:id/accept", h.Accept)
	rg.POST("/applications/:id/reject", h.Reject)
	rg.GET("/applications/:id/completion", h.CompletionStatus)
	rg.POST("/applications/:id/completion/request", h.RequestCompletion)
	rg.POST("/applications/:id/completion/approve", h.ApproveCompletion)
	rg.POST("/applications/:id/completion/dispute", h.DisputeCompletion)
}

// Apply handles POST /v1/gigs/:id/apply
func (h *Handler) Apply(c *gin.Context) {
	var req ApplyRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": err.Error()})
		return
	}
	req.GigID = c.Param("id")
	req.ApplicantID = auth.GetAuthenticatedUser(c)
	req.Message = validation.SanitizeString(req.Message, 2000)

	app, err := h.service.Apply(c.Request.Context(), req)
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusCreated, app)
}

// Get handles GET /v1/applications/:id. Visible to the applicant and the
// gig's employer only.
func (h *Handler) Get(c *gin.Context) {
	app, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	caller := auth.GetAuthenticatedUser(c)
	if caller != app.ApplicantID && caller != app.EmployerID {
		h.respondError(c, ErrNotOwner)
		return
	}
	c.JSON(http.StatusOK, app)
}

// ListByGig handles GET /v1/gigs/:id/applications (employer view).
func (h *Handler) ListByGig(c *gin.Context) {
	apps, err := h.service.ListByGig(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	caller := auth.GetAuthenticatedUser(c)
	// The employer sees everything; an applicant sees only their own row.
	visible := make([]*Application, 0, len(apps))
	for _, app := range apps {
		if caller == app.EmployerID || caller == app.ApplicantID {
			visible = append(visible, app)
		}
	}
	c.JSON(http.StatusOK, gin.H{"applications": visible, "count": len(visible)})
}

// ListMine handles GET /v1/my/applications
func (h *Handler) ListMine(c *gin.Context) {
	apps, err := h.service.ListByApplicant(c.Request.Context(),
		auth.GetAuthenticatedUser(c), parseLimit(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{"applications": apps, "count": len(apps)})
}

// Withdraw handles POST /v1/applications/:id/withdraw
func (h *Handler) Withdraw(c *gin.Context) {
	app, err := h.service.Withdraw(c.Request.Context(), c.Param("id"), auth.GetAuthenticatedUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// Accept handles POST /v1/applications/:id/accept
func (h *Handler) Accept(c *gin.Context) {
	app, err := h.service.Accept(c.Request.Context(), c.Param("id"), auth.GetAuthenticatedUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// Reject handles POST /v1/applications/:id/reject
func (h *Handler) Reject(c *gin.Context) {
	app, err := h.service.Reject(c.Request.Context(), c.Param("id"), auth.GetAuthenticatedUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// CompletionStatus handles GET /v1/applications/:id/completion
func (h *Handler) CompletionStatus(c *gin.Context) {
	app, err := h.service.Get(c.Request.Context(), c.Param("id"))
	if err != nil {
		h.respondError(c, err)
		return
	}
	caller := auth.GetAuthenticatedUser(c)
	if caller != app.ApplicantID && caller != app.EmployerID {
		h.respondError(c, ErrNotOwner)
		return
	}

	resp := gin.H{
		"applicationId":         app.ID,
		"gigId":                 app.GigID,
		"status":                app.Status,
		"paymentStatus":         app.PaymentStatus,
		"completionRequested":   app.CompletionRequestedAt != nil,
		"disputed":              app.CompletionDisputedAt != nil,
		"daysUntilAutoRelease":  DaysUntilAutoRelease(app, time.Now()),
	}
	if app.CompletionRequestedAt != nil {
		resp["completionRequestedAt"] = app.CompletionRequestedAt
	}
	if app.CompletionAutoReleaseAt != nil {
		resp["completionAutoReleaseAt"] = app.CompletionAutoReleaseAt
	}
	if app.CompletionDisputedAt != nil {
		resp["completionDisputedAt"] = app.CompletionDisputedAt
		resp["completionDisputeReason"] = app.CompletionDisputeReason
	}
	c.JSON(http.StatusOK, resp)
}

// RequestCompletion handles POST /v1/applications/:id/completion/request
func (h *Handler) RequestCompletion(c *gin.Context) {
	app, err := h.service.RequestCompletion(c.Request.Context(), c.Param("id"), auth.GetAuthenticatedUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, gin.H{
		"application":          app,
		"autoReleaseAt":        app.CompletionAutoReleaseAt,
		"daysUntilAutoRelease": DaysUntilAutoRelease(app, time.Now()),
	})
}

// ApproveCompletion handles POST /v1/applications/:id/completion/approve
func (h *Handler) ApproveCompletion(c *gin.Context) {
	app, err := h.service.ApproveCompletion(c.Request.Context(), c.Param("id"), auth.GetAuthenticatedUser(c))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

// DisputeCompletion handles POST /v1/applications/:id/completion/dispute
func (h *Handler) DisputeCompletion(c *gin.Context) {
	var req struct {
		Reason string `json:"reason" binding:"required"`
	}
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{"error": "invalid request", "message": "reason is required"})
		return
	}

	app, err := h.service.DisputeCompletion(c.Request.Context(), c.Param("id"),
		auth.GetAuthenticatedUser(c), validation.SanitizeString(req.Reason, 1000))
	if err != nil {
		h.respondError(c, err)
		return
	}
	c.JSON(http.StatusOK, app)
}

func (h *Handler) respondError(c *gin.Context, err error) {
	switch {
	case errors.Is(err, ErrApplicationNotFound) || errors.Is(err, gig.ErrGigNotFound):
		c.JSON(http.StatusNotFound, gin.H{"error": "not found", "message": err.Error()})
	case errors.Is(err, ErrNotOwner) || errors.Is(err, gig.ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{"error": "forbidden", "message": err.Error()})
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{"error": "validation failed", "message": err.Error()})
	case errors.Is(err, ErrDuplicateApplication) ||
		errors.Is(err, ErrGigNotOpen) ||
		errors.Is(err, ErrCapacityReached) ||
		errors.Is(err, ErrInvalidTransition) ||
		errors.Is(err, ErrNoCompletionRequest) ||
		errors.Is(err, ErrAlreadyDisputed) ||
		errors.Is(err, gig.ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{"error": "conflict", "message": err.Error()})
	default:
		logging.L(c.Request.Context()).Error("application handler error", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{"error": "internal error", "message": "an unexpected error occurred"})
	}
}

func parseLimit(c *gin.Context) int {
	limit := 50
	if raw := c.Query("limit"); raw != "" {
		if n, err := strconv.Atoi(raw); err == nil && n > 0 && n <= 200 {
			limit = n
		}
	}
	return limit
}
