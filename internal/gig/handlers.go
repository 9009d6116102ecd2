package gig

import (
	"errors"
	"net/http"
	"strconv"

	"github.com/gin-gonic/gin"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/auth"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/logging"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/validation"
)

// Handler provides HTTP endpoints for gig operations.
type Handler struct {
	service *Service
}

// NewHandler creates a new gig handler.
func NewHandler(service *Service) *Handler {
	return &Handler{service: service}
}

// RegisterRoutes sets up public (read-only) gig routes.
func (h *Handler) RegisterRoutes(r *gin.RouterGroup) {
	r.GET("/gigs", h.ListOpen)
	r.GET("/gigs/:id", h.Get)
}

// RegisterProtectedRoutes sets up protected (auth-required) gig routes.
func (h *Handler) RegisterProtectedRoutes(r *gin.RouterGroup) {
	r.POST("/gigs", h.Create)
	r.POST("/gigs/:id/close", h.Close)
	r.GET("/my/gigs", h.ListMine)
}

// Create handles POST /v1/gigs
func (h *Handler) Create(c *gin.Context) {
	var req CreateRequest
	if err := c.ShouldBindJSON(&req); err != nil {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "invalid_request",
			"message": "Invalid request body",
		})
		return
	}

	// The employer is always the authenticated user.
	req.EmployerID = auth.GetAuthenticatedUser(c)
	req.Title = validation.SanitizeString(req.Title, 255)
	req.Description = validation.SanitizeString(req.Description, validation.MaxStringLength)

	if errs := validation.Validate(
		validation.Required("title", req.Title),
		validation.PositiveAmount("budget", req.Budget),
	); len(errs) > 0 {
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": errs.Error(),
			"details": errs,
		})
		return
	}

	g, err := h.service.Create(c.Request.Context(), req)
	if err != nil {
		if errors.Is(err, ErrValidation) {
			c.JSON(http.StatusBadRequest, gin.H{
				"error":   "validation_error",
				"message": err.Error(),
			})
			return
		}
		logging.L(c.Request.Context()).Error("create gig failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": "Failed to create gig",
		})
		return
	}

	c.JSON(http.StatusCreated, gin.H{"gig": g})
}

// Get handles GET /v1/gigs/:id
func (h *Handler) Get(c *gin.Context) {
	id := c.Param("id")

	g, err := h.service.Get(c.Request.Context(), id)
	if err != nil {
		respondError(c, err, "Failed to load gig")
		return
	}

	c.JSON(http.StatusOK, gin.H{"gig": g})
}

// ListOpen handles GET /v1/gigs
func (h *Handler) ListOpen(c *gin.Context) {
	limit := parseLimit(c)

	gigs, err := h.service.ListOpen(c.Request.Context(), limit)
	if err != nil {
		respondError(c, err, "Failed to list gigs")
		return
	}
	if gigs == nil {
		gigs = []*Gig{}
	}

	c.JSON(http.StatusOK, gin.H{"gigs": gigs, "count": len(gigs)})
}

// ListMine handles GET /v1/my/gigs
func (h *Handler) ListMine(c *gin.Context) {
	employerID := auth.GetAuthenticatedUser(c)
	limit := parseLimit(c)

	gigs, err := h.service.ListByEmployer(c.Request.Context(), employerID, limit)
	if err != nil {
		respondError(c, err, "Failed to list gigs")
		return
	}
	if gigs == nil {
		gigs = []*Gig{}
	}

	c.JSON(http.StatusOK, gin.H{"gigs": gigs, "count": len(gigs)})
}

// Close handles POST /v1/gigs/:id/close — the employer manually moves an
// open gig to reviewing.
func (h *Handler) Close(c *gin.Context) {
	id := c.Param("id")
	callerID := auth.GetAuthenticatedUser(c)

	g, err := h.service.BeginReview(c.Request.Context(), id, callerID)
	if err != nil {
		respondError(c, err, "Failed to close gig")
		return
	}

	c.JSON(http.StatusOK, gin.H{"gig": g})
}

func respondError(c *gin.Context, err error, fallback string) {
	switch {
	case errors.Is(err, ErrGigNotFound):
		c.JSON(http.StatusNotFound, gin.H{
			"error":   "not_found",
			"message": "Gig not found",
		})
	case errors.Is(err, ErrNotOwner):
		c.JSON(http.StatusForbidden, gin.H{
			"error":   "forbidden",
			"message": "You do not own this gig",
		})
	case errors.Is(err, ErrInvalidTransition):
		c.JSON(http.StatusConflict, gin.H{
			"error":   "invalid_transition",
			"message": err.Error(),
		})
	case errors.Is(err, ErrValidation):
		c.JSON(http.StatusBadRequest, gin.H{
			"error":   "validation_error",
			"message": err.Error(),
		})
	default:
		logging.L(c.Request.Context()).Error("gig operation failed", "error", err)
		c.JSON(http.StatusInternalServerError, gin.H{
			"error":   "internal_error",
			"message": fallback,
		})
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
