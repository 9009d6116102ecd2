// Package application manages worker bids on gigs and the completion
// protocol that releases escrowed funds.
//
// Flow:
//  1. Worker applies → pending
//  2. Employer accepts one application → accepted; siblings rejected
//  3. Escrow funding webhook → funded, payment in_escrow
//  4. Worker requests completion → auto-release clock starts
//  5. Employer approves, or the deadline passes undisputed → completed,
//     payment released
//  6. Employer disputes → the clock pauses until resolved
package application

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/gig"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/idgen"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/logging"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/metrics"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/realtime"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/syncutil"
)

var (
	ErrApplicationNotFound    = errors.New("application not found")
	ErrDuplicateApplication   = errors.New("an application for this gig already exists")
	ErrGigNotOpen             = errors.New("gig is not open for applications")
	ErrCapacityReached        = errors.New("gig has reached its applicant limit")
	ErrInvalidTransition      = errors.New("invalid application transition")
	ErrNoAcceptedApplication  = errors.New("no accepted application for gig")
	ErrNoCompletionRequest    = errors.New("no pending completion request")
	ErrAlreadyDisputed        = errors.New("completion request already disputed")
	ErrNotOwner               = errors.New("not authorized for this application")
	ErrValidation             = errors.New("validation failed")
	ErrNoSettler              = errors.New("settlement backend not configured")
)

// Status represents the state of an application.
type Status string

const (
	StatusPending   Status = "pending"
	StatusAccepted  Status = "accepted"
	StatusFunded    Status = "funded"
	StatusCompleted Status = "completed"
	StatusRejected  Status = "rejected"
	StatusWithdrawn Status = "withdrawn"
)

// Live reports whether the status still occupies the one-per-pair slot.
// Withdrawn and rejected applications free the slot for a fresh apply.
func (s Status) Live() bool {
	return s != StatusWithdrawn && s != StatusRejected
}

// PaymentStatus tracks the escrow side of an application.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentInEscrow PaymentStatus = "in_escrow"
	PaymentReleased PaymentStatus = "released"
	PaymentDisputed PaymentStatus = "disputed"
)

// Application represents a worker's bid on a gig.
type Application struct {
	ID                      string        `json:"id"`
	GigID                   string        `json:"gigId"`
	ApplicantID             string        `json:"applicantId"`
	EmployerID              string        `json:"employerId"`
	Message                 string        `json:"message,omitempty"`
	ProposedRate            money.Rand    `json:"proposedRate"`
	AgreedRate              money.Rand    `json:"agreedRate,omitempty"` // set on acceptance
	Status                  Status        `json:"status"`
	PaymentStatus           PaymentStatus `json:"paymentStatus"`
	CompletionRequestedAt   *time.Time    `json:"completionRequestedAt,omitempty"`
	CompletionAutoReleaseAt *time.Time    `json:"completionAutoReleaseAt,omitempty"`
	CompletionDisputedAt    *time.Time    `json:"completionDisputedAt,omitempty"`
	CompletionDisputeReason string        `json:"completionDisputeReason,omitempty"`
	CreatedAt               time.Time     `json:"createdAt"`
	UpdatedAt               time.Time     `json:"updatedAt"`
}

// Rate resolves the amount this application is worth: the agreed rate when
// set, otherwise the proposed rate.
func (a *Application) Rate() money.Rand {
	if a.AgreedRate.IsPositive() {
		return a.AgreedRate
	}
	return a.ProposedRate
}

// Store persists applications.
type Store interface {
	Create(ctx context.Context, app *Application) error
	Get(ctx context.Context, id string) (*Application, error)
	Update(ctx context.Context, app *Application) error
	ListByGig(ctx context.Context, gigID string) ([]*Application, error)
	ListByApplicant(ctx context.Context, applicantID string, limit int) ([]*Application, error)
	// GetLive returns the non-withdrawn, non-rejected application for the
	// pair, or ErrApplicationNotFound.
	GetLive(ctx context.Context, gigID, applicantID string) (*Application, error)
	// CountActive counts non-withdrawn applications for a gig (capacity).
	CountActive(ctx context.Context, gigID string) (int, error)
	// AcceptedForGig returns the application in accepted status, or
	// ErrNoAcceptedApplication.
	AcceptedForGig(ctx context.Context, gigID string) (*Application, error)
	// FundedForGig returns the funded (or completed, for idempotency
	// checks) application for a gig, or ErrApplicationNotFound.
	FundedForGig(ctx context.Context, gigID string) (*Application, error)
	// ListAutoReleaseDue returns funded, undisputed applications whose
	// auto-release deadline has passed.
	ListAutoReleaseDue(ctx context.Context, now time.Time, limit int) ([]*Application, error)
}

// Settler performs the settlement transition: gig completed, application
// released, balances moved. Implemented by the payment reconciler; an
// interface here keeps the import direction one-way.
type Settler interface {
	Settle(ctx context.Context, gigID, trigger string) error
}

// Options configures the service thresholds. All of these come from
// platform configuration, not constants.
type Options struct {
	AutoReleaseGrace     time.Duration // e.g. 7 days
	MinDisputeReasonLen  int
	DefaultMaxApplicants int // applied when a gig sets no limit; 0 = unlimited
}

// ApplyRequest contains the parameters for applying to a gig.
type ApplyRequest struct {
	GigID        string `json:"gigId"`
	ApplicantID  string `json:"applicantId"`
	ProposedRate string `json:"proposedRate" binding:"required"`
	Message      string `json:"message"`
}

// Service implements the application state machine.
type Service struct {
	store   Store
	gigs    *gig.Service
	settler Settler
	opts    Options
	events  *realtime.Hub
	locks   syncutil.ShardedMutex // keyed by gig ID
}

// NewService creates a new application service.
func NewService(store Store, gigs *gig.Service, opts Options) *Service {
	if opts.AutoReleaseGrace <= 0 {
		opts.AutoReleaseGrace = 7 * 24 * time.Hour
	}
	return &Service{store: store, gigs: gigs, opts: opts}
}

// SetSettler wires the settlement backend. Wired after construction
// because the reconciler also depends on this service.
func (s *Service) SetSettler(settler Settler) {
	s.settler = settler
}

// SetHub wires the optional realtime event feed.
func (s *Service) SetHub(hub *realtime.Hub) {
	s.events = hub
}

// LockGig takes the per-gig lock and returns its unlock func. The payment
// reconciler settles under this same lock so a dispute and a settlement on
// one gig can never interleave.
func (s *Service) LockGig(gigID string) func() {
	return s.locks.Lock(gigID)
}

// Get returns an application by ID.
func (s *Service) Get(ctx context.Context, id string) (*Application, error) {
	return s.store.Get(ctx, id)
}

// ActiveForGig returns the application currently carrying the gig's
// escrow: the funded (or completed) one if present, otherwise the
// accepted one. Used by the payment reconciler to resolve amounts.
func (s *Service) ActiveForGig(ctx context.Context, gigID string) (*Application, error) {
	if app, err := s.store.FundedForGig(ctx, gigID); err == nil {
		return app, nil
	} else if !errors.Is(err, ErrApplicationNotFound) {
		return nil, err
	}
	return s.store.AcceptedForGig(ctx, gigID)
}

// ListByGig returns all applications on a gig (employer view).
func (s *Service) ListByGig(ctx context.Context, gigID string) ([]*Application, error) {
	return s.store.ListByGig(ctx, gigID)
}

// ListByApplicant returns a worker's applications, newest first.
func (s *Service) ListByApplicant(ctx context.Context, applicantID string, limit int) ([]*Application, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByApplicant(ctx, applicantID, limit)
}

// Apply creates a pending application on an open gig.
//
// Rejections, in order: GigNotOpen (status or assignedTo gate),
// DuplicateApplication (one live application per pair), CapacityReached.
// If the new application brings the count exactly to the limit, the gig
// auto-closes to reviewing — computed from the post-insert count, so two
// applies racing for the last slot cannot both leave the gig open.
func (s *Service) Apply(ctx context.Context, req ApplyRequest) (*Application, error) {
	rate, err := money.Parse(req.ProposedRate)
	if err != nil || !rate.IsPositive() {
		return nil, fmt.Errorf("%w: proposedRate must be a positive amount", ErrValidation)
	}
	if req.GigID == "" || req.ApplicantID == "" {
		return nil, fmt.Errorf("%w: gigId and applicantId are required", ErrValidation)
	}

	unlock := s.locks.Lock(req.GigID)
	defer unlock()

	g, err := s.gigs.Get(ctx, req.GigID)
	if err != nil {
		return nil, err
	}
	if !g.OpenForApplications() {
		return nil, ErrGigNotOpen
	}
	if g.EmployerID == req.ApplicantID {
		return nil, fmt.Errorf("%w: cannot apply to your own gig", ErrValidation)
	}

	if _, err := s.store.GetLive(ctx, req.GigID, req.ApplicantID); err == nil {
		metrics.ApplicationsTotal.WithLabelValues("duplicate").Inc()
		return nil, ErrDuplicateApplication
	} else if !errors.Is(err, ErrApplicationNotFound) {
		return nil, err
	}

	limit := g.MaxApplicants
	if limit == 0 {
		limit = s.opts.DefaultMaxApplicants
	}

	if limit > 0 {
		count, err := s.store.CountActive(ctx, req.GigID)
		if err != nil {
			return nil, err
		}
		if count >= limit {
			metrics.ApplicationsTotal.WithLabelValues("capacity").Inc()
			return nil, ErrCapacityReached
		}
	}

	now := time.Now()
	app := &Application{
		ID:            idgen.WithPrefix("app_"),
		GigID:         req.GigID,
		ApplicantID:   req.ApplicantID,
		EmployerID:    g.EmployerID,
		Message:       req.Message,
		ProposedRate:  rate,
		Status:        StatusPending,
		PaymentStatus: PaymentUnpaid,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := s.store.Create(ctx, app); err != nil {
		return nil, err
	}
	metrics.ApplicationsTotal.WithLabelValues("created").Inc()

	// Capacity recheck reads the post-insert count.
	if limit > 0 {
		count, err := s.store.CountActive(ctx, req.GigID)
		if err == nil && count >= limit {
			if _, err := s.gigs.BeginReview(ctx, req.GigID, ""); err != nil {
				logging.L(ctx).Warn("auto-close after capacity reached failed",
					"gigId", req.GigID, "error", err)
			}
		}
	}

	s.broadcast(realtime.EventApplicationReceived, app, nil)
	return app, nil
}

// Withdraw retracts a pending application. Only the applicant may withdraw.
func (s *Service) Withdraw(ctx context.Context, appID, callerID string) (*Application, error) {
	app, err := s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.ApplicantID != callerID {
		return nil, ErrNotOwner
	}

	unlock := s.locks.Lock(app.GigID)
	defer unlock()

	app, err = s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot withdraw a %s application", ErrInvalidTransition, app.Status)
	}

	app.Status = StatusWithdrawn
	app.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, app); err != nil {
		return nil, err
	}
	metrics.ApplicationsTotal.WithLabelValues("withdrawn").Inc()
	return app, nil
}

// Accept marks one application accepted, assigns the gig to the applicant,
// and rejects every other still-pending application on the same gig.
// First-accept-wins: this is what enforces one active application per gig.
func (s *Service) Accept(ctx context.Context, appID, callerID string) (*Application, error) {
	app, err := s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(app.GigID)
	defer unlock()

	// Re-read under the lock: a concurrent accept may have won.
	app, err = s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.EmployerID != callerID {
		return nil, ErrNotOwner
	}
	if app.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot accept a %s application", ErrInvalidTransition, app.Status)
	}

	// The gig assignment is the commit point: it fails if another
	// application was already accepted.
	if _, err := s.gigs.Assign(ctx, app.GigID, app.ApplicantID); err != nil {
		return nil, err
	}

	now := time.Now()
	app.Status = StatusAccepted
	app.AgreedRate = app.ProposedRate
	app.UpdatedAt = now
	if err := s.store.Update(ctx, app); err != nil {
		// CRITICAL: the gig points at this applicant but the application
		// record is stale. Log for manual resolution rather than guessing
		// a compensation.
		logging.L(ctx).Error("CRITICAL: gig assigned but application update failed",
			"applicationId", app.ID, "gigId", app.GigID, "error", err)
		return nil, fmt.Errorf("failed to update application after assignment: %w", err)
	}
	metrics.ApplicationsTotal.WithLabelValues("accepted").Inc()

	// Reject the competitors.
	siblings, err := s.store.ListByGig(ctx, app.GigID)
	if err != nil {
		logging.L(ctx).Error("CRITICAL: accepted but sibling rejection read failed",
			"gigId", app.GigID, "error", err)
		return app, nil
	}
	for _, sib := range siblings {
		if sib.ID == app.ID || sib.Status != StatusPending {
			continue
		}
		sib.Status = StatusRejected
		sib.UpdatedAt = now
		if err := s.store.Update(ctx, sib); err != nil {
			logging.L(ctx).Error("CRITICAL: sibling rejection failed",
				"applicationId", sib.ID, "gigId", app.GigID, "error", err)
		}
	}

	return app, nil
}

// Reject declines a pending application. No side effects on the gig.
func (s *Service) Reject(ctx context.Context, appID, callerID string) (*Application, error) {
	app, err := s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}

	unlock := s.locks.Lock(app.GigID)
	defer unlock()

	app, err = s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.EmployerID != callerID {
		return nil, ErrNotOwner
	}
	if app.Status != StatusPending {
		return nil, fmt.Errorf("%w: cannot reject a %s application", ErrInvalidTransition, app.Status)
	}

	app.Status = StatusRejected
	app.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, app); err != nil {
		return nil, err
	}
	metrics.ApplicationsTotal.WithLabelValues("rejected").Inc()
	return app, nil
}

// RequestCompletion starts the auto-release clock. Only the funded worker
// may request completion.
func (s *Service) RequestCompletion(ctx context.Context, appID, callerID string) (*Application, error) {
	app, err := s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.ApplicantID != callerID {
		return nil, ErrNotOwner
	}

	unlock := s.locks.Lock(app.GigID)
	defer unlock()

	app, err = s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.Status != StatusFunded {
		return nil, fmt.Errorf("%w: cannot request completion of a %s application", ErrInvalidTransition, app.Status)
	}
	if app.CompletionRequestedAt != nil {
		return app, nil // already requested
	}

	now := time.Now()
	deadline := now.Add(s.opts.AutoReleaseGrace)
	app.CompletionRequestedAt = &now
	app.CompletionAutoReleaseAt = &deadline
	app.UpdatedAt = now
	if err := s.store.Update(ctx, app); err != nil {
		return nil, err
	}

	s.broadcast(realtime.EventCompletionRequested, app, nil)
	return app, nil
}

// ApproveCompletion settles the escrow: gig completed, funds released.
// Legal from funded with a pending completion request; a disputed request
// can still be approved, which resolves the dispute.
func (s *Service) ApproveCompletion(ctx context.Context, appID, callerID string) (*Application, error) {
	app, err := s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.EmployerID != callerID {
		return nil, ErrNotOwner
	}
	if app.Status != StatusFunded {
		return nil, fmt.Errorf("%w: cannot approve completion of a %s application", ErrInvalidTransition, app.Status)
	}
	if app.CompletionRequestedAt == nil {
		return nil, ErrNoCompletionRequest
	}
	if s.settler == nil {
		return nil, ErrNoSettler
	}

	// Settlement serializes on the gig inside the reconciler; taking our
	// own gig lock here as well would deadlock on the shared key space.
	if err := s.settler.Settle(ctx, app.GigID, "employer_approval"); err != nil {
		return nil, err
	}

	return s.store.Get(ctx, appID)
}

// DisputeCompletion pauses the auto-release clock. The reason must carry
// at least the configured minimum length.
func (s *Service) DisputeCompletion(ctx context.Context, appID, callerID, reason string) (*Application, error) {
	if len(reason) < s.opts.MinDisputeReasonLen {
		return nil, fmt.Errorf("%w: dispute reason must be at least %d characters",
			ErrValidation, s.opts.MinDisputeReasonLen)
	}

	app, err := s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.EmployerID != callerID {
		return nil, ErrNotOwner
	}

	unlock := s.locks.Lock(app.GigID)
	defer unlock()

	app, err = s.store.Get(ctx, appID)
	if err != nil {
		return nil, err
	}
	if app.Status != StatusFunded {
		return nil, fmt.Errorf("%w: cannot dispute a %s application", ErrInvalidTransition, app.Status)
	}
	if app.CompletionRequestedAt == nil {
		return nil, ErrNoCompletionRequest
	}
	if app.CompletionDisputedAt != nil {
		return nil, ErrAlreadyDisputed
	}

	now := time.Now()
	app.CompletionDisputedAt = &now
	app.CompletionDisputeReason = reason
	app.CompletionAutoReleaseAt = nil // pause the clock
	app.PaymentStatus = PaymentDisputed
	app.UpdatedAt = now
	if err := s.store.Update(ctx, app); err != nil {
		return nil, err
	}

	s.broadcast(realtime.EventCompletionDisputed, app, map[string]interface{}{
		"reason": reason,
	})
	return app, nil
}

// MarkFunded applies the funding side effects to the accepted application.
// Called by the payment reconciler. An already funded or completed
// application is skipped (applied=false) because webhooks are redelivered.
func (s *Service) MarkFunded(ctx context.Context, gigID string) (app *Application, applied bool, err error) {
	if existing, err := s.store.FundedForGig(ctx, gigID); err == nil {
		return existing, false, nil
	} else if !errors.Is(err, ErrApplicationNotFound) {
		return nil, false, err
	}

	app, err = s.store.AcceptedForGig(ctx, gigID)
	if err != nil {
		return nil, false, err
	}

	app.Status = StatusFunded
	app.PaymentStatus = PaymentInEscrow
	app.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, app); err != nil {
		return nil, false, err
	}
	return app, true, nil
}

// MarkSettled applies the settlement side effects to the funded
// application. Already-completed applications are skipped.
func (s *Service) MarkSettled(ctx context.Context, gigID string) (app *Application, applied bool, err error) {
	app, err = s.store.FundedForGig(ctx, gigID)
	if err != nil {
		return nil, false, err
	}
	if app.Status == StatusCompleted {
		return app, false, nil
	}

	app.Status = StatusCompleted
	app.PaymentStatus = PaymentReleased
	app.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, app); err != nil {
		return nil, false, err
	}
	return app, true, nil
}

// SweepAutoRelease settles every funded application whose auto-release
// deadline has passed undisputed, exactly as if the employer had approved.
// Returns the number released.
func (s *Service) SweepAutoRelease(ctx context.Context, now time.Time) (int, error) {
	if s.settler == nil {
		return 0, ErrNoSettler
	}

	due, err := s.store.ListAutoReleaseDue(ctx, now, 100)
	if err != nil {
		return 0, err
	}

	released := 0
	for _, app := range due {
		// Re-read: the employer may have disputed or approved since the
		// listing query ran.
		fresh, err := s.store.Get(ctx, app.ID)
		if err != nil {
			logging.L(ctx).Warn("auto-release re-read failed", "applicationId", app.ID, "error", err)
			continue
		}
		if !IsAutoReleaseDue(fresh, now) {
			continue
		}

		if err := s.settler.Settle(ctx, fresh.GigID, "auto_release"); err != nil {
			if errors.Is(err, ErrAlreadyDisputed) {
				// A dispute landed between the re-read and the settlement
				// taking the gig lock. Not a failure; skip it.
				logging.L(ctx).Info("auto-release skipped, dispute raised",
					"applicationId", fresh.ID, "gigId", fresh.GigID)
				continue
			}
			logging.L(ctx).Error("auto-release settlement failed",
				"applicationId", fresh.ID, "gigId", fresh.GigID, "error", err)
			continue
		}
		released++
	}
	return released, nil
}

// DaysUntilAutoRelease returns the whole days remaining before automatic
// release, rounding partial days up. Zero means due now; -1 means no
// deadline is running.
func DaysUntilAutoRelease(app *Application, now time.Time) int {
	if app.CompletionAutoReleaseAt == nil {
		return -1
	}
	remaining := app.CompletionAutoReleaseAt.Sub(now)
	if remaining <= 0 {
		return 0
	}
	days := int(remaining / (24 * time.Hour))
	if remaining%(24*time.Hour) > 0 {
		days++
	}
	return days
}

// IsAutoReleaseDue reports whether the application should be auto-released:
// funded, undisputed, with a passed deadline.
func IsAutoReleaseDue(app *Application, now time.Time) bool {
	return app.Status == StatusFunded &&
		app.CompletionDisputedAt == nil &&
		app.CompletionAutoReleaseAt != nil &&
		!app.CompletionAutoReleaseAt.After(now)
}

func (s *Service) broadcast(typ realtime.EventType, app *Application, extra map[string]interface{}) {
	if s.events == nil {
		return
	}
	data := map[string]interface{}{
		"applicationId": app.ID,
		"gigId":         app.GigID,
		"applicantId":   app.ApplicantID,
		"employerId":    app.EmployerID,
		"amount":        app.Rate().String(),
	}
	for k, v := range extra {
		data[k] = v
	}
	s.events.BroadcastGigEvent(typ, data)
}
