// Package gig manages posted jobs and their escrow lifecycle.
//
// Flow:
//  1. Employer posts a gig → open
//  2. Applications arrive; reaching maxApplicants closes it → reviewing
//  3. Employer accepts a worker → assignedTo set, status unchanged
//  4. Escrow funding webhook → in-progress, paymentStatus funded
//  5. Settlement → completed, paymentStatus released
//  6. Cancellation webhook → cancelled, funded escrow flips to refunded
package gig

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/idgen"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/logging"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/syncutil"
)

var (
	ErrGigNotFound       = errors.New("gig not found")
	ErrInvalidTransition = errors.New("invalid gig transition")
	ErrNotOwner          = errors.New("not the gig owner")
	ErrVersionConflict   = errors.New("gig was modified concurrently")
	ErrValidation        = errors.New("validation failed")
)

// Status represents the state of a gig.
type Status string

const (
	StatusOpen       Status = "open"
	StatusReviewing  Status = "reviewing"
	StatusInProgress Status = "in-progress"
	StatusCompleted  Status = "completed"
	StatusCancelled  Status = "cancelled"
)

// PaymentStatus tracks the escrow side of a gig.
type PaymentStatus string

const (
	PaymentUnpaid   PaymentStatus = "unpaid"
	PaymentFunded   PaymentStatus = "funded"
	PaymentReleased PaymentStatus = "released"
	PaymentRefunded PaymentStatus = "refunded"
)

// Gig represents a posted job.
type Gig struct {
	ID                  string        `json:"id"`
	EmployerID          string        `json:"employerId"`
	Title               string        `json:"title"`
	Description         string        `json:"description,omitempty"`
	Budget              money.Rand    `json:"budget"`
	MaxApplicants       int           `json:"maxApplicants,omitempty"` // 0 = unlimited
	Status              Status        `json:"status"`
	AssignedTo          string        `json:"assignedTo,omitempty"`
	EscrowAmount        money.Rand    `json:"escrowAmount"`
	EscrowTransactionID string        `json:"escrowTransactionId,omitempty"`
	PaymentStatus       PaymentStatus `json:"paymentStatus"`
	Version             int           `json:"-"`
	CreatedAt           time.Time     `json:"createdAt"`
	UpdatedAt           time.Time     `json:"updatedAt"`
}

// OpenForApplications is the single visibility gate for new applications:
// the gig must be open AND unassigned. Acceptance sets assignedTo without
// touching status, so checking status alone is not enough.
func (g *Gig) OpenForApplications() bool {
	return g.Status == StatusOpen && g.AssignedTo == ""
}

// IsTerminal returns true if the gig is in a final state.
func (g *Gig) IsTerminal() bool {
	return g.Status == StatusCompleted || g.Status == StatusCancelled
}

// Store persists gigs. Update is optimistic: it matches the gig's current
// Version and increments it, failing with ErrVersionConflict on a stale read.
type Store interface {
	Create(ctx context.Context, g *Gig) error
	Get(ctx context.Context, id string) (*Gig, error)
	Update(ctx context.Context, g *Gig) error
	ListByEmployer(ctx context.Context, employerID string, limit int) ([]*Gig, error)
	ListOpen(ctx context.Context, limit int) ([]*Gig, error)
}

// CreateRequest contains the parameters for posting a gig.
type CreateRequest struct {
	EmployerID    string `json:"employerId"`
	Title         string `json:"title" binding:"required"`
	Description   string `json:"description"`
	Budget        string `json:"budget" binding:"required"`
	MaxApplicants int    `json:"maxApplicants"`
}

// Service implements gig business logic.
type Service struct {
	store Store
	locks syncutil.ShardedMutex
}

// NewService creates a new gig service.
func NewService(store Store) *Service {
	return &Service{store: store}
}

// Create posts a new gig in the open state.
func (s *Service) Create(ctx context.Context, req CreateRequest) (*Gig, error) {
	if req.EmployerID == "" {
		return nil, fmt.Errorf("%w: employerId is required", ErrValidation)
	}
	if req.Title == "" {
		return nil, fmt.Errorf("%w: title is required", ErrValidation)
	}
	budget, err := money.Parse(req.Budget)
	if err != nil || !budget.IsPositive() {
		return nil, fmt.Errorf("%w: budget must be a positive amount", ErrValidation)
	}
	if req.MaxApplicants < 0 {
		return nil, fmt.Errorf("%w: maxApplicants cannot be negative", ErrValidation)
	}

	now := time.Now()
	g := &Gig{
		ID:            idgen.WithPrefix("gig_"),
		EmployerID:    req.EmployerID,
		Title:         req.Title,
		Description:   req.Description,
		Budget:        budget,
		MaxApplicants: req.MaxApplicants,
		Status:        StatusOpen,
		PaymentStatus: PaymentUnpaid,
		Version:       1,
		CreatedAt:     now,
		UpdatedAt:     now,
	}

	if err := s.store.Create(ctx, g); err != nil {
		return nil, fmt.Errorf("failed to create gig: %w", err)
	}
	return g, nil
}

// Get returns a gig by ID.
func (s *Service) Get(ctx context.Context, id string) (*Gig, error) {
	return s.store.Get(ctx, id)
}

// ListOpen returns gigs visible for new applications.
func (s *Service) ListOpen(ctx context.Context, limit int) ([]*Gig, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListOpen(ctx, limit)
}

// ListByEmployer returns an employer's gigs, newest first.
func (s *Service) ListByEmployer(ctx context.Context, employerID string, limit int) ([]*Gig, error) {
	if limit <= 0 {
		limit = 50
	}
	return s.store.ListByEmployer(ctx, employerID, limit)
}

// BeginReview closes a gig to new applications (open → reviewing).
// Called manually by the employer, or automatically when the application
// count reaches maxApplicants. Already-reviewing gigs are a no-op.
func (s *Service) BeginReview(ctx context.Context, gigID, callerID string) (*Gig, error) {
	unlock := s.locks.Lock(gigID)
	defer unlock()

	g, err := s.store.Get(ctx, gigID)
	if err != nil {
		return nil, err
	}
	if callerID != "" && g.EmployerID != callerID {
		return nil, ErrNotOwner
	}
	if g.Status == StatusReviewing {
		return g, nil
	}
	if g.Status != StatusOpen {
		return nil, fmt.Errorf("%w: cannot review a %s gig", ErrInvalidTransition, g.Status)
	}

	g.Status = StatusReviewing
	g.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// Assign records the accepted worker on the gig. Status is deliberately
// left unchanged; only funding moves the gig to in-progress.
func (s *Service) Assign(ctx context.Context, gigID, workerID string) (*Gig, error) {
	unlock := s.locks.Lock(gigID)
	defer unlock()

	g, err := s.store.Get(ctx, gigID)
	if err != nil {
		return nil, err
	}
	if g.AssignedTo == workerID {
		return g, nil
	}
	if g.AssignedTo != "" {
		return nil, fmt.Errorf("%w: gig already assigned to another worker", ErrInvalidTransition)
	}
	if g.Status != StatusOpen && g.Status != StatusReviewing {
		return nil, fmt.Errorf("%w: cannot assign a %s gig", ErrInvalidTransition, g.Status)
	}

	g.AssignedTo = workerID
	g.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, g); err != nil {
		return nil, err
	}
	return g, nil
}

// MarkFunded applies a funding event: in-progress, escrow stamped.
// Funding an already-funded or released gig is detected and skipped
// (applied=false) because webhooks are redelivered.
func (s *Service) MarkFunded(ctx context.Context, gigID string, amount money.Rand, transactionID string) (g *Gig, applied bool, err error) {
	unlock := s.locks.Lock(gigID)
	defer unlock()

	g, err = s.store.Get(ctx, gigID)
	if err != nil {
		return nil, false, err
	}
	if g.PaymentStatus == PaymentFunded || g.PaymentStatus == PaymentReleased {
		logging.L(ctx).Info("duplicate funding event skipped",
			"gigId", gigID, "paymentStatus", string(g.PaymentStatus))
		return g, false, nil
	}
	if g.IsTerminal() {
		return nil, false, fmt.Errorf("%w: cannot fund a %s gig", ErrInvalidTransition, g.Status)
	}

	g.Status = StatusInProgress
	g.PaymentStatus = PaymentFunded
	g.EscrowAmount = amount
	g.EscrowTransactionID = transactionID
	g.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, g); err != nil {
		return nil, false, err
	}
	return g, true, nil
}

// MarkSettled applies a settlement event: completed, escrow released.
// Settling an already-completed gig is skipped.
func (s *Service) MarkSettled(ctx context.Context, gigID string) (g *Gig, applied bool, err error) {
	unlock := s.locks.Lock(gigID)
	defer unlock()

	g, err = s.store.Get(ctx, gigID)
	if err != nil {
		return nil, false, err
	}
	if g.Status == StatusCompleted {
		logging.L(ctx).Info("duplicate settlement event skipped", "gigId", gigID)
		return g, false, nil
	}
	if g.Status != StatusInProgress {
		return nil, false, fmt.Errorf("%w: cannot settle a %s gig", ErrInvalidTransition, g.Status)
	}

	g.Status = StatusCompleted
	g.PaymentStatus = PaymentReleased
	g.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, g); err != nil {
		return nil, false, err
	}
	return g, true, nil
}

// MarkCancelled applies a cancellation event. A funded escrow flips to
// refunded and the provider transaction reference is cleared.
func (s *Service) MarkCancelled(ctx context.Context, gigID string) (g *Gig, applied bool, err error) {
	unlock := s.locks.Lock(gigID)
	defer unlock()

	g, err = s.store.Get(ctx, gigID)
	if err != nil {
		return nil, false, err
	}
	if g.Status == StatusCancelled {
		return g, false, nil
	}
	if g.Status == StatusCompleted {
		return nil, false, fmt.Errorf("%w: cannot cancel a completed gig", ErrInvalidTransition)
	}

	g.Status = StatusCancelled
	if g.PaymentStatus == PaymentFunded {
		g.PaymentStatus = PaymentRefunded
		g.EscrowTransactionID = ""
	}
	g.UpdatedAt = time.Now()
	if err := s.store.Update(ctx, g); err != nil {
		return nil, false, err
	}
	return g, true, nil
}
