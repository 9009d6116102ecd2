package payments

import (
	"context"
	"errors"
	"fmt"
	"time"

	"github.com/mtho-ngoza/mzansigig-sub002/internal/application"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/gig"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/idgen"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/ledger"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/logging"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/metrics"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/money"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/realtime"
	"github.com/mtho-ngoza/mzansigig-sub002/internal/traces"
)

// Result is the webhook acknowledgement: what state was seen and whether
// it changed anything. Both duplicates and unknown states acknowledge
// with processed=false.
type Result struct {
	State     string `json:"state"`
	Processed bool   `json:"processed"`
}

// Reconciler applies provider events to gigs, applications and balances.
// It is invoked concurrently by webhook deliveries, employer approvals
// and the auto-release sweep. Transitions serialize on the application
// service's per-gig lock, the same lock disputes run under, so a dispute
// and a settlement on one gig can never interleave.
type Reconciler struct {
	gigs     *gig.Service
	apps     *application.Service
	intents  IntentStore
	balances *ledger.Accessor
	provider string
	events   *realtime.Hub
}

// NewReconciler creates a reconciler for the configured provider.
func NewReconciler(gigs *gig.Service, apps *application.Service, intents IntentStore, balances *ledger.Accessor, provider string) *Reconciler {
	return &Reconciler{
		gigs:     gigs,
		apps:     apps,
		intents:  intents,
		balances: balances,
		provider: provider,
	}
}

// SetHub wires the optional realtime event feed.
func (r *Reconciler) SetHub(hub *realtime.Hub) {
	r.events = hub
}

// CreateIntent records a checkout initialization for a gig. The gig must
// have an accepted application; funding an unmatched gig has no worker to
// credit.
func (r *Reconciler) CreateIntent(ctx context.Context, gigID, transactionID string) (*Intent, error) {
	if _, err := r.gigs.Get(ctx, gigID); err != nil {
		return nil, err
	}
	if transactionID == "" {
		transactionID = idgen.WithPrefix("pi_")
	}

	now := time.Now()
	intent := &Intent{
		ID:            idgen.WithPrefix("pi_"),
		GigID:         gigID,
		Provider:      r.provider,
		TransactionID: transactionID,
		Status:        IntentPending,
		CreatedAt:     now,
		UpdatedAt:     now,
	}
	if err := r.intents.Create(ctx, intent); err != nil {
		return nil, err
	}
	return intent, nil
}

// Process applies one provider webhook. The return contract mirrors the
// provider's retry semantics: a nil error always acknowledges; only
// ErrRetryable (store unavailable) asks for redelivery.
func (r *Reconciler) Process(ctx context.Context, n *Notification) (Result, error) {
	kind := Classify(n.State)
	ctx, span := traces.StartSpan(ctx, "payments.process",
		traces.WebhookState(n.State), traces.Reference(n.Reference))
	defer span.End()

	res := Result{State: n.State}

	if kind == EventUnknown {
		logging.L(ctx).Info("unrecognized provider state acknowledged",
			"state", n.State, "transactionId", n.ID)
		metrics.WebhookEventsTotal.WithLabelValues(string(EventUnknown), "unknown_state").Inc()
		return res, nil
	}

	gigID, intent, err := r.resolveGig(ctx, n)
	if err != nil {
		if errors.Is(err, ErrRetryable) {
			return res, err
		}
		// Permanently uncorrelatable: acknowledge so the provider stops
		// redelivering, leave the trail in the logs.
		logging.L(ctx).Error("webhook could not be correlated to a gig",
			"transactionId", n.ID, "reference", n.Reference, "error", err)
		metrics.WebhookEventsTotal.WithLabelValues(string(kind), "rejected").Inc()
		return res, nil
	}

	unlock := r.apps.LockGig(gigID)
	defer unlock()

	switch kind {
	case EventFunding:
		res.Processed, err = r.applyFunding(ctx, gigID, intent, n)
	case EventSettlement:
		res.Processed, err = r.applySettlement(ctx, gigID, intent, "provider_webhook")
	case EventCancellation:
		res.Processed, err = r.applyCancellation(ctx, gigID, intent)
	}
	if err != nil {
		if errors.Is(err, ErrRetryable) {
			metrics.WebhookEventsTotal.WithLabelValues(string(kind), "error").Inc()
			return res, err
		}
		logging.L(ctx).Error("webhook permanently unprocessable",
			"event", string(kind), "gigId", gigID, "error", err)
		metrics.WebhookEventsTotal.WithLabelValues(string(kind), "rejected").Inc()
		return res, nil
	}

	result := "applied"
	if !res.Processed {
		result = "duplicate"
	}
	metrics.WebhookEventsTotal.WithLabelValues(string(kind), result).Inc()
	return res, nil
}

// Settle releases a funded escrow outside the webhook path: employer
// approval and the auto-release sweep both land here.
func (r *Reconciler) Settle(ctx context.Context, gigID, trigger string) error {
	ctx, span := traces.StartSpan(ctx, "payments.settle", traces.GigID(gigID))
	defer span.End()

	unlock := r.apps.LockGig(gigID)
	defer unlock()

	intent, err := r.intents.GetByGig(ctx, gigID)
	if err != nil && !errors.Is(err, ErrIntentNotFound) {
		return err
	}
	_, err = r.applySettlement(ctx, gigID, intent, trigger)
	return err
}

// resolveGig correlates a notification to a gig. The intent row keyed by
// (provider, transactionId) is authoritative; the provider's echoed
// reference is a degraded-mode fallback that is logged and counted.
func (r *Reconciler) resolveGig(ctx context.Context, n *Notification) (string, *Intent, error) {
	intent, err := r.intents.GetByProviderTx(ctx, r.provider, n.ID)
	if err == nil {
		return intent.GigID, intent, nil
	}
	if !errors.Is(err, ErrIntentNotFound) {
		return "", nil, fmt.Errorf("%w: intent lookup: %v", ErrRetryable, err)
	}

	if n.Reference == "" {
		return "", nil, ErrIntentNotFound
	}
	if _, err := r.gigs.Get(ctx, n.Reference); err != nil {
		return "", nil, fmt.Errorf("reference fallback failed: %w", err)
	}
	logging.L(ctx).Warn("no payment intent for transaction, falling back to raw reference",
		"transactionId", n.ID, "reference", n.Reference)
	metrics.ReferenceFallbackTotal.Inc()
	return n.Reference, nil, nil
}

// applyFunding moves the gig to in-progress and mirrors the escrow amount
// into both parties' pending balances. Every step is idempotent on the
// recorded funding transaction, so a redelivery after a partial failure
// finishes whatever the earlier attempt left undone instead of skipping
// it or applying it twice. Caller holds the gig lock.
func (r *Reconciler) applyFunding(ctx context.Context, gigID string, intent *Intent, n *Notification) (bool, error) {
	amount, app, err := r.resolveAmount(ctx, gigID)
	if err != nil {
		return false, err
	}
	if reported, perr := money.Parse(n.Balance); perr == nil && reported.IsPositive() && reported != amount {
		logging.L(ctx).Warn("provider-reported amount differs from resolved rate",
			"gigId", gigID, "reported", reported.String(), "resolved", amount.String())
	}

	g, gigApplied, err := r.gigs.MarkFunded(ctx, gigID, amount, n.ID)
	if err != nil {
		return false, err
	}
	if !gigApplied && g.EscrowAmount.IsPositive() {
		// Redelivery: credit what the original funding recorded.
		amount = g.EscrowAmount
	}

	_, appApplied, err := r.apps.MarkFunded(ctx, gigID)
	if err != nil {
		return false, fmt.Errorf("%w: application funding update: %v", ErrRetryable, err)
	}
	if intent != nil && intent.Status != IntentFunded {
		r.updateIntent(ctx, intent, IntentFunded)
	}

	// Credits are keyed on the recorded funding transaction, so a
	// redelivered event with a different transaction ID still resolves to
	// the original entries.
	ref := g.EscrowTransactionID
	if ref == "" {
		ref = n.ID
	}
	desc := fmt.Sprintf("escrow funded for gig %s", gigID)
	workerCredited, err := r.ensureMovement(ctx, app.ApplicantID, ledger.FieldPending, ledger.DirectionCredit, ref,
		"worker pending credit", func() error {
			return r.balances.Increment(ctx, app.ApplicantID, ledger.FieldPending, amount, ref, desc)
		})
	if err != nil {
		return false, err
	}
	employerCredited, err := r.ensureMovement(ctx, g.EmployerID, ledger.FieldPending, ledger.DirectionCredit, ref,
		"employer pending credit", func() error {
			return r.balances.Increment(ctx, g.EmployerID, ledger.FieldPending, amount, ref, desc)
		})
	if err != nil {
		return false, err
	}

	if !gigApplied && !appApplied && !workerCredited && !employerCredited {
		return false, nil
	}

	if gigApplied {
		metrics.GigsFundedTotal.Inc()
		r.broadcast(realtime.EventGigFunded, g.ID, g.EmployerID, app.ApplicantID, amount)
	}
	logging.L(ctx).Info("escrow funded",
		"gigId", gigID, "amount", amount.String(), "transactionId", n.ID)
	return true, nil
}

// applySettlement completes the gig and releases the escrow to the
// worker's wallet. Like funding, each step is idempotent on the escrow
// reference so a retry resumes a partially-applied settlement. Caller
// holds the gig lock.
func (r *Reconciler) applySettlement(ctx context.Context, gigID string, intent *Intent, trigger string) (bool, error) {
	g, err := r.gigs.Get(ctx, gigID)
	if err != nil {
		return false, err
	}

	amount := g.EscrowAmount
	if !amount.IsPositive() {
		resolved, _, rerr := r.resolveAmount(ctx, gigID)
		if rerr != nil {
			return false, rerr
		}
		amount = resolved
	}

	if trigger == "auto_release" {
		// The sweep's due check ran before this lock was taken; a dispute
		// may have committed in between. A disputed escrow stays held.
		app, aerr := r.apps.ActiveForGig(ctx, gigID)
		if aerr != nil {
			return false, aerr
		}
		if app.CompletionDisputedAt != nil {
			return false, fmt.Errorf("gig %s: %w", gigID, application.ErrAlreadyDisputed)
		}
	}

	_, gigApplied, err := r.gigs.MarkSettled(ctx, gigID)
	if err != nil {
		return false, err
	}

	settledApp, appApplied, err := r.apps.MarkSettled(ctx, gigID)
	if err != nil {
		return false, fmt.Errorf("%w: application settlement update: %v", ErrRetryable, err)
	}
	if intent != nil && intent.Status != IntentCompleted {
		r.updateIntent(ctx, intent, IntentCompleted)
	}

	ref := gigID
	if intent != nil {
		ref = intent.TransactionID
	} else if g.EscrowTransactionID != "" {
		ref = g.EscrowTransactionID
	}
	workerDesc := fmt.Sprintf("escrow released for gig %s", gigID)
	walletReleased, err := r.ensureMovement(ctx, settledApp.ApplicantID, ledger.FieldWallet, ledger.DirectionCredit, ref,
		"worker wallet release", func() error {
			return r.balances.Move(ctx, settledApp.ApplicantID, ledger.FieldPending, ledger.FieldWallet, amount, ref, workerDesc)
		})
	if err != nil {
		return false, err
	}
	earned, err := r.ensureMovement(ctx, settledApp.ApplicantID, ledger.FieldEarnings, ledger.DirectionCredit, ref,
		"worker earnings credit", func() error {
			return r.balances.Increment(ctx, settledApp.ApplicantID, ledger.FieldEarnings, amount, ref, workerDesc)
		})
	if err != nil {
		return false, err
	}
	obligationCleared, err := r.ensureMovement(ctx, g.EmployerID, ledger.FieldPending, ledger.DirectionDebit, ref,
		"employer pending release", func() error {
			return r.balances.DecrementFloored(ctx, g.EmployerID, ledger.FieldPending, amount, ref,
				fmt.Sprintf("escrow obligation settled for gig %s", gigID))
		})
	if err != nil {
		return false, err
	}

	if !gigApplied && !appApplied && !walletReleased && !earned && !obligationCleared {
		return false, nil
	}

	if gigApplied {
		metrics.SettlementsTotal.WithLabelValues(trigger).Inc()
		r.broadcast(realtime.EventSettlement, gigID, g.EmployerID, settledApp.ApplicantID, amount)
	}
	logging.L(ctx).Info("escrow settled",
		"gigId", gigID, "amount", amount.String(), "trigger", trigger)
	return true, nil
}

// applyCancellation cancels the gig and marks the intent. Pending
// balances credited at funding time are deliberately left in place for
// manual review (no product-approved reversal path yet); see the
// unreversed-cancellations counter. Caller holds the gig lock.
func (r *Reconciler) applyCancellation(ctx context.Context, gigID string, intent *Intent) (bool, error) {
	g, err := r.gigs.Get(ctx, gigID)
	if err != nil {
		return false, err
	}
	wasFunded := g.PaymentStatus == gig.PaymentFunded

	g, applied, err := r.gigs.MarkCancelled(ctx, gigID)
	if err != nil {
		return false, err
	}
	if !applied {
		return false, nil
	}
	r.updateIntent(ctx, intent, IntentCancelled)

	if wasFunded {
		logging.L(ctx).Warn("cancellation after funding, pending balances not reversed",
			"gigId", gigID, "escrowAmount", g.EscrowAmount.String())
		metrics.UnreversedCancellationsTotal.Inc()
	}
	return true, nil
}

// ensureMovement runs apply unless a matching ledger entry already exists.
// Both the existence check and the write wrap failures in ErrRetryable, so
// the provider redelivers and the movement is retried even after the state
// transitions above have committed.
func (r *Reconciler) ensureMovement(ctx context.Context, userID string, field ledger.Field, direction, ref, what string, apply func() error) (bool, error) {
	exists, err := r.balances.HasMovement(ctx, userID, field, direction, ref)
	if err != nil {
		return false, fmt.Errorf("%w: %s lookup: %v", ErrRetryable, what, err)
	}
	if exists {
		return false, nil
	}
	if err := apply(); err != nil {
		return false, fmt.Errorf("%w: %s: %v", ErrRetryable, what, err)
	}
	return true, nil
}

// resolveAmount determines the escrow amount for a gig: agreed rate when
// set, otherwise the proposed rate, otherwise the gig budget.
func (r *Reconciler) resolveAmount(ctx context.Context, gigID string) (money.Rand, *application.Application, error) {
	app, err := r.apps.ActiveForGig(ctx, gigID)
	if err != nil {
		return 0, nil, err
	}

	amount := app.Rate()
	if !amount.IsPositive() {
		g, gerr := r.gigs.Get(ctx, gigID)
		if gerr != nil {
			return 0, nil, gerr
		}
		amount = g.Budget
	}
	if !amount.IsPositive() {
		return 0, nil, fmt.Errorf("%w for gig %s", ErrZeroAmount, gigID)
	}
	return amount, app, nil
}

func (r *Reconciler) updateIntent(ctx context.Context, intent *Intent, status IntentStatus) {
	if intent == nil {
		return
	}
	intent.Status = status
	intent.UpdatedAt = time.Now()
	if err := r.intents.Update(ctx, intent); err != nil {
		logging.L(ctx).Warn("payment intent update failed",
			"intentId", intent.ID, "status", string(status), "error", err)
	}
}

func (r *Reconciler) broadcast(typ realtime.EventType, gigID, employerID, applicantID string, amount money.Rand) {
	if r.events == nil {
		return
	}
	r.events.BroadcastGigEvent(typ, map[string]interface{}{
		"gigId":       gigID,
		"employerId":  employerID,
		"applicantId": applicantID,
		"amount":      amount.String(),
	})
}
