package service

import (
	"context"
	"errors"
	"fmt"
	"time"

	"booking-service/internal/models"
	"booking-service/internal/provider"
	"booking-service/internal/util"

	"go.uber.org/zap"
)

// Reconciler resolves pending payments against their provider. Polling, webhooks,
// notification consumers and the background sweep all end up in ApplyProviderResult.
type Reconciler struct {
	store           Store
	payments        *PaymentService
	providers       *provider.Registry
	locker          Locker
	lockTTL         time.Duration
	providerTimeout time.Duration
	logger          *zap.Logger
}

// NewReconciler creates a new reconciler. locker may be nil. The verification lock must
// outlive a provider call, so lockTTL is raised to providerTimeout plus a second if needed.
func NewReconciler(store Store, payments *PaymentService, providers *provider.Registry, locker Locker, providerTimeout, lockTTL time.Duration) *Reconciler {
	if floor := providerTimeout + time.Second; lockTTL < floor {
		lockTTL = floor
	}
	return &Reconciler{
		store:           store,
		payments:        payments,
		providers:       providers,
		locker:          locker,
		lockTTL:         lockTTL,
		providerTimeout: providerTimeout,
		logger:          util.GetLogger(),
	}
}

// Verify asks the provider for the true status of a pending payment and applies it.
// Provider faults leave the payment untouched so the next attempt can retry; the
// current payment row is always returned.
func (r *Reconciler) Verify(ctx context.Context, paymentID string) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.Verify")
	defer span.End()

	payment, err := r.store.GetPayment(ctx, paymentID)
	if err != nil {
		return nil, err
	}
	if payment.Status != models.PaymentStatusPending {
		return payment, nil
	}
	if payment.ProviderPaymentID == nil {
		// provider session not opened yet
		return payment, nil
	}

	if r.locker != nil {
		release, acquired, err := r.locker.TryLock(ctx, "verify:"+payment.ID, r.lockTTL)
		if err != nil {
			r.logger.Warn("Verification lock unavailable, verifying without it",
				zap.String("payment_id", payment.ID),
				zap.Error(err))
		} else if !acquired {
			util.VerificationsTotal.WithLabelValues(payment.Provider, "coalesced").Inc()
			return payment, nil
		} else {
			defer release()
		}
	}

	gateway, err := r.providers.Get(payment.Provider)
	if err != nil {
		return nil, err
	}

	callCtx, cancel := context.WithTimeout(ctx, r.providerTimeout)
	req := provider.StatusRequest{
		PaymentID:         payment.ID,
		ProviderPaymentID: *payment.ProviderPaymentID,
		Method:            payment.PaymentMethod,
	}
	if payment.BankAccountNo != nil {
		req.BankAccountNo = *payment.BankAccountNo
	}
	status, err := gateway.GetPaymentStatus(callCtx, req)
	cancel()
	if err != nil {
		util.VerificationsTotal.WithLabelValues(payment.Provider, "provider_error").Inc()
		r.logger.Warn("Payment verification failed, will retry",
			zap.String("payment_id", payment.ID),
			zap.String("provider", payment.Provider),
			zap.Error(err))
		return payment, nil
	}

	util.VerificationsTotal.WithLabelValues(payment.Provider, string(status.Status)).Inc()
	if status.Status == models.PaymentStatusPending {
		return payment, nil
	}

	updated, err := r.payments.ApplyProviderResult(ctx, payment.ID, ProviderResult{
		Status: status.Status,
		PaidAt: status.PaidAt,
		Reason: fmt.Sprintf("provider status %s", status.RawStatus),
	})
	if err != nil {
		if errors.Is(err, models.ErrAlreadyFinalized) {
			r.logger.Warn("Provider status conflicts with recorded outcome",
				zap.String("payment_id", payment.ID),
				zap.String("provider_status", string(status.Status)),
				zap.Error(err))
			return r.store.GetPayment(ctx, payment.ID)
		}
		return nil, err
	}
	return updated, nil
}

// HandleNotification resolves a pushed provider notification to its payment and
// re-verifies it with the provider.
func (r *Reconciler) HandleNotification(ctx context.Context, n *models.ProviderNotification) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.HandleNotification")
	defer span.End()

	var (
		payment *models.Payment
		err     error
	)
	if n.ProviderPaymentID != "" {
		payment, err = r.store.GetPaymentByProviderID(ctx, n.Provider, n.ProviderPaymentID)
		if err != nil && !errors.Is(err, models.ErrNotFound) {
			return nil, err
		}
	}
	if payment == nil && n.PaymentID != "" {
		payment, err = r.store.GetPayment(ctx, n.PaymentID)
	}
	if err != nil {
		return nil, err
	}
	if payment == nil {
		return nil, fmt.Errorf("%w: notification without payment reference", models.ErrInvalidRequest)
	}
	if payment.Provider != n.Provider {
		return nil, fmt.Errorf("%w: payment %s belongs to %s", models.ErrInvalidRequest, payment.ID, payment.Provider)
	}

	r.logger.Info("Provider notification received",
		zap.String("payment_id", payment.ID),
		zap.String("provider", n.Provider),
		zap.String("raw_status", n.RawStatus))

	return r.Verify(ctx, payment.ID)
}

// VerifyPending re-verifies pending payments created before olderThan. It returns how
// many payments left PENDING.
func (r *Reconciler) VerifyPending(ctx context.Context, olderThan time.Time, limit int) (int, error) {
	ids, err := r.store.ListPendingPaymentIDs(ctx, olderThan, limit)
	if err != nil {
		return 0, fmt.Errorf("failed to list pending payments: %w", err)
	}

	resolved := 0
	for _, id := range ids {
		if ctx.Err() != nil {
			return resolved, ctx.Err()
		}
		p, err := r.Verify(ctx, id)
		if err != nil {
			r.logger.Error("Background verification failed",
				zap.String("payment_id", id),
				zap.Error(err))
			continue
		}
		if p.Status != models.PaymentStatusPending {
			resolved++
		}
	}
	return resolved, nil
}

// VirtualAccountSettlement is a bank transfer the provider reports as cleared
type VirtualAccountSettlement struct {
	Provider  string
	AccountNo string
	Amount    int64
	PaidAt    *time.Time
	Reference string
}

// LookupVirtualAccount returns the latest payment issued on a virtual account
func (r *Reconciler) LookupVirtualAccount(ctx context.Context, providerName, accountNo string) (*models.Payment, error) {
	return r.store.GetPaymentByAccountNo(ctx, providerName, accountNo)
}

// SettleVirtualAccount applies a signed settlement callback. Unlike notifications it is
// authoritative, so the provider is not queried again. A repeated callback for a
// finalized payment returns the payment unchanged.
func (r *Reconciler) SettleVirtualAccount(ctx context.Context, s VirtualAccountSettlement) (*models.Payment, error) {
	ctx, span := util.StartSpan(ctx, "Reconciler.SettleVirtualAccount")
	defer span.End()

	payment, err := r.store.GetPaymentByAccountNo(ctx, s.Provider, s.AccountNo)
	if err != nil {
		return nil, err
	}

	if payment.Status != models.PaymentStatusPending {
		if payment.Status != models.PaymentStatusSuccess && payment.Status != models.PaymentStatusRefunded {
			r.logger.Warn("Transfer reported for a closed payment attempt",
				zap.String("payment_id", payment.ID),
				zap.String("status", string(payment.Status)),
				zap.String("reference", s.Reference))
		}
		return payment, nil
	}
	if s.Amount != payment.Value {
		return nil, fmt.Errorf("%w: paid %d, payment %s expects %d",
			models.ErrAmountMismatch, s.Amount, payment.ID, payment.Value)
	}

	util.VerificationsTotal.WithLabelValues(payment.Provider, "va_callback").Inc()
	updated, err := r.payments.ApplyProviderResult(ctx, payment.ID, ProviderResult{
		Status: models.PaymentStatusSuccess,
		PaidAt: s.PaidAt,
		Reason: "virtual account transfer " + s.Reference,
	})
	if errors.Is(err, models.ErrAlreadyFinalized) {
		return r.store.GetPayment(ctx, payment.ID)
	}
	return updated, err
}
