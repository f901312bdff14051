package jobs

import (
	"context"
	"fmt"
	"log/slog"
	"time"
)

// TrackEvent stores one analytics event.
func (h *Handlers) TrackEvent(ctx context.Context, e AnalyticsEvent) error {
	_, err := h.guard.Once(ctx, eventKey(e), func(ctx context.Context) error {
		return h.analytics.Record(ctx, e)
	})
	return err
}

// AggregateAnalytics rolls up one hour of events.
func (h *Handlers) AggregateAnalytics(ctx context.Context, a AnalyticsAggregate) error {
	_, err := h.guard.Once(ctx, aggregateKey(a), func(ctx context.Context) error {
		return h.analytics.AggregateHour(ctx, a.Hour.UTC().Truncate(time.Hour))
	})
	return err
}

// RetryPayment charges the payment again and grants product access once it
// succeeds. Charge and grant are guarded separately so a failed grant never
// causes a second charge.
func (h *Handlers) RetryPayment(ctx context.Context, p PaymentRetryPayload) error {
	log := h.logger.With(
		slog.String("payment_id", p.PaymentID),
		slog.String("provider", p.Provider))

	_, err := h.guard.Once(ctx, join(paymentKey(p), "charge"), func(ctx context.Context) error {
		res, err := h.payments.Retry(ctx, p)
		if err != nil {
			return err
		}
		if !res.Succeeded {
			return fmt.Errorf("%w: %s", ErrPaymentDeclined, res.Reason)
		}
		log.InfoContext(ctx, "payment retry succeeded", slog.String("transaction_id", res.TransactionID))
		return nil
	})
	if err != nil {
		return err
	}

	ran, err := h.guard.Once(ctx, join(paymentKey(p), "grant"), func(ctx context.Context) error {
		return h.purchases.GrantAccess(ctx, p.UserID, p.ProductID, p.PaymentID)
	})
	if err != nil {
		return fmt.Errorf("grant access: %w", err)
	}
	if !ran {
		log.InfoContext(ctx, "access already granted, skipping")
	}
	return nil
}

// ProcessCommission credits a referrer once per purchase and referral.
func (h *Handlers) ProcessCommission(ctx context.Context, p CommissionPayload) error {
	ran, err := h.guard.Once(ctx, commissionKey(p), func(ctx context.Context) error {
		return h.commissions.Credit(ctx, p)
	})
	if err != nil {
		return err
	}
	if ran {
		h.logger.InfoContext(ctx, "commission credited",
			slog.String("referral_id", p.ReferralID),
			slog.String("purchase_id", p.PurchaseID),
			slog.Int64("commission_amount", p.CommissionAmount),
			slog.String("currency", p.Currency))
	} else {
		h.logger.InfoContext(ctx, "commission already credited, skipping",
			slog.String("referral_id", p.ReferralID))
	}
	return nil
}
