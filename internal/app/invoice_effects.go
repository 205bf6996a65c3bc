/**
 * @description
 * Side-effect dispatcher for the invoice-payment flow: marks the invoice
 * paid, generates the platform fee and publishes the paid notification.
 *
 * Idempotency is keyed on the invoice, not the payment: a single invoice
 * must never accrue two fees even if two distinct payments (or replays of
 * one) settle it. The fee insert reports whether a row was actually created
 * and the notification is gated on that, so replays publish nothing.
 */
package app

import (
	"context"
	"log"

	"github.com/google/uuid"
	"github.com/lipabooks/payments-service/internal/domain"
	"github.com/shopspring/decimal"
)

// dispatchInvoicePaid applies the business consequences of a settled invoice
// payment. Safe to call any number of times for the same payment.
func (s *Service) dispatchInvoicePaid(ctx context.Context, payment *domain.Payment) error {
	if payment.InvoiceID == nil {
		// An invoice-flow payment without an invoice id is a data defect,
		// not something a retry can repair.
		log.Printf("level=error component=invoice_dispatcher msg=\"completed payment has no invoice id\" payment_id=%s correlation_id=%s",
			payment.ID, payment.GatewayCorrelationID)
		return nil
	}
	invoiceID := *payment.InvoiceID

	invoice, err := s.repo.FindInvoiceByID(ctx, invoiceID)
	if err != nil {
		return transient("invoice lookup", err)
	}

	paidAt := s.now()
	if payment.PaidAt != nil {
		paidAt = *payment.PaidAt
	}
	if _, err := s.repo.MarkInvoicePaid(ctx, invoiceID, paidAt); err != nil {
		return transient("invoice status update", err)
	}

	fee := &domain.PlatformFee{
		ID:        uuid.New(),
		InvoiceID: invoiceID,
		CompanyID: invoice.CompanyID,
		FeeAmount: s.computePlatformFee(invoice.TotalAmount),
		Currency:  invoice.Currency,
		FeeStatus: domain.FeeStatusPending,
	}
	created, err := s.repo.CreatePlatformFee(ctx, fee)
	if err != nil {
		return transient("platform fee creation", err)
	}
	if !created {
		log.Printf("level=info component=invoice_dispatcher msg=\"platform fee already exists; effects previously applied\" invoice_id=%s", invoiceID)
		return nil
	}

	log.Printf("level=info component=invoice_dispatcher msg=\"invoice settled\" invoice_id=%s payment_id=%s fee_amount=%d",
		invoiceID, payment.ID, fee.FeeAmount)

	s.publish(ctx, domain.EventInvoicePaid, domain.InvoicePaidEvent{
		InvoiceID:  invoiceID,
		CompanyID:  invoice.CompanyID,
		PaymentID:  payment.ID,
		Amount:     invoice.TotalAmount,
		FeeAmount:  fee.FeeAmount,
		Currency:   invoice.Currency,
		PaidAt:     paidAt,
		ReceivedAt: s.now(),
	})
	return nil
}

// computePlatformFee applies the configured rate to an invoice total held in
// minor currency units, rounding half-up to the nearest unit.
func (s *Service) computePlatformFee(invoiceTotal int64) int64 {
	fee := decimal.NewFromInt(invoiceTotal).Mul(s.cfg.FeeRate).Round(0)
	return fee.IntPart()
}
