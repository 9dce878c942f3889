package service

import (
	"context"

	"github.com/tickrace/tickrace-sub001/internal/payment/stripe"
)

// ProcessorGateway is the slice of the processor API the settlement services
// need. *stripe.Client satisfies it, tests substitute a fake.
type ProcessorGateway interface {
	CreateRefund(ctx context.Context, input stripe.RefundInput) (*stripe.RefundResult, error)
	GetCharge(ctx context.Context, chargeRef string) (*stripe.ChargeResult, error)
	ListLineItems(ctx context.Context, sessionRef string) ([]stripe.LineItem, error)
}
