package service

import (
	"context"
	"encoding/hex"
	"fmt"

	"payhub/internal/core/domain"
	"payhub/internal/core/ports"

	"github.com/google/uuid"
	"github.com/rs/zerolog"
)

// Stub gateway modes.
const (
	GatewayModeApprove = "approve"
	GatewayModeDecline = "decline"
	GatewayModeAmount  = "amount"
)

// StubGateway implements ports.Gateway as a deterministic decision point.
// No real acquirer is involved: the outcome is a pure function of the
// configured mode and the payment amount, which makes intake behavior
// reproducible in tests and local environments.
type StubGateway struct {
	mode          string
	declineSuffix int64
	log           zerolog.Logger
}

// NewStubGateway creates a stub gateway with the given decision mode.
func NewStubGateway(mode string, declineSuffix int64, log zerolog.Logger) *StubGateway {
	return &StubGateway{mode: mode, declineSuffix: declineSuffix, log: log}
}

// Charge decides the payment outcome and issues an external payment id.
func (g *StubGateway) Charge(_ context.Context, payment *domain.Payment) (*ports.GatewayResult, error) {
	result := &ports.GatewayResult{
		Status:            domain.PaymentStatusSucceeded,
		ExternalPaymentID: newExternalPaymentID(),
	}

	switch g.mode {
	case GatewayModeDecline:
		result.Status = domain.PaymentStatusFailed
		result.Reason = "declined by gateway"
	case GatewayModeAmount:
		if payment.AmountMinorUnits%100 == g.declineSuffix {
			result.Status = domain.PaymentStatusFailed
			result.Reason = fmt.Sprintf("amount ends in %02d, simulated decline", g.declineSuffix)
		}
	}

	g.log.Debug().
		Str("payment_id", payment.ID.String()).
		Str("external_payment_id", result.ExternalPaymentID).
		Str("status", string(result.Status)).
		Msg("stub gateway decision")

	return result, nil
}

// newExternalPaymentID issues ids in the gateway's PAY_<hex> format.
func newExternalPaymentID() string {
	id := uuid.New()
	return "PAY_" + hex.EncodeToString(id[:12])
}
