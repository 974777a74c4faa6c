package feecalc

import (
	"context"
	"log/slog"

	"github.com/shopspring/decimal"

	"github.com/adwave/pointpay/internal/domain/withdrawals"
	"github.com/adwave/pointpay/internal/feecalc/taxclient"
)

// Transfer fee is 0.1% of the requested amount, clamped to [500, 1000]
// minor currency units. Withholding tax is 3.3%.
var (
	feeRate = decimal.NewFromFloat(0.001)
	taxRate = decimal.NewFromFloat(0.033)
)

const (
	minTransferFee = 500
	maxTransferFee = 1000

	withholdingRate = 0.033
)

// Eligibility is the answer to "can this amount be withdrawn from this
// balance", with the exact shortfall when it cannot.
type Eligibility struct {
	CanWithdraw bool
	Shortfall   int64
	Breakdown   withdrawals.Breakdown
}

// Calculator computes fee/tax breakdowns. The tax service is authoritative
// for tax numbers; every call path has a deterministic local fallback so a
// tax service outage never blocks withdrawal processing. The breakdown
// records which path produced it.
type Calculator struct {
	log       *slog.Logger
	taxClient *taxclient.Client
}

func New(opts ...Option) *Calculator {
	calc := &Calculator{
		log: slog.New(&slog.JSONHandler{}),
	}

	for _, opt := range opts {
		opt(calc)
	}

	return calc
}

type Option func(c *Calculator)

func WithLogger(logger *slog.Logger) Option {
	return func(c *Calculator) {
		c.log = logger.With(slog.String("module", "feecalc"))
	}
}

// WithTaxClient sets the authoritative tax service client. Without one the
// calculator always uses the local fallback.
func WithTaxClient(client *taxclient.Client) Option {
	return func(c *Calculator) {
		c.taxClient = client
	}
}

// CalculateFee returns the transfer fee for amount. Pure local computation.
func (c *Calculator) CalculateFee(amount int64) int64 {
	fee := decimal.NewFromInt(amount).Mul(feeRate).Floor().IntPart()

	if fee < minTransferFee {
		return minTransferFee
	}

	if fee > maxTransferFee {
		return maxTransferFee
	}

	return fee
}

// calculateTaxLocal is the deterministic fallback: floor(amount * 0.033).
func calculateTaxLocal(amount int64) (taxAmount, finalAmount int64) {
	taxAmount = decimal.NewFromInt(amount).Mul(taxRate).Floor().IntPart()

	return taxAmount, amount - taxAmount
}

// Breakdown computes the full fee/tax decomposition for amount.
func (c *Calculator) Breakdown(ctx context.Context, amount int64) withdrawals.Breakdown {
	fee := c.CalculateFee(amount)

	if c.taxClient != nil {
		res, err := c.taxClient.CalculateTax(ctx, amount, withholdingRate)
		if err == nil {
			return withdrawals.Breakdown{
				TransferFee:   fee,
				TaxAmount:     res.TaxAmount,
				FinalAmount:   res.FinalAmount,
				TotalRequired: amount + fee + res.TaxAmount,
				Source:        withdrawals.SourceAuthoritative,
			}
		}

		c.log.Warn("tax service unavailable, using local fallback", slog.Any("error", err))
	}

	taxAmount, finalAmount := calculateTaxLocal(amount)

	return withdrawals.Breakdown{
		TransferFee:   fee,
		TaxAmount:     taxAmount,
		FinalAmount:   finalAmount,
		TotalRequired: amount + fee + taxAmount,
		Source:        withdrawals.SourceFallback,
	}
}

// CanWithdraw checks whether availableBalance covers amount plus fee and
// tax. It prefers the combined remote check and composes CalculateFee with
// the local tax fallback when the tax service is unavailable.
func (c *Calculator) CanWithdraw(ctx context.Context, amount, availableBalance int64) Eligibility {
	if c.taxClient != nil {
		res, err := c.taxClient.CheckWithdrawal(ctx, amount, availableBalance)
		if err == nil {
			return Eligibility{
				CanWithdraw: res.CanWithdraw,
				Shortfall:   res.Shortfall,
				Breakdown: withdrawals.Breakdown{
					TransferFee:   res.TransferFee,
					TaxAmount:     res.TaxAmount,
					FinalAmount:   res.FinalAmount,
					TotalRequired: res.TotalRequired,
					Source:        withdrawals.SourceAuthoritative,
				},
			}
		}

		c.log.Warn("tax service unavailable, using local fallback", slog.Any("error", err))
	}

	fee := c.CalculateFee(amount)
	taxAmount, finalAmount := calculateTaxLocal(amount)
	totalRequired := amount + fee + taxAmount

	var shortfall int64
	if totalRequired > availableBalance {
		shortfall = totalRequired - availableBalance
	}

	return Eligibility{
		CanWithdraw: shortfall == 0,
		Shortfall:   shortfall,
		Breakdown: withdrawals.Breakdown{
			TransferFee:   fee,
			TaxAmount:     taxAmount,
			FinalAmount:   finalAmount,
			TotalRequired: totalRequired,
			Source:        withdrawals.SourceFallback,
		},
	}
}
