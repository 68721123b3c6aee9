// Package domain contains the core domain types for the gas oracle context.
package domain

import (
	"math/big"
	"time"

	"github.com/shopspring/decimal"

	"github.com/fd1az/chain-gateway/internal/chain"
)

// Tier names a gas price speed tier.
type Tier string

const (
	TierSlow     Tier = "slow"
	TierStandard Tier = "standard"
	TierFast     Tier = "fast"
	TierInstant  Tier = "instant"
)

// Tier multipliers over the base signal, in percent. Integer math only so
// downstream fee calculations never see rounding drift.
const (
	slowPct     = 90
	standardPct = 100
	fastPct     = 125
	instantPct  = 150
)

// Priority-fee multipliers per tier for EIP-1559 chains, in percent.
const (
	slowTipPct     = 80
	standardTipPct = 100
	fastTipPct     = 150
	instantTipPct  = 200
)

// Snapshot is one observation of a chain's gas market: four derived tiers in
// wei plus the raw EIP-1559 signals when the chain supports them.
type Snapshot struct {
	Chain    chain.ID
	Slow     *big.Int
	Standard *big.Int
	Fast     *big.Int
	Instant  *big.Int

	// EIP-1559 signals; nil on legacy chains.
	BaseFee        *big.Int
	MaxPriorityFee *big.Int

	Timestamp time.Time
}

// NewSnapshot derives the four tiers from the base signal (suggested gas
// price in wei). baseFee and priorityFee may be nil for legacy chains.
func NewSnapshot(id chain.ID, base, baseFee, priorityFee *big.Int, at time.Time) *Snapshot {
	return &Snapshot{
		Chain:          id,
		Slow:           scalePct(base, slowPct),
		Standard:       scalePct(base, standardPct),
		Fast:           scalePct(base, fastPct),
		Instant:        scalePct(base, instantPct),
		BaseFee:        clone(baseFee),
		MaxPriorityFee: clone(priorityFee),
		Timestamp:      at,
	}
}

// Price returns the wei amount for a tier. Unknown tiers map to standard.
func (s *Snapshot) Price(tier Tier) *big.Int {
	switch tier {
	case TierSlow:
		return s.Slow
	case TierFast:
		return s.Fast
	case TierInstant:
		return s.Instant
	default:
		return s.Standard
	}
}

// PriorityFee returns the tier-scaled max priority fee in wei, or nil on
// legacy chains.
func (s *Snapshot) PriorityFee(tier Tier) *big.Int {
	if s.MaxPriorityFee == nil {
		return nil
	}
	switch tier {
	case TierSlow:
		return scalePct(s.MaxPriorityFee, slowTipPct)
	case TierFast:
		return scalePct(s.MaxPriorityFee, fastTipPct)
	case TierInstant:
		return scalePct(s.MaxPriorityFee, instantTipPct)
	default:
		return scalePct(s.MaxPriorityFee, standardTipPct)
	}
}

// EstimateFee returns the total fee in wei for a transaction of gasLimit at
// the given tier.
func (s *Snapshot) EstimateFee(tier Tier, gasLimit uint64) *big.Int {
	fee := new(big.Int).SetUint64(gasLimit)
	return fee.Mul(fee, s.Price(tier))
}

// Gwei returns the tier price as a decimal gwei amount for display.
func (s *Snapshot) Gwei(tier Tier) decimal.Decimal {
	return decimal.NewFromBigInt(s.Price(tier), -9)
}

// Age returns how long ago the snapshot was taken.
func (s *Snapshot) Age() time.Duration {
	return time.Since(s.Timestamp)
}

func scalePct(v *big.Int, pct int64) *big.Int {
	out := new(big.Int).Mul(v, big.NewInt(pct))
	return out.Div(out, big.NewInt(100))
}

func clone(v *big.Int) *big.Int {
	if v == nil {
		return nil
	}
	return new(big.Int).Set(v)
}
