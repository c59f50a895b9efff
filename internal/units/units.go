// Package units defines the arbitrary-precision, unit-tagged integer types
// used throughout the trading core. No contract or calculation that affects
// a trading decision, order size, or P&L may use floating point; every such
// value is one of the types below, each a thin wrapper around *big.Int so
// that mixing units (e.g. adding a Quote amount to a Bps rate) is a compile
// error rather than a 2am incident.
package units

import (
	"fmt"
	"math/big"
)

// Base is a quantity of the base asset, in its smallest on-chain/exchange
// unit (e.g. satoshis for BTC at 8 decimals, wei-like units for ETH at 18).
type Base struct{ v *big.Int }

// Quote is an amount of the quote asset in its smallest unit (e.g. micro-USD).
type Quote struct{ v *big.Int }

// Bps is a basis-point value; 10_000 == 100%.
type Bps struct{ v *big.Int }

func bi(n int64) *big.Int { return big.NewInt(n) }

// ZeroBase, ZeroQuote, ZeroBps are the additive identities. The zero value of
// each struct is usable directly (nil *big.Int is treated as zero by every
// method here), but constructors are provided for clarity at call sites.
func ZeroBase() Base   { return Base{bi(0)} }
func ZeroQuote() Quote { return Quote{bi(0)} }
func ZeroBps() Bps     { return Bps{bi(0)} }

func NewBase(v int64) Base   { return Base{bi(v)} }
func NewQuote(v int64) Quote { return Quote{bi(v)} }
func NewBps(v int64) Bps     { return Bps{bi(v)} }

func BaseFromBig(v *big.Int) Base   { return Base{cloneOrZero(v)} }
func QuoteFromBig(v *big.Int) Quote { return Quote{cloneOrZero(v)} }
func BpsFromBig(v *big.Int) Bps     { return Bps{cloneOrZero(v)} }

func cloneOrZero(v *big.Int) *big.Int {
	if v == nil {
		return bi(0)
	}
	return new(big.Int).Set(v)
}

func (b Base) big() *big.Int  { return cloneOrZero(b.v) }
func (q Quote) big() *big.Int { return cloneOrZero(q.v) }
func (b Bps) big() *big.Int   { return cloneOrZero(b.v) }

// Int returns the underlying *big.Int, safe to use in further big.Int calls
// but never nil.
func (b Base) Int() *big.Int  { return b.big() }
func (q Quote) Int() *big.Int { return q.big() }
func (b Bps) Int() *big.Int   { return b.big() }

func (b Base) Add(o Base) Base   { return Base{new(big.Int).Add(b.big(), o.big())} }
func (b Base) Sub(o Base) Base   { return Base{new(big.Int).Sub(b.big(), o.big())} }
func (b Base) Neg() Base         { return Base{new(big.Int).Neg(b.big())} }
func (b Base) Abs() Base         { return Base{new(big.Int).Abs(b.big())} }
func (b Base) Cmp(o Base) int    { return b.big().Cmp(o.big()) }
func (b Base) IsZero() bool      { return b.big().Sign() == 0 }
func (b Base) Sign() int         { return b.big().Sign() }
func (b Base) String() string    { return b.big().String() }
func (b Base) Int64() int64      { return b.big().Int64() }

func (q Quote) Add(o Quote) Quote { return Quote{new(big.Int).Add(q.big(), o.big())} }
func (q Quote) Sub(o Quote) Quote { return Quote{new(big.Int).Sub(q.big(), o.big())} }
func (q Quote) Neg() Quote        { return Quote{new(big.Int).Neg(q.big())} }
func (q Quote) Abs() Quote        { return Quote{new(big.Int).Abs(q.big())} }
func (q Quote) Cmp(o Quote) int   { return q.big().Cmp(o.big()) }
func (q Quote) IsZero() bool      { return q.big().Sign() == 0 }
func (q Quote) Sign() int         { return q.big().Sign() }
func (q Quote) String() string    { return q.big().String() }
func (q Quote) Int64() int64      { return q.big().Int64() }

func (b Bps) Add(o Bps) Bps    { return Bps{new(big.Int).Add(b.big(), o.big())} }
func (b Bps) Sub(o Bps) Bps    { return Bps{new(big.Int).Sub(b.big(), o.big())} }
func (b Bps) Neg() Bps         { return Bps{new(big.Int).Neg(b.big())} }
func (b Bps) Cmp(o Bps) int    { return b.big().Cmp(o.big()) }
func (b Bps) IsZero() bool     { return b.big().Sign() == 0 }
func (b Bps) Sign() int        { return b.big().Sign() }
func (b Bps) String() string   { return b.big().String() }
func (b Bps) Int64() int64     { return b.big().Int64() }

const bpsScale = 10_000

// MulBps returns base * bps / 10000, truncating toward zero. Used for sizing
// and risk ratios; never rounds in the direction of more risk (truncation on
// a positive quotient always rounds down in magnitude).
func (b Base) MulBps(bps Bps) Base {
	n := new(big.Int).Mul(b.big(), bps.big())
	n.Quo(n, bi(bpsScale))
	return Base{n}
}

func (q Quote) MulBps(bps Bps) Quote {
	n := new(big.Int).Mul(q.big(), bps.big())
	n.Quo(n, bi(bpsScale))
	return Quote{n}
}

// NotionalQuote computes base * price / 10^baseDecimals, the standard
// conversion from a base-asset quantity at a given quote-denominated price
// into a quote-asset notional.
func NotionalQuote(base Base, priceQuote Quote, baseDecimals int) Quote {
	n := new(big.Int).Mul(base.big(), priceQuote.big())
	n.Quo(n, pow10(baseDecimals))
	return Quote{n}
}

// BaseFromQuote is the inverse of NotionalQuote: given a quote notional and a
// price, returns the base-asset quantity it buys, truncated toward zero.
func BaseFromQuote(notional Quote, priceQuote Quote, baseDecimals int) Base {
	if priceQuote.Sign() <= 0 {
		return ZeroBase()
	}
	n := new(big.Int).Mul(notional.big(), pow10(baseDecimals))
	n.Quo(n, priceQuote.big())
	return Base{n}
}

func pow10(n int) *big.Int {
	if n < 0 {
		n = 0
	}
	return new(big.Int).Exp(bi(10), bi(int64(n)), nil)
}

// BpsOfQuote computes (numerator * 10000) / denominator as a Bps value,
// truncating toward zero. Returns 10000 (100%) if denominator is zero, the
// convention spec.md uses for margin-utilization-when-equity-is-zero.
func BpsOfQuote(numerator, denominator Quote) Bps {
	if denominator.Sign() == 0 {
		return NewBps(bpsScale)
	}
	n := new(big.Int).Mul(numerator.big(), bi(bpsScale))
	n.Quo(n, denominator.big())
	return Bps{n}
}

// BpsOfBase computes (numerator * 10000) / denominator as a Bps value,
// truncating toward zero. Returns 0 if denominator is zero (there is no
// sensible relative-difference convention when the reference is absent;
// callers comparing against a zero reference should branch on that
// explicitly rather than rely on this return value).
func BpsOfBase(numerator, denominator Base) Bps {
	if denominator.Sign() == 0 {
		return ZeroBps()
	}
	n := new(big.Int).Mul(numerator.big(), bi(bpsScale))
	n.Quo(n, denominator.big())
	return Bps{n}
}

// ClampBps clamps a Bps value to [0, 10000].
func ClampBps(b Bps) Bps {
	if b.Sign() < 0 {
		return ZeroBps()
	}
	if b.Cmp(NewBps(bpsScale)) > 0 {
		return NewBps(bpsScale)
	}
	return b
}

func (b Base) GoString() string  { return fmt.Sprintf("Base(%s)", b.String()) }
func (q Quote) GoString() string { return fmt.Sprintf("Quote(%s)", q.String()) }
func (b Bps) GoString() string   { return fmt.Sprintf("Bps(%s)", b.String()) }
