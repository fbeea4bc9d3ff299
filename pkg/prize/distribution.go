// Package prize splits a tournament prize pool between its winners.
//
// Winners are ranked by the attempt on which they first cleared the level.
// Each winner's weight is an inverse power of that attempt count, so a first
// try clear earns far more than a clear on the fiftieth try. Large fields
// (more than TieredThreshold winners) use flatter exponents past the top
// positions so the tail still gets paid.
package prize

import (
	"errors"
	"fmt"
	"math"
	"math/big"
)

const (
	TieredThreshold = 100
	TopTier         = 10
	MidTier         = 50

	SteepExponent = 1.3
	MidExponent   = 1.2
	FlatExponent  = 1.0
)

var (
	ErrEmptyPool  = errors.New("prize pool must be positive")
	ErrBadAttempt = errors.New("wonAtAttempt must be positive")
)

// Weight returns the weight of the winner at 1-based position who won on
// attempt wonAt, in a field of n winners.
func Weight(position, wonAt, n int) float64 {
	exp := SteepExponent
	if n > TieredThreshold {
		switch {
		case position <= TopTier:
			exp = SteepExponent
		case position <= MidTier:
			exp = MidExponent
		default:
			exp = FlatExponent
		}
	}
	return 1 / math.Pow(float64(wonAt), exp)
}

// Distribute returns one share per winner, in input order. wonAt must be
// sorted ascending. The sum of the shares never exceeds pool.
func Distribute(wonAt []int, pool *big.Int) ([]*big.Int, error) {
	if len(wonAt) == 0 {
		return []*big.Int{}, nil
	}
	if pool == nil || pool.Sign() <= 0 {
		return nil, ErrEmptyPool
	}

	n := len(wonAt)
	weights := make([]float64, n)
	total := 0.0
	for i, a := range wonAt {
		if a <= 0 {
			return nil, fmt.Errorf("winner %d: %w", i, ErrBadAttempt)
		}
		weights[i] = Weight(i+1, a, n)
		total += weights[i]
	}

	poolF := new(big.Float).SetPrec(256).SetInt(pool)
	shares := make([]*big.Int, n)
	distributed := new(big.Int)
	for i, w := range weights {
		frac := new(big.Float).SetPrec(256).SetFloat64(w / total)
		amount, _ := new(big.Float).SetPrec(256).Mul(poolF, frac).Int(nil) // truncates toward zero
		if amount.Cmp(pool) > 0 {
			amount.Set(pool)
		}
		shares[i] = amount
		distributed.Add(distributed, amount)
	}

	// Rounding can leave winners at zero; hand them one unit each out of the
	// undistributed remainder, best ranked first.
	remaining := new(big.Int).Sub(pool, distributed)
	one := big.NewInt(1)
	for i := 0; i < n && remaining.Sign() > 0; i++ {
		if shares[i].Sign() == 0 {
			shares[i].Set(one)
			remaining.Sub(remaining, one)
		}
	}
	return shares, nil
}

// Sum adds up shares.
func Sum(shares []*big.Int) *big.Int {
	total := new(big.Int)
	for _, s := range shares {
		total.Add(total, s)
	}
	return total
}
