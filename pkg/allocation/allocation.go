// Package allocation divides an integer pool by basis-point weights.
package allocation

import (
	"math/big"
	"math/bits"
)

// Item is one weighted recipient. Negative weights are treated as zero.
type Item struct {
	ID  string
	Bps int64
}

// Share is the amount allocated to one Item.
type Share struct {
	ID     string
	Amount int64
}

// Allocate splits pool proportionally across items and returns one Share per
// item, in input order. Every unit of rounding leftover goes to the item with
// the largest weight, ties broken by the lexicographically smallest ID, so the
// shares always sum to pool.
//
// When the weights sum to zero every share is zero and the pool is left for
// the caller to handle.
func Allocate(pool int64, items []Item) []Share {
	if len(items) == 0 {
		return []Share{}
	}
	if pool < 0 {
		pool = 0
	}

	shares := make([]Share, len(items))
	var total, carry uint64
	for i, it := range items {
		shares[i].ID = it.ID
		var c uint64
		total, c = bits.Add64(total, uint64(weight(it)), 0)
		carry += c
	}
	if total == 0 && carry == 0 {
		return shares
	}

	// Weights past 2^64 in total need a wide divisor.
	var wide *big.Int
	if carry > 0 {
		wide = new(big.Int).Lsh(new(big.Int).SetUint64(carry), 64)
		wide.Add(wide, new(big.Int).SetUint64(total))
	}

	var allocated int64
	winner := -1
	for i, it := range items {
		w := weight(it)
		if wide != nil {
			shares[i].Amount = bigMulDiv(pool, w, wide)
		} else {
			shares[i].Amount = mulDiv(uint64(pool), uint64(w), total)
		}
		allocated += shares[i].Amount

		if winner < 0 || w > weight(items[winner]) || (w == weight(items[winner]) && it.ID < items[winner].ID) {
			winner = i
		}
	}

	shares[winner].Amount += pool - allocated
	return shares
}

// Total sums the share amounts.
func Total(shares []Share) int64 {
	var sum int64
	for _, s := range shares {
		sum += s.Amount
	}
	return sum
}

// TotalBps is the weight of a whole pool.
const TotalBps = 10000

// Portion returns floor(pool * bps / 10000), with bps clamped to 0..10000.
func Portion(pool, bps int64) int64 {
	if pool <= 0 || bps <= 0 {
		return 0
	}
	if bps > TotalBps {
		bps = TotalBps
	}
	return mulDiv(uint64(pool), uint64(bps), TotalBps)
}

func weight(it Item) int64 {
	if it.Bps < 0 {
		return 0
	}
	return it.Bps
}

func bigMulDiv(a, b int64, c *big.Int) int64 {
	q := new(big.Int).Mul(big.NewInt(a), big.NewInt(b))
	return q.Quo(q, c).Int64()
}

// mulDiv computes floor(a*b/c) without overflow. b <= c so the quotient never
// exceeds a.
func mulDiv(a, b, c uint64) int64 {
	hi, lo := bits.Mul64(a, b)
	q, _ := bits.Div64(hi, lo, c)
	return int64(q)
}
