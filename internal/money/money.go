// Package money holds currency amounts as integer cents. Cents reads and
// writes numeric columns through pgx directly, so prices and totals never
// pass through a float.
package money

import (
	"errors"
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// Cents is an amount in hundredths of the currency unit.
type Cents int64

// FromUnits returns u whole currency units.
func FromUnits(u int64) Cents { return Cents(u * 100) }

// Times multiplies c by a count, e.g. a nightly price by nights.
func (c Cents) Times(n int64) Cents { return c * Cents(n) }

// String formats c as "12.50".
func (c Cents) String() string {
	sign, v := "", int64(c)
	if v < 0 {
		sign, v = "-", -v
	}
	return fmt.Sprintf("%s%d.%02d", sign, v/100, v%100)
}

// NumericValue implements pgtype.NumericValuer.
func (c Cents) NumericValue() (pgtype.Numeric, error) {
	return pgtype.Numeric{Int: big.NewInt(int64(c)), Exp: -2, Valid: true}, nil
}

var ten = big.NewInt(10)

// ScanNumeric implements pgtype.NumericScanner. Values with more than two
// decimal places are rounded half away from zero.
func (c *Cents) ScanNumeric(n pgtype.Numeric) error {
	if !n.Valid {
		return errors.New("money: cannot scan NULL into Cents")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return errors.New("money: cannot scan a non-finite numeric into Cents")
	}
	v := new(big.Int)
	if n.Int != nil {
		v.Set(n.Int)
	}

	if shift := n.Exp + 2; shift >= 0 {
		v.Mul(v, new(big.Int).Exp(ten, big.NewInt(int64(shift)), nil))
	} else {
		div := new(big.Int).Exp(ten, big.NewInt(int64(-shift)), nil)
		var rem big.Int
		v.QuoRem(v, div, &rem)
		if new(big.Int).Mul(new(big.Int).Abs(&rem), big.NewInt(2)).Cmp(div) >= 0 {
			v.Add(v, big.NewInt(int64(rem.Sign())))
		}
	}

	if !v.IsInt64() {
		return fmt.Errorf("money: %s cents overflows int64", v)
	}
	*c = Cents(v.Int64())
	return nil
}
