package db

import (
	"fmt"
	"math/big"

	"github.com/jackc/pgx/v5/pgtype"
)

// NumericFromBig wraps a big.Int for use as a NUMERIC query argument.
// A nil value maps to NUMERIC zero so amount columns stay NOT NULL.
func NumericFromBig(v *big.Int) pgtype.Numeric {
	if v == nil {
		v = new(big.Int)
	}
	return pgtype.Numeric{Int: new(big.Int).Set(v), Valid: true}
}

// BigFromNumeric converts a scanned NUMERIC into a big.Int. The escrow schema
// only stores whole-unit amounts, so a fractional value is a corruption error.
func BigFromNumeric(n pgtype.Numeric) (*big.Int, error) {
	if !n.Valid {
		return nil, fmt.Errorf("db: null numeric")
	}
	if n.NaN || n.InfinityModifier != pgtype.Finite {
		return nil, fmt.Errorf("db: non-finite numeric")
	}
	v := new(big.Int).Set(n.Int)
	switch {
	case n.Exp > 0:
		mul := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n.Exp)), nil)
		v.Mul(v, mul)
	case n.Exp < 0:
		div := new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(-n.Exp)), nil)
		var rem big.Int
		v.QuoRem(v, div, &rem)
		if rem.Sign() != 0 {
			return nil, fmt.Errorf("db: fractional numeric in integer amount column")
		}
	}
	return v, nil
}
