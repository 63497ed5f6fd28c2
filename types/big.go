package types

import (
	"fmt"
	"math/big"
)

// BigInt is a big.Int wrapper which marshals as a plain JSON number of
// arbitrary precision, matching the records produced by earlier revisions
// of the service. Decoding accepts both numeric and quoted string forms.
// A nil pointer value marshals as null.
type BigInt big.Int

// NewBigInt creates a new BigInt from the given integer value.
func NewBigInt(x int64) *BigInt {
	return (*BigInt)(big.NewInt(x))
}

// FromBig wraps a math/big Int. Returns nil for a nil argument.
func FromBig(x *big.Int) *BigInt {
	if x == nil {
		return nil
	}
	return (*BigInt)(new(big.Int).Set(x))
}

// MathBigInt converts i to a math/big *Int. Returns nil for a nil receiver.
func (i *BigInt) MathBigInt() *big.Int {
	if i == nil {
		return nil
	}
	return (*big.Int)(i)
}

// MarshalJSON encodes the value as a raw decimal JSON number.
func (i *BigInt) MarshalJSON() ([]byte, error) {
	if i == nil {
		return []byte("null"), nil
	}
	return []byte((*big.Int)(i).String()), nil
}

// UnmarshalJSON decodes numeric or string JSON representations.
func (i *BigInt) UnmarshalJSON(data []byte) error {
	if i == nil {
		return fmt.Errorf("cannot unmarshal into nil BigInt")
	}
	if string(data) == "null" {
		return fmt.Errorf("cannot unmarshal null into BigInt")
	}
	if len(data) > 1 && data[0] == '"' && data[len(data)-1] == '"' {
		data = data[1 : len(data)-1]
	}
	return (*big.Int)(i).UnmarshalText(data)
}

// String returns the decimal representation of the big number.
func (i *BigInt) String() string {
	if i == nil {
		return "<nil>"
	}
	return (*big.Int)(i).String()
}

// Equal helps us with go-cmp and quicktest comparisons.
func (i *BigInt) Equal(j *BigInt) bool {
	if i == nil || j == nil {
		return (i == nil) == (j == nil)
	}
	return i.MathBigInt().Cmp(j.MathBigInt()) == 0
}
