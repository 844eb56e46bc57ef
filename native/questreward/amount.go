package questreward

import (
	"fmt"
	"math/big"

	"github.com/holiman/uint256"
)

// ValidateAmount checks that v is a non-negative integer within the uint256
// range used by ERC-20 assets.
func ValidateAmount(v *big.Int) error {
	if v == nil {
		return fmt.Errorf("%w: amount required", ErrInvalidArgument)
	}
	if v.Sign() < 0 {
		return fmt.Errorf("%w: amount must be non-negative", ErrInvalidArgument)
	}
	if _, overflow := uint256.FromBig(v); overflow {
		return fmt.Errorf("%w: amount exceeds uint256", ErrInvalidArgument)
	}
	return nil
}

// AddAmounts returns a+b, failing when the sum leaves the uint256 range.
func AddAmounts(a, b *big.Int) (*big.Int, error) {
	x, err := toUint256(a)
	if err != nil {
		return nil, err
	}
	y, err := toUint256(b)
	if err != nil {
		return nil, err
	}
	sum, overflow := new(uint256.Int).AddOverflow(x, y)
	if overflow {
		return nil, fmt.Errorf("%w: amount overflow", ErrInvalidArgument)
	}
	return sum.ToBig(), nil
}

func subAmounts(a, b *big.Int) (*big.Int, error) {
	x, err := toUint256(a)
	if err != nil {
		return nil, err
	}
	y, err := toUint256(b)
	if err != nil {
		return nil, err
	}
	diff, underflow := new(uint256.Int).SubOverflow(x, y)
	if underflow {
		return nil, fmt.Errorf("%w: amount underflow", ErrInvalidArgument)
	}
	return diff.ToBig(), nil
}

func toUint256(v *big.Int) (*uint256.Int, error) {
	if v == nil {
		return new(uint256.Int), nil
	}
	if err := ValidateAmount(v); err != nil {
		return nil, err
	}
	out, _ := uint256.FromBig(v)
	return out, nil
}
