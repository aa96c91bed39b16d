package market

import "github.com/holiman/uint256"

// SplitRoyalty divides a sale price into the marketplace royalty and the
// amount credited to the seller. The product price*percent is formed in
// 256-bit arithmetic so it cannot wrap before the division by 100.
func SplitRoyalty(price uint64, percent uint8) (royalty, sellerAmount uint64, err error) {
	if percent > 100 {
		return 0, 0, ErrInvalidRoyalty
	}
	product := new(uint256.Int).Mul(uint256.NewInt(price), uint256.NewInt(uint64(percent)))
	product.Div(product, uint256.NewInt(100))
	if !product.IsUint64() {
		return 0, 0, ErrArithmeticOverflow
	}
	royalty = product.Uint64()
	if royalty > price {
		return 0, 0, ErrArithmeticUnderflow
	}
	return royalty, price - royalty, nil
}

func checkedAdd(a, b uint64) (uint64, error) {
	sum := a + b
	if sum < a {
		return 0, ErrArithmeticOverflow
	}
	return sum, nil
}

func checkedSub(a, b uint64) (uint64, error) {
	if b > a {
		return 0, ErrArithmeticUnderflow
	}
	return a - b, nil
}
