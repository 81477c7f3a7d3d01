package chain

import (
	"math/big"

	"github.com/shopspring/decimal"
)

// TokenDecimals USDC小数位数，链上金额为按10^6缩放的无符号整数
const TokenDecimals = 6

var tokenUnit = decimal.New(1, TokenDecimals)

// ToTokenUnits 将本地精确小数金额转换为链上整数金额
//
// 全程整数运算，超过6位小数或负数金额拒绝转换。
func ToTokenUnits(amount decimal.Decimal) (*big.Int, error) {
	if amount.IsNegative() {
		return nil, NewValidationError("金额不能为负数")
	}

	scaled := amount.Mul(tokenUnit)
	if !scaled.IsInteger() {
		return nil, NewValidationError("金额精度不能超过6位小数")
	}

	return scaled.BigInt(), nil
}

// FromTokenUnits 将链上整数金额转换为本地精确小数金额
func FromTokenUnits(units *big.Int) decimal.Decimal {
	if units == nil {
		return decimal.Zero
	}
	return decimal.NewFromBigInt(units, -TokenDecimals)
}
