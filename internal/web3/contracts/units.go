package contracts

import (
	"math/big"
	"strings"

	"github.com/shopspring/decimal"

	xerrors "SageChain/internal/errors"
)

const (
	// NativeDecimals is the number of fractional digits of the chain's
	// native currency (wei per ether).
	NativeDecimals int32 = 18
	// TokenDecimals is the fixed-point precision assumed for every token
	// amount handled by the swap contract.
	TokenDecimals int32 = 18

	// BalanceUnavailable is shown instead of a balance when it could not
	// be fetched.
	BalanceUnavailable = "Unable to fetch"

	// maxAmountLength bounds the input before parsing: 78 integer digits of
	// a uint256 plus a point and the fractional digits of the widest unit.
	maxAmountLength = 78 + 1 + 18
	// maxUnitBits is the width of a uint256 ABI argument.
	maxUnitBits = 256
)

// ParseUnits converts a human readable decimal string into the smallest
// integer unit with the given precision. Amounts must be strictly positive
// and must not carry more fractional digits than the unit supports. Exponent
// notation is rejected and the result must fit in a uint256.
func ParseUnits(amount string, decimals int32) (*big.Int, error) {
	raw := strings.TrimSpace(amount)
	if raw == "" {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "金额不能为空")
	}
	if len(raw) > maxAmountLength {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "金额超出支持范围",
			xerrors.WithMetadata("amount", raw[:maxAmountLength]+"..."))
	}
	if strings.ContainsAny(raw, "eE") {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "金额不支持科学计数法",
			xerrors.WithMetadata("amount", raw))
	}
	value, err := decimal.NewFromString(raw)
	if err != nil {
		return nil, xerrors.Wrap(xerrors.CodeInvalidAmount, err, "金额格式不正确",
			xerrors.WithMetadata("amount", raw))
	}
	if value.Sign() <= 0 {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "金额必须大于零",
			xerrors.WithMetadata("amount", raw))
	}
	scaled := value.Shift(decimals)
	if !scaled.Equal(scaled.Truncate(0)) {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "金额精度超出支持范围",
			xerrors.WithMetadata("amount", raw))
	}
	units := scaled.BigInt()
	if units.BitLen() > maxUnitBits {
		return nil, xerrors.New(xerrors.CodeInvalidAmount, "金额超出支持范围",
			xerrors.WithMetadata("amount", raw))
	}
	return units, nil
}

// FormatUnits renders an integer amount in the smallest unit as a decimal
// string with exactly `places` fractional digits.
func FormatUnits(value *big.Int, decimals, places int32) string {
	if value == nil {
		value = new(big.Int)
	}
	return decimal.NewFromBigInt(value, -decimals).StringFixed(places)
}

// FormatEther renders a wei amount as "<value> ETH" with four fractional
// digits, e.g. 1500000000000000000 -> "1.5000 ETH".
func FormatEther(wei *big.Int) string {
	return FormatUnits(wei, NativeDecimals, 4) + " ETH"
}

// FormatToken renders a token amount with its full 18-digit precision
// trimmed of trailing zeros, the way ethers' formatEther does.
func FormatToken(value *big.Int) string {
	if value == nil {
		value = new(big.Int)
	}
	formatted := decimal.NewFromBigInt(value, -TokenDecimals).String()
	if !strings.Contains(formatted, ".") {
		formatted += ".0"
	}
	return formatted
}
