// Package units converts between human amounts and token base units and
// holds the protocol enums the scenarios refer to by name.
package units

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/ethereum/go-ethereum/common"
)

const (
	// OneDayInSeconds is a day of simulated time.
	OneDayInSeconds = 86400

	EtherDecimals = 18
)

// AddressZero is the zero address.
var AddressZero = common.Address{}

// ParseUnits converts a decimal string such as "0.1" or "1000" to base
// units with the given number of decimals. Excess fractional digits are an
// error rather than silently truncated.
func ParseUnits(value string, decimals uint8) (*big.Int, error) {
	v := strings.TrimSpace(value)
	neg := strings.HasPrefix(v, "-")
	v = strings.TrimPrefix(v, "-")
	if v == "" {
		return nil, fmt.Errorf("invalid amount %q", value)
	}

	whole, frac, _ := strings.Cut(v, ".")
	if whole == "" {
		whole = "0"
	}
	frac = strings.TrimRight(frac, "0")
	if len(frac) > int(decimals) {
		return nil, fmt.Errorf("amount %q has more than %d decimals", value, decimals)
	}
	digits := whole + frac + strings.Repeat("0", int(decimals)-len(frac))

	n, ok := new(big.Int).SetString(digits, 10)
	if !ok {
		return nil, fmt.Errorf("invalid amount %q", value)
	}
	if neg {
		n.Neg(n)
	}
	return n, nil
}

// Eth parses an ether amount literal. It panics on malformed input and is
// meant for constants.
func Eth(value string) *big.Int {
	n, err := ParseUnits(value, EtherDecimals)
	if err != nil {
		panic(err)
	}
	return n
}

// EthInt returns n ether in wei.
func EthInt(n int64) *big.Int {
	return new(big.Int).Mul(big.NewInt(n), pow10(EtherDecimals))
}

// FormatUnits renders base units as a decimal string without trailing zeros.
func FormatUnits(amount *big.Int, decimals uint8) string {
	if amount == nil {
		return "0"
	}
	abs := new(big.Int).Abs(amount)
	q, r := new(big.Int).QuoRem(abs, pow10(decimals), new(big.Int))

	s := q.String()
	if r.Sign() != 0 {
		frac := fmt.Sprintf("%0*s", int(decimals), r.String())
		s += "." + strings.TrimRight(frac, "0")
	}
	if amount.Sign() < 0 {
		s = "-" + s
	}
	return s
}

// NormalizeDecimals rescales quantity from fromDecimals to toDecimals,
// truncating when scaling down.
func NormalizeDecimals(fromDecimals, toDecimals uint8, quantity *big.Int) *big.Int {
	switch {
	case fromDecimals == toDecimals:
		return new(big.Int).Set(quantity)
	case fromDecimals < toDecimals:
		return new(big.Int).Mul(quantity, pow10(toDecimals-fromDecimals))
	default:
		return new(big.Int).Quo(quantity, pow10(fromDecimals-toDecimals))
	}
}

// TokenAmount returns whole token units scaled to decimals.
func TokenAmount(whole int64, decimals uint8) *big.Int {
	return new(big.Int).Mul(big.NewInt(whole), pow10(decimals))
}

func pow10(n uint8) *big.Int {
	return new(big.Int).Exp(big.NewInt(10), big.NewInt(int64(n)), nil)
}
