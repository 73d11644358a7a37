// Package felt implements the felt252 field element encoding used by Starknet
// calldata: canonical 0x-prefixed lowercase hex, values strictly below the prime.
package felt

import (
	"fmt"
	"math/big"
	"strings"

	"github.com/holiman/uint256"

	"github.com/samirrijal/geoproof/internal/core/domain"
)

// Prime is 2^251 + 17*2^192 + 1.
var Prime = func() *uint256.Int {
	p := new(uint256.Int).Lsh(uint256.NewInt(1), 251)
	t := new(uint256.Int).Lsh(uint256.NewInt(17), 192)
	p.Add(p, t)
	return p.AddUint64(p, 1)
}()

var halfPrime = new(uint256.Int).Rsh(Prime, 1)

// Zero is the canonical zero felt.
const Zero = "0x0"

// FromUint64 encodes a non-negative integer.
func FromUint64(v uint64) string {
	return uint256.NewInt(v).Hex()
}

// FromInt64 encodes a signed integer; negatives become P - |v|.
func FromInt64(v int64) string {
	if v >= 0 {
		return FromUint64(uint64(v))
	}
	abs := uint256.NewInt(uint64(-(v + 1)) + 1)
	return new(uint256.Int).Sub(Prime, abs).Hex()
}

// ToInt64 decodes a felt as a signed integer, treating values above P/2 as negative.
func ToInt64(s string) (int64, error) {
	v, err := Parse(s)
	if err != nil {
		return 0, err
	}
	if v.Gt(halfPrime) {
		abs := new(uint256.Int).Sub(Prime, v)
		if !abs.IsUint64() || abs.Uint64() > 1<<63 {
			return 0, fmt.Errorf("%w: %s", domain.ErrFeltOverflow, s)
		}
		return -int64(abs.Uint64() - 1) - 1, nil
	}
	if !v.IsUint64() || v.Uint64() > 1<<63-1 {
		return 0, fmt.Errorf("%w: %s", domain.ErrFeltOverflow, s)
	}
	return int64(v.Uint64()), nil
}

// Parse reads a hex ("0x...") or decimal felt and checks it is below the prime.
func Parse(s string) (*uint256.Int, error) {
	s = strings.TrimSpace(s)
	if s == "" {
		return nil, fmt.Errorf("%w: empty value", domain.ErrUnsupportedProofShape)
	}
	b, ok := parseBig(s)
	if !ok {
		return nil, fmt.Errorf("%w: %q is not an integer", domain.ErrUnsupportedProofShape, s)
	}
	return fromBig(b, s)
}

// FromBig encodes a non-negative big integer below the prime.
func FromBig(b *big.Int) (string, error) {
	v, err := fromBig(b, b.String())
	if err != nil {
		return "", err
	}
	return v.Hex(), nil
}

// Canonical re-encodes s as lowercase 0x hex with no leading zeros.
func Canonical(s string) (string, error) {
	v, err := Parse(s)
	if err != nil {
		return "", err
	}
	return v.Hex(), nil
}

func fromBig(b *big.Int, orig string) (*uint256.Int, error) {
	if b.Sign() < 0 {
		return nil, fmt.Errorf("%w: negative value %s", domain.ErrUnsupportedProofShape, orig)
	}
	v, overflow := uint256.FromBig(b)
	if overflow || !v.Lt(Prime) {
		return nil, fmt.Errorf("%w: %s", domain.ErrFeltOverflow, orig)
	}
	return v, nil
}

func parseBig(s string) (*big.Int, bool) {
	if strings.HasPrefix(s, "0x") || strings.HasPrefix(s, "0X") {
		if len(s) == 2 {
			return nil, false
		}
		return new(big.Int).SetString(s[2:], 16)
	}
	return new(big.Int).SetString(s, 10)
}
