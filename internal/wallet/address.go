// Package wallet validates user-supplied EVM wallet addresses.
package wallet

import (
	"fmt"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"

	apperrors "github.com/defiguard/internal/errors"
)

// addressLength is "0x" plus 40 hex characters
const addressLength = 2 + 2*common.AddressLength

var addressPattern = regexp.MustCompile(`^0x[0-9a-fA-F]{40}$`)

// burnAddresses are compared lower-cased
var burnAddresses = map[string]struct{}{
	"0x000000000000000000000000000000000000dead": {},
	"0xdead000000000000000042069420694206942069": {},
	"0x0000000000000000000000000000000000000001": {},
}

// Address is a validated 20-byte wallet address
type Address struct {
	value common.Address
}

// Hex returns the EIP-55 checksum form
func (a Address) Hex() string { return a.value.Hex() }

func (a Address) String() string { return a.value.Hex() }

// Bytes returns the raw 20-byte value
func (a Address) Bytes() common.Address { return a.value }

// FormatError is returned for strings that are not 0x followed by 40 hex characters
type FormatError struct {
	Input  string
	Reason string
}

func (e *FormatError) Error() string {
	return fmt.Sprintf("invalid wallet address %q: %s", e.Input, e.Reason)
}

func (e *FormatError) Category() apperrors.ErrorCategory { return apperrors.CategoryValidation }

// ZeroAddressError is returned for 0x000...000
type ZeroAddressError struct{}

func (e *ZeroAddressError) Error() string {
	return "the zero address cannot hold a portfolio"
}

func (e *ZeroAddressError) Category() apperrors.ErrorCategory { return apperrors.CategoryValidation }

// BurnAddressError is returned for well-known burn addresses
type BurnAddressError struct {
	Address string
}

func (e *BurnAddressError) Error() string {
	return fmt.Sprintf("%s is a known burn address", e.Address)
}

func (e *BurnAddressError) Category() apperrors.ErrorCategory { return apperrors.CategoryValidation }

// Validate parses raw into an Address.
// Leading and trailing whitespace is ignored; hex digits may be in any case.
func Validate(raw string) (Address, error) {
	s := strings.TrimSpace(raw)

	if len(s) != addressLength {
		return Address{}, &FormatError{
			Input:  s,
			Reason: fmt.Sprintf("expected %d characters (0x followed by 40 hex digits), got %d", addressLength, len(s)),
		}
	}
	if !addressPattern.MatchString(s) {
		reason := "must contain only hexadecimal digits after 0x"
		if !strings.HasPrefix(s, "0x") {
			reason = "must start with 0x"
		}
		return Address{}, &FormatError{Input: s, Reason: reason}
	}

	addr := common.HexToAddress(s)
	if addr == (common.Address{}) {
		return Address{}, &ZeroAddressError{}
	}
	if _, burned := burnAddresses[strings.ToLower(s)]; burned {
		return Address{}, &BurnAddressError{Address: addr.Hex()}
	}
	return Address{value: addr}, nil
}

// Checksum returns the EIP-55 form of a raw address, validating it first
func Checksum(raw string) (string, error) {
	a, err := Validate(raw)
	if err != nil {
		return "", err
	}
	return a.Hex(), nil
}

// Mask shortens a checksum address for display: first 10 and last 8 characters
func Mask(addr string) string {
	if len(addr) <= 18 {
		return addr
	}
	return addr[:10] + "..." + addr[len(addr)-8:]
}
