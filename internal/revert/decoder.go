// Package revert decodes EVM revert data into a selector, a
// human-readable message, and structured parameters.
package revert

import (
	"encoding/hex"
	"fmt"
	"math/big"
	"strings"
)

// Well-known error selectors (keccak256("Error(string)")[:4] and
// keccak256("Panic(uint256)")[:4]).
const (
	selectorError = "0x08c379a0"
	selectorPanic = "0x4e487b71"
)

// panicCodes maps the Solidity builtin Panic(uint256) codes to their
// human-readable meaning.
var panicCodes = map[uint64]string{
	0x01: "Assertion failed",
	0x11: "Arithmetic overflow/underflow",
	0x12: "Division by zero",
	0x21: "Invalid enum value",
	0x31: "Pop on empty array",
	0x32: "Array index out of bounds",
	0x41: "Memory allocation failed",
	0x51: "Zero-initialized function pointer",
}

// Decoded is the result of decoding a revert-data blob.
type Decoded struct {
	Signature *string
	Message   *string
	Params    map[string]any
}

// Decode extracts the selector and, for the two standard Solidity
// error shapes, a decoded message and structured params. Unknown
// selectors get a generic "Custom error <selector>" message; empty or
// too-short input returns ("Unknown revert", nil selector, nil params),
// and a selector followed by non-hex data returns "Unknown revert"
// with that selector and nil params.
func Decode(errorData string) Decoded {
	sig := ExtractSelector(errorData)
	if sig == nil {
		msg := "Unknown revert"
		return Decoded{Message: &msg}
	}

	body, err := hexBody(errorData)
	if err != nil {
		msg := "Unknown revert"
		return Decoded{Signature: sig, Message: &msg}
	}

	switch *sig {
	case selectorError:
		return decodeErrorString(sig, body)
	case selectorPanic:
		return decodePanicUint256(sig, body)
	default:
		msg := fmt.Sprintf("Custom error %s", *sig)
		return Decoded{Signature: sig, Message: &msg}
	}
}

// ExtractSelector returns the lower-cased, 0x-prefixed 4-byte selector
// at the start of errorData, or nil if errorData is too short to
// carry one (fewer than 10 characters once 0x-prefixed: "0x" + 8 hex).
func ExtractSelector(errorData string) *string {
	d := errorData
	if !strings.HasPrefix(d, "0x") {
		d = "0x" + d
	}
	if len(d) < 10 {
		return nil
	}
	sig := strings.ToLower(d[:10])
	return &sig
}

// hexBody strips the 0x prefix and the 4-byte selector, returning the
// remaining ABI-encoded bytes.
func hexBody(errorData string) ([]byte, error) {
	d := errorData
	if !strings.HasPrefix(d, "0x") {
		d = "0x" + d
	}
	if len(d) < 10 {
		return nil, fmt.Errorf("revert: data too short")
	}
	return hex.DecodeString(d[10:])
}

// decodeErrorString ABI-decodes a dynamic `string` argument: a 32-byte
// offset, a 32-byte length, then the UTF-8 bytes padded to a multiple
// of 32.
func decodeErrorString(sig *string, body []byte) Decoded {
	fallback := "Error(string)"
	if len(body) < 64 {
		return Decoded{Signature: sig, Message: &fallback}
	}

	length := new(big.Int).SetBytes(body[32:64]).Uint64()
	start := uint64(64)
	if start+length > uint64(len(body)) {
		return Decoded{Signature: sig, Message: &fallback}
	}

	message := string(body[start : start+length])
	return Decoded{
		Signature: sig,
		Message:   &message,
		Params:    map[string]any{"message": message},
	}
}

// decodePanicUint256 ABI-decodes a single `uint256` argument (32 bytes,
// big-endian).
func decodePanicUint256(sig *string, body []byte) Decoded {
	fallback := "Panic(uint256)"
	if len(body) < 32 {
		return Decoded{Signature: sig, Message: &fallback}
	}

	code := new(big.Int).SetBytes(body[:32]).Uint64()
	message, ok := panicCodes[code]
	if !ok {
		message = fmt.Sprintf("Panic(%d)", code)
	}
	return Decoded{
		Signature: sig,
		Message:   &message,
		Params:    map[string]any{"code": code},
	}
}
