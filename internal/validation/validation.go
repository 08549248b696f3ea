// Package validation provides input validation for addresses, transaction
// hashes, and API requests. Malformed input is rejected here, before rule
// evaluation, and never reaches the audit ledger.
package validation

import (
	"net/http"
	"regexp"
	"strings"

	"github.com/ethereum/go-ethereum/common"
	"github.com/gin-gonic/gin"
)

// MaxRequestSize is the maximum request body size (1MB)
const MaxRequestSize = 1 << 20

// ZeroAddress is the null/burn address.
const ZeroAddress = "0x0000000000000000000000000000000000000000"

var (
	// ethAddressRegex validates Ethereum addresses: 0x + exactly 40 hex chars
	ethAddressRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{40}$`)
	// txHashRegex validates transaction hashes: 0x + exactly 64 hex chars
	txHashRegex = regexp.MustCompile(`^0x[a-fA-F0-9]{64}$`)
	// hexRegex validates generic hex strings (call data, signatures)
	hexRegex = regexp.MustCompile(`^(0x)?[a-fA-F0-9]*$`)
)

// IsValidAddress checks if a string is a well-formed Ethereum address.
func IsValidAddress(addr string) bool {
	return ethAddressRegex.MatchString(addr)
}

// IsValidTxHash checks if a string is a well-formed transaction hash.
func IsValidTxHash(hash string) bool {
	return txHashRegex.MatchString(hash)
}

// IsValidHex checks if a string is valid hex (empty allowed, for call data).
func IsValidHex(s string) bool {
	return hexRegex.MatchString(s)
}

// IsZeroAddress reports whether addr is the null address.
func IsZeroAddress(addr string) bool {
	return strings.EqualFold(addr, ZeroAddress)
}

// NormalizeAddress lowercases an address and ensures the 0x prefix.
// Well-formed input round-trips through go-ethereum's common.Address so
// every downstream component sees one canonical form.
func NormalizeAddress(addr string) string {
	addr = strings.TrimSpace(addr)
	if !strings.HasPrefix(addr, "0x") && len(addr) == 40 {
		addr = "0x" + addr
	}
	if IsValidAddress(addr) {
		return strings.ToLower(common.HexToAddress(addr).Hex())
	}
	return strings.ToLower(addr)
}

// SanitizeString trims whitespace, strips null bytes, and limits length.
func SanitizeString(s string, maxLen int) string {
	s = strings.TrimSpace(s)
	if len(s) > maxLen {
		s = s[:maxLen]
	}
	return strings.ReplaceAll(s, "\x00", "")
}

// Error represents a single field validation failure.
type Error struct {
	Field   string `json:"field"`
	Message string `json:"message"`
}

// Errors is a collection of validation failures.
type Errors []Error

// Error implements the error interface.
func (e Errors) Error() string {
	if len(e) == 0 {
		return "validation failed"
	}
	return e[0].Field + ": " + e[0].Message
}

// Validate runs the given validators and collects all failures.
func Validate(validators ...func() *Error) Errors {
	var errs Errors
	for _, v := range validators {
		if err := v(); err != nil {
			errs = append(errs, *err)
		}
	}
	return errs
}

// Required checks that a field is non-empty.
func Required(field, value string) func() *Error {
	return func() *Error {
		if strings.TrimSpace(value) == "" {
			return &Error{Field: field, Message: "is required"}
		}
		return nil
	}
}

// ValidAddress checks that a field, if set, is a well-formed address.
func ValidAddress(field, value string) func() *Error {
	return func() *Error {
		if value == "" {
			return nil // Use Required for required fields
		}
		if !IsValidAddress(value) {
			return &Error{Field: field, Message: "must be a valid Ethereum address (0x + 40 hex chars)"}
		}
		return nil
	}
}

// ValidTxHash checks that a field, if set, is a well-formed transaction hash.
func ValidTxHash(field, value string) func() *Error {
	return func() *Error {
		if value == "" {
			return nil
		}
		if !IsValidTxHash(value) {
			return &Error{Field: field, Message: "must be a valid transaction hash (0x + 64 hex chars)"}
		}
		return nil
	}
}

// ValidHex checks that a field, if set, contains only hex characters.
func ValidHex(field, value string) func() *Error {
	return func() *Error {
		if value == "" {
			return nil
		}
		if !IsValidHex(value) {
			return &Error{Field: field, Message: "must be a hex string"}
		}
		return nil
	}
}

// RequestSizeMiddleware limits request body size.
func RequestSizeMiddleware(maxSize int64) gin.HandlerFunc {
	return func(c *gin.Context) {
		c.Request.Body = http.MaxBytesReader(c.Writer, c.Request.Body, maxSize)
		c.Next()
	}
}

// AddressParamMiddleware validates the :address URL parameter on routes that
// use it, rejecting malformed addresses before any handler runs.
func AddressParamMiddleware() gin.HandlerFunc {
	return func(c *gin.Context) {
		addr := c.Param("address")
		if addr != "" && !IsValidAddress(addr) {
			c.AbortWithStatusJSON(http.StatusBadRequest, gin.H{
				"error":   "invalid_address",
				"message": "address must be a valid Ethereum address (0x + 40 hex chars)",
			})
			return
		}
		c.Next()
	}
}
