// Package validate checks transfer inputs before anything goes on the wire.
package validate

import (
	"fmt"
	"math"
	"regexp"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"github.com/punchamoorthee/bankclient/internal/domain"
)

var accountIDPattern = regexp.MustCompile(`^ACC\d{4}$`)

const (
	validAccountMin   = 1000
	validAccountMax   = 1099
	invalidAccountMin = 2000
	invalidAccountMax = 2049

	// LargeTransferThreshold is the amount above which a transfer is flagged.
	LargeTransferThreshold = 1_000_000.0
)

// ValidationError is returned for malformed input. It is never retried.
type ValidationError struct {
	Msg string
}

func (e *ValidationError) Error() string { return e.Msg }

// SanitizeAccountID trims surrounding whitespace and upper-cases the id.
func SanitizeAccountID(id string) string {
	return strings.ToUpper(strings.TrimSpace(id))
}

// ValidateAccountID reports whether id is well formed. A well-formed id in a
// range the server is known to reject comes back with a warning.
func ValidateAccountID(id string) (bool, string) {
	if !accountIDPattern.MatchString(id) {
		return false, fmt.Sprintf("invalid account format: %q, must be ACC followed by 4 digits (e.g. ACC1000)", id)
	}

	n, _ := strconv.Atoi(id[3:])
	switch {
	case n >= invalidAccountMin && n <= invalidAccountMax:
		return true, fmt.Sprintf("%s is in the invalid account range (ACC%d-ACC%d), transfer will likely fail", id, invalidAccountMin, invalidAccountMax)
	case n >= validAccountMin && n <= validAccountMax:
		return true, ""
	default:
		return true, fmt.Sprintf("%s is outside the known valid range (ACC%d-ACC%d), transfer may fail", id, validAccountMin, validAccountMax)
	}
}

// ValidateAmount rejects non-positive amounts and warns on large ones.
func ValidateAmount(amount float64) (bool, string) {
	if math.IsNaN(amount) || math.IsInf(amount, 0) {
		return false, fmt.Sprintf("amount must be a finite number, got %v", amount)
	}
	if amount <= 0 {
		return false, fmt.Sprintf("amount must be greater than 0, got %v", amount)
	}
	if amount > LargeTransferThreshold {
		return true, fmt.Sprintf("large transfer amount %.2f", amount)
	}
	return true, ""
}

// ValidateTransferRequest applies every check to a transfer. In strict mode
// warnings are fatal, otherwise they are logged on log (which may be nil).
func ValidateTransferRequest(from, to string, amount float64, strict bool, log *zap.Logger) error {
	if log == nil {
		log = zap.NewNop()
	}
	from = SanitizeAccountID(from)
	to = SanitizeAccountID(to)

	var warnings []string
	for _, id := range []string{from, to} {
		ok, msg := ValidateAccountID(id)
		if !ok {
			return &ValidationError{Msg: msg}
		}
		if msg != "" {
			warnings = append(warnings, msg)
		}
	}

	if from == to {
		return &ValidationError{Msg: "source and destination accounts cannot be the same"}
	}

	ok, msg := ValidateAmount(amount)
	if !ok {
		return &ValidationError{Msg: msg}
	}
	if msg != "" {
		warnings = append(warnings, msg)
	}

	if len(warnings) > 0 && strict {
		return &ValidationError{Msg: warnings[0]}
	}
	for _, w := range warnings {
		log.Warn("transfer validation warning", zap.String("warning", w))
	}

	log.Debug("transfer request validated",
		zap.String("from", from),
		zap.String("to", to),
		zap.Float64("amount", amount),
	)
	return nil
}

// NewTransferRequest sanitizes and validates its inputs and returns the
// request ready to send.
func NewTransferRequest(from, to string, amount float64, strict bool, log *zap.Logger) (domain.TransferRequest, error) {
	if err := ValidateTransferRequest(from, to, amount, strict, log); err != nil {
		return domain.TransferRequest{}, err
	}
	return domain.TransferRequest{
		FromAccount: SanitizeAccountID(from),
		ToAccount:   SanitizeAccountID(to),
		Amount:      amount,
	}, nil
}
