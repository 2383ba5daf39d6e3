package resilience

import (
	"context"
	"errors"
	"strings"

	"github.com/vietddude/txpilot/internal/core/domain"
)

// Keyword tables for message-substring classification. Matching is
// case-insensitive containment, first table that hits wins.
var (
	userRejectedPatterns = []string{
		"user rejected",
		"user denied",
		"user declined",
		"rejected by user",
		"4001", // EIP-1193 userRejectedRequest
	}

	insufficientPatterns = []string{
		"insufficient funds",
		"insufficient balance",
		"insufficient gas",
		"exceeds balance",
	}

	validationPatterns = []string{
		"nonce too low",
		"gas required exceeds",
		"invalid params",
		"invalid request",
		"invalid argument",
		"malformed",
		"-32700", // parse error
		"-32600", // invalid request
		"-32601", // method not found
		"-32602", // invalid params
	}

	revertedPatterns = []string{
		"execution reverted",
		"reverted",
	}

	networkPatterns = []string{
		"timeout",
		"timed out",
		"deadline exceeded",
		"connection reset",
		"connection refused",
		"econnreset",
		"network error",
		"broken pipe",
		"no such host",
		"unexpected eof",
	}

	serverPatterns = []string{
		"429",
		"too many requests",
		"rate limit",
		"500",
		"502",
		"503",
		"internal server error",
		"bad gateway",
		"service unavailable",
		"temporarily unavailable",
		"server busy",
	}
)

// Classify maps a raw failure into the shared taxonomy. It is pure: the
// same error always classifies the same way, and already-classified errors
// pass through untouched.
//
// Rule order matters: an explicit user rejection wins over everything,
// permanent failures win over transient ones, and anything unrecognized is
// treated as permanent so non-idempotent operations are never retried
// blindly.
func Classify(err error) *domain.ClassifiedError {
	if err == nil {
		return nil
	}

	var ce *domain.ClassifiedError
	if errors.As(err, &ce) {
		return ce
	}

	// Caller cancellation is never retryable. Deadline errors are left to
	// the keyword tables: a per-request timeout is an ordinary transient
	// failure, and the executor checks its own context separately.
	if errors.Is(err, context.Canceled) {
		return domain.NewClassifiedError(domain.CategoryCancelled, false, err)
	}

	// A rejected breaker check means the collaborator is known-bad; surface
	// it as a server-side failure but do not burn retries on it.
	if errors.Is(err, ErrCircuitOpen) {
		return domain.NewClassifiedError(domain.CategoryServerTransient, false, err)
	}

	msg := strings.ToLower(err.Error())

	switch {
	case matchAny(msg, userRejectedPatterns):
		return domain.NewClassifiedError(domain.CategoryUserRejected, false, err)
	case matchAny(msg, insufficientPatterns):
		return domain.NewClassifiedError(domain.CategoryInsufficientResource, false, err)
	case matchAny(msg, validationPatterns):
		return domain.NewClassifiedError(domain.CategoryValidationFailure, false, err)
	case matchAny(msg, revertedPatterns):
		return domain.NewClassifiedError(domain.CategoryReverted, false, err)
	case matchAny(msg, networkPatterns):
		return domain.NewClassifiedError(domain.CategoryNetworkTransient, true, err)
	case matchAny(msg, serverPatterns):
		return domain.NewClassifiedError(domain.CategoryServerTransient, true, err)
	}

	return domain.NewClassifiedError(domain.CategoryUnknown, false, err)
}

func matchAny(msg string, patterns []string) bool {
	for _, p := range patterns {
		if strings.Contains(msg, p) {
			return true
		}
	}
	return false
}
