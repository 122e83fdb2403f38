package types

import "errors"

// Admission errors. The wire code for each is returned by AdmissionCode.
var (
	ErrUnauthenticated = errors.New("unauthenticated")
	ErrRoleMismatch    = errors.New("role mismatch")
	ErrClassNotFound   = errors.New("class not found")
)

// Classroom state errors
var (
	ErrInvalidMode       = errors.New("invalid classroom mode")
	ErrInvalidTransition = errors.New("invalid timer transition")
	ErrTimerNotFound     = errors.New("timer not found")
	ErrTimerExists       = errors.New("timer already exists")
	ErrInvalidTimerOp    = errors.New("invalid timer operation")
	ErrInvalidTimer      = errors.New("invalid timer configuration")
)

// Routing errors
var (
	ErrAuthorityViolation = errors.New("control kind issued by non-teacher")
	ErrMalformedEnvelope  = errors.New("malformed envelope")
	ErrUnknownKind        = errors.New("unknown envelope kind")
	ErrInvalidPayload     = errors.New("invalid payload")
	ErrDeliveryFailure    = errors.New("delivery failure")
)

// Wire codes carried in connection_status error payloads.
const (
	CodeUnauthenticated   = "unauthenticated"
	CodeRoleMismatch      = "role_mismatch"
	CodeClassNotFound     = "class_not_found"
	CodeMalformedEnvelope = "malformed_envelope"
	CodeUnknownKind       = "unknown_kind"
	CodeRateLimited       = "rate_limited"
	CodeInternal          = "internal_error"
)

// AdmissionCode maps an admission failure to its wire code.
func AdmissionCode(err error) string {
	switch {
	case errors.Is(err, ErrUnauthenticated):
		return CodeUnauthenticated
	case errors.Is(err, ErrRoleMismatch):
		return CodeRoleMismatch
	case errors.Is(err, ErrClassNotFound):
		return CodeClassNotFound
	default:
		return CodeInternal
	}
}

// ErrorCode maps a failed teacher operation to the string sent back to its issuer.
func ErrorCode(err error) string {
	switch {
	case errors.Is(err, ErrInvalidTransition):
		return "invalid_transition"
	case errors.Is(err, ErrTimerNotFound):
		return "timer_not_found"
	case errors.Is(err, ErrTimerExists):
		return "timer_exists"
	case errors.Is(err, ErrInvalidTimerOp):
		return "invalid_timer_op"
	case errors.Is(err, ErrInvalidTimer):
		return "invalid_timer"
	case errors.Is(err, ErrInvalidMode):
		return "invalid_mode"
	case errors.Is(err, ErrInvalidPayload):
		return "invalid_payload"
	case errors.Is(err, ErrClassNotFound):
		return CodeClassNotFound
	default:
		return CodeInternal
	}
}
