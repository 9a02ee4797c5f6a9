package dto

// Response status values
const (
	StatusError         = "ERROR"
	StatusEligible      = "ELIGIBLE"
	StatusNotEligible   = "NOT_ELIGIBLE"
	StatusVerified      = "VERIFIED"
	StatusOtpSent       = "OTP_SENT"
	StatusAuthenticated = "AUTHENTICATED"
)

// Reasons produced outside the service layer
const (
	ReasonInvalidRequest = "INVALID_REQUEST"
	ReasonUnauthorized   = "UNAUTHORIZED"
	ReasonForbidden      = "FORBIDDEN"
	ReasonRateLimited    = "RATE_LIMITED"
	ReasonInternal       = "INTERNAL_ERROR"
)

// ErrorResponse body of every non-2xx response
type ErrorResponse struct {
	Status string `json:"status"`
	Reason string `json:"reason"`
	Error  string `json:"error,omitempty"`
}

// NewError builds an ErrorResponse
func NewError(reason, message string) ErrorResponse {
	return ErrorResponse{Status: StatusError, Reason: reason, Error: message}
}

// HealthResponse liveness check
type HealthResponse struct {
	Status   string `json:"status"`
	Database string `json:"database"`
}

// VersionResponse build info
type VersionResponse struct {
	Version  string `json:"version"`
	DemoMode bool   `json:"demo_mode"`
	Chain    string `json:"chain"`
}
