package dErrors

import "net/http"

// ToHTTPStatus maps an error code to its HTTP status. Concurrency losers and
// state-machine violations surface as 409 so clients know to reread and
// retry; a broken chain surfaces as 503 because writes for the tenant are
// halted, not merely rejected.
func ToHTTPStatus(code Code) int {
	switch code {
	case CodeValidation, CodeBadRequest:
		return http.StatusBadRequest
	case CodeNotFound:
		return http.StatusNotFound
	case CodeUnauthorized:
		return http.StatusUnauthorized
	case CodeForbidden:
		return http.StatusForbidden
	case CodeConflict, CodeInvalidTransition, CodeBoothOccupied,
		CodeConcurrentWrite, CodeAlertClosed:
		return http.StatusConflict
	case CodeChainVerification:
		return http.StatusServiceUnavailable
	case CodeTimeout:
		return http.StatusGatewayTimeout
	default:
		return http.StatusInternalServerError
	}
}
