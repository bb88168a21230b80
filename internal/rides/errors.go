package rides

import "fmt"

// ErrorCode classifies why a ride operation was refused.
type ErrorCode string

const (
	CodeValidation    ErrorCode = "validation"
	CodeAuthorization ErrorCode = "authorization"
	CodeStateConflict ErrorCode = "state_conflict"
	CodeNotFound      ErrorCode = "not_found"
)

// ActionError is the local failure for ride operations. It never crosses the
// transport boundary as an error; the router translates it into a rejection
// event addressed only to the caller.
type ActionError struct {
	Code   ErrorCode
	RideID string
	Reason string
}

func (e *ActionError) Error() string {
	return fmt.Sprintf("ride %s: %s (%s)", e.RideID, e.Reason, e.Code)
}

func errNotFound(rideID string) *ActionError {
	return &ActionError{Code: CodeNotFound, RideID: rideID, Reason: "unknown ride"}
}

func errConflict(rideID, reason string) *ActionError {
	return &ActionError{Code: CodeStateConflict, RideID: rideID, Reason: reason}
}

func errUnauthorized(rideID, reason string) *ActionError {
	return &ActionError{Code: CodeAuthorization, RideID: rideID, Reason: reason}
}
