package api

import (
	"errors"

	"github.com/kosumphisai/koshare/backend/internal/auth"
	"github.com/kosumphisai/koshare/backend/internal/checkin"
)

// errorResult maps a service error to its envelope. Unrecognized errors
// become INTERNAL_ERROR without their text.
func errorResult(err error) Result {
	var checkInValidation *checkin.ValidationError
	var authValidation *auth.ValidationError

	switch {
	case errors.As(err, &checkInValidation):
		return Err(CodeValidationError, checkInValidation.Error())
	case errors.As(err, &authValidation):
		return Err(CodeValidationError, authValidation.Error())
	case errors.Is(err, auth.ErrRateLimited):
		return Err(CodeRateLimited, "Too many failed attempts, please try again later")
	case errors.Is(err, auth.ErrNoCredential):
		return Err(CodeNoPin, "PIN has not been set up")
	case errors.Is(err, auth.ErrWrongCredential):
		return Err(CodeWrongPin, "Incorrect PIN")
	case errors.Is(err, auth.ErrInvalidToken):
		return Err(CodeAuthRequired, "Session expired or invalid, please log in again")
	case errors.Is(err, auth.ErrForbidden):
		return Err(CodeForbidden, "Not allowed")
	case errors.Is(err, checkin.ErrNotFound):
		return Err(CodeNotFound, "Check-in not found")
	default:
		return Err(CodeInternalError, "Internal server error")
	}
}
