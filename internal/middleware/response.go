package middleware

import (
	"encoding/json"
	"errors"
	"net/http"

	domainerrors "appointment-booking-api/internal/errors"
)

// WriteJSON writes v with the given status.
func WriteJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if v != nil {
		_ = json.NewEncoder(w).Encode(v)
	}
}

// WriteError renders err as {"error","code","details"}. Errors that are not
// domain errors become a generic 500 so internals never leak.
func WriteError(w http.ResponseWriter, err error) {
	var de *domainerrors.Error
	if !errors.As(err, &de) {
		de = domainerrors.Internal(err)
	}
	WriteJSON(w, de.HTTPStatus(), de)
}
