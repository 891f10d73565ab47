package api

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/dgallion1/docweave/internal/errs"
)

func writeJSON(w http.ResponseWriter, code int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

func jsonError(w http.ResponseWriter, msg string, code int) {
	writeJSON(w, code, map[string]string{"error": msg})
}

// uploadError reports a failure to read request sources.
func uploadError(w http.ResponseWriter, err error) {
	var tl errTooLarge
	var mbe *http.MaxBytesError
	switch {
	case errors.As(err, &tl), errors.As(err, &mbe):
		jsonError(w, err.Error(), http.StatusRequestEntityTooLarge)
	default:
		jsonError(w, err.Error(), http.StatusBadRequest)
	}
}

// statusFor maps a conversion error kind to an HTTP status.
func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.KindUnsupportedFormat:
		return http.StatusUnsupportedMediaType
	case errs.KindFormatMismatch, errs.KindCorruptInput, errs.KindEmptyDocument:
		return http.StatusUnprocessableEntity
	case errs.KindAccessDenied:
		return http.StatusForbidden
	case errs.KindInvalidConfig:
		return http.StatusBadRequest
	case errs.KindCancelled:
		return http.StatusServiceUnavailable
	case errs.KindEnrichmentTimeout:
		return http.StatusGatewayTimeout
	case errs.KindEnrichmentBackendError:
		return http.StatusBadGateway
	}
	return http.StatusInternalServerError
}

func formInt(v string) int {
	n, err := strconv.Atoi(v)
	if err != nil {
		return 0
	}
	return n
}

func formBool(v string) (bool, bool) {
	b, err := strconv.ParseBool(v)
	if err != nil {
		return false, false
	}
	return b, true
}
