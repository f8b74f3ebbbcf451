package ports

import (
	"context"
	"encoding/json"
	"errors"
	"net/http"

	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/logging"
)

type errorResponse struct {
	Success bool   `json:"success"`
	Cause   string `json:"cause"`
}

func writeErrorResponse(ctx context.Context, w http.ResponseWriter, responseError error) int {
	w.Header().Set("Content-Type", "application/json")

	// Unknown error: default to 500
	statusCode := http.StatusInternalServerError
	cause := "Internal server error (depot)"

	switch {
	case errors.Is(responseError, assets.ErrNotFound):
		statusCode = http.StatusNotFound
		cause = "Asset not found"
	case errors.Is(responseError, assets.ErrTypeMismatch):
		statusCode = http.StatusUnsupportedMediaType
		cause = "Asset type mismatch"
	case errors.Is(responseError, assets.ErrDecode):
		statusCode = http.StatusUnprocessableEntity
		cause = "Asset failed to decode"
	case errors.Is(responseError, assets.ErrCancelled):
		statusCode = http.StatusServiceUnavailable
		cause = "Asset load cancelled"
	case errors.Is(responseError, assets.ErrMisuse):
		statusCode = http.StatusBadRequest
		cause = "Invalid cache operation"
	}

	errorBytes, err := json.Marshal(errorResponse{Success: false, Cause: cause})
	if err != nil {
		logging.FromContext(ctx).Error("Error marshalling error response", "error", err.Error())
		w.WriteHeader(http.StatusInternalServerError)
		w.Write([]byte(`{"success":false,"cause":"Internal server error (depot)"}`))
		return http.StatusInternalServerError
	}

	w.WriteHeader(statusCode)
	w.Write(errorBytes)
	return statusCode
}
