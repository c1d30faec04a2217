package apierror

import (
	"encoding/json"
	"net/http"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestErrorStatusCodes(t *testing.T) {
	tests := []struct {
		name   string
		err    *Error
		status int
		code   string
	}{
		{"bad request", BadRequest("nope"), http.StatusBadRequest, "BAD_REQUEST"},
		{"validation", ValidationError("nope"), http.StatusBadRequest, "VALIDATION_ERROR"},
		{"unauthorized", Unauthorized(""), http.StatusUnauthorized, "UNAUTHORIZED"},
		{"not found", NotFound(""), http.StatusNotFound, "NOT_FOUND"},
		{"insufficient stock", InsufficientStock("short"), http.StatusConflict, "INSUFFICIENT_STOCK"},
		{"reservation expired", ReservationExpired("lapsed"), http.StatusConflict, "RESERVATION_EXPIRED"},
		{"invalid adjustment", InvalidAdjustment("negative"), http.StatusUnprocessableEntity, "INVALID_ADJUSTMENT"},
		{"busy", Busy(""), http.StatusServiceUnavailable, "BUSY"},
		{"internal", InternalError(""), http.StatusInternalServerError, "INTERNAL_ERROR"},
		{"unavailable", ServiceUnavailable(""), http.StatusServiceUnavailable, "SERVICE_UNAVAILABLE"},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			assert.Equal(t, tt.status, tt.err.StatusCode)
			assert.Equal(t, tt.code, tt.err.Code)
			assert.NotEmpty(t, tt.err.Error())
		})
	}
}

func TestToJSONIncludesMeta(t *testing.T) {
	apiErr := InsufficientStock("short on stock").WithMeta(map[string]interface{}{
		"product_id": int64(7),
		"available":  int64(1),
	})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(apiErr.ToJSON(), &decoded))

	assert.Equal(t, false, decoded["success"])
	errObj := decoded["error"].(map[string]interface{})
	assert.Equal(t, "INSUFFICIENT_STOCK", errObj["code"])
	meta := errObj["meta"].(map[string]interface{})
	assert.Equal(t, float64(7), meta["product_id"])
}

func TestToJSONIncludesDetails(t *testing.T) {
	apiErr := ValidationError("invalid input",
		FieldError{Field: "quantity", Message: "must be at least 1"})

	var decoded map[string]interface{}
	require.NoError(t, json.Unmarshal(apiErr.ToJSON(), &decoded))

	details := decoded["error"].(map[string]interface{})["details"].([]interface{})
	require.Len(t, details, 1)
	assert.Equal(t, "quantity", details[0].(map[string]interface{})["field"])
}
