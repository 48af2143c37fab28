package server

import (
	"encoding/json"
	"errors"
	"net/http"
	"strconv"

	"github.com/harun/korli/pkg/commandqueue"
	"github.com/harun/korli/pkg/errkind"
)

// retryAfterSeconds is advertised on 503 responses.
const retryAfterSeconds = 5

// statusFor maps an error kind onto an HTTP status. User-fixable kinds are
// 422, exhausted or failing dependencies are 503, and bad upstream output
// is 502.
func statusFor(err error) int {
	if errors.Is(err, commandqueue.ErrClosed) {
		return http.StatusServiceUnavailable
	}
	switch kind := errkind.KindOf(err); {
	case kind.UserFixable():
		return http.StatusUnprocessableEntity
	case kind == errkind.CapabilityUnavailable, kind == errkind.CapabilityTransient, kind == errkind.Persistence:
		return http.StatusServiceUnavailable
	case kind == errkind.CapabilityMalformedOutput, kind == errkind.CapabilityRejected:
		return http.StatusBadGateway
	default:
		return http.StatusInternalServerError
	}
}

func errorBody(err error) ErrorResponse {
	kind := errkind.KindOf(err)
	body := ErrorBody{
		Kind:      kind.String(),
		Message:   err.Error(),
		Retryable: kind.Retryable() || errors.Is(err, commandqueue.ErrClosed),
	}
	var kindErr *errkind.Error
	if errors.As(err, &kindErr) {
		body.Fields = kindErr.Fields
	}
	return ErrorResponse{Error: body}
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func writeError(w http.ResponseWriter, err error) {
	status := statusFor(err)
	if status == http.StatusServiceUnavailable {
		w.Header().Set("Retry-After", strconv.Itoa(retryAfterSeconds))
	}
	writeJSON(w, status, errorBody(err))
}
