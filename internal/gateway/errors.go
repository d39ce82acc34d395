// Error taxonomy and the JSON error boundary.
//
// DESIGN: Every domain failure travels as a single RequestError carrying an
// HTTP status and message. Handlers raise it; writeRequestError serializes
// it uniformly as {"message": "Oops! <msg>"}. Anything that is not a
// RequestError falls into the permissive 400 catch-all with the underlying
// message interpolated, acceptable only behind a trusted perimeter.
package gateway

import (
	"encoding/json"
	"errors"
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"github.com/auditgate/llm-gateway/internal/store"
	"github.com/auditgate/llm-gateway/internal/upstream"
)

// RequestError is the single structured error crossing the HTTP boundary.
type RequestError struct {
	Status int
	Msg    string
}

func (e *RequestError) Error() string {
	return e.Msg
}

func errInvalid(format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusBadRequest, Msg: fmt.Sprintf(format, args...)}
}

func errNotFound(format string, args ...any) *RequestError {
	return &RequestError{Status: http.StatusNotFound, Msg: fmt.Sprintf(format, args...)}
}

// mapError converts lower-layer failures into RequestErrors per the
// taxonomy: unreachable backend 500, allocator timeout 504, missing row
// 404, everything else the generic 400.
func mapError(err error) *RequestError {
	var reqErr *RequestError
	switch {
	case errors.As(err, &reqErr):
		return reqErr
	case errors.Is(err, upstream.ErrUnreachable):
		return &RequestError{
			Status: http.StatusInternalServerError,
			Msg:    fmt.Sprintf("Could not connect to the LLM API, error context: %v", err),
		}
	case errors.Is(err, store.ErrCheckTimeout):
		return &RequestError{
			Status: http.StatusGatewayTimeout,
			Msg:    "The operation timed out. Please try again later.",
		}
	case errors.Is(err, store.ErrNotFound):
		return errNotFound("Unable to find the given request, try polling again or contact dev team if you made the request greater than 15 minutes ago. Details: %v", err)
	default:
		return errInvalid("something went wrong: %v", err)
	}
}

func writeRequestError(w http.ResponseWriter, err error) {
	reqErr := mapError(err)
	if reqErr.Status >= http.StatusInternalServerError {
		log.Error().Int("status", reqErr.Status).Msg(reqErr.Msg)
	} else {
		log.Warn().Int("status", reqErr.Status).Msg(reqErr.Msg)
	}
	writeJSON(w, reqErr.Status, map[string]string{
		"message": "Oops! " + reqErr.Msg,
	})
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

// writeRawJSON writes an already-serialized JSON body verbatim.
func writeRawJSON(w http.ResponseWriter, status int, body []byte) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_, _ = w.Write(body)
}
