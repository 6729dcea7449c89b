package httpapi

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"

	"github.com/example/ride-passenger/internal/errs"
)

const maxBodySize = 1 << 20

type errorResponse struct {
	Error  string            `json:"error"`
	Kind   errs.Kind         `json:"kind"`
	Fields []errs.FieldError `json:"fields,omitempty"`
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}

func statusFor(kind errs.Kind) int {
	switch kind {
	case errs.Auth:
		return http.StatusUnauthorized
	case errs.Validation:
		return http.StatusUnprocessableEntity
	case errs.CommandRejected:
		return http.StatusConflict
	case errs.Quote:
		return http.StatusBadGateway
	case errs.Connection:
		return http.StatusServiceUnavailable
	default:
		return http.StatusInternalServerError
	}
}

// writeError renders err by kind. Only the user-facing message leaves the
// agent; details go to the log.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := errs.KindOf(err)
	resp := errorResponse{Error: errs.UserMessage(err), Kind: kind}
	var e *errs.Error
	if errors.As(err, &e) {
		resp.Fields = e.Fields
	}
	status := statusFor(kind)
	if status >= 500 {
		s.logger.Error("request failed", "path", r.URL.Path, "kind", kind, "error", err, "request_id", requestIDFromContext(r.Context()))
	} else {
		s.logger.Debug("request rejected", "path", r.URL.Path, "kind", kind, "error", err)
	}
	writeJSON(w, status, resp)
}

// readJSON decodes a single JSON value with unknown fields rejected.
func readJSON(w http.ResponseWriter, r *http.Request, dst any) error {
	r.Body = http.MaxBytesReader(w, r.Body, maxBodySize)
	dec := json.NewDecoder(r.Body)
	dec.DisallowUnknownFields()
	if err := dec.Decode(dst); err != nil {
		var syntaxErr *json.SyntaxError
		var typeErr *json.UnmarshalTypeError
		var maxErr *http.MaxBytesError
		msg := "malformed JSON"
		switch {
		case errors.As(err, &syntaxErr), errors.Is(err, io.ErrUnexpectedEOF):
		case errors.As(err, &typeErr):
			msg = "invalid JSON type"
		case errors.As(err, &maxErr):
			msg = "request body too large"
		case errors.Is(err, io.EOF):
			msg = "request body is empty"
		default:
			msg = err.Error()
		}
		return errs.Msg(errs.Validation, "http.decode", msg)
	}
	if dec.More() {
		return errs.Msg(errs.Validation, "http.decode", "body must contain only a single JSON value")
	}
	return nil
}

func validationMsg(msg string) error { return errs.Msg(errs.Validation, "http", msg) }
