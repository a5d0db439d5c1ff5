package httpapi

import (
	"errors"
	"net/http"

	"github.com/roach88/trainflow/internal/domain"
)

type errorBody struct {
	Error errorDetail `json:"error"`
}

type errorDetail struct {
	Kind    domain.ErrorKind `json:"kind,omitempty"`
	Message string           `json:"message"`
	Detail  string           `json:"detail,omitempty"`
}

var statusByKind = map[domain.ErrorKind]int{
	domain.KindUnauthorized:       http.StatusForbidden,
	domain.KindInvalidTransition:  http.StatusConflict,
	domain.KindNotEligible:        http.StatusUnprocessableEntity,
	domain.KindAlreadyApplied:     http.StatusConflict,
	domain.KindAlreadyAssigned:    http.StatusConflict,
	domain.KindEditNotAllowed:     http.StatusConflict,
	domain.KindConflictBlocked:    http.StatusConflict,
	domain.KindNetworkUnavailable: http.StatusServiceUnavailable,
	domain.KindMaxRetriesExceeded: http.StatusGone,
	domain.KindNotFound:           http.StatusNotFound,
	domain.KindValidation:         http.StatusBadRequest,
}

// writeError renders err. Domain errors keep their kind and get a
// localized message; anything else is a 500 without internals.
func (s *Server) writeError(w http.ResponseWriter, r *http.Request, err error) {
	kind := domain.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		s.logger.Error("request failed", "path", r.URL.Path, "error", err)
		writeJSON(w, http.StatusInternalServerError, errorBody{Error: errorDetail{Message: "internal server error"}})
		return
	}

	detail := ""
	if e := asDomain(err); e != nil {
		detail = e.Message
	}
	writeJSON(w, status, errorBody{Error: errorDetail{
		Kind:    kind,
		Message: s.catalog.Message(kind, r.Header.Get("Accept-Language")),
		Detail:  detail,
	}})
}

// writeErrorWith renders err alongside a payload, for failures that still
// carry useful data such as a conflict report.
func (s *Server) writeErrorWith(w http.ResponseWriter, r *http.Request, err error, payload any) {
	kind := domain.KindOf(err)
	status, ok := statusByKind[kind]
	if !ok {
		s.writeError(w, r, err)
		return
	}
	writeJSON(w, status, map[string]any{
		"error": errorDetail{
			Kind:    kind,
			Message: s.catalog.Message(kind, r.Header.Get("Accept-Language")),
		},
		"result": payload,
	})
}

func asDomain(err error) *domain.Error {
	var e *domain.Error
	if errors.As(err, &e) {
		return e
	}
	return nil
}
