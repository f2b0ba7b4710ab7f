package server

import (
	"encoding/json"
	"net/http"

	"github.com/go-chi/chi/v5"
	"github.com/koustreak/pgshape/internal/errs"
	"github.com/koustreak/pgshape/internal/table"
	"github.com/koustreak/pgshape/internal/validate"
)

// maxBodyBytes caps a request body.
const maxBodyBytes = 1 << 20

type errorBody struct {
	Error  string          `json:"error"`
	Kind   string          `json:"kind,omitempty"`
	Fields validate.Errors `json:"fields,omitempty"`
}

type updateRequest struct {
	Keys map[string]any `json:"keys"`
	Row  map[string]any `json:"row"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	status := http.StatusOK
	checks := make(map[string]string, len(s.checks))
	for name, check := range s.checks {
		if err := check(r.Context()); err != nil {
			status = http.StatusServiceUnavailable
			checks[name] = err.Error()
			continue
		}
		checks[name] = "ok"
	}
	body := map[string]any{"status": "ok", "checks": checks}
	if status != http.StatusOK {
		body["status"] = "degraded"
	}
	writeJSON(w, status, body)
}

func (s *Server) types(w http.ResponseWriter, _ *http.Request) {
	types := s.models.Types()
	writeJSON(w, http.StatusOK, map[string][]string{
		"known":     types.KnownTypes(),
		"coercible": types.CoercibleTypes(),
	})
}

func (s *Server) tables(w http.ResponseWriter, _ *http.Request) {
	writeJSON(w, http.StatusOK, map[string][]string{"tables": s.models.Tables()})
}

func (s *Server) schema(w http.ResponseWriter, r *http.Request) {
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	writeJSON(w, http.StatusOK, m.Schema())
}

func (s *Server) validate(w http.ResponseWriter, r *http.Request) {
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	var row map[string]any
	if !decode(w, r, &row) {
		return
	}
	normalized, err := m.Normalize(row)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"valid": true, "row": normalized})
}

func (s *Server) insert(w http.ResponseWriter, r *http.Request) {
	if !s.writable(w) {
		return
	}
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	var row map[string]any
	if !decode(w, r, &row) {
		return
	}
	if err := s.sink.Insert(r.Context(), m, row); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"table": m.Name(), "op": "insert"})
}

func (s *Server) update(w http.ResponseWriter, r *http.Request) {
	if !s.writable(w) {
		return
	}
	m, ok := s.model(w, r)
	if !ok {
		return
	}
	var req updateRequest
	if !decode(w, r, &req) {
		return
	}
	if err := s.sink.Update(r.Context(), m, req.Row, req.Keys); err != nil {
		s.fail(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"table": m.Name(), "op": "update"})
}

func (s *Server) writable(w http.ResponseWriter) bool {
	if s.sink == nil {
		writeJSON(w, http.StatusNotImplemented, errorBody{Error: "no sink configured"})
		return false
	}
	return true
}

func (s *Server) model(w http.ResponseWriter, r *http.Request) (*table.Model, bool) {
	m, err := s.models.Model(r.Context(), chi.URLParam(r, "table"))
	if err != nil {
		s.fail(w, r, err)
		return nil, false
	}
	return m, true
}

func (s *Server) fail(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	body := errorBody{Error: err.Error(), Kind: errs.KindOf(err).String()}
	if fields, ok := validate.FieldErrors(err); ok {
		body.Fields = fields
	}
	if status >= http.StatusInternalServerError {
		s.log.ErrorWith("request failed", err, map[string]any{"path": r.URL.Path})
	}
	writeJSON(w, status, body)
}

func statusOf(err error) int {
	switch errs.KindOf(err) {
	case errs.ErrKindNotFound:
		return http.StatusNotFound
	case errs.ErrKindValidation:
		return http.StatusUnprocessableEntity
	case errs.ErrKindInvalidInput:
		return http.StatusBadRequest
	case errs.ErrKindTimeout:
		return http.StatusGatewayTimeout
	case errs.ErrKindConnectionFailed:
		return http.StatusServiceUnavailable
	case errs.ErrKindPermissionDenied:
		return http.StatusForbidden
	default:
		return http.StatusInternalServerError
	}
}

func decode(w http.ResponseWriter, r *http.Request, dst any) bool {
	if err := json.NewDecoder(http.MaxBytesReader(w, r.Body, maxBodyBytes)).Decode(dst); err != nil {
		writeJSON(w, http.StatusBadRequest, errorBody{Error: "invalid JSON body: " + err.Error(), Kind: errs.ErrKindInvalidInput.String()})
		return false
	}
	return true
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
