package api

import (
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"omnipost/internal/domain"
)

const maxBody = 1 << 20

type envelope struct {
	Code int    `json:"code"`
	Msg  string `json:"msg"`
	Data any    `json:"data"`
}

func writeJSON(w http.ResponseWriter, status int, data any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	if err := json.NewEncoder(w).Encode(envelope{Code: status, Msg: "success", Data: data}); err != nil {
		log.Warn().Err(err).Msg("write response")
	}
}

// statusOf maps domain errors onto HTTP statuses. An unreachable store is
// 503, never 404.
func statusOf(err error) int {
	var (
		verr *domain.ValidationError
		perr *domain.PersistenceError
	)
	switch {
	case errors.As(err, &verr):
		return http.StatusBadRequest
	case errors.Is(err, domain.ErrNotFound):
		return http.StatusNotFound
	case errors.Is(err, domain.ErrConflict), errors.Is(err, domain.ErrTerminal), errors.Is(err, domain.ErrGroupInUse):
		return http.StatusConflict
	case errors.As(err, &perr):
		return http.StatusServiceUnavailable
	}
	return http.StatusInternalServerError
}

func writeError(w http.ResponseWriter, r *http.Request, err error) {
	status := statusOf(err)
	msg := domain.Summary(err)
	if status >= 500 {
		log.Ctx(r.Context()).Error().Stack().Err(err).Msgf("%s %s failed", r.Method, r.URL.Path)
	}
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(envelope{Code: status, Msg: msg})
}

func badRequest(field, reason string) error {
	return &domain.ValidationError{Field: field, Reason: reason}
}

// decode reads a JSON body into dst. An empty body leaves dst untouched and
// reports false.
func decode(r *http.Request, dst any) (bool, error) {
	dec := json.NewDecoder(io.LimitReader(r.Body, maxBody))
	if err := dec.Decode(dst); err != nil {
		if errors.Is(err, io.EOF) {
			return false, nil
		}
		return false, badRequest("body", err.Error())
	}
	return true, nil
}

func int64Param(r *http.Request, name string) (int64, error) {
	v, err := strconv.ParseInt(chi.URLParam(r, name), 10, 64)
	if err != nil {
		return 0, badRequest(name, "must be an integer")
	}
	return v, nil
}

// platformQuery parses an optional platform filter.
func platformQuery(r *http.Request, name string) (*domain.Platform, error) {
	raw := r.URL.Query().Get(name)
	if raw == "" {
		return nil, nil
	}
	p, err := domain.ParsePlatform(raw)
	if err != nil {
		return nil, err
	}
	return &p, nil
}
