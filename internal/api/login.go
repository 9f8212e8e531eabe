package api

import (
	"fmt"
	"net/http"

	"github.com/rs/zerolog/log"

	"omnipost/internal/domain"
	"omnipost/internal/usecase"
)

// login starts a QR login and streams its frames as server-sent events:
// the QR artifact first, then "200" or "500". A client that goes away only
// drops the registry entry; the login itself runs to its own end.
func (s *Server) login(w http.ResponseWriter, r *http.Request) {
	q := r.URL.Query()
	platform, err := domain.ParsePlatform(q.Get("type"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	stream, err := s.logins.Begin(r.Context(), usecase.LoginRequest{
		Platform: platform,
		Label:    q.Get("id"),
		Group:    q.Get("group"),
	})
	if err != nil {
		writeError(w, r, err)
		return
	}

	h := w.Header()
	h.Set("Content-Type", "text/event-stream")
	h.Set("Cache-Control", "no-cache")
	h.Set("Connection", "keep-alive")
	h.Set("X-Accel-Buffering", "no")
	w.WriteHeader(http.StatusOK)
	rc := http.NewResponseController(w)
	_ = rc.Flush()

	logger := log.Ctx(r.Context()).With().Str("session_id", stream.ID).Logger()
	for {
		select {
		case <-r.Context().Done():
			logger.Info().Msg("login client disconnected")
			s.registry.Remove(stream.ID)
			return
		case frame, ok := <-stream.Frames():
			if !ok {
				return
			}
			if _, err := fmt.Fprintf(w, "data: %s\n\n", frame); err != nil {
				logger.Warn().Err(err).Msg("write login frame")
				s.registry.Remove(stream.ID)
				return
			}
			if err := rc.Flush(); err != nil {
				logger.Warn().Err(err).Msg("flush login frame")
			}
		}
	}
}
