package api

import (
	"io"
	"mime"
	"net/http"
	"strconv"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/rs/zerolog/log"

	"omnipost/internal/domain"
)

type createTaskReq struct {
	domain.PublishPayload
	Priority int `json:"priority"`
}

type updateTaskReq struct {
	Status   domain.TaskStatus `json:"status"`
	Progress *int              `json:"progress"`
}

type accountReq struct {
	Type  domain.Platform `json:"type"`
	Label string          `json:"label"`
}

type groupReq struct {
	Name        string `json:"name"`
	Description string `json:"description"`
}

func (s *Server) health(w http.ResponseWriter, r *http.Request) {
	writeJSON(w, http.StatusOK, map[string]any{"status": "ok", "logins": s.registry.Len()})
}

func (s *Server) listTasks(w http.ResponseWriter, r *http.Request) {
	tasks, err := s.tasks.List(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, tasks)
}

func (s *Server) getTask(w http.ResponseWriter, r *http.Request) {
	t, err := s.tasks.Get(r.Context(), chi.URLParam(r, "id"))
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, t)
}

func (s *Server) createTask(w http.ResponseWriter, r *http.Request) {
	var req createTaskReq
	if _, err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	p := req.PublishPayload
	id, err := s.tasks.Create(r.Context(), domain.NewTask{
		Title:    p.Title,
		Platform: p.Type,
		Files:    p.FileList,
		Accounts: p.AccountList,
		Schedule: p.Schedule(),
		Payload:  &p,
		Priority: req.Priority,
	})
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, map[string]string{"task_id": id})
}

func (s *Server) updateTask(w http.ResponseWriter, r *http.Request) {
	var req updateTaskReq
	if _, err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	id := chi.URLParam(r, "id")
	if err := s.tasks.Update(r.Context(), id, req.Status, req.Progress); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, map[string]string{"task_id": id})
}

func (s *Server) deleteTask(w http.ResponseWriter, r *http.Request) {
	if err := s.tasks.Delete(r.Context(), chi.URLParam(r, "id")); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) startTask(w http.ResponseWriter, r *http.Request) {
	var p domain.PublishPayload
	given, err := decode(r, &p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	var override *domain.PublishPayload
	if given {
		override = &p
	}
	id := chi.URLParam(r, "id")
	if _, err := s.tasks.Start(r.Context(), id, override); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *Server) publish(w http.ResponseWriter, r *http.Request) {
	var p domain.PublishPayload
	if _, err := decode(r, &p); err != nil {
		writeError(w, r, err)
		return
	}
	id, _, err := s.tasks.Publish(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusAccepted, map[string]string{"task_id": id})
}

func (s *Server) publishBatch(w http.ResponseWriter, r *http.Request) {
	var ps []domain.PublishPayload
	if _, err := decode(r, &ps); err != nil {
		writeError(w, r, err)
		return
	}
	if len(ps) == 0 {
		writeError(w, r, badRequest("body", "at least one payload is required"))
		return
	}
	writeJSON(w, http.StatusAccepted, s.tasks.PublishBatch(r.Context(), ps))
}

func (s *Server) listAccounts(w http.ResponseWriter, r *http.Request) {
	p, err := platformQuery(r, "platform")
	if err != nil {
		writeError(w, r, err)
		return
	}
	creds, err := s.accounts.List(r.Context(), p)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (s *Server) listValidAccounts(w http.ResponseWriter, r *http.Request) {
	p, err := platformQuery(r, "platform")
	if err != nil {
		writeError(w, r, err)
		return
	}
	force, _ := strconv.ParseBool(r.URL.Query().Get("force"))
	creds, err := s.accounts.ListValidated(r.Context(), p, force)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}

func (s *Server) accountStatus(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.accounts.Check(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func (s *Server) updateAccount(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req accountReq
	if _, err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if !req.Type.Valid() {
		writeError(w, r, badRequest("type", "unknown platform"))
		return
	}
	if req.Label == "" {
		writeError(w, r, badRequest("label", "label is required"))
		return
	}
	if err := s.accounts.Update(r.Context(), id, req.Type, req.Label); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) deleteAccount(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.accounts.Delete(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) accountStats(w http.ResponseWriter, r *http.Request) {
	stats, err := s.accounts.Stats(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, stats)
}

// uploadState takes the blob either as the "file" part of a multipart form
// or as the raw request body.
func (s *Server) uploadState(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	raw, err := readStateBody(r)
	if err != nil {
		writeError(w, r, err)
		return
	}
	c, err := s.accounts.ImportState(r.Context(), id, raw)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, c)
}

func readStateBody(r *http.Request) ([]byte, error) {
	body := io.Reader(r.Body)
	if strings.HasPrefix(r.Header.Get("Content-Type"), "multipart/form-data") {
		if err := r.ParseMultipartForm(maxBody); err != nil {
			return nil, badRequest("file", err.Error())
		}
		f, hdr, err := r.FormFile("file")
		if err != nil {
			return nil, badRequest("file", "state file is required")
		}
		defer f.Close()
		if !strings.HasSuffix(hdr.Filename, ".json") {
			return nil, badRequest("file", "state file must be JSON")
		}
		body = f
	}
	raw, err := io.ReadAll(io.LimitReader(body, maxBody))
	if err != nil {
		return nil, badRequest("file", err.Error())
	}
	if len(raw) == 0 {
		return nil, badRequest("file", "state file is required")
	}
	return raw, nil
}

func (s *Server) downloadState(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	name, raw, err := s.accounts.ExportState(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	w.Header().Set("Content-Type", "application/json")
	w.Header().Set("Content-Disposition", mime.FormatMediaType("attachment", map[string]string{"filename": name}))
	w.WriteHeader(http.StatusOK)
	if _, err := w.Write(raw); err != nil {
		log.Ctx(r.Context()).Warn().Err(err).Msgf("send state file %s", name)
	}
}

func (s *Server) listGroups(w http.ResponseWriter, r *http.Request) {
	groups, err := s.accounts.ListGroups(r.Context())
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, groups)
}

func (s *Server) createGroup(w http.ResponseWriter, r *http.Request) {
	var req groupReq
	if _, err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	g, err := s.accounts.CreateGroup(r.Context(), req.Name, req.Description)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusCreated, g)
}

func (s *Server) updateGroup(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	var req groupReq
	if _, err := decode(r, &req); err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.accounts.UpdateGroup(r.Context(), id, req.Name, req.Description); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) deleteGroup(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	if err := s.accounts.DeleteGroup(r.Context(), id); err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, nil)
}

func (s *Server) groupAccounts(w http.ResponseWriter, r *http.Request) {
	id, err := int64Param(r, "id")
	if err != nil {
		writeError(w, r, err)
		return
	}
	creds, err := s.accounts.GroupAccounts(r.Context(), id)
	if err != nil {
		writeError(w, r, err)
		return
	}
	writeJSON(w, http.StatusOK, creds)
}
