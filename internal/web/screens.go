package web

import (
	"context"
	"encoding/json"
	"errors"
	"io"
	"net/http"
	"strconv"
	"strings"

	"go.uber.org/zap"

	"scrubnotes/internal/apperr"
	"scrubnotes/internal/blob"
	"scrubnotes/internal/media"
	"scrubnotes/internal/outcome"
	"scrubnotes/internal/records"
	"scrubnotes/internal/view"
)

// homeView is the surgeon listing of the signed-in user.
type homeView struct {
	Email    string            `json:"email"`
	Count    int               `json:"count"`
	Surgeons []records.Surgeon `json:"surgeons"`
}

// attireView is the gloves and gown editor.
type attireView struct {
	SurgeonID string `json:"surgeon_id"`
	FirstName string `json:"first_name"`
	LastName  string `json:"last_name"`
	Gloves    string `json:"gloves"`
	Gown      string `json:"gown"`
}

// openScreen mounts a controller for one request. The caller unmounts it.
func openScreen[T any](s *Server, r *http.Request, cfg view.Config[T]) *view.Controller[T] {
	cfg.Session = s.guard
	cfg.Log = s.log
	c := view.NewController(cfg)
	c.Mount(r.Context())
	return c
}

// act runs fn on a ready screen. It writes the response and returns false
// when the screen is not ready or the action failed.
func act[T any](s *Server, w http.ResponseWriter, r *http.Request, c *view.Controller[T], busy view.Busy, fn func(ctx context.Context) error) bool {
	if c.State() != view.StateReady {
		respond(w, r, http.StatusOK, c.Outcome())
		return false
	}
	err := c.Do(r.Context(), busy, func(ctx context.Context, _ string) error { return fn(ctx) })
	if err != nil {
		s.fail(w, r, err)
		return false
	}
	return true
}

func (s *Server) homeScreen(r *http.Request) *view.Controller[homeView] {
	return openScreen(s, r, view.Config[homeView]{
		Load: func(ctx context.Context, uid string) (homeView, error) {
			sess, err := s.guard.Current(ctx)
			if err != nil {
				return homeView{}, err
			}
			list, err := s.loader.ListSurgeons(ctx, uid)
			if err != nil {
				return homeView{}, err
			}
			if list == nil {
				list = []records.Surgeon{}
			}
			return homeView{Email: sess.Email, Count: len(list), Surgeons: list}, nil
		},
	})
}

func surgeonParam(r *http.Request) string {
	if id := r.PathValue("id"); id != "" {
		return id
	}
	return strings.TrimSpace(r.URL.Query().Get("id"))
}

func (s *Server) surgeonScreen(r *http.Request, surgeonID string) *view.Controller[records.SurgeonDetail] {
	return openScreen(s, r, view.Config[records.SurgeonDetail]{
		Identifier:        surgeonID,
		RequireIdentifier: true,
		Load: func(ctx context.Context, uid string) (records.SurgeonDetail, error) {
			return s.loader.LoadSurgeonDetail(ctx, uid, surgeonID)
		},
	})
}

func (s *Server) procedureScreen(r *http.Request, surgeonID, procedureID string) *view.Controller[records.ProcedureDetail] {
	return openScreen(s, r, view.Config[records.ProcedureDetail]{
		Identifier:        procedureID,
		RequireIdentifier: true,
		Load: func(ctx context.Context, uid string) (records.ProcedureDetail, error) {
			return s.loader.LoadProcedureDetail(ctx, uid, surgeonID, procedureID)
		},
	})
}

func procedureParams(r *http.Request) (surgeonID, procedureID string) {
	surgeonID, procedureID = r.PathValue("surgeonID"), r.PathValue("id")
	if procedureID == "" {
		q := r.URL.Query()
		surgeonID, procedureID = strings.TrimSpace(q.Get("surgeonId")), strings.TrimSpace(q.Get("procedureId"))
	}
	return surgeonID, procedureID
}

// readFields reads a flat JSON object or form body. A JSON null and an
// absent key both leave the field out.
func readFields(r *http.Request) (map[string]*string, error) {
	const op = "web.read_body"
	out := map[string]*string{}
	if isForm(r) {
		if err := r.ParseForm(); err != nil {
			return nil, apperr.Validation(op, "invalid form")
		}
		for k, vs := range r.PostForm {
			if len(vs) > 0 {
				v := vs[0]
				out[k] = &v
			}
		}
		return out, nil
	}
	var raw map[string]*string
	if err := json.NewDecoder(r.Body).Decode(&raw); err != nil {
		if errors.Is(err, io.EOF) {
			return out, nil
		}
		return nil, apperr.Validation(op, "invalid JSON")
	}
	for k, v := range raw {
		if v != nil {
			out[k] = v
		}
	}
	return out, nil
}

func value(fields map[string]*string, key string) string {
	if v := fields[key]; v != nil {
		return *v
	}
	return ""
}

func (s *Server) handleHome(w http.ResponseWriter, r *http.Request) {
	c := s.homeScreen(r)
	defer c.Unmount()
	respond(w, r, http.StatusOK, c.Outcome())
}

func (s *Server) handleCreateSurgeon(w http.ResponseWriter, r *http.Request) {
	in, err := readFields(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	first, last := strings.TrimSpace(value(in, "first_name")), strings.TrimSpace(value(in, "last_name"))
	if first == "" || last == "" {
		writeError(w, http.StatusBadRequest, "first and last name are required")
		return
	}
	c := s.homeScreen(r)
	defer c.Unmount()
	var created records.Surgeon
	if !act(s, w, r, c, view.Saving, func(ctx context.Context) (err error) {
		created, err = s.gateway.CreateSurgeon(ctx, first, last)
		return err
	}) {
		return
	}
	if isForm(r) {
		http.Redirect(w, r, "/s?id="+created.ID, http.StatusSeeOther)
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

func (s *Server) handleSurgeon(w http.ResponseWriter, r *http.Request) {
	c := s.surgeonScreen(r, surgeonParam(r))
	defer c.Unmount()
	respond(w, r, http.StatusOK, c.Outcome())
}

func (s *Server) handleUpdateSurgeon(w http.ResponseWriter, r *http.Request) {
	in, err := readFields(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	field := records.SurgeonField(value(in, "field"))
	if field == "" || in["value"] == nil {
		writeError(w, http.StatusBadRequest, "field and value are required")
		return
	}
	surgeonID := surgeonParam(r)
	c := s.surgeonScreen(r, surgeonID)
	defer c.Unmount()
	if !act(s, w, r, c, view.Saving, func(ctx context.Context) error {
		return s.gateway.UpdateSurgeonField(ctx, surgeonID, field, value(in, "value"))
	}) {
		return
	}
	respond(w, r, http.StatusOK, c.Outcome())
}

func (s *Server) handleDeleteSurgeon(w http.ResponseWriter, r *http.Request) {
	surgeonID := surgeonParam(r)
	c := s.surgeonScreen(r, surgeonID)
	defer c.Unmount()
	if !act(s, w, r, c, view.Deleting, func(ctx context.Context) error {
		return s.gateway.DeleteSurgeon(ctx, surgeonID)
	}) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleCreateProcedure(w http.ResponseWriter, r *http.Request) {
	in, err := readFields(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	name := strings.TrimSpace(value(in, "name"))
	if name == "" {
		writeError(w, http.StatusBadRequest, "procedure name is required")
		return
	}
	surgeonID := surgeonParam(r)
	c := s.surgeonScreen(r, surgeonID)
	defer c.Unmount()
	var created records.Procedure
	if !act(s, w, r, c, view.Saving, func(ctx context.Context) (err error) {
		created, err = s.gateway.CreateProcedure(ctx, surgeonID, name)
		return err
	}) {
		return
	}
	writeJSON(w, http.StatusCreated, created)
}

// readFile pulls the "file" part of a multipart upload.
func (s *Server) readFile(w http.ResponseWriter, r *http.Request) (media.File, func(), error) {
	const op = "web.read_file"
	r.Body = http.MaxBytesReader(w, r.Body, s.maxUploadBytes+1<<20)
	if err := r.ParseMultipartForm(s.maxUploadBytes); err != nil {
		return media.File{}, nil, apperr.Validationf(op, "invalid upload: %v", err)
	}
	f, hdr, err := r.FormFile("file")
	if err != nil {
		return media.File{}, nil, apperr.Validation(op, "file is required")
	}
	return media.File{Name: hdr.Filename, ContentType: hdr.Header.Get("Content-Type"), Body: f}, func() { _ = f.Close() }, nil
}

func (s *Server) handleSurgeonPhoto(w http.ResponseWriter, r *http.Request) {
	file, done, err := s.readFile(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer done()
	surgeonID := surgeonParam(r)
	c := s.surgeonScreen(r, surgeonID)
	defer c.Unmount()
	var url string
	if !act(s, w, r, c, view.Uploading, func(ctx context.Context) (err error) {
		url, err = s.uploader.UploadSurgeonPhoto(ctx, surgeonID, file)
		return err
	}) {
		return
	}
	writeJSON(w, http.StatusOK, map[string]any{"photo_url": url, "surgeon": c.Snapshot().Data})
}

func (s *Server) handleAttire(w http.ResponseWriter, r *http.Request) {
	surgeonID := surgeonParam(r)
	c := s.surgeonScreen(r, surgeonID)
	defer c.Unmount()
	respond(w, r, http.StatusOK, attireOf(c.Outcome()))
}

func attireOf(res outcome.Result[records.SurgeonDetail]) outcome.Result[attireView] {
	d, ok := res.Get()
	if !ok {
		return outcome.Result[attireView]{Status: res.Status, Message: res.Message}
	}
	return outcome.Ok(attireView{
		SurgeonID: d.Surgeon.ID,
		FirstName: d.Surgeon.FirstName,
		LastName:  d.Surgeon.LastName,
		Gloves:    d.Surgeon.Gloves,
		Gown:      d.Surgeon.Gown,
	})
}

func (s *Server) handleSaveAttire(w http.ResponseWriter, r *http.Request) {
	in, err := readFields(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	surgeonID := surgeonParam(r)
	c := s.surgeonScreen(r, surgeonID)
	defer c.Unmount()
	if !act(s, w, r, c, view.Saving, func(ctx context.Context) error {
		return s.gateway.UpdateSurgeonAttire(ctx, surgeonID, value(in, "gloves"), value(in, "gown"))
	}) {
		return
	}
	if isForm(r) {
		http.Redirect(w, r, "/s?id="+surgeonID, http.StatusSeeOther)
		return
	}
	respond(w, r, http.StatusOK, attireOf(c.Outcome()))
}

func (s *Server) handleProcedure(w http.ResponseWriter, r *http.Request) {
	surgeonID, procedureID := procedureParams(r)
	c := s.procedureScreen(r, surgeonID, procedureID)
	defer c.Unmount()
	respond(w, r, http.StatusOK, c.Outcome())
}

func (s *Server) handleSaveProcedure(w http.ResponseWriter, r *http.Request) {
	in, err := readFields(r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	text := records.ProcedureText{Name: in["name"], Draping: in["draping"], InstrumentsTrays: in["instruments_trays"], WorkflowNotes: in["workflow_notes"]}
	if text.Name != nil && strings.TrimSpace(*text.Name) == "" {
		writeError(w, http.StatusBadRequest, "procedure name is required")
		return
	}
	if text.Name == nil && text.Draping == nil && text.InstrumentsTrays == nil && text.WorkflowNotes == nil {
		writeError(w, http.StatusBadRequest, "nothing to update")
		return
	}
	surgeonID, procedureID := procedureParams(r)
	c := s.procedureScreen(r, surgeonID, procedureID)
	defer c.Unmount()
	if !act(s, w, r, c, view.Saving, func(ctx context.Context) error {
		return s.gateway.UpdateProcedureText(ctx, procedureID, text)
	}) {
		return
	}
	respond(w, r, http.StatusOK, c.Outcome())
}

func (s *Server) handleDeleteProcedure(w http.ResponseWriter, r *http.Request) {
	surgeonID, procedureID := procedureParams(r)
	c := s.procedureScreen(r, surgeonID, procedureID)
	defer c.Unmount()
	if !act(s, w, r, c, view.Deleting, func(ctx context.Context) error {
		return s.gateway.DeleteProcedure(ctx, procedureID)
	}) {
		return
	}
	w.WriteHeader(http.StatusNoContent)
}

func (s *Server) handleProcedurePhoto(w http.ResponseWriter, r *http.Request) {
	file, done, err := s.readFile(w, r)
	if err != nil {
		s.fail(w, r, err)
		return
	}
	defer done()
	surgeonID, procedureID := procedureParams(r)
	c := s.procedureScreen(r, surgeonID, procedureID)
	defer c.Unmount()
	var photo records.Photo
	if !act(s, w, r, c, view.Uploading, func(ctx context.Context) (err error) {
		photo, err = s.uploader.UploadProcedurePhoto(ctx, procedureID, file)
		return err
	}) {
		return
	}
	writeJSON(w, http.StatusCreated, map[string]any{"photo": photo, "procedure": c.Snapshot().Data})
}

// handleMedia serves objects of the fs and memory blob drivers. Photos are
// public, so no session is required.
func (s *Server) handleMedia(w http.ResponseWriter, r *http.Request) {
	key := r.PathValue("key")
	if key == "" || strings.Contains(key, "..") {
		http.NotFound(w, r)
		return
	}
	info, body, err := s.blobs.Get(r.Context(), key)
	if err != nil {
		if errors.Is(err, blob.ErrNotFound) {
			http.NotFound(w, r)
			return
		}
		s.log.Error("media read failed", zap.String("key", key), zap.Error(err))
		writeError(w, http.StatusInternalServerError, err.Error())
		return
	}
	defer body.Close()
	if info.ContentType != "" {
		w.Header().Set("Content-Type", info.ContentType)
	}
	if info.ETag != "" {
		w.Header().Set("ETag", `"`+info.ETag+`"`)
	}
	w.Header().Set("Content-Length", strconv.FormatInt(info.Size, 10))
	if _, err := io.Copy(w, body); err != nil {
		s.log.Debug("media copy interrupted", zap.String("key", key), zap.Error(err))
	}
}
