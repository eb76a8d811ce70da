package web

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/httptest"
	"net/textproto"
	"net/url"
	"strings"
	"sync"
	"testing"
	"time"

	"github.com/prometheus/client_golang/prometheus"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"golang.org/x/crypto/bcrypt"

	"scrubnotes/internal/blob"
	"scrubnotes/internal/identity"
	"scrubnotes/internal/infra/persistence/memory"
	"scrubnotes/internal/media"
	"scrubnotes/internal/metrics"
	"scrubnotes/internal/records"
	"scrubnotes/internal/session"
	"scrubnotes/internal/table"
)

var pngBytes = []byte{0x89, 'P', 'N', 'G', 0x0d, 0x0a, 0x1a, 0x0a, 0, 0, 0, 0x0d, 'I', 'H', 'D', 'R'}

type captureMailer struct {
	mu    sync.Mutex
	links []string
}

func (m *captureMailer) SendMagicLink(_ context.Context, _, link string) error {
	m.mu.Lock()
	m.links = append(m.links, link)
	m.mu.Unlock()
	return nil
}

// brokenSurgeons fails every read of the surgeons table.
type brokenSurgeons struct {
	table.Store
	broken bool
}

func (b *brokenSurgeons) Select(ctx context.Context, q table.Query) ([]table.Row, error) {
	if b.broken && q.Table == "surgeons" {
		return nil, errors.New(`relation "surgeons" does not exist`)
	}
	return b.Store.Select(ctx, q)
}

type harness struct {
	srv    *httptest.Server
	ids    *identity.Service
	mailer *captureMailer
	store  *brokenSurgeons
	reg    *prometheus.Registry
}

func newHarness(t *testing.T) *harness {
	t.Helper()
	store := &brokenSurgeons{Store: memory.New()}
	reg := prometheus.NewRegistry()
	rec, err := metrics.NewPrometheusRecorder(reg)
	require.NoError(t, err)
	mailer := &captureMailer{}
	ids := identity.NewService(store, identity.WithBcryptCost(bcrypt.MinCost), identity.WithMailer(mailer), identity.WithMetrics(rec))
	guard := session.NewGuard(ids)
	loader := records.NewLoader(store, rec)
	gateway := records.NewGateway(store, guard, nil, rec)
	blobs := blob.NewMemory(blob.DefaultPublicBaseURL)
	uploader := media.NewUploader(media.Config{Blobs: blobs, Loader: loader, Gateway: gateway, Users: guard, Metrics: rec})
	s := New(Deps{
		Identity:       ids,
		Guard:          guard,
		Loader:         loader,
		Gateway:        gateway,
		Uploader:       uploader,
		Blobs:          blobs,
		Gatherer:       reg,
		RequestTimeout: 5 * time.Second,
	})
	srv := httptest.NewServer(s.Handler())
	t.Cleanup(srv.Close)
	return &harness{srv: srv, ids: ids, mailer: mailer, store: store, reg: reg}
}

func (h *harness) signUp(t *testing.T, email string) string {
	t.Helper()
	sess, err := h.ids.SignUp(context.Background(), email, "secret1")
	require.NoError(t, err)
	return sess.Token
}

func noRedirect() *http.Client {
	return &http.Client{CheckRedirect: func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }}
}

func (h *harness) do(t *testing.T, token, method, path string, body any) *http.Response {
	t.Helper()
	var rd io.Reader
	if body != nil {
		b, err := json.Marshal(body)
		require.NoError(t, err)
		rd = bytes.NewReader(b)
	}
	req, err := http.NewRequest(method, h.srv.URL+path, rd)
	require.NoError(t, err)
	if body != nil {
		req.Header.Set("Content-Type", "application/json")
	}
	if token != "" {
		req.Header.Set("Authorization", "Bearer "+token)
	}
	resp, err := noRedirect().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func (h *harness) upload(t *testing.T, token, path, name, contentType string, data []byte) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	hdr := textproto.MIMEHeader{}
	hdr.Set("Content-Disposition", `form-data; name="file"; filename="`+name+`"`)
	hdr.Set("Content-Type", contentType)
	part, err := mw.CreatePart(hdr)
	require.NoError(t, err)
	_, err = part.Write(data)
	require.NoError(t, err)
	require.NoError(t, mw.Close())
	req, err := http.NewRequest(http.MethodPost, h.srv.URL+path, &buf)
	require.NoError(t, err)
	req.Header.Set("Content-Type", mw.FormDataContentType())
	req.Header.Set("Authorization", "Bearer "+token)
	resp, err := noRedirect().Do(req)
	require.NoError(t, err)
	t.Cleanup(func() { resp.Body.Close() })
	return resp
}

func decode[T any](t *testing.T, resp *http.Response) T {
	t.Helper()
	var v T
	require.NoError(t, json.NewDecoder(resp.Body).Decode(&v))
	return v
}

func TestUnauthenticatedRequestsGoToLogin(t *testing.T) {
	h := newHarness(t)

	req, _ := http.NewRequest(http.MethodGet, h.srv.URL+"/", nil)
	req.Header.Set("Accept", "text/html")
	resp, err := noRedirect().Do(req)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/login", resp.Header.Get("Location"))

	resp = h.do(t, "", http.MethodGet, "/surgeons/abc", nil)
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
	assert.Equal(t, map[string]string{"redirect": "/login"}, decode[map[string]string](t, resp))

	resp = h.do(t, "not-a-token", http.MethodPost, "/surgeons", map[string]string{"first_name": "A", "last_name": "B"})
	assert.Equal(t, http.StatusUnauthorized, resp.StatusCode)
}

func TestSurgeonAndProcedureLifecycle(t *testing.T) {
	h := newHarness(t)
	tok := h.signUp(t, "nurse@example.com")

	resp := h.do(t, tok, http.MethodPost, "/surgeons", map[string]string{"first_name": "  Grace ", "last_name": "Hopper"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	surgeon := decode[records.Surgeon](t, resp)
	assert.Equal(t, "Grace", surgeon.FirstName)

	home := decode[homeView](t, h.do(t, tok, http.MethodGet, "/", nil))
	assert.Equal(t, "nurse@example.com", home.Email)
	assert.Equal(t, 1, home.Count)

	resp = h.do(t, tok, http.MethodPost, "/surgeons/"+surgeon.ID+"/procedures", map[string]string{"name": "Lap chole"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	proc := decode[records.Procedure](t, resp)

	resp = h.do(t, tok, http.MethodPut, "/surgeons/"+surgeon.ID+"/procedures/"+proc.ID, map[string]string{"draping": "split sheet", "name": " Lap chole v2 "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	detail := decode[records.ProcedureDetail](t, resp)
	assert.Equal(t, "split sheet", detail.Procedure.Draping)
	assert.Equal(t, "Lap chole v2", detail.Procedure.Name)
	assert.Equal(t, "", detail.Procedure.WorkflowNotes)
	require.NotNil(t, detail.Procedure.UpdatedAt)

	byQuery := decode[records.ProcedureDetail](t, h.do(t, tok, http.MethodGet, "/procedure?procedureId="+proc.ID+"&surgeonId="+surgeon.ID, nil))
	assert.Equal(t, proc.ID, byQuery.Procedure.ID)

	resp = h.do(t, tok, http.MethodGet, "/procedure?procedureId="+proc.ID+"&surgeonId=someone-else", nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)

	resp = h.upload(t, tok, "/surgeons/"+surgeon.ID+"/procedures/"+proc.ID+"/photos", "tray 1.png", "image/png", pngBytes)
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	uploaded := decode[struct {
		Photo     records.Photo           `json:"photo"`
		Procedure records.ProcedureDetail `json:"procedure"`
	}](t, resp)
	assert.True(t, strings.HasPrefix(uploaded.Photo.URL, "/media/procedure-photos/"))
	assert.Len(t, uploaded.Procedure.Photos, 1)

	obj := h.do(t, "", http.MethodGet, uploaded.Photo.URL, nil)
	require.Equal(t, http.StatusOK, obj.StatusCode)
	assert.Equal(t, "image/png", obj.Header.Get("Content-Type"))
	got, _ := io.ReadAll(obj.Body)
	assert.Equal(t, pngBytes, got)

	resp = h.do(t, tok, http.MethodDelete, "/surgeons/"+surgeon.ID, nil)
	assert.Equal(t, http.StatusNoContent, resp.StatusCode)
	resp = h.do(t, tok, http.MethodGet, "/s?id="+surgeon.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
	resp = h.do(t, tok, http.MethodGet, "/surgeons/"+surgeon.ID+"/procedures/"+proc.ID, nil)
	assert.Equal(t, http.StatusNotFound, resp.StatusCode)
}

func TestAttireEditor(t *testing.T) {
	h := newHarness(t)
	tok := h.signUp(t, "a@example.com")
	surgeon := decode[records.Surgeon](t, h.do(t, tok, http.MethodPost, "/surgeons", map[string]string{"first_name": "A", "last_name": "B"}))

	resp := h.do(t, tok, http.MethodPut, "/surgeons/"+surgeon.ID+"/attire", map[string]string{"gloves": " 7.5 ", "gown": "XL "})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, attireView{SurgeonID: surgeon.ID, FirstName: "A", LastName: "B", Gloves: "7.5", Gown: "XL"}, decode[attireView](t, resp))

	got := decode[attireView](t, h.do(t, tok, http.MethodGet, "/s/gloves?id="+surgeon.ID, nil))
	assert.Equal(t, "7.5", got.Gloves)

	resp = h.do(t, tok, http.MethodPatch, "/surgeons/"+surgeon.ID, map[string]string{"field": "specialty", "value": "General"})
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "General", decode[records.SurgeonDetail](t, resp).Surgeon.Specialty)

	resp = h.do(t, tok, http.MethodPatch, "/surgeons/"+surgeon.ID, map[string]string{"field": "user_id", "value": "x"})
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestOtherUsersRecordsAreNotFound(t *testing.T) {
	h := newHarness(t)
	owner := h.signUp(t, "owner@example.com")
	intruder := h.signUp(t, "intruder@example.com")
	surgeon := decode[records.Surgeon](t, h.do(t, owner, http.MethodPost, "/surgeons", map[string]string{"first_name": "A", "last_name": "B"}))

	assert.Equal(t, http.StatusNotFound, h.do(t, intruder, http.MethodGet, "/surgeons/"+surgeon.ID, nil).StatusCode)
	assert.Equal(t, http.StatusNotFound, h.do(t, intruder, http.MethodDelete, "/surgeons/"+surgeon.ID, nil).StatusCode)
	assert.Equal(t, http.StatusOK, h.do(t, owner, http.MethodGet, "/surgeons/"+surgeon.ID, nil).StatusCode)
	home := decode[homeView](t, h.do(t, intruder, http.MethodGet, "/", nil))
	assert.Zero(t, home.Count)
}

func TestValidationErrors(t *testing.T) {
	h := newHarness(t)
	tok := h.signUp(t, "v@example.com")
	surgeon := decode[records.Surgeon](t, h.do(t, tok, http.MethodPost, "/surgeons", map[string]string{"first_name": "A", "last_name": "B"}))
	proc := decode[records.Procedure](t, h.do(t, tok, http.MethodPost, "/surgeons/"+surgeon.ID+"/procedures", map[string]string{"name": "X"}))

	assert.Equal(t, http.StatusBadRequest, h.do(t, tok, http.MethodPost, "/surgeons", map[string]string{"first_name": " "}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, h.do(t, tok, http.MethodPut, "/surgeons/"+surgeon.ID+"/procedures/"+proc.ID, map[string]string{}).StatusCode)
	assert.Equal(t, http.StatusBadRequest, h.do(t, tok, http.MethodPut, "/surgeons/"+surgeon.ID+"/procedures/"+proc.ID, map[string]string{"name": "  "}).StatusCode)

	resp := h.upload(t, tok, "/surgeons/"+surgeon.ID+"/photo", "notes.txt", "text/plain", []byte("hello"))
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, decode[map[string]string](t, resp)["error"], "only images")

	resp = h.upload(t, tok, "/surgeons/"+surgeon.ID+"/photo", "face.png", "image/png", pngBytes)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	assert.Equal(t, "/media/surgeon-photos/"+surgeon.ID+".png", decode[map[string]any](t, resp)["photo_url"])
}

func TestProcedurePhotoURLsAreFetchable(t *testing.T) {
	h := newHarness(t)
	tok := h.signUp(t, "p@example.com")
	surgeon := decode[records.Surgeon](t, h.do(t, tok, http.MethodPost, "/surgeons", map[string]string{"first_name": "A", "last_name": "B"}))
	proc := decode[records.Procedure](t, h.do(t, tok, http.MethodPost, "/surgeons/"+surgeon.ID+"/procedures", map[string]string{"name": "X"}))

	for _, name := range []string{"scan #1.png", "tray?2.png", "100%.png", "setup.meta"} {
		resp := h.upload(t, tok, "/surgeons/"+surgeon.ID+"/procedures/"+proc.ID+"/photos", name, "image/png", pngBytes)
		require.Equal(t, http.StatusCreated, resp.StatusCode, name)
		photo := decode[struct {
			Photo records.Photo `json:"photo"`
		}](t, resp).Photo
		u, err := url.Parse(photo.URL)
		require.NoError(t, err, name)
		assert.Empty(t, u.RawQuery, name)
		assert.Empty(t, u.Fragment, name)

		obj := h.do(t, "", http.MethodGet, photo.URL, nil)
		require.Equal(t, http.StatusOK, obj.StatusCode, name)
		got, _ := io.ReadAll(obj.Body)
		assert.Equal(t, pngBytes, got, name)
	}
}

func TestUploadNeedsReportedImageType(t *testing.T) {
	h := newHarness(t)
	tok := h.signUp(t, "o@example.com")
	surgeon := decode[records.Surgeon](t, h.do(t, tok, http.MethodPost, "/surgeons", map[string]string{"first_name": "A", "last_name": "B"}))

	resp := h.upload(t, tok, "/surgeons/"+surgeon.ID+"/photo", "face.png", "application/octet-stream", pngBytes)
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	detail := decode[records.SurgeonDetail](t, h.do(t, tok, http.MethodGet, "/surgeons/"+surgeon.ID, nil))
	assert.Empty(t, detail.Surgeon.PhotoURL)
}

func TestRemoteFailureIsShownVerbatim(t *testing.T) {
	h := newHarness(t)
	tok := h.signUp(t, "r@example.com")
	h.store.broken = true
	resp := h.do(t, tok, http.MethodGet, "/", nil)
	assert.Equal(t, http.StatusInternalServerError, resp.StatusCode)
	assert.Equal(t, `relation "surgeons" does not exist`, decode[map[string]string](t, resp)["error"])
}

func TestPasswordAndMagicLinkSignIn(t *testing.T) {
	h := newHarness(t)

	resp := h.do(t, "", http.MethodGet, "/login", nil)
	assert.Equal(t, http.StatusOK, resp.StatusCode)
	page, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(page), `action="/login"`)

	resp = h.do(t, "", http.MethodPost, "/signup", map[string]string{"email": "New@Example.com", "password": "secret1"})
	require.Equal(t, http.StatusCreated, resp.StatusCode)
	var cookie *http.Cookie
	for _, c := range resp.Cookies() {
		if c.Name == sessionCookie {
			cookie = c
		}
	}
	require.NotNil(t, cookie)
	assert.True(t, cookie.HttpOnly)

	form := url.Values{"email": {"new@example.com"}, "password": {"wrong-password"}}
	resp, err := noRedirect().PostForm(h.srv.URL+"/login", form)
	require.NoError(t, err)
	body, _ := io.ReadAll(resp.Body)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
	assert.Contains(t, string(body), "invalid email or password")

	form.Set("password", "secret1")
	resp, err = noRedirect().PostForm(h.srv.URL+"/login", form)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)
	assert.Equal(t, "/", resp.Header.Get("Location"))

	resp = h.do(t, "", http.MethodPost, "/auth/magic-link", map[string]string{"email": "magic@example.com"})
	require.Equal(t, http.StatusAccepted, resp.StatusCode)
	require.Len(t, h.mailer.links, 1)
	link, err := url.Parse(h.mailer.links[0])
	require.NoError(t, err)

	verify := h.srv.URL + "/auth/verify?token=" + link.Query().Get("token")
	resp, err = noRedirect().Get(verify)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusSeeOther, resp.StatusCode)

	resp, err = noRedirect().Get(verify)
	require.NoError(t, err)
	resp.Body.Close()
	assert.Equal(t, http.StatusBadRequest, resp.StatusCode)
}

func TestLogoutEndsSession(t *testing.T) {
	h := newHarness(t)
	tok := h.signUp(t, "out@example.com")
	assert.Equal(t, http.StatusOK, h.do(t, tok, http.MethodGet, "/", nil).StatusCode)
	assert.Equal(t, http.StatusNoContent, h.do(t, tok, http.MethodPost, "/logout", nil).StatusCode)
	assert.Equal(t, http.StatusUnauthorized, h.do(t, tok, http.MethodGet, "/", nil).StatusCode)
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)
	tok := h.signUp(t, "m@example.com")
	h.do(t, tok, http.MethodGet, "/", nil)

	assert.Equal(t, http.StatusOK, h.do(t, "", http.MethodGet, "/healthz", nil).StatusCode)
	resp := h.do(t, "", http.MethodGet, "/metrics", nil)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	body, _ := io.ReadAll(resp.Body)
	assert.Contains(t, string(body), `scrubnotes_operations_total{operation="records.list_surgeons",status="success"}`)
}
