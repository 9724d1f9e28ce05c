package http_test

import (
	"bytes"
	"encoding/json"
	"io"
	"mime/multipart"
	"net/http"
	"net/http/cookiejar"
	"net/http/httptest"
	"net/url"
	"os"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"qrdrop/internal/longpoll"
	"qrdrop/internal/observability/metrics"
	"qrdrop/internal/service"
	"qrdrop/internal/session"
	"qrdrop/internal/storage"
	"qrdrop/internal/store"
	transport "qrdrop/internal/transport/http"
	"qrdrop/internal/web"
	"qrdrop/pkg/db"

	"github.com/google/uuid"
	"github.com/stretchr/testify/require"
)

const testSecret = "router-test-secret"

type fileEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
	Size int64  `json:"size"`
	Icon string `json:"icon"`
}

func TestMain(m *testing.M) {
	metrics.MustRegister("test")
	os.Exit(m.Run())
}

type harness struct {
	srv     *httptest.Server
	signer  *session.Signer
	browser *http.Client
	device  *http.Client
}

func newHarness(t *testing.T) *harness {
	t.Helper()

	dir := t.TempDir()
	gdb, err := db.OpenGorm(db.Config{
		Driver: db.DriverSQLite,
		DSN:    "file:" + filepath.Join(dir, "qrdrop.db") + "?_busy_timeout=5000",
	})
	require.NoError(t, err)
	st := store.New(gdb)
	require.NoError(t, st.AutoMigrate(t.Context()))
	disk, err := storage.NewDisk(filepath.Join(dir, "files"))
	require.NoError(t, err)

	svc := service.New(st, disk, longpoll.Config{Interval: 5 * time.Millisecond, MaxAttempts: 3})
	signer, err := session.NewSigner(testSecret, time.Hour)
	require.NoError(t, err)
	renderer, err := web.NewRenderer()
	require.NoError(t, err)

	srv := httptest.NewServer(transport.NewRouter(svc, transport.Options{
		Sessions:       session.NewManager(signer, false),
		Renderer:       renderer,
		MaxUploadBytes: 1 << 20,
		BindRateLimit:  1000,
	}))
	t.Cleanup(srv.Close)

	jar, err := cookiejar.New(nil)
	require.NoError(t, err)
	noRedirect := func(*http.Request, []*http.Request) error { return http.ErrUseLastResponse }
	return &harness{
		srv:     srv,
		signer:  signer,
		browser: &http.Client{Jar: jar, CheckRedirect: noRedirect},
		device:  &http.Client{CheckRedirect: noRedirect},
	}
}

// open visits the entry page and returns the identifier the browser got.
func (h *harness) open(t *testing.T) string {
	t.Helper()
	resp, body := h.get(t, h.browser, "/")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "<html")

	u, _ := url.Parse(h.srv.URL)
	for _, c := range h.browser.Jar.Cookies(u) {
		if c.Name == session.CookieName {
			id, err := h.signer.Verify(c.Value)
			require.NoError(t, err)
			return id
		}
	}
	t.Fatalf("no session cookie after visiting /")
	return ""
}

func (h *harness) get(t *testing.T, c *http.Client, path string) (*http.Response, string) {
	t.Helper()
	resp, err := c.Get(h.srv.URL + path)
	require.NoError(t, err)
	defer resp.Body.Close()
	body, err := io.ReadAll(resp.Body)
	require.NoError(t, err)
	return resp, string(body)
}

func (h *harness) upload(t *testing.T, c *http.Client, path, field string, fields map[string]string, files map[string]string) *http.Response {
	t.Helper()
	var buf bytes.Buffer
	mw := multipart.NewWriter(&buf)
	for k, v := range fields {
		require.NoError(t, mw.WriteField(k, v))
	}
	for name, content := range files {
		part, err := mw.CreateFormFile(field, name)
		require.NoError(t, err)
		_, err = part.Write([]byte(content))
		require.NoError(t, err)
	}
	require.NoError(t, mw.Close())

	resp, err := c.Post(h.srv.URL+path, mw.FormDataContentType(), &buf)
	require.NoError(t, err)
	_, _ = io.Copy(io.Discard, resp.Body)
	_ = resp.Body.Close()
	return resp
}

func decodeEntries(t *testing.T, body string) []fileEntry {
	t.Helper()
	var out []fileEntry
	require.NoError(t, json.Unmarshal([]byte(body), &out))
	return out
}

func TestBrowserUploadDeviceDownload(t *testing.T) {
	h := newHarness(t)
	id := h.open(t)

	resp, body := h.get(t, h.browser, "/login")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "pairingPoll();", body)
	require.Contains(t, resp.Header.Get("Content-Type"), "text/javascript")

	resp, _ = h.get(t, h.device, "/bind?id="+id+"&what=download")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = h.get(t, h.browser, "/login")
	require.Equal(t, `window.location = "/upload";`, body)

	resp, body = h.get(t, h.browser, "/upload")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "<html")

	resp = h.upload(t, h.browser, "/upload", "file", nil, map[string]string{"hello.txt": "hello phone"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body = h.get(t, h.device, "/api/filelist?id="+id)
	files := decodeEntries(t, body)
	require.Len(t, files, 1)
	require.Equal(t, "hello.txt", files[0].Name)
	require.Equal(t, int64(len("hello phone")), files[0].Size)
	require.Equal(t, "/api/download/"+files[0].ID+"?id="+id, files[0].URI)
	require.Equal(t, "/static/icon/text.svg", files[0].Icon)

	resp, body = h.get(t, h.device, files[0].URI)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "hello phone", body)
	require.Contains(t, resp.Header.Get("Content-Disposition"), `filename="hello.txt"`)

	_, body = h.get(t, h.device, "/api/filelist?id="+id)
	require.Equal(t, "[]", strings.TrimSpace(body))
}

func TestDeviceUploadBrowserDownload(t *testing.T) {
	h := newHarness(t)
	id := h.open(t)

	// Legacy clients name the identifier uid.
	resp, _ := h.get(t, h.device, "/bind?uid="+id+"&what=upload")
	require.Equal(t, http.StatusOK, resp.StatusCode)

	_, body := h.get(t, h.browser, "/login")
	require.Equal(t, `window.location = "/download";`, body)

	resp = h.upload(t, h.device, "/api/upload", "files",
		map[string]string{"id": id},
		map[string]string{"photo.png": "\x89PNG\r\n\x1a\n\x00\x00\x00\rIHDR"})
	require.Equal(t, http.StatusOK, resp.StatusCode)

	resp, body = h.get(t, h.browser, "/download")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "<html")

	_, body = h.get(t, h.browser, "/filelist")
	files := decodeEntries(t, body)
	require.Len(t, files, 1)
	require.Equal(t, "photo.png", files[0].Name)
	require.Equal(t, "/download/"+files[0].ID, files[0].URI)
	require.Equal(t, "/static/icon/image-png.svg", files[0].Icon)

	resp, _ = h.get(t, h.browser, files[0].URI)
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))

	// Same key, other identifier: not found.
	other := uuid.NewString()
	resp, _ = h.get(t, h.device, "/api/download/"+files[0].ID+"?id="+other)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestSessionRequired(t *testing.T) {
	h := newHarness(t)

	for _, path := range []string{"/login", "/qrcode", "/upload", "/download", "/filelist"} {
		resp, body := h.get(t, h.device, path)
		require.Equalf(t, http.StatusForbidden, resp.StatusCode, "path %s", path)
		require.Equal(t, "403 Forbidden\n", body)
	}
}

func TestUnpairedBrowserIsSentHome(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	for _, path := range []string{"/upload", "/download", "/filelist"} {
		resp, _ := h.get(t, h.browser, path)
		require.Equalf(t, http.StatusFound, resp.StatusCode, "path %s", path)
		require.Equal(t, "/", resp.Header.Get("Location"))
	}
}

func TestQRCodeIsPNG(t *testing.T) {
	h := newHarness(t)
	h.open(t)

	resp, body := h.get(t, h.browser, "/qrcode")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "image/png", resp.Header.Get("Content-Type"))
	require.True(t, strings.HasPrefix(body, "\x89PNG"))
}

func TestEntryVisitIssuesFreshIdentifier(t *testing.T) {
	h := newHarness(t)
	first := h.open(t)
	second := h.open(t)
	require.NotEqual(t, first, second)

	// The device still holding the first identifier pairs with nobody.
	resp, _ := h.get(t, h.device, "/bind?id="+first+"&what=download")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	_, body := h.get(t, h.browser, "/login")
	require.Equal(t, "pairingPoll();", body)
}

func TestBindRejections(t *testing.T) {
	h := newHarness(t)
	id := h.open(t)

	for _, q := range []string{
		"/bind?what=upload",
		"/bind?id=" + id,
		"/bind?id=" + id + "&what=sideways",
		"/bind?id=" + uuid.NewString() + "&what=upload",
		"/bind?id=nonsense&what=download",
	} {
		resp, body := h.get(t, h.device, q)
		require.Equalf(t, http.StatusForbidden, resp.StatusCode, "query %s", q)
		require.Equal(t, "403 Forbidden\n", body)
	}
}

func TestDeviceEndpointsRejectBadInput(t *testing.T) {
	h := newHarness(t)
	id := h.open(t)

	resp, _ := h.get(t, h.device, "/api/filelist")
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.get(t, h.device, "/api/filelist?id="+uuid.NewString())
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp, _ = h.get(t, h.device, "/api/download/nope?id="+id)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.upload(t, h.device, "/api/upload", "files", map[string]string{"id": id}, nil)
	require.Equal(t, http.StatusForbidden, resp.StatusCode)

	resp = h.upload(t, h.device, "/api/upload", "files", nil, map[string]string{"a.txt": "a"})
	require.Equal(t, http.StatusForbidden, resp.StatusCode)
}

func TestIconRedirects(t *testing.T) {
	h := newHarness(t)

	resp, _ := h.get(t, h.device, "/icon/report.pdf")
	require.Equal(t, http.StatusFound, resp.StatusCode)
	require.Equal(t, "/static/icon/application-pdf.svg", resp.Header.Get("Location"))

	resp, _ = h.get(t, h.device, "/icon/notes")
	require.Equal(t, "/static/"+web.DefaultIcon, resp.Header.Get("Location"))

	resp, body := h.get(t, h.device, "/static/icon/text.svg")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "<svg")
}

func TestHealthAndMetrics(t *testing.T) {
	h := newHarness(t)

	resp, body := h.get(t, h.device, "/healthz")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Equal(t, "ok", body)

	resp, body = h.get(t, h.device, "/metrics")
	require.Equal(t, http.StatusOK, resp.StatusCode)
	require.Contains(t, body, "http_requests_total")
	require.NotEmpty(t, resp.Header.Get("X-Request-ID"))
}
