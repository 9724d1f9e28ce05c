package http

import (
	"context"
	"encoding/json"
	"errors"
	"mime/multipart"
	"net/http"
	"time"

	"qrdrop/internal/domain"
	"qrdrop/internal/httpx"
	"qrdrop/internal/observability/metrics"
	"qrdrop/internal/observability/middleware"
	"qrdrop/internal/service"
	"qrdrop/internal/session"
	"qrdrop/internal/web"

	"github.com/go-chi/chi/v5"
	chimw "github.com/go-chi/chi/v5/middleware"
	"github.com/go-chi/cors"
	"github.com/go-chi/httprate"
	"github.com/prometheus/client_golang/prometheus/promhttp"
)

const (
	browserUploadField = "file"
	deviceUploadField  = "files"

	// multipartMemory is how much of a multipart body is kept in memory
	// before spilling to temp files.
	multipartMemory = 32 << 20
)

var directiveScripts = map[domain.Directive]string{
	domain.DirectiveRetry:    "pairingPoll();",
	domain.DirectiveUpload:   `window.location = "/upload";`,
	domain.DirectiveDownload: `window.location = "/download";`,
}

type Options struct {
	Sessions       *session.Manager
	Renderer       *web.Renderer
	MaxUploadBytes int64
	CORSOrigins    []string
	BindRateLimit  int
}

type Handler struct {
	svc       *service.Service
	sessions  *session.Manager
	renderer  *web.Renderer
	maxUpload int64
}

// fileEntry is one element of a file-list response.
type fileEntry struct {
	ID   string `json:"id"`
	Name string `json:"name"`
	URI  string `json:"uri"`
	Size int64  `json:"size"`
	Icon string `json:"icon"`
}

func NewRouter(svc *service.Service, opts Options) http.Handler {
	if opts.MaxUploadBytes <= 0 {
		opts.MaxUploadBytes = 512 << 20
	}
	if opts.BindRateLimit <= 0 {
		opts.BindRateLimit = 60
	}
	h := &Handler{
		svc:       svc,
		sessions:  opts.Sessions,
		renderer:  opts.Renderer,
		maxUpload: opts.MaxUploadBytes,
	}

	r := chi.NewRouter()
	r.Use(middleware.WithRequestAndTrace)
	r.Use(chimw.RealIP)
	r.Use(chimw.Recoverer)
	r.Use(middleware.WithMetrics)
	r.Use(httpx.LogRequests)

	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.WriteHeader(http.StatusOK)
		_, _ = w.Write([]byte("ok"))
	})
	r.Handle("/metrics", promhttp.Handler())
	r.Handle("/static/*", http.StripPrefix("/static/", web.Static()))
	r.Get("/icon/{name}", h.handleIcon)
	r.Get("/", h.handleIndex)

	// Browser side: the identifier travels in the session cookie.
	r.Group(func(sr chi.Router) {
		sr.Use(h.sessions.Require(httpx.Forbidden))
		sr.Get("/qrcode", h.handleQRCode)
		sr.Get("/login", h.handleLogin)

		sr.Group(func(pr chi.Router) {
			pr.Use(h.requirePaired)
			pr.Get("/upload", h.handlePage("upload.html"))
			pr.Post("/upload", h.handleBrowserUpload)
			pr.Get("/download", h.handlePage("download.html"))
			pr.Get("/filelist", h.handleBrowserFileList)
			pr.Get("/download/{contentKey}", h.handleBrowserDownload)
		})
	})

	// Device side: the identifier is an explicit parameter.
	r.Group(func(dr chi.Router) {
		dr.Use(cors.Handler(cors.Options{
			AllowedOrigins: opts.CORSOrigins,
			AllowedMethods: []string{"GET", "POST", "OPTIONS"},
			AllowedHeaders: []string{"Content-Type", "X-Request-Id"},
			ExposedHeaders: []string{"Content-Disposition", "X-Request-Id"},
			MaxAge:         300,
		}))
		dr.With(httprate.LimitByIP(opts.BindRateLimit, time.Minute)).Get("/bind", h.handleBind)
		dr.Post("/api/upload", h.handleDeviceUpload)
		dr.Get("/api/filelist", h.handleDeviceFileList)
		dr.Get("/api/download/{contentKey}", h.handleDeviceDownload)
	})

	return r
}

// handleIndex starts over: every visit issues a fresh identifier, which
// orphans whatever a stale tab was still polling for.
func (h *Handler) handleIndex(w http.ResponseWriter, r *http.Request) {
	id, err := h.svc.ResetIdentity(r.Context())
	if err != nil {
		h.internalError(w, r, "reset identity", err)
		return
	}
	if err := h.sessions.Bind(w, id); err != nil {
		h.internalError(w, r, "bind session", err)
		return
	}
	noStore(w)
	if err := h.renderer.Render(w, "index.html", nil); err != nil {
		h.internalError(w, r, "render index", err)
	}
}

func (h *Handler) handleQRCode(w http.ResponseWriter, r *http.Request) {
	id, _ := session.IdentifierFrom(r.Context())
	png, err := web.QRCode(id)
	if err != nil {
		h.internalError(w, r, "qr code", err)
		return
	}
	noStore(w)
	w.Header().Set("Content-Type", "image/png")
	_, _ = w.Write(png)
}

// handleLogin answers the pairing wait with a script the page evaluates.
func (h *Handler) handleLogin(w http.ResponseWriter, r *http.Request) {
	id, _ := session.IdentifierFrom(r.Context())
	directive, err := h.svc.AwaitPairing(r.Context(), id)
	if err != nil {
		h.pollFailed(w, r, "pairing", err)
		return
	}
	outcome := "ready"
	if directive == domain.DirectiveRetry {
		outcome = "exhausted"
	}
	metrics.PollsTotal.WithLabelValues("pairing", outcome).Inc()

	noStore(w)
	w.Header().Set("Content-Type", "text/javascript; charset=utf-8")
	_, _ = w.Write([]byte(directiveScripts[directive]))
}

func (h *Handler) handlePage(name string) http.HandlerFunc {
	return func(w http.ResponseWriter, r *http.Request) {
		noStore(w)
		if err := h.renderer.Render(w, name, nil); err != nil {
			h.internalError(w, r, "render "+name, err)
		}
	}
}

// requirePaired sends a browser whose identifier is unknown or still OFFLINE
// back to the entry page.
func (h *Handler) requirePaired(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		id, _ := session.IdentifierFrom(r.Context())
		state, err := h.svc.State(r.Context(), id)
		if err != nil && !errors.Is(err, domain.ErrIdentityNotFound) {
			h.internalError(w, r, "read state", err)
			return
		}
		if err != nil || state == domain.StateOffline {
			http.Redirect(w, r, "/", http.StatusFound)
			return
		}
		next.ServeHTTP(w, r)
	})
}

func (h *Handler) handleBrowserUpload(w http.ResponseWriter, r *http.Request) {
	id, _ := session.IdentifierFrom(r.Context())
	if !h.parseUpload(w, r) {
		return
	}
	h.ingest(w, r, id, browserUploadField, browserURI)
}

func (h *Handler) handleBrowserFileList(w http.ResponseWriter, r *http.Request) {
	id, _ := session.IdentifierFrom(r.Context())
	h.fileList(w, r, id, browserURI)
}

func (h *Handler) handleBrowserDownload(w http.ResponseWriter, r *http.Request) {
	id, _ := session.IdentifierFrom(r.Context())
	h.serveFile(w, r, id, chi.URLParam(r, "contentKey"))
}

func (h *Handler) handleIcon(w http.ResponseWriter, r *http.Request) {
	http.Redirect(w, r, "/static/"+web.IconPath(chi.URLParam(r, "name")), http.StatusFound)
}

// parseUpload bounds and parses a multipart body. It writes the rejection
// itself and reports whether the handler should continue.
func (h *Handler) parseUpload(w http.ResponseWriter, r *http.Request) bool {
	r.Body = http.MaxBytesReader(w, r.Body, h.maxUpload)
	if err := r.ParseMultipartForm(multipartMemory); err != nil {
		var tooLarge *http.MaxBytesError
		if errors.As(err, &tooLarge) {
			http.Error(w, "413 Request Entity Too Large", http.StatusRequestEntityTooLarge)
			return false
		}
		middleware.Logger(r.Context()).Debug("multipart parse failed", "error", err)
		httpx.Forbidden(w, r)
		return false
	}
	return true
}

// ingest stages the files of field in form order.
func (h *Handler) ingest(w http.ResponseWriter, r *http.Request, id, field string, uri func(id, key string) string) {
	var headers []*multipart.FileHeader
	if r.MultipartForm != nil {
		headers = r.MultipartForm.File[field]
	}
	uploads := make([]service.Upload, 0, len(headers))
	for _, fh := range headers {
		f, err := fh.Open()
		if err != nil {
			closeUploads(uploads)
			h.internalError(w, r, "open upload part", err)
			return
		}
		uploads = append(uploads, service.Upload{Name: fh.Filename, Body: f})
	}
	defer closeUploads(uploads)

	staged, err := h.svc.Ingest(r.Context(), id, uploads)
	for _, f := range staged {
		metrics.FilesIngestedTotal.WithLabelValues().Inc()
		metrics.FileBytes.WithLabelValues().Observe(float64(f.Size))
	}
	if err != nil {
		if errors.Is(err, domain.ErrEmptyUpload) || errors.Is(err, domain.ErrIdentityNotFound) {
			httpx.Forbidden(w, r)
			return
		}
		h.internalError(w, r, "ingest", err)
		return
	}
	writeJSON(w, http.StatusOK, entries(id, staged, uri))
}

func (h *Handler) fileList(w http.ResponseWriter, r *http.Request, id string, uri func(id, key string) string) {
	files, err := h.svc.AwaitFiles(r.Context(), id)
	if err != nil {
		h.pollFailed(w, r, "filelist", err)
		return
	}
	outcome := "ready"
	if len(files) == 0 {
		outcome = "exhausted"
	}
	metrics.PollsTotal.WithLabelValues("filelist", outcome).Inc()
	metrics.FilesDeliveredTotal.WithLabelValues().Add(float64(len(files)))

	noStore(w)
	writeJSON(w, http.StatusOK, entries(id, files, uri))
}

func (h *Handler) serveFile(w http.ResponseWriter, r *http.Request, id, key string) {
	f, meta, err := h.svc.Retrieve(r.Context(), id, key)
	if err != nil {
		if errors.Is(err, domain.ErrFileNotFound) {
			httpx.Forbidden(w, r)
			return
		}
		h.internalError(w, r, "retrieve", err)
		return
	}
	defer f.Close()

	w.Header().Set("Content-Disposition", httpx.ContentDisposition(meta.DisplayName))
	if meta.MimeType != "" {
		w.Header().Set("Content-Type", meta.MimeType)
	}
	http.ServeContent(w, r, meta.DisplayName, meta.CreatedAt, f)
}

// pollFailed maps a failed long-poll. A client that hung up gets nothing.
func (h *Handler) pollFailed(w http.ResponseWriter, r *http.Request, kind string, err error) {
	switch {
	case errors.Is(err, context.Canceled), errors.Is(err, context.DeadlineExceeded):
		metrics.PollsTotal.WithLabelValues(kind, "cancelled").Inc()
		middleware.Logger(r.Context()).Debug("poll abandoned", "kind", kind)
	case errors.Is(err, domain.ErrIdentityNotFound):
		metrics.PollsTotal.WithLabelValues(kind, "rejected").Inc()
		httpx.Forbidden(w, r)
	default:
		metrics.PollsTotal.WithLabelValues(kind, "error").Inc()
		h.internalError(w, r, kind+" poll", err)
	}
}

func (h *Handler) internalError(w http.ResponseWriter, r *http.Request, op string, err error) {
	middleware.Logger(r.Context()).Error(op+" failed", "error", err)
	http.Error(w, "internal error", http.StatusInternalServerError)
}

func entries(id string, files []domain.StagedFile, uri func(id, key string) string) []fileEntry {
	out := make([]fileEntry, 0, len(files))
	for _, f := range files {
		out = append(out, fileEntry{
			ID:   f.ContentKey,
			Name: f.DisplayName,
			URI:  uri(id, f.ContentKey),
			Size: f.Size,
			Icon: "/static/" + web.IconPath(f.DisplayName),
		})
	}
	return out
}

func browserURI(_, key string) string { return "/download/" + key }

func closeUploads(uploads []service.Upload) {
	for _, up := range uploads {
		if c, ok := up.Body.(multipart.File); ok {
			_ = c.Close()
		}
	}
}

func noStore(w http.ResponseWriter) {
	w.Header().Set("Cache-Control", "no-store")
}

func writeJSON(w http.ResponseWriter, status int, v any) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	_ = json.NewEncoder(w).Encode(v)
}
