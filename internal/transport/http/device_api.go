package http

import (
	"errors"
	"net/http"
	"net/url"

	"qrdrop/internal/domain"
	"qrdrop/internal/httpx"
	"qrdrop/internal/observability/metrics"

	"github.com/go-chi/chi/v5"
)

type bindResponse struct {
	ID     string `json:"id"`
	Intent string `json:"intent"`
	State  string `json:"state"`
}

// deviceID reads the explicit identifier. Older clients send it as uid.
func deviceID(r *http.Request) string {
	if id := r.FormValue("id"); id != "" {
		return id
	}
	return r.FormValue("uid")
}

func deviceURI(id, key string) string {
	return "/api/download/" + key + "?id=" + url.QueryEscape(id)
}

func (h *Handler) handleBind(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)
	intent, err := domain.ParseIntent(r.URL.Query().Get("what"))
	if err != nil || id == "" {
		label := string(intent)
		if err != nil {
			label = "invalid"
		}
		metrics.BindsTotal.WithLabelValues(label, "rejected").Inc()
		httpx.Forbidden(w, r)
		return
	}
	if err := h.svc.DeclareIntent(r.Context(), id, intent); err != nil {
		if errors.Is(err, domain.ErrIdentityNotFound) || errors.Is(err, domain.ErrInvalidIntent) {
			metrics.BindsTotal.WithLabelValues(string(intent), "rejected").Inc()
			httpx.Forbidden(w, r)
			return
		}
		metrics.BindsTotal.WithLabelValues(string(intent), "error").Inc()
		h.internalError(w, r, "declare intent", err)
		return
	}
	metrics.BindsTotal.WithLabelValues(string(intent), "ok").Inc()
	writeJSON(w, http.StatusOK, bindResponse{
		ID:     id,
		Intent: string(intent),
		State:  intent.CounterpartState().String(),
	})
}

func (h *Handler) handleDeviceUpload(w http.ResponseWriter, r *http.Request) {
	if !h.parseUpload(w, r) {
		return
	}
	id := deviceID(r)
	if id == "" {
		httpx.Forbidden(w, r)
		return
	}
	h.ingest(w, r, id, deviceUploadField, deviceURI)
}

func (h *Handler) handleDeviceFileList(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)
	if id == "" {
		httpx.Forbidden(w, r)
		return
	}
	h.fileList(w, r, id, deviceURI)
}

func (h *Handler) handleDeviceDownload(w http.ResponseWriter, r *http.Request) {
	id := deviceID(r)
	if id == "" {
		httpx.Forbidden(w, r)
		return
	}
	h.serveFile(w, r, id, chi.URLParam(r, "contentKey"))
}
