// Package web holds the browser-facing collaborators: HTML templates, static
// assets, file-type icons and the QR code image.
package web

import (
	"bytes"
	"embed"
	"html/template"
	"io/fs"
	"mime"
	"net/http"
	"path"
	"strings"

	"github.com/skip2/go-qrcode"
)

//go:embed templates/*.html
var templateFS embed.FS

//go:embed static
var staticFS embed.FS

const DefaultIcon = "icon/text.svg"

type Renderer struct {
	tmpl *template.Template
}

func NewRenderer() (*Renderer, error) {
	tmpl, err := template.ParseFS(templateFS, "templates/*.html")
	if err != nil {
		return nil, err
	}
	return &Renderer{tmpl: tmpl}, nil
}

// Render executes into a buffer first so a template error never leaves a
// half-written page behind.
func (r *Renderer) Render(w http.ResponseWriter, name string, data any) error {
	var buf bytes.Buffer
	if err := r.tmpl.ExecuteTemplate(&buf, name, data); err != nil {
		return err
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	_, err := buf.WriteTo(w)
	return err
}

func Static() http.Handler {
	sub, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic(err)
	}
	return http.FileServer(http.FS(sub))
}

// IconPath maps a file name to an icon under /static: the exact MIME type
// first, then its top-level type, then the generic text icon.
func IconPath(name string) string {
	mt := mime.TypeByExtension(strings.ToLower(path.Ext(name)))
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	mt = strings.TrimSpace(mt)
	if mt == "" {
		return DefaultIcon
	}
	candidates := []string{"icon/" + strings.ReplaceAll(mt, "/", "-") + ".svg"}
	if top, _, ok := strings.Cut(mt, "/"); ok {
		candidates = append(candidates, "icon/"+top+".svg")
	}
	for _, c := range candidates {
		if _, err := fs.Stat(staticFS, "static/"+c); err == nil {
			return c
		}
	}
	return DefaultIcon
}

// QRCode renders text as a PNG.
func QRCode(text string) ([]byte, error) {
	return qrcode.Encode(text, qrcode.Low, 256)
}
