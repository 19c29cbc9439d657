package web

import (
	"net/http"
	"os"
	"path"
	"path/filepath"
	"strings"
)

// SPAHandler serves a built frontend from a directory on disk, falling back
// to index.html for extensionless paths so client-side routes resolve while
// missing assets still return 404.
type SPAHandler struct {
	root       string
	fileServer http.Handler
}

// NewSPAHandler creates a handler serving files under root.
func NewSPAHandler(root string) *SPAHandler {
	return &SPAHandler{
		root:       root,
		fileServer: http.FileServer(http.Dir(root)),
	}
}

func (h *SPAHandler) ServeHTTP(w http.ResponseWriter, r *http.Request) {
	// Clean before touching the disk so ".." segments cannot stat outside
	// root; http.FileServer sanitizes the same way when it serves.
	urlPath := path.Clean("/" + r.URL.Path)
	if urlPath == "/" {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	filePath := filepath.Join(h.root, filepath.FromSlash(strings.TrimPrefix(urlPath, "/")))
	if _, err := os.Stat(filePath); err == nil {
		h.fileServer.ServeHTTP(w, r)
		return
	}

	// File not found. Paths with extensions (e.g. .css, .js, .png) are real
	// asset requests and must 404 to avoid MIME-type mismatches; everything
	// else is a client-side route and gets index.html.
	if path.Ext(urlPath) != "" {
		http.NotFound(w, r)
		return
	}

	r.URL.Path = "/"
	h.fileServer.ServeHTTP(w, r)
}
