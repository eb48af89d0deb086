package transport

import (
	"net/http"
	"strings"

	"github.com/go-chi/chi/v5"
	"github.com/spf13/afero"
)

// RegisterStatic serves the image directory dir of fs under prefix.
// Directory listings are not exposed.
func RegisterStatic(r chi.Router, fs afero.Fs, dir, prefix string) {
	prefix = "/" + strings.Trim(prefix, "/")
	files := http.StripPrefix(prefix, http.FileServer(afero.NewHttpFs(fs).Dir(dir)))

	r.Get(prefix+"/*", func(w http.ResponseWriter, r *http.Request) {
		if strings.HasSuffix(r.URL.Path, "/") {
			http.NotFound(w, r)
			return
		}
		files.ServeHTTP(w, r)
	})
}
