package httpapi

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed static/*
var rendererAssets embed.FS

// newStaticHandler serves the kiosk renderer page. Assets are never cached so
// a kiosk screen picks up a new build on reload.
func newStaticHandler() http.Handler {
	sub, err := fs.Sub(rendererAssets, "static")
	if err != nil {
		return http.NotFoundHandler()
	}
	files := http.FileServer(http.FS(sub))
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		w.Header().Set("Cache-Control", "no-cache")
		files.ServeHTTP(w, r)
	})
}
