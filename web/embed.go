// Package web embeds the static dev console page served alongside the
// WebSocket console endpoint.
package web

import (
	"embed"
	"io/fs"
	"net/http"
)

//go:embed all:static
var staticFS embed.FS

// ConsoleHandler returns an http.Handler serving the embedded dev
// console. The root path serves the console page itself.
func ConsoleHandler() http.Handler {
	subFS, err := fs.Sub(staticFS, "static")
	if err != nil {
		panic("web: failed to create sub filesystem: " + err.Error())
	}

	fileServer := http.FileServer(http.FS(subFS))

	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		if r.URL.Path == "/" {
			r.URL.Path = "/console.html"
		}
		fileServer.ServeHTTP(w, r)
	})
}
