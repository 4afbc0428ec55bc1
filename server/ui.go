package server

import (
	"embed"
	"html/template"
	"net/http"
)

//go:embed static
var staticFS embed.FS

var indexTemplate = template.Must(template.ParseFS(staticFS, "static/index.html"))

// pageData is injected into the page as window.__INJECTED__.
type pageData struct {
	Session          string `json:"session"`
	ProjectDirectory string `json:"projectDirectory"`
	Prompt           string `json:"prompt"`
	DialogTimeoutMs  int64  `json:"dialogTimeoutMs"`
	ImageToText      bool   `json:"imageToText"`
	CreatedAt        int64  `json:"createdAt"`
}

func (s *Server) handleIndex(w http.ResponseWriter, r *http.Request) {
	data := pageData{
		Session:          s.session.ID,
		ProjectDirectory: s.session.ProjectDirectory,
		Prompt:           s.session.PromptSummary,
		DialogTimeoutMs:  s.opts.DialogTimeout.Milliseconds(),
		ImageToText:      s.opts.EnableImageToText,
		CreatedAt:        s.session.CreatedAt.UnixMilli(),
	}
	w.Header().Set("Content-Type", "text/html; charset=utf-8")
	w.Header().Set("Cache-Control", "no-store")
	if err := indexTemplate.Execute(w, data); err != nil {
		s.logger.Error("render index", "err", err)
	}
}
