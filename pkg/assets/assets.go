package assets

import (
	"embed"
	"fmt"
	"html/template"
	"mime"
	"path"
	"strings"
)

//go:embed files/templates/*.html files/static/*
var FS embed.FS

func ParseTemplates() (*template.Template, error) {
	t, err := template.ParseFS(FS, "files/templates/*.html")
	if err != nil {
		return nil, fmt.Errorf("parse embedded templates: %w", err)
	}
	return t, nil
}

// LoadStaticAsset returns the bytes and content type of a file under
// files/static.
func LoadStaticAsset(name string) ([]byte, string, error) {
	clean := strings.TrimPrefix(path.Clean("/"+name), "/")
	if clean == "" || clean == "." || strings.HasPrefix(clean, "..") {
		return nil, "", fmt.Errorf("invalid static asset name")
	}
	b, err := FS.ReadFile("files/static/" + clean)
	if err != nil {
		return nil, "", fmt.Errorf("read static asset: %w", err)
	}
	ct := mime.TypeByExtension(path.Ext(clean))
	if ct == "" {
		ct = "application/octet-stream"
	}
	return b, ct, nil
}
