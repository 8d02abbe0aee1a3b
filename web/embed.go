// Package web embeds the HTML templates and static assets of the wiki.
package web

import (
	"embed"
	"io/fs"
)

//go:embed all:templates
var templateFS embed.FS

//go:embed all:static
var staticFS embed.FS

// TemplateFS holds templates/layouts and templates/pages.
var TemplateFS fs.FS = templateFS

// Static returns the static assets rooted at their own directory, ready to
// be served below /static/.
func Static() (fs.FS, error) {
	return fs.Sub(staticFS, "static")
}
