// Package webui embeds the browser interface assets.
package webui

import "embed"

//go:embed templates static
var FS embed.FS
