// Package templates embeds the default configuration and parameter files
// that setup copies into a fresh work directory.
package templates

import "embed"

//go:embed config.yaml sed_params.yaml
var FS embed.FS
