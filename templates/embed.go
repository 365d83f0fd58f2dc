// Package templates embeds the default configuration files that
// drover setup materializes on a new host.
package templates

import "embed"

//go:embed drover.toml host.yaml
var FS embed.FS
