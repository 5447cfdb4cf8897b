// Package config loads operator-facing engine configuration from an
// on-disk HUJSON file (JSON with comments and trailing commas), falling
// back to compiled-in defaults for anything the file omits. This mirrors
// the teacher's cmd/warren/apply.go pattern of parsing a declarative file
// on top of defaults, swapped from YAML to HUJSON (github.com/tailscale/hujson)
// so operators can annotate the config the way calvinalkan-agent-task's
// tool config does.
package config
