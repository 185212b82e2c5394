// Package config defines the server configuration model.
//
// Configuration is loaded from an optional YAML file and overridden by CLI
// flags in cmd/stashd. The resulting Config is validated once and then
// treated as immutable: every handler receives it by value at construction
// time, so there is no ambient mutable server state to reach for.
package config
