// Package config holds the typed configuration knobs shared by the
// coordinator and peer binaries: timing parameters from spec.md §6 plus the
// ambient knobs this expansion adds (tenancy ID, fact-store directory,
// sync-store poll interval). Values are sourced from environment variables,
// the teacher's own idiom in cmd/coordinator and cmd/node, with an optional
// YAML file that overrides any of the same knobs.
package config
