// Package config loads eventpipe configuration. Values are layered:
// Default(), then a YAML (or JSON) file, then EVENTPIPE_* environment
// variables, then command-line flags applied by the caller.
//
//	cfg, err := config.Load("/etc/eventpipe.yaml")
//	if err != nil { ... }
//	if err := config.FromEnv(&cfg); err != nil { ... }
//	if err := cfg.Validate(); err != nil { ... }
package config
