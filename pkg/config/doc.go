// Package config provides configuration loading, defaults, validation, and
// hot reload for Tollgate.
//
// Configuration is read from a YAML file, filled with defaults, validated,
// and optionally overridden by TOLLGATE_* environment variables:
//
//	cfg, err := config.LoadWithEnvOverrides("tollgate.yaml")
//
// A Watcher can monitor the file for edits and deliver freshly validated
// configurations at runtime, which the quota manager uses to pick up ceiling
// changes without a restart:
//
//	w, _ := config.NewWatcher("tollgate.yaml", 0)
//	go w.Watch(ctx, func(cfg *config.Config) { mgr.ApplyConfig(cfg) })
//
// Invalid intermediate states during a reload are logged and skipped; the
// previous configuration stays in effect.
package config
