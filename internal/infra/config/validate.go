package config

import (
	"fmt"
	"net"
	"net/url"
	"strings"
	"time"

	"github.com/robfig/cron/v3"
)

// ValidationError accumulates config validation errors.
type ValidationError struct {
	Errors []string
}

func (v *ValidationError) Error() string {
	return "config validation failed:\n  - " + strings.Join(v.Errors, "\n  - ")
}

// HasErrors reports whether any validation errors have been recorded.
func (v *ValidationError) HasErrors() bool {
	return len(v.Errors) > 0
}

// Add records a formatted validation error.
func (v *ValidationError) Add(format string, args ...interface{}) {
	v.Errors = append(v.Errors, fmt.Sprintf(format, args...))
}

// Validate checks cfg for structural correctness. It returns a *ValidationError
// when one or more problems are found, allowing callers to inspect all issues.
func Validate(cfg *Config) error {
	ve := &ValidationError{}
	validateRuntime(cfg, ve)
	validateNetwork(cfg, ve)
	validateStorage(cfg, ve)
	validateRepositories(cfg, ve)
	validateBridge(cfg, ve)
	validateDispatch(cfg, ve)
	validateImaging(cfg, ve)
	validateScheduler(cfg, ve)
	validateLogger(cfg, ve)
	validateTracer(cfg, ve)
	if ve.HasErrors() {
		return ve
	}
	return nil
}

func validateRuntime(cfg *Config, ve *ValidationError) {
	if cfg.Runtime.DataDir == "" {
		ve.Add("runtime.data_dir must not be empty")
	}
	if cfg.Runtime.ExecTimeout < 0 {
		ve.Add("runtime.exec_timeout must be >= 0")
	}
	if cfg.Runtime.WASMMaxMemoryPages == 0 || cfg.Runtime.WASMMaxMemoryPages > 65536 {
		ve.Add("runtime.wasm_max_memory_pages must be in 1..65536")
	}
	for i, c := range cfg.Runtime.WASMCapabilities {
		if !validWASMCapabilities[c] {
			ve.Add("runtime.wasm_capabilities[%d] %q is not a known capability", i, c)
		}
	}
}

var validWASMCapabilities = map[string]bool{
	"log":      true,
	"request":  true,
	"state":    true,
	"keychain": true,
}

func validateNetwork(cfg *Config, ve *ValidationError) {
	if cfg.Network.RequestTimeout <= 0 {
		ve.Add("network.request_timeout must be > 0")
	}
	if cfg.Network.DefaultRPS < 0 {
		ve.Add("network.default_rps must be >= 0")
	}
	if cfg.Network.MaxBodyBytes <= 0 {
		ve.Add("network.max_body_bytes must be > 0")
	}
	if cfg.Network.BreakerMaxFailures == 0 {
		ve.Add("network.breaker_max_failures must be > 0")
	}
	if cfg.Network.BreakerTimeout <= 0 {
		ve.Add("network.breaker_timeout must be > 0")
	}
}

func validateStorage(cfg *Config, ve *ValidationError) {
	if cfg.Storage.DBPath == "" {
		ve.Add("storage.db_path must not be empty")
	}
}

func validateRepositories(cfg *Config, ve *ValidationError) {
	for i, raw := range cfg.Repositories.URLs {
		u, err := url.Parse(raw)
		if err != nil || (u.Scheme != "http" && u.Scheme != "https") || u.Host == "" {
			ve.Add("repositories.urls[%d] %q must be an absolute http(s) URL", i, raw)
		}
	}
	if cfg.Repositories.CacheTTL < 0 {
		ve.Add("repositories.cache_ttl must be >= 0")
	}
	if len(cfg.Repositories.URLs) > 0 && cfg.Repositories.CacheDir == "" {
		ve.Add("repositories.cache_dir is required when repositories are configured")
	}
}

func validateBridge(cfg *Config, ve *ValidationError) {
	if cfg.Bridge.AttachWait < 0 || cfg.Bridge.UrgentAttachWait < 0 {
		ve.Add("bridge attach waits must be >= 0")
	}
	if cfg.Bridge.UrgentAttachWait > cfg.Bridge.AttachWait {
		ve.Add("bridge.urgent_attach_wait must not exceed bridge.attach_wait")
	}
	if !cfg.Bridge.Enabled {
		return
	}
	if cfg.Bridge.Addr == "" {
		ve.Add("bridge.addr is required when bridge is enabled")
		return
	}
	if _, _, err := net.SplitHostPort(cfg.Bridge.Addr); err != nil {
		ve.Add("bridge.addr %q is not a valid host:port", cfg.Bridge.Addr)
	}
	if !strings.HasPrefix(cfg.Bridge.Path, "/") {
		ve.Add("bridge.path must start with /")
	}
	switch cfg.Bridge.Auth.Type {
	case "":
	case "static":
		if len(cfg.Bridge.Auth.Tokens) == 0 {
			ve.Add("bridge.auth.tokens must not be empty when auth type is static")
		}
		for i, tok := range cfg.Bridge.Auth.Tokens {
			if tok.Token == "" {
				ve.Add("bridge.auth.tokens[%d].token must not be empty", i)
			}
		}
	default:
		ve.Add("bridge.auth.type %q is not supported (want \"static\" or empty)", cfg.Bridge.Auth.Type)
	}
}

func validateDispatch(cfg *Config, ve *ValidationError) {
	if cfg.Dispatch.MaxPages <= 0 {
		ve.Add("dispatch.max_pages must be > 0")
	}
	if cfg.Dispatch.SearchConcurrency <= 0 {
		ve.Add("dispatch.search_concurrency must be > 0")
	}
}

func validateImaging(cfg *Config, ve *ValidationError) {
	if cfg.Imaging.JPEGQuality < 1 || cfg.Imaging.JPEGQuality > 100 {
		ve.Add("imaging.jpeg_quality must be in 1..100")
	}
	if cfg.Imaging.MaxPixels <= 0 {
		ve.Add("imaging.max_pixels must be > 0")
	}
}

var validSchedulerActions = map[string]bool{
	"refresh_sources": true,
	"reset_headless":  true,
}

func validateScheduler(cfg *Config, ve *ValidationError) {
	if !cfg.Scheduler.Enabled {
		return
	}
	parser := cron.NewParser(cron.Minute | cron.Hour | cron.Dom | cron.Month | cron.Dow | cron.Descriptor)
	for i, t := range cfg.Scheduler.Tasks {
		if t.Name == "" {
			ve.Add("scheduler.tasks[%d].name is required", i)
		}
		if t.Schedule == "" {
			ve.Add("scheduler.tasks[%d].schedule is required", i)
		} else if _, err := parser.Parse(t.Schedule); err != nil && !isDuration(t.Schedule) {
			ve.Add("scheduler.tasks[%d].schedule %q is neither a cron expression nor a duration", i, t.Schedule)
		}
		if !validSchedulerActions[t.Action] {
			ve.Add("scheduler.tasks[%d].action %q is not supported", i, t.Action)
		}
	}
}

var validLogLevels = map[string]bool{"debug": true, "info": true, "warn": true, "warning": true, "error": true}

func validateLogger(cfg *Config, ve *ValidationError) {
	if !validLogLevels[strings.ToLower(cfg.Logger.Level)] {
		ve.Add("logger.level %q is not valid", cfg.Logger.Level)
	}
	if cfg.Logger.Format != "text" && cfg.Logger.Format != "json" {
		ve.Add("logger.format %q is not valid (want text or json)", cfg.Logger.Format)
	}
}

func validateTracer(cfg *Config, ve *ValidationError) {
	if cfg.Tracer.SampleRatio < 0 || cfg.Tracer.SampleRatio > 1 {
		ve.Add("tracer.sample_ratio must be in 0..1")
	}
}

func isDuration(s string) bool {
	_, err := time.ParseDuration(s)
	return err == nil
}
