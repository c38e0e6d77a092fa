package main

import (
	"context"
	"fmt"
	"io"
	"net"
	"net/http"
	"os"
	"os/exec"
	"path/filepath"
	"strings"
	"time"

	"sourcekit/internal/adapter/sqlite"
	"sourcekit/internal/infra/config"
)

// CheckStatus represents the result of a health check.
type CheckStatus string

const (
	StatusPass CheckStatus = "PASS"
	StatusWarn CheckStatus = "WARN"
	StatusFail CheckStatus = "FAIL"
)

// CheckResult holds the outcome of a single health check.
type CheckResult struct {
	Name    string
	Status  CheckStatus
	Message string
	Fix     string // optional fix suggestion
}

// Check is a named health check function.
type Check struct {
	Name string
	Fn   func(cfg *config.Config) CheckResult
}

// runDoctor executes all health checks and reports results.
func runDoctor(cfgPath string, out io.Writer) error {
	cfg, cfgErr := config.Load(cfgPath)

	checks := []Check{
		{Name: "Config file", Fn: checkConfigFile(cfgPath, cfgErr)},
		{Name: "Storage", Fn: checkStorage},
		{Name: "Keychain", Fn: checkKeychain},
		{Name: "Disk space", Fn: checkDiskSpace},
		{Name: "Repositories", Fn: checkRepositories},
		{Name: "Bridge", Fn: checkBridge},
	}

	fmt.Fprintln(out, "sourcekit doctor")
	fmt.Fprintln(out, strings.Repeat("=", 50))
	fmt.Fprintln(out)

	var pass, warn, fail int
	for _, check := range checks {
		result := check.Fn(cfg)
		result.Name = check.Name

		fmt.Fprintf(out, "  [%s] %s: %s\n", result.Status, result.Name, result.Message)
		if result.Fix != "" {
			fmt.Fprintf(out, "      Fix: %s\n", result.Fix)
		}

		switch result.Status {
		case StatusPass:
			pass++
		case StatusWarn:
			warn++
		case StatusFail:
			fail++
		}
	}

	fmt.Fprintln(out)
	fmt.Fprintln(out, strings.Repeat("-", 50))
	fmt.Fprintf(out, "Results: %d passed, %d warnings, %d failed\n", pass, warn, fail)

	if fail > 0 {
		return fmt.Errorf("%d check(s) failed", fail)
	}
	return nil
}

func notLoaded() CheckResult {
	return CheckResult{Status: StatusFail, Message: "cannot check, config not loaded"}
}

// checkConfigFile reports whether the config parsed. A missing file is fine:
// the defaults apply.
func checkConfigFile(cfgPath string, cfgErr error) func(*config.Config) CheckResult {
	return func(_ *config.Config) CheckResult {
		if cfgErr != nil {
			return CheckResult{
				Status:  StatusFail,
				Message: fmt.Sprintf("config error: %v", cfgErr),
				Fix:     "Check " + cfgPath + " syntax and values",
			}
		}
		if _, err := os.Stat(cfgPath); os.IsNotExist(err) {
			return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("no config at %s, using defaults", cfgPath)}
		}
		return CheckResult{Status: StatusPass, Message: fmt.Sprintf("config loaded from %s", cfgPath)}
	}
}

func checkStorage(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	db, err := sqlite.Open(cfg.Storage.DBPath)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot open %s: %v", cfg.Storage.DBPath, err),
			Fix:     "Check storage.db_path points to a writable location",
		}
	}
	defer db.Close()

	descs, err := db.Extensions().List(context.Background())
	if err != nil {
		return CheckResult{Status: StatusFail, Message: fmt.Sprintf("cannot read extensions: %v", err)}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s (%d installed extensions)", cfg.Storage.DBPath, len(descs))}
}

func checkKeychain(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if cfg.Storage.KeychainKeyEnv == "" || os.Getenv(cfg.Storage.KeychainKeyEnv) == "" {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no keychain passphrase, extension credentials are stored unencrypted",
			Fix:     "Set " + cfg.Storage.KeychainKeyEnv + " to a passphrase",
		}
	}
	return CheckResult{Status: StatusPass, Message: "keychain encryption enabled"}
}

func checkDiskSpace(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	absDir, _ := filepath.Abs(cfg.Runtime.DataDir)
	info, err := os.Stat(absDir)
	if err != nil || !info.IsDir() {
		return CheckResult{Status: StatusPass, Message: "data directory does not exist yet, space check skipped"}
	}

	out, err := exec.Command("df", "-h", absDir).Output()
	if err != nil {
		return CheckResult{Status: StatusWarn, Message: "could not determine disk space (df command failed)"}
	}
	lines := strings.Split(strings.TrimSpace(string(out)), "\n")
	fields := strings.Fields(lines[len(lines)-1])
	if len(lines) < 2 || len(fields) < 5 {
		return CheckResult{Status: StatusWarn, Message: "unexpected df output format"}
	}

	available, usePercent := fields[3], fields[4]
	var pct int
	fmt.Sscanf(strings.TrimSuffix(usePercent, "%"), "%d", &pct)
	switch {
	case pct >= 95:
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("disk almost full: %s used, %s available", usePercent, available),
			Fix:     "Free up disk space or move runtime.data_dir",
		}
	case pct >= 85:
		return CheckResult{Status: StatusWarn, Message: fmt.Sprintf("disk usage high: %s used, %s available", usePercent, available)}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("disk usage: %s used, %s available", usePercent, available)}
}

// checkRepositories fetches each repository listing once.
func checkRepositories(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if len(cfg.Repositories.URLs) == 0 && len(cfg.Repositories.LocalDirs) == 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "no repositories or local extension directories configured",
			Fix:     "Add repositories.urls or repositories.local_dirs",
		}
	}

	client := &http.Client{Timeout: 10 * time.Second}
	var bad []string
	for _, base := range cfg.Repositories.URLs {
		resp, err := client.Get(strings.TrimRight(base, "/") + "/versioning.json")
		if err != nil {
			bad = append(bad, base)
			continue
		}
		resp.Body.Close()
		if resp.StatusCode != http.StatusOK {
			bad = append(bad, fmt.Sprintf("%s (HTTP %d)", base, resp.StatusCode))
		}
	}
	if len(bad) > 0 {
		return CheckResult{
			Status:  StatusWarn,
			Message: "unreachable: " + strings.Join(bad, ", "),
			Fix:     "Check the repository URLs and your network",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%d repositories reachable", len(cfg.Repositories.URLs))}
}

func checkBridge(cfg *config.Config) CheckResult {
	if cfg == nil {
		return notLoaded()
	}
	if !cfg.Bridge.Enabled {
		return CheckResult{Status: StatusPass, Message: "disabled, all extensions run headless"}
	}
	ln, err := net.Listen("tcp", cfg.Bridge.Addr)
	if err != nil {
		return CheckResult{
			Status:  StatusFail,
			Message: fmt.Sprintf("cannot listen on %s: %v", cfg.Bridge.Addr, err),
			Fix:     "Pick a free bridge.addr or stop the other process",
		}
	}
	ln.Close()
	if cfg.Bridge.Auth.Type != "static" {
		return CheckResult{
			Status:  StatusWarn,
			Message: fmt.Sprintf("listening on %s without authentication", cfg.Bridge.Addr),
			Fix:     "Set bridge.auth.type: static and add tokens",
		}
	}
	return CheckResult{Status: StatusPass, Message: fmt.Sprintf("%s with %d token(s)", cfg.Bridge.Addr, len(cfg.Bridge.Auth.Tokens))}
}
