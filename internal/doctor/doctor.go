// Package doctor implements the diagnostic CLI command (SPEC_FULL.md
// §11.6): a set of read-only checks an operator runs to sanity-check a
// daemon installation before starting it: config and permission checks
// alongside hook auth, platform credentials, container tooling, and
// reachability to the configured chat platforms.
package doctor

import (
	"context"
	"fmt"
	"net"
	"os"
	"os/exec"
	"path/filepath"
	"runtime"
	"time"

	"github.com/discode/discode/internal/config"
)

type CheckResult struct {
	Name    string `json:"name"`
	Status  string `json:"status"` // "PASS", "FAIL", "WARN", "SKIP"
	Message string `json:"message"`
	Detail  string `json:"detail,omitempty"`
}

type Diagnosis struct {
	Timestamp time.Time     `json:"timestamp"`
	System    SystemInfo    `json:"system"`
	Results   []CheckResult `json:"results"`
}

type SystemInfo struct {
	OS      string `json:"os"`
	Arch    string `json:"arch"`
	Go      string `json:"go_version"`
	Version string `json:"version"`
}

// Run executes all diagnostic checks.
func Run(ctx context.Context, cfg *config.Config, version string) Diagnosis {
	d := Diagnosis{
		Timestamp: time.Now().UTC(),
		System: SystemInfo{
			OS:      runtime.GOOS,
			Arch:    runtime.GOARCH,
			Go:      runtime.Version(),
			Version: version,
		},
	}

	checks := []func(context.Context, *config.Config) CheckResult{
		checkConfig,
		checkHookAuth,
		checkPlatformCredentials,
		checkPermissions,
		checkContainerTooling,
		checkNetwork,
	}

	for _, check := range checks {
		d.Results = append(d.Results, check(ctx, cfg))
	}

	return d
}

func checkConfig(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Config", Status: "FAIL", Message: "Configuration not loaded"}
	}
	if cfg.NeedsGenesis {
		return CheckResult{Name: "Config", Status: "WARN", Message: "Configuration missing (config.yaml not found, defaults in use)"}
	}
	return CheckResult{Name: "Config", Status: "PASS", Message: fmt.Sprintf("Loaded from %s", cfg.HomeDir)}
}

// checkHookAuth verifies a hook bearer token exists (one is generated fresh
// on every daemon start, but a doctor run before first start should still
// confirm the home directory is in a state that lets that happen).
func checkHookAuth(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Hook Auth", Status: "SKIP", Message: "Config missing"}
	}
	tokenPath := filepath.Join(cfg.HomeDir, ".hook-token")
	info, err := os.Stat(tokenPath)
	if os.IsNotExist(err) {
		return CheckResult{Name: "Hook Auth", Status: "WARN", Message: "No hook token yet (written on first daemon start)"}
	}
	if err != nil {
		return CheckResult{Name: "Hook Auth", Status: "FAIL", Message: fmt.Sprintf("Cannot stat hook token: %v", err)}
	}
	if info.Mode().Perm() != 0o600 {
		return CheckResult{
			Name:    "Hook Auth",
			Status:  "WARN",
			Message: fmt.Sprintf("Hook token file has mode %o, expected 0600", info.Mode().Perm()),
		}
	}
	return CheckResult{Name: "Hook Auth", Status: "PASS", Message: "Hook token present with correct permissions"}
}

// checkPlatformCredentials confirms at least one chat platform is
// configured and its required credentials are present (SPEC_FULL.md §4.1).
func checkPlatformCredentials(_ context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Platform Credentials", Status: "SKIP", Message: "Config missing"}
	}

	var details []string
	anyEnabled := false
	ok := true

	if cfg.Slack.Enabled {
		anyEnabled = true
		switch {
		case cfg.Slack.BotToken == "":
			details = append(details, "slack: missing bot_token")
			ok = false
		case cfg.Slack.AppToken == "":
			details = append(details, "slack: missing app_token (required for Socket Mode)")
			ok = false
		default:
			details = append(details, "slack: ok")
		}
	}
	if cfg.Discord.Enabled {
		anyEnabled = true
		if cfg.Discord.BotToken == "" {
			details = append(details, "discord: missing bot_token")
			ok = false
		} else {
			details = append(details, "discord: ok")
		}
	}

	if !anyEnabled {
		return CheckResult{
			Name:    "Platform Credentials",
			Status:  "FAIL",
			Message: "No chat platform enabled",
			Detail:  "Set slack.enabled or discord.enabled (or SLACK_BOT_TOKEN/DISCORD_BOT_TOKEN) in config.yaml",
		}
	}

	status := "PASS"
	if !ok {
		status = "FAIL"
	}
	return CheckResult{Name: "Platform Credentials", Status: status, Message: fmt.Sprintf("%d platform(s) enabled", len(details)), Detail: fmt.Sprint(details)}
}

func checkPermissions(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Permissions", Status: "SKIP", Message: "Config missing"}
	}

	testFile := filepath.Join(cfg.HomeDir, ".write_test")
	if err := os.WriteFile(testFile, []byte("test"), 0o600); err != nil {
		return CheckResult{Name: "Permissions", Status: "FAIL", Message: fmt.Sprintf("Home dir unwritable: %v", err)}
	}
	os.Remove(testFile)

	return CheckResult{Name: "Permissions", Status: "PASS", Message: "Home directory writable"}
}

// checkContainerTooling checks for docker only when any project uses
// container-mode shell execution (SPEC_FULL.md §4.7.1's ContainerExecutor).
func checkContainerTooling(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Container Tooling", Status: "SKIP", Message: "Config missing"}
	}

	if _, err := exec.LookPath("docker"); err != nil {
		return CheckResult{
			Name:    "Container Tooling",
			Status:  "WARN",
			Message: "docker not found on PATH",
			Detail:  "Only needed for projects with container-mode instances; the shell escape hatch falls back to host execution otherwise",
		}
	}

	cmd := exec.CommandContext(ctx, "docker", "info")
	if err := cmd.Run(); err != nil {
		return CheckResult{Name: "Container Tooling", Status: "WARN", Message: fmt.Sprintf("docker daemon unreachable: %v", err)}
	}
	return CheckResult{Name: "Container Tooling", Status: "PASS", Message: "docker available and daemon reachable"}
}

// checkNetwork confirms the enabled chat platforms' API hosts resolve.
func checkNetwork(ctx context.Context, cfg *config.Config) CheckResult {
	if cfg == nil {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "Config missing"}
	}

	hosts := map[string]string{}
	if cfg.Slack.Enabled {
		hosts["slack"] = "slack.com"
	}
	if cfg.Discord.Enabled {
		hosts["discord"] = "discord.com"
	}
	if len(hosts) == 0 {
		return CheckResult{Name: "Network", Status: "SKIP", Message: "No platform enabled"}
	}

	lookupCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
	defer cancel()

	var details []string
	status := "PASS"
	for platform, host := range hosts {
		start := time.Now()
		addrs, err := net.DefaultResolver.LookupHost(lookupCtx, host)
		latency := time.Since(start)
		if err != nil {
			status = "FAIL"
			details = append(details, fmt.Sprintf("%s (%s): lookup failed: %v", platform, host, err))
			continue
		}
		details = append(details, fmt.Sprintf("%s (%s): %d address(es), %dms", platform, host, len(addrs), latency.Milliseconds()))
	}

	return CheckResult{
		Name:    "Network",
		Status:  status,
		Message: fmt.Sprintf("Checked %d platform host(s)", len(hosts)),
		Detail:  fmt.Sprint(details),
	}
}
