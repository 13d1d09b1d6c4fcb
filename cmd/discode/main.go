// Command discode is the daemon entrypoint: it loads configuration, wires
// the hook ingestion server, the event pipeline, the messaging clients, and
// the inbound message router together, then runs until signaled to stop
// (SPEC_FULL.md §5 Cancellation). Startup order matters: audit is
// initialized before the logger so a logger-init failure is still audited,
// and policy is loaded into a live, swappable holder so /reload and SIGHUP
// can replace it in place without a restart.
package main

import (
	"context"
	"encoding/json"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/discode/discode/internal/audit"
	"github.com/discode/discode/internal/bus"
	"github.com/discode/discode/internal/config"
	"github.com/discode/discode/internal/doctor"
	"github.com/discode/discode/internal/execshell"
	"github.com/discode/discode/internal/fallback"
	"github.com/discode/discode/internal/handlers"
	"github.com/discode/discode/internal/hookauth"
	"github.com/discode/discode/internal/hooks"
	"github.com/discode/discode/internal/messaging"
	"github.com/discode/discode/internal/otelobs"
	"github.com/discode/discode/internal/pending"
	"github.com/discode/discode/internal/pipeline"
	"github.com/discode/discode/internal/policy"
	"github.com/discode/discode/internal/project"
	"github.com/discode/discode/internal/router"
	"github.com/discode/discode/internal/safety"
	"github.com/discode/discode/internal/streaming"
	"github.com/discode/discode/internal/telemetry"
	"github.com/discode/discode/internal/timers"
	"github.com/discode/discode/internal/tmux"
)

// Version is set via ldflags at build time: -ldflags "-X main.Version=...".
var Version = "v0.1-dev"

func main() {
	if len(os.Args) > 1 && os.Args[1] == "doctor" {
		os.Exit(runDoctorCommand(os.Args[2:]))
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load()
	if err != nil {
		fatalStartup(nil, "E_CONFIG_LOAD", err)
	}

	if err := audit.Init(cfg.HomeDir); err != nil {
		fatalStartup(nil, "E_AUDIT_INIT", err)
	}
	defer audit.Close()

	logger, logCloser, err := telemetry.NewLogger(cfg.HomeDir, cfg.LogLevel, false)
	if err != nil {
		fatalStartup(nil, "E_LOGGER_INIT", err)
	}
	slog.SetDefault(logger)
	defer logCloser.Close()

	logger.Info("discode starting", "version", Version, "config_fingerprint", cfg.Fingerprint(), "home_dir", cfg.HomeDir)

	otelProvider, err := otelobs.Init(ctx, otelobs.Config{
		Enabled:     cfg.OTelEnabled,
		Exporter:    cfg.OTelExporter,
		Endpoint:    cfg.OTelEndpoint,
		ServiceName: "discode",
	})
	if err != nil {
		fatalStartup(logger, "E_OTEL_INIT", err)
	}
	defer otelProvider.Shutdown(context.Background())

	policyPath := filepath.Join(cfg.HomeDir, "policy.yaml")
	pol, err := policy.Load(policyPath)
	if err != nil {
		fatalStartup(logger, "E_POLICY_LOAD", err)
	}
	livePolicy := policy.NewLivePolicy(pol)

	token, err := hookauth.GenerateToken()
	if err != nil {
		fatalStartup(logger, "E_HOOK_TOKEN", err)
	}
	tokenPath, err := hookauth.WriteTokenFile(cfg.HomeDir, token)
	if err != nil {
		fatalStartup(logger, "E_HOOK_TOKEN_WRITE", err)
	}
	logger.Info("hook token written", "path", tokenPath)
	checker := hookauth.NewChecker(token)

	b := bus.NewWithLogger(logger)
	projects := buildProjectRegistry(cfg)

	client := buildMessagingClient(cfg, logger, projects)

	tracker := pending.New(client)
	streamer := streaming.New(client, time.Duration(cfg.StreamMinEditMS)*time.Millisecond, 0)
	timerReg := timers.New()
	runtime := tmux.New()

	deps := handlers.Deps{
		Tracker:   tracker,
		Streaming: streamer,
		Client:    client,
		Timers:    timerReg,
		Logger:    logger,
		Options:   handlers.Options{PostIntermediateText: true, PostThinking: false, PostUsage: true},
	}
	pipe := pipeline.New(deps, projects, b, logger)
	watchdog := fallback.New(tracker, timerReg, client, runtime)

	r := router.New(router.Config{
		Projects:       projects,
		Tracker:        tracker,
		Runtime:        runtime,
		Fallback:       watchdog,
		Sanitizer:      safety.NewSanitizer(),
		Attachments:    router.NewAttachmentCache(cfg.AttachmentCacheMaxFiles),
		Policy:         livePolicy,
		Client:         client,
		Logger:         logger,
		ShellTimeout:   time.Duration(cfg.Shell.TimeoutSeconds) * time.Second,
		ShellMaxOutput: cfg.Shell.MaxOutputBytes,
		ShellDenyExtra: cfg.Shell.DenyListExtra,
		HostExecutor:   &execshell.HostExecutor{},
	})
	client.OnMessage(r.Handle)

	hookSrv := hooks.New(hooks.Config{
		Checker:  checker,
		Limiter:  hooks.NewLimiter(),
		Projects: projects,
		Pipeline: pipe,
		Bus:      b,
		Logger:   logger,
		ReloadFn: func() error { return reload(cfg.HomeDir, projects, livePolicy, logger) },
	})

	hookAddr := fmt.Sprintf("%s:%d", cfg.HookBindAddr, cfg.HookPort)
	go func() {
		logger.Info("hook server listening", "addr", hookAddr)
		if err := hookSrv.Serve(ctx, hookAddr); err != nil {
			logger.Error("hook server stopped", "err", err)
		}
	}()

	go handleReloadSignal(ctx, cfg.HomeDir, projects, livePolicy, logger)

	clientErrCh := make(chan error, 1)
	go func() { clientErrCh <- client.Start(ctx) }()

	select {
	case <-ctx.Done():
		logger.Info("shutting down", "reason", "signal")
	case err := <-clientErrCh:
		if err != nil {
			logger.Error("messaging client stopped", "err", err)
		}
	}

	if err := client.Close(); err != nil {
		logger.Warn("messaging client close failed", "err", err)
	}
}

// buildProjectRegistry seeds the registry from config.yaml's projects map,
// the daemon's read-only cached view of the external project-state module
// (SPEC_FULL.md §3). Each configured channel binding becomes a provisional
// instance; the hook pipeline and router fill in the rest as events arrive.
func buildProjectRegistry(cfg config.Config) *project.Registry {
	projects := project.NewRegistry()
	for name, entry := range cfg.Projects {
		projects.Register(name, entry.ProjectPath, entry.TmuxSession)
		for _, ch := range entry.Channels {
			inst := project.Instance{
				InstanceID:  ch.InstanceID,
				AgentType:   ch.InstanceID,
				ChannelID:   ch.ChannelID,
				RuntimeType: "tmux",
			}
			if err := projects.UpsertInstance(name, inst); err != nil {
				slog.Default().Warn("skipping malformed channel binding", "project", name, "channel", ch.ChannelID, "err", err)
			}
		}
	}
	return projects
}

// buildMessagingClient wires the enabled platform client(s) behind a single
// messaging.Client, resolving each one's agentTag callback by a linear scan
// over the registered projects (SPEC_FULL.md §3 expects a handful of
// projects per daemon, not thousands, so this is not a hot path).
func buildMessagingClient(cfg config.Config, logger *slog.Logger, projects *project.Registry) messaging.Client {
	agentTag := func(channelID string) (agentType, projectName, instanceID string) {
		for _, name := range projects.Names() {
			if inst, ok := projects.ResolveChannel(name, channelID); ok {
				return inst.AgentType, name, inst.InstanceID
			}
		}
		return "", "", ""
	}

	var clients []messaging.Client
	byChannel := make(map[string]messaging.Client)

	if cfg.Slack.Enabled {
		slackClient := messaging.NewSlackClient(cfg.Slack.BotToken, cfg.Slack.AppToken, logger, agentTag)
		clients = append(clients, slackClient)
		bindChannels(byChannel, cfg, "slack", slackClient)
	}
	if cfg.Discord.Enabled {
		discordClient, err := messaging.NewDiscordClient(cfg.Discord.BotToken, logger, agentTag)
		if err != nil {
			fatalStartup(logger, "E_DISCORD_INIT", err)
		}
		clients = append(clients, discordClient)
		bindChannels(byChannel, cfg, "discord", discordClient)
	}

	if len(clients) == 1 {
		return clients[0]
	}
	return messaging.NewMultiClient(clients, byChannel)
}

// bindChannels maps every configured channel bound to the given platform
// to its client, so MultiClient can route outbound calls by channelID
// (channel IDs are platform-specific and never collide across platforms).
func bindChannels(byChannel map[string]messaging.Client, cfg config.Config, platform string, client messaging.Client) {
	for _, entry := range cfg.Projects {
		for _, ch := range entry.Channels {
			if ch.Platform == platform {
				byChannel[ch.ChannelID] = client
			}
		}
	}
}

func reload(homeDir string, projects *project.Registry, livePolicy *policy.LivePolicy, logger *slog.Logger) error {
	cfg, err := config.Load()
	if err != nil {
		return fmt.Errorf("reload config: %w", err)
	}
	entries := make(map[string]struct{ ProjectPath, TmuxSession string }, len(cfg.Projects))
	for name, entry := range cfg.Projects {
		entries[name] = struct{ ProjectPath, TmuxSession string }{ProjectPath: entry.ProjectPath, TmuxSession: entry.TmuxSession}
	}
	projects.Reload(entries)
	if err := policy.ReloadFromFile(livePolicy, filepath.Join(homeDir, "policy.yaml")); err != nil {
		logger.Warn("policy reload failed, keeping previous policy", "err", err)
	}
	logger.Info("config reloaded", "config_fingerprint", cfg.Fingerprint())
	return nil
}

// handleReloadSignal reloads config and policy on SIGHUP (SPEC_FULL.md
// §11.6), the same reload path POST /reload uses.
func handleReloadSignal(ctx context.Context, homeDir string, projects *project.Registry, livePolicy *policy.LivePolicy, logger *slog.Logger) {
	hupCh := make(chan os.Signal, 1)
	signal.Notify(hupCh, syscall.SIGHUP)
	defer signal.Stop(hupCh)
	for {
		select {
		case <-ctx.Done():
			return
		case <-hupCh:
			if err := reload(homeDir, projects, livePolicy, logger); err != nil {
				logger.Error("SIGHUP reload failed", "err", err)
			}
		}
	}
}

// runDoctorCommand runs the read-only diagnostic checks and prints a
// report, returning a process exit code (1 if any check failed).
func runDoctorCommand(args []string) int {
	jsonOutput := false
	for _, arg := range args {
		if arg == "-json" || arg == "--json" {
			jsonOutput = true
		}
	}

	cfg, err := config.Load()
	if err != nil && !cfg.NeedsGenesis {
		fmt.Fprintf(os.Stderr, "Error loading config: %v\n", err)
	}

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	diag := doctor.Run(ctx, &cfg, Version)

	if jsonOutput {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		if err := enc.Encode(diag); err != nil {
			fmt.Fprintf(os.Stderr, "Error encoding json: %v\n", err)
			return 1
		}
		return statusFromDiagnosis(diag)
	}

	fmt.Printf("discode doctor report (%s)\n", diag.Timestamp.Format(time.RFC3339))
	fmt.Printf("System: %s/%s (%s)\n", diag.System.OS, diag.System.Arch, diag.System.Go)
	fmt.Println("---")
	for _, res := range diag.Results {
		icon := "PASS"
		switch res.Status {
		case "FAIL":
			icon = "FAIL"
		case "WARN":
			icon = "WARN"
		case "SKIP":
			icon = "SKIP"
		}
		fmt.Printf("[%s] %-22s: %s\n", icon, res.Name, res.Message)
		if res.Detail != "" {
			fmt.Printf("    %s\n", res.Detail)
		}
	}
	return statusFromDiagnosis(diag)
}

func statusFromDiagnosis(diag doctor.Diagnosis) int {
	for _, res := range diag.Results {
		if res.Status == "FAIL" {
			return 1
		}
	}
	return 0
}

func fatalStartup(logger *slog.Logger, reasonCode string, err error) {
	message := ""
	if err != nil {
		message = err.Error()
	}
	audit.Record("fatal", "runtime.startup", reasonCode, "", message)

	if logger != nil {
		logger.Error("startup failure", "reason_code", reasonCode, "error", message)
	} else {
		fmt.Fprintf(
			os.Stderr,
			`{"timestamp":"%s","level":"ERROR","component":"discode","trace_id":"-","msg":"startup failure","reason_code":%q,"error":%q}`+"\n",
			time.Now().UTC().Format(time.RFC3339Nano),
			reasonCode,
			message,
		)
	}
	os.Exit(1)
}
