package main

import (
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/perchbox/perch/internal/agent"
	"github.com/perchbox/perch/internal/config"
	"github.com/perchbox/perch/internal/gateway"
	"github.com/perchbox/perch/internal/lifecycle"
	"github.com/perchbox/perch/internal/logger"
	"github.com/perchbox/perch/internal/pidfile"
	"github.com/perchbox/perch/internal/registry"
	"github.com/perchbox/perch/internal/repostore"
	"github.com/perchbox/perch/internal/terminal"
	"github.com/perchbox/perch/internal/vcs"
)

var (
	configPath    = flag.String("config", "", "Path to config file (defaults to the platform config dir)")
	listenAddr    = flag.String("listen", "", "Listen address override, e.g. localhost:8791")
	reposRoot     = flag.String("repos", "", "Directory of canonical repository clones")
	worktreesRoot = flag.String("worktrees", "", "Directory for per-session worktrees")
	dbPath        = flag.String("db", "", "Path to the SQLite session registry")
	agentCmd      = flag.String("agent", "", "Agent command override, e.g. 'claude --output-format stream-json'")
	logLevel      = flag.String("log-level", "", "Log level: debug, info, warn, error, none")
)

func main() {
	flag.Parse()

	path := *configPath
	if path == "" {
		path = config.DefaultConfigPath()
	}

	cfg, err := config.Load(path)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Failed to load config: %v\n", err)
		os.Exit(1)
	}
	applyOverrides(cfg)

	if err := cfg.Validate(); err != nil {
		fmt.Fprintf(os.Stderr, "Invalid config: %v\n", err)
		os.Exit(1)
	}

	if err := logger.Init(logger.ParseLevel(cfg.LogLevel), cfg.LogPath); err != nil {
		fmt.Fprintf(os.Stderr, "Failed to initialize logging: %v\n", err)
		os.Exit(1)
	}

	pid, err := pidfile.Acquire(filepath.Join(filepath.Dir(cfg.DatabasePath), "perch.pid"))
	if err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
	defer pid.Release()

	reg, err := registry.Open(cfg.DatabasePath)
	if err != nil {
		logger.Error("Failed to open session registry: %v", err)
		os.Exit(1)
	}
	defer reg.Close()

	git := vcs.NewGit()
	store := repostore.New(cfg.ReposRoot, cfg.WorktreesRoot, git)

	sessions := lifecycle.New(reg, store, git)
	sessions.AddHook(lifecycle.IdentityHook(git, "Perch", "perch@localhost"))

	launch := cfg.Agent.Command
	mux := terminal.NewMux(cfg.TmuxBinary)
	mux.EnsureServer()
	terminals := terminal.NewService(mux, launch)
	sessions.SetReaper(terminals)

	runner := agent.NewRunner(cfg.Agent.Command, cfg.Agent.Args)

	server := gateway.NewServer(cfg, sessions, store, terminals, runner)

	errCh := make(chan error, 1)
	go func() {
		errCh <- server.Start()
	}()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	select {
	case sig := <-sigCh:
		logger.Info("received %s, shutting down", sig)
		if err := server.Stop(); err != nil {
			logger.Error("shutdown failed: %v", err)
		}
	case err := <-errCh:
		if err != nil && err != http.ErrServerClosed {
			logger.Error("server failed: %v", err)
			os.Exit(1)
		}
	}
}

func applyOverrides(cfg *config.Config) {
	if *listenAddr != "" {
		cfg.ListenAddr = *listenAddr
	}
	if *reposRoot != "" {
		cfg.ReposRoot = *reposRoot
	}
	if *worktreesRoot != "" {
		cfg.WorktreesRoot = *worktreesRoot
	}
	if *dbPath != "" {
		cfg.DatabasePath = *dbPath
	}
	if *agentCmd != "" {
		parts := strings.Fields(*agentCmd)
		cfg.Agent.Command = parts[0]
		cfg.Agent.Args = parts[1:]
	}
	if *logLevel != "" {
		cfg.LogLevel = *logLevel
	}
}
