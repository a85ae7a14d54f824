package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/zhubert/plural-refactor/config"
	"github.com/zhubert/plural-refactor/logger"
	"github.com/zhubert/plural-refactor/project"
	"github.com/zhubert/plural-refactor/refactor"
	"github.com/zhubert/plural-refactor/server"
)

var version = "dev"

var (
	configPath string
	logFile    string
	logStderr  bool
	debug      bool

	rootCmd = &cobra.Command{
		Use:   "plural-refactor [flags] PROJECT_PATH [CONFIGURATION_JSON]",
		Short: "Refactoring sidecar for Python projects",
		Long: `plural-refactor analyzes a Python project and answers refactoring
requests over stdin/stdout.

After the first input line it writes {"message":"ready"}. Every following
line is a ["file", offset] request, answered with a JSON array of the
refactorings available at that location.`,
		Args:          cobra.RangeArgs(1, 2),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE:          runServe,
	}

	clearLogsCmd = &cobra.Command{
		Use:   "clear-logs",
		Short: "Remove plural-refactor log files",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			n, err := logger.ClearLogs()
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "Removed %d log file(s)\n", n)
			return nil
		},
	}

	versionCmd = &cobra.Command{
		Use:   "version",
		Short: "Print the version",
		Args:  cobra.NoArgs,
		Run: func(cmd *cobra.Command, args []string) {
			fmt.Fprintf(cmd.OutOrStdout(), "plural-refactor %s\n", version)
		},
	}
)

func init() {
	rootCmd.Flags().StringVar(&configPath, "config", "", "YAML configuration file (default: config.yaml in the config directory)")
	rootCmd.Flags().StringVar(&logFile, "log-file", "", "log file path (default: plural-refactor.log in the logs directory)")
	rootCmd.Flags().BoolVar(&logStderr, "log-stderr", false, "also write logs to stderr")
	rootCmd.Flags().BoolVar(&debug, "debug", false, "enable debug logging")

	rootCmd.AddCommand(clearLogsCmd, versionCmd)
}

func initLogging() error {
	path := logFile
	if path == "" {
		p, err := logger.DefaultLogPath()
		if err != nil {
			return err
		}
		path = p
	}
	logger.SetDebug(debug)
	if logStderr {
		return logger.InitWithMirror(path, os.Stderr)
	}
	return logger.Init(path)
}

func runServe(cmd *cobra.Command, args []string) error {
	if err := initLogging(); err != nil {
		return fmt.Errorf("failed to initialize logging: %w", err)
	}
	defer logger.Close()
	log := logger.WithComponent("main")

	root := args[0]
	var argument string
	if len(args) == 2 {
		argument = args[1]
	}

	cfg, err := config.Load(configPath, argument)
	if err != nil {
		log.Error("invalid configuration", "error", err)
		return err
	}
	registry, err := refactor.NewRegistry(cfg)
	if err != nil {
		log.Error("invalid provider configuration", "error", err)
		return err
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	// A second signal during shutdown gets the default behavior.
	context.AfterFunc(ctx, stop)

	var proj *project.Project
	defer func() {
		if proj != nil {
			proj.Close()
		}
	}()

	build := func(ctx context.Context) (project.Model, error) {
		p, err := project.Open(root, cfg,
			project.WithLogger(logger.WithComponent("project")),
			project.WithCacheSize(cfg.CacheSize),
		)
		if err != nil {
			return nil, err
		}
		proj = p
		if err := p.Analyze(ctx); err != nil {
			return nil, err
		}
		if cfg.Watch {
			if err := p.Watch(ctx); err != nil {
				log.Warn("file watcher unavailable, relying on stat checks", "error", err)
			}
		}
		return p, nil
	}

	srv := server.New(os.Stdin, os.Stdout, registry,
		server.WithLogger(logger.WithComponent("server")),
		server.WithRequestErrors(cfg.RequestErrors),
	)
	if err := srv.Run(ctx, build); err != nil {
		if ctx.Err() != nil && errors.Is(err, context.Canceled) {
			log.Info("terminated by signal")
			return nil
		}
		log.Error("server stopped", "error", err)
		return err
	}
	return nil
}
