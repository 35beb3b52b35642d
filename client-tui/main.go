package main

import (
	"context"
	"fmt"
	"log/slog"
	"os"
	"path/filepath"
	"time"

	tea "github.com/charmbracelet/bubbletea"
	"github.com/spf13/pflag"

	"asterchat/internal/client"
	"asterchat/internal/config"
	"asterchat/internal/notify"
)

const shutdownTimeout = 3 * time.Second

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		prefsPath string
		logPath   string
		logLevel  string
		connect   []string
		notifyOn  bool
	)
	flagSet := pflag.NewFlagSet("aster", pflag.ContinueOnError)
	flagSet.StringVar(&prefsPath, "config", "", "preferences file (default <config dir>/aster/preferences.json)")
	flagSet.StringVar(&logPath, "log-file", "", "log file (default <config dir>/aster/aster.log)")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	flagSet.StringSliceVar(&connect, "connect", nil, "additional [user@]host[:port] to connect to")
	flagSet.BoolVar(&notifyOn, "notify", true, "show desktop notifications")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	dir, err := config.Dir()
	if err != nil {
		return fmt.Errorf("resolving config dir: %w", err)
	}
	if prefsPath == "" {
		prefsPath = filepath.Join(dir, config.PreferencesFile)
	}
	if logPath == "" {
		logPath = filepath.Join(dir, config.LogFile)
	}

	logger, closeLog, err := openFileLogger(logPath, logLevel)
	if err != nil {
		return err
	}
	defer closeLog()

	prefs, err := config.Load(prefsPath)
	if err != nil {
		return err
	}
	if err := config.TerminalPrompter().Fill(prefs); err != nil {
		return err
	}

	var notifier client.Notifier = notify.Discard{}
	if notifyOn {
		notifier = notify.NewDesktop("aster")
	}

	c := client.Start(context.Background(), client.Config{
		Preferences: prefs,
		Logger:      logger,
		Notifier:    notifier,
		Width:       80,
	})
	ctx := c.Context()
	c.ConnectAll(ctx)
	for _, target := range connect {
		if err := c.Execute(ctx, "/connect "+target); err != nil {
			logger.Warn("connect failed", "target", target, "error", err)
		}
	}

	program := tea.NewProgram(newModel(ctx, c, c.Queue()), tea.WithAltScreen())
	_, runErr := program.Run()
	if !c.Stop(shutdownTimeout) {
		logger.Warn("connections did not close in time")
	}
	return runErr
}

func openFileLogger(path, level string) (*slog.Logger, func(), error) {
	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(level)); err != nil {
		return nil, nil, fmt.Errorf("invalid --log-level %q", level)
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o700); err != nil {
		return nil, nil, fmt.Errorf("creating log dir: %w", err)
	}
	file, err := os.OpenFile(path, os.O_CREATE|os.O_WRONLY|os.O_APPEND, 0o600)
	if err != nil {
		return nil, nil, fmt.Errorf("opening log file: %w", err)
	}
	logger := slog.New(slog.NewTextHandler(file, &slog.HandlerOptions{Level: lvl}))
	return logger, func() { file.Close() }, nil
}
