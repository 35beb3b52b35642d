package main

import (
	"context"
	"crypto/tls"
	"encoding/base64"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"path/filepath"
	"strings"
	"syscall"

	"github.com/spf13/pflag"

	"asterchat/internal/netsec"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		listenAddr    string
		dbPath        string
		certDir       string
		name          string
		iconPath      string
		channels      []string
		emojiPaths    []string
		hosts         []string
		maxMsgBytes   int
		maxMsgsPerSec int
		burst         int
		logLevel      string
	)
	flagSet := pflag.NewFlagSet("aster-server", pflag.ContinueOnError)
	flagSet.StringVar(&listenAddr, "listen", ":2345", "tcp address to listen on")
	flagSet.StringVar(&dbPath, "db", "aster-dev.db", "sqlite database path")
	flagSet.StringVar(&certDir, "cert-dir", "certs", "directory for the self-signed TLS certificate")
	flagSet.StringSliceVar(&hosts, "host", []string{"localhost", "127.0.0.1"}, "certificate host names")
	flagSet.StringVar(&name, "name", "aster dev server", "server display name")
	flagSet.StringVar(&iconPath, "icon", "", "image file served as the server icon")
	flagSet.StringSliceVar(&channels, "channels", []string{"general", "random"}, "channels to create")
	flagSet.StringSliceVar(&emojiPaths, "emoji", nil, "image files registered as emoji, named by file name")
	flagSet.IntVar(&maxMsgBytes, "max-msg-bytes", defaultMaxMessageBytes, "maximum accepted frame size in bytes")
	flagSet.IntVar(&maxMsgsPerSec, "max-msgs-per-sec", defaultMaxMsgsPerSec, "maximum accepted frames per second per connection")
	flagSet.IntVar(&burst, "burst", defaultBurstMessages, "burst frame allowance per connection")
	flagSet.StringVar(&logLevel, "log-level", "info", "log level: debug, info, warn, error")
	if err := flagSet.Parse(os.Args[1:]); err != nil {
		if err == pflag.ErrHelp {
			return nil
		}
		return err
	}

	var lvl slog.Level
	if err := lvl.UnmarshalText([]byte(logLevel)); err != nil {
		return fmt.Errorf("invalid --log-level %q", logLevel)
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: lvl}))

	store, err := openSQLiteStore(dbPath, channels)
	if err != nil {
		return fmt.Errorf("open store: %w", err)
	}
	defer store.Close()

	for _, path := range emojiPaths {
		data, err := readBase64(path)
		if err != nil {
			return err
		}
		emojiName := strings.TrimSuffix(filepath.Base(path), filepath.Ext(path))
		if _, err := store.addEmoji(emojiName, data); err != nil {
			return fmt.Errorf("add emoji %s: %w", emojiName, err)
		}
	}
	var icon string
	if iconPath != "" {
		if icon, err = readBase64(iconPath); err != nil {
			return err
		}
	}

	certPath, keyPath := netsec.CertPaths(certDir)
	if err := netsec.EnsureSelfSignedCert(certPath, keyPath, hosts); err != nil {
		return fmt.Errorf("tls certificate: %w", err)
	}
	fingerprint, err := netsec.FileFingerprint(certPath)
	if err != nil {
		return fmt.Errorf("tls certificate: %w", err)
	}
	tlsConfig, err := netsec.ServerTLSConfig(certPath, keyPath)
	if err != nil {
		return fmt.Errorf("tls config: %w", err)
	}
	ln, err := tls.Listen("tcp", listenAddr, tlsConfig)
	if err != nil {
		return fmt.Errorf("listen: %w", err)
	}
	logger.Info("listening", "addr", ln.Addr().String(), "db", dbPath, "fingerprint", fingerprint)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	srv := NewServer(store, Options{
		Name:            name,
		Icon:            icon,
		MaxMessageBytes: maxMsgBytes,
		MaxMsgsPerSec:   maxMsgsPerSec,
		BurstMessages:   burst,
		Logger:          logger,
	})
	return srv.Serve(ctx, ln)
}

func readBase64(path string) (string, error) {
	raw, err := os.ReadFile(path)
	if err != nil {
		return "", fmt.Errorf("read %s: %w", path, err)
	}
	return base64.StdEncoding.EncodeToString(raw), nil
}
