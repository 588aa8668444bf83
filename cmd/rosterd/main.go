package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/spf13/pflag"
	"go.uber.org/fx"

	"github.com/matheus3301/rosterd/internal/config"
	"github.com/matheus3301/rosterd/internal/daemon"
	"github.com/matheus3301/rosterd/internal/lock"
	"github.com/matheus3301/rosterd/internal/logging"
	"github.com/matheus3301/rosterd/internal/session"
	"github.com/matheus3301/rosterd/internal/wa"
)

func main() {
	sessionFlag := pflag.StringP("session", "s", "", "session name (overrides config default)")
	pairFlag := pflag.Bool("pair", false, "link a WhatsApp device by QR code and exit")
	levelFlag := pflag.String("log-level", "", "log level (overrides config)")
	pflag.Parse()

	sessionName, err := session.Resolve(*sessionFlag)
	if err != nil {
		fatal(err)
	}

	cfg, err := config.LoadOrDefault(session.ConfigPath())
	if err != nil {
		fatal(err)
	}
	if *levelFlag != "" {
		cfg.Log.Level = *levelFlag
	}

	if *pairFlag {
		if err := pair(sessionName, cfg); err != nil {
			fatal(err)
		}
		return
	}

	app := fx.New(
		daemon.Module(daemon.Params{SessionName: sessionName, Config: cfg}),
	)
	app.Run()
}

func fatal(err error) {
	fmt.Fprintf(os.Stderr, "error: %v\n", err)
	os.Exit(1)
}

// pair runs the QR flow against the session's device store and turns the
// WhatsApp source on once the phone accepts.
func pair(sessionName string, cfg *config.Config) error {
	if err := session.EnsureDir(sessionName); err != nil {
		return err
	}
	lk, err := lock.Acquire(session.Dir(sessionName))
	if err != nil {
		var held *lock.HeldError
		if errors.As(err, &held) {
			return fmt.Errorf("stop the running daemon (PID %d) before pairing", held.PID)
		}
		return err
	}
	defer func() { _ = lk.Release() }()

	logger, err := logging.New(session.LogPath(sessionName), sessionName, cfg.Log)
	if err != nil {
		return err
	}
	defer func() { _ = logger.Sync() }()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	adapter, err := wa.NewAdapter(ctx, session.WhatsAppDBPath(sessionName), nil, logger)
	if err != nil {
		return err
	}
	events, err := adapter.StartQRAuth(ctx)
	if err != nil {
		return err
	}
	defer adapter.Disconnect()

	for evt := range events {
		switch evt.Type {
		case wa.AuthEventQRCode:
			qr, err := wa.RenderQR(evt.QRCode)
			if err != nil {
				return fmt.Errorf("render QR code: %w", err)
			}
			fmt.Printf("\nScan this QR code with WhatsApp (Linked devices):\n\n%s\n", qr)
		case wa.AuthEventAuthenticated:
			cfg.Sources.WhatsApp = true
			if err := config.Save(session.ConfigPath(), cfg); err != nil {
				return fmt.Errorf("enable WhatsApp source: %w", err)
			}
			fmt.Printf("Paired as %s. Start rosterd to sync the contact list.\n", adapter.PhoneNumber())
			return nil
		case wa.AuthEventTimeout, wa.AuthEventAuthFailed:
			return fmt.Errorf("pairing failed: %s", evt.Message)
		}
	}
	return errors.New("pairing interrupted")
}
