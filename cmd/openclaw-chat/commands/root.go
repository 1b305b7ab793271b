package commands

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog"
	"github.com/spf13/cobra"

	"github.com/openclaw/openclaw-chat/internal/config"
	"github.com/openclaw/openclaw-chat/internal/device"
	"github.com/openclaw/openclaw-chat/internal/gateway"
	"github.com/openclaw/openclaw-chat/internal/protocol"
	"github.com/openclaw/openclaw-chat/internal/ratelimit"
	"github.com/openclaw/openclaw-chat/internal/store"
)

const connectTimeout = 15 * time.Second

var (
	cfgPath  string
	urlFlag  string
	tokenArg string

	cfg      config.Config
	logger   zerolog.Logger
	kv       store.Store
	identity *device.Provider
	tokens   *device.Tokens
)

func Execute() error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()
	return execute(ctx, newRootCmd())
}

// execute runs root and closes the store however the command ends.
// PersistentPostRunE is skipped when RunE fails, so it cannot own the close.
func execute(ctx context.Context, root *cobra.Command) (err error) {
	defer func() {
		if cerr := closeStore(); err == nil {
			err = cerr
		}
	}()
	return root.ExecuteContext(ctx)
}

func closeStore() error {
	if kv == nil {
		return nil
	}
	err := kv.Close()
	kv, identity, tokens = nil, nil, nil
	return err
}

func newRootCmd() *cobra.Command {
	root := &cobra.Command{
		Use:           "openclaw-chat",
		Short:         "Chat with an OpenClaw gateway",
		SilenceUsage:  true,
		SilenceErrors: true,
		PersistentPreRunE: func(cmd *cobra.Command, args []string) error {
			var err error
			if cfg, err = config.Load(cfgPath); err != nil {
				return err
			}
			if urlFlag != "" {
				cfg.Gateway.URL = urlFlag
			}
			if tokenArg != "" {
				cfg.Gateway.Token = tokenArg
			}
			if logger, err = cfg.Log.NewLogger(os.Stderr); err != nil {
				return err
			}
			return openStore()
		},
	}

	root.PersistentFlags().StringVar(&cfgPath, "config", "", "config file (default ~/.config/openclaw-chat/config.toml)")
	root.PersistentFlags().StringVar(&urlFlag, "url", "", "gateway WebSocket URL")
	root.PersistentFlags().StringVar(&tokenArg, "token", "", "shared gateway token")

	root.AddCommand(identityCmd(), sessionsCmd(), historyCmd(), sendCmd(), resetCmd(), deleteCmd())
	return root
}

func openStore() error {
	if err := os.MkdirAll(filepath.Dir(cfg.Store.Path), 0o700); err != nil {
		return fmt.Errorf("create state dir: %w", err)
	}
	db, err := store.NewSQLiteStore(cfg.Store.Path)
	if err != nil {
		return err
	}
	kv = db
	if cfg.Store.Passphrase != "" {
		kv = store.NewSealed(db, cfg.Store.Passphrase, store.DefaultScryptParams())
	}
	identity = device.NewProvider(kv, device.WithLogger(logger))
	tokens = device.NewTokens(kv)
	return nil
}

// connect dials the configured gateway and waits for the handshake.
func connect(ctx context.Context, listener gateway.Listener) (*gateway.Client, error) {
	client := gateway.New(gateway.Options{
		Dialer:   &gateway.WebSocketDialer{URL: cfg.Gateway.URL, Logger: logger},
		Identity: identity,
		Tokens:   tokens,
		Token:    cfg.Gateway.Token,
		Client: protocol.ClientInfo{
			ID:       cfg.Client.ID,
			Mode:     cfg.Client.Mode,
			Version:  cfg.Client.Version,
			Platform: cfg.Client.Platform,
		},
		Limiter:  ratelimit.NewRequestLimiter(cfg.Limits.RequestsPerMinute),
		Listener: listener,
	}, logger)

	if err := client.Connect(ctx); err != nil {
		return nil, err
	}
	waitCtx, cancel := context.WithTimeout(ctx, connectTimeout)
	defer cancel()
	if err := client.WaitConnected(waitCtx); err != nil {
		client.Disconnect()
		var herr *gateway.HandshakeError
		if errors.As(err, &herr) && herr.PairingRequired {
			id, _ := identity.GetOrCreate()
			return nil, fmt.Errorf("%w\napprove device %s on the gateway, then retry", err, id.ID)
		}
		return nil, err
	}
	return client, nil
}
