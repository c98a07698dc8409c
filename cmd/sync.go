package cmd

import (
	"database/sql"
	"encoding/json"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/cobra"

	"github.com/nextlevelbuilder/matrixclaw/internal/bus"
	"github.com/nextlevelbuilder/matrixclaw/internal/config"
	"github.com/nextlevelbuilder/matrixclaw/internal/httpapi"
	"github.com/nextlevelbuilder/matrixclaw/internal/model"
	"github.com/nextlevelbuilder/matrixclaw/internal/store"
	"github.com/nextlevelbuilder/matrixclaw/internal/store/pg"
	"github.com/nextlevelbuilder/matrixclaw/internal/store/rediskv"
	"github.com/nextlevelbuilder/matrixclaw/internal/syncengine"
)

var (
	userIDFlag string
	guestFlag  bool
)

var syncCmd = &cobra.Command{
	Use:   "sync",
	Short: "Start a long-poll /sync conversation against a homeserver",
	RunE:  runSync,
}

func init() {
	syncCmd.Flags().StringVar(&userIDFlag, "user-id", "", "Matrix user id (required)")
	syncCmd.Flags().BoolVar(&guestFlag, "guest", false, "sync as a guest (skips push-rules priming)")
	syncCmd.MarkFlagRequired("user-id")
}

func loadConfig(path string) (*config.Config, error) {
	cfg := config.Default()
	if path == "" {
		return cfg, nil
	}
	data, err := os.ReadFile(path)
	if err != nil {
		return nil, err
	}
	if err := json.Unmarshal(data, cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func runSync(cmd *cobra.Command, args []string) error {
	cfg, err := loadConfig(cfgFile)
	if err != nil {
		return err
	}
	initLogger(cfg.LogLevel)

	if cfg.AccessToken == "" {
		if tok, kerr := config.AccessTokenFromKeyring(userIDFlag); kerr == nil {
			cfg.AccessToken = tok
		}
	}

	tokens, err := openTokenStore(cfg)
	if err != nil {
		return err
	}

	gw := httpapi.New(httpapi.Config{
		BaseURL:        cfg.BaseURL,
		IDBaseURL:      cfg.IDBaseURL,
		AccessToken:    cfg.AccessToken,
		ExtraParams:    cfg.ExtraParams,
		LocalTimeoutMs: cfg.LocalTimeoutMs,
		OnlyData:       cfg.OnlyData,
		Prefix:         cfg.Prefix,
	}, nil)

	b := bus.New()
	sub := b.Subscribe("sync")
	go logSyncEvents(sub)

	engine := syncengine.New(syncengine.Config{
		UserID:                   userIDFlag,
		Guest:                    guestFlag,
		PollTimeout:              time.Duration(cfg.PollTimeoutMs) * time.Millisecond,
		InitialSyncLimit:         cfg.InitialSyncLimit,
		ResolveInvitesToProfiles: cfg.ResolveInvitesToProfiles,
		PendingEventOrdering:     cfg.PendingEventOrdering,
	}, gw, b, model.NewMemoryRoomFactory(), model.DefaultMapper{}, tokens)

	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	slog.Info("starting sync engine", "user_id", userIDFlag, "guest", guestFlag, "base_url", cfg.BaseURL)
	err = engine.Start(ctx)
	engine.Stop()
	if err != nil && ctx.Err() == nil {
		return err
	}
	return nil
}

func openTokenStore(cfg *config.Config) (syncengine.TokenStore, error) {
	switch {
	case cfg.RedisAddr != "":
		return rediskv.NewTokenStore(redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})), nil
	case cfg.TokenStoreDSN != "":
		db, err := sql.Open("pgx", cfg.TokenStoreDSN)
		if err != nil {
			return nil, err
		}
		return pg.NewTokenStore(db), nil
	default:
		return store.NewMemoryStore(), nil
	}
}

func logSyncEvents(sub <-chan bus.Event) {
	for ev := range sub {
		slog.Info("sync state changed", "state", ev.Payload)
	}
}
