package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/authflow"
	"github.com/lalith-99/harmonyhost/internal/config"
	"github.com/lalith-99/harmonyhost/internal/eventbus"
	"github.com/lalith-99/harmonyhost/internal/federation"
	"github.com/lalith-99/harmonyhost/internal/observ"
	"github.com/lalith-99/harmonyhost/internal/permission"
	"github.com/lalith-99/harmonyhost/internal/session"
	"github.com/lalith-99/harmonyhost/internal/storage"
	"github.com/lalith-99/harmonyhost/internal/storage/badgerstore"
	"github.com/lalith-99/harmonyhost/internal/storage/sqlstore"
	"github.com/lalith-99/harmonyhost/internal/transport"
	"github.com/lalith-99/harmonyhost/internal/trees"
)

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	// ---------------------------------------------------------------
	// 1. Load config
	// ---------------------------------------------------------------
	cfg, err := config.LoadConfig()
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	// ---------------------------------------------------------------
	// 2. Create logger
	// ---------------------------------------------------------------
	logger, err := observ.NewLogger(cfg.Env, cfg.LogLevel)
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	// ---------------------------------------------------------------
	// 3. Open the selected storage engine and every domain tree on top
	// of it. Background() is right here for the same reason the
	// teacher's db.New call uses it: startup has no request deadline to
	// inherit, only "take as long as it takes."
	// ---------------------------------------------------------------
	db, err := openStorage(context.Background(), cfg, logger)
	if err != nil {
		return fmt.Errorf("open storage: %w", err)
	}
	defer db.Close()

	authKV, err := db.OpenTree(context.Background(), "auth")
	if err != nil {
		return fmt.Errorf("open auth tree: %w", err)
	}
	profileKV, err := db.OpenTree(context.Background(), "profile")
	if err != nil {
		return fmt.Errorf("open profile tree: %w", err)
	}
	chatKV, err := db.OpenTree(context.Background(), "chat")
	if err != nil {
		return fmt.Errorf("open chat tree: %w", err)
	}
	emoteKV, err := db.OpenTree(context.Background(), "emote")
	if err != nil {
		return fmt.Errorf("open emote tree: %w", err)
	}
	syncKV, err := db.OpenTree(context.Background(), "sync")
	if err != nil {
		return fmt.Errorf("open sync tree: %w", err)
	}

	authTree := trees.NewAuthTree(authKV, logger)
	profileTree, err := trees.NewProfileTree(profileKV, logger)
	if err != nil {
		return fmt.Errorf("create profile tree: %w", err)
	}
	chatTree, err := trees.NewChatTree(chatKV, logger)
	if err != nil {
		return fmt.Errorf("create chat tree: %w", err)
	}
	emoteTree := trees.NewEmoteTree(emoteKV, logger)
	syncTree := trees.NewSyncTree(syncKV, logger)

	// ---------------------------------------------------------------
	// 4. Permission resolver, in-memory session map (rebuilt from the
	// auth tree), and the auth wizard backend.
	// ---------------------------------------------------------------
	perms := permission.New(chatTree)

	sessions := session.New(authTree, profileTree, logger)
	if err := sessions.Rebuild(context.Background()); err != nil {
		return fmt.Errorf("rebuild sessions: %w", err)
	}

	backend := transport.NewAuthBackend(authTree, profileTree, sessions, cfg.RegistrationRequiresToken, logger)
	flow := authflow.New(backend, logger)

	// ---------------------------------------------------------------
	// 5. Event bus — every connected client's Session reads from this.
	// ---------------------------------------------------------------
	bus := eventbus.New(4096, logger)

	// ---------------------------------------------------------------
	// 6. Federation: disabled outright when no key path is configured
	// (spec.md §4.8). When enabled, its push/pull loops run for the
	// lifetime of the process.
	// ---------------------------------------------------------------
	applier := transport.NewChatApplier(chatTree)
	var keys *federation.KeyManager
	var fed *federation.Federation
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	if cfg.FederationKeyPath != "" {
		client := transport.NewClient(10*time.Second, "https")
		var rdb *redis.Client
		if cfg.RedisURL != "" {
			opts, err := redis.ParseURL(cfg.RedisURL)
			if err != nil {
				return fmt.Errorf("parse redis url: %w", err)
			}
			rdb = redis.NewClient(opts)
		}

		keys, err = federation.NewKeyManager(cfg.FederationKeyPath, client, rdb, logger)
		if err != nil {
			return fmt.Errorf("create key manager: %w", err)
		}

		hosts := federation.HostList{Allow: cfg.HostAllowList, Block: cfg.HostBlockList}
		fed = federation.New(cfg.OwnHost, hosts, keys, syncTree, client, client, applier, logger)

		go fed.RunPushLoop(ctx)
		go fed.RunPullLoop(ctx, cfg.PullInterval)
	}

	// ---------------------------------------------------------------
	// 7. Build the router and start serving.
	// ---------------------------------------------------------------
	router := transport.NewRouter(transport.Dependencies{
		Chat:     chatTree,
		Profiles: profileTree,
		Emotes:   emoteTree,
		Perms:    perms,
		Sessions: sessions,
		AuthFlow: flow,
		Bus:      bus,
		Keys:     keys,
		SyncTree: syncTree,
		Applier:  applier,
		Logger:   logger,
	})

	logger.Info("starting harmonyhost",
		zap.String("port", cfg.Port),
		zap.String("env", cfg.Env),
		zap.String("storage_engine", cfg.StorageEngine),
		zap.Bool("federation_enabled", keys != nil),
	)

	return router.Run(":" + cfg.Port)
}

// storageDB is the subset of storage.DB the server needs at startup.
type storageDB interface {
	OpenTree(ctx context.Context, name string) (storage.Tree, error)
	Close() error
}

func openStorage(ctx context.Context, cfg *config.Config, logger *zap.Logger) (storageDB, error) {
	switch cfg.StorageEngine {
	case "postgres":
		return sqlstore.Open(ctx, cfg.DatabaseURL, logger)
	default:
		return badgerstore.Open(cfg.DataDir, false, logger)
	}
}
