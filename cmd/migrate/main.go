// Command migrate copies every domain tree from one storage engine to
// another (spec.md §4.1) — the tool an operator runs once to move a
// badger data directory onto postgres, or back, without touching the
// server's request-handling code at all.
package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"go.uber.org/zap"

	"github.com/lalith-99/harmonyhost/internal/observ"
	"github.com/lalith-99/harmonyhost/internal/storage"
	"github.com/lalith-99/harmonyhost/internal/storage/badgerstore"
	"github.com/lalith-99/harmonyhost/internal/storage/migrate"
	"github.com/lalith-99/harmonyhost/internal/storage/sqlstore"
)

var treeNames = []string{"auth", "profile", "chat", "emote", "sync"}

func main() {
	if err := run(); err != nil {
		fmt.Fprintf(os.Stderr, "error: %v\n", err)
		os.Exit(1)
	}
}

func run() error {
	var (
		fromEngine = flag.String("from", "badger", "source engine: badger or postgres")
		toEngine   = flag.String("to", "postgres", "destination engine: badger or postgres")
		dataDir    = flag.String("data-dir", "./data", "badger data directory (used when --from or --to is badger)")
		dsn        = flag.String("dsn", "", "postgres connection string (used when --from or --to is postgres)")
	)
	flag.Parse()

	logger, err := observ.NewLogger("production", "info")
	if err != nil {
		return fmt.Errorf("create logger: %w", err)
	}
	defer logger.Sync()

	ctx := context.Background()

	src, err := openEngine(ctx, *fromEngine, *dataDir, *dsn, logger)
	if err != nil {
		return fmt.Errorf("open source engine %q: %w", *fromEngine, err)
	}
	defer src.Close()

	dst, err := openEngine(ctx, *toEngine, *dataDir, *dsn, logger)
	if err != nil {
		return fmt.Errorf("open destination engine %q: %w", *toEngine, err)
	}
	defer dst.Close()

	return migrate.CopyAll(ctx, src, dst, treeNames, logger)
}

func openEngine(ctx context.Context, engine, dataDir, dsn string, logger *zap.Logger) (storage.DB, error) {
	switch engine {
	case "postgres":
		if dsn == "" {
			return nil, fmt.Errorf("--dsn is required for the postgres engine")
		}
		return sqlstore.Open(ctx, dsn, logger)
	case "badger":
		return badgerstore.Open(dataDir, false, logger)
	default:
		return nil, fmt.Errorf("unknown engine %q (want badger or postgres)", engine)
	}
}
