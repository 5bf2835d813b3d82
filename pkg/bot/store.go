package bot

import (
	"context"
	"fmt"

	"github.com/rs/zerolog"
	"go.mau.fi/util/dbutil"

	"github.com/beeper/helper-bot/pkg/config"
	"github.com/beeper/helper-bot/pkg/matrixtransport"
	"github.com/beeper/helper-bot/pkg/pseudostate"

	_ "github.com/lib/pq"
	_ "github.com/mattn/go-sqlite3"
)

// openStore builds the configured pseudo-state backend. The returned database
// is nil unless the database backend is used.
func openStore(ctx context.Context, cfg *config.Config, transport matrixtransport.Transport, log zerolog.Logger) (pseudostate.Store, *dbutil.Database, error) {
	switch cfg.PseudoState.Backend {
	case config.BackendMemory:
		log.Warn().Msg("Using in-memory pseudo-state, role ledgers will be lost on restart")
		return pseudostate.NewMemoryStore(), nil, nil
	case config.BackendDatabase:
		db, err := dbutil.NewWithDialect(cfg.Database.URI, cfg.Database.Type)
		if err != nil {
			return nil, nil, fmt.Errorf("failed to open database: %w", err)
		}
		db.Log = dbutil.ZeroLogger(log.With().Str("db_section", "main").Logger())
		if cfg.Database.MaxOpenConns > 0 {
			db.RawDB.SetMaxOpenConns(cfg.Database.MaxOpenConns)
		}
		if cfg.Database.MaxIdleConns > 0 {
			db.RawDB.SetMaxIdleConns(cfg.Database.MaxIdleConns)
		}
		store := pseudostate.NewDatabaseStore(db)
		if err = store.Init(ctx); err != nil {
			_ = db.Close()
			return nil, nil, err
		}
		return store, db, nil
	default:
		return pseudostate.NewAccountDataStore(transport), nil, nil
	}
}
