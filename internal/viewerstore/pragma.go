package viewerstore

import (
	"context"
	"database/sql"
	"errors"
	"log/slog"
	"os"
)

// applyTuningPragmas applies optional SQLite tuning when enabled via the
// CHATMINDER_SQLITE_TUNING environment variable. Each pragma result is
// logged so a misbehaving build of the driver is visible.
func applyTuningPragmas(ctx context.Context, db *sql.DB, log *slog.Logger) {
	if os.Getenv("CHATMINDER_SQLITE_TUNING") != "1" {
		return
	}

	pragmas := []string{
		"PRAGMA synchronous=NORMAL;",
		"PRAGMA wal_autocheckpoint=1000;",
		"PRAGMA temp_store=MEMORY;",
		"PRAGMA mmap_size=268435456;",
	}

	for _, pragma := range pragmas {
		if value, err := applyPragma(ctx, db, pragma); err != nil {
			log.Warn("viewerstore: pragma failed", "pragma", pragma, "err", err)
		} else {
			log.Info("viewerstore: pragma applied", "pragma", pragma, "value", value)
		}
	}
}

func applyPragma(ctx context.Context, db *sql.DB, pragma string) (any, error) {
	row := db.QueryRowContext(ctx, pragma)
	var value any
	if err := row.Scan(&value); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			if _, execErr := db.ExecContext(ctx, pragma); execErr != nil {
				return nil, execErr
			}
			return "ok", nil
		}
		return nil, err
	}
	return value, nil
}
