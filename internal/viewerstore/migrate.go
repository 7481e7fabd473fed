package viewerstore

import (
	"context"
	"database/sql"
	"fmt"
	"log/slog"
	"strings"
)

// migrate brings an existing database up to the current layout. Steps are
// keyed off PRAGMA user_version so a reopened store never reapplies one.
func migrate(ctx context.Context, db *sql.DB, log *slog.Logger) error {
	version, err := userVersion(ctx, db)
	if err != nil {
		return fmt.Errorf("sqlite: user_version: %w", err)
	}
	log.Debug("viewerstore: sqlite opened", "path", databasePath(ctx, db), "user_version", version)

	if version < 1 {
		if _, err := db.ExecContext(ctx,
			`CREATE INDEX IF NOT EXISTS viewers_last_seen ON viewers(last_seen);`); err != nil {
			return fmt.Errorf("sqlite: ensure viewers_last_seen index: %w", err)
		}
		if _, err := db.ExecContext(ctx, `PRAGMA user_version = 1;`); err != nil {
			return fmt.Errorf("sqlite: bump user_version: %w", err)
		}
		log.Info("viewerstore: sqlite migrated", "to_version", 1)
	}

	// early builds allowed NULL usernames; normalize them once
	if version < 2 {
		res, err := db.ExecContext(ctx, `UPDATE viewers SET username = user_id WHERE username IS NULL OR username = '';`)
		if err != nil {
			return fmt.Errorf("sqlite: normalize usernames: %w", err)
		}
		if n, err := res.RowsAffected(); err == nil && n > 0 {
			log.Info("viewerstore: sqlite normalized usernames", "rows", n)
		}
		if _, err := db.ExecContext(ctx, `PRAGMA user_version = 2;`); err != nil {
			return fmt.Errorf("sqlite: bump user_version: %w", err)
		}
	}

	if version < 3 {
		// ALTER is not idempotent; a crash between it and the version bump
		// must not wedge the next open.
		var n int
		if err := db.QueryRowContext(ctx,
			`SELECT COUNT(*) FROM pragma_table_info('viewers') WHERE name = 'last_reply';`).Scan(&n); err != nil {
			return fmt.Errorf("sqlite: inspect viewers columns: %w", err)
		}
		if n == 0 {
			if _, err := db.ExecContext(ctx,
				`ALTER TABLE viewers ADD COLUMN last_reply TEXT NOT NULL DEFAULT '';`); err != nil {
				return fmt.Errorf("sqlite: add last_reply column: %w", err)
			}
		}
		if _, err := db.ExecContext(ctx, `PRAGMA user_version = 3;`); err != nil {
			return fmt.Errorf("sqlite: bump user_version: %w", err)
		}
		log.Info("viewerstore: sqlite migrated", "to_version", 3)
	}

	return nil
}

func userVersion(ctx context.Context, db *sql.DB) (int, error) {
	var v int
	if err := db.QueryRowContext(ctx, `PRAGMA user_version;`).Scan(&v); err != nil {
		return 0, err
	}
	return v, nil
}

func databasePath(ctx context.Context, db *sql.DB) string {
	rows, err := db.QueryContext(ctx, `PRAGMA database_list;`)
	if err != nil {
		return "(unknown)"
	}
	defer rows.Close()

	for rows.Next() {
		var (
			seq  int
			name string
			file sql.NullString
		)
		if err := rows.Scan(&seq, &name, &file); err != nil {
			return "(unknown)"
		}
		if strings.EqualFold(strings.TrimSpace(name), "main") {
			if file.Valid && strings.TrimSpace(file.String) != "" {
				return file.String
			}
			return "(memory)"
		}
	}
	if err := rows.Err(); err != nil {
		return "(unknown)"
	}
	return "(unknown)"
}
