package viewerstore

import (
	"context"
	"database/sql"
	"log/slog"
	"strings"
	"sync"
	"time"

	_ "modernc.org/sqlite"

	"github.com/pkg/errors"

	"github.com/you/chatminder/internal/core"
	"github.com/you/chatminder/internal/metrics"
	"github.com/you/chatminder/internal/respond"
)

// Timestamps are stored fixed-width so lexicographic order stays
// chronological under ORDER BY; RFC3339Nano trims trailing zeros.
const tsFormat = "2006-01-02T15:04:05.000000000Z07:00"

const schema = `CREATE TABLE IF NOT EXISTS viewers (
  platform TEXT NOT NULL,
  user_id TEXT NOT NULL,
  username TEXT NOT NULL,
  sightings INTEGER NOT NULL DEFAULT 0,
  first_seen TEXT NOT NULL,
  last_seen TEXT NOT NULL,
  PRIMARY KEY (platform, user_id)
);`

// Options tune the write batching. Sightings are merged in memory and
// flushed when the batch fills or the interval elapses, whichever first.
type Options struct {
	BatchSize     int
	FlushInterval time.Duration
}

// Store is the cross-session viewer memory. Reads are served from SQLite
// merged with the unflushed batch, so Observe can answer immediately while
// writes trail by at most one flush window.
type Store struct {
	db      *sql.DB
	log     *slog.Logger
	metrics *metrics.Metrics

	batchSize     int
	flushInterval time.Duration

	mu      sync.Mutex
	pending map[viewerKey]*sighting
	timer   *time.Timer
	closed  bool
	lastErr error
}

type viewerKey struct {
	platform core.Platform
	userID   string
}

type sighting struct {
	username  string
	count     int
	firstAt   time.Time
	lastAt    time.Time
	lastReply string
}

// ViewerRecord is one stored row, exposed on the admin surface.
type ViewerRecord struct {
	Platform  core.Platform `json:"platform"`
	UserID    string        `json:"user_id"`
	Username  string        `json:"username"`
	Sightings int           `json:"sightings"`
	FirstSeen time.Time     `json:"first_seen"`
	LastSeen  time.Time     `json:"last_seen"`
	LastReply string        `json:"last_reply,omitempty"`
}

func Open(path string, opts Options, log *slog.Logger, m *metrics.Metrics) (*Store, error) {
	if log == nil {
		log = slog.Default()
	}
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "open sqlite")
	}
	if _, err := db.Exec(schema); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "apply schema")
	}
	if _, err := db.Exec(`PRAGMA journal_mode=wal;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set WAL")
	}
	if _, err := db.Exec(`PRAGMA busy_timeout=5000;`); err != nil {
		_ = db.Close()
		return nil, errors.Wrap(err, "set busy_timeout")
	}
	applyTuningPragmas(context.Background(), db, log)

	if err := migrate(context.Background(), db, log); err != nil {
		_ = db.Close()
		return nil, err
	}

	batch := opts.BatchSize
	if batch <= 0 {
		batch = 16
	}
	interval := opts.FlushInterval
	if interval <= 0 {
		interval = 2 * time.Second
	}
	return &Store{
		db:            db,
		log:           log,
		metrics:       m,
		batchSize:     batch,
		flushInterval: interval,
		pending:       make(map[viewerKey]*sighting),
	}, nil
}

// Observe records a sighting and returns the viewer's merged profile. The
// write is batched; a flush error surfaces on a later call, never on the
// sighting that hit it.
func (s *Store) Observe(ctx context.Context, platform core.Platform, userID, username string) (respond.Viewer, error) {
	stored, _, err := s.lookup(ctx, platform, userID)
	if err != nil {
		return respond.Viewer{}, err
	}

	now := time.Now().UTC()
	key := viewerKey{platform: platform, userID: userID}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return respond.Viewer{}, errors.New("viewer store closed")
	}
	pendingErr := s.lastErr
	s.lastErr = nil

	p := s.pending[key]
	if p == nil {
		p = &sighting{firstAt: now}
		s.pending[key] = p
	}
	p.username = username
	p.count++
	p.lastAt = now

	if len(s.pending) == 1 && s.timer == nil {
		s.startTimerLocked()
	}

	merged := respond.Viewer{
		Username:  username,
		Sightings: stored.Sightings + p.count,
		FirstSeen: stored.FirstSeen,
		LastSeen:  now,
		LastReply: stored.LastReply,
	}
	if p.lastReply != "" {
		merged.LastReply = p.lastReply
	}
	if merged.FirstSeen.IsZero() {
		merged.FirstSeen = p.firstAt
	}

	var batch map[viewerKey]*sighting
	if len(s.pending) >= s.batchSize {
		batch = s.takeBatchLocked()
	}
	s.mu.Unlock()

	if batch != nil {
		if err := s.writeBatch(batch); err != nil {
			return merged, err
		}
	}
	return merged, pendingErr
}

// RecordReply attaches the reply just sent to the viewer's profile. It rides
// the same batch as sightings; the dispatcher observed this viewer moments
// earlier, so the pending entry usually still exists.
func (s *Store) RecordReply(ctx context.Context, platform core.Platform, userID, reply string) error {
	reply = strings.TrimSpace(reply)
	if reply == "" || userID == "" {
		return nil
	}
	now := time.Now().UTC()
	key := viewerKey{platform: platform, userID: userID}

	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return errors.New("viewer store closed")
	}
	p := s.pending[key]
	if p == nil {
		p = &sighting{firstAt: now, lastAt: now}
		s.pending[key] = p
	}
	p.lastReply = reply

	if len(s.pending) == 1 && s.timer == nil {
		s.startTimerLocked()
	}
	var batch map[viewerKey]*sighting
	if len(s.pending) >= s.batchSize {
		batch = s.takeBatchLocked()
	}
	s.mu.Unlock()

	if batch != nil {
		return s.writeBatch(batch)
	}
	return nil
}

// Get returns the merged profile without recording a sighting.
func (s *Store) Get(ctx context.Context, platform core.Platform, userID string) (respond.Viewer, bool, error) {
	stored, found, err := s.lookup(ctx, platform, userID)
	if err != nil {
		return respond.Viewer{}, false, err
	}

	s.mu.Lock()
	p := s.pending[viewerKey{platform: platform, userID: userID}]
	if p != nil {
		found = true
		stored.Sightings += p.count
		if p.username != "" {
			stored.Username = p.username
		}
		if p.lastReply != "" {
			stored.LastReply = p.lastReply
		}
		if stored.FirstSeen.IsZero() {
			stored.FirstSeen = p.firstAt
		}
		stored.LastSeen = p.lastAt
	}
	s.mu.Unlock()

	return stored, found, nil
}

// Count reports the number of flushed viewer rows.
func (s *Store) Count(ctx context.Context) (int64, error) {
	var n int64
	if err := s.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM viewers;`).Scan(&n); err != nil {
		return 0, errors.Wrap(err, "count viewers")
	}
	return n, nil
}

// Recent lists flushed viewers ordered by most recent sighting.
func (s *Store) Recent(ctx context.Context, limit int) ([]ViewerRecord, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.QueryContext(ctx,
		`SELECT platform, user_id, username, sightings, first_seen, last_seen, last_reply
FROM viewers ORDER BY last_seen DESC LIMIT ?;`, limit)
	if err != nil {
		return nil, errors.Wrap(err, "list viewers")
	}
	defer rows.Close()

	var out []ViewerRecord
	for rows.Next() {
		var (
			rec         ViewerRecord
			first, last string
		)
		if err := rows.Scan(&rec.Platform, &rec.UserID, &rec.Username, &rec.Sightings, &first, &last, &rec.LastReply); err != nil {
			return nil, errors.Wrap(err, "scan viewer")
		}
		if t, err := time.Parse(time.RFC3339Nano, first); err == nil {
			rec.FirstSeen = t
		}
		if t, err := time.Parse(time.RFC3339Nano, last); err == nil {
			rec.LastSeen = t
		}
		out = append(out, rec)
	}
	if err := rows.Err(); err != nil {
		return nil, errors.Wrap(err, "iterate viewers")
	}
	return out, nil
}

// Close flushes the unwritten batch and releases the database.
func (s *Store) Close() error {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return nil
	}
	s.closed = true
	s.stopTimerLocked()
	batch := s.takeBatchLocked()
	pendingErr := s.lastErr
	s.lastErr = nil
	s.mu.Unlock()

	var flushErr error
	if len(batch) > 0 {
		flushErr = s.writeBatch(batch)
	}
	if err := s.db.Close(); err != nil {
		return errors.Wrap(err, "close sqlite")
	}
	if flushErr != nil {
		return flushErr
	}
	return pendingErr
}

func (s *Store) lookup(ctx context.Context, platform core.Platform, userID string) (respond.Viewer, bool, error) {
	var (
		v           respond.Viewer
		first, last string
	)
	err := s.db.QueryRowContext(ctx,
		`SELECT username, sightings, first_seen, last_seen, last_reply FROM viewers WHERE platform = ? AND user_id = ?;`,
		platform, userID).Scan(&v.Username, &v.Sightings, &first, &last, &v.LastReply)
	if err == sql.ErrNoRows {
		return respond.Viewer{}, false, nil
	}
	if err != nil {
		return respond.Viewer{}, false, errors.Wrap(err, "lookup viewer")
	}
	if t, err := time.Parse(time.RFC3339Nano, first); err == nil {
		v.FirstSeen = t
	}
	if t, err := time.Parse(time.RFC3339Nano, last); err == nil {
		v.LastSeen = t
	}
	return v, true, nil
}

func (s *Store) onTimer() {
	s.mu.Lock()
	if s.closed {
		s.mu.Unlock()
		return
	}
	s.timer = nil
	if len(s.pending) == 0 {
		s.mu.Unlock()
		return
	}
	batch := s.takeBatchLocked()
	s.mu.Unlock()

	if err := s.writeBatch(batch); err != nil {
		s.mu.Lock()
		s.lastErr = err
		s.mu.Unlock()
	}
}

func (s *Store) startTimerLocked() {
	if s.flushInterval <= 0 {
		return
	}
	if s.timer != nil {
		s.timer.Stop()
	}
	s.timer = time.AfterFunc(s.flushInterval, s.onTimer)
}

func (s *Store) stopTimerLocked() {
	if s.timer != nil {
		s.timer.Stop()
		s.timer = nil
	}
}

func (s *Store) takeBatchLocked() map[viewerKey]*sighting {
	if len(s.pending) == 0 {
		return nil
	}
	batch := s.pending
	s.pending = make(map[viewerKey]*sighting)
	s.stopTimerLocked()
	return batch
}

func (s *Store) writeBatch(batch map[viewerKey]*sighting) error {
	// Empty username or last_reply means the pending entry never learned
	// one; the stored value must survive the upsert.
	const q = `INSERT INTO viewers (platform, user_id, username, sightings, first_seen, last_seen, last_reply)
VALUES (?, ?, ?, ?, ?, ?, ?)
ON CONFLICT(platform, user_id) DO UPDATE SET
  username = CASE WHEN excluded.username = '' THEN viewers.username ELSE excluded.username END,
  sightings = viewers.sightings + excluded.sightings,
  last_seen = excluded.last_seen,
  last_reply = CASE WHEN excluded.last_reply = '' THEN viewers.last_reply ELSE excluded.last_reply END;`

	for key, p := range batch {
		_, err := s.db.Exec(q,
			key.platform, key.userID, p.username, p.count,
			p.firstAt.Format(tsFormat), p.lastAt.Format(tsFormat), p.lastReply)
		if err != nil {
			s.metrics.IncViewerWriteError()
			return errors.Wrap(err, "upsert viewer")
		}
		s.metrics.IncViewerWrite()
	}
	return nil
}
