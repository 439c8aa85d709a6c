package ledger

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"iter"
	"strconv"
	"strings"
	"time"

	"lvm-go/internal/ledger/migrations"
	"lvm-go/internal/lvm"
	"lvm-go/internal/naming"

	_ "github.com/mattn/go-sqlite3" // SQLite driver
)

// DefaultPageSize is the number of records fetched per Query round trip.
const DefaultPageSize = 256

const memoryPath = ":memory:"

// SQLiteLedger implements lvm.Ledger on SQLite.
type SQLiteLedger struct {
	db       *sql.DB
	path     string
	pageSize int
}

var _ lvm.Ledger = (*SQLiteLedger)(nil)

// NewSQLiteLedger opens the ledger at path, or an in-memory ledger for
// ":memory:". The schema is not touched; see Migrate and CheckMigrations.
func NewSQLiteLedger(path string) (*SQLiteLedger, error) {
	db, err := OpenConnection(path)
	if err != nil {
		return nil, err
	}
	return &SQLiteLedger{db: db, path: path, pageSize: DefaultPageSize}, nil
}

// OpenConnection opens and configures a SQLite connection. File ledgers run
// in WAL mode with full synchronous commits so an appended record survives a
// crash. An in-memory ledger is confined to one connection because every
// connection would otherwise see its own empty database.
func OpenConnection(path string) (*sql.DB, error) {
	if path == memoryPath {
		db, err := sql.Open("sqlite3", memoryPath)
		if err != nil {
			return nil, fmt.Errorf("failed to open ledger: %w", err)
		}
		db.SetMaxOpenConns(1)
		if _, err := db.Exec("PRAGMA foreign_keys = ON"); err != nil {
			db.Close()
			return nil, fmt.Errorf("failed to enable foreign keys: %w", err)
		}
		return db, nil
	}

	dsn := "file:" + path + "?_foreign_keys=on&_journal_mode=WAL&_synchronous=FULL&_busy_timeout=5000"
	db, err := sql.Open("sqlite3", dsn)
	if err != nil {
		return nil, fmt.Errorf("failed to open ledger: %w", err)
	}
	if err := db.Ping(); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to open ledger %s: %w", path, err)
	}
	return db, nil
}

// Path returns the ledger file path, or ":memory:".
func (l *SQLiteLedger) Path() string {
	return l.path
}

// CheckMigrations verifies the schema is up to date.
func (l *SQLiteLedger) CheckMigrations() error {
	return migrations.CheckDBMigrationStatus(l.db)
}

// Migrate brings the schema up to date.
func (l *SQLiteLedger) Migrate() error {
	return migrations.MigrateUp(l.db)
}

const recordColumns = `seq, id, source_id, version_token, version_number, fingerprint, promoted_at, actor,
	link_mode_requested, link_mode_used, frame_start, frame_end, missing_frames, timecode,
	outcome, failure_step, failure_detail, source_path, target_path`

func (l *SQLiteLedger) Append(ctx context.Context, r *lvm.PromotionRecord) error {
	tx, err := l.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("starting transaction: %w", err)
	}
	defer tx.Rollback()

	var frameStart, frameEnd sql.NullInt64
	var missing string
	if r.Frames != nil {
		frameStart = sql.NullInt64{Int64: int64(r.Frames.Start), Valid: true}
		frameEnd = sql.NullInt64{Int64: int64(r.Frames.End), Valid: true}
		missing = formatFrames(r.Frames.Missing)
	}
	var timecode sql.NullString
	if r.Timecode.Present {
		timecode = sql.NullString{String: r.Timecode.Value, Valid: true}
	}

	res, err := tx.ExecContext(ctx, `INSERT INTO promotions (id, source_id, version_token, version_number,
		fingerprint, promoted_at, actor, link_mode_requested, link_mode_used, frame_start, frame_end,
		missing_frames, timecode, outcome, failure_step, failure_detail, source_path, target_path)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		r.ID, r.SourceID, r.VersionToken, r.VersionNumber, r.Fingerprint, r.PromotedAt.UTC(), r.Actor,
		string(r.LinkModeRequested), string(r.LinkModeUsed), frameStart, frameEnd, missing, timecode,
		string(r.Outcome), r.FailureStep, r.FailureDetail, r.SourcePath, r.TargetPath)
	if err != nil {
		return fmt.Errorf("inserting promotion: %w", err)
	}
	seq, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("reading promotion seq: %w", err)
	}

	for _, f := range r.Manifest {
		if _, err := tx.ExecContext(ctx, `INSERT INTO promotion_files (promotion_seq, path, size, hash)
			VALUES (?, ?, ?, ?)`, seq, f.Path, f.Size, f.Hash); err != nil {
			return fmt.Errorf("inserting manifest entry %s: %w", f.Path, err)
		}
	}

	if _, err := tx.ExecContext(ctx, "DELETE FROM promotion_intents WHERE id = ?", r.ID); err != nil {
		return fmt.Errorf("closing intent: %w", err)
	}
	// A success replaces the whole target, so it also closes every earlier
	// interrupted swap of its source. Promotions of a source are serialized.
	if r.Outcome == lvm.OutcomeSuccess {
		if _, err := tx.ExecContext(ctx, "DELETE FROM promotion_intents WHERE source_id = ?", r.SourceID); err != nil {
			return fmt.Errorf("closing interrupted intents: %w", err)
		}
	}

	if err := tx.Commit(); err != nil {
		return fmt.Errorf("committing transaction: %w", err)
	}
	r.Seq = seq
	return nil
}

// Query pages through the records with keyset pagination on seq. Each page is
// read completely before it is yielded, so the consumer may call back into
// the ledger while ranging.
func (l *SQLiteLedger) Query(ctx context.Context, sourceID string) iter.Seq2[*lvm.PromotionRecord, error] {
	return func(yield func(*lvm.PromotionRecord, error) bool) {
		var after int64
		for {
			page, err := l.page(ctx, sourceID, after)
			if err != nil {
				yield(nil, err)
				return
			}
			for _, r := range page {
				if !yield(r, nil) {
					return
				}
			}
			if len(page) < l.pageSize {
				return
			}
			after = page[len(page)-1].Seq
		}
	}
}

func (l *SQLiteLedger) page(ctx context.Context, sourceID string, after int64) ([]*lvm.PromotionRecord, error) {
	records, err := l.queryRecords(ctx, `SELECT `+recordColumns+` FROM promotions
		WHERE source_id = ? AND seq > ? ORDER BY seq LIMIT ?`, sourceID, after, l.pageSize)
	if err != nil {
		return nil, fmt.Errorf("querying promotions: %w", err)
	}
	if err := l.loadManifests(ctx, records); err != nil {
		return nil, err
	}
	return records, nil
}

func (l *SQLiteLedger) Latest(ctx context.Context, sourceID string) (*lvm.PromotionRecord, error) {
	return l.one(ctx, `SELECT `+recordColumns+` FROM promotions
		WHERE source_id = ? ORDER BY seq DESC LIMIT 1`, sourceID)
}

func (l *SQLiteLedger) Current(ctx context.Context, sourceID string) (*lvm.PromotionRecord, error) {
	return l.one(ctx, `SELECT `+recordColumns+` FROM promotions
		WHERE source_id = ? AND outcome = ? ORDER BY seq DESC LIMIT 1`, sourceID, string(lvm.OutcomeSuccess))
}

func (l *SQLiteLedger) one(ctx context.Context, query string, args ...any) (*lvm.PromotionRecord, error) {
	records, err := l.queryRecords(ctx, query, args...)
	if err != nil {
		return nil, fmt.Errorf("querying promotion: %w", err)
	}
	if len(records) == 0 {
		return nil, nil
	}
	if err := l.loadManifests(ctx, records); err != nil {
		return nil, err
	}
	return records[0], nil
}

func (l *SQLiteLedger) queryRecords(ctx context.Context, query string, args ...any) ([]*lvm.PromotionRecord, error) {
	rows, err := l.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []*lvm.PromotionRecord
	for rows.Next() {
		var (
			r                    lvm.PromotionRecord
			requested, used      string
			outcome              string
			frameStart, frameEnd sql.NullInt64
			missing              string
			timecode             sql.NullString
		)
		if err := rows.Scan(&r.Seq, &r.ID, &r.SourceID, &r.VersionToken, &r.VersionNumber, &r.Fingerprint,
			&r.PromotedAt, &r.Actor, &requested, &used, &frameStart, &frameEnd, &missing, &timecode,
			&outcome, &r.FailureStep, &r.FailureDetail, &r.SourcePath, &r.TargetPath); err != nil {
			return nil, fmt.Errorf("scanning promotion: %w", err)
		}
		r.PromotedAt = r.PromotedAt.UTC()
		r.LinkModeRequested = lvm.LinkMode(requested)
		r.LinkModeUsed = lvm.LinkMode(used)
		r.Outcome = lvm.Outcome(outcome)
		if frameStart.Valid && frameEnd.Valid {
			frames, err := parseFrames(missing)
			if err != nil {
				return nil, fmt.Errorf("promotion %d: %w", r.Seq, err)
			}
			r.Frames = &naming.FrameRange{Start: int(frameStart.Int64), End: int(frameEnd.Int64), Missing: frames}
		}
		if timecode.Valid {
			r.Timecode = lvm.TimecodeInfo{Present: true, Value: timecode.String}
		}
		out = append(out, &r)
	}
	return out, rows.Err()
}

// loadManifests fills in the files of each record with one query.
func (l *SQLiteLedger) loadManifests(ctx context.Context, records []*lvm.PromotionRecord) error {
	if len(records) == 0 {
		return nil
	}
	bySeq := make(map[int64]*lvm.PromotionRecord, len(records))
	placeholders := make([]string, len(records))
	args := make([]any, len(records))
	for i, r := range records {
		bySeq[r.Seq] = r
		placeholders[i] = "?"
		args[i] = r.Seq
	}

	rows, err := l.db.QueryContext(ctx, `SELECT promotion_seq, path, size, hash FROM promotion_files
		WHERE promotion_seq IN (`+strings.Join(placeholders, ",")+`) ORDER BY promotion_seq, path`, args...)
	if err != nil {
		return fmt.Errorf("querying manifests: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var seq int64
		var e lvm.ManifestEntry
		if err := rows.Scan(&seq, &e.Path, &e.Size, &e.Hash); err != nil {
			return fmt.Errorf("scanning manifest entry: %w", err)
		}
		if r := bySeq[seq]; r != nil {
			r.Manifest = append(r.Manifest, e)
		}
	}
	return rows.Err()
}

func (l *SQLiteLedger) RecordIntent(ctx context.Context, in *lvm.PromotionIntent) error {
	_, err := l.db.ExecContext(ctx, `INSERT INTO promotion_intents (id, source_id, version_token, target_path, started_at)
		VALUES (?, ?, ?, ?, ?)`, in.ID, in.SourceID, in.VersionToken, in.TargetPath, in.StartedAt.UTC())
	if err != nil {
		return fmt.Errorf("recording intent: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) PendingIntents(ctx context.Context, sourceID string) ([]*lvm.PromotionIntent, error) {
	rows, err := l.db.QueryContext(ctx, `SELECT id, source_id, version_token, target_path, started_at
		FROM promotion_intents WHERE source_id = ? ORDER BY started_at, id`, sourceID)
	if err != nil {
		return nil, fmt.Errorf("querying intents: %w", err)
	}
	defer rows.Close()

	var out []*lvm.PromotionIntent
	for rows.Next() {
		var in lvm.PromotionIntent
		var started time.Time
		if err := rows.Scan(&in.ID, &in.SourceID, &in.VersionToken, &in.TargetPath, &started); err != nil {
			return nil, fmt.Errorf("scanning intent: %w", err)
		}
		in.StartedAt = started.UTC()
		out = append(out, &in)
	}
	return out, rows.Err()
}

func (l *SQLiteLedger) MaxSeq(ctx context.Context) (int64, error) {
	var seq int64
	if err := l.db.QueryRowContext(ctx, "SELECT COALESCE(MAX(seq), 0) FROM promotions").Scan(&seq); err != nil {
		return 0, fmt.Errorf("getting max seq: %w", err)
	}
	return seq, nil
}

// BackupTo creates a complete copy of the ledger at destPath using VACUUM INTO.
// destPath must not exist or must be an empty file.
func (l *SQLiteLedger) BackupTo(destPath string) error {
	if _, err := l.db.Exec("VACUUM INTO ?", destPath); err != nil {
		return fmt.Errorf("backing up ledger: %w", err)
	}
	return nil
}

func (l *SQLiteLedger) Close() error {
	if l.db != nil {
		return l.db.Close()
	}
	return nil
}

func formatFrames(frames []int) string {
	parts := make([]string, len(frames))
	for i, f := range frames {
		parts[i] = strconv.Itoa(f)
	}
	return strings.Join(parts, ",")
}

func parseFrames(s string) ([]int, error) {
	if s == "" {
		return nil, nil
	}
	parts := strings.Split(s, ",")
	out := make([]int, len(parts))
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return nil, errors.New("malformed missing_frames: " + s)
		}
		out[i] = n
	}
	return out, nil
}
