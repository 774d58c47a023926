// Package store persists analyzed streams, window classifications and alarm
// episodes to SQLite.
package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"time"

	_ "modernc.org/sqlite"

	"github.com/care/sentinel/internal/pipeline"
)

// ErrNotFound is returned when a stream does not exist.
var ErrNotFound = errors.New("store: stream not found")

// Stream outcomes.
const (
	OutcomeRunning   = "running"
	OutcomeCompleted = "completed"
	OutcomeFailed    = "failed"
	OutcomeCanceled  = "canceled"
)

// Store wraps the incident database.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and applies migrations.
// Use ":memory:" for a throwaway database.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open %s: %w", path, err)
	}
	// One writer; the pipeline loop is the only producer.
	db.SetMaxOpenConns(1)

	for _, pragma := range []string{
		"PRAGMA journal_mode=WAL",
		"PRAGMA busy_timeout=5000",
		"PRAGMA foreign_keys=ON",
	} {
		if _, err := db.Exec(pragma); err != nil {
			db.Close()
			return nil, fmt.Errorf("%s: %w", pragma, err)
		}
	}

	s := &Store{db: db}
	if err := s.MigrateUp(); err != nil {
		db.Close()
		return nil, err
	}

	slog.Info("incident store opened", "path", path)
	return s, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// StreamRecord is one row of the streams table.
type StreamRecord struct {
	ID            string
	Source        string
	StartedAt     time.Time
	EndedAt       time.Time
	Frames        uint64
	Windows       int
	Discarded     int
	AlarmEpisodes int
	Flagged       int
	Outcome       string
	Error         string
	ReportDir     string
}

// WindowRecord is one classified window.
type WindowRecord struct {
	StreamID  string
	Index     int
	FirstSeq  uint64
	LastSeq   uint64
	Label     string
	Normal    float64
	Theft     float64
	State     string
	Count     int
	LatencyMS float64
}

// AlarmRecord is one alarm episode. ClearedWindow is -1 while open.
type AlarmRecord struct {
	StreamID      string
	RaisedWindow  int
	RaisedAt      time.Time
	ClearedWindow int
	ClearedAt     time.Time
}

// StartStream inserts a running stream.
func (s *Store) StartStream(ctx context.Context, id, source string, at time.Time) error {
	_, err := s.db.ExecContext(ctx,
		`INSERT INTO streams (id, source, started_at, outcome) VALUES (?, ?, ?, ?)`,
		id, source, at.UnixMilli(), OutcomeRunning)
	if err != nil {
		return fmt.Errorf("insert stream %s: %w", id, err)
	}
	return nil
}

// FinishStream stores the final counters of a stream.
func (s *Store) FinishStream(ctx context.Context, res *pipeline.Result, outcome string, runErr error) error {
	var errText sql.NullString
	if runErr != nil {
		errText = sql.NullString{String: runErr.Error(), Valid: true}
	}
	_, err := s.db.ExecContext(ctx, `
		UPDATE streams
		SET ended_at = ?, frames = ?, windows = ?, discarded = ?,
		    alarm_episodes = ?, flagged = ?, outcome = ?, error = ?
		WHERE id = ?`,
		res.Ended.UnixMilli(), res.Frames, res.Windows, res.Discarded,
		res.AlarmEpisodes, res.Flagged, outcome, errText, res.StreamID)
	if err != nil {
		return fmt.Errorf("update stream %s: %w", res.StreamID, err)
	}

	// Episodes still open when the stream stopped end with it.
	_, err = s.db.ExecContext(ctx,
		`UPDATE alarms SET cleared_at = ? WHERE stream_id = ? AND cleared_at IS NULL`,
		res.Ended.UnixMilli(), res.StreamID)
	if err != nil {
		return fmt.Errorf("close alarms %s: %w", res.StreamID, err)
	}
	return nil
}

// SetReportDir records where the report of a stream was written.
func (s *Store) SetReportDir(ctx context.Context, id, dir string) error {
	_, err := s.db.ExecContext(ctx, `UPDATE streams SET report_dir = ? WHERE id = ?`, dir, id)
	return err
}

// Stream loads one stream.
func (s *Store) Stream(ctx context.Context, id string) (*StreamRecord, error) {
	row := s.db.QueryRowContext(ctx, `
		SELECT id, source, started_at, ended_at, frames, windows, discarded,
		       alarm_episodes, flagged, outcome, error, report_dir
		FROM streams WHERE id = ?`, id)

	var (
		r         StreamRecord
		started   int64
		ended     sql.NullInt64
		errText   sql.NullString
		reportDir sql.NullString
	)
	err := row.Scan(&r.ID, &r.Source, &started, &ended, &r.Frames, &r.Windows, &r.Discarded,
		&r.AlarmEpisodes, &r.Flagged, &r.Outcome, &errText, &reportDir)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("load stream %s: %w", id, err)
	}

	r.StartedAt = time.UnixMilli(started)
	if ended.Valid {
		r.EndedAt = time.UnixMilli(ended.Int64)
	}
	r.Error = errText.String
	r.ReportDir = reportDir.String
	return &r, nil
}

// RecentStreams returns up to limit streams, newest first.
func (s *Store) RecentStreams(ctx context.Context, limit int) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id FROM streams ORDER BY started_at DESC, rowid DESC LIMIT ?`, limit)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			return nil, err
		}
		ids = append(ids, id)
	}
	return ids, rows.Err()
}

// Windows returns the classified windows of a stream in order.
func (s *Store) Windows(ctx context.Context, streamID string) ([]WindowRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stream_id, idx, first_seq, last_seq, label, p_normal, p_theft,
		       state, theft_count, latency_ms
		FROM windows WHERE stream_id = ? ORDER BY idx`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []WindowRecord
	for rows.Next() {
		var w WindowRecord
		if err := rows.Scan(&w.StreamID, &w.Index, &w.FirstSeq, &w.LastSeq, &w.Label,
			&w.Normal, &w.Theft, &w.State, &w.Count, &w.LatencyMS); err != nil {
			return nil, err
		}
		out = append(out, w)
	}
	return out, rows.Err()
}

// Alarms returns the alarm episodes of a stream in order.
func (s *Store) Alarms(ctx context.Context, streamID string) ([]AlarmRecord, error) {
	rows, err := s.db.QueryContext(ctx, `
		SELECT stream_id, raised_window, raised_at, cleared_window, cleared_at
		FROM alarms WHERE stream_id = ? ORDER BY id`, streamID)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	var out []AlarmRecord
	for rows.Next() {
		var (
			a             AlarmRecord
			raised        int64
			clearedWindow sql.NullInt64
			clearedAt     sql.NullInt64
		)
		if err := rows.Scan(&a.StreamID, &a.RaisedWindow, &raised, &clearedWindow, &clearedAt); err != nil {
			return nil, err
		}
		a.RaisedAt = time.UnixMilli(raised)
		a.ClearedWindow = -1
		if clearedWindow.Valid {
			a.ClearedWindow = int(clearedWindow.Int64)
		}
		if clearedAt.Valid {
			a.ClearedAt = time.UnixMilli(clearedAt.Int64)
		}
		out = append(out, a)
	}
	return out, rows.Err()
}

func (s *Store) insertWindow(ev pipeline.WindowClassified) error {
	tr := ev.Transition
	_, err := s.db.Exec(`
		INSERT INTO windows (stream_id, idx, first_seq, last_seq, label, p_normal, p_theft,
		                     state, theft_count, latency_ms)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		ev.StreamID, tr.Window, ev.FirstSeq, ev.LastSeq, tr.Label.String(),
		ev.Result.Normal(), ev.Result.Theft(), tr.Current.String(), tr.Count,
		float64(ev.Result.Latency)/float64(time.Millisecond))
	return err
}

func (s *Store) raiseAlarm(ev pipeline.AlarmRaised, at time.Time) error {
	_, err := s.db.Exec(
		`INSERT INTO alarms (stream_id, raised_window, raised_at) VALUES (?, ?, ?)`,
		ev.StreamID, ev.Window, at.UnixMilli())
	return err
}

func (s *Store) clearAlarm(ev pipeline.AlarmCleared, at time.Time) error {
	_, err := s.db.Exec(`
		UPDATE alarms SET cleared_window = ?, cleared_at = ?
		WHERE stream_id = ? AND cleared_at IS NULL`,
		ev.Window, at.UnixMilli(), ev.StreamID)
	return err
}

// OnEvent implements pipeline.Observer. Write failures are logged; the
// store never interrupts detection.
func (s *Store) OnEvent(e pipeline.Event) {
	var err error
	switch ev := e.(type) {
	case pipeline.WindowClassified:
		err = s.insertWindow(ev)
	case pipeline.AlarmRaised:
		err = s.raiseAlarm(ev, time.Now())
	case pipeline.AlarmCleared:
		err = s.clearAlarm(ev, time.Now())
	default:
		return
	}
	if err != nil {
		slog.Warn("failed to record event", "kind", e.Kind(), "error", err)
	}
}
