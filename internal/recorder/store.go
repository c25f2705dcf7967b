// Package recorder stores streaming sessions in SQLite so a mapper policy can
// be re-run offline against real tracking data.
package recorder

import (
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/google/uuid"
	"github.com/vmihailenco/msgpack/v5"
	_ "modernc.org/sqlite"

	"github.com/lilac-galaxy/lilacs-mediapipe-forward-vts-plugin/internal/types"
)

const schema = `
CREATE TABLE IF NOT EXISTS sessions (
	session_id  TEXT PRIMARY KEY,
	policy      TEXT NOT NULL,
	mode        TEXT NOT NULL,
	started_at  TEXT NOT NULL,
	ended_at    TEXT,
	frames      INTEGER NOT NULL DEFAULT 0
);

CREATE TABLE IF NOT EXISTS frames (
	id            INTEGER PRIMARY KEY AUTOINCREMENT,
	session_id    TEXT NOT NULL,
	seq           INTEGER NOT NULL,
	trace_id      TEXT,
	timestamp_ms  INTEGER NOT NULL,
	detection     BLOB NOT NULL,
	FOREIGN KEY (session_id) REFERENCES sessions(session_id)
);

CREATE INDEX IF NOT EXISTS frames_session ON frames(session_id, id);

CREATE TABLE IF NOT EXISTS batches (
	frame_id     INTEGER PRIMARY KEY,
	mode         TEXT NOT NULL,
	params_json  TEXT NOT NULL,
	FOREIGN KEY (frame_id) REFERENCES frames(id)
);
`

// ErrSessionNotFound is returned for an unknown session id.
var ErrSessionNotFound = errors.New("recorder: session not found")

// Store is a SQLite-backed session recorder.
type Store struct {
	db *sql.DB
}

// Open opens (or creates) the database at path and runs migrations.
func Open(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	// one writer; keeps sqlite from returning SQLITE_BUSY under WAL
	db.SetMaxOpenConns(1)
	if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		db.Close()
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// Close closes the database.
func (s *Store) Close() error {
	return s.db.Close()
}

// SessionInfo describes one recorded session.
type SessionInfo struct {
	ID        string
	Policy    string
	Mode      string
	StartedAt time.Time
	EndedAt   time.Time
	Frames    int
}

// detection is the stored form of a DetectionFrame.
type detection struct {
	Blendshapes map[string]float64 `msgpack:"blendshapes"`
	Landmarks   []types.Point3D    `msgpack:"landmarks"`
	Transform   []float64          `msgpack:"transform"`
}

// Session records frames for one streaming run. Safe for concurrent use.
type Session struct {
	store *Store
	id    string

	mu     sync.Mutex
	frames int
	ended  bool
}

// BeginSession starts a new session for the given policy and mode.
func (s *Store) BeginSession(policy, mode string) (*Session, error) {
	id := uuid.New().String()
	_, err := s.db.Exec(
		`INSERT INTO sessions (session_id, policy, mode, started_at) VALUES (?, ?, ?, ?)`,
		id, policy, mode, time.Now().UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return nil, fmt.Errorf("insert session: %w", err)
	}
	return &Session{store: s, id: id}, nil
}

// ID returns the session id.
func (r *Session) ID() string {
	return r.id
}

// Record stores a detection frame with the batch sent for it.
func (r *Session) Record(frame *types.DetectionFrame, batch *types.ParameterBatch) error {
	det, err := msgpack.Marshal(&detection{
		Blendshapes: frame.Blendshapes.Map(),
		Landmarks:   frame.Landmarks,
		Transform:   frame.Transform.Flatten(),
	})
	if err != nil {
		return fmt.Errorf("encode detection: %w", err)
	}
	params, err := json.Marshal(batch.Params)
	if err != nil {
		return fmt.Errorf("encode params: %w", err)
	}

	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return fmt.Errorf("recorder: session %s already ended", r.id)
	}

	tx, err := r.store.db.Begin()
	if err != nil {
		return fmt.Errorf("begin tx: %w", err)
	}
	defer tx.Rollback()

	res, err := tx.Exec(
		`INSERT INTO frames (session_id, seq, trace_id, timestamp_ms, detection) VALUES (?, ?, ?, ?, ?)`,
		r.id, int64(frame.Seq), frame.TraceID, frame.TimestampMs, det,
	)
	if err != nil {
		return fmt.Errorf("insert frame: %w", err)
	}
	frameID, err := res.LastInsertId()
	if err != nil {
		return fmt.Errorf("frame id: %w", err)
	}
	if _, err := tx.Exec(
		`INSERT INTO batches (frame_id, mode, params_json) VALUES (?, ?, ?)`,
		frameID, batch.Mode, string(params),
	); err != nil {
		return fmt.Errorf("insert batch: %w", err)
	}
	if _, err := tx.Exec(`UPDATE sessions SET frames = frames + 1 WHERE session_id = ?`, r.id); err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("commit: %w", err)
	}
	r.frames++
	return nil
}

// Frames returns the number of frames recorded by this session.
func (r *Session) Frames() int {
	r.mu.Lock()
	defer r.mu.Unlock()
	return r.frames
}

// End marks the session finished. Further Record calls fail.
func (r *Session) End() error {
	r.mu.Lock()
	defer r.mu.Unlock()
	if r.ended {
		return nil
	}
	r.ended = true
	_, err := r.store.db.Exec(
		`UPDATE sessions SET ended_at = ? WHERE session_id = ?`,
		time.Now().UTC().Format(time.RFC3339Nano), r.id,
	)
	if err != nil {
		return fmt.Errorf("end session: %w", err)
	}
	return nil
}

// Sessions lists recorded sessions, oldest first.
func (s *Store) Sessions() ([]SessionInfo, error) {
	rows, err := s.db.Query(
		`SELECT session_id, policy, mode, started_at, ended_at, frames FROM sessions ORDER BY started_at ASC`,
	)
	if err != nil {
		return nil, fmt.Errorf("query sessions: %w", err)
	}
	defer rows.Close()

	var out []SessionInfo
	for rows.Next() {
		info, err := scanSession(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, info)
	}
	return out, rows.Err()
}

// Session returns one session by id.
func (s *Store) Session(id string) (SessionInfo, error) {
	row := s.db.QueryRow(
		`SELECT session_id, policy, mode, started_at, ended_at, frames FROM sessions WHERE session_id = ?`, id,
	)
	info, err := scanSession(row)
	if errors.Is(err, sql.ErrNoRows) {
		return SessionInfo{}, fmt.Errorf("%w: %s", ErrSessionNotFound, id)
	}
	return info, err
}

type scanner interface {
	Scan(dest ...any) error
}

func scanSession(sc scanner) (SessionInfo, error) {
	var info SessionInfo
	var started string
	var ended sql.NullString
	if err := sc.Scan(&info.ID, &info.Policy, &info.Mode, &started, &ended, &info.Frames); err != nil {
		return SessionInfo{}, err
	}
	info.StartedAt, _ = time.Parse(time.RFC3339Nano, started)
	if ended.Valid {
		info.EndedAt, _ = time.Parse(time.RFC3339Nano, ended.String)
	}
	return info, nil
}

// RecordedFrame is one stored frame and the batch that was sent for it.
type RecordedFrame struct {
	Frame types.DetectionFrame
	Mode  string
	Sent  []types.ControlParameter
}

// ReadFrames calls fn for every frame of a session in recording order.
// Iteration stops at the first error returned by fn.
func (s *Store) ReadFrames(sessionID string, fn func(*RecordedFrame) error) error {
	rows, err := s.db.Query(
		`SELECT f.seq, f.trace_id, f.timestamp_ms, f.detection, b.mode, b.params_json
		 FROM frames f JOIN batches b ON b.frame_id = f.id
		 WHERE f.session_id = ? ORDER BY f.id ASC`,
		sessionID,
	)
	if err != nil {
		return fmt.Errorf("query frames: %w", err)
	}
	defer rows.Close()

	for rows.Next() {
		var (
			rec     RecordedFrame
			seq     int64
			traceID sql.NullString
			blob    []byte
			params  string
		)
		if err := rows.Scan(&seq, &traceID, &rec.Frame.TimestampMs, &blob, &rec.Mode, &params); err != nil {
			return fmt.Errorf("scan frame: %w", err)
		}
		rec.Frame.Seq = uint64(seq)
		rec.Frame.TraceID = traceID.String

		var det detection
		if err := msgpack.Unmarshal(blob, &det); err != nil {
			return fmt.Errorf("decode detection seq=%d: %w", seq, err)
		}
		bs, err := types.NewBlendshapes(det.Blendshapes)
		if err != nil {
			return fmt.Errorf("decode blendshapes seq=%d: %w", seq, err)
		}
		transform, ok := types.TransformFromSlice(det.Transform)
		if !ok {
			return fmt.Errorf("decode transform seq=%d: %d values", seq, len(det.Transform))
		}
		rec.Frame.Blendshapes = bs
		rec.Frame.Landmarks = det.Landmarks
		rec.Frame.Transform = transform

		if err := json.Unmarshal([]byte(params), &rec.Sent); err != nil {
			return fmt.Errorf("decode params seq=%d: %w", seq, err)
		}
		if err := fn(&rec); err != nil {
			return err
		}
	}
	return rows.Err()
}
