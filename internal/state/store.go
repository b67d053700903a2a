package state

import (
	"database/sql"
	"errors"
	"fmt"
	"time"

	"github.com/google/uuid"
	_ "modernc.org/sqlite"
)

// ErrNoSnapshot is returned when a life has no persisted snapshot yet.
var ErrNoSnapshot = errors.New("no snapshot")

// #region schema
const schema = `
CREATE TABLE IF NOT EXISTS lives (
	life_id   TEXT PRIMARY KEY,
	born_at   TEXT NOT NULL
);

CREATE TABLE IF NOT EXISTS snapshots (
	snapshot_id  TEXT PRIMARY KEY,
	parent_id    TEXT,
	life_id      TEXT NOT NULL,
	ticks        INTEGER NOT NULL,
	age          REAL NOT NULL,
	energy       REAL NOT NULL,
	integrity    REAL NOT NULL,
	stability    REAL NOT NULL,
	fatigue      REAL NOT NULL,
	tension      REAL NOT NULL,
	active       INTEGER NOT NULL,
	memory_json  TEXT NOT NULL,
	created_at   TEXT NOT NULL,
	FOREIGN KEY (parent_id) REFERENCES snapshots(snapshot_id),
	FOREIGN KEY (life_id) REFERENCES lives(life_id)
);

CREATE INDEX IF NOT EXISTS idx_snapshots_life ON snapshots(life_id, ticks);

CREATE TABLE IF NOT EXISTS tick_log (
	id           INTEGER PRIMARY KEY AUTOINCREMENT,
	life_id      TEXT NOT NULL,
	tick         INTEGER NOT NULL,
	age          REAL NOT NULL,
	energy       REAL NOT NULL,
	integrity    REAL NOT NULL,
	stability    REAL NOT NULL,
	fatigue      REAL NOT NULL,
	tension      REAL NOT NULL,
	active       INTEGER NOT NULL,
	mode         TEXT NOT NULL,
	events_json  TEXT,
	inputs_json  TEXT,
	created_at   TEXT NOT NULL
);
`

// #endregion schema

// #region store-struct
// Store persists lives, snapshots and the tick log in SQLite.
type Store struct {
	db *sql.DB
}

// #endregion store-struct

// #region constructor
// NewStore opens a SQLite database and runs migrations.
func NewStore(dbPath string) (*Store, error) {
	db, err := sql.Open("sqlite", dbPath)
	if err != nil {
		return nil, fmt.Errorf("open db: %w", err)
	}
	if dbPath == ":memory:" {
		// every pooled connection would otherwise get its own empty database
		db.SetMaxOpenConns(1)
	} else if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
		return nil, fmt.Errorf("pragma: %w", err)
	}
	if _, err := db.Exec("PRAGMA foreign_keys=ON"); err != nil {
		return nil, fmt.Errorf("pragma fk: %w", err)
	}
	if _, err := db.Exec(schema); err != nil {
		return nil, fmt.Errorf("migrate: %w", err)
	}
	return &Store{db: db}, nil
}

// #endregion constructor

// Close closes the underlying database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// DB returns the underlying *sql.DB for use by other packages (e.g. logging).
func (s *Store) DB() *sql.DB {
	return s.db
}

// #region lives

// CreateLife registers a new organism identity.
func (s *Store) CreateLife(bornAt time.Time) (Life, error) {
	life := Life{ID: uuid.New().String(), BornAt: bornAt.UTC()}
	if err := s.RegisterLife(life); err != nil {
		return Life{}, err
	}
	return life, nil
}

// RegisterLife records an existing identity; registering it twice is a no-op.
func (s *Store) RegisterLife(life Life) error {
	_, err := s.db.Exec(
		`INSERT INTO lives (life_id, born_at) VALUES (?, ?)
		 ON CONFLICT(life_id) DO NOTHING`,
		life.ID, life.BornAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return fmt.Errorf("insert life: %w", err)
	}
	return nil
}

// GetLife looks up a life by id.
func (s *Store) GetLife(id string) (Life, error) {
	var life Life
	var bornStr string
	err := s.db.QueryRow(`SELECT life_id, born_at FROM lives WHERE life_id = ?`, id).
		Scan(&life.ID, &bornStr)
	if err != nil {
		return Life{}, fmt.Errorf("get life %s: %w", id, err)
	}
	life.BornAt, _ = time.Parse(time.RFC3339Nano, bornStr)
	return life, nil
}

// LatestLife returns the life with the most recent snapshot.
func (s *Store) LatestLife() (Life, error) {
	var id string
	err := s.db.QueryRow(
		`SELECT life_id FROM snapshots ORDER BY created_at DESC, ticks DESC LIMIT 1`,
	).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return Life{}, ErrNoSnapshot
	}
	if err != nil {
		return Life{}, fmt.Errorf("latest life: %w", err)
	}
	return s.GetLife(id)
}

// #endregion lives

// #region save-snapshot

// SaveSnapshot inserts a snapshot. An empty SnapshotID is filled in and returned.
func (s *Store) SaveSnapshot(snap Snapshot) (string, error) {
	if snap.SnapshotID == "" {
		snap.SnapshotID = uuid.New().String()
	}
	if snap.CreatedAt.IsZero() {
		snap.CreatedAt = time.Now().UTC()
	}
	if snap.MemoryJSON == "" {
		snap.MemoryJSON = "[]"
	}

	var parentPtr interface{}
	if snap.ParentID != "" {
		parentPtr = snap.ParentID
	}

	v := snap.Vitals
	_, err := s.db.Exec(
		`INSERT INTO snapshots (snapshot_id, parent_id, life_id, ticks, age, energy, integrity,
		 stability, fatigue, tension, active, memory_json, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`,
		snap.SnapshotID, parentPtr, snap.Life.ID, int64(v.Ticks), v.Age, v.Energy, v.Integrity,
		v.Stability, v.Fatigue, v.Tension, boolInt(v.Active), snap.MemoryJSON,
		snap.CreatedAt.UTC().Format(time.RFC3339Nano),
	)
	if err != nil {
		return "", fmt.Errorf("insert snapshot: %w", err)
	}
	return snap.SnapshotID, nil
}

// #endregion save-snapshot

// #region get-snapshot

const snapshotColumns = `s.snapshot_id, s.parent_id, s.life_id, l.born_at, s.ticks, s.age, s.energy,
	s.integrity, s.stability, s.fatigue, s.tension, s.active, s.memory_json, s.created_at`

// Latest returns the newest snapshot for a life.
func (s *Store) Latest(lifeID string) (Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT `+snapshotColumns+` FROM snapshots s JOIN lives l ON l.life_id = s.life_id
		 WHERE s.life_id = ? ORDER BY s.ticks DESC, s.created_at DESC LIMIT 1`, lifeID,
	)
	snap, err := scanSnapshot(row)
	if errors.Is(err, sql.ErrNoRows) {
		return Snapshot{}, ErrNoSnapshot
	}
	if err != nil {
		return Snapshot{}, fmt.Errorf("latest snapshot %s: %w", lifeID, err)
	}
	return snap, nil
}

// GetSnapshot retrieves a snapshot by id.
func (s *Store) GetSnapshot(id string) (Snapshot, error) {
	row := s.db.QueryRow(
		`SELECT `+snapshotColumns+` FROM snapshots s JOIN lives l ON l.life_id = s.life_id
		 WHERE s.snapshot_id = ?`, id,
	)
	snap, err := scanSnapshot(row)
	if err != nil {
		return Snapshot{}, fmt.Errorf("get snapshot %s: %w", id, err)
	}
	return snap, nil
}

// ListSnapshots returns the most recent snapshots of a life, newest first.
func (s *Store) ListSnapshots(lifeID string, limit int) ([]Snapshot, error) {
	rows, err := s.db.Query(
		`SELECT `+snapshotColumns+` FROM snapshots s JOIN lives l ON l.life_id = s.life_id
		 WHERE s.life_id = ? ORDER BY s.ticks DESC, s.created_at DESC LIMIT ?`, lifeID, limit,
	)
	if err != nil {
		return nil, fmt.Errorf("list snapshots: %w", err)
	}
	defer rows.Close()

	var out []Snapshot
	for rows.Next() {
		snap, err := scanSnapshot(rows)
		if err != nil {
			return nil, fmt.Errorf("scan row: %w", err)
		}
		out = append(out, snap)
	}
	return out, rows.Err()
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSnapshot(r rowScanner) (Snapshot, error) {
	var snap Snapshot
	var parentID sql.NullString
	var bornStr, createdStr string
	var ticks int64
	var active int

	err := r.Scan(&snap.SnapshotID, &parentID, &snap.Life.ID, &bornStr, &ticks, &snap.Vitals.Age,
		&snap.Vitals.Energy, &snap.Vitals.Integrity, &snap.Vitals.Stability, &snap.Vitals.Fatigue,
		&snap.Vitals.Tension, &active, &snap.MemoryJSON, &createdStr)
	if err != nil {
		return Snapshot{}, err
	}
	if parentID.Valid {
		snap.ParentID = parentID.String
	}
	snap.Vitals.Ticks = uint64(ticks)
	snap.Vitals.Active = active != 0
	snap.Life.BornAt, _ = time.Parse(time.RFC3339Nano, bornStr)
	snap.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
	return snap, nil
}

// #endregion get-snapshot

// #region tick-log-read

// ListTicks returns tick log rows for a life in chronological order, limited to the last n.
func (s *Store) ListTicks(lifeID string, last int) ([]TickRow, error) {
	rows, err := s.db.Query(
		`SELECT life_id, tick, age, energy, integrity, stability, fatigue, tension, active, mode,
		 events_json, inputs_json, created_at FROM (
			SELECT * FROM tick_log WHERE life_id = ? ORDER BY id DESC LIMIT ?
		 ) sub ORDER BY id ASC`, lifeID, last,
	)
	if err != nil {
		return nil, fmt.Errorf("list ticks: %w", err)
	}
	defer rows.Close()

	var out []TickRow
	for rows.Next() {
		var tr TickRow
		var tick int64
		var active int
		var eventsJSON, inputsJSON sql.NullString
		var createdStr string
		if err := rows.Scan(&tr.LifeID, &tick, &tr.Age, &tr.Vitals.Energy, &tr.Vitals.Integrity,
			&tr.Vitals.Stability, &tr.Vitals.Fatigue, &tr.Vitals.Tension, &active, &tr.Mode,
			&eventsJSON, &inputsJSON, &createdStr); err != nil {
			return nil, fmt.Errorf("scan tick: %w", err)
		}
		tr.Tick = uint64(tick)
		tr.Vitals.Ticks = tr.Tick
		tr.Vitals.Age = tr.Age
		tr.Vitals.Active = active != 0
		if eventsJSON.Valid {
			tr.EventsJSON = eventsJSON.String
		}
		if inputsJSON.Valid {
			tr.InputsJSON = inputsJSON.String
		}
		tr.CreatedAt, _ = time.Parse(time.RFC3339Nano, createdStr)
		out = append(out, tr)
	}
	return out, rows.Err()
}

// #endregion tick-log-read

func boolInt(b bool) int {
	if b {
		return 1
	}
	return 0
}
