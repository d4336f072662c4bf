package history

import (
	"database/sql"
	"fmt"
	"time"

	"github.com/sirupsen/logrus"
	_ "modernc.org/sqlite"
)

// timeLayout is fixed-width so that stored timestamps sort correctly as
// text.
const timeLayout = "2006-01-02T15:04:05.000000000Z07:00"

// Run is one spawn-to-exit record for a project. Captured output is
// never stored here, only run metadata.
type Run struct {
	ID        string     `json:"id"`
	Project   string     `json:"project"`
	Argv      string     `json:"argv"`
	PID       int        `json:"pid"`
	Port      int        `json:"port,omitempty"`
	StartedAt time.Time  `json:"started_at"`
	ExitedAt  *time.Time `json:"exited_at,omitempty"`
	ExitCode  *int       `json:"exit_code,omitempty"`
}

// Store keeps run history in a sqlite database under the state root.
// All writes are best-effort: the daemon logs failures and moves on, a
// run never fails because history could not be written.
type Store struct {
	db  *sql.DB
	log *logrus.Entry
}

func Open(path string, log *logrus.Logger) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open history db: %w", err)
	}
	// The daemon is the only writer; one connection avoids sqlite
	// busy errors under concurrent exits.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec(`
		CREATE TABLE IF NOT EXISTS runs (
			id         TEXT PRIMARY KEY,
			project    TEXT NOT NULL,
			argv       TEXT NOT NULL,
			pid        INTEGER NOT NULL,
			port       INTEGER,
			started_at TEXT NOT NULL,
			exited_at  TEXT,
			exit_code  INTEGER
		);
		CREATE INDEX IF NOT EXISTS runs_project ON runs(project, started_at);
	`); err != nil {
		db.Close()
		return nil, fmt.Errorf("init history schema: %w", err)
	}
	return &Store{db: db, log: log.WithField("component", "history")}, nil
}

func (s *Store) Close() error { return s.db.Close() }

// RunStarted inserts the initial record for a spawned child.
func (s *Store) RunStarted(id, project, argv string, pid int, startedAt time.Time) {
	_, err := s.db.Exec(
		`INSERT INTO runs (id, project, argv, pid, started_at) VALUES (?, ?, ?, ?, ?)`,
		id, project, argv, pid, startedAt.UTC().Format(timeLayout))
	if err != nil {
		s.log.WithError(err).WithField("project", project).Warn("failed to record run start")
	}
}

// RunExited completes a record. port is 0 when none was detected.
func (s *Store) RunExited(id string, exitedAt time.Time, exitCode int, port int) {
	var portVal any
	if port > 0 {
		portVal = port
	}
	_, err := s.db.Exec(
		`UPDATE runs SET exited_at = ?, exit_code = ?, port = ? WHERE id = ?`,
		exitedAt.UTC().Format(timeLayout), exitCode, portVal, id)
	if err != nil {
		s.log.WithError(err).WithField("run", id).Warn("failed to record run exit")
	}
}

// ForProject returns the most recent runs for a project, newest first.
func (s *Store) ForProject(project string, limit int) ([]Run, error) {
	if limit <= 0 {
		limit = 20
	}
	rows, err := s.db.Query(`
		SELECT id, project, argv, pid, port, started_at, exited_at, exit_code
		FROM runs WHERE project = ? ORDER BY started_at DESC LIMIT ?`,
		project, limit)
	if err != nil {
		return nil, fmt.Errorf("query runs: %w", err)
	}
	defer rows.Close()

	var runs []Run
	for rows.Next() {
		var (
			r                  Run
			port, exitCode     sql.NullInt64
			startedAt, exitedAt sql.NullString
		)
		if err := rows.Scan(&r.ID, &r.Project, &r.Argv, &r.PID, &port, &startedAt, &exitedAt, &exitCode); err != nil {
			return nil, fmt.Errorf("scan run: %w", err)
		}
		if port.Valid {
			r.Port = int(port.Int64)
		}
		if startedAt.Valid {
			r.StartedAt, _ = time.Parse(time.RFC3339Nano, startedAt.String)
		}
		if exitedAt.Valid {
			if t, err := time.Parse(time.RFC3339Nano, exitedAt.String); err == nil {
				r.ExitedAt = &t
			}
		}
		if exitCode.Valid {
			code := int(exitCode.Int64)
			r.ExitCode = &code
		}
		runs = append(runs, r)
	}
	return runs, rows.Err()
}
