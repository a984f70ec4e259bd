package deobf

import (
	"context"
	"database/sql"
	"time"

	"github.com/google/uuid"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	_ "modernc.org/sqlite"
)

// ErrRunNotFound indicates the requested run doesn't exist.
var ErrRunNotFound = errors.New("run not found")

// Store persists batch runs in SQLite.
type Store struct {
	db *sql.DB
}

// RunInfo summarizes a stored run.
type RunInfo struct {
	ID        uuid.UUID
	Started   time.Time
	Finished  time.Time
	Classes   int
	Decrypted int
}

const schema = `
CREATE TABLE IF NOT EXISTS runs (
	id       TEXT PRIMARY KEY,
	started  INTEGER NOT NULL,
	finished INTEGER NOT NULL,
	classes  INTEGER NOT NULL
);
CREATE TABLE IF NOT EXISTS results (
	run_id     TEXT NOT NULL REFERENCES runs(id),
	class      TEXT NOT NULL,
	cp_index   INTEGER NOT NULL,
	original   TEXT NOT NULL,
	decrypted  TEXT NOT NULL,
	decryptor  TEXT NOT NULL,
	success    INTEGER NOT NULL,
	error      TEXT NOT NULL,
	elapsed_ns INTEGER NOT NULL,
	applied    INTEGER NOT NULL,
	PRIMARY KEY (run_id, class, cp_index)
);`

// OpenStore opens or creates the database at path.
func OpenStore(path string) (*Store, error) {
	db, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, errors.Wrap(err, "opening database")
	}
	// One connection keeps writers serialized.
	db.SetMaxOpenConns(1)

	if _, err := db.Exec("PRAGMA busy_timeout = 5000"); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "setting busy timeout")
	}
	if _, err := db.Exec(schema); err != nil {
		db.Close()
		return nil, errors.Wrap(err, "creating tables")
	}
	return &Store{db: db}, nil
}

// Close closes the database connection.
func (s *Store) Close() error {
	return s.db.Close()
}

// SaveRun writes a run and all of its results in one transaction.
func (s *Store) SaveRun(ctx context.Context, run *Run) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return errors.Wrap(err, "beginning transaction")
	}
	defer tx.Rollback()

	id := run.ID.String()
	if _, err := tx.ExecContext(ctx,
		"INSERT OR REPLACE INTO runs (id, started, finished, classes) VALUES (?, ?, ?, ?)",
		id, run.Started.UnixNano(), run.Finished.UnixNano(), len(run.Reports),
	); err != nil {
		return errors.Wrap(err, "saving run")
	}
	if _, err := tx.ExecContext(ctx, "DELETE FROM results WHERE run_id = ?", id); err != nil {
		return errors.Wrap(err, "clearing results")
	}
	stmt, err := tx.PrepareContext(ctx, `INSERT INTO results
		(run_id, class, cp_index, original, decrypted, decryptor, success, error, elapsed_ns, applied)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if err != nil {
		return errors.Wrap(err, "preparing insert")
	}
	defer stmt.Close()

	n := 0
	for _, rep := range run.Reports {
		for _, r := range rep.Results {
			if _, err := stmt.ExecContext(ctx, id, r.Class, int(r.CPIndex), r.Original, r.Decrypted,
				r.Decryptor, r.Success, r.Error, int64(r.Elapsed), r.Applied); err != nil {
				return errors.Wrapf(err, "saving result %s", r.Location())
			}
			n++
		}
	}
	if err := tx.Commit(); err != nil {
		return errors.Wrap(err, "committing run")
	}
	Logger().Debug("run stored", zap.String("run", id), zap.Int("results", n))
	return nil
}

// Results loads the results of a run ordered by class and pool index.
func (s *Store) Results(ctx context.Context, id uuid.UUID) ([]*Result, error) {
	var exists int
	err := s.db.QueryRowContext(ctx, "SELECT COUNT(*) FROM runs WHERE id = ?", id.String()).Scan(&exists)
	if err != nil {
		return nil, errors.Wrap(err, "querying run")
	}
	if exists == 0 {
		return nil, errors.Wrap(ErrRunNotFound, id.String())
	}

	rows, err := s.db.QueryContext(ctx, `SELECT class, cp_index, original, decrypted, decryptor,
		success, error, elapsed_ns, applied FROM results WHERE run_id = ? ORDER BY class, cp_index`, id.String())
	if err != nil {
		return nil, errors.Wrap(err, "querying results")
	}
	defer rows.Close()

	var out []*Result
	for rows.Next() {
		var (
			r       Result
			index   int
			elapsed int64
		)
		if err := rows.Scan(&r.Class, &index, &r.Original, &r.Decrypted, &r.Decryptor,
			&r.Success, &r.Error, &elapsed, &r.Applied); err != nil {
			return nil, errors.Wrap(err, "scanning result")
		}
		r.CPIndex = uint16(index)
		r.Elapsed = time.Duration(elapsed)
		out = append(out, &r)
	}
	return out, errors.Wrap(rows.Err(), "reading results")
}

// Runs lists stored runs, most recent first.
func (s *Store) Runs(ctx context.Context) ([]RunInfo, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT r.id, r.started, r.finished, r.classes,
		(SELECT COUNT(*) FROM results WHERE run_id = r.id AND success = 1)
		FROM runs r ORDER BY r.started DESC`)
	if err != nil {
		return nil, errors.Wrap(err, "querying runs")
	}
	defer rows.Close()

	var out []RunInfo
	for rows.Next() {
		var (
			info              RunInfo
			id                string
			started, finished int64
		)
		if err := rows.Scan(&id, &started, &finished, &info.Classes, &info.Decrypted); err != nil {
			return nil, errors.Wrap(err, "scanning run")
		}
		if info.ID, err = uuid.Parse(id); err != nil {
			return nil, errors.Wrapf(err, "run id %q", id)
		}
		info.Started = time.Unix(0, started)
		info.Finished = time.Unix(0, finished)
		out = append(out, info)
	}
	return out, errors.Wrap(rows.Err(), "reading runs")
}
