// Package sqlstore persists power analyses in PostgreSQL or SQLite through sqlx.
package sqlstore

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/jmoiron/sqlx"
	_ "github.com/lib/pq"
	_ "modernc.org/sqlite"

	"lmmpower/domain/core"
	"lmmpower/domain/power"
	"lmmpower/internal/migration"
	"lmmpower/ports"
)

const (
	driverPostgres = "postgres"
	driverSQLite   = "sqlite"

	// timeLayout is fixed width so that text ordering matches time ordering
	timeLayout = "2006-01-02T15:04:05.000000000Z"

	defaultListLimit = 20
)

func init() {
	sqlx.BindDriver(driverSQLite, sqlx.QUESTION)
}

// Store implements ports.ResultRepository
type Store struct {
	db *sqlx.DB
}

var _ ports.ResultRepository = (*Store)(nil)

// analysisRow is the stored shape of a power.Analysis
type analysisRow struct {
	ID          string `db:"id"`
	Fingerprint string `db:"fingerprint"`
	Formula     string `db:"formula"`
	Method      string `db:"method"`
	Replicates  int    `db:"replicates"`
	Seed        int64  `db:"seed"`
	Request     string `db:"request"`
	PowerTable  string `db:"power_table"`
	CreatedAt   string `db:"created_at"`
	DurationNS  int64  `db:"duration_ns"`
}

// Driver picks the database driver for a DATABASE_URL value: postgres:// and
// postgresql:// URLs use lib/pq, anything else is a SQLite path
func Driver(url string) string {
	if strings.HasPrefix(url, "postgres://") || strings.HasPrefix(url, "postgresql://") {
		return driverPostgres
	}
	return driverSQLite
}

// Open connects to the database and creates the schema
func Open(ctx context.Context, url string) (*Store, error) {
	if url == "" {
		return nil, core.NewInvalidArgument("database_url", "cannot be empty")
	}
	driver := Driver(url)
	db, err := sqlx.Open(driver, url)
	if err != nil {
		return nil, fmt.Errorf("failed to open %s database: %w", driver, err)
	}
	if driver == driverSQLite {
		// every connection to :memory: is a separate database
		db.SetMaxOpenConns(1)
	}
	if err := db.PingContext(ctx); err != nil {
		db.Close()
		return nil, fmt.Errorf("failed to connect to %s database: %w", driver, err)
	}
	if err := migration.NewRunner().Run(ctx, db); err != nil {
		db.Close()
		return nil, err
	}
	return &Store{db: db}, nil
}

// Save inserts or replaces an analysis
func (s *Store) Save(ctx context.Context, a *power.Analysis) error {
	if a == nil || a.ID == "" {
		return core.NewInvalidArgument("analysis", "missing run ID")
	}
	table, err := json.Marshal(a.Table)
	if err != nil {
		return fmt.Errorf("failed to marshal power table: %w", err)
	}
	request := string(a.Request)
	if request == "" {
		request = "{}"
	}

	query := s.db.Rebind(`INSERT INTO analyses (
		id, fingerprint, formula, method, replicates, seed, request, power_table, created_at, duration_ns
	) VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
	ON CONFLICT (id) DO UPDATE SET
		fingerprint = excluded.fingerprint,
		formula = excluded.formula,
		method = excluded.method,
		replicates = excluded.replicates,
		seed = excluded.seed,
		request = excluded.request,
		power_table = excluded.power_table,
		created_at = excluded.created_at,
		duration_ns = excluded.duration_ns`)

	_, err = s.db.ExecContext(ctx, query,
		a.ID.String(), a.Fingerprint.String(), a.Formula, string(a.Method), a.Replicates, a.Seed,
		request, string(table), a.CreatedAt.UTC().Format(timeLayout), int64(a.Duration),
	)
	if err != nil {
		return fmt.Errorf("failed to save analysis %s: %w", a.ID, err)
	}
	return nil
}

// Get retrieves an analysis by run ID
func (s *Store) Get(ctx context.Context, id core.RunID) (*power.Analysis, error) {
	var row analysisRow
	query := s.db.Rebind(`SELECT * FROM analyses WHERE id = ?`)
	if err := s.db.GetContext(ctx, &row, query, id.String()); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, core.NewNotFoundError("analysis", id.String())
		}
		return nil, fmt.Errorf("failed to get analysis: %w", err)
	}
	return row.analysis()
}

// List returns the most recent analyses, newest first
func (s *Store) List(ctx context.Context, limit int) ([]*power.Analysis, error) {
	if limit <= 0 {
		limit = defaultListLimit
	}
	var rows []analysisRow
	query := s.db.Rebind(`SELECT * FROM analyses ORDER BY created_at DESC, id DESC LIMIT ?`)
	if err := s.db.SelectContext(ctx, &rows, query, limit); err != nil {
		return nil, fmt.Errorf("failed to list analyses: %w", err)
	}

	out := make([]*power.Analysis, 0, len(rows))
	for _, row := range rows {
		a, err := row.analysis()
		if err != nil {
			return nil, err
		}
		out = append(out, a)
	}
	return out, nil
}

// Close releases the database handle
func (s *Store) Close() error {
	return s.db.Close()
}

func (r analysisRow) analysis() (*power.Analysis, error) {
	created, err := time.Parse(timeLayout, r.CreatedAt)
	if err != nil {
		return nil, fmt.Errorf("analysis %s has a malformed timestamp: %w", r.ID, err)
	}
	var table power.Table
	if err := json.Unmarshal([]byte(r.PowerTable), &table); err != nil {
		return nil, fmt.Errorf("failed to unmarshal power table of %s: %w", r.ID, err)
	}
	return &power.Analysis{
		ID:          core.RunID(r.ID),
		Fingerprint: core.Hash(r.Fingerprint),
		Formula:     r.Formula,
		Method:      power.Method(r.Method),
		Replicates:  r.Replicates,
		Seed:        r.Seed,
		Request:     json.RawMessage(r.Request),
		Table:       &table,
		CreatedAt:   created,
		Duration:    time.Duration(r.DurationNS),
	}, nil
}
