package store

import (
	"context"
	"embed"
	"encoding/json"
	"errors"
	"fmt"
	"sort"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/rs/zerolog"

	"github.com/petmerch/api/internal/model"
)

//go:embed migrations/*.sql
var migrationsFS embed.FS

// NewPostgresPool opens a pgx pool for databaseURL
func NewPostgresPool(ctx context.Context, databaseURL string) (*pgxpool.Pool, error) {
	poolCfg, err := pgxpool.ParseConfig(databaseURL)
	if err != nil {
		return nil, fmt.Errorf("parse database url: %w", err)
	}

	poolCfg.MaxConns = 10
	poolCfg.MinConns = 1
	poolCfg.MaxConnLifetime = time.Hour
	poolCfg.MaxConnIdleTime = 30 * time.Minute

	ctx, cancel := context.WithTimeout(ctx, 10*time.Second)
	defer cancel()

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("connect database: %w", err)
	}
	return pool, nil
}

// Migrate applies embedded migrations that have not run yet, each in its own transaction
func Migrate(ctx context.Context, pool *pgxpool.Pool, log zerolog.Logger) error {
	if _, err := pool.Exec(ctx, `
		CREATE TABLE IF NOT EXISTS schema_migrations (
			name TEXT PRIMARY KEY,
			applied_at TIMESTAMPTZ DEFAULT NOW()
		)`); err != nil {
		return fmt.Errorf("create migrations table: %w", err)
	}

	entries, err := migrationsFS.ReadDir("migrations")
	if err != nil {
		return fmt.Errorf("read migrations: %w", err)
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Name() < entries[j].Name() })

	for _, entry := range entries {
		if entry.IsDir() {
			continue
		}
		name := entry.Name()

		var applied bool
		if err := pool.QueryRow(ctx,
			"SELECT EXISTS (SELECT 1 FROM schema_migrations WHERE name = $1)", name,
		).Scan(&applied); err != nil {
			return fmt.Errorf("check migration %s: %w", name, err)
		}
		if applied {
			continue
		}

		sql, err := migrationsFS.ReadFile("migrations/" + name)
		if err != nil {
			return fmt.Errorf("read migration %s: %w", name, err)
		}

		err = pgx.BeginFunc(ctx, pool, func(tx pgx.Tx) error {
			if _, err := tx.Exec(ctx, string(sql)); err != nil {
				return err
			}
			_, err := tx.Exec(ctx, "INSERT INTO schema_migrations (name) VALUES ($1)", name)
			return err
		})
		if err != nil {
			return fmt.Errorf("apply migration %s: %w", name, err)
		}
		log.Info().Str("migration", name).Msg("applied migration")
	}
	return nil
}

// PostgresJobStore keeps jobs in the designs table. Patch locks the row for the
// duration of the mutation.
type PostgresJobStore struct {
	pool *pgxpool.Pool
}

func NewPostgresJobStore(pool *pgxpool.Pool) *PostgresJobStore {
	return &PostgresJobStore{pool: pool}
}

func (s *PostgresJobStore) Put(ctx context.Context, job *model.DesignJob) error {
	data, err := json.Marshal(job)
	if err != nil {
		return storageErr("put", err)
	}

	_, err = s.pool.Exec(ctx, `
INSERT INTO designs (id, status, progress, current_step, style, data, created_at, updated_at, completed_at)
VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)
ON CONFLICT (id) DO UPDATE
SET status = EXCLUDED.status,
    progress = EXCLUDED.progress,
    current_step = EXCLUDED.current_step,
    data = EXCLUDED.data,
    updated_at = EXCLUDED.updated_at,
    completed_at = EXCLUDED.completed_at;
`,
		job.ID,
		job.Status,
		job.Progress,
		job.CurrentStep,
		job.Style,
		data,
		job.CreatedAt,
		job.UpdatedAt,
		job.CompletedAt,
	)
	if err != nil {
		return storageErr("put", err)
	}
	return nil
}

func (s *PostgresJobStore) Get(ctx context.Context, id string) (*model.DesignJob, error) {
	var data []byte
	err := s.pool.QueryRow(ctx, "SELECT data FROM designs WHERE id = $1", id).Scan(&data)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, jobNotFound(id)
		}
		return nil, storageErr("get", err)
	}

	var job model.DesignJob
	if err := json.Unmarshal(data, &job); err != nil {
		return nil, storageErr("decode", err)
	}
	return &job, nil
}

func (s *PostgresJobStore) Patch(ctx context.Context, id string, fn MutateFunc) (*model.DesignJob, error) {
	var (
		job   model.DesignJob
		fnErr error
	)

	err := pgx.BeginFunc(ctx, s.pool, func(tx pgx.Tx) error {
		var data []byte
		if err := tx.QueryRow(ctx, "SELECT data FROM designs WHERE id = $1 FOR UPDATE", id).Scan(&data); err != nil {
			if errors.Is(err, pgx.ErrNoRows) {
				fnErr = jobNotFound(id)
				return fnErr
			}
			return err
		}
		if err := json.Unmarshal(data, &job); err != nil {
			fnErr = storageErr("decode", err)
			return fnErr
		}

		changed, err := fn(&job)
		if err != nil {
			fnErr = err
			return err
		}
		if !changed {
			return nil
		}

		next, err := json.Marshal(&job)
		if err != nil {
			return err
		}
		_, err = tx.Exec(ctx, `
UPDATE designs
SET status = $2, progress = $3, current_step = $4, data = $5, updated_at = $6, completed_at = $7
WHERE id = $1;
`, job.ID, job.Status, job.Progress, job.CurrentStep, next, job.UpdatedAt, job.CompletedAt)
		return err
	})
	if fnErr != nil {
		return nil, fnErr
	}
	if err != nil {
		return nil, storageErr("patch", err)
	}
	return &job, nil
}

func (s *PostgresJobStore) Ping(ctx context.Context) error {
	return s.pool.Ping(ctx)
}

func (s *PostgresJobStore) Close() error {
	s.pool.Close()
	return nil
}
