package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"
	"go.uber.org/zap"

	"github.com/chess-broker/internal/config"
	"github.com/chess-broker/internal/domain"
	"github.com/chess-broker/internal/store"
)

// uniqueViolation is the SQLSTATE of a primary key conflict
const uniqueViolation = "23505"

// Repository provides PostgreSQL-based document storage
type Repository struct {
	pool   *pgxpool.Pool
	logger *zap.Logger
}

// NewRepository creates a new PostgreSQL repository
func NewRepository(cfg *config.PostgresConfig, logger *zap.Logger) (*Repository, error) {
	poolConfig, err := pgxpool.ParseConfig(cfg.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("parsing connection string: %w", err)
	}

	poolConfig.MaxConns = int32(cfg.MaxConnections)
	poolConfig.MinConns = int32(cfg.MinConnections)
	poolConfig.MaxConnLifetime = cfg.MaxConnLifetime
	poolConfig.MaxConnIdleTime = cfg.MaxConnIdleTime

	pool, err := pgxpool.NewWithConfig(context.Background(), poolConfig)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Test connection
	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	return &Repository{
		pool:   pool,
		logger: logger,
	}, nil
}

// Close closes the database connection pool
func (r *Repository) Close() error {
	r.pool.Close()
	return nil
}

// Pool returns the underlying connection pool
func (r *Repository) Pool() *pgxpool.Pool {
	return r.pool
}

// RunMigrations executes database migrations
func (r *Repository) RunMigrations(ctx context.Context) error {
	migrations := []string{
		`CREATE TABLE IF NOT EXISTS documents (
			collection VARCHAR(64) NOT NULL,
			key VARCHAR(255) NOT NULL,
			body JSONB NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			updated_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP,
			PRIMARY KEY (collection, key)
		)`,
		`CREATE TABLE IF NOT EXISTS rating_events (
			id BIGSERIAL PRIMARY KEY,
			username VARCHAR(255) NOT NULL,
			rating DOUBLE PRECISION NOT NULL,
			rd DOUBLE PRECISION NOT NULL,
			vol DOUBLE PRECISION NOT NULL,
			created_at TIMESTAMP DEFAULT CURRENT_TIMESTAMP
		)`,
		`CREATE INDEX IF NOT EXISTS idx_documents_user_rating
			ON documents (((body->'glicko2'->>'rating')::DOUBLE PRECISION) DESC)
			WHERE collection = 'users'`,
		`CREATE INDEX IF NOT EXISTS idx_rating_events_user ON rating_events(username, created_at DESC)`,
	}

	for _, migration := range migrations {
		_, err := r.pool.Exec(ctx, migration)
		if err != nil {
			return fmt.Errorf("executing migration: %w", err)
		}
	}

	r.logger.Info("database migrations completed")
	return nil
}

// Collection returns the named document collection
func (r *Repository) Collection(name string) store.Collection {
	return &collection{pool: r.pool, name: name}
}

// RecordRatingUpdate appends a closed rating period to the history
func (r *Repository) RecordRatingUpdate(ctx context.Context, update domain.RatingUpdate) error {
	query := `
		INSERT INTO rating_events (username, rating, rd, vol, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	_, err := r.pool.Exec(ctx, query, update.Username, update.Rating, update.RD, update.Vol, update.Timestamp)
	if err != nil {
		return fmt.Errorf("recording rating update: %w", err)
	}
	return nil
}

// BatchRecordRatingUpdates records several rating updates in one round trip
func (r *Repository) BatchRecordRatingUpdates(ctx context.Context, updates []domain.RatingUpdate) error {
	if len(updates) == 0 {
		return nil
	}

	batch := &pgx.Batch{}
	query := `
		INSERT INTO rating_events (username, rating, rd, vol, created_at)
		VALUES ($1, $2, $3, $4, $5)
	`
	for _, u := range updates {
		batch.Queue(query, u.Username, u.Rating, u.RD, u.Vol, u.Timestamp)
	}

	br := r.pool.SendBatch(ctx, batch)
	defer br.Close()

	for range updates {
		if _, err := br.Exec(); err != nil {
			return fmt.Errorf("batch recording rating updates: %w", err)
		}
	}
	return nil
}

// GetAllRatings returns every registered user's current rating (for sync)
func (r *Repository) GetAllRatings(ctx context.Context) (map[string]float64, error) {
	query := `
		SELECT key, (body->'glicko2'->>'rating')::DOUBLE PRECISION
		FROM documents
		WHERE collection = $1 AND body->'glicko2'->>'rating' IS NOT NULL
	`
	rows, err := r.pool.Query(ctx, query, store.Users)
	if err != nil {
		return nil, fmt.Errorf("getting all ratings: %w", err)
	}
	defer rows.Close()

	ratings := make(map[string]float64)
	for rows.Next() {
		var username string
		var rating float64
		if err := rows.Scan(&username, &rating); err != nil {
			return nil, fmt.Errorf("scanning rating: %w", err)
		}
		ratings[username] = rating
	}
	return ratings, rows.Err()
}

// collection is one namespace of the documents table
type collection struct {
	pool *pgxpool.Pool
	name string
}

func (c *collection) FindOne(ctx context.Context, key string) (json.RawMessage, error) {
	query := `SELECT body FROM documents WHERE collection = $1 AND key = $2`
	var body []byte
	err := c.pool.QueryRow(ctx, query, c.name, key).Scan(&body)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, store.ErrNotFound
		}
		return nil, fmt.Errorf("finding %s document: %w", c.name, err)
	}
	return body, nil
}

func (c *collection) Insert(ctx context.Context, key string, doc json.RawMessage) error {
	query := `
		INSERT INTO documents (collection, key, body, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
	`
	_, err := c.pool.Exec(ctx, query, c.name, key, []byte(doc))
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return store.ErrDuplicate
		}
		return fmt.Errorf("inserting %s document: %w", c.name, err)
	}
	return nil
}

func (c *collection) Save(ctx context.Context, key string, doc json.RawMessage) error {
	query := `
		INSERT INTO documents (collection, key, body, created_at, updated_at)
		VALUES ($1, $2, $3, NOW(), NOW())
		ON CONFLICT (collection, key)
		DO UPDATE SET body = $3, updated_at = NOW()
	`
	if _, err := c.pool.Exec(ctx, query, c.name, key, []byte(doc)); err != nil {
		return fmt.Errorf("saving %s document: %w", c.name, err)
	}
	return nil
}

func (c *collection) Update(ctx context.Context, key string, patch json.RawMessage) error {
	query := `
		UPDATE documents SET body = body || $3::jsonb, updated_at = NOW()
		WHERE collection = $1 AND key = $2
	`
	result, err := c.pool.Exec(ctx, query, c.name, key, []byte(patch))
	if err != nil {
		return fmt.Errorf("updating %s document: %w", c.name, err)
	}
	if result.RowsAffected() == 0 {
		return store.ErrNotFound
	}
	return nil
}

func (c *collection) Each(ctx context.Context, fn func(key string, doc json.RawMessage) error) error {
	query := `SELECT key, body FROM documents WHERE collection = $1 ORDER BY key`
	rows, err := c.pool.Query(ctx, query, c.name)
	if err != nil {
		return fmt.Errorf("listing %s documents: %w", c.name, err)
	}
	defer rows.Close()

	for rows.Next() {
		var key string
		var body []byte
		if err := rows.Scan(&key, &body); err != nil {
			return fmt.Errorf("scanning %s document: %w", c.name, err)
		}
		if err := fn(key, body); err != nil {
			return err
		}
	}
	return rows.Err()
}
