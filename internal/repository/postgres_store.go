package repository

import (
	"context"
	"database/sql"
	"errors"
	"fmt"

	"github.com/MetheMeticien/Mark-Ed-Place/internal/domain"
	"github.com/golang-migrate/migrate/v4"
	"github.com/golang-migrate/migrate/v4/database/postgres"
	_ "github.com/golang-migrate/migrate/v4/source/file"
	_ "github.com/lib/pq"
)

type Credentials struct {
	Host              string
	Port              int
	User              string
	Password          string
	DBName            string
	MigrationsDirPath string
}

type PostgresStore struct {
	db *sql.DB
}

func NewPostgresStore(cred *Credentials) (*PostgresStore, error) {
	psqlconn := fmt.Sprintf(
		"host=%s port=%d user=%s password=%s dbname=%s sslmode=disable",
		cred.Host,
		cred.Port,
		cred.User,
		cred.Password,
		cred.DBName)

	db, err := sql.Open("postgres", psqlconn)
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}

	if e2 := db.Ping(); e2 != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to ping database: %w", e2)
	}

	db.SetMaxOpenConns(50)
	db.SetMaxIdleConns(10)
	return &PostgresStore{db: db}, nil
}

func (p *PostgresStore) RunMigrations(cred *Credentials) error {
	driver, err := postgres.WithInstance(p.db, &postgres.Config{
		MigrationsTable: "cart_schema_migrations",
	})
	if err != nil {
		return fmt.Errorf("could not create migration driver: %w", err)
	}

	m, err := migrate.NewWithDatabaseInstance(
		fmt.Sprintf("file://%s", cred.MigrationsDirPath),
		"postgres",
		driver,
	)
	if err != nil {
		return fmt.Errorf("could not create migrate instance: %w", err)
	}

	if e2 := m.Up(); e2 != nil && !errors.Is(e2, migrate.ErrNoChange) {
		return fmt.Errorf("could not run migrations: %w", e2)
	}

	return nil
}

func (p *PostgresStore) Load(ctx context.Context, sessionID string) (*domain.Cart, error) {
	var (
		items   []byte
		version int64
	)
	query := `SELECT items, version FROM carts WHERE session_id = $1`
	err := p.db.QueryRowContext(ctx, query, sessionID).Scan(&items, &version)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrCartNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to get cart: %w", err)
	}

	lines, err := decodeLines(items)
	if err != nil {
		return nil, err
	}
	return &domain.Cart{SessionID: sessionID, Lines: lines, Version: version}, nil
}

func (p *PostgresStore) Save(ctx context.Context, cart *domain.Cart) error {
	data, err := encodeLines(cart.Lines)
	if err != nil {
		return err
	}
	next := cart.Version + 1

	var result sql.Result
	if cart.Version == 0 {
		query := `INSERT INTO carts (session_id, items, version, created_at, updated_at)
		          VALUES ($1, $2, $3, NOW(), NOW())
		          ON CONFLICT (session_id) DO NOTHING`
		result, err = p.db.ExecContext(ctx, query, cart.SessionID, data, next)
	} else {
		query := `UPDATE carts SET items = $2, version = $3, updated_at = NOW()
		          WHERE session_id = $1 AND version = $4`
		result, err = p.db.ExecContext(ctx, query, cart.SessionID, data, next, cart.Version)
	}
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}

	affected, err := result.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to save cart: %w", err)
	}
	if affected == 0 {
		return ErrVersionConflict
	}

	cart.Version = next
	return nil
}

func (p *PostgresStore) Delete(ctx context.Context, sessionID string) error {
	if _, err := p.db.ExecContext(ctx, `DELETE FROM carts WHERE session_id = $1`, sessionID); err != nil {
		return fmt.Errorf("failed to delete cart: %w", err)
	}
	return nil
}

func (p *PostgresStore) Close() error {
	return p.db.Close()
}
