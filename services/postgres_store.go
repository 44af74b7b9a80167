package services

import (
	"context"
	"database/sql"
	"fmt"
	"time"

	_ "github.com/lib/pq"

	"github.com/shafiqahmeddev/lqap-project/protocol"
)

// PostgresStore implements RegistryStore with PostgreSQL persistence.
type PostgresStore struct {
	db *sql.DB
}

// PostgresConfig contains PostgreSQL connection settings.
type PostgresConfig struct {
	Host     string
	Port     int
	User     string
	Password string
	Database string
	SSLMode  string
}

// ConnectionString returns the PostgreSQL connection string.
func (c *PostgresConfig) ConnectionString() string {
	sslMode := c.SSLMode
	if sslMode == "" {
		sslMode = "disable"
	}
	return fmt.Sprintf("host=%s port=%d user=%s password=%s dbname=%s sslmode=%s",
		c.Host, c.Port, c.User, c.Password, c.Database, sslMode)
}

// NewPostgresStore creates a new PostgreSQL-backed store.
func NewPostgresStore(config *PostgresConfig) (*PostgresStore, error) {
	db, err := sql.Open("postgres", config.ConnectionString())
	if err != nil {
		return nil, fmt.Errorf("opening database: %w", err)
	}

	db.SetMaxOpenConns(25)
	db.SetMaxIdleConns(5)
	db.SetConnMaxLifetime(5 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	if err := db.PingContext(ctx); err != nil {
		return nil, fmt.Errorf("pinging database: %w", err)
	}

	store := &PostgresStore{db: db}
	if err := store.migrate(); err != nil {
		return nil, fmt.Errorf("running migrations: %w", err)
	}

	return store, nil
}

func (s *PostgresStore) migrate() error {
	schema := `
	CREATE TABLE IF NOT EXISTS identities (
		identity_id VARCHAR(128) PRIMARY KEY,
		role VARCHAR(32) NOT NULL,
		domain VARCHAR(128) NOT NULL,
		merkle_root VARCHAR(64) NOT NULL,
		enrolled_at TIMESTAMP WITH TIME ZONE NOT NULL,
		updated_at TIMESTAMP WITH TIME ZONE DEFAULT NOW()
	);

	CREATE INDEX IF NOT EXISTS idx_identities_domain ON identities(domain);
	CREATE INDEX IF NOT EXISTS idx_identities_role ON identities(role);
	`

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, schema)
	return err
}

// SaveIdentity persists an identity record, replacing any previous row.
// Replacement covers administrative re-provisioning where the Merkle
// root changes.
func (s *PostgresStore) SaveIdentity(record *IdentityRecord) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	query := `
	INSERT INTO identities (identity_id, role, domain, merkle_root, enrolled_at, updated_at)
	VALUES ($1, $2, $3, $4, $5, NOW())
	ON CONFLICT (identity_id) DO UPDATE SET
		role = EXCLUDED.role,
		domain = EXCLUDED.domain,
		merkle_root = EXCLUDED.merkle_root,
		enrolled_at = EXCLUDED.enrolled_at,
		updated_at = NOW()
	`

	_, err := s.db.ExecContext(ctx, query,
		record.IdentityID,
		string(record.Role),
		record.Domain,
		record.MerkleRoot,
		record.EnrolledAt,
	)
	return err
}

// DeleteIdentity removes an identity record.
func (s *PostgresStore) DeleteIdentity(identityID string) error {
	ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer cancel()

	_, err := s.db.ExecContext(ctx, "DELETE FROM identities WHERE identity_id = $1", identityID)
	return err
}

// LoadAllIdentities retrieves all persisted identity records.
func (s *PostgresStore) LoadAllIdentities() ([]*IdentityRecord, error) {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	rows, err := s.db.QueryContext(ctx, `
		SELECT identity_id, role, domain, merkle_root, enrolled_at
		FROM identities
	`)
	if err != nil {
		return nil, fmt.Errorf("querying identities: %w", err)
	}
	defer rows.Close()

	var records []*IdentityRecord
	for rows.Next() {
		var record IdentityRecord
		var role string
		if err := rows.Scan(&record.IdentityID, &role, &record.Domain,
			&record.MerkleRoot, &record.EnrolledAt); err != nil {
			return nil, fmt.Errorf("scanning identity row: %w", err)
		}
		record.Role = protocol.Role(role)
		records = append(records, &record)
	}
	return records, rows.Err()
}

// Close closes the database connection.
func (s *PostgresStore) Close() error {
	return s.db.Close()
}
