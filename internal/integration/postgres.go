package integration

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/omniboxhq/omnibox/internal/channel"
	dbpkg "github.com/omniboxhq/omnibox/internal/db"
)

const uniqueViolation = "23505"

// PostgresStore implements Store on the shared pool.
type PostgresStore struct {
	pool *pgxpool.Pool
}

// NewPostgresStore creates a Postgres-backed integration store.
func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{pool: pool}
}

const integrationColumns = `id, tenant_id, channel, route_key, display_name, credentials, created_at, updated_at`

func (s *PostgresStore) Create(ctx context.Context, params CreateParams) (Integration, error) {
	credentials, err := json.Marshal(dbpkg.NonNilMap(params.Credentials))
	if err != nil {
		return Integration{}, fmt.Errorf("marshal credentials: %w", err)
	}

	row := s.pool.QueryRow(ctx, `
		INSERT INTO integrations (tenant_id, channel, route_key, display_name, credentials)
		VALUES ($1, $2, $3, $4, $5)
		RETURNING `+integrationColumns,
		params.TenantID, params.Channel.String(), params.RouteKey, params.DisplayName, credentials,
	)
	record, err := scanIntegration(row)
	if err != nil {
		var pgErr *pgconn.PgError
		if errors.As(err, &pgErr) && pgErr.Code == uniqueViolation {
			return Integration{}, ErrRouteTaken
		}
		return Integration{}, fmt.Errorf("insert integration: %w", err)
	}
	return record, nil
}

func (s *PostgresStore) GetByID(ctx context.Context, tenantID, id uuid.UUID) (Integration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	return handleNotFound(scanIntegration(row))
}

func (s *PostgresStore) GetByRoute(ctx context.Context, channelType channel.ChannelType, routeKey string) (Integration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations
		WHERE channel = $1 AND route_key = $2`,
		channelType.String(), routeKey,
	)
	return handleNotFound(scanIntegration(row))
}

func (s *PostgresStore) GetByTenantChannel(ctx context.Context, tenantID uuid.UUID, channelType channel.ChannelType) (Integration, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations
		WHERE tenant_id = $1 AND channel = $2
		ORDER BY created_at ASC
		LIMIT 1`,
		tenantID, channelType.String(),
	)
	return handleNotFound(scanIntegration(row))
}

func (s *PostgresStore) ListByTenant(ctx context.Context, tenantID uuid.UUID) ([]Integration, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT `+integrationColumns+`
		FROM integrations
		WHERE tenant_id = $1
		ORDER BY created_at ASC`,
		tenantID,
	)
	if err != nil {
		return nil, fmt.Errorf("list integrations: %w", err)
	}
	defer rows.Close()

	var records []Integration
	for rows.Next() {
		record, err := scanIntegration(rows)
		if err != nil {
			return nil, fmt.Errorf("scan integration: %w", err)
		}
		records = append(records, record)
	}
	return records, rows.Err()
}

func (s *PostgresStore) Delete(ctx context.Context, tenantID, id uuid.UUID) error {
	tag, err := s.pool.Exec(ctx, `
		DELETE FROM integrations
		WHERE tenant_id = $1 AND id = $2`,
		tenantID, id,
	)
	if err != nil {
		return fmt.Errorf("delete integration: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func scanIntegration(row pgx.Row) (Integration, error) {
	var (
		record      Integration
		channelName string
		credentials []byte
	)
	err := row.Scan(
		&record.ID,
		&record.TenantID,
		&channelName,
		&record.RouteKey,
		&record.DisplayName,
		&credentials,
		&record.CreatedAt,
		&record.UpdatedAt,
	)
	if err != nil {
		return Integration{}, err
	}
	record.Channel = channel.ChannelType(channelName)
	if len(credentials) > 0 {
		if err := json.Unmarshal(credentials, &record.Credentials); err != nil {
			return Integration{}, fmt.Errorf("decode credentials: %w", err)
		}
	}
	return record, nil
}

func handleNotFound(record Integration, err error) (Integration, error) {
	if errors.Is(err, pgx.ErrNoRows) {
		return Integration{}, ErrNotFound
	}
	if err != nil {
		return Integration{}, fmt.Errorf("query integration: %w", err)
	}
	return record, nil
}
