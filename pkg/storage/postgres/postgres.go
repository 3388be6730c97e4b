// Package postgres provides a PostgreSQL-backed storage.Store. It uses
// pgx/v5 for connection pooling and JSONB for message metadata.
package postgres

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/storage"
)

// Store is a PostgreSQL-backed message store and usage recorder.
type Store struct {
	pool *pgxpool.Pool
}

// Ensure Store implements storage.Store at compile time.
var _ storage.Store = (*Store)(nil)

// New creates a PostgreSQL store with the given configuration. If
// MigrateOnStart is true, schema migrations are applied automatically.
func New(ctx context.Context, cfg Config) (*Store, error) {
	cfg.defaults()

	poolCfg, err := pgxpool.ParseConfig(cfg.DSN)
	if err != nil {
		return nil, fmt.Errorf("parsing DSN: %w", err)
	}

	poolCfg.MaxConns = cfg.MaxConns
	poolCfg.MinConns = cfg.MinConns
	poolCfg.MaxConnLifetime = cfg.MaxConnLifetime

	pool, err := pgxpool.NewWithConfig(ctx, poolCfg)
	if err != nil {
		return nil, fmt.Errorf("creating connection pool: %w", err)
	}

	// Verify connectivity.
	if err := pool.Ping(ctx); err != nil {
		pool.Close()
		return nil, fmt.Errorf("connecting to database: %w", err)
	}

	s := &Store{pool: pool}

	if cfg.MigrateOnStart {
		if err := s.migrate(ctx); err != nil {
			pool.Close()
			return nil, fmt.Errorf("running migrations: %w", err)
		}
	}

	return s, nil
}

// SaveMessage persists a message, assigning its id and timestamp.
func (s *Store) SaveMessage(ctx context.Context, params storage.SaveMessageParams) (*storage.Message, error) {
	msg := storage.Message{
		ID:                   api.NewMessageID(),
		ConversationID:       params.ConversationID,
		Role:                 params.Role,
		Content:              params.Content,
		ModelConfigurationID: params.ModelConfigurationID,
		ParentID:             params.ParentID,
		VariantIndex:         params.VariantIndex,
		Metadata:             params.Metadata,
		CreatedAt:            time.Now().UTC(),
	}

	var metadataJSON []byte
	if msg.Metadata != nil {
		var err error
		metadataJSON, err = json.Marshal(msg.Metadata)
		if err != nil {
			return nil, fmt.Errorf("marshaling metadata: %w", err)
		}
	}

	_, err := s.pool.Exec(ctx, `
		INSERT INTO messages (
			id, tenant_id, conversation_id, role, content,
			model_configuration_id, parent_id, variant_index, metadata, created_at
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		msg.ID, storage.GetTenant(ctx), msg.ConversationID, msg.Role, msg.Content,
		nullString(msg.ModelConfigurationID), nullString(msg.ParentID),
		msg.VariantIndex, nullJSON(metadataJSON), msg.CreatedAt,
	)
	if err != nil {
		if isDuplicateKey(err) {
			return nil, storage.ErrConflict
		}
		return nil, fmt.Errorf("inserting message: %w", err)
	}

	return &msg, nil
}

// GetMessage retrieves a message by id, scoped by tenant when one is
// present in the context.
func (s *Store) GetMessage(ctx context.Context, id string) (*storage.Message, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, conversation_id, role, content,
		       COALESCE(model_configuration_id, ''), COALESCE(parent_id, ''),
		       variant_index, metadata, created_at
		FROM messages
		WHERE id = $1 AND ($2 = '' OR tenant_id = $2)
	`, id, storage.GetTenant(ctx))

	msg, err := scanMessage(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, storage.ErrNotFound
		}
		return nil, fmt.Errorf("querying message: %w", err)
	}
	return msg, nil
}

// ListConversation returns a conversation's messages in creation order.
func (s *Store) ListConversation(ctx context.Context, conversationID string) ([]storage.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, conversation_id, role, content,
		       COALESCE(model_configuration_id, ''), COALESCE(parent_id, ''),
		       variant_index, metadata, created_at
		FROM messages
		WHERE conversation_id = $1 AND ($2 = '' OR tenant_id = $2)
		ORDER BY created_at, variant_index
	`, conversationID, storage.GetTenant(ctx))
	if err != nil {
		return nil, fmt.Errorf("querying conversation: %w", err)
	}
	defer rows.Close()

	var messages []storage.Message
	for rows.Next() {
		msg, err := scanMessage(rows)
		if err != nil {
			return nil, fmt.Errorf("scanning message: %w", err)
		}
		messages = append(messages, *msg)
	}
	return messages, rows.Err()
}

// RecordUsage inserts one usage record.
func (s *Store) RecordUsage(ctx context.Context, rec storage.UsageRecord) error {
	_, err := s.pool.Exec(ctx, `
		INSERT INTO usage_records (
			tenant_id, provider_id, model, request_type,
			input_tokens, output_tokens, cost, response_time_ms,
			success, error_message
		) VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10)
	`,
		storage.GetTenant(ctx), rec.ProviderID, rec.Model, rec.RequestType,
		rec.InputTokens, rec.OutputTokens, rec.Cost, rec.ResponseTimeMs,
		rec.Success, nullString(rec.ErrorMessage),
	)
	if err != nil {
		return fmt.Errorf("inserting usage record: %w", err)
	}
	return nil
}

// Close releases the connection pool.
func (s *Store) Close() error {
	s.pool.Close()
	return nil
}

// rowScanner is satisfied by both pgx.Row and pgx.Rows.
type rowScanner interface {
	Scan(dest ...any) error
}

func scanMessage(row rowScanner) (*storage.Message, error) {
	var (
		msg          storage.Message
		metadataJSON []byte
	)
	err := row.Scan(
		&msg.ID, &msg.ConversationID, &msg.Role, &msg.Content,
		&msg.ModelConfigurationID, &msg.ParentID,
		&msg.VariantIndex, &metadataJSON, &msg.CreatedAt,
	)
	if err != nil {
		return nil, err
	}
	if len(metadataJSON) > 0 {
		if err := json.Unmarshal(metadataJSON, &msg.Metadata); err != nil {
			return nil, fmt.Errorf("unmarshaling metadata: %w", err)
		}
	}
	return &msg, nil
}

// nullString converts empty strings to nil for nullable TEXT columns.
func nullString(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

// nullJSON converts nil/empty byte slices to nil for nullable JSONB columns.
func nullJSON(b []byte) *[]byte {
	if len(b) == 0 {
		return nil
	}
	return &b
}

// isDuplicateKey checks if the error is a PostgreSQL unique violation (23505).
func isDuplicateKey(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == "23505"
}
