package store

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgtype"
	"github.com/jackc/pgx/v5/pgxpool"
)

const pgUniqueViolation = "23505"

// DBTX is satisfied by both *pgxpool.Pool and pgx.Tx.
type DBTX interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

type PostgresStore struct {
	pool *pgxpool.Pool
	db   DBTX
	log  *slog.Logger
}

func NewPostgresStore(pool *pgxpool.Pool) *PostgresStore {
	return &PostgresStore{
		pool: pool,
		db:   pool,
		log:  slog.Default().With("component", "store", "driver", "postgres"),
	}
}

const agentColumns = `id, name, status, board_id, last_seen_at, openclaw_session_id, agent_token_hash,
	heartbeat_config, identity_profile, provision_requested_at, provision_action, created_at, updated_at`

func (s *PostgresStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	parsed, ok := parseUUID(id)
	if !ok {
		return nil, ErrNotFound
	}
	return s.queryAgent(ctx, "SELECT "+agentColumns+" FROM agents WHERE id = $1", parsed)
}

func (s *PostgresStore) FindAgentBySessionKey(ctx context.Context, key string) (*Agent, error) {
	return s.queryAgent(ctx, "SELECT "+agentColumns+" FROM agents WHERE openclaw_session_id = $1 LIMIT 1", key)
}

func (s *PostgresStore) FindAgentByName(ctx context.Context, name string) (*Agent, error) {
	return s.queryAgent(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE name = $1 ORDER BY created_at, id LIMIT 1", name)
}

func (s *PostgresStore) FindAgentByHeartbeatName(ctx context.Context, name string) (*Agent, error) {
	return s.FindAgentByName(ctx, name)
}

func (s *PostgresStore) FindAgentByTokenHash(ctx context.Context, hash string) (*Agent, error) {
	return s.queryAgent(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE agent_token_hash = $1 ORDER BY created_at, id LIMIT 1", hash)
}

func (s *PostgresStore) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.Query(ctx, "SELECT "+agentColumns+" FROM agents ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		agent, err := scanPgAgent(rows)
		if err != nil {
			return nil, err
		}
		agents = append(agents, *agent)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	return agents, nil
}

func (s *PostgresStore) InsertAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	args, err := pgAgentArgs(agent)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)`, args...)
	if err != nil {
		return mapPgError("insert agent", err)
	}
	return nil
}

func (s *PostgresStore) SaveAgent(ctx context.Context, agent *Agent) error {
	args, err := pgAgentArgs(agent)
	if err != nil {
		return err
	}
	_, err = s.db.Exec(ctx, `INSERT INTO agents (`+agentColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9, $10, $11, $12, $13)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			status = EXCLUDED.status,
			board_id = EXCLUDED.board_id,
			last_seen_at = EXCLUDED.last_seen_at,
			openclaw_session_id = EXCLUDED.openclaw_session_id,
			agent_token_hash = EXCLUDED.agent_token_hash,
			heartbeat_config = EXCLUDED.heartbeat_config,
			identity_profile = EXCLUDED.identity_profile,
			provision_requested_at = EXCLUDED.provision_requested_at,
			provision_action = EXCLUDED.provision_action,
			updated_at = EXCLUDED.updated_at`, args...)
	if err != nil {
		return mapPgError("save agent", err)
	}
	return nil
}

func (s *PostgresStore) DeleteAgent(ctx context.Context, id string) error {
	parsed, ok := parseUUID(id)
	if !ok {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM agents WHERE id = $1", parsed)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const gatewayColumns = "id, name, url, token, main_session_key, created_at, updated_at"

func (s *PostgresStore) GetGateway(ctx context.Context, id string) (*Gateway, error) {
	parsed, ok := parseUUID(id)
	if !ok {
		return nil, ErrNotFound
	}
	row := s.db.QueryRow(ctx, "SELECT "+gatewayColumns+" FROM gateways WHERE id = $1", parsed)
	gateway, err := scanPgGateway(row)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get gateway: %w", err)
	}
	return gateway, nil
}

func (s *PostgresStore) ListGateways(ctx context.Context, limit, offset int) ([]Gateway, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+gatewayColumns+" FROM gateways ORDER BY created_at DESC, id LIMIT $1 OFFSET $2", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	defer rows.Close()

	var gateways []Gateway
	for rows.Next() {
		gateway, err := scanPgGateway(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gateway: %w", err)
		}
		gateways = append(gateways, *gateway)
	}
	return gateways, rows.Err()
}

func (s *PostgresStore) InsertGateway(ctx context.Context, gateway *Gateway) error {
	if gateway.ID == "" {
		gateway.ID = uuid.NewString()
	}
	parsed, ok := parseUUID(gateway.ID)
	if !ok {
		return fmt.Errorf("invalid gateway id %q", gateway.ID)
	}
	_, err := s.db.Exec(ctx, `INSERT INTO gateways (`+gatewayColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		parsed, gateway.Name, gateway.URL, gateway.Token, gateway.MainSessionKey,
		pgTimestamptz(gateway.CreatedAt), pgTimestamptz(gateway.UpdatedAt))
	if err != nil {
		return mapPgError("insert gateway", err)
	}
	return nil
}

func (s *PostgresStore) SaveGateway(ctx context.Context, gateway *Gateway) error {
	parsed, ok := parseUUID(gateway.ID)
	if !ok {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, `UPDATE gateways
		SET name = $2, url = $3, token = $4, main_session_key = $5, updated_at = $6
		WHERE id = $1`,
		parsed, gateway.Name, gateway.URL, gateway.Token, gateway.MainSessionKey, pgTimestamptz(gateway.UpdatedAt))
	if err != nil {
		return mapPgError("save gateway", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *PostgresStore) DeleteGateway(ctx context.Context, id string) error {
	parsed, ok := parseUUID(id)
	if !ok {
		return ErrNotFound
	}
	tag, err := s.db.Exec(ctx, "DELETE FROM gateways WHERE id = $1", parsed)
	if err != nil {
		return fmt.Errorf("failed to delete gateway: %w", err)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

const eventColumns = "id, event_type, message, agent_id, task_id, created_at"

func (s *PostgresStore) AppendEvent(ctx context.Context, event *ActivityEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	id, _ := parseUUID(event.ID)
	_, err := s.db.Exec(ctx, `INSERT INTO activity_events (`+eventColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6)`,
		id, event.EventType, pgText(event.Message), pgOptionalUUID(event.AgentID), pgOptionalUUID(event.TaskID),
		pgTimestamptz(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *PostgresStore) ListEvents(ctx context.Context, limit, offset int) ([]ActivityEvent, error) {
	rows, err := s.db.Query(ctx,
		"SELECT "+eventColumns+" FROM activity_events ORDER BY created_at DESC, id DESC LIMIT $1 OFFSET $2",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return collectPgEvents(rows)
}

func (s *PostgresStore) ListAgentEvents(ctx context.Context, agentID string, limit int) ([]ActivityEvent, error) {
	parsed, ok := parseUUID(agentID)
	if !ok {
		return nil, nil
	}
	rows, err := s.db.Query(ctx,
		"SELECT "+eventColumns+" FROM activity_events WHERE agent_id = $1 ORDER BY created_at DESC, id DESC LIMIT $2",
		parsed, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent events: %w", err)
	}
	return collectPgEvents(rows)
}

func (s *PostgresStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.pool == nil {
		// Already inside a transaction.
		return fn(s)
	}

	tx, err := s.pool.BeginTx(ctx, pgx.TxOptions{})
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(ctx); err != nil && !errors.Is(err, pgx.ErrTxClosed) {
			s.log.Warn("Failed to rollback transaction", "error", err)
		}
	}()

	if err := fn(&PostgresStore{db: tx, log: s.log}); err != nil {
		return err
	}
	if err := tx.Commit(ctx); err != nil {
		return mapPgError("commit", err)
	}
	return nil
}

func (s *PostgresStore) Ping(ctx context.Context) error {
	if s.pool == nil {
		return nil
	}
	return s.pool.Ping(ctx)
}

func (s *PostgresStore) Close() error {
	if s.pool != nil {
		s.pool.Close()
	}
	return nil
}

func (s *PostgresStore) queryAgent(ctx context.Context, query string, args ...any) (*Agent, error) {
	agent, err := scanPgAgent(s.db.QueryRow(ctx, query, args...))
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return agent, nil
}

func scanPgAgent(row pgx.Row) (*Agent, error) {
	var (
		id, boardID                   pgtype.UUID
		name, status                  string
		lastSeen, provisionRequested  pgtype.Timestamptz
		sessionKey, tokenHash, action pgtype.Text
		heartbeat, identity           []byte
		createdAt, updatedAt          pgtype.Timestamptz
	)
	err := row.Scan(&id, &name, &status, &boardID, &lastSeen, &sessionKey, &tokenHash,
		&heartbeat, &identity, &provisionRequested, &action, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, pgx.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}

	agent := &Agent{
		ID:                   uuidToString(id.Bytes),
		Name:                 name,
		Status:               status,
		LastSeenAt:           pgTimePtr(lastSeen),
		SessionKey:           sessionKey.String,
		TokenHash:            tokenHash.String,
		ProvisionRequestedAt: pgTimePtr(provisionRequested),
		ProvisionAction:      action.String,
		CreatedAt:            createdAt.Time.UTC(),
		UpdatedAt:            updatedAt.Time.UTC(),
	}
	if boardID.Valid {
		agent.BoardID = uuidToString(boardID.Bytes)
	}
	if agent.HeartbeatConfig, err = decodeJSON[HeartbeatConfig](heartbeat); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeat config: %w", err)
	}
	if agent.IdentityProfile, err = decodeJSON[IdentityProfile](identity); err != nil {
		return nil, fmt.Errorf("failed to decode identity profile: %w", err)
	}
	return agent, nil
}

func pgAgentArgs(agent *Agent) ([]any, error) {
	id, ok := parseUUID(agent.ID)
	if !ok {
		return nil, fmt.Errorf("invalid agent id %q", agent.ID)
	}
	heartbeat, err := encodeJSON(agent.HeartbeatConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to encode heartbeat config: %w", err)
	}
	identity, err := encodeJSON(agent.IdentityProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity profile: %w", err)
	}
	return []any{
		id,
		agent.Name,
		agent.Status,
		pgOptionalUUID(agent.BoardID),
		pgTimestamptzPtr(agent.LastSeenAt),
		pgText(agent.SessionKey),
		pgText(agent.TokenHash),
		heartbeat,
		identity,
		pgTimestamptzPtr(agent.ProvisionRequestedAt),
		pgText(agent.ProvisionAction),
		pgTimestamptz(agent.CreatedAt),
		pgTimestamptz(agent.UpdatedAt),
	}, nil
}

func scanPgGateway(row pgx.Row) (*Gateway, error) {
	var (
		id                   pgtype.UUID
		gateway              Gateway
		createdAt, updatedAt pgtype.Timestamptz
	)
	if err := row.Scan(&id, &gateway.Name, &gateway.URL, &gateway.Token, &gateway.MainSessionKey,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	gateway.ID = uuidToString(id.Bytes)
	gateway.CreatedAt = createdAt.Time.UTC()
	gateway.UpdatedAt = updatedAt.Time.UTC()
	return &gateway, nil
}

func collectPgEvents(rows pgx.Rows) ([]ActivityEvent, error) {
	defer rows.Close()

	var events []ActivityEvent
	for rows.Next() {
		var (
			id, agentID, taskID pgtype.UUID
			eventType           string
			message             pgtype.Text
			createdAt           pgtype.Timestamptz
		)
		if err := rows.Scan(&id, &eventType, &message, &agentID, &taskID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		event := ActivityEvent{
			ID:        uuidToString(id.Bytes),
			EventType: eventType,
			Message:   message.String,
			CreatedAt: createdAt.Time.UTC(),
		}
		if agentID.Valid {
			event.AgentID = uuidToString(agentID.Bytes)
		}
		if taskID.Valid {
			event.TaskID = uuidToString(taskID.Bytes)
		}
		events = append(events, event)
	}
	return events, rows.Err()
}

func mapPgError(op string, err error) error {
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation {
		if pgErr.ConstraintName == sessionKeyIndex {
			return fmt.Errorf("failed to %s: %w", op, ErrSessionKeyTaken)
		}
		return fmt.Errorf("failed to %s: %w: %s", op, ErrDuplicate, pgErr.ConstraintName)
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func parseUUID(s string) (pgtype.UUID, bool) {
	parsed, err := uuid.Parse(s)
	if err != nil {
		return pgtype.UUID{}, false
	}
	return pgtype.UUID{Bytes: parsed, Valid: true}, true
}

func pgOptionalUUID(s string) pgtype.UUID {
	parsed, _ := parseUUID(s)
	return parsed
}

func pgText(s string) pgtype.Text {
	return pgtype.Text{String: s, Valid: s != ""}
}

func pgTimestamptz(t time.Time) pgtype.Timestamptz {
	return pgtype.Timestamptz{Time: t, Valid: true}
}

func pgTimestamptzPtr(t *time.Time) pgtype.Timestamptz {
	if t == nil {
		return pgtype.Timestamptz{}
	}
	return pgtype.Timestamptz{Time: *t, Valid: true}
}

func pgTimePtr(t pgtype.Timestamptz) *time.Time {
	if !t.Valid {
		return nil
	}
	v := t.Time.UTC()
	return &v
}

func uuidToString(b [16]byte) string {
	return uuid.UUID(b).String()
}

func encodeJSON[T any](v *T) ([]byte, error) {
	if v == nil {
		return nil, nil
	}
	return json.Marshal(v)
}

func decodeJSON[T any](data []byte) (*T, error) {
	if len(data) == 0 {
		return nil, nil
	}
	var v T
	if err := json.Unmarshal(data, &v); err != nil {
		return nil, err
	}
	return &v, nil
}
