package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"time"

	"github.com/google/uuid"
	"modernc.org/sqlite"
	sqlite3 "modernc.org/sqlite/lib"

	"github.com/TomBuge/openclaw-mission-control/internal/db"
)

// Fixed-width so that text ordering matches time ordering.
const sqliteTimeLayout = "2006-01-02T15:04:05.000000000Z07:00"

type sqlQuerier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// SQLiteStore keeps all state in a single SQLite file (or in memory). Writes
// are serialised through one connection.
type SQLiteStore struct {
	conn *sql.DB
	db   sqlQuerier
	log  *slog.Logger
}

// OpenSQLite opens path (":memory:" for an ephemeral database), applies
// pragmas and runs migrations.
func OpenSQLite(ctx context.Context, path string) (*SQLiteStore, error) {
	conn, err := sql.Open("sqlite", path)
	if err != nil {
		return nil, fmt.Errorf("open sqlite %s: %w", path, err)
	}
	conn.SetMaxOpenConns(1)

	if err := conn.PingContext(ctx); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("ping sqlite %s: %w", path, err)
	}

	for _, pragma := range []string{"PRAGMA journal_mode=WAL", "PRAGMA busy_timeout=5000", "PRAGMA foreign_keys=ON"} {
		if _, err := conn.ExecContext(ctx, pragma); err != nil {
			_ = conn.Close()
			return nil, fmt.Errorf("%s on %s: %w", pragma, path, err)
		}
	}

	if err := db.RunSQLiteMigrations(ctx, conn); err != nil {
		_ = conn.Close()
		return nil, fmt.Errorf("migrate sqlite %s: %w", path, err)
	}

	return &SQLiteStore{
		conn: conn,
		db:   conn,
		log:  slog.Default().With("component", "store", "driver", "sqlite"),
	}, nil
}

func (s *SQLiteStore) GetAgent(ctx context.Context, id string) (*Agent, error) {
	return s.queryAgent(ctx, "SELECT "+agentColumns+" FROM agents WHERE id = ?", id)
}

func (s *SQLiteStore) FindAgentBySessionKey(ctx context.Context, key string) (*Agent, error) {
	return s.queryAgent(ctx, "SELECT "+agentColumns+" FROM agents WHERE openclaw_session_id = ? LIMIT 1", key)
}

func (s *SQLiteStore) FindAgentByName(ctx context.Context, name string) (*Agent, error) {
	return s.queryAgent(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE name = ? ORDER BY created_at, id LIMIT 1", name)
}

func (s *SQLiteStore) FindAgentByHeartbeatName(ctx context.Context, name string) (*Agent, error) {
	return s.FindAgentByName(ctx, name)
}

func (s *SQLiteStore) FindAgentByTokenHash(ctx context.Context, hash string) (*Agent, error) {
	return s.queryAgent(ctx,
		"SELECT "+agentColumns+" FROM agents WHERE agent_token_hash = ? ORDER BY created_at, id LIMIT 1", hash)
}

func (s *SQLiteStore) ListAgents(ctx context.Context) ([]Agent, error) {
	rows, err := s.db.QueryContext(ctx, "SELECT "+agentColumns+" FROM agents ORDER BY created_at, id")
	if err != nil {
		return nil, fmt.Errorf("failed to list agents: %w", err)
	}
	defer rows.Close()

	var agents []Agent
	for rows.Next() {
		agent, err := scanSQLiteAgent(rows)
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

func (s *SQLiteStore) InsertAgent(ctx context.Context, agent *Agent) error {
	if agent.ID == "" {
		agent.ID = uuid.NewString()
	}
	args, err := sqliteAgentArgs(agent)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`, args...)
	if err != nil {
		return mapSQLiteError("insert agent", err)
	}
	return nil
}

func (s *SQLiteStore) SaveAgent(ctx context.Context, agent *Agent) error {
	args, err := sqliteAgentArgs(agent)
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, `INSERT INTO agents (`+agentColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)
		ON CONFLICT (id) DO UPDATE SET
			name = excluded.name,
			status = excluded.status,
			board_id = excluded.board_id,
			last_seen_at = excluded.last_seen_at,
			openclaw_session_id = excluded.openclaw_session_id,
			agent_token_hash = excluded.agent_token_hash,
			heartbeat_config = excluded.heartbeat_config,
			identity_profile = excluded.identity_profile,
			provision_requested_at = excluded.provision_requested_at,
			provision_action = excluded.provision_action,
			updated_at = excluded.updated_at`, args...)
	if err != nil {
		return mapSQLiteError("save agent", err)
	}
	return nil
}

func (s *SQLiteStore) DeleteAgent(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM agents WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete agent: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) GetGateway(ctx context.Context, id string) (*Gateway, error) {
	row := s.db.QueryRowContext(ctx, "SELECT "+gatewayColumns+" FROM gateways WHERE id = ?", id)
	gateway, err := scanSQLiteGateway(row)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("failed to get gateway: %w", err)
	}
	return gateway, nil
}

func (s *SQLiteStore) ListGateways(ctx context.Context, limit, offset int) ([]Gateway, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+gatewayColumns+" FROM gateways ORDER BY created_at DESC, id LIMIT ? OFFSET ?", limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list gateways: %w", err)
	}
	defer rows.Close()

	var gateways []Gateway
	for rows.Next() {
		gateway, err := scanSQLiteGateway(rows)
		if err != nil {
			return nil, fmt.Errorf("failed to scan gateway: %w", err)
		}
		gateways = append(gateways, *gateway)
	}
	return gateways, rows.Err()
}

func (s *SQLiteStore) InsertGateway(ctx context.Context, gateway *Gateway) error {
	if gateway.ID == "" {
		gateway.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO gateways (`+gatewayColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?)`,
		gateway.ID, gateway.Name, gateway.URL, gateway.Token, gateway.MainSessionKey,
		formatTime(gateway.CreatedAt), formatTime(gateway.UpdatedAt))
	if err != nil {
		return mapSQLiteError("insert gateway", err)
	}
	return nil
}

func (s *SQLiteStore) SaveGateway(ctx context.Context, gateway *Gateway) error {
	res, err := s.db.ExecContext(ctx, `UPDATE gateways
		SET name = ?, url = ?, token = ?, main_session_key = ?, updated_at = ?
		WHERE id = ?`,
		gateway.Name, gateway.URL, gateway.Token, gateway.MainSessionKey, formatTime(gateway.UpdatedAt), gateway.ID)
	if err != nil {
		return mapSQLiteError("save gateway", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) DeleteGateway(ctx context.Context, id string) error {
	res, err := s.db.ExecContext(ctx, "DELETE FROM gateways WHERE id = ?", id)
	if err != nil {
		return fmt.Errorf("failed to delete gateway: %w", err)
	}
	return requireAffected(res)
}

func (s *SQLiteStore) AppendEvent(ctx context.Context, event *ActivityEvent) error {
	if event.ID == "" {
		event.ID = uuid.NewString()
	}
	_, err := s.db.ExecContext(ctx, `INSERT INTO activity_events (`+eventColumns+`)
		VALUES (?, ?, ?, ?, ?, ?)`,
		event.ID, event.EventType, nullString(event.Message), nullString(event.AgentID), nullString(event.TaskID),
		formatTime(event.CreatedAt))
	if err != nil {
		return fmt.Errorf("failed to append event: %w", err)
	}
	return nil
}

func (s *SQLiteStore) ListEvents(ctx context.Context, limit, offset int) ([]ActivityEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM activity_events ORDER BY created_at DESC, rowid DESC LIMIT ? OFFSET ?",
		limit, offset)
	if err != nil {
		return nil, fmt.Errorf("failed to list events: %w", err)
	}
	return collectSQLiteEvents(rows)
}

func (s *SQLiteStore) ListAgentEvents(ctx context.Context, agentID string, limit int) ([]ActivityEvent, error) {
	rows, err := s.db.QueryContext(ctx,
		"SELECT "+eventColumns+" FROM activity_events WHERE agent_id = ? ORDER BY created_at DESC, rowid DESC LIMIT ?",
		agentID, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to list agent events: %w", err)
	}
	return collectSQLiteEvents(rows)
}

func (s *SQLiteStore) WithTx(ctx context.Context, fn func(tx Store) error) error {
	if s.conn == nil {
		return fn(s)
	}

	tx, err := s.conn.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer func() {
		if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
			s.log.Warn("Failed to rollback transaction", "error", err)
		}
	}()

	if err := fn(&SQLiteStore{db: tx, log: s.log}); err != nil {
		return err
	}
	if err := tx.Commit(); err != nil {
		return mapSQLiteError("commit", err)
	}
	return nil
}

func (s *SQLiteStore) Ping(ctx context.Context) error {
	if s.conn == nil {
		return nil
	}
	return s.conn.PingContext(ctx)
}

func (s *SQLiteStore) Close() error {
	if s.conn == nil {
		return nil
	}
	return s.conn.Close()
}

func (s *SQLiteStore) queryAgent(ctx context.Context, query string, args ...any) (*Agent, error) {
	agent, err := scanSQLiteAgent(s.db.QueryRowContext(ctx, query, args...))
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, err
	}
	return agent, nil
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSQLiteAgent(row rowScanner) (*Agent, error) {
	var (
		id, name, status                       string
		boardID, sessionKey, tokenHash, action sql.NullString
		lastSeen, provisionRequested           sql.NullString
		heartbeat, identity                    sql.NullString
		createdAt, updatedAt                   string
	)
	err := row.Scan(&id, &name, &status, &boardID, &lastSeen, &sessionKey, &tokenHash,
		&heartbeat, &identity, &provisionRequested, &action, &createdAt, &updatedAt)
	if err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, err
		}
		return nil, fmt.Errorf("failed to scan agent: %w", err)
	}

	agent := &Agent{
		ID:              id,
		Name:            name,
		Status:          status,
		BoardID:         boardID.String,
		SessionKey:      sessionKey.String,
		TokenHash:       tokenHash.String,
		ProvisionAction: action.String,
	}
	if agent.LastSeenAt, err = parseNullTime(lastSeen); err != nil {
		return nil, err
	}
	if agent.ProvisionRequestedAt, err = parseNullTime(provisionRequested); err != nil {
		return nil, err
	}
	if agent.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if agent.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	if agent.HeartbeatConfig, err = decodeJSON[HeartbeatConfig]([]byte(heartbeat.String)); err != nil {
		return nil, fmt.Errorf("failed to decode heartbeat config: %w", err)
	}
	if agent.IdentityProfile, err = decodeJSON[IdentityProfile]([]byte(identity.String)); err != nil {
		return nil, fmt.Errorf("failed to decode identity profile: %w", err)
	}
	return agent, nil
}

func sqliteAgentArgs(agent *Agent) ([]any, error) {
	heartbeat, err := encodeJSON(agent.HeartbeatConfig)
	if err != nil {
		return nil, fmt.Errorf("failed to encode heartbeat config: %w", err)
	}
	identity, err := encodeJSON(agent.IdentityProfile)
	if err != nil {
		return nil, fmt.Errorf("failed to encode identity profile: %w", err)
	}
	return []any{
		agent.ID,
		agent.Name,
		agent.Status,
		nullString(agent.BoardID),
		nullTime(agent.LastSeenAt),
		nullString(agent.SessionKey),
		nullString(agent.TokenHash),
		nullString(string(heartbeat)),
		nullString(string(identity)),
		nullTime(agent.ProvisionRequestedAt),
		nullString(agent.ProvisionAction),
		formatTime(agent.CreatedAt),
		formatTime(agent.UpdatedAt),
	}, nil
}

func scanSQLiteGateway(row rowScanner) (*Gateway, error) {
	var (
		gateway              Gateway
		createdAt, updatedAt string
		err                  error
	)
	if err = row.Scan(&gateway.ID, &gateway.Name, &gateway.URL, &gateway.Token, &gateway.MainSessionKey,
		&createdAt, &updatedAt); err != nil {
		return nil, err
	}
	if gateway.CreatedAt, err = parseTime(createdAt); err != nil {
		return nil, err
	}
	if gateway.UpdatedAt, err = parseTime(updatedAt); err != nil {
		return nil, err
	}
	return &gateway, nil
}

func collectSQLiteEvents(rows *sql.Rows) ([]ActivityEvent, error) {
	defer rows.Close()

	var events []ActivityEvent
	for rows.Next() {
		var (
			event                    ActivityEvent
			message, agentID, taskID sql.NullString
			createdAt                string
		)
		if err := rows.Scan(&event.ID, &event.EventType, &message, &agentID, &taskID, &createdAt); err != nil {
			return nil, fmt.Errorf("failed to scan event: %w", err)
		}
		created, err := parseTime(createdAt)
		if err != nil {
			return nil, err
		}
		event.Message = message.String
		event.AgentID = agentID.String
		event.TaskID = taskID.String
		event.CreatedAt = created
		events = append(events, event)
	}
	return events, rows.Err()
}

func mapSQLiteError(op string, err error) error {
	var sqliteErr *sqlite.Error
	if errors.As(err, &sqliteErr) {
		switch sqliteErr.Code() {
		case sqlite3.SQLITE_CONSTRAINT_UNIQUE, sqlite3.SQLITE_CONSTRAINT_PRIMARYKEY:
			// SQLite names the column, not the index.
			if strings.Contains(sqliteErr.Error(), "agents.openclaw_session_id") {
				return fmt.Errorf("failed to %s: %w", op, ErrSessionKeyTaken)
			}
			return fmt.Errorf("failed to %s: %w", op, ErrDuplicate)
		}
	}
	return fmt.Errorf("failed to %s: %w", op, err)
}

func requireAffected(res sql.Result) error {
	n, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("failed to read affected rows: %w", err)
	}
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullString {
	if t == nil {
		return sql.NullString{}
	}
	return sql.NullString{String: formatTime(*t), Valid: true}
}

func formatTime(t time.Time) string {
	return t.UTC().Format(sqliteTimeLayout)
}

func parseTime(s string) (time.Time, error) {
	t, err := time.Parse(time.RFC3339Nano, s)
	if err != nil {
		return time.Time{}, fmt.Errorf("parse timestamp %q: %w", s, err)
	}
	return t.UTC(), nil
}

func parseNullTime(s sql.NullString) (*time.Time, error) {
	if !s.Valid {
		return nil, nil
	}
	t, err := parseTime(s.String)
	if err != nil {
		return nil, err
	}
	return &t, nil
}
