// Package session is the Session Store: durable rooms, messages and
// session-context entities. It never imports net/http; the HTTP layer
// translates its plain errors at the boundary.
package session

import (
	"context"
	"fmt"
	"time"

	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgxpool"

	"github.com/aurorabench/converge-backend/internal/model"
)

// DefaultInactivityTTL is the default time a room may sit idle before the
// TTL sweep closes it.
const DefaultInactivityTTL = 7 * 24 * time.Hour

// Store is the Session Store over a pgx pool.
type Store struct {
	pool *pgxpool.Pool
}

// New creates a Store and ensures its schema exists.
func New(ctx context.Context, pool *pgxpool.Pool) (*Store, error) {
	s := &Store{pool: pool}
	if err := s.ensureSchema(ctx); err != nil {
		return nil, err
	}
	return s, nil
}

func (s *Store) ensureSchema(ctx context.Context) error {
	_, err := s.pool.Exec(ctx, `
CREATE TABLE IF NOT EXISTS clients (
	tenant_id TEXT PRIMARY KEY,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE TABLE IF NOT EXISTS users (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id TEXT NOT NULL REFERENCES clients(tenant_id),
	name TEXT NOT NULL,
	email TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'offline',
	max_concurrent INT NOT NULL DEFAULT 5,
	current_load INT NOT NULL DEFAULT 0,
	department TEXT NOT NULL DEFAULT '',
	skills TEXT[] NOT NULL DEFAULT '{}',
	external_id TEXT NOT NULL DEFAULT '',
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (tenant_id, email)
);

CREATE TABLE IF NOT EXISTS chat_rooms (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	tenant_id TEXT NOT NULL REFERENCES clients(tenant_id),
	session_token TEXT NOT NULL UNIQUE,
	visitor_id TEXT NOT NULL,
	status TEXT NOT NULL DEFAULT 'active',
	assigned_agent_id UUID REFERENCES users(id),
	agent_source TEXT NOT NULL DEFAULT '',
	takeover BOOLEAN NOT NULL DEFAULT false,
	customer_email TEXT,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	last_activity_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	closed_at TIMESTAMPTZ
);

CREATE UNIQUE INDEX IF NOT EXISTS chat_rooms_active_visitor_idx
	ON chat_rooms (tenant_id, visitor_id) WHERE status = 'active';

CREATE TABLE IF NOT EXISTS messages (
	id UUID PRIMARY KEY DEFAULT gen_random_uuid(),
	room_id UUID NOT NULL REFERENCES chat_rooms(id),
	tenant_id TEXT NOT NULL,
	sender_type TEXT NOT NULL,
	sender_id TEXT,
	content TEXT NOT NULL,
	metadata JSONB,
	created_at TIMESTAMPTZ NOT NULL DEFAULT now()
);

CREATE INDEX IF NOT EXISTS messages_room_order_idx ON messages (room_id, created_at, id);

CREATE TABLE IF NOT EXISTS session_contexts (
	room_id UUID NOT NULL REFERENCES chat_rooms(id),
	tenant_id TEXT NOT NULL,
	collected_entities JSONB NOT NULL DEFAULT '{}'::jsonb,
	current_workflow TEXT,
	workflow_state JSONB NOT NULL DEFAULT '{}'::jsonb,
	updated_at TIMESTAMPTZ NOT NULL DEFAULT now(),
	UNIQUE (room_id, tenant_id)
);
`)
	if err != nil {
		return fmt.Errorf("session.ensureSchema: %w", err)
	}
	return nil
}

// EnsureClient idempotently registers a tenant so chat_rooms/users FKs hold.
func (s *Store) EnsureClient(ctx context.Context, tenant string) error {
	_, err := s.pool.Exec(ctx,
		`INSERT INTO clients (tenant_id) VALUES ($1) ON CONFLICT (tenant_id) DO NOTHING`, tenant)
	if err != nil {
		return fmt.Errorf("session.EnsureClient: %w", err)
	}
	return nil
}

// CreateRoom opens a new room for (tenant, visitor), keyed by a caller
// supplied session token.
func (s *Store) CreateRoom(ctx context.Context, tenant, visitorID, sessionToken string) (*model.Room, error) {
	r := &model.Room{
		TenantID:     tenant,
		SessionToken: sessionToken,
		VisitorID:    visitorID,
		Status:       model.RoomActive,
	}
	err := s.pool.QueryRow(ctx, `
		INSERT INTO chat_rooms (tenant_id, session_token, visitor_id, status)
		VALUES ($1, $2, $3, 'active')
		RETURNING id, created_at, last_activity_at`,
		tenant, sessionToken, visitorID,
	).Scan(&r.RoomID, &r.CreatedAt, &r.LastActivityAt)
	if err != nil {
		return nil, fmt.Errorf("session.CreateRoom: %w", err)
	}
	return r, nil
}

// GetActiveRoomByVisitor returns the at-most-one active room for
// (tenant, visitor), or nil if none exists.
func (s *Store) GetActiveRoomByVisitor(ctx context.Context, tenant, visitorID string) (*model.Room, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, session_token, visitor_id, status, assigned_agent_id, agent_source,
			takeover, customer_email, created_at, last_activity_at, closed_at
		FROM chat_rooms WHERE tenant_id = $1 AND visitor_id = $2 AND status = 'active'`,
		tenant, visitorID)
	return scanRoom(row)
}

// GetRoomByToken resolves a room by its unique session token, scoped to tenant.
func (s *Store) GetRoomByToken(ctx context.Context, tenant, sessionToken string) (*model.Room, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, session_token, visitor_id, status, assigned_agent_id, agent_source,
			takeover, customer_email, created_at, last_activity_at, closed_at
		FROM chat_rooms WHERE tenant_id = $1 AND session_token = $2`,
		tenant, sessionToken)
	return scanRoom(row)
}

// GetRoom fetches a room by ID, scoped to tenant.
func (s *Store) GetRoom(ctx context.Context, tenant, roomID string) (*model.Room, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT id, tenant_id, session_token, visitor_id, status, assigned_agent_id, agent_source,
			takeover, customer_email, created_at, last_activity_at, closed_at
		FROM chat_rooms WHERE tenant_id = $1 AND id = $2`,
		tenant, roomID)
	return scanRoom(row)
}

func scanRoom(row pgx.Row) (*model.Room, error) {
	r := &model.Room{}
	var status string
	var agentID *string
	var agentSource string
	err := row.Scan(&r.RoomID, &r.TenantID, &r.SessionToken, &r.VisitorID, &status,
		&agentID, &agentSource, &r.Takeover, &r.CustomerEmail,
		&r.CreatedAt, &r.LastActivityAt, &r.ClosedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("session.scanRoom: %w", err)
	}
	r.Status = model.RoomStatus(status)
	r.AssignedAgentID = agentID
	if agentSource != "" {
		r.AgentSource = model.AgentSourceKind(agentSource)
	}
	return r, nil
}

// TouchActivity bumps a room's last_activity_at to now.
func (s *Store) TouchActivity(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx, `UPDATE chat_rooms SET last_activity_at = now() WHERE id = $1`, roomID)
	if err != nil {
		return fmt.Errorf("session.TouchActivity: %w", err)
	}
	return nil
}

// AssignAgent records a human takeover on a room.
func (s *Store) AssignAgent(ctx context.Context, roomID, agentID string, source model.AgentSourceKind) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_rooms SET assigned_agent_id = $1, agent_source = $2, takeover = true
		WHERE id = $3`, agentID, string(source), roomID)
	if err != nil {
		return fmt.Errorf("session.AssignAgent: %w", err)
	}
	return nil
}

// UpdateCustomerEmail mirrors an extracted email onto the Room column.
func (s *Store) UpdateCustomerEmail(ctx context.Context, roomID, email string) error {
	_, err := s.pool.Exec(ctx, `UPDATE chat_rooms SET customer_email = $1 WHERE id = $2`, email, roomID)
	if err != nil {
		return fmt.Errorf("session.UpdateCustomerEmail: %w", err)
	}
	return nil
}

// CloseRoom transitions a room to closed.
func (s *Store) CloseRoom(ctx context.Context, roomID string) error {
	_, err := s.pool.Exec(ctx, `
		UPDATE chat_rooms SET status = 'closed', closed_at = now()
		WHERE id = $1 AND status = 'active'`, roomID)
	if err != nil {
		return fmt.Errorf("session.CloseRoom: %w", err)
	}
	return nil
}

// SweepInactiveRooms closes every active room whose last activity predates
// now-ttl. Returns the count closed. Safe to call repeatedly; errors are
// swallowed by the caller's background-sweep policy.
func (s *Store) SweepInactiveRooms(ctx context.Context, ttl time.Duration) (int, error) {
	if ttl <= 0 {
		ttl = DefaultInactivityTTL
	}
	tag, err := s.pool.Exec(ctx, `
		UPDATE chat_rooms SET status = 'closed', closed_at = now()
		WHERE status = 'active' AND last_activity_at < now() - $1::interval`,
		fmt.Sprintf("%d seconds", int(ttl.Seconds())))
	if err != nil {
		return 0, fmt.Errorf("session.SweepInactiveRooms: %w", err)
	}
	return int(tag.RowsAffected()), nil
}

// AppendMessage persists one message. Ordering within a room is strictly
// by created_at then message_id, enforced here by letting the database
// assign created_at at insert time under the room's serialized turn lock.
func (s *Store) AppendMessage(ctx context.Context, msg *model.Message) error {
	metaJSON, err := marshalMetadata(msg.Metadata)
	if err != nil {
		return fmt.Errorf("session.AppendMessage: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO messages (room_id, tenant_id, sender_type, sender_id, content, metadata)
		VALUES ($1, $2, $3, $4, $5, $6)
		RETURNING id, created_at`,
		msg.RoomID, msg.TenantID, string(msg.SenderType), msg.SenderID, msg.Content, metaJSON,
	).Scan(&msg.MessageID, &msg.CreatedAt)
	if err != nil {
		return fmt.Errorf("session.AppendMessage: %w", err)
	}
	return nil
}

// RecentMessages returns the last limit messages of a room, ascending.
func (s *Store) RecentMessages(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, tenant_id, sender_type, sender_id, content, metadata, created_at
		FROM (
			SELECT * FROM messages WHERE room_id = $1
			ORDER BY created_at DESC, id DESC LIMIT $2
		) recent
		ORDER BY created_at ASC, id ASC`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("session.RecentMessages: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

// HistoryAscending returns up to limit messages from the start of a room's
// history, in ascending order, for the chat/history endpoint.
func (s *Store) HistoryAscending(ctx context.Context, roomID string, limit int) ([]model.Message, error) {
	if limit <= 0 {
		limit = 100
	}
	rows, err := s.pool.Query(ctx, `
		SELECT id, room_id, tenant_id, sender_type, sender_id, content, metadata, created_at
		FROM messages WHERE room_id = $1
		ORDER BY created_at ASC, id ASC LIMIT $2`, roomID, limit)
	if err != nil {
		return nil, fmt.Errorf("session.HistoryAscending: %w", err)
	}
	defer rows.Close()
	return scanMessages(rows)
}

func scanMessages(rows pgx.Rows) ([]model.Message, error) {
	var out []model.Message
	for rows.Next() {
		var m model.Message
		var senderType string
		var metaJSON []byte
		if err := rows.Scan(&m.MessageID, &m.RoomID, &m.TenantID, &senderType, &m.SenderID,
			&m.Content, &metaJSON, &m.CreatedAt); err != nil {
			return nil, fmt.Errorf("session.scanMessages: %w", err)
		}
		m.SenderType = model.SenderType(senderType)
		meta, err := unmarshalMessageMetadata(metaJSON)
		if err != nil {
			return nil, fmt.Errorf("session.scanMessages: %w", err)
		}
		m.Metadata = meta
		out = append(out, m)
	}
	return out, rows.Err()
}

// ListConversations summarizes every room for (tenant, visitor), newest
// activity first.
func (s *Store) ListConversations(ctx context.Context, tenant, visitorID string) ([]model.ConversationSummary, error) {
	rows, err := s.pool.Query(ctx, `
		SELECT r.id, r.created_at,
			coalesce((SELECT content FROM messages m WHERE m.room_id = r.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1), ''),
			coalesce((SELECT created_at FROM messages m WHERE m.room_id = r.id ORDER BY m.created_at DESC, m.id DESC LIMIT 1), r.created_at)
		FROM chat_rooms r
		WHERE r.tenant_id = $1 AND r.visitor_id = $2
		ORDER BY r.last_activity_at DESC`, tenant, visitorID)
	if err != nil {
		return nil, fmt.Errorf("session.ListConversations: %w", err)
	}
	defer rows.Close()

	var out []model.ConversationSummary
	for rows.Next() {
		var c model.ConversationSummary
		if err := rows.Scan(&c.RoomID, &c.StartedAt, &c.LastMessage, &c.LastMessageAt); err != nil {
			return nil, fmt.Errorf("session.ListConversations: scan: %w", err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// GetOrCreateSessionContext loads a room's SessionContext, lazily creating
// an empty one on first access.
func (s *Store) GetOrCreateSessionContext(ctx context.Context, tenant, roomID string) (*model.SessionContext, error) {
	sc, err := s.getSessionContext(ctx, tenant, roomID)
	if err != nil {
		return nil, err
	}
	if sc != nil {
		return sc, nil
	}

	sc = &model.SessionContext{
		RoomID:            roomID,
		TenantID:          tenant,
		CollectedEntities: map[string]any{},
		WorkflowState:     map[string]any{},
	}
	if err := s.SaveSessionContext(ctx, sc); err != nil {
		return nil, err
	}
	return sc, nil
}

func (s *Store) getSessionContext(ctx context.Context, tenant, roomID string) (*model.SessionContext, error) {
	row := s.pool.QueryRow(ctx, `
		SELECT room_id, tenant_id, collected_entities, current_workflow, workflow_state, updated_at
		FROM session_contexts WHERE room_id = $1 AND tenant_id = $2`, roomID, tenant)

	sc := &model.SessionContext{}
	var entitiesJSON, stateJSON []byte
	err := row.Scan(&sc.RoomID, &sc.TenantID, &entitiesJSON, &sc.CurrentWorkflow, &stateJSON, &sc.UpdatedAt)
	if err != nil {
		if err == pgx.ErrNoRows {
			return nil, nil
		}
		return nil, fmt.Errorf("session.getSessionContext: %w", err)
	}
	sc.CollectedEntities, err = unmarshalMetadata(entitiesJSON)
	if err != nil {
		return nil, fmt.Errorf("session.getSessionContext: entities: %w", err)
	}
	sc.WorkflowState, err = unmarshalMetadata(stateJSON)
	if err != nil {
		return nil, fmt.Errorf("session.getSessionContext: workflow_state: %w", err)
	}
	return sc, nil
}

// SaveSessionContext upserts the full SessionContext, keeping
// CollectedEntities monotonic is the caller's responsibility (it must pass
// the already-merged map; SaveSessionContext never drops keys itself).
func (s *Store) SaveSessionContext(ctx context.Context, sc *model.SessionContext) error {
	entitiesJSON, err := marshalMetadata(sc.CollectedEntities)
	if err != nil {
		return fmt.Errorf("session.SaveSessionContext: %w", err)
	}
	stateJSON, err := marshalMetadata(sc.WorkflowState)
	if err != nil {
		return fmt.Errorf("session.SaveSessionContext: %w", err)
	}
	err = s.pool.QueryRow(ctx, `
		INSERT INTO session_contexts (room_id, tenant_id, collected_entities, current_workflow, workflow_state, updated_at)
		VALUES ($1, $2, $3, $4, $5, now())
		ON CONFLICT (room_id, tenant_id) DO UPDATE SET
			collected_entities = EXCLUDED.collected_entities,
			current_workflow = EXCLUDED.current_workflow,
			workflow_state = EXCLUDED.workflow_state,
			updated_at = now()
		RETURNING updated_at`,
		sc.RoomID, sc.TenantID, entitiesJSON, sc.CurrentWorkflow, stateJSON,
	).Scan(&sc.UpdatedAt)
	if err != nil {
		return fmt.Errorf("session.SaveSessionContext: %w", err)
	}
	return nil
}

// HealthCheck verifies the pool can still reach the database.
func (s *Store) HealthCheck(ctx context.Context) error {
	if err := s.pool.Ping(ctx); err != nil {
		return fmt.Errorf("session.HealthCheck: %w", err)
	}
	return nil
}
