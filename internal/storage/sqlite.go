package storage

import (
	"context"
	"database/sql"
	"encoding/binary"
	"encoding/json"
	"errors"
	"fmt"
	"math"
	"strings"
	"time"

	_ "modernc.org/sqlite" // pure-Go SQLite driver

	"github.com/haasonsaas/rapport/pkg/models"
)

// Timestamps are stored as INTEGER unix nanoseconds: unambiguous across
// drivers and ORDER BY works. Zero times round-trip as 0.

// NewSQLiteStores opens (creating if needed) a SQLite database at path and
// returns stores backed by it. ":memory:" gives a private throwaway DB.
func NewSQLiteStores(path string) (Stores, error) {
	if strings.TrimSpace(path) == "" {
		return Stores{}, fmt.Errorf("path is required")
	}

	dsn := path
	if path != ":memory:" {
		dsn = "file:" + path + "?_pragma=busy_timeout(5000)&_pragma=journal_mode(WAL)&_pragma=synchronous(NORMAL)"
	}

	db, err := sql.Open("sqlite", dsn)
	if err != nil {
		return Stores{}, fmt.Errorf("open database: %w", err)
	}
	if path == ":memory:" {
		// Every pool connection gets its own in-memory database; keep one.
		db.SetMaxOpenConns(1)
	}

	if err := initSchema(db); err != nil {
		_ = db.Close()
		return Stores{}, err
	}

	return Stores{
		Sessions:      &sqliteSessionStore{db: db},
		Turns:         &sqliteTurnStore{db: db},
		Messages:      &sqliteMessageStore{db: db},
		Invocations:   &sqliteInvocationStore{db: db},
		MemoryItems:   &sqliteMemoryItemStore{db: db},
		Relationships: &sqliteRelationshipStore{db: db},
		Tasks:         &sqliteTaskStore{db: db},
		closer:        db.Close,
	}, nil
}

func initSchema(db *sql.DB) error {
	tables := []string{
		`CREATE TABLE IF NOT EXISTS sessions (
			id TEXT PRIMARY KEY,
			owner_id TEXT NOT NULL,
			kind TEXT NOT NULL,
			participants TEXT NOT NULL,
			tags TEXT,
			created_at INTEGER NOT NULL,
			last_activity_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS turns (
			id TEXT PRIMARY KEY,
			session_id TEXT NOT NULL,
			ordinal INTEGER NOT NULL,
			initiator_id TEXT NOT NULL,
			initiator_kind TEXT NOT NULL,
			responder_id TEXT NOT NULL,
			responder_kind TEXT NOT NULL,
			status TEXT NOT NULL,
			started_at INTEGER NOT NULL,
			ended_at INTEGER,
			tags TEXT
		)`,
		`CREATE TABLE IF NOT EXISTS messages (
			id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			direction TEXT NOT NULL,
			seq INTEGER NOT NULL,
			content TEXT NOT NULL,
			kind TEXT NOT NULL,
			sender_id TEXT NOT NULL,
			sender_kind TEXT NOT NULL,
			tags TEXT,
			created_at INTEGER NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS invocations (
			id TEXT PRIMARY KEY,
			turn_id TEXT NOT NULL,
			seq INTEGER NOT NULL,
			tool_name TEXT NOT NULL,
			tool_version TEXT,
			args TEXT,
			status TEXT NOT NULL,
			result TEXT,
			error TEXT,
			created_at INTEGER NOT NULL,
			completed_at INTEGER
		)`,
		`CREATE TABLE IF NOT EXISTS memory_items (
			store_name TEXT NOT NULL,
			id TEXT NOT NULL,
			content TEXT NOT NULL,
			tags TEXT,
			created_at INTEGER NOT NULL,
			last_access_at INTEGER NOT NULL,
			access_count INTEGER NOT NULL,
			embedding BLOB,
			PRIMARY KEY (store_name, id)
		)`,
		`CREATE TABLE IF NOT EXISTS relationships (
			id TEXT PRIMARY KEY,
			a_id TEXT NOT NULL,
			a_kind TEXT NOT NULL,
			b_id TEXT NOT NULL,
			b_kind TEXT NOT NULL,
			first_seen_at INTEGER NOT NULL,
			last_active_at INTEGER NOT NULL,
			total_rounds INTEGER NOT NULL,
			active_days INTEGER NOT NULL,
			resonance_count INTEGER NOT NULL,
			diary_count INTEGER NOT NULL,
			co_creation_count INTEGER NOT NULL,
			gift_count INTEGER NOT NULL,
			affection REAL NOT NULL,
			recognition REAL NOT NULL,
			daily_rounds TEXT,
			status TEXT NOT NULL
		)`,
		`CREATE TABLE IF NOT EXISTS tasks (
			id TEXT PRIMARY KEY,
			relationship_id TEXT NOT NULL,
			template TEXT NOT NULL,
			title TEXT NOT NULL,
			description TEXT,
			priority INTEGER NOT NULL,
			status TEXT NOT NULL,
			created_at INTEGER NOT NULL,
			due_at INTEGER,
			completed_at INTEGER,
			min_intensity REAL NOT NULL,
			required_status TEXT,
			tags TEXT
		)`,
	}
	for _, ddl := range tables {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("create table: %w", err)
		}
	}

	indexes := []string{
		"CREATE INDEX IF NOT EXISTS idx_sessions_owner ON sessions(owner_id, last_activity_at)",
		"CREATE INDEX IF NOT EXISTS idx_turns_session ON turns(session_id, ordinal)",
		"CREATE INDEX IF NOT EXISTS idx_messages_turn ON messages(turn_id, direction, seq)",
		"CREATE INDEX IF NOT EXISTS idx_invocations_turn ON invocations(turn_id, seq)",
		"CREATE INDEX IF NOT EXISTS idx_memory_items_store ON memory_items(store_name, created_at)",
		"CREATE UNIQUE INDEX IF NOT EXISTS idx_relationships_pair ON relationships(a_id, b_id)",
		"CREATE INDEX IF NOT EXISTS idx_tasks_relationship ON tasks(relationship_id, created_at)",
	}
	for _, ddl := range indexes {
		if _, err := db.Exec(ddl); err != nil {
			return fmt.Errorf("create index: %w", err)
		}
	}
	return nil
}

func isUniqueViolation(err error) bool {
	return err != nil && strings.Contains(err.Error(), "UNIQUE constraint failed")
}

func toNano(t time.Time) int64 {
	if t.IsZero() {
		return 0
	}
	return t.UnixNano()
}

func fromNano(n int64) time.Time {
	if n == 0 {
		return time.Time{}
	}
	return time.Unix(0, n).UTC()
}

func toNanoPtr(t *time.Time) sql.NullInt64 {
	if t == nil {
		return sql.NullInt64{}
	}
	return sql.NullInt64{Int64: toNano(*t), Valid: true}
}

func fromNanoPtr(n sql.NullInt64) *time.Time {
	if !n.Valid {
		return nil
	}
	t := fromNano(n.Int64)
	return &t
}

func marshalJSON(v any) (string, error) {
	data, err := json.Marshal(v)
	if err != nil {
		return "", err
	}
	return string(data), nil
}

func unmarshalTags(s sql.NullString) (map[string]any, error) {
	if !s.Valid || s.String == "" || s.String == "null" {
		return nil, nil
	}
	var tags map[string]any
	if err := json.Unmarshal([]byte(s.String), &tags); err != nil {
		return nil, err
	}
	return tags, nil
}

// encodeEmbedding packs a vector as little-endian float32 bytes.
func encodeEmbedding(embedding []float32) []byte {
	if len(embedding) == 0 {
		return nil
	}
	data := make([]byte, len(embedding)*4)
	for i, f := range embedding {
		binary.LittleEndian.PutUint32(data[i*4:], math.Float32bits(f))
	}
	return data
}

// decodeEmbedding unpacks little-endian float32 bytes back into a vector.
func decodeEmbedding(data []byte) []float32 {
	if len(data) == 0 || len(data)%4 != 0 {
		return nil
	}
	embedding := make([]float32, len(data)/4)
	for i := range embedding {
		embedding[i] = math.Float32frombits(binary.LittleEndian.Uint32(data[i*4:]))
	}
	return embedding
}

// rollback ignores "already committed" so it can run in a defer.
func rollback(tx *sql.Tx) {
	if err := tx.Rollback(); err != nil && !errors.Is(err, sql.ErrTxDone) {
		_ = err
	}
}

type sqliteSessionStore struct {
	db *sql.DB
}

func (s *sqliteSessionStore) Create(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session is required")
	}
	participants, err := marshalJSON(session.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	tags, err := marshalJSON(session.Tags)
	if err != nil {
		return fmt.Errorf("marshal session tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO sessions (id, owner_id, kind, participants, tags, created_at, last_activity_at)
		 VALUES (?,?,?,?,?,?,?)`,
		session.ID,
		session.OwnerID,
		string(session.Kind),
		participants,
		tags,
		toNano(session.CreatedAt),
		toNano(session.LastActivityAt),
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create session: %w", err)
	}
	return nil
}

func (s *sqliteSessionStore) Get(ctx context.Context, id string) (*models.Session, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, owner_id, kind, participants, tags, created_at, last_activity_at
		 FROM sessions WHERE id = ?`, id)
	return scanSession(row)
}

type rowScanner interface {
	Scan(dest ...any) error
}

func scanSession(row rowScanner) (*models.Session, error) {
	var session models.Session
	var kind, participantsJSON string
	var tagsJSON sql.NullString
	var createdAt, lastActivityAt int64
	if err := row.Scan(
		&session.ID,
		&session.OwnerID,
		&kind,
		&participantsJSON,
		&tagsJSON,
		&createdAt,
		&lastActivityAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan session: %w", err)
	}
	session.Kind = models.DialogueKind(kind)
	if participantsJSON != "" && participantsJSON != "null" {
		if err := json.Unmarshal([]byte(participantsJSON), &session.Participants); err != nil {
			return nil, fmt.Errorf("unmarshal participants: %w", err)
		}
	}
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal session tags: %w", err)
	}
	session.Tags = tags
	session.CreatedAt = fromNano(createdAt)
	session.LastActivityAt = fromNano(lastActivityAt)
	return &session, nil
}

func (s *sqliteSessionStore) List(ctx context.Context, ownerID string, limit, offset int) ([]*models.Session, int, error) {
	limit, offset = clampPage(limit, offset)

	countQuery := "SELECT count(*) FROM sessions"
	args := []any{}
	if ownerID != "" {
		countQuery += " WHERE owner_id = ?"
		args = append(args, ownerID)
	}
	var total int
	if err := s.db.QueryRowContext(ctx, countQuery, args...).Scan(&total); err != nil {
		return nil, 0, fmt.Errorf("count sessions: %w", err)
	}

	query := `SELECT id, owner_id, kind, participants, tags, created_at, last_activity_at FROM sessions`
	if ownerID != "" {
		query += " WHERE owner_id = ?"
	}
	query += " ORDER BY last_activity_at DESC, id ASC LIMIT ? OFFSET ?"
	args = append(args, limit, offset)

	rows, err := s.db.QueryContext(ctx, query, args...)
	if err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	defer rows.Close()

	sessions := []*models.Session{}
	for rows.Next() {
		session, err := scanSession(rows)
		if err != nil {
			return nil, 0, err
		}
		sessions = append(sessions, session)
	}
	if err := rows.Err(); err != nil {
		return nil, 0, fmt.Errorf("list sessions: %w", err)
	}
	return sessions, total, nil
}

func (s *sqliteSessionStore) Update(ctx context.Context, session *models.Session) error {
	if session == nil || session.ID == "" {
		return fmt.Errorf("session is required")
	}
	participants, err := marshalJSON(session.Participants)
	if err != nil {
		return fmt.Errorf("marshal participants: %w", err)
	}
	tags, err := marshalJSON(session.Tags)
	if err != nil {
		return fmt.Errorf("marshal session tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE sessions
		 SET owner_id = ?, kind = ?, participants = ?, tags = ?, created_at = ?, last_activity_at = ?
		 WHERE id = ?`,
		session.OwnerID,
		string(session.Kind),
		participants,
		tags,
		toNano(session.CreatedAt),
		toNano(session.LastActivityAt),
		session.ID,
	)
	if err != nil {
		return fmt.Errorf("update session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update session rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteSessionStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin delete session: %w", err)
	}
	defer rollback(tx)

	if _, err := tx.ExecContext(ctx,
		`DELETE FROM invocations WHERE turn_id IN (SELECT id FROM turns WHERE session_id = ?)`, id); err != nil {
		return fmt.Errorf("delete session invocations: %w", err)
	}
	if _, err := tx.ExecContext(ctx,
		`DELETE FROM messages WHERE turn_id IN (SELECT id FROM turns WHERE session_id = ?)`, id); err != nil {
		return fmt.Errorf("delete session messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM turns WHERE session_id = ?`, id); err != nil {
		return fmt.Errorf("delete session turns: %w", err)
	}
	res, err := tx.ExecContext(ctx, `DELETE FROM sessions WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete session: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete session rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return tx.Commit()
}

type sqliteTurnStore struct {
	db *sql.DB
}

func (s *sqliteTurnStore) Create(ctx context.Context, turn *models.Turn) error {
	if turn == nil || turn.ID == "" {
		return fmt.Errorf("turn is required")
	}
	tags, err := marshalJSON(turn.Tags)
	if err != nil {
		return fmt.Errorf("marshal turn tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin create turn: %w", err)
	}
	defer rollback(tx)

	_, err = tx.ExecContext(ctx,
		`INSERT INTO turns (id, session_id, ordinal, initiator_id, initiator_kind, responder_id, responder_kind, status, started_at, ended_at, tags)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`,
		turn.ID,
		turn.SessionID,
		turn.Ordinal,
		turn.InitiatorID,
		string(turn.InitiatorKind),
		turn.ResponderID,
		string(turn.ResponderKind),
		string(turn.Status),
		toNano(turn.StartedAt),
		toNanoPtr(turn.EndedAt),
		tags,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create turn: %w", err)
	}
	if err := insertTurnChildren(ctx, tx, turn); err != nil {
		return err
	}
	return tx.Commit()
}

func insertTurnChildren(ctx context.Context, tx *sql.Tx, turn *models.Turn) error {
	msgStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO messages (id, turn_id, direction, seq, content, kind, sender_id, sender_kind, tags, created_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare insert message: %w", err)
	}
	defer msgStmt.Close()

	insertMessage := func(m *models.Message, direction string, seq int) error {
		tags, err := marshalJSON(m.Tags)
		if err != nil {
			return fmt.Errorf("marshal message tags: %w", err)
		}
		if _, err := msgStmt.ExecContext(ctx,
			m.ID, turn.ID, direction, seq, m.Content, string(m.Kind),
			m.SenderID, string(m.SenderKind), tags, toNano(m.CreatedAt),
		); err != nil {
			return fmt.Errorf("insert message: %w", err)
		}
		return nil
	}
	for i := range turn.Requests {
		if err := insertMessage(&turn.Requests[i], "request", i); err != nil {
			return err
		}
	}
	for i := range turn.Responses {
		if err := insertMessage(&turn.Responses[i], "response", i); err != nil {
			return err
		}
	}

	invStmt, err := tx.PrepareContext(ctx,
		`INSERT INTO invocations (id, turn_id, seq, tool_name, tool_version, args, status, result, error, created_at, completed_at)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?)`)
	if err != nil {
		return fmt.Errorf("prepare insert invocation: %w", err)
	}
	defer invStmt.Close()

	for i := range turn.Invocations {
		inv := &turn.Invocations[i]
		args, err := marshalJSON(inv.Args)
		if err != nil {
			return fmt.Errorf("marshal invocation args: %w", err)
		}
		if _, err := invStmt.ExecContext(ctx,
			inv.ID, turn.ID, i, inv.ToolName, inv.ToolVersion, args,
			string(inv.Status), inv.Result, inv.Error,
			toNano(inv.CreatedAt), toNanoPtr(inv.CompletedAt),
		); err != nil {
			return fmt.Errorf("insert invocation: %w", err)
		}
	}
	return nil
}

func (s *sqliteTurnStore) Get(ctx context.Context, id string) (*models.Turn, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, session_id, ordinal, initiator_id, initiator_kind, responder_id, responder_kind, status, started_at, ended_at, tags
		 FROM turns WHERE id = ?`, id)
	turn, err := scanTurn(row)
	if err != nil {
		return nil, err
	}
	if err := s.loadChildren(ctx, turn); err != nil {
		return nil, err
	}
	return turn, nil
}

func scanTurn(row rowScanner) (*models.Turn, error) {
	var turn models.Turn
	var initiatorKind, responderKind, status string
	var startedAt int64
	var endedAt sql.NullInt64
	var tagsJSON sql.NullString
	if err := row.Scan(
		&turn.ID,
		&turn.SessionID,
		&turn.Ordinal,
		&turn.InitiatorID,
		&initiatorKind,
		&turn.ResponderID,
		&responderKind,
		&status,
		&startedAt,
		&endedAt,
		&tagsJSON,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan turn: %w", err)
	}
	turn.InitiatorKind = models.ParticipantKind(initiatorKind)
	turn.ResponderKind = models.ParticipantKind(responderKind)
	turn.Status = models.TurnStatus(status)
	turn.StartedAt = fromNano(startedAt)
	turn.EndedAt = fromNanoPtr(endedAt)
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal turn tags: %w", err)
	}
	turn.Tags = tags
	return &turn, nil
}

func (s *sqliteTurnStore) loadChildren(ctx context.Context, turn *models.Turn) error {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_id, direction, content, kind, sender_id, sender_kind, tags, created_at
		 FROM messages WHERE turn_id = ?
		 ORDER BY CASE direction WHEN 'request' THEN 0 ELSE 1 END, seq`, turn.ID)
	if err != nil {
		return fmt.Errorf("load turn messages: %w", err)
	}
	defer rows.Close()
	for rows.Next() {
		msg, direction, err := scanMessage(rows)
		if err != nil {
			return err
		}
		if direction == "request" {
			turn.Requests = append(turn.Requests, *msg)
		} else {
			turn.Responses = append(turn.Responses, *msg)
		}
	}
	if err := rows.Err(); err != nil {
		return fmt.Errorf("load turn messages: %w", err)
	}

	invRows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_id, tool_name, tool_version, args, status, result, error, created_at, completed_at
		 FROM invocations WHERE turn_id = ? ORDER BY seq`, turn.ID)
	if err != nil {
		return fmt.Errorf("load turn invocations: %w", err)
	}
	defer invRows.Close()
	for invRows.Next() {
		inv, err := scanInvocation(invRows)
		if err != nil {
			return err
		}
		turn.Invocations = append(turn.Invocations, *inv)
	}
	if err := invRows.Err(); err != nil {
		return fmt.Errorf("load turn invocations: %w", err)
	}
	return nil
}

func (s *sqliteTurnStore) ListBySession(ctx context.Context, sessionID string) ([]*models.Turn, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, session_id, ordinal, initiator_id, initiator_kind, responder_id, responder_kind, status, started_at, ended_at, tags
		 FROM turns WHERE session_id = ? ORDER BY ordinal`, sessionID)
	if err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	defer rows.Close()

	turns := []*models.Turn{}
	for rows.Next() {
		turn, err := scanTurn(rows)
		if err != nil {
			return nil, err
		}
		turns = append(turns, turn)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list turns: %w", err)
	}
	for _, turn := range turns {
		if err := s.loadChildren(ctx, turn); err != nil {
			return nil, err
		}
	}
	return turns, nil
}

func (s *sqliteTurnStore) Update(ctx context.Context, turn *models.Turn) error {
	if turn == nil || turn.ID == "" {
		return fmt.Errorf("turn is required")
	}
	tags, err := marshalJSON(turn.Tags)
	if err != nil {
		return fmt.Errorf("marshal turn tags: %w", err)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("begin update turn: %w", err)
	}
	defer rollback(tx)

	res, err := tx.ExecContext(ctx,
		`UPDATE turns
		 SET session_id = ?, ordinal = ?, initiator_id = ?, initiator_kind = ?, responder_id = ?, responder_kind = ?, status = ?, started_at = ?, ended_at = ?, tags = ?
		 WHERE id = ?`,
		turn.SessionID,
		turn.Ordinal,
		turn.InitiatorID,
		string(turn.InitiatorKind),
		turn.ResponderID,
		string(turn.ResponderKind),
		string(turn.Status),
		toNano(turn.StartedAt),
		toNanoPtr(turn.EndedAt),
		tags,
		turn.ID,
	)
	if err != nil {
		return fmt.Errorf("update turn: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update turn rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}

	if _, err := tx.ExecContext(ctx, `DELETE FROM messages WHERE turn_id = ?`, turn.ID); err != nil {
		return fmt.Errorf("replace turn messages: %w", err)
	}
	if _, err := tx.ExecContext(ctx, `DELETE FROM invocations WHERE turn_id = ?`, turn.ID); err != nil {
		return fmt.Errorf("replace turn invocations: %w", err)
	}
	if err := insertTurnChildren(ctx, tx, turn); err != nil {
		return err
	}
	return tx.Commit()
}

type sqliteMessageStore struct {
	db *sql.DB
}

func scanMessage(row rowScanner) (*models.Message, string, error) {
	var msg models.Message
	var direction, kind, senderKind string
	var tagsJSON sql.NullString
	var createdAt int64
	if err := row.Scan(
		&msg.ID,
		&msg.TurnID,
		&direction,
		&msg.Content,
		&kind,
		&msg.SenderID,
		&senderKind,
		&tagsJSON,
		&createdAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, "", ErrNotFound
		}
		return nil, "", fmt.Errorf("scan message: %w", err)
	}
	msg.Kind = models.MessageKind(kind)
	msg.SenderKind = models.ParticipantKind(senderKind)
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return nil, "", fmt.Errorf("unmarshal message tags: %w", err)
	}
	msg.Tags = tags
	msg.CreatedAt = fromNano(createdAt)
	return &msg, direction, nil
}

func (s *sqliteMessageStore) Get(ctx context.Context, id string) (*models.Message, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, turn_id, direction, content, kind, sender_id, sender_kind, tags, created_at
		 FROM messages WHERE id = ?`, id)
	msg, _, err := scanMessage(row)
	return msg, err
}

func (s *sqliteMessageStore) ListByTurn(ctx context.Context, turnID string) ([]*models.Message, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_id, direction, content, kind, sender_id, sender_kind, tags, created_at
		 FROM messages WHERE turn_id = ?
		 ORDER BY CASE direction WHEN 'request' THEN 0 ELSE 1 END, seq`, turnID)
	if err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	defer rows.Close()

	messages := []*models.Message{}
	for rows.Next() {
		msg, _, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		messages = append(messages, msg)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list messages: %w", err)
	}
	return messages, nil
}

type sqliteInvocationStore struct {
	db *sql.DB
}

func scanInvocation(row rowScanner) (*models.ToolInvocation, error) {
	var inv models.ToolInvocation
	var toolVersion, result, errMsg sql.NullString
	var argsJSON sql.NullString
	var status string
	var createdAt int64
	var completedAt sql.NullInt64
	if err := row.Scan(
		&inv.ID,
		&inv.TurnID,
		&inv.ToolName,
		&toolVersion,
		&argsJSON,
		&status,
		&result,
		&errMsg,
		&createdAt,
		&completedAt,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan invocation: %w", err)
	}
	inv.ToolVersion = toolVersion.String
	inv.Status = models.InvocationStatus(status)
	inv.Result = result.String
	inv.Error = errMsg.String
	args, err := unmarshalTags(argsJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal invocation args: %w", err)
	}
	inv.Args = args
	inv.CreatedAt = fromNano(createdAt)
	inv.CompletedAt = fromNanoPtr(completedAt)
	return &inv, nil
}

func (s *sqliteInvocationStore) Get(ctx context.Context, id string) (*models.ToolInvocation, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, turn_id, tool_name, tool_version, args, status, result, error, created_at, completed_at
		 FROM invocations WHERE id = ?`, id)
	return scanInvocation(row)
}

func (s *sqliteInvocationStore) ListByTurn(ctx context.Context, turnID string) ([]*models.ToolInvocation, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, turn_id, tool_name, tool_version, args, status, result, error, created_at, completed_at
		 FROM invocations WHERE turn_id = ? ORDER BY seq`, turnID)
	if err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	defer rows.Close()

	invocations := []*models.ToolInvocation{}
	for rows.Next() {
		inv, err := scanInvocation(rows)
		if err != nil {
			return nil, err
		}
		invocations = append(invocations, inv)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list invocations: %w", err)
	}
	return invocations, nil
}

type sqliteMemoryItemStore struct {
	db *sql.DB
}

func (s *sqliteMemoryItemStore) Put(ctx context.Context, store string, item *models.MemoryItem) error {
	if store == "" {
		return fmt.Errorf("store name is required")
	}
	if item == nil || item.ID == "" {
		return fmt.Errorf("memory item is required")
	}
	tags, err := marshalJSON(item.Tags)
	if err != nil {
		return fmt.Errorf("marshal memory tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO memory_items (store_name, id, content, tags, created_at, last_access_at, access_count, embedding)
		 VALUES (?,?,?,?,?,?,?,?)`,
		store,
		item.ID,
		item.Content,
		tags,
		toNano(item.CreatedAt),
		toNano(item.LastAccessAt),
		item.AccessCount,
		encodeEmbedding(item.Embedding),
	)
	if err != nil {
		return fmt.Errorf("put memory item: %w", err)
	}
	return nil
}

func scanMemoryItem(row rowScanner) (*models.MemoryItem, error) {
	var item models.MemoryItem
	var tagsJSON sql.NullString
	var createdAt, lastAccessAt int64
	var embedding []byte
	if err := row.Scan(
		&item.ID,
		&item.Content,
		&tagsJSON,
		&createdAt,
		&lastAccessAt,
		&item.AccessCount,
		&embedding,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan memory item: %w", err)
	}
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal memory tags: %w", err)
	}
	item.Tags = tags
	item.CreatedAt = fromNano(createdAt)
	item.LastAccessAt = fromNano(lastAccessAt)
	item.Embedding = decodeEmbedding(embedding)
	return &item, nil
}

func (s *sqliteMemoryItemStore) Get(ctx context.Context, store, id string) (*models.MemoryItem, error) {
	if store == "" || id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT id, content, tags, created_at, last_access_at, access_count, embedding
		 FROM memory_items WHERE store_name = ? AND id = ?`, store, id)
	return scanMemoryItem(row)
}

func (s *sqliteMemoryItemStore) List(ctx context.Context, store string) ([]*models.MemoryItem, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, content, tags, created_at, last_access_at, access_count, embedding
		 FROM memory_items WHERE store_name = ? ORDER BY created_at, id`, store)
	if err != nil {
		return nil, fmt.Errorf("list memory items: %w", err)
	}
	defer rows.Close()

	items := []*models.MemoryItem{}
	for rows.Next() {
		item, err := scanMemoryItem(rows)
		if err != nil {
			return nil, err
		}
		items = append(items, item)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list memory items: %w", err)
	}
	return items, nil
}

func (s *sqliteMemoryItemStore) Delete(ctx context.Context, store, id string) error {
	if store == "" || id == "" {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx,
		`DELETE FROM memory_items WHERE store_name = ? AND id = ?`, store, id)
	if err != nil {
		return fmt.Errorf("delete memory item: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete memory item rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteMemoryItemStore) StoreNames(ctx context.Context) ([]string, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT DISTINCT store_name FROM memory_items ORDER BY store_name`)
	if err != nil {
		return nil, fmt.Errorf("list store names: %w", err)
	}
	defer rows.Close()

	names := []string{}
	for rows.Next() {
		var name string
		if err := rows.Scan(&name); err != nil {
			return nil, fmt.Errorf("scan store name: %w", err)
		}
		names = append(names, name)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list store names: %w", err)
	}
	return names, nil
}

type sqliteRelationshipStore struct {
	db *sql.DB
}

func (s *sqliteRelationshipStore) Put(ctx context.Context, rel *models.Relationship) error {
	if rel == nil || rel.ID == "" {
		return fmt.Errorf("relationship is required")
	}
	dailyRounds, err := marshalJSON(rel.DailyRounds)
	if err != nil {
		return fmt.Errorf("marshal daily rounds: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT OR REPLACE INTO relationships
		 (id, a_id, a_kind, b_id, b_kind, first_seen_at, last_active_at, total_rounds, active_days, resonance_count, diary_count, co_creation_count, gift_count, affection, recognition, daily_rounds, status)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		rel.ID,
		rel.AID,
		string(rel.AKind),
		rel.BID,
		string(rel.BKind),
		toNano(rel.FirstSeenAt),
		toNano(rel.LastActiveAt),
		rel.TotalRounds,
		rel.ActiveDays,
		rel.ResonanceCount,
		rel.DiaryCount,
		rel.CoCreationCount,
		rel.GiftCount,
		rel.Affection,
		rel.Recognition,
		dailyRounds,
		string(rel.Status),
	)
	if err != nil {
		return fmt.Errorf("put relationship: %w", err)
	}
	return nil
}

func scanRelationship(row rowScanner) (*models.Relationship, error) {
	var rel models.Relationship
	var aKind, bKind, status string
	var firstSeenAt, lastActiveAt int64
	var dailyRoundsJSON sql.NullString
	if err := row.Scan(
		&rel.ID,
		&rel.AID,
		&aKind,
		&rel.BID,
		&bKind,
		&firstSeenAt,
		&lastActiveAt,
		&rel.TotalRounds,
		&rel.ActiveDays,
		&rel.ResonanceCount,
		&rel.DiaryCount,
		&rel.CoCreationCount,
		&rel.GiftCount,
		&rel.Affection,
		&rel.Recognition,
		&dailyRoundsJSON,
		&status,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan relationship: %w", err)
	}
	rel.AKind = models.ParticipantKind(aKind)
	rel.BKind = models.ParticipantKind(bKind)
	rel.Status = models.RelationshipStatus(status)
	rel.FirstSeenAt = fromNano(firstSeenAt)
	rel.LastActiveAt = fromNano(lastActiveAt)
	if dailyRoundsJSON.Valid && dailyRoundsJSON.String != "" && dailyRoundsJSON.String != "null" {
		if err := json.Unmarshal([]byte(dailyRoundsJSON.String), &rel.DailyRounds); err != nil {
			return nil, fmt.Errorf("unmarshal daily rounds: %w", err)
		}
	}
	return &rel, nil
}

const relationshipColumns = `id, a_id, a_kind, b_id, b_kind, first_seen_at, last_active_at, total_rounds, active_days, resonance_count, diary_count, co_creation_count, gift_count, affection, recognition, daily_rounds, status`

func (s *sqliteRelationshipStore) Get(ctx context.Context, id string) (*models.Relationship, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships WHERE id = ?`, id)
	return scanRelationship(row)
}

func (s *sqliteRelationshipStore) List(ctx context.Context) ([]*models.Relationship, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+relationshipColumns+` FROM relationships ORDER BY first_seen_at, id`)
	if err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	defer rows.Close()

	rels := []*models.Relationship{}
	for rows.Next() {
		rel, err := scanRelationship(rows)
		if err != nil {
			return nil, err
		}
		rels = append(rels, rel)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list relationships: %w", err)
	}
	return rels, nil
}

func (s *sqliteRelationshipStore) Delete(ctx context.Context, id string) error {
	if id == "" {
		return ErrNotFound
	}
	res, err := s.db.ExecContext(ctx, `DELETE FROM relationships WHERE id = ?`, id)
	if err != nil {
		return fmt.Errorf("delete relationship: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("delete relationship rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}

type sqliteTaskStore struct {
	db *sql.DB
}

func (s *sqliteTaskStore) Create(ctx context.Context, task *models.RelationshipTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	tags, err := marshalJSON(task.Tags)
	if err != nil {
		return fmt.Errorf("marshal task tags: %w", err)
	}
	_, err = s.db.ExecContext(ctx,
		`INSERT INTO tasks (id, relationship_id, template, title, description, priority, status, created_at, due_at, completed_at, min_intensity, required_status, tags)
		 VALUES (?,?,?,?,?,?,?,?,?,?,?,?,?)`,
		task.ID,
		task.RelationshipID,
		task.Template,
		task.Title,
		task.Description,
		task.Priority,
		string(task.Status),
		toNano(task.CreatedAt),
		toNanoPtr(task.DueAt),
		toNanoPtr(task.CompletedAt),
		task.MinIntensity,
		string(task.RequiredStatus),
		tags,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrAlreadyExists
		}
		return fmt.Errorf("create task: %w", err)
	}
	return nil
}

func scanTask(row rowScanner) (*models.RelationshipTask, error) {
	var task models.RelationshipTask
	var description, requiredStatus sql.NullString
	var status string
	var createdAt int64
	var dueAt, completedAt sql.NullInt64
	var tagsJSON sql.NullString
	if err := row.Scan(
		&task.ID,
		&task.RelationshipID,
		&task.Template,
		&task.Title,
		&description,
		&task.Priority,
		&status,
		&createdAt,
		&dueAt,
		&completedAt,
		&task.MinIntensity,
		&requiredStatus,
		&tagsJSON,
	); err != nil {
		if errors.Is(err, sql.ErrNoRows) {
			return nil, ErrNotFound
		}
		return nil, fmt.Errorf("scan task: %w", err)
	}
	task.Description = description.String
	task.Status = models.TaskStatus(status)
	task.RequiredStatus = models.RelationshipStatus(requiredStatus.String)
	task.CreatedAt = fromNano(createdAt)
	task.DueAt = fromNanoPtr(dueAt)
	task.CompletedAt = fromNanoPtr(completedAt)
	tags, err := unmarshalTags(tagsJSON)
	if err != nil {
		return nil, fmt.Errorf("unmarshal task tags: %w", err)
	}
	task.Tags = tags
	return &task, nil
}

const taskColumns = `id, relationship_id, template, title, description, priority, status, created_at, due_at, completed_at, min_intensity, required_status, tags`

func (s *sqliteTaskStore) Get(ctx context.Context, id string) (*models.RelationshipTask, error) {
	if id == "" {
		return nil, ErrNotFound
	}
	row := s.db.QueryRowContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE id = ?`, id)
	return scanTask(row)
}

func (s *sqliteTaskStore) ListByRelationship(ctx context.Context, relationshipID string) ([]*models.RelationshipTask, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT `+taskColumns+` FROM tasks WHERE relationship_id = ? ORDER BY created_at, id`, relationshipID)
	if err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	defer rows.Close()

	tasks := []*models.RelationshipTask{}
	for rows.Next() {
		task, err := scanTask(rows)
		if err != nil {
			return nil, err
		}
		tasks = append(tasks, task)
	}
	if err := rows.Err(); err != nil {
		return nil, fmt.Errorf("list tasks: %w", err)
	}
	return tasks, nil
}

func (s *sqliteTaskStore) Update(ctx context.Context, task *models.RelationshipTask) error {
	if task == nil || task.ID == "" {
		return fmt.Errorf("task is required")
	}
	tags, err := marshalJSON(task.Tags)
	if err != nil {
		return fmt.Errorf("marshal task tags: %w", err)
	}
	res, err := s.db.ExecContext(ctx,
		`UPDATE tasks
		 SET relationship_id = ?, template = ?, title = ?, description = ?, priority = ?, status = ?, created_at = ?, due_at = ?, completed_at = ?, min_intensity = ?, required_status = ?, tags = ?
		 WHERE id = ?`,
		task.RelationshipID,
		task.Template,
		task.Title,
		task.Description,
		task.Priority,
		string(task.Status),
		toNano(task.CreatedAt),
		toNanoPtr(task.DueAt),
		toNanoPtr(task.CompletedAt),
		task.MinIntensity,
		string(task.RequiredStatus),
		tags,
		task.ID,
	)
	if err != nil {
		return fmt.Errorf("update task: %w", err)
	}
	rows, err := res.RowsAffected()
	if err != nil {
		return fmt.Errorf("update task rows affected: %w", err)
	}
	if rows == 0 {
		return ErrNotFound
	}
	return nil
}
