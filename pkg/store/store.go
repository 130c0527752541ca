package store

import (
	"context"
	"database/sql"
	"encoding/json"
	"fmt"
	"strings"
	"time"
)

// saveTurnRetries bounds retries on the unique-constraint race two
// concurrent SaveTurn calls can hit when computing the next turn number.
const saveTurnRetries = 3

const createConversationsTableSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    session_id VARCHAR(64) NOT NULL UNIQUE,
    user_id VARCHAR(128) NOT NULL,
    title TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);
`

const createTurnsTableSQL = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id INTEGER PRIMARY KEY AUTOINCREMENT,
    conversation_id INTEGER NOT NULL,
    turn_number INTEGER NOT NULL,
    user_query TEXT NOT NULL,
    agent_response TEXT NOT NULL,
    provider VARCHAR(64),
    model VARCHAR(128),
    guardrail_score INTEGER,
    retrieval_attempts INTEGER NOT NULL DEFAULT 0,
    rewritten_query TEXT,
    sources TEXT,
    reasoning_steps TEXT,
    thinking_steps TEXT,
    citations TEXT,
    pending_confirmation TEXT,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (conversation_id, turn_number),
    FOREIGN KEY (conversation_id) REFERENCES conversations(id) ON DELETE CASCADE
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON conversation_turns(conversation_id);
`

const createConversationsTablePostgresSQL = `
CREATE TABLE IF NOT EXISTS conversations (
    id BIGSERIAL PRIMARY KEY,
    session_id VARCHAR(64) NOT NULL UNIQUE,
    user_id VARCHAR(128) NOT NULL,
    title TEXT,
    created_at TIMESTAMP NOT NULL,
    updated_at TIMESTAMP NOT NULL
);

CREATE INDEX IF NOT EXISTS idx_conversations_user ON conversations(user_id);
`

const createTurnsTablePostgresSQL = `
CREATE TABLE IF NOT EXISTS conversation_turns (
    id BIGSERIAL PRIMARY KEY,
    conversation_id BIGINT NOT NULL REFERENCES conversations(id) ON DELETE CASCADE,
    turn_number INTEGER NOT NULL,
    user_query TEXT NOT NULL,
    agent_response TEXT NOT NULL,
    provider VARCHAR(64),
    model VARCHAR(128),
    guardrail_score INTEGER,
    retrieval_attempts INTEGER NOT NULL DEFAULT 0,
    rewritten_query TEXT,
    sources JSONB,
    reasoning_steps JSONB,
    thinking_steps JSONB,
    citations JSONB,
    pending_confirmation JSONB,
    created_at TIMESTAMP NOT NULL,
    UNIQUE (conversation_id, turn_number)
);

CREATE INDEX IF NOT EXISTS idx_turns_conversation ON conversation_turns(conversation_id);
`

// ConversationStore implements the append-only conversation contract
// over database/sql.
type ConversationStore struct {
	db      *sql.DB
	dialect string
}

func NewConversationStore(db *sql.DB, dialect string) (*ConversationStore, error) {
	if db == nil {
		return nil, fmt.Errorf("database connection is required")
	}
	switch dialect {
	case "postgres", "mysql", "sqlite":
	default:
		return nil, fmt.Errorf("unsupported dialect: %s (supported: postgres, mysql, sqlite)", dialect)
	}

	s := &ConversationStore{db: db, dialect: dialect}
	if err := s.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize conversation schema: %w", err)
	}
	return s, nil
}

func (s *ConversationStore) initSchema() error {
	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	conversationsSQL := createConversationsTableSQL
	turnsSQL := createTurnsTableSQL
	switch s.dialect {
	case "postgres":
		conversationsSQL = createConversationsTablePostgresSQL
		turnsSQL = createTurnsTablePostgresSQL
	case "mysql":
		conversationsSQL = strings.Replace(conversationsSQL,
			"INTEGER PRIMARY KEY AUTOINCREMENT", "BIGINT PRIMARY KEY AUTO_INCREMENT", 1)
		turnsSQL = strings.Replace(turnsSQL,
			"INTEGER PRIMARY KEY AUTOINCREMENT", "BIGINT PRIMARY KEY AUTO_INCREMENT", 1)
	}

	if _, err := s.db.ExecContext(ctx, conversationsSQL); err != nil {
		return fmt.Errorf("failed to create conversations table: %w", err)
	}
	if _, err := s.db.ExecContext(ctx, turnsSQL); err != nil {
		return fmt.Errorf("failed to create conversation_turns table: %w", err)
	}
	return nil
}

// q rewrites ? placeholders to $n for postgres.
func (s *ConversationStore) q(query string) string {
	if s.dialect != "postgres" {
		return query
	}
	var b strings.Builder
	n := 0
	for _, r := range query {
		if r == '?' {
			n++
			fmt.Fprintf(&b, "$%d", n)
			continue
		}
		b.WriteRune(r)
	}
	return b.String()
}

// forUpdate appends a row-lock clause where the dialect supports one.
func (s *ConversationStore) forUpdate(query string) string {
	if s.dialect == "sqlite" {
		return query
	}
	return query + " FOR UPDATE"
}

// GetOrCreate returns the conversation for sessionID owned by userID,
// creating it when absent.
func (s *ConversationStore) GetOrCreate(ctx context.Context, sessionID, userID string) (*Conversation, error) {
	conv, err := s.lookup(ctx, s.db, sessionID, userID)
	if err == nil {
		return conv, nil
	}
	if err != ErrNotFound {
		return nil, &StoreError{Op: "get_or_create", Err: err}
	}

	now := time.Now().UTC()
	insertSQL := s.q(`INSERT INTO conversations (session_id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`)
	if _, err := s.db.ExecContext(ctx, insertSQL, sessionID, userID, now, now); err != nil {
		// Lost a creation race; the row exists now.
		if isUniqueViolation(err) {
			return s.lookup(ctx, s.db, sessionID, userID)
		}
		return nil, &StoreError{Op: "get_or_create", Err: err}
	}

	return s.lookup(ctx, s.db, sessionID, userID)
}

type querier interface {
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

func (s *ConversationStore) lookup(ctx context.Context, db querier, sessionID, userID string) (*Conversation, error) {
	query := s.q(`
SELECT id, session_id, user_id, title, created_at, updated_at
FROM conversations
WHERE session_id = ? AND user_id = ?`)

	var conv Conversation
	var title sql.NullString
	err := db.QueryRowContext(ctx, query, sessionID, userID).Scan(
		&conv.ID, &conv.SessionID, &conv.UserID, &title, &conv.CreatedAt, &conv.UpdatedAt)
	if err == sql.ErrNoRows {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load conversation: %w", err)
	}
	conv.Title = title.String
	return &conv, nil
}

// GetHistory returns up to limit most-recent turns in chronological
// order. An unknown session yields an empty history, not an error.
func (s *ConversationStore) GetHistory(ctx context.Context, sessionID string, limit int, userID string) ([]Turn, error) {
	if limit <= 0 {
		limit = 10
	}

	query := s.q(`
SELECT t.id, t.turn_number, t.user_query, t.agent_response, t.provider, t.model,
       t.guardrail_score, t.retrieval_attempts, t.rewritten_query,
       t.sources, t.reasoning_steps, t.thinking_steps, t.citations, t.pending_confirmation,
       t.created_at
FROM conversation_turns t
JOIN conversations c ON c.id = t.conversation_id
WHERE c.session_id = ? AND c.user_id = ?
ORDER BY t.turn_number DESC
LIMIT ?`)

	rows, err := s.db.QueryContext(ctx, query, sessionID, userID, limit)
	if err != nil {
		return nil, &StoreError{Op: "get_history", Err: err}
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, &StoreError{Op: "get_history", Err: err}
	}

	// Newest-first from the query; callers want chronological.
	for i, j := 0, len(turns)-1; i < j; i, j = i+1, j-1 {
		turns[i], turns[j] = turns[j], turns[i]
	}
	return turns, nil
}

// SaveTurn appends a turn, computing the next turn number under a row
// lock on the conversation. Unique-constraint races with a concurrent
// writer are retried up to three times.
func (s *ConversationStore) SaveTurn(ctx context.Context, sessionID string, turn Turn, userID string) (*Turn, error) {
	var lastErr error
	for attempt := 0; attempt < saveTurnRetries; attempt++ {
		saved, err := s.trySaveTurn(ctx, sessionID, turn, userID)
		if err == nil {
			return saved, nil
		}
		if !isUniqueViolation(err) {
			return nil, &StoreError{Op: "save_turn", Err: err}
		}
		lastErr = err
	}
	return nil, &StoreError{Op: "save_turn", Err: fmt.Errorf("gave up after %d attempts: %w", saveTurnRetries, lastErr)}
}

func (s *ConversationStore) trySaveTurn(ctx context.Context, sessionID string, turn Turn, userID string) (*Turn, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, fmt.Errorf("failed to begin transaction: %w", err)
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	now := time.Now().UTC()

	lockSQL := s.forUpdate(s.q(`SELECT id FROM conversations WHERE session_id = ? AND user_id = ?`))
	var convID int64
	err = tx.QueryRowContext(ctx, lockSQL, sessionID, userID).Scan(&convID)
	if err == sql.ErrNoRows {
		insertConvSQL := s.q(`INSERT INTO conversations (session_id, user_id, created_at, updated_at) VALUES (?, ?, ?, ?)`)
		if _, err := tx.ExecContext(ctx, insertConvSQL, sessionID, userID, now, now); err != nil {
			return nil, err
		}
		if err := tx.QueryRowContext(ctx, lockSQL, sessionID, userID).Scan(&convID); err != nil {
			return nil, fmt.Errorf("failed to load created conversation: %w", err)
		}
	} else if err != nil {
		return nil, fmt.Errorf("failed to lock conversation: %w", err)
	}

	nextSQL := s.q(`SELECT COALESCE(MAX(turn_number) + 1, 0) FROM conversation_turns WHERE conversation_id = ?`)
	var next int
	if err := tx.QueryRowContext(ctx, nextSQL, convID).Scan(&next); err != nil {
		return nil, fmt.Errorf("failed to compute next turn number: %w", err)
	}

	sources, err := marshalNullable(turn.Sources, len(turn.Sources) > 0)
	if err != nil {
		return nil, err
	}
	reasoning, err := marshalNullable(turn.ReasoningSteps, len(turn.ReasoningSteps) > 0)
	if err != nil {
		return nil, err
	}
	thinking, err := marshalNullable(turn.ThinkingSteps, len(turn.ThinkingSteps) > 0)
	if err != nil {
		return nil, err
	}
	citations, err := marshalNullable(turn.Citations, turn.Citations != nil)
	if err != nil {
		return nil, err
	}
	pending, err := marshalNullable(turn.PendingConfirmation, turn.PendingConfirmation != nil)
	if err != nil {
		return nil, err
	}

	insertSQL := s.q(`
INSERT INTO conversation_turns
    (conversation_id, turn_number, user_query, agent_response, provider, model,
     guardrail_score, retrieval_attempts, rewritten_query,
     sources, reasoning_steps, thinking_steps, citations, pending_confirmation, created_at)
VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`)
	if _, err := tx.ExecContext(ctx, insertSQL,
		convID, next, turn.UserQuery, turn.AgentResponse, turn.Provider, turn.Model,
		turn.GuardrailScore, turn.RetrievalAttempts, turn.RewrittenQuery,
		sources, reasoning, thinking, citations, pending, now,
	); err != nil {
		return nil, err
	}

	updateSQL := s.q(`UPDATE conversations SET updated_at = ? WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, updateSQL, now, convID); err != nil {
		return nil, fmt.Errorf("failed to touch conversation: %w", err)
	}

	if err := tx.Commit(); err != nil {
		return nil, fmt.Errorf("failed to commit turn: %w", err)
	}
	committed = true

	turn.TurnNumber = next
	turn.CreatedAt = now
	return &turn, nil
}

// CompletePendingTurn fills a pending turn's answer under row lock and
// clears its pending confirmation. Nil optional fields in completion
// leave the stored columns untouched.
func (s *ConversationStore) CompletePendingTurn(ctx context.Context, sessionID string, turnNumber int, completion TurnCompletion, userID string) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return &StoreError{Op: "complete_pending_turn", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	turnID, err := s.lockTurn(ctx, tx, sessionID, turnNumber, userID)
	if err != nil {
		if err == ErrNotFound {
			return ErrNotFound
		}
		return &StoreError{Op: "complete_pending_turn", Err: err}
	}

	sets := []string{"agent_response = ?", "pending_confirmation = NULL"}
	args := []any{completion.AgentResponse}

	if completion.ThinkingSteps != nil {
		data, err := json.Marshal(completion.ThinkingSteps)
		if err != nil {
			return &StoreError{Op: "complete_pending_turn", Err: err}
		}
		sets = append(sets, "thinking_steps = ?")
		args = append(args, string(data))
	}
	if completion.Sources != nil {
		data, err := json.Marshal(completion.Sources)
		if err != nil {
			return &StoreError{Op: "complete_pending_turn", Err: err}
		}
		sets = append(sets, "sources = ?")
		args = append(args, string(data))
	}
	if completion.ReasoningSteps != nil {
		data, err := json.Marshal(completion.ReasoningSteps)
		if err != nil {
			return &StoreError{Op: "complete_pending_turn", Err: err}
		}
		sets = append(sets, "reasoning_steps = ?")
		args = append(args, string(data))
	}
	if completion.Citations != nil {
		data, err := json.Marshal(completion.Citations)
		if err != nil {
			return &StoreError{Op: "complete_pending_turn", Err: err}
		}
		sets = append(sets, "citations = ?")
		args = append(args, string(data))
	}

	updateSQL := s.q(fmt.Sprintf(`UPDATE conversation_turns SET %s WHERE id = ?`, strings.Join(sets, ", ")))
	args = append(args, turnID)
	if _, err := tx.ExecContext(ctx, updateSQL, args...); err != nil {
		return &StoreError{Op: "complete_pending_turn", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return &StoreError{Op: "complete_pending_turn", Err: err}
	}
	committed = true
	return nil
}

func (s *ConversationStore) lockTurn(ctx context.Context, tx *sql.Tx, sessionID string, turnNumber int, userID string) (int64, error) {
	query := s.forUpdate(s.q(`
SELECT t.id
FROM conversation_turns t
JOIN conversations c ON c.id = t.conversation_id
WHERE c.session_id = ? AND c.user_id = ? AND t.turn_number = ?`))

	var turnID int64
	err := tx.QueryRowContext(ctx, query, sessionID, userID, turnNumber).Scan(&turnID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, fmt.Errorf("failed to lock turn: %w", err)
	}
	return turnID, nil
}

// HasPendingConfirmation reports whether any turn in the session is
// awaiting human confirmation.
func (s *ConversationStore) HasPendingConfirmation(ctx context.Context, sessionID, userID string) (bool, error) {
	query := s.q(`
SELECT COUNT(*)
FROM conversation_turns t
JOIN conversations c ON c.id = t.conversation_id
WHERE c.session_id = ? AND c.user_id = ? AND t.pending_confirmation IS NOT NULL`)

	var count int
	if err := s.db.QueryRowContext(ctx, query, sessionID, userID).Scan(&count); err != nil {
		return false, &StoreError{Op: "has_pending_confirmation", Err: err}
	}
	return count > 0, nil
}

// GetPendingTurn returns the latest turn carrying a pending
// confirmation, or nil when there is none.
func (s *ConversationStore) GetPendingTurn(ctx context.Context, sessionID, userID string) (*Turn, error) {
	query := s.q(`
SELECT t.id, t.turn_number, t.user_query, t.agent_response, t.provider, t.model,
       t.guardrail_score, t.retrieval_attempts, t.rewritten_query,
       t.sources, t.reasoning_steps, t.thinking_steps, t.citations, t.pending_confirmation,
       t.created_at
FROM conversation_turns t
JOIN conversations c ON c.id = t.conversation_id
WHERE c.session_id = ? AND c.user_id = ? AND t.pending_confirmation IS NOT NULL
ORDER BY t.turn_number DESC
LIMIT 1`)

	rows, err := s.db.QueryContext(ctx, query, sessionID, userID)
	if err != nil {
		return nil, &StoreError{Op: "get_pending_turn", Err: err}
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, &StoreError{Op: "get_pending_turn", Err: err}
	}
	if len(turns) == 0 {
		return nil, nil
	}
	return &turns[0], nil
}

// ClearPendingConfirmation drops the pending payload from one turn
// without touching its answer.
func (s *ConversationStore) ClearPendingConfirmation(ctx context.Context, sessionID string, turnNumber int, userID string) error {
	query := s.q(`
UPDATE conversation_turns SET pending_confirmation = NULL
WHERE turn_number = ? AND pending_confirmation IS NOT NULL AND conversation_id IN (
    SELECT id FROM conversations WHERE session_id = ? AND user_id = ?
)`)

	result, err := s.db.ExecContext(ctx, query, turnNumber, sessionID, userID)
	if err != nil {
		return &StoreError{Op: "clear_pending_confirmation", Err: err}
	}
	if n, err := result.RowsAffected(); err == nil && n == 0 {
		return ErrNotFound
	}
	return nil
}

// Get loads a conversation with all its turns. ErrNotFound covers both
// absence and foreign ownership.
func (s *ConversationStore) Get(ctx context.Context, sessionID, userID string) (*Conversation, error) {
	conv, err := s.lookup(ctx, s.db, sessionID, userID)
	if err == ErrNotFound {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}

	query := s.q(`
SELECT id, turn_number, user_query, agent_response, provider, model,
       guardrail_score, retrieval_attempts, rewritten_query,
       sources, reasoning_steps, thinking_steps, citations, pending_confirmation,
       created_at
FROM conversation_turns
WHERE conversation_id = ?
ORDER BY turn_number ASC`)

	rows, err := s.db.QueryContext(ctx, query, conv.ID)
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	defer rows.Close()

	turns, err := scanTurns(rows)
	if err != nil {
		return nil, &StoreError{Op: "get", Err: err}
	}
	conv.Turns = turns
	conv.TurnCount = len(turns)
	return conv, nil
}

// List returns the user's conversations, most recently updated first.
func (s *ConversationStore) List(ctx context.Context, userID string, offset, limit int) ([]Conversation, error) {
	if limit <= 0 {
		limit = 20
	}

	query := s.q(`
SELECT c.id, c.session_id, c.user_id, c.title, c.created_at, c.updated_at,
       (SELECT COUNT(*) FROM conversation_turns t WHERE t.conversation_id = c.id)
FROM conversations c
WHERE c.user_id = ?
ORDER BY c.updated_at DESC
LIMIT ? OFFSET ?`)

	rows, err := s.db.QueryContext(ctx, query, userID, limit, offset)
	if err != nil {
		return nil, &StoreError{Op: "list", Err: err}
	}
	defer rows.Close()

	var conversations []Conversation
	for rows.Next() {
		var conv Conversation
		var title sql.NullString
		if err := rows.Scan(&conv.ID, &conv.SessionID, &conv.UserID, &title,
			&conv.CreatedAt, &conv.UpdatedAt, &conv.TurnCount); err != nil {
			return nil, &StoreError{Op: "list", Err: err}
		}
		conv.Title = title.String
		conversations = append(conversations, conv)
	}
	return conversations, rows.Err()
}

// Delete removes a conversation and all its turns, returning how many
// turns were deleted. ErrNotFound when the conversation does not exist
// for this owner.
func (s *ConversationStore) Delete(ctx context.Context, sessionID, userID string) (int, error) {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return 0, &StoreError{Op: "delete", Err: err}
	}
	committed := false
	defer func() {
		if !committed {
			_ = tx.Rollback()
		}
	}()

	lockSQL := s.forUpdate(s.q(`SELECT id FROM conversations WHERE session_id = ? AND user_id = ?`))
	var convID int64
	err = tx.QueryRowContext(ctx, lockSQL, sessionID, userID).Scan(&convID)
	if err == sql.ErrNoRows {
		return 0, ErrNotFound
	}
	if err != nil {
		return 0, &StoreError{Op: "delete", Err: err}
	}

	deleteTurnsSQL := s.q(`DELETE FROM conversation_turns WHERE conversation_id = ?`)
	result, err := tx.ExecContext(ctx, deleteTurnsSQL, convID)
	if err != nil {
		return 0, &StoreError{Op: "delete", Err: err}
	}
	turnsDeleted, _ := result.RowsAffected()

	deleteConvSQL := s.q(`DELETE FROM conversations WHERE id = ?`)
	if _, err := tx.ExecContext(ctx, deleteConvSQL, convID); err != nil {
		return 0, &StoreError{Op: "delete", Err: err}
	}

	if err := tx.Commit(); err != nil {
		return 0, &StoreError{Op: "delete", Err: err}
	}
	committed = true
	return int(turnsDeleted), nil
}

func marshalNullable(v any, present bool) (sql.NullString, error) {
	if !present {
		return sql.NullString{}, nil
	}
	data, err := json.Marshal(v)
	if err != nil {
		return sql.NullString{}, fmt.Errorf("failed to marshal field: %w", err)
	}
	return sql.NullString{String: string(data), Valid: true}, nil
}

func scanTurns(rows *sql.Rows) ([]Turn, error) {
	var turns []Turn
	for rows.Next() {
		var t Turn
		var provider, model, rewritten sql.NullString
		var guardrail sql.NullInt64
		var sources, reasoning, thinking, citations, pending sql.NullString

		if err := rows.Scan(&t.ID, &t.TurnNumber, &t.UserQuery, &t.AgentResponse,
			&provider, &model, &guardrail, &t.RetrievalAttempts, &rewritten,
			&sources, &reasoning, &thinking, &citations, &pending, &t.CreatedAt); err != nil {
			return nil, fmt.Errorf("failed to scan turn row: %w", err)
		}

		t.Provider = provider.String
		t.Model = model.String
		if guardrail.Valid {
			score := int(guardrail.Int64)
			t.GuardrailScore = &score
		}
		if rewritten.Valid {
			t.RewrittenQuery = &rewritten.String
		}
		if err := unmarshalNullable(sources, &t.Sources); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(reasoning, &t.ReasoningSteps); err != nil {
			return nil, err
		}
		if err := unmarshalNullable(thinking, &t.ThinkingSteps); err != nil {
			return nil, err
		}
		if citations.Valid {
			t.Citations = &Citations{}
			if err := json.Unmarshal([]byte(citations.String), t.Citations); err != nil {
				return nil, fmt.Errorf("failed to decode citations: %w", err)
			}
		}
		if pending.Valid {
			t.PendingConfirmation = &PendingConfirmation{}
			if err := json.Unmarshal([]byte(pending.String), t.PendingConfirmation); err != nil {
				return nil, fmt.Errorf("failed to decode pending confirmation: %w", err)
			}
		}

		turns = append(turns, t)
	}
	return turns, rows.Err()
}

func unmarshalNullable[T any](src sql.NullString, dst *T) error {
	if !src.Valid || src.String == "" {
		return nil
	}
	if err := json.Unmarshal([]byte(src.String), dst); err != nil {
		return fmt.Errorf("failed to decode stored field: %w", err)
	}
	return nil
}
