package store

import (
	"context"
	"errors"
	"time"

	json "github.com/goccy/go-json"
	"github.com/jackc/pgx/v5"
	"github.com/jackc/pgx/v5/pgconn"
	"github.com/jackc/pgx/v5/pgxpool"

	"MissionChat/module/chat/model"
	"MissionChat/tools/errs"
)

// pgDB is the subset of *pgxpool.Pool the stores use.
type pgDB interface {
	Exec(ctx context.Context, sql string, args ...any) (pgconn.CommandTag, error)
	Query(ctx context.Context, sql string, args ...any) (pgx.Rows, error)
	QueryRow(ctx context.Context, sql string, args ...any) pgx.Row
}

const convColumns = `id, type, participants, mission, title, last_content, last_sender, last_sent_at, direct_key, created_at, updated_at`

const pgUniqueViolation = "23505"

type PgConversations struct {
	db pgDB
}

func NewPgConversations(db pgDB) *PgConversations {
	return &PgConversations{db: db}
}

// NewPgStores migrates the schema and wires both stores on pool.
func NewPgStores(ctx context.Context, pool *pgxpool.Pool) (*Stores, error) {
	if err := Migrate(ctx, pool); err != nil {
		return nil, err
	}
	return &Stores{
		Conversations: NewPgConversations(pool),
		Messages:      NewPgMessages(pool),
		close: func(context.Context) error {
			pool.Close()
			return nil
		},
	}, nil
}

func scanConversation(row pgx.Row) (*model.Conversation, error) {
	var (
		c          model.Conversation
		typ        string
		lastBody   *string
		lastSender *string
		lastAt     *time.Time
		directKey  *string
	)
	err := row.Scan(&c.ID, &typ, &c.Participants, &c.Mission, &c.Title,
		&lastBody, &lastSender, &lastAt, &directKey, &c.CreatedAt, &c.UpdatedAt)
	if err != nil {
		return nil, err
	}
	c.Type = model.ConversationType(typ)
	if lastAt != nil {
		c.LastMessage = &model.LastMessage{SentAt: *lastAt}
		if lastBody != nil {
			c.LastMessage.Content = *lastBody
		}
		if lastSender != nil {
			c.LastMessage.Sender = *lastSender
		}
	}
	if directKey != nil {
		c.DirectKey = *directKey
	}
	if c.Participants == nil {
		c.Participants = []string{}
	}
	return &c, nil
}

func nullable(s string) *string {
	if s == "" {
		return nil
	}
	return &s
}

func (s *PgConversations) insert(ctx context.Context, c *model.Conversation, onConflict string) (pgconn.CommandTag, error) {
	return s.db.Exec(ctx, `INSERT INTO conversation (`+convColumns+`)
		VALUES ($1, $2, $3, $4, $5, NULL, NULL, NULL, $6, $7, $8) `+onConflict,
		c.ID, string(c.Type), c.Participants, c.Mission, c.Title, nullable(c.DirectKey), c.CreatedAt, c.UpdatedAt)
}

func (s *PgConversations) FindOrCreateDirect(ctx context.Context, c *model.Conversation) (*model.Conversation, bool, error) {
	tag, err := s.insert(ctx, c, `ON CONFLICT (direct_key) WHERE direct_key IS NOT NULL DO NOTHING`)
	if err != nil {
		return nil, false, errs.WrapMsg(err, "find or create direct", "key", c.DirectKey)
	}
	if tag.RowsAffected() == 1 {
		return c.Clone(), true, nil
	}
	row := s.db.QueryRow(ctx, `SELECT `+convColumns+` FROM conversation WHERE direct_key = $1`, c.DirectKey)
	out, err := scanConversation(row)
	if err != nil {
		return nil, false, errs.WrapMsg(err, "read existing direct", "key", c.DirectKey)
	}
	return out, false, nil
}

func (s *PgConversations) Create(ctx context.Context, c *model.Conversation) error {
	if _, err := s.insert(ctx, c, ""); err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return errs.WrapMsg(err, "insert conversation", "id", c.ID)
	}
	return nil
}

func (s *PgConversations) Get(ctx context.Context, id string) (*model.Conversation, error) {
	row := s.db.QueryRow(ctx, `SELECT `+convColumns+` FROM conversation WHERE id = $1`, id)
	c, err := scanConversation(row)
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "get conversation", "id", id)
	}
	return c, nil
}

func (s *PgConversations) ListByParticipant(ctx context.Context, user string) ([]*model.Conversation, error) {
	rows, err := s.db.Query(ctx, `SELECT `+convColumns+` FROM conversation
		WHERE $1 = ANY(participants) ORDER BY updated_at DESC, id DESC`, user)
	if err != nil {
		return nil, errs.WrapMsg(err, "list conversations", "user", user)
	}
	defer rows.Close()
	out := make([]*model.Conversation, 0)
	for rows.Next() {
		c, err := scanConversation(rows)
		if err != nil {
			return nil, errs.WrapMsg(err, "scan conversation")
		}
		out = append(out, c)
	}
	return out, errs.Wrap(rows.Err())
}

func (s *PgConversations) AddParticipant(ctx context.Context, id, requester, user string, at time.Time) (*model.Conversation, error) {
	for i := 0; i < maxCASRetries; i++ {
		row := s.db.QueryRow(ctx, `UPDATE conversation
			SET participants = array_append(participants, $3), updated_at = GREATEST(updated_at, $4)
			WHERE id = $1 AND type <> 'direct' AND $2 = ANY(participants) AND NOT ($3 = ANY(participants))
			RETURNING `+convColumns, id, requester, user, at)
		c, err := scanConversation(row)
		if err == nil {
			return c, nil
		}
		if !errors.Is(err, pgx.ErrNoRows) {
			return nil, errs.WrapMsg(err, "add participant", "id", id)
		}
		if err := s.explain(ctx, id, requester, user); err != nil {
			return nil, err
		}
	}
	return nil, errs.New("add participant: lost race", "id", id)
}

func (s *PgConversations) RemoveParticipant(ctx context.Context, id, requester string, at time.Time) (*model.Conversation, bool, error) {
	for i := 0; i < maxCASRetries; i++ {
		row := s.db.QueryRow(ctx, `UPDATE conversation
			SET participants = array_remove(participants, $2), updated_at = GREATEST(updated_at, $3)
			WHERE id = $1 AND type <> 'direct' AND $2 = ANY(participants)
			RETURNING `+convColumns, id, requester, at)
		c, err := scanConversation(row)
		if errors.Is(err, pgx.ErrNoRows) {
			if err := s.explain(ctx, id, requester, ""); err != nil {
				return nil, false, err
			}
			continue
		}
		if err != nil {
			return nil, false, errs.WrapMsg(err, "remove participant", "id", id)
		}
		if len(c.Participants) > 0 {
			return c, false, nil
		}
		tag, err := s.db.Exec(ctx, `DELETE FROM conversation WHERE id = $1 AND cardinality(participants) = 0`, id)
		if err != nil {
			return nil, false, errs.WrapMsg(err, "delete empty conversation", "id", id)
		}
		if tag.RowsAffected() == 1 {
			return nil, true, nil
		}
		cur, err := s.Get(ctx, id)
		if errors.Is(err, ErrNotFound) {
			return nil, true, nil
		}
		return cur, false, err
	}
	return nil, false, errs.New("remove participant: lost race", "id", id)
}

func (s *PgConversations) explain(ctx context.Context, id, requester, user string) error {
	c, err := s.Get(ctx, id)
	if err != nil {
		return err
	}
	return classify(c, requester, user)
}

func (s *PgConversations) TouchLastMessage(ctx context.Context, id string, last model.LastMessage) error {
	_, err := s.db.Exec(ctx, `UPDATE conversation
		SET last_content = $2, last_sender = $3, last_sent_at = $4, updated_at = GREATEST(updated_at, $4)
		WHERE id = $1 AND (last_sent_at IS NULL OR last_sent_at <= $4)`,
		id, last.Content, last.Sender, last.SentAt)
	if err != nil {
		return errs.WrapMsg(err, "touch last message", "id", id)
	}
	return nil
}

const msgColumns = `id, conversation_id, sender, content, attachments, read_by, created_at`

type PgMessages struct {
	db pgDB
}

func NewPgMessages(db pgDB) *PgMessages {
	return &PgMessages{db: db}
}

func scanMessage(row pgx.Row) (*model.Message, error) {
	var (
		m           model.Message
		attachments []byte
		readBy      []byte
	)
	if err := row.Scan(&m.ID, &m.ConversationID, &m.Sender, &m.Content, &attachments, &readBy, &m.CreatedAt); err != nil {
		return nil, err
	}
	if len(attachments) > 0 {
		if err := json.Unmarshal(attachments, &m.Attachments); err != nil {
			return nil, errs.WrapMsg(err, "decode attachments", "id", m.ID)
		}
	}
	// stored as a jsonb object, not the list form ReadMarkers uses on the API
	markers := map[string]time.Time{}
	if len(readBy) > 0 {
		if err := json.Unmarshal(readBy, &markers); err != nil {
			return nil, errs.WrapMsg(err, "decode read_by", "id", m.ID)
		}
	}
	m.ReadBy = model.ReadMarkers(markers)
	return &m, nil
}

func (s *PgMessages) Insert(ctx context.Context, m *model.Message) error {
	attachments := m.Attachments
	if attachments == nil {
		attachments = []model.Attachment{}
	}
	ab, err := json.Marshal(attachments)
	if err != nil {
		return errs.Wrap(err)
	}
	rb, err := json.Marshal(map[string]time.Time(m.ReadBy))
	if err != nil {
		return errs.Wrap(err)
	}
	_, err = s.db.Exec(ctx, `INSERT INTO message (`+msgColumns+`) VALUES ($1, $2, $3, $4, $5, $6, $7)`,
		m.ID, m.ConversationID, m.Sender, m.Content, ab, rb, m.CreatedAt)
	if err != nil {
		if isUniqueViolation(err) {
			return ErrConflict
		}
		return errs.WrapMsg(err, "insert message", "id", m.ID)
	}
	return nil
}

func (s *PgMessages) Get(ctx context.Context, id string) (*model.Message, error) {
	m, err := scanMessage(s.db.QueryRow(ctx, `SELECT `+msgColumns+` FROM message WHERE id = $1`, id))
	if errors.Is(err, pgx.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, errs.WrapMsg(err, "get message", "id", id)
	}
	return m, nil
}

func (s *PgMessages) Count(ctx context.Context, conversationID string) (int64, error) {
	var n int64
	if err := s.db.QueryRow(ctx, `SELECT count(*) FROM message WHERE conversation_id = $1`, conversationID).Scan(&n); err != nil {
		return 0, errs.WrapMsg(err, "count messages", "conversation", conversationID)
	}
	return n, nil
}

func (s *PgMessages) ListNewestFirst(ctx context.Context, conversationID string, skip, limit int64) ([]*model.Message, error) {
	rows, err := s.db.Query(ctx, `SELECT `+msgColumns+` FROM message
		WHERE conversation_id = $1 ORDER BY created_at DESC, id DESC OFFSET $2 LIMIT $3`,
		conversationID, skip, limit)
	if err != nil {
		return nil, errs.WrapMsg(err, "list messages", "conversation", conversationID)
	}
	defer rows.Close()
	out := make([]*model.Message, 0, limit)
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, errs.Wrap(rows.Err())
}

func (s *PgMessages) MarkRead(ctx context.Context, ids []string, user string, at time.Time) (int64, error) {
	if len(ids) == 0 {
		return 0, nil
	}
	tag, err := s.db.Exec(ctx, `UPDATE message
		SET read_by = read_by || jsonb_build_object($2::text, $3::timestamptz)
		WHERE id = ANY($1) AND NOT (read_by ? $2)`, ids, user, at)
	if err != nil {
		return 0, errs.WrapMsg(err, "mark read", "user", user)
	}
	return tag.RowsAffected(), nil
}

func (s *PgMessages) Delete(ctx context.Context, id string) error {
	tag, err := s.db.Exec(ctx, `DELETE FROM message WHERE id = $1`, id)
	if err != nil {
		return errs.WrapMsg(err, "delete message", "id", id)
	}
	if tag.RowsAffected() == 0 {
		return ErrNotFound
	}
	return nil
}

func isUniqueViolation(err error) bool {
	var pgErr *pgconn.PgError
	return errors.As(err, &pgErr) && pgErr.Code == pgUniqueViolation
}
