package store

import (
	"context"
	"database/sql"
	"errors"
	"fmt"
	"log/slog"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"

	"github.com/BTreeMap/ChatDesk/internal/models"
)

// dialect captures what differs between the SQL backends.
type dialect struct {
	name         string
	numbered     bool // $1, $2 placeholders instead of ?
	isUniqueViol func(error) bool
}

// rebind rewrites ? placeholders for dialects that number them.
func (d dialect) rebind(q string) string {
	if !d.numbered {
		return q
	}
	var b strings.Builder
	b.Grow(len(q) + 8)
	n := 0
	for i := 0; i < len(q); i++ {
		if q[i] == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteByte(q[i])
	}
	return b.String()
}

// sqlStore implements Store on database/sql. SQLiteStore and PostgresStore embed it.
type sqlStore struct {
	db      *sql.DB
	dialect dialect
	now     func() time.Time
}

func (s *sqlStore) exec(ctx context.Context, q string, args ...interface{}) (sql.Result, error) {
	return s.db.ExecContext(ctx, s.dialect.rebind(q), args...)
}

func (s *sqlStore) query(ctx context.Context, q string, args ...interface{}) (*sql.Rows, error) {
	return s.db.QueryContext(ctx, s.dialect.rebind(q), args...)
}

func (s *sqlStore) queryRow(ctx context.Context, q string, args ...interface{}) *sql.Row {
	return s.db.QueryRowContext(ctx, s.dialect.rebind(q), args...)
}

// Ping checks the database connection.
func (s *sqlStore) Ping(ctx context.Context) error {
	return s.db.PingContext(ctx)
}

// Close closes the database connection.
func (s *sqlStore) Close() error {
	if s.db == nil {
		return nil
	}
	slog.Debug("Closing database connection", "dialect", s.dialect.name)
	return s.db.Close()
}

// --- configuration ---

func (s *sqlStore) chatbotByID(ctx context.Context, id string) (*models.Chatbot, error) {
	var bot models.Chatbot
	var userID sql.NullString
	var created int64
	err := s.queryRow(ctx,
		`SELECT id, user_id, name, active, created_at FROM chatbots WHERE id = ? AND active = TRUE`, id,
	).Scan(&bot.ID, &userID, &bot.Name, &bot.Active, &created)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load chatbot %s: %w", id, err)
	}
	bot.UserID = userID.String
	bot.CreatedAt = fromMillis(created)
	return &bot, nil
}

// ActiveChatbot returns the active chatbot the sender last talked to, or else the most
// recently created active chatbot.
func (s *sqlStore) ActiveChatbot(ctx context.Context, sender string) (*models.Chatbot, error) {
	var lastID string
	err := s.queryRow(ctx,
		`SELECT chatbot_id FROM chat_history WHERE phone_number = ? ORDER BY created_at DESC LIMIT 1`, sender,
	).Scan(&lastID)
	switch {
	case err == nil:
		bot, err := s.chatbotByID(ctx, lastID)
		if err != nil || bot != nil {
			return bot, err
		}
	case !errors.Is(err, sql.ErrNoRows):
		return nil, fmt.Errorf("failed to look up sender history: %w", err)
	}

	var id string
	err = s.queryRow(ctx, `SELECT id FROM chatbots WHERE active = TRUE ORDER BY created_at DESC LIMIT 1`).Scan(&id)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to find active chatbot: %w", err)
	}
	return s.chatbotByID(ctx, id)
}

func (s *sqlStore) FormFields(ctx context.Context, chatbotID string) (models.FormDefinition, error) {
	rows, err := s.query(ctx,
		`SELECT field_name, field_label, validation_type FROM form_fields WHERE chatbot_id = ? ORDER BY position`, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query form fields: %w", err)
	}
	defer rows.Close()

	var def models.FormDefinition
	for rows.Next() {
		var f models.FieldSpec
		if err := rows.Scan(&f.Name, &f.Label, &f.Validation); err != nil {
			return nil, fmt.Errorf("failed to scan form field: %w", err)
		}
		def = append(def, f)
	}
	return def, rows.Err()
}

func (s *sqlStore) FormMessages(ctx context.Context, chatbotID string) (*models.FormMessages, error) {
	var m models.FormMessages
	var success sql.NullString
	var welcome, cancel, invalid, already, saveFailed, unavailable, notConfigured sql.NullString
	err := s.queryRow(ctx,
		`SELECT welcome_message, success_messages, cancel_message, invalid_message, already_registered_message,
		        save_failed_message, unavailable_message, not_configured_message
		   FROM form_messages WHERE chatbot_id = ?`, chatbotID,
	).Scan(&welcome, &success, &cancel, &invalid, &already, &saveFailed, &unavailable, &notConfigured)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load form messages: %w", err)
	}
	if err := decodeJSON(success, &m.Success); err != nil {
		return nil, fmt.Errorf("failed to decode success messages: %w", err)
	}
	m.Welcome = welcome.String
	m.Cancel = cancel.String
	m.Invalid = invalid.String
	m.AlreadyRegistered = already.String
	m.SaveFailed = saveFailed.String
	m.Unavailable = unavailable.String
	m.NotConfigured = notConfigured.String
	return &m, nil
}

func (s *sqlStore) ActiveFlows(ctx context.Context, chatbotID string) ([]models.FlowCandidate, error) {
	rows, err := s.query(ctx,
		`SELECT id, keywords, response_text, media_url, priority FROM bot_flows
		  WHERE chatbot_id = ? AND active = TRUE ORDER BY priority, created_at`, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query flows: %w", err)
	}
	defer rows.Close()

	var flows []models.FlowCandidate
	for rows.Next() {
		var f models.FlowCandidate
		var keywords, media sql.NullString
		if err := rows.Scan(&f.ID, &keywords, &f.Response, &media, &f.Priority); err != nil {
			return nil, fmt.Errorf("failed to scan flow: %w", err)
		}
		if err := decodeJSON(keywords, &f.Keywords); err != nil {
			return nil, fmt.Errorf("failed to decode keywords of flow %s: %w", f.ID, err)
		}
		f.ChatbotID = chatbotID
		f.MediaURL = media.String
		flows = append(flows, f)
	}
	return flows, rows.Err()
}

func (s *sqlStore) ActiveWelcome(ctx context.Context, chatbotID string) (*models.Welcome, error) {
	var w models.Welcome
	var media sql.NullString
	err := s.queryRow(ctx,
		`SELECT id, welcome_message, media_url FROM welcomes
		  WHERE chatbot_id = ? AND active = TRUE ORDER BY created_at DESC LIMIT 1`, chatbotID,
	).Scan(&w.ID, &w.Message, &media)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		return nil, fmt.Errorf("failed to load welcome: %w", err)
	}
	w.ChatbotID = chatbotID
	w.MediaURL = media.String
	return &w, nil
}

func (s *sqlStore) BehaviorPrompt(ctx context.Context, chatbotID string) (string, error) {
	var text string
	err := s.queryRow(ctx,
		`SELECT prompt_text FROM prompts WHERE chatbot_id = ? AND kind = ? AND active = TRUE
		  ORDER BY created_at DESC LIMIT 1`, chatbotID, string(models.PromptBehavior),
	).Scan(&text)
	if errors.Is(err, sql.ErrNoRows) {
		return "", nil
	}
	if err != nil {
		return "", fmt.Errorf("failed to load behavior prompt: %w", err)
	}
	return text, nil
}

func (s *sqlStore) KnowledgePrompts(ctx context.Context, chatbotID string) ([]string, error) {
	rows, err := s.query(ctx,
		`SELECT prompt_text FROM prompts WHERE chatbot_id = ? AND kind = ? AND active = TRUE ORDER BY created_at`,
		chatbotID, string(models.PromptKnowledge))
	if err != nil {
		return nil, fmt.Errorf("failed to query knowledge prompts: %w", err)
	}
	defer rows.Close()

	var out []string
	for rows.Next() {
		var text string
		if err := rows.Scan(&text); err != nil {
			return nil, fmt.Errorf("failed to scan knowledge prompt: %w", err)
		}
		out = append(out, text)
	}
	return out, rows.Err()
}

func (s *sqlStore) SaveChatbot(ctx context.Context, bot models.Chatbot) error {
	created := bot.CreatedAt
	if created.IsZero() {
		created = s.now()
	}
	_, err := s.exec(ctx,
		`INSERT INTO chatbots (id, user_id, name, active, created_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (id) DO UPDATE SET user_id = EXCLUDED.user_id, name = EXCLUDED.name, active = EXCLUDED.active`,
		bot.ID, nilIfEmpty(bot.UserID), bot.Name, bot.Active, toMillis(created))
	if err != nil {
		slog.Error("Store SaveChatbot failed", "error", err, "chatbot_id", bot.ID)
		return fmt.Errorf("failed to save chatbot %s: %w", bot.ID, err)
	}
	slog.Debug("Store SaveChatbot succeeded", "chatbot_id", bot.ID)
	return nil
}

func (s *sqlStore) SaveFormFields(ctx context.Context, chatbotID string, fields models.FormDefinition) error {
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM form_fields WHERE chatbot_id = ?`), chatbotID); err != nil {
		return fmt.Errorf("failed to clear form fields: %w", err)
	}
	ins := s.dialect.rebind(`INSERT INTO form_fields (chatbot_id, position, field_name, field_label, validation_type) VALUES (?, ?, ?, ?, ?)`)
	for i, f := range fields {
		if _, err := tx.ExecContext(ctx, ins, chatbotID, i, f.Name, f.Label, f.Validation); err != nil {
			return fmt.Errorf("failed to insert form field %s: %w", f.Name, err)
		}
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("failed to commit form fields: %w", err)
	}
	slog.Debug("Store SaveFormFields succeeded", "chatbot_id", chatbotID, "fields", len(fields))
	return nil
}

func (s *sqlStore) SaveFormMessages(ctx context.Context, chatbotID string, m models.FormMessages) error {
	success, err := encodeJSON(m.Success)
	if err != nil {
		return fmt.Errorf("failed to encode success messages: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO form_messages (chatbot_id, welcome_message, success_messages, cancel_message, invalid_message,
		        already_registered_message, save_failed_message, unavailable_message, not_configured_message)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?)
		 ON CONFLICT (chatbot_id) DO UPDATE SET
		        welcome_message = EXCLUDED.welcome_message,
		        success_messages = EXCLUDED.success_messages,
		        cancel_message = EXCLUDED.cancel_message,
		        invalid_message = EXCLUDED.invalid_message,
		        already_registered_message = EXCLUDED.already_registered_message,
		        save_failed_message = EXCLUDED.save_failed_message,
		        unavailable_message = EXCLUDED.unavailable_message,
		        not_configured_message = EXCLUDED.not_configured_message`,
		chatbotID, nilIfEmpty(m.Welcome), success, nilIfEmpty(m.Cancel), nilIfEmpty(m.Invalid),
		nilIfEmpty(m.AlreadyRegistered), nilIfEmpty(m.SaveFailed), nilIfEmpty(m.Unavailable), nilIfEmpty(m.NotConfigured))
	if err != nil {
		return fmt.Errorf("failed to save form messages: %w", err)
	}
	return nil
}

func (s *sqlStore) SaveFlow(ctx context.Context, f models.FlowCandidate) error {
	if f.ID == "" {
		f.ID = uuid.NewString()
	}
	keywords, err := encodeJSON(f.Keywords)
	if err != nil {
		return fmt.Errorf("failed to encode keywords: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO bot_flows (id, chatbot_id, keywords, response_text, media_url, priority, active, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, TRUE, ?)
		 ON CONFLICT (id) DO UPDATE SET keywords = EXCLUDED.keywords, response_text = EXCLUDED.response_text,
		        media_url = EXCLUDED.media_url, priority = EXCLUDED.priority, active = TRUE`,
		f.ID, f.ChatbotID, keywords, f.Response, nilIfEmpty(f.MediaURL), f.Priority, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("failed to save flow %s: %w", f.ID, err)
	}
	return nil
}

func (s *sqlStore) SaveWelcome(ctx context.Context, w models.Welcome) error {
	if w.ID == "" {
		w.ID = uuid.NewString()
	}
	_, err := s.exec(ctx,
		`INSERT INTO welcomes (id, chatbot_id, welcome_message, media_url, active, created_at)
		 VALUES (?, ?, ?, ?, TRUE, ?)
		 ON CONFLICT (id) DO UPDATE SET welcome_message = EXCLUDED.welcome_message,
		        media_url = EXCLUDED.media_url, active = TRUE`,
		w.ID, w.ChatbotID, w.Message, nilIfEmpty(w.MediaURL), toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("failed to save welcome %s: %w", w.ID, err)
	}
	return nil
}

func (s *sqlStore) SavePrompt(ctx context.Context, p models.Prompt) error {
	if p.ID == "" {
		p.ID = uuid.NewString()
	}
	_, err := s.exec(ctx,
		`INSERT INTO prompts (id, chatbot_id, kind, prompt_text, active, created_at)
		 VALUES (?, ?, ?, ?, TRUE, ?)
		 ON CONFLICT (id) DO UPDATE SET kind = EXCLUDED.kind, prompt_text = EXCLUDED.prompt_text, active = TRUE`,
		p.ID, p.ChatbotID, string(p.Kind), p.Text, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("failed to save prompt %s: %w", p.ID, err)
	}
	return nil
}

// --- clients ---

func (s *sqlStore) SaveClient(ctx context.Context, rec models.ClientRecord) (models.ClientRecord, error) {
	if rec.IdentificationNumber != "" {
		var existing string
		err := s.queryRow(ctx,
			`SELECT id FROM clients WHERE chatbot_id = ? AND identification_number = ?`,
			rec.ChatbotID, rec.IdentificationNumber,
		).Scan(&existing)
		if err == nil {
			return models.ClientRecord{}, models.ErrDuplicateEntry
		}
		if !errors.Is(err, sql.ErrNoRows) {
			return models.ClientRecord{}, fmt.Errorf("failed to check for existing client: %w", err)
		}
	}

	rec.ID = uuid.NewString()
	rec.CreatedAt = s.now()
	fields, err := encodeJSON(rec.Fields)
	if err != nil {
		return models.ClientRecord{}, fmt.Errorf("failed to encode client fields: %w", err)
	}
	_, err = s.exec(ctx,
		`INSERT INTO clients (id, chatbot_id, phone_number, identification_number, full_name, email, fields, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		rec.ID, rec.ChatbotID, rec.Phone, nilIfEmpty(rec.IdentificationNumber), nilIfEmpty(rec.FullName),
		nilIfEmpty(rec.Email), fields, toMillis(rec.CreatedAt))
	if err != nil {
		if s.dialect.isUniqueViol(err) {
			return models.ClientRecord{}, models.ErrDuplicateEntry
		}
		slog.Error("Store SaveClient failed", "error", err, "chatbot_id", rec.ChatbotID, "phone", rec.Phone)
		return models.ClientRecord{}, fmt.Errorf("failed to insert client: %w", err)
	}
	slog.Debug("Store SaveClient succeeded", "client_id", rec.ID, "chatbot_id", rec.ChatbotID)
	return rec, nil
}

func (s *sqlStore) ListClients(ctx context.Context, chatbotID string) ([]models.ClientRecord, error) {
	rows, err := s.query(ctx,
		`SELECT id, chatbot_id, phone_number, identification_number, full_name, email, fields, created_at
		   FROM clients WHERE chatbot_id = ? ORDER BY created_at`, chatbotID)
	if err != nil {
		return nil, fmt.Errorf("failed to query clients: %w", err)
	}
	defer rows.Close()

	var out []models.ClientRecord
	for rows.Next() {
		var rec models.ClientRecord
		var ident, name, email, fields sql.NullString
		var created int64
		if err := rows.Scan(&rec.ID, &rec.ChatbotID, &rec.Phone, &ident, &name, &email, &fields, &created); err != nil {
			return nil, fmt.Errorf("failed to scan client: %w", err)
		}
		if err := decodeJSON(fields, &rec.Fields); err != nil {
			return nil, fmt.Errorf("failed to decode client fields: %w", err)
		}
		rec.IdentificationNumber = ident.String
		rec.FullName = name.String
		rec.Email = email.String
		rec.CreatedAt = fromMillis(created)
		out = append(out, rec)
	}
	return out, rows.Err()
}

// --- chat history ---

func (s *sqlStore) AddChatEntry(ctx context.Context, e models.ChatHistoryEntry) error {
	if e.ID == "" {
		e.ID = uuid.NewString()
	}
	if e.CreatedAt.IsZero() {
		e.CreatedAt = s.now()
	}
	var embedding interface{}
	if len(e.Embedding) > 0 {
		enc, err := encodeJSON(e.Embedding)
		if err != nil {
			return fmt.Errorf("failed to encode embedding: %w", err)
		}
		embedding = enc
	}
	_, err := s.exec(ctx,
		`INSERT INTO chat_history (id, user_id, chatbot_id, phone_number, message, response, embedding, created_at)
		 VALUES (?, ?, ?, ?, ?, ?, ?, ?)`,
		e.ID, nilIfEmpty(e.UserID), e.ChatbotID, e.Phone, e.Message, e.Response, embedding, toMillis(e.CreatedAt))
	if err != nil {
		slog.Error("Store AddChatEntry failed", "error", err, "phone", e.Phone)
		return fmt.Errorf("failed to insert chat history: %w", err)
	}
	return nil
}

func (s *sqlStore) RecentHistory(ctx context.Context, chatbotID, phone string, limit int) ([]models.ChatHistoryEntry, error) {
	if limit <= 0 {
		return nil, nil
	}
	rows, err := s.query(ctx,
		`SELECT id, user_id, chatbot_id, phone_number, message, response, embedding, created_at
		   FROM chat_history WHERE chatbot_id = ? AND phone_number = ?
		  ORDER BY created_at DESC LIMIT ?`, chatbotID, phone, limit)
	if err != nil {
		return nil, fmt.Errorf("failed to query chat history: %w", err)
	}
	defer rows.Close()

	var out []models.ChatHistoryEntry
	for rows.Next() {
		var e models.ChatHistoryEntry
		var userID, embedding sql.NullString
		var created int64
		if err := rows.Scan(&e.ID, &userID, &e.ChatbotID, &e.Phone, &e.Message, &e.Response, &embedding, &created); err != nil {
			return nil, fmt.Errorf("failed to scan chat history: %w", err)
		}
		if err := decodeJSON(embedding, &e.Embedding); err != nil {
			return nil, fmt.Errorf("failed to decode embedding: %w", err)
		}
		e.UserID = userID.String
		e.CreatedAt = fromMillis(created)
		out = append(out, e)
	}
	if err := rows.Err(); err != nil {
		return nil, err
	}
	// newest first from the query; callers want chronological order
	for i, j := 0, len(out)-1; i < j; i, j = i+1, j-1 {
		out[i], out[j] = out[j], out[i]
	}
	return out, nil
}

func (s *sqlStore) DeleteChatHistoryBefore(ctx context.Context, before time.Time) (int64, error) {
	res, err := s.exec(ctx, `DELETE FROM chat_history WHERE created_at < ?`, toMillis(before))
	if err != nil {
		return 0, fmt.Errorf("failed to delete old chat history: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return 0, err
	}
	slog.Debug("Store DeleteChatHistoryBefore succeeded", "before", before, "deleted", n)
	return n, nil
}

// --- conversation state ---

func (s *sqlStore) GetFlowState(ctx context.Context, sender string) (*models.FlowState, error) {
	var fs models.FlowState
	var created, updated int64
	err := s.queryRow(ctx,
		`SELECT sender, owner, data, created_at, updated_at FROM flow_states WHERE sender = ?`, sender,
	).Scan(&fs.Sender, &fs.Owner, &fs.Data, &created, &updated)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, nil
	}
	if err != nil {
		slog.Error("Store GetFlowState failed", "error", err, "sender", sender)
		return nil, err
	}
	fs.CreatedAt = fromMillis(created)
	fs.UpdatedAt = fromMillis(updated)
	return &fs, nil
}

func (s *sqlStore) SaveFlowState(ctx context.Context, fs models.FlowState) error {
	_, err := s.exec(ctx,
		`INSERT INTO flow_states (sender, owner, data, created_at, updated_at) VALUES (?, ?, ?, ?, ?)
		 ON CONFLICT (sender) DO UPDATE SET owner = EXCLUDED.owner, data = EXCLUDED.data, updated_at = EXCLUDED.updated_at`,
		fs.Sender, fs.Owner, fs.Data, toMillis(fs.CreatedAt), toMillis(fs.UpdatedAt))
	if err != nil {
		slog.Error("Store SaveFlowState failed", "error", err, "sender", fs.Sender)
		return err
	}
	return nil
}

func (s *sqlStore) DeleteFlowState(ctx context.Context, sender string) error {
	if _, err := s.exec(ctx, `DELETE FROM flow_states WHERE sender = ?`, sender); err != nil {
		slog.Error("Store DeleteFlowState failed", "error", err, "sender", sender)
		return err
	}
	return nil
}

// --- blacklist ---

func (s *sqlStore) AddToBlacklist(ctx context.Context, phone string) error {
	_, err := s.exec(ctx,
		`INSERT INTO blacklist (phone_number, created_at) VALUES (?, ?) ON CONFLICT (phone_number) DO NOTHING`,
		phone, toMillis(s.now()))
	if err != nil {
		return fmt.Errorf("failed to blacklist %s: %w", phone, err)
	}
	return nil
}

func (s *sqlStore) RemoveFromBlacklist(ctx context.Context, phone string) error {
	if _, err := s.exec(ctx, `DELETE FROM blacklist WHERE phone_number = ?`, phone); err != nil {
		return fmt.Errorf("failed to remove %s from blacklist: %w", phone, err)
	}
	return nil
}

func (s *sqlStore) IsBlacklisted(ctx context.Context, phone string) (bool, error) {
	var p string
	err := s.queryRow(ctx, `SELECT phone_number FROM blacklist WHERE phone_number = ?`, phone).Scan(&p)
	if errors.Is(err, sql.ErrNoRows) {
		return false, nil
	}
	if err != nil {
		return false, fmt.Errorf("blacklist check failed: %w", err)
	}
	return true, nil
}

func (s *sqlStore) ListBlacklist(ctx context.Context) ([]string, error) {
	rows, err := s.query(ctx, `SELECT phone_number FROM blacklist ORDER BY phone_number`)
	if err != nil {
		return nil, fmt.Errorf("failed to query blacklist: %w", err)
	}
	defer rows.Close()
	var out []string
	for rows.Next() {
		var p string
		if err := rows.Scan(&p); err != nil {
			return nil, err
		}
		out = append(out, p)
	}
	return out, rows.Err()
}

// --- receipts ---

func (s *sqlStore) AddReceipt(ctx context.Context, r models.Receipt) error {
	_, err := s.exec(ctx, `INSERT INTO receipts (recipient, status, time) VALUES (?, ?, ?)`, r.To, string(r.Status), r.Time)
	if err != nil {
		slog.Error("Store AddReceipt failed", "error", err, "to", r.To)
		return fmt.Errorf("failed to insert receipt for %s: %w", r.To, err)
	}
	return nil
}

func (s *sqlStore) GetReceipts(ctx context.Context) ([]models.Receipt, error) {
	rows, err := s.query(ctx, `SELECT recipient, status, time FROM receipts ORDER BY time`)
	if err != nil {
		return nil, fmt.Errorf("failed to query receipts: %w", err)
	}
	defer rows.Close()

	var receipts []models.Receipt
	for rows.Next() {
		var r models.Receipt
		var status string
		if err := rows.Scan(&r.To, &status, &r.Time); err != nil {
			return nil, fmt.Errorf("failed to scan receipt row: %w", err)
		}
		r.Status = models.MessageStatus(status)
		receipts = append(receipts, r)
	}
	return receipts, rows.Err()
}

// --- welcome tracking ---

// TryClaim purges expired rows and inserts (messageID, recipient) in one transaction.
// The primary key makes the insert a no-op when an unexpired claim exists.
func (s *sqlStore) TryClaim(ctx context.Context, messageID, recipient string, window time.Duration) (bool, error) {
	now := s.now()
	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return false, fmt.Errorf("failed to begin transaction: %w", err)
	}
	defer tx.Rollback()

	if _, err := tx.ExecContext(ctx, s.dialect.rebind(`DELETE FROM welcome_tracking WHERE expires_at <= ?`), toMillis(now)); err != nil {
		return false, fmt.Errorf("failed to purge welcome tracking: %w", err)
	}
	res, err := tx.ExecContext(ctx, s.dialect.rebind(
		`INSERT INTO welcome_tracking (welcome_id, phone_number, expires_at) VALUES (?, ?, ?)
		 ON CONFLICT (welcome_id, phone_number) DO NOTHING`),
		messageID, recipient, toMillis(now.Add(window)))
	if err != nil {
		return false, fmt.Errorf("failed to record welcome claim: %w", err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return false, err
	}
	if err := tx.Commit(); err != nil {
		return false, fmt.Errorf("failed to commit welcome claim: %w", err)
	}
	return n == 1, nil
}

func (s *sqlStore) PurgeExpired(ctx context.Context) (int, error) {
	res, err := s.exec(ctx, `DELETE FROM welcome_tracking WHERE expires_at <= ?`, toMillis(s.now()))
	if err != nil {
		return 0, fmt.Errorf("failed to purge welcome tracking: %w", err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}
