package store

import (
	"context"
	"database/sql"
	"embed"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
	"time"

	_ "modernc.org/sqlite"
)

//go:embed migrations.sql
var migrationsFS embed.FS

type sqliteStore struct {
	db *sql.DB
}

func openSQLite(cfg Config) (Store, error) {
	if strings.TrimSpace(cfg.Path) == "" {
		return nil, errors.New("sqlite path is required")
	}
	if err := os.MkdirAll(filepath.Dir(cfg.Path), 0o755); err != nil {
		return nil, err
	}

	db, err := sql.Open("sqlite", cfg.Path)
	if err != nil {
		return nil, err
	}
	// SQLite prefers a small number of concurrent writers.
	db.SetMaxOpenConns(1)
	db.SetMaxIdleConns(1)

	if cfg.BusyTimeout > 0 {
		_, _ = db.Exec(fmt.Sprintf("PRAGMA busy_timeout = %d", cfg.BusyTimeout.Milliseconds()))
	}
	_, _ = db.Exec("PRAGMA journal_mode = WAL")
	_, _ = db.Exec("PRAGMA synchronous = NORMAL")

	st := &sqliteStore{db: db}
	if err := st.migrate(context.Background()); err != nil {
		_ = db.Close()
		return nil, err
	}
	return st, nil
}

func (s *sqliteStore) migrate(ctx context.Context) error {
	b, err := migrationsFS.ReadFile("migrations.sql")
	if err != nil {
		return err
	}
	_, err = s.db.ExecContext(ctx, string(b))
	return err
}

func (s *sqliteStore) Close() error {
	if s == nil || s.db == nil {
		return nil
	}
	return s.db.Close()
}

// Fixed-width UTC layout: lexicographic order of stored strings matches
// chronological order, which the MAX(ts) clamp and ts comparisons rely on.
const timeLayout = "2006-01-02T15:04:05.000000000Z"

func fmtTime(t time.Time) string {
	if t.IsZero() {
		return ""
	}
	return t.UTC().Format(timeLayout)
}

func parseTime(s string) time.Time {
	if s == "" {
		return time.Time{}
	}
	t, err := time.Parse(timeLayout, s)
	if err != nil {
		return time.Time{}
	}
	return t
}

func (s *sqliteStore) CreateContact(ctx context.Context, c *Contact) error {
	if c.CreatedAt.IsZero() {
		c.CreatedAt = time.Now().UTC()
	}
	if c.Tag == "" {
		c.Tag = TagColdLead
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO contacts(name, address, city, tag, score, last_interaction, created_at)
		 VALUES(?,?,?,?,?,?,?)`,
		c.Name, c.Address, c.City, string(c.Tag), c.Score, fmtTime(c.LastInteraction), fmtTime(c.CreatedAt))
	if err != nil {
		return err
	}
	c.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) scanContact(row interface{ Scan(...any) error }) (*Contact, error) {
	var c Contact
	var tag, lastInteraction, createdAt string
	err := row.Scan(&c.ID, &c.Name, &c.Address, &c.City, &tag, &c.Score, &lastInteraction, &createdAt)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	c.Tag = Tag(tag)
	c.LastInteraction = parseTime(lastInteraction)
	c.CreatedAt = parseTime(createdAt)
	return &c, nil
}

const contactCols = `id, name, address, city, tag, score, last_interaction, created_at`

func (s *sqliteStore) ContactByID(ctx context.Context, id int64) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contactCols+` FROM contacts WHERE id = ?`, id)
	return s.scanContact(row)
}

func (s *sqliteStore) ContactByAddress(ctx context.Context, address string) (*Contact, error) {
	row := s.db.QueryRowContext(ctx, `SELECT `+contactCols+` FROM contacts WHERE address = ? COLLATE NOCASE`, address)
	return s.scanContact(row)
}

func (s *sqliteStore) UpdateContact(ctx context.Context, c *Contact) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE contacts SET name=?, address=?, city=?, tag=?, score=?, last_interaction=? WHERE id=?`,
		c.Name, c.Address, c.City, string(c.Tag), c.Score, fmtTime(c.LastInteraction), c.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) ListContacts(ctx context.Context, f ContactFilter) ([]*Contact, error) {
	q := `SELECT ` + contactCols + ` FROM contacts`
	var conds []string
	var args []any
	if len(f.Tags) > 0 {
		ph := make([]string, len(f.Tags))
		for i, t := range f.Tags {
			ph[i] = "?"
			args = append(args, string(t))
		}
		conds = append(conds, "tag IN ("+strings.Join(ph, ",")+")")
	}
	if !f.LastInteractionBefore.IsZero() {
		conds = append(conds, "last_interaction < ?")
		args = append(args, fmtTime(f.LastInteractionBefore))
	}
	if len(conds) > 0 {
		q += " WHERE " + strings.Join(conds, " AND ")
	}
	q += " ORDER BY id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Contact
	for rows.Next() {
		c, err := s.scanContact(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

func (s *sqliteStore) AppendMessage(ctx context.Context, m *Message) error {
	if m.Timestamp.IsZero() {
		m.Timestamp = time.Now().UTC()
	}
	if m.Kind == "" {
		m.Kind = "text"
	}
	// Clamp so per-contact history never goes backwards.
	var last string
	err := s.db.QueryRowContext(ctx,
		`SELECT COALESCE(MAX(ts), '') FROM messages WHERE contact_id = ?`, m.ContactID).Scan(&last)
	if err != nil {
		return err
	}
	if lt := parseTime(last); m.Timestamp.Before(lt) {
		m.Timestamp = lt
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO messages(contact_id, channel_id, sender, body, kind, status, provider_ref, ts)
		 VALUES(?,?,?,?,?,?,?,?)`,
		m.ContactID, m.ChannelID, string(m.Sender), m.Body, m.Kind, string(m.Status), m.ProviderRef, fmtTime(m.Timestamp))
	if err != nil {
		return err
	}
	m.ID, err = res.LastInsertId()
	return err
}

const messageCols = `id, contact_id, channel_id, sender, body, kind, status, provider_ref, ts`

func scanMessage(row interface{ Scan(...any) error }) (*Message, error) {
	var m Message
	var sender, status, ts string
	err := row.Scan(&m.ID, &m.ContactID, &m.ChannelID, &sender, &m.Body, &m.Kind, &status, &m.ProviderRef, &ts)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, ErrNotFound
	}
	if err != nil {
		return nil, err
	}
	m.Sender = Sender(sender)
	m.Status = MessageStatus(status)
	m.Timestamp = parseTime(ts)
	return &m, nil
}

func (s *sqliteStore) Messages(ctx context.Context, contactID int64, f MessageFilter) ([]*Message, error) {
	q := `SELECT ` + messageCols + ` FROM messages WHERE contact_id = ?`
	args := []any{contactID}
	if !f.NotBefore.IsZero() {
		q += " AND ts >= ?"
		args = append(args, fmtTime(f.NotBefore))
	}
	if f.Status != "" {
		q += " AND status = ?"
		args = append(args, string(f.Status))
	}
	if len(f.Senders) > 0 {
		ph := make([]string, len(f.Senders))
		for i, sd := range f.Senders {
			ph[i] = "?"
			args = append(args, string(sd))
		}
		q += " AND sender IN (" + strings.Join(ph, ",") + ")"
	}
	q += " ORDER BY ts, id"
	if f.Limit > 0 {
		q += fmt.Sprintf(" LIMIT %d", f.Limit)
	}
	return s.queryMessages(ctx, q, args...)
}

func (s *sqliteStore) InboundSince(ctx context.Context, since time.Time) ([]*Message, error) {
	return s.queryMessages(ctx,
		`SELECT `+messageCols+` FROM messages WHERE status = ? AND sender = ? AND ts >= ? ORDER BY ts, id`,
		string(MessageReceived), string(SenderContact), fmtTime(since))
}

func (s *sqliteStore) queryMessages(ctx context.Context, q string, args ...any) ([]*Message, error) {
	rows, err := s.db.QueryContext(ctx, q, args...)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Message
	for rows.Next() {
		m, err := scanMessage(rows)
		if err != nil {
			return nil, err
		}
		out = append(out, m)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateMessageStatus(ctx context.Context, providerRef string, status MessageStatus) error {
	if providerRef == "" || status.rank() == 0 {
		return nil
	}
	var cur string
	err := s.db.QueryRowContext(ctx,
		`SELECT status FROM messages WHERE provider_ref = ?`, providerRef).Scan(&cur)
	if errors.Is(err, sql.ErrNoRows) {
		return ErrNotFound
	}
	if err != nil {
		return err
	}
	if status.rank() <= MessageStatus(cur).rank() {
		return nil
	}
	_, err = s.db.ExecContext(ctx,
		`UPDATE messages SET status = ? WHERE provider_ref = ?`, string(status), providerRef)
	return err
}

func (s *sqliteStore) CountMessages(ctx context.Context, since, until time.Time, sender Sender) (int, error) {
	q := `SELECT COUNT(*) FROM messages WHERE ts >= ?`
	args := []any{fmtTime(since)}
	if !until.IsZero() {
		q += " AND ts < ?"
		args = append(args, fmtTime(until))
	}
	if sender != "" {
		q += " AND sender = ?"
		args = append(args, string(sender))
	}
	var n int
	err := s.db.QueryRowContext(ctx, q, args...).Scan(&n)
	return n, err
}

func (s *sqliteStore) CreateChannel(ctx context.Context, ch *Channel) error {
	if ch.CreatedAt.IsZero() {
		ch.CreatedAt = time.Now().UTC()
	}
	if ch.Status == "" {
		ch.Status = ChannelStandby
	}
	res, err := s.db.ExecContext(ctx,
		`INSERT INTO channels(address, kind, status, sent_count, last_active, created_at)
		 VALUES(?,?,?,?,?,?)`,
		ch.Address, string(ch.Kind), string(ch.Status), ch.SentCount, fmtTime(ch.LastActive), fmtTime(ch.CreatedAt))
	if err != nil {
		return err
	}
	ch.ID, err = res.LastInsertId()
	return err
}

func (s *sqliteStore) ListChannels(ctx context.Context) ([]*Channel, error) {
	rows, err := s.db.QueryContext(ctx,
		`SELECT id, address, kind, status, sent_count, last_active, created_at FROM channels ORDER BY id`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	var out []*Channel
	for rows.Next() {
		var ch Channel
		var kind, status, lastActive, createdAt string
		if err := rows.Scan(&ch.ID, &ch.Address, &kind, &status, &ch.SentCount, &lastActive, &createdAt); err != nil {
			return nil, err
		}
		ch.Kind = ChannelKind(kind)
		ch.Status = ChannelStatus(status)
		ch.LastActive = parseTime(lastActive)
		ch.CreatedAt = parseTime(createdAt)
		out = append(out, &ch)
	}
	return out, rows.Err()
}

func (s *sqliteStore) UpdateChannel(ctx context.Context, ch *Channel) error {
	res, err := s.db.ExecContext(ctx,
		`UPDATE channels SET address=?, kind=?, status=?, sent_count=?, last_active=? WHERE id=?`,
		ch.Address, string(ch.Kind), string(ch.Status), ch.SentCount, fmtTime(ch.LastActive), ch.ID)
	if err != nil {
		return err
	}
	n, _ := res.RowsAffected()
	if n == 0 {
		return ErrNotFound
	}
	return nil
}

func (s *sqliteStore) LeadDistribution(ctx context.Context) (map[Tag]int, error) {
	rows, err := s.db.QueryContext(ctx, `SELECT tag, COUNT(*) FROM contacts GROUP BY tag`)
	if err != nil {
		return nil, err
	}
	defer rows.Close()
	out := map[Tag]int{}
	for rows.Next() {
		var tag string
		var n int
		if err := rows.Scan(&tag, &n); err != nil {
			return nil, err
		}
		out[Tag(tag)] = n
	}
	return out, rows.Err()
}
