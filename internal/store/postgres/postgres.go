// Package postgres is the PostgreSQL engine.Store, on database/sql with the pgx
// driver. Pending-reminder uniqueness is enforced by a partial unique index.
package postgres

import (
	"context"
	"database/sql"
	_ "embed"
	"errors"
	"fmt"
	"log/slog"
	"net/url"
	"strconv"
	"strings"
	"time"

	"github.com/google/uuid"
	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib" // registers the "pgx" database/sql driver
	"github.com/tartampluch/go-keepintouch/internal/config"
	"github.com/tartampluch/go-keepintouch/internal/engine"
)

//go:embed schema.sql
var schema string

const (
	driverName = "pgx"

	codeUniqueViolation = "23505"
	pendingIndex        = "reminders_one_pending"

	contactColumns  = "id, name, communication_frequency, last_contacted_at, reminders_paused, birthday, created_at, updated_at"
	reminderColumns = "id, contact_id, type, scheduled_for, status, message, created_at, sent_at, dismissed_at"
)

// querier is what *sql.DB and *sql.Tx have in common.
type querier interface {
	ExecContext(ctx context.Context, query string, args ...any) (sql.Result, error)
	QueryContext(ctx context.Context, query string, args ...any) (*sql.Rows, error)
	QueryRowContext(ctx context.Context, query string, args ...any) *sql.Row
}

// Store implements engine.Store. A Store passed to an Atomically callback is bound
// to the transaction.
type Store struct {
	db *sql.DB
	q  querier
	tx bool
}

var _ engine.Store = (*Store)(nil)

// Open connects to dsn and checks the connection.
func Open(ctx context.Context, dsn string) (*Store, error) {
	db, err := sql.Open(driverName, dsn)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", config.ErrDatabaseOpen, err)
	}
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("%s: %w", config.ErrDatabasePing, err)
	}
	return New(db), nil
}

// New wraps an existing connection pool.
func New(db *sql.DB) *Store {
	return &Store{db: db, q: db}
}

// DSNWithPassword injects a password (typically from the keyring) into a
// postgres:// URL. An empty password leaves the DSN untouched.
func DSNWithPassword(dsn, password string) (string, error) {
	if password == "" {
		return dsn, nil
	}
	u, err := url.Parse(dsn)
	if err != nil {
		return "", fmt.Errorf("%s: %w", config.ErrInvalidURL, err)
	}
	user := ""
	if u.User != nil {
		user = u.User.Username()
	}
	u.User = url.UserPassword(user, password)
	return u.String(), nil
}

func (s *Store) Close() error {
	return s.db.Close()
}

// Migrate creates the tables and indexes if they do not exist.
func (s *Store) Migrate(ctx context.Context) error {
	if _, err := s.q.ExecContext(ctx, schema); err != nil {
		return fmt.Errorf("%s: %w", config.ErrMigrate, err)
	}
	slog.InfoContext(ctx, config.MsgSchemaApplied, config.LogKeyComponent, config.CompStore)
	return nil
}

// Atomically runs fn inside a database transaction.
func (s *Store) Atomically(ctx context.Context, fn func(tx engine.Store) error) error {
	if s.tx {
		return fn(s)
	}

	tx, err := s.db.BeginTx(ctx, nil)
	if err != nil {
		return fmt.Errorf("%s: %w", config.ErrBeginTx, err)
	}
	if err := fn(&Store{db: s.db, q: tx, tx: true}); err != nil {
		_ = tx.Rollback()
		return err
	}
	if err := tx.Commit(); err != nil {
		return fmt.Errorf("%s: %w", config.ErrCommitTx, err)
	}
	return nil
}

// --- Contacts ---

func (s *Store) GetContact(ctx context.Context, id string) (engine.Contact, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+contactColumns+` FROM contacts WHERE id = $1`, id)
	c, err := scanContact(row)
	if err != nil {
		return engine.Contact{}, mapError(err)
	}
	return c, nil
}

func (s *Store) ListContacts(ctx context.Context, filter engine.ContactFilter) ([]engine.Contact, error) {
	var w where
	if len(filter.IDs) > 0 {
		w.in("id", filter.IDs)
	}

	rows, err := s.q.QueryContext(ctx, `SELECT `+contactColumns+` FROM contacts`+w.String()+` ORDER BY id`, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	out := []engine.Contact{}
	for rows.Next() {
		c, err := scanContact(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.ErrScanRow, err)
		}
		out = append(out, c)
	}
	return out, rows.Err()
}

// SaveContact upserts c by id. The original created_at is kept on update.
func (s *Store) SaveContact(ctx context.Context, c engine.Contact) (engine.Contact, error) {
	if c.ID == "" {
		c.ID = uuid.NewString()
	}
	now := time.Now()
	if c.CreatedAt.IsZero() {
		c.CreatedAt = now
	}
	if c.UpdatedAt.IsZero() {
		c.UpdatedAt = now
	}

	row := s.q.QueryRowContext(ctx, `
		INSERT INTO contacts (`+contactColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8)
		ON CONFLICT (id) DO UPDATE SET
			name = EXCLUDED.name,
			communication_frequency = EXCLUDED.communication_frequency,
			last_contacted_at = EXCLUDED.last_contacted_at,
			reminders_paused = EXCLUDED.reminders_paused,
			birthday = EXCLUDED.birthday,
			updated_at = EXCLUDED.updated_at
		RETURNING created_at`,
		c.ID,
		c.Name,
		nullString(string(c.CommunicationFrequency)),
		nullTime(c.LastContactedAt),
		c.RemindersPaused,
		birthdayArg(c.Birthday),
		c.CreatedAt,
		c.UpdatedAt,
	)
	if err := row.Scan(&c.CreatedAt); err != nil {
		return engine.Contact{}, mapError(err)
	}
	return c, nil
}

// --- Reminders ---

func (s *Store) GetReminder(ctx context.Context, id string) (engine.Reminder, error) {
	row := s.q.QueryRowContext(ctx, `SELECT `+reminderColumns+` FROM reminders WHERE id = $1`, id)
	r, err := scanReminder(row)
	if err != nil {
		return engine.Reminder{}, mapError(err)
	}
	return r, nil
}

func (s *Store) ListReminders(ctx context.Context, filter engine.ReminderFilter) ([]engine.Reminder, error) {
	w := reminderWhere(filter)
	query := `SELECT ` + reminderColumns + ` FROM reminders` + w.String() + ` ORDER BY scheduled_for, id`
	if filter.Limit > 0 {
		query += ` LIMIT ` + w.arg(filter.Limit)
	}
	if filter.Offset > 0 {
		query += ` OFFSET ` + w.arg(filter.Offset)
	}

	rows, err := s.q.QueryContext(ctx, query, w.args...)
	if err != nil {
		return nil, mapError(err)
	}
	defer func() { _ = rows.Close() }()

	out := []engine.Reminder{}
	for rows.Next() {
		r, err := scanReminder(rows)
		if err != nil {
			return nil, fmt.Errorf("%s: %w", config.ErrScanRow, err)
		}
		out = append(out, r)
	}
	return out, rows.Err()
}

func (s *Store) CreateReminder(ctx context.Context, r engine.Reminder) (engine.Reminder, error) {
	if r.ID == "" {
		r.ID = uuid.NewString()
	}
	if r.CreatedAt.IsZero() {
		r.CreatedAt = time.Now()
	}

	_, err := s.q.ExecContext(ctx, `
		INSERT INTO reminders (`+reminderColumns+`)
		VALUES ($1, $2, $3, $4, $5, $6, $7, $8, $9)`,
		r.ID,
		r.ContactID,
		string(r.Type),
		r.ScheduledFor,
		string(r.Status),
		r.Message,
		r.CreatedAt,
		nullTime(r.SentAt),
		nullTime(r.DismissedAt),
	)
	if err != nil {
		return engine.Reminder{}, mapError(err)
	}
	return r, nil
}

func (s *Store) UpdateReminderStatus(ctx context.Context, id string, status engine.Status, at time.Time) (engine.Reminder, error) {
	set := `status = $2`
	args := []any{id, string(status)}
	switch status {
	case engine.StatusSent:
		set += `, sent_at = $3`
		args = append(args, at)
	case engine.StatusDismissed:
		set += `, dismissed_at = $3`
		args = append(args, at)
	}

	row := s.q.QueryRowContext(ctx, `UPDATE reminders SET `+set+` WHERE id = $1 RETURNING `+reminderColumns, args...)
	r, err := scanReminder(row)
	if err != nil {
		return engine.Reminder{}, mapError(err)
	}
	return r, nil
}

func (s *Store) DeleteReminder(ctx context.Context, id string) error {
	res, err := s.q.ExecContext(ctx, `DELETE FROM reminders WHERE id = $1`, id)
	if err != nil {
		return mapError(err)
	}
	n, err := res.RowsAffected()
	if err != nil {
		return err
	}
	if n == 0 {
		return fmt.Errorf("reminder %q: %w", id, engine.ErrNotFound)
	}
	return nil
}

// DeleteReminders removes every reminder matching filter. Limit and Offset are ignored.
func (s *Store) DeleteReminders(ctx context.Context, filter engine.ReminderFilter) (int, error) {
	w := reminderWhere(filter)
	res, err := s.q.ExecContext(ctx, `DELETE FROM reminders`+w.String(), w.args...)
	if err != nil {
		return 0, mapError(err)
	}
	n, err := res.RowsAffected()
	return int(n), err
}

// CountReminders counts reminders matching filter. Limit and Offset are ignored.
func (s *Store) CountReminders(ctx context.Context, filter engine.ReminderFilter) (int, error) {
	w := reminderWhere(filter)
	var n int
	if err := s.q.QueryRowContext(ctx, `SELECT count(*) FROM reminders`+w.String(), w.args...).Scan(&n); err != nil {
		return 0, mapError(err)
	}
	return n, nil
}

// --- helpers ---

type scanner interface {
	Scan(dest ...any) error
}

func scanContact(row scanner) (engine.Contact, error) {
	var (
		c        engine.Contact
		freq     sql.NullString
		last     sql.NullTime
		birthday sql.Null[engine.MonthDay]
	)
	if err := row.Scan(&c.ID, &c.Name, &freq, &last, &c.RemindersPaused, &birthday, &c.CreatedAt, &c.UpdatedAt); err != nil {
		if errors.Is(err, engine.ErrInvalidMonthDay) {
			return engine.Contact{}, fmt.Errorf("%s: %w", config.ErrBirthdayParse, err)
		}
		return engine.Contact{}, err
	}
	c.CommunicationFrequency = engine.Frequency(freq.String)
	if last.Valid {
		c.LastContactedAt = &last.Time
	}
	if birthday.Valid {
		c.Birthday = &birthday.V
	}
	return c, nil
}

func scanReminder(row scanner) (engine.Reminder, error) {
	var (
		r                 engine.Reminder
		typ, status       string
		sentAt, dismissed sql.NullTime
	)
	if err := row.Scan(&r.ID, &r.ContactID, &typ, &r.ScheduledFor, &status, &r.Message, &r.CreatedAt, &sentAt, &dismissed); err != nil {
		return engine.Reminder{}, err
	}
	r.Type = engine.ReminderType(typ)
	r.Status = engine.Status(status)
	if sentAt.Valid {
		r.SentAt = &sentAt.Time
	}
	if dismissed.Valid {
		r.DismissedAt = &dismissed.Time
	}
	return r, nil
}

// mapError translates driver errors into engine sentinels.
func mapError(err error) error {
	if errors.Is(err, sql.ErrNoRows) {
		return fmt.Errorf("%w: %w", engine.ErrNotFound, err)
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) && pgErr.Code == codeUniqueViolation && pgErr.ConstraintName == pendingIndex {
		return fmt.Errorf("%w: %w", engine.ErrDuplicatePending, err)
	}
	return err
}

// where accumulates AND-ed conditions with numbered placeholders.
type where struct {
	conds []string
	args  []any
}

func (w *where) arg(v any) string {
	w.args = append(w.args, v)
	return "$" + strconv.Itoa(len(w.args))
}

func (w *where) eq(column string, v any) {
	w.conds = append(w.conds, column+" = "+w.arg(v))
}

func (w *where) in(column string, values []string) {
	ph := make([]string, len(values))
	for i, v := range values {
		ph[i] = w.arg(v)
	}
	w.conds = append(w.conds, column+" IN ("+strings.Join(ph, ", ")+")")
}

func (w *where) String() string {
	if len(w.conds) == 0 {
		return ""
	}
	return " WHERE " + strings.Join(w.conds, " AND ")
}

func reminderWhere(f engine.ReminderFilter) *where {
	w := &where{}
	if f.ContactID != "" {
		w.eq("contact_id", f.ContactID)
	}
	if len(f.Types) > 0 {
		types := make([]string, len(f.Types))
		for i, t := range f.Types {
			types[i] = string(t)
		}
		w.in("type", types)
	}
	if len(f.Statuses) > 0 {
		statuses := make([]string, len(f.Statuses))
		for i, st := range f.Statuses {
			statuses[i] = string(st)
		}
		w.in("status", statuses)
	}
	if f.From != nil {
		w.conds = append(w.conds, "scheduled_for >= "+w.arg(*f.From))
	}
	if f.To != nil {
		w.conds = append(w.conds, "scheduled_for <= "+w.arg(*f.To))
	}
	return w
}

func nullString(s string) sql.NullString {
	return sql.NullString{String: s, Valid: s != ""}
}

func nullTime(t *time.Time) sql.NullTime {
	if t == nil {
		return sql.NullTime{}
	}
	return sql.NullTime{Time: *t, Valid: true}
}

func birthdayArg(md *engine.MonthDay) sql.Null[engine.MonthDay] {
	if md == nil {
		return sql.Null[engine.MonthDay]{}
	}
	return sql.Null[engine.MonthDay]{V: *md, Valid: true}
}
