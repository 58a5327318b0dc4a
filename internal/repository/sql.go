package repository

import (
	"context"
	"database/sql"
	"encoding/json"
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/jackc/pgx/v5/pgconn"
	_ "github.com/jackc/pgx/v5/stdlib"
	"github.com/mattn/go-sqlite3"

	"github.com/hyperjump/tagihan/internal/config"
	"github.com/hyperjump/tagihan/internal/models"
)

// SQLRepository implements Repository over database/sql with SQLite or PostgreSQL.
type SQLRepository struct {
	db     *sql.DB
	driver string
}

// Open connects to the database described by cfg and creates the schema. For SQLite the parent
// directory is created and WAL is enabled.
func Open(cfg config.DatabaseConfig) (*SQLRepository, error) {
	switch cfg.Driver {
	case config.DriverSQLite:
		if dir := filepath.Dir(cfg.Path); dir != "." {
			if err := os.MkdirAll(dir, 0755); err != nil {
				return nil, fmt.Errorf("failed to create database directory: %w", err)
			}
		}
	case config.DriverPostgres:
	default:
		return nil, fmt.Errorf("unknown database driver %q", cfg.Driver)
	}

	db, err := sql.Open(cfg.Driver, cfg.DSN())
	if err != nil {
		return nil, fmt.Errorf("failed to open database: %w", err)
	}
	if cfg.MaxOpenConns > 0 {
		db.SetMaxOpenConns(cfg.MaxOpenConns)
		db.SetMaxIdleConns(cfg.MaxOpenConns / 2)
	}
	db.SetConnMaxLifetime(30 * time.Minute)

	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := db.PingContext(ctx); err != nil {
		_ = db.Close()
		return nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	repo, err := New(db, cfg.Driver)
	if err != nil {
		_ = db.Close()
		return nil, err
	}
	return repo, nil
}

// New wraps an open database and creates the schema when missing.
func New(db *sql.DB, driver string) (*SQLRepository, error) {
	r := &SQLRepository{db: db, driver: driver}
	if driver == config.DriverSQLite {
		if _, err := db.Exec("PRAGMA journal_mode=WAL"); err != nil {
			return nil, fmt.Errorf("failed to enable WAL: %w", err)
		}
	}
	if err := r.initSchema(); err != nil {
		return nil, fmt.Errorf("failed to initialize schema: %w", err)
	}
	return r, nil
}

func (r *SQLRepository) initSchema() error {
	idColumn, realType, timeType := "INTEGER PRIMARY KEY AUTOINCREMENT", "REAL", "TIMESTAMP"
	if r.driver == config.DriverPostgres {
		idColumn, realType, timeType = "BIGSERIAL PRIMARY KEY", "DOUBLE PRECISION", "TIMESTAMPTZ"
	}
	schema := fmt.Sprintf(`
	CREATE TABLE IF NOT EXISTS invoices (
		id %[1]s,
		document_id TEXT NOT NULL UNIQUE,
		invoice_number TEXT,
		amount %[2]s,
		due_date TEXT,
		payment_status TEXT,
		discount_rate %[2]s,
		late_fee %[2]s,
		grace_period INTEGER,
		vendor_name TEXT,
		buyer_name TEXT,
		suggestions TEXT NOT NULL DEFAULT '[]',
		email_body TEXT NOT NULL DEFAULT '{}',
		user_type TEXT NOT NULL,
		source_file TEXT,
		created_at %[3]s NOT NULL
	)`, idColumn, realType, timeType)
	if _, err := r.db.Exec(schema); err != nil {
		return err
	}
	_, err := r.db.Exec(`CREATE INDEX IF NOT EXISTS idx_invoices_created_at ON invoices(created_at)`)
	return err
}

// rebind rewrites ? placeholders as $1, $2, ... for PostgreSQL.
func (r *SQLRepository) rebind(query string) string {
	if r.driver != config.DriverPostgres {
		return query
	}
	var b strings.Builder
	n := 0
	for _, c := range query {
		if c == '?' {
			n++
			b.WriteByte('$')
			b.WriteString(strconv.Itoa(n))
			continue
		}
		b.WriteRune(c)
	}
	return b.String()
}

const invoiceColumns = `document_id, invoice_number, amount, due_date, payment_status, discount_rate,
	late_fee, grace_period, vendor_name, buyer_name, suggestions, email_body, user_type, source_file, created_at`

// Create inserts inv. CreatedAt is set when zero. A second invoice for the same document id
// returns ErrDuplicate.
func (r *SQLRepository) Create(ctx context.Context, inv *models.Invoice) error {
	suggestions := inv.Suggestions
	if suggestions == nil {
		suggestions = []string{}
	}
	suggestionsJSON, err := json.Marshal(suggestions)
	if err != nil {
		return fmt.Errorf("failed to marshal suggestions: %w", err)
	}
	emailBody := inv.EmailBody
	if emailBody == nil {
		emailBody = &models.EmailBody{}
	}
	emailJSON, err := json.Marshal(emailBody)
	if err != nil {
		return fmt.Errorf("failed to marshal email body: %w", err)
	}
	if inv.CreatedAt.IsZero() {
		inv.CreatedAt = time.Now()
	}
	inv.CreatedAt = inv.CreatedAt.UTC()

	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return err
	}
	defer tx.Rollback()

	_, err = tx.ExecContext(ctx, r.rebind(`INSERT INTO invoices (`+invoiceColumns+`)
		VALUES (?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?, ?)`),
		inv.DocumentID, inv.InvoiceNumber, inv.Amount, inv.DueDate, inv.PaymentStatus, inv.DiscountRate,
		inv.LateFee, inv.GracePeriod, inv.VendorName, inv.BuyerName, string(suggestionsJSON), string(emailJSON),
		string(inv.UserType), inv.SourceFile, inv.CreatedAt,
	)
	if err != nil {
		if isUniqueViolation(err) {
			return fmt.Errorf("%w: %s", ErrDuplicate, inv.DocumentID)
		}
		return err
	}
	return tx.Commit()
}

// Get returns the invoice stored for docID.
func (r *SQLRepository) Get(ctx context.Context, docID string) (*models.Invoice, error) {
	row := r.db.QueryRowContext(ctx, r.rebind(`SELECT `+invoiceColumns+` FROM invoices WHERE document_id = ?`), docID)
	inv, err := scanInvoice(row)
	if errors.Is(err, sql.ErrNoRows) {
		return nil, fmt.Errorf("%w: %s", ErrNotFound, docID)
	}
	if err != nil {
		return nil, err
	}
	return inv, nil
}

// List returns invoices newest first.
func (r *SQLRepository) List(ctx context.Context, offset, limit int) ([]*models.Invoice, error) {
	rows, err := r.db.QueryContext(ctx,
		r.rebind(`SELECT `+invoiceColumns+` FROM invoices ORDER BY created_at DESC, id DESC LIMIT ? OFFSET ?`),
		limit, offset,
	)
	if err != nil {
		return nil, err
	}
	defer rows.Close()

	invoices := []*models.Invoice{}
	for rows.Next() {
		inv, err := scanInvoice(rows)
		if err != nil {
			return nil, err
		}
		invoices = append(invoices, inv)
	}
	return invoices, rows.Err()
}

// Delete removes the invoice for docID. Deleting a missing invoice is not an error.
func (r *SQLRepository) Delete(ctx context.Context, docID string) error {
	_, err := r.db.ExecContext(ctx, r.rebind(`DELETE FROM invoices WHERE document_id = ?`), docID)
	return err
}

// DeleteOlderThan removes invoices created before cutoff and returns their document ids.
func (r *SQLRepository) DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error) {
	cutoff = cutoff.UTC()
	tx, err := r.db.BeginTx(ctx, nil)
	if err != nil {
		return nil, err
	}
	defer tx.Rollback()

	rows, err := tx.QueryContext(ctx, r.rebind(`SELECT document_id FROM invoices WHERE created_at < ? ORDER BY created_at`), cutoff)
	if err != nil {
		return nil, err
	}
	var ids []string
	for rows.Next() {
		var id string
		if err := rows.Scan(&id); err != nil {
			rows.Close()
			return nil, err
		}
		ids = append(ids, id)
	}
	rows.Close()
	if err := rows.Err(); err != nil {
		return nil, err
	}
	if len(ids) == 0 {
		return nil, nil
	}

	if _, err := tx.ExecContext(ctx, r.rebind(`DELETE FROM invoices WHERE created_at < ?`), cutoff); err != nil {
		return nil, err
	}
	if err := tx.Commit(); err != nil {
		return nil, err
	}
	return ids, nil
}

// Count returns the number of stored invoices.
func (r *SQLRepository) Count(ctx context.Context) (int64, error) {
	var count int64
	err := r.db.QueryRowContext(ctx, `SELECT COUNT(*) FROM invoices`).Scan(&count)
	return count, err
}

// Close closes the database connection.
func (r *SQLRepository) Close() error {
	return r.db.Close()
}

type scanner interface {
	Scan(dest ...any) error
}

func scanInvoice(s scanner) (*models.Invoice, error) {
	var (
		inv             models.Invoice
		suggestionsJSON string
		emailJSON       string
		userType        string
		sourceFile      sql.NullString
	)
	err := s.Scan(&inv.DocumentID, &inv.InvoiceNumber, &inv.Amount, &inv.DueDate, &inv.PaymentStatus,
		&inv.DiscountRate, &inv.LateFee, &inv.GracePeriod, &inv.VendorName, &inv.BuyerName,
		&suggestionsJSON, &emailJSON, &userType, &sourceFile, &inv.CreatedAt)
	if err != nil {
		return nil, err
	}
	inv.UserType = models.Role(userType)
	inv.SourceFile = sourceFile.String
	inv.Suggestions = []string{}
	if err := json.Unmarshal([]byte(suggestionsJSON), &inv.Suggestions); err != nil {
		return nil, fmt.Errorf("failed to unmarshal suggestions: %w", err)
	}
	if inv.Suggestions == nil {
		inv.Suggestions = []string{}
	}
	inv.EmailBody = &models.EmailBody{}
	if err := json.Unmarshal([]byte(emailJSON), inv.EmailBody); err != nil {
		return nil, fmt.Errorf("failed to unmarshal email body: %w", err)
	}
	return &inv, nil
}

func isUniqueViolation(err error) bool {
	var sqliteErr sqlite3.Error
	if errors.As(err, &sqliteErr) {
		return sqliteErr.ExtendedCode == sqlite3.ErrConstraintUnique
	}
	var pgErr *pgconn.PgError
	if errors.As(err, &pgErr) {
		return pgErr.Code == "23505"
	}
	return false
}
