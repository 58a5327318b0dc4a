// Package repository persists extracted invoices in a relational database.
package repository

import (
	"context"
	"errors"
	"time"

	"github.com/hyperjump/tagihan/internal/models"
)

var (
	// ErrNotFound is returned when no invoice exists for a document id.
	ErrNotFound = errors.New("invoice not found")
	// ErrDuplicate is returned when an invoice for the document id is already stored.
	ErrDuplicate = errors.New("invoice already exists")
)

// Repository defines invoice persistence operations. Invoices are keyed by document id.
type Repository interface {
	Create(ctx context.Context, inv *models.Invoice) error
	Get(ctx context.Context, docID string) (*models.Invoice, error)
	List(ctx context.Context, offset, limit int) ([]*models.Invoice, error)
	Delete(ctx context.Context, docID string) error
	// DeleteOlderThan removes invoices created before cutoff and returns their document ids.
	DeleteOlderThan(ctx context.Context, cutoff time.Time) ([]string, error)
	Count(ctx context.Context) (int64, error)
	Close() error
}

// Lister pages through stored invoices.
type Lister interface {
	List(ctx context.Context, offset, limit int) ([]*models.Invoice, error)
}

const listPageSize = 500

// ListAll returns every invoice from l, newest first.
func ListAll(ctx context.Context, l Lister) ([]*models.Invoice, error) {
	var all []*models.Invoice
	for offset := 0; ; offset += listPageSize {
		page, err := l.List(ctx, offset, listPageSize)
		if err != nil {
			return nil, err
		}
		all = append(all, page...)
		if len(page) < listPageSize {
			return all, nil
		}
	}
}
