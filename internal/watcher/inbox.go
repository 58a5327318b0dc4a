package watcher

import (
	"context"
	"fmt"
	"os"
	"path/filepath"
	"time"

	"go.uber.org/zap"

	"github.com/hyperjump/tagihan/internal/invoice"
	"github.com/hyperjump/tagihan/internal/models"
	"github.com/hyperjump/tagihan/pkg/utils"
)

// Processor runs an upload through the invoice pipeline. *invoice.Service implements it.
type Processor interface {
	ProcessInvoice(ctx context.Context, upload invoice.Upload, role string) (*models.Invoice, error)
}

// Inbox processes files dropped into the watched directory as uploads for a fixed role.
// Processed files are moved to the archive directory, or removed when none is configured.
// Files that fail are moved to <archive>/failed so a restart does not pick them up again; without
// an archive directory they are left in place.
type Inbox struct {
	processor  Processor
	role       string
	archiveDir string
	now        func() time.Time
	logger     *zap.Logger
}

// NewInbox creates an inbox handler.
func NewInbox(p Processor, role, archiveDir string, logger *zap.Logger) *Inbox {
	return &Inbox{processor: p, role: role, archiveDir: archiveDir, now: time.Now, logger: utils.OrNop(logger)}
}

// Handle processes the file at path and archives it.
func (in *Inbox) Handle(ctx context.Context, path string) (*models.Invoice, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	inv, perr := in.processor.ProcessInvoice(ctx, invoice.Upload{Filename: filepath.Base(path), Body: f}, in.role)
	_ = f.Close()

	if perr != nil {
		in.logger.Error("inbox file failed", zap.String("path", path), zap.Error(perr))
		if in.archiveDir != "" {
			if err := in.move(path, filepath.Join(in.archiveDir, "failed")); err != nil {
				in.logger.Warn("failed to move rejected file", zap.String("path", path), zap.Error(err))
			}
		}
		return nil, perr
	}

	in.logger.Info("inbox file processed", zap.String("path", path), zap.String("doc_id", inv.DocumentID))
	if in.archiveDir == "" {
		err = os.Remove(path)
	} else {
		err = in.move(path, in.archiveDir)
	}
	if err != nil && !os.IsNotExist(err) {
		in.logger.Warn("failed to archive inbox file", zap.String("path", path), zap.Error(err))
	}
	return inv, nil
}

// move renames path into dir, prefixing a timestamp when the name is taken.
func (in *Inbox) move(path, dir string) error {
	if err := os.MkdirAll(dir, 0755); err != nil {
		return err
	}
	dest := filepath.Join(dir, filepath.Base(path))
	if _, err := os.Stat(dest); err == nil {
		dest = filepath.Join(dir, fmt.Sprintf("%s_%s", in.now().UTC().Format("20060102T150405"), filepath.Base(path)))
	}
	return os.Rename(path, dest)
}
