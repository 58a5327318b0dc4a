package invoice_test

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"go.uber.org/mock/gomock"

	"github.com/hyperjump/tagihan/internal/indexer"
	"github.com/hyperjump/tagihan/internal/invoice"
	"github.com/hyperjump/tagihan/internal/models"
	"github.com/hyperjump/tagihan/internal/parser"
	"github.com/hyperjump/tagihan/internal/staging"
)

type deps struct {
	stager *invoice.MockStager
	parser *invoice.MockParser
	index  *invoice.MockIndexBuilder
	engine *invoice.MockQueryEngine
	repo   *invoice.MockRepository
}

const stagedPath = "/tmp/uploads/abcd1234_invoice.pdf"

var today = time.Date(2024, 6, 1, 9, 30, 0, 0, time.UTC)

func newService(ctrl *gomock.Controller) (*invoice.Service, deps) {
	d := deps{
		stager: invoice.NewMockStager(ctrl),
		parser: invoice.NewMockParser(ctrl),
		index:  invoice.NewMockIndexBuilder(ctrl),
		engine: invoice.NewMockQueryEngine(ctrl),
		repo:   invoice.NewMockRepository(ctrl),
	}
	svc := invoice.NewService(d.stager, d.parser, d.index, d.engine, d.repo,
		invoice.WithClock(func() time.Time { return today }))
	return svc, d
}

func segments() []*models.Segment {
	return []*models.Segment{
		{ID: "seg-1", Page: 1, Text: "Invoice INV-1 Amount due 100.00"},
		{ID: "seg-2", Page: 2, Text: "Terms: net 30"},
	}
}

const fencedAnswer = "```json\n" + `{"invoice_number": "INV-1", "amount": 100, "payment_status": "pending", "suggestions": ["Monitor the due date"]}` + "\n```"

func TestService_ProcessInvoice(t *testing.T) {
	tests := []struct {
		name      string
		role      string
		setupMock func(d deps)
		wantKind  error
		wantStage invoice.Stage
	}{
		{
			name:      "invalid role touches nothing",
			role:      "admin",
			setupMock: func(d deps) {},
			wantKind:  invoice.ErrInvalidUserType,
			wantStage: invoice.StageValidate,
		},
		{
			name:      "role is case sensitive",
			role:      "Vendor",
			setupMock: func(d deps) {},
			wantKind:  invoice.ErrInvalidUserType,
			wantStage: invoice.StageValidate,
		},
		{
			name: "staging failure",
			role: "vendor",
			setupMock: func(d deps) {
				d.stager.EXPECT().Stage(gomock.Any(), "invoice.pdf").Return("", errors.New("disk full"))
			},
			wantKind:  invoice.ErrPersistence,
			wantStage: invoice.StageStage,
		},
		{
			name: "unusable filename",
			role: "vendor",
			setupMock: func(d deps) {
				d.stager.EXPECT().Stage(gomock.Any(), "invoice.pdf").Return("", fmt.Errorf("%w: %q", staging.ErrInvalidFilename, ".."))
			},
			wantKind:  invoice.ErrEmptyOrUnsupportedDocument,
			wantStage: invoice.StageStage,
		},
		{
			name: "empty document",
			role: "vendor",
			setupMock: func(d deps) {
				d.stager.EXPECT().Stage(gomock.Any(), "invoice.pdf").Return(stagedPath, nil)
				d.parser.EXPECT().Parse(gomock.Any(), stagedPath).Return(nil, parser.ErrEmpty)
				d.stager.EXPECT().Remove(stagedPath).Return(nil)
			},
			wantKind:  invoice.ErrEmptyOrUnsupportedDocument,
			wantStage: invoice.StageParse,
		},
		{
			name: "parser returns no segments",
			role: "buyer",
			setupMock: func(d deps) {
				d.stager.EXPECT().Stage(gomock.Any(), "invoice.pdf").Return(stagedPath, nil)
				d.parser.EXPECT().Parse(gomock.Any(), stagedPath).Return([]*models.Segment{}, nil)
				d.stager.EXPECT().Remove(stagedPath).Return(nil)
			},
			wantKind:  invoice.ErrEmptyOrUnsupportedDocument,
			wantStage: invoice.StageParse,
		},
		{
			name: "transcription unavailable",
			role: "buyer",
			setupMock: func(d deps) {
				d.stager.EXPECT().Stage(gomock.Any(), "invoice.pdf").Return(stagedPath, nil)
				d.parser.EXPECT().Parse(gomock.Any(), stagedPath).
					Return(nil, fmt.Errorf("%w: quota exceeded", parser.ErrTranscription))
				d.stager.EXPECT().Remove(stagedPath).Return(nil)
			},
			wantKind:  invoice.ErrExtractionUnavailable,
			wantStage: invoice.StageParse,
		},
		{
			name: "index already exists",
			role: "vendor",
			setupMock: func(d deps) {
				d.stager.EXPECT().Stage(gomock.Any(), "invoice.pdf").Return(stagedPath, nil)
				d.parser.EXPECT().Parse(gomock.Any(), stagedPath).Return(segments(), nil)
				d.index.EXPECT().Build(gomock.Any(), gomock.Any(), "invoice.pdf").Return("", indexer.ErrExists)
				d.stager.EXPECT().Remove(stagedPath).Return(nil)
			},
			wantKind:  invoice.ErrPersistence,
			wantStage: invoice.StageIndex,
		},
		{
			name: "embedding failure",
			role: "vendor",
			setupMock: func(d deps) {
				d.stager.EXPECT().Stage(gomock.Any(), "invoice.pdf").Return(stagedPath, nil)
				d.parser.EXPECT().Parse(gomock.Any(), stagedPath).Return(segments(), nil)
				d.index.EXPECT().Build(gomock.Any(), gomock.Any(), gomock.Any()).Return("", errors.New("embed failed"))
				d.stager.EXPECT().Remove(stagedPath).Return(nil)
			},
			wantKind:  invoice.ErrExtractionUnavailable,
			wantStage: invoice.StageIndex,
		},
		{
			name: "model unavailable discards the index",
			role: "vendor",
			setupMock: func(d deps) {
				d.stager.EXPECT().Stage(gomock.Any(), "invoice.pdf").Return(stagedPath, nil)
				d.parser.EXPECT().Parse(gomock.Any(), stagedPath).Return(segments(), nil)
				d.index.EXPECT().Build(gomock.Any(), gomock.Any(), gomock.Any()).Return("seg-1", nil)
				d.engine.EXPECT().Query(gomock.Any(), "seg-1", gomock.Any()).Return("", context.DeadlineExceeded)
				d.index.EXPECT().Delete("seg-1").Return(nil)
				d.stager.EXPECT().Remove(stagedPath).Return(nil)
			},
			wantKind:  invoice.ErrExtractionUnavailable,
			wantStage: invoice.StageExtract,
		},
		{
			name: "malformed answer discards the index",
			role: "buyer",
			setupMock: func(d deps) {
				d.stager.EXPECT().Stage(gomock.Any(), "invoice.pdf").Return(stagedPath, nil)
				d.parser.EXPECT().Parse(gomock.Any(), stagedPath).Return(segments(), nil)
				d.index.EXPECT().Build(gomock.Any(), gomock.Any(), gomock.Any()).Return("seg-1", nil)
				d.engine.EXPECT().Query(gomock.Any(), "seg-1", gomock.Any()).Return("I could not find an invoice.", nil)
				d.index.EXPECT().Delete("seg-1").Return(nil)
				d.stager.EXPECT().Remove(stagedPath).Return(nil)
			},
			wantKind:  invoice.ErrMalformedLLMResponse,
			wantStage: invoice.StageNormalize,
		},
		{
			name: "persistence failure discards the index",
			role: "vendor",
			setupMock: func(d deps) {
				d.stager.EXPECT().Stage(gomock.Any(), "invoice.pdf").Return(stagedPath, nil)
				d.parser.EXPECT().Parse(gomock.Any(), stagedPath).Return(segments(), nil)
				d.index.EXPECT().Build(gomock.Any(), gomock.Any(), gomock.Any()).Return("seg-1", nil)
				d.engine.EXPECT().Query(gomock.Any(), "seg-1", gomock.Any()).Return(fencedAnswer, nil)
				d.repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(errors.New("database is locked"))
				d.index.EXPECT().Delete("seg-1").Return(errors.New("busy"))
				d.stager.EXPECT().Remove(stagedPath).Return(nil)
			},
			wantKind:  invoice.ErrPersistence,
			wantStage: invoice.StagePersist,
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			ctrl := gomock.NewController(t)
			defer ctrl.Finish()

			svc, d := newService(ctrl)
			tt.setupMock(d)

			inv, err := svc.ProcessInvoice(context.Background(),
				invoice.Upload{Filename: "invoice.pdf", Body: strings.NewReader("%PDF-1.4")}, tt.role)

			assert.Nil(t, inv)
			require.Error(t, err)
			assert.ErrorIs(t, err, tt.wantKind)
			assert.Equal(t, tt.wantStage, invoice.StageOf(err))
		})
	}
}

func TestService_ProcessInvoice_vendor(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, d := newService(ctrl)
	var stored *models.Invoice
	gomock.InOrder(
		d.stager.EXPECT().Stage(gomock.Any(), "../invoice.pdf").Return(stagedPath, nil),
		d.parser.EXPECT().Parse(gomock.Any(), stagedPath).Return(segments(), nil),
		d.index.EXPECT().Build(gomock.Any(), gomock.Len(2), "invoice.pdf").Return("seg-1", nil),
		d.engine.EXPECT().Query(gomock.Any(), "seg-1", gomock.Any()).Return(fencedAnswer, nil),
		d.repo.EXPECT().Create(gomock.Any(), gomock.Any()).DoAndReturn(func(_ context.Context, inv *models.Invoice) error {
			stored = inv
			return nil
		}),
		d.stager.EXPECT().Remove(stagedPath).Return(errors.New("already gone")),
	)

	inv, err := svc.ProcessInvoice(context.Background(),
		invoice.Upload{Filename: "../invoice.pdf", Body: strings.NewReader("%PDF-1.4")}, "vendor")
	require.NoError(t, err, "a failed cleanup does not fail the request")
	require.NotNil(t, inv)
	assert.Same(t, stored, inv)

	assert.Equal(t, "seg-1", inv.DocumentID)
	assert.Equal(t, models.RoleVendor, inv.UserType)
	assert.Equal(t, "invoice.pdf", inv.SourceFile)
	assert.Equal(t, today, inv.CreatedAt)
	require.NotNil(t, inv.InvoiceNumber)
	assert.Equal(t, "INV-1", *inv.InvoiceNumber)
	assert.Nil(t, inv.DueDate)
	assert.Equal(t, []string{"Monitor the due date"}, inv.Suggestions)
	require.NotNil(t, inv.EmailBody)
	assert.Nil(t, inv.EmailBody.Subject)
}

func TestService_ProcessInvoice_buyerDueInTenDays(t *testing.T) {
	ctrl := gomock.NewController(t)
	defer ctrl.Finish()

	svc, d := newService(ctrl)
	due := today.AddDate(0, 0, 10).Format("2006-01-02")
	answer := fmt.Sprintf("```json\n"+`{
  "invoice_number": "B-778",
  "amount": "$2,400.00",
  "due_date": %q,
  "payment_status": "Pending",
  "discount_rate": null,
  "late_fee": "1.5%%",
  "grace_period": "7 days",
  "vendor_name": "Northwind Traders",
  "buyer_name": "Contoso",
  "suggestions": ["Monitor the invoice and schedule payment before %s"],
  "email_body": {"subject": "Upcoming payment for invoice B-778", "body": "Dear Northwind Traders,\n...\nBest regards, your_name"}
}`+"\n```", due, due)

	d.stager.EXPECT().Stage(gomock.Any(), "invoice.png").Return(stagedPath, nil)
	d.parser.EXPECT().Parse(gomock.Any(), stagedPath).Return(segments(), nil)
	d.index.EXPECT().Build(gomock.Any(), gomock.Any(), gomock.Any()).Return("seg-1", nil)
	d.engine.EXPECT().Query(gomock.Any(), "seg-1", gomock.Any()).
		DoAndReturn(func(_ context.Context, _ string, prompt string) (string, error) {
			assert.Contains(t, prompt, "(2024-06-01)")
			assert.Contains(t, prompt, "relevant to the **buyer**")
			return answer, nil
		})
	d.repo.EXPECT().Create(gomock.Any(), gomock.Any()).Return(nil)
	d.stager.EXPECT().Remove(stagedPath).Return(nil)

	inv, err := svc.ProcessInvoice(context.Background(),
		invoice.Upload{Filename: "invoice.png", Body: strings.NewReader("png")}, "buyer")
	require.NoError(t, err)

	assert.Equal(t, models.RoleBuyer, inv.UserType)
	require.NotNil(t, inv.DueDate)
	assert.Equal(t, "2024-06-11", *inv.DueDate)
	require.NotNil(t, inv.PaymentStatus)
	assert.Equal(t, "pending", *inv.PaymentStatus)
	require.NotNil(t, inv.Amount)
	assert.Equal(t, 2400.0, *inv.Amount)
	require.NotNil(t, inv.LateFee)
	assert.Equal(t, 1.5, *inv.LateFee)
	require.NotNil(t, inv.GracePeriod)
	assert.Equal(t, 7, *inv.GracePeriod)
	assert.Nil(t, inv.DiscountRate)
	assert.Len(t, inv.Suggestions, 1)
	require.NotNil(t, inv.EmailBody.Body)
	assert.True(t, strings.HasPrefix(*inv.EmailBody.Body, "Dear Northwind Traders"))
}
