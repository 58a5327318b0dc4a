// Package export writes invoices to spreadsheet workbooks.
package export

import (
	"fmt"
	"io"
	"strings"

	"github.com/xuri/excelize/v2"

	"github.com/hyperjump/tagihan/internal/models"
	"github.com/hyperjump/tagihan/pkg/utils"
)

// SheetName is the worksheet invoices are written to.
const SheetName = "Invoices"

// Headers are the column titles of the invoice sheet, in order.
var Headers = []string{
	"Document ID",
	"Invoice Number",
	"Amount",
	"Due Date",
	"Payment Status",
	"Discount Rate",
	"Late Fee",
	"Grace Period",
	"Vendor",
	"Buyer",
	"User Type",
	"Suggestions",
	"Email Subject",
	"Email Body",
	"Source File",
	"Created At",
}

// WriteInvoicesXLSX writes invoices as an XLSX workbook to w: a header row followed by one row
// per invoice. Null fields are left blank and suggestions are joined by newlines.
func WriteInvoicesXLSX(w io.Writer, invoices []*models.Invoice) error {
	f := excelize.NewFile()
	defer f.Close()

	if err := f.SetSheetName("Sheet1", SheetName); err != nil {
		return err
	}
	for i, h := range Headers {
		cell, _ := excelize.CoordinatesToCellName(i+1, 1)
		if err := f.SetCellValue(SheetName, cell, h); err != nil {
			return err
		}
	}

	for r, inv := range invoices {
		row := r + 2
		write := func(col int, v any) error {
			cell, _ := excelize.CoordinatesToCellName(col, row)
			return f.SetCellValue(SheetName, cell, v)
		}
		values := []any{
			inv.DocumentID,
			utils.StringValue(inv.InvoiceNumber),
			floatCell(inv.Amount),
			utils.StringValue(inv.DueDate),
			utils.StringValue(inv.PaymentStatus),
			floatCell(inv.DiscountRate),
			floatCell(inv.LateFee),
			intCell(inv.GracePeriod),
			utils.StringValue(inv.VendorName),
			utils.StringValue(inv.BuyerName),
			string(inv.UserType),
			strings.Join(inv.Suggestions, "\n"),
			"",
			"",
			inv.SourceFile,
			inv.CreatedAt.UTC().Format("2006-01-02 15:04:05"),
		}
		if inv.EmailBody != nil {
			values[12] = utils.StringValue(inv.EmailBody.Subject)
			values[13] = utils.StringValue(inv.EmailBody.Body)
		}
		for i, v := range values {
			if err := write(i+1, v); err != nil {
				return err
			}
		}
	}

	_ = f.SetColWidth(SheetName, "A", "A", 38)
	_ = f.SetColWidth(SheetName, "B", "B", 18)
	_ = f.SetColWidth(SheetName, "I", "J", 28)
	_ = f.SetColWidth(SheetName, "L", "L", 60)
	_ = f.SetColWidth(SheetName, "N", "N", 60)
	_ = f.SetPanes(SheetName, &excelize.Panes{Freeze: true, YSplit: 1, TopLeftCell: "A2", ActivePane: "bottomLeft"})

	if _, err := f.WriteTo(w); err != nil {
		return fmt.Errorf("xlsx write: %w", err)
	}
	return nil
}

func floatCell(v *float64) any {
	if v == nil {
		return ""
	}
	return *v
}

func intCell(v *int) any {
	if v == nil {
		return ""
	}
	return *v
}
