// Package cli provides CLI output helpers for tagihan.
package cli

import (
	"encoding/json"
	"fmt"
	"io"
	"strconv"
	"strings"
	"text/tabwriter"

	"github.com/hyperjump/tagihan/internal/models"
	"github.com/hyperjump/tagihan/pkg/utils"
)

// OutputFormat is the format for command output.
type OutputFormat string

const (
	// OutputText is human-readable text (default).
	OutputText OutputFormat = "text"
	// OutputJSON is structured JSON for machine consumption.
	OutputJSON OutputFormat = "json"
)

// ParseOutputFormat returns the format named by s ("" means text).
func ParseOutputFormat(s string) (OutputFormat, error) {
	switch OutputFormat(strings.ToLower(s)) {
	case "", OutputText:
		return OutputText, nil
	case OutputJSON:
		return OutputJSON, nil
	default:
		return "", fmt.Errorf("unknown output format %q (use text or json)", s)
	}
}

// WriteInvoice writes one invoice to w in the given format.
func WriteInvoice(w io.Writer, inv *models.Invoice, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, inv)
	}
	writeInvoiceText(w, inv)
	return nil
}

func writeInvoiceText(w io.Writer, inv *models.Invoice) {
	fmt.Fprintf(w, "─────────────────────────────────────────────────────────\n")
	fmt.Fprintf(w, "Document ID:    %s\n", inv.DocumentID)
	if inv.SourceFile != "" {
		fmt.Fprintf(w, "Source file:    %s\n", inv.SourceFile)
	}
	fmt.Fprintf(w, "Role:           %s\n", inv.UserType)
	fmt.Fprintf(w, "Invoice number: %s\n", orDash(utils.StringValue(inv.InvoiceNumber)))
	fmt.Fprintf(w, "Amount:         %s\n", floatOrDash(inv.Amount))
	fmt.Fprintf(w, "Due date:       %s\n", orDash(utils.StringValue(inv.DueDate)))
	fmt.Fprintf(w, "Status:         %s\n", orDash(utils.StringValue(inv.PaymentStatus)))
	fmt.Fprintf(w, "Discount rate:  %s\n", floatOrDash(inv.DiscountRate))
	fmt.Fprintf(w, "Late fee:       %s\n", floatOrDash(inv.LateFee))
	if inv.GracePeriod != nil {
		fmt.Fprintf(w, "Grace period:   %d days\n", *inv.GracePeriod)
	} else {
		fmt.Fprintf(w, "Grace period:   -\n")
	}
	fmt.Fprintf(w, "Vendor:         %s\n", orDash(utils.StringValue(inv.VendorName)))
	fmt.Fprintf(w, "Buyer:          %s\n", orDash(utils.StringValue(inv.BuyerName)))
	if len(inv.Suggestions) > 0 {
		fmt.Fprintln(w, "\nSuggestions:")
		for _, s := range inv.Suggestions {
			fmt.Fprintf(w, "  - %s\n", s)
		}
	}
	if inv.EmailBody != nil && (inv.EmailBody.Subject != nil || inv.EmailBody.Body != nil) {
		fmt.Fprintln(w, "\nEmail draft:")
		if inv.EmailBody.Subject != nil {
			fmt.Fprintf(w, "Subject: %s\n", *inv.EmailBody.Subject)
		}
		if inv.EmailBody.Body != nil {
			fmt.Fprintf(w, "\n%s\n", *inv.EmailBody.Body)
		}
	}
	fmt.Fprintln(w)
}

// WriteInvoices writes a list of invoices to w: a table in text format, an array in JSON.
func WriteInvoices(w io.Writer, invoices []*models.Invoice, format OutputFormat) error {
	if format == OutputJSON {
		if invoices == nil {
			invoices = []*models.Invoice{}
		}
		return writeJSON(w, invoices)
	}
	if len(invoices) == 0 {
		fmt.Fprintln(w, "No invoices.")
		return nil
	}
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "DOCUMENT ID\tINVOICE\tAMOUNT\tDUE\tSTATUS\tROLE\tCREATED")
	for _, inv := range invoices {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\t%s\t%s\n",
			inv.DocumentID,
			orDash(utils.Truncate(utils.StringValue(inv.InvoiceNumber), 24)),
			floatOrDash(inv.Amount),
			orDash(utils.StringValue(inv.DueDate)),
			orDash(utils.StringValue(inv.PaymentStatus)),
			inv.UserType,
			inv.CreatedAt.Local().Format("2006-01-02 15:04"))
	}
	return tw.Flush()
}

// WriteAnswer writes a chat answer to w.
func WriteAnswer(w io.Writer, docID, answer string, format OutputFormat) error {
	if format == OutputJSON {
		return writeJSON(w, map[string]string{"doc_id": docID, "response": answer})
	}
	fmt.Fprintln(w, strings.TrimSpace(answer))
	return nil
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

func orDash(s string) string {
	if s == "" {
		return "-"
	}
	return s
}

func floatOrDash(f *float64) string {
	if f == nil {
		return "-"
	}
	return strconv.FormatFloat(*f, 'f', -1, 64)
}
