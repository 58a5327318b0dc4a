package llm

import (
	"fmt"
	"strings"

	"github.com/hyperjump/tagihan/internal/models"
)

// DateLayout is the date format used in prompts and extracted due dates.
const DateLayout = "2006-01-02"

// ExtractionPrompt asks for the invoice fields, role-specific suggestions and an email draft,
// judged against today (formatted with DateLayout).
func ExtractionPrompt(today string, role models.Role) string {
	var b strings.Builder
	fmt.Fprintf(&b, "Extract the following invoice details and analyze them in relation to the current date (%s): ", today)
	b.WriteString(`{"invoice_number": "<invoice_number>", "amount": <amount>, "due_date": "<YYYY-MM-DD>", `)
	b.WriteString(`"payment_status": "<paid/overdue/pending>", "discount_rate": <rate>, "late_fee": <late_fee>, `)
	b.WriteString(`"grace_period": "<grace_period_if_any>", "vendor_name": "<vendor_name>", "buyer_name": "<buyer_name>"} `)
	b.WriteString("In addition to extracting these details, correctly identify and extract the following: ")
	b.WriteString("- The **vendor name** associated with the invoice. ")
	b.WriteString("- The **buyer name** associated with the invoice. ")
	fmt.Fprintf(&b, "Then, based on the comparison of due_date and current_date (%s): ", today)
	fmt.Fprintf(&b, "- If the invoice is overdue, suggest relevant actions for the %s (vendor or buyer). ", role)
	b.WriteString("- If the invoice is due soon (within 5 days), suggest early payment incentives (for vendors) or extension requests (for buyers). ")
	b.WriteString("- If the invoice is not due soon, suggest monitoring options. ")
	fmt.Fprintf(&b, "Only return suggestions and email body relevant to the **%s**. ", role)
	b.WriteString("Make sure to add suggestions and email body as JSON fields. ")
	b.WriteString("In the email body, address the user based on the role: ")
	b.WriteString(`- If the user is a **buyer**, start the email with "Dear vendor_name" and sign off with "Best regards, your_name". `)
	b.WriteString(`- If the user is a **vendor**, start the email with "Dear buyer_name" and sign off with "Best regards, your_name". `)
	b.WriteString("Ensure that the email tone is polite and professional based on the role (buyer or vendor). ")
	b.WriteString(`If the **vendor name** or **buyer name** is identified, use those names in the greeting; otherwise, use "Dear Vendor" or "Dear Buyer". `)
	b.WriteString(`Respond with a single JSON object containing the fields above, "suggestions" as an array of strings `)
	b.WriteString(`and "email_body" as an object with "subject" and "body". Use null for any detail the invoice does not state.`)
	return b.String()
}

// Passage is a retrieved piece of a document.
type Passage struct {
	Page int
	Text string
}

// FormatContext renders passages as a context block, each labelled with its page.
func FormatContext(passages []Passage) string {
	parts := make([]string, 0, len(passages))
	for _, p := range passages {
		parts = append(parts, fmt.Sprintf("page_label: %d\n\n%s", p.Page, p.Text))
	}
	return strings.Join(parts, "\n\n")
}

// QAPrompt wraps a query with the retrieved context so the model answers from the document only.
func QAPrompt(context, query string) string {
	return "Context information is below.\n" +
		"---------------------\n" +
		context + "\n" +
		"---------------------\n" +
		"Given the context information and not prior knowledge, answer the query.\n" +
		"Query: " + query + "\n" +
		"Answer: "
}

// ChatSystemPrompt is the system instruction for answering follow-up questions about one invoice.
func ChatSystemPrompt(context string) string {
	return "You are an assistant that answers questions about a single invoice. " +
		"Answer using only the invoice excerpts below. If the excerpts do not contain the answer, say so.\n" +
		"---------------------\n" +
		context + "\n" +
		"---------------------"
}

// TranscriptionPrompt asks for a plain text transcription of an invoice image or scan.
const TranscriptionPrompt = "Transcribe all text in this invoice document exactly as written, page by page. " +
	"Keep numbers, dates, currency symbols and table rows intact, one table row per line. " +
	"Return only the transcribed text with no commentary."
