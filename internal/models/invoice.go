package models

import (
	"fmt"
	"time"
)

// Role is the perspective the extraction is written for.
type Role string

const (
	RoleVendor Role = "vendor"
	RoleBuyer  Role = "buyer"
)

// ParseRole returns the Role for s. Only the exact strings "vendor" and "buyer" are accepted.
func ParseRole(s string) (Role, error) {
	switch Role(s) {
	case RoleVendor, RoleBuyer:
		return Role(s), nil
	default:
		return "", fmt.Errorf("invalid user type %q: must be 'vendor' or 'buyer'", s)
	}
}

// EmailBody is the drafted follow-up email.
type EmailBody struct {
	Subject *string `json:"subject"`
	Body    *string `json:"body"`
}

// Invoice is the persisted result of processing one document. DocumentID is the join key with the
// document index; every extracted field is nullable.
type Invoice struct {
	DocumentID    string     `json:"document_id"`
	InvoiceNumber *string    `json:"invoice_number"`
	Amount        *float64   `json:"amount"`
	DueDate       *string    `json:"due_date"`
	PaymentStatus *string    `json:"payment_status"`
	DiscountRate  *float64   `json:"discount_rate"`
	LateFee       *float64   `json:"late_fee"`
	GracePeriod   *int       `json:"grace_period"`
	VendorName    *string    `json:"vendor_name"`
	BuyerName     *string    `json:"buyer_name"`
	Suggestions   []string   `json:"suggestions"`
	EmailBody     *EmailBody `json:"email_body"`

	UserType   Role      `json:"user_type,omitempty"`
	SourceFile string    `json:"source_file,omitempty"`
	CreatedAt  time.Time `json:"created_at"`
}
