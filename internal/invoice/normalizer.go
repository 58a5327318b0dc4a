package invoice

import (
	"encoding/json"
	"errors"
	"fmt"
	"regexp"
	"strconv"
	"strings"
	"time"

	"github.com/santhosh-tekuri/jsonschema/v5"
	"go.uber.org/zap"

	"github.com/hyperjump/tagihan/internal/llm"
	"github.com/hyperjump/tagihan/internal/models"
	"github.com/hyperjump/tagihan/pkg/utils"
)

// fence matches the markdown code fence models often wrap JSON answers in.
var fence = regexp.MustCompile("^```json\n|\n```$")

// CleanJSONResponse strips a ```json fence from the trimmed model answer and parses it as a JSON
// object.
func CleanJSONResponse(raw string) (map[string]any, error) {
	cleaned := fence.ReplaceAllString(strings.TrimSpace(raw), "")
	var v any
	if err := json.Unmarshal([]byte(cleaned), &v); err != nil {
		return nil, fmt.Errorf("%w: %v", ErrMalformedLLMResponse, err)
	}
	obj, ok := v.(map[string]any)
	if !ok {
		return nil, fmt.Errorf("%w: expected a JSON object, got %T", ErrMalformedLLMResponse, v)
	}
	return obj, nil
}

const invoiceSchema = `{
  "type": "object",
  "properties": {
    "invoice_number": {"type": ["string", "null"]},
    "amount":         {"type": ["number", "null"]},
    "due_date":       {"type": ["string", "null"]},
    "payment_status": {"enum": ["paid", "overdue", "pending", null]},
    "discount_rate":  {"type": ["number", "null"]},
    "late_fee":       {"type": ["number", "null"]},
    "grace_period":   {"type": ["integer", "null"], "minimum": 0, "maximum": 36500},
    "vendor_name":    {"type": ["string", "null"]},
    "buyer_name":     {"type": ["string", "null"]},
    "suggestions":    {"type": "array", "items": {"type": "string"}},
    "email_body": {
      "type": "object",
      "properties": {
        "subject": {"type": ["string", "null"]},
        "body":    {"type": ["string", "null"]}
      }
    }
  }
}`

// maxGracePeriod caps grace_period at a hundred years of days.
const maxGracePeriod = 36500

var schema = jsonschema.MustCompileString("invoice.schema.json", invoiceSchema)

// Normalize coerces the model's answer into an Invoice. Common variations are repaired first
// (numbers given as strings, "15 days", "Overdue", a bare string for suggestions or email_body).
// Whatever still violates the invoice schema is dropped and logged. Unknown fields are ignored and
// missing fields stay nil; Suggestions is never nil and EmailBody always set.
func Normalize(fields map[string]any, logger *zap.Logger) *models.Invoice {
	logger = utils.OrNop(logger)
	f := coerce(fields)
	for _, loc := range invalidLocations(f) {
		dropInvalid(f, loc)
		logger.Warn("dropping invalid extracted field", zap.String("field", loc))
	}

	inv := &models.Invoice{
		InvoiceNumber: stringField(f, "invoice_number"),
		Amount:        numberField(f, "amount"),
		DueDate:       stringField(f, "due_date"),
		PaymentStatus: stringField(f, "payment_status"),
		DiscountRate:  numberField(f, "discount_rate"),
		LateFee:       numberField(f, "late_fee"),
		VendorName:    stringField(f, "vendor_name"),
		BuyerName:     stringField(f, "buyer_name"),
		Suggestions:   []string{},
		EmailBody:     &models.EmailBody{},
	}
	if n := numberField(f, "grace_period"); n != nil && *n >= 0 && *n <= maxGracePeriod {
		g := int(*n)
		inv.GracePeriod = &g
	}
	if list, ok := f["suggestions"].([]any); ok {
		for _, item := range list {
			if s, ok := item.(string); ok {
				inv.Suggestions = append(inv.Suggestions, s)
			}
		}
	}
	if eb, ok := f["email_body"].(map[string]any); ok {
		inv.EmailBody.Subject = stringField(eb, "subject")
		inv.EmailBody.Body = stringField(eb, "body")
	}
	return inv
}

// invalidLocations validates f against the invoice schema and returns the JSON pointers of the
// offending values.
func invalidLocations(f map[string]any) []string {
	err := schema.Validate(f)
	if err == nil {
		return nil
	}
	var ve *jsonschema.ValidationError
	if !errors.As(err, &ve) {
		return nil
	}
	seen := map[string]bool{}
	var locs []string
	var walk func(*jsonschema.ValidationError)
	walk = func(e *jsonschema.ValidationError) {
		if len(e.Causes) == 0 {
			if e.InstanceLocation != "" && !seen[e.InstanceLocation] {
				seen[e.InstanceLocation] = true
				locs = append(locs, e.InstanceLocation)
			}
			return
		}
		for _, c := range e.Causes {
			walk(c)
		}
	}
	walk(ve)
	return locs
}

// dropInvalid nulls the value at a JSON pointer such as "/amount", "/suggestions/2" or
// "/email_body/body". Nulled suggestion items are skipped when the invoice is built.
func dropInvalid(f map[string]any, loc string) {
	parts := strings.Split(strings.TrimPrefix(loc, "/"), "/")
	switch {
	case len(parts) == 2 && parts[0] == "suggestions":
		list, ok := f["suggestions"].([]any)
		i, err := strconv.Atoi(parts[1])
		if ok && err == nil && i >= 0 && i < len(list) {
			list[i] = nil
			return
		}
	case len(parts) == 2 && parts[0] == "email_body":
		if eb, ok := f["email_body"].(map[string]any); ok {
			eb[parts[1]] = nil
			return
		}
	}
	switch parts[0] {
	case "suggestions":
		f["suggestions"] = []any{}
	case "email_body":
		f["email_body"] = map[string]any{"subject": nil, "body": nil}
	default:
		f[parts[0]] = nil
	}
}

// coerce returns a copy of the known fields with common model variations repaired.
func coerce(in map[string]any) map[string]any {
	f := make(map[string]any, len(in))
	for _, k := range []string{"invoice_number", "vendor_name", "buyer_name"} {
		f[k] = coerceText(in[k])
	}
	for _, k := range []string{"amount", "discount_rate", "late_fee", "grace_period"} {
		f[k] = coerceNumber(in[k])
	}
	f["due_date"] = coerceDate(in["due_date"])
	f["payment_status"] = coerceStatus(in["payment_status"])
	f["suggestions"] = coerceSuggestions(in["suggestions"])
	f["email_body"] = coerceEmail(in["email_body"])
	return f
}

var nullish = map[string]bool{"": true, "null": true, "none": true, "n/a": true, "na": true, "unknown": true, "not specified": true, "not available": true}

func coerceText(v any) any {
	switch t := v.(type) {
	case string:
		s := strings.TrimSpace(t)
		if nullish[strings.ToLower(s)] {
			return nil
		}
		return s
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	}
	return v
}

var number = regexp.MustCompile(`-?\d[\d.,]*\d|-?\d|-?[.,]\d+`)

// coerceNumber extracts the first number from a string such as "$1,250.00", "Rp 1.500.000",
// "1.234,56" or "15 days". A number whose separators cannot be read one way only ("1.500") is
// returned unchanged so the schema drops it.
func coerceNumber(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if nullish[strings.ToLower(s)] {
		return nil
	}
	m := number.FindString(s)
	if m == "" {
		return s
	}
	n, ok := parseNumber(m)
	if !ok {
		return s
	}
	return n
}

// parseNumber reads a number that uses either '.' or ',' as the decimal separator. When both
// appear the last one is the decimal separator and the other groups thousands. A separator
// repeated on its own only groups thousands. A lone separator followed by exactly three digits is
// ambiguous and rejected.
func parseNumber(m string) (float64, bool) {
	neg := strings.HasPrefix(m, "-")
	m = strings.TrimPrefix(m, "-")

	var intPart, frac string
	dots, commas := strings.Count(m, "."), strings.Count(m, ",")
	switch {
	case dots == 0 && commas == 0:
		intPart = m
	case dots > 0 && commas > 0:
		dec, group := ".", ","
		if strings.LastIndex(m, ",") > strings.LastIndex(m, ".") {
			dec, group = ",", "."
		}
		if strings.Count(m, dec) != 1 {
			return 0, false
		}
		i := strings.LastIndex(m, dec)
		var ok bool
		if intPart, ok = ungroup(m[:i], group); !ok {
			return 0, false
		}
		frac = m[i+1:]
	default:
		sep := "."
		if commas > 0 {
			sep = ","
		}
		if strings.Count(m, sep) > 1 {
			var ok bool
			if intPart, ok = ungroup(m, sep); !ok {
				return 0, false
			}
			break
		}
		i := strings.Index(m, sep)
		intPart, frac = m[:i], m[i+1:]
		if len(frac) == 3 && strings.Trim(intPart, "0") != "" {
			return 0, false
		}
	}
	if intPart == "" {
		intPart = "0"
	}
	text := intPart
	if frac != "" {
		text += "." + frac
	}
	n, err := strconv.ParseFloat(text, 64)
	if err != nil {
		return 0, false
	}
	if neg {
		n = -n
	}
	return n, true
}

// ungroup removes thousands separators, requiring a leading group of one to three digits followed
// by groups of exactly three.
func ungroup(s, sep string) (string, bool) {
	groups := strings.Split(s, sep)
	if len(groups[0]) == 0 || len(groups[0]) > 3 {
		return "", false
	}
	for _, g := range groups[1:] {
		if len(g) != 3 {
			return "", false
		}
	}
	return strings.Join(groups, ""), true
}

var dateLayouts = []string{
	llm.DateLayout,
	time.RFC3339,
	"2006/01/02",
	"January 2, 2006",
	"Jan 2, 2006",
	"2 January 2006",
	"02 Jan 2006",
	"2-Jan-2006",
	"01/02/2006",
}

// coerceDate rewrites recognisable dates as YYYY-MM-DD and keeps anything else verbatim.
func coerceDate(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.TrimSpace(s)
	if nullish[strings.ToLower(s)] {
		return nil
	}
	for _, layout := range dateLayouts {
		if t, err := time.Parse(layout, s); err == nil {
			return t.Format(llm.DateLayout)
		}
	}
	return s
}

var statusAliases = map[string]string{
	"paid":        "paid",
	"settled":     "paid",
	"overdue":     "overdue",
	"past due":    "overdue",
	"late":        "overdue",
	"pending":     "pending",
	"unpaid":      "pending",
	"due":         "pending",
	"outstanding": "pending",
	"open":        "pending",
}

func coerceStatus(v any) any {
	s, ok := v.(string)
	if !ok {
		return v
	}
	s = strings.ToLower(strings.TrimSpace(s))
	if nullish[s] {
		return nil
	}
	if alias, ok := statusAliases[s]; ok {
		return alias
	}
	return s
}

func coerceSuggestions(v any) any {
	switch t := v.(type) {
	case nil:
		return []any{}
	case string:
		if strings.TrimSpace(t) == "" {
			return []any{}
		}
		return []any{strings.TrimSpace(t)}
	case []any:
		out := make([]any, 0, len(t))
		for _, item := range t {
			switch it := item.(type) {
			case string:
				if s := strings.TrimSpace(it); s != "" {
					out = append(out, s)
				}
			case float64, bool:
				out = append(out, fmt.Sprint(it))
			default:
				out = append(out, item)
			}
		}
		return out
	}
	return v
}

func coerceEmail(v any) any {
	switch t := v.(type) {
	case nil:
		return map[string]any{"subject": nil, "body": nil}
	case string:
		return map[string]any{"subject": nil, "body": t}
	case map[string]any:
		return map[string]any{"subject": t["subject"], "body": t["body"]}
	}
	return v
}

func stringField(f map[string]any, key string) *string {
	if s, ok := f[key].(string); ok {
		return &s
	}
	return nil
}

func numberField(f map[string]any, key string) *float64 {
	if n, ok := f[key].(float64); ok {
		return &n
	}
	return nil
}
