package digest

import (
	"bytes"
	"encoding/json"
	"fmt"
	"strings"

	"github.com/shopspring/decimal"
	"github.com/tOgg1/approvalq/internal/models"
)

// Placeholder stands in for a missing item detail.
const Placeholder = "N/A"

// Bucket is the rows of one category collected for one recipient.
type Bucket struct {
	Category models.Category
	Rows     []*models.PendingApprovalNotification
}

// Group splits rows into buckets in registry order, keeping row order inside
// each bucket. Rows of unknown type are returned separately.
func Group(rows []*models.PendingApprovalNotification) ([]Bucket, []*models.PendingApprovalNotification) {
	byType := make(map[models.ApprovalType][]*models.PendingApprovalNotification)
	var unknown []*models.PendingApprovalNotification
	for _, row := range rows {
		if _, ok := models.LookupCategory(row.ApprovalType); !ok {
			unknown = append(unknown, row)
			continue
		}
		byType[row.ApprovalType] = append(byType[row.ApprovalType], row)
	}

	var buckets []Bucket
	for _, category := range models.Categories {
		if rows := byType[category.Type]; len(rows) > 0 {
			buckets = append(buckets, Bucket{Category: category, Rows: rows})
		}
	}
	return buckets, unknown
}

// View is the data handed to digest templates.
type View struct {
	Subject       string
	RecipientName string
	Recipient     models.Recipient
	Instance      string
	Total         int
	Sections      []Section
}

// Section is one category block.
type Section struct {
	Type      string
	Heading   string
	Label     string
	Count     int
	Link      string
	LinkLabel string
	Items     []Item
}

// Item is one queued approval.
type Item struct {
	ItemID    string
	Title     string
	Fields    []FieldValue
	Details   map[string]any
	Malformed bool
}

// FieldValue is a formatted detail.
type FieldValue struct {
	Label string
	Value string
}

type formatter struct {
	currency string
}

func (f formatter) section(b Bucket, instance, linkBase string) Section {
	s := Section{
		Type:      string(b.Category.Type),
		Heading:   b.Category.Heading,
		Label:     b.Category.Label(len(b.Rows)),
		Count:     len(b.Rows),
		Link:      strings.TrimRight(linkBase, "/") + "/" + instance + b.Category.LinkPath,
		LinkLabel: b.Category.LinkLabel,
	}
	for _, row := range b.Rows {
		s.Items = append(s.Items, f.item(b.Category, row))
	}
	return s
}

func (f formatter) item(category models.Category, row *models.PendingApprovalNotification) Item {
	item := Item{ItemID: row.ItemID}

	details, ok := decodeDetails(row.ItemDetails)
	if !ok {
		item.Malformed = true
		item.Title = fmt.Sprintf("Item #%s", row.ItemID)
		return item
	}
	item.Details = details

	item.Title = f.value(details[category.TitleKey], false)
	if item.Title == Placeholder {
		item.Title = fmt.Sprintf("Item #%s", row.ItemID)
	}
	for _, field := range category.Fields {
		item.Fields = append(item.Fields, FieldValue{
			Label: field.Label,
			Value: f.value(details[field.Key], field.Amount),
		})
	}
	return item
}

func decodeDetails(raw json.RawMessage) (map[string]any, bool) {
	if len(bytes.TrimSpace(raw)) == 0 {
		return map[string]any{}, true
	}
	dec := json.NewDecoder(bytes.NewReader(raw))
	dec.UseNumber()
	var details map[string]any
	if err := dec.Decode(&details); err != nil || details == nil {
		return nil, false
	}
	return details, true
}

func (f formatter) value(v any, amount bool) string {
	var s string
	switch val := v.(type) {
	case nil:
		return Placeholder
	case string:
		s = strings.TrimSpace(val)
	case json.Number:
		s = val.String()
	case bool:
		s = fmt.Sprintf("%t", val)
	default:
		s = fmt.Sprint(val)
	}
	if s == "" {
		return Placeholder
	}
	if amount {
		return f.amount(s)
	}
	return s
}

func (f formatter) amount(s string) string {
	d, err := decimal.NewFromString(strings.ReplaceAll(s, ",", ""))
	if err != nil {
		return f.currency + s
	}
	return f.currency + groupThousands(d.StringFixed(2))
}

// groupThousands inserts separators into the integer part of a fixed-point string.
func groupThousands(s string) string {
	sign := ""
	if strings.HasPrefix(s, "-") {
		sign, s = "-", s[1:]
	}
	intPart, frac := s, ""
	if idx := strings.IndexByte(s, '.'); idx >= 0 {
		intPart, frac = s[:idx], s[idx:]
	}
	if len(intPart) <= 3 {
		return sign + intPart + frac
	}
	var b strings.Builder
	lead := len(intPart) % 3
	if lead > 0 {
		b.WriteString(intPart[:lead])
	}
	for i := lead; i < len(intPart); i += 3 {
		if b.Len() > 0 {
			b.WriteByte(',')
		}
		b.WriteString(intPart[i : i+3])
	}
	return sign + b.String() + frac
}

// Subject composes the digest subject from bucket counts.
func Subject(buckets []Bucket) string {
	total := 0
	parts := make([]string, 0, len(buckets))
	for _, b := range buckets {
		n := len(b.Rows)
		total += n
		parts = append(parts, fmt.Sprintf("%d %s", n, b.Category.Label(n)))
	}

	switch len(parts) {
	case 0:
		return "Approvals Required"
	case 1:
		if total == 1 {
			return "Approval Required: " + parts[0]
		}
		return "Approvals Required: " + parts[0]
	default:
		list := strings.Join(parts[:len(parts)-1], ", ") + " and " + parts[len(parts)-1]
		return fmt.Sprintf("%d Approvals Required: %s", total, list)
	}
}
