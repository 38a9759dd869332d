package models

// Field is one labelled value shown for an item in a fallback digest.
type Field struct {
	Label  string
	Key    string
	Amount bool
}

// Category describes how an approval type is filtered, bucketed and rendered.
type Category struct {
	// Type is the approval type stored on queue rows.
	Type ApprovalType

	// PreferenceKey is the per-category toggle in a notification preference.
	PreferenceKey string

	// Bucket names the partition this category's rows are collected into.
	Bucket string

	// Singular and Plural label an item count in a digest subject.
	Singular string
	Plural   string

	// Heading titles the category's section in a digest body.
	Heading string

	// LinkPath is appended to "<link base>/<instance>" to reach the review page.
	LinkPath string

	// LinkLabel is the call-to-action text for the review page.
	LinkLabel string

	// TitleKey is the item detail shown as the item's headline.
	TitleKey string

	// Fields is the fallback layout for one item.
	Fields []Field
}

// Label returns the singular or plural label for n items.
func (c Category) Label(n int) string {
	if n == 1 {
		return c.Singular
	}
	return c.Plural
}

// Categories is the ordered registry of known approval categories.
// Digest sections and subjects follow this order.
var Categories = []Category{
	{
		Type:          ApprovalTypePayment,
		PreferenceKey: "payment_approvals",
		Bucket:        "payments",
		Singular:      "Payment",
		Plural:        "Payments",
		Heading:       "Payment Approvals",
		LinkPath:      "/admin/payments",
		LinkLabel:     "Review Payments",
		TitleKey:      "loan_name",
		Fields: []Field{
			{Label: "Loan", Key: "loan_name"},
			{Label: "Customer", Key: "customer_name"},
			{Label: "Amount", Key: "amount", Amount: true},
			{Label: "Payment Date", Key: "payment_date"},
		},
	},
	{
		Type:          ApprovalTypeTrackerEntry,
		PreferenceKey: "tracker_approvals",
		Bucket:        "tracker_entries",
		Singular:      "Tracker Entry",
		Plural:        "Tracker Entries",
		Heading:       "Tracker Entry Approvals",
		LinkPath:      "/admin/daily-trackers/pending-entries",
		LinkLabel:     "Review Entries",
		TitleKey:      "tracker_name",
		Fields: []Field{
			{Label: "Tracker", Key: "tracker_name"},
			{Label: "User", Key: "user_name"},
			{Label: "Day", Key: "day"},
			{Label: "Amount", Key: "amount", Amount: true},
		},
	},
}

// LookupCategory returns the registry entry for t.
func LookupCategory(t ApprovalType) (Category, bool) {
	for _, c := range Categories {
		if c.Type == t {
			return c, true
		}
	}
	return Category{}, false
}
