package models

import (
	"encoding/json"
	"errors"
	"testing"
)

func TestValidationErrorsIs(t *testing.T) {
	validation := &ValidationErrors{}
	validation.Add("approval_type", ErrUnknownApprovalType)

	err := validation.Err()
	if err == nil {
		t.Fatal("expected error")
	}
	if !errors.Is(err, ErrUnknownApprovalType) {
		t.Fatalf("expected errors.Is to match ErrUnknownApprovalType, got %v", err)
	}
}

func TestValidationErrorsNestedFields(t *testing.T) {
	nested := &ValidationErrors{}
	nested.AddMessage("host", "host is required")

	validation := &ValidationErrors{}
	validation.Add("email", nested)

	list, ok := validation.Err().(*ValidationErrors)
	if !ok {
		t.Fatalf("expected ValidationErrors type, got %T", validation.Err())
	}
	if got := list.Fields(); len(got) != 1 || got[0] != "email.host" {
		t.Fatalf("expected field email.host, got %v", got)
	}
}

func TestPendingApprovalNotificationValidate(t *testing.T) {
	row := &PendingApprovalNotification{
		Instance:     "prod",
		RecipientID:  "7",
		ApprovalType: ApprovalTypePayment,
		ItemID:       "42",
		ItemDetails:  json.RawMessage(`{"loan_name":"Home"}`),
	}
	if err := row.Validate(); err != nil {
		t.Fatalf("expected valid row, got %v", err)
	}

	row.ApprovalType = "refund"
	row.ItemDetails = json.RawMessage(`{broken`)
	err := row.Validate()
	if !errors.Is(err, ErrUnknownApprovalType) {
		t.Fatalf("expected unknown approval type, got %v", err)
	}
	list := err.(*ValidationErrors)
	if len(list.Errors) != 2 {
		t.Fatalf("expected 2 errors, got %v", list.Fields())
	}
}

func TestParseApprovalType(t *testing.T) {
	got, err := ParseApprovalType(" Tracker_Entry ")
	if err != nil || got != ApprovalTypeTrackerEntry {
		t.Fatalf("expected tracker_entry, got %q (%v)", got, err)
	}
	if _, err := ParseApprovalType("loan"); !errors.Is(err, ErrUnknownApprovalType) {
		t.Fatalf("expected ErrUnknownApprovalType, got %v", err)
	}
}

func TestCategoryLabel(t *testing.T) {
	cat, ok := LookupCategory(ApprovalTypeTrackerEntry)
	if !ok {
		t.Fatal("tracker category missing")
	}
	if cat.Label(1) != "Tracker Entry" || cat.Label(2) != "Tracker Entries" {
		t.Fatalf("unexpected labels %q / %q", cat.Label(1), cat.Label(2))
	}
}

func TestPreferenceDefaults(t *testing.T) {
	var missing *NotificationPreference
	if !missing.Toggle("payment_approvals") {
		t.Fatal("nil preference should default toggles on")
	}
	if got := missing.DelayMinutes(DefaultDelayMinutes); got != 5 {
		t.Fatalf("expected default delay 5, got %d", got)
	}

	settings, err := ParsePreferenceSettings([]byte(`{"tracker_approvals":false,"approval_email_delay_minutes":15}`))
	if err != nil {
		t.Fatalf("parse settings: %v", err)
	}
	pref := &NotificationPreference{Enabled: true, Settings: settings}
	if pref.Toggle("tracker_approvals") {
		t.Fatal("expected tracker toggle off")
	}
	if !pref.Toggle("payment_approvals") {
		t.Fatal("expected missing toggle to default on")
	}
	if got := pref.DelayMinutes(DefaultDelayMinutes); got != 15 {
		t.Fatalf("expected delay 15, got %d", got)
	}

	pref.Settings[DelayMinutesKey] = "soon"
	if got := pref.DelayMinutes(DefaultDelayMinutes); got != 5 {
		t.Fatalf("expected fallback delay for invalid value, got %d", got)
	}
}
