package models

import (
	"encoding/json"
	"fmt"
	"math"
	"time"
)

const (
	// DefaultDelayMinutes applies when no preference supplies a delay window.
	DefaultDelayMinutes = 5

	// DelayMinutesKey is the preference key holding the delay window.
	DelayMinutesKey = "approval_email_delay_minutes"

	// MaxDelayMinutes bounds the delay window to what a time.Duration can hold.
	MaxDelayMinutes = math.MaxInt64 / int64(time.Minute)
)

// NotificationPreference is a recipient's stored settings for one channel.
// The engine only reads these.
type NotificationPreference struct {
	RecipientID string
	Channel     Channel

	// Enabled is the global toggle for the channel.
	Enabled bool

	// Settings holds category toggles and the delay window.
	Settings map[string]any
}

// ParsePreferenceSettings decodes the stored JSON settings blob.
// Empty input yields an empty map.
func ParsePreferenceSettings(raw []byte) (map[string]any, error) {
	settings := map[string]any{}
	if len(raw) == 0 {
		return settings, nil
	}
	if err := json.Unmarshal(raw, &settings); err != nil {
		return nil, fmt.Errorf("decode preference settings: %w", err)
	}
	if settings == nil {
		settings = map[string]any{}
	}
	return settings, nil
}

// Toggle returns the boolean setting for key, defaulting to true.
func (p *NotificationPreference) Toggle(key string) bool {
	if p == nil {
		return true
	}
	v, ok := p.Settings[key]
	if !ok {
		return true
	}
	switch b := v.(type) {
	case bool:
		return b
	case float64:
		return b != 0
	case string:
		return b != "false" && b != "0" && b != ""
	default:
		return true
	}
}

// DelayMinutes returns the configured delay window in whole minutes, or
// fallback when unset or invalid. Fractions are dropped; DelayWindow keeps them.
func (p *NotificationPreference) DelayMinutes(fallback int) int {
	minutes, ok := p.delayMinutes()
	if !ok {
		return fallback
	}
	return int(minutes)
}

// DelayWindow returns the configured delay window, or fallback when unset or
// invalid. Fractional minutes are honoured to the nanosecond.
func (p *NotificationPreference) DelayWindow(fallback time.Duration) time.Duration {
	minutes, ok := p.delayMinutes()
	if !ok {
		return fallback
	}
	return time.Duration(minutes * float64(time.Minute))
}

// delayMinutes reads the stored window. Negative, non-finite and
// values too large for a time.Duration are rejected.
func (p *NotificationPreference) delayMinutes() (float64, bool) {
	if p == nil {
		return 0, false
	}
	v, ok := p.Settings[DelayMinutesKey]
	if !ok {
		return 0, false
	}
	var minutes float64
	switch n := v.(type) {
	case float64:
		minutes = n
	case int:
		minutes = float64(n)
	case json.Number:
		f, err := n.Float64()
		if err != nil {
			return 0, false
		}
		minutes = f
	default:
		return 0, false
	}
	if minutes < 0 || math.IsNaN(minutes) || math.IsInf(minutes, 0) || minutes >= float64(MaxDelayMinutes) {
		return 0, false
	}
	return minutes, true
}
