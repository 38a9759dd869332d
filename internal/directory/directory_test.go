package directory

import (
	"context"
	"errors"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/tOgg1/approvalq/internal/db"
	"github.com/tOgg1/approvalq/internal/instance"
	"github.com/tOgg1/approvalq/internal/models"
)

const hostSchema = `
CREATE TABLE "user" (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	username VARCHAR(80) NOT NULL UNIQUE,
	email VARCHAR(120),
	password_hash VARCHAR(120) NOT NULL DEFAULT '',
	is_admin BOOLEAN DEFAULT 0
);
CREATE TABLE notification_preference (
	id INTEGER PRIMARY KEY AUTOINCREMENT,
	user_id INTEGER NOT NULL UNIQUE,
	channel VARCHAR(20) NOT NULL DEFAULT 'email',
	enabled BOOLEAN NOT NULL DEFAULT 1,
	preferences TEXT
);
`

func setupHostDB(t *testing.T) *instance.Registry {
	t.Helper()
	store, err := db.Open(db.Config{Path: filepath.Join(t.TempDir(), "lending.db")})
	require.NoError(t, err)

	_, err = store.Exec(hostSchema)
	require.NoError(t, err)
	_, err = store.Exec(`
		INSERT INTO "user" (id, username, email, is_admin) VALUES
			(3, 'carol', 'carol@example.com', 1),
			(1, 'alice', 'alice@example.com', 1),
			(2, 'bob', NULL, 1),
			(4, 'dave', 'dave@example.com', 0);
		INSERT INTO notification_preference (user_id, channel, enabled, preferences) VALUES
			(1, 'email', 1, '{"payment_approvals": false, "approval_email_delay_minutes": 2}'),
			(3, 'email', 0, NULL),
			(2, 'email', 1, 'not json');
	`)
	require.NoError(t, err)

	reg := instance.NewRegistry()
	require.NoError(t, reg.Add("prod", store))
	t.Cleanup(func() { _ = reg.Close() })
	return reg
}

func TestSQLDirectory_Admins(t *testing.T) {
	dir := NewSQLDirectory(setupHostDB(t))

	admins, err := dir.Admins(context.Background(), "prod")
	require.NoError(t, err)
	assert.Equal(t, []string{"1", "2", "3"}, admins)

	_, err = dir.Admins(context.Background(), "staging")
	assert.True(t, errors.Is(err, models.ErrUnknownInstance))
}

func TestSQLDirectory_Preference(t *testing.T) {
	dir := NewSQLDirectory(setupHostDB(t))
	ctx := context.Background()

	pref, err := dir.Preference(ctx, "prod", "1", models.ChannelEmail)
	require.NoError(t, err)
	require.NotNil(t, pref)
	assert.True(t, pref.Enabled)
	assert.False(t, pref.Toggle("payment_approvals"))
	assert.True(t, pref.Toggle("tracker_approvals"))
	assert.Equal(t, 2, pref.DelayMinutes(models.DefaultDelayMinutes))

	pref, err = dir.Preference(ctx, "prod", "3", models.ChannelEmail)
	require.NoError(t, err)
	require.NotNil(t, pref)
	assert.False(t, pref.Enabled)
	assert.Empty(t, pref.Settings)

	pref, err = dir.Preference(ctx, "prod", "2", models.ChannelEmail)
	require.NoError(t, err)
	require.NotNil(t, pref, "corrupt settings still yield a record")
	assert.True(t, pref.Toggle("payment_approvals"))

	pref, err = dir.Preference(ctx, "prod", "4", models.ChannelEmail)
	require.NoError(t, err)
	assert.Nil(t, pref)

	pref, err = dir.Preference(ctx, "prod", "1", models.ChannelSMS)
	require.NoError(t, err)
	assert.Nil(t, pref)
}

func TestSQLDirectory_Recipient(t *testing.T) {
	dir := NewSQLDirectory(setupHostDB(t))
	ctx := context.Background()

	r, err := dir.Recipient(ctx, "prod", "1")
	require.NoError(t, err)
	assert.Equal(t, "alice@example.com", r.Address)
	assert.Equal(t, "alice", r.Name())
	assert.True(t, r.Deliverable())

	r, err = dir.Recipient(ctx, "prod", "2")
	require.NoError(t, err)
	assert.False(t, r.Deliverable())

	_, err = dir.Recipient(ctx, "prod", "99")
	assert.True(t, errors.Is(err, models.ErrRecipientUnavailable))
}

func TestMemoryDirectory(t *testing.T) {
	dir := NewMemory()
	ctx := context.Background()

	dir.AddUser("prod", models.Recipient{ID: "1", Address: "a@example.com"}, true)
	dir.AddUser("prod", models.Recipient{ID: "2"}, false)
	dir.AddUser("dev", models.Recipient{ID: "9", Address: "z@example.com"}, true)
	dir.SetPreference("prod", models.NotificationPreference{RecipientID: "1", Enabled: false})

	admins, err := dir.Admins(ctx, "prod")
	require.NoError(t, err)
	assert.Equal(t, []string{"1"}, admins)

	pref, err := dir.Preference(ctx, "prod", "1", models.ChannelEmail)
	require.NoError(t, err)
	require.NotNil(t, pref)
	assert.False(t, pref.Enabled)

	pref, err = dir.Preference(ctx, "dev", "9", models.ChannelEmail)
	require.NoError(t, err)
	assert.Nil(t, pref)

	_, err = dir.Recipient(ctx, "dev", "1")
	assert.True(t, errors.Is(err, models.ErrRecipientUnavailable))

	var _ Directory = dir
	var _ Directory = (*SQLDirectory)(nil)
}
