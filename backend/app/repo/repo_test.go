package repo

import (
	"testing"
	"time"

	"shaka-fleet/backend/app/db"
	"shaka-fleet/backend/app/models"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/gorm"
)

func openTestDB(t *testing.T) *gorm.DB {
	t.Helper()
	gdb, err := db.Connect(db.Config{Driver: "sqlite", Path: "file::memory:"})
	require.NoError(t, err)
	sqlDB, err := gdb.DB()
	require.NoError(t, err)
	sqlDB.SetMaxOpenConns(1)
	t.Cleanup(func() { _ = sqlDB.Close() })
	require.NoError(t, db.Migrate(gdb))
	return gdb
}

func TestDeliveryRepository(t *testing.T) {
	r := NewDeliveryRepository(openTestDB(t))
	base := time.Now().Add(-time.Hour)
	for i, tr := range []string{"live", "queued", "direct-http"} {
		rec := &models.DeliveryRecord{DeviceID: "m1", Kind: "sync-products", Transport: tr, CreatedAt: base.Add(time.Duration(i) * time.Minute)}
		require.NoError(t, r.Create(rec))
		assert.NotEmpty(t, rec.ID)
	}
	require.NoError(t, r.Create(&models.DeliveryRecord{DeviceID: "m2", Kind: "terminal-config", Transport: "queued"}))

	recs, err := r.ListByDevice("m1", 0)
	require.NoError(t, err)
	require.Len(t, recs, 3)
	assert.Equal(t, "direct-http", recs[0].Transport)

	all, err := r.ListByDevice("", 10)
	require.NoError(t, err)
	assert.Len(t, all, 4)

	n, err := r.CountByTransport("queued")
	require.NoError(t, err)
	assert.Equal(t, int64(2), n)
}

func TestWebhookEventRepository(t *testing.T) {
	r := NewWebhookEventRepository(openTestDB(t))
	require.NoError(t, r.Create(&models.WebhookEvent{Provider: "stripe", EventType: "payment_intent.canceled", DeviceID: "m1", Forwarded: true}))
	require.NoError(t, r.Create(&models.WebhookEvent{Provider: "stripe", EventType: "terminal.reader.action_failed", Reason: "no device"}))

	evs, err := r.Latest(0)
	require.NoError(t, err)
	require.Len(t, evs, 2)
	assert.Equal(t, "no device", evs[0].Reason)
}

func TestUserRepository(t *testing.T) {
	r := NewUserRepository(openTestDB(t))
	require.NoError(t, r.Create(&models.User{Username: "ops", PasswordHash: "x", Role: models.RoleOperator}))

	n, err := r.CountByUsername("ops")
	require.NoError(t, err)
	assert.Equal(t, int64(1), n)

	u, err := r.FindByUsername("ops")
	require.NoError(t, err)
	assert.Equal(t, models.RoleOperator, u.Role)

	_, err = r.FindByUsername("ghost")
	assert.ErrorIs(t, err, gorm.ErrRecordNotFound)
}
