package repositories

import (
	"context"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/postgres"
	"gorm.io/gorm"
	"parcel-tracking-service/workers/parcel/models"
	"sync"
	"testing"
	"time"
)

// newDryRunDB never connects; statements are built and captured instead of run.
func newDryRunDB(t *testing.T) (*gorm.DB, func() []string) {
	t.Helper()

	db, err := gorm.Open(postgres.Open("host=localhost user=parcel dbname=parcel sslmode=disable"), &gorm.Config{
		DryRun:               true,
		DisableAutomaticPing: true,
	})
	require.NoError(t, err)

	var mu sync.Mutex
	var statements []string
	capture := func(tx *gorm.DB) {
		mu.Lock()
		defer mu.Unlock()
		statements = append(statements, tx.Statement.SQL.String())
	}

	require.NoError(t, db.Callback().Create().After("gorm:create").Register("test:capture_create", capture))
	require.NoError(t, db.Callback().Query().After("gorm:query").Register("test:capture_query", capture))

	return db, func() []string {
		mu.Lock()
		defer mu.Unlock()
		return append([]string(nil), statements...)
	}
}

func TestRecordCycle(t *testing.T) {
	t.Parallel()

	db, statements := newDryRunDB(t)
	repo := NewRepository(db)

	now := time.Date(2024, 1, 1, 10, 0, 0, 0, time.UTC)
	err := repo.RecordCycle(context.Background(), models.RefreshCycle{
		EntryID:       "entry-1",
		Cycle:         3,
		StartedAt:     now,
		FinishedAt:    now.Add(time.Second),
		Success:       true,
		Result:        "success",
		DeliveryCount: 2,
	})
	require.NoError(t, err)

	got := statements()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], `INSERT INTO "refresh_cycles"`)
	assert.Contains(t, got[0], `"delivery_count"`)
}

func TestRecentCycles(t *testing.T) {
	t.Parallel()

	db, statements := newDryRunDB(t)
	repo := NewRepository(db)

	_, err := repo.RecentCycles(context.Background(), "entry-1", 10)
	require.NoError(t, err)

	got := statements()
	require.Len(t, got, 1)
	assert.Contains(t, got[0], `FROM "refresh_cycles"`)
	assert.Contains(t, got[0], `entry_id = $1`)
	assert.Contains(t, got[0], `ORDER BY finished_at DESC`)
	assert.Contains(t, got[0], `LIMIT `)
}
