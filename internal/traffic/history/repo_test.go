package history

import (
	"context"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gorm.io/driver/mysql"
	"gorm.io/gorm"
)

// dryRepo builds SQL without a server: the dialector never connects when the
// version probe is skipped and every statement runs in dry-run mode.
func dryRepo(t *testing.T) *GormRepo {
	t.Helper()
	db, err := gorm.Open(mysql.New(mysql.Config{
		DSN:                       "u:p@tcp(127.0.0.1:1)/traffic?parseTime=true",
		SkipInitializeWithVersion: true,
	}), &gorm.Config{DryRun: true})
	require.NoError(t, err)

	r := NewGormRepo(db)
	r.now = func() time.Time { return time.Date(2024, 5, 2, 12, 0, 0, 0, time.UTC) }
	return r
}

func TestQuery_Normalize(t *testing.T) {
	q := Query{}.normalize()
	assert.Equal(t, DefaultHours, q.Hours)
	assert.Equal(t, MaxRows, q.Limit)

	q = Query{Hours: 3, Limit: 5000}.normalize()
	assert.Equal(t, 3, q.Hours)
	assert.Equal(t, MaxRows, q.Limit)
}

func TestGormRepo_Scope(t *testing.T) {
	r := dryRepo(t)

	var rows []TrafficLog
	stmt := r.scope(context.Background(), Query{Hours: 6}).Find(&rows).Statement
	sql := stmt.SQL.String()
	assert.Contains(t, sql, "FROM `traffic_logs`")
	assert.Contains(t, sql, "timestamp >= ?")
	assert.NotContains(t, sql, "intersection_id")
	assert.Contains(t, sql, "ORDER BY timestamp DESC LIMIT")
	require.NotEmpty(t, stmt.Vars)
	assert.Equal(t, time.Date(2024, 5, 2, 6, 0, 0, 0, time.UTC), stmt.Vars[0])

	id := 4
	stmt = r.scope(context.Background(), Query{IntersectionID: &id}).Find(&rows).Statement
	assert.Contains(t, stmt.SQL.String(), "intersection_id = ?")
	assert.Equal(t, time.Date(2024, 5, 1, 12, 0, 0, 0, time.UTC), stmt.Vars[0])
	assert.Equal(t, 4, stmt.Vars[1])
}
