package history

import (
	"context"
	"time"

	"gorm.io/gorm"
	"trafficpulse.com/pkg/metrics"
)

const (
	DefaultHours = 24
	MaxRows      = 1000
)

type Query struct {
	Hours          int
	IntersectionID *int
	Limit          int
}

func (q Query) normalize() Query {
	if q.Hours <= 0 {
		q.Hours = DefaultHours
	}
	if q.Limit <= 0 || q.Limit > MaxRows {
		q.Limit = MaxRows
	}
	return q
}

// Repo reads historical samples, newest first.
type Repo interface {
	Recent(ctx context.Context, q Query) ([]TrafficLog, error)
}

type GormRepo struct {
	db  *gorm.DB
	now func() time.Time
}

func NewGormRepo(db *gorm.DB) *GormRepo {
	return &GormRepo{db: db, now: time.Now}
}

func (r *GormRepo) Recent(ctx context.Context, q Query) ([]TrafficLog, error) {
	var rows []TrafficLog
	start := time.Now()
	err := r.scope(ctx, q).Find(&rows).Error

	status := "ok"
	if err != nil {
		status = "error"
	}
	metrics.DbQueryDuration.WithLabelValues("traffic_logs.recent", status).Observe(time.Since(start).Seconds())
	return rows, err
}

func (r *GormRepo) scope(ctx context.Context, q Query) *gorm.DB {
	q = q.normalize()
	since := r.now().UTC().Add(-time.Duration(q.Hours) * time.Hour)

	tx := r.db.WithContext(ctx).
		Model(&TrafficLog{}).
		Where("timestamp >= ?", since)
	if q.IntersectionID != nil {
		tx = tx.Where("intersection_id = ?", *q.IntersectionID)
	}
	return tx.Order("timestamp DESC").Limit(q.Limit)
}
