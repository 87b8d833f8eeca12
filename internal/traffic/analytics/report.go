package analytics

import (
	"errors"

	"trafficpulse.com/internal/traffic/snapshot"
)

var (
	ErrNoIntersections = errors.New("analytics: no intersections")
	ErrZeroSpeed       = errors.New("analytics: average speed is zero")
)

// 路口状态
const (
	StatusNormal   = "normal"
	StatusModerate = "moderate"
	StatusCritical = "critical"
)

// Report is the analysis output the snapshot normally carries.
type Report struct {
	Timestamp     string         `json:"timestamp"`
	Source        string         `json:"source"`
	Intersections []Intersection `json:"intersections"`
}

type Intersection struct {
	ID           int     `json:"id"`
	Name         string  `json:"name"`
	Lat          float64 `json:"lat"`
	Lng          float64 `json:"lng"`
	Density      float64 `json:"density"`
	AvgSpeed     float64 `json:"avgSpeed"`
	WaitTime     float64 `json:"waitTime"`
	VehicleCount int     `json:"vehicleCount"`
	Status       string  `json:"status"`
}

// FromSnapshot decodes snap as a Report. Snapshots are opaque to the
// propagation path, so this may fail for foreign payloads.
func FromSnapshot(snap snapshot.Snapshot) (Report, error) {
	var r Report
	err := snap.DecodeInto(&r)
	return r, err
}

// Find returns the intersection with the given id.
func (r Report) Find(id int) (Intersection, bool) {
	for _, it := range r.Intersections {
		if it.ID == id {
			return it, true
		}
	}
	return Intersection{}, false
}
