package analytics

import "math"

type Stats struct {
	TotalIntersections    int `json:"totalIntersections"`
	TotalVehicles         int `json:"totalVehicles"`
	AverageSpeed          int `json:"averageSpeed"`
	AverageWaitTime       int `json:"averageWaitTime"`
	CriticalIntersections int `json:"criticalIntersections"`
	ModerateIntersections int `json:"moderateIntersections"`
	NormalIntersections   int `json:"normalIntersections"`
}

// ComputeStats aggregates the report. Averages are rounded to whole units.
func ComputeStats(list []Intersection) (Stats, error) {
	if len(list) == 0 {
		return Stats{}, ErrNoIntersections
	}
	var (
		st          Stats
		speed, wait float64
	)
	st.TotalIntersections = len(list)
	for _, it := range list {
		st.TotalVehicles += it.VehicleCount
		speed += it.AvgSpeed
		wait += it.WaitTime
		switch it.Status {
		case StatusCritical:
			st.CriticalIntersections++
		case StatusModerate:
			st.ModerateIntersections++
		case StatusNormal:
			st.NormalIntersections++
		}
	}
	n := float64(len(list))
	st.AverageSpeed = int(math.Round(speed / n))
	st.AverageWaitTime = int(math.Round(wait / n))
	return st, nil
}

// 整体路况
const (
	ConditionLight    = "light"
	ConditionModerate = "moderate"
	ConditionHeavy    = "heavy"
)

// Condition classifies overall traffic from the share of critical and
// moderate intersections.
func Condition(list []Intersection) (string, error) {
	if len(list) == 0 {
		return "", ErrNoIntersections
	}
	var critical, moderate int
	for _, it := range list {
		switch it.Status {
		case StatusCritical:
			critical++
		case StatusModerate:
			moderate++
		}
	}
	n := float64(len(list))
	criticalRatio, moderateRatio := float64(critical)/n, float64(moderate)/n

	switch {
	case criticalRatio > 0.4:
		return ConditionHeavy, nil
	case criticalRatio > 0.2 || moderateRatio > 0.5:
		return ConditionModerate, nil
	}
	return ConditionLight, nil
}

// EstimateDuration estimates minutes for a 10 km trip at the average speed
// (km/h) plus the average wait (seconds) converted to minutes.
func EstimateDuration(list []Intersection) (int, error) {
	if len(list) == 0 {
		return 0, ErrNoIntersections
	}
	var speed, wait float64
	for _, it := range list {
		speed += it.AvgSpeed
		wait += it.WaitTime
	}
	n := float64(len(list))
	avgSpeed, avgWait := speed/n, wait/n
	if avgSpeed <= 0 {
		return 0, ErrZeroSpeed
	}
	return int(math.Round((10/avgSpeed)*60 + avgWait/60)), nil
}
