package analytics

type Point struct {
	Lat  float64 `json:"lat"`
	Lng  float64 `json:"lng"`
	Name string  `json:"name"`
}

type RouteRequest struct {
	Origin        interface{} `json:"origin"`
	Destination   interface{} `json:"destination"`
	AvoidCritical *bool       `json:"avoidCritical"`
}

// Avoid reports whether critical intersections should be avoided; true unless
// the caller said otherwise.
func (r RouteRequest) Avoid() bool { return r.AvoidCritical == nil || *r.AvoidCritical }

type Route struct {
	Origin            interface{} `json:"origin"`
	Destination       interface{} `json:"destination"`
	AvoidPoints       []Point     `json:"avoidPoints"`
	EstimatedDuration int         `json:"estimatedDuration"`
}

type Conditions struct {
	Overall       string `json:"overall"`
	CriticalAreas int    `json:"criticalAreas"`
}

type Recommendation struct {
	Route             Route      `json:"route"`
	TrafficConditions Conditions `json:"trafficConditions"`
}

// CriticalPoints lists the location of every critical intersection.
func CriticalPoints(list []Intersection) []Point {
	out := make([]Point, 0, len(list))
	for _, it := range list {
		if it.Status == StatusCritical {
			out = append(out, Point{Lat: it.Lat, Lng: it.Lng, Name: it.Name})
		}
	}
	return out
}

// Recommend builds a route recommendation from the current intersections.
func Recommend(req RouteRequest, list []Intersection) (Recommendation, error) {
	dur, err := EstimateDuration(list)
	if err != nil {
		return Recommendation{}, err
	}
	overall, err := Condition(list)
	if err != nil {
		return Recommendation{}, err
	}

	critical := CriticalPoints(list)
	avoid := []Point{}
	if req.Avoid() {
		avoid = critical
	}
	return Recommendation{
		Route: Route{
			Origin:            req.Origin,
			Destination:       req.Destination,
			AvoidPoints:       avoid,
			EstimatedDuration: dur,
		},
		TrafficConditions: Conditions{
			Overall:       overall,
			CriticalAreas: len(critical),
		},
	}, nil
}
