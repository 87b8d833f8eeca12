package gateway

import "strings"

const (
	// SensorDataPattern matches raw readings from every sensor.
	SensorDataPattern = "traffic:sensors:*:data"
	// AnalysisTopic carries full consolidated snapshots from the analytics process.
	AnalysisTopic = "traffic:analysis:update"
)

// SensorTopic is the topic a single sensor's readings are published on.
func SensorTopic(sensorID string) string { return "traffic:sensors:" + sensorID + ":data" }

// SensorIDFromTopic extracts the sensor id from a SensorTopic.
func SensorIDFromTopic(topic string) (string, bool) {
	parts := strings.Split(topic, ":")
	if len(parts) != 4 || parts[0] != "traffic" || parts[1] != "sensors" || parts[3] != "data" || parts[2] == "" {
		return "", false
	}
	return parts[2], true
}

// Match reports whether topic matches pattern.
func Match(pattern, topic string) bool {
	ps := strings.Split(pattern, ":")
	ts := strings.Split(topic, ":")
	for i, p := range ps {
		if p == ">" {
			return len(ts) > i
		}
		if i >= len(ts) {
			return false
		}
		if p != "*" && p != ts[i] {
			return false
		}
	}
	return len(ps) == len(ts)
}

func topicToSubject(topic string) string { return strings.ReplaceAll(topic, ":", ".") }
func subjectToTopic(subj string) string  { return strings.ReplaceAll(subj, ".", ":") }
