package history

import "time"

// TrafficLog is one analysed intersection sample written by the analytics process.
type TrafficLog struct {
	ID             int64     `gorm:"column:id;primaryKey" json:"id"`
	IntersectionID int       `gorm:"column:intersection_id" json:"intersection_id"`
	Name           string    `gorm:"column:name" json:"name"`
	Lat            float64   `gorm:"column:lat" json:"lat"`
	Lng            float64   `gorm:"column:lng" json:"lng"`
	Density        float64   `gorm:"column:density" json:"density"`
	AvgSpeed       int       `gorm:"column:avg_speed" json:"avg_speed"`
	WaitTime       int       `gorm:"column:wait_time" json:"wait_time"`
	VehicleCount   int       `gorm:"column:vehicle_count" json:"vehicle_count"`
	Status         string    `gorm:"column:status" json:"status"`
	Timestamp      time.Time `gorm:"column:timestamp" json:"timestamp"`
	AwsMessageID   *string   `gorm:"column:aws_message_id" json:"aws_message_id"`
}

func (TrafficLog) TableName() string {
	return "traffic_logs"
}
