package contracts

import "time"

// LocationBroadcast is published by the realtime service for every
// accepted location report.
// Exchange: ExchangeLocationFanout (fanout, no routing key).
type LocationBroadcast struct {
	UpdateID       int64     `json:"update_id"`
	AssignmentID   int64     `json:"assignment_id"`
	RouteID        int64     `json:"route_id"`
	DriverID       int64     `json:"driver_id"`
	Location       GeoPoint  `json:"location"`
	SpeedKMH       *float64  `json:"speed_kmh,omitempty"`
	HeadingDegrees *float64  `json:"heading_degrees,omitempty"`
	Status         string    `json:"status"`
	Timestamp      time.Time `json:"timestamp"`
	Envelope
}
