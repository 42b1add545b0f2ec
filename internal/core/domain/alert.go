package domain

import "time"

// AlertLevel grades operator alerts.
type AlertLevel string

const (
	AlertInfo     AlertLevel = "info"
	AlertWarning  AlertLevel = "warning"
	AlertCritical AlertLevel = "critical"
)

// Alert is a derived operator notification, generated when a delivery fails
// completely or a rolling-window rate crosses a configured threshold.
type Alert struct {
	Level                   AlertLevel
	Subject                 string
	Message                 string
	Context                 map[string]any
	RequiresImmediateAction bool
	Timestamp               time.Time
}
