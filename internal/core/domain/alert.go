package domain

import "time"

type LowStockAlert struct {
	ID              string
	ItemID          string
	Threshold       int
	CurrentQuantity int
	IsResolved      bool
	CreatedAt       time.Time
	ResolvedAt      *time.Time
}

type AlertTransition int

const (
	AlertNone AlertTransition = iota
	AlertOpen
	AlertResolve
)

func (t AlertTransition) String() string {
	switch t {
	case AlertOpen:
		return "open"
	case AlertResolve:
		return "resolve"
	default:
		return "none"
	}
}

const (
	SeverityWarning  = "warning"
	SeverityCritical = "critical"
)

func SeverityFor(quantity int) string {
	if quantity > 0 {
		return SeverityWarning
	}
	return SeverityCritical
}
