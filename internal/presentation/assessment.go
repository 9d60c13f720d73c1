package presentation

import "go-symmetry-console/pkg/models"

// Badge is the styling and label shown next to a score
type Badge struct {
	Class string `json:"class"`
	Label string `json:"label"`
}

type tier struct {
	min        float64
	badgeClass string
	scoreColor string
	label      string
}

// tiers are ordered from the highest threshold down
var tiers = []tier{
	{90, "bg-green-100 text-green-800", "text-green-600", "Highly Symmetric"},
	{75, "bg-blue-100 text-blue-800", "text-blue-600", "Strongly Symmetric"},
	{60, "bg-yellow-100 text-yellow-800", "text-yellow-600", "Moderately Symmetric"},
	{40, "bg-orange-100 text-orange-800", "text-orange-600", "Somewhat Symmetric"},
}

var lowest = tier{0, "bg-red-100 text-red-800", "text-red-600", "Low Symmetry"}

func tierFor(score float64) tier {
	for _, t := range tiers {
		if score >= t.min {
			return t
		}
	}
	return lowest
}

// BadgeFor maps a score in [0,100] to its badge
func BadgeFor(score float64) Badge {
	t := tierFor(score)
	return Badge{Class: t.badgeClass, Label: t.label}
}

// BadgeClass returns only the CSS class of the badge
func BadgeClass(score float64) string {
	return tierFor(score).badgeClass
}

// Assessment returns the human label for a score
func Assessment(score float64) string {
	return tierFor(score).label
}

// ScoreColor returns the text color class for a score
func ScoreColor(score float64) string {
	return tierFor(score).scoreColor
}

var axisColors = map[models.AxisType]string{
	models.AxisVertical:     "#ef4444",
	models.AxisHorizontal:   "#3b82f6",
	models.AxisMainDiagonal: "#10b981",
	models.AxisAntiDiagonal: "#f59e0b",
}

// AxisColor returns the overlay color for an axis type
func AxisColor(axis models.AxisType) string {
	if c, ok := axisColors[axis]; ok {
		return c
	}
	return "#8b5cf6"
}
