package linear

import "strings"

// Linear priorities: 0 none, 1 urgent, 2 high, 3 medium, 4 low
const (
	PriorityNone   = 0
	PriorityUrgent = 1
	PriorityHigh   = 2
	PriorityMedium = 3
	PriorityLow    = 4
)

// PriorityToString names a Linear priority. Unknown values read as medium.
func PriorityToString(priority int) string {
	switch priority {
	case PriorityNone:
		return "none"
	case PriorityUrgent:
		return "urgent"
	case PriorityHigh:
		return "high"
	case PriorityMedium:
		return "medium"
	case PriorityLow:
		return "low"
	default:
		return "medium"
	}
}

// StringToPriority parses a priority name. Unknown names read as medium.
func StringToPriority(priority string) int {
	switch strings.ToLower(strings.TrimSpace(priority)) {
	case "urgent", "highest":
		return PriorityUrgent
	case "high":
		return PriorityHigh
	case "medium":
		return PriorityMedium
	case "low":
		return PriorityLow
	case "lowest", "none":
		return PriorityNone
	default:
		return PriorityMedium
	}
}
