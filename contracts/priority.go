package contracts

import (
	"fmt"
	"strings"
)

// Priority is the ordinal priority of a message
type Priority uint8

const (
	PriorityLow Priority = iota
	PriorityNormal
	PriorityHigh
	PriorityMax
)

func (p Priority) String() string {
	switch p {
	case PriorityLow:
		return "low"
	case PriorityNormal:
		return "normal"
	case PriorityHigh:
		return "high"
	case PriorityMax:
		return "max"
	default:
		return fmt.Sprintf("priority(%d)", uint8(p))
	}
}

// ParsePriority accepts a level name or its ordinal
func ParsePriority(s string) (Priority, error) {
	switch strings.ToLower(strings.TrimSpace(s)) {
	case "low", "0":
		return PriorityLow, nil
	case "normal", "1", "":
		return PriorityNormal, nil
	case "high", "2":
		return PriorityHigh, nil
	case "max", "3":
		return PriorityMax, nil
	}
	return PriorityNormal, fmt.Errorf("unknown priority %q", s)
}
