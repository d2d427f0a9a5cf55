package suno

import "strings"

// Stage is the lifecycle stage of a clip.
type Stage string

const (
	Submitted Stage = "submitted"
	Streaming Stage = "streaming"
	Complete  Stage = "complete"
	Error     Stage = "error"
)

var stages = map[string]Stage{
	"submitted": Submitted,
	"queued":    Submitted,
	"pending":   Submitted,
	"streaming": Streaming,
	"complete":  Complete,
	"completed": Complete,
	"error":     Error,
	"failed":    Error,
}

// ParseStage maps an upstream status to a stage, ignoring case.
// It returns false for unknown statuses.
func ParseStage(status string) (Stage, bool) {
	s, ok := stages[strings.ToLower(strings.TrimSpace(status))]
	return s, ok
}

// Terminal reports whether no further transitions are possible.
func (s Stage) Terminal() bool {
	return s == Complete || s == Error
}

func (s Stage) rank() int {
	switch s {
	case Submitted:
		return 1
	case Streaming:
		return 2
	case Complete, Error:
		return 3
	default:
		return 0
	}
}

// Advances reports whether moving from s to next is a forward transition.
func (s Stage) Advances(next Stage) bool {
	if s.Terminal() {
		return false
	}
	return next.rank() > s.rank()
}
