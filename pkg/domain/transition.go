package domain

// Transition is the verdict of handling one node.
// It is one of GetMessage, GoTo or GoBack.
type Transition interface {
	transition()
}

// GetMessage suspends the dialogue until the user sends new text.
// The next inbound message resumes at Target.
type GetMessage struct {
	Target string
}

// GoTo continues immediately at Target without new input.
type GoTo struct {
	Target string
}

// GoBack continues immediately at the node the current run resumed from.
type GoBack struct{}

func (GetMessage) transition() {}
func (GoTo) transition()       {}
func (GoBack) transition()     {}

// TransitionName returns a short label for logs and metrics.
func TransitionName(t Transition) string {
	switch t.(type) {
	case GetMessage:
		return "get_message"
	case GoTo:
		return "goto"
	case GoBack:
		return "go_back"
	default:
		return "unknown"
	}
}
