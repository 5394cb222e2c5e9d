package gateway

// State is the lifecycle state of one transport connection.
type State int

const (
	StateConnecting State = iota
	StateAuthenticating
	StateResolvingDocument
	StateAttached
	StateDetaching
	StateClosed
)

// String returns the state name.
func (s State) String() string {
	switch s {
	case StateConnecting:
		return "connecting"
	case StateAuthenticating:
		return "authenticating"
	case StateResolvingDocument:
		return "resolving_document"
	case StateAttached:
		return "attached"
	case StateDetaching:
		return "detaching"
	case StateClosed:
		return "closed"
	default:
		return "unknown"
	}
}
