package runstatus

import "strings"

// Labels the dashboard reports while it runs, in the order a healthy start
// walks through them.
const (
	Authenticated    = "Authenticated"
	DataLoaded       = "Data loaded"
	Connected        = "Connected"
	Reconnecting     = "Reconnecting"
	Disconnected     = "Disconnected"
	DisconnectedAuth = "Disconnected (auth)"
	SignedOut        = "Signed out"
)

const (
	KeyAuthenticated    = "authenticated"
	KeyDataLoaded       = "data loaded"
	KeyConnected        = "connected"
	KeyReconnecting     = "reconnecting"
	KeyDisconnected     = "disconnected"
	KeyDisconnectedAuth = "disconnected (auth)"
	KeySignedOut        = "signed out"
)

type Phase int

const (
	PhaseUnknown Phase = iota
	// PhaseStarting covers login, the first fetch and reconnect waits.
	PhaseStarting
	PhaseLive
	PhaseStopped
	// PhaseNeedsLogin means the credentials were rejected; retrying will
	// not help until the user logs in again.
	PhaseNeedsLogin
)

func (p Phase) String() string {
	switch p {
	case PhaseStarting:
		return "starting"
	case PhaseLive:
		return "live"
	case PhaseStopped:
		return "stopped"
	case PhaseNeedsLogin:
		return "needs-login"
	default:
		return "unknown"
	}
}

func Key(status string) string {
	return strings.ToLower(strings.TrimSpace(status))
}

func PhaseOf(status string) Phase {
	switch Key(status) {
	case KeyAuthenticated, KeyDataLoaded, KeyReconnecting:
		return PhaseStarting
	case KeyConnected:
		return PhaseLive
	case KeyDisconnected:
		return PhaseStopped
	case KeyDisconnectedAuth, KeySignedOut:
		return PhaseNeedsLogin
	default:
		return PhaseUnknown
	}
}

// Healthy reports whether status means live updates are flowing.
func Healthy(status string) bool {
	return PhaseOf(status) == PhaseLive
}
