package sessions

import "errors"

// Session describes an interactive desktop session whose display
// configuration can be switched.
type Session struct {
	ID         string
	User       string
	UID        uint32
	GID        uint32
	RuntimeDir string
	Display    string
	Type       string
	Env        map[string]string
}

// BusAddress returns the DBUS_SESSION_BUS_ADDRESS for reaching the session's
// user brokers.
func (s Session) BusAddress() string {
	return s.Env["DBUS_SESSION_BUS_ADDRESS"]
}

// Manager enumerates interactive user sessions.
type Manager interface {
	List() ([]Session, error)
	Current(user string) (Session, error)
	Close() error
}

// ErrUnavailable indicates session management is not supported on this platform.
var ErrUnavailable = errors.New("session management unavailable on this platform")

// ErrNoSession indicates no active local graphical session matched.
var ErrNoSession = errors.New("no active graphical session")
