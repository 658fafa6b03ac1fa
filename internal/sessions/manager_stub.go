//go:build !linux

package sessions

// NewManager reports that session management is unavailable off Linux.
func NewManager() (Manager, error) {
	return nil, ErrUnavailable
}
