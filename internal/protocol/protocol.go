package protocol

import "github.com/furios/sessionswitch/internal/switcher"

const (
	// CommandStatusGet requests the current run status from the switcher.
	CommandStatusGet = "status.get"
	// CommandRestore asks the running switcher to restore the default
	// session configuration and exit, as if it had received SIGTERM.
	CommandRestore = "switch.restore"
)

// Request is the IPC payload sent from control clients to the switcher.
type Request struct {
	Token   string `json:"token"`
	Command string `json:"command"`
}

// Response is the IPC reply emitted by the switcher.
type Response struct {
	Error  string           `json:"error,omitempty"`
	Status *switcher.Status `json:"status,omitempty"`
}
