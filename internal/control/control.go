// Package control exposes a local endpoint for inspecting and ending a
// running session switch.
package control

import (
	"context"
	"crypto/subtle"
	"encoding/json"
	"fmt"
	"log"
	"net"
	"os"
	"time"

	"github.com/furios/sessionswitch/internal/ipc"
	"github.com/furios/sessionswitch/internal/logging"
	"github.com/furios/sessionswitch/internal/protocol"
	"github.com/furios/sessionswitch/internal/security"
	"github.com/furios/sessionswitch/internal/switcher"
)

// Server answers token-authenticated control requests while the switcher runs.
type Server struct {
	endpoint  ipc.Endpoint
	token     string
	tokenFile string
	sw        *switcher.Switcher
}

// New constructs a control server bound to the given switcher run.
func New(endpoint ipc.Endpoint, sw *switcher.Switcher) (*Server, error) {
	token := security.ResolveControlToken(sw.RunID())
	if token == "" {
		return nil, fmt.Errorf("control token could not be resolved")
	}
	return &Server{
		endpoint:  endpoint,
		token:     token,
		tokenFile: ipc.TokenPath(),
		sw:        sw,
	}, nil
}

// Endpoint exposes the listening endpoint for logging and diagnostics.
func (s *Server) Endpoint() string {
	return s.endpoint.String()
}

// Run starts the listener and serves requests until the context is canceled.
func (s *Server) Run(ctx context.Context) error {
	listener, err := s.endpoint.Listen()
	if err != nil {
		return fmt.Errorf("listen on %s: %w", s.endpoint.String(), err)
	}
	defer listener.Close()

	if err := s.writeTokenFile(); err != nil {
		log.Printf("control: token file: %v", err)
	}
	defer s.removeTokenFile()

	logging.Debugf("control endpoint listening on %s (token %s)", s.endpoint.String(), logging.MaskIdentifier(s.token))

	go func() {
		<-ctx.Done()
		_ = listener.Close()
	}()

	for {
		conn, err := listener.Accept()
		if err != nil {
			select {
			case <-ctx.Done():
				return nil
			default:
			}
			if ne, ok := err.(net.Error); ok && ne.Temporary() {
				log.Printf("control: temporary accept error: %v", err)
				time.Sleep(250 * time.Millisecond)
				continue
			}
			return fmt.Errorf("accept connection: %w", err)
		}

		go s.handleConnection(ctx, conn)
	}
}

func (s *Server) handleConnection(ctx context.Context, conn net.Conn) {
	defer conn.Close()

	if deadline, ok := ctx.Deadline(); ok {
		_ = conn.SetDeadline(deadline)
	} else {
		_ = conn.SetDeadline(time.Now().Add(30 * time.Second))
	}

	decoder := json.NewDecoder(conn)
	encoder := json.NewEncoder(conn)

	var req protocol.Request
	if err := decoder.Decode(&req); err != nil {
		log.Printf("control: failed to decode request: %v", err)
		return
	}

	if !s.authorize(req.Token) {
		_ = encoder.Encode(protocol.Response{Error: "unauthorized"})
		return
	}

	switch req.Command {
	case protocol.CommandStatusGet:
		status := s.sw.Status()
		_ = encoder.Encode(protocol.Response{Status: &status})
	case protocol.CommandRestore:
		s.sw.Restore()
		status := s.sw.Status()
		_ = encoder.Encode(protocol.Response{Status: &status})
	default:
		_ = encoder.Encode(protocol.Response{Error: fmt.Sprintf("unknown command: %s", req.Command)})
	}
}

func (s *Server) authorize(token string) bool {
	if token == "" {
		return false
	}
	return subtle.ConstantTimeCompare([]byte(token), []byte(s.token)) == 1
}

func (s *Server) writeTokenFile() error {
	if s.tokenFile == "" {
		return nil
	}
	if err := os.WriteFile(s.tokenFile, []byte(s.token), 0o600); err != nil {
		return fmt.Errorf("write token file: %w", err)
	}
	return nil
}

func (s *Server) removeTokenFile() {
	if s.tokenFile != "" {
		_ = os.Remove(s.tokenFile)
	}
}
