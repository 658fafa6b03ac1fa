// Package activation publishes session environment variables to the service
// activation brokers so that subsequently started units and D-Bus activated
// services observe them.
package activation

import (
	"context"
	"fmt"
	"strings"

	"github.com/godbus/dbus/v5"

	"github.com/furios/sessionswitch/internal/envset"
)

// Channel propagates environment assignments to the system activation broker.
// Publish failures are diagnostic only; callers continue regardless.
type Channel interface {
	Publish(ctx context.Context, set envset.Set) error
	Close() error
}

const (
	systemdDest      = "org.freedesktop.systemd1"
	systemdPath      = dbus.ObjectPath("/org/freedesktop/systemd1")
	setEnvironment   = "org.freedesktop.systemd1.Manager.SetEnvironment"
	busDest          = "org.freedesktop.DBus"
	busPath          = dbus.ObjectPath("/org/freedesktop/DBus")
	updateActivation = "org.freedesktop.DBus.UpdateActivationEnvironment"
)

// caller is the slice of dbus.BusObject that Publish needs. Narrowed to an
// interface so tests can substitute a recording fake for the live brokers.
type caller interface {
	CallWithContext(ctx context.Context, method string, flags dbus.Flags, args ...interface{}) *dbus.Call
}

type dbusChannel struct {
	conn    *dbus.Conn
	manager caller
	broker  caller
}

// Connect opens a channel to the user session brokers. When address is empty
// the ambient session bus is used; otherwise the bus at the given
// DBUS_SESSION_BUS_ADDRESS is dialed, which allows publishing into a session
// the switcher does not itself run inside.
func Connect(address string) (Channel, error) {
	var (
		conn *dbus.Conn
		err  error
	)
	if address == "" {
		conn, err = dbus.SessionBus()
	} else {
		conn, err = dbus.Connect(address)
	}
	if err != nil {
		return nil, fmt.Errorf("connect session bus: %w", err)
	}
	return &dbusChannel{
		conn:    conn,
		manager: conn.Object(systemdDest, systemdPath),
		broker:  conn.Object(busDest, busPath),
	}, nil
}

// Publish sends the set to the systemd user manager and to the D-Bus
// activation environment. Both brokers receive the same assignments; errors
// from either are combined so the caller can log a single diagnostic.
func (c *dbusChannel) Publish(ctx context.Context, set envset.Set) error {
	var failures []string

	if call := c.manager.CallWithContext(ctx, setEnvironment, 0, set.Pairs()); call.Err != nil {
		failures = append(failures, fmt.Sprintf("systemd user manager: %v", call.Err))
	}

	assignments := make(map[string]string, set.Len())
	for _, v := range set.Variables() {
		assignments[v.Name] = v.Value
	}
	if call := c.broker.CallWithContext(ctx, updateActivation, 0, assignments); call.Err != nil {
		failures = append(failures, fmt.Sprintf("dbus activation environment: %v", call.Err))
	}

	if len(failures) > 0 {
		return fmt.Errorf("publish environment: %s", strings.Join(failures, "; "))
	}
	return nil
}

func (c *dbusChannel) Close() error {
	return c.conn.Close()
}

type unavailableChannel struct {
	err error
}

// Unavailable returns a channel whose publishes always fail with the given
// cause. It lets a run proceed when the broker cannot be reached at all;
// every publish surfaces the original connection error as a diagnostic.
func Unavailable(err error) Channel {
	return unavailableChannel{err: err}
}

func (c unavailableChannel) Publish(ctx context.Context, set envset.Set) error {
	return fmt.Errorf("activation broker unavailable: %w", c.err)
}

func (c unavailableChannel) Close() error { return nil }
