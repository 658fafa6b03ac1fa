// Package units starts, stops and inspects systemd units over D-Bus. It backs
// the best-effort orchestration of the display driver services around a
// session switch.
package units

import (
	"context"
	"fmt"

	"github.com/godbus/dbus/v5"
)

const (
	systemdDest    = "org.freedesktop.systemd1"
	systemdPath    = dbus.ObjectPath("/org/freedesktop/systemd1")
	managerIface   = "org.freedesktop.systemd1.Manager"
	unitIface      = "org.freedesktop.systemd1.Unit"
	startUnit      = managerIface + ".StartUnit"
	stopUnit       = managerIface + ".StopUnit"
	getUnit        = managerIface + ".GetUnit"
	jobModeReplace = "replace"
)

// Manager controls systemd units. Implementations talk to either the system
// or the session service manager.
type Manager interface {
	Start(ctx context.Context, unit string) error
	Stop(ctx context.Context, unit string) error
	Active(ctx context.Context, unit string) (bool, error)
	Close() error
}

type dbusManager struct {
	conn *dbus.Conn
}

// System connects to the system service manager.
func System() (Manager, error) {
	conn, err := dbus.SystemBus()
	if err != nil {
		return nil, fmt.Errorf("connect system bus: %w", err)
	}
	return &dbusManager{conn: conn}, nil
}

func (m *dbusManager) manager() dbus.BusObject {
	return m.conn.Object(systemdDest, systemdPath)
}

func (m *dbusManager) Start(ctx context.Context, unit string) error {
	call := m.manager().CallWithContext(ctx, startUnit, 0, unit, jobModeReplace)
	if call.Err != nil {
		return fmt.Errorf("start %s: %w", unit, call.Err)
	}
	return nil
}

func (m *dbusManager) Stop(ctx context.Context, unit string) error {
	call := m.manager().CallWithContext(ctx, stopUnit, 0, unit, jobModeReplace)
	if call.Err != nil {
		return fmt.Errorf("stop %s: %w", unit, call.Err)
	}
	return nil
}

// Active reports whether the unit's ActiveState is "active". An unloaded unit
// is reported as inactive rather than as an error.
func (m *dbusManager) Active(ctx context.Context, unit string) (bool, error) {
	call := m.manager().CallWithContext(ctx, getUnit, 0, unit)
	if call.Err != nil {
		if dbusErr, ok := call.Err.(dbus.Error); ok && dbusErr.Name == "org.freedesktop.systemd1.NoSuchUnit" {
			return false, nil
		}
		return false, fmt.Errorf("query %s: %w", unit, call.Err)
	}

	var unitPath dbus.ObjectPath
	if err := call.Store(&unitPath); err != nil {
		return false, fmt.Errorf("query %s: %w", unit, err)
	}

	variant, err := m.conn.Object(systemdDest, unitPath).GetProperty(unitIface + ".ActiveState")
	if err != nil {
		return false, fmt.Errorf("query %s state: %w", unit, err)
	}
	state, _ := variant.Value().(string)
	return state == "active", nil
}

func (m *dbusManager) Close() error {
	return m.conn.Close()
}
