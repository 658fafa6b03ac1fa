package envset

import (
	"fmt"
	"strings"
)

// Variable is a single NAME=value session environment assignment.
type Variable struct {
	Name  string
	Value string
}

// Set is an ordered collection of session environment variables. Order is
// preserved so that publication to the activation broker and log output are
// deterministic.
type Set struct {
	vars []Variable
}

// New builds a Set from the given variables in order. Later assignments to the
// same name replace earlier ones in place.
func New(vars ...Variable) Set {
	s := Set{}
	for _, v := range vars {
		s.put(v)
	}
	return s
}

func (s *Set) put(v Variable) {
	for i := range s.vars {
		if s.vars[i].Name == v.Name {
			s.vars[i].Value = v.Value
			return
		}
	}
	s.vars = append(s.vars, v)
}

// Pairs returns the assignments formatted as NAME=value, in insertion order.
// This is the wire format expected by the systemd environment calls.
func (s Set) Pairs() []string {
	out := make([]string, 0, len(s.vars))
	for _, v := range s.vars {
		out = append(out, fmt.Sprintf("%s=%s", v.Name, v.Value))
	}
	return out
}

// Variables returns a copy of the contained assignments in order.
func (s Set) Variables() []Variable {
	out := make([]Variable, len(s.vars))
	copy(out, s.vars)
	return out
}

// Get returns the value for name and whether it is present.
func (s Set) Get(name string) (string, bool) {
	for _, v := range s.vars {
		if v.Name == name {
			return v.Value, true
		}
	}
	return "", false
}

// Len reports the number of assignments in the set.
func (s Set) Len() int {
	return len(s.vars)
}

// Apply overlays the set onto an environment in the os.Environ slice format.
// Existing entries for the same variable are replaced rather than duplicated;
// variables not present in env are appended in set order.
func (s Set) Apply(env []string) []string {
	out := make([]string, 0, len(env)+len(s.vars))
	seen := make(map[string]bool, len(s.vars))
	for _, entry := range env {
		name, _, ok := strings.Cut(entry, "=")
		if !ok {
			out = append(out, entry)
			continue
		}
		if value, found := s.Get(name); found {
			out = append(out, fmt.Sprintf("%s=%s", name, value))
			seen[name] = true
			continue
		}
		out = append(out, entry)
	}
	for _, v := range s.vars {
		if !seen[v.Name] {
			out = append(out, fmt.Sprintf("%s=%s", v.Name, v.Value))
		}
	}
	return out
}

// String renders the set for log output.
func (s Set) String() string {
	return strings.Join(s.Pairs(), " ")
}

// Legacy returns the environment set selecting the X11 session protocol and
// its toolkit backends.
func Legacy() Set {
	return New(
		Variable{Name: "XDG_SESSION_TYPE", Value: "x11"},
		Variable{Name: "GDK_BACKEND", Value: "x11"},
		Variable{Name: "QT_QPA_PLATFORM", Value: "xcb"},
	)
}

// Default returns the environment set restoring the Wayland session protocol.
// It covers the same variable names as Legacy so restoration is a well-defined
// inverse of activation.
func Default() Set {
	return New(
		Variable{Name: "XDG_SESSION_TYPE", Value: "wayland"},
		Variable{Name: "GDK_BACKEND", Value: "wayland"},
		Variable{Name: "QT_QPA_PLATFORM", Value: "wayland"},
	)
}
