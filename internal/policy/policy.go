// Package policy implements the authorization predicate that lets the session
// owner manage the display driver units without interactive prompts, and
// renders the matching polkit rules file.
package policy

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"strings"
)

// Action identifiers understood by the predicate. They correspond to the unit
// operations brokered through the service manager's polkit checks.
const (
	ActionManageUnit  = "manage-unit"
	ActionStartUnit   = "start-unit"
	ActionStopUnit    = "stop-unit"
	ActionRestartUnit = "restart-unit"
)

// Decision is the predicate outcome. Defer means the default policy applies.
type Decision int

const (
	Defer Decision = iota
	Grant
)

func (d Decision) String() string {
	if d == Grant {
		return "grant"
	}
	return "defer"
}

// Request carries the inputs of a single authorization check.
type Request struct {
	Action   string
	Unit     string
	Identity string
}

// Rule grants one identity non-interactive control over a fixed set of units.
type Rule struct {
	Identity string
	Units    []string
}

// DefaultRule is the shipped policy: the session-owning identity may manage
// the two external display services.
func DefaultRule() Rule {
	return Rule{
		Identity: "furios",
		Units: []string{
			"displaylink-driver.service",
			"external-display-display-server.service",
		},
	}
}

// Decide evaluates the predicate. Anything outside the rule's identity, unit
// set, or recognized actions defers to default policy rather than denying.
func (r Rule) Decide(req Request) Decision {
	switch req.Action {
	case ActionManageUnit, ActionStartUnit, ActionStopUnit, ActionRestartUnit:
	default:
		return Defer
	}
	if req.Identity != r.Identity {
		return Defer
	}
	for _, unit := range r.Units {
		if req.Unit == unit {
			return Grant
		}
	}
	return Defer
}

// RulesFileName is the polkit rules file installed under
// /etc/polkit-1/rules.d.
const RulesFileName = "50-sessionswitch-display.rules"

// Render produces the polkit JavaScript rule equivalent to Decide.
func (r Rule) Render() (string, error) {
	if r.Identity == "" {
		return "", errors.New("rule missing identity")
	}
	if len(r.Units) == 0 {
		return "", errors.New("rule missing units")
	}

	conditions := make([]string, 0, len(r.Units))
	for _, unit := range r.Units {
		conditions = append(conditions, fmt.Sprintf("unit == %q", unit))
	}

	var b strings.Builder
	b.WriteString("// Allow the session owner to manage the external display services\n")
	b.WriteString("// without interactive authentication.\n")
	b.WriteString("polkit.addRule(function(action, subject) {\n")
	b.WriteString("    if (action.id == \"org.freedesktop.systemd1.manage-units\" &&\n")
	fmt.Fprintf(&b, "        subject.user == %q) {\n", r.Identity)
	b.WriteString("        var unit = action.lookup(\"unit\");\n")
	fmt.Fprintf(&b, "        if (%s) {\n", strings.Join(conditions, " ||\n            "))
	b.WriteString("            return polkit.Result.YES;\n")
	b.WriteString("        }\n")
	b.WriteString("    }\n")
	b.WriteString("});\n")
	return b.String(), nil
}

// Install writes the rendered rules file into dir atomically.
func (r Rule) Install(dir string) (string, error) {
	content, err := r.Render()
	if err != nil {
		return "", err
	}
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return "", fmt.Errorf("ensure rules directory: %w", err)
	}
	path := filepath.Join(dir, RulesFileName)
	tempFile := path + ".tmp"
	if err := os.WriteFile(tempFile, []byte(content), 0o644); err != nil {
		return "", fmt.Errorf("write rules file: %w", err)
	}
	if err := os.Rename(tempFile, path); err != nil {
		return "", fmt.Errorf("install rules file: %w", err)
	}
	return path, nil
}
