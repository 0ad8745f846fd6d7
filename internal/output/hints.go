package output

import (
	"fmt"
	"strings"
)

// CommandHints maps command names to related commands users might want to run next
var CommandHints = map[string][]string{
	"login":           {"dashboard", "session show"},
	"logout":          {"login"},
	"session show":    {"session refresh", "logout"},
	"session refresh": {"session show"},
	"dashboard":       {"loans", "notifications"},
	"loans":           {"dashboard"},
	"upload":          {"me"},
}

// PrintHints prints "See also" hints for a command. No-op if the command has no hints.
func (p *Printer) PrintHints(command string) {
	hints, ok := CommandHints[command]
	if !ok || len(hints) == 0 {
		return
	}

	cmds := make([]string, len(hints))
	for i, h := range hints {
		cmds[i] = "cfmctl " + h
	}
	fmt.Fprintf(p.out, "\nSee also: %s\n", strings.Join(cmds, ", "))
}
