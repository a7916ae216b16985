package tui

import (
	"fmt"
	"strings"
)

// Command represents a parsed command.
type Command struct {
	Name string
	Args []string
}

// commandNames are offered for completion in the prompt.
var commandNames = []string{"app", "category", "flush", "help", "quit", "read", "start", "sync"}

// ParseCommand parses a command string (without the leading ':').
func ParseCommand(input string) Command {
	fields := strings.Fields(input)
	if len(fields) == 0 {
		return Command{}
	}
	return Command{Name: strings.ToLower(fields[0]), Args: fields[1:]}
}

// Arity checks that the command got exactly n arguments.
func (c Command) Arity(n int, usage string) error {
	if len(c.Args) != n {
		return fmt.Errorf("usage: :%s %s", c.Name, usage)
	}
	return nil
}
