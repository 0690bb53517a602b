package session

import "strings"

type InputKind string

const (
	InputEmpty   InputKind = "empty"
	InputCommand InputKind = "command"
	InputMessage InputKind = "message"
)

// Input is one parsed line of user input.
type Input struct {
	Kind    InputKind
	Command string
	Args    []string
	Text    string
}

var commandAliases = map[string]string{
	"rewind":  "rw",
	"forward": "fw",
	"merge":   "mu",
}

// ParseInput splits a line into a "!cmd args..." command or a plain
// message. Command names are lowercased.
func ParseInput(line string) Input {
	line = strings.TrimSpace(line)
	if line == "" {
		return Input{Kind: InputEmpty}
	}
	if !strings.HasPrefix(line, "!") {
		return Input{Kind: InputMessage, Text: line}
	}
	parts := strings.Fields(line)
	head := strings.ToLower(strings.TrimPrefix(parts[0], "!"))
	if alias, ok := commandAliases[head]; ok {
		head = alias
	}
	return Input{Kind: InputCommand, Command: head, Args: parts[1:]}
}
