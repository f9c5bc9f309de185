package chatloop

import "strings"

// DirectiveName is the closed set of inline commands §4.G pre-flight
// recognizes in the leading line(s) of a user message.
type DirectiveName string

const (
	DirectiveThink  DirectiveName = "think"
	DirectiveModel  DirectiveName = "model"
	DirectiveReset  DirectiveName = "reset"
	DirectiveStatus DirectiveName = "status"
	DirectiveHelp   DirectiveName = "help"
)

// Directive is one parsed `/name arg` token.
type Directive struct {
	Name DirectiveName
	Arg  string
}

var directiveNames = map[string]DirectiveName{
	"think":  DirectiveThink,
	"model":  DirectiveModel,
	"reset":  DirectiveReset,
	"status": DirectiveStatus,
	"help":   DirectiveHelp,
}

// ParseDirectives scans the leading lines of msg for `/name [arg]` tokens,
// one per line, stopping at the first line that is not a recognized
// directive. It returns the remaining message text (directive lines
// stripped, leading/trailing blank lines trimmed) and the directives found
// in order. A message with no directives returns it unchanged.
//
// This is a plain token scanner, not a regexp: each candidate line is
// split on the first run of whitespace into a slash-token and an argument
// tail.
func ParseDirectives(msg string) (string, []Directive) {
	lines := strings.Split(msg, "\n")

	var directives []Directive
	consumed := 0
	for _, line := range lines {
		trimmed := strings.TrimSpace(line)
		if trimmed == "" {
			consumed++
			continue
		}
		name, arg, ok := parseDirectiveLine(trimmed)
		if !ok {
			break
		}
		directives = append(directives, Directive{Name: name, Arg: arg})
		consumed++
	}

	if len(directives) == 0 {
		return msg, nil
	}

	remaining := strings.Join(lines[consumed:], "\n")
	return strings.TrimSpace(remaining), directives
}

// parseDirectiveLine recognizes a single "/name arg..." line.
func parseDirectiveLine(line string) (DirectiveName, string, bool) {
	if !strings.HasPrefix(line, "/") {
		return "", "", false
	}
	body := line[1:]
	token := body
	arg := ""
	if idx := strings.IndexAny(body, " \t"); idx >= 0 {
		token = body[:idx]
		arg = strings.TrimSpace(body[idx+1:])
	}
	name, ok := directiveNames[strings.ToLower(token)]
	if !ok {
		return "", "", false
	}
	return name, arg, true
}
