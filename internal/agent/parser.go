// Package agent implements the parsing contract between the language-model
// oracle and the query execution engine: free-form model output is turned
// into a tagged decision, and tool observations are accumulated into a
// step-numbered scratchpad.
package agent

import (
	"fmt"
	"strings"
)

// actionPrefix marks the line of model output that carries the decision.
const actionPrefix = "Action: "

// AnswerAction is the terminal action name the oracle emits when it has found
// the answer to the query.
const AnswerAction = "ANSWER"

// Kind discriminates parsed decisions.
type Kind int

const (
	// KindTool is a browser tool invocation with ordered string arguments.
	KindTool Kind = iota
	// KindAnswer is the terminal answer action.
	KindAnswer
	// KindRetry signals that the model output could not be parsed and the
	// oracle should be re-prompted. It is a control signal, not an error.
	KindRetry
)

// Decision is one parsed oracle prediction.
type Decision struct {
	Kind Kind
	Name string
	Args []string
	// Diagnostic embeds the raw model output verbatim when Kind is KindRetry
	// so the caller can log it or feed it back into the next prompt.
	Diagnostic string
}

// Parse turns one raw oracle output into a Decision. It is total: malformed
// input never fails, it yields a KindRetry decision instead.
func Parse(text string) Decision {
	line := lastNonEmptyLine(text)
	if !strings.HasPrefix(line, actionPrefix) {
		return Decision{
			Kind:       KindRetry,
			Diagnostic: fmt.Sprintf("could not parse model output: %s", text),
		}
	}

	rest := strings.TrimPrefix(line, actionPrefix)
	name, remainder, hasArgs := cutWhitespace(rest)
	// "ANSWER; [content]" splits with the separator still attached to the name.
	name = strings.TrimSuffix(strings.TrimSpace(name), ";")

	kind := KindTool
	if name == AnswerAction {
		kind = KindAnswer
	}
	if !hasArgs {
		return Decision{Kind: kind, Name: name}
	}

	pieces := strings.Split(remainder, ";")
	args := make([]string, 0, len(pieces))
	for _, piece := range pieces {
		args = append(args, trimBrackets(strings.TrimSpace(piece)))
	}
	return Decision{Kind: kind, Name: name, Args: args}
}

// lastNonEmptyLine returns the last line of text that contains any
// non-whitespace character, or "" if there is none.
func lastNonEmptyLine(text string) string {
	lines := strings.Split(text, "\n")
	for i := len(lines) - 1; i >= 0; i-- {
		if strings.TrimSpace(lines[i]) != "" {
			return strings.TrimSpace(lines[i])
		}
	}
	return ""
}

// cutWhitespace splits s around the first whitespace run.
func cutWhitespace(s string) (before, after string, found bool) {
	idx := strings.IndexAny(s, " \t")
	if idx < 0 {
		return s, "", false
	}
	return s[:idx], strings.TrimLeft(s[idx:], " \t"), true
}

// trimBrackets removes a single layer of enclosing square brackets.
func trimBrackets(s string) string {
	s = strings.TrimPrefix(s, "[")
	return strings.TrimSuffix(s, "]")
}
