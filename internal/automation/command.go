// Package automation turns model-authored command text into input events
// against a live page: a line grammar, a two-tier executor (protocol
// input first, DOM script second) and a sequential step tracker.
package automation

import (
	"fmt"
	"strings"
)

// CommandType names one command in the grammar.
type CommandType string

const (
	CmdClick        CommandType = "click"
	CmdClickElement CommandType = "click_element"
	CmdType         CommandType = "type"
	CmdFill         CommandType = "fill"
	CmdPress        CommandType = "press"
	CmdScroll       CommandType = "scroll"
	CmdNavigate     CommandType = "navigate"
	CmdWait         CommandType = "wait"
	CmdFind         CommandType = "find"
)

// Modifier is the CDP key-modifier bitmask.
type Modifier int

const (
	ModAlt   Modifier = 1
	ModCtrl  Modifier = 2
	ModMeta  Modifier = 4
	ModShift Modifier = 8
)

var modifierNames = []struct {
	mod   Modifier
	names []string
}{
	{ModCtrl, []string{"ctrl", "control"}},
	{ModAlt, []string{"alt", "option"}},
	{ModShift, []string{"shift"}},
	{ModMeta, []string{"meta", "cmd", "command", "super"}},
}

func lookupModifier(name string) (Modifier, bool) {
	name = strings.ToLower(name)
	for _, m := range modifierNames {
		for _, n := range m.names {
			if n == name {
				return m.mod, true
			}
		}
	}
	return 0, false
}

func (m Modifier) String() string {
	var parts []string
	for _, mn := range modifierNames {
		if m&mn.mod != 0 {
			parts = append(parts, strings.ToUpper(mn.names[0][:1])+mn.names[0][1:])
		}
	}
	return strings.Join(parts, "+")
}

// Command is one parsed automation instruction. Only the fields relevant
// to Type are set.
type Command struct {
	Type      CommandType `json:"type"`
	X         int         `json:"x,omitempty"`
	Y         int         `json:"y,omitempty"`
	Selector  string      `json:"selector,omitempty"`
	Text      string      `json:"text,omitempty"`
	Value     string      `json:"value,omitempty"`
	Key       string      `json:"key,omitempty"`
	Modifiers Modifier    `json:"modifiers,omitempty"`
	DeltaX    int         `json:"deltaX,omitempty"`
	DeltaY    int         `json:"deltaY,omitempty"`
	URL       string      `json:"url,omitempty"`
	Ms        int         `json:"ms,omitempty"`
}

// Describe renders the command for step lists and logs.
func (c Command) Describe() string {
	switch c.Type {
	case CmdClick:
		return fmt.Sprintf("Click at (%d, %d)", c.X, c.Y)
	case CmdClickElement:
		return fmt.Sprintf("Click %s", c.Selector)
	case CmdType:
		return fmt.Sprintf("Type %q", ellipsize(c.Text, 40))
	case CmdFill:
		return fmt.Sprintf("Fill %s with %q", c.Selector, ellipsize(c.Value, 40))
	case CmdPress:
		if c.Modifiers != 0 {
			return fmt.Sprintf("Press %s+%s", c.Modifiers, c.Key)
		}
		return fmt.Sprintf("Press %s", c.Key)
	case CmdScroll:
		return fmt.Sprintf("Scroll by (%d, %d)", c.DeltaX, c.DeltaY)
	case CmdNavigate:
		return fmt.Sprintf("Navigate to %s", c.URL)
	case CmdWait:
		return fmt.Sprintf("Wait %dms", c.Ms)
	case CmdFind:
		return fmt.Sprintf("Find %s", c.Selector)
	default:
		return string(c.Type)
	}
}

func ellipsize(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "…"
}
