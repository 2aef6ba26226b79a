package automation

import (
	"strconv"
	"strings"
)

const fence = "```"

type argKind int

const (
	argString argKind = iota
	argInt
)

type arg struct {
	kind argKind
	str  string
	num  int
}

// pattern is one call signature. Patterns are tried in table order and
// the first whose name and argument shape match wins.
type pattern struct {
	name  string
	shape []argKind
	build func(args []arg) (Command, bool)
}

var patterns = []pattern{
	{"CLICK", []argKind{argInt, argInt}, func(a []arg) (Command, bool) {
		if a[0].num < 0 || a[1].num < 0 {
			return Command{}, false
		}
		return Command{Type: CmdClick, X: a[0].num, Y: a[1].num}, true
	}},
	{"CLICK_ELEMENT", []argKind{argString}, func(a []arg) (Command, bool) {
		return Command{Type: CmdClickElement, Selector: a[0].str}, a[0].str != ""
	}},
	{"TYPE", []argKind{argString}, func(a []arg) (Command, bool) {
		return Command{Type: CmdType, Text: a[0].str}, a[0].str != ""
	}},
	{"FILL", []argKind{argString, argString}, func(a []arg) (Command, bool) {
		return Command{Type: CmdFill, Selector: a[0].str, Value: a[1].str}, a[0].str != ""
	}},
	{"PRESS", []argKind{argString}, func(a []arg) (Command, bool) {
		key, mods, ok := parseKeyCombo(a[0].str)
		return Command{Type: CmdPress, Key: key, Modifiers: mods}, ok
	}},
	{"SCROLL", []argKind{argInt}, func(a []arg) (Command, bool) {
		return Command{Type: CmdScroll, DeltaY: a[0].num}, true
	}},
	{"SCROLL", []argKind{argInt, argInt}, func(a []arg) (Command, bool) {
		return Command{Type: CmdScroll, DeltaX: a[0].num, DeltaY: a[1].num}, true
	}},
	{"NAVIGATE", []argKind{argString}, func(a []arg) (Command, bool) {
		return Command{Type: CmdNavigate, URL: a[0].str}, a[0].str != ""
	}},
	{"WAIT", []argKind{argInt}, func(a []arg) (Command, bool) {
		return Command{Type: CmdWait, Ms: a[0].num}, a[0].num >= 0
	}},
	{"FIND", []argKind{argString}, func(a []arg) (Command, bool) {
		return Command{Type: CmdFind, Selector: a[0].str}, a[0].str != ""
	}},
}

// Parse extracts commands from model output, one per matching line, in
// line order. Lines that are not a complete call are ignored; Parse never
// fails.
func Parse(text string) []Command {
	var cmds []Command
	for _, raw := range strings.Split(text, "\n") {
		line, isFence := stripFence(raw)
		if isFence || strings.TrimSpace(line) == "" {
			continue
		}
		if cmd, ok := parseLine(line); ok {
			cmds = append(cmds, cmd)
		}
	}
	return cmds
}

// Clean removes command lines and fence markers from text and collapses
// the blank-line runs left behind, leaving only the prose.
func Clean(text string) string {
	var out []string
	blank := false
	for _, raw := range strings.Split(text, "\n") {
		line, isFence := stripFence(raw)
		if isFence {
			continue
		}
		if _, ok := parseLine(line); ok {
			continue
		}
		line = strings.TrimRight(line, " \t\r")
		if line == "" {
			if len(out) > 0 {
				blank = true
			}
			continue
		}
		if blank {
			out = append(out, "")
			blank = false
		}
		out = append(out, line)
	}
	return strings.Join(out, "\n")
}

// stripFence removes triple-backtick markers from a line. A line that is
// only a fence, optionally with a language tag, reports isFence.
func stripFence(line string) (string, bool) {
	trimmed := strings.TrimSpace(line)
	if rest, ok := strings.CutPrefix(trimmed, fence); ok {
		if isLangTag(rest) {
			return "", true
		}
	}
	if !strings.Contains(line, fence) {
		return line, false
	}
	return strings.ReplaceAll(line, fence, ""), false
}

func isLangTag(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9':
		case r == '_' || r == '-' || r == '+' || r == '.':
		default:
			return false
		}
	}
	return true
}

func parseLine(line string) (Command, bool) {
	name, args, ok := splitCall(normalizeLine(line))
	if !ok {
		return Command{}, false
	}
	for _, p := range patterns {
		if p.name != name || !sameShape(p.shape, args) {
			continue
		}
		if cmd, ok := p.build(args); ok {
			return cmd, true
		}
	}
	return Command{}, false
}

// normalizeLine drops list bullets, inline-code backticks and a trailing
// semicolon.
func normalizeLine(line string) string {
	s := strings.TrimSpace(line)
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	switch {
	case strings.HasPrefix(s, "- "), strings.HasPrefix(s, "* "), strings.HasPrefix(s, "• "):
		_, s, _ = strings.Cut(s, " ")
	default:
		i := 0
		for i < len(s) && s[i] >= '0' && s[i] <= '9' {
			i++
		}
		if i > 0 && i+1 < len(s) && (s[i] == '.' || s[i] == ')') && s[i+1] == ' ' {
			s = s[i+2:]
		}
	}
	s = strings.TrimSpace(s)
	if len(s) >= 2 && s[0] == '`' && s[len(s)-1] == '`' {
		s = strings.TrimSpace(s[1 : len(s)-1])
	}
	s = strings.TrimSuffix(s, ";")
	return strings.TrimSpace(s)
}

// splitCall parses NAME(arg, ...) where the whole string must be the call.
func splitCall(s string) (string, []arg, bool) {
	open := strings.IndexByte(s, '(')
	if open <= 0 || !strings.HasSuffix(s, ")") {
		return "", nil, false
	}
	name := strings.TrimSpace(s[:open])
	for _, r := range name {
		if !(r >= 'a' && r <= 'z' || r >= 'A' && r <= 'Z' || r == '_') {
			return "", nil, false
		}
	}
	if name == "" {
		return "", nil, false
	}
	args, ok := scanArgs(s[open+1 : len(s)-1])
	if !ok {
		return "", nil, false
	}
	return strings.ToUpper(name), args, true
}

func scanArgs(s string) ([]arg, bool) {
	var args []arg
	i := 0
	skipSpace := func() {
		for i < len(s) && (s[i] == ' ' || s[i] == '\t') {
			i++
		}
	}

	skipSpace()
	if i == len(s) {
		return nil, true
	}
	for {
		skipSpace()
		if i >= len(s) {
			return nil, false
		}
		switch c := s[i]; {
		case c == '"':
			str, n, ok := scanString(s[i:])
			if !ok {
				return nil, false
			}
			args = append(args, arg{kind: argString, str: str})
			i += n
		case c == '-' || c >= '0' && c <= '9':
			j := i + 1
			for j < len(s) && s[j] >= '0' && s[j] <= '9' {
				j++
			}
			n, err := strconv.Atoi(s[i:j])
			if err != nil {
				return nil, false
			}
			args = append(args, arg{kind: argInt, num: n})
			i = j
		default:
			return nil, false
		}
		skipSpace()
		if i == len(s) {
			return args, true
		}
		if s[i] != ',' {
			return nil, false
		}
		i++
	}
}

// scanString reads a double-quoted string at the start of s and returns
// its value and the number of bytes consumed. Only \" and \\ are escapes;
// any other backslash is kept as written.
func scanString(s string) (string, int, bool) {
	var b strings.Builder
	for i := 1; i < len(s); i++ {
		switch s[i] {
		case '\\':
			if i+1 < len(s) && (s[i+1] == '"' || s[i+1] == '\\') {
				b.WriteByte(s[i+1])
				i++
				continue
			}
			b.WriteByte('\\')
		case '"':
			return b.String(), i + 1, true
		default:
			b.WriteByte(s[i])
		}
	}
	return "", 0, false
}

func sameShape(shape []argKind, args []arg) bool {
	if len(shape) != len(args) {
		return false
	}
	for i, k := range shape {
		if args[i].kind != k {
			return false
		}
	}
	return true
}

// parseKeyCombo splits "Ctrl+Shift+A" into the key and its modifier
// bitmask. A lone "+" or a trailing "+" names the plus key itself.
func parseKeyCombo(s string) (string, Modifier, bool) {
	s = strings.TrimSpace(s)
	if s == "" {
		return "", 0, false
	}
	if s == "+" {
		return "+", 0, true
	}
	parts := strings.Split(s, "+")
	key := parts[len(parts)-1]
	prefix := parts[:len(parts)-1]
	if key == "" {
		// "Ctrl++"
		if len(parts) < 3 || parts[len(parts)-2] != "" {
			return "", 0, false
		}
		key = "+"
		prefix = parts[:len(parts)-2]
	}
	var mods Modifier
	for _, p := range prefix {
		m, ok := lookupModifier(strings.TrimSpace(p))
		if !ok {
			return "", 0, false
		}
		mods |= m
	}
	key = strings.TrimSpace(key)
	if key == "" {
		return "", 0, false
	}
	return key, mods, true
}
