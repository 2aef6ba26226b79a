package automation

import (
	"fmt"
	"strings"
	"unicode"
	"unicode/utf8"

	"github.com/go-rod/rod/lib/input"
)

// keyInfo is what a key event needs: DOM key and code, the Windows virtual
// key code and the text the key produces, if any.
type keyInfo struct {
	key     string
	code    string
	keyCode int
	text    string
}

var namedKeys = map[string]input.Key{
	"enter":      input.Enter,
	"return":     input.Enter,
	"tab":        input.Tab,
	"escape":     input.Escape,
	"esc":        input.Escape,
	"backspace":  input.Backspace,
	"delete":     input.Delete,
	"del":        input.Delete,
	"arrowup":    input.ArrowUp,
	"up":         input.ArrowUp,
	"arrowdown":  input.ArrowDown,
	"down":       input.ArrowDown,
	"arrowleft":  input.ArrowLeft,
	"left":       input.ArrowLeft,
	"arrowright": input.ArrowRight,
	"right":      input.ArrowRight,
	"home":       input.Home,
	"end":        input.End,
	"pageup":     input.PageUp,
	"pagedown":   input.PageDown,
	"space":      input.Space,
}

// text produced by named keys
var namedKeyText = map[input.Key]string{
	input.Enter: "\r",
	input.Space: " ",
}

// domKeyName is KeyboardEvent.key for a named key. rod's Info().Key holds
// the produced character ("\r" for Enter), so the code name is used except
// for Space, whose DOM key is the space itself.
func domKeyName(k input.Key) string {
	if k == input.Space {
		return " "
	}
	return k.Info().Code
}

// resolveKey maps a key name or single character to its event fields.
// Keys pressed with Ctrl, Alt or Meta produce no text.
func resolveKey(name string, mods Modifier) (keyInfo, error) {
	var ki keyInfo
	normalized := strings.ToLower(strings.NewReplacer(" ", "", "_", "", "-", "").Replace(name))
	if k, ok := namedKeys[normalized]; ok {
		info := k.Info()
		ki = keyInfo{key: domKeyName(k), code: info.Code, keyCode: info.KeyCode, text: namedKeyText[k]}
	} else if utf8.RuneCountInString(name) == 1 {
		ki = literalKey([]rune(name)[0], mods&ModShift != 0)
	} else {
		return ki, fmt.Errorf("unknown key %q", name)
	}
	if mods&(ModCtrl|ModAlt|ModMeta) != 0 {
		ki.text = ""
	}
	return ki, nil
}

func literalKey(r rune, shift bool) keyInfo {
	ki := keyInfo{key: string(r), text: string(r)}
	switch {
	case r < unicode.MaxASCII && unicode.IsLetter(r):
		up := unicode.ToUpper(r)
		ki.code = "Key" + string(up)
		ki.keyCode = int(up)
		if shift {
			ki.key = string(up)
			ki.text = string(up)
		}
	case r >= '0' && r <= '9':
		ki.code = "Digit" + string(r)
		ki.keyCode = int(r)
	}
	return ki
}
