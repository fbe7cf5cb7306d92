// Package colorize highlights report JSON and disassembly for terminals.
// Setting MDVIEW_NO_COLOR disables it.
package colorize

import (
	"fmt"
	"os"
	"strings"

	"github.com/alecthomas/chroma/v2"
	"github.com/alecthomas/chroma/v2/formatters"
	"github.com/alecthomas/chroma/v2/lexers"
	"github.com/alecthomas/chroma/v2/styles"
)

// Disabled reports whether MDVIEW_NO_COLOR is set.
func Disabled() bool {
	return os.Getenv("MDVIEW_NO_COLOR") != ""
}

func firstLexer(names ...string) chroma.Lexer {
	for _, name := range names {
		if lexer := lexers.Get(name); lexer != nil {
			return lexer
		}
	}
	return nil
}

func style() *chroma.Style {
	for _, name := range []string{"mdview-dark", "dracula", "monokai"} {
		if s := styles.Get(name); s != nil {
			return s
		}
	}
	return styles.Fallback
}

func terminalFormatter() chroma.Formatter {
	for _, name := range []string{"terminal16m", "terminal256"} {
		if f := formatters.Get(name); f != nil {
			return f
		}
	}
	return formatters.Fallback
}

// highlight runs code through lexer. Any failure returns code unchanged.
func highlight(lexer chroma.Lexer, code string) string {
	if Disabled() || lexer == nil {
		return code
	}
	it, err := lexer.Tokenise(nil, code)
	if err != nil {
		return code
	}
	var buf strings.Builder
	if err := terminalFormatter().Format(&buf, style(), it); err != nil {
		return code
	}
	return buf.String()
}

// JSON highlights a JSON document.
func JSON(doc string) string {
	return highlight(firstLexer("json"), doc)
}

// Assembly highlights a block of disassembly in Intel or GNU syntax.
func Assembly(code string) string {
	return highlight(firstLexer("nasm", "gas", "armasm"), code)
}

// InstructionLine highlights one "address  bytes  text" line as printed
// by the disassembler: the address is grayed and the rest lexed.
func InstructionLine(line string) string {
	if Disabled() {
		return line
	}
	addr, rest, ok := strings.Cut(line, " ")
	if !ok || !isHex(addr) {
		return Assembly(line)
	}
	return fmt.Sprintf("\033[38;2;79;79;79m%s\033[0m %s", addr, Assembly(rest))
}

func isHex(s string) bool {
	if s == "" {
		return false
	}
	for i := 0; i < len(s); i++ {
		ch := s[i]
		if !((ch >= '0' && ch <= '9') || (ch >= 'a' && ch <= 'f') || (ch >= 'A' && ch <= 'F')) {
			return false
		}
	}
	return true
}

// StripANSI removes SGR escape sequences.
func StripANSI(s string) string {
	var b strings.Builder
	inEscape := false
	for _, r := range s {
		switch {
		case r == '\x1b':
			inEscape = true
		case inEscape:
			if r == 'm' {
				inEscape = false
			}
		default:
			b.WriteRune(r)
		}
	}
	return b.String()
}
