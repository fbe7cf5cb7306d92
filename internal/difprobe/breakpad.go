package difprobe

import (
	"bufio"
	"bytes"
	"encoding/hex"
	"fmt"
	"strconv"
	"strings"
)

// probeBreakpad reads the MODULE header of a Breakpad text symbol file and
// its INFO, FUNC and PUBLIC records.
func probeBreakpad(data []byte) (*Meta, []rawSymbol, error) {
	sc := bufio.NewScanner(bytes.NewReader(data))
	sc.Buffer(make([]byte, 64*1024), 1024*1024)
	if !sc.Scan() {
		return nil, nil, fmt.Errorf("difprobe: empty breakpad file")
	}
	// MODULE <os> <arch> <id> <name>; the name may contain spaces.
	fields := strings.SplitN(strings.TrimSpace(sc.Text()), " ", 5)
	if len(fields) < 4 {
		return nil, nil, fmt.Errorf("difprobe: malformed breakpad MODULE record %q", sc.Text())
	}
	m := &Meta{Kind: KindDebug, Format: FormatBreakpad, Arch: ptr(fields[2])}
	id, err := breakpadDebugID(fields[3])
	if err != nil {
		return nil, nil, err
	}
	m.DebugID = ptr(id)

	var syms []rawSymbol
	for sc.Scan() {
		line := sc.Text()
		switch {
		case strings.HasPrefix(line, "INFO CODE_ID "):
			if f := strings.Fields(line); len(f) >= 3 {
				m.CodeID = ptr(strings.ToLower(f[2]))
			}
		case strings.HasPrefix(line, "FUNC "):
			// FUNC [m] <addr> <size> <params> <name>
			if s, ok := breakpadSymbol(strings.TrimPrefix(line, "FUNC "), 4); ok {
				syms = append(syms, s)
			}
		case strings.HasPrefix(line, "PUBLIC "):
			// PUBLIC [m] <addr> <params> <name>
			if s, ok := breakpadSymbol(strings.TrimPrefix(line, "PUBLIC "), 3); ok {
				syms = append(syms, s)
			}
		}
	}
	if err := sc.Err(); err != nil {
		return nil, nil, fmt.Errorf("difprobe: read breakpad file: %w", err)
	}
	return m, syms, nil
}

func breakpadSymbol(rest string, n int) (rawSymbol, bool) {
	rest = strings.TrimPrefix(rest, "m ")
	f := strings.SplitN(rest, " ", n)
	if len(f) < n {
		return rawSymbol{}, false
	}
	addr, err := strconv.ParseUint(f[0], 16, 64)
	if err != nil {
		return rawSymbol{}, false
	}
	return rawSymbol{addr: addr, name: f[n-1]}, true
}

// breakpadDebugID converts the 33+ hex digit module id into the dashed
// form: 32 digits of GUID then the age.
func breakpadDebugID(s string) (string, error) {
	if len(s) < 32 {
		return "", fmt.Errorf("difprobe: breakpad module id %q too short", s)
	}
	raw, err := hex.DecodeString(s[:32])
	if err != nil {
		return "", fmt.Errorf("difprobe: breakpad module id: %w", err)
	}
	age := uint64(0)
	if s[32:] != "" {
		if age, err = strconv.ParseUint(s[32:], 16, 32); err != nil {
			return "", fmt.Errorf("difprobe: breakpad module age: %w", err)
		}
	}
	return debugID(guidRaw(raw), uint32(age)), nil
}
