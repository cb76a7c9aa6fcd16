package script

import "strings"

// Scan splits script source text into Lines: optional label, opcode
// mnemonic, whitespace-separated operands (spec §6's link-script grammar).
// Blank lines are skipped; trailing whitespace is stripped. This is the
// deliberately minimal stand-in for spec §1's out-of-scope tokenizer —
// see the Cursor doc comment in types.go.
func Scan(src string) []Line {
	var lines []Line
	for i, raw := range strings.Split(src, "\n") {
		text := strings.TrimRight(raw, " \t\r")
		if text == "" {
			continue
		}
		fields := strings.Fields(text)
		if len(fields) == 0 {
			continue
		}

		idx := 0
		label := ""
		// A label occupies column 1: if the raw line does not start with
		// whitespace, the first field is a label and the opcode follows.
		if len(raw) > 0 && raw[0] != ' ' && raw[0] != '\t' {
			label = fields[0]
			idx = 1
		}
		if idx >= len(fields) {
			continue
		}
		op := strings.ToUpper(fields[idx])
		operands := fields[idx+1:]

		lines = append(lines, Line{
			Label: label,
			Op:    op,
			Cursor: &Cursor{tokens: operands},
			Num:   i + 1,
		})
	}
	return lines
}
