package console

import "strings"

// Split breaks line into whitespace separated fields. Double quotes group a
// field, which may be empty, and a backslash escapes the next character
// inside quotes.
func Split(line string) []string {
	var (
		fields  []string
		cur     strings.Builder
		inQuote bool
		inField bool
	)
	for i := 0; i < len(line); i++ {
		c := line[i]
		switch {
		case inQuote && c == '\\' && i+1 < len(line):
			i++
			cur.WriteByte(line[i])
		case c == '"':
			inQuote = !inQuote
			inField = true
		case !inQuote && (c == ' ' || c == '\t'):
			if inField {
				fields = append(fields, cur.String())
				cur.Reset()
				inField = false
			}
		default:
			cur.WriteByte(c)
			inField = true
		}
	}
	if inField {
		fields = append(fields, cur.String())
	}
	return fields
}

// Quote wraps s in double quotes, escaping quotes and backslashes so Split
// reads it back as one field.
func Quote(s string) string {
	var b strings.Builder
	b.WriteByte('"')
	for i := 0; i < len(s); i++ {
		if s[i] == '"' || s[i] == '\\' {
			b.WriteByte('\\')
		}
		b.WriteByte(s[i])
	}
	b.WriteByte('"')
	return b.String()
}
