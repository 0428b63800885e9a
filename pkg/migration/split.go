package migration

import "strings"

// SplitStatements splits a SQL script into statements on top-level
// semicolons. Semicolons inside string literals, quoted identifiers,
// dollar-quoted bodies and comments do not terminate a statement.
// Comment-only statements are dropped.
func SplitStatements(script string) []string {
	var (
		statements []string
		current    strings.Builder
		hasCode    bool
	)

	flush := func() {
		stmt := strings.TrimSpace(current.String())
		if stmt != "" && hasCode {
			statements = append(statements, stmt)
		}
		current.Reset()
		hasCode = false
	}

	for i := 0; i < len(script); {
		c := script[i]
		switch {
		case c == '-' && i+1 < len(script) && script[i+1] == '-':
			end := strings.IndexByte(script[i:], '\n')
			if end == -1 {
				end = len(script) - i
			}
			current.WriteString(script[i : i+end])
			i += end

		case c == '/' && i+1 < len(script) && script[i+1] == '*':
			end := strings.Index(script[i+2:], "*/")
			if end == -1 {
				current.WriteString(script[i:])
				i = len(script)
				break
			}
			current.WriteString(script[i : i+2+end+2])
			i += 2 + end + 2

		case c == '\'' || c == '"':
			n := quotedLength(script[i:], c)
			current.WriteString(script[i : i+n])
			hasCode = true
			i += n

		case c == '$':
			if tag, ok := dollarTag(script[i:]); ok {
				end := strings.Index(script[i+len(tag):], tag)
				n := len(script) - i
				if end != -1 {
					n = len(tag) + end + len(tag)
				}
				current.WriteString(script[i : i+n])
				hasCode = true
				i += n
				break
			}
			current.WriteByte(c)
			hasCode = true
			i++

		case c == ';':
			flush()
			i++

		default:
			current.WriteByte(c)
			if c != ' ' && c != '\t' && c != '\n' && c != '\r' {
				hasCode = true
			}
			i++
		}
	}
	flush()

	return statements
}

// quotedLength returns the length of the quoted token at the start of s,
// treating a doubled quote as an escape. An unterminated token runs to the end.
func quotedLength(s string, quote byte) int {
	for i := 1; i < len(s); i++ {
		if s[i] != quote {
			continue
		}
		if i+1 < len(s) && s[i+1] == quote {
			i++
			continue
		}
		return i + 1
	}
	return len(s)
}

// dollarTag returns the opening $tag$ at the start of s.
func dollarTag(s string) (string, bool) {
	for i := 1; i < len(s); i++ {
		c := s[i]
		if c == '$' {
			return s[:i+1], true
		}
		isLetter := c == '_' || (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z')
		isDigit := c >= '0' && c <= '9'
		if !isLetter && !(isDigit && i > 1) {
			return "", false
		}
	}
	return "", false
}
