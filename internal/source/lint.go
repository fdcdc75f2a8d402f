package source

import (
	"errors"
	"strings"
)

var (
	errEmptyScript       = errors.New("script is empty")
	errNoStatements      = errors.New("no SQL statements found after removing comments")
	errUnmatchedClosing  = errors.New("unmatched closing parenthesis")
	errUnmatchedOpening  = errors.New("unmatched opening parenthesis")
	errUnterminatedQuote = errors.New("unterminated string literal")
	errUnterminatedBlock = errors.New("unterminated block comment")
)

// lintSQL rejects scripts that cannot be meaningful: empty, comment-only, or
// with unbalanced parentheses or quotes outside comments. PostgreSQL
// dollar-quoted bodies and E'...' backslash escapes are honoured. It is not a
// parser.
// Byte iteration is safe because every character it inspects is ASCII.
func lintSQL(content string) error {
	if strings.TrimSpace(content) == "" {
		return errEmptyScript
	}

	var (
		depth      int
		quote      byte
		escapes    bool
		statements bool
	)
	for i := 0; i < len(content); i++ {
		c := content[i]
		if quote != 0 {
			if escapes && c == '\\' {
				i++
				continue
			}
			if c == quote {
				// a doubled quote is an escaped quote
				if i+1 < len(content) && content[i+1] == quote {
					i++
					continue
				}
				quote = 0
			}
			continue
		}

		if strings.HasPrefix(content[i:], "--") {
			end := strings.IndexByte(content[i:], '\n')
			if end < 0 {
				break
			}
			i += end
			continue
		}
		if strings.HasPrefix(content[i:], "/*") {
			end := strings.Index(content[i+2:], "*/")
			if end < 0 {
				return errUnterminatedBlock
			}
			i += end + 3
			continue
		}

		if tag := dollarTag(content, i); tag != "" {
			end := strings.Index(content[i+len(tag):], tag)
			if end < 0 {
				return errUnterminatedQuote
			}
			i += len(tag) + end + len(tag) - 1
			statements = true
			continue
		}

		switch c {
		case '\'', '"':
			quote = c
			escapes = c == '\'' && escapeStringPrefix(content, i)
		case '(':
			depth++
		case ')':
			depth--
			if depth < 0 {
				return errUnmatchedClosing
			}
		}
		if c != ';' && c != ' ' && c != '\t' && c != '\n' && c != '\r' {
			statements = true
		}
	}

	switch {
	case quote != 0:
		return errUnterminatedQuote
	case !statements:
		return errNoStatements
	case depth != 0:
		return errUnmatchedOpening
	}
	return nil
}

// dollarTag returns the opening tag of a PostgreSQL dollar-quoted string
// ($$ or $name$) starting at i, or "" when there is none.
func dollarTag(content string, i int) string {
	if content[i] != '$' || (i > 0 && isIdentByte(content[i-1])) {
		return ""
	}
	for j := i + 1; j < len(content); j++ {
		c := content[j]
		switch {
		case c == '$':
			return content[i : j+1]
		case c == '_' || isLetter(c) || (j > i+1 && isDigit(c)):
		default:
			return ""
		}
	}
	return ""
}

// escapeStringPrefix reports whether the quote at i opens an E'...' literal,
// in which backslash escapes the next character.
func escapeStringPrefix(content string, i int) bool {
	if i == 0 || (content[i-1] != 'E' && content[i-1] != 'e') {
		return false
	}
	return i == 1 || !isIdentByte(content[i-2])
}

func isLetter(c byte) bool { return (c >= 'a' && c <= 'z') || (c >= 'A' && c <= 'Z') }

func isDigit(c byte) bool { return c >= '0' && c <= '9' }

func isIdentByte(c byte) bool { return c == '_' || c == '$' || isLetter(c) || isDigit(c) }
