// Package sql guards generated SQL before it reaches a target database.
package sql

import (
	"errors"
	"strings"
)

var (
	// ErrMultipleStatements indicates the query contains multiple SQL statements.
	ErrMultipleStatements = errors.New("multiple SQL statements not allowed; only single statements are permitted")
	// ErrEmptyStatement indicates there was no SQL to validate.
	ErrEmptyStatement = errors.New("empty SQL statement")
)

// Normalize trims whitespace and a single trailing semicolon, then rejects
// anything that still contains a statement separator outside string literals.
func Normalize(sqlQuery string) (string, error) {
	sqlQuery = strings.TrimSpace(sqlQuery)
	if sqlQuery == "" {
		return "", ErrEmptyStatement
	}

	normalized := stripTrailingSemicolon(sqlQuery)
	if normalized == "" {
		return "", ErrEmptyStatement
	}
	if scanLiterals(normalized).hasSeparator {
		return "", ErrMultipleStatements
	}
	return normalized, nil
}

// FirstStatement returns the text before the first statement separator that
// sits outside quotes, trimmed. Input without a separator is returned trimmed.
func FirstStatement(sqlQuery string) string {
	res := scanLiterals(sqlQuery)
	if !res.hasSeparator {
		return strings.TrimSpace(sqlQuery)
	}
	return strings.TrimSpace(string([]rune(sqlQuery)[:res.firstSeparator]))
}

// scanResult is what a single pass over the SQL text finds.
type scanResult struct {
	hasSeparator   bool
	firstSeparator int // rune offset, valid when hasSeparator
	literals       []string
}

// scanLiterals walks the SQL once, collecting single-quoted string literal
// contents (with '' and \' unescaped) and noting any semicolon outside
// quotes. Double-quoted identifiers are skipped but not collected.
func scanLiterals(sqlQuery string) scanResult {
	const (
		stateNormal = iota
		stateSingleQuote
		stateDoubleQuote
	)

	var (
		res     scanResult
		current strings.Builder
		state   = stateNormal
		runes   = []rune(sqlQuery)
	)

	for i := 0; i < len(runes); i++ {
		char := runes[i]
		switch state {
		case stateNormal:
			switch char {
			case ';':
				if !res.hasSeparator {
					res.firstSeparator = i
				}
				res.hasSeparator = true
			case '\'':
				state = stateSingleQuote
				current.Reset()
			case '"':
				state = stateDoubleQuote
			}
		case stateSingleQuote:
			switch {
			case char == '\\' && i+1 < len(runes) && runes[i+1] == '\'':
				current.WriteRune('\'')
				i++
			case char == '\'' && i+1 < len(runes) && runes[i+1] == '\'':
				current.WriteRune('\'')
				i++
			case char == '\'':
				res.literals = append(res.literals, current.String())
				state = stateNormal
			default:
				current.WriteRune(char)
			}
		case stateDoubleQuote:
			if char == '"' && runes[i-1] != '\\' {
				state = stateNormal
			}
		}
	}

	// An unterminated literal is still inspected.
	if state == stateSingleQuote {
		res.literals = append(res.literals, current.String())
	}
	return res
}

// stripTrailingSemicolon removes a trailing semicolon and any whitespace after it.
func stripTrailingSemicolon(sqlQuery string) string {
	sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	if strings.HasSuffix(sqlQuery, ";") {
		sqlQuery = strings.TrimSuffix(sqlQuery, ";")
		sqlQuery = strings.TrimRight(sqlQuery, " \t\n\r")
	}
	return sqlQuery
}
