package sql

import (
	libinjection "github.com/corazawaf/libinjection-go"
)

// LiteralInjection describes a string literal libinjection fingerprinted as SQLi.
type LiteralInjection struct {
	Literal     string
	Fingerprint string
}

// CheckLiteralsForInjection runs libinjection over the contents of every
// single-quoted literal in sqlQuery and returns the first match, or nil.
//
// Literals are where user-supplied text ends up when a model echoes the
// question into a WHERE clause, for example:
//
//	SELECT * FROM users WHERE name = 'admin''--'
//	// literal "admin'--" is flagged
func CheckLiteralsForInjection(sqlQuery string) *LiteralInjection {
	for _, lit := range scanLiterals(sqlQuery).literals {
		if lit == "" {
			continue
		}
		if isSQLi, fingerprint := libinjection.IsSQLi(lit); isSQLi {
			return &LiteralInjection{Literal: lit, Fingerprint: string(fingerprint)}
		}
	}
	return nil
}
