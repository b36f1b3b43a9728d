package sql

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

// ValidationKind classifies why a statement was rejected.
type ValidationKind string

const (
	KindKeyword            ValidationKind = "keyword"
	KindPattern            ValidationKind = "pattern"
	KindMultipleStatements ValidationKind = "multiple_statements"
	KindInjection          ValidationKind = "injection"
	KindEmpty              ValidationKind = "empty"
)

// ValidationError is returned by Validate. Token names the offending keyword
// or pattern in lower case.
type ValidationError struct {
	Kind  ValidationKind
	Token string
	err   error
}

func (e *ValidationError) Error() string {
	switch e.Kind {
	case KindKeyword:
		return fmt.Sprintf("forbidden keyword %q in SQL", e.Token)
	case KindPattern:
		return fmt.Sprintf("suspicious pattern %q in SQL", e.Token)
	case KindInjection:
		return fmt.Sprintf("string literal %q looks like SQL injection", e.Token)
	default:
		return e.err.Error()
	}
}

func (e *ValidationError) Unwrap() error {
	return e.err
}

type rule struct {
	token string
	re    *regexp.Regexp
}

// Write, DDL and privilege keywords, vendor procedure prefixes and file
// redirections. Matched on word boundaries so identifiers such as
// update_count or created_at pass.
var forbiddenKeywords = []rule{
	{"drop", regexp.MustCompile(`(?i)\bdrop\b`)},
	{"delete", regexp.MustCompile(`(?i)\bdelete\b`)},
	{"truncate", regexp.MustCompile(`(?i)\btruncate\b`)},
	{"alter", regexp.MustCompile(`(?i)\balter\b`)},
	{"create", regexp.MustCompile(`(?i)\bcreate\b`)},
	{"update", regexp.MustCompile(`(?i)\bupdate\b`)},
	{"insert", regexp.MustCompile(`(?i)\binsert\b`)},
	{"merge", regexp.MustCompile(`(?i)\bmerge\s+into\b`)},
	{"grant", regexp.MustCompile(`(?i)\bgrant\b`)},
	{"revoke", regexp.MustCompile(`(?i)\brevoke\b`)},
	{"execute", regexp.MustCompile(`(?i)\bexecute\b`)},
	{"exec", regexp.MustCompile(`(?i)\bexec\b`)},
	{"xp_", regexp.MustCompile(`(?i)\bxp_\w+`)},
	{"sp_", regexp.MustCompile(`(?i)\bsp_\w+`)},
	{"into outfile", regexp.MustCompile(`(?i)\binto\s+outfile\b`)},
	{"into dumpfile", regexp.MustCompile(`(?i)\binto\s+dumpfile\b`)},
	{"copy", regexp.MustCompile(`(?i)^\s*copy\b`)},
}

var injectionPatterns = []rule{
	{"; --", regexp.MustCompile(`;\s*--`)},
	{"union select", regexp.MustCompile(`(?i)\bunion\s+(all\s+)?select\b`)},
	{"or 1=1", regexp.MustCompile(`(?i)\bor\s+1\s*=\s*1\b`)},
	{"or '1'='1'", regexp.MustCompile(`(?i)\bor\s+'1'\s*=\s*'1'`)},
	{"waitfor delay", regexp.MustCompile(`(?i)\bwaitfor\s+delay\b`)},
	{"sleep(", regexp.MustCompile(`(?i)\bsleep\s*\(`)},
	{"pg_sleep(", regexp.MustCompile(`(?i)\bpg_sleep\s*\(`)},
	{"benchmark(", regexp.MustCompile(`(?i)\bbenchmark\s*\(`)},
}

// Validate rejects statements that write, change schema or privileges, or
// carry injection markers, and returns the normalized statement otherwise.
//
// This is a textual filter. Generated SQL should still run under a
// read-only database role.
func Validate(sqlQuery string) (string, error) {
	trimmed := strings.TrimSpace(sqlQuery)
	if trimmed == "" {
		return "", &ValidationError{Kind: KindEmpty, err: ErrEmptyStatement}
	}

	for _, r := range forbiddenKeywords {
		if r.re.MatchString(trimmed) {
			return "", &ValidationError{Kind: KindKeyword, Token: r.token}
		}
	}
	for _, r := range injectionPatterns {
		if r.re.MatchString(trimmed) {
			return "", &ValidationError{Kind: KindPattern, Token: r.token}
		}
	}

	normalized, err := Normalize(trimmed)
	if errors.Is(err, ErrEmptyStatement) {
		return "", &ValidationError{Kind: KindEmpty, err: err}
	}
	if err != nil {
		return "", &ValidationError{Kind: KindMultipleStatements, Token: ";", err: err}
	}

	if hit := CheckLiteralsForInjection(normalized); hit != nil {
		return "", &ValidationError{Kind: KindInjection, Token: strings.ToLower(hit.Literal)}
	}

	return normalized, nil
}
