package patient

import (
	"fmt"
	"regexp"
	"strings"
)

var (
	quotedText       = regexp.MustCompile(`'(?:[^']|'')*'|"(?:[^"]|"")*"`)
	leadingKeyword   = regexp.MustCompile(`(?i)^(select|with)\b`)
	forbiddenKeyword = regexp.MustCompile(`(?i)\b(insert|into|update|delete|drop|alter|create|truncate|grant|revoke|copy|call|do|vacuum|merge|lock|set)\b`)
)

// ValidateStatement accepts a single read-only SELECT or WITH statement.
// Quoted literals and identifiers are ignored when scanning for keywords.
// The returned statement has surrounding whitespace and one trailing
// semicolon removed.
func ValidateStatement(sqlText string) (string, error) {
	stmt := strings.TrimSpace(sqlText)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if stmt == "" {
		return "", fmt.Errorf("%w: empty statement", ErrQuery)
	}
	if strings.ContainsRune(stmt, '\x00') {
		return "", fmt.Errorf("%w: statement contains a null byte", ErrQuery)
	}

	bare := quotedText.ReplaceAllString(stmt, "''")
	if strings.Count(bare, "'")%2 != 0 || strings.Count(bare, `"`)%2 != 0 {
		return "", fmt.Errorf("%w: unterminated string literal", ErrQuery)
	}
	if strings.Contains(bare, "--") || strings.Contains(bare, "/*") {
		return "", fmt.Errorf("%w: comments are not allowed", ErrQuery)
	}
	if strings.Contains(bare, ";") {
		return "", fmt.Errorf("%w: only a single statement is allowed", ErrQuery)
	}
	if !leadingKeyword.MatchString(bare) {
		return "", fmt.Errorf("%w: only SELECT or WITH statements are allowed", ErrQuery)
	}
	if kw := forbiddenKeyword.FindString(bare); kw != "" {
		return "", fmt.Errorf("%w: %s is not allowed", ErrQuery, strings.ToUpper(kw))
	}
	return stmt, nil
}
