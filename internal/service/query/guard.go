package query

import (
	"errors"
	"fmt"
	"regexp"
	"strings"
)

var (
	ErrEmptyQuery  = errors.New("empty query")
	ErrUnsafeQuery = errors.New("unsafe query")
)

var blockedKeywords = []string{
	"DROP", "DELETE", "INSERT", "UPDATE", "ALTER", "CREATE",
	"TRUNCATE", "REPLACE", "MERGE", "EXEC", "EXECUTE",
}

var (
	allowedStart = regexp.MustCompile(`(?i)^(SELECT|WITH)\b`)
	blockedWord  = regexp.MustCompile(`(?i)\b(` + strings.Join(blockedKeywords, "|") + `)\b`)
	hasLimit     = regexp.MustCompile(`(?i)\bLIMIT\s+\d+`)

	injectionPatterns = []*regexp.Regexp{
		regexp.MustCompile(`;`),
		regexp.MustCompile(`(?i)\bUNION\s+(ALL\s+)?SELECT\b`),
		regexp.MustCompile(`--`),
		regexp.MustCompile(`(?s)/\*.*?\*/`),
	}
)

// Guard admits read-only SELECT/WITH statements and bounds their result size.
type Guard struct {
	defaultLimit int
}

func NewGuard(defaultLimit int) *Guard {
	if defaultLimit <= 0 {
		defaultLimit = 1000
	}
	return &Guard{defaultLimit: defaultLimit}
}

// Check returns the statement to run: trimmed, without a trailing
// semicolon, with LIMIT appended when absent.
func (g *Guard) Check(sql string) (string, error) {
	stmt := strings.TrimSpace(sql)
	stmt = strings.TrimSpace(strings.TrimSuffix(stmt, ";"))
	if stmt == "" {
		return "", ErrEmptyQuery
	}

	if !allowedStart.MatchString(stmt) {
		return "", fmt.Errorf("%w: only SELECT or WITH statements are allowed", ErrUnsafeQuery)
	}
	if kw := blockedWord.FindString(stmt); kw != "" {
		return "", fmt.Errorf("%w: blocked keyword %s", ErrUnsafeQuery, strings.ToUpper(kw))
	}
	for _, p := range injectionPatterns {
		if p.MatchString(stmt) {
			return "", fmt.Errorf("%w: matches %s", ErrUnsafeQuery, p.String())
		}
	}

	if !hasLimit.MatchString(stmt) {
		stmt = fmt.Sprintf("%s LIMIT %d", stmt, g.defaultLimit)
	}
	return stmt, nil
}
