package migration

import (
	"regexp"
	"strings"

	"github.com/nexus-db/schemasync/pkg/core/schema"
)

// Severity indicates how serious a validation finding is.
type Severity int

const (
	SeverityError   Severity = iota // blocks execution
	SeverityWarning                 // reported, execution continues
)

func (s Severity) String() string {
	if s == SeverityError {
		return "error"
	}
	return "warning"
}

// Issue is a single validation finding.
type Issue struct {
	Severity   Severity
	Section    string
	Statement  int // 1-based statement number, 0 for the whole section
	Message    string
	Suggestion string
}

// Result holds the findings for one script or migration.
type Result struct {
	ID     string
	Issues []Issue
}

// Valid reports whether no error-level issue was found.
func (r *Result) Valid() bool { return len(r.Errors()) == 0 }

// Errors returns only error-level issues.
func (r *Result) Errors() []Issue { return r.filter(SeverityError) }

// Warnings returns only warning-level issues.
func (r *Result) Warnings() []Issue { return r.filter(SeverityWarning) }

func (r *Result) filter(s Severity) []Issue {
	var out []Issue
	for _, issue := range r.Issues {
		if issue.Severity == s {
			out = append(out, issue)
		}
	}
	return out
}

// Validate checks both sections of a migration. An empty DOWN section is
// allowed; such a migration cannot be rolled back.
func Validate(m *Migration) *Result {
	result := &Result{ID: m.ID}
	result.Issues = append(result.Issues, ValidateSQL(m.UpSQL, "UP")...)
	if m.DownSQL != "" {
		result.Issues = append(result.Issues, ValidateSQL(m.DownSQL, "DOWN")...)
	}
	return result
}

// ValidateAll validates every migration.
func ValidateAll(migrations []*Migration) []*Result {
	results := make([]*Result, 0, len(migrations))
	for _, m := range migrations {
		results = append(results, Validate(m))
	}
	return results
}

var dangerous = []struct {
	pattern    *regexp.Regexp
	message    string
	suggestion string
}{
	{regexp.MustCompile(`(?i)^\s*DROP\s+DATABASE\b`), "DROP DATABASE", "This will delete the entire database. Are you sure?"},
	{regexp.MustCompile(`(?i)^\s*DROP\s+SCHEMA\b`), "DROP SCHEMA", "This will delete an entire schema. Are you sure?"},
	{regexp.MustCompile(`(?i)^\s*TRUNCATE\b`), "TRUNCATE", "This will delete all data in the table. Are you sure?"},
}

var whereClause = regexp.MustCompile(`(?i)\bWHERE\b`)

// ValidateSQL checks a script statement by statement. Quote balance is
// checked on the whole script since an unterminated literal swallows the
// statement boundaries after it.
func ValidateSQL(script, section string) []Issue {
	if strings.TrimSpace(script) == "" {
		if section == "UP" {
			return []Issue{{
				Severity:   SeverityError,
				Section:    section,
				Message:    section + " SQL is empty",
				Suggestion: "Add SQL statements to the " + section + " section",
			}}
		}
		return nil
	}

	var issues []Issue
	if !quotesBalanced(script) {
		issues = append(issues, Issue{
			Severity:   SeverityError,
			Section:    section,
			Message:    "Unbalanced quotes in " + section + " SQL",
			Suggestion: "Check for missing closing quotes",
		})
		return issues
	}

	for i, sql := range schema.SplitSQLStatements(script) {
		n := i + 1
		sql = strings.TrimSpace(schema.RemoveRangeComments(schema.RemoveLineComments(sql, "--"), "/*", "*/"))
		if sql == "" {
			continue
		}
		add := func(severity Severity, message, suggestion string) {
			issues = append(issues, Issue{Severity: severity, Section: section, Statement: n, Message: message, Suggestion: suggestion})
		}
		if !parenthesesBalanced(sql) {
			add(SeverityError, "Unbalanced parentheses in "+section+" SQL", "Check for missing closing parentheses")
		}
		for _, dp := range dangerous {
			if dp.pattern.MatchString(sql) {
				add(SeverityWarning, dp.message+" detected in "+section, dp.suggestion)
			}
		}
		switch schema.ParseSQL(sql).Command {
		case schema.CommandDelete:
			if !whereClause.MatchString(sql) {
				add(SeverityWarning, "DELETE without WHERE clause in "+section, "This will delete all rows. Add a WHERE clause if unintended.")
			}
		case schema.CommandUpdate:
			if !whereClause.MatchString(sql) {
				add(SeverityWarning, "UPDATE without WHERE clause in "+section, "Verify this UPDATE has the intended scope.")
			}
		case schema.CommandDropTable:
			add(SeverityWarning, "DROP TABLE detected in "+section, "Ensure you have a backup or the DOWN migration recreates the table.")
		}
	}
	return issues
}

// quotesBalanced checks single and double quotes, honouring doubled and
// backslash-escaped quotes.
func quotesBalanced(sql string) bool {
	var open byte
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		switch {
		case open == 0 && (ch == '\'' || ch == '"'):
			open = ch
		case open != 0 && ch == '\\':
			i++
		case open != 0 && ch == open:
			if i+1 < len(sql) && sql[i+1] == open {
				i++
				continue
			}
			open = 0
		}
	}
	return open == 0
}

// parenthesesBalanced checks parentheses outside string literals.
func parenthesesBalanced(sql string) bool {
	count := 0
	var open byte
	for i := 0; i < len(sql); i++ {
		ch := sql[i]
		if open != 0 {
			if ch == open {
				open = 0
			}
			continue
		}
		switch ch {
		case '\'', '"':
			open = ch
		case '(':
			count++
		case ')':
			count--
			if count < 0 {
				return false
			}
		}
	}
	return count == 0
}
