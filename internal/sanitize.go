package internal

import (
	"fmt"
	"regexp"

	"sandboxd/lang"
)

// SanitizationError explains why a submission was rejected before it
// reached any provider.
type SanitizationError struct {
	Message string
	Details string
}

func (e *SanitizationError) Error() string {
	return e.Message + ": " + e.Details
}

// Patterns are a cheap pre-admission filter, not a security boundary.
// Isolation comes from the sandboxed environments; this only rejects the
// obvious cases early and keeps them out of the pools.
var commonPatterns = compile([]string{
	`(?i)rm\s+-rf\s+/`,
	`(?i):\(\)\s*\{\s*:\|:&\s*\}`,
	`(?i)/etc/(passwd|shadow)`,
})

var languagePatterns = map[string][]*regexp.Regexp{
	"python": compile([]string{
		`(?m)^\s*import\s+subprocess`,
		`(?m)^\s*import\s+ctypes`,
		`(?m)from\s+os\s+import\s+(system|popen|exec|spawn)`,
		`__import__\(\s*['"](os|subprocess|ctypes)['"]`,
	}),
	"js": compile([]string{
		`require\(\s*['"]child_process['"]`,
		`process\.binding\(`,
	}),
	"go": compile([]string{
		`(?m)"os/exec"`,
		`syscall\.Exec`,
	}),
	"cpp": compile([]string{
		`\bsystem\s*\(`,
		`\bfork\s*\(`,
		`\bexecve?\s*\(`,
	}),
}

func compile(exprs []string) []*regexp.Regexp {
	out := make([]*regexp.Regexp, len(exprs))
	for i, expr := range exprs {
		out[i] = regexp.MustCompile(expr)
	}
	return out
}

// SanitizeCode validates a submission before admission: size limit,
// supported language, and the dangerous-pattern filter for that language.
func SanitizeCode(code, language string, maxCodeLength int) error {
	if len(code) == 0 {
		return &SanitizationError{
			Message: "Empty submission",
			Details: "code must not be empty",
		}
	}
	if maxCodeLength > 0 && len(code) > maxCodeLength {
		return &SanitizationError{
			Message: "Code length exceeds maximum limit",
			Details: fmt.Sprintf("max length allowed is %d bytes", maxCodeLength),
		}
	}

	patterns, ok := languagePatterns[language]
	if !ok {
		return &SanitizationError{
			Message: "Unsupported language",
			Details: fmt.Sprintf("supported languages: %v", lang.Languages()),
		}
	}

	for _, re := range commonPatterns {
		if re.MatchString(code) {
			return &SanitizationError{
				Message: "Prohibited operation detected",
				Details: "code contains a blocked system operation",
			}
		}
	}
	for _, re := range patterns {
		if re.MatchString(code) {
			return &SanitizationError{
				Message: "Prohibited operation detected",
				Details: fmt.Sprintf("code matches a blocked %s pattern", language),
			}
		}
	}
	return nil
}
