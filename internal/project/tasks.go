package project

import (
	"regexp"
	"strconv"
	"strings"
)

const dividers = "_.-"

var repeatedDividers = regexp.MustCompile(`[_.\-]{2,}`)

// taskPattern compiles a task token into a regexp bounded by dividers or the
// ends of the name. Each '%' matches exactly one non-divider character, so
// "comp_%%" matches "comp_mp" but not "comp_mpo".
func taskPattern(token string) *regexp.Regexp {
	var body strings.Builder
	for i := 0; i < len(token); {
		if token[i] == '%' {
			n := 0
			for i < len(token) && token[i] == '%' {
				n++
				i++
			}
			body.WriteString(`[^_.\-]{` + strconv.Itoa(n) + `}`)
			continue
		}
		body.WriteString(regexp.QuoteMeta(token[i : i+1]))
		i++
	}
	return regexp.MustCompile(`(?i)(^|[_.\-])(` + body.String() + `)([_.\-]|$)`)
}

// findTask returns the first task token matched in name, as written in name.
func findTask(name string, tokens []string) string {
	best, bestAt := "", -1
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		loc := taskPattern(tok).FindStringSubmatchIndex(name)
		if loc == nil {
			continue
		}
		if bestAt < 0 || loc[4] < bestAt {
			best, bestAt = name[loc[4]:loc[5]], loc[4]
		}
	}
	return best
}

// stripTasks removes every task token from name together with one adjacent
// divider. A name made only of task tokens is returned unchanged.
func stripTasks(name string, tokens []string) string {
	out := name
	for _, tok := range tokens {
		if tok == "" {
			continue
		}
		re := taskPattern(tok)
		for {
			loc := re.FindStringSubmatchIndex(out)
			if loc == nil {
				break
			}
			// Keep the divider on the right when the token opens the name.
			start, end := loc[2], loc[5]
			if loc[2] == loc[3] {
				end = loc[7]
			}
			out = out[:start] + out[end:]
		}
	}
	out = repeatedDividers.ReplaceAllStringFunc(out, func(m string) string { return m[:1] })
	out = strings.Trim(out, dividers)
	if out == "" {
		return name
	}
	return out
}
