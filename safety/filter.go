package safety

import (
	"fmt"
	"regexp"
	"strings"
)

// Rule is a single named denylist pattern
type Rule struct {
	Name    string
	Pattern *regexp.Regexp
}

// Rule names for the built-in denylist
const (
	RuleImportOS         = "import os"
	RuleImportSubprocess = "import subprocess"
	RuleImportSys        = "import sys"
	RuleImportSocket     = "import socket"
	RuleImportRequests   = "import requests"
	RuleImportURLLib     = "import urllib"
	RuleFromOS           = "from os import"
	RuleFromSubprocess   = "from subprocess import"
	RuleDynamicImport    = "__import__"
	RuleEval             = "eval()"
	RuleExec             = "exec()"
	RuleOpen             = "open()"
	RuleFile             = "file()"
	RuleInput            = "input()"
	RuleRawInput         = "raw_input()"
	RuleCompile          = "compile()"
	RuleGlobals          = "globals()"
	RuleLocals           = "locals()"
	RuleVars             = "vars()"
	RuleDir              = "dir()"
	RuleExit             = "exit()"
	RuleQuit             = "quit()"
	RuleWhileTrue        = "while True"
	RuleLargeRange       = "large range()"
)

// LargeRangeDigits is the number of digits in a literal range() bound that
// triggers RuleLargeRange (6 digits, i.e. 100000 iterations or more)
const LargeRangeDigits = 6

var builtinPatterns = []struct {
	name    string
	pattern string
}{
	{RuleImportOS, `import\s+os`},
	{RuleImportSubprocess, `import\s+subprocess`},
	{RuleImportSys, `import\s+sys`},
	{RuleImportSocket, `import\s+socket`},
	{RuleImportRequests, `import\s+requests`},
	{RuleImportURLLib, `import\s+urllib`},
	{RuleFromOS, `from\s+os\s+import`},
	{RuleFromSubprocess, `from\s+subprocess\s+import`},
	{RuleDynamicImport, `__import__`},
	{RuleEval, `eval\s*\(`},
	{RuleExec, `exec\s*\(`},
	{RuleOpen, `open\s*\(`},
	{RuleFile, `file\s*\(`},
	{RuleInput, `input\s*\(`},
	{RuleRawInput, `raw_input\s*\(`},
	{RuleCompile, `compile\s*\(`},
	{RuleGlobals, `globals\s*\(`},
	{RuleLocals, `locals\s*\(`},
	{RuleVars, `vars\s*\(`},
	{RuleDir, `dir\s*\(`},
	{RuleExit, `exit\s*\(`},
	{RuleQuit, `quit\s*\(`},
	{RuleWhileTrue, `while\s+True\s*:`},
	{RuleLargeRange, fmt.Sprintf(`for.*in.*range\s*\(\s*\d{%d,}`, LargeRangeDigits)},
}

// Filter checks source text against an ordered denylist
type Filter struct {
	rules []Rule
}

// DefaultRules returns the built-in denylist in evaluation order
func DefaultRules() []Rule {
	rules := make([]Rule, 0, len(builtinPatterns))
	for _, p := range builtinPatterns {
		rules = append(rules, Rule{
			Name:    p.name,
			Pattern: regexp.MustCompile(`(?i)` + p.pattern),
		})
	}
	return rules
}

// New creates a Filter with the built-in rules followed by the extra patterns.
// Extra patterns are compiled case-insensitive and named after their source.
func New(extraPatterns []string) (*Filter, error) {
	rules := DefaultRules()
	for _, p := range extraPatterns {
		p = strings.TrimSpace(p)
		if p == "" {
			continue
		}
		re, err := regexp.Compile(`(?i)` + p)
		if err != nil {
			return nil, fmt.Errorf("invalid safety pattern %q: %w", p, err)
		}
		rules = append(rules, Rule{Name: p, Pattern: re})
	}
	return &Filter{rules: rules}, nil
}

// Check reports whether source is safe. When it is not, the name of the first
// matching rule is returned.
func (f *Filter) Check(source string) (bool, string) {
	for _, rule := range f.rules {
		if rule.Pattern.MatchString(source) {
			return false, rule.Name
		}
	}
	return true, ""
}

// Rules returns a copy of the rules in evaluation order
func (f *Filter) Rules() []Rule {
	out := make([]Rule, len(f.rules))
	copy(out, f.rules)
	return out
}
