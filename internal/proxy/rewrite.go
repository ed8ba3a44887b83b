package proxy

import (
	"fmt"
	"regexp"

	"github.com/spf13/afero"
	"gopkg.in/yaml.v3"
)

// RewriteRule maps a path regexp to a replacement. Replace may reference
// capture groups as $1, ${name}.
type RewriteRule struct {
	Match   string `yaml:"match"`
	Replace string `yaml:"replace"`
}

type rewriteFile struct {
	Rules []RewriteRule `yaml:"rules"`
}

type compiledRule struct {
	re      *regexp.Regexp
	replace string
}

// RewriteTable applies its rules to a request path in order. Every rule
// sees the output of the previous one.
type RewriteTable struct {
	rules []compiledRule
}

// DefaultRewriteRules maps the short /v1 prefix onto the vendor's /api/v1
// and collapses duplicate slashes.
func DefaultRewriteRules() []RewriteRule {
	return []RewriteRule{
		{Match: `^/v1/(.*)$`, Replace: `/api/v1/$1`},
		{Match: `/{2,}`, Replace: `/`},
	}
}

// NewRewriteTable compiles rules.
func NewRewriteTable(rules []RewriteRule) (*RewriteTable, error) {
	t := &RewriteTable{rules: make([]compiledRule, 0, len(rules))}
	for i, r := range rules {
		re, err := regexp.Compile(r.Match)
		if err != nil {
			return nil, fmt.Errorf("rewrite rule %d (%q): %w", i, r.Match, err)
		}
		t.rules = append(t.rules, compiledRule{re: re, replace: r.Replace})
	}
	return t, nil
}

// DefaultRewriteTable returns the compiled default rules.
func DefaultRewriteTable() *RewriteTable {
	t, err := NewRewriteTable(DefaultRewriteRules())
	if err != nil {
		panic(err)
	}
	return t
}

// LoadRewriteTable reads a YAML rules file. A file without rules is an
// error rather than an empty table, which would silently disable rewriting.
func LoadRewriteTable(fsys afero.Fs, path string) (*RewriteTable, error) {
	data, err := afero.ReadFile(fsys, path)
	if err != nil {
		return nil, fmt.Errorf("reading rewrite rules: %w", err)
	}
	var f rewriteFile
	if err := yaml.Unmarshal(data, &f); err != nil {
		return nil, fmt.Errorf("parsing rewrite rules %s: %w", path, err)
	}
	if len(f.Rules) == 0 {
		return nil, fmt.Errorf("rewrite rules %s: no rules defined", path)
	}
	return NewRewriteTable(f.Rules)
}

// Rewrite returns path with every rule applied.
func (t *RewriteTable) Rewrite(path string) string {
	for _, r := range t.rules {
		path = r.re.ReplaceAllString(path, r.replace)
	}
	return path
}

// Len returns the number of rules.
func (t *RewriteTable) Len() int { return len(t.rules) }
