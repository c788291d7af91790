package category

import (
	"errors"
	"fmt"
	"net/http"
	"strings"
)

var ErrInvalidRule = errors.New("invalid rule")

type Rules []Rule

// Rule forces a category for matching requests.
// Empty fields match anything.
type Rule struct {
	Prefix   string            `yaml:"prefix"`
	Path     string            `yaml:"path"`
	Suffix   string            `yaml:"suffix"`
	Method   string            `yaml:"method"`
	Query    map[string]string `yaml:"query"`
	Category Category          `yaml:"category"`
}

// Validate reports every rule with an unknown category.
// Such rules never match.
func (r Rules) Validate() error {
	var errs []error
	for i, rule := range r {
		if !rule.Category.Valid() {
			errs = append(errs, fmt.Errorf("%w: rule %d has unknown category %q", ErrInvalidRule, i, rule.Category))
		}
	}
	return errors.Join(errs...)
}

func (r Rules) find(req *http.Request) *Rule {
rulesLoop:
	for i := range r {
		rule := r[i]
		if !rule.Category.Valid() {
			continue
		}
		if rule.Method != "" && rule.Method != req.Method {
			continue
		}
		if rule.Path != "" && rule.Path != req.URL.Path {
			continue
		}
		if rule.Prefix != "" && !strings.HasPrefix(req.URL.Path, rule.Prefix) {
			continue
		}
		if rule.Suffix != "" && !strings.HasSuffix(req.URL.Path, rule.Suffix) {
			continue
		}
		if len(rule.Query) > 0 {
			qry := req.URL.Query()
			for name, value := range rule.Query {
				if value == "" && !qry.Has(name) {
					continue rulesLoop
				} else if value != "" && qry.Get(name) != value {
					continue rulesLoop
				}
			}
		}
		return &rule
	}
	return nil
}
