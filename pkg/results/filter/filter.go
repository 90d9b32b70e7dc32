// Package filter builds boolean filter expressions for the Tekton Results
// records endpoint out of label selectors, name prefixes and raw terms.
// Construction is pure string assembly; nothing here talks to the network.
package filter

import (
	"fmt"
	"sort"
	"strconv"
	"strings"

	// k8s
	"k8s.io/apimachinery/pkg/selection"
)

// Selector mirrors the label-selector shape used across the Kubernetes API:
// exact-match labels, all ANDed, plus a list of set-based requirements.
type Selector struct {
	MatchLabels      map[string]string
	MatchExpressions []Requirement
}

// Requirement is one set-based selector term.
type Requirement struct {
	Key      string
	Operator selection.Operator
	Values   []string
}

// Options collects every predicate source for a single records query.
type Options struct {
	Selector *Selector
	// NamePrefix restricts records to names starting with the prefix.
	NamePrefix string
	// Raw is a pre-built expression ANDed in verbatim.
	Raw string
}

func label(key string) string {
	return fmt.Sprintf("data.metadata.labels[%s]", strconv.Quote(key))
}

func quoteList(values []string) string {
	quoted := make([]string, 0, len(values))
	for _, v := range values {
		quoted = append(quoted, strconv.Quote(v))
	}
	return "[" + strings.Join(quoted, ",") + "]"
}

// AllOf joins the non-empty terms with a logical AND.
func AllOf(terms ...string) string {
	return join(" && ", terms)
}

// AnyOf joins the non-empty terms with a logical OR. With more than one
// active term the result is parenthesized so it survives a later AND.
func AnyOf(terms ...string) string {
	active := 0
	for _, t := range terms {
		if t != "" {
			active++
		}
	}
	expr := join(" || ", terms)
	if active > 1 {
		return "(" + expr + ")"
	}
	return expr
}

func join(sep string, terms []string) string {
	kept := make([]string, 0, len(terms))
	for _, t := range terms {
		if t != "" {
			kept = append(kept, t)
		}
	}
	return strings.Join(kept, sep)
}

// DataTypes builds the term restricting records to the given data types.
func DataTypes(types ...string) string {
	if len(types) == 1 {
		return fmt.Sprintf("data_type == %s", strconv.Quote(types[0]))
	}
	return fmt.Sprintf("data_type in %s", quoteList(types))
}

// NamePrefix builds the term matching record names beginning with prefix.
func NamePrefix(prefix string) string {
	return fmt.Sprintf("data.metadata.name.startsWith(%s)", strconv.Quote(prefix))
}

// requirement translates one selector requirement into an expression term.
// An operator outside the supported set is a programming error and fails
// fast; silently dropping a predicate would widen the query undetectably.
func requirement(req Requirement) (string, error) {
	switch req.Operator {
	case selection.Equals, selection.DoubleEquals, selection.NotEquals,
		selection.In, selection.NotIn, selection.GreaterThan, selection.LessThan:
		if len(req.Values) == 0 {
			return "", fmt.Errorf("filter operator %q on key %q requires at least one value", req.Operator, req.Key)
		}
	}
	switch req.Operator {
	case selection.Equals, selection.DoubleEquals:
		return fmt.Sprintf("%s == %s", label(req.Key), strconv.Quote(req.Values[0])), nil
	case selection.NotEquals:
		return fmt.Sprintf("%s != %s", label(req.Key), strconv.Quote(req.Values[0])), nil
	case selection.Exists:
		return fmt.Sprintf("%s in data.metadata.labels", strconv.Quote(req.Key)), nil
	case selection.DoesNotExist:
		return fmt.Sprintf("!(%s in data.metadata.labels)", strconv.Quote(req.Key)), nil
	case selection.In:
		return fmt.Sprintf("%s in %s", label(req.Key), quoteList(req.Values)), nil
	case selection.NotIn:
		return fmt.Sprintf("!(%s in %s)", label(req.Key), quoteList(req.Values)), nil
	case selection.GreaterThan:
		if err := validNumber(req); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s > %s", label(req.Key), req.Values[0]), nil
	case selection.LessThan:
		if err := validNumber(req); err != nil {
			return "", err
		}
		return fmt.Sprintf("%s < %s", label(req.Key), req.Values[0]), nil
	}
	return "", fmt.Errorf("unsupported filter operator %q", req.Operator)
}

// validNumber rejects non-numeric comparison operands. The value lands in
// the expression unquoted, so anything but a number would produce a
// malformed or injected term.
func validNumber(req Requirement) error {
	if _, err := strconv.ParseFloat(req.Values[0], 64); err != nil {
		return fmt.Errorf("filter operator %q on key %q requires a numeric value, got %q", req.Operator, req.Key, req.Values[0])
	}
	return nil
}

// Build combines every active predicate in opts into a single ANDed
// expression. An empty Options yields the empty string.
func Build(opts Options) (string, error) {
	var terms []string
	if opts.Selector != nil {
		for _, key := range sortedKeys(opts.Selector.MatchLabels) {
			terms = append(terms, fmt.Sprintf("%s == %s", label(key), strconv.Quote(opts.Selector.MatchLabels[key])))
		}
		for _, req := range opts.Selector.MatchExpressions {
			term, err := requirement(req)
			if err != nil {
				return "", err
			}
			terms = append(terms, term)
		}
	}
	if opts.NamePrefix != "" {
		terms = append(terms, NamePrefix(opts.NamePrefix))
	}
	if opts.Raw != "" {
		terms = append(terms, opts.Raw)
	}
	return AllOf(terms...), nil
}

// sortedKeys keeps matchLabels terms in a stable order so identical
// selectors always build identical expressions.
func sortedKeys(m map[string]string) []string {
	keys := make([]string, 0, len(m))
	for k := range m {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	return keys
}
