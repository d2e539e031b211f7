package utils

import (
	"strconv"
	"strings"
)

// Where accumulates AND-ed predicates with "?" placeholders and renders them
// with Postgres positional parameters ($1, $2, ...).
type Where struct {
	clauses []string
	args    []any
}

// Add appends a predicate. Each "?" in clause consumes one arg, in order.
func (w *Where) Add(clause string, args ...any) {
	w.clauses = append(w.clauses, clause)
	w.args = append(w.args, args...)
}

// In appends "column IN (...)". An empty set matches nothing.
func (w *Where) In(column string, values []string) {
	if len(values) == 0 {
		w.clauses = append(w.clauses, "FALSE")
		return
	}
	marks := make([]string, len(values))
	for i, v := range values {
		marks[i] = "?"
		w.args = append(w.args, v)
	}
	w.clauses = append(w.clauses, column+" IN ("+strings.Join(marks, ", ")+")")
}

// SQL renders " WHERE ..." or "" when no predicate was added.
func (w Where) SQL() string {
	if len(w.clauses) == 0 {
		return ""
	}
	var b strings.Builder
	b.WriteString(" WHERE ")
	n := 0
	for i, c := range w.clauses {
		if i > 0 {
			b.WriteString(" AND ")
		}
		for _, r := range c {
			if r == '?' {
				n++
				b.WriteByte('$')
				b.WriteString(strconv.Itoa(n))
				continue
			}
			b.WriteRune(r)
		}
	}
	return b.String()
}

func (w Where) Args() []any { return w.args }

// Next returns the next free placeholder index, for callers appending
// LIMIT/OFFSET or SET parameters after the predicate.
func (w Where) Next() int { return len(w.args) + 1 }
