// Package expr implements the restricted condition and value language used by
// BRANCH and COMPUTE nodes. Expressions are interpreted over a flat snapshot
// of named fields with no access to host capabilities.
//
// Grammar:
//
//	OrExpr     ::= AndExpr ( '||' AndExpr )*
//	AndExpr    ::= Clause ( '&&' Clause )*
//	Clause     ::= Value Operator Value | Value
//	Operator   ::= '==' | '=' | '!=' | '>=' | '<=' | '>' | '<' | 'contains'
//	Value      ::= 'len(' Key ')' | Key | NumberLiteral | QuotedString
//
// Missing keys resolve to the empty string. Comparisons are numeric when both
// sides parse as numbers, string comparisons otherwise. A bare clause is
// truthy when its value is non-empty and not "false"/"0"/"no".
package expr

import (
	"fmt"
	"strconv"
	"strings"
)

// Evaluate evaluates a boolean condition against the snapshot fields.
// An empty condition is vacuously true.
func Evaluate(condition string, fields map[string]any) (bool, error) {
	condition = strings.TrimSpace(condition)
	if condition == "" {
		return true, nil
	}
	for _, disjunct := range strings.Split(condition, "||") {
		ok, err := evalConjunction(disjunct, fields)
		if err != nil {
			return false, err
		}
		if ok {
			return true, nil
		}
	}
	return false, nil
}

func evalConjunction(conjunction string, fields map[string]any) (bool, error) {
	clauses := strings.Split(conjunction, "&&")
	for _, clause := range clauses {
		clause = strings.TrimSpace(clause)
		if clause == "" {
			continue
		}
		ok, err := evalClause(clause, fields)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

// operators in match order: multi-character operators first so "!=" is not
// split at "=", and ">=" not at ">".
var operators = []string{"==", "!=", ">=", "<=", " contains ", ">", "<", "="}

func evalClause(clause string, fields map[string]any) (bool, error) {
	for _, op := range operators {
		idx := strings.Index(clause, op)
		if idx < 0 {
			continue
		}
		lhs, err := EvaluateValue(clause[:idx], fields)
		if err != nil {
			return false, err
		}
		rhs, err := EvaluateValue(clause[idx+len(op):], fields)
		if err != nil {
			return false, err
		}
		return compare(strings.TrimSpace(op), lhs, rhs)
	}

	// Bare clause: truthiness of the resolved value.
	v, err := EvaluateValue(clause, fields)
	if err != nil {
		return false, err
	}
	return truthy(v), nil
}

// EvaluateValue resolves a single value term: a quoted string, a numeric
// literal, len(key), or a field lookup.
func EvaluateValue(term string, fields map[string]any) (any, error) {
	term = strings.TrimSpace(term)
	if term == "" {
		return "", fmt.Errorf("empty expression term")
	}

	if len(term) >= 2 {
		if (term[0] == '\'' && term[len(term)-1] == '\'') || (term[0] == '"' && term[len(term)-1] == '"') {
			return term[1 : len(term)-1], nil
		}
	}
	if f, err := strconv.ParseFloat(term, 64); err == nil {
		return f, nil
	}
	if strings.HasPrefix(term, "len(") && strings.HasSuffix(term, ")") {
		key := strings.TrimSpace(term[len("len(") : len(term)-1])
		return float64(lengthOf(fields[key])), nil
	}

	if !validKey(term) {
		return nil, fmt.Errorf("invalid expression term: %q", term)
	}
	v, ok := fields[term]
	if !ok || v == nil {
		return "", nil
	}
	return v, nil
}

func validKey(s string) bool {
	for _, r := range s {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_', r == '.':
		default:
			return false
		}
	}
	return s != ""
}

func lengthOf(v any) int {
	switch t := v.(type) {
	case nil:
		return 0
	case string:
		return len(t)
	case []any:
		return len(t)
	case []string:
		return len(t)
	case map[string]any:
		return len(t)
	default:
		return 0
	}
}

func compare(op string, lhs, rhs any) (bool, error) {
	lf, lok := asNumber(lhs)
	rf, rok := asNumber(rhs)
	if lok && rok {
		switch op {
		case "=", "==":
			return lf == rf, nil
		case "!=":
			return lf != rf, nil
		case ">":
			return lf > rf, nil
		case "<":
			return lf < rf, nil
		case ">=":
			return lf >= rf, nil
		case "<=":
			return lf <= rf, nil
		}
	}

	ls, rs := asString(lhs), asString(rhs)
	switch op {
	case "=", "==":
		return ls == rs, nil
	case "!=":
		return ls != rs, nil
	case "contains":
		return strings.Contains(strings.ToLower(ls), strings.ToLower(rs)), nil
	case ">", "<", ">=", "<=":
		return false, fmt.Errorf("operator %q requires numeric operands (got %q, %q)", op, ls, rs)
	}
	return false, fmt.Errorf("unknown operator: %q", op)
}

func asNumber(v any) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case int:
		return float64(t), true
	case string:
		f, err := strconv.ParseFloat(strings.TrimSpace(t), 64)
		return f, err == nil
	default:
		return 0, false
	}
}

func asString(v any) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case bool:
		return strconv.FormatBool(t)
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	default:
		return fmt.Sprint(t)
	}
}

func truthy(v any) bool {
	s := strings.ToLower(strings.TrimSpace(asString(v)))
	switch s {
	case "", "false", "0", "no":
		return false
	default:
		return true
	}
}
