package dialogue

import (
	"encoding/json"
	"fmt"
	"strconv"
	"strings"
)

// Interpolate substitutes {slot} placeholders in a template with the values
// from slots. Placeholders with no matching slot are left intact so missing
// data is visible in transcripts rather than silently blanked.
func Interpolate(template string, slots map[string]interface{}) string {
	var b strings.Builder
	for {
		open := strings.IndexByte(template, '{')
		if open < 0 {
			b.WriteString(template)
			break
		}
		end := strings.IndexByte(template[open:], '}')
		if end < 0 {
			b.WriteString(template)
			break
		}
		end += open

		b.WriteString(template[:open])
		name := template[open+1 : end]
		if v, ok := slots[name]; ok {
			b.WriteString(formatValue(v))
		} else {
			b.WriteString(template[open : end+1])
		}
		template = template[end+1:]
	}
	return b.String()
}

// EvalCondition evaluates a boolean expression over the slot map.
//
// Supported forms:
//
//	<operand> <op> <operand>   with op in ==, !=, <, <=, >, >=
//	<operand>                  bare truthiness
//
// Operands are slot names, quoted string literals, numeric literals, or the
// keywords true/false/null. Comparison is numeric when both sides parse as
// numbers, otherwise string equality (ordering operators on non-numbers fail).
func EvalCondition(expr string, slots map[string]interface{}) (bool, error) {
	expr = strings.TrimSpace(expr)
	if expr == "" {
		return false, fmt.Errorf("empty condition")
	}

	if negated, ok := strings.CutPrefix(expr, "!"); ok && !strings.HasPrefix(negated, "=") {
		v, err := EvalCondition(negated, slots)
		return !v, err
	}

	for _, op := range []string{"==", "!=", "<=", ">=", "<", ">"} {
		idx := strings.Index(expr, op)
		if idx < 0 {
			continue
		}
		left := resolveOperand(strings.TrimSpace(expr[:idx]), slots)
		right := resolveOperand(strings.TrimSpace(expr[idx+len(op):]), slots)
		return compare(op, left, right)
	}

	return Truthy(resolveOperand(expr, slots)), nil
}

// EvalValue resolves a configured value for set steps and branch inputs.
// Strings are interpreted as slot references when the slot exists, as
// {slot} templates when they contain placeholders, and as literals otherwise.
// Non-string values pass through unchanged.
func EvalValue(value interface{}, slots map[string]interface{}) interface{} {
	s, ok := value.(string)
	if !ok {
		return value
	}
	if strings.Contains(s, "{") {
		return Interpolate(s, slots)
	}
	return resolveOperand(s, slots)
}

// Truthy reports whether a slot value counts as true in a condition:
// false, nil, zero numbers, and empty strings are falsy.
func Truthy(v interface{}) bool {
	switch t := v.(type) {
	case nil:
		return false
	case bool:
		return t
	case string:
		return t != "" && t != "false"
	case int:
		return t != 0
	case int64:
		return t != 0
	case float64:
		return t != 0
	default:
		return true
	}
}

// resolveOperand turns an expression token into a value: quoted strings and
// numeric/keyword literals resolve to themselves, anything else is looked up
// as a slot name (missing slots resolve to nil).
func resolveOperand(token string, slots map[string]interface{}) interface{} {
	if len(token) >= 2 {
		if (token[0] == '\'' && token[len(token)-1] == '\'') ||
			(token[0] == '"' && token[len(token)-1] == '"') {
			return token[1 : len(token)-1]
		}
	}

	switch token {
	case "true":
		return true
	case "false":
		return false
	case "null", "nil":
		return nil
	}

	if n, err := strconv.ParseFloat(token, 64); err == nil {
		return n
	}

	return slots[token]
}

func compare(op string, left, right interface{}) (bool, error) {
	ln, lok := asNumber(left)
	rn, rok := asNumber(right)

	if lok && rok {
		switch op {
		case "==":
			return ln == rn, nil
		case "!=":
			return ln != rn, nil
		case "<":
			return ln < rn, nil
		case "<=":
			return ln <= rn, nil
		case ">":
			return ln > rn, nil
		case ">=":
			return ln >= rn, nil
		}
	}

	switch op {
	case "==":
		return formatValue(left) == formatValue(right), nil
	case "!=":
		return formatValue(left) != formatValue(right), nil
	}
	return false, fmt.Errorf("operator %s requires numeric operands, got %v and %v", op, left, right)
}

// asNumber coerces numeric slot values. JSON round-trips store numbers as
// float64; integers appear after in-process writes.
func asNumber(v interface{}) (float64, bool) {
	switch t := v.(type) {
	case float64:
		return t, true
	case float32:
		return float64(t), true
	case int:
		return float64(t), true
	case int64:
		return float64(t), true
	case json.Number:
		n, err := t.Float64()
		return n, err == nil
	default:
		return 0, false
	}
}

func formatValue(v interface{}) string {
	switch t := v.(type) {
	case nil:
		return ""
	case string:
		return t
	case float64:
		return strconv.FormatFloat(t, 'f', -1, 64)
	case bool:
		return strconv.FormatBool(t)
	default:
		return fmt.Sprintf("%v", t)
	}
}
