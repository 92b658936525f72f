package dynamomock

import (
	"fmt"
	"strings"

	"github.com/aws/aws-sdk-go-v2/service/dynamodb/types"
	"github.com/shopspring/decimal"
)

// evalCondition evaluates a condition expression against an item (nil when
// the item does not exist). Supported grammar, matching what the stores
// issue: conjunctions of `attribute_not_exists(p)`, `attribute_exists(p)`,
// `p <op> :v` with op in = <> < <= > >=, and `p IN (:a, :b, ...)`.
func evalCondition(item Item, expr string, names map[string]string, values Item) (bool, error) {
	for _, term := range strings.Split(expr, " AND ") {
		ok, err := evalTerm(item, strings.TrimSpace(term), names, values)
		if err != nil {
			return false, err
		}
		if !ok {
			return false, nil
		}
	}
	return true, nil
}

func evalTerm(item Item, term string, names map[string]string, values Item) (bool, error) {
	switch {
	case strings.HasPrefix(term, "attribute_not_exists(") && strings.HasSuffix(term, ")"):
		raw := term[len("attribute_not_exists(") : len(term)-1]
		_, found := pathGet(item, resolvePath(raw, names))
		return !found, nil

	case strings.HasPrefix(term, "attribute_exists(") && strings.HasSuffix(term, ")"):
		raw := term[len("attribute_exists(") : len(term)-1]
		_, found := pathGet(item, resolvePath(raw, names))
		return found, nil

	case strings.Contains(term, " IN "):
		parts := strings.SplitN(term, " IN ", 2)
		lhs, found := pathGet(item, resolvePath(strings.TrimSpace(parts[0]), names))
		if !found {
			return false, nil
		}
		list := strings.TrimSpace(parts[1])
		list = strings.TrimPrefix(list, "(")
		list = strings.TrimSuffix(list, ")")
		for _, ref := range strings.Split(list, ",") {
			rhs, ok := values[strings.TrimSpace(ref)]
			if !ok {
				return false, fmt.Errorf("dynamomock: unbound value %q", ref)
			}
			if valuesEqual(lhs, rhs) {
				return true, nil
			}
		}
		return false, nil

	default:
		fields := strings.Fields(term)
		if len(fields) != 3 {
			return false, fmt.Errorf("dynamomock: unsupported condition %q", term)
		}
		lhs, found := pathGet(item, resolvePath(fields[0], names))
		if !found {
			return false, nil
		}
		rhs, ok := values[fields[2]]
		if !ok {
			return false, fmt.Errorf("dynamomock: unbound value %q", fields[2])
		}
		return compare(lhs, fields[1], rhs)
	}
}

func compare(lhs types.AttributeValue, op string, rhs types.AttributeValue) (bool, error) {
	switch op {
	case "=":
		return valuesEqual(lhs, rhs), nil
	case "<>":
		return !valuesEqual(lhs, rhs), nil
	case "<", "<=", ">", ">=":
		ln, lok := lhs.(*types.AttributeValueMemberN)
		rn, rok := rhs.(*types.AttributeValueMemberN)
		if !lok || !rok {
			return false, fmt.Errorf("dynamomock: %s requires numbers", op)
		}
		a, err := decimal.NewFromString(ln.Value)
		if err != nil {
			return false, err
		}
		b, err := decimal.NewFromString(rn.Value)
		if err != nil {
			return false, err
		}
		switch op {
		case "<":
			return a.LessThan(b), nil
		case "<=":
			return a.LessThanOrEqual(b), nil
		case ">":
			return a.GreaterThan(b), nil
		default:
			return a.GreaterThanOrEqual(b), nil
		}
	default:
		return false, fmt.Errorf("dynamomock: unsupported operator %q", op)
	}
}

func valuesEqual(a, b types.AttributeValue) bool {
	switch av := a.(type) {
	case *types.AttributeValueMemberS:
		bv, ok := b.(*types.AttributeValueMemberS)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberN:
		bv, ok := b.(*types.AttributeValueMemberN)
		if !ok {
			return false
		}
		ad, errA := decimal.NewFromString(av.Value)
		bd, errB := decimal.NewFromString(bv.Value)
		return errA == nil && errB == nil && ad.Equal(bd)
	case *types.AttributeValueMemberBOOL:
		bv, ok := b.(*types.AttributeValueMemberBOOL)
		return ok && av.Value == bv.Value
	case *types.AttributeValueMemberNULL:
		_, ok := b.(*types.AttributeValueMemberNULL)
		return ok
	default:
		return false
	}
}

// applyUpdateExpression applies a `SET ...` update expression in place.
// Supported assignment forms: `p = :v`, `p = p + :v`, `p = p - :v`,
// `p = if_not_exists(p, :zero) + :v`, `p = list_append(p, :v)` and
// `p = list_append(if_not_exists(p, :empty), :v)`.
func applyUpdateExpression(item Item, expr string, names map[string]string, values Item) error {
	expr = strings.TrimSpace(expr)
	if !strings.HasPrefix(expr, "SET ") {
		return fmt.Errorf("dynamomock: unsupported update expression %q", expr)
	}
	for _, clause := range splitTopLevel(expr[len("SET "):]) {
		parts := strings.SplitN(clause, "=", 2)
		if len(parts) != 2 {
			return fmt.Errorf("dynamomock: bad SET clause %q", clause)
		}
		path := resolvePath(strings.TrimSpace(parts[0]), names)
		av, err := evalOperand(item, strings.TrimSpace(parts[1]), names, values)
		if err != nil {
			return err
		}
		if err := pathSet(item, path, av); err != nil {
			return err
		}
	}
	return nil
}

func evalOperand(item Item, operand string, names map[string]string, values Item) (types.AttributeValue, error) {
	// list_append(base, :v)
	if strings.HasPrefix(operand, "list_append(") && strings.HasSuffix(operand, ")") {
		inner := operand[len("list_append(") : len(operand)-1]
		args := splitTopLevel(inner)
		if len(args) != 2 {
			return nil, fmt.Errorf("dynamomock: bad list_append %q", operand)
		}
		base, err := evalOperand(item, strings.TrimSpace(args[0]), names, values)
		if err != nil {
			return nil, err
		}
		tail, err := evalOperand(item, strings.TrimSpace(args[1]), names, values)
		if err != nil {
			return nil, err
		}
		bl, ok := base.(*types.AttributeValueMemberL)
		if !ok {
			return nil, fmt.Errorf("dynamomock: list_append base is not a list")
		}
		tl, ok := tail.(*types.AttributeValueMemberL)
		if !ok {
			return nil, fmt.Errorf("dynamomock: list_append tail is not a list")
		}
		merged := make([]types.AttributeValue, 0, len(bl.Value)+len(tl.Value))
		for _, el := range bl.Value {
			merged = append(merged, copyValue(el))
		}
		for _, el := range tl.Value {
			merged = append(merged, copyValue(el))
		}
		return &types.AttributeValueMemberL{Value: merged}, nil
	}

	// arithmetic: a + b / a - b
	for _, op := range []string{" + ", " - "} {
		if idx := indexTopLevel(operand, op); idx >= 0 {
			left, err := evalOperand(item, strings.TrimSpace(operand[:idx]), names, values)
			if err != nil {
				return nil, err
			}
			right, err := evalOperand(item, strings.TrimSpace(operand[idx+len(op):]), names, values)
			if err != nil {
				return nil, err
			}
			ln, lok := left.(*types.AttributeValueMemberN)
			rn, rok := right.(*types.AttributeValueMemberN)
			if !lok || !rok {
				return nil, fmt.Errorf("dynamomock: arithmetic on non-numbers in %q", operand)
			}
			a, err := decimal.NewFromString(ln.Value)
			if err != nil {
				return nil, err
			}
			b, err := decimal.NewFromString(rn.Value)
			if err != nil {
				return nil, err
			}
			var res decimal.Decimal
			if op == " + " {
				res = a.Add(b)
			} else {
				res = a.Sub(b)
			}
			return &types.AttributeValueMemberN{Value: res.String()}, nil
		}
	}

	// if_not_exists(path, :default)
	if strings.HasPrefix(operand, "if_not_exists(") && strings.HasSuffix(operand, ")") {
		inner := operand[len("if_not_exists(") : len(operand)-1]
		args := splitTopLevel(inner)
		if len(args) != 2 {
			return nil, fmt.Errorf("dynamomock: bad if_not_exists %q", operand)
		}
		if av, found := pathGet(item, resolvePath(strings.TrimSpace(args[0]), names)); found {
			return copyValue(av), nil
		}
		return evalOperand(item, strings.TrimSpace(args[1]), names, values)
	}

	// value reference
	if strings.HasPrefix(operand, ":") {
		av, ok := values[operand]
		if !ok {
			return nil, fmt.Errorf("dynamomock: unbound value %q", operand)
		}
		return copyValue(av), nil
	}

	// attribute path
	if av, found := pathGet(item, resolvePath(operand, names)); found {
		return copyValue(av), nil
	}
	return nil, fmt.Errorf("dynamomock: missing attribute %q", operand)
}

// splitTopLevel splits on commas that are not nested inside parentheses.
func splitTopLevel(s string) []string {
	var out []string
	depth, start := 0, 0
	for i, r := range s {
		switch r {
		case '(':
			depth++
		case ')':
			depth--
		case ',':
			if depth == 0 {
				out = append(out, strings.TrimSpace(s[start:i]))
				start = i + 1
			}
		}
	}
	out = append(out, strings.TrimSpace(s[start:]))
	return out
}

// indexTopLevel finds op outside parentheses, or -1.
func indexTopLevel(s, op string) int {
	depth := 0
	for i := 0; i+len(op) <= len(s); i++ {
		switch s[i] {
		case '(':
			depth++
		case ')':
			depth--
		}
		if depth == 0 && s[i:i+len(op)] == op {
			return i
		}
	}
	return -1
}
