package postgres

import (
	"fmt"
	"regexp"
	"strings"
	"time"

	sq "github.com/Masterminds/squirrel"

	"github.com/mvetrov/recordgate/internal/errs"
	"github.com/mvetrov/recordgate/internal/model"
	"github.com/mvetrov/recordgate/internal/query"
)

// Managed attributes held in table columns rather than inside the JSONB doc.
var columnFields = map[string]string{
	// id predicates carry string values (the doc form of the id), so the
	// column is compared in its text form.
	model.FieldID:         "id::text",
	model.FieldCollection: "collection",
	model.FieldKind:       "kind",
	model.FieldVersion:    "version",
	model.FieldCreatedAt:  "created_at",
	model.FieldUpdatedAt:  "updated_at",
}

// Managed doc fields holding instants, compared with a timestamptz cast.
var timeDocFields = map[string]bool{
	model.FieldValidFrom:  true,
	model.FieldValidUntil: true,
}

var segmentRe = regexp.MustCompile(`^[A-Za-z0-9_-]+$`)

// condSQL compiles a predicate tree into a squirrel fragment. The tree's
// truth value is preserved exactly: empty AND is TRUE, empty OR is FALSE.
func condSQL(c *query.Cond) (sq.Sqlizer, error) {
	if c == nil {
		return sq.Expr("TRUE"), nil
	}
	switch c.Op {
	case query.OpAnd, query.OpOr:
		if len(c.Kids) == 0 {
			if c.Op == query.OpAnd {
				return sq.Expr("TRUE"), nil
			}
			return sq.Expr("FALSE"), nil
		}
		parts := make([]sq.Sqlizer, 0, len(c.Kids))
		for _, k := range c.Kids {
			p, err := condSQL(k)
			if err != nil {
				return nil, err
			}
			parts = append(parts, p)
		}
		if c.Op == query.OpAnd {
			return sq.And(parts), nil
		}
		return sq.Or(parts), nil
	case query.OpEq:
		return leaf(c.Field, c.Value, "= ?")
	case query.OpNe:
		return leaf(c.Field, c.Value, "IS DISTINCT FROM ?")
	case query.OpLt:
		return leaf(c.Field, c.Value, "< ?")
	case query.OpLte:
		return leaf(c.Field, c.Value, "<= ?")
	case query.OpGt:
		return leaf(c.Field, c.Value, "> ?")
	case query.OpGte:
		return leaf(c.Field, c.Value, ">= ?")
	case query.OpIn:
		expr, err := fieldExpr(c.Field, firstOr(c.Values, nil))
		if err != nil {
			return nil, err
		}
		return sq.Eq{expr: c.Values}, nil
	case query.OpAnyIn:
		path, err := docPath(c.Field)
		if err != nil {
			return nil, err
		}
		vals := make([]string, 0, len(c.Values))
		for _, v := range c.Values {
			vals = append(vals, fmt.Sprint(v))
		}
		return sq.Expr(fmt.Sprintf("jsonb_exists_any(doc #> '%s', ?)", path), vals), nil
	case query.OpNull:
		expr, err := fieldExpr(c.Field, "")
		if err != nil {
			return nil, err
		}
		return sq.Expr(expr + " IS NULL"), nil
	case query.OpNotNull:
		expr, err := fieldExpr(c.Field, "")
		if err != nil {
			return nil, err
		}
		return sq.Expr(expr + " IS NOT NULL"), nil
	default:
		return nil, fmt.Errorf("%w: unsupported predicate op %q", errs.ErrValidation, c.Op)
	}
}

func leaf(field string, v any, op string) (sq.Sqlizer, error) {
	expr, err := fieldExpr(field, v)
	if err != nil {
		return nil, err
	}
	return sq.Expr(expr+" "+op, v), nil
}

// fieldExpr renders the SQL expression addressing a field, typed by the
// comparison value so the JSONB text form is cast appropriately.
func fieldExpr(field string, v any) (string, error) {
	if col, ok := columnFields[field]; ok {
		return col, nil
	}
	path, err := docPath(field)
	if err != nil {
		return "", err
	}
	base := fmt.Sprintf("doc #>> '%s'", path)
	if timeDocFields[field] {
		return "(" + base + ")::timestamptz", nil
	}
	switch v.(type) {
	case time.Time, *time.Time:
		return "(" + base + ")::timestamptz", nil
	case int, int32, int64, float32, float64, uint:
		return "(" + base + ")::numeric", nil
	case bool:
		return "(" + base + ")::boolean", nil
	default:
		return base, nil
	}
}

// orderExpr renders the SQL expression used in ORDER BY for a field.
func orderExpr(key query.SortKey) (string, error) {
	expr, err := fieldExpr(key.Field, "")
	if err != nil {
		return "", err
	}
	if key.Desc {
		return expr + " DESC", nil
	}
	return expr + " ASC", nil
}

// docPath renders a dotted field path as a JSONB path literal. Segments are
// restricted to a safe identifier charset because the path is interpolated
// into the statement text.
func docPath(field string) (string, error) {
	segs := strings.Split(field, ".")
	for _, s := range segs {
		if !segmentRe.MatchString(s) {
			return "", fmt.Errorf("%w: bad field path %q", errs.ErrValidation, field)
		}
	}
	return "{" + strings.Join(segs, ",") + "}", nil
}

func firstOr(vs []any, fallback any) any {
	if len(vs) > 0 {
		return vs[0]
	}
	return fallback
}
