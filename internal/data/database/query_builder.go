// Package database builds parameterised list queries over the document table.
package database

import (
	"fmt"
	"reflect"
	"regexp"
	"strconv"
	"strings"

	"github.com/jackc/pgx/v5"
)

// ConditionType is the comparison applied by a Condition.
type ConditionType string

const (
	Equal              ConditionType = "="
	NotEqual           ConditionType = "<>"
	GreaterThan        ConditionType = ">"
	GreaterThanOrEqual ConditionType = ">="
	LessThan           ConditionType = "<"
	LessThanOrEqual    ConditionType = "<="
	In                 ConditionType = "IN"
	Custom             ConditionType = "CUSTOM"

	// unset marks LIMIT/OFFSET as not requested.
	unset = -1
)

var placeholderRE = regexp.MustCompile(`\$(\d+)`)

// Condition is one predicate of a WHERE clause. Conditions are joined with AND.
type Condition struct {
	Field  string
	Type   ConditionType
	Value  any
	raw    string
	params []any
}

// WhereCond compares a column against a bound value. In expects a non-empty slice.
func WhereCond(field string, condType ConditionType, value any) Condition {
	if condType == Custom {
		//nolint:forbidigo // custom predicates must go through WhereRawCond so their SQL is explicit.
		panic("use WhereRawCond for custom predicates")
	}
	return Condition{Field: field, Type: condType, Value: value}
}

// WhereRawCond adds a literal predicate. Its $1..$n placeholders refer to params and are
// renumbered to fit the final query. The SQL is not sanitised.
func WhereRawCond(rawQuery string, params ...any) Condition {
	return Condition{Type: Custom, raw: rawQuery, params: params}
}

type orderTerm struct {
	column string
	desc   bool
}

// ListQueryOptions describes a SELECT over one table.
type ListQueryOptions struct {
	Table      string
	Columns    []string
	CountOnly  bool
	Conditions []Condition
	Limit      int
	Offset     int
	order      []orderTerm
}

// ListQueryOption mutates ListQueryOptions.
type ListQueryOption func(*ListQueryOptions)

// NewListQueryOptions returns options selecting every column of table.
func NewListQueryOptions(table string, opts ...ListQueryOption) *ListQueryOptions {
	o := &ListQueryOptions{Table: table, Limit: unset, Offset: unset}
	for _, opt := range opts {
		opt(o)
	}
	return o
}

// WithColumns sets the selected columns. Qualified names such as "t.id" are allowed.
func WithColumns(cols ...string) ListQueryOption {
	return func(o *ListQueryOptions) { o.Columns = cols }
}

// WithCondition appends one predicate.
func WithCondition(cond Condition) ListQueryOption {
	return func(o *ListQueryOptions) { o.Conditions = append(o.Conditions, cond) }
}

// WithOrderBy appends an ordering term. Direction is ASC unless it is "desc" in any case.
func WithOrderBy(column, direction string) ListQueryOption {
	return func(o *ListQueryOptions) {
		o.order = append(o.order, orderTerm{column: column, desc: strings.EqualFold(direction, "desc")})
	}
}

// WithLimit sets LIMIT. Negative values are ignored.
func WithLimit(limit int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if limit >= 0 {
			o.Limit = limit
		}
	}
}

// WithOffset sets OFFSET. Negative values are ignored.
func WithOffset(offset int) ListQueryOption {
	return func(o *ListQueryOptions) {
		if offset >= 0 {
			o.Offset = offset
		}
	}
}

// WithCountOnly turns the query into SELECT COUNT(*). Ordering and paging are dropped.
func WithCountOnly() ListQueryOption {
	return func(o *ListQueryOptions) { o.CountOnly = true }
}

// BuildListQuery renders options into SQL and its positional arguments.
//
//	query, args := BuildListQuery(NewListQueryOptions("family_tests",
//		WithColumns("id", "kind"),
//		WithCondition(WhereCond("kind", Equal, "diff")),
//		WithCondition(WhereRawCond("finished_at IS NULL")),
//		WithOrderBy("created_at", "desc"),
//		WithLimit(20),
//	))
//	// SELECT "id", "kind" FROM "family_tests" WHERE "kind" = $1 AND finished_at IS NULL
//	//   ORDER BY "created_at" DESC LIMIT $2
func BuildListQuery(options *ListQueryOptions) (string, []any) {
	if options == nil {
		return "", nil
	}

	var b strings.Builder
	b.WriteString(selectClause(options))
	b.WriteString(" FROM ")
	b.WriteString(qualifiedIdentifier(options.Table))

	where, args := whereClause(options.Conditions)
	if where != "" {
		b.WriteString(" WHERE ")
		b.WriteString(where)
	}
	if options.CountOnly {
		return b.String(), args
	}

	for i, term := range options.order {
		if i == 0 {
			b.WriteString(" ORDER BY ")
		} else {
			b.WriteString(", ")
		}
		b.WriteString(qualifiedIdentifier(term.column))
		if term.desc {
			b.WriteString(" DESC")
		} else {
			b.WriteString(" ASC")
		}
	}
	if options.Limit != unset {
		args = append(args, options.Limit)
		fmt.Fprintf(&b, " LIMIT $%d", len(args))
	}
	if options.Offset != unset {
		args = append(args, options.Offset)
		fmt.Fprintf(&b, " OFFSET $%d", len(args))
	}
	return b.String(), args
}

func selectClause(o *ListQueryOptions) string {
	if o.CountOnly {
		return "SELECT COUNT(*)"
	}
	if len(o.Columns) == 0 {
		return "SELECT *"
	}
	cols := make([]string, len(o.Columns))
	for i, c := range o.Columns {
		cols[i] = qualifiedIdentifier(c)
	}
	return "SELECT " + strings.Join(cols, ", ")
}

func whereClause(conds []Condition) (string, []any) {
	parts := make([]string, 0, len(conds))
	var args []any
	for _, cond := range conds {
		sql, condArgs := renderCondition(cond, len(args)+1)
		if sql == "" {
			continue
		}
		parts = append(parts, sql)
		args = append(args, condArgs...)
	}
	return strings.Join(parts, " AND "), args
}

// renderCondition renders cond with placeholders starting at next.
func renderCondition(cond Condition, next int) (string, []any) {
	switch cond.Type {
	case Custom:
		return renderRaw(cond, next)
	case In:
		return renderIn(cond, next)
	case Equal, NotEqual, GreaterThan, GreaterThanOrEqual, LessThan, LessThanOrEqual:
		if cond.Field == "" {
			return "", nil
		}
		return fmt.Sprintf("%s %s $%d", qualifiedIdentifier(cond.Field), cond.Type, next), []any{cond.Value}
	}
	return "", nil
}

func renderIn(cond Condition, next int) (string, []any) {
	rv := reflect.ValueOf(cond.Value)
	if cond.Field == "" || rv.Kind() != reflect.Slice || rv.Len() == 0 {
		return "", nil
	}
	placeholders := make([]string, rv.Len())
	args := make([]any, rv.Len())
	for i := range rv.Len() {
		placeholders[i] = "$" + strconv.Itoa(next+i)
		args[i] = rv.Index(i).Interface()
	}
	return fmt.Sprintf("%s IN (%s)", qualifiedIdentifier(cond.Field), strings.Join(placeholders, ", ")), args
}

func renderRaw(cond Condition, next int) (string, []any) {
	if strings.TrimSpace(cond.raw) == "" {
		return "", nil
	}
	var args []any
	mapped := make(map[int]int)
	sql := placeholderRE.ReplaceAllStringFunc(cond.raw, func(m string) string {
		n, err := strconv.Atoi(m[1:])
		if err != nil || n < 1 || n > len(cond.params) {
			return m
		}
		pos, ok := mapped[n]
		if !ok {
			args = append(args, cond.params[n-1])
			pos = next + len(args) - 1
			mapped[n] = pos
		}
		return "$" + strconv.Itoa(pos)
	})
	return sql, args
}

// qualifiedIdentifier quotes each dot-separated part of ident.
func qualifiedIdentifier(ident string) string {
	return pgx.Identifier(strings.Split(ident, ".")).Sanitize()
}
