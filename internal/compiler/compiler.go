// Package compiler turns declarative query definitions into executable SQL.
//
// Runtime parameter values are never spliced into query text: values bind
// through driver placeholders, and parameters referenced inside table or
// field expressions must resolve to plain identifiers.
package compiler

import (
	"fmt"
	"log/slog"
	"regexp"
	"strings"

	"freight-insights/internal/domain"
)

// CompiledQuery is the executable form of a query definition: structured SQL
// parts plus the positional bindings for every placeholder in Where.
type CompiledQuery struct {
	Select  []string
	From    string
	Joins   []string
	Where   []string
	GroupBy []string
	OrderBy []string
	Limit   int
	Offset  int
	Args    []interface{}
}

// SQL renders the full SELECT statement, pagination applied last.
func (q *CompiledQuery) SQL() string {
	var b strings.Builder
	b.WriteString("SELECT ")
	b.WriteString(strings.Join(q.Select, ", "))
	b.WriteString(" FROM ")
	b.WriteString(q.From)
	for _, j := range q.Joins {
		b.WriteString(" ")
		b.WriteString(j)
	}
	if len(q.Where) > 0 {
		b.WriteString(" WHERE ")
		b.WriteString(strings.Join(q.Where, " AND "))
	}
	if len(q.GroupBy) > 0 {
		b.WriteString(" GROUP BY ")
		b.WriteString(strings.Join(q.GroupBy, ", "))
	}
	if len(q.OrderBy) > 0 {
		b.WriteString(" ORDER BY ")
		b.WriteString(strings.Join(q.OrderBy, ", "))
	}
	if q.Limit > 0 {
		fmt.Fprintf(&b, " LIMIT %d", q.Limit)
	}
	if q.Offset > 0 {
		fmt.Fprintf(&b, " OFFSET %d", q.Offset)
	}
	return b.String()
}

// PageSQL renders the statement with the definition's own limit/offset
// replaced by the given page window.
func (q *CompiledQuery) PageSQL(limit, offset int) string {
	window := *q
	window.Limit = limit
	window.Offset = offset
	return window.SQL()
}

// CountSQL renders a COUNT(*) over the same filtered/joined/grouped subquery,
// ignoring ordering and pagination. It binds the same Args as SQL().
func (q *CompiledQuery) CountSQL() string {
	sub := *q
	sub.OrderBy = nil
	sub.Limit = 0
	sub.Offset = 0
	return "SELECT COUNT(*) FROM (" + sub.SQL() + ") AS sub"
}

// Compiler compiles query definitions. Recoverable definition defects
// (unknown operators, malformed join conditions) drop the offending clause
// with a warning instead of failing the query.
type Compiler struct {
	logger *slog.Logger
}

// New creates a Compiler that reports dropped clauses through logger.
func New(logger *slog.Logger) *Compiler {
	if logger == nil {
		logger = slog.Default()
	}
	return &Compiler{logger: logger}
}

var (
	paramToken = regexp.MustCompile(`:([A-Za-z_][A-Za-z0-9_]*)`)
	identifier = regexp.MustCompile(`^[A-Za-z_][A-Za-z0-9_.]*$`)
)

// Compile validates the definition, resolves runtime parameters, and builds
// the executable query. Fields must be non-empty; the warehouse is never
// touched on a validation failure.
func (c *Compiler) Compile(def *domain.QueryDefinition, params domain.RuntimeParameters) (*CompiledQuery, error) {
	if err := def.Validate(); err != nil {
		return nil, err
	}
	merged, err := def.MergedParameters(params)
	if err != nil {
		return nil, err
	}

	from, err := resolveExpr(def.Collection, merged)
	if err != nil {
		return nil, err
	}

	q := &CompiledQuery{
		From:   from,
		Limit:  def.Limit,
		Offset: def.Offset,
	}

	if err := c.compileSelect(q, def, merged); err != nil {
		return nil, err
	}
	if err := c.compileJoins(q, def, merged); err != nil {
		return nil, err
	}
	if err := c.compileFilters(q, def, merged); err != nil {
		return nil, err
	}

	for _, g := range def.GroupBy {
		expr, err := resolveExpr(g, merged)
		if err != nil {
			return nil, err
		}
		q.GroupBy = append(q.GroupBy, expr)
	}

	for _, s := range def.Sort {
		expr, err := resolveExpr(s.Field, merged)
		if err != nil {
			return nil, err
		}
		dir := "ASC"
		if s.Desc {
			dir = "DESC"
		}
		q.OrderBy = append(q.OrderBy, expr+" "+dir)
	}

	return q, nil
}

// compileSelect builds the projection from fields and aggregations.
// Alias collisions resolve last-write-wins; each collision is logged.
func (c *Compiler) compileSelect(q *CompiledQuery, def *domain.QueryDefinition, merged domain.RuntimeParameters) error {
	byAlias := make(map[string]int)

	add := func(expr, alias string) {
		item := expr
		name := expr
		if alias != "" {
			item = expr + " AS " + alias
			name = alias
		}
		if prev, ok := byAlias[name]; ok {
			c.logger.Warn("select alias collision, last definition wins",
				"query", def.Name, "alias", name)
			q.Select[prev] = item
			return
		}
		byAlias[name] = len(q.Select)
		q.Select = append(q.Select, item)
	}

	for _, f := range def.Fields {
		expr, err := resolveExpr(f.Expr, merged)
		if err != nil {
			return err
		}
		add(expr, f.Alias)
	}

	for _, agg := range def.Aggregations {
		field, err := resolveExpr(agg.Field, merged)
		if err != nil {
			return err
		}
		var expr string
		switch agg.Type {
		case domain.AggCount:
			if field == "" {
				field = "*"
			}
			expr = fmt.Sprintf("COUNT(%s)", field)
		case domain.AggCountDistinct:
			expr = fmt.Sprintf("COUNT(DISTINCT %s)", field)
		case domain.AggSum, domain.AggAvg, domain.AggMin, domain.AggMax:
			expr = fmt.Sprintf("%s(%s)", agg.Type, field)
		default:
			c.logger.Warn("dropping unknown aggregation type",
				"query", def.Name, "type", string(agg.Type))
			continue
		}
		alias := agg.Alias
		if alias == "" {
			alias = strings.ToLower(string(agg.Type)) + "_" + strings.Map(aliasSafe, field)
		}
		add(expr, alias)
	}

	if len(q.Select) == 0 {
		return domain.ErrValidation("query %q: projection is empty after compilation", def.Name)
	}
	return nil
}

// compileJoins appends JOIN clauses; unsupported types and malformed
// conditions are dropped with a warning.
func (c *Compiler) compileJoins(q *CompiledQuery, def *domain.QueryDefinition, merged domain.RuntimeParameters) error {
	for _, j := range def.Joins {
		var kw string
		switch j.Type {
		case domain.JoinLeft:
			kw = "LEFT JOIN"
		case domain.JoinRight:
			kw = "RIGHT JOIN"
		case domain.JoinInner:
			kw = "INNER JOIN"
		case domain.JoinOuter:
			kw = "FULL OUTER JOIN"
		default:
			c.logger.Warn("dropping join with unsupported type",
				"query", def.Name, "type", string(j.Type), "table", j.Table)
			continue
		}
		if len(j.On) != 2 {
			c.logger.Warn("dropping join with malformed condition",
				"query", def.Name, "table", j.Table, "condition_len", len(j.On))
			continue
		}
		table, err := resolveExpr(j.Table, merged)
		if err != nil {
			return err
		}
		left, err := resolveExpr(j.On[0], merged)
		if err != nil {
			return err
		}
		right, err := resolveExpr(j.On[1], merged)
		if err != nil {
			return err
		}
		q.Joins = append(q.Joins, fmt.Sprintf("%s %s ON %s = %s", kw, table, left, right))
	}
	return nil
}

// compileFilters maps filter operators onto predicates with bound arguments.
// IN/NOT_IN without an array value, BETWEEN without a 2-element array, and
// unknown operators drop the filter with a warning — never fatal.
func (c *Compiler) compileFilters(q *CompiledQuery, def *domain.QueryDefinition, merged domain.RuntimeParameters) error {
	for _, f := range def.Filters {
		field, err := resolveExpr(f.Field, merged)
		if err != nil {
			return err
		}

		value, err := resolveValue(f.Value, merged)
		if err != nil {
			return err
		}

		switch f.Operator {
		case domain.OpEquals:
			q.Where = append(q.Where, field+" = ?")
			q.Args = append(q.Args, value)
		case domain.OpNotEquals:
			q.Where = append(q.Where, field+" <> ?")
			q.Args = append(q.Args, value)
		case domain.OpGreaterThan:
			q.Where = append(q.Where, field+" > ?")
			q.Args = append(q.Args, value)
		case domain.OpLessThan:
			q.Where = append(q.Where, field+" < ?")
			q.Args = append(q.Args, value)
		case domain.OpGTE:
			q.Where = append(q.Where, field+" >= ?")
			q.Args = append(q.Args, value)
		case domain.OpLTE:
			q.Where = append(q.Where, field+" <= ?")
			q.Args = append(q.Args, value)
		case domain.OpContains:
			q.Where = append(q.Where, field+" LIKE ?")
			q.Args = append(q.Args, "%"+fmt.Sprint(value)+"%")
		case domain.OpNotContains:
			q.Where = append(q.Where, field+" NOT LIKE ?")
			q.Args = append(q.Args, "%"+fmt.Sprint(value)+"%")
		case domain.OpIn, domain.OpNotIn:
			items, ok := asSlice(value)
			if !ok || len(items) == 0 {
				c.logger.Warn("dropping filter: operator requires a non-empty array value",
					"query", def.Name, "field", f.Field, "operator", string(f.Operator))
				continue
			}
			kw := "IN"
			if f.Operator == domain.OpNotIn {
				kw = "NOT IN"
			}
			q.Where = append(q.Where, fmt.Sprintf("%s %s (%s)", field, kw, placeholders(len(items))))
			q.Args = append(q.Args, items...)
		case domain.OpBetween:
			items, ok := asSlice(value)
			if !ok || len(items) != 2 {
				c.logger.Warn("dropping filter: BETWEEN requires a 2-element array value",
					"query", def.Name, "field", f.Field)
				continue
			}
			q.Where = append(q.Where, field+" BETWEEN ? AND ?")
			q.Args = append(q.Args, items[0], items[1])
		case domain.OpNull:
			q.Where = append(q.Where, field+" IS NULL")
		case domain.OpNotNull:
			q.Where = append(q.Where, field+" IS NOT NULL")
		default:
			c.logger.Warn("dropping filter with unknown operator",
				"query", def.Name, "field", f.Field, "operator", string(f.Operator))
		}
	}
	return nil
}

// resolveExpr substitutes :name tokens inside a table/field expression.
// Substituted values must be plain identifiers so parameter content cannot
// alter query structure.
func resolveExpr(expr string, merged domain.RuntimeParameters) (string, error) {
	var rerr error
	out := paramToken.ReplaceAllStringFunc(expr, func(tok string) string {
		name := tok[1:]
		v, ok := merged[name]
		if !ok {
			rerr = domain.ErrValidation("expression %q references undeclared parameter %q", expr, name)
			return tok
		}
		s := fmt.Sprint(v)
		if !identifier.MatchString(s) {
			rerr = domain.ErrValidation("parameter %q value %q is not a valid identifier", name, s)
			return tok
		}
		return s
	})
	if rerr != nil {
		return "", rerr
	}
	return out, nil
}

// resolveValue substitutes :name tokens inside a filter value. A value that
// is exactly one token takes the parameter's value with its original type;
// tokens embedded in a longer string are replaced textually. Either way the
// result binds through a placeholder, never through the query text.
func resolveValue(value interface{}, merged domain.RuntimeParameters) (interface{}, error) {
	s, ok := value.(string)
	if !ok {
		return value, nil
	}
	if m := paramToken.FindStringSubmatch(s); m != nil && m[0] == s {
		v, ok := merged[m[1]]
		if !ok {
			return nil, domain.ErrValidation("filter value references undeclared parameter %q", m[1])
		}
		return v, nil
	}
	var rerr error
	out := paramToken.ReplaceAllStringFunc(s, func(tok string) string {
		name := tok[1:]
		v, ok := merged[name]
		if !ok {
			rerr = domain.ErrValidation("filter value references undeclared parameter %q", name)
			return tok
		}
		return fmt.Sprint(v)
	})
	if rerr != nil {
		return nil, rerr
	}
	return out, nil
}

func asSlice(value interface{}) ([]interface{}, bool) {
	switch v := value.(type) {
	case []interface{}:
		return v, true
	case []string:
		out := make([]interface{}, len(v))
		for i, s := range v {
			out[i] = s
		}
		return out, true
	default:
		return nil, false
	}
}

func placeholders(n int) string {
	return strings.TrimSuffix(strings.Repeat("?, ", n), ", ")
}

func aliasSafe(r rune) rune {
	switch {
	case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '_':
		return r
	default:
		return '_'
	}
}
