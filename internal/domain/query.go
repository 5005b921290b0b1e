package domain

import (
	"strings"
	"time"
)

// QueryType classifies what a query definition is used for.
type QueryType string

// Supported query types.
const (
	QueryTypeTable  QueryType = "TABLE"
	QueryTypeChart  QueryType = "CHART"
	QueryTypeMetric QueryType = "METRIC"
)

// ValidQueryType reports whether t is a member of the closed query type set.
func ValidQueryType(t QueryType) bool {
	switch t {
	case QueryTypeTable, QueryTypeChart, QueryTypeMetric:
		return true
	}
	return false
}

// FilterOperator is the closed set of filter comparison operators.
type FilterOperator string

// Supported filter operators.
const (
	OpEquals      FilterOperator = "EQUALS"
	OpNotEquals   FilterOperator = "NOT_EQUALS"
	OpGreaterThan FilterOperator = "GT"
	OpLessThan    FilterOperator = "LT"
	OpGTE         FilterOperator = "GTE"
	OpLTE         FilterOperator = "LTE"
	OpContains    FilterOperator = "CONTAINS"
	OpNotContains FilterOperator = "NOT_CONTAINS"
	OpIn          FilterOperator = "IN"
	OpNotIn       FilterOperator = "NOT_IN"
	OpBetween     FilterOperator = "BETWEEN"
	OpNull        FilterOperator = "NULL"
	OpNotNull     FilterOperator = "NOT_NULL"
)

// ValidFilterOperator reports whether op is a member of the closed operator set.
func ValidFilterOperator(op FilterOperator) bool {
	switch op {
	case OpEquals, OpNotEquals, OpGreaterThan, OpLessThan, OpGTE, OpLTE,
		OpContains, OpNotContains, OpIn, OpNotIn, OpBetween, OpNull, OpNotNull:
		return true
	}
	return false
}

// AggregationType is the closed set of aggregation functions.
type AggregationType string

// Supported aggregation types.
const (
	AggCount         AggregationType = "COUNT"
	AggCountDistinct AggregationType = "COUNT_DISTINCT"
	AggSum           AggregationType = "SUM"
	AggAvg           AggregationType = "AVG"
	AggMin           AggregationType = "MIN"
	AggMax           AggregationType = "MAX"
)

// JoinType is the closed set of supported join types.
type JoinType string

// Supported join types.
const (
	JoinLeft  JoinType = "left"
	JoinRight JoinType = "right"
	JoinInner JoinType = "inner"
	JoinOuter JoinType = "outer"
)

// QueryField selects one output column: a source expression with an optional
// alias and declared data type.
type QueryField struct {
	Expr     string `json:"expr"`
	Alias    string `json:"alias,omitempty"`
	DataType string `json:"dataType,omitempty"`
}

// QueryFilter is a single predicate on a field.
type QueryFilter struct {
	Field    string         `json:"field"`
	Operator FilterOperator `json:"operator"`
	Value    interface{}    `json:"value,omitempty"`
}

// QueryJoin joins another table on a two-element [leftExpr, rightExpr] condition.
type QueryJoin struct {
	Type  JoinType `json:"type"`
	Table string   `json:"table"`
	On    []string `json:"on"`
}

// QueryAggregation applies an aggregation function to a field.
type QueryAggregation struct {
	Type  AggregationType `json:"type"`
	Field string          `json:"field"`
	Alias string          `json:"alias,omitempty"`
}

// QuerySort orders results by a field.
type QuerySort struct {
	Field string `json:"field"`
	Desc  bool   `json:"desc,omitempty"`
}

// RuntimeParameters are name→value bindings supplied at execution time.
type RuntimeParameters map[string]interface{}

// QueryDefinition is a declarative description of a tabular query: fields,
// filters, joins, aggregations, sort, and pagination over one source table.
type QueryDefinition struct {
	ID           string                 `json:"id"`
	Name         string                 `json:"name"`
	Type         QueryType              `json:"type"`
	Collection   string                 `json:"collection"`
	Fields       []QueryField           `json:"fields"`
	Filters      []QueryFilter          `json:"filters,omitempty"`
	Joins        []QueryJoin            `json:"joins,omitempty"`
	Aggregations []QueryAggregation     `json:"aggregations,omitempty"`
	GroupBy      []string               `json:"groupBy,omitempty"`
	Sort         []QuerySort            `json:"sort,omitempty"`
	Limit        int                    `json:"limit,omitempty"`
	Offset       int                    `json:"offset,omitempty"`
	Parameters   map[string]interface{} `json:"parameters,omitempty"`
	CreatedBy    string                 `json:"createdBy,omitempty"`
	CreatedAt    time.Time              `json:"createdAt"`
	UpdatedAt    time.Time              `json:"updatedAt"`
}

// Validate checks the structural invariants of a definition: a source table,
// a non-empty field list, non-empty field expressions, and operator/type
// membership in their closed sets.
func (d *QueryDefinition) Validate() error {
	if strings.TrimSpace(d.Name) == "" {
		return ErrValidation("query name must not be empty")
	}
	if !ValidQueryType(d.Type) {
		return ErrValidation("unknown query type %q", d.Type)
	}
	if strings.TrimSpace(d.Collection) == "" {
		return ErrValidation("query %q: collection must not be empty", d.Name)
	}
	if len(d.Fields) == 0 {
		return ErrValidation("query %q: fields must not be empty", d.Name)
	}
	for i, f := range d.Fields {
		if strings.TrimSpace(f.Expr) == "" {
			return ErrValidation("query %q: field %d has an empty expression", d.Name, i)
		}
	}
	for _, f := range d.Filters {
		if !ValidFilterOperator(f.Operator) {
			// Unknown operators are dropped with a warning at compile time,
			// but a definition being persisted must not carry them.
			return ErrValidation("query %q: unknown filter operator %q", d.Name, f.Operator)
		}
	}
	return nil
}

// MergedParameters overlays runtime parameters on the definition defaults and
// reports any declared parameter left without a value.
func (d *QueryDefinition) MergedParameters(params RuntimeParameters) (RuntimeParameters, error) {
	merged := make(RuntimeParameters, len(d.Parameters)+len(params))
	for name, def := range d.Parameters {
		merged[name] = def
	}
	for name, v := range params {
		merged[name] = v
	}
	var missing []string
	for name, v := range merged {
		if v == nil {
			missing = append(missing, name)
		}
	}
	if len(missing) > 0 {
		return nil, ErrValidation("query %q: missing required parameters: %s", d.Name, strings.Join(missing, ", "))
	}
	return merged, nil
}

// UpdateQueryRequest carries partial updates for a query definition.
// Nil fields are left unchanged.
type UpdateQueryRequest struct {
	Name         *string
	Type         *QueryType
	Collection   *string
	Fields       []QueryField
	Filters      []QueryFilter
	Joins        []QueryJoin
	Aggregations []QueryAggregation
	GroupBy      []string
	Sort         []QuerySort
	Limit        *int
	Offset       *int
	Parameters   map[string]interface{}
}
