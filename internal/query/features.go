package query

import (
	"errors"
	"fmt"
	"net/url"
	"sort"
	"strconv"
	"strings"
	"time"
)

// ErrBadParameter is returned when a request parameter falls outside the
// whitelisted grammar: an unknown field name, a value that does not
// parse as the field's type, or an enum value outside the allowed set.
var ErrBadParameter = errors.New("invalid query parameter")

// FieldType drives value parsing and validation for a filterable field.
type FieldType int

const (
	TypeString FieldType = iota
	TypeNumber
	TypeTime
	TypeEnum
)

// Field declares one filterable/sortable column of a collection. Only
// declared fields are reachable from request parameters; everything
// else is rejected.
type Field struct {
	Param      string
	Column     string
	Type       FieldType
	Searchable bool
	Enum       []string
}

// Schema is the closed vocabulary of a listable collection: its fields,
// its default sort order, and (through the Searchable flags) the text
// columns a search parameter fans out across.
type Schema struct {
	fields      []Field
	byParam     map[string]Field
	defaultSort string
	defaultDesc bool
}

// NewSchema builds a Schema. defaultSort is the param name of the field
// used when no sort parameter is supplied.
func NewSchema(defaultSort string, defaultDesc bool, fields ...Field) *Schema {
	byParam := make(map[string]Field, len(fields))
	for _, f := range fields {
		byParam[f.Param] = f
	}
	return &Schema{
		fields:      fields,
		byParam:     byParam,
		defaultSort: defaultSort,
		defaultDesc: defaultDesc,
	}
}

// reserved parameter names, never interpreted as field constraints
var reservedParams = map[string]bool{
	"page":   true,
	"sort":   true,
	"limit":  true,
	"fields": true,
	"search": true,
}

// comparison operator suffixes, the only range operators a caller can
// reach. Order matters: longer suffixes are tried first so that
// "priceGte" is not read as field "priceGt" + garbage.
var opSuffixes = []struct {
	suffix string
	op     string
}{
	{"Gte", ">="},
	{"Lte", "<="},
	{"Gt", ">"},
	{"Lt", "<"},
}

type condition struct {
	column string
	op     string // "=", ">", ">=", "<", "<=", "IN"
	args   []interface{}
}

type sortKey struct {
	column string
	desc   bool
}

// Features is a parsed, validated query specification: a filter, a sort
// order, a projection, and a page window, ready to be rendered into a
// parameterised SQL query. Values only ever travel as bind arguments.
type Features struct {
	schema  *Schema
	conds   []condition
	search  string
	sorts   []sortKey
	columns []string
	page    int
	limit   int
}

const (
	DefaultPage  = 1
	DefaultLimit = 100
)

// Parse translates raw request parameters into Features against the
// given schema. Unknown field names and untypable values are rejected;
// malformed page/limit/sort/fields values fall back to defaults.
func Parse(values url.Values, schema *Schema) (*Features, error) {
	f := &Features{
		schema: schema,
		page:   DefaultPage,
		limit:  DefaultLimit,
	}

	// Deterministic iteration keeps rendered SQL stable for tests and
	// query-plan caching.
	names := make([]string, 0, len(values))
	for name := range values {
		names = append(names, name)
	}
	sort.Strings(names)

	for _, name := range names {
		if reservedParams[name] {
			continue
		}
		raw := values.Get(name)
		cond, err := schema.parseCondition(name, raw)
		if err != nil {
			return nil, err
		}
		f.conds = append(f.conds, cond)
	}

	f.search = strings.TrimSpace(values.Get("search"))
	f.parseSort(values.Get("sort"))
	f.parseFields(values.Get("fields"))
	f.parsePagination(values.Get("page"), values.Get("limit"))

	return f, nil
}

// parseCondition resolves a parameter name to a whitelisted field and a
// whitelisted operator, then parses the value under the field's type.
func (s *Schema) parseCondition(name, raw string) (condition, error) {
	op := "="
	base := name
	for _, cand := range opSuffixes {
		trimmed := strings.TrimSuffix(name, cand.suffix)
		if trimmed != name && trimmed != "" {
			if _, ok := s.byParam[trimmed]; ok {
				op = cand.op
				base = trimmed
				break
			}
		}
	}

	field, ok := s.byParam[base]
	if !ok {
		return condition{}, fmt.Errorf("%w: unknown field %q", ErrBadParameter, name)
	}

	// Comma-separated equality expands to an IN list. Range operators
	// take a single value.
	if op == "=" && strings.Contains(raw, ",") {
		parts := strings.Split(raw, ",")
		args := make([]interface{}, 0, len(parts))
		for _, p := range parts {
			v, err := field.parseValue(strings.TrimSpace(p))
			if err != nil {
				return condition{}, err
			}
			args = append(args, v)
		}
		return condition{column: field.Column, op: "IN", args: args}, nil
	}

	v, err := field.parseValue(raw)
	if err != nil {
		return condition{}, err
	}
	return condition{column: field.Column, op: op, args: []interface{}{v}}, nil
}

// parseValue validates and types a single caller-supplied value. The
// returned value is only ever used as a bind argument.
func (f Field) parseValue(raw string) (interface{}, error) {
	switch f.Type {
	case TypeNumber:
		n, err := strconv.ParseFloat(raw, 64)
		if err != nil {
			return nil, fmt.Errorf("%w: %q is not a number for field %q", ErrBadParameter, raw, f.Param)
		}
		return n, nil
	case TypeTime:
		if t, err := time.Parse(time.RFC3339, raw); err == nil {
			return t, nil
		}
		if t, err := time.Parse("2006-01-02", raw); err == nil {
			return t, nil
		}
		return nil, fmt.Errorf("%w: %q is not a timestamp for field %q", ErrBadParameter, raw, f.Param)
	case TypeEnum:
		for _, allowed := range f.Enum {
			if raw == allowed {
				return raw, nil
			}
		}
		return nil, fmt.Errorf("%w: %q is not a valid value for field %q", ErrBadParameter, raw, f.Param)
	default:
		return raw, nil
	}
}

func (f *Features) parseSort(raw string) {
	if raw == "" {
		if field, ok := f.schema.byParam[f.schema.defaultSort]; ok {
			f.sorts = []sortKey{{column: field.Column, desc: f.schema.defaultDesc}}
		}
		return
	}
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		desc := strings.HasPrefix(part, "-")
		part = strings.TrimPrefix(part, "-")
		field, ok := f.schema.byParam[part]
		if !ok {
			continue // unknown sort keys are dropped, not errors
		}
		f.sorts = append(f.sorts, sortKey{column: field.Column, desc: desc})
	}
	if len(f.sorts) == 0 {
		if field, ok := f.schema.byParam[f.schema.defaultSort]; ok {
			f.sorts = []sortKey{{column: field.Column, desc: f.schema.defaultDesc}}
		}
	}
}

func (f *Features) parseFields(raw string) {
	if raw == "" {
		for _, field := range f.schema.fields {
			f.columns = append(f.columns, field.Column)
		}
		return
	}
	seen := make(map[string]bool)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		field, ok := f.schema.byParam[part]
		if !ok || seen[field.Column] {
			continue
		}
		seen[field.Column] = true
		f.columns = append(f.columns, field.Column)
	}
	if len(f.columns) == 0 {
		for _, field := range f.schema.fields {
			f.columns = append(f.columns, field.Column)
		}
	}
}

// parsePagination applies the 1-indexed page window. Non-numeric or
// out-of-range values fall back to defaults rather than erroring.
func (f *Features) parsePagination(pageRaw, limitRaw string) {
	if n, err := strconv.Atoi(pageRaw); err == nil && n >= 1 {
		f.page = n
	}
	if n, err := strconv.Atoi(limitRaw); err == nil && n >= 1 {
		f.limit = n
	}
}

// SelectColumns returns the projection column list.
func (f *Features) SelectColumns() []string {
	cols := make([]string, len(f.columns))
	copy(cols, f.columns)
	return cols
}

// escapeLike neutralises LIKE metacharacters in a caller-supplied
// search term so it always matches as a literal substring.
func escapeLike(s string) string {
	s = strings.ReplaceAll(s, `\`, `\\`)
	s = strings.ReplaceAll(s, `%`, `\%`)
	s = strings.ReplaceAll(s, `_`, `\_`)
	return s
}

// WhereClause renders the filter as a SQL fragment with $N placeholders
// starting at argOffset+1, plus the matching bind arguments. An empty
// filter renders to an empty string.
func (f *Features) WhereClause(argOffset int) (string, []interface{}) {
	var parts []string
	var args []interface{}
	n := argOffset

	for _, c := range f.conds {
		switch c.op {
		case "IN":
			placeholders := make([]string, len(c.args))
			for i, a := range c.args {
				n++
				placeholders[i] = fmt.Sprintf("$%d", n)
				args = append(args, a)
			}
			parts = append(parts, fmt.Sprintf("%s IN (%s)", c.column, strings.Join(placeholders, ", ")))
		default:
			n++
			parts = append(parts, fmt.Sprintf("%s %s $%d", c.column, c.op, n))
			args = append(args, c.args[0])
		}
	}

	if f.search != "" {
		var ors []string
		n++
		pattern := "%" + escapeLike(f.search) + "%"
		for _, field := range f.schema.fields {
			if field.Searchable {
				ors = append(ors, fmt.Sprintf("%s ILIKE $%d", field.Column, n))
			}
		}
		if len(ors) > 0 {
			parts = append(parts, "("+strings.Join(ors, " OR ")+")")
			args = append(args, pattern)
		}
	}

	if len(parts) == 0 {
		return "", nil
	}
	return "WHERE " + strings.Join(parts, " AND "), args
}

// AndClause renders the filter to be appended to an existing WHERE,
// e.g. for owner-scoped listings. Empty filter renders empty.
func (f *Features) AndClause(argOffset int) (string, []interface{}) {
	clause, args := f.WhereClause(argOffset)
	if clause == "" {
		return "", nil
	}
	return "AND " + strings.TrimPrefix(clause, "WHERE "), args
}

// OrderByClause renders the sort order.
func (f *Features) OrderByClause() string {
	if len(f.sorts) == 0 {
		return ""
	}
	parts := make([]string, len(f.sorts))
	for i, s := range f.sorts {
		dir := "ASC"
		if s.desc {
			dir = "DESC"
		}
		parts[i] = fmt.Sprintf("%s %s", s.column, dir)
	}
	return "ORDER BY " + strings.Join(parts, ", ")
}

// LimitOffset returns the page window.
func (f *Features) LimitOffset() (limit, offset int) {
	return f.limit, (f.page - 1) * f.limit
}

// Page returns the requested 1-indexed page number.
func (f *Features) Page() int {
	return f.page
}
