package store

import (
	"fmt"
	"strings"

	"golang.org/x/text/cases"
	"golang.org/x/text/unicode/norm"
)

// Field names accepted by conditions and sorting.
const (
	FieldID           = "id"
	FieldName         = "name"
	FieldState        = "state"
	FieldPlatform     = "platform"
	FieldPackageType  = "package_type"
	FieldOriginalPath = "original_path"
	FieldErrorCode    = "error_code"
	FieldCreatedAt    = "created_at"
	FieldUpdatedAt    = "updated_at"
)

var filterColumns = map[string]string{
	FieldID:           "id",
	FieldName:         "name_key",
	FieldState:        "state",
	FieldPlatform:     "platform",
	FieldPackageType:  "package_type",
	FieldOriginalPath: "original_path",
	FieldErrorCode:    "error_code",
	FieldCreatedAt:    "created_at",
	FieldUpdatedAt:    "updated_at",
}

// Condition is a composable filter expression.
type Condition struct {
	clause string
	args   []any
	err    error
}

// Equal matches rows whose field equals value. Name comparisons use the
// normalized name key.
func Equal(field string, value any) Condition {
	column, ok := filterColumns[field]
	if !ok {
		return Condition{err: fmt.Errorf("unknown filter field %q", field)}
	}
	return Condition{clause: column + " = ?", args: []any{normalizeArg(field, value)}}
}

// NotEqual matches rows whose field differs from value.
func NotEqual(field string, value any) Condition {
	column, ok := filterColumns[field]
	if !ok {
		return Condition{err: fmt.Errorf("unknown filter field %q", field)}
	}
	return Condition{clause: column + " <> ?", args: []any{normalizeArg(field, value)}}
}

// In matches rows whose field is one of values. An empty set matches nothing.
func In[T any](field string, values ...T) Condition {
	column, ok := filterColumns[field]
	if !ok {
		return Condition{err: fmt.Errorf("unknown filter field %q", field)}
	}
	if len(values) == 0 {
		return Condition{clause: "0"}
	}
	placeholders := make([]string, len(values))
	args := make([]any, len(values))
	for i, v := range values {
		placeholders[i] = "?"
		args[i] = normalizeArg(field, v)
	}
	return Condition{clause: column + " IN (" + strings.Join(placeholders, ", ") + ")", args: args}
}

// Search matches rows whose name or original path contains text.
func Search(text string) Condition {
	text = strings.TrimSpace(text)
	if text == "" {
		return Condition{}
	}
	pattern := "%" + escapeLike(NameKey(text)) + "%"
	pathPattern := "%" + escapeLike(text) + "%"
	return Condition{
		clause: `(name_key LIKE ? ESCAPE '\' OR original_path LIKE ? ESCAPE '\')`,
		args:   []any{pattern, pathPattern},
	}
}

// And joins conditions; empty conditions are skipped.
func And(conds ...Condition) Condition {
	return join(" AND ", conds)
}

// Or matches when any condition matches.
func Or(conds ...Condition) Condition {
	return join(" OR ", conds)
}

func join(op string, conds []Condition) Condition {
	clauses := make([]string, 0, len(conds))
	var args []any
	for _, c := range conds {
		if c.err != nil {
			return c
		}
		if c.clause == "" {
			continue
		}
		clauses = append(clauses, "("+c.clause+")")
		args = append(args, c.args...)
	}
	if len(clauses) == 0 {
		return Condition{}
	}
	return Condition{clause: strings.Join(clauses, op), args: args}
}

// Query describes a GetAll request.
type Query struct {
	Where  Condition
	SortBy string
	Desc   bool
	Limit  int
	Offset int
}

func (q Query) build() (string, []any, error) {
	if q.Where.err != nil {
		return "", nil, q.Where.err
	}
	var sb strings.Builder
	sb.WriteString(`SELECT ` + packageColumns + ` FROM packages`)
	if q.Where.clause != "" {
		sb.WriteString(" WHERE ")
		sb.WriteString(q.Where.clause)
	}
	sortColumn := "created_at"
	if q.SortBy != "" {
		column, ok := filterColumns[q.SortBy]
		if !ok {
			return "", nil, fmt.Errorf("unknown sort field %q", q.SortBy)
		}
		sortColumn = column
	}
	direction := "ASC"
	if q.Desc {
		direction = "DESC"
	}
	fmt.Fprintf(&sb, " ORDER BY %s %s, rowid ASC", sortColumn, direction)
	args := append([]any(nil), q.Where.args...)
	if q.Limit > 0 {
		sb.WriteString(" LIMIT ?")
		args = append(args, q.Limit)
		if q.Offset > 0 {
			sb.WriteString(" OFFSET ?")
			args = append(args, q.Offset)
		}
	}
	return sb.String(), args, nil
}

// NameKey normalizes a logical package name for comparison: Unicode NFC,
// case folded, surrounding whitespace removed.
func NameKey(name string) string {
	return cases.Fold().String(norm.NFC.String(strings.TrimSpace(name)))
}

func normalizeArg(field string, value any) any {
	switch v := value.(type) {
	case State:
		return int(v)
	case PackageType:
		return string(v)
	case fmt.Stringer:
		if field == FieldName {
			return NameKey(v.String())
		}
		return value
	case string:
		if field == FieldName {
			return NameKey(v)
		}
		return v
	default:
		return value
	}
}

func escapeLike(value string) string {
	replacer := strings.NewReplacer(`\`, `\\`, `%`, `\%`, `_`, `\_`)
	return replacer.Replace(value)
}
