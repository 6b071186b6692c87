package pagination

import (
	"strings"

	"apicore/internal/apierror"
)

// Kind is the value type of a sortable field. Cursor values are coerced to
// it on decode.
type Kind string

const (
	KindString Kind = "string"
	KindInt    Kind = "int"
	KindFloat  Kind = "float"
	KindTime   Kind = "time"
)

// SortField is one component of a sort order.
type SortField struct {
	Name string
	Kind Kind
	Desc bool
}

func (f SortField) direction() string {
	if f.Desc {
		return "desc"
	}
	return "asc"
}

// Order is a sort order whose last field is unique across the collection.
type Order []SortField

// NewSortOrder appends tieBreak to fields unless a field of that name is
// already present, so two items never compare equal.
func NewSortOrder(tieBreak SortField, fields ...SortField) Order {
	order := make(Order, 0, len(fields)+1)
	for _, f := range fields {
		order = append(order, f)
		if f.Name == tieBreak.Name {
			return order
		}
	}
	return append(order, tieBreak)
}

// Signature identifies the shape of the order. A cursor is only valid for
// the signature it was issued for.
func (o Order) Signature() string {
	parts := make([]string, len(o))
	for i, f := range o {
		parts[i] = f.Name + ":" + f.direction() + ":" + string(f.Kind)
	}
	return strings.Join(parts, ",")
}

// Reverse flips the direction of every field.
func (o Order) Reverse() Order {
	out := make(Order, len(o))
	for i, f := range o {
		f.Desc = !f.Desc
		out[i] = f
	}
	return out
}

// String renders the order in query parameter form, e.g. "name,-id".
func (o Order) String() string {
	parts := make([]string, len(o))
	for i, f := range o {
		if f.Desc {
			parts[i] = "-" + f.Name
		} else {
			parts[i] = f.Name
		}
	}
	return strings.Join(parts, ",")
}

// Schema is the allow-list of sortable fields of a collection.
type Schema struct {
	Fields map[string]Kind
	// TieBreak names a unique field; it is appended to every order.
	TieBreak string
	// Default is used when the client requests no sort.
	Default []SortField
}

func (s Schema) tieBreak() SortField {
	return SortField{Name: s.TieBreak, Kind: s.Fields[s.TieBreak]}
}

// Order builds a complete order from fields, filling field kinds from the
// schema.
func (s Schema) Order(fields ...SortField) Order {
	if len(fields) == 0 {
		fields = s.Default
	}
	resolved := make([]SortField, len(fields))
	for i, f := range fields {
		if f.Kind == "" {
			f.Kind = s.Fields[f.Name]
		}
		resolved[i] = f
	}
	return NewSortOrder(s.tieBreak(), resolved...)
}

// ParseSort parses a comma separated list of field names, each optionally
// prefixed with "-" for descending order. Every unknown or repeated field is
// reported as a field error of "sort".
func (s Schema) ParseSort(raw string) (Order, error) {
	raw = strings.TrimSpace(raw)
	if raw == "" {
		return s.Order(), nil
	}

	var (
		errs   apierror.Collector
		fields []SortField
		seen   = make(map[string]bool)
	)
	for _, part := range strings.Split(raw, ",") {
		part = strings.TrimSpace(part)
		desc := strings.HasPrefix(part, "-")
		name := strings.TrimPrefix(part, "-")

		kind, ok := s.Fields[name]
		switch {
		case name == "":
			errs.Add("sort", apierror.CodeRequired, "sort field name is empty", raw)
			continue
		case !ok:
			errs.Add("sort", apierror.CodeUnknownField, "unknown sort field "+name, part)
			continue
		case seen[name]:
			errs.Add("sort", apierror.CodeDuplicateField, "sort field "+name+" is repeated", part)
			continue
		}
		seen[name] = true
		fields = append(fields, SortField{Name: name, Kind: kind, Desc: desc})
	}
	if err := errs.Err(); err != nil {
		return nil, err
	}
	return s.Order(fields...), nil
}
