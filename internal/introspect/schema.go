package introspect

import "slices"

// Canonical table types. Backends may report other values; those pass through.
const (
	TypeTable = "TABLE"
	TypeView  = "VIEW"
)

// ColumnProperty is a free-form backend annotation on a column.
type ColumnProperty struct {
	Key   string `json:"key"`
	Value string `json:"value"`
}

// ForeignKey describes the referenced side of a foreign key column.
type ForeignKey struct {
	Name             string `json:"name,omitempty"`
	ReferencedSchema string `json:"referencedSchema,omitempty"`
	ReferencedTable  string `json:"referencedTable"`
	ReferencedColumn string `json:"referencedColumn"`
}

// Column represents a table column.
type Column struct {
	Name                 string           `json:"name"`
	TypeName             string           `json:"typeName"`
	OrdinalPosition      int              `json:"ordinalPosition"`
	PrimaryKeySequenceID int              `json:"primaryKeySequenceId"`
	ColumnDisplaySize    int              `json:"columnDisplaySize"`
	Scale                int              `json:"scale"`
	Precision            int              `json:"precision"`
	ColumnProperties     []ColumnProperty `json:"columnProperties"`
	Autoincrement        bool             `json:"autoincrement"`
	PrimaryKey           bool             `json:"primaryKey"`
	Nullable             bool             `json:"nullable"`
	ForeignKeys          []ForeignKey     `json:"foreignKeys,omitempty"`
}

// AddProperty appends a key/value annotation, skipping empty values.
func (c *Column) AddProperty(key, value string) {
	if value == "" {
		return
	}
	c.ColumnProperties = append(c.ColumnProperties, ColumnProperty{Key: key, Value: value})
}

// Property returns the value stored under key.
func (c Column) Property(key string) (string, bool) {
	for _, p := range c.ColumnProperties {
		if p.Key == key {
			return p.Value, true
		}
	}
	return "", false
}

// Table represents a database table or view and its columns.
type Table struct {
	Name    string   `json:"name"`
	Type    string   `json:"type"`
	Schema  string   `json:"schema"`
	Columns []Column `json:"columns"`
}

// Schema is the full result of one extraction pass.
type Schema struct {
	Tables []Table `json:"tables"`
}

// Clone returns a deep copy. Nil and empty slices keep their distinction so
// the JSON shape is unchanged.
func (s Schema) Clone() Schema {
	out := Schema{Tables: slices.Clone(s.Tables)}
	for i, t := range out.Tables {
		cols := slices.Clone(t.Columns)
		for j, c := range cols {
			cols[j].ColumnProperties = slices.Clone(c.ColumnProperties)
			cols[j].ForeignKeys = slices.Clone(c.ForeignKeys)
		}
		out.Tables[i].Columns = cols
	}
	return out
}
