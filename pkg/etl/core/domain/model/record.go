package model

// Attribute is one typed field of a TableRecord.
type Attribute struct {
	Name   string
	Type   FieldType
	Text   string
	Number float64
}

// TableRecord is one item written to the table store.
type TableRecord struct {
	Table string
	// ID is the 1-based surrogate key: source row offset + 1.
	ID int64
	// IdempotencyKey is stable for the same (table, partition, offset).
	IdempotencyKey string
	Attributes     []Attribute
}

// Get returns the attribute named name.
func (r TableRecord) Get(name string) (Attribute, bool) {
	for _, a := range r.Attributes {
		if a.Name == name {
			return a, true
		}
	}
	return Attribute{}, false
}

// Column is a table column definition derived from a schema.
type Column struct {
	Name string
	Type FieldType
}

// Key and bookkeeping columns present in every loaded table.
const (
	IDColumn             = "id"
	IdempotencyKeyColumn = "idempotency_key"
)

// TableDefinition describes a table to create before the first insert.
type TableDefinition struct {
	Name     string
	KeyField string
	Columns  []Column
}

// DefinitionFor builds the table definition for a schema.
func DefinitionFor(table string, s Schema) TableDefinition {
	cols := []Column{{Name: IDColumn, Type: FieldNumber}}
	for _, f := range s.Fields {
		t := f.Type
		if t == FieldTimestamp {
			// Timestamps are stored as their source text.
			t = FieldString
		}
		cols = append(cols, Column{Name: f.Name, Type: t})
	}
	cols = append(cols, Column{Name: IdempotencyKeyColumn, Type: FieldString})
	return TableDefinition{Name: table, KeyField: IDColumn, Columns: cols}
}
