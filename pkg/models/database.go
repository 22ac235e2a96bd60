package models

import (
	"encoding/json"
)

// PropertyType enumerates database column kinds.
type PropertyType string

const (
	PropertyText        PropertyType = "text"
	PropertyNumber      PropertyType = "number"
	PropertySelect      PropertyType = "select"
	PropertyMultiSelect PropertyType = "multi_select"
	PropertyDate        PropertyType = "date"
	PropertyCheckbox    PropertyType = "checkbox"
	PropertyURL         PropertyType = "url"
	PropertyPerson      PropertyType = "person"
	PropertyRelation    PropertyType = "relation"
	PropertyFormula     PropertyType = "formula"
)

// Property is a column of a database.
type Property struct {
	ID         string          `json:"id"`
	DatabaseID string          `json:"databaseId"`
	Name       string          `json:"name"`
	Type       PropertyType    `json:"type"`
	Options    json.RawMessage `json:"options,omitempty"`
}

// PropertyPatch carries the changed fields of a property.
type PropertyPatch struct {
	Name    Opt[string]          `json:"name,omitzero"`
	Type    Opt[PropertyType]    `json:"type,omitzero"`
	Options Opt[json.RawMessage] `json:"options,omitzero"`
}

func (p PropertyPatch) IsEmpty() bool {
	return !p.Name.Set && !p.Type.Set && !p.Options.Set
}

func (p PropertyPatch) Apply(prop Property) Property {
	if v, ok := p.Name.Get(); ok {
		prop.Name = v
	}
	if v, ok := p.Type.Get(); ok {
		prop.Type = v
	}
	if v, ok := p.Options.Get(); ok {
		prop.Options = v
	}
	return prop
}

// Cell is the value of one property in one row. (RowID, PropertyID) is unique.
type Cell struct {
	ID         string          `json:"id"`
	RowID      string          `json:"rowId"`
	PropertyID string          `json:"propertyId"`
	Value      json.RawMessage `json:"value"`
}

// Row belongs to a database and owns its cells in insertion order.
type Row struct {
	ID         string `json:"id"`
	DatabaseID string `json:"databaseId"`
	Order      int    `json:"order"`
	Cells      []Cell `json:"cells"`
}

// Cell returns the cell for propertyID, if any.
func (r Row) Cell(propertyID string) (Cell, bool) {
	for _, c := range r.Cells {
		if c.PropertyID == propertyID {
			return c, true
		}
	}
	return Cell{}, false
}

// CellValue is a (property, value) pair inside a row patch.
type CellValue struct {
	PropertyID string          `json:"propertyId"`
	Value      json.RawMessage `json:"value"`
}

// RowPatch carries a new order and/or cell values to merge.
type RowPatch struct {
	Order Opt[int]    `json:"order,omitzero"`
	Cells []CellValue `json:"cells,omitempty"`
}

func (p RowPatch) IsEmpty() bool {
	return !p.Order.Set && len(p.Cells) == 0
}
