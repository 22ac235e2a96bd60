package store

import (
	"bytes"
	"encoding/json"
	"slices"
	"sync"

	"github.com/google/uuid"

	"github.com/pagewire/livesync/pkg/models"
)

// Database is an immutable view of one loaded database.
type Database struct {
	ID         string
	Properties []models.Property
	Rows       []models.Row
}

// Row returns the row with rowID.
func (d Database) Row(rowID string) (models.Row, bool) {
	i := slices.IndexFunc(d.Rows, func(r models.Row) bool { return r.ID == rowID })
	if i < 0 {
		return models.Row{}, false
	}
	return d.Rows[i], true
}

// DatabaseStore holds the rows, cells and properties of loaded databases.
// Events for a database that has not been loaded are ignored.
type DatabaseStore struct {
	mu        sync.Mutex
	databases map[string]Database
	newCellID func() string
	listeners listeners[Database]
}

func NewDatabaseStore() *DatabaseStore {
	return &DatabaseStore{
		databases: make(map[string]Database),
		newCellID: uuid.NewString,
	}
}

// Subscribe registers fn to be called with the changed database.
func (s *DatabaseStore) Subscribe(fn func(Database)) (cancel func()) {
	return s.listeners.subscribe(fn)
}

// Database returns the current view of databaseID.
func (s *DatabaseStore) Database(databaseID string) (Database, bool) {
	s.mu.Lock()
	defer s.mu.Unlock()
	db, ok := s.databases[databaseID]
	return db, ok
}

// IDs returns the ids of every loaded database.
func (s *DatabaseStore) IDs() []string {
	s.mu.Lock()
	defer s.mu.Unlock()
	ids := make([]string, 0, len(s.databases))
	for id := range s.databases {
		ids = append(ids, id)
	}
	slices.Sort(ids)
	return ids
}

// Rows returns the rows of databaseID in insertion order.
func (s *DatabaseStore) Rows(databaseID string) []models.Row {
	db, _ := s.Database(databaseID)
	return db.Rows
}

// Properties returns the properties of databaseID.
func (s *DatabaseStore) Properties(databaseID string) []models.Property {
	db, _ := s.Database(databaseID)
	return db.Properties
}

// Load replaces the content of databaseID. Duplicate cells for the same
// property in a row are collapsed, the last one winning.
func (s *DatabaseStore) Load(databaseID string, properties []models.Property, rows []models.Row) {
	if databaseID == "" {
		return
	}
	db := Database{
		ID:         databaseID,
		Properties: slices.Clone(properties),
		Rows:       make([]models.Row, 0, len(rows)),
	}
	for _, r := range rows {
		db.Rows = append(db.Rows, normalizeRow(databaseID, r))
	}
	s.mutate(databaseID, func(Database) (Database, bool) { return db, true }, true)
}

// SetRows replaces the rows of a loaded database and keeps its properties.
func (s *DatabaseStore) SetRows(databaseID string, rows []models.Row) {
	normalized := make([]models.Row, 0, len(rows))
	for _, r := range rows {
		normalized = append(normalized, normalizeRow(databaseID, r))
	}
	s.mutate(databaseID, func(db Database) (Database, bool) {
		db.Rows = normalized
		return db, true
	}, false)
}

// Unload forgets databaseID.
func (s *DatabaseStore) Unload(databaseID string) {
	s.mu.Lock()
	delete(s.databases, databaseID)
	s.mu.Unlock()
}

// mutate applies fn to a loaded database (or a missing one when create is
// true) and notifies subscribers when fn reports a change.
func (s *DatabaseStore) mutate(databaseID string, fn func(Database) (Database, bool), create bool) {
	next, changed := func() (Database, bool) {
		s.mu.Lock()
		defer s.mu.Unlock()
		db, ok := s.databases[databaseID]
		if !ok && !create {
			return Database{}, false
		}
		next, changed := fn(db)
		if changed {
			s.databases[databaseID] = next
		}
		return next, changed
	}()

	if changed {
		s.listeners.notify(next)
	}
}

func (s *DatabaseStore) updateRow(databaseID, rowID string, fn func(models.Row) (models.Row, bool)) {
	s.mutate(databaseID, func(db Database) (Database, bool) {
		i := slices.IndexFunc(db.Rows, func(r models.Row) bool { return r.ID == rowID })
		if i < 0 {
			return db, false
		}
		row, changed := fn(db.Rows[i])
		if !changed {
			return db, false
		}
		db.Rows = slices.Clone(db.Rows)
		db.Rows[i] = row
		return db, true
	}, false)
}

// UpdateCell sets the value of (rowID, propertyID), inserting the cell when
// the row has none for that property. There is never more than one cell per
// composite key.
func (s *DatabaseStore) UpdateCell(databaseID, rowID, propertyID string, value json.RawMessage) {
	s.updateRow(databaseID, rowID, func(r models.Row) (models.Row, bool) {
		return s.setCell(r, propertyID, value)
	})
}

func (s *DatabaseStore) setCell(r models.Row, propertyID string, value json.RawMessage) (models.Row, bool) {
	value = normalizeValue(value)

	i := slices.IndexFunc(r.Cells, func(c models.Cell) bool { return c.PropertyID == propertyID })
	if i >= 0 {
		if bytes.Equal(r.Cells[i].Value, value) {
			return r, false
		}
		r.Cells = slices.Clone(r.Cells)
		r.Cells[i].Value = value
		return r, true
	}

	r.Cells = append(slices.Clip(r.Cells), models.Cell{
		ID:         s.newCellID(),
		RowID:      r.ID,
		PropertyID: propertyID,
		Value:      value,
	})
	return r, true
}

// CreateRow appends row, or replaces the row with the same id.
func (s *DatabaseStore) CreateRow(databaseID string, row models.Row) {
	if row.ID == "" {
		return
	}
	row = normalizeRow(databaseID, row)
	s.mutate(databaseID, func(db Database) (Database, bool) {
		db.Rows = slices.Clone(db.Rows)
		if i := slices.IndexFunc(db.Rows, func(r models.Row) bool { return r.ID == row.ID }); i >= 0 {
			db.Rows[i] = row
		} else {
			db.Rows = append(db.Rows, row)
		}
		return db, true
	}, false)
}

// UpdateRow applies a new order and merges cell values by property.
func (s *DatabaseStore) UpdateRow(databaseID, rowID string, patch models.RowPatch) {
	if patch.IsEmpty() {
		return
	}
	s.updateRow(databaseID, rowID, func(r models.Row) (models.Row, bool) {
		changed := false
		if order, ok := patch.Order.Get(); ok && order != r.Order {
			r.Order = order
			changed = true
		}
		for _, cv := range patch.Cells {
			var cellChanged bool
			r, cellChanged = s.setCell(r, cv.PropertyID, cv.Value)
			changed = changed || cellChanged
		}
		return r, changed
	})
}

// DeleteRow removes the row with rowID.
func (s *DatabaseStore) DeleteRow(databaseID, rowID string) {
	s.mutate(databaseID, func(db Database) (Database, bool) {
		i := slices.IndexFunc(db.Rows, func(r models.Row) bool { return r.ID == rowID })
		if i < 0 {
			return db, false
		}
		db.Rows = slices.Delete(slices.Clone(db.Rows), i, i+1)
		return db, true
	}, false)
}

// CreateProperty appends prop, or replaces the property with the same id.
func (s *DatabaseStore) CreateProperty(databaseID string, prop models.Property) {
	if prop.ID == "" {
		return
	}
	prop.DatabaseID = databaseID
	s.mutate(databaseID, func(db Database) (Database, bool) {
		db.Properties = slices.Clone(db.Properties)
		if i := slices.IndexFunc(db.Properties, func(p models.Property) bool { return p.ID == prop.ID }); i >= 0 {
			db.Properties[i] = prop
		} else {
			db.Properties = append(db.Properties, prop)
		}
		return db, true
	}, false)
}

// UpdateProperty merges patch into the property with propertyID.
func (s *DatabaseStore) UpdateProperty(databaseID, propertyID string, patch models.PropertyPatch) {
	if patch.IsEmpty() {
		return
	}
	s.mutate(databaseID, func(db Database) (Database, bool) {
		i := slices.IndexFunc(db.Properties, func(p models.Property) bool { return p.ID == propertyID })
		if i < 0 {
			return db, false
		}
		db.Properties = slices.Clone(db.Properties)
		db.Properties[i] = patch.Apply(db.Properties[i])
		return db, true
	}, false)
}

// DeleteProperty removes the property and its cells from every row.
func (s *DatabaseStore) DeleteProperty(databaseID, propertyID string) {
	s.mutate(databaseID, func(db Database) (Database, bool) {
		changed := false
		if i := slices.IndexFunc(db.Properties, func(p models.Property) bool { return p.ID == propertyID }); i >= 0 {
			db.Properties = slices.Delete(slices.Clone(db.Properties), i, i+1)
			changed = true
		}

		rows := slices.Clone(db.Rows)
		for i, r := range rows {
			j := slices.IndexFunc(r.Cells, func(c models.Cell) bool { return c.PropertyID == propertyID })
			if j < 0 {
				continue
			}
			r.Cells = slices.Delete(slices.Clone(r.Cells), j, j+1)
			rows[i] = r
			changed = true
		}
		db.Rows = rows
		return db, changed
	}, false)
}

func normalizeRow(databaseID string, r models.Row) models.Row {
	r.DatabaseID = databaseID
	cells := make([]models.Cell, 0, len(r.Cells))
	for _, c := range r.Cells {
		c.RowID = r.ID
		c.Value = normalizeValue(c.Value)
		if i := slices.IndexFunc(cells, func(x models.Cell) bool { return x.PropertyID == c.PropertyID }); i >= 0 {
			cells[i] = c
			continue
		}
		cells = append(cells, c)
	}
	r.Cells = cells
	return r
}

func normalizeValue(v json.RawMessage) json.RawMessage {
	if len(bytes.TrimSpace(v)) == 0 {
		return json.RawMessage("null")
	}
	return slices.Clone(v)
}
