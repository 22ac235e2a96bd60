package store

import (
	"encoding/json"
	"fmt"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewire/livesync/pkg/models"
)

func newTestDatabaseStore() *DatabaseStore {
	s := NewDatabaseStore()
	n := 0
	s.newCellID = func() string {
		n++
		return fmt.Sprintf("cell-%d", n)
	}
	s.Load("db-1",
		[]models.Property{{ID: "prop-status", Name: "Status", Type: models.PropertySelect}},
		[]models.Row{{ID: "row-1"}, {ID: "row-2"}},
	)
	return s
}

func TestUpdateCellNoDuplicate(t *testing.T) {
	s := newTestDatabaseStore()

	s.UpdateCell("db-1", "row-1", "prop-status", json.RawMessage(`"todo"`))
	s.UpdateCell("db-1", "row-1", "prop-status", json.RawMessage(`"done"`))

	require.Len(t, s.Rows("db-1"), 2)
	row := s.Rows("db-1")[0]
	require.Len(t, row.Cells, 1)
	assert.Equal(t, "cell-1", row.Cells[0].ID)
	assert.Equal(t, "prop-status", row.Cells[0].PropertyID)
	assert.JSONEq(t, `"done"`, string(row.Cells[0].Value))
	assert.Empty(t, s.Rows("db-1")[1].Cells)
}

func TestUpdateCellIgnoresUnknown(t *testing.T) {
	s := newTestDatabaseStore()
	calls := 0
	s.Subscribe(func(Database) { calls++ })

	s.UpdateCell("db-unknown", "row-1", "prop-status", json.RawMessage(`1`))
	s.UpdateCell("db-1", "row-unknown", "prop-status", json.RawMessage(`1`))
	assert.Zero(t, calls)

	s.UpdateCell("db-1", "row-1", "prop-status", json.RawMessage(`1`))
	s.UpdateCell("db-1", "row-1", "prop-status", json.RawMessage(`1`))
	assert.Equal(t, 1, calls, "an equal value is not a change")

	_, ok := s.Database("db-unknown")
	assert.False(t, ok)
}

func TestLoadCollapsesDuplicateCells(t *testing.T) {
	s := NewDatabaseStore()
	s.Load("db-1", nil, []models.Row{{
		ID: "row-1",
		Cells: []models.Cell{
			{ID: "c1", PropertyID: "p", Value: json.RawMessage(`1`)},
			{ID: "c2", PropertyID: "p", Value: json.RawMessage(`2`)},
			{ID: "c3", PropertyID: "q"},
		},
	}})

	row := s.Rows("db-1")[0]
	require.Len(t, row.Cells, 2)
	assert.Equal(t, "c2", row.Cells[0].ID)
	assert.Equal(t, "db-1", row.DatabaseID)
	assert.Equal(t, "row-1", row.Cells[1].RowID)
	assert.JSONEq(t, `null`, string(row.Cells[1].Value))
}

func TestRows(t *testing.T) {
	s := newTestDatabaseStore()

	s.CreateRow("db-1", models.Row{ID: "row-3", Order: 3})
	s.CreateRow("db-1", models.Row{ID: "row-3", Order: 4})
	assert.Len(t, s.Rows("db-1"), 3)

	db, _ := s.Database("db-1")
	row, ok := db.Row("row-3")
	require.True(t, ok)
	assert.Equal(t, 4, row.Order)

	s.UpdateRow("db-1", "row-3", models.RowPatch{
		Order: models.Some(7),
		Cells: []models.CellValue{{PropertyID: "prop-status", Value: json.RawMessage(`"doing"`)}},
	})
	db, _ = s.Database("db-1")
	row, _ = db.Row("row-3")
	assert.Equal(t, 7, row.Order)
	cell, ok := row.Cell("prop-status")
	require.True(t, ok)
	assert.JSONEq(t, `"doing"`, string(cell.Value))

	s.DeleteRow("db-1", "row-2")
	s.DeleteRow("db-1", "row-2")
	db, _ = s.Database("db-1")
	_, ok = db.Row("row-2")
	assert.False(t, ok)
	assert.Len(t, db.Rows, 2)
}

func TestProperties(t *testing.T) {
	s := newTestDatabaseStore()
	s.UpdateCell("db-1", "row-1", "prop-status", json.RawMessage(`"todo"`))

	s.CreateProperty("db-1", models.Property{ID: "prop-due", Name: "Due", Type: models.PropertyDate})
	require.Len(t, s.Properties("db-1"), 2)
	assert.Equal(t, "db-1", s.Properties("db-1")[1].DatabaseID)

	s.UpdateProperty("db-1", "prop-due", models.PropertyPatch{Name: models.Some("Deadline")})
	assert.Equal(t, "Deadline", s.Properties("db-1")[1].Name)
	assert.Equal(t, models.PropertyDate, s.Properties("db-1")[1].Type)

	s.DeleteProperty("db-1", "prop-status")
	assert.Len(t, s.Properties("db-1"), 1)
	_, ok := s.Rows("db-1")[0].Cell("prop-status")
	assert.False(t, ok, "cells of a deleted property go with it")
}

func TestUnload(t *testing.T) {
	s := newTestDatabaseStore()
	assert.Equal(t, []string{"db-1"}, s.IDs())

	s.Unload("db-1")
	assert.Empty(t, s.IDs())
	assert.Nil(t, s.Rows("db-1"))
}

func TestSetRows(t *testing.T) {
	s := newTestDatabaseStore()

	s.SetRows("db-1", []models.Row{{ID: "row-9"}})
	assert.Len(t, s.Properties("db-1"), 1)
	require.Len(t, s.Rows("db-1"), 1)
	assert.Equal(t, "db-1", s.Rows("db-1")[0].DatabaseID)

	s.SetRows("db-unknown", []models.Row{{ID: "row-9"}})
	_, ok := s.Database("db-unknown")
	assert.False(t, ok)
}
