package events

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/pagewire/livesync/pkg/models"
)

func TestDecode(t *testing.T) {
	t.Run("partial document update", func(t *testing.T) {
		ev, err := Decode(NameDocUpdate, json.RawMessage(`{"id":"page-1","userId":"user-2","icon":null}`))
		require.NoError(t, err)

		upd, ok := ev.(*DocUpdate)
		require.True(t, ok)
		assert.Equal(t, "page-1", upd.ID)
		assert.Equal(t, "user-2", upd.Origin())
		assert.False(t, upd.Title.Set)
		assert.True(t, upd.Icon.Set)
		assert.True(t, upd.Icon.Null)
	})

	t.Run("cell update keeps raw value", func(t *testing.T) {
		ev, err := Decode(NameCellUpdate, json.RawMessage(`{"databaseId":"db","rowId":"r","propertyId":"p","value":{"a":[1,2]},"userId":"u"}`))
		require.NoError(t, err)
		assert.JSONEq(t, `{"a":[1,2]}`, string(ev.(*CellUpdate).Value))
	})

	t.Run("notification has no originator", func(t *testing.T) {
		ev, err := Decode(NameNotificationNew, json.RawMessage(`{"notification":{"id":"n1","userId":"user-1","type":"mention"}}`))
		require.NoError(t, err)

		_, isMutation := IsMutation(ev)
		assert.False(t, isMutation)
	})

	t.Run("create with loaded subtree", func(t *testing.T) {
		ev, err := Decode(NameDocCreate, json.RawMessage(`{"document":{"id":"p","children":[{"id":"c","parentId":"p","children":[]}]},"userId":"u"}`))
		require.NoError(t, err)
		created := ev.(*DocCreate).Document
		require.Len(t, created.Children, 1)
		assert.Equal(t, "c", created.Children[0].ID)
	})

	malformed := []struct {
		name    string
		event   Name
		payload string
	}{
		{"null payload", NameDocUpdate, `null`},
		{"empty payload", NameDocUpdate, ``},
		{"missing id", NameDocUpdate, `{}`},
		{"array payload", NameDocUpdate, `[1,2]`},
		{"wrong field type", NameDocUpdate, `{"id":"page-1","isArchived":"yes"}`},
		{"create without document", NameDocCreate, `{"userId":"u"}`},
		{"create with null child", NameDocCreate, `{"document":{"id":"p","children":[null]},"userId":"u"}`},
		{"create with child without id", NameDocCreate, `{"document":{"id":"p","children":[{"parentId":"p"}]},"userId":"u"}`},
		{"create with foreign child", NameDocCreate, `{"document":{"id":"p","children":[{"id":"c","parentId":"q"}]},"userId":"u"}`},
		{"create with orphan grandchild", NameDocCreate, `{"document":{"id":"p","children":[{"id":"c","parentId":"p","children":[{"id":"g"}]}]},"userId":"u"}`},
		{"update with null child", NameDocUpdate, `{"id":"p","children":[null],"userId":"u"}`},
		{"update with foreign child", NameDocUpdate, `{"id":"p","children":[{"id":"c","parentId":"q"}],"userId":"u"}`},
		{"favorite with other document", NameFavoriteAdd, `{"documentId":"a","document":{"id":"b"},"userId":"u"}`},
		{"favorite with null child", NameFavoriteAdd, `{"documentId":"a","document":{"id":"a","children":[null]},"userId":"u"}`},
		{"cell without property", NameCellUpdate, `{"databaseId":"db","rowId":"r"}`},
		{"row patch cell without property", NameRowUpdate, `{"databaseId":"db","rowId":"r","cells":[{"value":1}]}`},
		{"comment without page", NameCommentDelete, `{"commentId":"c1"}`},
		{"read without target", NameNotificationRead, `{}`},
		{"cursor without position", NamePresenceCursor, `{"pageId":"p","userId":"u"}`},
	}
	for _, tc := range malformed {
		t.Run(tc.name, func(t *testing.T) {
			ev, err := Decode(tc.event, json.RawMessage(tc.payload))
			assert.ErrorIs(t, err, ErrMalformedPayload)
			assert.Nil(t, ev)
		})
	}

	t.Run("unknown event", func(t *testing.T) {
		_, err := Decode("doc:explode", json.RawMessage(`{"id":"x"}`))
		assert.ErrorIs(t, err, ErrUnknownEvent)
	})
}

func TestEncode(t *testing.T) {
	name, data, err := Encode(&DocUpdate{
		ID:     "page-1",
		UserID: "user-1",
		DocumentPatch: models.DocumentPatch{
			Title: models.Some("Renamed"),
		},
	})
	require.NoError(t, err)
	assert.Equal(t, NameDocUpdate, name)
	assert.JSONEq(t, `{"id":"page-1","userId":"user-1","title":"Renamed"}`, string(data))

	_, _, err = Encode(&DocDelete{})
	assert.ErrorIs(t, err, ErrMalformedPayload)

	_, _, err = Encode(nil)
	assert.ErrorIs(t, err, ErrMalformedPayload)
}

func TestCatalog(t *testing.T) {
	catalog := Catalog()
	assert.Len(t, catalog, len(registry))

	for _, info := range catalog {
		ev := registry[info.Name].new()
		assert.Equal(t, info.Name, ev.Name(), "registry entry %s builds the wrong payload", info.Name)

		_, isMutation := ev.(Mutation)
		assert.Equal(t, info.Mutation, isMutation, "mutation flag of %s disagrees with its payload type", info.Name)
	}

	info, ok := Lookup(NameNotificationRead)
	require.True(t, ok)
	assert.Equal(t, CategoryNotification, info.Category)
	assert.False(t, info.Mutation)

	_, ok = Lookup("nope")
	assert.False(t, ok)
}
