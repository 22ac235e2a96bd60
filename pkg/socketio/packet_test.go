package socketio

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDecode(t *testing.T) {
	cases := []struct {
		name string
		in   string
		want Packet
	}{
		{"connect", `0`, Packet{Type: Connect, Namespace: "/", ID: -1}},
		{"connect with sid", `0{"sid":"x"}`, Packet{Type: Connect, Namespace: "/", ID: -1, Data: json.RawMessage(`{"sid":"x"}`)}},
		{"namespaced event", `2/admin,["a"]`, Packet{Type: Event, Namespace: "/admin", ID: -1, Data: json.RawMessage(`["a"]`)}},
		{"event with ack id", `212["a"]`, Packet{Type: Event, Namespace: "/", ID: 12, Data: json.RawMessage(`["a"]`)}},
		{"namespace only", `1/admin`, Packet{Type: Disconnect, Namespace: "/admin", ID: -1}},
		{"connect error", `4{"message":"nope"}`, Packet{Type: ConnectError, Namespace: "/", ID: -1, Data: json.RawMessage(`{"message":"nope"}`)}},
	}
	for _, tc := range cases {
		t.Run(tc.name, func(t *testing.T) {
			got, err := Decode([]byte(tc.in))
			require.NoError(t, err)
			assert.Equal(t, tc.want.Type, got.Type)
			assert.Equal(t, tc.want.Namespace, got.Namespace)
			assert.Equal(t, tc.want.ID, got.ID)
			assert.Equal(t, string(tc.want.Data), string(got.Data))
		})
	}

	for _, bad := range []string{"", "9", `2{not json`} {
		_, err := Decode([]byte(bad))
		assert.ErrorIs(t, err, ErrInvalidPacket, bad)
	}
}

func TestEncode(t *testing.T) {
	p, err := NewEvent("doc:update", map[string]string{"id": "page-1"})
	require.NoError(t, err)
	assert.Equal(t, `2["doc:update",{"id":"page-1"}]`, string(p.Encode()))

	assert.Equal(t, `0{"token":"t"}`, string(Packet{Type: Connect, ID: -1, Data: json.RawMessage(`{"token":"t"}`)}.Encode()))
	assert.Equal(t, `1/admin,`, string(Packet{Type: Disconnect, Namespace: "/admin", ID: -1}.Encode()))
}

func TestMessage(t *testing.T) {
	p, err := Decode([]byte(`2["doc:create",{"id":"a"},{"seq":4}]`))
	require.NoError(t, err)

	m, err := p.Message()
	require.NoError(t, err)
	assert.Equal(t, "doc:create", m.Name)
	assert.JSONEq(t, `{"id":"a"}`, string(m.Payload()))
	assert.JSONEq(t, `{"seq":4}`, string(m.Meta()))

	p, _ = Decode([]byte(`2["presence:leave"]`))
	m, err = p.Message()
	require.NoError(t, err)
	assert.Nil(t, m.Payload())
	assert.Nil(t, m.Meta())

	for _, bad := range []string{`2[]`, `2[1]`, `2{}`} {
		p, err := Decode([]byte(bad))
		require.NoError(t, err)
		_, err = p.Message()
		assert.ErrorIs(t, err, ErrInvalidPacket, bad)
	}
}
