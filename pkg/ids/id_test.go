package ids

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestNewIsUnique(t *testing.T) {
	require := require.New(t)

	seen := make(map[ID]struct{})
	for i := 0; i < 1000; i++ {
		id := New()
		require.False(id.IsEmpty())
		_, dup := seen[id]
		require.False(dup)
		seen[id] = struct{}{}
	}
}

func TestFromString(t *testing.T) {
	require := require.New(t)

	id := New()
	parsed, err := FromString(id.String())
	require.NoError(err)
	require.Equal(id, parsed)

	_, err = FromString("not-an-id")
	require.Error(err)
}

func TestJSON(t *testing.T) {
	require := require.New(t)

	id := New()
	b, err := json.Marshal(map[string]ID{"id": id})
	require.NoError(err)
	require.JSONEq(`{"id":"`+id.String()+`"}`, string(b))

	var out map[string]ID
	require.NoError(json.Unmarshal(b, &out))
	require.Equal(id, out["id"])
}
