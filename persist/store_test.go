package persist

import (
	"encoding/json"
	"os"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/atrep123/dmx-core/dmx"
)

func newTestStore(t *testing.T) *Store {
	t.Helper()
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)
	return store
}

func TestStoreRoundTrip(t *testing.T) {
	store := newTestStore(t)

	type doc struct {
		Name  string `json:"name"`
		Count int    `json:"count"`
	}
	require.NoError(t, store.Save("thing", doc{Name: "a", Count: 3}))

	var got doc
	require.NoError(t, store.Load("thing", &got))
	assert.Equal(t, doc{Name: "a", Count: 3}, got)
}

func TestStoreLoadMissing(t *testing.T) {
	store := newTestStore(t)
	var v map[string]int
	err := store.Load("ghost", &v)
	assert.True(t, os.IsNotExist(err))
}

func TestLegacyStateSavedOnRGBCommit(t *testing.T) {
	store := newTestStore(t)

	var frame [dmx.FrameSize]byte
	frame[0], frame[1], frame[2] = 10, 20, 30

	saved := store.SaveLegacyState(0, dmx.Delta{{Ch: 2, Val: 20}}, 7, 1234, frame, "test")
	require.True(t, saved)

	state, ok := store.LoadLegacyState()
	require.True(t, ok)
	assert.Equal(t, LegacyState{R: 10, G: 20, B: 30, Seq: 7, UpdatedBy: "test", TS: 1234}, state)
}

func TestLegacyStateSkipsUnrelatedCommits(t *testing.T) {
	store := newTestStore(t)
	var frame [dmx.FrameSize]byte

	// Wrong universe.
	assert.False(t, store.SaveLegacyState(1, dmx.Delta{{Ch: 1, Val: 1}}, 1, 1, frame, "x"))
	// Channels outside 1..3.
	assert.False(t, store.SaveLegacyState(0, dmx.Delta{{Ch: 9, Val: 1}}, 1, 1, frame, "x"))

	_, ok := store.LoadLegacyState()
	assert.False(t, ok)
}

func TestScenesCRUD(t *testing.T) {
	store := newTestStore(t)

	require.NoError(t, store.SaveScene("warm", json.RawMessage(`{"name":"Warm","channelValues":{"1":200}}`)))
	require.NoError(t, store.SaveScene("cold", json.RawMessage(`{"name":"Cold"}`)))

	ids, err := store.SceneIDs()
	require.NoError(t, err)
	assert.Equal(t, []string{"cold", "warm"}, ids)

	require.NoError(t, store.DeleteScene("cold"))
	scenes, err := store.LoadScenes()
	require.NoError(t, err)
	assert.Len(t, scenes, 1)
	assert.JSONEq(t, `{"name":"Warm","channelValues":{"1":200}}`, string(scenes["warm"]))
}

func TestShowRoundTrip(t *testing.T) {
	store := newTestStore(t)

	_, ok := store.LoadShow()
	assert.False(t, ok)

	require.NoError(t, store.SaveShow(json.RawMessage(`{"cues":[1,2,3]}`)))
	show, ok := store.LoadShow()
	require.True(t, ok)
	assert.JSONEq(t, `{"cues":[1,2,3]}`, string(show))
}
