package session

import (
	"encoding/json"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/require"

	"github.com/go-go-golems/parley/pkg/chat"
)

func serializedSession(t *testing.T, id string, title string, saveDate int64, texts ...string) chat.SerializedChatData {
	t.Helper()
	model := chat.NewModel(chat.LocationPanel, chat.WithModelID(id))
	for _, text := range texts {
		_, err := model.AddRequest(chat.NewParsedText(text), "agent-1")
		require.NoError(t, err)
	}
	return chat.SerializedChatData{
		Version:  chat.ChatDataVersion,
		Title:    title,
		SaveDate: saveDate,
		Model:    model.ToSerializable(),
	}
}

func TestStoreRoundTrip(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	data := serializedSession(t, "session-1", "pizza talk", 1000, "hello")
	require.NoError(t, store.StoreSessions(data))

	read := store.ReadSession("session-1")
	require.NotNil(t, read)
	require.Equal(t, "pizza talk", read.Title)
	require.Equal(t, int64(1000), read.SaveDate)
	require.Len(t, read.Model.Requests, 1)

	index := store.SessionIndex()
	require.Len(t, index, 1)
	require.Equal(t, "pizza talk", index["session-1"].Title)
	require.Equal(t, chat.LocationPanel, index["session-1"].Location)
	require.True(t, store.HasPersistedSessions())
}

func TestStoreSkipsEmptySessions(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.StoreSessions(serializedSession(t, "session-empty", "", 1000)))
	require.Nil(t, store.ReadSession("session-empty"))
	require.False(t, store.HasPersistedSessions())
}

func TestStoreEvictsOldestSessions(t *testing.T) {
	store, err := NewStore(t.TempDir(), WithMaxSessions(2))
	require.NoError(t, err)

	require.NoError(t, store.StoreSessions(
		serializedSession(t, "session-old", "", 1000, "a"),
		serializedSession(t, "session-mid", "", 2000, "b"),
		serializedSession(t, "session-new", "", 3000, "c"),
	))

	index := store.SessionIndex()
	require.Len(t, index, 2)
	require.NotContains(t, index, "session-old")
	require.Nil(t, store.ReadSession("session-old"))
	require.NotNil(t, store.ReadSession("session-mid"))
	require.NotNil(t, store.ReadSession("session-new"))
}

func TestStoreDeleteSessionIsIdempotent(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.StoreSessions(serializedSession(t, "session-1", "", 1000, "a")))
	require.NoError(t, store.DeleteSession("session-1"))
	require.Nil(t, store.ReadSession("session-1"))
	require.NoError(t, store.DeleteSession("session-1"))
	require.NoError(t, store.DeleteSession("never-stored"))
}

func TestStoreClearAllSessions(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.StoreSessions(
		serializedSession(t, "session-1", "", 1000, "a"),
		serializedSession(t, "session-2", "", 2000, "b"),
	))
	require.NoError(t, store.ClearAllSessions())
	require.False(t, store.HasPersistedSessions())
	require.Nil(t, store.ReadSession("session-1"))
}

func TestStoreSetSessionTitle(t *testing.T) {
	store, err := NewStore(t.TempDir())
	require.NoError(t, err)

	require.NoError(t, store.StoreSessions(serializedSession(t, "session-1", "old title", 1000, "a")))
	require.NoError(t, store.SetSessionTitle("session-1", "new title"))

	require.Equal(t, "new title", store.SessionIndex()["session-1"].Title)
	require.Equal(t, "new title", store.ReadSession("session-1").Title)

	require.Error(t, store.SetSessionTitle("never-stored", "x"))
}

func TestStoreDropsInvalidIndexEntries(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	index := map[string]IndexEntry{
		"session-good": {Title: "ok", SaveDate: 1000, Location: chat.LocationPanel},
		"session-bad":  {Title: "no save date"},
	}
	payload, err := json.Marshal(index)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "index.json"), payload, 0o644))

	loaded := store.SessionIndex()
	require.Len(t, loaded, 1)
	require.Contains(t, loaded, "session-good")
}

func TestStoreRejectsUnsupportedVersion(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	data := serializedSession(t, "session-1", "", 1000, "a")
	data.Version = 99
	payload, err := json.Marshal(data)
	require.NoError(t, err)
	require.NoError(t, os.WriteFile(filepath.Join(dir, "session-1.json"), payload, 0o644))

	require.Nil(t, store.ReadSession("session-1"))
}

func TestStoreIgnoresCorruptSessionFile(t *testing.T) {
	dir := t.TempDir()
	store, err := NewStore(dir)
	require.NoError(t, err)

	require.NoError(t, os.WriteFile(filepath.Join(dir, "session-1.json"), []byte("not json"), 0o644))
	require.Nil(t, store.ReadSession("session-1"))
}
