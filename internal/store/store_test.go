package store

import (
	"encoding/json"
	"path/filepath"
	"testing"
	"time"
)

func testStores(t *testing.T) map[string]Store {
	t.Helper()
	sqlite, err := NewSQLiteStore(filepath.Join(t.TempDir(), "snapshots.db"))
	if err != nil {
		t.Fatalf("NewSQLiteStore: %v", err)
	}
	t.Cleanup(func() { sqlite.Close() })
	return map[string]Store{
		"memory": NewMemoryStore(),
		"sqlite": sqlite,
	}
}

func TestSnapshotRoundTrip(t *testing.T) {
	for name, s := range testStores(t) {
		t.Run(name, func(t *testing.T) {
			if _, ok, err := s.GetSnapshot("missing"); err != nil || ok {
				t.Fatalf("GetSnapshot(missing) = ok=%v err=%v, want miss", ok, err)
			}

			snap := Snapshot{
				SessionID: "sess-1",
				Code:      "ABC123",
				Version:   3,
				State:     json.RawMessage(`{"tokens":{"a":1}}`),
				SavedAt:   time.Now().UTC().Truncate(time.Second),
			}
			if err := s.SaveSnapshot(snap); err != nil {
				t.Fatalf("SaveSnapshot: %v", err)
			}

			// Overwrite with a newer version; latest wins.
			snap.Version = 4
			snap.State = json.RawMessage(`{"tokens":{"a":2}}`)
			if err := s.SaveSnapshot(snap); err != nil {
				t.Fatalf("SaveSnapshot overwrite: %v", err)
			}

			got, ok, err := s.GetSnapshot("sess-1")
			if err != nil || !ok {
				t.Fatalf("GetSnapshot = ok=%v err=%v", ok, err)
			}
			if got.Version != 4 || got.Code != "ABC123" {
				t.Errorf("got %+v, want version 4 code ABC123", got)
			}
			if string(got.State) != `{"tokens":{"a":2}}` {
				t.Errorf("state = %s", got.State)
			}

			if err := s.DeleteSnapshot("sess-1"); err != nil {
				t.Fatalf("DeleteSnapshot: %v", err)
			}
			if _, ok, _ := s.GetSnapshot("sess-1"); ok {
				t.Error("snapshot still present after delete")
			}
		})
	}
}
