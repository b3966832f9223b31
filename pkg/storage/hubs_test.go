package storage

import (
	"errors"
	"testing"

	"github.com/ZentaChain/hubstack/pkg/protocol"
)

func TestHubStoreSaveLoad(t *testing.T) {
	store := NewHubStore(openTestDB(t))

	withKey := protocol.NodeInfo{
		NodeId:  protocol.NewNodeId(protocol.NewGUID(), []byte{0x30, 0x82, 0x01}),
		Address: "10.0.0.1:7401",
		Name:    "hub-1",
	}
	withoutKey := protocol.NodeInfo{
		NodeId:  protocol.NewNodeId(protocol.NewGUID(), nil),
		Address: "10.0.0.2:7401",
	}

	for _, hub := range []protocol.NodeInfo{withKey, withoutKey} {
		if err := store.SaveHub(hub); err != nil {
			t.Fatalf("SaveHub() error = %v", err)
		}
	}

	hubs, err := store.LoadHubs()
	if err != nil {
		t.Fatalf("LoadHubs() error = %v", err)
	}
	if len(hubs) != 2 {
		t.Fatalf("LoadHubs() returned %d hubs, want 2", len(hubs))
	}

	byID := make(map[protocol.GUID]protocol.NodeInfo)
	for _, h := range hubs {
		byID[h.Identity] = h
	}
	got := byID[withKey.Identity]
	if !got.NodeId.Equal(withKey.NodeId) || got.Address != withKey.Address || got.Name != withKey.Name {
		t.Errorf("loaded hub = %+v, want %+v", got, withKey)
	}
	if byID[withoutKey.Identity].User != nil {
		t.Error("hub without key loaded with a key")
	}
}

func TestHubStoreUpdate(t *testing.T) {
	store := NewHubStore(openTestDB(t))

	hub := protocol.NodeInfo{NodeId: protocol.NodeId{Identity: protocol.NewGUID()}, Address: "old:1"}
	if err := store.SaveHub(hub); err != nil {
		t.Fatal(err)
	}
	hub.Address = "new:2"
	if err := store.SaveHub(hub); err != nil {
		t.Fatal(err)
	}

	hubs, err := store.LoadHubs()
	if err != nil {
		t.Fatal(err)
	}
	if len(hubs) != 1 || hubs[0].Address != "new:2" {
		t.Errorf("LoadHubs() = %+v, want one hub at new:2", hubs)
	}
	if n, _ := store.Count(); n != 1 {
		t.Errorf("Count() = %d, want 1", n)
	}
}

func TestHubStoreDelete(t *testing.T) {
	store := NewHubStore(openTestDB(t))
	hub := protocol.NodeInfo{NodeId: protocol.NodeId{Identity: protocol.NewGUID()}, Address: "a:1"}

	if err := store.SaveHub(hub); err != nil {
		t.Fatal(err)
	}
	if err := store.DeleteHub(hub.Identity); err != nil {
		t.Fatalf("DeleteHub() error = %v", err)
	}
	if err := store.DeleteHub(hub.Identity); !errors.Is(err, ErrNotFound) {
		t.Errorf("second DeleteHub() error = %v, want ErrNotFound", err)
	}
}

func TestHubStoreRejectsEmptyIdentity(t *testing.T) {
	store := NewHubStore(openTestDB(t))
	if err := store.SaveHub(protocol.NodeInfo{Address: "a:1"}); !errors.Is(err, protocol.ErrInvalidArgument) {
		t.Errorf("SaveHub() error = %v, want ErrInvalidArgument", err)
	}
}
