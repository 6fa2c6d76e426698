package keystore

import (
	"bytes"
	"testing"
)

func TestSaveLoadRoundTrip(t *testing.T) {
	ks := New(t.TempDir())

	pub := []byte("fake-public-key-bytes")
	priv := []byte("fake-private-key-bytes-longer")

	if err := ks.Save("alice", pub, priv, "correct horse battery staple"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if !ks.Exists("alice") {
		t.Fatalf("expected key pair to exist after Save")
	}

	gotPub, gotPriv, err := ks.Load("alice", "correct horse battery staple")
	if err != nil {
		t.Fatalf("Load: %v", err)
	}
	if !bytes.Equal(gotPub, pub) || !bytes.Equal(gotPriv, priv) {
		t.Fatalf("round-tripped key pair does not match original")
	}
}

func TestLoadWrongPasswordFails(t *testing.T) {
	ks := New(t.TempDir())
	if err := ks.Save("bob", []byte("pub"), []byte("priv"), "right-password"); err != nil {
		t.Fatalf("Save: %v", err)
	}

	if _, _, err := ks.Load("bob", "wrong-password"); err == nil {
		t.Fatalf("expected Load with wrong password to fail")
	}
}

func TestDeleteRemovesKeyPair(t *testing.T) {
	ks := New(t.TempDir())
	if err := ks.Save("carol", []byte("pub"), []byte("priv"), "pw"); err != nil {
		t.Fatalf("Save: %v", err)
	}
	if err := ks.Delete("carol"); err != nil {
		t.Fatalf("Delete: %v", err)
	}
	if ks.Exists("carol") {
		t.Fatalf("expected key pair to be gone after Delete")
	}
}

func TestListReturnsAllStoredIDs(t *testing.T) {
	ks := New(t.TempDir())
	if err := ks.Save("dave", []byte("pub1"), []byte("priv1"), "pw"); err != nil {
		t.Fatalf("Save dave: %v", err)
	}
	if err := ks.Save("erin", []byte("pub2"), []byte("priv2"), "pw"); err != nil {
		t.Fatalf("Save erin: %v", err)
	}

	ids, err := ks.List()
	if err != nil {
		t.Fatalf("List: %v", err)
	}
	if len(ids) != 2 {
		t.Fatalf("expected 2 entries, got %d", len(ids))
	}

	want := map[string]bool{ks.IDFor("dave"): true, ks.IDFor("erin"): true}
	for _, id := range ids {
		if !want[id] {
			t.Fatalf("unexpected id %s in list", id)
		}
	}
}
