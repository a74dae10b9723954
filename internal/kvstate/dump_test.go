package kvstate

import "testing"

func TestDumpEncodeDecodeRoundTrip(t *testing.T) {
	store := NewStore().Set("a", "1").Set("b", "2")
	d := dumpFromStore(store, 42)

	raw, err := EncodeDump(d)
	if err != nil {
		t.Fatalf("EncodeDump: %v", err)
	}

	got, err := DecodeDump(raw)
	if err != nil {
		t.Fatalf("DecodeDump: %v", err)
	}
	if got.LastPersistedIndex != 42 {
		t.Fatalf("got index %d, want 42", got.LastPersistedIndex)
	}

	gotStore := got.toStore()
	if v, ok := gotStore.Get("a"); !ok || v != "1" {
		t.Fatalf("round-tripped store missing a=1: %v", gotStore.AsMap())
	}
	if v, ok := gotStore.Get("b"); !ok || v != "2" {
		t.Fatalf("round-tripped store missing b=2: %v", gotStore.AsMap())
	}
}

func TestDumpFromStoreIsKeySorted(t *testing.T) {
	store := NewStore().Set("z", "1").Set("a", "2").Set("m", "3")
	d := dumpFromStore(store, 1)

	for i := 1; i < len(d.Entries); i++ {
		if d.Entries[i-1].Key >= d.Entries[i].Key {
			t.Fatalf("entries not sorted: %v", d.Entries)
		}
	}
}
