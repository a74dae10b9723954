package kvstate

import "testing"

func TestEntryValidate(t *testing.T) {
	cases := []struct {
		name    string
		entry   Entry
		wantErr bool
	}{
		{"insert", NewInsertEntry(map[string]string{"a": "1"}), false},
		{"delete", NewDeleteEntry([]string{"a"}), false},
		{"cmpex", NewCompareExchangeEntry("a", "1", "2"), false},
		{"unknown", Entry{Kind: "bogus"}, true},
	}
	for _, tc := range cases {
		err := tc.entry.Validate()
		if tc.wantErr && err == nil {
			t.Errorf("%s: expected error, got nil", tc.name)
		}
		if !tc.wantErr && err != nil {
			t.Errorf("%s: unexpected error %v", tc.name, err)
		}
	}
}

func TestNewInsertEntryCopiesMap(t *testing.T) {
	m := map[string]string{"a": "1"}
	e := NewInsertEntry(m)
	m["a"] = "mutated"
	if e.Map["a"] != "1" {
		t.Fatal("NewInsertEntry must copy its input map")
	}
}

func TestNewDeleteEntryCopiesSlice(t *testing.T) {
	keys := []string{"a", "b"}
	e := NewDeleteEntry(keys)
	keys[0] = "mutated"
	if e.Keys[0] != "a" {
		t.Fatal("NewDeleteEntry must copy its input slice")
	}
}
