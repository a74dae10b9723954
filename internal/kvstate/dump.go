package kvstate

import (
	"bytes"
	"encoding/gob"
	"fmt"
	"sort"
)

// Dump is the persisted representation of a Store at a specific applied
// index (spec §3/§6):
//
//	Dump := { lastPersistedIndex: u64, map: { string: string }* }
type Dump struct {
	LastPersistedIndex LogIndex
	Entries            []DumpEntry
}

// DumpEntry is one (key, value) pair of a Dump, kept as a slice instead of a
// map so encode always walks keys in the same sorted order — the
// "canonicalization of the map order" spec §6 requires for a byte-for-byte
// round trip.
type DumpEntry struct {
	Key   string
	Value string
}

// dumpFromStore snapshots store into a Dump at lastPersistedIndex, with
// entries in ascending key order.
func dumpFromStore(store Store, lastPersistedIndex LogIndex) Dump {
	m := store.AsMap()
	entries := make([]DumpEntry, 0, len(m))
	for k, v := range m {
		entries = append(entries, DumpEntry{Key: k, Value: v})
	}
	sort.Slice(entries, func(i, j int) bool { return entries[i].Key < entries[j].Key })
	return Dump{LastPersistedIndex: lastPersistedIndex, Entries: entries}
}

// toStore reconstructs a Store from a Dump.
func (d Dump) toStore() Store {
	m := make(map[string]string, len(d.Entries))
	for _, e := range d.Entries {
		m[e.Key] = e.Value
	}
	return storeFromMap(m)
}

// EncodeDump serializes d with encoding/gob. gob is used for this
// internal on-disk blob (rather than the encoding/json used on the HTTP
// surface) because it round-trips the exact Go struct without a separate
// canonicalization pass for map-shaped data — canonical ordering is instead
// guaranteed upstream by dumpFromStore's sorted Entries slice.
func EncodeDump(d Dump) ([]byte, error) {
	var buf bytes.Buffer
	if err := gob.NewEncoder(&buf).Encode(d); err != nil {
		return nil, fmt.Errorf("kvstate: encode dump: %w", err)
	}
	return buf.Bytes(), nil
}

// DecodeDump deserializes a Dump previously produced by EncodeDump.
func DecodeDump(b []byte) (Dump, error) {
	var d Dump
	if err := gob.NewDecoder(bytes.NewReader(b)).Decode(&d); err != nil {
		return Dump{}, fmt.Errorf("kvstate: decode dump: %w", err)
	}
	return d, nil
}
