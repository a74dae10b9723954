package kvstate

// Backend is the opaque durable value-storage collaborator from spec §1:
// "Durable value storage (opaque key/value blob persistence indexed by log
// identifier)." StateCore delegates all persistence through this interface
// and never inspects the underlying medium.
//
// Implementations live in package storage (in-memory for tests, Redis for
// production) so that kvstate itself stays free of any storage-driver
// import, mirroring how the teacher's repo/store layer is the only place
// that imports the redis client.
type Backend interface {
	// LoadDump returns the most recently saved Dump for logID, or
	// found=false if none has ever been saved.
	LoadDump(logID string) (d Dump, found bool, err error)

	// SaveDump durably writes d for logID, replacing any prior Dump.
	SaveDump(logID string, d Dump) error
}
