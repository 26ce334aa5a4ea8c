package refdata

import (
	"embed"
	"fmt"
	"sync"
)

//go:embed snapshot/reference.json
var snapshotFS embed.FS

var (
	snapshotOnce sync.Once
	snapshotDoc  Document
	snapshotErr  error
)

// Snapshot returns the reference dataset bundled with the binary. It
// is a read-only availability fallback for lookups when neither the
// cache nor the network can serve; it is never treated as fresh and
// never substitutes for the conditional fetch.
func Snapshot() (Document, error) {
	snapshotOnce.Do(func() {
		data, err := snapshotFS.ReadFile("snapshot/reference.json")
		if err != nil {
			snapshotErr = fmt.Errorf("reading bundled snapshot: %w", err)
			return
		}
		snapshotDoc, snapshotErr = ParseDocument(data)
	})
	return snapshotDoc, snapshotErr
}

// SnapshotLookup runs the same lookup tiers against the bundled
// snapshot, without touching the cache.
func SnapshotLookup(region, kind, parentKey, query string) (Entry, bool, error) {
	doc, err := Snapshot()
	if err != nil {
		return Entry{}, false, err
	}
	rd, ok := doc.Regions[region]
	if !ok {
		return Entry{}, false, nil
	}
	entries := scopeToParent(rd.Entries[kind], parentKey)
	e, found := findMatch(entries, query)
	return e, found, nil
}
