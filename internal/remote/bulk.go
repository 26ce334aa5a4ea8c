package remote

import (
	"context"
	"errors"
	"fmt"
	"log/slog"

	"github.com/pollwise/fieldsync/internal/refdata"
	"github.com/pollwise/fieldsync/internal/storage"
)

// fingerprintMetaKey is where the last durably applied reference
// document fingerprint lives.
const fingerprintMetaKey = "reference_fingerprint"

// ReferenceFetcher is the remote side of a bulk reference pull.
type ReferenceFetcher interface {
	FetchReferenceDocument(ctx context.Context, fingerprint string) (payload []byte, newFingerprint string, notModified bool, err error)
}

// BulkSyncer refreshes the local reference data cache from the
// backend, skipping the download when the stored fingerprint still
// matches.
type BulkSyncer struct {
	db      *storage.Store
	cache   *refdata.Cache
	fetcher ReferenceFetcher
	logger  *slog.Logger
}

// NewBulkSyncer wires a BulkSyncer over the given store, cache and fetcher.
func NewBulkSyncer(db *storage.Store, cache *refdata.Cache, fetcher ReferenceFetcher, logger *slog.Logger) *BulkSyncer {
	if logger == nil {
		logger = slog.Default()
	}
	return &BulkSyncer{db: db, cache: cache, fetcher: fetcher, logger: logger}
}

// Pull performs one conditional reference data refresh. It reports
// whether the local cache changed. The fingerprint is persisted only
// after the document has been durably written, so a crash mid-load
// re-downloads on the next pull instead of stranding a half-applied
// document behind a matching fingerprint.
func (b *BulkSyncer) Pull(ctx context.Context) (bool, error) {
	fingerprint, err := b.db.GetMeta(fingerprintMetaKey)
	if err != nil && !errors.Is(err, storage.ErrNotFound) {
		return false, fmt.Errorf("reading reference fingerprint: %w", err)
	}

	payload, newFingerprint, notModified, err := b.fetcher.FetchReferenceDocument(ctx, fingerprint)
	if err != nil {
		return false, err
	}
	if notModified {
		b.logger.Debug("reference data unchanged", "fingerprint", fingerprint)
		return false, nil
	}

	doc, err := refdata.ParseDocument(payload)
	if err != nil {
		return false, fmt.Errorf("parsing reference document: %w", err)
	}
	if err := b.cache.Load(doc); err != nil {
		// A rejected load may have purged collections. Reset the
		// fingerprint so the next pull downloads in full instead of
		// matching the half-applied state with a 304.
		if resetErr := b.db.SetMeta(fingerprintMetaKey, ""); resetErr != nil {
			b.logger.Error("resetting reference fingerprint", "error", resetErr)
		}
		return false, fmt.Errorf("loading reference document: %w", err)
	}

	if newFingerprint != "" {
		if err := b.db.SetMeta(fingerprintMetaKey, newFingerprint); err != nil {
			return false, fmt.Errorf("persisting reference fingerprint: %w", err)
		}
	}

	b.logger.Info("reference data refreshed",
		"regions", len(doc.Regions),
		"fingerprint", newFingerprint)
	return true, nil
}
