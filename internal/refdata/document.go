package refdata

import (
	"encoding/json"
	"fmt"
)

// Document is the bulk reference dataset: one file covering whole
// regions, shipped by the authority and mirrored by the bundled
// snapshot. Minimums, when present, record the expected collection
// cardinalities used to validate later writes.
type Document struct {
	Regions map[string]RegionData `json:"regions"`
}

// RegionData holds one region's collections, keyed by kind.
type RegionData struct {
	Minimums map[string]int     `json:"minimums,omitempty"`
	Entries  map[string][]Entry `json:"entries"`
}

// ParseDocument decodes a bulk reference document.
func ParseDocument(data []byte) (Document, error) {
	var doc Document
	if err := json.Unmarshal(data, &doc); err != nil {
		return Document{}, fmt.Errorf("parsing reference document: %w", err)
	}
	if len(doc.Regions) == 0 {
		return Document{}, fmt.Errorf("reference document has no regions")
	}
	return doc, nil
}

// Load replaces the cache contents with the document's collections.
// Region minimums are applied before the writes so the completeness
// invariant is enforced against the document's own expectations.
func (c *Cache) Load(doc Document) error {
	for region, rd := range doc.Regions {
		for kind, min := range rd.Minimums {
			c.SetMinimum(region, kind, min)
		}
	}
	for region, rd := range doc.Regions {
		for kind, entries := range rd.Entries {
			if err := c.Replace(region, kind, entries); err != nil {
				return fmt.Errorf("loading %s/%s: %w", region, kind, err)
			}
		}
	}
	return nil
}
