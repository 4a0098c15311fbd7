// Package ingest implements record admission for provider feeds: parsing
// mapped rows, deciding new/duplicate/update/reject per record, and
// reporting batch summaries.
package ingest

import (
	"context"

	"github.com/rangeatlas/occurrence-cli/internal/occurrence"
	"github.com/rangeatlas/occurrence-cli/internal/store"
)

// Index holds the per-run lookup state for one source: the unique-key
// identity index and a species-name cache. It is built at run start and
// discarded at run end, and is updated synchronously as records are
// admitted so later rows in the same batch see earlier admissions.
type Index struct {
	keys    map[string]int64
	species map[string]int64
}

// BuildIndex loads the identity index for a source from the store.
func BuildIndex(ctx context.Context, st store.Store, sourceID int64) (*Index, error) {
	keys, err := st.IdentityIndex(ctx, sourceID)
	if err != nil {
		return nil, err
	}
	return &Index{
		keys:    keys,
		species: make(map[string]int64),
	}, nil
}

// Lookup returns the stored occurrence id for a unique key, if any.
func (ix *Index) Lookup(key string) (int64, bool) {
	id, ok := ix.keys[key]
	return id, ok
}

// Put records a key's occurrence id. Repeated keys within a run
// overwrite the existing entry.
func (ix *Index) Put(key string, id int64) {
	ix.keys[key] = id
}

// Drop removes a key after its record has been deleted.
func (ix *Index) Drop(key string) {
	delete(ix.keys, key)
}

// SpeciesID resolves a scientific name to a species id, creating the
// species on first sight and caching the result for the run.
func (ix *Index) SpeciesID(ctx context.Context, st store.Store, scientificName string) (int64, error) {
	name := occurrence.NormalizeName(scientificName)
	if id, ok := ix.species[name]; ok {
		return id, nil
	}
	id, err := st.GetOrCreateSpecies(ctx, name)
	if err != nil {
		return 0, err
	}
	ix.species[name] = id
	return id, nil
}
