package ruleimport

import (
	"context"
	"sort"
)

// EnumerateSources returns the enabled sources with the given IDs, or all
// enabled sources if no IDs are given. Block lists come before whitelists,
// each ordered by name, so runs report their progress in a stable order.
func EnumerateSources(ctx context.Context, store Store, ids []int64) ([]Source, error) {
	enabled, err := store.ListEnabledSources(ctx)
	if err != nil {
		return nil, storeErr("list-enabled-sources", err)
	}
	sources := enabled
	if len(ids) > 0 {
		wanted := make(map[int64]bool, len(ids))
		for _, id := range ids {
			wanted[id] = true
		}
		sources = sources[:0:0]
		for _, src := range enabled {
			if wanted[src.ID] {
				sources = append(sources, src)
			}
		}
	}
	sort.SliceStable(sources, func(i, j int) bool {
		a, b := sources[i], sources[j]
		if a.Whitelist != b.Whitelist {
			return !a.Whitelist
		}
		return a.Name < b.Name
	})
	return sources, nil
}
