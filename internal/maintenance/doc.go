// Package maintenance keeps the knowledge store honest over time.
//
// A Janitor periodically decays cluster hotness, so recently reused
// knowledge outranks stale knowledge, and re-stats every cluster's
// backing files. Clusters that lost some backing files are contested,
// clusters that lost all of them are deprecated, and contested clusters
// whose files reappear settle back to stable.
//
// The janitor only talks to the store.Store interface; it never touches
// the database directly.
//
// # Basic Usage
//
//	j := maintenance.New(store, 15*time.Minute, cfg.Store.HotnessDecayRate)
//	j.Start(ctx)
//	defer j.Stop()
package maintenance
