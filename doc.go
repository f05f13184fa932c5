// Package patchcdn reads files out of the compressed, patch-versioned bundles
// served by a game patch CDN.
//
// A [BundleLoader] downloads whole bundles for the current patch version and
// keeps them in two tiers: a short-lived in-memory cache whose entries expire
// a fixed time after their last use, and a persistent [store.Store] keyed by
// patch version. Concurrent requests for the same bundle share one download.
// Switching the patch version waits for in-flight downloads and then drops
// everything cached for the previous version.
//
// An [Index] loads the root index bundle ("_.index.bin") and resolves file
// paths to byte ranges inside content bundles, so a single file can be read
// by decompressing only the blocks that cover it.
//
// # Quick Start
//
//	loader, err := patchcdn.NewBundleLoader("https://patch.example.com",
//	    patchcdn.WithStore(diskStore),
//	)
//	if err != nil {
//	    return err
//	}
//	if err := loader.SetPatch(ctx, "3.25.1.2"); err != nil {
//	    return err
//	}
//
//	idx := patchcdn.NewIndex(loader)
//	if err := idx.LoadIndex(ctx); err != nil {
//	    return err
//	}
//	data, err := idx.LoadFileContent(ctx, "Data/Mods.dat64")
//
// # Preloading
//
// [Preload] resolves many paths at once, fetches each owning bundle once and
// returns a per-path result, which suits warming a cache with every data
// table of a patch:
//
//	paths, _ := patchcdn.DataTables(idx, "", "")
//	results, err := patchcdn.Preload(ctx, idx, paths, patchcdn.WithPreloadConcurrency(4))
package patchcdn
