package block

import (
	"bytes"
	"os"

	"github.com/azmodb/concourse/pkg/bloomfilter"
	"github.com/azmodb/concourse/pkg/manifest"
	"github.com/azmodb/concourse/pkg/storeio"
	"github.com/azmodb/concourse/pkg/wire"
)

// tupleKey identifies a (locator,key,value,version,action) tuple for
// duplicate detection across blocks (spec section 4.1's deduplication
// routine: crash recovery can replay a buffer page whose writes had
// already been transported, producing the same tuple in two blocks).
type tupleKey struct {
	locator, key, value string
	version             uint64
	action              wire.Action
}

func keyOf(r wire.Revision) tupleKey {
	return tupleKey{
		locator: string(r.Locator),
		key:     string(r.Key),
		value:   string(r.Value),
		version: r.Version,
		action:  r.Action,
	}
}

// Dedup rewrites stale, omitting any revision that also appears (by full
// tuple identity) in fresh, then atomically swaps stale's block file for
// the rewritten one. stale and fresh must both be immutable (sealed)
// blocks of the same family; fresh is assumed authoritative since it was
// produced later (by version, not necessarily by block id).
func Dedup(stale, fresh *Block) (removed int, err error) {
	staleRevs, err := stale.All()
	if err != nil {
		return 0, err
	}
	freshRevs, err := fresh.All()
	if err != nil {
		return 0, err
	}

	dup := make(map[tupleKey]struct{}, len(freshRevs))
	for _, r := range freshRevs {
		dup[keyOf(r)] = struct{}{}
	}

	kept := staleRevs[:0:0]
	for _, r := range staleRevs {
		if _, found := dup[keyOf(r)]; found {
			removed++
			continue
		}
		kept = append(kept, r)
	}
	if removed == 0 {
		return 0, nil
	}

	newFilter := bloomfilter.New(len(kept), 0)
	var builder manifest.Builder
	var buf bytes.Buffer
	var off uint64
	for _, r := range kept {
		frame := wire.LengthPrefixed(r.Marshal())
		buf.Write(frame)
		builder.Observe(r.Locator, r.Key, off, off+uint64(len(frame)))
		off += uint64(len(frame))
		newFilter.Add(r.Locator, r.Key, r.Value)
	}
	entries := builder.Finish(off)

	tmpBlk := stale.blkPath() + ".tmp"
	if err := os.WriteFile(tmpBlk, buf.Bytes(), 0o600); err != nil {
		return 0, err
	}

	fltrData, err := newFilter.MarshalBinary()
	if err != nil {
		return 0, err
	}
	var manBuf bytes.Buffer
	if err := manifest.Encode(&manBuf, entries); err != nil {
		return 0, err
	}

	tmpFltr := stale.fltrPath() + ".tmp"
	tmpIndx := stale.indxPath() + ".tmp"
	if err := os.WriteFile(tmpFltr, fltrData, 0o600); err != nil {
		return 0, err
	}
	if err := os.WriteFile(tmpIndx, manBuf.Bytes(), 0o600); err != nil {
		return 0, err
	}

	if err := os.Rename(tmpBlk, stale.blkPath()); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpFltr, stale.fltrPath()); err != nil {
		return 0, err
	}
	if err := os.Rename(tmpIndx, stale.indxPath()); err != nil {
		return 0, err
	}

	stale.mu.Lock()
	defer stale.mu.Unlock()
	if stale.source != nil {
		stale.source.Close()
	}
	source, err := storeio.OpenSource(stale.blkPath())
	if err != nil {
		return 0, err
	}
	stale.source = source
	stale.filter = newFilter
	stale.man = manifest.New(entries)
	stale.stats.Count = len(kept)
	return removed, nil
}
