package block

import (
	"io"
	"sync/atomic"

	"github.com/azmodb/concourse/pkg/bloomfilter"
	"github.com/azmodb/concourse/pkg/manifest"
	"github.com/azmodb/concourse/pkg/storeio"
	"github.com/azmodb/concourse/pkg/wire"
)

// Sync performs the once-only mutable-to-immutable transition (spec
// section 4.1): it serializes the sorted revisions to the block file, the
// bloom filter to its sibling file and the manifest to its sibling file,
// fsyncs filter and manifest first and then the block file, then drops
// the in-memory sorted run so the GC can reclaim it while keeping this
// Block as a read-only handle. Calling Sync a second time returns
// ErrAlreadySynced.
func (b *Block) Sync() error {
	if !atomic.CompareAndSwapInt32(&b.synced, 0, 1) {
		return ErrAlreadySynced
	}

	b.mu.Lock()
	defer b.mu.Unlock()

	blkSink, err := storeio.CreateSink(b.blkPath())
	if err != nil {
		return err
	}
	var builder manifest.Builder
	var off int64
	for _, e := range b.revs {
		frame := wire.LengthPrefixed(e.Revision.Marshal())
		if _, err := blkSink.WriteAt(frame, off); err != nil {
			blkSink.Close()
			return err
		}
		builder.Observe(e.Locator, e.Key, uint64(off), uint64(off)+uint64(len(frame)))
		off += int64(len(frame))
	}
	entries := builder.Finish(uint64(off))

	fltrSink, err := storeio.CreateSink(b.fltrPath())
	if err != nil {
		blkSink.Close()
		return err
	}
	fltrData, err := b.filter.MarshalBinary()
	if err != nil {
		fltrSink.Close()
		blkSink.Close()
		return err
	}
	if _, err := fltrSink.WriteAt(fltrData, 0); err != nil {
		fltrSink.Close()
		blkSink.Close()
		return err
	}

	indxSink, err := storeio.CreateSink(b.indxPath())
	if err != nil {
		fltrSink.Close()
		blkSink.Close()
		return err
	}
	if err := manifest.Encode(&writerAtAdapter{sink: indxSink}, entries); err != nil {
		indxSink.Close()
		fltrSink.Close()
		blkSink.Close()
		return err
	}

	// fsync filter and manifest first, then the block file.
	if err := fltrSink.Sync(); err != nil {
		return err
	}
	if err := indxSink.Sync(); err != nil {
		return err
	}
	if err := blkSink.Sync(); err != nil {
		return err
	}
	fltrSink.Close()
	indxSink.Close()
	blkSink.Close()

	source, err := storeio.OpenSource(b.blkPath())
	if err != nil {
		return err
	}

	b.man = manifest.New(entries)
	b.source = source
	b.revs = nil // let the GC reclaim the mutable run
	b.mutable = false
	return nil
}

// writerAtAdapter turns a storeio.ByteSink (WriteAt-based) into an
// io.Writer with a monotonically advancing offset, for manifest.Encode.
type writerAtAdapter struct {
	sink storeio.ByteSink
	off  int64
}

func (w *writerAtAdapter) Write(p []byte) (int, error) {
	n, err := w.sink.WriteAt(p, w.off)
	w.off += int64(n)
	return n, err
}

// Load reopens a previously synced block from disk given its id, family
// directory and an estimate of its entry count (used to decide manifest
// eagerness, spec section 4.1's lazy-materialization threshold). The
// caller is expected to know the block's id from the database catalog.
func Load(id uint64, dir, family string, entryCountHint int) (*Block, error) {
	b := &Block{ID: id, Dir: dir, Family: family, mutable: false, synced: 1}

	fltrData, err := readAll(b.fltrPath())
	if err != nil {
		return nil, err
	}
	filter, err := bloomfilter.UnmarshalBinary(fltrData)
	if err != nil {
		return nil, err
	}
	b.filter = filter

	source, err := storeio.OpenSource(b.blkPath())
	if err != nil {
		return nil, err
	}
	b.source = source

	indxPath := b.indxPath()
	b.man = manifest.Open(func() (io.ReadCloser, error) {
		src, err := storeio.OpenSource(indxPath)
		if err != nil {
			return nil, err
		}
		return &sourceReadCloser{src: src}, nil
	}, entryCountHint)

	return b, nil
}

// sourceReadCloser adapts a storeio.ByteSource (ReadAt-based) into a
// sequential io.ReadCloser for manifest decoding.
type sourceReadCloser struct {
	src storeio.ByteSource
	off int64
}

func (r *sourceReadCloser) Read(p []byte) (int, error) {
	n, err := r.src.ReadAt(p, r.off)
	r.off += int64(n)
	return n, err
}

func (r *sourceReadCloser) Close() error { return r.src.Close() }

func readAll(path string) ([]byte, error) {
	src, err := storeio.OpenSource(path)
	if err != nil {
		return nil, err
	}
	defer src.Close()
	size, err := src.Size()
	if err != nil {
		return nil, err
	}
	buf := make([]byte, size)
	if size > 0 {
		if _, err := src.ReadAt(buf, 0); err != nil {
			return nil, err
		}
	}
	return buf, nil
}
