// Package config holds the single explicit configuration value threaded
// through Engine.Open, gathering every tunable named across the storage
// engine core rather than scattering package-level globals.
package config

import "time"

// Config configures one Engine instance.
type Config struct {
	// Dir is the root directory holding the buffer pages, family block
	// directories and the block catalog.
	Dir string

	// TransportInterval is how often the background transporter thread
	// wakes to call Buffer.Transport on the Engine's single Buffer.
	TransportInterval time.Duration

	// TransportRate bounds how many writes one transport pass drains
	// from a Buffer.
	TransportRate int

	// HungDetectionFrequency is how often the watchdog inspects the
	// transporter thread's progress.
	HungDetectionFrequency time.Duration

	// HungDetectionThreshold is the duration of no progress after which
	// the transporter thread is considered hung: the watchdog logs it and
	// Engine.Healthy reports an error. The transporter goroutine is not
	// interrupted or restarted.
	HungDetectionThreshold time.Duration

	// AllowableInactivityThreshold is how long the transporter may go
	// without progress before the watchdog logs a debug line. Nothing
	// else happens at this threshold, and the watchdog does not check
	// whether the Buffer holds pending work.
	AllowableInactivityThreshold time.Duration

	// PageCapacity is the fixed byte capacity of each Buffer page.
	PageCapacity int

	// BlockRotateThreshold seals a family's mutable block once its
	// revision count crosses this value.
	BlockRotateThreshold int

	// ManifestStreamingThreshold records a revision count for manifest
	// streaming, but no package reads it: a block's manifest streams its
	// sparse index once the entry count passed to manifest.Open exceeds
	// the fixed manifest.LazyThreshold (2048 entries, 64 KiB of entries).
	ManifestStreamingThreshold int

	// BloomFalsePositiveRate records a bloom filter false-positive rate,
	// but no package reads it: every block, buffer and transaction-queue
	// filter uses bloomfilter.DefaultFalsePositiveRate (3%).
	BloomFalsePositiveRate float64

	// ExpectedInsertsPerBlock sizes a new block's bloom filter.
	ExpectedInsertsPerBlock int

	// WorkerPoolSize bounds how many of Database.Accept's Index and
	// Search insertions run concurrently.
	WorkerPoolSize int
}

// Default returns a Config with the defaults named across the storage
// engine core: a 5ms transport interval, 4096-revision block rotation,
// and a 3% bloom false-positive rate.
func Default(dir string) Config {
	return Config{
		Dir:                          dir,
		TransportInterval:            5 * time.Millisecond,
		TransportRate:                1000,
		HungDetectionFrequency:       1 * time.Second,
		HungDetectionThreshold:       10 * time.Second,
		AllowableInactivityThreshold: 2 * time.Second,
		PageCapacity:                 4 << 20, // 4 MiB
		BlockRotateThreshold:         4096,
		ManifestStreamingThreshold:   65536,
		BloomFalsePositiveRate:       0.03,
		ExpectedInsertsPerBlock:      4096,
		WorkerPoolSize:               4,
	}
}
