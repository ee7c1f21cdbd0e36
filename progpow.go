// Copyright 2017 The go-ethereum Authors
// This file is part of the go-ethereum library.
//
// The go-ethereum library is free software: you can redistribute it and/or modify
// it under the terms of the GNU Lesser General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// The go-ethereum library is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU Lesser General Public License for more details.
//
// You should have received a copy of the GNU Lesser General Public License
// along with the go-ethereum library. If not, see <http://www.gnu.org/licenses/>.

// Package progpow implements light verification for the ProgPoW
// proof-of-work algorithm on Ethash family chains.
package progpow

import (
	"bytes"
	"errors"
	"fmt"
	"math/big"
	"math/rand"
	"os"
	"path/filepath"
	"runtime"
	"strconv"
	"sync"
	"unsafe"

	mmap "github.com/edsrzf/mmap-go"
	"github.com/hashicorp/golang-lru/simplelru"
	"github.com/inconshreveable/log15"
)

var (
	// errInvalidMixDigest is returned by Verify when the recomputed digest
	// does not match the sealed one.
	errInvalidMixDigest = errors.New("invalid mix digest")

	// errInvalidPoW is returned by Verify when the result does not meet the
	// required boundary.
	errInvalidPoW = errors.New("invalid proof-of-work")

	// errInvalidDumpMagic is returned when a disk cache file carries an
	// unknown preamble.
	errInvalidDumpMagic = errors.New("invalid dump magic")
)

const (
	// algorithmRevision is the data structure version used for file naming.
	algorithmRevision = 23

	// dumpMagicWords is the length of the dumpMagic preamble, in words.
	dumpMagicWords = 2
)

// dumpMagic is a dump header to sanity check a disk cache file.
var dumpMagic = []uint32{0xbaddcafe, 0xfee1dead}

// memoryMap tries to memory map a file of uint32s for read only access.
func memoryMap(path string) (*os.File, mmap.MMap, []uint32, error) {
	file, err := os.OpenFile(path, os.O_RDONLY, 0644)
	if err != nil {
		return nil, nil, nil, err
	}
	mem, buffer, err := memoryMapFile(file, false)
	if err != nil {
		file.Close()
		return nil, nil, nil, err
	}
	for i, magic := range dumpMagic {
		if buffer[i] != magic {
			mem.Unmap()
			file.Close()
			return nil, nil, nil, errInvalidDumpMagic
		}
	}
	return file, mem, buffer[dumpMagicWords:], err
}

// memoryMapFile tries to memory map an already opened file descriptor,
// reinterpreting the mapping as a uint32 slice.
func memoryMapFile(file *os.File, write bool) (mmap.MMap, []uint32, error) {
	flag := mmap.RDONLY
	if write {
		flag = mmap.RDWR
	}
	mem, err := mmap.Map(file, flag, 0)
	if err != nil {
		return nil, nil, err
	}
	buffer := unsafe.Slice((*uint32)(unsafe.Pointer(&mem[0])), len(mem)/4)
	return mem, buffer, nil
}

// memoryMapAndGenerate tries to memory map a temporary file of uint32s for
// write access, fill it with the data from a generator and then move it into
// the final path requested.
func memoryMapAndGenerate(path string, size uint64, generator func(buffer []uint32)) (*os.File, mmap.MMap, []uint32, error) {
	// Ensure the data folder exists
	if err := os.MkdirAll(filepath.Dir(path), 0755); err != nil {
		return nil, nil, nil, err
	}
	// Create a huge temporary empty file to fill with data
	temp := path + "." + strconv.Itoa(rand.Int())

	dump, err := os.Create(temp)
	if err != nil {
		return nil, nil, nil, err
	}
	if err = dump.Truncate(int64(dumpMagicWords)*4 + int64(size)); err != nil {
		return nil, nil, nil, err
	}
	// Memory map the file for writing and fill it with the generator
	mem, buffer, err := memoryMapFile(dump, true)
	if err != nil {
		dump.Close()
		return nil, nil, nil, err
	}
	copy(buffer, dumpMagic)

	data := buffer[dumpMagicWords:]
	generator(data)

	if err := mem.Unmap(); err != nil {
		return nil, nil, nil, err
	}
	if err := dump.Close(); err != nil {
		return nil, nil, nil, err
	}
	if err := os.Rename(temp, path); err != nil {
		return nil, nil, nil, err
	}
	return memoryMap(path)
}

// lru tracks caches by their last use time, keeping at most N of them.
type lru struct {
	what string
	new  func(epoch uint64) *cache
	mu   sync.Mutex
	// Items are kept in a LRU cache, but there is a special case:
	// We always keep an item for (highest seen epoch) + 1 as the 'future item'.
	cache      *simplelru.LRU
	future     uint64
	futureItem *cache
}

// newlru creates a new least-recently-used cache for either the verification
// caches or something else entirely in the future.
func newlru(what string, maxItems int, new func(epoch uint64) *cache) *lru {
	if maxItems <= 0 {
		maxItems = 1
	}
	inner, _ := simplelru.NewLRU(maxItems, func(key, value interface{}) {
		log15.Debug("Evicted progpow "+what, "epoch", key)
	})
	return &lru{what: what, new: new, cache: inner}
}

// get retrieves or creates an item for the given epoch. The first return
// value is always non-nil. The second return value is non-nil if lru thinks
// that an item will be useful in the near future.
func (lru *lru) get(epoch uint64) (item, future *cache) {
	lru.mu.Lock()
	defer lru.mu.Unlock()

	// Get or create the item for the requested epoch.
	if cached, ok := lru.cache.Get(epoch); ok {
		item = cached.(*cache)
	} else if lru.future > 0 && lru.future == epoch {
		item = lru.futureItem
		lru.cache.Add(epoch, item)
	} else {
		log15.Debug("Requiring new progpow "+lru.what, "epoch", epoch)
		item = lru.new(epoch)
		lru.cache.Add(epoch, item)
	}
	// Update the 'future item' if epoch is larger than previously seen.
	if epoch < maxEpoch-1 && lru.future < epoch+1 {
		log15.Debug("Requiring new future progpow "+lru.what, "epoch", epoch+1)
		future = lru.new(epoch + 1)
		lru.future = epoch + 1
		lru.futureItem = future
	}
	return item, future
}

// cache wraps a verification cache and its derived cdag with some metadata
// to allow easier concurrent use.
type cache struct {
	epoch uint64    // Epoch for which this cache is relevant
	dump  *os.File  // File descriptor of the memory mapped cache
	mmap  mmap.MMap // Memory map itself to unmap before releasing
	cache []uint32  // The actual cache data content (may be memory mapped)
	cDag  []uint32  // The cached leading words of the dataset
	once  sync.Once // Ensures the cache is generated only once
}

// newCache creates a new, not yet generated, cache for the given epoch.
func newCache(epoch uint64) *cache {
	return &cache{epoch: epoch}
}

// generate ensures that the cache content is generated before use.
func (c *cache) generate(dir string, limit int, test bool) {
	c.once.Do(func() {
		size := cacheSize(c.epoch*epochLength + 1)
		seed := seedHash(c.epoch*epochLength + 1)
		if test {
			size = 1024
		}
		// If we don't store anything on disk, generate and return.
		if dir == "" {
			c.cache = make([]uint32, size/4)
			generateCache(c.cache, c.epoch, seed)
			c.buildCDag()
			return
		}
		// Disk storage is needed, this will get fancy
		var endian string
		if !isLittleEndian() {
			endian = ".be"
		}
		path := filepath.Join(dir, fmt.Sprintf("cache-R%d-%x%s", algorithmRevision, seed[:8], endian))
		logger := log15.New("epoch", c.epoch)

		// We're about to mmap the file, ensure that the mapping is cleaned up
		// when the cache becomes unused.
		runtime.SetFinalizer(c, (*cache).finalizer)

		// Try to load the file from disk and memory map it
		var err error
		c.dump, c.mmap, c.cache, err = memoryMap(path)
		if err == nil {
			logger.Debug("Loaded old progpow cache from disk")
			c.buildCDag()
			return
		}
		logger.Debug("Failed to load old progpow cache", "err", err)

		// No previous cache available, create a new cache file to fill
		c.dump, c.mmap, c.cache, err = memoryMapAndGenerate(path, size, func(buffer []uint32) {
			generateCache(buffer, c.epoch, seed)
		})
		if err != nil {
			logger.Error("Failed to generate mapped progpow cache", "err", err)

			c.cache = make([]uint32, size/4)
			generateCache(c.cache, c.epoch, seed)
		}
		// Iterate over all previous instances and delete old ones
		for ep := int(c.epoch) - limit; ep >= 0; ep-- {
			seed := seedHash(uint64(ep)*epochLength + 1)
			path := filepath.Join(dir, fmt.Sprintf("cache-R%d-%x%s", algorithmRevision, seed[:8], endian))
			os.Remove(path)
		}
		c.buildCDag()
	})
}

// buildCDag derives the progpow cdag from the verification cache. It only
// depends on the epoch, so it is computed once alongside the cache itself.
func (c *cache) buildCDag() {
	c.cDag = make([]uint32, progpowCacheWords)
	generateCDag(c.cDag, c.cache, c.epoch)
}

// finalizer unmaps the memory and closes the file.
func (c *cache) finalizer() {
	if c.mmap != nil {
		c.mmap.Unmap()
		c.dump.Close()
		c.mmap, c.dump = nil, nil
	}
}

// Mode defines the type and amount of PoW verification a ProgPow engine makes.
type Mode uint

const (
	// ModeNormal performs real verification against consensus sized caches.
	ModeNormal Mode = iota

	// ModeTest shrinks the cache and dataset sizes to make unit tests cheap.
	// Digests produced in this mode match nothing on any real network.
	ModeTest
)

// Config are the configuration parameters of the progpow engine.
type Config struct {
	CacheDir     string // Directory for memory mapped cache files, empty to keep everything in memory
	CachesInMem  int    // Number of recent epoch caches to keep in memory
	CachesOnDisk int    // Number of epoch caches to retain on disk
	PowMode      Mode
}

// ProgPow is a light verifier for the ProgPoW proof-of-work algorithm. It
// maintains per-epoch verification caches and derives every digest from
// those, never from a full dataset.
type ProgPow struct {
	config Config
	caches *lru // In memory caches to avoid regenerating too often
}

// New creates a progpow verifier with the given configuration.
func New(config Config) *ProgPow {
	if config.CachesInMem <= 0 {
		log15.Warn("One progpow cache must always be in memory", "requested", config.CachesInMem)
		config.CachesInMem = 1
	}
	if config.CacheDir != "" && config.CachesOnDisk > 0 {
		log15.Info("Disk storage enabled for progpow caches", "dir", config.CacheDir, "count", config.CachesOnDisk)
	}
	return &ProgPow{
		config: config,
		caches: newlru("cache", config.CachesInMem, newCache),
	}
}

// NewTester creates a small sized progpow verifier useful only for testing.
func NewTester() *ProgPow {
	return New(Config{CachesInMem: 1, PowMode: ModeTest})
}

// cache tries to retrieve a verification cache for the specified block number
// by first checking against a list of in-memory caches, then against caches
// stored on disk, and finally generating one if none can be found.
func (p *ProgPow) cache(block uint64) *cache {
	epoch := block / epochLength
	current, future := p.caches.get(epoch)

	// Wait for generation to finish.
	current.generate(p.config.CacheDir, p.config.CachesOnDisk, p.config.PowMode == ModeTest)

	// If we need a new future cache, now's a good time to regenerate it.
	if future != nil {
		go future.generate(p.config.CacheDir, p.config.CachesOnDisk, p.config.PowMode == ModeTest)
	}
	return current
}

// Hash computes the progpow digest and result for the given header hash and
// nonce at the given block number. Both values are returned as 32 byte
// little endian serialisations.
func (p *ProgPow) Hash(headerHash [32]byte, nonce uint64, blockNumber uint64) (digest, result [32]byte) {
	c := p.cache(blockNumber)

	size := datasetSize(blockNumber)
	if p.config.PowMode == ModeTest {
		size = 32 * 1024
	}
	d, r := progpowLight(size, c.cache, headerHash[:], nonce, blockNumber, c.cDag)

	// Caches are unmapped in a finalizer. Ensure that the cache stays alive
	// until after the call to progpowLight so it's not unmapped while being used.
	runtime.KeepAlive(c)

	copy(digest[:], d)
	copy(result[:], r)
	return digest, result
}

// Verify recomputes the digest for a header hash and nonce and checks it
// against the sealed mix digest, and the result against the boundary implied
// by target. A nil target skips the difficulty check.
func (p *ProgPow) Verify(headerHash [32]byte, nonce uint64, blockNumber uint64, mixDigest [32]byte, target *big.Int) error {
	digest, result := p.Hash(headerHash, nonce, blockNumber)
	if !bytes.Equal(digest[:], mixDigest[:]) {
		return errInvalidMixDigest
	}
	if target != nil && new(big.Int).SetBytes(result[:]).Cmp(target) > 0 {
		return errInvalidPoW
	}
	return nil
}

// SeedHash is the seed to use for generating a verification cache.
func SeedHash(block uint64) []byte {
	return seedHash(block)
}
