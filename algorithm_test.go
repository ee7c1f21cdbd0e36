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

package progpow

import (
	"bytes"
	"testing"

	"golang.org/x/crypto/sha3"
)

// Tests that the sizes from the lookup tables match the sizes calculated on
// the fly.
func TestSizeCalculations(t *testing.T) {
	for epoch := 0; epoch < 32; epoch++ {
		if size := calcCacheSize(epoch); size != cacheSizes[epoch] {
			t.Errorf("cache %d: cache size mismatch: have %d, want %d", epoch, size, cacheSizes[epoch])
		}
		if size := calcDatasetSize(epoch); size != datasetSizes[epoch] {
			t.Errorf("dataset %d: dataset size mismatch: have %d, want %d", epoch, size, datasetSizes[epoch])
		}
	}
}

func TestSizes(t *testing.T) {
	if size := cacheSize(0); size != 16776896 {
		t.Errorf("genesis cache size mismatch: have %d, want 16776896", size)
	}
	if size := datasetSize(0); size != 1073739904 {
		t.Errorf("genesis dataset size mismatch: have %d, want 1073739904", size)
	}
	if size := cacheSize(568971); size != 19135936 {
		t.Errorf("epoch 18 cache size mismatch: have %d, want 19135936", size)
	}
	if size := datasetSize(568971); size != 1224732032 {
		t.Errorf("epoch 18 dataset size mismatch: have %d, want 1224732032", size)
	}
}

func TestSeedHash(t *testing.T) {
	if seed := seedHash(0); !bytes.Equal(seed, make([]byte, 32)) {
		t.Errorf("epoch 0 seed is not zero: %x", seed)
	}
	if seed := seedHash(30000); !bytes.Equal(seed, fromHex("290decd9548b62a8d60345a988386fc84ba6bc95484008f6362f93160ef3e563")) {
		t.Errorf("epoch 1 seed mismatch: %x", seed)
	}
	if seed := seedHash(60000); !bytes.Equal(seed, fromHex("510e4e770828ddbf7f7b00ab00a9f6adaf81c0dc9cc85f1f8249c256942d61d9")) {
		t.Errorf("epoch 2 seed mismatch: %x", seed)
	}
}

// Tests the tiny test-mode cache contents against precomputed values, then
// the dataset items derived from it.
func TestCacheGeneration(t *testing.T) {
	cache := make([]uint32, 1024/4)
	generateCache(cache, 0, make([]byte, 32))

	head := []uint32{
		0x1c99e27c, 0xf47b1f95, 0x11bbc1c4, 0x07ee8798,
		0x33b51e87, 0xb8977b9d, 0xc7858e58, 0xe590de42,
		0xbe5bfdba, 0x133ae96c, 0x9abeb64f, 0xb90de3d3,
		0xa228959d, 0x834678ea, 0xcae9523f, 0x546b9b11,
	}
	for i, want := range head {
		if cache[i] != want {
			t.Errorf("cache word %d mismatch: have %#x, want %#x", i, cache[i], want)
		}
	}
	tail := []uint32{0x22c3dbc6, 0xb221932e, 0x8e4fe8c1, 0x1c73072f}
	for i, want := range tail {
		if got := cache[len(cache)-len(tail)+i]; got != want {
			t.Errorf("cache word %d mismatch: have %#x, want %#x", len(cache)-len(tail)+i, got, want)
		}
	}

	keccak512 := makeHasher(sha3.NewLegacyKeccak512())
	if item := generateDatasetItem(cache, 0, keccak512); !bytes.Equal(item, fromHex("4bc09fbd530a041dd2ec296110a29e8f130f179c59d223f51ecce3126e8b0c74326abc2f32ccd9d7f976bd0944e3ccf8479db39343cbbffa467046ca97e2da63")) {
		t.Errorf("dataset item 0 mismatch: %x", item)
	}
	if item := generateDatasetItem(cache, 1, keccak512); !bytes.Equal(item, fromHex("da5f9d9688c7c33ab7b8aace570e422fa48b24659b72fc534669209d66389ca15b099c5604601e7581488e3bd6925cec0f12d465f8004d4fa84793f8e1e46a1b")) {
		t.Errorf("dataset item 1 mismatch: %x", item)
	}
}

func TestFnv(t *testing.T) {
	// (0x811c9dc5 * 0x01000193) mod 2^32; a zero operand makes fnv and fnv1a
	// coincide.
	const want = uint32(0x050c5d1f)
	if got := fnv(0x811c9dc5, 0); got != want {
		t.Errorf("fnv mismatch: have %#x, want %#x", got, want)
	}
	h := fnvOffsetBasis
	if got := fnv1a(&h, 0); got != want {
		t.Errorf("fnv1a mismatch: have %#x, want %#x", got, want)
	}
	if h != want {
		t.Errorf("fnv1a accumulator not threaded: have %#x, want %#x", h, want)
	}
}

func BenchmarkCacheGeneration(b *testing.B) {
	for i := 0; i < b.N; i++ {
		cache := make([]uint32, cacheSize(0)/4)
		generateCache(cache, 0, seedHash(0))
	}
}

func BenchmarkDatasetItem(b *testing.B) {
	cache := make([]uint32, cacheSize(0)/4)
	generateCache(cache, 0, seedHash(0))
	keccak512 := makeHasher(sha3.NewLegacyKeccak512())
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		generateDatasetItem(cache, uint32(i)%32, keccak512)
	}
}
