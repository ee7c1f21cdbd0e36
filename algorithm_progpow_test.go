// Copyright 2018 The go-ethereum Authors
// This file is part of go-ethereum.
//
// go-ethereum is free software: you can redistribute it and/or modify
// it under the terms of the GNU General Public License as published by
// the Free Software Foundation, either version 3 of the License, or
// (at your option) any later version.
//
// go-ethereum is distributed in the hope that it will be useful,
// but WITHOUT ANY WARRANTY; without even the implied warranty of
// MERCHANTABILITY or FITNESS FOR A PARTICULAR PURPOSE. See the
// GNU General Public License for more details.
//
// You should have received a copy of the GNU General Public License
// along with go-ethereum. If not, see <http://www.gnu.org/licenses/>.

package progpow

import (
	"bytes"
	"encoding/hex"
	"math/bits"
	"testing"
)

func fromHex(s string) []byte {
	if len(s) >= 2 && s[0:2] == "0x" {
		s = s[2:]
	}
	b, err := hex.DecodeString(s)
	if err != nil {
		panic(err)
	}
	return b
}

func TestRandomMerge(t *testing.T) {
	type test struct {
		a   uint32
		b   uint32
		r   uint32
		exp uint32
	}
	// The rotation selectors take their count from the upper half of r
	// modulo 32; a zero count must leave the register unrotated.
	for i, tt := range []test{
		{1000000, 101, 0, 33000101},
		{2000000, 102, 1, 66003366},
		{3000000, 103, 2, 2999975},
		{4000000, 104, 3, 4000104},
		{1000000, 0, 4, 33000000},
		{2000000, 0, 5, 66000000},
		{3000000, 0, 6, 3000000},
		{4000000, 0, 7, 4000000},
		{0x3000000, 0x1534, 0x50000, 0x63001534},
		{0x3000000, 0x1534, 0x50001, 0x6302bbb4},
		{0x3000000, 0x1534, 0x9a0002, 0xc1534},
		{0x3000000, 0x1534, 0x9a0003, 0xc0001534},
		{0xdeadbeef, 0x1234, 0xff0002, 0xef56cd43},
		{0xdeadbeef, 0x1234, 0xff0003, 0xbd5b6feb},
	} {
		res := tt.a
		merge(&res, tt.b, tt.r)
		if res != tt.exp {
			t.Errorf("test %d, expected %d, got %d", i, tt.exp, res)
		}
	}
}

func TestRandomMath(t *testing.T) {
	type test struct {
		a   uint32
		b   uint32
		exp uint32
	}
	for i, tt := range []test{
		{20, 22, 42},
		{70000, 80000, 1305032704},
		{70000, 80000, 1},
		{1, 2, 1},
		{3, 10000, 196608},
		{3, 0, 3},
		{3, 6, 2},
		{3, 6, 7},
		{3, 6, 5},
		{0, 0xffffffff, 32},
		{3 << 13, 1 << 5, 3},
		{22, 20, 42},
		{80000, 70000, 1305032704},
		{80000, 70000, 1},
		{2, 1, 1},
		{10000, 3, 80000},
		{0, 3, 0},
		{6, 3, 2},
		{6, 3, 7},
		{6, 3, 5},
		{0, 0xffffffff, 32},
		{3 << 13, 1 << 5, 3},
	} {
		res := progpowMath(tt.a, tt.b, uint32(i))
		if res != tt.exp {
			t.Errorf("test %d, expected %d, got %d", i, tt.exp, res)
		}
	}
}

func TestKiss99(t *testing.T) {
	// Marsaglia's original seeding; the 100000th draw is the published
	// self-test value.
	rnd := kiss99{362436069, 521288629, 123456789, 380116160}
	if v := rnd.next(); v != 769445856 {
		t.Errorf("first draw, expected 769445856, got %d", v)
	}
	var v uint32
	for i := 1; i < 100000; i++ {
		v = rnd.next()
	}
	if v != 941074834 {
		t.Errorf("100000th draw, expected 941074834, got %d", v)
	}

	rnd = kiss99{1, 2, 3, 4}
	for i, exp := range []uint32{
		0x9144876e, 0xbab3b579, 0x5600f9cf, 0x6ee32ce6,
		0x27d999e0, 0x1035d838, 0x7f4dfbf4, 0xf5019fdc,
	} {
		if v := rnd.next(); v != exp {
			t.Errorf("draw %d, expected %#x, got %#x", i, exp, v)
		}
	}
}

func TestFillMix(t *testing.T) {
	mix := fillMix(0x123456789abcdef0, 0)
	for i, exp := range []uint32{
		0x9f6d44ff, 0x962ddefd, 0x04e4024a, 0xe2b5c4e2,
		0x3048151f, 0xd2859003, 0x2ef094e4, 0x035ecbe6,
		0xfe6390f7, 0xa28cb042, 0x45091c39, 0x9c8d9a87,
		0x1d08d72c, 0xdb8857b5, 0xfa0b1226, 0xbeaac625,
	} {
		if mix[i] != exp {
			t.Errorf("lane 0 reg %d, expected %#x, got %#x", i, exp, mix[i])
		}
	}
	mix = fillMix(0x123456789abcdef0, 13)
	for i, exp := range []uint32{
		0xf5ec5e34, 0xeab690d7, 0x39289341, 0x16a759db,
		0xc2b799a3, 0x9ed9e1c2, 0x9c021a45, 0x3815eda7,
		0x63066e15, 0x8b6b01ee, 0x29435478, 0x0c0d3052,
		0x4b2a61af, 0xe3c998f1, 0x5ecd2a28, 0x729cc4f8,
	} {
		if mix[i] != exp {
			t.Errorf("lane 13 reg %d, expected %#x, got %#x", i, exp, mix[i])
		}
	}
}

func TestProgpowInit(t *testing.T) {
	type test struct {
		seed  uint64
		seq   [progpowRegs]uint32
		draws [2]uint32
	}
	for _, tt := range []test{
		{0, [progpowRegs]uint32{7, 12, 10, 5, 11, 4, 13, 6, 9, 1, 2, 15, 0, 8, 3, 14}, [2]uint32{0x35c8f009, 0xaf8ad5dc}},
		{600, [progpowRegs]uint32{15, 8, 3, 1, 5, 0, 9, 10, 7, 13, 2, 12, 14, 6, 11, 4}, [2]uint32{0x72486c2e, 0x81902ccc}},
		{540000, [progpowRegs]uint32{1, 3, 7, 14, 5, 8, 9, 0, 12, 2, 10, 15, 13, 4, 11, 6}, [2]uint32{0x7bb807fc, 0x8cab0049}},
	} {
		rnd, seq := progpowInit(tt.seed)
		if seq != tt.seq {
			t.Errorf("seed %d, expected sequence %v, got %v", tt.seed, tt.seq, seq)
		}
		// The generator state must carry over from the shuffle.
		for i, exp := range tt.draws {
			if v := rnd.next(); v != exp {
				t.Errorf("seed %d draw %d, expected %#x, got %#x", tt.seed, i, exp, v)
			}
		}
	}
}

// The destination sequence must visit every register exactly once regardless
// of the seed.
func TestProgpowInitPermutation(t *testing.T) {
	for seed := uint64(0); seed < 10000; seed++ {
		_, seq := progpowInit(seed)
		var seen [progpowRegs]bool
		for _, dst := range seq {
			if dst >= progpowRegs || seen[dst] {
				t.Fatalf("seed %d: sequence %v is not a permutation", seed, seq)
			}
			seen[dst] = true
		}
	}
}

func TestKeccakF800Long(t *testing.T) {
	result := make([]uint32, 8)
	header := make([]byte, 32)
	hash := keccakF800Long(header, 0, result)
	exp := "5dd431e5fbc604f499bfa0232f45f8f142d0ff5178f539e5a7800bf0643697af"
	if !bytes.Equal(hash, fromHex(exp)) {
		t.Errorf("expected %s, got %x", exp, hash)
	}

	header = fromHex("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	hash = keccakF800Long(header, 0x123456789abcdef0, result)
	exp = "03e410fba1aaa56ffba29f451966218e6441ba2940e970811e665793c635ee27"
	if !bytes.Equal(hash, fromHex(exp)) {
		t.Errorf("expected %s, got %x", exp, hash)
	}
}

func TestKeccakF800Short(t *testing.T) {
	result := make([]uint32, 8)
	header := make([]byte, 32)
	if hash := keccakF800Short(header, 0, result); hash != 0xe531d45df404c6fb {
		t.Errorf("expected %x, got %x", uint64(0xe531d45df404c6fb), hash)
	}
	header = fromHex("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	if hash := keccakF800Short(header, 0x123456789abcdef0, result); hash != 0xfb10e4036fa5aaa1 {
		t.Errorf("expected %x, got %x", uint64(0xfb10e4036fa5aaa1), hash)
	}
}

func TestCDag(t *testing.T) {
	cache := make([]uint32, cacheSize(0)/4)
	generateCache(cache, 0, seedHash(0))

	cDag := make([]uint32, progpowCacheWords)
	generateCDag(cDag, cache, 0)

	// The stride-four pairing means slots 2 and 3 hold dataset words 4 and 5,
	// not 2 and 3.
	expectHead := []uint32{
		690150178, 1181503948, 2193871115, 1791778428, 530799275,
		3480325829, 2541974622, 1100859971, 2217813733, 2690422980,
		1825078594, 1464374910, 2740612408, 1653043604, 252885085,
		3981189347, 29045328, 2040460514, 2970020999, 36675205,
	}
	for i, v := range cDag[:len(expectHead)] {
		if expectHead[i] != v {
			t.Errorf("cdag err, index %d, expected %d, got %d", i, expectHead[i], v)
		}
	}
	expectTail := []uint32{
		2518563171, 215382045, 3867312026, 3025811892, 4240478468,
		1109733463, 2943431721, 746175448, 2276445825, 617655273,
		3050316842, 534405586, 177838997, 119563849, 2158621784,
		2071108511, 3612474887, 349695127, 2019931053, 2663447923,
	}
	for i, v := range cDag[progpowCacheWords-len(expectTail):] {
		if expectTail[i] != v {
			t.Errorf("cdag err, index %d, expected %d, got %d", progpowCacheWords-len(expectTail)+i, expectTail[i], v)
		}
	}
}

// hashForBlock generates the epoch cache and cdag for a block and evaluates
// a single nonce the way a verifier would.
func hashForBlock(blocknum uint64, nonce uint64, headerHash []byte) ([]byte, []byte) {
	cache := make([]uint32, cacheSize(blocknum)/4)
	generateCache(cache, blocknum/epochLength, seedHash(blocknum))

	cDag := make([]uint32, progpowCacheWords)
	generateCDag(cDag, cache, blocknum/epochLength)

	return progpowLight(datasetSize(blocknum), cache, headerHash, nonce, blocknum, cDag)
}

func TestProgpowHash(t *testing.T) {
	digest, result := hashForBlock(0, 0, make([]byte, 32))
	expDigest := fromHex("7fe9b4daf2b53bca835dc73f481fb6e4095938585e7b5eedb1e6ce60f8f53a68")
	expResult := fromHex("5e7a240b23a5d69b38fe1d0ed74ca6b66f7f09b580b9aef02d3616dc6311af41")
	if !bytes.Equal(digest, expDigest) {
		t.Errorf("digest err, got %x expected %x", digest, expDigest)
	}
	if !bytes.Equal(result, expResult) {
		t.Errorf("result err, got %x expected %x", result, expResult)
	}
}

func TestProgpowHashes(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping full epoch cache generation in short mode")
	}
	type testcase struct {
		blockNum   uint64
		nonce      uint64
		headerHash string
		digest     string
		result     string
	}
	for i, tt := range []testcase{
		{
			blockNum:   568971,
			nonce:      0x2569e073dcbab48a,
			headerHash: "0x000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f",
			digest:     "0x5cc9138896b3e1a0ccd8cb3b29a16ef92fec91c49bac06840aee880cf31c4c8a",
			result:     "0x7237c1f33ab1a9d46dfc10c6921626474e1b4464bb78ffe3cd615176ecc78746",
		},
	} {
		digest, result := hashForBlock(tt.blockNum, tt.nonce, fromHex(tt.headerHash))
		if !bytes.Equal(digest, fromHex(tt.digest)) {
			t.Errorf("test %d (blocknum %d), digest err, got %x expected %s", i, tt.blockNum, digest, tt.digest)
		}
		if !bytes.Equal(result, fromHex(tt.result)) {
			t.Errorf("test %d (blocknum %d), result err, got %x expected %s", i, tt.blockNum, result, tt.result)
		}
	}
}

// Replaying identical inputs must reproduce both outputs byte for byte.
func TestProgpowDeterminism(t *testing.T) {
	cache := make([]uint32, cacheSize(0)/4)
	generateCache(cache, 0, seedHash(0))
	cDag := make([]uint32, progpowCacheWords)
	generateCDag(cDag, cache, 0)

	header := fromHex("ffeeddccbbaa9988776655443322110000112233445566778899aabbccddeeff")
	d1, r1 := progpowLight(datasetSize(0), cache, header, 0x123456789abcdef0, 0, cDag)
	d2, r2 := progpowLight(datasetSize(0), cache, header, 0x123456789abcdef0, 0, cDag)
	if !bytes.Equal(d1, d2) || !bytes.Equal(r1, r2) {
		t.Fatalf("non-deterministic output: %x/%x vs %x/%x", d1, r1, d2, r2)
	}
}

// Flipping any single input bit should flip roughly half of the output bits.
func TestProgpowAvalanche(t *testing.T) {
	if testing.Short() {
		t.Skip("skipping avalanche sampling in short mode")
	}
	cache := make([]uint32, cacheSize(0)/4)
	generateCache(cache, 0, seedHash(0))
	cDag := make([]uint32, progpowCacheWords)
	generateCDag(cDag, cache, 0)

	size := datasetSize(0)
	header := fromHex("000102030405060708090a0b0c0d0e0f101112131415161718191a1b1c1d1e1f")
	baseDigest, baseResult := progpowLight(size, cache, header, 0, 0, cDag)

	samples, total := 100, 0
	for i := 0; i < samples; i++ {
		mutated := make([]byte, len(header))
		copy(mutated, header)
		mutated[i%32] ^= 1 << (i % 8)

		digest, result := progpowLight(size, cache, mutated, 0, 0, cDag)
		for j := range digest {
			total += bits.OnesCount8(digest[j] ^ baseDigest[j])
			total += bits.OnesCount8(result[j] ^ baseResult[j])
		}
	}
	if avg := total / samples; avg < 120 {
		t.Errorf("poor avalanche: %d flipped bits on average", avg)
	}
}

func BenchmarkProgpowLight(b *testing.B) {
	cache := make([]uint32, cacheSize(0)/4)
	generateCache(cache, 0, seedHash(0))
	cDag := make([]uint32, progpowCacheWords)
	generateCDag(cDag, cache, 0)

	header := make([]byte, 32)
	b.ResetTimer()
	for i := 0; i < b.N; i++ {
		progpowLight(datasetSize(0), cache, header, uint64(i), 0, cDag)
	}
}

func BenchmarkKeccakF800(b *testing.B) {
	header := make([]byte, 32)
	result := make([]uint32, 8)
	for i := 0; i < b.N; i++ {
		keccakF800Short(header, uint64(i), result)
	}
}
