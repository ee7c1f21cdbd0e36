// Copyright 2018 The go-ethereum Authors
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
	"encoding/binary"
	"math/bits"
	"time"

	"github.com/inconshreveable/log15"
	"golang.org/x/crypto/sha3"
)

const (
	progpowLanes      = 32             // Number of parallel lane states per hash
	progpowRegs       = 16             // Number of 32-bit registers per lane
	progpowCacheWords = 4 * 1024       // Cached portion of the dataset, in 32-bit words
	progpowCntCache   = 8              // Cache accesses per inner program
	progpowCntMath    = 8              // Math operations per inner program
	progpowCntMem     = loopAccesses   // Outer iterations of the inner program
	progpowMixBytes   = 2 * mixBytes   // Dataset bytes consumed per outer iteration
)

// fnvOffsetBasis is the FNV-1a starting accumulator.
const fnvOffsetBasis uint32 = 0x811c9dc5

// fnv1a is the FNV-1a accumulate step. The accumulator is threaded through
// consecutive calls by pointer; the seeding code relies on the updated value
// being both stored and returned, so each call in a group observes the
// previous one.
func fnv1a(h *uint32, d uint32) uint32 {
	*h = (*h ^ d) * 0x01000193
	return *h
}

// kiss99 is Marsaglia's 1999 combined generator: a multiply-with-carry pair,
// an xorshift and a linear congruential generator. ProgPoW draws every random
// decision of the inner program from it, so the draw order is consensus
// critical.
type kiss99 struct {
	z, w, jsr, jcong uint32
}

func (k *kiss99) next() uint32 {
	k.z = 36969*(k.z&65535) + k.z>>16
	k.w = 18000*(k.w&65535) + k.w>>16
	mwc := k.z<<16 + k.w
	k.jsr ^= k.jsr << 17
	k.jsr ^= k.jsr >> 13
	k.jsr ^= k.jsr << 5
	k.jcong = 69069*k.jcong + 1234567
	return (mwc ^ k.jcong) + k.jsr
}

// fillMix expands the per-hash seed into one lane's initial register file.
// The four KISS99 state words are produced by a single FNV-1a accumulator
// threaded over the seed halves and the lane id, in that order.
func fillMix(seed uint64, laneId uint32) [progpowRegs]uint32 {
	h := fnvOffsetBasis
	z := fnv1a(&h, uint32(seed))
	w := fnv1a(&h, uint32(seed>>32))
	jsr := fnv1a(&h, laneId)
	jcong := fnv1a(&h, laneId)
	rnd := kiss99{z, w, jsr, jcong}

	var mix [progpowRegs]uint32
	for i := range mix {
		mix[i] = rnd.next()
	}
	return mix
}

// progpowInit constructs the random generator for one lane program together
// with the merge destination sequence. The destination sequence is a
// Fisher-Yates shuffle of the register indices, guaranteeing every register
// is written once per sixteen merges. The returned generator carries the
// post-shuffle state and keeps advancing inside the lane program.
func progpowInit(seed uint64) (kiss99, [progpowRegs]uint32) {
	h := fnvOffsetBasis
	z := fnv1a(&h, uint32(seed))
	w := fnv1a(&h, uint32(seed>>32))
	jsr := fnv1a(&h, uint32(seed))
	jcong := fnv1a(&h, uint32(seed>>32))
	rnd := kiss99{z, w, jsr, jcong}

	var mixSeq [progpowRegs]uint32
	for i := uint32(0); i < progpowRegs; i++ {
		mixSeq[i] = i
	}
	for i := progpowRegs - 1; i >= 0; i-- {
		j := rnd.next() % uint32(i+1)
		mixSeq[i], mixSeq[j] = mixSeq[j], mixSeq[i]
	}
	return rnd, mixSeq
}

// merge folds new data into an accumulator register while retaining its
// entropy even when the incoming word has little of its own. The rotation
// selectors take the count from the upper half of r, modulo the word width.
func merge(a *uint32, b uint32, r uint32) {
	switch r % 4 {
	case 0:
		*a = *a*33 + b
	case 1:
		*a = (*a ^ b) * 33
	case 2:
		*a = bits.RotateLeft32(*a, int(r>>16%32)) ^ b
	case 3:
		*a = bits.RotateLeft32(*a, -int(r>>16%32)) ^ b
	}
}

// progpowMath is the random math primitive of the inner program. Rotation
// counts reduce modulo 32 through the rotate intrinsics.
func progpowMath(a, b, r uint32) uint32 {
	switch r % 11 {
	case 0:
		return a + b
	case 1:
		return a * b
	case 2:
		return uint32(uint64(a) * uint64(b) >> 32)
	case 3:
		return min(a, b)
	case 4:
		return bits.RotateLeft32(a, int(b))
	case 5:
		return bits.RotateLeft32(a, -int(b))
	case 6:
		return a & b
	case 7:
		return a | b
	case 8:
		return a ^ b
	case 9:
		return uint32(bits.LeadingZeros32(a) + bits.LeadingZeros32(b))
	case 10:
		return uint32(bits.OnesCount32(a) + bits.OnesCount32(b))
	}
	panic("unreachable")
}

// keccakfRndc are the canonical Keccak round constants truncated to 32 bits.
// All 24 are listed; the 800-bit sponge below consumes only the first 22.
var keccakfRndc = [24]uint32{
	0x00000001, 0x00008082, 0x0000808a, 0x80008000, 0x0000808b, 0x80000001,
	0x80008081, 0x00008009, 0x0000008a, 0x00000088, 0x80008009, 0x8000000a,
	0x8000808b, 0x0000008b, 0x00008089, 0x00008003, 0x00008002, 0x00000080,
	0x0000800a, 0x8000000a, 0x80008081, 0x00008080, 0x80000001, 0x80008008,
}

// keccakfRotc are the Keccak rho rotation offsets.
var keccakfRotc = [24]uint32{
	1, 3, 6, 10, 15, 21, 28, 36, 45, 55, 2, 14,
	27, 41, 56, 8, 25, 43, 62, 18, 39, 61, 20, 44,
}

// keccakfPiln is the pi lane permutation path.
var keccakfPiln = [24]uint32{
	10, 7, 11, 17, 18, 3, 5, 16, 8, 21, 24, 4,
	15, 23, 19, 13, 12, 2, 20, 14, 22, 9, 6, 1,
}

// keccakF800Round performs one round of the 800-bit wide Keccak-f
// permutation: theta, rho+pi, chi and iota over a 25 word state of uint32s.
func keccakF800Round(st *[25]uint32, r int) {
	// Theta
	var bc [5]uint32
	for i := 0; i < 5; i++ {
		bc[i] = st[i] ^ st[i+5] ^ st[i+10] ^ st[i+15] ^ st[i+20]
	}
	for i := 0; i < 5; i++ {
		t := bc[(i+4)%5] ^ bits.RotateLeft32(bc[(i+1)%5], 1)
		for j := 0; j < 25; j += 5 {
			st[j+i] ^= t
		}
	}
	// Rho Pi
	t := st[1]
	for i := 0; i < 24; i++ {
		j := keccakfPiln[i]
		bc[0] = st[j]
		st[j] = bits.RotateLeft32(t, int(keccakfRotc[i]))
		t = bc[0]
	}
	// Chi
	for j := 0; j < 25; j += 5 {
		for i := 0; i < 5; i++ {
			bc[i] = st[j+i]
		}
		for i := 0; i < 5; i++ {
			st[j+i] ^= ^bc[(i+1)%5] & bc[(i+2)%5]
		}
	}
	// Iota
	st[0] ^= keccakfRndc[r]
}

// keccakF800 absorbs the header hash, the nonce and the first half of the
// result words into a zeroed 800-bit state and runs the reduced 22-round
// permutation. The header hash words and the final serialisation are little
// endian regardless of host byte order.
func keccakF800(headerHash []byte, nonce uint64, result []uint32) [25]uint32 {
	var st [25]uint32
	for i := 0; i < 8; i++ {
		st[i] = binary.LittleEndian.Uint32(headerHash[4*i:])
	}
	st[8] = uint32(nonce)
	st[9] = uint32(nonce >> 32)
	for i := 0; i < 4; i++ {
		st[10+i] = result[i]
	}
	for r := 0; r < 22; r++ {
		keccakF800Round(&st, r)
	}
	return st
}

// keccakF800Short runs the reduced sponge and folds the first two state
// words into the 64-bit per-hash seed.
func keccakF800Short(headerHash []byte, nonce uint64, result []uint32) uint64 {
	st := keccakF800(headerHash, nonce, result)
	return uint64(st[0])<<32 | uint64(st[1])
}

// keccakF800Long runs the reduced sponge and serialises the first eight
// state words into a 32 byte digest.
func keccakF800Long(headerHash []byte, nonce uint64, result []uint32) []byte {
	st := keccakF800(headerHash, nonce, result)
	ret := make([]byte, 32)
	for i := 0; i < 8; i++ {
		binary.LittleEndian.PutUint32(ret[i*4:], st[i])
	}
	return ret
}

// progpowLoop evaluates one outer iteration of the randomly generated inner
// program against every lane. The seed here is the block number rounded down
// to its epoch boundary, not the keccak derived per-hash seed; the original
// implementation feeds the rounded block number to progpowInit and changing
// that would change every digest on the chain.
//
// lookup returns the 64 byte dataset item containing the requested 32-bit
// word index.
func progpowLoop(seed uint64, loopIdx uint32, mix *[progpowLanes][progpowRegs]uint32,
	cDag []uint32, lookup func(index uint32) []byte, dataSize uint32) {
	// One lane's first register picks the dataset row for this iteration and
	// every lane reads from it. The access is deliberately coherent so that
	// hardware shaped like a GPU warp can service it as one wide fetch.
	offsetG := mix[loopIdx%progpowLanes][0] % dataSize * progpowLanes

	lookupWord := func(index uint32) uint32 {
		item := lookup(index)
		return binary.LittleEndian.Uint32(item[index%16*4:])
	}
	for lane := uint32(0); lane < progpowLanes; lane++ {
		// Global load of sequential 64-bit words, one per lane. Consumed only
		// at the very end of the lane program to allow full latency hiding.
		data64 := uint64(lookupWord(2*(offsetG+lane)+1))<<32 | uint64(lookupWord(2*(offsetG+lane)))

		// Each lane evaluates the same program: the generator and the merge
		// destination sequence restart identically per lane.
		rnd, mixSeq := progpowInit(seed)
		mixSeqCnt := uint32(0)

		mixDst := func() *uint32 {
			dst := mixSeq[mixSeqCnt%progpowRegs]
			mixSeqCnt++
			return &mix[lane][dst]
		}
		for i := 0; i < max(progpowCntCache, progpowCntMath); i++ {
			if i < progpowCntCache {
				// Cached memory access, lanes access random locations
				src := rnd.next() % progpowRegs
				data32 := cDag[mix[lane][src]%progpowCacheWords]
				merge(mixDst(), data32, rnd.next())
			}
			if i < progpowCntMath {
				// Random math on two random registers
				src1 := rnd.next() % progpowRegs
				src2 := rnd.next() % progpowRegs
				data32 := progpowMath(mix[lane][src1], mix[lane][src2], rnd.next())
				merge(mixDst(), data32, rnd.next())
			}
		}
		// Consume the global load; the low half always lands in register 0.
		merge(&mix[lane][0], uint32(data64), rnd.next())
		merge(mixDst(), uint32(data64>>32), rnd.next())
	}
}

// progpow computes the digest and result of a single nonce over an abstract
// dataset. Both return values are 32 byte little endian serialisations.
func progpow(hash []byte, nonce uint64, size uint64, blockNumber uint64,
	cDag []uint32, lookup func(index uint32) []byte) ([]byte, []byte) {
	var (
		mix         [progpowLanes][progpowRegs]uint32
		laneResults [progpowLanes]uint32
	)
	result := make([]uint32, 8)

	// The per-hash seed is derived with the result words still zero; the
	// final sponge below reuses this seed in the nonce slot.
	seed := keccakF800Short(hash, nonce, result)
	for lane := uint32(0); lane < progpowLanes; lane++ {
		mix[lane] = fillMix(seed, lane)
	}
	rounded := blockNumber / epochLength * epochLength
	for i := uint32(0); i < progpowCntMem; i++ {
		progpowLoop(rounded, i, &mix, cDag, lookup, uint32(size/progpowMixBytes))
	}
	// Reduce mix data to a per-lane 32-bit result
	for lane := 0; lane < progpowLanes; lane++ {
		laneResults[lane] = fnvOffsetBasis
		for i := 0; i < progpowRegs; i++ {
			fnv1a(&laneResults[lane], mix[lane][i])
		}
	}
	// Reduce all lanes to the 256-bit result
	for i := range result {
		result[i] = fnvOffsetBasis
	}
	for lane := 0; lane < progpowLanes; lane++ {
		fnv1a(&result[lane%8], laneResults[lane])
	}
	digest := keccakF800Long(hash, seed, result)

	resultBytes := make([]byte, 32)
	for i, word := range result {
		binary.LittleEndian.PutUint32(resultBytes[i*4:], word)
	}
	return digest, resultBytes
}

// progpowLight aggregates data from the full dataset (using only a small
// in-memory cache) in order to produce the final digest and result for a
// particular header hash and nonce.
func progpowLight(size uint64, cache []uint32, hash []byte, nonce uint64,
	blockNumber uint64, cDag []uint32) ([]byte, []byte) {
	keccak512 := makeHasher(sha3.NewLegacyKeccak512())
	lookup := func(index uint32) []byte {
		return generateDatasetItem(cache, index/16, keccak512)
	}
	return progpow(hash, nonce, size, blockNumber, cDag, lookup)
}

// generateCDag fills cDag with the cached leading words of the dataset for
// an epoch. The access pattern reads word pairs at stride four: words
// {0, 1, 4, 5, 8, 9, ...} of the dataset land in consecutive cDag slots.
// The upstream implementation ships this pattern and the network's digests
// depend on it, so it must not be "fixed" to a contiguous prefix.
func generateCDag(cDag []uint32, cache []uint32, epoch uint64) {
	logger := log15.New("epoch", epoch)
	start := time.Now()

	keccak512 := makeHasher(sha3.NewLegacyKeccak512())
	lookupWord := func(index uint32) uint32 {
		item := generateDatasetItem(cache, index/16, keccak512)
		return binary.LittleEndian.Uint32(item[index%16*4:])
	}
	for i := uint32(0); i < progpowCacheWords; i += 2 {
		cDag[i] = lookupWord(2 * i)
		cDag[i+1] = lookupWord(2*i + 1)
	}
	logger.Debug("Generated progpow cdag", "elapsed", prettyDuration(time.Since(start)))
}
