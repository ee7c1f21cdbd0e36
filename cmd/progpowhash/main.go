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

// progpowhash computes the ProgPoW digest and result of a single
// header-hash/nonce pair, generating the epoch verification cache on the fly.
package main

import (
	"encoding/hex"
	"flag"
	"fmt"
	"os"
	"strings"

	"github.com/parityport/progpow"
)

var (
	blockFlag    = flag.Uint64("block", 0, "block number the nonce seals")
	nonceFlag    = flag.Uint64("nonce", 0, "nonce to evaluate")
	headerFlag   = flag.String("header", "", "32 byte header hash, hex encoded")
	cacheDirFlag = flag.String("cachedir", "", "directory for memory mapped cache files (optional)")
)

func main() {
	flag.Parse()

	raw, err := hex.DecodeString(strings.TrimPrefix(*headerFlag, "0x"))
	if err != nil || len(raw) != 32 {
		fmt.Fprintln(os.Stderr, "progpowhash: -header must be 32 bytes of hex")
		os.Exit(1)
	}
	var headerHash [32]byte
	copy(headerHash[:], raw)

	engine := progpow.New(progpow.Config{
		CacheDir:     *cacheDirFlag,
		CachesInMem:  1,
		CachesOnDisk: 2,
	})
	digest, result := engine.Hash(headerHash, *nonceFlag, *blockFlag)

	fmt.Printf("digest: 0x%x\n", digest)
	fmt.Printf("result: 0x%x\n", result)
}
