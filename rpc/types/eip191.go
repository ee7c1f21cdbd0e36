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

// Package types holds the JSON-RPC wire types of the signing API.
package types

import (
	"encoding/hex"
	"encoding/json"
	"fmt"
	"strings"
)

// EIP191Version selects the sub-format of an EIP-191 signing request, keyed
// by the version byte carried in the request.
type EIP191Version byte

const (
	// WithValidator is version byte 0x00, data intended for a validator
	// contract.
	WithValidator EIP191Version = 0x00

	// StructuredData is version byte 0x01, EIP-712 structured data.
	StructuredData EIP191Version = 0x01

	// PersonalMessage is version byte 0x45, the personal_sign format.
	PersonalMessage EIP191Version = 0x45
)

// UnmarshalJSON decodes the version tag from its hex string form. Only the
// three assigned version bytes are accepted.
func (v *EIP191Version) UnmarshalJSON(input []byte) error {
	var s string
	if err := json.Unmarshal(input, &s); err != nil {
		return err
	}
	switch s {
	case "0x00":
		*v = WithValidator
	case "0x01":
		*v = StructuredData
	case "0x45":
		*v = PersonalMessage
	default:
		return fmt.Errorf("invalid byte version '%s'", s)
	}
	return nil
}

// MarshalJSON encodes the version tag back into its two-digit hex form.
func (v EIP191Version) MarshalJSON() ([]byte, error) {
	return json.Marshal(fmt.Sprintf("0x%02x", byte(v)))
}

// Address is a 20 byte account address, hex encoded on the wire.
type Address [20]byte

// UnmarshalJSON decodes a 0x-prefixed hex string of exactly 40 digits.
func (a *Address) UnmarshalJSON(input []byte) error {
	var s string
	if err := json.Unmarshal(input, &s); err != nil {
		return err
	}
	raw, err := decodeHex(s)
	if err != nil {
		return err
	}
	if len(raw) != len(a) {
		return fmt.Errorf("invalid address length %d", len(raw))
	}
	copy(a[:], raw)
	return nil
}

// MarshalJSON encodes the address as a 0x-prefixed hex string.
func (a Address) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(a[:]))
}

// Bytes is a byte slice hex encoded on the wire.
type Bytes []byte

// UnmarshalJSON decodes a 0x-prefixed hex string of even length.
func (b *Bytes) UnmarshalJSON(input []byte) error {
	var s string
	if err := json.Unmarshal(input, &s); err != nil {
		return err
	}
	raw, err := decodeHex(s)
	if err != nil {
		return err
	}
	*b = raw
	return nil
}

// MarshalJSON encodes the bytes as a 0x-prefixed hex string.
func (b Bytes) MarshalJSON() ([]byte, error) {
	return json.Marshal("0x" + hex.EncodeToString(b))
}

// WithValidatorData is the request payload of the 0x00 version: data bound
// to an intended validator contract.
type WithValidatorData struct {
	// Address of the intended validator
	Address Address `json:"address"`
	// Application specific data
	ApplicationData Bytes `json:"application_data"`
}

func decodeHex(s string) ([]byte, error) {
	if !strings.HasPrefix(s, "0x") {
		return nil, fmt.Errorf("hex string without 0x prefix")
	}
	return hex.DecodeString(s[2:])
}
