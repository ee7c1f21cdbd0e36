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

package types

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/require"
)

func TestEIP191VersionDecoding(t *testing.T) {
	tests := []struct {
		json    string
		want    EIP191Version
		wantErr bool
	}{
		{`"0x00"`, WithValidator, false},
		{`"0x01"`, StructuredData, false},
		{`"0x45"`, PersonalMessage, false},
		{`"0x02"`, 0, true},
		{`"45"`, 0, true},
		{`""`, 0, true},
		{`5`, 0, true},
	}
	for _, tt := range tests {
		var v EIP191Version
		err := json.Unmarshal([]byte(tt.json), &v)
		if tt.wantErr {
			require.Error(t, err, "input %s", tt.json)
			continue
		}
		require.NoError(t, err, "input %s", tt.json)
		require.Equal(t, tt.want, v, "input %s", tt.json)
	}
}

func TestEIP191VersionRoundTrip(t *testing.T) {
	for _, v := range []EIP191Version{WithValidator, StructuredData, PersonalMessage} {
		raw, err := json.Marshal(v)
		require.NoError(t, err)

		var back EIP191Version
		require.NoError(t, json.Unmarshal(raw, &back))
		require.Equal(t, v, back)
	}
}

func TestWithValidatorDataDecoding(t *testing.T) {
	input := `{
		"address": "0x00000000000000000000000000000000000000fe",
		"application_data": "0x0a0b0c"
	}`
	var data WithValidatorData
	require.NoError(t, json.Unmarshal([]byte(input), &data))
	require.Equal(t, byte(0xfe), data.Address[19])
	require.Equal(t, Bytes{0x0a, 0x0b, 0x0c}, data.ApplicationData)

	// Bad address length must fail.
	require.Error(t, json.Unmarshal([]byte(`{"address": "0x00ff", "application_data": "0x"}`), &data))
	// Missing 0x prefix must fail.
	require.Error(t, json.Unmarshal([]byte(`{"address": "00000000000000000000000000000000000000fe", "application_data": "0x"}`), &data))
}
