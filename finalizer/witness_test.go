// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package finalizer

import (
	"bytes"
	"testing"

	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// TestWitnessRoundTrip tests that serializing and deserializing a witness
// stack recovers the exact original item sequence, including empty stacks
// and zero-length items.
func TestWitnessRoundTrip(t *testing.T) {
	t.Parallel()

	testCases := []struct {
		name    string
		witness wire.TxWitness
	}{
		{
			name:    "empty stack",
			witness: wire.TxWitness{},
		},
		{
			name:    "single item",
			witness: wire.TxWitness{{0x01, 0x02, 0x03}},
		},
		{
			name: "zero length item between items",
			witness: wire.TxWitness{
				{0xaa}, {}, {0xbb, 0xcc},
			},
		},
		{
			name: "varint boundary item",
			witness: wire.TxWitness{
				bytes.Repeat([]byte{0x55}, 253),
			},
		},
		{
			name: "ten items of varying lengths",
			witness: func() wire.TxWitness {
				witness := make(wire.TxWitness, 10)
				for i := range witness {
					witness[i] = bytes.Repeat(
						[]byte{byte(i)}, i*7,
					)
				}
				return witness
			}(),
		},
	}

	for _, tc := range testCases {
		tc := tc
		t.Run(tc.name, func(t *testing.T) {
			t.Parallel()

			// Act: Encode the stack, then decode it again.
			serialized, err := SerializeWitness(tc.witness)
			require.NoError(t, err)

			decoded, err := DeserializeWitness(serialized)
			require.NoError(t, err)

			// Assert: The decoded stack has the same items in the
			// same order.
			require.Equal(t, len(tc.witness), len(decoded))
			for i := range tc.witness {
				require.Equal(
					t, []byte(tc.witness[i]),
					[]byte(decoded[i]),
				)
			}
		})
	}
}

// TestDeserializeWitnessTruncated tests that a truncated serialization is
// rejected rather than silently decoded.
func TestDeserializeWitnessTruncated(t *testing.T) {
	t.Parallel()

	serialized, err := SerializeWitness(wire.TxWitness{{0x01, 0x02}})
	require.NoError(t, err)

	_, err = DeserializeWitness(serialized[:len(serialized)-1])
	require.Error(t, err)
}
