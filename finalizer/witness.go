// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package finalizer

import (
	"bytes"
	"fmt"

	"github.com/btcsuite/btcd/wire"
)

const (
	// maxWitnessItemSize is the maximum size of a single witness stack
	// item we are willing to decode, as per the BIP 141 limit for witness
	// scripts.
	maxWitnessItemSize = 10000

	// maxWitnessItems is the maximum number of witness stack items we are
	// willing to decode from a single serialized witness.
	maxWitnessItems = 500000
)

// SerializeWitness encodes a witness stack into the consensus serialization
// used by the FinalScriptWitness field of a PSBT input: a varint item count
// followed by a varint-length-prefixed byte string per item.
func SerializeWitness(witness wire.TxWitness) ([]byte, error) {
	var buf bytes.Buffer
	err := wire.WriteVarInt(&buf, 0, uint64(len(witness)))
	if err != nil {
		return nil, err
	}

	for _, item := range witness {
		if err := wire.WriteVarBytes(&buf, 0, item); err != nil {
			return nil, err
		}
	}

	return buf.Bytes(), nil
}

// DeserializeWitness decodes a serialized witness stack, recovering the exact
// ordered item sequence that was passed to SerializeWitness.
func DeserializeWitness(serialized []byte) (wire.TxWitness, error) {
	r := bytes.NewReader(serialized)

	count, err := wire.ReadVarInt(r, 0)
	if err != nil {
		return nil, err
	}
	if count > maxWitnessItems {
		return nil, fmt.Errorf("too many witness items: %d", count)
	}

	witness := make(wire.TxWitness, count)
	for i := uint64(0); i < count; i++ {
		witness[i], err = wire.ReadVarBytes(
			r, 0, maxWitnessItemSize, "witness item",
		)
		if err != nil {
			return nil, err
		}
	}

	return witness, nil
}
