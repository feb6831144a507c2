// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package finalizer

import (
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// isFinalized returns true if the given input already carries a final script
// sig or a final witness. Such inputs are in their terminal state and are
// never touched again by this package.
func isFinalized(in *psbt.PInput) bool {
	return len(in.FinalScriptSig) > 0 || len(in.FinalScriptWitness) > 0
}

// fetchInputUtxo resolves the output being spent by the input at the given
// index. The witness UTXO is preferred if present, otherwise the output is
// looked up in the referenced non-witness previous transaction. If neither
// source is available, ErrMissingUtxo is returned.
func fetchInputUtxo(packet *psbt.Packet, idx int) (*wire.TxOut, error) {
	in := &packet.Inputs[idx]

	if in.WitnessUtxo != nil {
		return in.WitnessUtxo, nil
	}

	if in.NonWitnessUtxo != nil {
		prevIndex := packet.UnsignedTx.TxIn[idx].PreviousOutPoint.Index
		if prevIndex >= uint32(len(in.NonWitnessUtxo.TxOut)) {
			return nil, ErrMissingUtxo
		}

		return in.NonWitnessUtxo.TxOut[prevIndex], nil
	}

	return nil, ErrMissingUtxo
}

// isTaprootUtxo returns true if the resolved spent output pays to a segwit
// v1 (taproot) witness program.
func isTaprootUtxo(utxo *wire.TxOut) bool {
	return txscript.IsPayToTaproot(utxo.PkScript)
}

// checkSighashType enforces the presence of a sighash type on the input. The
// zero value of the field only has a meaning for taproot inputs, where it is
// SIGHASH_DEFAULT, so non-taproot inputs must carry an explicit type.
func checkSighashType(in *psbt.PInput, taproot bool) error {
	if !taproot && in.SighashType == 0 {
		return ErrMissingSighashType
	}

	return nil
}
