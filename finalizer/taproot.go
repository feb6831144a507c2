// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package finalizer

import (
	"bytes"
	"fmt"
	"sort"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
)

// schnorrSigWithSighash returns the signature in the form it must appear on
// the witness stack: the 64 raw bytes for SIGHASH_DEFAULT, with the sighash
// type appended as a 65th byte for any other type. Signatures that already
// carry their sighash byte are passed through unchanged.
func schnorrSigWithSighash(sig []byte,
	sigHash txscript.SigHashType) []byte {

	if len(sig) == schnorrSigLen && sigHash != txscript.SigHashDefault {
		return append(sig[:len(sig):len(sig)], byte(sigHash))
	}

	return sig
}

// schnorrSigLen is the length of a BIP 340 signature without a sighash byte.
const schnorrSigLen = 64

// tapLeafHash computes the BIP 341 leaf hash of a candidate leaf script.
func tapLeafHash(leaf *psbt.TaprootTapLeafScript) chainhash.Hash {
	return txscript.NewTapLeaf(leaf.LeafVersion, leaf.Script).TapHash()
}

// leafSigs returns all script spend signatures that commit to the given leaf
// hash.
func leafSigs(in *psbt.PInput,
	leafHash chainhash.Hash) []*psbt.TaprootScriptSpendSig {

	var sigs []*psbt.TaprootScriptSpendSig
	for _, sig := range in.TaprootScriptSpendSig {
		if bytes.Equal(sig.LeafHash, leafHash[:]) {
			sigs = append(sigs, sig)
		}
	}

	return sigs
}

// selectTapLeaf resolves the leaf script to finalize among the input's
// candidates. If an explicit leaf hash is given, the matching candidate is
// required to exist. Otherwise exactly one candidate must have collected
// script spend signatures; zero or several eligible candidates are an error,
// since guessing could construct a spend for the wrong script path.
func selectTapLeaf(in *psbt.PInput,
	hint *chainhash.Hash) (*psbt.TaprootTapLeafScript, chainhash.Hash,
	error) {

	var (
		selected     *psbt.TaprootTapLeafScript
		selectedHash chainhash.Hash
	)

	if hint != nil {
		for _, leaf := range in.TaprootLeafScript {
			leafHash := tapLeafHash(leaf)
			if leafHash == *hint {
				return leaf, leafHash, nil
			}
		}

		return nil, chainhash.Hash{}, fmt.Errorf("%w: %v",
			ErrMissingTaprootLeaf, *hint)
	}

	for _, leaf := range in.TaprootLeafScript {
		leafHash := tapLeafHash(leaf)
		if len(leafSigs(in, leafHash)) == 0 {
			continue
		}

		if selected != nil {
			return nil, chainhash.Hash{}, ErrAmbiguousTaprootLeaf
		}

		selected = leaf
		selectedHash = leafHash
	}

	if selected == nil {
		return nil, chainhash.Hash{}, ErrAmbiguousTaprootLeaf
	}

	return selected, selectedHash, nil
}

// leafKeyPositions tokenizes a leaf script and returns the position of every
// 32 byte data push, keyed by the raw push bytes. These pushes are the x-only
// public keys whose signature checks define the required witness stack order.
func leafKeyPositions(script []byte) (map[string]int, error) {
	positions := make(map[string]int)

	pos := 0
	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		if len(tokenizer.Data()) == chainhash.HashSize {
			key := string(tokenizer.Data())
			if _, ok := positions[key]; !ok {
				positions[key] = pos
			}
		}
		pos++
	}
	if err := tokenizer.Err(); err != nil {
		return nil, err
	}

	return positions, nil
}

// leafRequiredSigs derives how many signatures the leaf script consumes. For
// a CHECKSIGADD accumulator script this is the threshold number pushed
// before the final numeric comparison; otherwise it is the number of plain
// CHECKSIG/CHECKSIGVERIFY operations.
func leafRequiredSigs(script []byte) (int, error) {
	var (
		checkSigs   int
		hasSigAdd   bool
		lastSmallOp byte
		threshold   int
	)

	tokenizer := txscript.MakeScriptTokenizer(0, script)
	for tokenizer.Next() {
		op := tokenizer.Opcode()
		switch {
		case op == txscript.OP_CHECKSIG ||
			op == txscript.OP_CHECKSIGVERIFY:

			checkSigs++

		case op == txscript.OP_CHECKSIGADD:
			hasSigAdd = true

		case op >= txscript.OP_1 && op <= txscript.OP_16:
			lastSmallOp = op

		case op == txscript.OP_NUMEQUAL ||
			op == txscript.OP_NUMEQUALVERIFY ||
			op == txscript.OP_GREATERTHANOREQUAL:

			if hasSigAdd && lastSmallOp != 0 {
				threshold = int(lastSmallOp-txscript.OP_1) + 1
			}
		}
	}
	if err := tokenizer.Err(); err != nil {
		return 0, err
	}

	if hasSigAdd && threshold > 0 {
		return threshold, nil
	}
	if checkSigs > 0 {
		return checkSigs, nil
	}

	// A leaf with no recognizable signature check still consumes at least
	// one signature on the default path.
	return 1, nil
}

// orderLeafSigs aligns the collected script spend signatures with the
// signature check sequence of the selected leaf script. The witness stack is
// consumed back to front, so signatures are ordered by descending key
// position within the leaf. A signature whose key does not appear in the
// leaf, or an ordered set smaller than the leaf's required signature count,
// is an ordering failure.
func orderLeafSigs(in *psbt.PInput, leaf *psbt.TaprootTapLeafScript,
	leafHash chainhash.Hash) (wire.TxWitness, error) {

	sigs := leafSigs(in, leafHash)

	positions, err := leafKeyPositions(leaf.Script)
	if err != nil {
		return nil, err
	}

	type placedSig struct {
		sig *psbt.TaprootScriptSpendSig
		pos int
	}

	placed := make([]placedSig, 0, len(sigs))
	for _, sig := range sigs {
		pos, ok := positions[string(sig.XOnlyPubKey)]
		if !ok {
			return nil, fmt.Errorf("%w: pubkey %x not in leaf "+
				"script", ErrSignatureOrdering, sig.XOnlyPubKey)
		}

		placed = append(placed, placedSig{sig: sig, pos: pos})
	}

	sort.SliceStable(placed, func(i, j int) bool {
		return placed[i].pos > placed[j].pos
	})

	required, err := leafRequiredSigs(leaf.Script)
	if err != nil {
		return nil, err
	}
	if len(placed) < required {
		return nil, fmt.Errorf("%w: have %d signatures, leaf "+
			"requires %d", ErrSignatureOrdering, len(placed),
			required)
	}

	witness := make(wire.TxWitness, 0, len(placed))
	for _, p := range placed {
		witness = append(witness, schnorrSigWithSighash(
			p.sig.Signature, p.sig.SigHash,
		))
	}

	return witness, nil
}

// finalizeTaprootInput produces the final witness for a taproot input. The
// key spend signature always takes precedence as the smaller and more
// private spend; otherwise the target leaf is resolved and a script path
// witness of ordered signatures, leaf script and control block is built.
func finalizeTaprootInput(packet *psbt.Packet, idx int,
	hint *chainhash.Hash) (*FinalScripts, error) {

	in := &packet.Inputs[idx]

	// Taproot sighashes commit to the spent output directly, so the
	// reference must be resolvable without a full previous transaction.
	if in.WitnessUtxo == nil {
		return nil, ErrMissingWitnessUtxo
	}

	// Key path spend.
	if len(in.TaprootKeySpendSig) > 0 {
		keySig := schnorrSigWithSighash(
			in.TaprootKeySpendSig, in.SighashType,
		)

		log.Debugf("Finalizing input %d via taproot key path", idx)

		return &FinalScripts{
			Witness: wire.TxWitness{keySig},
		}, nil
	}

	// Script path spend.
	leaf, leafHash, err := selectTapLeaf(in, hint)
	if err != nil {
		return nil, err
	}

	sigWitness, err := orderLeafSigs(in, leaf, leafHash)
	if err != nil {
		return nil, fmt.Errorf("leaf %v: %w", leafHash, err)
	}

	log.Debugf("Finalizing input %d via taproot script path, leaf=%v, "+
		"num_sigs=%d", idx, leafHash, len(sigWitness))

	witness := make(wire.TxWitness, 0, len(sigWitness)+2)
	witness = append(witness, sigWitness...)
	witness = append(witness, leaf.Script, leaf.ControlBlock)

	return &FinalScripts{Witness: witness}, nil
}
