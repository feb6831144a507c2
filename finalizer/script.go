// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package finalizer

import (
	"bytes"
	"encoding/hex"
	"fmt"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/lightningnetwork/lnd/fn/v2"
)

// scriptInfo describes the resolved spending script of an input together
// with the wrapping flags that drive final script assembly.
type scriptInfo struct {
	// script is the effective script the signatures must satisfy: the
	// witness script if present, else the redeem script, else the spent
	// output's pkScript.
	script []byte

	// class is the standard script class of the effective script.
	class txscript.ScriptClass

	// isP2SH is true if the input spends a script hash output, meaning a
	// redeem script is present and must be pushed into the script sig.
	isP2SH bool

	// isP2WSH is true if the input spends (possibly nested) a witness
	// script hash output, meaning the witness script must be appended to
	// the witness stack.
	isP2WSH bool

	// segwit is true if the final unlock data belongs into the witness
	// rather than the script sig.
	segwit bool
}

// resolveEffectiveScript determines which script the input's signatures must
// satisfy and how the resulting unlock data is wrapped. The witness script
// takes precedence over the redeem script, which takes precedence over the
// spent output's own pkScript.
func resolveEffectiveScript(in *psbt.PInput, utxo *wire.TxOut) (*scriptInfo,
	error) {

	si := &scriptInfo{
		isP2SH:  len(in.RedeemScript) > 0,
		isP2WSH: len(in.WitnessScript) > 0,
	}

	switch {
	case si.isP2WSH:
		si.script = in.WitnessScript

	case si.isP2SH:
		si.script = in.RedeemScript

	default:
		si.script = utxo.PkScript
	}

	if len(si.script) == 0 {
		return nil, ErrNoScriptFound
	}

	si.class = txscript.GetScriptClass(si.script)
	si.segwit = si.isP2WSH || si.class == txscript.WitnessV0PubKeyHashTy

	return si, nil
}

// extractMultisigInfo extracts the signature threshold and the ordered
// public key set from a standard multisig script.
//
// The chain parameters only influence the address encoding of the returned
// keys, not the keys themselves, so mainnet is used unconditionally.
func extractMultisigInfo(script []byte) (int, []*btcec.PublicKey, error) {
	class, addrs, required, err := txscript.ExtractPkScriptAddrs(
		script, &chaincfg.MainNetParams,
	)
	if err != nil {
		return 0, nil, err
	}
	if class != txscript.MultiSigTy {
		return 0, nil, fmt.Errorf("%w: expected multisig, got %v",
			ErrUnsupportedScriptType, class)
	}

	pubKeys := make([]*btcec.PublicKey, 0, len(addrs))
	for _, addr := range addrs {
		pubKeyAddr, ok := addr.(*btcutil.AddressPubKey)
		if !ok {
			return 0, nil, fmt.Errorf("%w: non-pubkey address in "+
				"multisig script", ErrUnsupportedScriptType)
		}

		pubKeys = append(pubKeys, pubKeyAddr.PubKey())
	}

	return required, pubKeys, nil
}

// sigForKey returns the partial signature whose public key matches the given
// key, or nil if no such signature was collected. Both the compressed and
// the uncompressed serialization are accepted.
func sigForKey(sigs []*psbt.PartialSig, pubKey *btcec.PublicKey) *psbt.PartialSig {
	compressed := pubKey.SerializeCompressed()
	uncompressed := pubKey.SerializeUncompressed()

	for _, sig := range sigs {
		if bytes.Equal(sig.PubKey, compressed) ||
			bytes.Equal(sig.PubKey, uncompressed) {

			return sig
		}
	}

	return nil
}

// orderedMultisigSigs aligns the collected partial signatures with the
// ordered public key set of a multisig script. Keys without a signature are
// skipped and duplicate keys are only counted once.
func orderedMultisigSigs(script []byte,
	sigs []*psbt.PartialSig) (int, []*psbt.PartialSig, error) {

	required, pubKeys, err := extractMultisigInfo(script)
	if err != nil {
		return 0, nil, err
	}

	seenKeys := fn.NewSet[string]()
	ordered := make([]*psbt.PartialSig, 0, required)
	for _, pubKey := range pubKeys {
		keyID := hex.EncodeToString(pubKey.SerializeCompressed())
		if seenKeys.Contains(keyID) {
			continue
		}
		seenKeys.Add(keyID)

		sig := sigForKey(sigs, pubKey)
		if sig == nil {
			continue
		}

		ordered = append(ordered, sig)
	}

	return required, ordered, nil
}

// checkSufficiency decides whether the collected signatures satisfy the
// policy of the resolved script class: one signature for the single-sig
// classes, m distinct-key signatures for m-of-n multisig. Nonstandard
// scripts are never sufficient via the default path and need a custom
// strategy.
func checkSufficiency(si *scriptInfo, in *psbt.PInput) error {
	switch si.class {
	case txscript.PubKeyTy, txscript.PubKeyHashTy,
		txscript.WitnessV0PubKeyHashTy:

		if len(in.PartialSigs) < 1 {
			return ErrInsufficientSignatures
		}

		return nil

	case txscript.MultiSigTy:
		required, ordered, err := orderedMultisigSigs(
			si.script, in.PartialSigs,
		)
		if err != nil {
			return err
		}

		if len(ordered) < required {
			return fmt.Errorf("%w: have %d of %d required",
				ErrInsufficientSignatures, len(ordered),
				required)
		}

		return nil

	default:
		return fmt.Errorf("%w: %v", ErrUnsupportedScriptType, si.class)
	}
}

// buildUnlockItems produces the raw unlock stack for the effective script:
// the sequence of data items that either become witness elements or script
// sig pushes, not including any wrapping of redeem or witness scripts.
func buildUnlockItems(si *scriptInfo, in *psbt.PInput) ([][]byte, error) {
	switch si.class {
	// Pay-to-pubkey is unlocked by the signature alone.
	case txscript.PubKeyTy:
		return [][]byte{in.PartialSigs[0].Signature}, nil

	// The pubkey hash classes are unlocked by the signature followed by
	// the public key itself.
	case txscript.PubKeyHashTy, txscript.WitnessV0PubKeyHashTy:
		sig := in.PartialSigs[0]
		return [][]byte{sig.Signature, sig.PubKey}, nil

	// Multisig needs the zero placeholder consumed by the off-by-one bug
	// of OP_CHECKMULTISIG, followed by exactly the threshold number of
	// signatures in script key order.
	case txscript.MultiSigTy:
		required, ordered, err := orderedMultisigSigs(
			si.script, in.PartialSigs,
		)
		if err != nil {
			return nil, err
		}
		if len(ordered) > required {
			ordered = ordered[:required]
		}

		items := make([][]byte, 0, required+1)
		items = append(items, []byte{})
		for _, sig := range ordered {
			items = append(items, sig.Signature)
		}

		return items, nil

	default:
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedScriptType,
			si.class)
	}
}

// assembleFinalScripts wraps the raw unlock stack according to the input's
// script nesting and splits the result into the final script sig and final
// witness:
//
//	segwit:  witness carries the items (plus the witness script for p2wsh),
//	         the script sig only re-declares the redeem script for nested
//	         p2sh spends.
//	legacy:  the script sig carries the item pushes, followed by a push of
//	         the redeem script for p2sh spends.
func assembleFinalScripts(si *scriptInfo, in *psbt.PInput,
	items [][]byte) (*FinalScripts, error) {

	if si.segwit {
		witness := make(wire.TxWitness, 0, len(items)+1)
		witness = append(witness, items...)
		if si.isP2WSH {
			witness = append(witness, in.WitnessScript)
		}

		scripts := &FinalScripts{Witness: witness}
		if si.isP2SH {
			sigScript, err := txscript.NewScriptBuilder().
				AddData(in.RedeemScript).Script()
			if err != nil {
				return nil, err
			}

			scripts.SigScript = sigScript
		}

		return scripts, nil
	}

	builder := txscript.NewScriptBuilder()
	for _, item := range items {
		builder.AddData(item)
	}
	if si.isP2SH {
		builder.AddData(in.RedeemScript)
	}

	sigScript, err := builder.Script()
	if err != nil {
		return nil, err
	}

	return &FinalScripts{SigScript: sigScript}, nil
}

// finalizeStandardInput is the default finalization path for all
// non-taproot inputs: classify the effective script, verify signature
// sufficiency, build the raw unlock stack and wrap it into the final
// scripts.
func finalizeStandardInput(packet *psbt.Packet, idx int,
	utxo *wire.TxOut) (*FinalScripts, error) {

	in := &packet.Inputs[idx]

	si, err := resolveEffectiveScript(in, utxo)
	if err != nil {
		return nil, err
	}

	log.Tracef("Finalizing input %d as %v (p2sh=%v, p2wsh=%v, "+
		"segwit=%v)", idx, si.class, si.isP2SH, si.isP2WSH, si.segwit)

	if err := checkSufficiency(si, in); err != nil {
		return nil, err
	}

	items, err := buildUnlockItems(si, in)
	if err != nil {
		return nil, err
	}

	return assembleFinalScripts(si, in, items)
}
