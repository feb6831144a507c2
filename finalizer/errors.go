// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package finalizer

import "errors"

var (
	// ErrIndexOutOfRange is returned when an input index does not exist
	// in the packet being finalized.
	ErrIndexOutOfRange = errors.New("input index out of range")

	// ErrMissingSighashType is returned when a non-taproot input carries
	// no explicit sighash type. Taproot inputs are exempt, as the zero
	// value means SIGHASH_DEFAULT there.
	ErrMissingSighashType = errors.New("input is missing sighash type")

	// ErrMissingUtxo is returned when neither a witness UTXO nor a
	// non-witness UTXO is available for the input being finalized.
	ErrMissingUtxo = errors.New("input is missing utxo information")

	// ErrNoScriptFound is returned when no spending script can be
	// resolved for an input, meaning there is no witness script, no
	// redeem script and no pkScript on the referenced UTXO.
	ErrNoScriptFound = errors.New("no script found for input")

	// ErrUnsupportedScriptType is returned when the resolved spending
	// script does not match any of the standard templates the default
	// strategy knows how to finalize. Such inputs require a custom
	// finalization strategy.
	ErrUnsupportedScriptType = errors.New("unsupported script type")

	// ErrInsufficientSignatures is returned when the collected partial
	// signatures do not satisfy the spending script's policy, e.g. fewer
	// than m distinct-key signatures for an m-of-n multisig.
	ErrInsufficientSignatures = errors.New(
		"insufficient signatures to finalize input",
	)

	// ErrMissingWitnessUtxo is returned when a taproot input references
	// its spent output only through a full previous transaction. Taproot
	// finalization requires the direct witness UTXO.
	ErrMissingWitnessUtxo = errors.New(
		"taproot input requires witness utxo",
	)

	// ErrMissingTaprootLeaf is returned when an explicitly requested
	// taproot leaf hash matches none of the input's leaf scripts.
	ErrMissingTaprootLeaf = errors.New("no matching taproot leaf script")

	// ErrAmbiguousTaprootLeaf is returned when taproot script path
	// finalization cannot identify exactly one eligible leaf script and
	// no explicit leaf hash was given. Guessing among multiple plausible
	// leaves could construct a spend for the wrong script path, so this
	// is always an error.
	ErrAmbiguousTaprootLeaf = errors.New(
		"cannot determine taproot leaf script to finalize",
	)

	// ErrSignatureOrdering is returned when the taproot script spend
	// signatures cannot be aligned with the signature checks of the
	// selected leaf script, either because a signature's key does not
	// appear in the leaf or because too few signatures remain after
	// alignment.
	ErrSignatureOrdering = errors.New(
		"cannot order signatures for taproot leaf script",
	)

	// ErrFinalizationProducedNothing is returned when a finalization
	// strategy returns neither a script sig nor a witness and the input
	// carries no pre-existing final witness either.
	ErrFinalizationProducedNothing = errors.New(
		"finalization produced no script sig or witness",
	)

	// ErrStructuralInvariant is returned when the packet fails its
	// structural sanity check, either on construction or after a
	// finalization attempt.
	ErrStructuralInvariant = errors.New(
		"packet violates structural invariants",
	)
)
