// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// Package finalizer turns partially signed bitcoin transactions into
// network-ready ones. Given a psbt.Packet whose inputs already carry their
// collected signatures, it classifies each input's locking script, verifies
// that the collected signatures satisfy the script's policy and assembles
// the consensus-valid final script sig and witness.
//
// The package supports pay-to-pubkey, pay-to-pubkey-hash, witness
// pubkey-hash and m-of-n multisig inputs, including their p2sh and p2wsh
// nestings, as well as taproot key path and script path spends. The engine
// never produces signatures and never verifies them cryptographically; it
// trusts the collected material and only decides whether enough of it exists
// and how it must be arranged on the wire.
//
// Every finalization attempt follows a copy-then-commit protocol: the work
// happens on an isolated deep copy of the packet, the copy is structurally
// validated, and only then is the caller-visible packet replaced in one
// step. A failed attempt therefore never leaves partial mutation behind.
//
// Callers with non-standard scripts can inject their own finalization
// Strategy per input instead of the built-in one.
package finalizer
