// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package finalizer

import (
	"crypto/sha256"
	"testing"

	"github.com/btcsuite/btcd/btcec/v2"
	"github.com/btcsuite/btcd/btcec/v2/ecdsa"
	"github.com/btcsuite/btcd/btcec/v2/schnorr"
	"github.com/btcsuite/btcd/btcutil"
	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/txscript"
	"github.com/btcsuite/btcd/wire"
	"github.com/stretchr/testify/require"
)

// testUtxoValue is the value of the spent output in all test packets.
const testUtxoValue = 100_000

// testKey derives a deterministic private key from a single seed byte.
func testKey(seed byte) *btcec.PrivateKey {
	var raw [32]byte
	for i := range raw {
		raw[i] = seed
	}
	priv, _ := btcec.PrivKeyFromBytes(raw[:])

	return priv
}

// testDigest is the digest all test signatures commit to. The finalizer
// never verifies signatures against a sighash, so any digest works.
var testDigest = chainhash.HashB([]byte("finalizer test digest"))

// ecdsaSig produces a DER-encoded ECDSA signature with the given sighash
// flag appended, the form partial signatures are collected in.
func ecdsaSig(priv *btcec.PrivateKey, hashType txscript.SigHashType) []byte {
	sig := ecdsa.Sign(priv, testDigest)

	return append(sig.Serialize(), byte(hashType))
}

// schnorrSig produces a raw 64 byte BIP 340 signature.
func schnorrSig(t *testing.T, priv *btcec.PrivateKey) []byte {
	t.Helper()

	sig, err := schnorr.Sign(priv, testDigest)
	require.NoError(t, err)

	return sig.Serialize()
}

// xOnlyKey returns the 32 byte x-only serialization of the key's public
// key.
func xOnlyKey(priv *btcec.PrivateKey) []byte {
	return schnorr.SerializePubKey(priv.PubKey())
}

// partialSig pairs a compressed public key with an ECDSA signature.
func partialSig(priv *btcec.PrivateKey,
	hashType txscript.SigHashType) *psbt.PartialSig {

	return &psbt.PartialSig{
		PubKey:    priv.PubKey().SerializeCompressed(),
		Signature: ecdsaSig(priv, hashType),
	}
}

// p2wpkhScript builds a v0 witness pubkey hash output script for the key.
func p2wpkhScript(t *testing.T, priv *btcec.PrivateKey) []byte {
	t.Helper()

	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(btcutil.Hash160(priv.PubKey().SerializeCompressed())).
		Script()
	require.NoError(t, err)

	return script
}

// p2pkhScript builds a legacy pubkey hash output script for the key.
func p2pkhScript(t *testing.T, priv *btcec.PrivateKey) []byte {
	t.Helper()

	addr, err := btcutil.NewAddressPubKeyHash(
		btcutil.Hash160(priv.PubKey().SerializeCompressed()),
		&chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return script
}

// multisigScript builds an m-of-n multisig script over the given keys, in
// the given key order.
func multisigScript(t *testing.T, m int,
	privs ...*btcec.PrivateKey) []byte {

	t.Helper()

	addrs := make([]*btcutil.AddressPubKey, 0, len(privs))
	for _, priv := range privs {
		addr, err := btcutil.NewAddressPubKey(
			priv.PubKey().SerializeCompressed(),
			&chaincfg.MainNetParams,
		)
		require.NoError(t, err)

		addrs = append(addrs, addr)
	}

	script, err := txscript.MultiSigScript(addrs, m)
	require.NoError(t, err)

	return script
}

// p2shScript wraps a redeem script into a pay-to-script-hash output script.
func p2shScript(t *testing.T, redeem []byte) []byte {
	t.Helper()

	addr, err := btcutil.NewAddressScriptHash(
		redeem, &chaincfg.MainNetParams,
	)
	require.NoError(t, err)

	script, err := txscript.PayToAddrScript(addr)
	require.NoError(t, err)

	return script
}

// p2wshScript wraps a witness script into a v0 witness script hash output
// script.
func p2wshScript(t *testing.T, witnessScript []byte) []byte {
	t.Helper()

	scriptHash := sha256.Sum256(witnessScript)
	script, err := txscript.NewScriptBuilder().
		AddOp(txscript.OP_0).
		AddData(scriptHash[:]).
		Script()
	require.NoError(t, err)

	return script
}

// p2trScript builds a taproot output script paying to the key directly.
// The finalizer never verifies the taproot commitment, so the key does not
// need to be tweaked.
func p2trScript(t *testing.T, priv *btcec.PrivateKey) []byte {
	t.Helper()

	script, err := txscript.PayToTaprootScript(priv.PubKey())
	require.NoError(t, err)

	return script
}

// makePacket builds a minimal packet with one input per given utxo script
// and a single spend output. Each input is decorated with a witness UTXO
// carrying the corresponding script.
func makePacket(t *testing.T, utxoScripts ...[]byte) *psbt.Packet {
	t.Helper()

	tx := wire.NewMsgTx(2)
	for i := range utxoScripts {
		prevOut := wire.OutPoint{
			Hash:  chainhash.Hash{0x01},
			Index: uint32(i),
		}
		tx.AddTxIn(wire.NewTxIn(&prevOut, nil, nil))
	}

	spendTo := testKey(0x7f)
	tx.AddTxOut(wire.NewTxOut(
		testUtxoValue-1_000, p2wpkhScript(t, spendTo),
	))

	packet, err := psbt.NewFromUnsignedTx(tx)
	require.NoError(t, err)

	for i, script := range utxoScripts {
		packet.Inputs[i].WitnessUtxo = wire.NewTxOut(
			testUtxoValue, script,
		)
	}

	return packet
}

// serializePacket returns the full serialization of the packet so tests can
// assert byte-identical container state.
func serializePacket(t *testing.T, packet *psbt.Packet) []byte {
	t.Helper()

	b64, err := packet.B64Encode()
	require.NoError(t, err)

	return []byte(b64)
}

// tapLeaf builds a candidate taproot leaf script entry, with a minimal but
// well-formed control block committing to the given internal key.
func tapLeaf(t *testing.T, internal *btcec.PrivateKey,
	script []byte) *psbt.TaprootTapLeafScript {

	t.Helper()

	controlBlock := append(
		[]byte{byte(txscript.BaseLeafVersion)}, xOnlyKey(internal)...,
	)

	return &psbt.TaprootTapLeafScript{
		ControlBlock: controlBlock,
		Script:       script,
		LeafVersion:  txscript.BaseLeafVersion,
	}
}

// tapScriptSpendSig builds a script spend signature entry for the given key
// and leaf hash.
func tapScriptSpendSig(t *testing.T, priv *btcec.PrivateKey,
	leafHash chainhash.Hash) *psbt.TaprootScriptSpendSig {

	t.Helper()

	return &psbt.TaprootScriptSpendSig{
		XOnlyPubKey: xOnlyKey(priv),
		LeafHash:    leafHash[:],
		Signature:   schnorrSig(t, priv),
		SigHash:     txscript.SigHashDefault,
	}
}
