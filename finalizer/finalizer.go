// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

package finalizer

import (
	"bytes"
	"context"
	"fmt"
	"sync"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/btcd/wire"
	"github.com/davecgh/go-spew/spew"
	"golang.org/x/sync/errgroup"
)

// FinalScripts bundles the finalization result for a single input: the final
// script sig and/or the final witness stack. Either field may be empty,
// depending on the script type being spent.
type FinalScripts struct {
	// SigScript is the final signature script to place into the input.
	SigScript []byte

	// Witness is the final witness stack to place into the input.
	Witness wire.TxWitness
}

// isEmpty returns true if the strategy produced neither a script sig nor a
// witness.
func (f *FinalScripts) isEmpty() bool {
	return f == nil || (len(f.SigScript) == 0 && len(f.Witness) == 0)
}

// Strategy produces the final scripts for the input at the given index of
// the packet. The packet passed in is an isolated working copy, so a
// strategy is free to inspect it but must communicate its result through the
// return value only. Custom strategies allow callers to finalize inputs
// locked by non-standard scripts the default strategy refuses.
type Strategy func(idx int, packet *psbt.Packet) (*FinalScripts, error)

// finalizeOpts bundles the per-call knobs of FinalizeInput.
type finalizeOpts struct {
	strategy Strategy
	leafHint *chainhash.Hash
}

// FinalizeOption customizes a single finalization call.
type FinalizeOption func(*finalizeOpts)

// WithStrategy overrides the default finalization strategy for this call.
func WithStrategy(strategy Strategy) FinalizeOption {
	return func(o *finalizeOpts) {
		o.strategy = strategy
	}
}

// WithTaprootLeafHint pins taproot script path finalization to the leaf
// script with the given BIP 341 leaf hash instead of deriving the target
// leaf from the collected signatures.
func WithTaprootLeafHint(leafHash chainhash.Hash) FinalizeOption {
	return func(o *finalizeOpts) {
		o.leafHint = &leafHash
	}
}

// Finalizer drives the finalization of a partially signed transaction. It
// owns a reference to the caller's packet and only ever mutates it through
// an atomic commit of a fully validated working copy, so the packet is
// always observed either untouched or in a structurally valid
// post-finalization state.
//
// A Finalizer is not safe for concurrent use by multiple goroutines;
// FinalizeAllParallel manages its internal concurrency itself.
type Finalizer struct {
	packet *psbt.Packet
}

// NewFinalizer creates a Finalizer for the given packet. The packet is
// sanity checked immediately and rejected if it violates the structural
// rules of BIP 174.
func NewFinalizer(packet *psbt.Packet) (*Finalizer, error) {
	if err := sanityCheck(packet); err != nil {
		return nil, err
	}

	return &Finalizer{packet: packet}, nil
}

// sanityCheck validates the whole-packet structural invariants: the unsigned
// transaction must really be unsigned, every input must be sane and the
// per-input and per-output metadata slices must match the transaction's
// dimensions.
func sanityCheck(packet *psbt.Packet) error {
	if packet == nil || packet.UnsignedTx == nil {
		return fmt.Errorf("%w: nil packet", ErrStructuralInvariant)
	}

	if err := psbt.VerifyInputOutputLen(packet, true, true); err != nil {
		return fmt.Errorf("%w: %v", ErrStructuralInvariant, err)
	}

	if err := packet.SanityCheck(); err != nil {
		return fmt.Errorf("%w: %v", ErrStructuralInvariant, err)
	}

	return nil
}

// copyPacket deep-copies a packet by serializing it and reparsing the
// result, yielding a fully independent clone.
func copyPacket(packet *psbt.Packet) (*psbt.Packet, error) {
	var buf bytes.Buffer
	if err := packet.Serialize(&buf); err != nil {
		return nil, fmt.Errorf("unable to serialize packet: %w", err)
	}

	packetCopy, err := psbt.NewFromRawBytes(&buf, false)
	if err != nil {
		return nil, fmt.Errorf("unable to reparse packet: %w", err)
	}

	return packetCopy, nil
}

// defaultStrategy returns the built-in finalization strategy: taproot
// inputs are finalized through the key or script path builder, everything
// else through the legacy/segwit v0 builder.
func defaultStrategy(leafHint *chainhash.Hash) Strategy {
	return func(idx int, packet *psbt.Packet) (*FinalScripts, error) {
		utxo, err := fetchInputUtxo(packet, idx)
		if err != nil {
			return nil, err
		}

		if isTaprootUtxo(utxo) {
			return finalizeTaprootInput(packet, idx, leafHint)
		}

		return finalizeStandardInput(packet, idx, utxo)
	}
}

// finalizeOnCopy runs one finalization attempt for the given input against
// an isolated copy of the packet and returns the mutated copy. The packet
// passed in is never modified, so a failure at any point leaves the caller's
// state untouched. A nil copy with a nil error signals an idempotent no-op
// on an already finalized input.
func finalizeOnCopy(packet *psbt.Packet, idx int,
	opts *finalizeOpts) (*psbt.Packet, error) {

	if idx < 0 || idx >= len(packet.Inputs) {
		return nil, fmt.Errorf("%w: input %d, packet has %d inputs",
			ErrIndexOutOfRange, idx, len(packet.Inputs))
	}

	// An already finalized input is terminal; finalizing it again is a
	// no-op success.
	if isFinalized(&packet.Inputs[idx]) {
		log.Debugf("Input %d already finalized, skipping", idx)
		return nil, nil
	}

	working, err := copyPacket(packet)
	if err != nil {
		return nil, err
	}
	in := &working.Inputs[idx]

	// Precondition checks, each surfacing a distinct failure kind.
	utxo, err := fetchInputUtxo(working, idx)
	if err != nil {
		return nil, err
	}
	if err := checkSighashType(in, isTaprootUtxo(utxo)); err != nil {
		return nil, err
	}

	strategy := opts.strategy
	if strategy == nil {
		strategy = defaultStrategy(opts.leafHint)
	}

	scripts, err := strategy(idx, working)
	if err != nil {
		return nil, err
	}

	// The attempt must have produced something, unless a final witness
	// already existed on the input before the strategy ran.
	if scripts.isEmpty() && len(in.FinalScriptWitness) == 0 {
		return nil, ErrFinalizationProducedNothing
	}

	if scripts != nil && len(scripts.SigScript) > 0 {
		in.FinalScriptSig = scripts.SigScript
	}
	if scripts != nil && len(scripts.Witness) > 0 {
		serialized, err := SerializeWitness(scripts.Witness)
		if err != nil {
			return nil, err
		}
		in.FinalScriptWitness = serialized
	}

	// Validate the staged result before it can be committed.
	if err := sanityCheck(working); err != nil {
		return nil, err
	}

	log.Tracef("Staged finalization for input %d: %v", idx,
		newLogClosure(func() string {
			return spew.Sdump(working.Inputs[idx])
		}))

	return working, nil
}

// commit atomically replaces the caller-visible packet contents with those
// of a fully validated working copy.
func (f *Finalizer) commit(working *psbt.Packet) {
	f.packet.UnsignedTx = working.UnsignedTx
	f.packet.Inputs = working.Inputs
	f.packet.Outputs = working.Outputs
	f.packet.Unknowns = working.Unknowns
}

// FinalizeInput finalizes the input at the given index, writing the final
// script sig and/or witness into the held packet. Finalizing an already
// finalized input is a no-op success. On failure the packet is left exactly
// as it was before the call.
func (f *Finalizer) FinalizeInput(idx int, opts ...FinalizeOption) error {
	o := &finalizeOpts{}
	for _, opt := range opts {
		opt(o)
	}

	working, err := finalizeOnCopy(f.packet, idx, o)
	if err != nil {
		return fmt.Errorf("input %d: %w", idx, err)
	}
	if working == nil {
		return nil
	}

	f.commit(working)

	return nil
}

// FinalizeAll finalizes every input of the held packet in ascending index
// order using the default strategy, skipping inputs that are already
// finalized.
//
// The whole call is atomic: all per-input results are staged on a working
// copy, the aggregate structural check runs against the fully mutated
// staging state, and the held packet is only replaced once everything has
// succeeded. The first input that cannot be finalized aborts the call with
// its index and cause, leaving the packet untouched.
func (f *Finalizer) FinalizeAll() error {
	staging, err := copyPacket(f.packet)
	if err != nil {
		return err
	}

	for idx := range staging.Inputs {
		next, err := finalizeOnCopy(staging, idx, &finalizeOpts{})
		if err != nil {
			return fmt.Errorf("input %d: %w", idx, err)
		}
		if next == nil {
			continue
		}

		staging = next
	}

	if err := sanityCheck(staging); err != nil {
		return err
	}

	f.commit(staging)

	log.Infof("Finalized all %d inputs", len(f.packet.Inputs))

	return nil
}

// FinalizeAllParallel behaves like FinalizeAll but fans the per-input work
// out to a bounded number of workers. Each worker operates on its own
// isolated copy taken from a read-only snapshot, commits into the shared
// staging copy under a mutex, and the aggregate structural check runs only
// after all commits have completed. The first failure cancels the remaining
// work via the group context and the held packet is left untouched.
func (f *Finalizer) FinalizeAllParallel(ctx context.Context,
	numWorkers int) error {

	if numWorkers < 1 {
		numWorkers = 1
	}

	// A read-only snapshot for the workers to copy from, and a separate
	// staging copy that collects the serialized commits.
	snapshot, err := copyPacket(f.packet)
	if err != nil {
		return err
	}
	staging, err := copyPacket(f.packet)
	if err != nil {
		return err
	}

	var commitMtx sync.Mutex

	g, gctx := errgroup.WithContext(ctx)
	g.SetLimit(numWorkers)

	for idx := range snapshot.Inputs {
		if isFinalized(&snapshot.Inputs[idx]) {
			continue
		}

		idx := idx
		g.Go(func() error {
			if err := gctx.Err(); err != nil {
				return err
			}

			working, err := finalizeOnCopy(
				snapshot, idx, &finalizeOpts{},
			)
			if err != nil {
				return fmt.Errorf("input %d: %w", idx, err)
			}
			if working == nil {
				return nil
			}

			commitMtx.Lock()
			defer commitMtx.Unlock()
			staging.Inputs[idx] = working.Inputs[idx]

			return nil
		})
	}

	if err := g.Wait(); err != nil {
		return err
	}

	// Aggregate structural check against the fully mutated staging state,
	// then a single atomic swap.
	if err := sanityCheck(staging); err != nil {
		return err
	}

	f.commit(staging)

	log.Infof("Finalized all %d inputs using %d workers",
		len(f.packet.Inputs), numWorkers)

	return nil
}

// Packet returns the packet held by the finalizer.
func (f *Finalizer) Packet() *psbt.Packet {
	return f.packet
}
