// Copyright (c) 2025 The btcsuite developers
// Use of this source code is governed by an ISC
// license that can be found in the LICENSE file.

// finalizepsbt is a small command line tool around the finalizer package.
// It reads a base64 PSBT whose inputs carry their collected signatures,
// finalizes it and prints the extracted network-serialized transaction as
// hex.
package main

import (
	"bytes"
	"context"
	"encoding/hex"
	"fmt"
	"os"
	"strings"

	"github.com/btcsuite/btcd/btcutil/psbt"
	"github.com/btcsuite/btcd/chaincfg/chainhash"
	"github.com/btcsuite/psbtfinalizer/finalizer"
	flags "github.com/jessevdk/go-flags"
)

// config describes the command line options of the tool.
type config struct {
	Psbt string `short:"p" long:"psbt" description:"Base64 encoded PSBT, or path to a file containing one"`

	Input int `short:"i" long:"input" default:"-1" description:"Finalize only the input with this index instead of all inputs"`

	LeafHash string `long:"leafhash" description:"Hex encoded taproot leaf hash selecting the script path leaf to finalize (requires --input)"`

	Workers int `long:"workers" default:"0" description:"Number of parallel finalization workers; 0 finalizes sequentially"`

	Extract bool `short:"x" long:"extract" description:"Extract and print the final network serialized transaction instead of the finalized PSBT"`

	DebugLevel string `short:"d" long:"debuglevel" default:"info" description:"Logging level {trace, debug, info, warn, error, critical}"`

	LogFile string `long:"logfile" description:"Also write logs to this file, rotated at 10 MiB"`
}

// loadPacket parses the PSBT argument, which may be the base64 blob itself
// or the path of a file holding it.
func loadPacket(arg string) (*psbt.Packet, error) {
	raw := arg
	if contents, err := os.ReadFile(arg); err == nil {
		raw = string(contents)
	}
	raw = strings.TrimSpace(raw)

	packet, err := psbt.NewFromRawBytes(strings.NewReader(raw), true)
	if err != nil {
		return nil, fmt.Errorf("unable to parse PSBT: %w", err)
	}

	return packet, nil
}

// run executes the tool and returns the process exit error, if any.
func run(cfg *config) error {
	cleanup, err := setUpLogging(cfg.DebugLevel, cfg.LogFile)
	if err != nil {
		return err
	}
	defer cleanup()

	if cfg.Psbt == "" {
		return fmt.Errorf("no PSBT given, use --psbt")
	}

	packet, err := loadPacket(cfg.Psbt)
	if err != nil {
		return err
	}

	f, err := finalizer.NewFinalizer(packet)
	if err != nil {
		return err
	}

	switch {
	case cfg.Input >= 0:
		var opts []finalizer.FinalizeOption
		if cfg.LeafHash != "" {
			rawHash, err := hex.DecodeString(cfg.LeafHash)
			if err != nil {
				return fmt.Errorf("invalid leaf hash: %w", err)
			}
			leafHash, err := chainhash.NewHash(rawHash)
			if err != nil {
				return fmt.Errorf("invalid leaf hash: %w", err)
			}

			opts = append(opts, finalizer.WithTaprootLeafHint(
				*leafHash,
			))
		}

		err = f.FinalizeInput(cfg.Input, opts...)

	case cfg.Workers > 0:
		err = f.FinalizeAllParallel(context.Background(), cfg.Workers)

	default:
		err = f.FinalizeAll()
	}
	if err != nil {
		return err
	}

	if !cfg.Extract {
		b64, err := packet.B64Encode()
		if err != nil {
			return err
		}

		fmt.Println(b64)

		return nil
	}

	finalTx, err := psbt.Extract(packet)
	if err != nil {
		return err
	}

	var buf bytes.Buffer
	if err := finalTx.Serialize(&buf); err != nil {
		return err
	}

	fmt.Println(hex.EncodeToString(buf.Bytes()))

	return nil
}

func main() {
	cfg := &config{}
	parser := flags.NewParser(cfg, flags.Default)
	if _, err := parser.Parse(); err != nil {
		os.Exit(1)
	}

	if err := run(cfg); err != nil {
		fmt.Fprintf(os.Stderr, "finalizepsbt: %v\n", err)
		os.Exit(1)
	}
}
