package main

import (
	"encoding/json"
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iotaledger/raam.go/codec"
	"github.com/iotaledger/raam.go/ledger"
	"github.com/iotaledger/raam.go/merkle"
	"github.com/iotaledger/raam.go/trinary"
)

// newDecodeCommand decodes one already-fetched bundle from a local
// JSON file (a []ledger.Record dump), without needing a live ledger
// connection — the ledger and push-stream clients are external
// collaborators this module only consumes via interface, never
// implements, so an operator tool that needs to actually reach a
// ledger must supply its own Client and is better served by importing
// package raamreader directly than by this CLI.
func newDecodeCommand(log *logrus.Logger) *cobra.Command {
	var (
		recordsPath     string
		channelRoot     string
		channelPassword string
		index           uint64
		public          bool
	)

	cmd := &cobra.Command{
		Use:   "decode",
		Short: "Decode one bundle's records, either in public mode or against a known channel root",
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := os.ReadFile(recordsPath)
			if err != nil {
				return errors.Wrap(err, "decode: reading records file")
			}
			var records []ledger.Record
			if err := json.Unmarshal(raw, &records); err != nil {
				return errors.Wrap(err, "decode: parsing records JSON")
			}
			if len(records) == 0 {
				return errors.New("decode: no records in file")
			}
			bundle := ledger.Bundle(records)

			var key trinary.Trits
			var rootTrits trinary.Trits
			if public {
				key, err = codec.PublicKey(records[0].Address)
				if err != nil {
					return errors.Wrap(err, "decode: deriving public key")
				}
			} else {
				if channelRoot == "" {
					return errors.New("decode: --channel-root is required unless --public is set")
				}
				rootTrits, err = trinary.TrytesToTrits(trinary.Trytes(channelRoot))
				if err != nil {
					return errors.Wrap(err, "decode: invalid channel root")
				}
				key, err = codec.DeriveKey(rootTrits, trinary.Trytes(channelPassword), "", index)
				if err != nil {
					return errors.Wrap(err, "decode: deriving key")
				}
			}

			parsed, err := codec.Parse(bundle, key)
			if err != nil {
				return errors.Wrap(err, "decode: parsing bundle")
			}

			if public {
				rootTrits, err = merkle.ReconstructRoot(parsed.VerifyingKey, parsed.Header.Index, parsed.AuthPath, parsed.Header.Security)
				if err != nil {
					return errors.Wrap(err, "decode: reconstructing channel root")
				}
				root, err := trinary.TritsToTrytes(rootTrits)
				if err != nil {
					return err
				}
				log.WithField("channelRoot", root).Info("decode: recovered channel root")
			}

			log.WithFields(logrus.Fields{
				"index":    parsed.Header.Index,
				"height":   parsed.Header.Height,
				"security": parsed.Header.Security,
				"message":  string(parsed.Message),
			}).Info("decode: message decoded")
			return nil
		},
	}

	cmd.Flags().StringVar(&recordsPath, "records", "", "path to a JSON-encoded []ledger.Record bundle dump")
	cmd.Flags().StringVar(&channelRoot, "channel-root", "", "channel root in trytes, required unless --public")
	cmd.Flags().StringVar(&channelPassword, "channel-password", "", "channel password in trytes, if the channel has one")
	cmd.Flags().Uint64Var(&index, "index", 0, "message index the bundle's address was derived from, required unless --public")
	cmd.Flags().BoolVar(&public, "public", false, "decode a public-mode record using only its address")
	_ = cmd.MarkFlagRequired("records")

	return cmd
}
