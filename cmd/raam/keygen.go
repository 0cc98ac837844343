package main

import (
	"os"

	"github.com/pkg/errors"
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/iotaledger/raam.go/config"
	"github.com/iotaledger/raam.go/keyfile"
	"github.com/iotaledger/raam.go/merkle"
	"github.com/iotaledger/raam.go/trinary"
)

func newKeygenCommand(log *logrus.Logger) *cobra.Command {
	var (
		configName  string
		configPaths []string
		seed        string
		height      uint8
		security    uint8
		out         string
	)

	cmd := &cobra.Command{
		Use:   "keygen",
		Short: "Build a channel's Merkle tree and write its key file",
		RunE: func(cmd *cobra.Command, args []string) error {
			if seed == "" {
				ch, err := config.Load(configName, configPaths)
				if err != nil {
					return errors.Wrap(err, "loading config")
				}
				seed = ch.SeedTrytes
				if height == 0 {
					height = ch.Height
				}
				if security == 0 {
					security = ch.Security
				}
				if out == "" {
					out = ch.KeyFile
				}
			}
			if seed == "" {
				return errors.New("keygen: seed must be supplied via --seed or config")
			}
			if out == "" {
				return errors.New("keygen: output path must be supplied via --out or config")
			}

			seedTrits, err := trinary.TrytesToTrits(trinary.Trytes(seed))
			if err != nil {
				return errors.Wrap(err, "keygen: invalid seed")
			}

			var leafCount int
			tree, err := merkle.Build(seedTrits, height, security, 0, &merkle.BuildOptions{
				OnProgress: func(r merkle.ProgressReport) {
					leafCount += r.NewLeaves
					log.WithField("leaves", leafCount).Debug("keygen: progress")
				},
			})
			if err != nil {
				return errors.Wrap(err, "keygen: building tree")
			}

			f, err := os.Create(out)
			if err != nil {
				return errors.Wrap(err, "keygen: creating output file")
			}
			defer f.Close()

			if err := keyfile.Write(f, tree); err != nil {
				return errors.Wrap(err, "keygen: writing key file")
			}

			root, err := trinary.TritsToTrytes(tree.Root())
			if err != nil {
				return errors.Wrap(err, "keygen: encoding channel root")
			}
			log.WithField("channelRoot", root).Info("keygen: channel tree written")
			return nil
		},
	}

	cmd.Flags().StringVar(&configName, "config", "default", "config file name (without extension)")
	cmd.Flags().StringSliceVar(&configPaths, "config-path", []string{".", "config"}, "config file search paths")
	cmd.Flags().StringVar(&seed, "seed", "", "channel seed, in trytes")
	cmd.Flags().Uint8Var(&height, "height", 0, "channel tree height")
	cmd.Flags().Uint8Var(&security, "security", 0, "OTS security level (1-4)")
	cmd.Flags().StringVar(&out, "out", "", "key-file output path")

	return cmd
}
