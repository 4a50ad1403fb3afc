package cli

import (
	"math/rand"
	"time"

	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thalesfsp/hpsearch"
)

func newHyperbandCmd(opts *options) *cobra.Command {
	defaults := hpsearch.DefaultHyperbandConfig()

	var (
		maxResource  float64
		eta          int
		lrMin, lrMax float64
		seed         int64
	)

	cmd := &cobra.Command{
		Use:   "hyperband",
		Short: "Allocate training budget across Hyperband brackets of random learning rates",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			override(cmd, "max-resource", &cfg.Hyperband.MaxResource, maxResource)
			override(cmd, "eta", &cfg.Hyperband.Eta, eta)
			override(cmd, "lr-min", &cfg.Hyperband.LearningRate.Min, lrMin)
			override(cmd, "lr-max", &cfg.Hyperband.LearningRate.Max, lrMax)
			override(cmd, "seed", &cfg.Hyperband.Seed, seed)

			if cfg.Hyperband.Seed == 0 {
				cfg.Hyperband.Seed = time.Now().UnixNano()
			}

			s := newSession(cfg, "hyperband")

			search := hpsearch.DefaultHyperbandConfig()
			search.R = cfg.Hyperband.MaxResource
			search.Eta = cfg.Hyperband.Eta
			search.LearningRate = cfg.Hyperband.LearningRate
			search.Architecture = cfg.Architecture
			search.RandomState = rand.New(rand.NewSource(cfg.Hyperband.Seed))
			search.Artifacts = s.sink

			if err := search.Validate(); err != nil {
				return err
			}

			brackets, err := hpsearch.Brackets(search.R, search.Eta)
			if err != nil {
				return err
			}

			for i, b := range brackets {
				logrus.Infof("Bracket %d: s=%d, %d configs, %v initial resource", i, b.S, b.N, b.R)
			}

			ctx, cancel := signalContext()
			defer cancel()

			progress, stop := s.watch()
			search.ProgressChan = progress

			logrus.Infof("Hyperband with R=%v, eta=%d, seed %d", search.R, search.Eta, cfg.Hyperband.Seed)

			results, err := hpsearch.RunHyperband(ctx, brackets, hpsearch.LossScore(s.runner), search)
			stop()

			s.report.SetBrackets(brackets, results)

			if err != nil {
				s.writeReport()

				return err
			}

			for i := range brackets {
				for c, score := range results[i] {
					logrus.Infof("Bracket %d winner: %s with score %v", i, c, score)
				}
			}

			s.finish(ctx)

			return nil
		},
	}

	cmd.Flags().Float64Var(&maxResource, "max-resource", defaults.R, "Maximum resource per configuration (R)")
	cmd.Flags().IntVar(&eta, "eta", defaults.Eta, "Downsampling rate")
	cmd.Flags().Float64Var(&lrMin, "lr-min", defaults.LearningRate.Min, "Lower bound of the learning rate prior")
	cmd.Flags().Float64Var(&lrMax, "lr-max", defaults.LearningRate.Max, "Upper bound of the learning rate prior")
	cmd.Flags().Int64Var(&seed, "seed", 0, "Seed of the learning rate sampler; 0 picks one from the clock")

	return cmd
}
