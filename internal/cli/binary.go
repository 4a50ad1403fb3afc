package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thalesfsp/hpsearch"
)

func newBinaryCmd(opts *options) *cobra.Command {
	defaults := hpsearch.DefaultBinarySearchConfig()

	var (
		low, high, eps, ratio float64
		iterations            int
	)

	cmd := &cobra.Command{
		Use:   "binary",
		Short: "Find the largest learning rate that does not diverge",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			override(cmd, "low", &cfg.Binary.Low, low)
			override(cmd, "high", &cfg.Binary.High, high)
			override(cmd, "eps", &cfg.Binary.Eps, eps)
			override(cmd, "loss-increase-ratio", &cfg.Binary.LossIncreaseRatio, ratio)
			override(cmd, "iters", &cfg.Binary.Iterations, iterations)

			s := newSession(cfg, "binary")

			search := hpsearch.DefaultBinarySearchConfig()
			search.Low = cfg.Binary.Low
			search.High = cfg.Binary.High
			search.Eps = cfg.Binary.Eps
			search.LossIncreaseRatio = cfg.Binary.LossIncreaseRatio
			search.Resource = float64(cfg.Binary.Iterations)
			search.Architecture = cfg.Architecture
			search.Artifacts = s.sink

			s.passIterationsThrough("binary")

			ctx, cancel := signalContext()
			defer cancel()

			progress, stop := s.watch()
			search.ProgressChan = progress

			logrus.Infof("Binary search over [%v, %v], eps=%v, %d iterations per run",
				search.Low, search.High, search.Eps, cfg.Binary.Iterations)

			result, err := hpsearch.BinarySearch(ctx, s.runner, search)
			stop()

			s.report.SetResult(result)

			if err != nil {
				s.writeReport()

				return err
			}

			s.finish(ctx)

			return nil
		},
	}

	cmd.Flags().Float64Var(&low, "low", defaults.Low, "Lower learning rate bound, assumed not to diverge")
	cmd.Flags().Float64Var(&high, "high", defaults.High, "Upper learning rate bound")
	cmd.Flags().Float64Var(&eps, "eps", defaults.Eps, "Search precision")
	cmd.Flags().Float64Var(&ratio, "loss-increase-ratio", defaults.LossIncreaseRatio, "Final/initial training loss ratio above which a run diverged")
	cmd.Flags().IntVar(&iterations, "iters", int(defaults.Resource), "Training iterations per run")

	return cmd
}
