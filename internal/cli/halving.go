package cli

import (
	"github.com/sirupsen/logrus"
	"github.com/spf13/cobra"

	"github.com/thalesfsp/hpsearch"
)

func newHalvingCmd(opts *options) *cobra.Command {
	defaults := hpsearch.DefaultHalvingConfig()

	var (
		low, high, eps     float64
		fanOut, iterations int
	)

	cmd := &cobra.Command{
		Use:   "halving",
		Short: "Find the learning rate minimizing validation loss by interval narrowing",
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := opts.load(cmd)
			if err != nil {
				return err
			}

			override(cmd, "low", &cfg.Halving.Low, low)
			override(cmd, "high", &cfg.Halving.High, high)
			override(cmd, "eps", &cfg.Halving.Eps, eps)
			override(cmd, "fan-out", &cfg.Halving.FanOut, fanOut)
			override(cmd, "iters", &cfg.Halving.Iterations, iterations)

			s := newSession(cfg, "halving")

			search := hpsearch.DefaultHalvingConfig()
			search.Low = cfg.Halving.Low
			search.High = cfg.Halving.High
			search.Eps = cfg.Halving.Eps
			search.FanOut = cfg.Halving.FanOut
			search.Resource = float64(cfg.Halving.Iterations)
			search.Architecture = cfg.Architecture
			search.Artifacts = s.sink

			s.passIterationsThrough("halving")

			ctx, cancel := signalContext()
			defer cancel()

			progress, stop := s.watch()
			search.ProgressChan = progress

			logrus.Infof("Successive halving over [%v, %v], eps=%v, fan-out %d",
				search.Low, search.High, search.Eps, search.FanOut)

			result, err := hpsearch.SuccessiveHalving(ctx, s.runner, search)
			stop()

			s.report.SetResult(result)

			if err != nil {
				s.writeReport()

				return err
			}

			if best := result.State.Best; best != nil {
				logrus.Infof("Best evaluated learning rate: %v", best.LearningRate)
			}

			s.finish(ctx)

			return nil
		},
	}

	cmd.Flags().Float64Var(&low, "low", defaults.Low, "Lower learning rate bound")
	cmd.Flags().Float64Var(&high, "high", defaults.High, "Upper learning rate bound")
	cmd.Flags().Float64Var(&eps, "eps", defaults.Eps, "Search precision")
	cmd.Flags().IntVar(&fanOut, "fan-out", defaults.FanOut, "Interior points evaluated per round")
	cmd.Flags().IntVar(&iterations, "iters", int(defaults.Resource), "Training iterations per run")

	return cmd
}
