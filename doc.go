// Package hpsearch searches for training hyperparameters, mainly the learning
// rate, of a fixed-architecture model. It repeatedly launches training runs
// through a Runner, reads back their loss traces and narrows the search.
//
// # Strategies
//
// The package provides three strategies:
//
//   - BinarySearch: finds the largest learning rate that does not diverge,
//     bisecting [Low, High] on the verdict of the divergence detector
//   - SuccessiveHalving: finds the learning rate minimizing final validation
//     loss, testing FanOut interior points per round and memoizing every
//     evaluation by exact learning rate
//   - Hyperband: allocates resource across brackets of randomly sampled
//     learning rates, keeping the best 1/Eta of each bracket per rung
//
// # Divergence
//
// A run diverged when any loss is NaN or infinite, when its final training
// loss exceeds its first by more than LossIncreaseRatio, or when its
// validation loss ever goes up:
//
//	diverged := Classify(trace.TrainLosses(), trace.ValLosses(), 1.0)
//
// Runner failures and malformed traces are never silently dropped. They
// become OutcomeFailed results which BinarySearch treats as diverged and
// SuccessiveHalving ranks as +Inf loss.
//
// # Usage
//
//	config := DefaultBinarySearchConfig()
//	config.Eps = 0.01
//
//	result, err := BinarySearch(ctx, runner, config)
//	if err != nil {
//	    return err
//	}
//
//	fmt.Println(result.BestLearningRate)
//
// # Execution model
//
// Evaluations are strictly sequential: a strategy never issues a Run before
// the previous one returned. Each call owns its SearchState, so independent
// searches may run side by side in one process, but a single search is not
// meant to be shared across goroutines.
//
// Every evaluation is logged and sent to the optional ProgressChan before the
// search state is updated with it, so a partial search stays auditable.
package hpsearch
