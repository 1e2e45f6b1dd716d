package metering

// Estimator converts request text into a token cost. Implementations are
// pure and approximate: exact per-model tokenizer fidelity is not a goal,
// and the chat pipeline pre-authorizes on the estimate without a post-hoc
// true-up.
type Estimator interface {
	// Estimate returns a token count >= 0 for the given text and model.
	Estimate(text, model string) int64
}

// charsPerToken is the rough English-text ratio used by the heuristic.
const charsPerToken = 4

// requestOverhead covers role markers and message framing.
const requestOverhead = 7

// HeuristicEstimator estimates ~4 characters per token plus a fixed request
// overhead, regardless of model.
type HeuristicEstimator struct{}

var _ Estimator = HeuristicEstimator{}

// Estimate returns the heuristic token count for text. The model id is
// accepted for interface compatibility and ignored.
func (HeuristicEstimator) Estimate(text, _ string) int64 {
	if text == "" {
		return 0
	}
	return int64(len(text))/charsPerToken + requestOverhead
}
