package pipeline

import (
	"fmt"
	"strings"

	"github.com/cuwacunu/tsi/internal/errs"
)

// DecodeObservationSplit decodes the sources and channels halves of an
// observation instruction independently and merges them. All four inputs
// are required; there is no legacy single-pipeline fallback.
func DecodeObservationSplit(sourceGrammar, sourceInstruction, channelGrammar, channelInstruction string) (ObservationInstruction, error) {
	if isBlank(sourceGrammar) || isBlank(sourceInstruction) || isBlank(channelGrammar) || isBlank(channelInstruction) {
		return ObservationInstruction{}, fmt.Errorf(
			"pipeline: split observation DSL requires a source grammar, source instruction, channel grammar, and channel instruction: %w",
			errs.ErrSemantic)
	}

	sourcesPipeline, err := NewObservationSourcesPipeline(sourceGrammar)
	if err != nil {
		return ObservationInstruction{}, err
	}
	sources, err := sourcesPipeline.Decode(sourceInstruction)
	if err != nil {
		return ObservationInstruction{}, err
	}

	channelsPipeline, err := NewObservationChannelsPipeline(channelGrammar)
	if err != nil {
		return ObservationInstruction{}, err
	}
	channels, err := channelsPipeline.Decode(channelInstruction)
	if err != nil {
		return ObservationInstruction{}, err
	}

	return MergeObservation(sources, channels), nil
}

func isBlank(s string) bool { return strings.TrimSpace(s) == "" }
