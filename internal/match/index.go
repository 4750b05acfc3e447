// Package match implements duplicate detection over scene-cut
// timestamp sets. Two videos are considered duplicates or fragments of
// each other when enough of their cut timestamps coincide.
package match

import (
	"context"
	"log/slog"
	"math"

	"github.com/tvidz/inspector/internal/video"
)

const (
	// DefaultMinMatch is the number of coinciding cut timestamps
	// required to confirm a duplicate. Raising it lowers the
	// false-positive rate at the cost of missing short fragments.
	DefaultMinMatch = 3

	// DefaultEpsilon is the recommended tolerance window in seconds
	// when tolerance-based comparison is enabled. The index compares
	// exactly (epsilon 0) unless configured otherwise: tolerance
	// matching inflates false positives at small MinMatch.
	DefaultEpsilon = 0.1
)

// CutSetSource lists every stored video's cut set. Implemented by the
// video repository.
type CutSetSource interface {
	ListCutSets(ctx context.Context) ([]video.CutSet, error)
}

// Match reports one stored video whose cut set overlaps the candidate
// at or above the threshold.
type Match struct {
	VideoID  int64
	Filename string
	Count    int
}

// Index probes candidate cut sets against the stored corpus. Probing is
// read-only; recording duplicate links is the caller's job. The scan is
// linear across stored rows, which is fine at the corpus sizes this
// service targets.
type Index struct {
	source   CutSetSource
	minMatch int
	epsilon  float64
	logger   *slog.Logger
}

func NewIndex(source CutSetSource, minMatch int, epsilon float64, logger *slog.Logger) *Index {
	if minMatch < 1 {
		minMatch = DefaultMinMatch
	}
	return &Index{source: source, minMatch: minMatch, epsilon: epsilon, logger: logger}
}

func (ix *Index) MinMatch() int {
	return ix.minMatch
}

// Probe returns every stored video sharing at least MinMatch cut
// timestamps with the candidate. It may be called repeatedly with a
// growing prefix of the candidate's cuts during an in-flight analysis.
// Neither side is assumed sorted or free of duplicates.
func (ix *Index) Probe(ctx context.Context, candidate []float64) ([]Match, error) {
	if len(candidate) < ix.minMatch {
		return nil, nil
	}

	sets, err := ix.source.ListCutSets(ctx)
	if err != nil {
		return nil, err
	}

	candidateSet := make(map[float64]struct{}, len(candidate))
	for _, ts := range candidate {
		candidateSet[ts] = struct{}{}
	}

	var matches []Match
	for _, cs := range sets {
		count := ix.intersect(candidateSet, candidate, cs.Cuts)
		if count >= ix.minMatch {
			matches = append(matches, Match{VideoID: cs.VideoID, Filename: cs.Filename, Count: count})
		}
	}

	if len(matches) > 0 && ix.logger != nil {
		ix.logger.Debug("duplicate probe hit", "candidates", len(candidate), "matches", len(matches))
	}
	return matches, nil
}

// intersect counts distinct stored cuts that coincide with a candidate
// cut. Both sides are deduplicated so a misbehaving detector emitting
// repeated timestamps can never inflate the count past the true
// set-intersection size.
func (ix *Index) intersect(candidateSet map[float64]struct{}, candidate, stored []float64) int {
	count := 0
	seen := make(map[float64]struct{}, len(stored))
	if ix.epsilon == 0 {
		for _, ts := range stored {
			if _, dup := seen[ts]; dup {
				continue
			}
			seen[ts] = struct{}{}
			if _, ok := candidateSet[ts]; ok {
				count++
			}
		}
		return count
	}

	for _, ts := range stored {
		if _, dup := seen[ts]; dup {
			continue
		}
		seen[ts] = struct{}{}
		for _, c := range candidate {
			if math.Abs(c-ts) <= ix.epsilon {
				count++
				break
			}
		}
	}
	return count
}
