package engine

import (
	"context"
	"time"

	"go.uber.org/zap"
)

// SignalEngine fans a classified request out to every registered detector
// in parallel and collects their results.
type SignalEngine struct {
	detectors []Detector
	timeout   time.Duration
	logger    *zap.Logger
}

// NewSignalEngine creates an engine with the given detectors and timeout.
func NewSignalEngine(detectors []Detector, timeout time.Duration, logger *zap.Logger) *SignalEngine {
	return &SignalEngine{
		detectors: detectors,
		timeout:   timeout,
		logger:    logger,
	}
}

type detectorOutput struct {
	name     string
	category SignalCategory
	result   *DetectResult
	err      error
}

// Evaluate runs all detectors against req and returns whatever finished
// before the timeout. A detector error yields an untriggered result whose
// Details carry the error; it never fails the whole evaluation.
//
// The result channel is buffered for every detector, so stragglers that
// finish after the deadline never block on send.
func (e *SignalEngine) Evaluate(ctx context.Context, req *DetectRequest) ([]DetectorResult, time.Duration) {
	start := time.Now()

	ctx, cancel := context.WithTimeout(ctx, e.timeout)
	defer cancel()

	ch := make(chan detectorOutput, len(e.detectors))
	for _, det := range e.detectors {
		go func(d Detector) {
			result, err := d.Detect(ctx, req)
			ch <- detectorOutput{
				name:     d.Name(),
				category: d.Category(),
				result:   result,
				err:      err,
			}
		}(det)
	}

	collected := make([]detectorOutput, 0, len(e.detectors))
	for remaining := len(e.detectors); remaining > 0; {
		select {
		case out := <-ch:
			collected = append(collected, out)
			remaining--
		case <-ctx.Done():
			e.logger.Warn("detector timeout exceeded, returning partial results",
				zap.Duration("timeout", e.timeout),
				zap.String("host", req.Event.Host),
			)
			remaining = 0
		}
	}

	results := make([]DetectorResult, 0, len(collected))
	for _, out := range collected {
		if out.err != nil {
			e.logger.Warn("detector error",
				zap.String("detector", out.name),
				zap.Error(out.err),
			)
			results = append(results, DetectorResult{
				Detector: out.name,
				Category: out.category,
				Details:  "detector error: " + out.err.Error(),
			})
			continue
		}
		if out.result == nil {
			continue
		}
		results = append(results, DetectorResult{
			Detector:  out.name,
			Triggered: out.result.Triggered,
			Category:  out.category,
			Details:   out.result.Details,
			Matches:   out.result.Matches,
		})
	}

	return results, time.Since(start)
}

// CookieSyncMatches flattens the matches carried by results.
func CookieSyncMatches(results []DetectorResult) []CookieSyncMatch {
	var out []CookieSyncMatch
	for _, r := range results {
		if r.Triggered {
			out = append(out, r.Matches...)
		}
	}
	return out
}
