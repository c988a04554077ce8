package pipeline

import (
	"context"
	"encoding/json"
	"fmt"
	"math"
	"math/rand/v2"
	"sync"
	"time"

	compression "github.com/deploymenttheory/go-model-retrain/internal/common/compressionutil"
	"github.com/deploymenttheory/go-model-retrain/internal/common/cryptoutil"
	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/common/fsutil"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
)

// Evaluator scores a trained artifact
type Evaluator interface {
	Evaluate(ctx context.Context, result TrainingResult) (Metrics, error)
}

// LocalEvaluator checks the artifact and draws metrics from fixed ranges
// in place of a real held-out evaluation
type LocalEvaluator struct {
	mu  sync.Mutex
	rng *rand.Rand
}

// NewLocalEvaluator creates an evaluator. A zero seed uses the current time.
func NewLocalEvaluator(seed uint64) *LocalEvaluator {
	if seed == 0 {
		seed = uint64(time.Now().UnixNano())
	}
	return &LocalEvaluator{rng: rand.New(rand.NewPCG(seed, seed^0x9e3779b97f4a7c15))}
}

func (e *LocalEvaluator) Evaluate(ctx context.Context, result TrainingResult) (Metrics, error) {
	if result.ArtifactPath == "" {
		return Metrics{}, fmt.Errorf("%w: training result has no artifact", errors.ErrEvaluation)
	}
	if !fsutil.FileExists(result.ArtifactPath) {
		return Metrics{}, fmt.Errorf("%w: %w: %s", errors.ErrEvaluation, errors.ErrFileNotFound, result.ArtifactPath)
	}

	ok, err := cryptoutil.VerifyFileChecksum(result.ArtifactPath, result.Checksum)
	if err != nil {
		return Metrics{}, fmt.Errorf("%w: verify checksum: %v", errors.ErrEvaluation, err)
	}
	if !ok {
		return Metrics{}, fmt.Errorf("%w: %w: %s", errors.ErrEvaluation, errors.ErrChecksumMismatch, result.ArtifactPath)
	}

	cardData, err := compression.ReadEntry(result.ArtifactPath, result.Format, ModelCardName)
	if err != nil {
		return Metrics{}, fmt.Errorf("%w: %w", errors.ErrEvaluation, err)
	}
	var card ModelCard
	if err := json.Unmarshal(cardData, &card); err != nil {
		return Metrics{}, fmt.Errorf("%w: decode model card: %v", errors.ErrEvaluation, err)
	}
	if card.Version != result.Version {
		return Metrics{}, fmt.Errorf("%w: artifact holds version %s, expected %s", errors.ErrEvaluation, card.Version, result.Version)
	}

	if err := ctx.Err(); err != nil {
		return Metrics{}, fmt.Errorf("%w: %v", errors.ErrEvaluation, err)
	}

	metrics := e.draw()
	if err := metrics.Validate(); err != nil {
		return Metrics{}, fmt.Errorf("%w: %w", errors.ErrEvaluation, err)
	}

	logger.LogInfo("Model evaluated", map[string]interface{}{
		"version":   result.Version,
		"accuracy":  metrics.Accuracy,
		"precision": metrics.Precision,
		"recall":    metrics.Recall,
		"f1_score":  metrics.F1,
	})
	return metrics, nil
}

func (e *LocalEvaluator) draw() Metrics {
	e.mu.Lock()
	defer e.mu.Unlock()

	accuracy := e.uniform(0.75, 0.95)
	precision := e.uniform(0.70, 0.92)
	recall := e.uniform(0.72, 0.94)
	return Metrics{
		Accuracy:  round4(accuracy),
		Precision: round4(precision),
		Recall:    round4(recall),
		F1:        round4(F1Score(precision, recall)),
	}
}

func (e *LocalEvaluator) uniform(lo, hi float64) float64 {
	return lo + e.rng.Float64()*(hi-lo)
}

// F1Score is the harmonic mean of precision and recall
func F1Score(precision, recall float64) float64 {
	if precision+recall == 0 {
		return 0
	}
	return 2 * precision * recall / (precision + recall)
}

func round4(v float64) float64 {
	return math.Round(v*1e4) / 1e4
}
