package pipeline

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	compression "github.com/deploymenttheory/go-model-retrain/internal/common/compressionutil"
	"github.com/deploymenttheory/go-model-retrain/internal/common/cryptoutil"
	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func newTestTrainer(t *testing.T, format compression.Format) *LocalTrainer {
	t.Helper()
	hasher, err := cryptoutil.NewHasher(cryptoutil.SHA256)
	require.NoError(t, err)
	trainer := NewLocalTrainer(t.TempDir(), format, hasher)
	trainer.weightBytes = 1024
	return trainer
}

func TestLocalTrainerProducesArtifact(t *testing.T) {
	for _, format := range []compression.Format{compression.FormatGZIP, compression.FormatBZIP2, compression.FormatXZ} {
		t.Run(string(format), func(t *testing.T) {
			trainer := newTestTrainer(t, format)

			result, err := trainer.Train(context.Background(), "v1.2.3")
			require.NoError(t, err)

			assert.Equal(t, "v1.2.3", result.Version)
			assert.Equal(t, format, result.Format)
			assert.Equal(t, "model-v1.2.3"+format.Extension(), filepath.Base(result.ArtifactPath))
			assert.FileExists(t, result.ArtifactPath)
			assert.Contains(t, result.Checksum, "sha256:")
			assert.False(t, result.TrainedAt.IsZero())

			ok, err := cryptoutil.VerifyFileChecksum(result.ArtifactPath, result.Checksum)
			require.NoError(t, err)
			assert.True(t, ok)

			_, err = compression.ReadEntry(result.ArtifactPath, format, ModelCardName)
			assert.NoError(t, err)
		})
	}
}

func TestLocalTrainerRejectsEmptyVersion(t *testing.T) {
	trainer := newTestTrainer(t, compression.FormatGZIP)
	_, err := trainer.Train(context.Background(), " ")
	assert.ErrorIs(t, err, errors.ErrTraining)
}

func TestLocalTrainerHonoursCancellation(t *testing.T) {
	trainer := newTestTrainer(t, compression.FormatGZIP)
	ctx, cancel := context.WithCancel(context.Background())
	cancel()

	_, err := trainer.Train(ctx, "v1")
	assert.ErrorIs(t, err, errors.ErrTraining)
}

func TestLocalEvaluatorMetricRanges(t *testing.T) {
	trainer := newTestTrainer(t, compression.FormatXZ)
	result, err := trainer.Train(context.Background(), "v1.0.0")
	require.NoError(t, err)

	evaluator := NewLocalEvaluator(7)
	for i := 0; i < 50; i++ {
		m, err := evaluator.Evaluate(context.Background(), result)
		require.NoError(t, err)

		assert.GreaterOrEqual(t, m.Accuracy, 0.75)
		assert.LessOrEqual(t, m.Accuracy, 0.95)
		assert.GreaterOrEqual(t, m.Precision, 0.70)
		assert.LessOrEqual(t, m.Precision, 0.92)
		assert.GreaterOrEqual(t, m.Recall, 0.72)
		assert.LessOrEqual(t, m.Recall, 0.94)
		assert.InDelta(t, F1Score(m.Precision, m.Recall), m.F1, 0.0002)
		assert.Equal(t, round4(m.Accuracy), m.Accuracy)
	}
}

func TestLocalEvaluatorMissingArtifact(t *testing.T) {
	evaluator := NewLocalEvaluator(1)

	_, err := evaluator.Evaluate(context.Background(), TrainingResult{})
	assert.ErrorIs(t, err, errors.ErrEvaluation)

	_, err = evaluator.Evaluate(context.Background(), TrainingResult{
		Version:      "v1",
		ArtifactPath: filepath.Join(t.TempDir(), "gone.tar.gz"),
		Format:       compression.FormatGZIP,
	})
	assert.ErrorIs(t, err, errors.ErrEvaluation)
	assert.ErrorIs(t, err, errors.ErrFileNotFound)
}

func TestLocalEvaluatorDetectsTampering(t *testing.T) {
	trainer := newTestTrainer(t, compression.FormatGZIP)
	result, err := trainer.Train(context.Background(), "v1.0.0")
	require.NoError(t, err)

	f, err := os.OpenFile(result.ArtifactPath, os.O_APPEND|os.O_WRONLY, 0)
	require.NoError(t, err)
	_, err = f.Write([]byte("tampered"))
	require.NoError(t, err)
	require.NoError(t, f.Close())

	_, err = NewLocalEvaluator(1).Evaluate(context.Background(), result)
	assert.ErrorIs(t, err, errors.ErrEvaluation)
	assert.ErrorIs(t, err, errors.ErrChecksumMismatch)
}

func TestLocalEvaluatorVersionMismatch(t *testing.T) {
	trainer := newTestTrainer(t, compression.FormatGZIP)
	result, err := trainer.Train(context.Background(), "v1.0.0")
	require.NoError(t, err)

	result.Version = "v9.9.9"
	_, err = NewLocalEvaluator(1).Evaluate(context.Background(), result)
	assert.ErrorIs(t, err, errors.ErrEvaluation)
}

func TestF1Score(t *testing.T) {
	assert.InDelta(t, 0.8, F1Score(0.8, 0.8), 1e-12)
	assert.Zero(t, F1Score(0, 0))
	assert.InDelta(t, 2*0.9*0.6/1.5, F1Score(0.9, 0.6), 1e-12)
}
