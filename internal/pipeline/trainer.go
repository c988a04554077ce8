package pipeline

import (
	"context"
	"encoding/binary"
	"encoding/json"
	"fmt"
	"hash/fnv"
	"math/rand/v2"
	"os"
	"path/filepath"
	"strings"
	"time"

	compression "github.com/deploymenttheory/go-model-retrain/internal/common/compressionutil"
	"github.com/deploymenttheory/go-model-retrain/internal/common/cryptoutil"
	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/common/fsutil"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
)

// ModelCardName is the archive entry describing the trained model
const ModelCardName = "model.json"

// Trainer produces a model artifact for a version label
type Trainer interface {
	Train(ctx context.Context, version string) (TrainingResult, error)
}

// ModelCard is stored inside every artifact archive
type ModelCard struct {
	Version   string    `json:"version"`
	TrainedAt time.Time `json:"trained_at"`
	Framework string    `json:"framework"`
	Weights   string    `json:"weights"`
}

// LocalTrainer stands in for the ML library. It writes a model card and
// weights to a staging directory and packs them into a compressed archive.
type LocalTrainer struct {
	workDir     string
	format      compression.Format
	hasher      *cryptoutil.Hasher
	weightBytes int
	now         func() time.Time
}

// NewLocalTrainer creates a trainer that writes archives into workDir
func NewLocalTrainer(workDir string, format compression.Format, hasher *cryptoutil.Hasher) *LocalTrainer {
	return &LocalTrainer{
		workDir:     workDir,
		format:      format,
		hasher:      hasher,
		weightBytes: 64 * 1024,
		now:         time.Now,
	}
}

func (t *LocalTrainer) Train(ctx context.Context, version string) (TrainingResult, error) {
	if strings.TrimSpace(version) == "" {
		return TrainingResult{}, fmt.Errorf("%w: model version is empty", errors.ErrTraining)
	}
	fields := map[string]interface{}{"version": version}

	logger.LogInfo("Starting model training", fields)
	if err := fsutil.CreateDirIfNotExists(t.workDir); err != nil {
		return TrainingResult{}, fmt.Errorf("%w: create work dir: %v", errors.ErrTraining, err)
	}

	stageDir, err := os.MkdirTemp(t.workDir, "train-*")
	if err != nil {
		return TrainingResult{}, fmt.Errorf("%w: create staging dir: %v", errors.ErrTraining, err)
	}
	defer os.RemoveAll(stageDir)

	logger.LogDebug("Loading and preprocessing data", fields)
	if err := ctx.Err(); err != nil {
		return TrainingResult{}, fmt.Errorf("%w: %v", errors.ErrTraining, err)
	}

	logger.LogDebug("Fitting model", fields)
	trainedAt := t.now().UTC()
	if err := t.writeWeights(filepath.Join(stageDir, "weights.bin"), version, trainedAt); err != nil {
		return TrainingResult{}, fmt.Errorf("%w: write weights: %v", errors.ErrTraining, err)
	}

	card := ModelCard{Version: version, TrainedAt: trainedAt, Framework: "simulated", Weights: "weights.bin"}
	cardData, err := json.MarshalIndent(card, "", "  ")
	if err != nil {
		return TrainingResult{}, fmt.Errorf("%w: encode model card: %v", errors.ErrTraining, err)
	}
	if err := os.WriteFile(filepath.Join(stageDir, ModelCardName), cardData, 0644); err != nil {
		return TrainingResult{}, fmt.Errorf("%w: write model card: %v", errors.ErrTraining, err)
	}

	if err := ctx.Err(); err != nil {
		return TrainingResult{}, fmt.Errorf("%w: %v", errors.ErrTraining, err)
	}

	archive := filepath.Join(t.workDir, "model-"+safeName(version)+t.format.Extension())
	if err := compression.PackDir(stageDir, archive, t.format); err != nil {
		return TrainingResult{}, fmt.Errorf("%w: package artifact: %v", errors.ErrTraining, err)
	}

	checksum, err := t.hasher.Checksum(archive)
	if err != nil {
		return TrainingResult{}, fmt.Errorf("%w: checksum artifact: %v", errors.ErrTraining, err)
	}

	logger.LogInfo("Model trained", map[string]interface{}{
		"version":  version,
		"artifact": archive,
		"checksum": checksum,
		"hash":     t.hasher.Algorithm(),
	})

	return TrainingResult{
		Version:      version,
		ArtifactPath: archive,
		Format:       t.format,
		Checksum:     checksum,
		TrainedAt:    trainedAt,
	}, nil
}

// writeWeights fills the weights file with pseudo-random bytes seeded by the
// version and training time
func (t *LocalTrainer) writeWeights(path, version string, trainedAt time.Time) error {
	h := fnv.New64a()
	h.Write([]byte(version))
	rng := rand.New(rand.NewPCG(h.Sum64(), uint64(trainedAt.UnixNano())))

	buf := make([]byte, t.weightBytes)
	for i := 0; i+8 <= len(buf); i += 8 {
		binary.LittleEndian.PutUint64(buf[i:], rng.Uint64())
	}
	return os.WriteFile(path, buf, 0644)
}

func safeName(version string) string {
	return strings.NewReplacer("/", "_", "\\", "_", " ", "_", ":", "_").Replace(version)
}
