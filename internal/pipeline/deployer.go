package pipeline

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"path"
	"path/filepath"
	"time"

	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
	"github.com/deploymenttheory/go-model-retrain/internal/logger"
)

const (
	manifestName = "manifest.json"
	currentName  = "current.json"
)

// Deployer publishes an evaluated artifact to the serving location
type Deployer interface {
	Deploy(ctx context.Context, result TrainingResult, metrics Metrics) (DeploymentRecord, error)
}

// ArtifactStore is the part of an object store the deployer needs
type ArtifactStore interface {
	PutObject(ctx context.Context, key string, data io.Reader) error
	URI(key string) string
}

// DeployManifest is written next to every published artifact
type DeployManifest struct {
	Version     string    `json:"version"`
	ArtifactKey string    `json:"artifact_key"`
	Checksum    string    `json:"checksum"`
	Metrics     Metrics   `json:"metrics"`
	TrainedAt   time.Time `json:"trained_at"`
	DeployedAt  time.Time `json:"deployed_at"`
}

// CurrentPointer names the version being served
type CurrentPointer struct {
	Version     string    `json:"version"`
	ManifestKey string    `json:"manifest_key"`
	DeployedAt  time.Time `json:"deployed_at"`
}

// ObjectStoreDeployer uploads artifacts under <prefix>/<version>/ and then
// moves <prefix>/current.json to the new version
type ObjectStoreDeployer struct {
	store  ArtifactStore
	prefix string
	now    func() time.Time
}

func NewObjectStoreDeployer(store ArtifactStore, prefix string) *ObjectStoreDeployer {
	return &ObjectStoreDeployer{store: store, prefix: prefix, now: time.Now}
}

func (d *ObjectStoreDeployer) Deploy(ctx context.Context, result TrainingResult, metrics Metrics) (DeploymentRecord, error) {
	if result.Version == "" {
		return DeploymentRecord{}, fmt.Errorf("%w: training result has no version", errors.ErrDeployment)
	}

	versionDir := path.Join(d.prefix, safeName(result.Version))
	artifactKey := path.Join(versionDir, filepath.Base(result.ArtifactPath))
	manifestKey := path.Join(versionDir, manifestName)
	deployedAt := d.now().UTC()

	logger.LogInfo("Deploying model", map[string]interface{}{
		"version":  result.Version,
		"artifact": artifactKey,
		"accuracy": metrics.Accuracy,
		"f1_score": metrics.F1,
	})

	artifact, err := os.Open(result.ArtifactPath)
	if err != nil {
		return DeploymentRecord{}, fmt.Errorf("%w: open artifact: %v", errors.ErrDeployment, err)
	}
	defer artifact.Close()

	if err := d.store.PutObject(ctx, artifactKey, artifact); err != nil {
		return DeploymentRecord{}, fmt.Errorf("%w: upload artifact: %v", errors.ErrDeployment, err)
	}

	manifest := DeployManifest{
		Version:     result.Version,
		ArtifactKey: artifactKey,
		Checksum:    result.Checksum,
		Metrics:     metrics,
		TrainedAt:   result.TrainedAt,
		DeployedAt:  deployedAt,
	}
	if err := d.putJSON(ctx, manifestKey, manifest); err != nil {
		return DeploymentRecord{}, fmt.Errorf("%w: upload manifest: %v", errors.ErrDeployment, err)
	}

	// The pointer goes last so it never names a version that isn't fully uploaded
	pointer := CurrentPointer{Version: result.Version, ManifestKey: manifestKey, DeployedAt: deployedAt}
	if err := d.putJSON(ctx, path.Join(d.prefix, currentName), pointer); err != nil {
		return DeploymentRecord{}, fmt.Errorf("%w: update current pointer: %v", errors.ErrDeployment, err)
	}

	record := DeploymentRecord{
		Version:     result.Version,
		Location:    d.store.URI(versionDir),
		ArtifactURI: d.store.URI(artifactKey),
		Checksum:    result.Checksum,
		Metrics:     metrics,
		DeployedAt:  deployedAt,
	}
	logger.LogInfo("Model deployed", map[string]interface{}{
		"version":  record.Version,
		"location": record.Location,
	})
	return record, nil
}

func (d *ObjectStoreDeployer) putJSON(ctx context.Context, key string, v any) error {
	data, err := json.MarshalIndent(v, "", "  ")
	if err != nil {
		return err
	}
	return d.store.PutObject(ctx, key, bytes.NewReader(data))
}
