package pipeline

import (
	"fmt"
	"math"
	"time"

	compression "github.com/deploymenttheory/go-model-retrain/internal/common/compressionutil"
	errors "github.com/deploymenttheory/go-model-retrain/internal/common/errors"
)

// TrainingResult is the handle to a trained model artifact
type TrainingResult struct {
	Version      string             `json:"version"`
	ArtifactPath string             `json:"artifact_path"`
	Format       compression.Format `json:"format"`
	Checksum     string             `json:"checksum"`
	TrainedAt    time.Time          `json:"trained_at"`
}

// Metrics holds the quality scores computed by evaluation
type Metrics struct {
	Accuracy  float64 `json:"accuracy"`
	Precision float64 `json:"precision"`
	Recall    float64 `json:"recall"`
	F1        float64 `json:"f1_score"`
}

// Validate rejects records with missing (NaN) or out-of-range fields
func (m Metrics) Validate() error {
	fields := []struct {
		name  string
		value float64
	}{
		{"accuracy", m.Accuracy},
		{"precision", m.Precision},
		{"recall", m.Recall},
		{"f1_score", m.F1},
	}
	for _, f := range fields {
		if math.IsNaN(f.value) || f.value < 0 || f.value > 1 {
			return fmt.Errorf("%w: %s=%v", errors.ErrInvalidMetrics, f.name, f.value)
		}
	}
	return nil
}

// Decision is the gate's verdict
type Decision int

const (
	DecisionUnknown Decision = iota
	Proceed
	Skip
)

func (d Decision) String() string {
	switch d {
	case Proceed:
		return "proceed"
	case Skip:
		return "skip"
	default:
		return "unknown"
	}
}

func (d Decision) MarshalText() ([]byte, error) {
	return []byte(d.String()), nil
}

func (d *Decision) UnmarshalText(text []byte) error {
	switch string(text) {
	case "proceed":
		*d = Proceed
	case "skip":
		*d = Skip
	case "unknown", "":
		*d = DecisionUnknown
	default:
		return fmt.Errorf("%w: unknown decision %q", errors.ErrInvalidArgument, text)
	}
	return nil
}

// GateOutcome is the output of the check_metrics task
type GateOutcome struct {
	Decision  Decision `json:"decision"`
	Accuracy  float64  `json:"accuracy"`
	Threshold float64  `json:"threshold"`
}

// DeploymentRecord confirms that a version was published
type DeploymentRecord struct {
	Version     string    `json:"version"`
	Location    string    `json:"location"`
	ArtifactURI string    `json:"artifact_uri"`
	Checksum    string    `json:"checksum"`
	Metrics     Metrics   `json:"metrics"`
	DeployedAt  time.Time `json:"deployed_at"`
}

// NotificationMessage is what was sent to the chat
type NotificationMessage struct {
	ChatID    string `json:"chat_id"`
	Text      string `json:"text"`
	ParseMode string `json:"parse_mode"`
}

// SkipRecord is the output of the skip terminal
type SkipRecord struct {
	Reason    string  `json:"reason"`
	Accuracy  float64 `json:"accuracy"`
	Threshold float64 `json:"threshold"`
}
