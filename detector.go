package animeface

import (
	"image"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Default thresholds handed to a region proposal model.
const (
	DefaultBoxThreshold  = 0.35
	DefaultTextThreshold = 0.25
)

// RegionProposer turns a text label into candidate boxes on an image.
type RegionProposer interface {
	Detect(img gocv.Mat, label string, threshold float32) ([]Detection, error)
	// ModelBacked reports whether boxes come from a model rather than the heuristic fallback.
	ModelBacked() bool
}

// ProposalModel is a text-prompted detection network.
type ProposalModel interface {
	Predict(img gocv.Mat, caption string, boxThreshold, textThreshold float32) ([]Detection, error)
	Close() error
}

type DetectorConfig struct {
	ModelPath     string
	ConfigPath    string
	LabelsPath    string
	InputSize     int
	TextThreshold float32
}

type Detector struct {
	model         ProposalModel
	heuristic     *HeuristicSegmenter
	textThreshold float32
	logger        *zap.Logger
}

// NewDetector loads the network described by cfg. Load failures are logged and select the
// heuristic fallback; they are never returned.
func NewDetector(cfg DetectorConfig, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}

	var model ProposalModel
	if cfg.ModelPath != "" {
		m, err := LoadProposalModel(cfg)
		if err != nil {
			logger.Warn("region proposal model unavailable, using heuristic boxes",
				zap.String("model", cfg.ModelPath), zap.Error(err))
		} else {
			model = m
		}
	}

	d := newDetector(model, logger)
	if cfg.TextThreshold > 0 {
		d.textThreshold = cfg.TextThreshold
	}
	return d
}

// NewDetectorWithModel wraps an already loaded model. A nil model gives the fallback variant.
func NewDetectorWithModel(model ProposalModel, logger *zap.Logger) *Detector {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newDetector(model, logger)
}

func newDetector(model ProposalModel, logger *zap.Logger) *Detector {
	logger.Info("region proposer ready", zap.Bool("model_backed", model != nil))
	return &Detector{
		model:         model,
		heuristic:     NewHeuristicSegmenter(logger),
		textThreshold: DefaultTextThreshold,
		logger:        logger,
	}
}

func (d *Detector) ModelBacked() bool {
	return d.model != nil
}

func (d *Detector) Close() error {
	if d.model == nil {
		return nil
	}
	err := d.model.Close()
	d.model = nil
	return err
}

// Detect clips boxes to the image. Without a model it answers eye(s), mouth, hair, ear(s) and
// neck with at most one heuristic box.
func (d *Detector) Detect(img gocv.Mat, label string, threshold float32) ([]Detection, error) {
	if d.model == nil {
		return d.heuristicDetect(img, label), nil
	}

	detections, err := d.model.Predict(img, label, threshold, d.textThreshold)
	if err != nil {
		return nil, errors.Wrapf(err, "detect %q", label)
	}

	bounds := image.Rect(0, 0, img.Cols(), img.Rows())
	kept := detections[:0]
	for _, det := range detections {
		det.Rectangle = det.Rectangle.Canon().Intersect(bounds)
		if det.Rectangle.Empty() {
			continue
		}
		kept = append(kept, det)
	}
	return kept, nil
}

func (d *Detector) heuristicDetect(img gocv.Mat, label string) []Detection {
	part, ok := PartForLabel(label)
	if !ok {
		return nil
	}

	masks := d.heuristic.Segment(img)
	defer masks.Close()

	box := maskBounds(masks[part])
	if box.Empty() {
		return nil
	}
	return []Detection{{Rectangle: box, Confidence: 1}}
}
