package animeface

import (
	"image"
	"image/color"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// ErrNoImage is returned by Predict before any image was set.
var ErrNoImage = errors.New("no image set")

// fallbackPointRadius is the radius of the disc stamped for each positive prompt point.
const fallbackPointRadius = 5

// maskInk draws value 1 into single-channel masks.
var maskInk = color.RGBA{R: 1, G: 1, B: 1, A: 1}

// PromptSegmenter turns prompts into masks for the image last passed to SetImage.
type PromptSegmenter interface {
	SetImage(img gocv.Mat) error
	Predict(prompt Prompt) (gocv.Mat, error)
	// ModelBacked reports whether masks come from a model rather than the prompt geometry.
	ModelBacked() bool
}

// SegmentationModel is a promptable segmentation network. Box is nil when the prompt has none.
type SegmentationModel interface {
	SetImage(img gocv.Mat) error
	Predict(points []image.Point, labels []int, box *image.Rectangle) ([]gocv.Mat, error)
	Close() error
}

type SegmenterConfig struct {
	ModelType   string
	EncoderPath string
	DecoderPath string
}

// Predictor is a PromptSegmenter. With a model it returns the model's best mask; without one it
// paints the prompt itself: the box filled and a small disc per positive point. The variant is
// fixed at construction. A Predictor holds the current image and is not safe for concurrent use.
type Predictor struct {
	model    SegmentationModel
	size     image.Point
	hasImage bool
	logger   *zap.Logger
}

// NewPredictor loads the network described by cfg. Load failures are logged and select the
// fallback for the lifetime of the predictor; they are never returned.
func NewPredictor(cfg SegmenterConfig, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}

	var model SegmentationModel
	if cfg.EncoderPath != "" || cfg.DecoderPath != "" {
		m, err := LoadSegmentationModel(cfg)
		if err != nil {
			logger.Warn("segmentation model unavailable, masks follow prompts",
				zap.String("model_type", cfg.ModelType), zap.Error(err))
		} else {
			model = m
		}
	}
	return newPredictor(model, logger)
}

// NewPredictorWithModel wraps an already loaded model. A nil model gives the fallback variant.
func NewPredictorWithModel(model SegmentationModel, logger *zap.Logger) *Predictor {
	if logger == nil {
		logger = zap.NewNop()
	}
	return newPredictor(model, logger)
}

func newPredictor(model SegmentationModel, logger *zap.Logger) *Predictor {
	logger.Info("promptable segmenter ready", zap.Bool("model_backed", model != nil))
	return &Predictor{model: model, logger: logger}
}

func (p *Predictor) ModelBacked() bool {
	return p.model != nil
}

func (p *Predictor) Close() error {
	if p.model == nil {
		return nil
	}
	err := p.model.Close()
	p.model = nil
	return err
}

func (p *Predictor) SetImage(img gocv.Mat) error {
	if img.Empty() {
		return errors.New("set empty image")
	}
	if p.model != nil {
		if err := p.model.SetImage(img); err != nil {
			return errors.Wrap(err, "encode image")
		}
	}
	p.size = image.Pt(img.Cols(), img.Rows())
	p.hasImage = true
	return nil
}

// Predict returns a CV_8UC1 0/1 mask of the current image size for prompt.
// The empty prompt gives an all-zero mask.
func (p *Predictor) Predict(prompt Prompt) (gocv.Mat, error) {
	if !p.hasImage {
		return gocv.NewMat(), ErrNoImage
	}
	if p.model == nil || prompt.IsEmpty() {
		return p.paint(prompt), nil
	}

	var points []image.Point
	var labels []int
	for _, lp := range prompt.Points() {
		points = append(points, lp.Point)
		labels = append(labels, lp.Label)
	}
	var box *image.Rectangle
	if r, ok := prompt.Box(); ok {
		box = &r
	}

	masks, err := p.model.Predict(points, labels, box)
	if err != nil {
		return gocv.NewMat(), errors.Wrap(err, "predict mask")
	}
	defer func() {
		for i := range masks {
			masks[i].Close()
		}
	}()
	if len(masks) == 0 {
		return zeroMask(p.size.Y, p.size.X), nil
	}
	if got := image.Pt(masks[0].Cols(), masks[0].Rows()); got != p.size {
		return gocv.NewMat(), errors.Errorf("predict mask: model returned %dx%d mask for %dx%d image",
			got.X, got.Y, p.size.X, p.size.Y)
	}
	return Binarize(masks[0]), nil
}

func (p *Predictor) paint(prompt Prompt) gocv.Mat {
	mask := zeroMask(p.size.Y, p.size.X)
	if box, ok := prompt.Box(); ok {
		fillRect(&mask, box, 1)
	}
	for _, lp := range prompt.Points() {
		if lp.Label == 1 {
			gocv.Circle(&mask, lp.Point, fallbackPointRadius, maskInk, -1)
		}
	}
	return mask
}
