package animeface

import (
	"time"

	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// Strategy is how a pipeline run produces raw part masks.
type Strategy int

const (
	// StrategyHeuristic segments by color and face geometry, optionally refining each part
	// through a model-backed promptable segmenter.
	StrategyHeuristic Strategy = iota
	// StrategyDetector asks a region proposer for boxes per part and segments each box.
	StrategyDetector
)

func (s Strategy) String() string {
	switch s {
	case StrategyDetector:
		return "detector"
	default:
		return "heuristic"
	}
}

// Pipeline picks a segmentation strategy from the capabilities of its adapters and produces one
// cleaned mask per part.
type Pipeline struct {
	predictor    PromptSegmenter
	proposer     RegionProposer
	heuristic    *HeuristicSegmenter
	boxThreshold float32
	kernelSize   int
	largest      map[Part]bool
	logger       *zap.Logger
}

type Option func(*Pipeline)

func WithLogger(logger *zap.Logger) Option {
	return func(p *Pipeline) {
		if logger != nil {
			p.logger = logger
		}
	}
}

// WithBoxThreshold sets the box threshold passed to the region proposer.
func WithBoxThreshold(threshold float32) Option {
	return func(p *Pipeline) {
		if threshold > 0 {
			p.boxThreshold = threshold
		}
	}
}

func WithKernelSize(size int) Option {
	return func(p *Pipeline) {
		if size > 0 {
			p.kernelSize = size
		}
	}
}

// WithLargestComponent keeps only the largest connected component of the given parts.
func WithLargestComponent(parts ...Part) Option {
	return func(p *Pipeline) {
		for _, part := range parts {
			p.largest[part] = true
		}
	}
}

// NewPipeline creates a pipeline. predictor may be nil, meaning no refinement; proposer may be
// nil, meaning no detector-guided strategy.
func NewPipeline(predictor PromptSegmenter, proposer RegionProposer, opts ...Option) *Pipeline {
	p := &Pipeline{
		predictor:    predictor,
		proposer:     proposer,
		boxThreshold: DefaultBoxThreshold,
		kernelSize:   DefaultKernelSize,
		largest:      map[Part]bool{},
		logger:       zap.NewNop(),
	}
	for _, opt := range opts {
		opt(p)
	}
	p.heuristic = NewHeuristicSegmenter(p.logger)
	p.heuristic.kernelSize = p.kernelSize
	return p
}

func (p *Pipeline) Strategy() Strategy {
	if p.proposer != nil && p.proposer.ModelBacked() && p.refines() {
		return StrategyDetector
	}
	return StrategyHeuristic
}

func (p *Pipeline) refines() bool {
	return p.predictor != nil && p.predictor.ModelBacked()
}

// Run returns exactly one cleaned CV_8UC1 0/1 mask per part, each the size of img. Parts a
// strategy produced nothing for are all-zero.
func (p *Pipeline) Run(img gocv.Mat) (Masks, error) {
	if img.Empty() {
		return nil, errors.New("empty image")
	}

	start := time.Now()
	strategy := p.Strategy()
	p.logger.Info("segmenting",
		zap.Stringer("strategy", strategy),
		zap.Int("width", img.Cols()),
		zap.Int("height", img.Rows()))

	var raw Masks
	var err error
	switch strategy {
	case StrategyDetector:
		raw, err = p.detectorMasks(img)
	default:
		raw, err = p.heuristicMasks(img)
	}
	if err != nil {
		raw.Close()
		return nil, err
	}
	defer raw.Close()

	out := make(Masks, len(Parts))
	for _, part := range Parts {
		m, ok := raw[part]
		if !ok || m.Empty() {
			out[part] = zeroMask(img.Rows(), img.Cols())
			continue
		}
		cleaned := Clean(m, p.kernelSize)
		if p.largest[part] {
			largest := LargestComponent(cleaned)
			cleaned.Close()
			cleaned = largest
		}
		out[part] = cleaned
		p.logger.Debug("part segmented", zap.Stringer("part", part), zap.Int("area", gocv.CountNonZero(cleaned)))
	}

	p.logger.Info("segmentation done", zap.Stringer("strategy", strategy), zap.Duration("duration", time.Since(start)))
	return out, nil
}

// detectorMasks asks the proposer for every part label and unions the masks of all boxes.
func (p *Pipeline) detectorMasks(img gocv.Mat) (Masks, error) {
	if err := p.predictor.SetImage(img); err != nil {
		return nil, errors.Wrap(err, "set image")
	}

	masks := make(Masks, len(Parts))
	for _, part := range Parts {
		dets, err := p.proposer.Detect(img, part.Label(), p.boxThreshold)
		if err != nil {
			return masks, errors.Wrapf(err, "propose %s", part)
		}
		p.logger.Debug("boxes proposed", zap.Stringer("part", part), zap.Int("count", len(dets)))

		for _, det := range dets {
			m, err := p.predictor.Predict(BoxPrompt(det.Rectangle))
			if err != nil {
				m.Close()
				return masks, errors.Wrapf(err, "segment %s", part)
			}
			combined, ok := masks[part]
			if !ok {
				masks[part] = m
				continue
			}
			gocv.Max(combined, m, &combined)
			m.Close()
		}
	}
	return masks, nil
}

// heuristicMasks segments heuristically and, with a model-backed predictor, refines every part
// through a box prompt around its heuristic mask.
func (p *Pipeline) heuristicMasks(img gocv.Mat) (Masks, error) {
	masks := p.heuristic.Segment(img)
	if !p.refines() {
		return masks, nil
	}
	defer masks.Close()

	if err := p.predictor.SetImage(img); err != nil {
		return nil, errors.Wrap(err, "set image")
	}

	refined := make(Masks, len(Parts))
	for _, part := range Parts {
		m, err := p.predictor.Predict(PromptFromMask(masks[part]))
		if err != nil {
			m.Close()
			return refined, errors.Wrapf(err, "refine %s", part)
		}
		refined[part] = m
	}
	return refined, nil
}

// Result is everything one pipeline run produces.
type Result struct {
	Strategy Strategy
	Masks    Masks
	Overlay  gocv.Mat
	Semantic gocv.Mat
	Metadata Metadata
}

func (r *Result) Close() {
	r.Masks.Close()
	r.Overlay.Close()
	r.Semantic.Close()
}

// Process runs the pipeline and the finishing stage: overlay, semantic map in Parts order, and
// per-part metadata.
func (p *Pipeline) Process(img gocv.Mat) (*Result, error) {
	strategy := p.Strategy()
	masks, err := p.Run(img)
	if err != nil {
		return nil, err
	}
	return &Result{
		Strategy: strategy,
		Masks:    masks,
		Overlay:  Overlay(img, masks),
		Semantic: SemanticMap(masks, Parts),
		Metadata: ExtractMetadata(masks),
	}, nil
}
