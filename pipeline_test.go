package animeface

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gocv.io/x/gocv"
)

func assertTotal(t *testing.T, masks Masks, rows, cols int) {
	t.Helper()
	test.That(t, len(masks), test.ShouldEqual, len(Parts))
	for _, part := range Parts {
		m, ok := masks[part]
		test.That(t, ok, test.ShouldBeTrue)
		test.That(t, m.Rows(), test.ShouldEqual, rows)
		test.That(t, m.Cols(), test.ShouldEqual, cols)
		test.That(t, m.Type(), test.ShouldEqual, gocv.MatTypeCV8UC1)
		test.That(t, maxValue(m), test.ShouldBeLessThanOrEqualTo, 1)
	}
}

func TestPipelineHeuristic(t *testing.T) {
	img := syntheticFace()
	defer img.Close()

	p := NewPipeline(nil, nil)
	test.That(t, p.Strategy(), test.ShouldEqual, StrategyHeuristic)

	masks, err := p.Run(img)
	test.That(t, err, test.ShouldBeNil)
	defer masks.Close()
	assertTotal(t, masks, 256, 256)

	for _, part := range Parts {
		test.That(t, gocv.CountNonZero(masks[part]), test.ShouldBeGreaterThan, 0)
	}
	mouthArea := gocv.CountNonZero(masks[Mouth])
	test.That(t, float64(overlap(masks[Hair], masks[Mouth])), test.ShouldBeLessThan, 0.1*float64(mouthArea))
}

func TestPipelineTotalityWithoutFace(t *testing.T) {
	img := blankImage(30, 70)
	defer img.Close()

	for _, p := range []*Pipeline{
		NewPipeline(nil, nil),
		NewPipeline(NewPredictorWithModel(nil, nil), NewDetectorWithModel(nil, nil)),
		NewPipeline(NewPredictorWithModel(&fakeSegmentationModel{}, nil), NewDetectorWithModel(&fakeProposalModel{}, nil)),
	} {
		masks, err := p.Run(img)
		test.That(t, err, test.ShouldBeNil)
		assertTotal(t, masks, 30, 70)
		for _, part := range Parts {
			test.That(t, gocv.CountNonZero(masks[part]), test.ShouldEqual, 0)
		}
		masks.Close()
	}
}

func TestPipelineEmptyImage(t *testing.T) {
	empty := gocv.NewMat()
	defer empty.Close()

	_, err := NewPipeline(nil, nil).Run(empty)
	test.That(t, err, test.ShouldNotBeNil)
}

func TestPipelineStrategy(t *testing.T) {
	modelPredictor := NewPredictorWithModel(&fakeSegmentationModel{}, nil)
	fallbackPredictor := NewPredictorWithModel(nil, nil)
	modelDetector := NewDetectorWithModel(&fakeProposalModel{}, nil)
	fallbackDetector := NewDetectorWithModel(nil, nil)

	test.That(t, NewPipeline(modelPredictor, modelDetector).Strategy(), test.ShouldEqual, StrategyDetector)
	test.That(t, NewPipeline(fallbackPredictor, modelDetector).Strategy(), test.ShouldEqual, StrategyHeuristic)
	test.That(t, NewPipeline(modelPredictor, fallbackDetector).Strategy(), test.ShouldEqual, StrategyHeuristic)
	test.That(t, NewPipeline(modelPredictor, nil).Strategy(), test.ShouldEqual, StrategyHeuristic)
	test.That(t, NewPipeline(nil, modelDetector).Strategy(), test.ShouldEqual, StrategyHeuristic)

	test.That(t, StrategyDetector.String(), test.ShouldEqual, "detector")
	test.That(t, StrategyHeuristic.String(), test.ShouldEqual, "heuristic")
}

func TestPipelineFallbackAdaptersMatchHeuristic(t *testing.T) {
	img := syntheticFace()
	defer img.Close()

	plain, err := NewPipeline(nil, nil).Run(img)
	test.That(t, err, test.ShouldBeNil)
	defer plain.Close()

	p := NewPipeline(NewPredictorWithModel(nil, nil), NewDetectorWithModel(nil, nil))
	masks, err := p.Run(img)
	test.That(t, err, test.ShouldBeNil)
	defer masks.Close()

	for _, part := range Parts {
		sameMask(t, masks[part], plain[part])
	}
}

func TestPipelineDetectorStrategy(t *testing.T) {
	img := blankImage(100, 100)
	defer img.Close()

	proposals := &fakeProposalModel{boxes: map[string][]Detection{
		"eye": {
			{Rectangle: image.Rect(10, 10, 30, 20), Confidence: 0.9},
			{Rectangle: image.Rect(60, 10, 80, 20), Confidence: 0.8},
		},
		"hair": {{Rectangle: image.Rect(0, 0, 100, 8), Confidence: 0.7}},
	}}
	segments := &fakeSegmentationModel{}
	p := NewPipeline(NewPredictorWithModel(segments, nil), NewDetectorWithModel(proposals, nil))
	test.That(t, p.Strategy(), test.ShouldEqual, StrategyDetector)

	masks, err := p.Run(img)
	test.That(t, err, test.ShouldBeNil)
	defer masks.Close()
	assertTotal(t, masks, 100, 100)

	test.That(t, proposals.captions, test.ShouldResemble, []string{"neck", "eye", "mouth", "hair", "ear"})
	test.That(t, segments.setImages, test.ShouldEqual, 1)
	test.That(t, len(segments.boxes), test.ShouldEqual, 3)

	eyes := rectMask(100, 100, image.Rect(10, 10, 30, 20), image.Rect(60, 10, 80, 20))
	defer eyes.Close()
	sameMask(t, masks[Eyes], eyes)

	hair := rectMask(100, 100, image.Rect(0, 0, 100, 8))
	defer hair.Close()
	sameMask(t, masks[Hair], hair)

	for _, part := range []Part{Neck, Mouth, Ears} {
		test.That(t, gocv.CountNonZero(masks[part]), test.ShouldEqual, 0)
	}
}

func TestPipelineHeuristicRefinement(t *testing.T) {
	img := syntheticFace()
	defer img.Close()

	heuristic := NewHeuristicSegmenter(nil).Segment(img)
	defer heuristic.Close()

	segments := &fakeSegmentationModel{}
	p := NewPipeline(NewPredictorWithModel(segments, nil), nil)
	test.That(t, p.Strategy(), test.ShouldEqual, StrategyHeuristic)

	masks, err := p.Run(img)
	test.That(t, err, test.ShouldBeNil)
	defer masks.Close()
	assertTotal(t, masks, 256, 256)
	test.That(t, len(segments.boxes), test.ShouldEqual, len(Parts))

	// the fake answers with the prompt box, so every part becomes its heuristic bounding box
	for i, part := range Parts {
		box := maskBounds(heuristic[part])
		test.That(t, *segments.boxes[i], test.ShouldResemble, box)

		expected := rectMask(256, 256, box)
		sameMask(t, masks[part], expected)
		expected.Close()
	}
}

func TestPipelineModelErrorFailsRun(t *testing.T) {
	img := syntheticFace()
	defer img.Close()

	boom := errors.New("boom")
	p := NewPipeline(
		NewPredictorWithModel(&fakeSegmentationModel{}, nil),
		NewDetectorWithModel(&fakeProposalModel{err: boom}, nil),
	)
	_, err := p.Run(img)
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)

	p = NewPipeline(NewPredictorWithModel(&fakeSegmentationModel{err: boom}, nil), nil)
	_, err = p.Run(img)
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)
}

func TestPipelineLargestComponent(t *testing.T) {
	img := blankImage(100, 100)
	defer img.Close()

	proposals := &fakeProposalModel{boxes: map[string][]Detection{
		"hair": {
			{Rectangle: image.Rect(0, 0, 40, 20), Confidence: 0.9},
			{Rectangle: image.Rect(70, 70, 80, 80), Confidence: 0.8},
		},
	}}
	newPipeline := func(opts ...Option) *Pipeline {
		return NewPipeline(NewPredictorWithModel(&fakeSegmentationModel{}, nil), NewDetectorWithModel(proposals, nil), opts...)
	}

	masks, err := newPipeline().Run(img)
	test.That(t, err, test.ShouldBeNil)
	test.That(t, gocv.CountNonZero(masks[Hair]), test.ShouldEqual, 800+100)
	masks.Close()

	masks, err = newPipeline(WithLargestComponent(Hair)).Run(img)
	test.That(t, err, test.ShouldBeNil)
	defer masks.Close()
	test.That(t, gocv.CountNonZero(masks[Hair]), test.ShouldEqual, 800)
	hairMask := masks[Hair]
	test.That(t, hairMask.GetUCharAt(75, 75), test.ShouldEqual, 0)
}

func TestPipelineProcess(t *testing.T) {
	img := syntheticFace()
	defer img.Close()

	result, err := NewPipeline(nil, nil, WithKernelSize(3), WithBoxThreshold(0.5)).Process(img)
	test.That(t, err, test.ShouldBeNil)
	defer result.Close()

	test.That(t, result.Strategy, test.ShouldEqual, StrategyHeuristic)
	assertTotal(t, result.Masks, 256, 256)
	test.That(t, result.Overlay.Rows(), test.ShouldEqual, 256)
	test.That(t, result.Overlay.Type(), test.ShouldEqual, img.Type())
	test.That(t, result.Semantic.Type(), test.ShouldEqual, gocv.MatTypeCV8UC1)
	test.That(t, maxValue(result.Semantic), test.ShouldBeLessThanOrEqualTo, len(Parts))

	for _, part := range Parts {
		test.That(t, result.Metadata[part].Area, test.ShouldEqual, gocv.CountNonZero(result.Masks[part]))
	}

	// the semantic map holds the neck label on the neck
	test.That(t, result.Semantic.GetUCharAt(230, 128), test.ShouldEqual, int(Neck))
}
