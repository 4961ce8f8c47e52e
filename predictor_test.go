package animeface

import (
	"image"
	"testing"

	"github.com/pkg/errors"
	"go.viam.com/test"
	"gocv.io/x/gocv"
)

// fakeSegmentationModel answers every prompt with the box it was given, filled, followed by a
// full mask so tests can tell the first mask was taken.
type fakeSegmentationModel struct {
	size      image.Point
	maskSize  image.Point
	setImages int
	boxes     []*image.Rectangle
	points    [][]image.Point
	err       error
	closed    bool
}

func (m *fakeSegmentationModel) SetImage(img gocv.Mat) error {
	m.size = image.Pt(img.Cols(), img.Rows())
	if m.maskSize != (image.Point{}) {
		m.size = m.maskSize
	}
	m.setImages++
	return nil
}

func (m *fakeSegmentationModel) Predict(points []image.Point, labels []int, box *image.Rectangle) ([]gocv.Mat, error) {
	if m.err != nil {
		return nil, m.err
	}
	m.boxes = append(m.boxes, box)
	m.points = append(m.points, points)

	first := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), m.size.Y, m.size.X, gocv.MatTypeCV8UC1)
	if box != nil {
		fillRect(&first, *box, 255)
	}
	full := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 0, 0, 0), m.size.Y, m.size.X, gocv.MatTypeCV8UC1)
	return []gocv.Mat{first, full}, nil
}

func (m *fakeSegmentationModel) Close() error {
	m.closed = true
	return nil
}

func TestNewPredictorMissingModel(t *testing.T) {
	p := NewPredictor(SegmenterConfig{
		ModelType:   "vit_h",
		EncoderPath: "/nonexistent/encoder.onnx",
		DecoderPath: "/nonexistent/decoder.onnx",
	}, nil)
	test.That(t, p.ModelBacked(), test.ShouldBeFalse)
	test.That(t, p.Close(), test.ShouldBeNil)

	p = NewPredictor(SegmenterConfig{}, nil)
	test.That(t, p.ModelBacked(), test.ShouldBeFalse)
}

func TestPredictBeforeSetImage(t *testing.T) {
	p := NewPredictorWithModel(nil, nil)
	m, err := p.Predict(BoxPrompt(image.Rect(0, 0, 4, 4)))
	defer m.Close()
	test.That(t, errors.Is(err, ErrNoImage), test.ShouldBeTrue)

	empty := gocv.NewMat()
	defer empty.Close()
	test.That(t, p.SetImage(empty), test.ShouldNotBeNil)
}

func TestPredictFallbackEmptyPrompt(t *testing.T) {
	img := blankImage(48, 64)
	defer img.Close()

	p := NewPredictorWithModel(nil, nil)
	test.That(t, p.SetImage(img), test.ShouldBeNil)

	m, err := p.Predict(Prompt{})
	test.That(t, err, test.ShouldBeNil)
	defer m.Close()
	test.That(t, m.Rows(), test.ShouldEqual, 48)
	test.That(t, m.Cols(), test.ShouldEqual, 64)
	test.That(t, gocv.CountNonZero(m), test.ShouldEqual, 0)
}

func TestPredictFallbackBox(t *testing.T) {
	img := blankImage(100, 100)
	defer img.Close()

	p := NewPredictorWithModel(nil, nil)
	test.That(t, p.SetImage(img), test.ShouldBeNil)

	m, err := p.Predict(BoxPrompt(image.Rect(10, 20, 40, 60)))
	test.That(t, err, test.ShouldBeNil)
	defer m.Close()

	expected := rectMask(100, 100, image.Rect(10, 20, 40, 60))
	defer expected.Close()
	sameMask(t, m, expected)
	test.That(t, m.GetUCharAt(20, 10), test.ShouldEqual, 1)
	test.That(t, m.GetUCharAt(59, 39), test.ShouldEqual, 1)
	test.That(t, m.GetUCharAt(60, 39), test.ShouldEqual, 0)
	test.That(t, m.GetUCharAt(20, 40), test.ShouldEqual, 0)
}

func TestPredictFallbackPoints(t *testing.T) {
	img := blankImage(100, 100)
	defer img.Close()

	p := NewPredictorWithModel(nil, nil)
	test.That(t, p.SetImage(img), test.ShouldBeNil)

	m, err := p.Predict(PointPrompt(
		LabeledPoint{Point: image.Pt(50, 50), Label: 1},
		LabeledPoint{Point: image.Pt(10, 10), Label: 0},
	))
	test.That(t, err, test.ShouldBeNil)
	defer m.Close()
	test.That(t, m.GetUCharAt(50, 50), test.ShouldEqual, 1)
	test.That(t, m.GetUCharAt(50, 54), test.ShouldEqual, 1)
	test.That(t, m.GetUCharAt(10, 10), test.ShouldEqual, 0)
	test.That(t, m.GetUCharAt(50, 60), test.ShouldEqual, 0)
}

func TestPredictWithModelTakesFirstMask(t *testing.T) {
	img := blankImage(80, 80)
	defer img.Close()

	model := &fakeSegmentationModel{}
	p := NewPredictorWithModel(model, nil)
	test.That(t, p.ModelBacked(), test.ShouldBeTrue)
	test.That(t, p.SetImage(img), test.ShouldBeNil)
	test.That(t, model.setImages, test.ShouldEqual, 1)

	box := image.Rect(5, 5, 25, 15)
	m, err := p.Predict(BoxPrompt(box).WithPoints(LabeledPoint{Point: image.Pt(10, 10), Label: 1}))
	test.That(t, err, test.ShouldBeNil)
	defer m.Close()

	test.That(t, len(model.boxes), test.ShouldEqual, 1)
	test.That(t, *model.boxes[0], test.ShouldResemble, box)
	test.That(t, model.points[0], test.ShouldResemble, []image.Point{image.Pt(10, 10)})

	expected := rectMask(80, 80, box)
	defer expected.Close()
	sameMask(t, m, expected)

	// the empty prompt never reaches the model
	empty, err := p.Predict(Prompt{})
	test.That(t, err, test.ShouldBeNil)
	defer empty.Close()
	test.That(t, gocv.CountNonZero(empty), test.ShouldEqual, 0)
	test.That(t, len(model.boxes), test.ShouldEqual, 1)

	test.That(t, p.Close(), test.ShouldBeNil)
	test.That(t, model.closed, test.ShouldBeTrue)
}

func TestPredictWithModelError(t *testing.T) {
	img := blankImage(20, 20)
	defer img.Close()

	boom := errors.New("boom")
	p := NewPredictorWithModel(&fakeSegmentationModel{err: boom}, nil)
	test.That(t, p.SetImage(img), test.ShouldBeNil)

	m, err := p.Predict(BoxPrompt(image.Rect(0, 0, 5, 5)))
	defer m.Close()
	test.That(t, errors.Is(err, boom), test.ShouldBeTrue)
}

func TestPredictRejectsMisSizedMask(t *testing.T) {
	img := blankImage(80, 80)
	defer img.Close()

	model := &fakeSegmentationModel{maskSize: image.Pt(40, 40)}
	p := NewPredictorWithModel(model, nil)
	test.That(t, p.SetImage(img), test.ShouldBeNil)

	m, err := p.Predict(BoxPrompt(image.Rect(5, 5, 25, 15)))
	defer m.Close()
	test.That(t, err, test.ShouldNotBeNil)
	test.That(t, err.Error(), test.ShouldContainSubstring, "40x40 mask for 80x80 image")
	test.That(t, m.Empty(), test.ShouldBeTrue)
}
