package animeface

import (
	"image"

	"go.uber.org/zap"
	"gocv.io/x/gocv"
)

// colorRange is an inclusive per-channel BGR range.
type colorRange struct {
	lower, upper gocv.Scalar
}

func bgrRange(lb, lg, lr, ub, ug, ur float64) colorRange {
	return colorRange{
		lower: gocv.NewScalar(lb, lg, lr, 0),
		upper: gocv.NewScalar(ub, ug, ur, 0),
	}
}

// Base color ranges, BGR.
var (
	skinRange  = bgrRange(170, 150, 120, 255, 220, 200)
	whiteRange = bgrRange(240, 240, 240, 255, 255, 255)
	redRange   = bgrRange(0, 0, 200, 80, 80, 255)
	darkRange  = bgrRange(0, 0, 0, 80, 80, 80)
)

// Part windows as fractions of the face box derived from the skin mask.
const (
	neckTop    = 0.6
	neckExtend = 0.3 // below the face box bottom
	neckLeft   = 0.2
	neckRight  = 0.8

	eyesTop    = 0.2
	eyesBottom = 0.6

	mouthTop = 0.55

	hairBottom = 0.2

	earsTop        = 0.2
	earsBottom     = 0.8
	earsInnerLeft  = 0.15
	earsInnerRight = 0.85
)

// HeuristicSegmenter splits a face image into parts with fixed color thresholds and windows
// relative to the face box. It needs no model and is fully deterministic.
type HeuristicSegmenter struct {
	kernelSize int
	logger     *zap.Logger
}

// NewHeuristicSegmenter creates a segmenter. A nil logger disables logging.
func NewHeuristicSegmenter(logger *zap.Logger) *HeuristicSegmenter {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &HeuristicSegmenter{kernelSize: DefaultKernelSize, logger: logger}
}

// Segment returns one mask per part for a BGR image. Masks are CV_8UC1 with values 0/1 and
// the image size. If no skin is found every mask is empty.
func (s *HeuristicSegmenter) Segment(img gocv.Mat) Masks {
	rows, cols := img.Rows(), img.Cols()

	skin := s.threshold(img, skinRange)
	defer skin.Close()
	white := s.threshold(img, whiteRange)
	defer white.Close()
	red := s.threshold(img, redRange)
	defer red.Close()
	dark := s.threshold(img, darkRange)
	defer dark.Close()

	face := maskBounds(skin)
	if face.Empty() {
		s.logger.Debug("no skin found, all parts empty")
		masks := make(Masks, len(Parts))
		for _, p := range Parts {
			masks[p] = zeroMask(rows, cols)
		}
		return masks
	}

	x, y, w, h := face.Min.X, face.Min.Y, face.Dx(), face.Dy()
	s.logger.Debug("face box", zap.Int("x", x), zap.Int("y", y), zap.Int("w", w), zap.Int("h", h))

	neckBox := zeroMask(rows, cols)
	defer neckBox.Close()
	fillRect(&neckBox, image.Rectangle{
		Min: image.Pt(x+frac(w, neckLeft), y+frac(h, neckTop)),
		Max: image.Pt(x+frac(w, neckRight), min(rows, y+h+frac(h, neckExtend))),
	}, 1)
	gocv.BitwiseAnd(neckBox, skin, &neckBox)
	neck := Clean(neckBox, s.kernelSize)

	eyes := white.Clone()
	zeroRows(&eyes, 0, y+frac(h, eyesTop))
	zeroRows(&eyes, y+frac(h, eyesBottom), rows)

	mouth := red.Clone()
	zeroRows(&mouth, 0, y+frac(h, mouthTop))

	hair := dark.Clone()
	zeroRows(&hair, y+frac(h, hairBottom), rows)

	earsBand := skin.Clone()
	defer earsBand.Close()
	zeroRows(&earsBand, 0, y+frac(h, earsTop))
	zeroRows(&earsBand, y+frac(h, earsBottom), rows)
	zeroCols(&earsBand, x+frac(w, earsInnerLeft), x+frac(w, earsInnerRight))
	ears := Clean(earsBand, s.kernelSize)

	return Masks{
		Neck:  neck,
		Eyes:  eyes,
		Mouth: mouth,
		Hair:  hair,
		Ears:  ears,
	}
}

func (s *HeuristicSegmenter) threshold(img gocv.Mat, r colorRange) gocv.Mat {
	raw := gocv.NewMat()
	defer raw.Close()
	gocv.InRangeWithScalar(img, r.lower, r.upper, &raw)
	return Clean(raw, s.kernelSize)
}

// frac truncates f*v toward zero.
func frac(v int, f float64) int {
	return int(f * float64(v))
}
