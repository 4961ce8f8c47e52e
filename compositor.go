package animeface

import (
	"gocv.io/x/gocv"
)

const overlayOpacity = 0.5

// partColors are the BGR display colors of the parts.
var partColors = map[Part]gocv.Scalar{
	Neck:  gocv.NewScalar(255, 0, 255, 0),
	Eyes:  gocv.NewScalar(0, 255, 0, 0),
	Mouth: gocv.NewScalar(0, 0, 255, 0),
	Hair:  gocv.NewScalar(255, 0, 0, 0),
	Ears:  gocv.NewScalar(0, 255, 255, 0),
}

var defaultPartColor = gocv.NewScalar(255, 255, 255, 0)

// PartColor returns the BGR display color of part.
func PartColor(part Part) gocv.Scalar {
	if c, ok := partColors[part]; ok {
		return c
	}
	return defaultPartColor
}

// Overlay blends each part color at 50% into img over the part mask, in Parts order, so a later
// part wins where masks overlap. img is not modified.
func Overlay(img gocv.Mat, masks Masks) gocv.Mat {
	out := img.Clone()
	rows, cols := img.Rows(), img.Cols()

	for _, part := range Parts {
		mask, ok := masks[part]
		if !ok || mask.Empty() || gocv.CountNonZero(mask) == 0 {
			continue
		}

		fill := gocv.NewMatWithSizeFromScalar(PartColor(part), rows, cols, img.Type())
		blended := gocv.NewMat()
		gocv.AddWeighted(out, 1-overlayOpacity, fill, overlayOpacity, 0, &blended)
		blended.CopyToWithMask(&out, mask)

		blended.Close()
		fill.Close()
	}
	return out
}

// SemanticMap returns a CV_8UC1 label image: each pixel holds the 1-based position in order of
// the last part whose mask covers it, 0 for background. With no masks the result is empty.
func SemanticMap(masks Masks, order []Part) gocv.Mat {
	var rows, cols int
	found := false
	for _, part := range order {
		if m, ok := masks[part]; ok && !m.Empty() {
			rows, cols, found = m.Rows(), m.Cols(), true
			break
		}
	}
	if !found {
		return gocv.NewMat()
	}

	sem := zeroMask(rows, cols)
	for i, part := range order {
		mask, ok := masks[part]
		if !ok || mask.Empty() {
			continue
		}
		label := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(float64(i+1), 0, 0, 0), rows, cols, gocv.MatTypeCV8UC1)
		label.CopyToWithMask(&sem, mask)
		label.Close()
	}
	return sem
}
