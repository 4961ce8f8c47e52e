package animeface

import (
	"image"
	"image/color"
	"testing"

	"go.viam.com/test"
	"gocv.io/x/gocv"
)

// Synthetic face colors. gocv drawing takes color.RGBA and writes B, G, R into a BGR Mat.
var (
	skinColor  = color.RGBA{R: 150, G: 180, B: 200}
	hairColor  = color.RGBA{R: 50, G: 50, B: 50}
	mouthColor = color.RGBA{R: 255}
	whiteColor = color.RGBA{R: 255, G: 255, B: 255}
)

// syntheticFace draws a 256x256 anime-style face on a white background: skin ellipse face, a
// dark hair block, white eyes, a red mouth, a skin neck and two skin ears.
func syntheticFace() gocv.Mat {
	img := gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), 256, 256, gocv.MatTypeCV8UC3)

	gocv.Ellipse(&img, image.Pt(128, 120), image.Pt(60, 80), 0, 0, 360, skinColor, -1)
	gocv.Rectangle(&img, image.Rect(68, 40, 188, 80), hairColor, -1)
	gocv.Ellipse(&img, image.Pt(100, 110), image.Pt(15, 10), 0, 0, 360, whiteColor, -1)
	gocv.Ellipse(&img, image.Pt(156, 110), image.Pt(15, 10), 0, 0, 360, whiteColor, -1)
	gocv.Ellipse(&img, image.Pt(128, 160), image.Pt(20, 16), 0, 0, 360, mouthColor, -1)
	gocv.Rectangle(&img, image.Rect(108, 200, 148, 240), skinColor, -1)
	gocv.Ellipse(&img, image.Pt(68, 120), image.Pt(12, 20), 0, 0, 360, skinColor, -1)
	gocv.Ellipse(&img, image.Pt(188, 120), image.Pt(12, 20), 0, 0, 360, skinColor, -1)
	return img
}

func blankImage(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(255, 255, 255, 0), rows, cols, gocv.MatTypeCV8UC3)
}

// rectMask returns a 0/1 mask of the given size with the rectangles set.
func rectMask(rows, cols int, rects ...image.Rectangle) gocv.Mat {
	m := zeroMask(rows, cols)
	for _, r := range rects {
		fillRect(&m, r, 1)
	}
	return m
}

// sameMask asserts a and b hold the same pixels. It works for multi-channel images too.
func sameMask(t *testing.T, a, b gocv.Mat) {
	t.Helper()
	test.That(t, a.Rows(), test.ShouldEqual, b.Rows())
	test.That(t, a.Cols(), test.ShouldEqual, b.Cols())
	test.That(t, a.Channels(), test.ShouldEqual, b.Channels())

	diff := gocv.NewMat()
	defer diff.Close()
	gocv.AbsDiff(a, b, &diff)
	flat := diff.Reshape(1, 0)
	defer flat.Close()
	test.That(t, gocv.CountNonZero(flat), test.ShouldEqual, 0)
}

func overlap(a, b gocv.Mat) int {
	both := gocv.NewMat()
	defer both.Close()
	gocv.BitwiseAnd(a, b, &both)
	return gocv.CountNonZero(both)
}

func maxValue(m gocv.Mat) float32 {
	_, maxVal, _, _ := gocv.MinMaxLoc(m)
	return maxVal
}
