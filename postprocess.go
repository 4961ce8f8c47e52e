package animeface

import (
	"image"

	"gocv.io/x/gocv"
)

// DefaultKernelSize is the side of the square structuring element used by Clean.
const DefaultKernelSize = 3

// column of cv::CC_STAT_AREA in the stats matrix of connectedComponentsWithStats.
const statArea = 4

// Binarize returns a CV_8UC1 copy of mask with every nonzero pixel set to 1.
func Binarize(mask gocv.Mat) gocv.Mat {
	bin := gocv.NewMat()
	if mask.Empty() {
		return bin
	}
	gocv.Threshold(mask, &bin, 0, 1, gocv.ThresholdBinary)
	return bin
}

// Clean binarizes mask, then applies a morphological opening followed by a closing with a
// kernelSize x kernelSize square kernel. Opening drops isolated specks, closing fills pinholes.
// An all-zero mask comes back all-zero.
func Clean(mask gocv.Mat, kernelSize int) gocv.Mat {
	out := Binarize(mask)
	if out.Empty() || gocv.CountNonZero(out) == 0 {
		return out
	}
	if kernelSize < 1 {
		kernelSize = DefaultKernelSize
	}

	kernel := gocv.GetStructuringElement(gocv.MorphRect, image.Pt(kernelSize, kernelSize))
	defer kernel.Close()

	gocv.MorphologyEx(out, &out, gocv.MorphOpen, kernel)
	gocv.MorphologyEx(out, &out, gocv.MorphClose, kernel)
	return out
}

// LargestComponent keeps the biggest 8-connected component of mask. With fewer than two
// components the binarized mask is returned as is.
func LargestComponent(mask gocv.Mat) gocv.Mat {
	bin := Binarize(mask)
	if bin.Empty() {
		return bin
	}

	labels := gocv.NewMat()
	defer labels.Close()
	stats := gocv.NewMat()
	defer stats.Close()
	centroids := gocv.NewMat()
	defer centroids.Close()

	n := gocv.ConnectedComponentsWithStats(bin, &labels, &stats, &centroids)
	if n <= 2 {
		return bin
	}

	largest, maxArea := 1, stats.GetIntAt(1, statArea)
	for i := 2; i < n; i++ {
		if area := stats.GetIntAt(i, statArea); area > maxArea {
			largest, maxArea = i, area
		}
	}

	out := gocv.NewMat()
	lv := gocv.NewScalar(float64(largest), 0, 0, 0)
	gocv.InRangeWithScalar(labels, lv, lv, &out)
	gocv.Threshold(out, &out, 0, 1, gocv.ThresholdBinary)
	bin.Close()
	return out
}

// maskBounds returns the tight bounding box of the nonzero pixels of mask, with an exclusive
// Max corner. An empty mask gives the zero rectangle.
func maskBounds(mask gocv.Mat) image.Rectangle {
	if mask.Empty() || gocv.CountNonZero(mask) == 0 {
		return image.Rectangle{}
	}

	contours := gocv.FindContours(mask, gocv.RetrievalExternal, gocv.ChainApproxSimple)
	defer contours.Close()

	var union image.Rectangle
	for i := 0; i < contours.Size(); i++ {
		r := gocv.BoundingRect(contours.At(i))
		if i == 0 {
			union = r
		} else {
			union = union.Union(r)
		}
	}
	return union
}

func zeroMask(rows, cols int) gocv.Mat {
	return gocv.NewMatWithSizeFromScalar(gocv.NewScalar(0, 0, 0, 0), rows, cols, gocv.MatTypeCV8UC1)
}

// fillRect sets r, clipped to the mask, to value. A rectangle with Min past Max is empty, the
// same as a reversed slice range.
func fillRect(mask *gocv.Mat, r image.Rectangle, value float64) {
	r = r.Intersect(image.Rect(0, 0, mask.Cols(), mask.Rows()))
	if r.Empty() {
		return
	}
	region := mask.Region(r)
	defer region.Close()
	region.SetTo(gocv.NewScalar(value, value, value, 0))
}

// zeroRows clears rows [from, to) of mask.
func zeroRows(mask *gocv.Mat, from, to int) {
	fillRect(mask, image.Rectangle{Min: image.Pt(0, from), Max: image.Pt(mask.Cols(), to)}, 0)
}

// zeroCols clears columns [from, to) of mask.
func zeroCols(mask *gocv.Mat, from, to int) {
	fillRect(mask, image.Rectangle{Min: image.Pt(from, 0), Max: image.Pt(to, mask.Rows())}, 0)
}
