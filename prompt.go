package animeface

import (
	"image"

	"gocv.io/x/gocv"
)

// Prompt asks a promptable segmenter for one region. It carries an optional box and any number
// of labeled points. The zero value is the empty prompt.
type Prompt struct {
	box    image.Rectangle
	hasBox bool
	points []LabeledPoint
}

// BoxPrompt returns a prompt holding only box. An empty box gives the empty prompt.
func BoxPrompt(box image.Rectangle) Prompt {
	if box.Empty() {
		return Prompt{}
	}
	return Prompt{box: box, hasBox: true}
}

// PointPrompt returns a prompt holding only points.
func PointPrompt(points ...LabeledPoint) Prompt {
	return Prompt{}.WithPoints(points...)
}

// WithPoints returns a copy of p with points appended.
func (p Prompt) WithPoints(points ...LabeledPoint) Prompt {
	if len(points) == 0 {
		return p
	}
	merged := make([]LabeledPoint, 0, len(p.points)+len(points))
	merged = append(merged, p.points...)
	p.points = append(merged, points...)
	return p
}

// Box returns the prompt box and whether there is one.
func (p Prompt) Box() (image.Rectangle, bool) {
	return p.box, p.hasBox
}

// Points returns the prompt points.
func (p Prompt) Points() []LabeledPoint {
	return p.points
}

// IsEmpty reports whether the prompt has neither box nor points.
func (p Prompt) IsEmpty() bool {
	return !p.hasBox && len(p.points) == 0
}

// PromptFromMask turns the bounding box of the nonzero pixels of mask into a box prompt.
// An all-zero mask gives the empty prompt.
func PromptFromMask(mask gocv.Mat) Prompt {
	return BoxPrompt(maskBounds(mask))
}
