package animeface

import (
	"fmt"
	"image"
	"strings"

	"gocv.io/x/gocv"
)

// Part is a semantic face region. Its numeric value is the label it gets in the semantic map.
type Part int

// Segmented parts, in semantic map label order.
const (
	Neck Part = iota + 1
	Eyes
	Mouth
	Hair
	Ears
)

const partCount = 5

// Parts is the fixed part order used for iteration, saving and semantic labels.
var Parts = []Part{Neck, Eyes, Mouth, Hair, Ears}

var partNames = [partCount + 1]string{"", "neck", "eyes", "mouth", "hair", "ears"}

// partLabels are the text labels sent to a region proposer for each part.
var partLabels = [partCount + 1]string{"", "neck", "eye", "mouth", "hair", "ear"}

// labelAliases maps every accepted detector label onto its part.
var labelAliases = map[string]Part{
	"eye":   Eyes,
	"eyes":  Eyes,
	"mouth": Mouth,
	"hair":  Hair,
	"ear":   Ears,
	"ears":  Ears,
	"neck":  Neck,
}

func init() {
	if len(Parts) != partCount {
		panic("animeface: part list out of sync")
	}
	for _, p := range Parts {
		if partNames[p] == "" || partLabels[p] == "" {
			panic(fmt.Sprintf("animeface: part %d has no name or label", int(p)))
		}
		if got, ok := labelAliases[partLabels[p]]; !ok || got != p {
			panic(fmt.Sprintf("animeface: label %q does not map back to %s", partLabels[p], partNames[p]))
		}
	}
}

func (p Part) valid() bool {
	return p >= Neck && p <= Ears
}

// String returns the part name, e.g. "eyes".
func (p Part) String() string {
	if !p.valid() {
		return fmt.Sprintf("Part(%d)", int(p))
	}
	return partNames[p]
}

// Label returns the text label a region proposer is asked for.
func (p Part) Label() string {
	if !p.valid() {
		return ""
	}
	return partLabels[p]
}

// PartForLabel resolves a detector text label. Unknown labels report false.
func PartForLabel(label string) (Part, bool) {
	p, ok := labelAliases[strings.ToLower(strings.TrimSpace(label))]
	return p, ok
}

// ParsePart resolves a part name.
func ParsePart(name string) (Part, bool) {
	for _, p := range Parts {
		if partNames[p] == name {
			return p, true
		}
	}
	return 0, false
}

// Detection is a one region detection on image.
type Detection struct {
	Rectangle  image.Rectangle
	Confidence float64
}

// LabeledPoint is a prompt point. Label 1 marks a point inside the region, 0 outside.
type LabeledPoint struct {
	Point image.Point
	Label int
}

// PartMetadata is the area and inclusive bounding box [x0, y0, x1, y1] of a mask.
// An empty mask has zero area and a zero box.
type PartMetadata struct {
	Area int    `json:"area"`
	BBox [4]int `json:"bbox"`
}

// Masks holds one binary mask per part.
type Masks map[Part]gocv.Mat

// Close releases every mask.
func (m Masks) Close() {
	for p, mat := range m {
		mat.Close()
		delete(m, p)
	}
}
