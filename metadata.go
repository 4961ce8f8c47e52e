package animeface

import (
	"bytes"
	"encoding/json"

	"gocv.io/x/gocv"
)

// Metadata maps parts to their mask statistics.
type Metadata map[Part]PartMetadata

// MaskMetadata returns the area and inclusive bounding box of mask.
func MaskMetadata(mask gocv.Mat) PartMetadata {
	if mask.Empty() {
		return PartMetadata{}
	}
	area := gocv.CountNonZero(mask)
	if area == 0 {
		return PartMetadata{}
	}
	r := maskBounds(mask)
	return PartMetadata{
		Area: area,
		BBox: [4]int{r.Min.X, r.Min.Y, r.Max.X - 1, r.Max.Y - 1},
	}
}

// ExtractMetadata computes metadata for every part; missing masks count as empty.
func ExtractMetadata(masks Masks) Metadata {
	meta := make(Metadata, len(Parts))
	for _, part := range Parts {
		meta[part] = MaskMetadata(masks[part])
	}
	return meta
}

// MarshalJSON writes the parts in Parts order, keyed by part name.
func (m Metadata) MarshalJSON() ([]byte, error) {
	var buf bytes.Buffer
	buf.WriteByte('{')
	first := true
	for _, part := range Parts {
		pm, ok := m[part]
		if !ok {
			continue
		}
		if !first {
			buf.WriteByte(',')
		}
		first = false

		key, err := json.Marshal(part.String())
		if err != nil {
			return nil, err
		}
		val, err := json.Marshal(pm)
		if err != nil {
			return nil, err
		}
		buf.Write(key)
		buf.WriteByte(':')
		buf.Write(val)
	}
	buf.WriteByte('}')
	return buf.Bytes(), nil
}

// UnmarshalJSON reads metadata keyed by part name. Unknown names are ignored.
func (m *Metadata) UnmarshalJSON(data []byte) error {
	var raw map[string]PartMetadata
	if err := json.Unmarshal(data, &raw); err != nil {
		return err
	}
	out := make(Metadata, len(raw))
	for name, pm := range raw {
		if part, ok := ParsePart(name); ok {
			out[part] = pm
		}
	}
	*m = out
	return nil
}
