package animeface

import (
	"image"
	"image/color"
	"math"
	"os"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// SAM-style encoder input and normalization.
const (
	samInputSize = 1024
	samMaskSize  = 256
	samPixelStd  = 57.375
)

// samMean is the RGB pixel mean; samPad is the same color as a BGR border so padding
// normalizes to roughly zero.
var (
	samMean = gocv.NewScalar(123.675, 116.28, 103.53, 0)
	samPad  = color.RGBA{R: 124, G: 116, B: 104, A: 0}
)

// SAM prompt point labels.
const (
	samLabelPad     = -1
	samLabelBoxMin  = 2
	samLabelBoxMax  = 3
	samDecoderMasks = "masks"
)

// dnnSegmentationModel runs an exported SAM image encoder and prompt decoder through the OpenCV
// DNN module. The decoder returns mask logits already mapped back to the input image size.
type dnnSegmentationModel struct {
	encoder   gocv.Net
	decoder   gocv.Net
	embedding gocv.Mat
	size      image.Point
	scale     float64
}

// LoadSegmentationModel loads the encoder and decoder described by cfg.
func LoadSegmentationModel(cfg SegmenterConfig) (SegmentationModel, error) {
	if cfg.EncoderPath == "" || cfg.DecoderPath == "" {
		return nil, errors.New("segmenter needs both encoder and decoder paths")
	}
	for _, p := range []string{cfg.EncoderPath, cfg.DecoderPath} {
		if _, err := os.Stat(p); err != nil {
			return nil, errors.Wrap(err, "stat segmenter file")
		}
	}

	encoder := gocv.ReadNet(cfg.EncoderPath, "")
	if encoder.Empty() {
		encoder.Close()
		return nil, errors.Errorf("cannot load encoder %s", cfg.EncoderPath)
	}
	decoder := gocv.ReadNet(cfg.DecoderPath, "")
	if decoder.Empty() {
		encoder.Close()
		decoder.Close()
		return nil, errors.Errorf("cannot load decoder %s", cfg.DecoderPath)
	}
	return &dnnSegmentationModel{encoder: encoder, decoder: decoder, embedding: gocv.NewMat()}, nil
}

// SetImage implements SegmentationModel.
func (m *dnnSegmentationModel) SetImage(img gocv.Mat) error {
	rows, cols := img.Rows(), img.Cols()
	scale := float64(samInputSize) / math.Max(float64(rows), float64(cols))
	w := int(float64(cols)*scale + 0.5)
	h := int(float64(rows)*scale + 0.5)

	resized := gocv.NewMat()
	defer resized.Close()
	gocv.Resize(img, &resized, image.Pt(w, h), 0, 0, gocv.InterpolationLinear)

	padded := gocv.NewMat()
	defer padded.Close()
	gocv.CopyMakeBorder(resized, &padded, 0, samInputSize-h, 0, samInputSize-w, gocv.BorderConstant, samPad)

	blob := gocv.BlobFromImage(padded, 1.0/samPixelStd, image.Pt(samInputSize, samInputSize), samMean, true, false)
	defer blob.Close()

	m.encoder.SetInput(blob, "")
	if err := m.replaceEmbedding(m.encoder.Forward("")); err != nil {
		return err
	}
	m.size = image.Pt(cols, rows)
	m.scale = scale
	return nil
}

// replaceEmbedding takes ownership of next. An empty next is released and the current embedding
// kept.
func (m *dnnSegmentationModel) replaceEmbedding(next gocv.Mat) error {
	if next.Empty() {
		next.Close()
		return errors.New("encoder produced no embedding")
	}
	m.embedding.Close()
	m.embedding = next
	return nil
}

// Predict implements SegmentationModel.
func (m *dnnSegmentationModel) Predict(points []image.Point, labels []int, box *image.Rectangle) ([]gocv.Mat, error) {
	if m.embedding.Empty() {
		return nil, ErrNoImage
	}

	type samPoint struct {
		x, y  float32
		label float32
	}
	var prompt []samPoint
	for i, pt := range points {
		label := 1
		if i < len(labels) {
			label = labels[i]
		}
		prompt = append(prompt, samPoint{m.scaled(pt.X), m.scaled(pt.Y), float32(label)})
	}
	if box != nil {
		prompt = append(prompt,
			samPoint{m.scaled(box.Min.X), m.scaled(box.Min.Y), samLabelBoxMin},
			samPoint{m.scaled(box.Max.X), m.scaled(box.Max.Y), samLabelBoxMax})
	} else {
		prompt = append(prompt, samPoint{0, 0, samLabelPad})
	}

	coords := gocv.NewMatWithSizes([]int{1, len(prompt), 2}, gocv.MatTypeCV32F)
	defer coords.Close()
	pointLabels := gocv.NewMatWithSizes([]int{1, len(prompt)}, gocv.MatTypeCV32F)
	defer pointLabels.Close()

	cd, err := coords.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "point coords")
	}
	ld, err := pointLabels.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "point labels")
	}
	for i, p := range prompt {
		cd[2*i], cd[2*i+1] = p.x, p.y
		ld[i] = p.label
	}

	zero := gocv.NewScalar(0, 0, 0, 0)
	maskInput := gocv.NewMatWithSizesWithScalar([]int{1, 1, samMaskSize, samMaskSize}, gocv.MatTypeCV32F, zero)
	defer maskInput.Close()
	hasMask := gocv.NewMatWithSizesWithScalar([]int{1}, gocv.MatTypeCV32F, zero)
	defer hasMask.Close()
	origSize := gocv.NewMatWithSizes([]int{2}, gocv.MatTypeCV32F)
	defer origSize.Close()
	od, err := origSize.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "orig size")
	}
	od[0], od[1] = float32(m.size.Y), float32(m.size.X)

	m.decoder.SetInput(m.embedding, "image_embeddings")
	m.decoder.SetInput(coords, "point_coords")
	m.decoder.SetInput(pointLabels, "point_labels")
	m.decoder.SetInput(maskInput, "mask_input")
	m.decoder.SetInput(hasMask, "has_mask_input")
	m.decoder.SetInput(origSize, "orig_im_size")

	outs := m.decoder.ForwardLayers([]string{samDecoderMasks})
	defer func() {
		for i := range outs {
			outs[i].Close()
		}
	}()
	if len(outs) == 0 || outs[0].Empty() {
		return nil, errors.New("decoder produced no masks")
	}

	logits, err := outs[0].DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read mask logits")
	}
	plane := m.size.X * m.size.Y
	if len(logits) < plane {
		return nil, errors.Errorf("mask logits hold %d values, want %d", len(logits), plane)
	}

	var masks []gocv.Mat
	for off := 0; off+plane <= len(logits); off += plane {
		buf := make([]byte, plane)
		for i, v := range logits[off : off+plane] {
			if v > 0 {
				buf[i] = 1
			}
		}
		mask, err := gocv.NewMatFromBytes(m.size.Y, m.size.X, gocv.MatTypeCV8UC1, buf)
		if err != nil {
			for i := range masks {
				masks[i].Close()
			}
			return nil, errors.Wrap(err, "build mask")
		}
		// the header aliases buf; keep an owned copy
		masks = append(masks, mask.Clone())
		mask.Close()
	}
	return masks, nil
}

// Close implements SegmentationModel.
func (m *dnnSegmentationModel) Close() error {
	m.embedding.Close()
	if err := m.encoder.Close(); err != nil {
		m.decoder.Close()
		return err
	}
	return m.decoder.Close()
}

func (m *dnnSegmentationModel) scaled(v int) float32 {
	return float32(float64(v) * m.scale)
}
