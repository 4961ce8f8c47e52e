package animeface

import (
	"bufio"
	"image"
	"os"
	"sort"
	"strings"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

const (
	defaultProposalInputSize = 640
	proposalNMSThreshold     = 0.5
)

// dnnProposalModel runs an exported closed-vocabulary detector through the OpenCV DNN module.
// The network output is [1, 4+classes, anchors] with rows cx, cy, w, h followed by class scores,
// all in network input coordinates.
type dnnProposalModel struct {
	net       gocv.Net
	classes   []string
	inputSize int
}

// LoadProposalModel loads the network and class names described by cfg.
func LoadProposalModel(cfg DetectorConfig) (ProposalModel, error) {
	if cfg.ModelPath == "" {
		return nil, errors.New("detector model path is not set")
	}
	if cfg.LabelsPath == "" {
		return nil, errors.New("detector labels path is not set")
	}
	for _, p := range []string{cfg.ModelPath, cfg.ConfigPath, cfg.LabelsPath} {
		if p == "" {
			continue
		}
		if _, err := os.Stat(p); err != nil {
			return nil, errors.Wrap(err, "stat detector file")
		}
	}

	classes, err := readClassNames(cfg.LabelsPath)
	if err != nil {
		return nil, err
	}

	net := gocv.ReadNet(cfg.ModelPath, cfg.ConfigPath)
	if net.Empty() {
		net.Close()
		return nil, errors.Errorf("cannot load detector network %s", cfg.ModelPath)
	}

	size := cfg.InputSize
	if size <= 0 {
		size = defaultProposalInputSize
	}
	return &dnnProposalModel{net: net, classes: classes, inputSize: size}, nil
}

// Predict implements ProposalModel. The network has no text branch, so the caption only picks
// the class and textThreshold is ignored.
func (m *dnnProposalModel) Predict(img gocv.Mat, caption string, boxThreshold, textThreshold float32) ([]Detection, error) {
	cls := m.classIndex(caption)
	if cls < 0 {
		return nil, nil
	}

	blob := gocv.BlobFromImage(img, 1.0/255.0, image.Pt(m.inputSize, m.inputSize),
		gocv.NewScalar(0, 0, 0, 0), true, false)
	defer blob.Close()

	m.net.SetInput(blob, "")
	out := m.net.Forward("")
	defer out.Close()

	shape := out.Size()
	if len(shape) != 3 || shape[1] != 4+len(m.classes) {
		return nil, errors.Errorf("unexpected detector output shape %v", shape)
	}
	anchors := shape[2]

	data, err := out.DataPtrFloat32()
	if err != nil {
		return nil, errors.Wrap(err, "read detector output")
	}

	sx := float32(img.Cols()) / float32(m.inputSize)
	sy := float32(img.Rows()) / float32(m.inputSize)
	bounds := image.Rect(0, 0, img.Cols(), img.Rows())

	var candidates []Detection
	for a := 0; a < anchors; a++ {
		score := data[(4+cls)*anchors+a]
		if score < boxThreshold {
			continue
		}
		cx, cy := data[a], data[anchors+a]
		w, h := data[2*anchors+a], data[3*anchors+a]
		r := image.Rect(
			int((cx-w/2)*sx), int((cy-h/2)*sy),
			int((cx+w/2)*sx), int((cy+h/2)*sy),
		).Intersect(bounds)
		if r.Empty() {
			continue
		}
		candidates = append(candidates, Detection{Rectangle: r, Confidence: float64(score)})
	}
	return suppress(candidates, proposalNMSThreshold), nil
}

// Close implements ProposalModel.
func (m *dnnProposalModel) Close() error {
	return m.net.Close()
}

// classIndex matches caption against the class names, ignoring case and a plural "s".
func (m *dnnProposalModel) classIndex(caption string) int {
	want := strings.TrimSuffix(strings.ToLower(strings.TrimSpace(caption)), "s")
	for i, name := range m.classes {
		if strings.TrimSuffix(strings.ToLower(name), "s") == want {
			return i
		}
	}
	return -1
}

func readClassNames(path string) ([]string, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, errors.Wrap(err, "open class names")
	}
	defer f.Close()

	var names []string
	sc := bufio.NewScanner(f)
	for sc.Scan() {
		if name := strings.TrimSpace(sc.Text()); name != "" {
			names = append(names, name)
		}
	}
	if err := sc.Err(); err != nil {
		return nil, errors.Wrap(err, "read class names")
	}
	if len(names) == 0 {
		return nil, errors.Errorf("no class names in %s", path)
	}
	return names, nil
}

// suppress is greedy non-maximum suppression: boxes are taken by descending confidence and any
// box overlapping a taken one by more than iouThreshold is dropped.
func suppress(dets []Detection, iouThreshold float64) []Detection {
	sort.SliceStable(dets, func(i, j int) bool {
		return dets[i].Confidence > dets[j].Confidence
	})

	var kept []Detection
	for _, d := range dets {
		overlaps := false
		for _, k := range kept {
			if iou(d.Rectangle, k.Rectangle) > iouThreshold {
				overlaps = true
				break
			}
		}
		if !overlaps {
			kept = append(kept, d)
		}
	}
	return kept
}

func iou(a, b image.Rectangle) float64 {
	inter := a.Intersect(b)
	if inter.Empty() {
		return 0
	}
	ia := inter.Dx() * inter.Dy()
	union := a.Dx()*a.Dy() + b.Dx()*b.Dy() - ia
	if union == 0 {
		return 0
	}
	return float64(ia) / float64(union)
}
