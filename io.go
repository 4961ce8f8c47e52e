package animeface

import (
	"encoding/json"
	"os"
	"path/filepath"

	"github.com/pkg/errors"
	"gocv.io/x/gocv"
)

// ErrImageNotFound is returned when an image file is missing or cannot be decoded.
var ErrImageNotFound = errors.New("image not found")

// Output file names inside a result directory.
const (
	OverlayFile   = "overlay.png"
	SemanticsFile = "semantics.png"
	MetadataFile  = "meta.json"
)

// LoadImage reads a BGR image from path.
func LoadImage(path string) (gocv.Mat, error) {
	if _, err := os.Stat(path); err != nil {
		return gocv.NewMat(), errors.Wrapf(ErrImageNotFound, "%s: %v", path, err)
	}
	img := gocv.IMRead(path, gocv.IMReadColor)
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), errors.Wrapf(ErrImageNotFound, "%s: cannot decode", path)
	}
	return img, nil
}

// DecodeImage decodes an encoded JPEG or PNG into a BGR image.
func DecodeImage(data []byte) (gocv.Mat, error) {
	img, err := gocv.IMDecode(data, gocv.IMReadColor)
	if err != nil {
		img.Close()
		return gocv.NewMat(), errors.Wrap(err, "decode image")
	}
	if img.Empty() {
		img.Close()
		return gocv.NewMat(), errors.New("decode image: unsupported or corrupt data")
	}
	return img, nil
}

// EncodePNG encodes img as PNG.
func EncodePNG(img gocv.Mat) ([]byte, error) {
	buf, err := gocv.IMEncode(gocv.PNGFileExt, img)
	if err != nil {
		return nil, errors.Wrap(err, "encode png")
	}
	defer buf.Close()

	out := make([]byte, buf.Len())
	copy(out, buf.GetBytes())
	return out, nil
}

// MaskImage returns mask scaled to 0/255 for viewing and persisting.
func MaskImage(mask gocv.Mat) gocv.Mat {
	out := gocv.NewMat()
	if mask.Empty() {
		return out
	}
	gocv.Threshold(mask, &out, 0, 255, gocv.ThresholdBinary)
	return out
}

// SaveMask writes mask as a 0/255 single-channel PNG, creating parent directories.
func SaveMask(path string, mask gocv.Mat) error {
	if mask.Empty() {
		return errors.Errorf("save mask %s: empty mask", path)
	}
	img := MaskImage(mask)
	defer img.Close()
	return saveImage(path, img)
}

// SaveMetadata writes meta as indented JSON, creating parent directories.
func SaveMetadata(path string, meta Metadata) error {
	data, err := json.MarshalIndent(meta, "", "  ")
	if err != nil {
		return errors.Wrap(err, "marshal metadata")
	}
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create metadata dir")
	}
	if err := os.WriteFile(path, append(data, '\n'), 0o644); err != nil {
		return errors.Wrap(err, "write metadata")
	}
	return nil
}

func saveImage(path string, img gocv.Mat) error {
	if err := os.MkdirAll(filepath.Dir(path), 0o755); err != nil {
		return errors.Wrap(err, "create image dir")
	}
	if !gocv.IMWrite(path, img) {
		return errors.Errorf("cannot write %s", path)
	}
	return nil
}

// Files lists the file names Save writes, in write order.
func (r *Result) Files() []string {
	names := make([]string, 0, len(Parts)+3)
	for _, part := range Parts {
		names = append(names, part.String()+".png")
	}
	return append(names, OverlayFile, SemanticsFile, MetadataFile)
}

// Save writes one PNG per part, the overlay, the semantic map and meta.json into dir. Files are
// staged in a temporary directory under dir and moved into place once every write succeeded; a
// failed move leaves dir as it was.
func (r *Result) Save(dir string) error {
	if err := os.MkdirAll(dir, 0o755); err != nil {
		return errors.Wrap(err, "create output dir")
	}
	staging, err := os.MkdirTemp(dir, ".partial-")
	if err != nil {
		return errors.Wrap(err, "create staging dir")
	}
	defer os.RemoveAll(staging)

	for _, part := range Parts {
		mask, ok := r.Masks[part]
		if !ok || mask.Empty() {
			return errors.Errorf("result has no %s mask", part)
		}
		if err := SaveMask(filepath.Join(staging, part.String()+".png"), mask); err != nil {
			return errors.Wrapf(err, "save %s", part)
		}
	}
	if err := saveImage(filepath.Join(staging, OverlayFile), r.Overlay); err != nil {
		return errors.Wrap(err, "save overlay")
	}
	if err := saveImage(filepath.Join(staging, SemanticsFile), r.Semantic); err != nil {
		return errors.Wrap(err, "save semantics")
	}
	if err := SaveMetadata(filepath.Join(staging, MetadataFile), r.Metadata); err != nil {
		return err
	}

	return commit(staging, dir, r.Files())
}

// commit moves names from staging into dir. Existing files are parked under staging first; on
// any failure the moved files are taken out again and the parked ones restored.
func commit(staging, dir string, names []string) error {
	previous := filepath.Join(staging, ".previous")
	if err := os.Mkdir(previous, 0o755); err != nil {
		return errors.Wrap(err, "create backup dir")
	}

	type entry struct {
		name           string
		parked, placed bool
	}
	var done []entry
	rollback := func() {
		for i := len(done) - 1; i >= 0; i-- {
			e := done[i]
			if e.placed {
				_ = os.Remove(filepath.Join(dir, e.name))
			}
			if e.parked {
				_ = os.Rename(filepath.Join(previous, e.name), filepath.Join(dir, e.name))
			}
		}
	}

	for _, name := range names {
		target := filepath.Join(dir, name)
		e := entry{name: name}
		if info, err := os.Lstat(target); err == nil && !info.IsDir() {
			if err := os.Rename(target, filepath.Join(previous, name)); err != nil {
				rollback()
				return errors.Wrapf(err, "move %s aside", name)
			}
			e.parked = true
		}
		if err := os.Rename(filepath.Join(staging, name), target); err != nil {
			done = append(done, e)
			rollback()
			return errors.Wrapf(err, "move %s", name)
		}
		e.placed = true
		done = append(done, e)
	}
	return nil
}
