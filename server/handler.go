package server

import (
	"crypto/md5"
	"encoding/base64"
	"encoding/hex"
	"fmt"
	"io"
	"mime/multipart"
	"net/http"
	"sync"

	"github.com/gin-gonic/gin"
	"github.com/pkg/errors"
	"go.uber.org/zap"
	"gocv.io/x/gocv"
	"golang.org/x/sync/errgroup"

	"github.com/Hejaii/animeface"
	"github.com/Hejaii/animeface/config"
)

// Processor segments one image.
type Processor interface {
	Process(img gocv.Mat) (*animeface.Result, error)
}

// Handler serves segmentation requests. Processing is serialized because the pipeline adapters
// hold per-image state.
type Handler struct {
	mu        sync.Mutex
	processor Processor
	cache     *Cache
	upload    config.UploadConfig
	logger    *zap.Logger
}

// NewHandler creates a handler. cache may be nil.
func NewHandler(processor Processor, cache *Cache, upload config.UploadConfig, logger *zap.Logger) *Handler {
	if logger == nil {
		logger = zap.NewNop()
	}
	if cache == nil {
		cache = NewCacheWithClient(nil, 0, logger)
	}
	return &Handler{
		processor: processor,
		cache:     cache,
		upload:    upload,
		logger:    logger,
	}
}

// Segment handles a multipart upload in field "image".
func (h *Handler) Segment(c *gin.Context) {
	file, err := c.FormFile("image")
	if err != nil {
		h.logger.Error("failed to get uploaded file", zap.Error(err))
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "upload an image in field \"image\"", Error: err.Error()})
		return
	}

	if h.upload.MaxSize > 0 && file.Size > h.upload.MaxSize {
		c.JSON(http.StatusBadRequest, ErrorResponse{
			Message: fmt.Sprintf("file exceeds the %d MB limit", h.upload.MaxSize/(1024*1024)),
		})
		return
	}

	data, err := readUpload(file)
	if err != nil {
		h.logger.Error("failed to read uploaded file", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "cannot read upload", Error: err.Error()})
		return
	}

	contentType := http.DetectContentType(data)
	if !h.isAllowedType(contentType) {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "unsupported file type, JPEG or PNG only", Error: contentType})
		return
	}

	sum := bytesMD5(data)
	h.logger.Info("file uploaded",
		zap.String("filename", file.Filename),
		zap.String("md5", sum),
		zap.Int64("size", file.Size))

	ctx := c.Request.Context()
	cached, err := h.cache.Get(ctx, sum)
	if err != nil {
		h.logger.Warn("failed to get cache", zap.Error(err))
	}
	if cached != nil {
		h.logger.Info("cache hit", zap.String("md5", sum))
		c.JSON(http.StatusOK, Response{Success: true, Message: "ok", Data: cached, Cached: true})
		return
	}

	img, err := animeface.DecodeImage(data)
	if err != nil {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "cannot decode image", Error: err.Error()})
		return
	}
	defer img.Close()

	resp, err := h.segment(img, sum)
	if err != nil {
		h.logger.Error("failed to segment image", zap.String("md5", sum), zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "segmentation failed", Error: err.Error()})
		return
	}

	if err := h.cache.Set(ctx, resp); err != nil {
		h.logger.Warn("failed to set cache", zap.Error(err))
	}

	c.JSON(http.StatusOK, Response{Success: true, Message: "ok", Data: resp})
}

// GetByMD5 serves a cached result.
func (h *Handler) GetByMD5(c *gin.Context) {
	sum := c.Param("md5")
	if sum == "" {
		c.JSON(http.StatusBadRequest, ErrorResponse{Message: "md5 is required"})
		return
	}

	resp, err := h.cache.Get(c.Request.Context(), sum)
	if err != nil {
		h.logger.Error("failed to get segmentation result", zap.Error(err))
		c.JSON(http.StatusInternalServerError, ErrorResponse{Message: "lookup failed", Error: err.Error()})
		return
	}
	if resp == nil {
		c.JSON(http.StatusNotFound, ErrorResponse{Message: "no result for this image"})
		return
	}

	c.JSON(http.StatusOK, Response{Success: true, Message: "ok", Data: resp, Cached: true})
}

// Health reports liveness and whether the cache is active.
func (h *Handler) Health(c *gin.Context) {
	c.JSON(http.StatusOK, gin.H{
		"status": "ok",
		"cache":  h.cache.Enabled(),
	})
}

func (h *Handler) segment(img gocv.Mat, sum string) (*SegmentResponse, error) {
	h.mu.Lock()
	result, err := h.processor.Process(img)
	h.mu.Unlock()
	if err != nil {
		return nil, err
	}
	defer result.Close()

	resp := &SegmentResponse{
		MD5:      sum,
		Width:    img.Cols(),
		Height:   img.Rows(),
		Strategy: result.Strategy.String(),
		Parts:    make([]PartResult, 0, len(animeface.Parts)),
	}

	masks := make([]string, len(animeface.Parts))
	var g errgroup.Group
	for i, part := range animeface.Parts {
		i, part := i, part
		g.Go(func() error {
			view := animeface.MaskImage(result.Masks[part])
			defer view.Close()
			png, err := animeface.EncodePNG(view)
			if err != nil {
				return errors.Wrapf(err, "encode %s mask", part)
			}
			masks[i] = base64.StdEncoding.EncodeToString(png)
			return nil
		})
	}
	g.Go(func() error {
		png, err := animeface.EncodePNG(result.Overlay)
		if err != nil {
			return errors.Wrap(err, "encode overlay")
		}
		resp.Overlay = base64.StdEncoding.EncodeToString(png)
		return nil
	})
	g.Go(func() error {
		png, err := animeface.EncodePNG(result.Semantic)
		if err != nil {
			return errors.Wrap(err, "encode semantic map")
		}
		resp.Semantics = base64.StdEncoding.EncodeToString(png)
		return nil
	})
	if err := g.Wait(); err != nil {
		return nil, err
	}

	for i, part := range animeface.Parts {
		meta := result.Metadata[part]
		resp.Parts = append(resp.Parts, PartResult{
			Part:  part.String(),
			Label: int(part),
			Area:  meta.Area,
			BBox:  meta.BBox,
			Mask:  masks[i],
		})
	}

	return resp, nil
}

func (h *Handler) isAllowedType(contentType string) bool {
	for _, allowed := range h.upload.AllowedTypes {
		if contentType == allowed {
			return true
		}
	}
	return false
}

func readUpload(file *multipart.FileHeader) ([]byte, error) {
	f, err := file.Open()
	if err != nil {
		return nil, err
	}
	defer f.Close()
	return io.ReadAll(f)
}

func bytesMD5(data []byte) string {
	sum := md5.Sum(data)
	return hex.EncodeToString(sum[:])
}
