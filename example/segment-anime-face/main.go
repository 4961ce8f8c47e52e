// Command segment-anime-face splits an anime face image into part masks, or serves the same
// pipeline over HTTP.
package main

import (
	"context"
	"fmt"
	"os"
	"os/signal"
	"syscall"

	"github.com/pkg/errors"
	"github.com/urfave/cli/v2"
	"go.uber.org/zap"
	"gocv.io/x/gocv"

	"github.com/Hejaii/animeface"
	"github.com/Hejaii/animeface/config"
	"github.com/Hejaii/animeface/logging"
	"github.com/Hejaii/animeface/server"
)

// Flags.
const (
	flagConfig         = "config"
	flagImage          = "image"
	flagOut            = "out"
	flagAuto           = "auto"
	flagShow           = "show"
	flagModelType      = "model-type"
	flagSamEncoder     = "sam-encoder"
	flagSamDecoder     = "sam-decoder"
	flagDetectorModel  = "detector-model"
	flagDetectorConfig = "detector-config"
	flagDetectorLabels = "detector-labels"
)

const windowTitle = "anime face parts"

func main() {
	app := &cli.App{
		Name:  "segment-anime-face",
		Usage: "segment anime faces into neck, eyes, mouth, hair and ear masks",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    flagConfig,
				Aliases: []string{"c"},
				Usage:   "load configuration from `FILE`",
			},
		},
		Commands: []*cli.Command{
			{
				Name:  "segment",
				Usage: "segment one image and write masks, overlay, semantic map and meta.json",
				Flags: append([]cli.Flag{
					&cli.PathFlag{
						Name:     flagImage,
						Usage:    "source image",
						Required: true,
					},
					&cli.PathFlag{
						Name:  flagOut,
						Usage: "output directory (defaults to output.dir)",
					},
					&cli.BoolFlag{
						Name:  flagAuto,
						Usage: "heuristic only, skip model loading",
					},
					&cli.BoolFlag{
						Name:  flagShow,
						Usage: "show the overlay in a window until a key is pressed",
					},
				}, modelFlags()...),
				Action: segmentAction,
			},
			{
				Name:   "serve",
				Usage:  "serve the segmentation pipeline over HTTP",
				Flags:  modelFlags(),
				Action: serveAction,
			},
		},
	}

	if err := app.Run(os.Args); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}
}

func modelFlags() []cli.Flag {
	return []cli.Flag{
		&cli.StringFlag{Name: flagModelType, Usage: "segmentation model type"},
		&cli.PathFlag{Name: flagSamEncoder, Usage: "segmentation image encoder network"},
		&cli.PathFlag{Name: flagSamDecoder, Usage: "segmentation prompt decoder network"},
		&cli.PathFlag{Name: flagDetectorModel, Usage: "part detector network"},
		&cli.PathFlag{Name: flagDetectorConfig, Usage: "part detector network config"},
		&cli.PathFlag{Name: flagDetectorLabels, Usage: "part detector class names, one per line"},
	}
}

// loadConfig reads the config file and lets command line flags override model paths.
func loadConfig(c *cli.Context) (*config.Config, error) {
	var cfg *config.Config
	if path := c.String(flagConfig); path != "" {
		loaded, err := config.Load(path)
		if err != nil {
			return nil, err
		}
		cfg = loaded
	} else {
		cfg = config.New("")
	}

	overrides := map[string]*string{
		flagModelType:      &cfg.Models.Segmenter.ModelType,
		flagSamEncoder:     &cfg.Models.Segmenter.Encoder,
		flagSamDecoder:     &cfg.Models.Segmenter.Decoder,
		flagDetectorModel:  &cfg.Models.Detector.Model,
		flagDetectorConfig: &cfg.Models.Detector.Config,
		flagDetectorLabels: &cfg.Models.Detector.Labels,
	}
	for flag, field := range overrides {
		if c.IsSet(flag) {
			*field = c.String(flag)
		}
	}
	return cfg, nil
}

// pipeline holds the adapters behind a Pipeline so they can be released.
type pipeline struct {
	*animeface.Pipeline
	predictor *animeface.Predictor
	detector  *animeface.Detector
}

func (p *pipeline) Close() {
	if p.predictor != nil {
		_ = p.predictor.Close()
	}
	if p.detector != nil {
		_ = p.detector.Close()
	}
}

func newPipeline(cfg *config.Config, auto bool, logger *zap.Logger) (*pipeline, error) {
	opts, err := cfg.Pipeline.Options(logger)
	if err != nil {
		return nil, err
	}

	if auto {
		return &pipeline{Pipeline: animeface.NewPipeline(nil, nil, opts...)}, nil
	}

	predictor := animeface.NewPredictor(cfg.Models.SegmenterConfig(), logger)
	detector := animeface.NewDetector(cfg.Models.DetectorConfig(), logger)
	return &pipeline{
		Pipeline:  animeface.NewPipeline(predictor, detector, opts...),
		predictor: predictor,
		detector:  detector,
	}, nil
}

func segmentAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := logging.NewWithFile(cfg.Log.Mode, cfg.Log.FileConfig())
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer logging.Sync(logger)

	out := c.Path(flagOut)
	if out == "" {
		out = cfg.Output.Dir
	}

	img, err := animeface.LoadImage(c.Path(flagImage))
	if err != nil {
		return err
	}
	defer img.Close()

	p, err := newPipeline(cfg, c.Bool(flagAuto), logger)
	if err != nil {
		return err
	}
	defer p.Close()

	result, err := p.Process(img)
	if err != nil {
		return errors.Wrap(err, "segment")
	}
	defer result.Close()

	if err := result.Save(out); err != nil {
		return errors.Wrap(err, "save result")
	}

	for _, part := range animeface.Parts {
		meta := result.Metadata[part]
		logger.Info("part", zap.Stringer("part", part), zap.Int("area", meta.Area), zap.Ints("bbox", meta.BBox[:]))
	}
	logger.Info("result saved", zap.String("dir", out), zap.Stringer("strategy", result.Strategy))

	if c.Bool(flagShow) {
		window := gocv.NewWindow(windowTitle)
		defer window.Close()
		window.IMShow(result.Overlay)
		window.WaitKey(0)
	}
	return nil
}

func serveAction(c *cli.Context) error {
	cfg, err := loadConfig(c)
	if err != nil {
		return err
	}
	logger, err := logging.NewWithFile(cfg.Server.Mode, cfg.Log.FileConfig())
	if err != nil {
		return errors.Wrap(err, "create logger")
	}
	defer logging.Sync(logger)

	p, err := newPipeline(cfg, false, logger)
	if err != nil {
		return err
	}
	defer p.Close()

	cache := server.NewCache(cfg.Redis, logger)
	defer cache.Close()

	h := server.NewHandler(p, cache, cfg.Upload, logger)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	return server.Run(ctx, cfg.Server, h, logger)
}
