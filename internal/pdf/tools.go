package pdf

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	_ "image/jpeg"
	"image/png"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"
	"time"

	"taxdesk/pkg/errors"
	"taxdesk/pkg/logger"

	"golang.org/x/sync/semaphore"
)

type Config struct {
	Pdftotext     string
	Pdftoppm      string
	Pdfimages     string
	DPI           int // 144 renders at twice the 72 dpi PDF unit
	Workers       int
	RasterTimeout time.Duration
}

func DefaultConfig() Config {
	return Config{
		Pdftotext:     "pdftotext",
		Pdftoppm:      "pdftoppm",
		Pdfimages:     "pdfimages",
		DPI:           144,
		Workers:       2,
		RasterTimeout: 45 * time.Second,
	}
}

// Tools implements text extraction and first-page rasterization.
type Tools struct {
	cfg    Config
	runner Runner
	sem    *semaphore.Weighted
	logger logger.Logger
}

func NewTools(cfg Config, runner Runner, log logger.Logger) *Tools {
	if cfg.Workers <= 0 {
		cfg.Workers = 1
	}
	if cfg.DPI <= 0 {
		cfg.DPI = 144
	}
	return &Tools{
		cfg:    cfg,
		runner: runner,
		sem:    semaphore.NewWeighted(int64(cfg.Workers)),
		logger: log,
	}
}

// withInput writes the PDF to a scratch directory for the poppler tools.
func withInput(data []byte, fn func(dir, path string) error) error {
	dir, err := os.MkdirTemp("", "taxdesk-pdf-*")
	if err != nil {
		return err
	}
	defer os.RemoveAll(dir)

	path := filepath.Join(dir, "in.pdf")
	if err := os.WriteFile(path, data, 0o600); err != nil {
		return err
	}
	return fn(dir, path)
}

// ExtractText returns the embedded text layer of every page.
func (t *Tools) ExtractText(ctx context.Context, data []byte) (string, error) {
	var text string
	err := withInput(data, func(_, path string) error {
		// pdftotext -layout -enc UTF-8 -eol unix <path> -
		out, errb, err := t.runner.Run(ctx, t.cfg.Pdftotext, "-layout", "-enc", "UTF-8", "-eol", "unix", path, "-")
		if err != nil {
			return fmt.Errorf("%w: %s", err, strings.TrimSpace(string(errb)))
		}
		text = string(out)
		return nil
	})
	if err != nil {
		return "", errors.Wrap(errors.ErrTextExtraction, err.Error())
	}
	return text, nil
}

// RasterizeFirstPage renders page 1 to PNG. When rendering fails it falls back
// to the first raster image embedded on page 1.
func (t *Tools) RasterizeFirstPage(ctx context.Context, data []byte) ([]byte, error) {
	if err := t.sem.Acquire(ctx, 1); err != nil {
		return nil, errors.Wrap(errors.ErrRasterization, err.Error())
	}
	defer t.sem.Release(1)

	if t.cfg.RasterTimeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, t.cfg.RasterTimeout)
		defer cancel()
	}

	var out []byte
	err := withInput(data, func(dir, path string) error {
		img, renderErr := t.renderPage(ctx, dir, path)
		if renderErr == nil {
			out = img
			return nil
		}
		t.logger.Warn("pdf.rasterize.render_failed", map[string]interface{}{"error": renderErr.Error()})

		img, embedErr := t.embeddedImage(ctx, dir, path)
		if embedErr != nil {
			return fmt.Errorf("render: %v; embedded image: %v", renderErr, embedErr)
		}
		out = img
		return nil
	})
	if err != nil {
		return nil, errors.Wrap(errors.ErrRasterization, err.Error())
	}
	return out, nil
}

func (t *Tools) renderPage(ctx context.Context, dir, path string) ([]byte, error) {
	prefix := filepath.Join(dir, "page")
	// pdftoppm -f 1 -l 1 -r 144 -png -singlefile <in.pdf> <dir/page>
	_, errb, err := t.runner.Run(ctx, t.cfg.Pdftoppm,
		"-f", "1", "-l", "1", "-r", strconv.Itoa(t.cfg.DPI), "-png", "-singlefile", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(errb)))
	}
	b, err := os.ReadFile(prefix + ".png")
	if err != nil {
		return nil, fmt.Errorf("pdftoppm produced no image: %w", err)
	}
	return b, nil
}

func (t *Tools) embeddedImage(ctx context.Context, dir, path string) ([]byte, error) {
	prefix := filepath.Join(dir, "img")
	// pdfimages -f 1 -l 1 -png <in.pdf> <dir/img>  ->  img-000.png, img-001.png, ...
	_, errb, err := t.runner.Run(ctx, t.cfg.Pdfimages, "-f", "1", "-l", "1", "-png", path, prefix)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", err, strings.TrimSpace(string(errb)))
	}
	matches, _ := filepath.Glob(prefix + "-*")
	sort.Strings(matches)
	if len(matches) == 0 {
		return nil, fmt.Errorf("no embedded images on page 1")
	}
	raw, err := os.ReadFile(matches[0])
	if err != nil {
		return nil, err
	}
	return ReencodePNG(raw)
}

// ReencodePNG decodes any supported raster and writes it back as PNG,
// keeping grayscale as grayscale and everything else as 8-bit RGBA.
func ReencodePNG(raw []byte) ([]byte, error) {
	src, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode embedded image: %w", err)
	}

	var dst image.Image
	switch img := src.(type) {
	case *image.Gray, *image.NRGBA, *image.RGBA:
		dst = img
	case *image.Gray16:
		g := image.NewGray(img.Bounds())
		draw.Draw(g, g.Bounds(), img, img.Bounds().Min, draw.Src)
		dst = g
	default:
		// YCbCr (RGB), CMYK, paletted and 16-bit colour collapse to NRGBA.
		n := image.NewNRGBA(src.Bounds())
		draw.Draw(n, n.Bounds(), src, src.Bounds().Min, draw.Src)
		dst = n
	}

	var buf bytes.Buffer
	if err := png.Encode(&buf, dst); err != nil {
		return nil, err
	}
	return buf.Bytes(), nil
}
