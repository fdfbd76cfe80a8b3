// Package screenshot compresses captured page images and writes them to a
// blob store under date-partitioned keys.
package screenshot

import (
	"bytes"
	"context"
	"fmt"
	"image"
	"image/draw"
	"image/jpeg"
	_ "image/png" // register PNG decoder for captures
	"path"
	"strings"

	"github.com/JakeFAU/realtime-price-scraper/internal/metrics"
	"github.com/JakeFAU/realtime-price-scraper/internal/scraper"
)

const (
	contentTypeJPEG    = "image/jpeg"
	defaultQuality     = 85
	defaultPrefix      = "screenshots"
	defaultSuffixChars = 8
)

// Config controls compression and naming.
type Config struct {
	Prefix      string
	JPEGQuality int
}

type suffixGenerator interface {
	ShortHex(n int) (string, error)
}

// Store implements scraper.ScreenshotStore.
type Store struct {
	blobs  scraper.BlobStore
	clock  scraper.Clock
	ids    suffixGenerator
	prefix string
	opts   jpeg.Options
}

// New builds a Store over blobs.
func New(blobs scraper.BlobStore, clock scraper.Clock, ids suffixGenerator, cfg Config) (*Store, error) {
	if blobs == nil {
		return nil, fmt.Errorf("blob store is required")
	}
	if clock == nil || ids == nil {
		return nil, fmt.Errorf("clock and id generator are required")
	}
	quality := cfg.JPEGQuality
	if quality <= 0 || quality > 100 {
		quality = defaultQuality
	}
	prefix := strings.Trim(cfg.Prefix, "/")
	if prefix == "" {
		prefix = defaultPrefix
	}
	return &Store{
		blobs:  blobs,
		clock:  clock,
		ids:    ids,
		prefix: prefix,
		opts:   jpeg.Options{Quality: quality},
	}, nil
}

// Save compresses shot to JPEG and uploads it, returning the stored URL.
func (s *Store) Save(ctx context.Context, urlID string, shot scraper.Screenshot) (string, error) {
	if len(shot.Data) == 0 {
		return "", fmt.Errorf("empty screenshot")
	}
	data, err := s.compress(shot.Data)
	if err != nil {
		return "", err
	}
	key, err := s.objectKey(urlID)
	if err != nil {
		return "", err
	}
	uri, err := s.blobs.PutObject(ctx, key, contentTypeJPEG, bytes.NewReader(data))
	if err != nil {
		return "", fmt.Errorf("upload screenshot: %w", err)
	}
	metrics.ObserveScreenshotBytes(len(data))
	return uri, nil
}

// compress re-encodes the image as an opaque JPEG at the configured quality.
func (s *Store) compress(raw []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("decode screenshot: %w", err)
	}
	bounds := img.Bounds()
	flat := image.NewRGBA(bounds)
	draw.Draw(flat, bounds, image.White, image.Point{}, draw.Src)
	draw.Draw(flat, bounds, img, bounds.Min, draw.Over)

	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, flat, &s.opts); err != nil {
		return nil, fmt.Errorf("encode jpeg: %w", err)
	}
	return buf.Bytes(), nil
}

// objectKey builds prefix/YYYY/MM/DD/<urlId>_<8 hex>.jpg.
func (s *Store) objectKey(urlID string) (string, error) {
	suffix, err := s.ids.ShortHex(defaultSuffixChars)
	if err != nil {
		return "", fmt.Errorf("screenshot key suffix: %w", err)
	}
	day := s.clock.Now().UTC().Format("2006/01/02")
	name := fmt.Sprintf("%s_%s.jpg", sanitizeID(urlID), suffix)
	return path.Join(s.prefix, day, name), nil
}

func sanitizeID(id string) string {
	id = strings.Map(func(r rune) rune {
		switch {
		case r >= 'a' && r <= 'z', r >= 'A' && r <= 'Z', r >= '0' && r <= '9', r == '-', r == '_':
			return r
		default:
			return '-'
		}
	}, id)
	if id == "" {
		return "unknown"
	}
	return id
}

var _ scraper.ScreenshotStore = (*Store)(nil)
