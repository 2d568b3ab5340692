package signature

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/jpeg"
	"image/png"
	"strings"
)

const PNGDataURLPrefix = "data:image/png;base64,"

var (
	ErrInvalidDataURL = errors.New("signature: invalid image data URL")
	ErrImageTooLarge  = errors.New("signature: image too large")
)

// Submitted images may be at most twice the default surface in each
// dimension.
const (
	MaxWidth  = DefaultWidth * 2
	MaxHeight = DefaultHeight * 2
)

// EncodeDataURL renders img as a base64 PNG data URL.
func EncodeDataURL(img image.Image) (string, error) {
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return "", fmt.Errorf("signature: encode png: %w", err)
	}
	return PNGDataURLPrefix + base64.StdEncoding.EncodeToString(buf.Bytes()), nil
}

// DecodeDataURL parses a base64 image data URL (png or jpeg). Images larger
// than MaxWidth x MaxHeight are rejected before their pixels are decoded.
func DecodeDataURL(s string) (image.Image, error) {
	meta, payload, ok := strings.Cut(s, ",")
	if !ok || !strings.HasPrefix(meta, "data:image/") || !strings.HasSuffix(meta, ";base64") {
		return nil, ErrInvalidDataURL
	}

	raw, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}

	cfg, _, err := image.DecodeConfig(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	if cfg.Width > MaxWidth || cfg.Height > MaxHeight {
		return nil, fmt.Errorf("%w: %dx%d exceeds %dx%d", ErrImageTooLarge, cfg.Width, cfg.Height, MaxWidth, MaxHeight)
	}

	img, _, err := image.Decode(bytes.NewReader(raw))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrInvalidDataURL, err)
	}
	return img, nil
}
