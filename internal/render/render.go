// Package render produces export copies of catalog photos at a quality tier.
package render

import (
	"context"
	"errors"
	"fmt"
	"image"
	"image/color"
	"io"
	"strings"

	"github.com/disintegration/imaging"
	_ "golang.org/x/image/webp"

	"photo-organizer/export/internal/fileutil"
)

// ErrUnknownTier is returned for a tier name outside original|high|medium|low.
var ErrUnknownTier = errors.New("unknown quality tier")

// JPEGQuality is the encoder quality used for every re-encoded tier.
const JPEGQuality = 85

// Tier selects how an exported copy is produced.
type Tier string

const (
	TierOriginal Tier = "original"
	TierHigh     Tier = "high"
	TierMedium   Tier = "medium"
	TierLow      Tier = "low"
)

// ParseTier normalizes raw into a Tier. Empty input means TierHigh.
func ParseTier(raw string) (Tier, error) {
	switch t := Tier(strings.ToLower(strings.TrimSpace(raw))); t {
	case "":
		return TierHigh, nil
	case TierOriginal, TierHigh, TierMedium, TierLow:
		return t, nil
	default:
		return "", fmt.Errorf("%w: %q", ErrUnknownTier, raw)
	}
}

// Bounds returns the bounding box for the tier. ok is false for
// TierOriginal, which is never resized.
func (t Tier) Bounds() (width, height int, ok bool) {
	switch t {
	case TierHigh:
		return 1920, 1080, true
	case TierMedium:
		return 1280, 720, true
	case TierLow:
		return 640, 480, true
	default:
		return 0, 0, false
	}
}

// OutputName returns the file name an export copy of name gets at this tier.
// Re-encoded tiers always produce JPEG.
func (t Tier) OutputName(name string) string {
	if _, _, ok := t.Bounds(); !ok {
		return name
	}
	return fileutil.ReplaceExt(name, ".jpg")
}

// Renderer writes a single export copy.
type Renderer struct {
	filter imaging.ResampleFilter
}

// New returns a renderer using Lanczos resampling.
func New() *Renderer {
	return &Renderer{filter: imaging.Lanczos}
}

// Render writes the tier rendition of src to dst. The original tier is a
// byte copy that keeps the source modification time; other tiers are
// scaled to fit the tier box (never enlarged), flattened onto white when
// the source has transparency, and encoded as JPEG. dst is written through
// a temporary file, so a failed render leaves nothing at dst.
func (r *Renderer) Render(ctx context.Context, src, dst string, tier Tier) error {
	if err := ctx.Err(); err != nil {
		return err
	}
	if tier == TierOriginal {
		return fileutil.CopyFile(src, dst)
	}
	w, h, ok := tier.Bounds()
	if !ok {
		return fmt.Errorf("%w: %q", ErrUnknownTier, string(tier))
	}

	img, err := imaging.Open(src, imaging.AutoOrientation(true))
	if err != nil {
		return fmt.Errorf("decode %s: %w", src, err)
	}
	out := flatten(imaging.Fit(img, w, h, r.filter))

	return fileutil.WriteAtomic(dst, 0o644, func(wr io.Writer) error {
		return imaging.Encode(wr, out, imaging.JPEG, imaging.JPEGQuality(JPEGQuality))
	})
}

// flatten composites img onto an opaque white canvas if it has any
// transparent pixels.
func flatten(img *image.NRGBA) image.Image {
	if img.Opaque() {
		return img
	}
	b := img.Bounds()
	bg := imaging.New(b.Dx(), b.Dy(), color.White)
	return imaging.Overlay(bg, img, image.Pt(0, 0), 1.0)
}
