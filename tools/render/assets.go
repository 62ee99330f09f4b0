package render

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	_ "image/png"
	"os"
	"path/filepath"
	"strings"

	_ "golang.org/x/image/bmp"
	_ "golang.org/x/image/webp"
)

// maxAssetPixels bounds decoded image size.
const maxAssetPixels = 16 << 20

// ErrAssetNotFound is returned by resolvers for unknown asset names.
var ErrAssetNotFound = errors.New("asset not found")

// AssetResolver maps an Image op's src name to encoded image bytes. Data
// URIs never reach the resolver.
type AssetResolver interface {
	Resolve(name string) ([]byte, error)
}

// DirAssets resolves names relative to a directory.
type DirAssets struct {
	Root string
}

func (d DirAssets) Resolve(name string) ([]byte, error) {
	if d.Root == "" {
		return nil, ErrAssetNotFound
	}
	clean := filepath.Clean("/" + name)
	data, err := os.ReadFile(filepath.Join(d.Root, clean))
	if errors.Is(err, os.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
	}
	return data, err
}

// MapAssets resolves names from memory.
type MapAssets map[string][]byte

func (m MapAssets) Resolve(name string) ([]byte, error) {
	data, ok := m[name]
	if !ok {
		return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
	}
	return data, nil
}

type noAssets struct{}

func (noAssets) Resolve(name string) ([]byte, error) {
	return nil, fmt.Errorf("%w: %s", ErrAssetNotFound, name)
}

// loadImage decodes src, which is either a base64 data URI or an asset name.
func loadImage(src string, assets AssetResolver) (image.Image, error) {
	var data []byte
	if rest, ok := strings.CutPrefix(src, "data:"); ok {
		meta, payload, found := strings.Cut(rest, ",")
		if !found || !strings.HasSuffix(meta, ";base64") {
			return nil, fmt.Errorf("data URI must be base64 encoded")
		}
		decoded, err := base64.StdEncoding.DecodeString(payload)
		if err != nil {
			return nil, fmt.Errorf("decode data URI: %w", err)
		}
		data = decoded
	} else {
		resolved, err := assets.Resolve(src)
		if err != nil {
			return nil, err
		}
		data = resolved
	}

	cfg, format, err := image.DecodeConfig(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image header: %w", err)
	}
	if cfg.Width*cfg.Height > maxAssetPixels {
		return nil, fmt.Errorf("%s image is %dx%d, larger than allowed", format, cfg.Width, cfg.Height)
	}
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode %s image: %w", format, err)
	}
	return img, nil
}
