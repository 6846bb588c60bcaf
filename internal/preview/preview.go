package preview

import (
	"bytes"
	"encoding/base64"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"

	"github.com/nfnt/resize"
)

// MaxEdge bounds the longer side of a generated thumbnail.
const MaxEdge = 420

// DataURL returns a display-only preview for an image payload. Decodable images are
// downscaled to a PNG thumbnail; anything else is embedded as-is.
func DataURL(contentType string, data []byte) string {
	thumb, err := Thumbnail(data, MaxEdge)
	if err != nil {
		return encode(contentType, data)
	}
	return encode("image/png", thumb)
}

// Thumbnail decodes data and re-encodes it as PNG no larger than maxEdge on either side.
func Thumbnail(data []byte, maxEdge uint) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("decode image: %w", err)
	}

	thumb := resize.Thumbnail(maxEdge, maxEdge, img, resize.Lanczos3)

	var buf bytes.Buffer
	if err := png.Encode(&buf, thumb); err != nil {
		return nil, fmt.Errorf("encode thumbnail: %w", err)
	}
	return buf.Bytes(), nil
}

func encode(contentType string, data []byte) string {
	if contentType == "" {
		contentType = "application/octet-stream"
	}
	return "data:" + contentType + ";base64," + base64.StdEncoding.EncodeToString(data)
}
