package display

import (
	"bytes"
	"encoding/base64"
	"errors"
	"fmt"
	"image"
	_ "image/gif"
	_ "image/jpeg"
	"image/png"
	"io"
)

const (
	escapeStart = "\x1b_G"
	escapeEnd   = "\x1b\\"
	chunkSize   = 4096
)

var ErrUnsupportedFormat = errors.New("image format cannot be shown in the terminal")

// KittyEncoder writes PNG data using the kitty graphics protocol.
type KittyEncoder struct {
	out     io.Writer
	columns int
}

func NewKittyEncoder(out io.Writer) *KittyEncoder {
	return &KittyEncoder{out: out}
}

// WithColumns scales the image to n terminal cells wide. n <= 0 keeps the
// native size.
func (e *KittyEncoder) WithColumns(n int) *KittyEncoder {
	e.columns = n
	return e
}

// EncodeImage transcodes non-PNG data to PNG before writing it.
func (e *KittyEncoder) EncodeImage(mimeType string, data []byte) error {
	if mimeType != "image/png" {
		converted, err := toPNG(data)
		if err != nil {
			return err
		}
		data = converted
	}
	return e.Encode(data)
}

// Encode writes PNG bytes as-is.
func (e *KittyEncoder) Encode(data []byte) error {
	if len(data) == 0 {
		return nil
	}

	encoded := base64.StdEncoding.EncodeToString(data)

	if len(encoded) <= chunkSize {
		return e.writeSingle(encoded)
	}
	return e.writeChunked(encoded)
}

func (e *KittyEncoder) header() string {
	if e.columns > 0 {
		return fmt.Sprintf("a=T,f=100,q=2,c=%d", e.columns)
	}
	return "a=T,f=100,q=2"
}

func (e *KittyEncoder) writeSingle(encoded string) error {
	_, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, e.header(), encoded, escapeEnd)
	return err
}

func (e *KittyEncoder) writeChunked(encoded string) error {
	chunks := splitIntoChunks(encoded, chunkSize)

	for i, chunk := range chunks {
		var params string
		switch {
		case i == 0:
			params = e.header() + ",m=1"
		case i == len(chunks)-1:
			params = "m=0"
		default:
			params = "m=1"
		}

		if _, err := fmt.Fprintf(e.out, "%s%s;%s%s", escapeStart, params, chunk, escapeEnd); err != nil {
			return err
		}
	}
	return nil
}

func toPNG(data []byte) ([]byte, error) {
	img, _, err := image.Decode(bytes.NewReader(data))
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnsupportedFormat, err)
	}
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		return nil, fmt.Errorf("failed to convert to png: %w", err)
	}
	return buf.Bytes(), nil
}

func splitIntoChunks(s string, size int) []string {
	var chunks []string
	for len(s) > 0 {
		if len(s) < size {
			size = len(s)
		}
		chunks = append(chunks, s[:size])
		s = s[size:]
	}
	return chunks
}
