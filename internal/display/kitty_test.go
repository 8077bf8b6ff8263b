package display

import (
	"bytes"
	"encoding/base64"
	"errors"
	"image"
	"image/color"
	"image/jpeg"
	"image/png"
	"strings"
	"testing"
)

func testPNG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	img.Set(1, 1, color.RGBA{R: 200, A: 255})
	var buf bytes.Buffer
	if err := png.Encode(&buf, img); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func testJPEG(t *testing.T) []byte {
	t.Helper()
	img := image.NewRGBA(image.Rect(0, 0, 4, 4))
	var buf bytes.Buffer
	if err := jpeg.Encode(&buf, img, nil); err != nil {
		t.Fatal(err)
	}
	return buf.Bytes()
}

func TestKittyEncoder_Encode_Empty(t *testing.T) {
	var buf bytes.Buffer
	if err := NewKittyEncoder(&buf).Encode(nil); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if buf.Len() != 0 {
		t.Errorf("expected empty output, got %q", buf.String())
	}
}

func TestKittyEncoder_Encode_Small(t *testing.T) {
	var buf bytes.Buffer
	data := []byte("small test data")

	if err := NewKittyEncoder(&buf).Encode(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if !strings.HasPrefix(output, "\x1b_Ga=T,f=100,q=2;") {
		t.Errorf("unexpected header: %q", output[:min(len(output), 24)])
	}
	if !strings.HasSuffix(output, "\x1b\\") {
		t.Error("output should end with escape terminator")
	}
	if !strings.Contains(output, base64.StdEncoding.EncodeToString(data)) {
		t.Error("output should contain base64 encoded data")
	}
}

func TestKittyEncoder_Encode_Chunked(t *testing.T) {
	var buf bytes.Buffer
	data := make([]byte, 5000)
	for i := range data {
		data[i] = byte(i % 256)
	}

	if err := NewKittyEncoder(&buf).WithColumns(40).Encode(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}

	output := buf.String()
	if n := strings.Count(output, "\x1b_G"); n != 2 {
		t.Errorf("expected 2 chunks, got %d", n)
	}
	if !strings.HasPrefix(output, "\x1b_Ga=T,f=100,q=2,c=40,m=1;") {
		t.Error("first chunk should carry the header and more-data flag")
	}
	if !strings.Contains(output, "\x1b_Gm=0;") {
		t.Error("output should contain the final chunk flag")
	}
}

func TestKittyEncoder_Encode_ExactChunkSize(t *testing.T) {
	var buf bytes.Buffer
	data := make([]byte, (chunkSize*3)/4)

	if err := NewKittyEncoder(&buf).Encode(data); err != nil {
		t.Fatalf("unexpected error: %v", err)
	}
	if n := strings.Count(buf.String(), "\x1b_G"); n != 1 {
		t.Errorf("expected single chunk for exact size, got %d", n)
	}
}

func TestKittyEncoder_EncodeImage(t *testing.T) {
	pngData := testPNG(t)

	var direct bytes.Buffer
	if err := NewKittyEncoder(&direct).EncodeImage("image/png", pngData); err != nil {
		t.Fatalf("EncodeImage(png) error = %v", err)
	}
	if !strings.Contains(direct.String(), base64.StdEncoding.EncodeToString(pngData)) {
		t.Error("png data should pass through untouched")
	}

	var converted bytes.Buffer
	if err := NewKittyEncoder(&converted).EncodeImage("image/jpeg", testJPEG(t)); err != nil {
		t.Fatalf("EncodeImage(jpeg) error = %v", err)
	}
	// base64 of the PNG signature
	if !strings.Contains(converted.String(), ";iVBORw0KGgo") {
		t.Error("jpeg should be transcoded to png")
	}
}

func TestKittyEncoder_EncodeImage_Unsupported(t *testing.T) {
	var buf bytes.Buffer
	err := NewKittyEncoder(&buf).EncodeImage("image/webp", []byte("RIFF....WEBP"))
	if !errors.Is(err, ErrUnsupportedFormat) {
		t.Errorf("EncodeImage() error = %v, want ErrUnsupportedFormat", err)
	}
	if buf.Len() != 0 {
		t.Error("nothing should be written for an unsupported image")
	}
}

func TestSplitIntoChunks(t *testing.T) {
	tests := []struct {
		name     string
		input    string
		size     int
		expected []string
	}{
		{"empty string", "", 10, nil},
		{"smaller than chunk", "hello", 10, []string{"hello"}},
		{"exact chunk size", "hello", 5, []string{"hello"}},
		{"multiple chunks", "hello world", 5, []string{"hello", " worl", "d"}},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			result := splitIntoChunks(tt.input, tt.size)
			if len(result) != len(tt.expected) {
				t.Fatalf("expected %d chunks, got %d", len(tt.expected), len(result))
			}
			for i, chunk := range result {
				if chunk != tt.expected[i] {
					t.Errorf("chunk %d: expected %q, got %q", i, tt.expected[i], chunk)
				}
			}
		})
	}
}

func TestKittyEncoder_WriteError(t *testing.T) {
	enc := NewKittyEncoder(&errorWriter{err: bytes.ErrTooLarge})
	if err := enc.Encode([]byte("test")); err == nil {
		t.Error("expected error from failing writer")
	}
}

type errorWriter struct {
	err error
}

func (w *errorWriter) Write(p []byte) (int, error) {
	return 0, w.err
}
