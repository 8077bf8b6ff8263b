// Package media converts raw image bytes to and from inline data URI payloads.
package media

import (
	"encoding/base64"
	"errors"
	"fmt"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/manash/zenspace/pkg/models"
)

var ErrMalformedPayload = errors.New("malformed inline payload")

const (
	scheme       = "data:"
	base64Marker = ";base64"
)

// Encode returns a data URI whose MIME type is sniffed from the content.
func Encode(raw []byte) (string, error) {
	if len(raw) == 0 {
		return "", fmt.Errorf("%w: empty image", ErrMalformedPayload)
	}
	return FromBlob(DetectMIME(raw), raw), nil
}

// DetectMIME sniffs the content type, dropping any parameters.
func DetectMIME(raw []byte) string {
	mt := mimetype.Detect(raw).String()
	if i := strings.IndexByte(mt, ';'); i >= 0 {
		mt = mt[:i]
	}
	return strings.TrimSpace(mt)
}

// FromBlob builds a payload from an already known MIME type.
func FromBlob(mimeType string, raw []byte) string {
	var b strings.Builder
	b.Grow(len(scheme) + len(mimeType) + len(base64Marker) + 1 + base64.StdEncoding.EncodedLen(len(raw)))
	b.WriteString(scheme)
	b.WriteString(mimeType)
	b.WriteString(base64Marker)
	b.WriteByte(',')
	b.WriteString(base64.StdEncoding.EncodeToString(raw))
	return b.String()
}

// Decode splits a payload into its MIME type and base64 body.
func Decode(payload string) (string, string, error) {
	if !strings.HasPrefix(payload, scheme) {
		return "", "", fmt.Errorf("%w: missing %q prefix", ErrMalformedPayload, scheme)
	}
	meta, body, ok := strings.Cut(payload[len(scheme):], ",")
	if !ok {
		return "", "", fmt.Errorf("%w: missing ',' separator", ErrMalformedPayload)
	}
	if !strings.HasSuffix(meta, base64Marker) {
		return "", "", fmt.Errorf("%w: payload is not base64 encoded", ErrMalformedPayload)
	}
	mimeType := strings.TrimSuffix(meta, base64Marker)
	if i := strings.IndexByte(mimeType, ';'); i >= 0 {
		mimeType = mimeType[:i]
	}
	if mimeType == "" || !strings.Contains(mimeType, "/") {
		return "", "", fmt.Errorf("%w: invalid MIME type %q", ErrMalformedPayload, mimeType)
	}
	if body == "" {
		return "", "", fmt.Errorf("%w: empty body", ErrMalformedPayload)
	}
	return mimeType, body, nil
}

// DecodeBytes is Decode followed by base64 decoding of the body.
func DecodeBytes(payload string) (string, []byte, error) {
	mimeType, body, err := Decode(payload)
	if err != nil {
		return "", nil, err
	}
	raw, err := base64.StdEncoding.DecodeString(body)
	if err != nil {
		return "", nil, fmt.Errorf("%w: %v", ErrMalformedPayload, err)
	}
	return mimeType, raw, nil
}

// ToImage decodes a payload into the form the transport sends.
func ToImage(payload string) (models.Image, error) {
	mimeType, raw, err := DecodeBytes(payload)
	if err != nil {
		return models.Image{}, err
	}
	return models.Image{MIMEType: mimeType, Data: raw}, nil
}

func FromImage(img models.Image) string {
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = DetectMIME(img.Data)
	}
	return FromBlob(mimeType, img.Data)
}

// Extension maps a payload's MIME type to a file extension.
func Extension(payload string) string {
	mimeType, _, err := Decode(payload)
	if err != nil {
		return ".bin"
	}
	if ext := mimetype.Lookup(mimeType); ext != nil && ext.Extension() != "" {
		return ext.Extension()
	}
	return ".bin"
}
