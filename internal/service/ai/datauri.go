package ai

import (
	"encoding/base64"
	"fmt"
	"strings"
)

const defaultImageMIME = "image/png"

// ParseDataURI splits "data:<mime>;base64,<payload>" into an Image.
func ParseDataURI(uri string) (Image, error) {
	rest, ok := strings.CutPrefix(strings.TrimSpace(uri), "data:")
	if !ok {
		return Image{}, ErrInvalidImage
	}
	header, payload, ok := strings.Cut(rest, ",")
	if !ok {
		return Image{}, ErrInvalidImage
	}
	mimeType, isBase64 := strings.CutSuffix(header, ";base64")
	if !isBase64 || payload == "" {
		return Image{}, ErrInvalidImage
	}
	if mimeType == "" {
		mimeType = defaultImageMIME
	}
	data, err := base64.StdEncoding.DecodeString(payload)
	if err != nil {
		return Image{}, fmt.Errorf("%w: %v", ErrInvalidImage, err)
	}
	return Image{Data: data, MIMEType: mimeType}, nil
}

// DataURI encodes img as a base64 data URI.
func DataURI(img Image) string {
	mimeType := img.MIMEType
	if mimeType == "" {
		mimeType = defaultImageMIME
	}
	return "data:" + mimeType + ";base64," + base64.StdEncoding.EncodeToString(img.Data)
}
