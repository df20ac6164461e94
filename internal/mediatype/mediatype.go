// Package mediatype implements the media type detector (§4.6): it
// classifies a local file into StaticImage, MotionImage, MotionVideo,
// or Other by sniffing its first 4 KiB.
package mediatype

import (
	"bytes"
	"io"
	"os"
	"strings"

	"github.com/gabriel-vasile/mimetype"

	"github.com/dcllabs/metamorph/internal/domain/converterrors"
	"github.com/dcllabs/metamorph/internal/domain/model"
)

const sniffWindow = 4096

var svgPrefix = []byte("<svg ")

// webp ANIM/ANMF chunk FourCCs, searched for within the sniff window
// (§4.6: an image/webp container is MotionImage iff it carries either).
var (
	animChunk = []byte("ANIM")
	anmfChunk = []byte("ANMF")
)

// DetectFile opens path and classifies it from its first 4 KiB.
func DetectFile(path string) (model.MediaClass, error) {
	f, err := os.Open(path)
	if err != nil {
		return "", err
	}
	defer f.Close()

	buf := make([]byte, sniffWindow)
	n, err := io.ReadFull(f, buf)
	if err != nil && err != io.ErrUnexpectedEOF && err != io.EOF {
		return "", err
	}
	return Detect(buf[:n])
}

// Detect classifies header, the first bytes of a file (ideally the
// first 4 KiB; fewer bytes are accepted but reduce the odds a signature
// matches).
func Detect(header []byte) (model.MediaClass, error) {
	if bytes.HasPrefix(bytes.TrimLeft(header, " \t\r\n"), svgPrefix) {
		return model.StaticImage, nil
	}

	mt := mimetype.Detect(header)
	mime := mt.String()

	switch {
	case mime == "image/gif":
		// The video encoder consumes GIF natively (§4.6).
		return model.MotionVideo, nil

	case mime == "image/webp":
		if bytes.Contains(header, animChunk) || bytes.Contains(header, anmfChunk) {
			return model.MotionImage, nil
		}
		return model.StaticImage, nil

	case strings.HasPrefix(mime, "image/"):
		return model.StaticImage, nil

	case strings.HasPrefix(mime, "video/"):
		return model.MotionVideo, nil
	}

	return "", converterrors.ErrUnknownFileType
}
