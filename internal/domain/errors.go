package domain

import (
	"errors"
	"strings"
)

// Error kinds surfaced by the pipeline. Callers match them with errors.Is.
var (
	ErrInvalidInputSpec        = errors.New("invalid input spec")
	ErrMissingInput            = errors.New("input file is missing")
	ErrUnsupportedFormat       = errors.New("unsupported image format")
	ErrCorruptHeader           = errors.New("corrupt header")
	ErrPixelLimitExceeded      = errors.New("input image exceeds pixel limit")
	ErrMultiPageUnsupported    = errors.New("not supported for multi-page images")
	ErrChannelOutOfRange       = errors.New("channel out of range")
	ErrDimensionTooLarge       = errors.New("processed image is too large")
	ErrUnsupportedOutputFormat = errors.New("unsupported output format")
	ErrTimeout                 = errors.New("timeout")
)

var kinds = []struct {
	err  error
	name string
}{
	{ErrInvalidInputSpec, "InvalidInputSpec"},
	{ErrMissingInput, "MissingInput"},
	{ErrUnsupportedFormat, "UnsupportedFormat"},
	{ErrCorruptHeader, "CorruptHeader"},
	{ErrPixelLimitExceeded, "PixelLimitExceeded"},
	{ErrMultiPageUnsupported, "MultiPageUnsupported"},
	{ErrChannelOutOfRange, "ChannelOutOfRange"},
	{ErrDimensionTooLarge, "DimensionTooLarge"},
	{ErrUnsupportedOutputFormat, "UnsupportedOutputFormat"},
	{ErrTimeout, "Timeout"},
}

// KindOf names the error kind carried by err, or "Internal" when none matches.
func KindOf(err error) string {
	if err == nil {
		return ""
	}
	for _, k := range kinds {
		if errors.Is(err, k.err) {
			return k.name
		}
	}
	return "Internal"
}

// Message is the caller-facing text of err with trailing whitespace removed.
func Message(err error) string {
	if err == nil {
		return ""
	}
	return strings.TrimRight(err.Error(), " \t\r\n")
}
