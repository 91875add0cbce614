// Package filetype works out how an uploaded trace file is packaged so the
// stored blob gets a suffix and MIME type the import daemon can rely on.
package filetype

import (
	"context"
	"errors"
	"io"

	"github.com/mholt/archives"
)

const (
	plainExtension = ".gpx"
	plainMediaType = "application/gpx+xml"
)

// Type describes the packaging of an upload.
type Type struct {
	// Extension is appended to the trace id to form the storage key.
	Extension string
	MediaType string
}

// Plain is an uncompressed GPX document.
var Plain = Type{Extension: plainExtension, MediaType: plainMediaType}

// Identify inspects the leading bytes of an upload. The returned reader must
// be used in place of stream; it replays the bytes consumed here. The client
// filename is never consulted: a name like "alps.zip-export.gpx" says nothing
// about how the bytes are packaged.
func Identify(ctx context.Context, stream io.Reader) (Type, io.Reader, error) {
	format, rewound, err := archives.Identify(ctx, "", stream)
	if errors.Is(err, archives.NoMatch) {
		return Plain, rewound, nil
	}
	if err != nil {
		return Type{}, nil, err
	}

	t := Type{Extension: format.Extension(), MediaType: format.MediaType()}
	if _, isArchive := format.(archives.Extractor); !isArchive {
		// Bare compression wraps a single GPX document.
		t.Extension = plainExtension + t.Extension
	}
	if t.MediaType == "" {
		t.MediaType = "application/octet-stream"
	}
	return t, rewound, nil
}
