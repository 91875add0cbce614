package filetype

import (
	"archive/zip"
	"bytes"
	"compress/gzip"
	"context"
	"io"
	"strings"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

const sampleGPX = `<?xml version="1.0"?><gpx version="1.1"><trk><trkseg></trkseg></trk></gpx>`

func TestIdentifyPlainGPX(t *testing.T) {
	typ, r, err := Identify(context.Background(), strings.NewReader(sampleGPX))
	require.NoError(t, err)
	assert.Equal(t, Plain, typ)

	// The reader still yields every byte.
	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, sampleGPX, string(got))
}

func TestIdentifyGzip(t *testing.T) {
	var buf bytes.Buffer
	zw := gzip.NewWriter(&buf)
	_, err := zw.Write([]byte(sampleGPX))
	require.NoError(t, err)
	require.NoError(t, zw.Close())
	raw := buf.Bytes()

	typ, r, err := Identify(context.Background(), bytes.NewReader(raw))
	require.NoError(t, err)
	assert.Equal(t, ".gpx.gz", typ.Extension)

	got, err := io.ReadAll(r)
	require.NoError(t, err)
	assert.Equal(t, raw, got)
}

func TestIdentifyZip(t *testing.T) {
	var buf bytes.Buffer
	zw := zip.NewWriter(&buf)
	f, err := zw.Create("ride.gpx")
	require.NoError(t, err)
	_, err = f.Write([]byte(sampleGPX))
	require.NoError(t, err)
	require.NoError(t, zw.Close())

	typ, _, err := Identify(context.Background(), bytes.NewReader(buf.Bytes()))
	require.NoError(t, err)
	assert.Equal(t, ".zip", typ.Extension)
}

func TestIdentifyIgnoresArchiveLookingNames(t *testing.T) {
	// Plain GPX whose names mention compressed or archive formats.
	for _, name := range []string{"holiday.gz.notes.gpx", "alps.zip-export.gpx", "a.tar.gpx"} {
		t.Run(name, func(t *testing.T) {
			typ, r, err := Identify(context.Background(), strings.NewReader(sampleGPX))
			require.NoError(t, err)
			assert.Equal(t, Plain, typ)

			got, err := io.ReadAll(r)
			require.NoError(t, err)
			assert.Equal(t, sampleGPX, string(got))
		})
	}
}
