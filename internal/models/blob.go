package models

import "github.com/google/uuid"

// BlobVariant selects which file of a trace is requested.
type BlobVariant string

const (
	VariantOriginal BlobVariant = "original"
	VariantPicture  BlobVariant = "picture"
	VariantIcon     BlobVariant = "icon"
)

// Derived reports whether the variant is produced by the import daemon.
func (v BlobVariant) Derived() bool {
	return v == VariantPicture || v == VariantIcon
}

// BlobKey returns the storage key of a trace file.
func BlobKey(id uuid.UUID, variant BlobVariant, extension string) string {
	switch variant {
	case VariantPicture:
		return id.String() + ".gif"
	case VariantIcon:
		return id.String() + "_icon.gif"
	}
	return id.String() + extension
}

// BlobKey returns the storage key of the given variant of t.
func (t *Trace) BlobKey(variant BlobVariant) string {
	return BlobKey(t.ID, variant, t.Extension)
}

// BlobContentType returns the MIME type served for the given variant of t.
func (t *Trace) BlobContentType(variant BlobVariant) string {
	if variant.Derived() {
		return "image/gif"
	}
	return t.MimeType
}
