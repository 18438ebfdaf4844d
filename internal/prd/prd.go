// Package prd loads product requirement documents and derives their
// content-addressed identity. A document's full SHA-256 hex digest and its
// 12-character prefix are computed once at load time; every downstream
// component (session resolution, snapshots, reports) works from these two
// values instead of re-reading the file.
package prd

import (
	"fmt"
	"os"

	"github.com/prdflow/prdflow/internal/errors"
	"github.com/prdflow/prdflow/internal/fsx"
)

// Document is an immutable, fully-read PRD. Identity is derived from the
// bytes, never stored alongside them: any byte-for-byte change, including
// whitespace or line endings, produces a different SessionHash and therefore
// a different session.
type Document struct {
	// Path is the location the document was read from.
	Path string

	// Content holds the exact bytes on disk.
	Content []byte

	// FullHash is the lowercase hex SHA-256 of Content.
	FullHash string

	// SessionHash is the first 12 characters of FullHash. It names the
	// session directory.
	SessionHash string
}

// Load reads the PRD at path and computes its identity. An unreadable file
// is a fatal session error: without the document bytes no session can be
// identified.
func Load(path string) (*Document, error) {
	content, err := os.ReadFile(path)
	if err != nil {
		return nil, errors.NewSessionError(
			fmt.Sprintf("failed to read PRD %s", path), err).
			WithCode(errors.CodeSessionLoadFailed).
			WithContext("path", path)
	}

	full := fsx.HashBytes(content)
	return &Document{
		Path:        path,
		Content:     content,
		FullHash:    full,
		SessionHash: fsx.ShortHash(full),
	}, nil
}
