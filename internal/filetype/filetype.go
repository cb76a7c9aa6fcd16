// Package filetype is the out-of-scope "OS-specific file type / aux type
// metadata sink" from spec §1 and §6 — the original tool wrote ProDOS/HFS
// file-type and aux-type attributes via the Finder-info resource fork (see
// original_source/set_file_type.cpp). On a POSIX filesystem with no such
// resource fork, this is a best-effort no-op: it logs the values that would
// have been set and returns nil, so callers never have to special-case the
// platform.
package filetype

import (
	"context"
	"log/slog"
)

// Set records (at Debug level) the file type and aux type that would be
// applied to path on a system that supports ProDOS/HFS extended metadata.
func Set(ctx context.Context, logger *slog.Logger, path string, fileType uint16, auxType uint32) error {
	if logger != nil {
		logger.DebugContext(ctx, "file-type metadata (no-op on this platform)",
			"path", path, "file_type", fileType, "aux_type", auxType)
	}
	return nil
}
