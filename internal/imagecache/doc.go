// Package imagecache mirrors a project's remote page images onto local disk
// so the client can keep working offline. Files are stored as
// <root>/<project_id>/<index>.<ext> with the extension inferred from the
// source URL. Downloads run under a bounded admission gate with per-file
// retries; the aggregate outcome of each attempt is persisted as one metadata
// row per project. The read path resolves an index back to bytes plus a
// content type by scanning the project directory.
package imagecache
