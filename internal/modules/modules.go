// Package modules loads user-supplied Terraform modules from an uploaded
// archive so they can be offered to the code generation stage as context.
package modules

import (
	"archive/zip"
	"bytes"
	"fmt"
	"io"
	"path"
	"strings"

	"github.com/rs/zerolog"

	perrors "github.com/p-blackswan/infragen/internal/errors"
	"github.com/p-blackswan/infragen/internal/project"
)

const (
	DefaultMaxFiles     = 200
	DefaultMaxFileBytes = 256 << 10
)

// allowed lists the extensions read as text.
var allowed = map[string]bool{
	".tf":     true,
	".tfvars": true,
	".hcl":    true,
	".md":     true,
	".json":   true,
	".yaml":   true,
	".yml":    true,
	".txt":    true,
}

// Entry is one archive member.
type Entry struct {
	Path  string
	IsDir bool
	Size  int64
	Open  func() (io.ReadCloser, error)
}

// ArchiveReader lists the members of an archive.
type ArchiveReader interface {
	Entries(data []byte) ([]Entry, error)
}

// ZipReader reads zip archives.
type ZipReader struct{}

func (ZipReader) Entries(data []byte) ([]Entry, error) {
	zr, err := zip.NewReader(bytes.NewReader(data), int64(len(data)))
	if err != nil {
		return nil, err
	}
	entries := make([]Entry, 0, len(zr.File))
	for _, f := range zr.File {
		entries = append(entries, Entry{
			Path:  f.Name,
			IsDir: f.FileInfo().IsDir(),
			Size:  int64(f.UncompressedSize64),
			Open:  f.Open,
		})
	}
	return entries, nil
}

// Loader extracts and filters module files.
type Loader struct {
	reader       ArchiveReader
	maxFiles     int
	maxFileBytes int64
	logger       zerolog.Logger
}

// Option configures a Loader.
type Option func(*Loader)

func WithReader(r ArchiveReader) Option { return func(l *Loader) { l.reader = r } }

func WithMaxFiles(n int) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxFiles = n
		}
	}
}

func WithMaxFileBytes(n int64) Option {
	return func(l *Loader) {
		if n > 0 {
			l.maxFileBytes = n
		}
	}
}

// NewLoader creates a loader reading zip archives by default.
func NewLoader(logger zerolog.Logger, opts ...Option) *Loader {
	l := &Loader{
		reader:       ZipReader{},
		maxFiles:     DefaultMaxFiles,
		maxFileBytes: DefaultMaxFileBytes,
		logger:       logger.With().Str("component", "modules").Logger(),
	}
	for _, o := range opts {
		o(l)
	}
	return l
}

// Load returns the text files of the archive that pass the filters, in
// archive order. Every failure is wrapped in errors.ErrModuleExtraction.
func (l *Loader) Load(data []byte) ([]project.TerraformFile, error) {
	if len(data) == 0 {
		return nil, fmt.Errorf("%w: empty archive", perrors.ErrModuleExtraction)
	}
	entries, err := l.reader.Entries(data)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", perrors.ErrModuleExtraction, err)
	}

	files := []project.TerraformFile{}
	for _, e := range entries {
		if !Included(e.Path, e.IsDir) {
			continue
		}
		if e.Size > l.maxFileBytes {
			l.logger.Debug().Str("path", e.Path).Int64("size", e.Size).Msg("skipping oversized module file")
			continue
		}
		if len(files) == l.maxFiles {
			l.logger.Warn().Int("max_files", l.maxFiles).Msg("module archive truncated")
			break
		}
		content, err := readEntry(e, l.maxFileBytes)
		if err != nil {
			return nil, fmt.Errorf("%w: read %s: %v", perrors.ErrModuleExtraction, e.Path, err)
		}
		files = append(files, project.TerraformFile{Filename: e.Path, Content: content})
	}

	l.logger.Debug().Int("entries", len(entries)).Int("files", len(files)).Msg("module archive loaded")
	return files, nil
}

// Included reports whether an archive path is read as module context.
// Directories, hidden paths, macOS metadata and unknown extensions are not.
func Included(p string, isDir bool) bool {
	if isDir || strings.HasSuffix(p, "/") {
		return false
	}
	for _, seg := range strings.Split(p, "/") {
		if strings.HasPrefix(seg, ".") || seg == "__MACOSX" {
			return false
		}
	}
	return allowed[strings.ToLower(path.Ext(p))]
}

func readEntry(e Entry, limit int64) (string, error) {
	rc, err := e.Open()
	if err != nil {
		return "", err
	}
	defer rc.Close()

	b, err := io.ReadAll(io.LimitReader(rc, limit+1))
	if err != nil {
		return "", err
	}
	if int64(len(b)) > limit {
		return "", fmt.Errorf("exceeds %d bytes", limit)
	}
	return strings.ToValidUTF8(string(b), "�"), nil
}
