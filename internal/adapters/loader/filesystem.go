package loader

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io/fs"
	"os"
	"path/filepath"
	"strings"
	"unicode/utf8"

	"github.com/depot-assets/depot/internal/assets"
	"github.com/depot-assets/depot/internal/logging"
)

// typeTagForExtension is how the filesystem backend decides what a file
// actually is. A declared type that disagrees is a TypeMismatch, never a
// silent reinterpretation.
func typeTagForExtension(path string) assets.TypeTag {
	switch strings.ToLower(filepath.Ext(path)) {
	case ".txt", ".md", ".csv":
		return assets.TypeText
	case ".json":
		return assets.TypeJSON
	case ".png", ".jpg", ".jpeg", ".webp":
		return assets.TypeImage
	default:
		return assets.TypeBinary
	}
}

func validatePayload(key assets.Key, data []byte) error {
	switch key.Type {
	case assets.TypeJSON:
		if !json.Valid(data) {
			return fmt.Errorf("%w: %s is not valid JSON", assets.ErrDecode, key)
		}
	case assets.TypeText:
		if !utf8.Valid(data) {
			return fmt.Errorf("%w: %s is not valid UTF-8", assets.ErrDecode, key)
		}
	}
	return nil
}

type filesystemLoader struct {
	root string
}

// NewFilesystemLoader serves assets from the directory tree under root.
// Keys are slash-separated paths relative to root.
func NewFilesystemLoader(root string) *filesystemLoader {
	return &filesystemLoader{root: root}
}

func (l *filesystemLoader) Load(ctx context.Context, key assets.Key) (assets.Handle, error) {
	logger := logging.FromContext(ctx)

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", assets.ErrCancelled, err)
	}

	relative := filepath.Clean(filepath.FromSlash(key.Path))
	if relative == ".." || strings.HasPrefix(relative, ".."+string(filepath.Separator)) || filepath.IsAbs(relative) {
		// Keys must stay inside the asset root.
		return nil, fmt.Errorf("%w: %s escapes the asset root", assets.ErrNotFound, key)
	}

	if actual := typeTagForExtension(key.Path); actual != key.Type {
		return nil, fmt.Errorf("%w: %s is %s, requested as %s", assets.ErrTypeMismatch, key.Path, actual, key.Type)
	}

	data, err := os.ReadFile(filepath.Join(l.root, relative))
	if errors.Is(err, fs.ErrNotExist) {
		return nil, fmt.Errorf("%w: %s", assets.ErrNotFound, key)
	}
	if err != nil {
		return nil, fmt.Errorf("failed to read %s: %w", key, err)
	}

	if err := ctx.Err(); err != nil {
		return nil, fmt.Errorf("%w: %w", assets.ErrCancelled, err)
	}

	if err := validatePayload(key, data); err != nil {
		return nil, err
	}

	logger.DebugContext(ctx, "Loaded asset from filesystem", "key", key.String(), "sizeBytes", len(data))
	return assets.NewByteHandle(key, data), nil
}
