package loader

import (
	"context"
	"os"
	"path/filepath"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"

	"github.com/depot-assets/depot/internal/assets"
)

func writeAsset(t *testing.T, root, relative string, data []byte) {
	t.Helper()
	path := filepath.Join(root, filepath.FromSlash(relative))
	require.NoError(t, os.MkdirAll(filepath.Dir(path), 0o755))
	require.NoError(t, os.WriteFile(path, data, 0o644))
}

func TestFilesystemLoader(t *testing.T) {
	t.Parallel()

	root := t.TempDir()
	writeAsset(t, root, "data/config.json", []byte(`{"volume":0.8}`))
	writeAsset(t, root, "data/broken.json", []byte(`{"volume":`))
	writeAsset(t, root, "notes/readme.txt", []byte("hello"))
	writeAsset(t, root, "textures/rock.png", []byte{0x89, 0x50, 0x4e, 0x47})

	fsLoader := NewFilesystemLoader(root)

	t.Run("loads json", func(t *testing.T) {
		t.Parallel()
		handle, err := fsLoader.Load(t.Context(), assets.NewKey("data/config.json", assets.TypeJSON))
		require.NoError(t, err)
		assert.Equal(t, []byte(`{"volume":0.8}`), handle.Bytes())
	})

	t.Run("loads image", func(t *testing.T) {
		t.Parallel()
		handle, err := fsLoader.Load(t.Context(), assets.NewKey("textures/rock.png", assets.TypeImage))
		require.NoError(t, err)
		assert.Equal(t, int64(4), handle.Size())
	})

	t.Run("missing file", func(t *testing.T) {
		t.Parallel()
		_, err := fsLoader.Load(t.Context(), assets.NewKey("textures/missing.png", assets.TypeImage))
		assert.ErrorIs(t, err, assets.ErrNotFound)
	})

	t.Run("declared type disagrees with extension", func(t *testing.T) {
		t.Parallel()
		_, err := fsLoader.Load(t.Context(), assets.NewKey("textures/rock.png", assets.TypeJSON))
		assert.ErrorIs(t, err, assets.ErrTypeMismatch)
	})

	t.Run("malformed json payload", func(t *testing.T) {
		t.Parallel()
		_, err := fsLoader.Load(t.Context(), assets.NewKey("data/broken.json", assets.TypeJSON))
		assert.ErrorIs(t, err, assets.ErrDecode)
	})

	t.Run("path traversal is rejected", func(t *testing.T) {
		t.Parallel()
		_, err := fsLoader.Load(t.Context(), assets.NewKey("../../etc/passwd.txt", assets.TypeText))
		assert.ErrorIs(t, err, assets.ErrNotFound)
	})

	t.Run("cancelled context", func(t *testing.T) {
		t.Parallel()
		ctx, cancel := context.WithCancel(t.Context())
		cancel()
		_, err := fsLoader.Load(ctx, assets.NewKey("notes/readme.txt", assets.TypeText))
		assert.ErrorIs(t, err, assets.ErrCancelled)
	})
}
