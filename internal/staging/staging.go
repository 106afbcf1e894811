// Package staging copies remote audio to local temporary files so a
// transcription provider can read it from disk.
package staging

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"strings"
	"sync"

	"github.com/rohits-web03/memoscribe/internal/apperr"
)

type Area struct {
	dir string
}

// NewArea creates dir when missing. An empty dir means os.TempDir().
func NewArea(dir string) (*Area, error) {
	if dir == "" {
		dir = os.TempDir()
	}
	if err := os.MkdirAll(dir, 0o700); err != nil {
		return nil, fmt.Errorf("staging: create %s: %w", dir, err)
	}
	return &Area{dir: dir}, nil
}

func (a *Area) Dir() string { return a.dir }

// Handle owns one staged file until Release is called.
type Handle struct {
	path string
	once sync.Once
	err  error
}

func (h *Handle) Path() string { return h.path }

// Release removes the staged file. Only the first call has an effect.
func (h *Handle) Release() error {
	h.once.Do(func() {
		if err := os.Remove(h.path); err != nil && !errors.Is(err, os.ErrNotExist) {
			h.err = err
		}
	})
	return h.err
}

type ctxReader struct {
	ctx context.Context
	r   io.Reader
}

func (c ctxReader) Read(p []byte) (int, error) {
	if err := c.ctx.Err(); err != nil {
		return 0, err
	}
	return c.r.Read(p)
}

// Stage writes r to a fresh file named after name with extension ext. Two
// calls with the same name never share a path. A failed copy leaves nothing
// on disk.
func (a *Area) Stage(ctx context.Context, name string, r io.Reader, ext string) (*Handle, error) {
	ext = strings.TrimPrefix(ext, ".")
	if ext != "" {
		ext = "." + ext
	}
	name = filepath.Base(strings.ReplaceAll(name, string(filepath.Separator), "_"))

	f, err := os.CreateTemp(a.dir, name+"-*"+ext)
	if err != nil {
		return nil, apperr.Internal(fmt.Errorf("staging: create file: %w", err))
	}

	_, copyErr := io.Copy(f, ctxReader{ctx: ctx, r: r})
	closeErr := f.Close()
	if copyErr != nil || closeErr != nil {
		_ = os.Remove(f.Name())
		if copyErr == nil {
			copyErr = closeErr
		}
		if apperr.IsKind(copyErr, apperr.KindStorageUnavailable) {
			return nil, copyErr
		}
		return nil, apperr.StorageUnavailable(fmt.Errorf("staging: copy: %w", copyErr))
	}
	return &Handle{path: f.Name()}, nil
}
