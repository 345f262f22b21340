// Package templates implements the render port over text/template. Template
// source is resolved from an optional on-disk override root first, then the
// embedded defaults, and cached through the cache port to keep repeated
// renders off the filesystem.
package templates

import (
	"bytes"
	"context"
	"embed"
	"fmt"
	"os"
	"path/filepath"
	"text/template"
	"time"

	"github.com/Strob0t/Conductor/internal/port/cache"
	"github.com/Strob0t/Conductor/internal/port/render"
)

//go:embed defaults
var defaultFS embed.FS

// Renderer resolves and renders templates by relative path, for example
// "claude/config.json.tmpl".
type Renderer struct {
	root     string
	cache    cache.Cache
	cacheTTL time.Duration
}

var _ render.Renderer = (*Renderer)(nil)

// New creates a renderer. rootDir may be empty, in which case only the
// embedded defaults are consulted. c may be nil to disable source caching.
func New(rootDir string, c cache.Cache, cacheTTL time.Duration) *Renderer {
	return &Renderer{root: rootDir, cache: c, cacheTTL: cacheTTL}
}

// Render loads the template at path and executes it against data.
func (r *Renderer) Render(ctx context.Context, path string, data map[string]any) (string, error) {
	src, err := r.source(ctx, path)
	if err != nil {
		return "", err
	}

	tmpl, err := template.New(filepath.Base(path)).Option("missingkey=zero").Parse(string(src))
	if err != nil {
		return "", fmt.Errorf("templates: parse %s: %w", path, err)
	}

	var buf bytes.Buffer
	if err := tmpl.Execute(&buf, data); err != nil {
		return "", fmt.Errorf("templates: render %s: %w", path, err)
	}
	return buf.String(), nil
}

func (r *Renderer) source(ctx context.Context, path string) ([]byte, error) {
	if r.cache != nil {
		if src, ok, err := r.cache.Get(ctx, "tmpl:"+path); err == nil && ok {
			return src, nil
		}
	}

	src, err := r.load(path)
	if err != nil {
		return nil, err
	}

	if r.cache != nil {
		_ = r.cache.Set(ctx, "tmpl:"+path, src, r.cacheTTL)
	}
	return src, nil
}

func (r *Renderer) load(path string) ([]byte, error) {
	if r.root != "" {
		src, err := os.ReadFile(filepath.Join(r.root, path))
		if err == nil {
			return src, nil
		}
		if !os.IsNotExist(err) {
			return nil, fmt.Errorf("templates: read %s: %w", path, err)
		}
	}

	src, err := defaultFS.ReadFile("defaults/" + path)
	if err != nil {
		return nil, fmt.Errorf("%w: %s", render.ErrTemplateNotFound, path)
	}
	return src, nil
}
