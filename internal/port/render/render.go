// Package render defines the template-rendering collaborator consumed by
// the adapter layer. Template content and lookup root are supplied by the
// deployment, not hard-coded per tool.
package render

import (
	"context"
	"errors"
)

// ErrTemplateNotFound indicates no template exists at the requested path.
var ErrTemplateNotFound = errors.New("render: template not found")

// Renderer renders a template identified by a relative path against a
// structured context and returns the resulting text.
type Renderer interface {
	Render(ctx context.Context, path string, data map[string]any) (string, error)
}
