// Package render defines the narrow contract to the external artifact
// renderer. Rendering and layout logic live outside the pipeline; failures
// coming back are classified like any other operation.
package render

import (
	"context"

	"github.com/eventra/courier/internal/core/domain"
)

// Renderer produces the binary or markup form of an artifact descriptor.
type Renderer interface {
	Render(ctx context.Context, desc domain.ArtifactDescriptor) ([]byte, error)
}
