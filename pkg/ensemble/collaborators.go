package ensemble

import (
	"context"

	"github.com/Open-Shu/shu-sub001/pkg/api"
	"github.com/Open-Shu/shu-sub001/pkg/provider"
)

// ReferenceResolver reconciles citations in final content against the
// retrieval sources used while assembling the prompt. It may rewrite the
// content (typically appending a reference list) and returns the subset of
// sources actually cited.
type ReferenceResolver interface {
	PostProcessReferences(ctx context.Context, content string, sources []api.SourceRef, knowledgeBaseID string) (string, []api.SourceRef, error)
}

// ToolRegistry supplies the callable tools advertised to models when a
// variant has tools enabled.
type ToolRegistry interface {
	BuildAgentTools() []provider.Tool
}
