package providers

import (
	"fmt"

	"github.com/orchestra-mcp/replication/src/types"
)

// Tool is an operation exposed to tool-calling clients.
type Tool struct {
	Name        string
	Description string
	InputSchema map[string]any
	Handler     func(input map[string]any) (any, error)
}

// Tools returns the tool definitions contributed by the plugin.
func (p *ReplicationPlugin) Tools() []Tool {
	return []Tool{
		{
			Name:        "list_replications",
			Description: "List running replications and cluster capacity",
			InputSchema: map[string]any{},
			Handler:     p.toolListReplications,
		},
		{
			Name:        "get_conflicts",
			Description: "List the conflicting revisions of a document",
			InputSchema: map[string]any{
				"doc_id": map[string]any{"type": "string", "description": "Document ID"},
			},
			Handler: p.toolGetConflicts,
		},
		{
			Name:        "resolve_conflicts",
			Description: "Resolve a conflicted document, keeping the current revision or storing a merged body",
			InputSchema: map[string]any{
				"doc_id": map[string]any{"type": "string", "description": "Document ID"},
				"body":   map[string]any{"type": "object", "description": "Merged body; omit to keep the current revision"},
			},
			Handler: p.toolResolveConflicts,
		},
	}
}

func (p *ReplicationPlugin) toolListReplications(_ map[string]any) (any, error) {
	if p.service == nil {
		return nil, fmt.Errorf("replication service not initialized")
	}
	active, limit := p.service.Capacity()
	return map[string]any{
		"replications": p.service.ActiveReplications(),
		"active":       active,
		"max":          limit,
		"cluster":      p.service.ClusterView(),
	}, nil
}

func (p *ReplicationPlugin) toolGetConflicts(input map[string]any) (any, error) {
	if p.service == nil {
		return nil, fmt.Errorf("replication service not initialized")
	}
	docID, _ := input["doc_id"].(string)
	if docID == "" {
		return nil, fmt.Errorf("doc_id is required")
	}
	conflicts, err := p.service.Conflicts(docID)
	if err != nil {
		return nil, err
	}
	return map[string]any{"doc_id": docID, "conflicts": conflicts, "count": len(conflicts)}, nil
}

func (p *ReplicationPlugin) toolResolveConflicts(input map[string]any) (any, error) {
	if p.service == nil {
		return nil, fmt.Errorf("replication service not initialized")
	}
	docID, _ := input["doc_id"].(string)
	if docID == "" {
		return nil, fmt.Errorf("doc_id is required")
	}

	merged, _ := input["body"].(map[string]any)
	err := p.service.ResolveConflicts(docID, func(ours, _ types.Body) types.Body {
		if merged != nil {
			return types.Body(merged)
		}
		return ours
	})
	if err != nil {
		return nil, err
	}
	return map[string]any{"resolved": true, "doc_id": docID}, nil
}
