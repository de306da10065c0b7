package correlate

import (
	"context"
	"sort"
)

// GraphNode is a cluster or source node in the correlation graph.
type GraphNode struct {
	ID     string `json:"id"`
	Type   string `json:"type"`
	Label  string `json:"label,omitempty"`
	Size   int    `json:"size,omitempty"`
	Medoid string `json:"medoid,omitempty"`
}

// GraphEdge connects a cluster to a source it draws from, or two clusters
// that share a host.
type GraphEdge struct {
	Source string `json:"source"`
	Target string `json:"target"`
	Type   string `json:"type"`
}

// Graph is the node/edge projection of a correlation result.
type Graph struct {
	Nodes  []GraphNode    `json:"nodes"`
	Edges  []GraphEdge    `json:"edges"`
	Params map[string]any `json:"params"`
}

// GraphProjection projects the global correlation into nodes and edges.
// Cluster nodes link to each source they draw from; cluster pairs sharing
// at least one host identifier get a shared_host edge.
func (c *Correlator) GraphProjection(ctx context.Context, p Params) Graph {
	p.IncludeLogsPerCluster = clampInt(p.IncludeLogsPerCluster, 0, 50)
	res := c.Global(ctx, p)

	graph := Graph{Nodes: []GraphNode{}, Edges: []GraphEdge{}, Params: res.Params}
	if disabled, _ := res.Params["disabled"].(bool); disabled {
		return graph
	}

	sources := map[string]struct{}{}
	for _, cl := range res.Clusters {
		graph.Nodes = append(graph.Nodes, GraphNode{
			ID:     cl.ID,
			Type:   "cluster",
			Label:  cl.Label,
			Size:   cl.Size,
			Medoid: cl.Medoid,
		})
		for src := range cl.SourceBreakdown {
			sources[src] = struct{}{}
			graph.Edges = append(graph.Edges, GraphEdge{
				Source: cl.ID,
				Target: "source:" + src,
				Type:   "cluster_source",
			})
		}
	}

	sourceNames := make([]string, 0, len(sources))
	for src := range sources {
		sourceNames = append(sourceNames, src)
	}
	sort.Strings(sourceNames)
	for _, src := range sourceNames {
		graph.Nodes = append(graph.Nodes, GraphNode{ID: "source:" + src, Type: "source", Label: src})
	}

	for i := 0; i < len(res.Clusters); i++ {
		for j := i + 1; j < len(res.Clusters); j++ {
			if sharesHost(res.Clusters[i].HostBreakdown, res.Clusters[j].HostBreakdown) {
				graph.Edges = append(graph.Edges, GraphEdge{
					Source: res.Clusters[i].ID,
					Target: res.Clusters[j].ID,
					Type:   "shared_host",
				})
			}
		}
	}
	return graph
}

func sharesHost(a, b map[string]int) bool {
	if len(a) == 0 || len(b) == 0 {
		return false
	}
	small, large := a, b
	if len(b) < len(a) {
		small, large = b, a
	}
	for host := range small {
		if _, ok := large[host]; ok {
			return true
		}
	}
	return false
}
