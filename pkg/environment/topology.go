package environment

import (
	"context"

	"github.com/loglens/loglens/pkg/logparse"
	"github.com/loglens/loglens/pkg/vectorstore"
)

// TopologyNode is one discovered host in an environment.
type TopologyNode struct {
	ID     string `json:"id"`
	Label  string `json:"label"`
	Type   string `json:"type"`
	Status string `json:"status"`
}

// TopologyEdge is a directed dependency between two hosts.
type TopologyEdge struct {
	From   string `json:"from"`
	To     string `json:"to"`
	Status string `json:"status"`
}

// Topology is the host graph inferred from an environment's logs.
type Topology struct {
	Nodes []TopologyNode `json:"nodes"`
	Edges []TopologyEdge `json:"edges"`
}

// buildTopology infers the environment's host graph from its recent log
// documents: every JSON log line contributes its host identifiers as nodes
// and its from/to and depends_on fields as edges.
func (s *Service) buildTopology(ctx context.Context, envID string) Topology {
	topo := Topology{Nodes: []TopologyNode{}, Edges: []TopologyEdge{}}
	seen := make(map[string]bool)

	for _, osName := range logparse.AllOS() {
		coll := vectorstore.CollectionName(s.cfg.LogCollectionPrefix, osName, s.embedID)
		docs, err := s.store.GetWhere(ctx, coll, map[string]any{"env_id": envID}, envLogsLimit)
		if err != nil {
			s.logger.Warn("Topology build skipped a collection", "collection", coll, "error", err)
			continue
		}
		for _, doc := range docs {
			raw := metaString(doc.Metadata, "raw")
			if raw == "" {
				raw = doc.Text
			}
			fields, ok := logparse.ParseJSONObject(raw)
			if !ok {
				continue
			}
			for _, host := range logparse.HostIdentifiers(fields) {
				if !seen[host] {
					seen[host] = true
					topo.Nodes = append(topo.Nodes, TopologyNode{
						ID: host, Label: host, Type: "server", Status: "healthy",
					})
				}
			}
			topo.Edges = append(topo.Edges, edgesFrom(fields)...)
		}
	}
	return topo
}

// edgesFrom reads explicit topology hints out of one JSON payload: a
// from/to pair, plus depends_on entries pointing at the payload's own id.
func edgesFrom(fields map[string]any) []TopologyEdge {
	var edges []TopologyEdge

	from, okFrom := fields["from"].(string)
	to, okTo := fields["to"].(string)
	if okFrom && okTo {
		edges = append(edges, TopologyEdge{From: from, To: to, Status: "healthy"})
	}

	deps, ok := fields["depends_on"].([]any)
	if !ok {
		return edges
	}
	target := stringOr(fields, "id", "name")
	for _, d := range deps {
		if dep, ok := d.(string); ok {
			edges = append(edges, TopologyEdge{From: dep, To: target, Status: "healthy"})
		}
	}
	return edges
}

func stringOr(fields map[string]any, keys ...string) string {
	for _, k := range keys {
		if s, ok := fields[k].(string); ok && s != "" {
			return s
		}
	}
	return ""
}
