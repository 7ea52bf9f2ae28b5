// Package visualization renders the population graph of a network in various
// output formats.
package visualization

import (
	"fmt"
	"strings"

	"github.com/clinssen/bmtk/internal/sonata"
)

// Format specifies the output format for graph rendering.
type Format string

const (
	FormatDOT  Format = "dot"
	FormatJSON Format = "json"
)

// ParseFormat accepts "dot" or "json".
func ParseFormat(s string) (Format, error) {
	switch Format(s) {
	case FormatDOT, FormatJSON:
		return Format(s), nil
	}
	return "", fmt.Errorf("unsupported format %q (valid: dot, json)", s)
}

// nodeColors maps population classifications to DOT colors.
var nodeColors = map[sonata.Classification]string{
	sonata.Internal: "steelblue",
	sonata.Virtual:  "goldenrod",
	sonata.Mixed:    "mediumseagreen",
}

// RenderDOT produces a Graphviz DOT representation with one node per
// population and one edge per edge population, labelled with its connection count.
func RenderDOT(nodes []sonata.NodePopulation, edges []sonata.EdgePopulation) string {
	var b strings.Builder
	b.WriteString("digraph pointnet {\n")
	b.WriteString("  rankdir=LR;\n")
	b.WriteString("  node [shape=box, style=filled, fontname=\"Helvetica\"];\n")
	b.WriteString("  edge [fontname=\"Helvetica\", fontsize=10];\n\n")

	for _, pop := range nodes {
		color := nodeColors[pop.Classification()]
		if color == "" {
			color = "lightgray"
		}
		label := fmt.Sprintf("%s\\n%d nodes", truncate(pop.Name(), 40), pop.NodeCount())
		fmt.Fprintf(&b, "  %q [label=\"%s\", fillcolor=%q, tooltip=%q];\n",
			pop.Name(), label, color, pop.Classification().String())
	}
	b.WriteString("\n")

	for _, ep := range edges {
		style := "solid"
		if ep.Virtual() {
			style = "dashed"
		}
		fmt.Fprintf(&b, "  %q -> %q [label=%q, style=%s, tooltip=%q];\n",
			ep.SourcePopulation(), ep.TargetPopulation(),
			fmt.Sprintf("%d", connectionCount(ep)), style, ep.Name())
	}

	b.WriteString("}\n")
	return b.String()
}

// RenderJSON produces a JSON graph representation with nodes and edges arrays.
func RenderJSON(nodes []sonata.NodePopulation, edges []sonata.EdgePopulation) map[string]any {
	jsonNodes := make([]map[string]any, 0, len(nodes))
	for _, pop := range nodes {
		jsonNodes = append(jsonNodes, map[string]any{
			"id":             pop.Name(),
			"classification": pop.Classification().String(),
			"nodes":          pop.NodeCount(),
			"batches":        len(pop.Batches()),
		})
	}

	jsonEdges := make([]map[string]any, 0, len(edges))
	for _, ep := range edges {
		jsonEdges = append(jsonEdges, map[string]any{
			"name":        ep.Name(),
			"source":      ep.SourcePopulation(),
			"target":      ep.TargetPopulation(),
			"virtual":     ep.Virtual(),
			"connections": connectionCount(ep),
		})
	}

	return map[string]any{
		"nodes":      jsonNodes,
		"edges":      jsonEdges,
		"node_count": len(jsonNodes),
		"edge_count": len(jsonEdges),
	}
}

func connectionCount(ep sonata.EdgePopulation) int {
	n := 0
	for _, e := range ep.Edges() {
		n += len(e.SourceNodeIDs())
	}
	return n
}

func truncate(s string, maxLen int) string {
	if len(s) <= maxLen {
		return s
	}
	return s[:maxLen-3] + "..."
}
