package graph

import (
	"fmt"
	"strings"
)

// MermaidOptions defines configuration for Mermaid diagram generation
type MermaidOptions struct {
	// Direction of the flowchart (e.g., "TD", "LR")
	Direction string
}

// DrawMermaid generates a Mermaid flowchart of the graph
func (g *Graph) DrawMermaid() string {
	return g.DrawMermaidWithOptions(MermaidOptions{Direction: "TD"})
}

// DrawMermaidWithOptions generates a Mermaid diagram with custom options
func (g *Graph) DrawMermaidWithOptions(opts MermaidOptions) string {
	var sb strings.Builder

	direction := opts.Direction
	if direction == "" {
		direction = "TD"
	}
	fmt.Fprintf(&sb, "flowchart %s\n", direction)

	stages := g.Stages()
	for _, name := range stages {
		switch name {
		case g.source:
			fmt.Fprintf(&sb, "    %s([\"%s\"])\n", name, name)
		case g.sink:
			fmt.Fprintf(&sb, "    %s[[\"%s\"]]\n", name, name)
		default:
			fmt.Fprintf(&sb, "    %s[\"%s\"]\n", name, name)
		}
	}

	for _, name := range stages {
		for _, dep := range g.stages[name].DependsOn {
			fmt.Fprintf(&sb, "    %s --> %s\n", dep, name)
		}
	}

	if g.source != "" {
		fmt.Fprintf(&sb, "    style %s fill:#90EE90\n", g.source)
	}
	if g.sink != "" {
		fmt.Fprintf(&sb, "    style %s fill:#FFB6C1\n", g.sink)
	}
	return sb.String()
}

// DrawDOT generates a DOT (Graphviz) representation of the graph
func (g *Graph) DrawDOT() string {
	var sb strings.Builder

	sb.WriteString("digraph G {\n")
	sb.WriteString("    rankdir=TD;\n")
	sb.WriteString("    node [shape=box];\n")

	stages := g.Stages()
	for _, name := range stages {
		switch name {
		case g.source:
			fmt.Fprintf(&sb, "    %s [shape=ellipse, style=filled, fillcolor=lightgreen];\n", name)
		case g.sink:
			fmt.Fprintf(&sb, "    %s [shape=ellipse, style=filled, fillcolor=lightpink];\n", name)
		}
	}

	for _, name := range stages {
		for _, dep := range g.stages[name].DependsOn {
			fmt.Fprintf(&sb, "    %s -> %s;\n", dep, name)
		}
	}

	sb.WriteString("}\n")
	return sb.String()
}
