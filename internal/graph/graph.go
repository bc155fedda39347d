// Package graph provides the task dependency graph and its leveling algorithm.
package graph

import (
	"errors"
	"fmt"
	"sync"

	"github.com/ShayCichocki/crew/pkg/models"
)

var (
	// ErrCycleDetected indicates a circular dependency (including self-dependency).
	ErrCycleDetected = errors.New("circular dependency detected")
	// ErrUnknownDependency indicates a dependency on a task that is not in the graph.
	ErrUnknownDependency = errors.New("unknown dependency")
	// ErrDuplicateNode indicates two nodes share an ID.
	ErrDuplicateNode = errors.New("duplicate node")
)

// Node is one vertex of the graph: an ID plus the IDs it depends on.
type Node struct {
	ID           string
	Dependencies []string
}

// NodesFromTasks converts decomposed tasks into graph nodes.
func NodesFromTasks(tasks []models.SubAgentTask) []Node {
	nodes := make([]Node, len(tasks))
	for i, t := range tasks {
		nodes[i] = Node{ID: t.ID, Dependencies: t.Dependencies}
	}
	return nodes
}

// TaskGraph holds tasks and their declared dependencies. Edges are fixed once
// Build returns; leveling only reads them.
type TaskGraph struct {
	mu sync.RWMutex
	// order is the insertion order of node IDs.
	order []string
	// edges maps node ID to the IDs it depends on (may reference unknown IDs).
	edges map[string][]string
	// debugLog is an optional logging function.
	debugLog func(format string, args ...interface{})
}

// New creates a new empty graph.
func New() *TaskGraph {
	return &TaskGraph{
		edges:    make(map[string][]string),
		debugLog: func(format string, args ...interface{}) {},
	}
}

// SetDebugLog sets the debug logging function.
func (g *TaskGraph) SetDebugLog(fn func(format string, args ...interface{})) {
	if fn != nil {
		g.debugLog = fn
	}
}

// Build registers the nodes. Dangling and cyclic dependencies are accepted
// here; call Validate to reject them.
func (g *TaskGraph) Build(nodes []Node) error {
	g.mu.Lock()
	defer g.mu.Unlock()

	g.debugLog("[graph.Build] building graph from %d nodes", len(nodes))

	for _, n := range nodes {
		if _, exists := g.edges[n.ID]; exists {
			return fmt.Errorf("%w: %s", ErrDuplicateNode, n.ID)
		}
		deps := make([]string, len(n.Dependencies))
		copy(deps, n.Dependencies)
		g.edges[n.ID] = deps
		g.order = append(g.order, n.ID)
		g.debugLog("[graph.Build] node %s depends_on=%v", n.ID, deps)
	}
	return nil
}

// Validate returns an error if any dependency is unknown or the graph has a cycle.
func (g *TaskGraph) Validate() error {
	g.mu.RLock()
	defer g.mu.RUnlock()

	for _, id := range g.order {
		for _, depID := range g.edges[id] {
			if _, ok := g.edges[depID]; !ok {
				return fmt.Errorf("%w: task %s depends on %s", ErrUnknownDependency, id, depID)
			}
		}
	}
	if g.hasCycleLocked() {
		return ErrCycleDetected
	}
	return nil
}

// HasCycle returns true if the graph contains a circular dependency.
func (g *TaskGraph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.hasCycleLocked()
}

// hasCycleLocked uses depth-first search with coloring to detect back edges.
// Unknown dependencies are ignored. Caller must hold g.mu.
func (g *TaskGraph) hasCycleLocked() bool {
	// 0 = unvisited, 1 = in progress, 2 = done.
	colors := make(map[string]int, len(g.order))

	var visit func(id string) bool
	visit = func(id string) bool {
		colors[id] = 1
		for _, depID := range g.edges[id] {
			if _, known := g.edges[depID]; !known {
				continue
			}
			switch colors[depID] {
			case 1:
				return true
			case 0:
				if visit(depID) {
					return true
				}
			}
		}
		colors[id] = 2
		return false
	}

	for _, id := range g.order {
		if colors[id] == 0 && visit(id) {
			return true
		}
	}
	return false
}

// Levels partitions the nodes into batches such that every node's
// dependencies sit in strictly earlier batches. Within a batch IDs keep
// insertion order.
//
// When no remaining node is ready (a cycle, a self-dependency or a reference
// to an unknown ID) every remaining node is placed in the current level. This
// keeps leveling terminating but does not honor the offending edges.
func (g *TaskGraph) Levels() [][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	remaining := make([]string, len(g.order))
	copy(remaining, g.order)
	completed := make(map[string]bool, len(g.order))

	var levels [][]string
	for len(remaining) > 0 {
		var current, rest []string
		for _, id := range remaining {
			if g.readyLocked(id, completed) {
				current = append(current, id)
			} else {
				rest = append(rest, id)
			}
		}

		if len(current) == 0 {
			g.debugLog("[graph.Levels] no ready nodes among %d remaining, flattening: %v", len(remaining), remaining)
			current, rest = remaining, nil
		}

		for _, id := range current {
			completed[id] = true
		}
		g.debugLog("[graph.Levels] level %d: %v", len(levels), current)
		levels = append(levels, current)
		remaining = rest
	}
	return levels
}

// readyLocked reports whether all of id's dependencies are in completed.
func (g *TaskGraph) readyLocked(id string, completed map[string]bool) bool {
	for _, depID := range g.edges[id] {
		if !completed[depID] {
			return false
		}
	}
	return true
}

// Size returns the number of nodes in the graph.
func (g *TaskGraph) Size() int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.order)
}

// Dependencies returns a copy of the IDs the given node depends on.
func (g *TaskGraph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	deps := g.edges[id]
	out := make([]string, len(deps))
	copy(out, deps)
	return out
}

// Dependents returns the IDs of nodes that depend on the given node.
func (g *TaskGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	var dependents []string
	for _, nodeID := range g.order {
		for _, depID := range g.edges[nodeID] {
			if depID == id {
				dependents = append(dependents, nodeID)
				break
			}
		}
	}
	return dependents
}

// LevelIndex maps every ID to the index of the level containing it.
func LevelIndex(levels [][]string) map[string]int {
	idx := make(map[string]int)
	for i, level := range levels {
		for _, id := range level {
			idx[id] = i
		}
	}
	return idx
}
