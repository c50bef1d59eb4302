// dependency_graph.go: Plugin dependency graph and load ordering
//
// Plugins declare dependencies on other plugins by ID. The graph computes
// a deterministic dependency-first load order with Kahn's algorithm and
// attributes failures precisely: plugins whose dependencies were never
// discovered and plugins caught in (or downstream of) a cycle are reported
// separately so the loader can skip exactly those and load the rest.
//
// Copyright (c) 2025 AGILira - A. Giordano
// Series: an AGILira library
// SPDX-License-Identifier: MPL-2.0

package pluginhost

import (
	"sort"
	"sync"
)

// dependencyNode is one plugin in the graph.
type dependencyNode struct {
	id           string
	dependencies []string
	dependents   []string
}

// DependencyGraph tracks inter-plugin dependencies. All methods are safe
// for concurrent use.
type DependencyGraph struct {
	mu       sync.RWMutex
	nodes    map[string]*dependencyNode
	declared map[string]bool
	priority map[string]int
}

// NewDependencyGraph creates an empty dependency graph.
func NewDependencyGraph() *DependencyGraph {
	return &DependencyGraph{
		nodes:    make(map[string]*dependencyNode),
		declared: make(map[string]bool),
		priority: make(map[string]int),
	}
}

// SetPriority records the plugin's load priority. Plugins that become
// loadable together are ordered highest priority first.
func (g *DependencyGraph) SetPriority(id string, priority int) {
	g.mu.Lock()
	defer g.mu.Unlock()
	g.priority[id] = priority
}

// Add records a plugin and its dependencies, replacing any previous
// declaration for the same ID. Dependencies that have not themselves been
// added yet get placeholder nodes; they count as missing until declared.
func (g *DependencyGraph) Add(id string, dependencies []string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	node := g.ensureNodeLocked(id)
	node.dependencies = append([]string(nil), dependencies...)
	g.declared[id] = true

	for _, dep := range dependencies {
		depNode := g.ensureNodeLocked(dep)
		if !contains(depNode.dependents, id) {
			depNode.dependents = append(depNode.dependents, id)
		}
	}
}

// Remove deletes a plugin from the graph. Other plugins that depend on it
// keep their declaration; the dependency simply becomes missing.
func (g *DependencyGraph) Remove(id string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	delete(g.declared, id)
	delete(g.priority, id)
	node, ok := g.nodes[id]
	if !ok {
		return
	}

	// Keep the node as a placeholder while anything still depends on it.
	if len(node.dependents) > 0 {
		node.dependencies = nil
		return
	}
	delete(g.nodes, id)
	for _, other := range g.nodes {
		for i, dep := range other.dependents {
			if dep == id {
				other.dependents = append(other.dependents[:i], other.dependents[i+1:]...)
				break
			}
		}
	}
}

// Dependencies returns the declared dependencies of a plugin.
func (g *DependencyGraph) Dependencies(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if node, ok := g.nodes[id]; ok {
		return append([]string(nil), node.dependencies...)
	}
	return nil
}

// Dependents returns the plugins that depend on the given plugin.
func (g *DependencyGraph) Dependents(id string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	if node, ok := g.nodes[id]; ok {
		out := append([]string(nil), node.dependents...)
		sort.Strings(out)
		return out
	}
	return nil
}

// Missing returns, per declared plugin, the dependencies that were never
// declared themselves. Plugins with complete dependencies are absent from
// the result.
func (g *DependencyGraph) Missing() map[string][]string {
	g.mu.RLock()
	defer g.mu.RUnlock()

	missing := make(map[string][]string)
	for id := range g.declared {
		for _, dep := range g.nodes[id].dependencies {
			if !g.declared[dep] {
				missing[id] = append(missing[id], dep)
			}
		}
		sort.Strings(missing[id])
	}
	for id, deps := range missing {
		if len(deps) == 0 {
			delete(missing, id)
		}
	}
	return missing
}

// LoadOrder computes a dependency-first order over the declared plugins
// with Kahn's algorithm. Plugins that become loadable together are
// ordered by declared priority, highest first, then alphabetically so
// the order is deterministic. Plugins inside a dependency cycle,
// downstream of one, or behind a missing dependency are returned in
// unresolved instead of the order.
func (g *DependencyGraph) LoadOrder() (order []string, unresolved []string) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	inDegree := make(map[string]int, len(g.declared))
	for id := range g.declared {
		inDegree[id] = len(g.nodes[id].dependencies)
	}

	var queue []string
	for id, degree := range inDegree {
		if degree == 0 {
			queue = append(queue, id)
		}
	}
	g.sortByPriorityLocked(queue)

	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		order = append(order, current)

		var released []string
		for _, dependent := range g.nodes[current].dependents {
			if _, tracked := inDegree[dependent]; !tracked {
				continue
			}
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				released = append(released, dependent)
			}
		}
		g.sortByPriorityLocked(released)
		queue = append(queue, released...)
	}

	if len(order) < len(g.declared) {
		ordered := make(map[string]bool, len(order))
		for _, id := range order {
			ordered[id] = true
		}
		for id := range g.declared {
			if !ordered[id] {
				unresolved = append(unresolved, id)
			}
		}
		sort.Strings(unresolved)
	}
	return order, unresolved
}

func (g *DependencyGraph) sortByPriorityLocked(ids []string) {
	sort.Slice(ids, func(i, j int) bool {
		pi, pj := g.priority[ids[i]], g.priority[ids[j]]
		if pi != pj {
			return pi > pj
		}
		return ids[i] < ids[j]
	})
}

func (g *DependencyGraph) ensureNodeLocked(id string) *dependencyNode {
	node, ok := g.nodes[id]
	if !ok {
		node = &dependencyNode{id: id}
		g.nodes[id] = node
	}
	return node
}

func contains(list []string, value string) bool {
	for _, item := range list {
		if item == value {
			return true
		}
	}
	return false
}
