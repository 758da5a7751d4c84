package graph

import (
	"fmt"
	"sort"
	"strings"
	"sync"

	"github.com/RevCBH/taskd/internal/task"
)

// Graph is the in-memory dependency DAG. Edges point from a task to the
// tasks it depends on; a reverse index answers dependent lookups. It is
// rebuilt from the store at startup and mutated incrementally afterwards,
// only after the corresponding store write succeeded.
type Graph struct {
	// edges maps task ID to the set of task IDs it depends on
	edges map[string]map[string]bool

	// dependents is the reverse index: dep ID to the set of tasks
	// depending on it
	dependents map[string]map[string]bool

	mu sync.RWMutex
}

// CycleError indicates a circular dependency was detected
type CycleError struct {
	Cycle []string
}

func (e *CycleError) Error() string {
	return fmt.Sprintf("dependency cycle detected: %s", strings.Join(e.Cycle, " -> "))
}

// New constructs an empty dependency graph.
func New() *Graph {
	return &Graph{
		edges:      make(map[string]map[string]bool),
		dependents: make(map[string]map[string]bool),
	}
}

// AddEdge inserts "taskID depends on depID" into both indexes.
// Identifiers must be non-empty. The caller is responsible for running the
// cycle check first; AddEdge itself does not re-verify.
func (g *Graph) AddEdge(taskID, depID string) error {
	if taskID == "" || depID == "" {
		return task.NewError(task.KindInvalidInput,
			"dependency edge requires non-empty task ids, got %q -> %q", taskID, depID)
	}

	g.mu.Lock()
	defer g.mu.Unlock()

	if g.edges[taskID] == nil {
		g.edges[taskID] = make(map[string]bool)
	}
	g.edges[taskID][depID] = true

	if g.dependents[depID] == nil {
		g.dependents[depID] = make(map[string]bool)
	}
	g.dependents[depID][taskID] = true
	return nil
}

// RemoveEdge deletes the edge from both indexes. Entries whose sets become
// empty are removed entirely so the maps do not accumulate dead keys.
func (g *Graph) RemoveEdge(taskID, depID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	if set, ok := g.edges[taskID]; ok {
		delete(set, depID)
		if len(set) == 0 {
			delete(g.edges, taskID)
		}
	}
	if set, ok := g.dependents[depID]; ok {
		delete(set, taskID)
		if len(set) == 0 {
			delete(g.dependents, depID)
		}
	}
}

// RemoveTask removes every edge touching the task, in both directions,
// cleaning up any set that becomes empty.
func (g *Graph) RemoveTask(taskID string) {
	g.mu.Lock()
	defer g.mu.Unlock()

	for dep := range g.edges[taskID] {
		if set, ok := g.dependents[dep]; ok {
			delete(set, taskID)
			if len(set) == 0 {
				delete(g.dependents, dep)
			}
		}
	}
	delete(g.edges, taskID)

	for dependent := range g.dependents[taskID] {
		if set, ok := g.edges[dependent]; ok {
			delete(set, taskID)
			if len(set) == 0 {
				delete(g.edges, dependent)
			}
		}
	}
	delete(g.dependents, taskID)
}

// WouldCreateCycle reports whether inserting "taskID depends on depID" would
// close a loop: true iff taskID is reachable from depID along existing
// dependency edges, or the edge is a self-loop.
func (g *Graph) WouldCreateCycle(taskID, depID string) bool {
	if taskID == depID {
		return true
	}

	g.mu.RLock()
	defer g.mu.RUnlock()

	// DFS from depID through forward edges looking for taskID.
	stack := []string{depID}
	seen := map[string]bool{depID: true}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for next := range g.edges[current] {
			if next == taskID {
				return true
			}
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return false
}

// HasCycle runs a global DFS coloring pass over the forward edges.
func (g *Graph) HasCycle() bool {
	g.mu.RLock()
	defer g.mu.RUnlock()

	const (
		white = 0 // unvisited
		gray  = 1 // visiting
		black = 2 // visited
	)

	color := make(map[string]int)

	var dfs func(string) bool
	dfs = func(node string) bool {
		color[node] = gray
		for next := range g.edges[node] {
			switch color[next] {
			case gray:
				return true
			case white:
				if dfs(next) {
					return true
				}
			}
		}
		color[node] = black
		return false
	}

	for _, node := range g.nodesLocked() {
		if color[node] == white {
			if dfs(node) {
				return true
			}
		}
	}
	return false
}

// TopologicalSort returns task IDs ordered so every dependency precedes its
// dependents, using Kahn's algorithm. Fails with a CycleError when nodes
// remain after processing.
func (g *Graph) TopologicalSort() ([]string, error) {
	g.mu.RLock()
	defer g.mu.RUnlock()

	nodes := g.nodesLocked()

	// In-degree here counts unprocessed dependencies.
	inDegree := make(map[string]int, len(nodes))
	for _, node := range nodes {
		inDegree[node] = len(g.edges[node])
	}

	var queue []string
	for _, node := range nodes {
		if inDegree[node] == 0 {
			queue = append(queue, node)
		}
	}
	sort.Strings(queue)

	var result []string
	for len(queue) > 0 {
		current := queue[0]
		queue = queue[1:]
		result = append(result, current)

		dependents := setToSortedSlice(g.dependents[current])
		for _, dependent := range dependents {
			inDegree[dependent]--
			if inDegree[dependent] == 0 {
				queue = append(queue, dependent)
			}
		}
		sort.Strings(queue)
	}

	if len(result) != len(nodes) {
		return nil, &CycleError{Cycle: g.findCycleLocked()}
	}
	return result, nil
}

// DirectDependencies returns the tasks the given task directly depends on.
func (g *Graph) DirectDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return setToSortedSlice(g.edges[taskID])
}

// DirectDependents returns the tasks directly depending on the given task.
func (g *Graph) DirectDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return setToSortedSlice(g.dependents[taskID])
}

// AllDependencies returns the transitive closure over forward edges.
func (g *Graph) AllDependencies(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closureLocked(taskID, g.edges)
}

// AllDependents returns the transitive closure over reverse edges.
func (g *Graph) AllDependents(taskID string) []string {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return g.closureLocked(taskID, g.dependents)
}

// MaxDepth returns the longest dependency path from the task to any leaf.
// Leaves (tasks with no dependencies) have depth 0. Memoized per call.
func (g *Graph) MaxDepth(taskID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()

	memo := make(map[string]int)

	var depth func(string) int
	depth = func(node string) int {
		if d, ok := memo[node]; ok {
			return d
		}
		max := 0
		for dep := range g.edges[node] {
			if d := depth(dep) + 1; d > max {
				max = d
			}
		}
		memo[node] = max
		return max
	}

	return depth(taskID)
}

// PendingDependencies reports how many of the task's dependencies are still
// present in the graph. Handlers remove edges as they resolve, so zero means
// the task is ready.
func (g *Graph) PendingDependencies(taskID string) int {
	g.mu.RLock()
	defer g.mu.RUnlock()
	return len(g.edges[taskID])
}

// nodesLocked returns the union of both index key sets, sorted. Caller holds
// at least a read lock.
func (g *Graph) nodesLocked() []string {
	set := make(map[string]bool, len(g.edges)+len(g.dependents))
	for node := range g.edges {
		set[node] = true
	}
	for node := range g.dependents {
		set[node] = true
	}
	return setToSortedSlice(set)
}

func (g *Graph) closureLocked(start string, adjacency map[string]map[string]bool) []string {
	seen := make(map[string]bool)
	stack := []string{start}
	for len(stack) > 0 {
		current := stack[len(stack)-1]
		stack = stack[:len(stack)-1]

		for next := range adjacency[current] {
			if !seen[next] {
				seen[next] = true
				stack = append(stack, next)
			}
		}
	}
	return setToSortedSlice(seen)
}

// findCycleLocked locates one cycle path for error reporting. Caller holds
// at least a read lock.
func (g *Graph) findCycleLocked() []string {
	const (
		white = 0
		gray  = 1
		black = 2
	)

	color := make(map[string]int)
	parent := make(map[string]string)

	var cycle []string
	var dfs func(string) bool

	dfs = func(node string) bool {
		color[node] = gray

		for _, next := range setToSortedSlice(g.edges[node]) {
			if color[next] == gray {
				// Found the loop; walk parents back to reconstruct it.
				cycle = []string{next}
				current := node
				for current != next {
					cycle = append([]string{current}, cycle...)
					current = parent[current]
				}
				cycle = append(cycle, next)
				return true
			}
			if color[next] == white {
				parent[next] = node
				if dfs(next) {
					return true
				}
			}
		}

		color[node] = black
		return false
	}

	for _, node := range g.nodesLocked() {
		if color[node] == white {
			if dfs(node) {
				return cycle
			}
		}
	}
	return nil
}

func setToSortedSlice(set map[string]bool) []string {
	result := make([]string, 0, len(set))
	for item := range set {
		result = append(result, item)
	}
	sort.Strings(result)
	return result
}
