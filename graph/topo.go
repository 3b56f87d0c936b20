package graph

import (
	"container/heap"
	"strings"

	"github.com/stagecoach-run/stagecoach/workflow"
)

// taskHeap orders ready tasks by declaration index.
type taskHeap []*workflow.Task

func (h taskHeap) Len() int            { return len(h) }
func (h taskHeap) Less(i, j int) bool  { return h[i].Pos < h[j].Pos }
func (h taskHeap) Swap(i, j int)       { h[i], h[j] = h[j], h[i] }
func (h *taskHeap) Push(x interface{}) { *h = append(*h, x.(*workflow.Task)) }
func (h *taskHeap) Pop() interface{} {
	old := *h
	n := len(old)
	t := old[n-1]
	old[n-1] = nil
	*h = old[:n-1]
	return t
}

// Order schedules the given tasks: a valid topological order in which ties
// between simultaneously ready tasks go to the earlier declaration. The task
// set must be dependency closed, as produced by Closure. A cycle among the
// tasks is a configuration error naming one full loop.
func (g *Graph) Order(tasks []*workflow.Task) ([]*workflow.Task, error) {
	inSet := make(map[string]bool, len(tasks))
	for _, t := range tasks {
		inSet[t.Name] = true
	}

	indegree := make(map[string]int, len(tasks))
	for _, t := range tasks {
		for _, dep := range g.deps[t.Name] {
			if inSet[dep] {
				indegree[t.Name]++
			}
		}
	}

	ready := &taskHeap{}
	for _, t := range tasks {
		if indegree[t.Name] == 0 {
			heap.Push(ready, t)
		}
	}

	order := make([]*workflow.Task, 0, len(tasks))
	for ready.Len() > 0 {
		t := heap.Pop(ready).(*workflow.Task)
		order = append(order, t)
		for _, name := range g.dependents[t.Name] {
			if !inSet[name] {
				continue
			}
			indegree[name]--
			if indegree[name] == 0 {
				heap.Push(ready, g.byName[name])
			}
		}
	}

	if len(order) < len(tasks) {
		return nil, workflow.Configf("dependency cycle: %s", g.findCycle(tasks, inSet))
	}
	return order, nil
}

// findCycle walks the leftover edges depth first and reports one loop as
// "a -> b -> a". Neighbors are visited in declaration order so the witness is
// stable across runs.
func (g *Graph) findCycle(tasks []*workflow.Task, inSet map[string]bool) string {
	const (
		white = iota // unvisited
		gray         // on the current path
		black        // fully explored
	)
	color := make(map[string]int, len(tasks))
	var path []string
	var loop []string

	var visit func(name string) bool
	visit = func(name string) bool {
		color[name] = gray
		path = append(path, name)
		for _, dep := range g.deps[name] {
			if !inSet[dep] {
				continue
			}
			switch color[dep] {
			case gray:
				for i, n := range path {
					if n == dep {
						loop = append(loop, path[i:]...)
						loop = append(loop, dep)
						return true
					}
				}
			case white:
				if visit(dep) {
					return true
				}
			}
		}
		path = path[:len(path)-1]
		color[name] = black
		return false
	}

	for _, t := range tasks {
		if color[t.Name] == white && visit(t.Name) {
			break
		}
	}
	return strings.Join(loop, " -> ")
}
