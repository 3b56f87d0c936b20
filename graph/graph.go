// Package graph derives the dependency structure of a pipeline from its
// declared artifacts: task A depends on task B exactly when one of A's input
// paths equals one of B's output paths.
package graph

import (
	"golang.org/x/exp/slices"

	"github.com/stagecoach-run/stagecoach/workflow"
)

// Graph is an immutable view of the tasks and their derived edges. Build is
// the only constructor.
type Graph struct {
	tasks      []*workflow.Task
	byName     map[string]*workflow.Task
	producer   map[string]*workflow.Task
	deps       map[string][]string
	dependents map[string][]string
}

// Build validates the task set and derives the edges. Duplicate producers and
// kind conflicts are configuration errors; cycles are reported later, by
// Order, because only the requested closure is checked.
func Build(tasks []*workflow.Task) (*Graph, error) {
	g := &Graph{
		byName:     make(map[string]*workflow.Task, len(tasks)),
		producer:   make(map[string]*workflow.Task),
		deps:       make(map[string][]string),
		dependents: make(map[string][]string),
	}

	for _, t := range tasks {
		if _, dup := g.byName[t.Name]; dup {
			return nil, workflow.Configf("duplicate task name %q", t.Name)
		}
		g.byName[t.Name] = t
		g.tasks = append(g.tasks, t)
	}

	producedKind := make(map[string]bool)
	for _, t := range g.tasks {
		for _, out := range t.Outputs {
			if prev, taken := g.producer[out.Path]; taken {
				if prev.Name == t.Name {
					return nil, workflow.Configf("task %q declares output %s twice", t.Name, out)
				}
				return nil, workflow.Configf("output %s is declared by both %q and %q", out, prev.Name, t.Name)
			}
			g.producer[out.Path] = t
			producedKind[out.Path] = out.Dir
		}
	}

	for _, t := range g.tasks {
		seen := make(map[string]bool)
		for _, in := range t.Inputs {
			p, ok := g.producer[in.Path]
			if !ok {
				continue
			}
			if producedKind[in.Path] != in.Dir {
				return nil, workflow.Configf(
					"task %q reads %s as a %s but %q produces it as a %s",
					t.Name, in.Path, kindName(in.Dir), p.Name, kindName(producedKind[in.Path]))
			}
			if p.Name == t.Name {
				return nil, workflow.Configf("task %q consumes its own output %s", t.Name, in)
			}
			if !seen[p.Name] {
				seen[p.Name] = true
				g.deps[t.Name] = append(g.deps[t.Name], p.Name)
				g.dependents[p.Name] = append(g.dependents[p.Name], t.Name)
			}
		}
	}

	// edges sorted by declaration index so every traversal is reproducible
	for name := range g.deps {
		g.sortByPos(g.deps[name])
	}
	for name := range g.dependents {
		g.sortByPos(g.dependents[name])
	}

	return g, nil
}

func (g *Graph) sortByPos(names []string) {
	slices.SortFunc(names, func(a, b string) int {
		return g.byName[a].Pos - g.byName[b].Pos
	})
}

func kindName(dir bool) string {
	if dir {
		return "directory"
	}
	return "file"
}

// Tasks returns every task in declaration order.
func (g *Graph) Tasks() []*workflow.Task {
	return slices.Clone(g.tasks)
}

// Len reports the number of tasks.
func (g *Graph) Len() int { return len(g.tasks) }

// Lookup finds a task by name.
func (g *Graph) Lookup(name string) (*workflow.Task, bool) {
	t, ok := g.byName[name]
	return t, ok
}

// Producer finds the task declaring the given cleaned path as an output.
func (g *Graph) Producer(path string) (*workflow.Task, bool) {
	t, ok := g.producer[path]
	return t, ok
}

// Dependencies returns the names of the tasks producing inputs of name,
// ordered by declaration index.
func (g *Graph) Dependencies(name string) []string {
	return g.deps[name]
}

// Dependents returns the names of the tasks consuming outputs of name,
// ordered by declaration index.
func (g *Graph) Dependents(name string) []string {
	return g.dependents[name]
}

// Resolve maps a command line target onto a task: first as a task name, then
// as an artifact path whose producer is wanted.
func (g *Graph) Resolve(target string) (*workflow.Task, error) {
	if t, ok := g.byName[target]; ok {
		return t, nil
	}
	if art, err := workflow.ParseArtifact(target); err == nil {
		if p, ok := g.producer[art.Path]; ok {
			return p, nil
		}
	}
	return nil, workflow.Configf("unknown target %q: no task by that name and no task produces that path", target)
}

// Closure returns the goal task and its transitive dependencies in
// declaration order. An empty goal selects every task.
func (g *Graph) Closure(goal string) ([]*workflow.Task, error) {
	if goal == "" {
		return g.Tasks(), nil
	}
	root, err := g.Resolve(goal)
	if err != nil {
		return nil, err
	}

	wanted := map[string]bool{root.Name: true}
	queue := []string{root.Name}
	for len(queue) > 0 {
		name := queue[0]
		queue = queue[1:]
		for _, dep := range g.deps[name] {
			if !wanted[dep] {
				wanted[dep] = true
				queue = append(queue, dep)
			}
		}
	}

	closure := make([]*workflow.Task, 0, len(wanted))
	for _, t := range g.tasks {
		if wanted[t.Name] {
			closure = append(closure, t)
		}
	}
	return closure, nil
}
