package workflow

// Task is one unit of work in a pipeline: a named action plus the artifacts
// it reads and writes. Dependency edges are never declared directly; they are
// derived from exact output-to-input path matches.
type Task struct {
	Name    string
	Inputs  []Artifact
	Outputs []Artifact
	Action  Action
	Cache   bool

	// Pos is the declaration index in the manifest. It breaks scheduling
	// ties, so runs are reproducible.
	Pos int
}

// FetchOnly reports whether the task has no action. Such tasks can only be
// satisfied by outputs already on disk or by a cache entry.
func (t *Task) FetchOnly() bool { return t.Action == nil }

// InputPaths returns the cleaned input paths in declaration order.
func (t *Task) InputPaths() []string {
	paths := make([]string, len(t.Inputs))
	for i, a := range t.Inputs {
		paths[i] = a.Path
	}
	return paths
}

// OutputPaths returns the cleaned output paths in declaration order.
func (t *Task) OutputPaths() []string {
	paths := make([]string, len(t.Outputs))
	for i, a := range t.Outputs {
		paths[i] = a.Path
	}
	return paths
}
