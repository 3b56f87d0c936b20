package manifest

import (
	"strings"

	"github.com/pkg/errors"

	"github.com/stagecoach-run/stagecoach/workflow"
)

// rawTask is a parsed but unvalidated declaration, shared by both loaders.
type rawTask struct {
	name    string
	action  workflow.Action
	inputs  []string
	outputs []string
	cache   bool
}

// finishTasks validates the declarations and assigns declaration indexes.
// Structural checks that need the whole graph, producer conflicts across
// kinds and cycles, happen later in the graph package; this layer rejects
// what a single pass over the manifest can.
func finishTasks(source string, raws []rawTask) ([]*workflow.Task, error) {
	seen := make(map[string]bool, len(raws))
	owners := make(map[string]string)
	tasks := make([]*workflow.Task, 0, len(raws))

	for i, raw := range raws {
		if strings.TrimSpace(raw.name) == "" {
			return nil, workflow.Configf("%s: task #%d has no name", source, i+1)
		}
		if seen[raw.name] {
			return nil, workflow.Configf("%s: task %q is declared twice", source, raw.name)
		}
		seen[raw.name] = true

		inputs, err := artifactsFromStrings(raw.inputs)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: task %q inputs", source, raw.name)
		}
		outputs, err := artifactsFromStrings(raw.outputs)
		if err != nil {
			return nil, errors.Wrapf(err, "%s: task %q outputs", source, raw.name)
		}

		if raw.action == nil {
			if len(outputs) == 0 {
				return nil, workflow.Configf("%s: task %q has neither an action nor outputs", source, raw.name)
			}
			if !raw.cache {
				return nil, workflow.Configf("%s: task %q has no action and cache is off, nothing can produce its outputs", source, raw.name)
			}
		}

		for _, out := range outputs {
			if owner, taken := owners[out.Path]; taken {
				if owner == raw.name {
					return nil, workflow.Configf("%s: task %q declares output %s twice", source, raw.name, out)
				}
				return nil, workflow.Configf("%s: output %s belongs to both %q and %q", source, out, owner, raw.name)
			}
			owners[out.Path] = raw.name
		}

		tasks = append(tasks, &workflow.Task{
			Name:    raw.name,
			Inputs:  inputs,
			Outputs: outputs,
			Action:  raw.action,
			Cache:   raw.cache,
			Pos:     i,
		})
	}
	return tasks, nil
}

func artifactsFromStrings(raw []string) ([]workflow.Artifact, error) {
	if len(raw) == 0 {
		return nil, nil
	}
	arts := make([]workflow.Artifact, 0, len(raw))
	for _, s := range raw {
		a, err := workflow.ParseArtifact(s)
		if err != nil {
			return nil, err
		}
		arts = append(arts, a)
	}
	return arts, nil
}
