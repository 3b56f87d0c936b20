package manifest

import (
	"bytes"
	"io"

	"github.com/pkg/errors"
	"gopkg.in/yaml.v3"

	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/workflow"
)

type yamlManifest struct {
	Tasks []yamlTask `yaml:"tasks"`
}

type yamlTask struct {
	Name    string    `yaml:"name"`
	Action  yaml.Node `yaml:"action"`
	Inputs  []string  `yaml:"inputs"`
	Outputs []string  `yaml:"outputs"`
	Cache   bool      `yaml:"cache"`
}

// LoadYAML reads a YAML manifest. The schema mirrors the Starlark task()
// arguments, one document with a top-level tasks list.
func LoadYAML(fsys fs.FileSystem, path string) ([]*workflow.Task, error) {
	src, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %s", path)
	}

	var doc yamlManifest
	dec := yaml.NewDecoder(bytes.NewReader(src))
	dec.KnownFields(true)
	if err := dec.Decode(&doc); err != nil {
		if errors.Is(err, io.EOF) {
			return finishTasks(path, nil)
		}
		return nil, workflow.Configf("manifest %s: %v", path, err)
	}

	raws := make([]rawTask, 0, len(doc.Tasks))
	for _, yt := range doc.Tasks {
		action, err := actionFromNode(yt.Name, yt.Action)
		if err != nil {
			return nil, workflow.Configf("manifest %s: %v", path, err)
		}
		raws = append(raws, rawTask{
			name:    yt.Name,
			action:  action,
			inputs:  yt.Inputs,
			outputs: yt.Outputs,
			cache:   yt.Cache,
		})
	}
	return finishTasks(path, raws)
}

// actionFromNode applies the same action mapping as the Starlark loader:
// absent or null means fetch-only, a scalar is a shell script, a sequence is
// an argv.
func actionFromNode(name string, node yaml.Node) (workflow.Action, error) {
	switch {
	case node.IsZero(), node.Kind == yaml.ScalarNode && node.Tag == "!!null":
		return nil, nil
	case node.Kind == yaml.ScalarNode:
		var script string
		if err := node.Decode(&script); err != nil {
			return nil, errors.Wrapf(err, "task %q action", name)
		}
		return workflow.ShellAction{Script: script}, nil
	case node.Kind == yaml.SequenceNode:
		var argv []string
		if err := node.Decode(&argv); err != nil {
			return nil, errors.Wrapf(err, "task %q action", name)
		}
		if len(argv) == 0 {
			return nil, errors.Errorf("task %q: action list is empty", name)
		}
		return workflow.ExecAction{Argv: argv}, nil
	default:
		return nil, errors.Errorf("task %q: action must be a string or a list of strings", name)
	}
}
