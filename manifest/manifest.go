// Package manifest loads pipeline definitions. The primary format is a
// Starlark file declaring tasks through the task() builtin; a YAML rendering
// of the same schema is accepted for pipelines that want no scripting.
package manifest

import (
	"path/filepath"

	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/workflow"
)

const (
	// StarlarkName is the default Starlark manifest file name.
	StarlarkName = "stagecoach.star"
	// YAMLName is the default YAML manifest file name.
	YAMLName = "stagecoach.yaml"
)

// Load reads the manifest at path and returns its tasks in declaration order.
// The format follows the file extension.
func Load(fsys fs.FileSystem, path string) ([]*workflow.Task, error) {
	switch ext := filepath.Ext(path); ext {
	case ".star":
		return LoadStarlark(fsys, path)
	case ".yaml", ".yml":
		return LoadYAML(fsys, path)
	default:
		return nil, workflow.Configf("manifest %s: unsupported extension %q, want .star, .yaml or .yml", path, ext)
	}
}

// Discover locates the manifest in dir. Starlark wins when both formats are
// present.
func Discover(fsys fs.FileSystem, dir string) (string, error) {
	for _, name := range []string{StarlarkName, YAMLName} {
		path := filepath.Join(dir, name)
		if _, err := fsys.Stat(path); err == nil {
			return path, nil
		}
	}
	return "", workflow.Configf("no %s or %s in %s", StarlarkName, YAMLName, dir)
}
