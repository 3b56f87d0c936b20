package manifest

import (
	"path/filepath"
	"sync"

	"github.com/pkg/errors"
	"go.starlark.net/starlark"

	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/workflow"
)

// Thread locals shared between the entry file and load()ed modules.
const (
	moduleCacheKey = "moduleCache"
	fsKey          = "manifestFS"
	predeclaredKey = "predeclared"
)

// ModuleCache stores load()ed Starlark modules so shared helper files execute
// once per manifest load.
type ModuleCache struct {
	modules map[string]starlark.StringDict
	mutex   sync.RWMutex
}

// NewModuleCache creates an empty ModuleCache.
func NewModuleCache() *ModuleCache {
	return &ModuleCache{
		modules: make(map[string]starlark.StringDict),
	}
}

// Get retrieves a module from the cache.
func (mc *ModuleCache) Get(key string) (starlark.StringDict, bool) {
	mc.mutex.RLock()
	defer mc.mutex.RUnlock()
	module, ok := mc.modules[key]
	return module, ok
}

// Set stores a module in the cache.
func (mc *ModuleCache) Set(key string, module starlark.StringDict) {
	mc.mutex.Lock()
	defer mc.mutex.Unlock()
	mc.modules[key] = module
}

// loadModule implements load() with caching. Module paths resolve relative to
// the directory of the loading file, and loaded modules see the same
// predeclared environment as the entry file, so helpers may declare tasks.
func loadModule(thread *starlark.Thread, module string) (starlark.StringDict, error) {
	cache := thread.Local(moduleCacheKey).(*ModuleCache)
	if cached, ok := cache.Get(module); ok {
		return cached, nil
	}

	filename := module
	if !filepath.IsAbs(filename) {
		filename = filepath.Join(filepath.Dir(thread.Name), filename)
	}

	fsys := thread.Local(fsKey).(fs.FileSystem)
	src, err := fsys.ReadFile(filename)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read module %s", filename)
	}

	predeclared := thread.Local(predeclaredKey).(starlark.StringDict)
	globals, err := starlark.ExecFile(thread, filename, src, predeclared)
	if err != nil {
		return nil, err
	}

	cache.Set(module, globals)
	return globals, nil
}

// taskBuilder collects task() calls in execution order.
type taskBuilder struct {
	raws []rawTask
}

func (b *taskBuilder) builtin() *starlark.Builtin {
	return starlark.NewBuiltin("task", b.addTask)
}

func (b *taskBuilder) addTask(thread *starlark.Thread, fn *starlark.Builtin, args starlark.Tuple, kwargs []starlark.Tuple) (starlark.Value, error) {
	var (
		name    string
		action  starlark.Value
		inputs  *starlark.List
		outputs *starlark.List
		cache   bool
	)
	if err := starlark.UnpackArgs("task", args, kwargs,
		"name", &name,
		"action?", &action,
		"inputs?", &inputs,
		"outputs?", &outputs,
		"cache?", &cache,
	); err != nil {
		return nil, err
	}

	act, err := actionFromValue(name, action)
	if err != nil {
		return nil, err
	}
	ins, err := stringsFromList("inputs", inputs)
	if err != nil {
		return nil, errors.Wrapf(err, "task %q", name)
	}
	outs, err := stringsFromList("outputs", outputs)
	if err != nil {
		return nil, errors.Wrapf(err, "task %q", name)
	}

	b.raws = append(b.raws, rawTask{
		name:    name,
		action:  act,
		inputs:  ins,
		outputs: outs,
		cache:   cache,
	})
	return starlark.None, nil
}

// actionFromValue maps the action argument onto an Action: None means
// fetch-only, a string runs through the shell, a list of strings is an argv.
func actionFromValue(name string, value starlark.Value) (workflow.Action, error) {
	switch v := value.(type) {
	case nil, starlark.NoneType:
		return nil, nil
	case starlark.String:
		return workflow.ShellAction{Script: v.GoString()}, nil
	case *starlark.List:
		argv, err := stringsFromList("action", v)
		if err != nil {
			return nil, errors.Wrapf(err, "task %q", name)
		}
		if len(argv) == 0 {
			return nil, errors.Errorf("task %q: action list is empty", name)
		}
		return workflow.ExecAction{Argv: argv}, nil
	default:
		return nil, errors.Errorf("task %q: action must be None, a string or a list of strings, got %s", name, value.Type())
	}
}

func stringsFromList(key string, list *starlark.List) ([]string, error) {
	if list == nil {
		return nil, nil
	}
	var result []string
	iter := list.Iterate()
	defer iter.Done()
	var x starlark.Value
	for iter.Next(&x) {
		str, ok := x.(starlark.String)
		if !ok {
			return nil, errors.Errorf("expected string in %s, got %s", key, x.Type())
		}
		result = append(result, str.GoString())
	}
	return result, nil
}

// LoadStarlark executes a Starlark manifest and returns the declared tasks.
func LoadStarlark(fsys fs.FileSystem, path string) ([]*workflow.Task, error) {
	src, err := fsys.ReadFile(path)
	if err != nil {
		return nil, errors.Wrapf(err, "failed to read manifest %s", path)
	}

	builder := &taskBuilder{}
	predeclared := starlark.StringDict{"task": builder.builtin()}

	thread := &starlark.Thread{Name: path, Load: loadModule}
	thread.SetLocal(moduleCacheKey, NewModuleCache())
	thread.SetLocal(fsKey, fsys)
	thread.SetLocal(predeclaredKey, predeclared)

	if _, err := starlark.ExecFile(thread, path, src, predeclared); err != nil {
		return nil, workflow.Configf("manifest %s: %v", path, err)
	}
	return finishTasks(path, builder.raws)
}
