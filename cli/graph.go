package cli

import (
	"fmt"
	"io"
	"strconv"
	"strings"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/stagecoach-run/stagecoach/fs"
	"github.com/stagecoach-run/stagecoach/graph"
)

// depsFileName is where --starlark dumps the dependency map.
const depsFileName = "stagecoach-deps.star"

var graphStarlark bool

var graphCmd = &cobra.Command{
	Use:   "graph",
	Short: "Print the tasks and the edges derived from their artifacts",
	RunE:  runGraph,
}

func init() {
	rootCmd.AddCommand(graphCmd)
	graphCmd.Flags().BoolVar(&graphStarlark, "starlark", false, "write the dependency map to "+depsFileName)
}

func runGraph(cmd *cobra.Command, args []string) error {
	fsys := fs.RealFileSystem{}
	g, err := loadGraph(fsys, cfg)
	if err != nil {
		return err
	}
	if graphStarlark {
		return writeDepsFile(fsys, g, cmd.OutOrStdout())
	}

	order, err := g.Order(g.Tasks())
	if err != nil {
		return err
	}
	out := cmd.OutOrStdout()
	fmt.Fprintln(out, "tasks (execution order):")
	for _, task := range order {
		fmt.Fprintf(out, "  %s\n", task.Name)
	}
	fmt.Fprintln(out, "edges:")
	for _, task := range order {
		for _, dep := range g.Dependencies(task.Name) {
			fmt.Fprintf(out, "  %s -> %s\n", dep, task.Name)
		}
	}
	return nil
}

// writeDepsFile dumps each task's input paths as one Starlark dict, for
// editors and external tooling.
func writeDepsFile(fsys fs.FileSystem, g *graph.Graph, out io.Writer) error {
	var b strings.Builder
	b.WriteString("task_dependency_map = {\n")
	for _, task := range g.Tasks() {
		paths := make([]string, 0, len(task.Inputs))
		for _, in := range task.Inputs {
			paths = append(paths, strconv.Quote(in.String()))
		}
		fmt.Fprintf(&b, "    %q: [%s],\n", task.Name, strings.Join(paths, ", "))
	}
	b.WriteString("}\n")

	if err := fsys.WriteFile(depsFileName, []byte(b.String()), 0644); err != nil {
		return errors.Wrapf(err, "failed to write %s", depsFileName)
	}
	fmt.Fprintf(out, "wrote %s\n", depsFileName)
	return nil
}
