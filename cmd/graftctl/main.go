package main

import (
	"context"
	"flag"
	"fmt"
	"os"

	"k8s.io/klog/v2"

	"k8s.io/examples/AI/modelgraft/pkg/engine"
	"k8s.io/examples/AI/modelgraft/pkg/engine/fallback"
	"k8s.io/examples/AI/modelgraft/pkg/graph"
)

func main() {
	ctx := context.Background()
	if err := run(ctx); err != nil {
		fmt.Fprintf(os.Stderr, "%v\n", err)
		os.Exit(1)
	}
}

const usage = `usage:
  graftctl describe <descriptor>          print the graph as a dependency tree
  graftctl eval <descriptor> <node>...    evaluate constant nodes
`

func run(ctx context.Context) error {
	klog.InitFlags(nil)
	flag.Usage = func() {
		fmt.Fprint(flag.CommandLine.Output(), usage)
		flag.PrintDefaults()
	}
	flag.Parse()

	args := flag.Args()
	if len(args) < 2 {
		flag.Usage()
		return fmt.Errorf("expected a command and a descriptor")
	}

	g, err := graph.ReadFile(args[1])
	if err != nil {
		return err
	}
	klog.FromContext(ctx).V(2).Info("loaded graph", "path", args[1], "nodes", g.Len())

	switch args[0] {
	case "describe":
		fmt.Print(describe(g).String())
		return nil
	case "eval":
		return evaluate(g, args[2:])
	default:
		flag.Usage()
		return fmt.Errorf("unknown command %q", args[0])
	}
}

func evaluate(g *graph.Graph, names []string) error {
	if len(names) == 0 {
		return fmt.Errorf("eval needs at least one node name")
	}
	scope, err := fallback.NewCalculationScope()
	if err != nil {
		return err
	}
	defer scope.Close()

	values, err := engine.Evaluate(scope, g, names)
	if err != nil {
		return err
	}
	for _, name := range names {
		v := values[name]
		fmt.Printf("%s %v: %v\n", name, v.Shape, v.Values)
	}
	return nil
}
