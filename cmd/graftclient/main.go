package main

import (
	"context"
	"flag"
	"fmt"
	"os"
	"strings"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/modelgraft/api/v1alpha1"
)

func main() {
	ctx := context.Background()
	err := run(ctx)
	if err != nil {
		fmt.Fprintf(os.Stderr, "%s\n", err)
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	serverAddr := "127.0.0.1:9876"
	flag.StringVar(&serverAddr, "server", serverAddr, "address of graftserver")

	var frozen, pre, post, output string
	flag.StringVar(&frozen, "frozen", frozen, "frozen graph descriptor")
	flag.StringVar(&pre, "pre", pre, "pre-processing graph descriptor")
	flag.StringVar(&post, "post", post, "post-processing graph descriptor")
	flag.StringVar(&output, "output", output, "where to write the rewritten graph; stdout if empty")

	var inputs, outputs string
	flag.StringVar(&inputs, "inputs", inputs, "comma-separated input node names")
	flag.StringVar(&outputs, "outputs", outputs, "comma-separated output node names")

	noProcessing := false
	flag.BoolVar(&noProcessing, "no-processing", noProcessing, "do not attach pre- and post-processing graphs")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	if frozen == "" {
		return fmt.Errorf("-frozen is required")
	}

	request := &api.RewriteRequest{
		Inputs:         splitNames(inputs),
		Outputs:        splitNames(outputs),
		SkipProcessing: noProcessing,
	}
	for _, f := range []struct {
		path string
		dest *string
	}{
		{frozen, &request.FrozenGraph},
		{pre, &request.PreProcessingGraph},
		{post, &request.PostProcessingGraph},
	} {
		if f.path == "" {
			continue
		}
		b, err := os.ReadFile(f.path)
		if err != nil {
			return fmt.Errorf("reading %q: %w", f.path, err)
		}
		*f.dest = string(b)
	}

	var opts []grpc.DialOption
	opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))

	conn, err := grpc.NewClient(serverAddr, opts...)
	if err != nil {
		return fmt.Errorf("failed to connect to server %q: %w", serverAddr, err)
	}
	defer conn.Close()
	client := api.NewGraphRewriterClient(conn)

	log.Info("Starting graftclient", "server", serverAddr)

	response, err := client.Rewrite(ctx, request)
	if err != nil {
		return fmt.Errorf("failed to rewrite: %w", err)
	}
	if r := response.Report; r != nil {
		log.Info("Rewrote graph", "run", r.RunID, "nodesBefore", r.NodesBefore, "nodesAfter", r.NodesAfter, "foldErrors", len(r.FoldErrors), "digest", response.Digest)
	}

	if output == "" {
		fmt.Print(response.Graph)
		return nil
	}
	if err := os.WriteFile(output, []byte(response.Graph), 0644); err != nil {
		return fmt.Errorf("writing %q: %w", output, err)
	}
	return nil
}

func splitNames(s string) []string {
	var names []string
	for _, name := range strings.Split(s, ",") {
		if name = strings.TrimSpace(name); name != "" {
			names = append(names, name)
		}
	}
	return names
}
