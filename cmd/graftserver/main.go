package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net"
	"net/http"
	"os"

	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/spf13/afero"
	"golang.org/x/sync/errgroup"
	"google.golang.org/grpc"
	"k8s.io/klog/v2"

	api "k8s.io/examples/AI/modelgraft/api/v1alpha1"
	"k8s.io/examples/AI/modelgraft/pkg/blobs"
	"k8s.io/examples/AI/modelgraft/pkg/rewrite"
	"k8s.io/examples/AI/modelgraft/pkg/rewriteserver"
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
	listen := ":9876"
	flag.StringVar(&listen, "listen", listen, "gRPC listen address")

	metricsListen := ":9090"
	flag.StringVar(&metricsListen, "metrics-listen", metricsListen, "listen address for /metrics; empty to disable")

	exportTo := os.Getenv("EXPORT_BLOBSTORE")
	flag.StringVar(&exportTo, "export", exportTo, "blobstore to upload rewritten graphs to")

	dumpDir := os.Getenv("GRAFT_DUMP_DIR")
	flag.StringVar(&dumpDir, "dump-dir", dumpDir, "directory to write intermediate graphs to")

	klog.InitFlags(nil)
	flag.Parse()

	log := klog.FromContext(ctx)

	rewriter := &rewriteserver.Server{}
	if exportTo != "" {
		store, err := blobs.OpenBlobstore(exportTo)
		if err != nil {
			return err
		}
		rewriter.Store = store
	}
	if dumpDir != "" {
		rewriter.Snapshots = rewrite.NewDirSnapshotter(afero.NewOsFs(), dumpDir)
	}

	lis, err := net.Listen("tcp", listen)
	if err != nil {
		return fmt.Errorf("listening on %q: %w", listen, err)
	}
	var opts []grpc.ServerOption
	grpcServer := grpc.NewServer(opts...)
	api.RegisterGraphRewriterServer(grpcServer, rewriter)

	eg, ctx := errgroup.WithContext(ctx)
	eg.Go(func() error {
		log.Info("Starting graftserver", "listen", listen)
		if err := grpcServer.Serve(lis); err != nil {
			return fmt.Errorf("serving GRPC: %w", err)
		}
		return nil
	})

	if metricsListen != "" {
		mux := http.NewServeMux()
		mux.Handle("/metrics", promhttp.Handler())
		metricsServer := &http.Server{Addr: metricsListen, Handler: mux}
		eg.Go(func() error {
			log.Info("serving metrics", "listen", metricsListen)
			if err := metricsServer.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
				return fmt.Errorf("serving metrics on %q: %w", metricsListen, err)
			}
			return nil
		})
		eg.Go(func() error {
			<-ctx.Done()
			grpcServer.GracefulStop()
			return metricsServer.Close()
		})
	}

	return eg.Wait()
}
