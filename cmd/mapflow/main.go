package main

import (
	"encoding/json"
	"fmt"
	"net/http"
	"os"

	"github.com/danielgtaylor/huma/v2/humacli"
	"github.com/spf13/cobra"
	"gopkg.in/yaml.v3"

	"github.com/mapflow/mapflow/internal/api"
	"github.com/mapflow/mapflow/internal/auth"
	"github.com/mapflow/mapflow/internal/catalog"
	"github.com/mapflow/mapflow/internal/config"
	"github.com/mapflow/mapflow/internal/ingest"
	"github.com/mapflow/mapflow/internal/logging"
	"github.com/mapflow/mapflow/internal/server"
	"github.com/mapflow/mapflow/internal/store"
	"github.com/mapflow/mapflow/internal/tiles"
)

// Options defines the CLI flags/env surface, mirroring spec.md §6.2's
// environment configuration table for the options humacli also exposes as
// flags.
type Options struct {
	Port      string `doc:"Port to listen on"`
	DBPath    string `doc:"DuckDB database file path"`
	UploadDir string `doc:"Directory for uploaded source files"`
	WebDist   string `doc:"Path to the built frontend bundle"`
}

// newServer wires every component of spec.md §4 into a single http.Handler,
// the way the teacher's cmd/geo/main.go's newServer builds its *server.Server.
func newServer(opts *Options) *server.Server {
	log := logging.New("mapflow")

	cfg := config.Load()
	if opts.Port != "" {
		cfg.Port = opts.Port
	}
	if opts.DBPath != "" {
		cfg.DBPath = opts.DBPath
	}
	if opts.UploadDir != "" {
		cfg.UploadDir = opts.UploadDir
	}
	if opts.WebDist != "" {
		cfg.WebDist = opts.WebDist
	}

	st, err := store.Open(store.Config{
		DBPath:               cfg.DBPath,
		SpatialExtensionPath: cfg.SpatialExtensionPath,
		SpatialExtensionDir:  cfg.SpatialExtensionDir,
	}, log)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to open store")
	}

	cat := catalog.New(st)
	if err := cat.ReconcileProcessing(); err != nil {
		log.Fatal().Err(err).Msg("failed to reconcile processing datasets")
	}

	gate := auth.New(st, log)
	tileEngine := tiles.New(st, cat, log)

	worker := &ingest.Worker{Store: st, Catalog: cat, Log: log}
	receiver := &ingest.Receiver{
		UploadDir:    cfg.UploadDir,
		MaxSizeBytes: cfg.UploadMaxSizeBytes,
		MaxSizeLabel: cfg.UploadMaxSizeLabel,
		Catalog:      cat,
		Enqueue: func(datasetID, path string, kind catalog.StorageKind) {
			go worker.Run(datasetID, path, kind)
		},
	}

	svc := &api.Services{
		Store:   st,
		Catalog: cat,
		Gate:    gate,
		Tiles:   tileEngine,
		Ingest:  receiver,
		Config:  cfg,
		Log:     log,
	}

	return server.New(cfg, svc, log)
}

func main() {
	cli := humacli.New(func(hooks humacli.Hooks, opts *Options) {
		srv := newServer(opts)

		hooks.OnStart(func() {
			cfg := config.Load()
			if opts.Port != "" {
				cfg.Port = opts.Port
			}
			addr := fmt.Sprintf(":%s", cfg.Port)
			fmt.Printf("mapflow listening on %s\n", addr)
			if err := http.ListenAndServe(addr, srv); err != nil {
				fmt.Fprintf(os.Stderr, "server error: %v\n", err)
				os.Exit(1)
			}
		})
	})

	cli.Root().Use = "mapflow"
	cli.Root().Short = "Self-hosted spatial data service"
	cli.Root().Version = "0.1.0"

	specCmd := &cobra.Command{
		Use:   "spec",
		Short: "Export the OpenAPI document (JSON by default, --yaml for YAML)",
		Run: humacli.WithOptions(func(cmd *cobra.Command, args []string, opts *Options) {
			srv := newServer(opts)
			doc := srv.OpenAPI()

			useYAML, _ := cmd.Flags().GetBool("yaml")

			var output []byte
			var err error
			if useYAML {
				output, err = yaml.Marshal(doc)
			} else {
				output, err = json.MarshalIndent(doc, "", "  ")
			}
			if err != nil {
				fmt.Fprintf(os.Stderr, "error marshaling spec: %v\n", err)
				os.Exit(1)
			}
			fmt.Println(string(output))
		}),
	}
	specCmd.Flags().BoolP("yaml", "y", false, "Output as YAML instead of JSON")
	cli.Root().AddCommand(specCmd)

	cli.Run()
}
