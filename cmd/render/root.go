package main

import (
	"errors"
	"fmt"
	"io"
	"path/filepath"
	"strings"

	"github.com/charmbracelet/log"
	"github.com/dunamismax/rendition/internal/config"
	"github.com/dunamismax/rendition/internal/domain"
	"github.com/dunamismax/rendition/internal/logging"
	"github.com/dunamismax/rendition/internal/pipeline"
	"github.com/spf13/cobra"
)

var errRenditionsFailed = errors.New("some renditions failed")

type renderOptions struct {
	outDir      string
	labels      []string
	catalogFile string
	concurrency int
}

func newRootCmd() *cobra.Command {
	opts := renderOptions{}

	cmd := &cobra.Command{
		Use:   "render [flags] FILE...",
		Short: "Render the rendition catalog for local image files",
		Long: `render reads each FILE, produces every rendition in the catalog and writes
them as {out}/{label}/{name}.{ext}. Without --out, each file's directory is
mapped to its destination directory with DEST_TOKEN_FROM/DEST_TOKEN_TO.`,
		Args:          cobra.MinimumNArgs(1),
		SilenceUsage:  true,
		SilenceErrors: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg := config.Load()
			if opts.catalogFile == "" {
				opts.catalogFile = cfg.Renditions.CatalogFile
			}
			if opts.concurrency == 0 {
				opts.concurrency = cfg.Renditions.Concurrency
			}
			logger := logging.NewWithWriter(cmd.ErrOrStderr(), "render", cfg.Log)

			err := runRender(cmd, cfg, logger, opts, args)
			if err != nil && !errors.Is(err, errRenditionsFailed) {
				logger.Error("render failed", "err", err)
			}
			return err
		},
	}

	flags := cmd.Flags()
	flags.StringVarP(&opts.outDir, "out", "o", "", "output directory (default: mapped from each source directory)")
	flags.StringSliceVarP(&opts.labels, "labels", "l", nil, "only render these catalog labels")
	flags.StringVar(&opts.catalogFile, "catalog", "", "YAML rendition catalog (default: built-in 1080p, 720p, mobile)")
	flags.IntVar(&opts.concurrency, "concurrency", 0, "renditions encoded in parallel per file")
	return cmd
}

func runRender(cmd *cobra.Command, cfg config.Config, logger *log.Logger, opts renderOptions, files []string) error {
	if err := pipeline.Startup(); err != nil {
		return fmt.Errorf("image runtime startup: %w", err)
	}
	defer pipeline.Shutdown()

	catalog, err := domain.LoadCatalog(opts.catalogFile)
	if err != nil {
		return err
	}

	var destination pipeline.DestinationResolver
	if opts.outDir != "" {
		destination = pipeline.FixedLocation(opts.outDir)
	} else {
		mapper, err := pipeline.NewLocationMapper(cfg.Destination.TokenFrom, cfg.Destination.TokenTo)
		if err != nil {
			return err
		}
		destination = mapper
	}

	processor, err := pipeline.NewLocalProcessor(pipeline.Options{
		Catalog:              catalog,
		Destination:          destination,
		RenditionConcurrency: opts.concurrency,
		SourceConcurrency:    2,
		Logger:               logger,
	})
	if err != nil {
		return err
	}

	event := domain.TriggerEvent{Records: make([]domain.SourceRef, 0, len(files))}
	for _, file := range files {
		abs, err := filepath.Abs(file)
		if err != nil {
			return fmt.Errorf("resolve %s: %w", file, err)
		}
		event.Records = append(event.Records, domain.SourceRef{
			Location: filepath.Dir(abs),
			Key:      filepath.Base(abs),
			Labels:   opts.labels,
		})
	}

	result := processor.ProcessEvent(cmd.Context(), event)
	printResult(cmd.OutOrStdout(), result)
	if !result.OK() {
		return errRenditionsFailed
	}
	return nil
}

func printResult(w io.Writer, result pipeline.EventResult) {
	for _, r := range result.Results {
		if r.Fatal != nil {
			fmt.Fprintf(w, "FAIL  %s  %s: %v\n", r.Source.Key, r.FatalKind, r.Fatal)
			continue
		}
		for _, o := range r.Outcomes {
			if o.Succeeded() {
				fmt.Fprintf(w, "ok    %s  %-8s %dx%d  %d bytes  %s\n", r.Source.Key, o.Label, o.Width, o.Height, o.Bytes, filepath.Join(o.Location, filepath.FromSlash(o.Key)))
				continue
			}
			fmt.Fprintf(w, "FAIL  %s  %-8s %s: %v\n", r.Source.Key, o.Label, o.Kind, o.Err)
		}
	}
	fmt.Fprintf(w, "%s\n", strings.ReplaceAll(result.Status(), "_", " "))
}
