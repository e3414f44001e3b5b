package main

import (
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"os"
	"text/tabwriter"

	"github.com/joho/godotenv"
	"github.com/tendant/simple-cms/pkg/simplecms"
	"github.com/tendant/simple-cms/pkg/simplecms/config"
)

// appContainer holds the shared dependencies of every command
type appContainer struct {
	Repository *simplecms.Repository
	Logger     *slog.Logger
	Storage    config.StorageConfig
}

// appBuilder creates the container once flags are parsed
type appBuilder func(configFile string) (*appContainer, error)

func buildApp(configFile string) (*appContainer, error) {
	_ = godotenv.Load()

	cfg, err := config.Load(configFile)
	if err != nil {
		return nil, err
	}
	logger := slog.New(slog.NewTextHandler(os.Stderr, &slog.HandlerOptions{Level: cfg.SlogLevel()}))

	rt, err := config.Build(cfg, config.BuildOptions{Logger: logger})
	if err != nil {
		return nil, err
	}
	return &appContainer{Repository: rt.Repository, Logger: logger, Storage: cfg.Storage}, nil
}

// printer writes command results as a table or as JSON
type printer struct {
	out  io.Writer
	json bool
}

func (p printer) JSON(v any) error {
	enc := json.NewEncoder(p.out)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}

// Table prints rows under headers, or v as JSON in JSON mode.
func (p printer) Table(v any, headers []string, rows [][]string) error {
	if p.json {
		return p.JSON(v)
	}
	tw := tabwriter.NewWriter(p.out, 0, 4, 2, ' ', 0)
	for i, h := range headers {
		if i > 0 {
			fmt.Fprint(tw, "\t")
		}
		fmt.Fprint(tw, h)
	}
	fmt.Fprintln(tw)
	for _, row := range rows {
		for i, cell := range row {
			if i > 0 {
				fmt.Fprint(tw, "\t")
			}
			fmt.Fprint(tw, cell)
		}
		fmt.Fprintln(tw)
	}
	return tw.Flush()
}
