// Command fetch-tickets retrieves Freshdesk tickets into a local dataset.
// It is configured entirely through the environment: RECIPE_CONFIG names the
// recipe YAML (default recipe.yaml) and FRESHDESK_API_CONNECTION holds the
// connection preset.
package main

import (
	"context"
	"errors"
	"io"
	"os"
	"os/signal"
	"syscall"

	"github.com/joho/godotenv"

	"github.com/homemade/fdtickets/dataset"
	"github.com/homemade/fdtickets/tickets"
)

const defaultRecipe = "recipe.yaml"

type datasetSink interface {
	tickets.DatasetWriter
	io.Closer
}

func main() {
	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	if err := run(ctx); err != nil {
		stop()
		os.Exit(1)
	}
}

func run(ctx context.Context) error {
	logger := tickets.SetupLogging(os.Stderr, tickets.LevelInfo)
	if err := godotenv.Load(); err != nil {
		logger.Debug("no .env file loaded", "error", err)
	}

	recipe, err := loadRecipe()
	if err != nil {
		logger.Log(ctx, tickets.LevelCritical.SlogLevel(), "invalid recipe configuration", "error", err)
		return err
	}
	logger = tickets.SetupLogging(os.Stderr, recipe.Level)

	var source tickets.CredentialSource = tickets.EnvCredentialSource{
		EnvVar: tickets.JSONCompositeEnvVar{Parent: tickets.DefaultConnectionEnvVar},
	}
	if recipe.Connection.IsConfigured() {
		auth, _ := tickets.ParseAuthScheme(recipe.Connection.Auth)
		source = tickets.StaticCredentials{
			Domain: recipe.Connection.Domain,
			APIKey: recipe.Connection.APIKey,
			Auth:   auth,
		}
	}
	credentials, err := source.Credentials(ctx)
	if err != nil {
		logger.Log(ctx, tickets.LevelCritical.SlogLevel(), "unable to resolve connection", "error", err)
		return err
	}

	opts := []tickets.ClientOption{
		tickets.WithRetryPolicy(recipe.Retry),
		tickets.WithLogger(logger),
	}
	if recipe.RequestsPerMinute > 0 {
		opts = append(opts, tickets.WithRequestsPerMinute(recipe.RequestsPerMinute))
	}
	if recipe.RecordRequests != "" {
		opts = append(opts, tickets.WithRecording(recipe.RecordRequests))
	}
	client := tickets.NewClient(credentials, opts...)

	if recipe.Output.Columns != "" {
		if err := writeColumnDocs(recipe); err != nil {
			logger.Warn("unable to document dataset columns", "path", recipe.Output.Columns, "error", err)
		}
	}

	sink, err := openSink(ctx, recipe.Output)
	if err != nil {
		logger.Error("unable to open dataset", "error", err)
		return err
	}

	_, runErr := tickets.NewPipeline(recipe.Settings, client, sink, logger).Run(ctx)
	if err := sink.Close(); err != nil {
		logger.Error("unable to close dataset", "path", recipe.Output.Path, "error", err)
		return errors.Join(runErr, err)
	}
	return runErr
}

func loadRecipe() (tickets.Recipe, error) {
	path := os.Getenv("RECIPE_CONFIG")
	if path == "" {
		path = defaultRecipe
	}
	f, err := os.Open(path)
	if err != nil {
		return tickets.Recipe{}, &tickets.ConfigError{Key: "RECIPE_CONFIG", Reason: err.Error()}
	}
	defer f.Close()

	lookup := tickets.ExpandLookup(tickets.JSONCompositeEnvVar{Parent: tickets.DefaultConnectionEnvVar})
	cfg, err := tickets.LoadConfig(lookup, f)
	if err != nil {
		return tickets.Recipe{}, &tickets.ConfigError{Key: path, Reason: err.Error()}
	}
	return cfg.Validate()
}

func writeColumnDocs(recipe tickets.Recipe) error {
	csv, err := tickets.DocumentColumns(recipe.Settings).FormatCSV()
	if err != nil {
		return err
	}
	return os.WriteFile(recipe.Output.Columns, []byte(csv), 0o644)
}

func openSink(ctx context.Context, output tickets.OutputConfig) (datasetSink, error) {
	switch output.Format {
	case "sqlite":
		path := output.Path
		if path == "" {
			path = "tickets.sqlite"
		}
		return dataset.OpenSQLite(ctx, path, output.Table)
	default:
		path := output.Path
		if path == "" {
			path = "tickets.jsonl"
			if output.Gzip {
				path += ".gz"
			}
		}
		return dataset.CreateJSONLFile(path, output.Gzip)
	}
}
