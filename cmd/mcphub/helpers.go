package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/spf13/pflag"

	"github.com/ignitabull18/mcphub-ai-enhanced/internal/cli/output"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/cliclient"
	"github.com/ignitabull18/mcphub-ai-enhanced/internal/logs"
)

const defaultHubURL = "http://127.0.0.1:8080"

// Flags shared by every command that talks to a running hub.
var (
	hubURL       string
	apiKey       string
	outputFormat string
	jsonOutput   bool
	cliLogLevel  string
	cliTimeout   time.Duration
)

func addClientFlags(fs *pflag.FlagSet) {
	fs.StringVar(&hubURL, "url", "", "Hub base URL (default: $MCPHUB_URL or "+defaultHubURL+")")
	fs.StringVar(&apiKey, "api-key", "", "Management API key (default: $MCPHUB_API_KEY)")
	fs.StringVarP(&outputFormat, "output", "o", "", "Output format: table, json or yaml")
	fs.BoolVar(&jsonOutput, "json", false, "Shorthand for --output=json")
	fs.StringVar(&cliLogLevel, "log-level", "", "Log level for CLI diagnostics")
	fs.DurationVar(&cliTimeout, "timeout", 30*time.Second, "Request timeout")
}

func newClient() (*cliclient.Client, error) {
	logger, err := logs.SetupCommandLogger(false, cliLogLevel, false, "")
	if err != nil {
		return nil, fmt.Errorf("setup logging: %w", err)
	}

	base := hubURL
	if base == "" {
		base = os.Getenv("MCPHUB_URL")
	}
	if base == "" {
		base = defaultHubURL
	}
	key := apiKey
	if key == "" {
		key = os.Getenv("MCPHUB_API_KEY")
	}
	return cliclient.NewClient(base, key, logger.Sugar()), nil
}

func commandContext() (context.Context, context.CancelFunc) {
	return context.WithTimeout(context.Background(), cliTimeout)
}

func newFormatter() (output.Formatter, error) {
	f, err := output.New(output.ResolveFormat(outputFormat, jsonOutput))
	if err != nil {
		return nil, output.FromError(err, output.ErrCodeInvalidFormat)
	}
	return f, nil
}

// printData renders a value in the selected format. In table mode the
// caller usually prefers printTable; this is the structured fallback for
// single objects.
func printData(data any) error {
	f, err := newFormatter()
	if err != nil {
		return err
	}
	if _, ok := f.(*output.TableFormatter); ok {
		// Tables are for lists; render single objects as indented JSON.
		f = &output.JSONFormatter{Indent: true}
	}
	out, err := f.Format(data)
	if err != nil {
		return err
	}
	fmt.Println(out)
	return nil
}

func printTable(headers []string, rows [][]string) error {
	f, err := newFormatter()
	if err != nil {
		return err
	}
	out, err := f.FormatTable(headers, rows)
	if err != nil {
		return err
	}
	fmt.Print(out)
	return nil
}

// hubError maps client failures onto structured CLI errors so scripted
// callers get stable codes.
func hubError(err error) error {
	if err == nil {
		return nil
	}
	if apiErr, ok := err.(*cliclient.APIError); ok {
		switch apiErr.StatusCode {
		case 401, 403:
			return output.FromError(err, output.ErrCodeAuthRequired).
				WithGuidance("the hub requires an API key").
				WithRecoveryCommand("mcphub status --api-key <key>")
		case 404:
			return output.FromError(err, output.ErrCodeUpstreamNotFound)
		case 400:
			return output.FromError(err, output.ErrCodeInvalidInput)
		}
		return output.FromError(err, output.ErrCodeOperationFailed)
	}
	return output.FromError(err, output.ErrCodeHubNotRunning).
		WithGuidance("could not reach the hub's management API").
		WithRecoveryCommand("mcphub serve")
}
