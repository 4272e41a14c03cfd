package main

import (
	"context"
	"fmt"
	"net/http"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/shredarb/client"
	"github.com/brojonat/shredarb/service/temporal"
)

func healthCommand() *cli.Command {
	return &cli.Command{
		Name:  "health",
		Usage: "Check server health",
		Flags: []cli.Flag{
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Request timeout",
				Value: 5 * time.Second,
			},
			&cli.BoolFlag{
				Name:  "temporal",
				Usage: "Also check the Temporal frontend at --temporal-host",
			},
		},
		Action: func(c *cli.Context) error {
			serverURL := c.String("server-url")
			if serverURL == "" {
				return fmt.Errorf("server-url is required (set SERVER_URL env var or use --server-url)")
			}

			ctx, cancel := context.WithTimeout(c.Context, c.Duration("timeout"))
			defer cancel()

			cl := client.NewClient(serverURL, &http.Client{Timeout: c.Duration("timeout")}, nil)
			if err := cl.Health(ctx); err != nil {
				return fmt.Errorf("server is unhealthy: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Server is healthy\n")
			fmt.Fprintf(c.App.Writer, "  URL: %s\n", serverURL)

			if !c.Bool("temporal") {
				return nil
			}
			host := c.String("temporal-host")
			if host == "" {
				return fmt.Errorf("temporal-host is required (set TEMPORAL_HOST env var or use --temporal-host)")
			}
			tc, err := temporal.NewClient(host, c.String("temporal-namespace"), "", newLogger(c))
			if err != nil {
				return err
			}
			defer tc.Close()
			if err := tc.CheckHealth(ctx); err != nil {
				return fmt.Errorf("temporal is unhealthy: %w", err)
			}
			fmt.Fprintf(c.App.Writer, "✓ Temporal is healthy\n")
			fmt.Fprintf(c.App.Writer, "  Host: %s\n", host)
			return nil
		},
	}
}

func versionCommand() *cli.Command {
	return &cli.Command{
		Name:  "version",
		Usage: "Show version information",
		Action: func(c *cli.Context) error {
			fmt.Fprintf(c.App.Writer, "shredarb CLI\n")
			fmt.Fprintf(c.App.Writer, "  Version: %s\n", version)
			fmt.Fprintf(c.App.Writer, "  Commit:  %s\n", commit)
			fmt.Fprintf(c.App.Writer, "  Built:   %s\n", date)
			return nil
		},
	}
}
