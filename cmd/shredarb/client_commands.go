package main

import (
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/urfave/cli/v2"

	"github.com/brojonat/shredarb/client"
	"github.com/brojonat/shredarb/service/engine"
)

func clientCommands() *cli.Command {
	return &cli.Command{
		Name:  "client",
		Usage: "HTTP client commands for interacting with a running shredarb server",
		Subcommands: []*cli.Command{
			listPoolsCommand(),
			getPoolCommand(),
			telemetryCommand(),
			streamCommand(),
		},
	}
}

func newClient(c *cli.Context) *client.Client {
	// Only errors to stderr
	logger := slog.New(slog.NewJSONHandler(os.Stderr, &slog.HandlerOptions{
		Level: slog.LevelError,
	}))
	return client.NewClient(c.String("server-url"), &http.Client{Timeout: c.Duration("timeout")}, logger)
}

func timeoutFlag() cli.Flag {
	return &cli.DurationFlag{
		Name:    "timeout",
		Aliases: []string{"t"},
		Usage:   "Request timeout",
		Value:   10 * time.Second,
	}
}

// errStreamDone stops a stream once the requested count has arrived.
var errStreamDone = errors.New("stream done")

func listPoolsCommand() *cli.Command {
	return &cli.Command{
		Name:    "pools",
		Usage:   "List tracked pools and their live reserves",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "mint",
				Aliases: []string{"m"},
				Usage:   "Only pools trading this mint",
			},
			&cli.IntFlag{
				Name:    "limit",
				Aliases: []string{"n"},
				Usage:   "Page size",
				Value:   100,
			},
			&cli.IntFlag{
				Name:  "offset",
				Usage: "Page offset",
			},
			timeoutFlag(),
		},
		Action: func(c *cli.Context) error {
			page, err := newClient(c).ListPools(c.Context, client.ListPoolsOptions{
				Mint:   c.String("mint"),
				Limit:  c.Int("limit"),
				Offset: c.Int("offset"),
			})
			if err != nil {
				return fmt.Errorf("failed to list pools: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, page)
			}
			printPools(c.App.Writer, page.Pools)
			fmt.Fprintf(os.Stderr, "\nShowing %d of %d pools\n", page.Count, page.Total)
			return nil
		},
	}
}

func getPoolCommand() *cli.Command {
	return &cli.Command{
		Name:      "pool",
		Usage:     "Show one tracked pool",
		ArgsUsage: "<address>",
		Flags:     []cli.Flag{timeoutFlag()},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: pool address")
			}

			snap, err := newClient(c).GetPool(c.Context, c.Args().First())
			if err != nil {
				return fmt.Errorf("failed to get pool: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, snap)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Address:       %s\n", snap.Address)
			fmt.Fprintf(w, "Coin Mint:     %s\n", snap.CoinMint)
			fmt.Fprintf(w, "Pc Mint:       %s\n", snap.PcMint)
			fmt.Fprintf(w, "Reserves:      %d / %d\n", snap.Reserves.Coin, snap.Reserves.Pc)
			fmt.Fprintf(w, "Price:         %g\n", snap.Price)
			fmt.Fprintf(w, "Fee:           %d/%d\n", snap.Fee.Numerator, snap.Fee.Denominator)
			fmt.Fprintf(w, "Updates:       %d\n", snap.Updates)
			fmt.Fprintf(w, "Last Applied:  %s\n", snap.LastApplied)
			return nil
		},
	}
}

func telemetryCommand() *cli.Command {
	return &cli.Command{
		Name:  "telemetry",
		Usage: "Show the server's FEC and ingest counters",
		Flags: []cli.Flag{timeoutFlag()},
		Action: func(c *cli.Context) error {
			tel, err := newClient(c).Telemetry(c.Context)
			if err != nil {
				return fmt.Errorf("failed to get telemetry: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, tel)
			}

			w := c.App.Writer
			fmt.Fprintf(w, "Pools:             %d\n", tel.Pools)
			fmt.Fprintf(w, "FEC sets ok:       %d\n", tel.FecSetSuccessCount)
			fmt.Fprintf(w, "FEC sets failed:   %d\n", tel.FecSetFailureCount)
			fmt.Fprintf(w, "FEC sets open:     %d\n", tel.FecSetsRemaining)
			fmt.Fprintf(w, "Data collected:    %d\n", tel.TotalCollectedData)
			fmt.Fprintf(w, "Coding collected:  %d\n", tel.TotalCollectedCoding)
			fmt.Fprintf(w, "Data processed:    %d\n", tel.TotalProcessedData)
			fmt.Fprintf(w, "As of:             %s\n", tel.Timestamp.Format(time.RFC3339))
			return nil
		},
	}
}

func streamCommand() *cli.Command {
	return &cli.Command{
		Name:      "stream",
		Usage:     "Stream opportunities via SSE (HTTP)",
		ArgsUsage: "[base_mint]",
		Flags: []cli.Flag{
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"c"},
				Usage:   "Exit after this many opportunities (0 streams forever)",
			},
		},
		Action: func(c *cli.Context) error {
			// Create context that cancels on interrupt
			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			limit := c.Int("count")
			received := 0
			jsonOutput := c.Bool("json")
			w := c.App.Writer

			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "Streaming opportunities from %s... (Ctrl-C to exit)\n\n", c.String("server-url"))
			}

			err := newClient(c).StreamOpportunities(ctx, c.Args().First(), func(opp engine.Opportunity) error {
				received++
				if jsonOutput {
					data, err := json.Marshal(opp)
					if err != nil {
						return err
					}
					fmt.Fprintln(w, string(data))
				} else {
					fmt.Fprintf(w, "%s profit=%d in=%d base=%s legs=%d trigger=%s\n",
						opp.DetectedAt.Format(time.RFC3339Nano), opp.Profit, opp.AmountIn, opp.BaseMint, len(opp.Legs), opp.Trigger)
				}
				if limit > 0 && received >= limit {
					return errStreamDone
				}
				return nil
			})
			if err != nil && !errors.Is(err, errStreamDone) {
				return fmt.Errorf("stream failed: %w", err)
			}
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\nReceived %d opportunities\n", received)
			}
			return nil
		},
	}
}
