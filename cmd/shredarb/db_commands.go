package main

import (
	"context"
	"fmt"
	"os"
	"text/tabwriter"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/shredarb/service/db"
	"github.com/brojonat/shredarb/service/registry"
)

func importRegistryCommand() *cli.Command {
	return &cli.Command{
		Name:      "import",
		Usage:     "Import pools from a Raydium liquidity JSON file into Postgres",
		ArgsUsage: "<raydium.json>",
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "mint",
				Aliases: []string{"m"},
				Usage:   "Only import pools trading this mint (repeatable)",
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "jq expression each record must satisfy",
			},
			&cli.BoolFlag{
				Name:  "migrate",
				Usage: "Apply the schema before importing",
				Value: true,
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: liquidity file")
			}
			mints, err := parseMints(c.StringSlice("mint"))
			if err != nil {
				return err
			}

			pools, err := registry.FileSource{
				Path:   c.Args().First(),
				Mints:  mints,
				Filter: c.String("filter"),
			}.Load(c.Context)
			if err != nil {
				return err
			}

			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			if c.Bool("migrate") {
				if err := store.Migrate(c.Context); err != nil {
					return fmt.Errorf("failed to migrate: %w", err)
				}
			}

			n, err := registry.Import(c.Context, store, pools)
			if err != nil {
				return fmt.Errorf("failed to import pools: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, map[string]int{"read": len(pools), "imported": n})
			}
			fmt.Fprintf(c.App.Writer, "Imported %d of %d pools\n", n, len(pools))
			return nil
		},
	}
}

func listRegistryCommand() *cli.Command {
	return &cli.Command{
		Name:    "list",
		Usage:   "List registered pools",
		Aliases: []string{"ls"},
		Flags: []cli.Flag{
			&cli.StringSliceFlag{
				Name:    "mint",
				Aliases: []string{"m"},
				Usage:   "Filter by mint (repeatable)",
			},
		},
		Action: func(c *cli.Context) error {
			store, closer, err := getStore(c)
			if err != nil {
				return err
			}
			defer closer()

			pools, err := store.ListPools(c.Context, c.StringSlice("mint"))
			if err != nil {
				return fmt.Errorf("failed to list pools: %w", err)
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, pools)
			}

			// Pretty table output
			w := tabwriter.NewWriter(c.App.Writer, 0, 0, 2, ' ', 0)
			fmt.Fprintln(w, "ADDRESS\tCOIN MINT\tPC MINT\tFEE\tUPDATED")
			for _, p := range pools {
				fmt.Fprintf(w, "%s\t%s\t%s\t%d/%d\t%s\n",
					p.Address,
					p.CoinMint,
					p.PcMint,
					p.FeeNumerator,
					p.FeeDenominator,
					p.UpdatedAt.Format(time.RFC3339),
				)
			}
			w.Flush()

			fmt.Fprintf(os.Stderr, "\nTotal: %d pools\n", len(pools))
			return nil
		},
	}
}

// Helper function to connect to database
func getStore(c *cli.Context) (*db.Store, func(), error) {
	dbURL := c.String("database-url")
	if dbURL == "" {
		dbURL = os.Getenv("DATABASE_URL")
	}
	if dbURL == "" {
		return nil, nil, fmt.Errorf("database-url is required (set DATABASE_URL env var or use --database-url)")
	}

	pool, err := pgxpool.New(context.Background(), dbURL)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to database: %w", err)
	}

	if err := pool.Ping(context.Background()); err != nil {
		pool.Close()
		return nil, nil, fmt.Errorf("failed to ping database: %w", err)
	}

	store := db.NewStore(pool)
	closer := func() { pool.Close() }

	return store, closer, nil
}
