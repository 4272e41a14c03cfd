package main

import (
	"bytes"
	"fmt"
	"io"
	"sync"
	"text/tabwriter"
	"time"

	"github.com/gagliardetto/solana-go"
	"github.com/prometheus/client_golang/prometheus"
	"github.com/urfave/cli/v2"

	"github.com/brojonat/shredarb/service/amm"
	"github.com/brojonat/shredarb/service/config"
	"github.com/brojonat/shredarb/service/engine"
	"github.com/brojonat/shredarb/service/fec"
	"github.com/brojonat/shredarb/service/listener"
	"github.com/brojonat/shredarb/service/metrics"
	"github.com/brojonat/shredarb/service/pipeline"
	"github.com/brojonat/shredarb/service/registry"
	"github.com/brojonat/shredarb/service/shred"
	"github.com/brojonat/shredarb/service/tracker"
)

// collector keeps every opportunity the engine reports during a replay.
type collector struct {
	mu   sync.Mutex
	opps []engine.Opportunity
}

func (c *collector) Opportunity(opp engine.Opportunity) {
	c.mu.Lock()
	defer c.mu.Unlock()
	c.opps = append(c.opps, opp)
}

type replayOutput struct {
	pipeline.ReplayResult
	Found []engine.Opportunity `json:"found"`
	Pools []tracker.Snapshot   `json:"pools,omitempty"`
}

func replayCommand() *cli.Command {
	return &cli.Command{
		Name:      "replay",
		Usage:     "Run a capture file through the pipeline offline",
		ArgsUsage: "<capture.json>",
		Description: `Replay datagrams recorded in save mode through reconstruction, entry
decoding, pool tracking and the arbitrage search, then report what was found.

Example:
  shredarb replay packets.json --registry raydium.json --mint <token> --pools`,
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "registry",
				Aliases: []string{"r"},
				Usage:   "Raydium liquidity JSON file",
				EnvVars: []string{"POOL_REGISTRY_PATH"},
				Value:   "raydium.json",
			},
			&cli.StringSliceFlag{
				Name:    "mint",
				Aliases: []string{"m"},
				Usage:   "Only track pools trading this mint (repeatable)",
			},
			&cli.StringFlag{
				Name:  "filter",
				Usage: "jq expression each registry record must satisfy",
			},
			&cli.StringFlag{
				Name:  "mode",
				Usage: "Processing mode: arb or graduates",
				Value: config.ModeArb,
			},
			&cli.Uint64Flag{
				Name:  "min-profit",
				Usage: "Minimum profit in base mint units",
				Value: 1_000_000,
			},
			&cli.BoolFlag{
				Name:  "pools",
				Usage: "Include final pool snapshots in the output",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() != 1 {
				return fmt.Errorf("requires exactly one argument: capture file")
			}
			logger := newLogger(c)

			mints, err := parseMints(c.StringSlice("mint"))
			if err != nil {
				return err
			}
			pools, err := registry.FileSource{
				Path:   c.String("registry"),
				Mints:  mints,
				Filter: c.String("filter"),
			}.Load(c.Context)
			if err != nil {
				return err
			}

			packets, err := listener.LoadCapture(c.Args().First())
			if err != nil {
				return err
			}

			found := &collector{}
			reg := tracker.NewRegistry(pools...)
			p, err := pipeline.New(pipeline.Config{
				Mode:   c.String("mode"),
				Engine: engine.Config{MinProfit: c.Uint64("min-profit")},
			}, reg, metrics.NewMetrics(prometheus.NewRegistry()), logger, pipeline.WithOpportunitySinks(found))
			if err != nil {
				return err
			}

			res, err := p.Replay(packets)
			if err != nil {
				return fmt.Errorf("replay failed: %w", err)
			}

			out := replayOutput{ReplayResult: res, Found: found.opps}
			if c.Bool("pools") {
				out.Pools = reg.Snapshots()
			}
			if c.Bool("json") {
				return outputJSON(c.App.Writer, out)
			}
			printReplay(c, out)
			return nil
		},
	}
}

func printReplay(c *cli.Context, out replayOutput) {
	w := c.App.Writer
	fmt.Fprintf(w, "Packets:       %d (%d malformed)\n", out.Packets, out.Malformed)
	fmt.Fprintf(w, "FEC sets:      %d\n", out.Stats.Sets)
	fmt.Fprintf(w, "Batches:       %d\n", out.Stats.Batches)
	fmt.Fprintf(w, "Entries:       %d\n", out.Stats.Entries)
	fmt.Fprintf(w, "Transactions:  %d\n", out.Stats.Transactions)
	fmt.Fprintf(w, "Pool updates:  %d\n", out.Stats.Updates)
	fmt.Fprintf(w, "Opportunities: %d\n", out.Opportunities)

	for _, opp := range out.Found {
		fmt.Fprintf(w, "\n%s profit=%d in=%d out=%d trigger=%s\n", opp.ID, opp.Profit, opp.AmountIn, opp.AmountOut, opp.TriggerPool)
		for _, leg := range opp.Legs {
			fmt.Fprintf(w, "  %s %s -> %s (%d -> %d)\n", leg.Pool, leg.InputMint, leg.OutputMint, leg.AmountIn, leg.AmountOut)
		}
	}

	if len(out.Pools) > 0 {
		fmt.Fprintln(w)
		printPools(w, out.Pools)
	}
}

type benchOutput struct {
	Packets          int            `json:"packets"`
	Iterations       int            `json:"iterations"`
	Total            time.Duration  `json:"total_ns"`
	PerIteration     time.Duration  `json:"per_iteration_ns"`
	PacketsPerSecond float64        `json:"packets_per_second"`
	Stats            pipeline.Stats `json:"stats"`
}

func benchCommand() *cli.Command {
	return &cli.Command{
		Name:  "bench",
		Usage: "Time the pipeline over a synthetic shred stream",
		Description: `Builds a stream of swaps against one synthetic pool, shreds it with
Reed-Solomon parity, drops data shreds so every set needs recovery, and
replays it the given number of times.`,
		Flags: []cli.Flag{
			&cli.IntFlag{Name: "slots", Value: 64, Usage: "Slots in the stream"},
			&cli.IntFlag{Name: "swaps-per-slot", Value: 8, Usage: "Swap transactions per slot"},
			&cli.IntFlag{Name: "data-per-set", Value: 32, Usage: "Data shreds per FEC set"},
			&cli.IntFlag{Name: "drop-per-set", Value: 4, Usage: "Data shreds dropped from each set"},
			&cli.IntFlag{Name: "iterations", Aliases: []string{"n"}, Value: 5, Usage: "Replays to time"},
		},
		Action: func(c *cli.Context) error {
			iterations := c.Int("iterations")
			if iterations <= 0 {
				return fmt.Errorf("iterations must be positive")
			}
			logger := newLogger(c)

			coder, err := fec.NewCoder(0)
			if err != nil {
				return err
			}
			pool := benchPool()
			packets, err := pipeline.BuildSwapPackets(pipeline.FixtureConfig{
				Pool:         pool,
				Trader:       benchKey(50),
				FirstSlot:    1,
				Slots:        c.Int("slots"),
				SwapsPerSlot: c.Int("swaps-per-slot"),
				Variant:      shred.MerkleDataVariant(6, true, false),
				DataPerSet:   c.Int("data-per-set"),
				DropPerSet:   c.Int("drop-per-set"),
			}, coder)
			if err != nil {
				return fmt.Errorf("failed to build packets: %w", err)
			}

			out := benchOutput{Packets: len(packets), Iterations: iterations}
			for i := 0; i < iterations; i++ {
				p, err := pipeline.New(pipeline.Config{}, tracker.NewRegistry(pool), metrics.NewMetrics(prometheus.NewRegistry()), logger)
				if err != nil {
					return err
				}
				start := time.Now()
				res, err := p.Replay(packets)
				if err != nil {
					return err
				}
				out.Total += time.Since(start)
				out.Stats = res.Stats
			}
			out.PerIteration = out.Total / time.Duration(iterations)
			if out.Total > 0 {
				out.PacketsPerSecond = float64(out.Packets*iterations) / out.Total.Seconds()
			}

			if c.Bool("json") {
				return outputJSON(c.App.Writer, out)
			}
			w := c.App.Writer
			fmt.Fprintf(w, "Packets:        %d\n", out.Packets)
			fmt.Fprintf(w, "Iterations:     %d\n", out.Iterations)
			fmt.Fprintf(w, "Per iteration:  %v\n", out.PerIteration)
			fmt.Fprintf(w, "Packets/sec:    %.0f\n", out.PacketsPerSecond)
			fmt.Fprintf(w, "Pool updates:   %d\n", out.Stats.Updates)
			return nil
		},
	}
}

func benchKey(seed byte) solana.PublicKey {
	return solana.PublicKeyFromBytes(bytes.Repeat([]byte{seed}, 32))
}

func benchPool() tracker.Pool {
	return tracker.Pool{
		Address:      benchKey(1),
		CoinMint:     benchKey(2),
		PcMint:       amm.WSOL,
		CoinVault:    benchKey(101),
		PcVault:      benchKey(151),
		CoinDecimals: 6,
		PcDecimals:   9,
		Fee:          amm.DefaultFee,
		Reserves:     amm.Reserves{Coin: 1_000_000_000_000, Pc: 1_000_000_000_000},
	}
}

func parseMints(values []string) ([]solana.PublicKey, error) {
	mints := make([]solana.PublicKey, 0, len(values))
	for _, v := range values {
		pk, err := solana.PublicKeyFromBase58(v)
		if err != nil {
			return nil, fmt.Errorf("invalid mint %q: %w", v, err)
		}
		mints = append(mints, pk)
	}
	return mints, nil
}

func printPools(w io.Writer, pools []tracker.Snapshot) {
	tw := tabwriter.NewWriter(w, 0, 0, 2, ' ', 0)
	fmt.Fprintln(tw, "ADDRESS\tCOIN MINT\tPC MINT\tCOIN RESERVE\tPC RESERVE\tUPDATES\tLAST APPLIED")
	for _, p := range pools {
		fmt.Fprintf(tw, "%s\t%s\t%s\t%d\t%d\t%d\t%s\n",
			p.Address, p.CoinMint, p.PcMint, p.Reserves.Coin, p.Reserves.Pc, p.Updates, p.LastApplied)
	}
	tw.Flush()
}
