package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/nats-io/nats.go"
	"github.com/nats-io/nats.go/jetstream"
	"github.com/urfave/cli/v2"

	natspkg "github.com/brojonat/shredarb/service/nats"
	"github.com/brojonat/shredarb/service/server"
	"github.com/brojonat/shredarb/service/tracker"
)

// subjectFor maps an event kind and optional key to a stream filter subject.
func subjectFor(kind, key string) (string, error) {
	var prefix string
	switch kind {
	case "opportunities":
		prefix = natspkg.SubjectOpportunities
	case "swaps":
		prefix = natspkg.SubjectSwaps
	case "graduates":
		prefix = natspkg.SubjectGraduates
	case "telemetry":
		if key != "" {
			return "", fmt.Errorf("telemetry events take no key")
		}
		return natspkg.SubjectTelemetry, nil
	default:
		return "", fmt.Errorf("unknown event kind %q (want opportunities, swaps, graduates or telemetry)", kind)
	}
	if key == "" {
		return prefix + ".>", nil
	}
	return prefix + "." + key, nil
}

// subscribeCommand follows pipeline events on the JetStream stream.
func subscribeCommand() *cli.Command {
	return &cli.Command{
		Name:      "subscribe",
		Usage:     "Subscribe to pipeline events",
		ArgsUsage: "<kind> [key]",
		Description: `Subscribe to real-time events published to NATS JetStream.

Kinds and subjects:
  opportunities  arb.opportunities.{base_mint}
  swaps          arb.swaps.{pool}
  graduates      arb.graduates.{token_mint}
  telemetry      telemetry.snapshot

Example:
  shredarb nats subscribe opportunities So11111111111111111111111111111111111111112 --json`,
		Flags: []cli.Flag{
			&cli.BoolFlag{
				Name:    "durable",
				Aliases: []string{"d"},
				Usage:   "Create a durable consumer (survives restarts)",
			},
			&cli.StringFlag{
				Name:  "consumer-name",
				Usage: "Consumer name (required for durable)",
				Value: "shredarb-cli",
			},
			&cli.IntFlag{
				Name:    "count",
				Aliases: []string{"c"},
				Usage:   "Exit after this many events (0 streams forever)",
			},
			&cli.DurationFlag{
				Name:  "timeout",
				Usage: "Exit after this long (0 waits forever)",
			},
		},
		Action: func(c *cli.Context) error {
			if c.NArg() < 1 || c.NArg() > 2 {
				return fmt.Errorf("requires an event kind and an optional key")
			}
			subject, err := subjectFor(c.Args().Get(0), c.Args().Get(1))
			if err != nil {
				return err
			}

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()
			if d := c.Duration("timeout"); d > 0 {
				ctx, cancel = context.WithTimeout(ctx, d)
				defer cancel()
			}

			consumerConfig := jetstream.ConsumerConfig{
				FilterSubject: subject,
				AckPolicy:     jetstream.AckExplicitPolicy,
				DeliverPolicy: jetstream.DeliverNewPolicy,
			}
			if c.Bool("durable") {
				consumerConfig.Durable = c.String("consumer-name")
				consumerConfig.Name = c.String("consumer-name")
			}

			return streamEvents(ctx, c.String("nats-url"), consumerConfig, c.Int("count"), c.Bool("json"), c.App.Writer)
		},
	}
}

// relayCommand serves the SSE opportunity stream from JetStream, for a
// front end that does not run the pipeline.
func relayCommand() *cli.Command {
	return &cli.Command{
		Name:  "relay",
		Usage: "Serve /api/v1/stream/opportunities from NATS",
		Flags: []cli.Flag{
			&cli.StringFlag{
				Name:    "addr",
				Usage:   "HTTP listen address",
				EnvVars: []string{"SERVER_ADDR"},
				Value:   ":8080",
			},
			&cli.IntFlag{
				Name:  "buffer",
				Usage: "Per-client opportunity buffer",
				Value: 64,
			},
		},
		Action: func(c *cli.Context) error {
			natsURL := c.String("nats-url")
			if natsURL == "" {
				return fmt.Errorf("nats-url is required (set NATS_URL env var or use --nats-url)")
			}
			logger := newLogger(c)

			ctx, cancel := signal.NotifyContext(c.Context, os.Interrupt, syscall.SIGTERM)
			defer cancel()

			hub := server.NewOpportunityHub(c.Int("buffer"), logger)
			stop, err := server.RelayFromNATS(ctx, natsURL, hub, logger)
			if err != nil {
				return err
			}
			defer stop()

			srv := server.New(c.String("addr"), tracker.NewRegistry(), hub, nil, nil, logger)
			serverErrors := make(chan error, 1)
			go func() {
				serverErrors <- srv.Start()
			}()

			fmt.Fprintf(os.Stderr, "📡 Relaying opportunities from %s on %s\n", natsURL, c.String("addr"))

			select {
			case err := <-serverErrors:
				return err
			case <-ctx.Done():
			}

			shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 10*time.Second)
			defer shutdownCancel()
			return srv.Shutdown(shutdownCtx)
		},
	}
}

// streamEvents connects to NATS and prints events until ctx ends or limit
// events have arrived.
func streamEvents(ctx context.Context, natsURL string, consumerConfig jetstream.ConsumerConfig, limit int, jsonOutput bool, w io.Writer) error {
	// Connect to NATS
	nc, err := nats.Connect(natsURL)
	if err != nil {
		return fmt.Errorf("failed to connect to NATS: %w", err)
	}
	defer nc.Close()

	js, err := jetstream.New(nc)
	if err != nil {
		return fmt.Errorf("failed to create JetStream context: %w", err)
	}

	cons, err := js.CreateOrUpdateConsumer(ctx, natspkg.StreamName, consumerConfig)
	if err != nil {
		return fmt.Errorf("failed to create consumer: %w", err)
	}

	if !jsonOutput {
		fmt.Fprintf(os.Stderr, "📡 Subscribing to: %s\n", consumerConfig.FilterSubject)
		fmt.Fprintf(os.Stderr, "   NATS: %s\n", natsURL)
		if consumerConfig.Durable != "" {
			fmt.Fprintf(os.Stderr, "   Consumer: %s (durable)\n", consumerConfig.Durable)
		}
		fmt.Fprintf(os.Stderr, "\nWaiting for events... (Ctrl-C to exit)\n\n")
	}

	msgChan := make(chan jetstream.Msg, 10)
	consumeCtx, err := cons.Consume(func(msg jetstream.Msg) {
		select {
		case msgChan <- msg:
		case <-ctx.Done():
		}
	})
	if err != nil {
		return fmt.Errorf("failed to consume: %w", err)
	}
	defer consumeCtx.Stop()

	count := 0
	for {
		select {
		case <-ctx.Done():
			if !jsonOutput {
				fmt.Fprintf(os.Stderr, "\nReceived %d events\n", count)
			}
			return nil
		case msg := <-msgChan:
			if err := printEvent(w, msg.Subject(), msg.Data(), jsonOutput); err != nil {
				fmt.Fprintf(os.Stderr, "Error parsing event on %s: %v\n", msg.Subject(), err)
			}
			msg.Ack()
			count++
			if limit > 0 && count >= limit {
				return nil
			}
		}
	}
}

// printEvent renders one event. JSON output passes the payload through.
func printEvent(w io.Writer, subject string, data []byte, jsonOutput bool) error {
	if jsonOutput {
		_, err := fmt.Fprintln(w, string(data))
		return err
	}

	switch {
	case strings.HasPrefix(subject, natspkg.SubjectOpportunities+"."):
		var ev natspkg.OpportunityEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		fmt.Fprintf(w, "💰 opportunity %s profit=%d in=%d legs=%d trigger=%s\n", ev.ID, ev.Profit, ev.AmountIn, len(ev.Legs), ev.Trigger)
	case strings.HasPrefix(subject, natspkg.SubjectSwaps+"."):
		var ev natspkg.SwapEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		fmt.Fprintf(w, "🔁 swap pool=%s %s in=%d out=%d large=%t key=%s\n", ev.Pool, ev.Direction, ev.AmountIn, ev.AmountOut, ev.Large, ev.Key)
	case strings.HasPrefix(subject, natspkg.SubjectGraduates+"."):
		var ev natspkg.GraduateEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		fmt.Fprintf(w, "🎓 graduate token=%s pool=%s\n", ev.Token(), ev.Pool)
	case subject == natspkg.SubjectTelemetry:
		var ev natspkg.TelemetryEvent
		if err := json.Unmarshal(data, &ev); err != nil {
			return err
		}
		fmt.Fprintf(w, "📈 telemetry ok=%d failed=%d open=%d data=%d coding=%d at %s\n",
			ev.FecSetSuccessCount, ev.FecSetFailureCount, ev.FecSetsRemaining,
			ev.TotalCollectedData, ev.TotalCollectedCoding, ev.Timestamp.Format(time.RFC3339))
	default:
		fmt.Fprintf(w, "%s %s\n", subject, data)
	}
	return nil
}
