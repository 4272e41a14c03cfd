package pipeline

import (
	"context"
	"log/slog"
	"time"

	"github.com/brojonat/shredarb/service/listener"
)

// Capture runs l until the capture is full or ctx is cancelled, then writes
// the capture file. l must have been created WithCapture(c).
func Capture(ctx context.Context, l *listener.Listener, c *listener.Capture, pollInterval time.Duration, logger *slog.Logger) error {
	logger = logger.With("component", "capture")
	if pollInterval <= 0 {
		pollInterval = 100 * time.Millisecond
	}

	ctx, cancel := context.WithCancel(ctx)
	defer cancel()

	errc := make(chan error, 1)
	go func() { errc <- l.Run(ctx) }()

	ticker := time.NewTicker(pollInterval)
	defer ticker.Stop()

	for {
		select {
		case err := <-errc:
			if err != nil {
				return err
			}
			if err := c.Flush(); err != nil {
				return err
			}
			logger.Info("capture written", "packets", c.Len())
			return nil
		case <-ticker.C:
			if c.Full() {
				logger.Info("capture limit reached", "packets", c.Len())
				cancel()
			}
		}
	}
}
