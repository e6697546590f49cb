package cli

import (
	"context"
	"fmt"
	"io"
	"os"

	"go.uber.org/zap"

	"github.com/ixado/ixado/internal/config"
	"github.com/ixado/ixado/internal/events"
)

// consumer is the CLI's bus subscriber: it prints one formatted line
// per event and mirrors the raw event to the JSONL log when
// IXADO_CLI_LOG_FILE is set.
type consumer struct {
	out    io.Writer
	sink   *events.FileSink
	logger *zap.Logger
}

func newConsumer(out io.Writer, logger *zap.Logger) (*consumer, error) {
	c := &consumer{out: out, logger: logger}
	if path := os.Getenv(config.EnvCLILogFile); path != "" {
		sink, err := events.NewFileSink(path)
		if err != nil {
			return nil, err
		}
		c.sink = sink
	}
	return c, nil
}

// run consumes the bus until ctx ends. Blocking; callers run it on its
// own goroutine.
func (c *consumer) run(ctx context.Context, bus *events.Bus) {
	ch, cancel := bus.Subscribe("")
	defer cancel()
	for {
		select {
		case <-ctx.Done():
			return
		case ev, ok := <-ch:
			if !ok {
				return
			}
			c.handle(ev)
		}
	}
}

func (c *consumer) handle(ev events.Event) {
	fmt.Fprintln(c.out, events.FormatCLI(ev))
	if c.sink != nil {
		if err := c.sink.WriteOne(ev); err != nil {
			c.logger.Warn("event log write failed", zap.Error(err))
		}
	}
}

func (c *consumer) close() {
	if c.sink != nil {
		_ = c.sink.Close()
	}
}
