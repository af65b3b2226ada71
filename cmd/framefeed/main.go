// Command framefeed replays captured analyzer frames to a serial port, one
// dash-separated frame per line, for bench testing sensord without an
// analyzer attached.
package main

import (
	"bufio"
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"codeberg.org/gec/sensord/internal/analyzer"
	"codeberg.org/gec/sensord/internal/device"
	"codeberg.org/gec/sensord/internal/logger"
	"github.com/spf13/pflag"
)

type options struct {
	port     string
	baudRate int
	input    string
	interval time.Duration
	repeat   int
	logLevel string
}

func main() {
	var opts options
	pflag.StringVar(&opts.port, "port", "", "Serial port to write to (auto-detected when empty)")
	pflag.IntVar(&opts.baudRate, "baud", device.DefaultBaudRate, "Baud rate")
	pflag.StringVar(&opts.input, "input", "-", "Capture file with one frame per line, - for stdin")
	pflag.DurationVar(&opts.interval, "interval", time.Second, "Delay between frames")
	pflag.IntVar(&opts.repeat, "repeat", 1, "Number of passes over the capture, 0 for endless")
	pflag.StringVar(&opts.logLevel, "log-level", "info", "Log level (debug, info, warning, error)")
	pflag.Parse()

	logger.Init(opts.logLevel, logger.IsService())

	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	if err := run(ctx, opts); err != nil {
		logger.Fatal().Err(err).Msg("framefeed failed")
	}
}

func run(ctx context.Context, opts options) error {
	frames, err := loadFrames(opts.input)
	if err != nil {
		return err
	}
	if len(frames) == 0 {
		return fmt.Errorf("no frames in %s", opts.input)
	}

	name := opts.port
	if name == "" {
		if name, err = device.FindPort(); err != nil {
			return err
		}
	}

	port, err := device.Open(device.Config{Name: name, BaudRate: opts.baudRate})
	if err != nil {
		return err
	}
	defer port.Close()

	ticker := time.NewTicker(opts.interval)
	defer ticker.Stop()

	sent := 0
	for pass := 0; opts.repeat == 0 || pass < opts.repeat; pass++ {
		for _, frame := range frames {
			if _, err := port.Write(frame); err != nil {
				return err
			}
			sent++
			logger.Debug().Int("bytes", len(frame)).Int("sent", sent).Msg("Frame written")

			select {
			case <-ctx.Done():
				logger.Info().Int("sent", sent).Msg("Interrupted")
				return nil
			case <-ticker.C:
			}
		}
	}

	logger.Info().Int("sent", sent).Msg("Capture replayed")
	return nil
}

// loadFrames reads dash-separated byte lines; blank lines and lines starting
// with # are skipped.
func loadFrames(input string) ([][]byte, error) {
	var r io.Reader = os.Stdin
	if input != "-" {
		f, err := os.Open(input)
		if err != nil {
			return nil, err
		}
		defer f.Close()
		r = f
	}

	var frames [][]byte
	scanner := bufio.NewScanner(r)
	for line := 1; scanner.Scan(); line++ {
		text := strings.TrimSpace(scanner.Text())
		if text == "" || strings.HasPrefix(text, "#") {
			continue
		}

		frame, err := analyzer.ParseDashed(text)
		if err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		frames = append(frames, frame)
	}

	return frames, scanner.Err()
}
