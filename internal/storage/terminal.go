package storage

import (
	"context"
	"fmt"
	"io"
	"time"
)

// Terminal is for displaying ticks on terminal.
type Terminal struct {
	out io.Writer
}

var terminal Terminal

// TerminalTimestamp is used as a format to display only the time.
const TerminalTimestamp = "15:04:05.999"

// InitTerminal initializes terminal display.
// Output writer is always os.Stdout except in case of testing where a buffer will be set as output terminal.
func InitTerminal(out io.Writer) *Terminal {
	if terminal.out == nil {
		terminal = Terminal{
			out: out,
		}
	}
	return &terminal
}

// GetTerminal returns already prepared terminal instance.
func GetTerminal() *Terminal {
	return &terminal
}

// CommitTicks batch outputs input ticks to terminal.
func (t *Terminal) CommitTicks(_ context.Context, stream string, data []Tick) error {
	for i := range data {
		tick := data[i]
		_, err := fmt.Fprintf(t.out, "%-15s%-25s%-20s%-20s%20s\n", "Trade", stream,
			formatAmount(tick.Price), formatAmount(tick.Volume),
			unixTime(tick.Timestamp).Local().Format(TerminalTimestamp))
		if err != nil {
			return err
		}
	}
	return nil
}

func formatAmount(f float64) string {
	return string(appendDecimal(nil, f, amountDigits))
}

// unixTime converts fractional unix seconds, keeping microseconds.
func unixTime(ts float64) time.Time {
	return time.UnixMicro(int64(ts * 1e6))
}
