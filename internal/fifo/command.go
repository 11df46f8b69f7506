package fifo

import (
	"fmt"
	"strings"
)

// Kind identifies the type of a control command.
type Kind int

const (
	// KindStart loads a driver into the server.
	KindStart Kind = iota

	// KindStop unloads a driver.
	KindStop

	// KindRestart is a stop followed, after RestartSettleDelay, by a start.
	KindRestart

	// KindCustom is an arbitrary single line passed through verbatim.
	KindCustom
)

// String returns the lowercase kind name.
func (k Kind) String() string {
	switch k {
	case KindStart:
		return "start"
	case KindStop:
		return "stop"
	case KindRestart:
		return "restart"
	case KindCustom:
		return "custom"
	default:
		return fmt.Sprintf("kind(%d)", int(k))
	}
}

// Command is one instruction for the server's FIFO interface.
//
// The grammar is fixed by indiserver:
//
//	start <binary> [-s "<skeleton>"]
//	stop <binary>
type Command struct {
	Kind     Kind
	Binary   string
	Skeleton string
	Text     string
}

// StartCommand loads binary, optionally with a skeleton XML file.
func StartCommand(binary, skeleton string) Command {
	return Command{Kind: KindStart, Binary: binary, Skeleton: skeleton}
}

// StopCommand unloads binary.
func StopCommand(binary string) Command {
	return Command{Kind: KindStop, Binary: binary}
}

// RestartCommand reloads binary.
func RestartCommand(binary, skeleton string) Command {
	return Command{Kind: KindRestart, Binary: binary, Skeleton: skeleton}
}

// RawCommand wraps an arbitrary line.
func RawCommand(text string) Command {
	return Command{Kind: KindCustom, Text: text}
}

// Build renders the newline-terminated wire form. A restart renders both of
// its lines.
func (c Command) Build() string {
	switch c.Kind {
	case KindStart:
		if c.Skeleton == "" {
			return fmt.Sprintf("start %s\n", c.Binary)
		}
		return fmt.Sprintf("start %s -s \"%s\"\n", c.Binary, c.Skeleton)
	case KindStop:
		return fmt.Sprintf("stop %s\n", c.Binary)
	case KindRestart:
		return StopCommand(c.Binary).Build() + StartCommand(c.Binary, c.Skeleton).Build()
	default:
		return strings.TrimRight(c.Text, "\r\n") + "\n"
	}
}

// String returns the command for log output, without line terminators.
func (c Command) String() string {
	return strings.ReplaceAll(strings.TrimRight(c.Build(), "\n"), "\n", "; ")
}

// Validate rejects commands that would not form exactly the intended lines
// on the wire.
func (c Command) Validate() error {
	switch c.Kind {
	case KindStart, KindStop, KindRestart:
		if c.Binary == "" {
			return fmt.Errorf("%w: %s requires a driver binary", ErrInvalidCommand, c.Kind)
		}
		if strings.ContainsAny(c.Binary, " \t\r\n\"") {
			return fmt.Errorf("%w: driver binary %q contains whitespace or quotes", ErrInvalidCommand, c.Binary)
		}
		if strings.ContainsAny(c.Skeleton, "\r\n\"") {
			return fmt.Errorf("%w: skeleton path %q contains a line break or quote", ErrInvalidCommand, c.Skeleton)
		}
	case KindCustom:
		line := strings.TrimRight(c.Text, "\r\n")
		if strings.TrimSpace(line) == "" {
			return fmt.Errorf("%w: empty command", ErrInvalidCommand)
		}
		if strings.ContainsAny(line, "\r\n") {
			return fmt.Errorf("%w: raw command spans multiple lines", ErrInvalidCommand)
		}
	default:
		return fmt.Errorf("%w: unknown kind %d", ErrInvalidCommand, int(c.Kind))
	}
	return nil
}
