// Package console runs operator commands typed one line at a time.
package console

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"sort"
	"strings"

	"github.com/sirupsen/logrus"
)

var (
	ErrUnknownCommand = errors.New("console: unknown command")
	ErrUsage          = errors.New("console: bad usage")
)

// Handler runs a command with its arguments, excluding the command name.
type Handler func(args []string) error

type command struct {
	usage   string
	handler Handler
}

// Console is a registry of named commands.
type Console struct {
	commands map[string]command
	log      logrus.FieldLogger
}

func New(log logrus.FieldLogger) *Console {
	c := &Console{commands: make(map[string]command), log: log.WithField("component", "console")}
	c.Register("help", "help", func([]string) error {
		for _, line := range c.Help() {
			c.log.Info(line)
		}
		return nil
	})
	return c
}

// Register adds a command. Names are case-insensitive.
func (c *Console) Register(name, usage string, h Handler) {
	c.commands[strings.ToLower(name)] = command{usage: usage, handler: h}
}

// Execute splits line and runs the named command. Blank lines are ignored.
func (c *Console) Execute(line string) error {
	fields := Split(line)
	if len(fields) == 0 {
		return nil
	}
	cmd, ok := c.commands[strings.ToLower(fields[0])]
	if !ok {
		return fmt.Errorf("%w: %s", ErrUnknownCommand, fields[0])
	}
	if err := cmd.handler(fields[1:]); err != nil {
		if errors.Is(err, ErrUsage) {
			return fmt.Errorf("usage: %s", cmd.usage)
		}
		return err
	}
	return nil
}

// Help lists the usage of every command in name order.
func (c *Console) Help() []string {
	names := make([]string, 0, len(c.commands))
	for name := range c.commands {
		names = append(names, name)
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, c.commands[name].usage)
	}
	return out
}

// Lines delivers each line read from r until r is exhausted or ctx ends.
// Read errors are logged.
func Lines(ctx context.Context, r io.Reader, log logrus.FieldLogger) <-chan string {
	out := make(chan string)
	go func() {
		defer close(out)
		sc := bufio.NewScanner(r)
		for sc.Scan() {
			select {
			case out <- strings.TrimRight(sc.Text(), "\r"):
			case <-ctx.Done():
				return
			}
		}
		if err := sc.Err(); err != nil {
			log.WithError(err).Warn("console input failed")
		}
	}()
	return out
}
