// Package terminal is the line-oriented user interface of a job: progress
// output, keyboard commands and the blocking error-resolution prompt.
package terminal

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"slices"
	"strconv"
	"strings"
	"sync"

	"go.uber.org/zap"

	"github.com/sells-group/data-mapper/internal/job"
	"github.com/sells-group/data-mapper/internal/model"
)

// ErrInputClosed is returned when the input stream ends while an answer is
// needed.
var ErrInputClosed = errors.New("terminal: input closed")

// Commander receives keyboard commands. *job.Controller implements it.
type Commander interface {
	TogglePause() error
	SaveAndQuit() error
	Cancel() error
}

// Console implements job.Presenter over a pair of streams. One goroutine
// reads input lines; while a prompt is open they answer the prompt, otherwise
// they are commands.
type Console struct {
	out   io.Writer
	lines chan string

	mu        sync.Mutex
	prompting bool
	answers   chan string
	eof       chan struct{}
	eofOnce   sync.Once
}

var _ job.Presenter = (*Console)(nil)

// NewConsole starts reading lines from in.
func NewConsole(in io.Reader, out io.Writer) *Console {
	c := &Console{
		out:     out,
		lines:   make(chan string),
		answers: make(chan string),
		eof:     make(chan struct{}),
	}
	go c.read(in)
	return c
}

// read never returns while in blocks; the goroutine ends with the process
// when in is stdin.
func (c *Console) read(in io.Reader) {
	sc := bufio.NewScanner(in)
	for sc.Scan() {
		c.lines <- strings.TrimSpace(sc.Text())
	}
	close(c.lines)
}

func (c *Console) printf(format string, args ...any) {
	fmt.Fprintf(c.out, format, args...) //nolint:errcheck
}

// Confirm asks a yes/no question. It must not be called while Listen runs.
func (c *Console) Confirm(ctx context.Context, question string) (bool, error) {
	c.printf("%s [y/N] ", question)
	select {
	case <-ctx.Done():
		return false, ctx.Err()
	case line, ok := <-c.lines:
		if !ok {
			return false, ErrInputClosed
		}
		switch strings.ToLower(line) {
		case "y", "yes":
			return true, nil
		default:
			return false, nil
		}
	}
}

// Choose lists options and returns the one picked by number or by name. It
// must not be called while Listen runs.
func (c *Console) Choose(ctx context.Context, question string, options []string) (string, error) {
	c.printf("%s\n", question)
	for i, o := range options {
		c.printf("  %d) %s\n", i+1, o)
	}
	for {
		c.printf("> ")
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return "", ctx.Err()
		case line, ok = <-c.lines:
		}
		if !ok {
			return "", ErrInputClosed
		}
		if n, err := strconv.Atoi(line); err == nil && n >= 1 && n <= len(options) {
			return options[n-1], nil
		}
		if slices.Contains(options, line) {
			return line, nil
		}
		c.printf("Please answer a number from 1 to %d.\n", len(options))
	}
}

// Help prints the keyboard commands.
func (c *Console) Help() {
	c.printf("Commands: p = pause/resume, q = save and quit, c = cancel (then y to confirm)\n")
}

// Listen routes input lines until ctx ends or input closes.
func (c *Console) Listen(ctx context.Context, cmdr Commander) {
	confirmCancel := false
	for {
		var line string
		var ok bool
		select {
		case <-ctx.Done():
			return
		case line, ok = <-c.lines:
		}
		if !ok {
			c.eofOnce.Do(func() { close(c.eof) })
			return
		}

		if c.isPrompting() {
			select {
			case c.answers <- line:
			case <-ctx.Done():
				return
			}
			continue
		}

		if confirmCancel {
			confirmCancel = false
			if strings.EqualFold(line, "y") || strings.EqualFold(line, "yes") {
				c.command("cancel", cmdr.Cancel)
			} else {
				c.printf("Cancel aborted.\n")
			}
			continue
		}

		switch strings.ToLower(line) {
		case "":
		case "p":
			c.command("toggle pause", cmdr.TogglePause)
		case "q":
			c.printf("Saving progress and quitting...\n")
			c.command("save and quit", cmdr.SaveAndQuit)
		case "c":
			c.printf("Cancel the job and discard its progress? [y/N] ")
			confirmCancel = true
		case "h", "?", "help":
			c.Help()
		default:
			c.printf("Unknown command %q.\n", line)
			c.Help()
		}
	}
}

func (c *Console) command(name string, fn func() error) {
	if err := fn(); err != nil {
		zap.L().Debug("terminal: command ignored", zap.String("command", name), zap.Error(err))
	}
}

func (c *Console) isPrompting() bool {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.prompting
}

func (c *Console) setPrompting(v bool) {
	c.mu.Lock()
	c.prompting = v
	c.mu.Unlock()
}

// OnProgress prints one line per applied row.
func (c *Console) OnProgress(index, total int, status string) {
	c.printf("[%d/%d] %s\n", index+1, total, status)
}

// OnErrorNeedsResolution shows the failure and blocks until the user picks
// retry, skip or stop. It needs Listen to be running.
func (c *Console) OnErrorNeedsResolution(ctx context.Context, row int, location, query string) (job.Decision, error) {
	c.setPrompting(true)
	defer c.setPrompting(false)

	c.printf("\nNetwork error on row %d.\n", row)
	c.printf("  Last location: %s\n", location)
	c.printf("  Query:         %s\n", query)
	c.printf("Choose: r = retry, r <new query> = retry with a new query, s = skip row, x = stop job\n> ")

	for {
		select {
		case <-ctx.Done():
			return job.Decision{}, ctx.Err()
		case <-c.eof:
			return job.Decision{}, ErrInputClosed
		case line := <-c.answers:
			if d, ok := ParseDecision(line); ok {
				return d, nil
			}
			c.printf("Please answer r, r <new query>, s or x.\n> ")
		}
	}
}

// ParseDecision reads a prompt answer.
func ParseDecision(line string) (job.Decision, bool) {
	line = strings.TrimSpace(line)
	verb, rest, _ := strings.Cut(line, " ")
	switch strings.ToLower(verb) {
	case "r", "retry":
		return job.Decision{Action: job.ActionRetry, Query: strings.TrimSpace(rest)}, true
	case "s", "skip":
		return job.Decision{Action: job.ActionSkip}, rest == ""
	case "x", "stop":
		return job.Decision{Action: job.ActionStop}, rest == ""
	default:
		return job.Decision{}, false
	}
}

// OnTerminal prints how the job ended.
func (c *Console) OnTerminal(state model.JobState, err error) {
	switch state {
	case model.JobStateCompleted:
		c.printf("Extraction complete.\n")
	case model.JobStateCancelled:
		c.printf("Extraction cancelled. Progress discarded.\n")
	case model.JobStateSavedAndQuit:
		if err != nil {
			c.printf("Stopped, but progress could not be saved: %v\n", err)
			return
		}
		c.printf("Progress saved. Run `data-mapper resume` to continue.\n")
	case model.JobStateFatal:
		c.printf("Extraction failed: %v\n", err)
	default:
		c.printf("Extraction ended in state %s.\n", state)
	}
}
