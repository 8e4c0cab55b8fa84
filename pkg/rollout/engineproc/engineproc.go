// Package engineproc runs an external evaluation engine as a subprocess
// and speaks a newline-delimited protocol over stdin/stdout: handshake
// (rep -> repok, setoption, isready -> readyok), then one JSON request line
// per batch answered by a single "utilities" JSON line. Worker processes
// may fan the batch out internally; this client only sees the ordered
// round-trip.
package engineproc

import (
	"bufio"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/freeeve/cfrsearch/pkg/game"
	"github.com/freeeve/cfrsearch/pkg/rollout"
)

// Option configures a Client before launch.
type Option func(*Client)

// WithTimeout sets the overall deadline for reading a utilities response.
// If the engine hasn't responded within this duration, the batch fails.
func WithTimeout(d time.Duration) Option {
	return func(c *Client) { c.timeout = d }
}

// WithEngineOption queues a "setoption" command to send during handshake.
func WithEngineOption(name, value string) Option {
	return func(c *Client) {
		c.options = append(c.options, engineOption{name: name, value: value})
	}
}

// engineOption is a name/value pair sent via "setoption name <n> value <v>".
type engineOption struct {
	name  string
	value string
}

// Client implements rollout.Oracle by delegating to an external engine
// process.
type Client struct {
	enginePath string
	timeout    time.Duration
	options    []engineOption

	cmd     *exec.Cmd
	stdin   io.WriteCloser
	scanner *bufio.Scanner

	mu     sync.Mutex
	closed bool

	// exited is closed when the process exits; used by isAlive.
	exited chan struct{}
}

// New spawns the engine process, performs the handshake, and returns a
// ready client.
func New(enginePath string, opts ...Option) (*Client, error) {
	c := &Client{
		enginePath: enginePath,
		timeout:    30 * time.Second,
	}
	for _, o := range opts {
		o(c)
	}

	if err := c.start(); err != nil {
		return nil, fmt.Errorf("engineproc: start engine: %w", err)
	}
	if err := c.handshake(); err != nil {
		c.Close()
		return nil, fmt.Errorf("engineproc: handshake: %w", err)
	}
	return c, nil
}

// request is the JSON wire form of one evaluation batch.
type request struct {
	Profiles []map[string]string `json:"profiles"`
}

// response carries per-profile utility maps, request order preserved.
type response struct {
	Utilities []map[string]float64 `json:"utilities"`
}

// Evaluate implements rollout.Oracle.
func (c *Client) Evaluate(ctx context.Context, batch []game.Profile) ([]rollout.Result, error) {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil, fmt.Errorf("engineproc: engine is closed")
	}
	c.mu.Unlock()

	if !c.isAlive() {
		return nil, fmt.Errorf("engineproc: engine process is not running")
	}

	req := request{Profiles: make([]map[string]string, len(batch))}
	for i, p := range batch {
		encoded := make(map[string]string, len(p))
		for pl, a := range p {
			encoded[string(pl)] = string(a)
		}
		req.Profiles[i] = encoded
	}
	payload, err := json.Marshal(req)
	if err != nil {
		return nil, fmt.Errorf("engineproc: encode request: %w", err)
	}

	c.send("evaluate " + string(payload))

	line, err := c.readResponse(ctx)
	if err != nil {
		return nil, fmt.Errorf("engineproc: reading engine response: %w", err)
	}

	var resp response
	if err := json.Unmarshal([]byte(strings.TrimPrefix(line, "utilities ")), &resp); err != nil {
		return nil, fmt.Errorf("engineproc: parsing response %q: %w", line, err)
	}
	if len(resp.Utilities) != len(batch) {
		return nil, fmt.Errorf("engineproc: engine returned %d utilities for batch of %d", len(resp.Utilities), len(batch))
	}

	results := make([]rollout.Result, len(batch))
	for i, utilities := range resp.Utilities {
		utility := make(map[game.Player]float64, len(utilities))
		for p, u := range utilities {
			utility[game.Player(p)] = u
		}
		results[i] = rollout.Result{Profile: batch[i], Utility: utility}
	}
	return results, nil
}

// Close sends "quit" to the engine and waits for process exit. If the
// process does not exit within 3 seconds, it is forcefully killed.
func (c *Client) Close() error {
	c.mu.Lock()
	if c.closed {
		c.mu.Unlock()
		return nil
	}
	// Send quit while stdin is still open and before marking closed.
	if c.stdin != nil {
		fmt.Fprintf(c.stdin, "quit\n")
	}
	c.closed = true
	c.mu.Unlock()

	if c.stdin != nil {
		c.stdin.Close()
	}

	if c.exited != nil {
		select {
		case <-c.exited:
			// Process already exited.
		case <-time.After(3 * time.Second):
			log.Warn().Msg("engineproc: engine did not exit within 3s, killing")
			if c.cmd != nil && c.cmd.Process != nil {
				c.cmd.Process.Kill()
			}
			<-c.exited
		}
	}
	return nil
}

// start launches the engine subprocess and tracks exit in the background.
func (c *Client) start() error {
	c.cmd = exec.Command(c.enginePath)

	var err error
	c.stdin, err = c.cmd.StdinPipe()
	if err != nil {
		return fmt.Errorf("stdin pipe: %w", err)
	}

	stdout, err := c.cmd.StdoutPipe()
	if err != nil {
		return fmt.Errorf("stdout pipe: %w", err)
	}

	c.scanner = bufio.NewScanner(stdout)
	c.scanner.Buffer(make([]byte, 0, 64*1024), 16*1024*1024)
	c.exited = make(chan struct{})

	if err := c.cmd.Start(); err != nil {
		return fmt.Errorf("start process: %w", err)
	}

	go func() {
		c.cmd.Wait()
		close(c.exited)
	}()

	return nil
}

// handshake performs the initialization sequence.
func (c *Client) handshake() error {
	c.send("rep")
	if err := c.readUntil("repok"); err != nil {
		return fmt.Errorf("waiting for repok: %w", err)
	}

	for _, opt := range c.options {
		if opt.value != "" {
			c.send(fmt.Sprintf("setoption name %s value %s", opt.name, opt.value))
		} else {
			c.send(fmt.Sprintf("setoption name %s", opt.name))
		}
	}

	c.send("isready")
	if err := c.readUntil("readyok"); err != nil {
		return fmt.Errorf("waiting for readyok: %w", err)
	}
	return nil
}

// readResponse reads lines from the engine until a utilities line appears,
// skipping info lines, subject to the configured timeout and the caller's
// context.
func (c *Client) readResponse(ctx context.Context) (string, error) {
	type result struct {
		line string
		err  error
	}

	ch := make(chan result, 1)
	go func() {
		for c.scanner.Scan() {
			line := c.scanner.Text()
			if strings.HasPrefix(line, "utilities ") {
				ch <- result{line: line}
				return
			}
			// Skip info lines.
		}
		if err := c.scanner.Err(); err != nil {
			ch <- result{err: fmt.Errorf("scanner: %w", err)}
		} else {
			ch <- result{err: fmt.Errorf("engine closed stdout unexpectedly")}
		}
	}()

	select {
	case r := <-ch:
		return r.line, r.err
	case <-ctx.Done():
		return "", ctx.Err()
	case <-time.After(c.timeout):
		return "", fmt.Errorf("engine did not respond within %s", c.timeout)
	}
}

// send writes a command line to the engine's stdin.
func (c *Client) send(line string) {
	c.mu.Lock()
	defer c.mu.Unlock()
	if c.closed || c.stdin == nil {
		return
	}
	fmt.Fprintf(c.stdin, "%s\n", line)
}

// readUntil reads lines from the engine until the expected line is seen.
// Lines not matching are ignored (id, option, info lines, etc).
func (c *Client) readUntil(expected string) error {
	deadline := time.After(c.timeout)
	ch := make(chan string, 1)
	errCh := make(chan error, 1)

	go func() {
		for c.scanner.Scan() {
			line := c.scanner.Text()
			if line == expected {
				ch <- line
				return
			}
		}
		if err := c.scanner.Err(); err != nil {
			errCh <- err
		} else {
			errCh <- fmt.Errorf("engine closed stdout before sending %q", expected)
		}
	}()

	select {
	case <-ch:
		return nil
	case err := <-errCh:
		return err
	case <-deadline:
		return fmt.Errorf("timeout waiting for %q", expected)
	}
}

// isAlive checks whether the engine process is still running.
func (c *Client) isAlive() bool {
	if c.exited == nil {
		return false
	}
	select {
	case <-c.exited:
		return false
	default:
		return true
	}
}
