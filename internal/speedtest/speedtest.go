// Package speedtest drives the Ookla speedtest CLI and decodes its JSON
// output into model types.
package speedtest

import (
	"bufio"
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"strings"
	"sync"
	"time"

	"bwmon/internal/execx"
	"bwmon/internal/model"
)

// DefaultBinary is looked up on PATH.
const DefaultBinary = "speedtest"

var (
	// ErrUnavailable means the measurement tool could not be invoked or
	// exited unsuccessfully.
	ErrUnavailable = errors.New("speedtest unavailable")
	// ErrMalformedOutput means the tool ran but its output did not decode
	// into a test result.
	ErrMalformedOutput = errors.New("speedtest output malformed")
)

// Options configures how the CLI is invoked.
type Options struct {
	Binary        string
	AcceptLicense bool
	// Timeout bounds one invocation. Zero means no limit.
	Timeout time.Duration
}

// Client runs speedtest commands. RunTest calls are serialised: a second
// measurement never starts while one is in flight.
type Client struct {
	runner execx.Runner
	opts   Options
	mu     sync.Mutex
}

func New(runner execx.Runner, opts Options) *Client {
	if runner == nil {
		runner = execx.NewOSRunner()
	}
	if opts.Binary == "" {
		opts.Binary = DefaultBinary
	}
	return &Client{runner: runner, opts: opts}
}

type serverList struct {
	Servers []model.Server `json:"servers"`
}

type envelope struct {
	Type    string `json:"type"`
	Level   string `json:"level"`
	Message string `json:"message"`
}

// ListServers returns nearby servers in the order reported by the CLI.
func (c *Client) ListServers(ctx context.Context) ([]model.Server, error) {
	out, err := c.output(ctx, "--servers", "--format", "json")
	if err != nil {
		return nil, err
	}

	var list serverList
	if err := json.Unmarshal(bytes.TrimSpace(out), &list); err != nil {
		return nil, fmt.Errorf("%w: decode server list: %v", ErrUnavailable, err)
	}
	return list.Servers, nil
}

// RunTest measures bandwidth against server and blocks until done.
func (c *Client) RunTest(ctx context.Context, server model.Server) (model.TestResult, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	out, err := c.output(ctx, "--server-id", strconv.FormatUint(uint64(server.ID), 10), "--format", "json")
	if err != nil {
		return model.TestResult{}, err
	}
	return parseResult(out)
}

func (c *Client) output(ctx context.Context, args ...string) ([]byte, error) {
	if c.opts.AcceptLicense {
		args = append(args, "--accept-license", "--accept-gdpr")
	}
	if c.opts.Timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.opts.Timeout)
		defer cancel()
	}

	out, err := c.runner.Output(ctx, c.opts.Binary, args...)
	if err != nil {
		return nil, fmt.Errorf("%w: %v", ErrUnavailable, err)
	}
	return out, nil
}

// parseResult picks the result document out of the CLI output. The CLI may
// interleave log documents; an error-level log without a result means the
// test itself failed.
func parseResult(out []byte) (model.TestResult, error) {
	var logErr string
	scanner := bufio.NewScanner(bytes.NewReader(out))
	scanner.Buffer(make([]byte, 0, 64*1024), 1024*1024)
	for scanner.Scan() {
		line := bytes.TrimSpace(scanner.Bytes())
		if len(line) == 0 {
			continue
		}
		var env envelope
		if err := json.Unmarshal(line, &env); err != nil {
			return model.TestResult{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
		}
		switch env.Type {
		case "", "result":
			return decodeResult(line)
		case "log":
			if strings.EqualFold(env.Level, "error") {
				logErr = env.Message
			}
		}
	}
	if err := scanner.Err(); err != nil {
		return model.TestResult{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if logErr != "" {
		return model.TestResult{}, fmt.Errorf("%w: %s", ErrUnavailable, logErr)
	}
	return model.TestResult{}, fmt.Errorf("%w: no result in output", ErrMalformedOutput)
}

func decodeResult(line []byte) (model.TestResult, error) {
	var res model.TestResult
	if err := json.Unmarshal(line, &res); err != nil {
		return model.TestResult{}, fmt.Errorf("%w: %v", ErrMalformedOutput, err)
	}
	if res.Timestamp.IsZero() {
		return model.TestResult{}, fmt.Errorf("%w: missing timestamp", ErrMalformedOutput)
	}
	res.Timestamp = res.Timestamp.Local()
	return res, nil
}
