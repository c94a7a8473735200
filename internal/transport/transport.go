// Package transport implements the HTTP(S) transfer capability that feeds a
// live stream buffer: it issues a (possibly ranged) GET and pumps the response
// through caller-supplied callbacks with cooperative pause and abort support.
package transport

import (
	"context"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"time"

	"github.com/avast/retry-go/v4"
	"github.com/sirupsen/logrus"
)

var (
	// ErrUnsupportedScheme is returned when the URL scheme is not http or https.
	ErrUnsupportedScheme = errors.New("unsupported URL scheme")
	// ErrMissingHost is returned when the URL has no host.
	ErrMissingHost = errors.New("missing host in URL")
	// ErrAborted is returned when the control callback requested a hard abort.
	ErrAborted = errors.New("transfer aborted")
)

// DataVerdict is returned by the data callback for each delivered chunk.
type DataVerdict int

const (
	// DataAccept acknowledges the whole chunk; delivery continues.
	DataAccept DataVerdict = iota
	// DataPause refuses the chunk and suspends delivery; the identical chunk
	// is offered again once a control poll requests resumption.
	DataPause
)

// ControlDecision is returned by the periodic control callback. Abort cancels
// the transfer immediately; Resume lifts a previously signaled pause.
type ControlDecision struct {
	Abort  bool
	Resume bool
}

// Callbacks bind a transfer to its consumer. Every callback is invoked from
// the goroutine that called Fetch, so a single producer context is preserved.
type Callbacks struct {
	// OnHeader is invoked once with the response status and headers before
	// any data is delivered.
	OnHeader func(status int, header http.Header)
	// OnData is invoked for each received chunk.
	OnData func(chunk []byte) DataVerdict
	// OnControl is polled at the configured interval while streaming and
	// while paused; it is the only point at which cancellation is observed.
	OnControl func() ControlDecision
}

// Config controls transfer behavior. Zero values fall back to defaults.
type Config struct {
	ConnectTimeout    time.Duration // dial plus response header deadline
	PollInterval      time.Duration // control callback cadence
	ChunkSize         int           // maximum bytes offered per data callback
	UserAgent         string
	ConnectRetries    uint          // extra connect attempts after the first
	ConnectRetryDelay time.Duration // base delay between connect attempts
}

// DefaultConfig returns the transfer defaults used by the tuner proxy.
func DefaultConfig() Config {
	return Config{
		ConnectTimeout:    10 * time.Second,
		PollInterval:      500 * time.Millisecond,
		ChunkSize:         16 * 1024,
		UserAgent:         "livetuner/1.0",
		ConnectRetries:    3,
		ConnectRetryDelay: time.Second,
	}
}

// Client issues live stream transfers. It is safe for use by multiple
// concurrent transfers.
type Client struct {
	http *http.Client
	cfg  Config
	log  *logrus.Logger
}

// NewClient creates a transfer client. Zero config fields take defaults.
func NewClient(cfg Config, logger *logrus.Logger) *Client {
	def := DefaultConfig()
	if cfg.ConnectTimeout <= 0 {
		cfg.ConnectTimeout = def.ConnectTimeout
	}
	if cfg.PollInterval <= 0 {
		cfg.PollInterval = def.PollInterval
	}
	if cfg.ChunkSize <= 0 {
		cfg.ChunkSize = def.ChunkSize
	}
	if cfg.UserAgent == "" {
		cfg.UserAgent = def.UserAgent
	}
	if cfg.ConnectRetryDelay <= 0 {
		cfg.ConnectRetryDelay = def.ConnectRetryDelay
	}
	if logger == nil {
		logger = logrus.StandardLogger()
	}

	return &Client{
		http: &http.Client{
			// No overall timeout: live streams are open-ended. Only the
			// connect phase is bounded.
			Transport: &http.Transport{
				DialContext: (&net.Dialer{
					Timeout: cfg.ConnectTimeout,
				}).DialContext,
				ResponseHeaderTimeout: cfg.ConnectTimeout,
				MaxIdleConns:          100,
				MaxIdleConnsPerHost:   10,
				IdleConnTimeout:       90 * time.Second,
			},
		},
		cfg: cfg,
		log: logger,
	}
}

// Fetch issues a GET for rawURL and delivers the response body through cb.
// When hasRange is set the request carries "Range: bytes=<rangeStart>-".
// Connect failures and non-2xx statuses are retried with exponential backoff
// before the transfer is declared failed; once data is flowing there is no
// automatic retry. Fetch returns nil when the upstream closes the stream,
// ErrAborted on a control abort, or the failure otherwise.
func (c *Client) Fetch(rawURL string, rangeStart uint64, hasRange bool, cb Callbacks) error {
	if err := validateURL(rawURL); err != nil {
		return err
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	var resp *http.Response
	err := retry.Do(
		func() error {
			req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
			if err != nil {
				return retry.Unrecoverable(err)
			}
			req.Header.Set("User-Agent", c.cfg.UserAgent)
			if hasRange {
				req.Header.Set("Range", fmt.Sprintf("bytes=%d-", rangeStart))
			}

			r, err := c.http.Do(req)
			if err != nil {
				return err
			}
			if r.StatusCode < 200 || r.StatusCode > 299 {
				_ = r.Body.Close()
				return fmt.Errorf("upstream returned %s", r.Status)
			}
			resp = r
			return nil
		},
		retry.Attempts(c.cfg.ConnectRetries+1),
		retry.Delay(c.cfg.ConnectRetryDelay),
		retry.DelayType(retry.BackOffDelay),
		retry.LastErrorOnly(true),
		retry.OnRetry(func(attempt uint, err error) {
			c.log.WithError(err).WithFields(logrus.Fields{
				"url":     rawURL,
				"attempt": attempt + 1,
			}).Warn("Connect attempt failed, retrying")
		}),
	)
	if err != nil {
		return fmt.Errorf("failed to connect to %s: %w", rawURL, err)
	}
	defer func() {
		_ = resp.Body.Close()
	}()

	if cb.OnHeader != nil {
		cb.OnHeader(resp.StatusCode, resp.Header)
	}

	return c.pump(cancel, resp.Body, cb)
}

// bodyChunk carries one read from the response body to the delivery loop.
type bodyChunk struct {
	data []byte
	err  error
}

// pump delivers body chunks through the callbacks. A dedicated goroutine
// performs the blocking reads; delivery, pausing and control polling stay on
// the calling goroutine. While paused the reader backs up on the unbuffered
// channel and the kernel's TCP flow control throttles the upstream.
func (c *Client) pump(cancel context.CancelFunc, body io.Reader, cb Callbacks) error {
	chunks := make(chan bodyChunk)
	go func() {
		defer close(chunks)
		for {
			// Fresh buffer per read: chunk ownership passes to the delivery
			// loop, which may hold one across a pause.
			buf := make([]byte, c.cfg.ChunkSize)
			n, err := body.Read(buf)
			if n > 0 {
				chunks <- bodyChunk{data: buf[:n]}
			}
			if err != nil {
				if err != io.EOF {
					chunks <- bodyChunk{err: err}
				}
				return
			}
		}
	}()

	// abort cancels the request and releases the reader goroutine, which may
	// be blocked sending a chunk nobody will consume.
	abort := func() error {
		cancel()
		for range chunks {
		}
		return ErrAborted
	}

	control := func() ControlDecision {
		if cb.OnControl == nil {
			return ControlDecision{}
		}
		return cb.OnControl()
	}

	ticker := time.NewTicker(c.cfg.PollInterval)
	defer ticker.Stop()

	paused := false
	var pending []byte

	for {
		if paused {
			// Delivery is suspended; only the control poll can resume or
			// abort the transfer.
			<-ticker.C
			decision := control()
			if decision.Abort {
				return abort()
			}
			if decision.Resume {
				paused = false
			}
			continue
		}

		if pending == nil {
			select {
			case chunk, ok := <-chunks:
				if !ok {
					return nil // upstream closed the stream
				}
				if chunk.err != nil {
					return fmt.Errorf("transfer failed: %w", chunk.err)
				}
				pending = chunk.data
			case <-ticker.C:
				if control().Abort {
					return abort()
				}
				continue
			}
		}

		if cb.OnData != nil && cb.OnData(pending) == DataPause {
			// The chunk stays pending and is redelivered after resumption.
			paused = true
			continue
		}
		pending = nil
	}
}

func validateURL(rawURL string) error {
	u, err := url.Parse(rawURL)
	if err != nil {
		return fmt.Errorf("invalid URL: %w", err)
	}

	if u.Scheme != "http" && u.Scheme != "https" {
		return fmt.Errorf("%w: %s", ErrUnsupportedScheme, u.Scheme)
	}

	if u.Host == "" {
		return ErrMissingHost
	}

	return nil
}
