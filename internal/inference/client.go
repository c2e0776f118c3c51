package inference

import (
	"context"
	"errors"
	"fmt"
	"net/http"
	"strconv"
	"strings"
	"time"

	"github.com/go-resty/resty/v2"

	"github.com/ironsheep/scene-dispatcher/internal/imaging"
	"github.com/ironsheep/scene-dispatcher/internal/logging"
)

const (
	// DefaultMaxRetries is the number of attempts made for one tile.
	DefaultMaxRetries = 32
	// DefaultRetryDelay is the pause between two attempts.
	DefaultRetryDelay = 4 * time.Second
)

// livenessTimeout bounds the liveness check made by NewClient, independent of Config.Timeout.
var livenessTimeout = 5 * time.Second

// Config binds a Client to one endpoint and model.
type Config struct {
	// URL of the inference server, e.g. "localhost:8000" or "http://triton:8000".
	URL string
	// ModelName and optional ModelVersion address the model on the server.
	ModelName    string
	ModelVersion string
	// MaxRetries is the total number of attempts per call; 0 means DefaultMaxRetries.
	MaxRetries int
	// RetryDelay is the pause between attempts; 0 means DefaultRetryDelay.
	RetryDelay time.Duration
	// Timeout bounds one HTTP attempt; 0 means no timeout.
	Timeout time.Duration
}

// Mask is a single-channel class label image, one byte per pixel, row-major.
type Mask struct {
	Width  int
	Height int
	Pix    []byte
}

// At returns the label at (x, y).
func (m *Mask) At(x, y int) uint8 {
	return m.Pix[y*m.Width+x]
}

// Client runs tile inference against one KServe v2 endpoint.
//
// A Client belongs to one worker of a scene job; it holds its own connection pool
// and is never shared across workers.
type Client struct {
	cfg       Config
	http      *resty.Client
	inferPath string

	// sleep waits between attempts; replaced in tests.
	sleep func(ctx context.Context, d time.Duration) error
}

// NewClient creates a client and checks that the endpoint is live.
//
// A failed check is logged and otherwise ignored: the endpoint may come up before
// the first tile is sent, and inference calls retry anyway.
func NewClient(cfg Config) (*Client, error) {
	if strings.TrimSpace(cfg.URL) == "" {
		return nil, errors.New("inference server URL is required")
	}
	if cfg.ModelName == "" {
		return nil, errors.New("model name is required")
	}
	if cfg.MaxRetries <= 0 {
		cfg.MaxRetries = DefaultMaxRetries
	}
	if cfg.RetryDelay <= 0 {
		cfg.RetryDelay = DefaultRetryDelay
	}
	cfg.URL = normalizeURL(cfg.URL)

	rc := resty.New().
		SetBaseURL(cfg.URL).
		SetHeader("User-Agent", "scene-dispatcher")
	if cfg.Timeout > 0 {
		rc.SetTimeout(cfg.Timeout)
	}

	c := &Client{
		cfg:       cfg,
		http:      rc,
		inferPath: inferPath(cfg.ModelName, cfg.ModelVersion),
		sleep:     sleepContext,
	}

	ctx, cancel := context.WithTimeout(context.Background(), livenessTimeout)
	live, err := c.Live(ctx)
	cancel()
	switch {
	case err != nil:
		logging.Warningf("Failed to check server liveness at %s: %v", cfg.URL, err)
	case live:
		logging.Debugf("Server liveness check: Server is live. (%s)", cfg.URL)
	default:
		logging.Warningf("Server liveness check: Server is not live. (%s)", cfg.URL)
	}

	return c, nil
}

// Live reports whether the endpoint reports itself live.
func (c *Client) Live(ctx context.Context) (bool, error) {
	resp, err := c.http.R().SetContext(ctx).Get("/v2/health/live")
	if err != nil {
		return false, err
	}
	return resp.StatusCode() == http.StatusOK, nil
}

// Infer sends one patch for inference and returns its class mask.
//
// Transport failures and non-2xx replies are retried, up to Config.MaxRetries
// attempts in total with Config.RetryDelay between them; if all fail the result is
// an *ExhaustedError. A reply whose mask is not exactly one byte per input pixel
// fails with ErrMaskSizeMismatch without retrying.
func (c *Client) Infer(ctx context.Context, patch *imaging.Patch) (*Mask, error) {
	if patch.Empty() {
		return nil, ErrEmptyInput
	}
	rows, cols := patch.Tile.Height, patch.Tile.Width

	body, headerLen, err := encodeRequest(patch.Pix, rows, cols)
	if err != nil {
		return nil, err
	}

	var lastErr error
	for attempt := 1; attempt <= c.cfg.MaxRetries; attempt++ {
		pix, err := c.post(ctx, body, headerLen)
		if err == nil {
			if len(pix) != rows*cols {
				return nil, fmt.Errorf("%w: got %d bytes, want %d (%dx%d)",
					ErrMaskSizeMismatch, len(pix), rows*cols, cols, rows)
			}
			return &Mask{Width: cols, Height: rows, Pix: pix}, nil
		}
		if !isTransient(err) {
			return nil, err
		}

		lastErr = err
		logging.Warningf("Inference error for tile %v: %v", patch.Tile, err)
		if attempt == c.cfg.MaxRetries {
			break
		}
		logging.Warningf("Sleeping for %s and retrying. [Attempt: %d/%d]", c.cfg.RetryDelay, attempt, c.cfg.MaxRetries)
		if err := c.sleep(ctx, c.cfg.RetryDelay); err != nil {
			return nil, fmt.Errorf("inference retry aborted: %w", err)
		}
	}

	return nil, &ExhaustedError{Attempts: c.cfg.MaxRetries, Err: lastErr}
}

// post performs a single inference attempt and returns the raw mask bytes.
func (c *Client) post(ctx context.Context, body []byte, headerLen int) ([]byte, error) {
	resp, err := c.http.R().
		SetContext(ctx).
		SetHeader("Content-Type", "application/octet-stream").
		SetHeader(headerContentLength, strconv.Itoa(headerLen)).
		SetBody(body).
		Post(c.inferPath)
	if err != nil {
		if ctx.Err() != nil {
			return nil, ctx.Err()
		}
		return nil, &transientError{err: err}
	}
	if !resp.IsSuccess() {
		return nil, &transientError{err: fmt.Errorf("inference server returned %s: %s",
			resp.Status(), truncate(strings.TrimSpace(resp.String()), 256))}
	}

	return decodeMask(resp.Body(), resp.Header().Get(headerContentLength), OutputName)
}

// Close releases idle connections held by the client.
func (c *Client) Close() error {
	c.http.GetClient().CloseIdleConnections()
	return nil
}

// URL returns the normalized endpoint URL.
func (c *Client) URL() string {
	return c.cfg.URL
}

func normalizeURL(u string) string {
	u = strings.TrimRight(strings.TrimSpace(u), "/")
	if !strings.Contains(u, "://") {
		u = "http://" + u
	}
	return u
}

func truncate(s string, n int) string {
	if len(s) <= n {
		return s
	}
	return s[:n] + "..."
}

func sleepContext(ctx context.Context, d time.Duration) error {
	t := time.NewTimer(d)
	defer t.Stop()
	select {
	case <-t.C:
		return nil
	case <-ctx.Done():
		return ctx.Err()
	}
}
