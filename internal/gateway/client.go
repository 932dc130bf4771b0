// Package gateway is the HTTP client for the collaborator endpoints:
// credentials, catalog, translate and synthesize.
package gateway

import (
	"context"
	"errors"
	"fmt"
	"io"
	"mime"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.opentelemetry.io/contrib/instrumentation/net/http/otelhttp"

	"live-translate-service/internal/models"
	"live-translate-service/internal/service/speech"
	"live-translate-service/internal/service/translate"
)

const (
	pathCredentials = "/api/v1/credentials"
	pathVoices      = "/api/v1/voices"
	pathTranslate   = "/api/v1/translate"
	pathSynthesize  = "/api/v1/synthesize"
)

// ErrMissingTranslation is returned when the translate endpoint answers
// without a translation.
var ErrMissingTranslation = errors.New("translate response has no translation")

// StatusError is a non-2xx response.
type StatusError struct {
	Path   string
	Status int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: unexpected status %d: %s", e.Path, e.Status, e.Body)
}

// Credentials is the payload of the credentials endpoint.
type Credentials struct {
	AccessToken string `json:"accessToken"`
	ServiceURL  string `json:"serviceUrl"`
}

// Client calls the collaborator endpoints.
type Client struct {
	base    *url.URL
	http    *http.Client
	timeout time.Duration
}

// New creates a client for baseURL. timeout bounds every JSON call that
// carries no deadline of its own; zero means no bound. Synthesize is bounded
// by its caller only, since the audio body is read after it returns.
func New(baseURL string, timeout time.Duration) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, fmt.Errorf("invalid gateway url %q: %w", baseURL, err)
	}
	if u.Scheme == "" || u.Host == "" {
		return nil, fmt.Errorf("invalid gateway url %q: missing scheme or host", baseURL)
	}
	return &Client{
		base:    u,
		timeout: timeout,
		http: &http.Client{
			Transport: otelhttp.NewTransport(http.DefaultTransport,
				otelhttp.WithSpanNameFormatter(func(operation string, r *http.Request) string {
					return "gateway " + r.URL.Path
				}),
			),
		},
	}, nil
}

// Credentials fetches a recognition access token and service URL.
func (c *Client) Credentials(ctx context.Context) (Credentials, error) {
	var out Credentials
	if err := c.getJSON(ctx, pathCredentials, nil, &out); err != nil {
		return Credentials{}, err
	}
	return out, nil
}

// Catalog fetches the models, voices and supported translations.
func (c *Client) Catalog(ctx context.Context) (models.Catalog, error) {
	var out models.Catalog
	if err := c.getJSON(ctx, pathVoices, nil, &out); err != nil {
		return models.Catalog{}, err
	}
	return out, nil
}

// Translate implements translate.Translator. Transport failures and 5xx
// responses wrap translate.ErrUnavailable.
func (c *Client) Translate(ctx context.Context, req translate.Request) (string, error) {
	q := url.Values{}
	q.Set("text", req.Text)
	q.Set("source", req.Source)
	q.Set("voice", req.Voice)

	var out struct {
		Translated *string `json:"translated"`
	}
	err := c.getJSON(ctx, pathTranslate, q, &out)
	if err != nil {
		if ctx.Err() != nil {
			return "", ctx.Err()
		}
		var se *StatusError
		if !errors.As(err, &se) || se.Status >= http.StatusInternalServerError {
			return "", fmt.Errorf("%w: %w", translate.ErrUnavailable, err)
		}
		return "", err
	}
	if out.Translated == nil {
		return "", ErrMissingTranslation
	}
	return *out.Translated, nil
}

// Synthesize implements speech.Synthesizer. The caller closes the body.
func (c *Client) Synthesize(ctx context.Context, req speech.Request) (*speech.Audio, error) {
	q := url.Values{}
	q.Set("text", req.Joined())
	q.Set("voice", req.Voice)
	if req.Accept != "" {
		q.Set("accept", req.Accept)
	}
	if req.Download {
		q.Set("download", "true")
	}

	resp, err := c.get(ctx, pathSynthesize, q)
	if err != nil {
		return nil, err
	}

	audio := &speech.Audio{ContentType: resp.Header.Get("Content-Type"), Body: resp.Body}
	if audio.ContentType == "" {
		audio.ContentType = req.Accept
	}
	if _, params, err := mime.ParseMediaType(resp.Header.Get("Content-Disposition")); err == nil {
		audio.Filename = params["filename"]
	}
	return audio, nil
}

func (c *Client) getJSON(ctx context.Context, path string, q url.Values, v any) error {
	if _, ok := ctx.Deadline(); !ok && c.timeout > 0 {
		var cancel context.CancelFunc
		ctx, cancel = context.WithTimeout(ctx, c.timeout)
		defer cancel()
	}
	resp, err := c.get(ctx, path, q)
	if err != nil {
		return err
	}
	defer resp.Body.Close()
	if err := json.NewDecoder(resp.Body).Decode(v); err != nil {
		return fmt.Errorf("%s: decode response: %w", path, err)
	}
	return nil
}

// get issues a GET and returns the response if its status is 2xx.
func (c *Client) get(ctx context.Context, path string, q url.Values) (*http.Response, error) {
	u := *c.base
	u.Path += path
	u.RawQuery = q.Encode()

	req, err := http.NewRequestWithContext(ctx, http.MethodGet, u.String(), nil)
	if err != nil {
		return nil, fmt.Errorf("%s: build request: %w", path, err)
	}
	resp, err := c.http.Do(req)
	if err != nil {
		return nil, fmt.Errorf("%s: %w", path, err)
	}
	if resp.StatusCode < 200 || resp.StatusCode > 299 {
		defer resp.Body.Close()
		body, _ := io.ReadAll(io.LimitReader(resp.Body, 512))
		return nil, &StatusError{Path: path, Status: resp.StatusCode, Body: strings.TrimSpace(string(body))}
	}
	return resp, nil
}
