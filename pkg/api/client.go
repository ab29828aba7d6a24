package api

import (
	"bytes"
	"context"
	"encoding/json"
	"fmt"
	"io"
	"io/ioutil"
	"net/http"
	"net/url"
	"strings"
	"time"

	"github.com/GwanWingYan/vaultsign/pkg/session"
	"github.com/cenkalti/backoff/v5"
	"github.com/pkg/errors"
	log "github.com/sirupsen/logrus"
)

var ErrUnexpectedStatus = errors.New("unexpected backend status")

// StatusError carries the status and body of a rejected call.
type StatusError struct {
	Method string
	Path   string
	Code   int
	Body   string
}

func (e *StatusError) Error() string {
	return fmt.Sprintf("%s: %s %s returned %d: %s", ErrUnexpectedStatus, e.Method, e.Path, e.Code, strings.TrimSpace(e.Body))
}

func (e *StatusError) Unwrap() error { return ErrUnexpectedStatus }

// SessionSource yields the credentials attached to every call.
type SessionSource interface {
	Current() (*session.Session, error)
}

type Options struct {
	HTTPClient *http.Client
	Session    SessionSource
	Logger     *log.Logger
	// MaxTries bounds attempts of idempotent reads.
	MaxTries uint
}

// Client talks to the vault backend REST API.
type Client struct {
	base     *url.URL
	http     *http.Client
	session  SessionSource
	logger   *log.Entry
	maxTries uint
}

func NewClient(baseURL string, opts Options) (*Client, error) {
	u, err := url.Parse(strings.TrimRight(baseURL, "/"))
	if err != nil {
		return nil, errors.Wrapf(err, "invalid api url %s", baseURL)
	}
	if opts.HTTPClient == nil {
		opts.HTTPClient = &http.Client{Timeout: 30 * time.Second}
	}
	if opts.Logger == nil {
		opts.Logger = log.StandardLogger()
	}
	if opts.MaxTries == 0 {
		opts.MaxTries = 3
	}
	return &Client{
		base:     u,
		http:     opts.HTTPClient,
		session:  opts.Session,
		logger:   opts.Logger.WithField("component", "api"),
		maxTries: opts.MaxTries,
	}, nil
}

type response struct {
	code int
	body []byte
}

func (c *Client) do(ctx context.Context, method, path string, query url.Values, in, out interface{}) error {
	_, err := c.call(ctx, method, path, query, in, out)
	return err
}

// call sends one request and decodes a 2xx body into out, returning the
// final status. GETs are retried on transport errors and 5xx answers.
func (c *Client) call(ctx context.Context, method, path string, query url.Values, in, out interface{}) (int, error) {
	var payload []byte
	if in != nil {
		var err error
		if payload, err = json.Marshal(in); err != nil {
			return 0, errors.Wrapf(err, "error encoding %s %s", method, path)
		}
	}

	u := *c.base
	u.Path = c.base.Path + path
	u.RawQuery = query.Encode()

	headers := http.Header{}
	headers.Set("Accept", "application/json")
	if payload != nil {
		headers.Set("Content-Type", "application/json")
	}
	if c.session != nil {
		if sess, err := c.session.Current(); err == nil {
			headers.Set("Authorization", sess.AccessToken)
			headers.Set("Signeraddress", sess.Account)
		}
	}

	attempt := func() (response, error) {
		var body io.Reader
		if payload != nil {
			body = bytes.NewReader(payload)
		}
		req, err := http.NewRequestWithContext(ctx, method, u.String(), body)
		if err != nil {
			return response{}, backoff.Permanent(errors.Wrapf(err, "error building %s %s", method, path))
		}
		req.Header = headers.Clone()

		resp, err := c.http.Do(req)
		if err != nil {
			return response{}, errors.Wrapf(err, "error calling %s %s", method, path)
		}
		defer resp.Body.Close()
		raw, err := ioutil.ReadAll(resp.Body)
		if err != nil {
			return response{}, errors.Wrapf(err, "error reading %s %s", method, path)
		}
		r := response{code: resp.StatusCode, body: raw}
		if resp.StatusCode >= 500 {
			return r, &StatusError{Method: method, Path: path, Code: resp.StatusCode, Body: string(raw)}
		}
		return r, nil
	}

	tries := uint(1)
	if method == http.MethodGet {
		tries = c.maxTries
	}
	b := backoff.NewExponentialBackOff()
	b.InitialInterval = 100 * time.Millisecond
	r, err := backoff.Retry(ctx, attempt, backoff.WithBackOff(b), backoff.WithMaxTries(tries))
	if err != nil {
		return StatusCode(err), err
	}

	if r.code < 200 || r.code > 299 {
		return r.code, &StatusError{Method: method, Path: path, Code: r.code, Body: string(r.body)}
	}
	c.logger.WithFields(log.Fields{"method": method, "path": path, "status": r.code}).Debug("api call")
	if out == nil || len(bytes.TrimSpace(r.body)) == 0 {
		return r.code, nil
	}
	if err := json.Unmarshal(r.body, out); err != nil {
		return r.code, errors.Wrapf(err, "error decoding %s %s", method, path)
	}
	return r.code, nil
}

// StatusCode extracts the HTTP status of a failed call, or 0.
func StatusCode(err error) int {
	var se *StatusError
	if errors.As(err, &se) {
		return se.Code
	}
	return 0
}

func escape(s string) string {
	return url.PathEscape(s)
}
