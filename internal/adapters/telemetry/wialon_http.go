package telemetry

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"net"
	"net/http"
	"net/url"
	"strings"
	"time"
)

type httpStatusError struct {
	Code int
	Body string
}

func (e *httpStatusError) Error() string {
	return fmt.Sprintf("Code %d: %s", e.Code, e.Body)
}

// apiError is an error code carried in a 200 response body.
type apiError struct {
	Service string
	Code    int
}

func (e *apiError) Error() string {
	return fmt.Sprintf("wialon %s: error %d", e.Service, e.Code)
}

// Wialon returns 1 for an unknown or expired session id.
const errInvalidSession = 1

func isInvalidSession(err error) bool {
	var ae *apiError
	return errors.As(err, &ae) && ae.Code == errInvalidSession
}

// call posts one form-encoded service request and decodes the JSON reply into out.
func (w *WialonProvider) call(ctx context.Context, svc string, params any, sid string, out any) error {
	encoded, err := json.Marshal(params)
	if err != nil {
		return fmt.Errorf("wialon %s: encode params: %w", svc, err)
	}

	form := url.Values{}
	form.Set("svc", svc)
	form.Set("params", string(encoded))
	if sid != "" {
		form.Set("sid", sid)
	}
	body := form.Encode()

	resp, err := w.doWithRetry(ctx, func() (*http.Request, error) {
		req, err := http.NewRequestWithContext(ctx, http.MethodPost, w.apiURL, strings.NewReader(body))
		if err != nil {
			return nil, fmt.Errorf("create request: %w", err)
		}
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
		req.Header.Set("Accept", "application/json")
		return req, nil
	})
	if err != nil {
		return fmt.Errorf("wialon %s: %w", svc, err)
	}
	defer resp.Body.Close()

	raw, err := io.ReadAll(resp.Body)
	if err != nil {
		return fmt.Errorf("wialon %s: read body: %w", svc, err)
	}

	var status struct {
		Error int `json:"error"`
	}
	// Successful replies may be JSON arrays; only objects carry an error code.
	if json.Unmarshal(raw, &status) == nil && status.Error != 0 {
		return &apiError{Service: svc, Code: status.Error}
	}

	if out == nil {
		return nil
	}
	if err := json.Unmarshal(raw, out); err != nil {
		return fmt.Errorf("wialon %s: decode response: %w", svc, err)
	}
	return nil
}

func (w *WialonProvider) do(req *http.Request) (*http.Response, error) {
	resp, err := w.client.Do(req)
	if err != nil {
		return nil, err
	}
	if resp.StatusCode >= 400 {
		b, _ := io.ReadAll(resp.Body)
		resp.Body.Close()
		return nil, &httpStatusError{
			Code: resp.StatusCode,
			Body: strings.TrimSpace(string(b)),
		}
	}
	return resp, nil
}

// doWithRetry retries network errors, 429 and 5xx responses with exponential
// backoff while respecting context cancellation.
func (w *WialonProvider) doWithRetry(
	ctx context.Context,
	makeReq func() (*http.Request, error),
) (*http.Response, error) {
	backoff := w.backoff
	var lastErr error

	for attempt := 1; attempt <= w.maxAttempts; attempt++ {
		if err := ctx.Err(); err != nil {
			return nil, err
		}

		req, err := makeReq()
		if err != nil {
			return nil, fmt.Errorf("make request: %w", err)
		}

		resp, err := w.do(req)
		if err == nil {
			return resp, nil
		}
		lastErr = err

		retry := false
		var he *httpStatusError
		if errors.As(err, &he) {
			switch he.Code {
			case 429, 500, 502, 503, 504:
				retry = true
			}
		}

		var netErr net.Error
		if !retry && errors.As(err, &netErr) {
			retry = true
		}

		if !retry || attempt == w.maxAttempts {
			return nil, lastErr
		}

		timer := time.NewTimer(backoff)
		select {
		case <-ctx.Done():
			timer.Stop()
			return nil, ctx.Err()
		case <-timer.C:
		}

		backoff *= 2
	}

	return nil, lastErr
}
