package core

import (
	"bytes"
	"context"
	"errors"
	"fmt"
	"net/http"
	"slices"
	"time"

	"github.com/PuerkitoBio/goquery"
	"go.opentelemetry.io/otel/attribute"
	"go.opentelemetry.io/otel/codes"
)

var ErrAuthentication = errors.New("clubos authentication failed")

const (
	report_login            = "login"
	report_login_rate_limit = "login-rate-limited"
	report_session_stale    = "session-stale"
	report_session_probe    = "session-probe"
)

func authFailure(format string, args ...any) error {
	return fmt.Errorf("%w: %s", ErrAuthentication, fmt.Sprintf(format, args...))
}

type loginTokens struct {
	sourcePage  string
	fingerprint string
}

func parseLoginTokens(body []byte) (loginTokens, error) {
	doc, err := goquery.NewDocumentFromReader(bytes.NewBuffer(body))
	if err != nil {
		return loginTokens{}, err
	}
	return loginTokens{
		sourcePage:  doc.Find("input[name=_sourcePage]").AttrOr("value", ""),
		fingerprint: doc.Find("input[name=__fp]").AttrOr("value", ""),
	}, nil
}

// Login performs one full login handshake without retrying. Every failure wraps
// ErrAuthentication.
func (c *Client) Login(ctx context.Context) error {
	return c.login(ctx, []time.Duration{0}, nil)
}

// login runs the handshake, the credential POST is attempted once per entry of
// `backoffs` (sleeping that long first) for as long as it is answered with one of
// `retryStatuses`.
func (c *Client) login(ctx context.Context, backoffs []time.Duration, retryStatuses []int) error {
	ctx, span := tracer.Start(ctx, "client:Login")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.Login)
	defer cancel()

	c.Session.markAttempt(c.clock.Now())

	err := c.performLogin(ctx, backoffs, retryStatuses)
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "login failed")
		c.tel.ReportWarning(report_login, err)
		return err
	}

	token := c.cookie(cookieAccessToken)
	c.Session.markAuthenticated(token, c.clock.Now())
	span.SetAttributes(attribute.Bool("access_token", token != ""))
	c.tel.ReportDebug("logged in", c.username)
	return nil
}

func (c *Client) performLogin(ctx context.Context, backoffs []time.Duration, retryStatuses []int) error {
	res, err := c.Http.R().
		SetContext(ctx).
		Get("/action/Login/view")
	if err != nil {
		return fmt.Errorf("%w: fetch login page: %w", ErrAuthentication, err)
	}
	if !isSuccess(res) {
		return authFailure("login page returned %d", res.StatusCode())
	}
	tokens, err := parseLoginTokens(res.Body())
	if err != nil {
		return fmt.Errorf("%w: parse login page: %w", ErrAuthentication, err)
	}

	if len(backoffs) == 0 {
		backoffs = []time.Duration{0}
	}
	for i, backoff := range backoffs {
		if backoff > 0 {
			err = c.clock.Sleep(ctx, backoff)
			if err != nil {
				return fmt.Errorf("%w: %w", ErrAuthentication, err)
			}
		}

		res, err = c.Http.R().
			SetContext(ctx).
			SetFormData(map[string]string{
				"login":       "Submit",
				"username":    c.username,
				"password":    c.password,
				"_sourcePage": tokens.sourcePage,
				"__fp":        tokens.fingerprint,
			}).
			Post("/action/Login")
		if err != nil {
			return fmt.Errorf("%w: submit credentials: %w", ErrAuthentication, err)
		}
		if !slices.Contains(retryStatuses, res.StatusCode()) {
			break
		}
		c.tel.ReportWarning(report_login_rate_limit, res.StatusCode(), i+1)
		if i == len(backoffs)-1 {
			return authFailure("rate limited after %d attempts", len(backoffs))
		}
	}
	if !isSuccess(res) {
		return authFailure("login returned %d", res.StatusCode())
	}

	if c.cookie(cookieSession) == "" {
		return authFailure("no %s cookie after login", cookieSession)
	}

	res, err = c.Http.R().
		SetContext(ctx).
		Get("/action/Dashboard")
	if err != nil {
		return fmt.Errorf("%w: fetch dashboard: %w", ErrAuthentication, err)
	}
	if !isSuccess(res) {
		return authFailure("dashboard returned %d", res.StatusCode())
	}
	if redirectedToLogin(res) {
		return authFailure("dashboard redirected to login")
	}
	return nil
}

// IsSessionFresh probes an authenticated page and returns true if ClubOS still
// honors the session. A stale session is invalidated.
func (c *Client) IsSessionFresh(ctx context.Context) bool {
	ctx, span := tracer.Start(ctx, "client:IsSessionFresh")
	defer span.End()

	ctx, cancel := context.WithTimeout(ctx, c.Timeouts.Light)
	defer cancel()

	res, err := c.Request(ctx).Get("/action/Dashboard/view")
	if err != nil {
		span.RecordError(err)
		span.SetStatus(codes.Error, "failed to probe session")
		c.tel.ReportWarning(report_session_probe, err)
		return false
	}

	fresh := res.StatusCode() >= 200 && res.StatusCode() < 300 && !redirectedToLogin(res)
	span.SetAttributes(attribute.Bool("fresh", fresh))
	if !fresh {
		c.tel.ReportDebug(report_session_stale, res.StatusCode(), finalPath(res))
		c.Session.Invalidate()
		return false
	}
	c.Session.markVerified(c.clock.Now())
	return true
}

// DefaultRateLimitStatuses are the responses ClubOS throttles login attempts with.
func DefaultRateLimitStatuses() []int {
	return []int{http.StatusForbidden, http.StatusTooManyRequests}
}
