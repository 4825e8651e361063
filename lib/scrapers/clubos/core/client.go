package core

import (
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"strings"
	"time"

	"gymbot-backend/internal/components/chrono"
	"gymbot-backend/internal/components/telemetry"

	cloudflarebp "github.com/DaRealFreak/cloudflare-bp-go"
	"github.com/go-resty/resty/v2"
	"go.opentelemetry.io/otel"
)

var tracer = otel.Tracer("gymbot.lib.scrapers.clubos.core")

const (
	cookieSession       = "JSESSIONID"
	cookieAccessToken   = "apiV3AccessToken"
	cookieDelegated     = "delegatedUserId"
	cookieStaffDelegate = "staffDelegatedUserId"
)

type Timeouts struct {
	// Light bounds JSON calls and session probes.
	Light time.Duration
	// Bulk bounds HTML documents.
	Bulk  time.Duration
	Login time.Duration
}

func DefaultTimeouts() Timeouts {
	return Timeouts{
		Light: 12 * time.Second,
		Bulk:  20 * time.Second,
		Login: 30 * time.Second,
	}
}

type ClientOptions struct {
	BaseUrl  string
	Username string
	Password string
	Timeouts Timeouts
}

type Option func(c *Client)

func WithTelemetry(tel telemetry.API) Option {
	return func(c *Client) {
		c.rawTel = tel
	}
}

func WithClock(clock chrono.API) Option {
	return func(c *Client) {
		c.clock = clock
	}
}

// WithHttpOutput writes every HTTP exchange of the client to out.
func WithHttpOutput(out telemetry.MessageOutput) Option {
	return func(c *Client) {
		c.httpOutput = out
	}
}

// Client is one authenticated ClubOS web session. It is safe for concurrent use,
// but the session it holds is shared: delegating from one goroutine changes the
// member every other goroutine acts as.
type Client struct {
	BaseUrl  *url.URL
	Http     *resty.Client
	Session  *Session
	Timeouts Timeouts

	username   string
	password   string
	jar        http.CookieJar
	rawTel     telemetry.API
	tel        telemetry.API
	clock      chrono.API
	httpOutput telemetry.MessageOutput
}

func NewClient(opts ClientOptions, options ...Option) (*Client, error) {
	baseUrl, err := url.Parse(strings.TrimSuffix(opts.BaseUrl, "/"))
	if err != nil {
		return nil, err
	}
	if baseUrl.Scheme == "" || baseUrl.Host == "" {
		return nil, fmt.Errorf("base url must be absolute: %q", opts.BaseUrl)
	}

	c := &Client{
		BaseUrl:  baseUrl,
		Session:  &Session{},
		Timeouts: opts.Timeouts,
		username: opts.Username,
		password: opts.Password,
		clock:    chrono.StandardImpl{},
	}
	for _, opt := range options {
		opt(c)
	}
	c.rawTel = telemetry.OrDefault(c.rawTel)
	c.tel = telemetry.NewScopedAPI("clubos_core", c.rawTel)

	defaults := DefaultTimeouts()
	if c.Timeouts.Light <= 0 {
		c.Timeouts.Light = defaults.Light
	}
	if c.Timeouts.Bulk <= 0 {
		c.Timeouts.Bulk = defaults.Bulk
	}
	if c.Timeouts.Login <= 0 {
		c.Timeouts.Login = defaults.Login
	}

	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	c.jar = jar

	client := resty.New()
	client.SetBaseURL(baseUrl.String())
	client.SetCookieJar(jar)
	client.GetClient().Transport = cloudflarebp.AddCloudFlareByPass(client.GetClient().Transport)
	client.SetHeader("user-agent", "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/123.0.0.0 Safari/537.36")
	client.SetRedirectPolicy(resty.DomainCheckRedirectPolicy(baseUrl.Hostname()))
	client.SetTimeout(c.Timeouts.Login)

	telemetry.InstrumentResty(
		client,
		telemetry.NewScopedAPI("clubos_http", c.rawTel),
		c.httpOutput,
	)
	c.Http = client

	return c, nil
}

// Telemetry returns the unscoped telemetry the client was created with, so that
// components built on top of it report to the same place.
func (c *Client) Telemetry() telemetry.API {
	return c.rawTel
}

func (c *Client) Clock() chrono.API {
	return c.clock
}

// Request returns a request bound to ctx, the access token is attached as a bearer
// token when the session has one.
func (c *Client) Request(ctx context.Context) *resty.Request {
	req := c.Http.R().SetContext(ctx)
	token := c.Session.AccessToken()
	if token != "" {
		req.SetAuthToken(token)
	}
	return req
}

func (c *Client) cookie(name string) string {
	for _, cookie := range c.jar.Cookies(c.BaseUrl) {
		if cookie.Name == name {
			return cookie.Value
		}
	}
	return ""
}

func (c *Client) setCookies(values map[string]string) {
	cookies := make([]*http.Cookie, 0, len(values))
	for name, value := range values {
		cookies = append(cookies, &http.Cookie{
			Name:  name,
			Value: value,
			Path:  "/",
		})
	}
	c.jar.SetCookies(c.BaseUrl, cookies)
}

// refreshAccessToken copies the api token cookie into the session if ClubOS
// rotated it.
func (c *Client) refreshAccessToken() {
	token := c.cookie(cookieAccessToken)
	if token != "" {
		c.Session.setAccessToken(token)
	}
}

func isSuccess(res *resty.Response) bool {
	return res.StatusCode() >= 200 && res.StatusCode() < 400
}

func finalPath(res *resty.Response) string {
	if res.RawResponse != nil && res.RawResponse.Request != nil {
		return res.RawResponse.Request.URL.Path
	}
	return ""
}

func isLoginPath(path string) bool {
	return strings.HasPrefix(path, "/action/Login")
}

// redirectedToLogin returns true if the response ended up on, or points to, the
// login page.
func redirectedToLogin(res *resty.Response) bool {
	if isLoginPath(finalPath(res)) {
		return true
	}
	location := res.Header().Get("Location")
	if location == "" {
		return false
	}
	target, err := url.Parse(location)
	if err != nil {
		return false
	}
	return isLoginPath(target.Path)
}
