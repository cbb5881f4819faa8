package router

import (
	"context"
	"fmt"
	"io"
	"net/http"
	"net/url"
	"strings"
	"time"

	"go.uber.org/zap"
)

// HTTPConfig describes a form-based router admin interface. Paths, field
// names and response markers differ per router model and are supplied by
// configuration.
type HTTPConfig struct {
	BaseURL       string // e.g. "http://192.168.1.1"
	LandingPath   string // page fetched first to obtain a transient cookie
	LoginPath     string // form login endpoint
	FilterPath    string // MAC filter modification endpoint
	UsernameField string
	PasswordField string
	LoginForm     map[string]string // extra fixed login fields, e.g. action=login

	// BlacklistForm and UnblacklistForm are the filter request fields. The
	// placeholder {mac} is replaced by the formatted MAC address.
	BlacklistForm   map[string]string
	UnblacklistForm map[string]string

	MACFormat string // see FormatMAC
	UserAgent string

	// Response body markers (case-insensitive substrings).
	AuthFailureMarkers []string
	RejectMarkers      []string

	// Markers meaning the MAC is already in the requested state. They are
	// per action: "not found" is only harmless when removing.
	BlacklistNoopMarkers   []string
	UnblacklistNoopMarkers []string

	Timeout time.Duration
}

// DefaultHTTPConfig returns defaults matching common ISP-supplied routers.
func DefaultHTTPConfig() HTTPConfig {
	return HTTPConfig{
		BaseURL:       "http://192.168.1.1",
		LandingPath:   "/",
		LoginPath:     "/login.cgi",
		FilterPath:    "/mac_filter.cgi",
		UsernameField: "Username",
		PasswordField: "Password",
		LoginForm:     map[string]string{"action": "login"},
		BlacklistForm: map[string]string{
			"action":      "add_blacklist",
			"mac_address": "{mac}",
			"status":      "enabled",
		},
		UnblacklistForm: map[string]string{
			"action":      "remove_blacklist",
			"mac_address": "{mac}",
		},
		UserAgent:          "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36",
		AuthFailureMarkers: []string{"login failed", "incorrect password", "invalid username"},
		RejectMarkers:      []string{"error", "invalid mac", "table full"},
		Timeout:            8 * time.Second,

		BlacklistNoopMarkers:   []string{"already exists", "already in"},
		UnblacklistNoopMarkers: []string{"not found", "does not exist"},
	}
}

// HTTPGateway talks to a router's form-encoded web admin interface.
type HTTPGateway struct {
	config HTTPConfig
	client *http.Client
	logger *zap.Logger
}

// NewHTTPGateway creates a gateway for a form-based router.
func NewHTTPGateway(config HTTPConfig, logger *zap.Logger) (*HTTPGateway, error) {
	if config.BaseURL == "" {
		return nil, fmt.Errorf("router base URL is required")
	}
	if _, err := url.Parse(config.BaseURL); err != nil {
		return nil, fmt.Errorf("invalid router base URL: %w", err)
	}
	if config.Timeout <= 0 {
		config.Timeout = 8 * time.Second
	}
	if logger == nil {
		logger = zap.NewNop()
	}

	return &HTTPGateway{
		config: config,
		client: &http.Client{
			Timeout: config.Timeout,
			// Cookies are carried explicitly in the session token.
			CheckRedirect: func(req *http.Request, via []*http.Request) error {
				return http.ErrUseLastResponse
			},
		},
		logger: logger,
	}, nil
}

// Login fetches the landing page for a transient cookie, then submits the
// credentials to the login endpoint.
func (g *HTTPGateway) Login(ctx context.Context, creds Credentials) (Session, error) {
	landing, err := g.do(ctx, http.MethodGet, g.config.LandingPath, nil, "")
	if err != nil {
		return nil, unreachable("fetch landing page", err)
	}
	io.Copy(io.Discard, landing.Body)
	landing.Body.Close()
	if landing.StatusCode < 200 || landing.StatusCode >= 400 {
		return nil, fmt.Errorf("landing page: %w: status %d", ErrUnreachable, landing.StatusCode)
	}
	cookie := cookieHeader(landing, "")

	form := url.Values{}
	for k, v := range g.config.LoginForm {
		form.Set(k, v)
	}
	form.Set(g.config.UsernameField, creds.Username)
	form.Set(g.config.PasswordField, creds.Password)

	resp, err := g.do(ctx, http.MethodPost, g.config.LoginPath, form, cookie)
	if err != nil {
		return nil, unreachable("login", err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	switch {
	case resp.StatusCode == http.StatusUnauthorized || resp.StatusCode == http.StatusForbidden:
		return nil, fmt.Errorf("login: %w: status %d", ErrAuthRejected, resp.StatusCode)
	case g.redirectsToLogin(resp):
		return nil, fmt.Errorf("login: %w: redirected to %s", ErrAuthRejected, resp.Header.Get("Location"))
	case resp.StatusCode < 200 || resp.StatusCode >= 400:
		return nil, fmt.Errorf("login: %w: status %d", ErrUnreachable, resp.StatusCode)
	case containsAny(body, g.config.AuthFailureMarkers):
		return nil, fmt.Errorf("login: %w", ErrAuthRejected)
	}

	g.logger.Debug("logged into router", zap.String("base_url", g.config.BaseURL))

	return &httpSession{gateway: g, cookie: cookieHeader(resp, cookie)}, nil
}

// redirectsToLogin reports a 3xx back to the landing or login page, which is
// how most routers answer wrong credentials.
func (g *HTTPGateway) redirectsToLogin(resp *http.Response) bool {
	if resp.StatusCode < 300 || resp.StatusCode >= 400 {
		return false
	}
	loc, err := resp.Location()
	if err != nil {
		return false
	}
	path := loc.Path
	if path == "" {
		path = "/"
	}
	return path == g.config.LandingPath || path == g.config.LoginPath
}

func (g *HTTPGateway) do(ctx context.Context, method, path string, form url.Values, cookie string) (*http.Response, error) {
	var body io.Reader
	if form != nil {
		body = strings.NewReader(form.Encode())
	}

	req, err := http.NewRequestWithContext(ctx, method, strings.TrimRight(g.config.BaseURL, "/")+path, body)
	if err != nil {
		return nil, err
	}
	if form != nil {
		req.Header.Set("Content-Type", "application/x-www-form-urlencoded")
	}
	if g.config.UserAgent != "" {
		req.Header.Set("User-Agent", g.config.UserAgent)
	}
	if cookie != "" {
		req.Header.Set("Cookie", cookie)
	}

	return g.client.Do(req)
}

// httpSession carries the cookie returned by a successful login.
type httpSession struct {
	gateway *HTTPGateway
	cookie  string
	closed  bool
}

func (s *httpSession) Blacklist(ctx context.Context, macAddress string) error {
	c := s.gateway.config
	return s.filter(ctx, ActionBlacklist, c.BlacklistForm, c.BlacklistNoopMarkers, macAddress)
}

func (s *httpSession) Unblacklist(ctx context.Context, macAddress string) error {
	c := s.gateway.config
	return s.filter(ctx, ActionUnblacklist, c.UnblacklistForm, c.UnblacklistNoopMarkers, macAddress)
}

func (s *httpSession) Close() error {
	s.closed = true
	s.cookie = ""
	return nil
}

func (s *httpSession) filter(ctx context.Context, action Action, fields map[string]string, noop []string, macAddress string) error {
	if s.closed {
		return fmt.Errorf("%s: router session already closed", action)
	}
	g := s.gateway
	mac := FormatMAC(macAddress, g.config.MACFormat)

	form := url.Values{}
	for k, v := range fields {
		form.Set(k, strings.ReplaceAll(v, "{mac}", mac))
	}

	resp, err := g.do(ctx, http.MethodPost, g.config.FilterPath, form, s.cookie)
	if err != nil {
		return unreachable(string(action), err)
	}
	defer resp.Body.Close()
	body, _ := io.ReadAll(io.LimitReader(resp.Body, 64<<10))

	if resp.StatusCode < 200 || resp.StatusCode >= 300 {
		return fmt.Errorf("%s %s: %w: status %d", action, mac, ErrUnreachable, resp.StatusCode)
	}

	// Noop markers win over reject markers: "not found" on removal is
	// success even when the body also carries a generic error word.
	if containsAny(body, noop) {
		g.logger.Info("router filter already in requested state",
			zap.String("action", string(action)),
			zap.String("mac", mac),
		)
		return nil
	}

	if containsAny(body, g.config.RejectMarkers) {
		return fmt.Errorf("%s %s: %w", action, mac, ErrRejected)
	}

	g.logger.Info("router filter updated",
		zap.String("action", string(action)),
		zap.String("mac", mac),
	)
	return nil
}

// cookieHeader joins the response's Set-Cookie name=value pairs, falling back
// to prev when the response sets none.
func cookieHeader(resp *http.Response, prev string) string {
	cookies := resp.Cookies()
	if len(cookies) == 0 {
		return prev
	}
	parts := make([]string, 0, len(cookies))
	for _, c := range cookies {
		parts = append(parts, c.Name+"="+c.Value)
	}
	return strings.Join(parts, "; ")
}

func containsAny(body []byte, markers []string) bool {
	if len(markers) == 0 {
		return false
	}
	lower := strings.ToLower(string(body))
	for _, m := range markers {
		if m != "" && strings.Contains(lower, strings.ToLower(m)) {
			return true
		}
	}
	return false
}
