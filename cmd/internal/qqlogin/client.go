package qqlogin

import (
	"context"
	"errors"
	"fmt"
	"io"
	"log/slog"
	"net/http"
	"net/http/cookiejar"
	"net/url"
	"regexp"
	"strconv"
	"strings"
	"time"
)

const (
	defaultXLoginURL = "https://xui.ptlogin2.qq.com/cgi-bin/xlogin"
	defaultQRShowURL = "https://ssl.ptlogin2.qq.com/ptqrshow"
	defaultQRPollURL = "https://ssl.ptlogin2.qq.com/ptqrlogin"

	loginAppID  = "715030901"
	loginDAID   = "73"
	loginU1     = "https://qun.qq.com/member.html"
	loginJSVer  = "24051615"
	loginRefer  = "https://qun.qq.com/member.html"
	browserUA   = "Mozilla/5.0 (Windows NT 10.0; Win64; x64) AppleWebKit/537.36 (KHTML, like Gecko) Chrome/121.0.0.0 Safari/537.36"
	maxBodySize = 1 << 20

	defaultHTTPTimeout = 15 * time.Second
)

// ErrUnavailable is returned by StartChallenge when the login endpoints
// cannot be reached or return an unusable response.
var ErrUnavailable = errors.New("qq login endpoint unavailable")

// Challenge is one in-flight QR login attempt. The embedded HTTP client owns
// the cookie jar for the attempt; cookies accumulated during polling (skey,
// uin, ...) are what make the final uin extraction possible.
type Challenge struct {
	// QRPNG is the QR code image to present to the user.
	QRPNG []byte

	qrsig     string
	ptqrtoken string
	hc        *http.Client
}

// Client is the production Provider implementation scraping the ptlogin2
// endpoints.
type Client struct {
	log *slog.Logger

	xloginURL string
	qrShowURL string
	qrPollURL string

	timeout time.Duration
}

// ClientOption configures a Client.
type ClientOption func(*Client)

// WithEndpoints overrides the login endpoints (tests).
func WithEndpoints(xlogin, qrShow, qrPoll string) ClientOption {
	return func(c *Client) {
		c.xloginURL = xlogin
		c.qrShowURL = qrShow
		c.qrPollURL = qrPoll
	}
}

// WithTimeout sets the per-request HTTP timeout.
func WithTimeout(d time.Duration) ClientOption {
	return func(c *Client) {
		if d > 0 {
			c.timeout = d
		}
	}
}

// NewClient constructs a Client.
func NewClient(log *slog.Logger, opts ...ClientOption) *Client {
	if log == nil {
		log = slog.Default()
	}
	c := &Client{
		log:       log,
		xloginURL: defaultXLoginURL,
		qrShowURL: defaultQRShowURL,
		qrPollURL: defaultQRPollURL,
		timeout:   defaultHTTPTimeout,
	}
	for _, opt := range opts {
		if opt != nil {
			opt(c)
		}
	}
	return c
}

// StartChallenge primes a login session (pt_login_sig cookie), fetches the QR
// image, and captures the qrsig cookie the poll token is derived from.
func (c *Client) StartChallenge(ctx context.Context) (*Challenge, error) {
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, err
	}
	hc := &http.Client{Jar: jar, Timeout: c.timeout}

	xlogin := c.xloginURL + "?" + url.Values{
		"appid":      {loginAppID},
		"daid":       {loginDAID},
		"s":          {"8"},
		"pt_3rd_aid": {"0"},
	}.Encode()
	if _, err := c.get(ctx, hc, xlogin); err != nil {
		return nil, fmt.Errorf("%w: xlogin: %v", ErrUnavailable, err)
	}

	show := c.qrShowURL + "?" + url.Values{
		"appid":      {loginAppID},
		"e":          {"2"},
		"l":          {"M"},
		"s":          {"3"},
		"d":          {"72"},
		"v":          {"4"},
		"t":          {strconv.FormatInt(time.Now().UnixNano(), 10)},
		"daid":       {loginDAID},
		"pt_3rd_aid": {"0"},
	}.Encode()
	png, err := c.get(ctx, hc, show)
	if err != nil {
		return nil, fmt.Errorf("%w: ptqrshow: %v", ErrUnavailable, err)
	}

	qrsig := cookieValue(hc, c.qrShowURL, "qrsig")
	if qrsig == "" {
		return nil, fmt.Errorf("%w: qrsig cookie missing", ErrUnavailable)
	}

	return &Challenge{
		QRPNG:     png,
		qrsig:     qrsig,
		ptqrtoken: hash33(qrsig),
		hc:        hc,
	}, nil
}

// Poll asks ptqrlogin for the challenge state and maps the ptuiCB response
// onto an Outcome. On success it follows the check_sig redirect so the login
// cookies (skey, uin) land in the jar, then extracts the QQ number.
func (c *Client) Poll(ctx context.Context, ch *Challenge) Outcome {
	if ch == nil || ch.hc == nil {
		return Outcome{State: StateFailed, Reason: "invalid challenge handle"}
	}

	params := url.Values{
		"u1":         {loginU1},
		"ptqrtoken":  {ch.ptqrtoken},
		"ptredirect": {"0"},
		"h":          {"1"},
		"t":          {"1"},
		"g":          {"1"},
		"from_ui":    {"1"},
		"ptlang":     {"2052"},
		"action":     {"0-0-" + strconv.FormatInt(time.Now().UnixMilli(), 10)},
		"js_ver":     {loginJSVer},
		"js_type":    {"1"},
		"pt_uistyle": {"40"},
		"aid":        {loginAppID},
		"daid":       {loginDAID},
		"pt_3rd_aid": {"0"},
	}
	if sig := cookieValue(ch.hc, c.xloginURL, "pt_login_sig"); sig != "" {
		params.Set("login_sig", sig)
	}

	body, err := c.get(ctx, ch.hc, c.qrPollURL+"?"+params.Encode())
	if err != nil {
		c.log.Warn("qqlogin.poll.fail", "err", err)
		return Outcome{State: StateFailed, Reason: "poll request failed"}
	}

	reply := parsePollReply(string(body))
	switch reply.state {
	case StateSucceeded:
		uin, err := c.completeLogin(ctx, ch, reply.redirect)
		if err != nil {
			c.log.Warn("qqlogin.complete.fail", "err", err)
			return Outcome{State: StateFailed, Reason: "login completion failed"}
		}
		return Outcome{State: StateSucceeded, UIN: uin}
	default:
		return Outcome{State: reply.state, Reason: reply.reason}
	}
}

// completeLogin follows the check_sig redirect and pulls the uin cookie out
// of the jar.
func (c *Client) completeLogin(ctx context.Context, ch *Challenge, redirect string) (string, error) {
	if redirect == "" {
		return "", errors.New("success reply without redirect url")
	}
	if _, err := c.get(ctx, ch.hc, redirect); err != nil {
		return "", err
	}

	for _, base := range []string{redirect, c.qrPollURL, "https://qun.qq.com/"} {
		for _, name := range []string{"uin", "p_uin"} {
			if v := cookieValue(ch.hc, base, name); v != "" {
				if uin := normalizeUIN(v); uin != "" {
					return uin, nil
				}
			}
		}
	}
	return "", errors.New("uin cookie missing after login")
}

func (c *Client) get(ctx context.Context, hc *http.Client, rawURL string) ([]byte, error) {
	req, err := http.NewRequestWithContext(ctx, http.MethodGet, rawURL, nil)
	if err != nil {
		return nil, err
	}
	req.Header.Set("User-Agent", browserUA)
	req.Header.Set("Referer", loginRefer)
	req.Header.Set("Accept", "application/json, text/plain, */*")

	resp, err := hc.Do(req)
	if err != nil {
		return nil, err
	}
	defer func() { _ = resp.Body.Close() }()

	if resp.StatusCode != http.StatusOK {
		return nil, fmt.Errorf("unexpected status %d", resp.StatusCode)
	}
	return io.ReadAll(io.LimitReader(resp.Body, maxBodySize))
}

var (
	ptuiCodeRE     = regexp.MustCompile(`ptuiCB\('(\d+)'`)
	ptuiRedirectRE = regexp.MustCompile(`ptuiCB\('0','0','([^']+)','0'`)
)

type pollReply struct {
	state    State
	redirect string
	reason   string
}

// parsePollReply maps a raw ptuiCB body onto a reduced state.
//
// Observed codes: 0 login ok, 65 scanned awaiting confirm, 66/67 waiting for
// scan, 10006/10009 QR expired. Codes we have never seen are treated as
// still-pending so the caller's overall deadline decides when to give up.
func parsePollReply(body string) pollReply {
	m := ptuiCodeRE.FindStringSubmatch(body)
	if m == nil {
		return pollReply{state: StatePending}
	}

	switch m[1] {
	case "0":
		r := pollReply{state: StateSucceeded}
		if rm := ptuiRedirectRE.FindStringSubmatch(body); rm != nil {
			r.redirect = rm[1]
		}
		return r
	case "65":
		return pollReply{state: StateScanned}
	case "66", "67":
		return pollReply{state: StatePending}
	case "10006", "10009":
		return pollReply{state: StateExpired}
	default:
		return pollReply{state: StatePending}
	}
}

// hash33 is the qrsig -> ptqrtoken digest used by ptlogin2.
func hash33(s string) string {
	var h int64
	for _, r := range s {
		h += (h << 5) + int64(r)
	}
	return strconv.FormatInt(h&0x7fffffff, 10)
}

// normalizeUIN strips the "o" prefix and leading zeros the uin cookie carries.
func normalizeUIN(v string) string {
	v = strings.TrimSpace(v)
	v = strings.TrimPrefix(v, "o")
	v = strings.TrimLeft(v, "0")
	for _, r := range v {
		if r < '0' || r > '9' {
			return ""
		}
	}
	return v
}

func cookieValue(hc *http.Client, rawURL, name string) string {
	if hc == nil || hc.Jar == nil {
		return ""
	}
	u, err := url.Parse(rawURL)
	if err != nil {
		return ""
	}
	for _, ck := range hc.Jar.Cookies(u) {
		if ck.Name == name {
			return ck.Value
		}
	}
	return ""
}
