// Package mediawiki is a small client for the MediaWiki action API: login,
// page reads and conflict-checked edits.
package mediawiki

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"strconv"
	"sync"
	"time"
	"unicode/utf8"

	"github.com/go-resty/resty/v2"
	"go.uber.org/zap"
)

var ErrLoginFailed = errors.New("wiki login failed")

type Config struct {
	APIURL    string // e.g. https://wiki.example.org/api.php
	Username  string // bot password user, empty for anonymous edits
	Password  string
	UserAgent string
	Timeout   time.Duration
}

// APIError is an error object returned by the action API.
type APIError struct {
	Code string `json:"code"`
	Info string `json:"info"`
}

func (e *APIError) Error() string {
	return fmt.Sprintf("mediawiki: %s: %s", e.Code, e.Info)
}

// HTTPError is a non-2xx answer from the wiki web server.
type HTTPError struct {
	Status int
	Body   string
}

func (e *HTTPError) Error() string {
	return fmt.Sprintf("mediawiki: http status %d: %s", e.Status, e.Body)
}

type Page struct {
	Title      string
	Exists     bool
	RevisionID int64
	Timestamp  string // revision timestamp, used as basetimestamp
	Content    string
}

type EditRequest struct {
	Title         string
	Text          string
	Summary       string
	BaseRevID     int64
	BaseTimestamp string
	CreateOnly    bool
	NoCreate      bool
}

type EditResult struct {
	Title    string
	OldRevID int64
	NewRevID int64
	NoChange bool
}

type Client struct {
	http   *resty.Client
	cfg    Config
	logger *zap.Logger

	mu       sync.Mutex
	csrf     string
	loggedIn bool
}

func New(cfg Config, logger *zap.Logger) *Client {
	client := resty.New().
		SetBaseURL(cfg.APIURL).
		SetTimeout(cfg.Timeout).
		SetHeader("User-Agent", cfg.UserAgent).
		SetHeader("Accept", "application/json")

	return &Client{
		http:   client,
		cfg:    cfg,
		logger: logger,
	}
}

type envelope struct {
	Error *APIError `json:"error"`
}

// call performs one API request and decodes the JSON answer into out.
func (c *Client) call(ctx context.Context, post bool, params map[string]string, out any) error {
	params["format"] = "json"
	params["formatversion"] = "2"

	req := c.http.R().SetContext(ctx)
	var (
		resp *resty.Response
		err  error
	)
	if post {
		resp, err = req.SetFormData(params).Post("")
	} else {
		resp, err = req.SetQueryParams(params).Get("")
	}
	if err != nil {
		return fmt.Errorf("mediawiki %s request failed: %w", params["action"], err)
	}
	if resp.IsError() {
		return &HTTPError{Status: resp.StatusCode(), Body: truncate(resp.String(), 300)}
	}

	var env envelope
	if err := json.Unmarshal(resp.Body(), &env); err != nil {
		return fmt.Errorf("failed to decode mediawiki response: %w", err)
	}
	if env.Error != nil {
		return env.Error
	}

	if out != nil {
		if err := json.Unmarshal(resp.Body(), out); err != nil {
			return fmt.Errorf("failed to decode mediawiki response: %w", err)
		}
	}
	return nil
}

func (c *Client) token(ctx context.Context, kind string) (string, error) {
	var out struct {
		Query struct {
			Tokens map[string]string `json:"tokens"`
		} `json:"query"`
	}
	err := c.call(ctx, false, map[string]string{
		"action": "query",
		"meta":   "tokens",
		"type":   kind,
	}, &out)
	if err != nil {
		return "", err
	}

	token := out.Query.Tokens[kind+"token"]
	if token == "" {
		return "", fmt.Errorf("mediawiki returned no %s token", kind)
	}
	return token, nil
}

// Login signs in with a bot password. Without a username the client edits
// anonymously.
func (c *Client) Login(ctx context.Context) error {
	c.mu.Lock()
	defer c.mu.Unlock()
	return c.loginLocked(ctx)
}

func (c *Client) loginLocked(ctx context.Context) error {
	c.csrf = ""
	if c.cfg.Username == "" {
		return nil
	}

	loginToken, err := c.token(ctx, "login")
	if err != nil {
		return fmt.Errorf("failed to get login token: %w", err)
	}

	var out struct {
		Login struct {
			Result string `json:"result"`
			Reason string `json:"reason"`
		} `json:"login"`
	}
	err = c.call(ctx, true, map[string]string{
		"action":     "login",
		"lgname":     c.cfg.Username,
		"lgpassword": c.cfg.Password,
		"lgtoken":    loginToken,
	}, &out)
	if err != nil {
		return fmt.Errorf("failed to log in: %w", err)
	}
	if out.Login.Result != "Success" {
		return fmt.Errorf("%w: %s %s", ErrLoginFailed, out.Login.Result, out.Login.Reason)
	}

	c.loggedIn = true
	c.logger.Info("Logged in to MediaWiki", zap.String("user", c.cfg.Username))
	return nil
}

func (c *Client) csrfToken(ctx context.Context, refresh bool) (string, error) {
	c.mu.Lock()
	defer c.mu.Unlock()

	if refresh {
		if err := c.loginLocked(ctx); err != nil {
			return "", err
		}
	} else if !c.loggedIn && c.cfg.Username != "" {
		if err := c.loginLocked(ctx); err != nil {
			return "", err
		}
	}

	if c.csrf == "" {
		token, err := c.token(ctx, "csrf")
		if err != nil {
			return "", fmt.Errorf("failed to get csrf token: %w", err)
		}
		c.csrf = token
	}
	return c.csrf, nil
}

// ReadPage returns the latest revision of title. A missing page is returned
// with Exists == false, not as an error.
func (c *Client) ReadPage(ctx context.Context, title string) (*Page, error) {
	var out struct {
		Query struct {
			Pages []struct {
				Title     string `json:"title"`
				Missing   bool   `json:"missing"`
				Invalid   bool   `json:"invalid"`
				Reason    string `json:"invalidreason"`
				Revisions []struct {
					RevID     int64  `json:"revid"`
					Timestamp string `json:"timestamp"`
					Slots     struct {
						Main struct {
							Content string `json:"content"`
						} `json:"main"`
					} `json:"slots"`
				} `json:"revisions"`
			} `json:"pages"`
		} `json:"query"`
	}

	err := c.call(ctx, false, map[string]string{
		"action":  "query",
		"prop":    "revisions",
		"titles":  title,
		"rvprop":  "ids|timestamp|content",
		"rvslots": "main",
	}, &out)
	if err != nil {
		return nil, err
	}

	if len(out.Query.Pages) == 0 {
		return nil, fmt.Errorf("mediawiki returned no page for %q", title)
	}
	p := out.Query.Pages[0]
	if p.Invalid {
		return nil, &APIError{Code: "invalidtitle", Info: p.Reason}
	}

	page := &Page{Title: p.Title}
	if p.Missing || len(p.Revisions) == 0 {
		return page, nil
	}

	rev := p.Revisions[0]
	page.Exists = true
	page.RevisionID = rev.RevID
	page.Timestamp = rev.Timestamp
	page.Content = rev.Slots.Main.Content
	return page, nil
}

// Edit writes a full page text. A stale or rejected token is refreshed and
// the edit retried once.
func (c *Client) Edit(ctx context.Context, req EditRequest) (*EditResult, error) {
	params := map[string]string{
		"action":  "edit",
		"title":   req.Title,
		"text":    req.Text,
		"summary": req.Summary,
	}
	if req.BaseRevID > 0 {
		params["baserevid"] = strconv.FormatInt(req.BaseRevID, 10)
	}
	if req.BaseTimestamp != "" {
		params["basetimestamp"] = req.BaseTimestamp
	}
	if req.CreateOnly {
		params["createonly"] = "1"
	}
	if req.NoCreate {
		params["nocreate"] = "1"
	}
	if c.cfg.Username != "" {
		params["assert"] = "user"
		params["bot"] = "1"
	}

	var out struct {
		Edit struct {
			Result   string `json:"result"`
			Title    string `json:"title"`
			OldRevID int64  `json:"oldrevid"`
			NewRevID int64  `json:"newrevid"`
			NoChange bool   `json:"nochange"`
		} `json:"edit"`
	}

	for attempt := 0; ; attempt++ {
		token, err := c.csrfToken(ctx, attempt > 0)
		if err != nil {
			return nil, err
		}
		params["token"] = token

		err = c.call(ctx, true, params, &out)
		var apiErr *APIError
		if attempt == 0 && errors.As(err, &apiErr) && (apiErr.Code == "badtoken" || apiErr.Code == "assertuserfailed") {
			c.logger.Info("MediaWiki session expired, logging in again", zap.String("code", apiErr.Code))
			continue
		}
		if err != nil {
			return nil, err
		}
		break
	}

	if out.Edit.Result != "Success" {
		return nil, &APIError{Code: "editfailure", Info: out.Edit.Result}
	}

	return &EditResult{
		Title:    out.Edit.Title,
		OldRevID: out.Edit.OldRevID,
		NewRevID: out.Edit.NewRevID,
		NoChange: out.Edit.NoChange,
	}, nil
}

// truncate cuts s to at most n runes.
func truncate(s string, n int) string {
	if utf8.RuneCountInString(s) <= n {
		return s
	}
	return string([]rune(s)[:n])
}
