// Package auth establishes the authenticated registry session shared by all
// crawl workers.
package auth

import (
	"bytes"
	"context"
	"fmt"
	"net/http"
	"net/http/cookiejar"
	"time"

	"github.com/antchfx/htmlquery"
	"github.com/gocolly/colly/v2"
	"go.uber.org/zap"

	"github.com/JakeFAU/registry-graph-crawler/internal/crawler"
)

// alertXPath matches the banner the registry renders on a rejected login.
const alertXPath = "//div[contains(@class, 'alert')]"

// Config controls the login request.
type Config struct {
	LoginURL    string
	Credentials map[string]string
	UserAgent   string
	Timeout     time.Duration
}

// Login submits the credential form and returns the cookie jar carrying the
// session. A visible alert on the response page means the credentials were
// rejected and yields crawler.ErrAuthentication.
func Login(ctx context.Context, cfg Config, logger *zap.Logger) (http.CookieJar, error) {
	if logger == nil {
		logger = zap.NewNop()
	}
	jar, err := cookiejar.New(nil)
	if err != nil {
		return nil, fmt.Errorf("create cookie jar: %w", err)
	}

	c := colly.NewCollector(colly.AllowURLRevisit())
	c.Context = ctx
	c.SetCookieJar(jar)
	if cfg.UserAgent != "" {
		c.UserAgent = cfg.UserAgent
	}
	if cfg.Timeout > 0 {
		c.SetRequestTimeout(cfg.Timeout)
	}

	var (
		body     []byte
		status   int
		loginErr error
	)
	c.OnResponse(func(r *colly.Response) {
		status = r.StatusCode
		body = append([]byte(nil), r.Body...)
	})
	c.OnError(func(r *colly.Response, err error) {
		if r != nil {
			status = r.StatusCode
		}
		loginErr = err
	})

	if err := c.Post(cfg.LoginURL, cfg.Credentials); err != nil {
		return nil, fmt.Errorf("login request: %w", err)
	}
	if loginErr != nil {
		return nil, fmt.Errorf("login response (status %d): %w", status, loginErr)
	}

	rejected, err := hasAlert(body)
	if err != nil {
		return nil, err
	}
	if rejected {
		return nil, crawler.ErrAuthentication
	}
	logger.Info("registry session established", zap.String("login_url", cfg.LoginURL))
	return jar, nil
}

func hasAlert(body []byte) (bool, error) {
	doc, err := htmlquery.Parse(bytes.NewReader(body))
	if err != nil {
		return false, fmt.Errorf("parse login response: %w", err)
	}
	node, err := htmlquery.Query(doc, alertXPath)
	if err != nil {
		return false, fmt.Errorf("query login alert: %w", err)
	}
	return node != nil, nil
}
