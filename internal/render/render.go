package render

import (
	"context"
	"errors"
	"fmt"
	"strings"
	"time"

	"github.com/chromedp/chromedp"
	"github.com/price-monitor-bot/internal/config"
	"github.com/price-monitor-bot/internal/types"
	log "github.com/sirupsen/logrus"
)

// FetchFunc returns the rendered HTML of url, loaded through proxy when set
type FetchFunc func(ctx context.Context, url string, proxy *types.ProxyCandidate) (string, error)

// Renderer loads the category page in headless Chrome and extracts the minimum price
type Renderer struct {
	config    config.RenderConfig
	extractor *Extractor
	fetch     FetchFunc
}

func NewRenderer(cfg config.RenderConfig, currency string) *Renderer {
	r := &Renderer{
		config:    cfg,
		extractor: NewExtractor(cfg.PriceSelector, currency, cfg.BlockMarkers),
	}
	r.fetch = r.fetchChrome
	return r
}

// MinPrice implements the rendering collaborator: every failure becomes an absent observation
func (r *Renderer) MinPrice(ctx context.Context, url string, proxy *types.ProxyCandidate) types.Observation {
	log.Info("Opening category page")

	html, err := r.fetch(ctx, url, proxy)
	if err != nil {
		log.Errorf("Page load failed: %v", err)
		return types.PriceAbsent(fmt.Sprintf("render: %v", err))
	}

	price, err := r.extractor.MinPrice(html)
	if err != nil {
		if errors.Is(err, ErrBlocked) {
			log.Warn("Page looks like a bot-detection block")
		} else {
			log.Warnf("Price extraction failed: %v", err)
		}
		return types.PriceAbsent(err.Error())
	}

	log.Infof("Minimum price: %.2f", price)
	return types.PriceObserved(price)
}

func (r *Renderer) fetchChrome(ctx context.Context, url string, proxy *types.ProxyCandidate) (string, error) {
	opts := append(chromedp.DefaultExecAllocatorOptions[:],
		chromedp.Flag("headless", true),
		chromedp.Flag("no-sandbox", true),
		chromedp.Flag("disable-dev-shm-usage", true),
		chromedp.Flag("disable-gpu", true),
		chromedp.Flag("disable-blink-features", "AutomationControlled"),
		chromedp.Flag("log-level", "3"),
		chromedp.UserAgent(r.config.UserAgent),
		chromedp.WindowSize(r.config.WindowWidth, r.config.WindowHeight),
	)
	if r.config.ChromeExecPath != "" {
		opts = append(opts, chromedp.ExecPath(r.config.ChromeExecPath))
	}
	if proxy != nil {
		opts = append(opts, chromedp.ProxyServer(proxyServer(*proxy)))
	}

	allocCtx, cancelAlloc := chromedp.NewExecAllocator(ctx, opts...)
	defer cancelAlloc()

	tabCtx, cancelTab := chromedp.NewContext(allocCtx, chromedp.WithLogf(func(string, ...interface{}) {}))
	defer cancelTab()

	timeoutCtx, cancelTimeout := context.WithTimeout(tabCtx, time.Duration(r.config.TimeoutSeconds)*time.Second)
	defer cancelTimeout()

	var html string
	err := chromedp.Run(timeoutCtx,
		chromedp.Navigate(url),
		chromedp.Sleep(time.Duration(r.config.WaitSeconds)*time.Second), // let the listing render
		chromedp.OuterHTML("html", &html, chromedp.ByQuery),
	)
	if err != nil {
		return "", err
	}

	return html, nil
}

// proxyServer formats the candidate for Chrome's --proxy-server flag, which
// cannot carry credentials.
func proxyServer(proxy types.ProxyCandidate) string {
	address := proxy.Address
	if i := strings.LastIndex(address, "@"); i >= 0 {
		log.Warnf("Chrome cannot authenticate to proxies, dropping credentials for %s", address[i+1:])
		address = address[i+1:]
	}

	protocol := proxy.Protocol
	if protocol == "" {
		protocol = "http"
	}
	return protocol + "://" + address
}
