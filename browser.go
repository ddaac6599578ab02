package main

import (
	"context"
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/chromedp/cdproto/cdp"
	"github.com/chromedp/cdproto/page"
	"github.com/chromedp/cdproto/target"
	"github.com/chromedp/chromedp"
	"github.com/rs/zerolog/log"
)

var errUnknownTab = errors.New("unknown tab")

// browser drives Chrome and keeps a recorder attached to every page tab
// except the one it controls the browser through
type browser struct {
	agg         *Aggregator
	onHandshake func(rawURL string)

	browserCtx context.Context
	cancel     func()
	controlTab TabID

	mu   sync.Mutex
	tabs map[TabID]*tabRecorder
}

// newBrowser launches a local Chrome, or attaches to the one listening on
// remoteURL when it is set
func newBrowser(ctx context.Context, remoteURL string, headless bool, agg *Aggregator, onHandshake func(string)) (*browser, error) {
	var (
		allocCtx    context.Context
		cancelAlloc context.CancelFunc
	)

	if remoteURL != "" {
		allocCtx, cancelAlloc = chromedp.NewRemoteAllocator(ctx, remoteURL)
	} else {
		// setup browser options
		opts := append(chromedp.DefaultExecAllocatorOptions[:],
			chromedp.Flag("headless", headless),
			chromedp.Flag("disable-gpu", true),
			chromedp.Flag("no-sandbox", true),
		)
		allocCtx, cancelAlloc = chromedp.NewExecAllocator(ctx, opts...)
	}

	// create browser context
	browserCtx, cancelBrowser := chromedp.NewContext(allocCtx,
		chromedp.WithLogf(chromedpLogf),
		chromedp.WithErrorf(chromedpErrorf),
	)

	// start the browser with a blank control page
	if err := chromedp.Run(browserCtx, chromedp.Navigate("about:blank")); err != nil {
		cancelBrowser()
		cancelAlloc()
		return nil, fmt.Errorf("failed to start browser: %w", err)
	}

	b := &browser{
		agg:         agg,
		onHandshake: onHandshake,
		browserCtx:  browserCtx,
		cancel: func() {
			cancelBrowser()
			cancelAlloc()
		},
		controlTab: TabID(chromedp.FromContext(browserCtx).Target.TargetID),
		tabs:       map[TabID]*tabRecorder{},
	}

	return b, nil
}

// watch starts following page targets: tabs that exist or get created
// are recorded, destroyed tabs are flushed
func (b *browser) watch() error {
	chromedp.ListenBrowser(b.browserCtx, func(ev any) {
		switch ev := ev.(type) {
		case *target.EventTargetCreated:
			info := ev.TargetInfo
			if info == nil || info.Type != "page" || TabID(info.TargetID) == b.controlTab {
				return
			}
			go b.attach(TabID(info.TargetID))

		case *target.EventTargetDestroyed:
			go b.detach(TabID(ev.TargetID))
		}
	})

	err := chromedp.Run(b.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		return target.SetDiscoverTargets(true).Do(cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser))
	}))
	if err != nil {
		return fmt.Errorf("failed to discover targets: %w", err)
	}
	return nil
}

// attach starts recording the tab
func (b *browser) attach(tab TabID) {
	b.mu.Lock()
	_, known := b.tabs[tab]
	b.mu.Unlock()
	if known {
		return
	}

	tabCtx, cancel := chromedp.NewContext(b.browserCtx, chromedp.WithTargetID(target.ID(tab)))
	rec := newTabRecorder(tabCtx, cancel, tab, b.agg, b.onHandshake)
	chromedp.ListenTarget(tabCtx, rec.handleEvent)

	if err := chromedp.Run(tabCtx, rec.install()); err != nil {
		cancel()
		log.Warn().Err(err).Str("tab", string(tab)).Msg("failed to attach recorder")
		return
	}

	b.mu.Lock()
	if _, known := b.tabs[tab]; known {
		b.mu.Unlock()
		cancel()
		return
	}
	b.tabs[tab] = rec
	b.mu.Unlock()

	log.Debug().Str("tab", string(tab)).Msg("recording tab")
}

// detach flushes a closed tab and stops its recorder
func (b *browser) detach(tab TabID) {
	b.mu.Lock()
	rec, ok := b.tabs[tab]
	delete(b.tabs, tab)
	b.mu.Unlock()

	if !ok {
		return
	}

	b.agg.TabClosed(tab)
	rec.cancel()
	log.Debug().Str("tab", string(tab)).Msg("tab closed")
}

// recorder returns the recorder of tab
func (b *browser) recorder(tab TabID) (*tabRecorder, bool) {
	b.mu.Lock()
	defer b.mu.Unlock()
	rec, ok := b.tabs[tab]
	return rec, ok
}

// CurrentTimingData asks the page loaded in tab for its timing data
func (b *browser) CurrentTimingData(ctx context.Context, tab TabID) (TimingSnapshot, error) {
	rec, ok := b.recorder(tab)
	if !ok {
		return TimingSnapshot{}, fmt.Errorf("%w: %s", errUnknownTab, tab)
	}
	return rec.currentTimingData(ctx)
}

// visit opens a new tab and navigates it through urls, one after the
// other, waiting linger after every page. The tab is closed at the end so
// its data gets flushed.
func (b *browser) visit(ctx context.Context, urls []string, timeout, linger time.Duration) error {
	var tab TabID
	err := chromedp.Run(b.browserCtx, chromedp.ActionFunc(func(ctx context.Context) error {
		id, err := target.CreateTarget("about:blank").Do(cdp.WithExecutor(ctx, chromedp.FromContext(ctx).Browser))
		tab = TabID(id)
		return err
	}))
	if err != nil {
		return fmt.Errorf("failed to open tab: %w", err)
	}

	waitCtx, cancelWait := context.WithTimeout(ctx, timeout)
	attached := waitUntil(waitCtx, 50*time.Millisecond, func() bool {
		_, ok := b.recorder(tab)
		return ok
	})
	cancelWait()
	if !attached {
		return fmt.Errorf("failed to attach recorder to tab %s", tab)
	}

	rec, _ := b.recorder(tab)
	spinner := NewSpinner()

	for i, url := range urls {
		if ctx.Err() != nil {
			break
		}

		spinner.Start(fmt.Sprintf("[%d/%d] %s", i+1, len(urls), url))
		err := visitPage(ctx, rec, url, timeout, linger)
		spinner.Stop()

		if err != nil {
			log.Warn().Err(err).Str("url", url).Msg("failed to visit page")
		}
	}

	// leave the last page so it reports its final timings, then close
	closeCtx, cancelClose := context.WithTimeout(context.WithoutCancel(ctx), timeout)
	defer cancelClose()
	if err := visitPage(closeCtx, rec, "about:blank", timeout, 0); err != nil {
		log.Debug().Err(err).Msg("failed to leave last page")
	}
	if err := chromedp.Run(rec.ctx, page.Close()); err != nil {
		return fmt.Errorf("failed to close tab: %w", err)
	}

	waitUntil(closeCtx, 50*time.Millisecond, func() bool {
		_, ok := b.recorder(tab)
		return !ok
	})
	return nil
}

// visitPage navigates the recorded tab to url and lingers there
func visitPage(ctx context.Context, rec *tabRecorder, url string, timeout, linger time.Duration) error {
	// set context timeout
	navCtx, cancel := context.WithTimeout(rec.ctx, timeout)
	defer cancel()
	stop := context.AfterFunc(ctx, cancel)
	defer stop()

	// navigate browser to url
	if err := chromedp.Run(navCtx, chromedp.Navigate(url)); err != nil {
		return fmt.Errorf("failed to navigate: %w", err)
	}

	select {
	case <-ctx.Done():
	case <-time.After(linger):
	}
	return nil
}

// close stops every recorder and shuts the browser down
func (b *browser) close() {
	b.mu.Lock()
	tabs := b.tabs
	b.tabs = map[TabID]*tabRecorder{}
	b.mu.Unlock()

	for _, rec := range tabs {
		rec.cancel()
	}
	b.cancel()
}
