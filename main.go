package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"github.com/rs/zerolog/log"
)

type config struct {
	handshake    string
	remote       string
	input        string
	output       string
	headless     bool
	visitTimeout time.Duration
	linger       time.Duration
	sessionFile  string
	logLevel     string
	logPretty    bool
	urls         []string
}

func main() {
	config := parseFlags()
	initLogger(config.logLevel, config.logPretty)

	err := config.validate()
	if err != nil {
		log.Fatal().Err(err).Msg("invalid configuration")
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	err = config.extractURLs(ctx)
	if err != nil {
		log.Fatal().Err(err).Msg("failed to read visit list")
	}

	if err := run(ctx, config); err != nil {
		log.Fatal().Err(err).Msg("recorder failed")
	}
}

// parseFlags parses command line flags and returns a config
func parseFlags() config {
	var config config

	// define flags
	flag.StringVar(&config.handshake, "handshake", "", "Handshake URL (data:,xltParameters?xltPort=..&clientID=..) to configure the recorder with at start")
	flag.StringVar(&config.remote, "remote", "", "DevTools websocket URL of a running Chrome to record instead of launching one")
	flag.StringVar(&config.input, "input", "", "Path to input CSV file with URLs to visit")
	flag.StringVar(&config.output, "output", "", "Path to output CSV report of flushed requests")
	flag.BoolVar(&config.headless, "headless", true, "Run the launched Chrome headless")
	flag.DurationVar(&config.visitTimeout, "visit-timeout", 60*time.Second, "Navigation timeout per visited page")
	flag.DurationVar(&config.linger, "linger", 2*time.Second, "Time to stay on every visited page after it loaded")
	flag.StringVar(&config.sessionFile, "session-file", filepath.Join(os.TempDir(), "timer-recorder", "session.json.gz"), "File recorder state is kept in when session storage is enabled")
	flag.StringVar(&config.logLevel, "log-level", "info", "Log level (debug, info, warn, error)")
	flag.BoolVar(&config.logPretty, "log-pretty", false, "Human readable logs instead of JSON")

	flag.Parse()
	config.urls = flag.Args()
	return config
}

// validate ensures the configuration is valid
func (c *config) validate() error {
	if c.remote != "" && (c.input != "" || len(c.urls) > 0) {
		return errors.New("a visit list cannot be used with a remote browser")
	}

	if c.handshake != "" && !isHandshakeURL(c.handshake) {
		return fmt.Errorf("not a handshake URL: %s", c.handshake)
	}

	if c.visitTimeout <= 0 {
		return fmt.Errorf("visit timeout must be positive, got %s", c.visitTimeout)
	}

	if c.linger < 0 {
		return fmt.Errorf("linger must not be negative, got %s", c.linger)
	}

	return nil
}

// extractURLs populates the visit list from the input file and the
// command line
func (c *config) extractURLs(ctx context.Context) error {
	sources := []extractor{argsSource{urls: c.urls}}

	csvSource, err := NewCSVSource(c.input)
	if err != nil {
		return err
	}
	if csvSource != nil {
		sources = append(sources, csvSource)
	}

	urls, err := extractVisitURLs(ctx, sources...)
	if err != nil {
		return err
	}

	c.urls = urls
	return nil
}

// run records until ctx is done, or until the visit list has been worked
// through
func run(ctx context.Context, c config) error {
	st := newStats()
	agg := newAggregator(st)

	client := newCollectorClient(ctx, agg, st)
	defer client.Close()

	sinks := multiSink{client}
	if c.output != "" {
		csvSink, err := NewCSVSink(c.output)
		if err != nil {
			return err
		}
		sinks = append(sinks, csvSink)
	}
	agg.useSink(sinks)

	store, err := newSessionStore(c.sessionFile, st)
	if err != nil {
		return err
	}
	agg.useStore(store)

	restored, err := agg.restore(store)
	if err != nil {
		log.Warn().Err(err).Msg("failed to restore session state")
	}
	if restored {
		s := agg.Settings()
		log.Info().Str("file", c.sessionFile).Msg("restored session state")
		if s.Connect != nil {
			client.Connect(*s.Connect)
		}
	}

	persistCtx, stopPersist := context.WithCancel(context.WithoutCancel(ctx))
	persistDone := make(chan struct{})
	go func() {
		defer close(persistDone)
		agg.persistLoop(persistCtx, store, persistInterval)
	}()

	if c.handshake != "" {
		applyHandshake(c.handshake, agg, client)
	}

	onHandshake := func(rawURL string) {
		applyHandshake(rawURL, agg, client)
	}

	br, err := newBrowser(ctx, c.remote, c.headless, agg, onHandshake)
	if err != nil {
		stopPersist()
		<-persistDone
		return err
	}
	agg.useTimingSource(br)

	if err := br.watch(); err != nil {
		br.close()
		stopPersist()
		<-persistDone
		return err
	}

	if len(c.urls) > 0 {
		log.Info().Int("urls", len(c.urls)).Msg("visiting pages")
		if err := br.visit(ctx, c.urls, c.visitTimeout, c.linger); err != nil {
			log.Error().Err(err).Msg("failed to visit pages")
		}
	} else {
		log.Info().Msg("recording, press Ctrl+C to stop")
		<-ctx.Done()
	}

	// flush whatever is left before the browser goes away, unless the state
	// is kept for the next run
	if len(c.urls) > 0 || !agg.Settings().UseSessionStorage {
		agg.Shutdown()
	} else {
		agg.Close()
	}
	br.close()

	stopPersist()
	<-persistDone

	log.Info().Msg("recorder stopped")
	log.Debug().Msg("stats\n" + st.String())

	return nil
}
