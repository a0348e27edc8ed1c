package main

import (
	"context"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/robfig/cron/v3"

	"taskcal/internal/config"
	"taskcal/internal/feed"
	appLog "taskcal/internal/log"
	"taskcal/internal/store"
	"taskcal/internal/web"
)

// flagConfig holds CLI flag values.
type flagConfig struct {
	configPath string
	listen     string
	feedToken  string
	logLevel   string
}

func main() {
	appLog.Info("taskcal starting", "version", "0.1.0")

	flags := parseFlags()
	appLog.SetLevel(appLog.ParseLevel(flags.logLevel))

	conf, err := config.Load(flags.configPath)
	if err != nil {
		appLog.Error("failed to load config", err, "config_path", flags.configPath)
		os.Exit(1)
	}

	// CLI --listen overrides config file listen if provided.
	if flags.listen != "" {
		conf.Listen = flags.listen
	}

	loc, err := time.LoadLocation(conf.Timezone)
	if err != nil {
		appLog.Error("invalid timezone in config; falling back to local", err, "timezone", conf.Timezone)
		loc = time.Local
	}

	st, err := store.Open(conf.DataPath, loc)
	if err != nil {
		appLog.Error("failed to open dataset", err, "data_path", conf.DataPath)
		os.Exit(1)
	}

	// One-shot mode: render a single subscriber's feed to stdout and exit.
	if flags.feedToken != "" {
		if err := renderOnce(st, conf, loc, flags.feedToken); err != nil {
			appLog.Error("one-shot render failed", err)
			os.Exit(1)
		}
		return
	}

	appLog.Info("effective config",
		"listen", conf.Listen,
		"timezone", conf.Timezone,
		"product_id", conf.ProductID,
		"data_path", conf.DataPath,
		"refresh", conf.RefreshCron,
	)

	// Root context with cancellation on SIGINT/SIGTERM.
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		sig := <-sigCh
		appLog.Info("signal received, shutting down", "signal", sig.String())
		cancel()
	}()

	srv := web.NewServer(conf, st, loc)

	// Periodic dataset reload + feed-cache purge.
	c := cron.New()
	if _, err := c.AddFunc(conf.RefreshCron, func() {
		if err := st.Reload(); err != nil {
			appLog.Error("scheduled dataset reload failed", err, "data_path", conf.DataPath)
			return
		}
		srv.PurgeFeedCache()
		appLog.Info("scheduled refresh completed")
	}); err != nil {
		appLog.Error("invalid refresh cron expression", err, "refresh", conf.RefreshCron)
		os.Exit(1)
	}
	c.Start()
	defer c.Stop()

	httpSrv := &http.Server{
		Addr:    conf.Listen,
		Handler: srv.Handler(),
	}

	go func() {
		appLog.Info("starting HTTP server", "listen", "http://"+conf.Listen)
		if err := httpSrv.ListenAndServe(); err != nil && !errors.Is(err, http.ErrServerClosed) {
			appLog.Error("HTTP server failed", err)
			cancel()
		}
	}()

	<-ctx.Done()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		appLog.Error("HTTP server shutdown failed", err)
	}

	appLog.Info("taskcal exiting")
}

// renderOnce generates one feed and writes it to stdout, mirroring what the
// feed endpoint would serve. Useful for debugging a subscriber's feed.
func renderOnce(st *store.Store, conf *config.Config, loc *time.Location, token string) error {
	sub, ok := st.SubscriberByToken(token)
	if !ok {
		return fmt.Errorf("no subscriber with token %q", token)
	}

	now := time.Now().In(loc)
	visible := feed.SelectTaskDefinitions(st.EntriesFor(sub), sub, now)

	body, err := feed.Render(visible, sub, feed.Options{
		ProductID:    conf.ProductID,
		CalendarName: conf.CalendarName,
	})
	if err != nil {
		return err
	}

	_, err = fmt.Print(body)
	return err
}

func parseFlags() flagConfig {
	var cfg flagConfig

	flag.StringVar(&cfg.configPath, "config", "/etc/taskcal/config.yaml", "Path to config file")
	flag.StringVar(&cfg.listen, "listen", "", "HTTP listen address (overrides config if set)")
	flag.StringVar(&cfg.feedToken, "feed", "", "Render the feed for the given access token to stdout and exit")
	flag.StringVar(&cfg.logLevel, "log-level", "INFO", "Log level (DEBUG, INFO, ERROR)")

	flag.Parse()

	return cfg
}
