// evebox-server tails Suricata EVE logs, enriches and persists events, and
// serves the query/triage HTTP API.
package main

import (
	"context"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"path/filepath"
	"strconv"
	"syscall"
	"time"

	"go.uber.org/zap"

	"github.com/evebox/evebox-go/internal/autoarchive"
	"github.com/evebox/evebox-go/internal/config"
	"github.com/evebox/evebox-go/internal/configdb"
	"github.com/evebox/evebox-go/internal/filters"
	"github.com/evebox/evebox-go/internal/geoip"
	"github.com/evebox/evebox-go/internal/httpapi"
	"github.com/evebox/evebox-go/internal/logging"
	"github.com/evebox/evebox-go/internal/retention"
	"github.com/evebox/evebox-go/internal/rules"
	"github.com/evebox/evebox-go/internal/sink"
	"github.com/evebox/evebox-go/internal/watcher"
)

const version = "1.0.0"

func main() {
	var (
		showVersion = flag.Bool("version", false, "Show version")
		configPath  = flag.String("config", "", "Path to evebox.yaml (default: none)")
		dbPath      = flag.String("db", "", "Config database path (default: <data-directory>/evebox.db)")
		debug       = flag.Bool("debug", false, "Enable debug logging")
	)

	flag.Usage = func() {
		fmt.Fprintf(os.Stderr, `evebox-server v%s - EVE event aggregation backend

Usage: evebox-server [options]

Options:
`, version)
		flag.PrintDefaults()
		fmt.Fprintf(os.Stderr, `
Environment Variables:
  EVEBOX_*                    Overrides any dotted config key, e.g. EVEBOX_HTTP_PORT

For more info: https://github.com/evebox/evebox-go
`)
	}
	flag.Parse()

	if *showVersion {
		fmt.Printf("evebox-server v%s\n", version)
		return
	}

	log, err := logging.New(*debug)
	if err != nil {
		fmt.Fprintf(os.Stderr, "Error: failed to build logger: %v\n", err)
		os.Exit(1)
	}
	defer log.Sync()

	if err := run(*configPath, *dbPath, log); err != nil {
		log.Error("fatal startup error", zap.Error(err))
		os.Exit(1)
	}
}

func run(configPath, dbPath string, log *zap.Logger) error {
	cfg, err := config.Load(configPath, nil)
	if err != nil {
		return fmt.Errorf("load config: %w", err)
	}

	if err := os.MkdirAll(cfg.DataDirectory, 0o755); err != nil {
		return fmt.Errorf("create data directory: %w", err)
	}
	if dbPath == "" {
		dbPath = filepath.Join(cfg.DataDirectory, "evebox.db")
	}

	cdb, err := configdb.Open(dbPath)
	if err != nil {
		return fmt.Errorf("open config database: %w", err)
	}
	defer cdb.Close()

	ruleMap := rules.New(log, cfg.InputRules)
	ruleMap.Start(rules.DefaultPollInterval)
	defer ruleMap.Stop()

	var geoipReader *geoip.GeoIP
	if cfg.GeoIPEnabled {
		geoipReader, err = geoip.Open(log, cfg.GeoIPDatabase)
		if err != nil {
			log.Warn("geoip disabled: failed to open database", zap.Error(err))
		} else {
			defer geoipReader.Close()
		}
	}

	archiveIndex := autoarchive.New()
	if filterRows, err := cdb.ListFilters(); err != nil {
		log.Warn("failed to load auto-archive filters", zap.Error(err))
	} else {
		entries := make([]autoarchive.Entry, 0, len(filterRows))
		for _, f := range filterRows {
			sid, err := strconv.ParseUint(f.SID, 10, 64)
			if err != nil {
				// The index always matches a concrete signature id; a
				// filter with no signature constraint can't be expressed
				// against it and is dropped rather than loaded as sid=0.
				log.Warn("skipping auto-archive filter with non-numeric signature id",
					zap.String("sid", f.SID), zap.String("sensor", f.Sensor))
				continue
			}
			entries = append(entries, autoarchive.Entry{
				Sensor: wildcardToEmpty(f.Sensor), SrcIP: wildcardToEmpty(f.SrcIP), DestIP: wildcardToEmpty(f.DestIP),
				SignatureID: sid, Comment: f.Comment,
			})
		}
		archiveIndex.Load(entries)
	}

	baseFilters := filters.NewChain(
		filters.MetadataFilter{},
		filters.GeoIPFilter{GeoIP: geoipReader},
		filters.NewRuleFilter(ruleMap, log),
		filters.AutoArchiveFilter{Index: archiveIndex},
	)

	var eventSink sink.Sink
	var sqlDB *sqliteDBHolder
	switch cfg.DatabaseType {
	case "elasticsearch":
		es, err := sink.OpenElastic(sink.ElasticConfig{
			Addresses:   []string{cfg.ElasticURL},
			Username:    cfg.ElasticUsername,
			Password:    cfg.ElasticPassword,
			IndexPrefix: cfg.ElasticIndex,
		})
		if err != nil {
			return fmt.Errorf("open elasticsearch sink: %w", err)
		}
		eventSink = es
	default:
		eventsPath := filepath.Join(cfg.DataDirectory, "events.db")
		sq, err := sink.OpenSQLite(eventsPath)
		if err != nil {
			return fmt.Errorf("open sqlite sink: %w", err)
		}
		defer sq.Close()
		eventSink = sq
		sqlDB = &sqliteDBHolder{sink: sq}
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	w := watcher.New(cfg.InputPaths, eventSink, baseFilters, log)
	w.GlobalDir = filepath.Join(cfg.DataDirectory, "bookmarks")
	w.BatchSize = cfg.ProcessorBatchSize
	if d, err := time.ParseDuration(cfg.ProcessorReportInterval); err == nil {
		w.ReportPeriod = d
	} else {
		w.ReportPeriod = 60 * time.Second
	}
	if err := os.MkdirAll(w.GlobalDir, 0o755); err != nil {
		return fmt.Errorf("create bookmark directory: %w", err)
	}
	go w.Run(ctx)

	if sqlDB != nil && cfg.RetentionPeriodDays > 0 {
		loop := &retention.Loop{
			DB:             sqlDB.sink.DB(),
			RetentionDays:  cfg.RetentionPeriodDays,
			ArchiveAgeDays: cfg.RetentionPeriodDays,
			Log:            log,
		}
		go loop.Run(ctx)
	}

	var httpServer *httpapi.Server
	if sqlDB != nil {
		httpServer = httpapi.New(&httpapi.Server{
			DB:           sqlDB.sink.DB(),
			HasFTS:       true,
			ConfigDB:     cdb,
			AuthRequired: cfg.AuthRequired,
			AuthType:     cfg.AuthType,
			Log:          log,
		})
	} else {
		log.Warn("http query API is backed only by the sqlite store; elasticsearch query routing is not wired in this build")
		httpServer = httpapi.New(&httpapi.Server{
			ConfigDB:     cdb,
			AuthRequired: cfg.AuthRequired,
			AuthType:     cfg.AuthType,
			Log:          log,
		})
	}

	addr := fmt.Sprintf("%s:%d", cfg.HTTPHost, cfg.HTTPPort)
	httpSrv := &http.Server{Addr: addr, Handler: httpServer}
	errCh := make(chan error, 1)
	go func() {
		log.Info("http server listening", zap.String("addr", addr))
		if err := httpSrv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			errCh <- err
		}
	}()

	select {
	case <-ctx.Done():
		log.Info("shutting down")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		return httpSrv.Shutdown(shutdownCtx)
	case err := <-errCh:
		return fmt.Errorf("http server: %w", err)
	case err := <-w.Fatal:
		return fmt.Errorf("pattern watcher: %w", err)
	}
}

type sqliteDBHolder struct {
	sink *sink.SQLiteSink
}

// wildcardToEmpty maps configdb's "*" wildcard convention onto autoarchive's
// own convention of an empty string meaning "no constraint on this field".
func wildcardToEmpty(s string) string {
	if s == "*" {
		return ""
	}
	return s
}
