// Command tracksync replicates Runn and Clockify workspaces into a local
// analytical store, either as a one-shot run or as a small HTTP trigger
// service.
package main

import (
	"bytes"
	"context"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net/http"
	"net/url"
	"os"
	"os/signal"
	"strconv"
	"strings"
	"sync"
	"syscall"
	"time"

	tracksync "github.com/ajzo90/go-tracksync"
	"github.com/ajzo90/go-tracksync/integrations/clockify"
	"github.com/ajzo90/go-tracksync/integrations/runn"
	"github.com/ajzo90/go-tracksync/store"
	"github.com/ajzo90/go-tracksync/store/postgres"
	"github.com/ajzo90/go-tracksync/store/sqlite"
	"github.com/klauspost/compress/gzhttp"
	"gopkg.in/yaml.v3"
)

type appConfig struct {
	DB       string          `json:"db"`
	Runn     runn.Config     `json:"runn"`
	Clockify clockify.Config `json:"clockify"`
}

type namedSyncer struct {
	name string
	*tracksync.Syncer
}

func main() {
	var (
		configPath  = flag.String("config", "config.json", "JSON config file")
		catalogPath = flag.String("catalog", "", "YAML collection catalog, keyed by source")
		dsn         = flag.String("db", "", "store DSN, overrides config (postgres:// URL or sqlite file path)")
		mode        = flag.String("mode", tracksync.ModeDelta, "delta or full")
		only        = flag.String("only", "", "comma-separated collection names")
		deltaDays   = flag.Int("delta-days", 0, "delta window in days, 0 for default")
		overlapDays = flag.Int("overlap-days", 0, "checkpoint overlap in days, 0 for default")
		rangeFrom   = flag.String("range-from", "", "explicit range start (YYYY-MM-DD)")
		rangeTo     = flag.String("range-to", "", "explicit range end (YYYY-MM-DD)")
		personID    = flag.String("person-id", "", "narrow date-window collections to one person")
		serve       = flag.Bool("serve", false, "run the HTTP trigger service instead of one sync")
		addr        = flag.String("addr", ":8080", "listen address for -serve")
		truncate    = flag.String("truncate", "", "empty a target table and exit")
		drop        = flag.String("drop", "", "drop a target table and exit")
		dedupe      = flag.String("dedupe", "", "table:column:orderBy, remove duplicate rows and exit")
	)
	flag.Parse()

	cfg, err := loadConfig(*configPath)
	if err != nil {
		log.Fatal(err)
	}
	if *dsn != "" {
		cfg.DB = *dsn
	}

	st, err := openStore(cfg.DB)
	if err != nil {
		log.Fatal(err)
	}
	defer st.Close()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if *truncate != "" || *drop != "" || *dedupe != "" {
		if err := maintain(ctx, st, *truncate, *drop, *dedupe); err != nil {
			log.Fatal(err)
		}
		return
	}

	syncers, err := buildSyncers(cfg, st, *catalogPath)
	if err != nil {
		log.Fatal(err)
	}

	if *serve {
		if err := serveHTTP(ctx, *addr, syncers); err != nil {
			log.Fatal(err)
		}
		return
	}

	opts := tracksync.Options{
		Mode:        *mode,
		DeltaDays:   *deltaDays,
		OverlapDays: *overlapDays,
		RangeFrom:   *rangeFrom,
		RangeTo:     *rangeTo,
		PersonID:    *personID,
	}
	if *only != "" {
		opts.Only = strings.Split(*only, ",")
	}
	reports, ok := runAll(ctx, syncers, opts)
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	_ = enc.Encode(reports)
	if !ok {
		os.Exit(1)
	}
}

func loadConfig(path string) (appConfig, error) {
	var cfg appConfig
	b, err := os.ReadFile(path)
	if err != nil {
		return cfg, fmt.Errorf("config: %w", err)
	}
	if err := json.Unmarshal(b, &cfg); err != nil {
		return cfg, fmt.Errorf("config %s: %w", path, err)
	}
	return cfg, nil
}

func maintain(ctx context.Context, st *store.DB, truncate, drop, dedupe string) error {
	if truncate != "" {
		if err := st.Truncate(ctx, truncate); err != nil {
			return err
		}
		log.Printf("truncated %s", truncate)
	}
	if drop != "" {
		if err := st.Drop(ctx, drop); err != nil {
			return err
		}
		log.Printf("dropped %s", drop)
	}
	if dedupe != "" {
		parts := strings.Split(dedupe, ":")
		if len(parts) != 3 {
			return fmt.Errorf("dedupe: want table:column:orderBy, got %q", dedupe)
		}
		n, err := st.DedupeByColumn(ctx, parts[0], parts[1], parts[2])
		if err != nil {
			return err
		}
		log.Printf("deduped %s on %s: %d rows removed", parts[0], parts[1], n)
	}
	return nil
}

func openStore(dsn string) (*store.DB, error) {
	if dsn == "" {
		dsn = "tracksync.db"
	}
	if strings.HasPrefix(dsn, "postgres://") || strings.HasPrefix(dsn, "postgresql://") {
		return postgres.Open(dsn)
	}
	return sqlite.Open(dsn)
}

func buildSyncers(cfg appConfig, st *store.DB, catalogPath string) ([]namedSyncer, error) {
	catalog := map[string]yaml.Node{}
	if catalogPath != "" {
		b, err := os.ReadFile(catalogPath)
		if err != nil {
			return nil, fmt.Errorf("catalog: %w", err)
		}
		if err := yaml.Unmarshal(b, &catalog); err != nil {
			return nil, fmt.Errorf("catalog %s: %w", catalogPath, err)
		}
	}

	if cfg.Runn.Token == "" {
		return nil, fmt.Errorf("config: runn.token is required")
	}
	runnClient := runn.NewClient(cfg.Runn)
	runnSrc := runn.Source(cfg.Runn)

	syncers := []namedSyncer{{"runn", &tracksync.Syncer{
		Source: runnSrc,
		Client: runnClient,
		Store:  st,
	}}}

	if cfg.Clockify.APIKey != "" && cfg.Clockify.WorkspaceID != "" {
		syncers = append(syncers, namedSyncer{"clockify", &tracksync.Syncer{
			Source: clockify.Source(cfg.Clockify),
			Client: clockify.NewClient(cfg.Clockify),
			Store:  st,
			Roster: runn.Roster(runnClient, runnSrc),
		}})
	}

	for _, ns := range syncers {
		if node, ok := catalog[ns.name]; ok {
			b, err := yaml.Marshal(&node)
			if err != nil {
				return nil, fmt.Errorf("catalog %s: %w", ns.name, err)
			}
			if err := ns.Source.ApplyCatalog(bytes.NewReader(b)); err != nil {
				return nil, fmt.Errorf("catalog %s: %w", ns.name, err)
			}
		}
		if err := ns.Source.Validate(); err != nil {
			return nil, fmt.Errorf("source %s: %w", ns.name, err)
		}
	}
	return syncers, nil
}

// runReport is one source's outcome in the run response.
type runReport struct {
	tracksync.Summary
	Error string `json:"error,omitempty"`
}

func runAll(ctx context.Context, syncers []namedSyncer, opts tracksync.Options) (map[string]runReport, bool) {
	ok := true
	out := map[string]runReport{}
	for _, ns := range syncers {
		start := time.Now()
		sum, err := ns.Run(ctx, opts)
		rep := runReport{Summary: sum}
		if err != nil {
			rep.Error = err.Error()
			ok = false
		} else if !sum.OK {
			ok = false
		}
		log.Printf("[%s] run finished in %s: %d rows, ok=%v", ns.name, time.Since(start).Round(time.Millisecond), sum.Total, err == nil && sum.OK)
		out[ns.name] = rep
		if ctx.Err() != nil {
			break
		}
	}
	return out, ok
}

func serveHTTP(ctx context.Context, addr string, syncers []namedSyncer) error {
	var running sync.Mutex

	mux := http.NewServeMux()
	mux.HandleFunc("/healthz", func(w http.ResponseWriter, r *http.Request) {
		w.Write([]byte("ok"))
	})
	mux.HandleFunc("/spec", func(w http.ResponseWriter, r *http.Request) {
		specs := map[string]interface{}{}
		for _, ns := range syncers {
			specs[ns.name] = ns.Source.Spec()
		}
		writeJSON(w, http.StatusOK, specs)
	})
	mux.HandleFunc("/run", func(w http.ResponseWriter, r *http.Request) {
		var opts tracksync.Options
		switch r.Method {
		case http.MethodGet:
			opts = optionsFromQuery(r.URL.Query())
		case http.MethodPost:
			if err := json.NewDecoder(r.Body).Decode(&opts); err != nil && !errors.Is(err, io.EOF) {
				http.Error(w, err.Error(), http.StatusBadRequest)
				return
			}
		default:
			http.Error(w, "GET or POST", http.StatusMethodNotAllowed)
			return
		}
		if err := opts.Validate(); err != nil {
			http.Error(w, err.Error(), http.StatusBadRequest)
			return
		}
		// one sync at a time, concurrent triggers bounce
		if !running.TryLock() {
			http.Error(w, "sync already running", http.StatusConflict)
			return
		}
		defer running.Unlock()

		reports, ok := runAll(r.Context(), syncers, opts)
		status := http.StatusOK
		if !ok {
			status = http.StatusInternalServerError
		}
		writeJSON(w, status, reports)
	})

	srv := &http.Server{Addr: addr, Handler: gzhttp.GzipHandler(mux)}
	go func() {
		<-ctx.Done()
		shutCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		_ = srv.Shutdown(shutCtx)
	}()
	log.Printf("listening on %s", addr)
	if err := srv.ListenAndServe(); err != nil && err != http.ErrServerClosed {
		return err
	}
	return nil
}

// optionsFromQuery accepts the JSON field names as query parameters, so a
// plain GET can trigger a scoped run.
func optionsFromQuery(q url.Values) tracksync.Options {
	atoi := func(s string) int {
		n, _ := strconv.Atoi(s)
		return n
	}
	opts := tracksync.Options{
		Mode:        q.Get("mode"),
		DeltaDays:   atoi(q.Get("delta_days")),
		OverlapDays: atoi(q.Get("overlap_days")),
		RangeFrom:   q.Get("range_from"),
		RangeTo:     q.Get("range_to"),
		PersonID:    q.Get("person_id"),
	}
	if only := q.Get("only"); only != "" {
		opts.Only = strings.Split(only, ",")
	}
	return opts
}

func writeJSON(w http.ResponseWriter, status int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(status)
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	_ = enc.Encode(v)
}
