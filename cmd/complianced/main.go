// Command complianced serves the building-regulation compliance
// engine: rule evaluation against project data, and the regulation
// lifecycle registry with its audit trail.
package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log"
	"net/http"
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"time"

	"github.com/go-chi/chi/v5"

	"github.com/arkritico/wallnut-sub005/pkg/audit"
	"github.com/arkritico/wallnut-sub005/pkg/engine"
	"github.com/arkritico/wallnut-sub005/pkg/httpx"
	"github.com/arkritico/wallnut-sub005/pkg/metrics"
	"github.com/arkritico/wallnut-sub005/pkg/models"
	"github.com/arkritico/wallnut-sub005/pkg/plugin"
	"github.com/arkritico/wallnut-sub005/pkg/ratelimit"
	"github.com/arkritico/wallnut-sub005/pkg/registry"
	"github.com/arkritico/wallnut-sub005/pkg/statebus"
	"github.com/arkritico/wallnut-sub005/pkg/store"
	"github.com/arkritico/wallnut-sub005/pkg/telemetry"
)

type Server struct {
	Registry  *registry.Registry
	Plugins   *plugin.Store
	Cache     store.ReportCache
	Metrics   *metrics.Registry
	Limiter   ratelimit.Limiter
	EvalLimit int
	CacheTTL  time.Duration
}

// Testable variables for main()
var (
	logFatalf       = log.Fatalf
	initTelemetryFn = telemetry.Init
	listenFn        func(*http.Server) error
)

func main() {
	if err := run(initTelemetryFn, listenFn); err != nil {
		logFatalf("complianced: %v", err)
	}
}

func run(
	initTelemetry func(context.Context, string) (func(context.Context) error, error),
	listen func(*http.Server) error,
) error {
	if initTelemetry == nil {
		initTelemetry = telemetry.Init
	}
	if listen == nil {
		listen = func(server *http.Server) error { return server.ListenAndServe() }
	}
	ctx := context.Background()

	shutdownTelemetry, err := initTelemetry(ctx, "complianced")
	if err != nil {
		return fmt.Errorf("telemetry: %w", err)
	}
	defer func() {
		ctxShutdown, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = shutdownTelemetry(ctxShutdown)
	}()

	var regOpts []registry.Option
	if strings.TrimSpace(os.Getenv("DATABASE_URL")) != "" || env("AUDIT_DB", "") == "true" {
		pool, err := store.NewPostgresPool(ctx)
		if err != nil {
			return fmt.Errorf("audit db: %w", err)
		}
		defer pool.Close()
		regOpts = append(regOpts, registry.WithEventSink(&audit.Writer{
			DB:       pool,
			HashSalt: []byte(os.Getenv("AUDIT_HASH_SALT")),
			Redact:   env("AUDIT_REDACT_ACTORS", "") == "true",
		}))
	}
	if brokers := splitCSV(env("KAFKA_BROKERS", "")); len(brokers) > 0 {
		pub, err := statebus.NewEventPublisher(statebus.KafkaConfig{
			Brokers: brokers,
			Topic:   env("KAFKA_EVENTS_TOPIC", "regulation-events"),
		})
		if err != nil {
			return fmt.Errorf("event publisher: %w", err)
		}
		defer pub.Close()
		regOpts = append(regOpts, registry.WithEventSink(pub))
	}

	reg := registry.New(regOpts...)
	plugins := plugin.NewStore()
	if dir := env("PLUGIN_DIR", ""); dir != "" {
		if err := loadPluginDir(dir, plugins); err != nil {
			return err
		}
	}
	if err := plugin.Seed(reg, plugins.Catalog(), env("SEED_ACTOR", "system")); err != nil {
		return fmt.Errorf("seed registry: %w", err)
	}

	var cacheClient = store.NewMemoryReportCache()
	srv := &Server{
		Registry:  reg,
		Plugins:   plugins,
		Cache:     store.ReportCache(cacheClient),
		Metrics:   metrics.NewRegistry(),
		Limiter:   ratelimit.NewInMemory(time.Minute),
		EvalLimit: envInt("EVALUATE_RATE_LIMIT", 120),
		CacheTTL:  time.Duration(envInt("REPORT_CACHE_TTL_SEC", 600)) * time.Second,
	}
	if redisClient, err := store.NewRedis(ctx); err == nil {
		srv.Cache = store.NewReportCache(ctx, redisClient)
	} else {
		log.Printf("redis unavailable, using in-memory report cache: %v", err)
	}

	if brokers := splitCSV(env("KAFKA_BROKERS", "")); len(brokers) > 0 {
		if topic := env("KAFKA_BUNDLES_TOPIC", ""); topic != "" {
			consumer, err := statebus.NewBundleConsumer(statebus.KafkaConfig{
				Brokers: brokers,
				Topic:   topic,
				GroupID: env("KAFKA_GROUP_ID", "complianced"),
			})
			if err != nil {
				return fmt.Errorf("bundle consumer: %w", err)
			}
			defer consumer.Close()
			go srv.consumeBundles(ctx, consumer)
		}
	}

	server := &http.Server{
		Addr:              ":" + env("PORT", "8086"),
		Handler:           srv.routes(),
		ReadHeaderTimeout: 10 * time.Second,
	}
	log.Printf("complianced listening on %s", server.Addr)
	if err := listen(server); err != nil && !errors.Is(err, http.ErrServerClosed) {
		return err
	}
	return nil
}

func loadPluginDir(dir string, plugins *plugin.Store) error {
	entries, err := os.ReadDir(dir)
	if err != nil {
		return fmt.Errorf("plugin dir: %w", err)
	}
	bundles := map[string][]byte{}
	for _, entry := range entries {
		if entry.IsDir() || !strings.HasSuffix(entry.Name(), ".json") {
			continue
		}
		raw, err := os.ReadFile(filepath.Join(dir, entry.Name()))
		if err != nil {
			log.Printf("skipping bundle %s: %v", entry.Name(), err)
			continue
		}
		bundles[entry.Name()] = raw
	}
	loaded, errs := plugin.LoadBundles(bundles)
	for _, lerr := range errs {
		log.Printf("bundle rejected: %v", lerr)
	}
	for _, p := range loaded {
		if err := plugins.RegisterBuiltin(p); err != nil {
			log.Printf("plugin %s rejected: %v", p.ID, err)
		}
	}
	return nil
}

// consumeBundles registers bundles pushed by the ingestion layer as
// dynamic plugins and seeds their regulations into the registry.
func (s *Server) consumeBundles(ctx context.Context, consumer *statebus.BundleConsumer) {
	for {
		p, loadErrs, err := consumer.ReadBundle(ctx)
		if err != nil {
			if ctx.Err() != nil {
				return
			}
			log.Printf("bundle consumer: %v", err)
			time.Sleep(time.Second)
			continue
		}
		if len(loadErrs) > 0 {
			for _, lerr := range loadErrs {
				log.Printf("ingested bundle rejected: %v", lerr)
			}
			continue
		}
		if err := s.Plugins.RegisterDynamic(p); err != nil {
			log.Printf("ingested plugin %s rejected: %v", p.ID, err)
			continue
		}
		if err := plugin.Seed(s.Registry, s.Plugins.Catalog(), "ingestion"); err != nil {
			log.Printf("seed ingested plugin %s: %v", p.ID, err)
		}
	}
}

func (s *Server) routes() http.Handler {
	r := chi.NewRouter()
	r.Use(httpx.SecurityHeadersMiddleware)
	r.Use(httpx.MaxBodyMiddleware(int64(envInt("MAX_REQUEST_BODY_BYTES", 2<<20))))
	r.Use(telemetry.HTTPMiddleware("complianced"))
	r.Use(s.metricsMiddleware)
	r.Get("/healthz", func(w http.ResponseWriter, r *http.Request) {
		httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "ok"})
	})
	r.Get("/metrics", s.Metrics.Handler())

	r.Post("/v1/evaluate", s.handleEvaluate)
	r.Get("/v1/regulations", s.handleListRegulations)
	r.Get("/v1/regulations/applicable", s.handleApplicableRegulations)
	r.Post("/v1/regulations", s.handleAddRegulation)
	r.Get("/v1/regulations/{id}/chain", s.handleLifecycleChain)
	r.Post("/v1/regulations/{id}/rules", s.handleAddRules)
	r.Post("/v1/regulations/{id}/verify", s.handleVerifyRules)
	r.Post("/v1/regulations/{id}/amend", s.handleAmend)
	r.Post("/v1/regulations/{id}/supersede", s.handleSupersede)
	r.Post("/v1/regulations/{id}/revoke", s.handleRevoke)
	r.Post("/v1/regulations/{id}/rules/{rule_id}/toggle", s.handleToggleRule)
	r.Get("/v1/coverage", s.handleCoverage)
	r.Get("/v1/events", s.handleEvents)
	r.Get("/v1/registry/export", s.handleExport)
	r.Post("/v1/registry/import", s.handleImport)
	return r
}

func (s *Server) metricsMiddleware(next http.Handler) http.Handler {
	return http.HandlerFunc(func(w http.ResponseWriter, r *http.Request) {
		start := time.Now()
		rec := &statusRecorder{ResponseWriter: w, status: http.StatusOK}
		next.ServeHTTP(rec, r)
		s.Metrics.Observe(r.Method+" "+r.URL.Path, rec.status, time.Since(start))
	})
}

type statusRecorder struct {
	http.ResponseWriter
	status int
}

func (r *statusRecorder) WriteHeader(status int) {
	r.status = status
	r.ResponseWriter.WriteHeader(status)
}

func (s *Server) handleEvaluate(w http.ResponseWriter, r *http.Request) {
	actor := strings.TrimSpace(r.Header.Get("X-Actor"))
	if actor == "" {
		actor = "anonymous"
	}
	if decision := s.Limiter.Allow("evaluate:"+actor, s.EvalLimit); !decision.Allowed {
		w.Header().Set("Retry-After", strconv.Itoa(decision.RetryAfterSeconds(time.Now())))
		httpx.Error(w, http.StatusTooManyRequests, "evaluation rate limit exceeded")
		return
	}

	idemKey := strings.TrimSpace(r.Header.Get("Idempotency-Key"))
	if idemKey != "" {
		if report, err := s.Cache.Get(r.Context(), idemKey); err == nil {
			httpx.WriteJSON(w, http.StatusOK, report)
			return
		}
	}

	var req models.EvaluateRequest
	if err := json.NewDecoder(r.Body).Decode(&req); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid request body")
		return
	}
	var projectData map[string]any
	if len(req.ProjectData) > 0 {
		if err := json.Unmarshal(req.ProjectData, &projectData); err != nil {
			httpx.Error(w, http.StatusBadRequest, "project_data must be a JSON object")
			return
		}
	}
	if projectData == nil {
		httpx.Error(w, http.StatusBadRequest, "project_data is required")
		return
	}

	cat := s.Plugins.Catalog()
	rules := s.Registry.ActiveRules()
	if len(req.PluginIDs) > 0 {
		rules = filterByPlugins(rules, cat, req.PluginIDs)
	}
	start := time.Now()
	report := engine.EvaluateRuleSet(engine.RuleSet{
		Rules:          rules,
		Tables:         cat.Tables,
		ComputedFields: cat.ComputedFields,
	}, projectData)
	report.Warnings = append(report.Warnings, s.Registry.ConsistencyWarnings()...)
	s.Metrics.ObserveReport(report, time.Since(start))
	s.Metrics.SetGauge("catalog_version", float64(cat.Version))
	s.Metrics.SetGauge("applicable_regulations", float64(len(s.Registry.ApplicableRegulations())))

	if idemKey != "" {
		if err := s.Cache.Set(r.Context(), idemKey, report, s.CacheTTL); err != nil {
			log.Printf("report cache set: %v", err)
		}
	}
	httpx.WriteJSON(w, http.StatusOK, report)
}

// filterByPlugins keeps only active rules declared by the selected
// plugins.
func filterByPlugins(rules []models.DeclarativeRule, cat *plugin.Catalog, pluginIDs []string) []models.DeclarativeRule {
	member := map[string]bool{}
	for _, rule := range cat.RuleSetFor(pluginIDs, nil) {
		member[rule.ID] = true
	}
	out := rules[:0:0]
	for _, rule := range rules {
		if member[rule.ID] {
			out = append(out, rule)
		}
	}
	return out
}

func (s *Server) handleListRegulations(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.Registry.Regulations())
}

func (s *Server) handleApplicableRegulations(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.Registry.ApplicableRegulations())
}

func (s *Server) handleAddRegulation(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var doc models.RegulationDocument
	if err := json.NewDecoder(r.Body).Decode(&doc); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid regulation document")
		return
	}
	if err := s.Registry.AddRegulation(doc, actor); err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusCreated, map[string]string{"id": doc.ID})
}

func (s *Server) handleAddRules(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var rules []models.DeclarativeRule
	if err := json.NewDecoder(r.Body).Decode(&rules); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid rules payload")
		return
	}
	if err := s.Registry.AddRules(chi.URLParam(r, "id"), rules, actor); err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"added": len(rules)})
}

func (s *Server) handleVerifyRules(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	if err := s.Registry.VerifyRules(chi.URLParam(r, "id"), actor); err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "verified"})
}

func (s *Server) handleAmend(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var amendment models.RegulationDocument
	if err := json.NewDecoder(r.Body).Decode(&amendment); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid amendment document")
		return
	}
	if err := s.Registry.AmendRegulation(chi.URLParam(r, "id"), amendment, actor); err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"amendment": amendment.ID})
}

func (s *Server) handleSupersede(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var replacement models.RegulationDocument
	if err := json.NewDecoder(r.Body).Decode(&replacement); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid replacement document")
		return
	}
	if err := s.Registry.SupersedeRegulation(chi.URLParam(r, "id"), replacement, actor); err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"replacement": replacement.ID})
}

func (s *Server) handleRevoke(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body struct {
		Date string `json:"date"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil || strings.TrimSpace(body.Date) == "" {
		httpx.Error(w, http.StatusBadRequest, "revocation date is required")
		return
	}
	if err := s.Registry.RevokeRegulation(chi.URLParam(r, "id"), body.Date, actor); err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]string{"status": "revoked"})
}

func (s *Server) handleToggleRule(w http.ResponseWriter, r *http.Request) {
	actor, ok := requireActor(w, r)
	if !ok {
		return
	}
	var body struct {
		Enabled bool `json:"enabled"`
	}
	if err := json.NewDecoder(r.Body).Decode(&body); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid toggle payload")
		return
	}
	if err := s.Registry.SetRuleEnabled(chi.URLParam(r, "id"), chi.URLParam(r, "rule_id"), body.Enabled, actor); err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]bool{"enabled": body.Enabled})
}

func (s *Server) handleLifecycleChain(w http.ResponseWriter, r *http.Request) {
	chain, err := s.Registry.LifecycleChain(chi.URLParam(r, "id"))
	if err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, chain)
}

func (s *Server) handleCoverage(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.Registry.CoverageReport())
}

func (s *Server) handleEvents(w http.ResponseWriter, r *http.Request) {
	if regID := strings.TrimSpace(r.URL.Query().Get("regulation_id")); regID != "" {
		httpx.WriteJSON(w, http.StatusOK, s.Registry.EventsByRegulation(regID))
		return
	}
	httpx.WriteJSON(w, http.StatusOK, s.Registry.Events())
}

func (s *Server) handleExport(w http.ResponseWriter, r *http.Request) {
	httpx.WriteJSON(w, http.StatusOK, s.Registry.Export())
}

func (s *Server) handleImport(w http.ResponseWriter, r *http.Request) {
	if _, ok := requireActor(w, r); !ok {
		return
	}
	var snap registry.Snapshot
	if err := json.NewDecoder(r.Body).Decode(&snap); err != nil {
		httpx.Error(w, http.StatusBadRequest, "invalid registry snapshot")
		return
	}
	if err := s.Registry.Import(snap); err != nil {
		writeDomainError(w, err)
		return
	}
	httpx.WriteJSON(w, http.StatusOK, map[string]int{"regulations": len(snap.Regulations)})
}

func requireActor(w http.ResponseWriter, r *http.Request) (string, bool) {
	actor := strings.TrimSpace(r.Header.Get("X-Actor"))
	if actor == "" {
		httpx.Error(w, http.StatusBadRequest, "X-Actor header is required for lifecycle operations")
		return "", false
	}
	return actor, true
}

func writeDomainError(w http.ResponseWriter, err error) {
	switch {
	case errors.Is(err, registry.ErrRegulationNotFound), errors.Is(err, registry.ErrRuleNotFound):
		httpx.Error(w, http.StatusNotFound, err.Error())
	case errors.Is(err, registry.ErrRegulationExists):
		httpx.Error(w, http.StatusConflict, err.Error())
	default:
		httpx.Error(w, http.StatusBadRequest, err.Error())
	}
}

func env(key, fallback string) string {
	if v := strings.TrimSpace(os.Getenv(key)); v != "" {
		return v
	}
	return fallback
}

func envInt(key string, def int) int {
	if v := os.Getenv(key); v != "" {
		if i, err := strconv.Atoi(v); err == nil {
			return i
		}
	}
	return def
}

func splitCSV(raw string) []string {
	if strings.TrimSpace(raw) == "" {
		return nil
	}
	parts := strings.Split(raw, ",")
	out := make([]string, 0, len(parts))
	for _, p := range parts {
		if v := strings.TrimSpace(p); v != "" {
			out = append(out, v)
		}
	}
	return out
}
