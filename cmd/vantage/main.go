// Command vantage runs the screening orchestrator: HTTP control surface,
// HRIS ingress, the SAR investigation engine and its provider gateway.
package main

import (
	"context"
	"database/sql"
	"encoding/hex"
	"errors"
	"flag"
	"fmt"
	"net/http"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/redis/go-redis/v9"
	"go.uber.org/zap"

	"github.com/cleargate/vantage/pkg/ai"
	"github.com/cleargate/vantage/pkg/api"
	"github.com/cleargate/vantage/pkg/audit"
	"github.com/cleargate/vantage/pkg/cache"
	"github.com/cleargate/vantage/pkg/checkpoint"
	"github.com/cleargate/vantage/pkg/compliance"
	"github.com/cleargate/vantage/pkg/config"
	"github.com/cleargate/vantage/pkg/consent"
	"github.com/cleargate/vantage/pkg/cost"
	"github.com/cleargate/vantage/pkg/entity"
	"github.com/cleargate/vantage/pkg/events"
	"github.com/cleargate/vantage/pkg/findings"
	"github.com/cleargate/vantage/pkg/gateway"
	"github.com/cleargate/vantage/pkg/kms"
	"github.com/cleargate/vantage/pkg/orchestrator"
	"github.com/cleargate/vantage/pkg/provider"
	"github.com/cleargate/vantage/pkg/reqctx"
	"github.com/cleargate/vantage/pkg/resiliency"
	"github.com/cleargate/vantage/pkg/review"
	"github.com/cleargate/vantage/pkg/risk"
	"github.com/cleargate/vantage/pkg/sar"
	"github.com/cleargate/vantage/pkg/sar/phases"

	_ "github.com/lib/pq"
)

func main() {
	configPath := flag.String("config", "", "path to YAML config overrides")
	flag.Parse()

	log, err := zap.NewProduction()
	if err != nil {
		fmt.Fprintf(os.Stderr, "logger: %v\n", err)
		os.Exit(1)
	}
	defer func() { _ = log.Sync() }()

	if err := run(*configPath, log); err != nil {
		log.Fatal("vantage exited", zap.Error(err))
	}
}

func run(configPath string, log *zap.Logger) error {
	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	cfg, err := config.Load(configPath)
	if err != nil {
		return err
	}
	log.Info("configuration sealed", zap.String("hash", cfg.Hash()))

	trailKey := keyFromEnv("AUDIT_HMAC_KEY", log)
	consentKey := keyFromEnv("CONSENT_SIGNING_KEY", log)

	// Stores: Postgres when DATABASE_URL is set, in-memory otherwise.
	var (
		entityStore entity.Store
		reqStore    orchestrator.Store
		reviewStore review.Store
		costStore   cost.Store
		auditStore  audit.Store
	)
	if cfg.DatabaseURL != "" {
		db, err := sql.Open("postgres", cfg.DatabaseURL)
		if err != nil {
			return fmt.Errorf("open postgres: %w", err)
		}
		defer func() { _ = db.Close() }()
		if err := db.PingContext(ctx); err != nil {
			return fmt.Errorf("ping postgres: %w", err)
		}

		ents := entity.NewPostgresStore(db)
		reqs := orchestrator.NewPostgresStore(db)
		revs := review.NewPostgresStore(db)
		costs := cost.NewPostgresStore(db)
		audits := audit.NewPostgresStore(db)
		for _, m := range []interface {
			Migrate(context.Context) error
		}{ents, reqs, revs, costs, audits} {
			if err := m.Migrate(ctx); err != nil {
				return err
			}
		}
		entityStore, reqStore, reviewStore, costStore, auditStore = ents, reqs, revs, costs, audits
		log.Info("postgres connected")
	} else {
		entityStore = entity.NewMemoryStore()
		reqStore = orchestrator.NewMemoryStore()
		reviewStore = review.NewMemoryStore()
		costStore = cost.NewMemoryStore()
		auditStore = audit.NewMemoryStore()
		log.Warn("DATABASE_URL not set, state is in-memory and lost on restart")
	}

	trail := audit.NewTrail(trailKey, auditStore)
	consentSvc := consent.NewService(consentKey)

	rules, err := loadRules()
	if err != nil {
		return err
	}

	// Checkpoints live in sqlite regardless of the primary store: they are
	// node-local working state, not the system of record.
	ckptDB, err := sql.Open("sqlite", cfg.CheckpointDB)
	if err != nil {
		return fmt.Errorf("open checkpoint db: %w", err)
	}
	defer func() { _ = ckptDB.Close() }()
	ckpt, err := checkpoint.NewStore(ckptDB, log)
	if err != nil {
		return err
	}

	keys, err := kms.NewLocalManager(sealKeyFromEnv(log))
	if err != nil {
		return err
	}

	// Result cache and cluster limiter share the Redis client when one is
	// configured.
	cacheStore := cache.Store(cache.NewMemoryStore())
	limiters := resiliency.NewLimiterSet(2 * time.Second)
	if cfg.RedisAddr != "" {
		rdb := redis.NewClient(&redis.Options{Addr: cfg.RedisAddr})
		if err := rdb.Ping(ctx).Err(); err != nil {
			log.Warn("redis unreachable, caching locally", zap.Error(err))
		} else {
			cacheStore = cache.NewRedisStore(rdb, 90*24*time.Hour)
			limiters.SetShared(resiliency.NewSharedLimiter(rdb))
			log.Info("redis connected", zap.String("addr", cfg.RedisAddr))
		}
	}

	registry := provider.NewRegistry()
	for _, a := range demoAdapters() {
		registry.Register(a)
		info := a.Info()
		limiters.Configure(info.ID, info.RateRPS, info.RateBurst)
	}

	costs := cost.NewService(costStore, log)
	breakers := resiliency.NewBreakerSet(cfg.Breaker, log)
	resultCache := cache.New(cacheStore, cfg, keys, log)
	gw := gateway.New(registry, breakers, limiters, resultCache, costs, trail, cfg, log)

	var model ai.Client
	if cfg.AIServiceURL != "" {
		model, err = ai.NewHTTPClient(cfg.AIServiceURL, 30*time.Second)
		if err != nil {
			return err
		}
	} else {
		log.Warn("AI_SERVICE_URL not set, extraction and classification fall back to rules")
	}
	var factModel findings.ModelClient
	if model != nil {
		factModel = ai.FactSource{Client: model}
	}
	extractor := findings.NewExtractor(factModel, trail, log)

	reviews := review.NewQueue(reviewStore, trail, log)
	resolver := entity.NewResolver(entityStore, cfg.Fuzzy, reviews, log)
	profiles := entity.NewProfiles(entityStore, trail, log)

	sink := outboundSink(log)
	publisher := events.NewPublisher(sink, cfg.Retry, log)

	orch := orchestrator.New(orchestrator.Deps{
		Builder: &reqctx.Builder{
			Rules:          rules,
			Consent:        consentSvc,
			Trail:          trail,
			ResolveSources: registry.IDsByCategory,
			ConfigHash:     cfg.Hash(),
		},
		Resolver: resolver,
		Profiles: profiles,
		Entities: entityStore,
		Engine: &investigator{
			cfg:       cfg,
			gw:        gw,
			extractor: extractor,
			ckpt:      ckpt,
			trail:     trail,
			entities:  entityStore,
			log:       log,
		},
		Analyzer:  risk.NewAnalyzer(model, cfg.Risk, log),
		Store:     reqStore,
		Publisher: publisher,
		Trail:     trail,
		Config:    cfg,
		Log:       log,
	})

	dispatcher := events.NewDispatcher(orch, trail, log)
	auth := api.NewKeyAuth(apiKeysFromEnv(log))
	server := api.NewServer(orch, reviews, dispatcher, auth, api.NewRateLimiter(20, 40), log)

	httpSrv := &http.Server{
		Addr:              cfg.ListenAddr,
		Handler:           server.Handler(),
		ReadHeaderTimeout: 5 * time.Second,
	}
	errCh := make(chan error, 1)
	go func() {
		log.Info("listening", zap.String("addr", cfg.ListenAddr))
		if err := httpSrv.ListenAndServe(); !errors.Is(err, http.ErrServerClosed) {
			errCh <- err
		}
	}()

	select {
	case err := <-errCh:
		return err
	case <-ctx.Done():
	}

	log.Info("shutting down")
	shutdownCtx, cancel := context.WithTimeout(context.Background(), 15*time.Second)
	defer cancel()
	if err := httpSrv.Shutdown(shutdownCtx); err != nil {
		log.Warn("http shutdown", zap.Error(err))
	}
	// Running investigations checkpoint at phase boundaries; wait for them
	// so in-flight state reaches the stores.
	orch.Wait()
	return nil
}

// investigator builds a SAR engine around each investigation's own
// knowledge base so concurrent subjects never share confirmed facts.
type investigator struct {
	cfg       *config.Config
	gw        *gateway.Gateway
	extractor *findings.Extractor
	ckpt      *checkpoint.Store
	trail     *audit.Trail
	entities  entity.Store
	log       *zap.Logger
}

func (f *investigator) Run(ctx context.Context, inv *sar.Investigation) (*sar.Outcome, error) {
	planner := sar.NewPlanner(inv.KB)
	assessor := sar.NewAssessor(f.extractor, inv.KB, f.cfg.SAR.ConfidenceWeights, f.log)
	refiner := sar.NewRefiner(planner, f.cfg.SAR)
	runner := sar.NewRunner(planner, assessor, refiner, f.gw,
		f.cfg.SAR.TypeTimeout, f.cfg.SAR.PhaseConcurrency, f.log)
	engine := sar.NewEngine(f.cfg.SAR, runner, sar.NewReconciler(f.cfg.Deception, f.log),
		f.ckpt, f.trail, phases.Default(f.entities, f.log), f.log)
	return engine.Run(ctx, inv)
}

// keyFromEnv reads an HMAC/signing secret, generating an ephemeral one
// for dev runs. Ephemeral keys invalidate consent tokens and break audit
// chain verification across restarts.
func keyFromEnv(name string, log *zap.Logger) []byte {
	if v := os.Getenv(name); v != "" {
		return []byte(v)
	}
	log.Warn("secret not set, using ephemeral key", zap.String("env", name))
	return []byte(fmt.Sprintf("ephemeral-%s-%d", name, time.Now().UnixNano()))
}

// sealKeyFromEnv reads the 32-byte hex payload-encryption key; nil lets
// the manager generate a random one.
func sealKeyFromEnv(log *zap.Logger) []byte {
	v := os.Getenv("KMS_KEY")
	if v == "" {
		log.Warn("KMS_KEY not set, cached payloads are sealed with an ephemeral key")
		return nil
	}
	key, err := hex.DecodeString(v)
	if err != nil {
		log.Warn("KMS_KEY is not valid hex, using ephemeral key", zap.Error(err))
		return nil
	}
	return key
}

// apiKeysFromEnv parses API_KEYS ("key:tenant,key:tenant").
func apiKeysFromEnv(log *zap.Logger) map[string]string {
	keys := make(map[string]string)
	for _, pair := range strings.Split(os.Getenv("API_KEYS"), ",") {
		k, tenant, ok := strings.Cut(strings.TrimSpace(pair), ":")
		if ok && k != "" && tenant != "" {
			keys[k] = tenant
		}
	}
	if len(keys) == 0 {
		keys["dev-key"] = "dev"
		log.Warn("API_KEYS not set, accepting dev-key for tenant dev")
	}
	return keys
}

// loadRules reads the compliance matrix from COMPLIANCE_RULES when set.
// Without a file every check is permitted, which is only suitable for
// development.
func loadRules() (*compliance.Ruleset, error) {
	if path := os.Getenv("COMPLIANCE_RULES"); path != "" {
		return compliance.LoadFile(path)
	}
	return compliance.NewRuleset(nil)
}

// outboundSink builds the event delivery sink. WEBHOOK_URLS maps tenants
// to callbacks ("tenant=url,tenant=url"); "*" is the fallback for
// unlisted tenants.
func outboundSink(log *zap.Logger) events.Sink {
	raw := os.Getenv("WEBHOOK_URLS")
	if raw == "" {
		log.Warn("WEBHOOK_URLS not set, outbound events are recorded in memory only")
		return events.NewMemorySink()
	}
	urls := make(map[string]string)
	for _, pair := range strings.Split(raw, ",") {
		tenant, url, ok := strings.Cut(strings.TrimSpace(pair), "=")
		if ok && tenant != "" && url != "" {
			urls[tenant] = url
		}
	}
	return events.NewWebhookSink(nil, func(tenantID string) string {
		if u, ok := urls[tenantID]; ok {
			return u
		}
		return urls["*"]
	})
}
