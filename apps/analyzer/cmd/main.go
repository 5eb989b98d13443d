package main

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"time"

	"github.com/pitabwire/frame"
	"github.com/pitabwire/frame/config"
	"github.com/pitabwire/frame/datastore"
	"github.com/pitabwire/util"

	appconfig "github.com/antinvestor/requirements/apps/analyzer/config"
	"github.com/antinvestor/requirements/apps/analyzer/handlers"
	"github.com/antinvestor/requirements/apps/analyzer/middleware"
	"github.com/antinvestor/requirements/apps/analyzer/service/analysis"
	"github.com/antinvestor/requirements/apps/analyzer/service/collaborators"
	"github.com/antinvestor/requirements/apps/analyzer/service/queue"
	"github.com/antinvestor/requirements/apps/analyzer/service/repository"
	"github.com/antinvestor/requirements/internal/events"
	"github.com/antinvestor/requirements/internal/llm"
)

const serviceName = "requirements_analyzer"

func main() {
	ctx := context.Background()

	// Initialize configuration
	cfg, err := config.LoadWithOIDC[appconfig.AnalyzerConfig](ctx)
	if err != nil {
		util.Log(ctx).With("err", err).Error("could not process configs")
		return
	}

	if cfg.Name() == "" {
		cfg.ServiceName = serviceName
	}

	usePostgres := cfg.HistoryBackend == repository.BackendPostgres

	// Create service with Frame
	frameOpts := []frame.Option{frame.WithConfig(&cfg)}
	if usePostgres {
		frameOpts = append(frameOpts, frame.WithDatastore())
	}
	ctx, svc := frame.NewServiceWithContext(ctx, frameOpts...)
	defer svc.Stop(ctx)
	log := svc.Log(ctx)

	qMan := svc.QueueManager()

	// ==========================================================================
	// Setup History
	// ==========================================================================

	var dbManager datastore.Manager
	if usePostgres {
		dbManager = svc.DatastoreManager()
	}

	history, closeHistory, err := setupHistory(ctx, dbManager, &cfg)
	if err != nil {
		log.WithError(err).Fatal("could not set up history store")
	}
	if history == nil {
		// migration run
		return
	}
	defer closeHistory()

	backends, err := events.NewBackendsWithFallback(ctx, cfg.BackendConfig())
	if err != nil {
		log.WithError(err).Fatal("could not set up deduplication backend")
	}
	defer func() { _ = backends.Close() }()

	// ==========================================================================
	// Setup Engine
	// ==========================================================================

	engine, err := analysis.NewEngine(analysis.Options{
		Capability:          setupCapability(ctx, &cfg),
		CapabilityTimeout:   cfg.StructureCapabilityTimeout(),
		DomainValidator:     setupDomainValidator(ctx, &cfg),
		DomainTimeout:       cfg.DomainValidationTimeout(),
		DomainBreaker:       setupDomainBreaker(&cfg),
		TestGeneration:      setupTestGeneration(&cfg),
		History:             history,
		Rules:               setupEscalationRules(ctx, &cfg),
		QuestionMinSeverity: events.Severity(strings.ToLower(cfg.QuestionMinSeverity)),
	})
	if err != nil {
		log.WithError(err).Fatal("could not create analysis engine")
	}

	// ==========================================================================
	// Register Publishers & Subscribers
	// ==========================================================================

	analysisResultPublisher := frame.WithRegisterPublisher(
		cfg.QueueAnalysisResultName,
		cfg.QueueAnalysisResultURI,
	)

	analysisRequestSubscriber := frame.WithRegisterSubscriber(
		cfg.QueueAnalysisRequestName,
		cfg.QueueAnalysisRequestURI,
		queue.NewAnalysisRequestHandler(engine, backends.Deduplication, qMan, cfg.QueueAnalysisResultName),
	)

	// ==========================================================================
	// Setup HTTP Server
	// ==========================================================================

	mux := http.NewServeMux()

	handlers.NewHealthHandler(serviceName, map[string]handlers.ReadinessCheck{
		"history":       historyCheck(history),
		"deduplication": backends.HealthCheck,
	}).Register(mux)
	handlers.NewAnalysisHandler(&cfg, engine).Register(mux)

	limiter := middleware.NewRateLimiter(cfg.RateLimitRequestsPerMinute, cfg.RateLimitBurstSize)
	defer limiter.Stop()

	// The limiter sits inside auth so it can key on the token subject.
	handler := limiter.Middleware(mux)
	if cfg.RequireAuthentication {
		authenticator := svc.SecurityManager().GetAuthenticator(ctx)
		handler = middleware.NewAuth(authenticator, "/health", "/ready").Middleware(handler)
	}

	// ==========================================================================
	// Initialize Service
	// ==========================================================================

	serviceOptions := []frame.Option{
		frame.WithHTTPHandler(handler),
		// Publishers
		analysisResultPublisher,
		// Subscribers
		analysisRequestSubscriber,
	}

	svc.Init(ctx, serviceOptions...)

	// ==========================================================================
	// Start the Service
	// ==========================================================================

	log.Info("Starting requirement analyzer service...",
		"history_backend", cfg.HistoryBackend,
		"deduplication_backend", cfg.DeduplicationBackend,
	)
	err = svc.Run(ctx, "")
	if err != nil {
		log.WithError(err).Fatal("could not run server")
	}
}

// setupHistory opens the configured history store. It returns a nil store
// after a migration-only run.
func setupHistory(
	ctx context.Context,
	dbManager datastore.Manager,
	cfg *appconfig.AnalyzerConfig,
) (analysis.HistoryStore, func(), error) {
	noop := func() {}

	switch cfg.HistoryBackend {
	case repository.BackendPostgres:
		dbPool := dbManager.GetPool(ctx, datastore.DefaultPoolName)
		if cfg.DoDatabaseMigrate() {
			if err := repository.Migrate(ctx, dbPool); err != nil {
				return nil, noop, err
			}
			util.Log(ctx).Info("history schema migrated")
			return nil, noop, nil
		}
		return repository.NewGormHistoryStore(dbPool), noop, nil

	case repository.BackendSQLite:
		store, err := repository.NewSQLiteHistoryStore(cfg.HistorySQLitePath)
		if err != nil {
			return nil, noop, err
		}
		return store, func() {
			if closeErr := store.Close(); closeErr != nil {
				util.Log(ctx).WithError(closeErr).Warn("failed to close history store")
			}
		}, nil

	case repository.BackendMemory, "":
		return repository.NewMemoryHistoryStore(), noop, nil

	default:
		return nil, noop, errors.New("unknown history backend: " + cfg.HistoryBackend)
	}
}

func setupCapability(ctx context.Context, cfg *appconfig.AnalyzerConfig) llm.Client {
	if cfg.DefaultLLMProvider == string(llm.ProviderStub) {
		return llm.NewStubClient(nil)
	}

	client, err := llm.NewMultiProviderClient(cfg.LLMClientConfig())
	if err != nil {
		util.Log(ctx).WithError(err).Warn("structure capability disabled, using rules only")
		return nil
	}
	return client
}

func setupDomainValidator(ctx context.Context, cfg *appconfig.AnalyzerConfig) analysis.DomainValidator {
	if cfg.DomainValidatorURL != "" {
		return collaborators.NewDomainValidatorClient(cfg.DomainValidatorURL, &http.Client{
			Timeout: cfg.DomainValidationTimeout(),
		})
	}

	if cfg.DomainCatalogPath != "" {
		catalog, err := collaborators.LoadCatalog(cfg.DomainCatalogPath)
		if err != nil {
			util.Log(ctx).WithError(err).Warn("domain catalog unusable, domain validation disabled")
			return nil
		}
		return catalog
	}
	return nil
}

func setupDomainBreaker(cfg *appconfig.AnalyzerConfig) *events.CircuitBreaker {
	if cfg.DomainValidatorMaxFailures <= 0 {
		return nil
	}
	return events.NewCircuitBreaker(
		"domain_validator",
		cfg.DomainValidatorMaxFailures,
		time.Duration(cfg.DomainValidatorResetSeconds)*time.Second,
	)
}

func setupTestGeneration(cfg *appconfig.AnalyzerConfig) analysis.TestGenerationService {
	if cfg.TestGenerationURL == "" {
		return nil
	}
	return collaborators.NewTestGenerationClient(cfg.TestGenerationURL, &http.Client{
		Timeout: time.Duration(cfg.TestGenerationTimeoutSeconds) * time.Second,
	})
}

func setupEscalationRules(ctx context.Context, cfg *appconfig.AnalyzerConfig) *analysis.EscalationRules {
	if cfg.EscalationRulesPath == "" {
		return nil
	}
	rules, err := analysis.LoadEscalationRules(cfg.EscalationRulesPath)
	if err != nil {
		util.Log(ctx).WithError(err).Warn("escalation rules unusable, using built-in table")
		return nil
	}
	return rules
}

// historyCheck probes the store with a lookup that must miss.
func historyCheck(history analysis.HistoryStore) handlers.ReadinessCheck {
	return func(ctx context.Context) error {
		_, err := history.Get(ctx, events.NewRequestID())
		if err == nil || errors.Is(err, analysis.ErrResultNotFound) {
			return nil
		}
		return err
	}
}
