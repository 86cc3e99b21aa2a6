// Package main - OmniDesk Triage service entry point
package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"log/slog"
	"net/http"
	"time"

	_ "github.com/go-sql-driver/mysql"
	"github.com/gorilla/mux"
	"github.com/prometheus/client_golang/prometheus/promhttp"
	"github.com/redis/go-redis/v9"

	"omnidesk-triage/internal/adapters/gateway"
	"omnidesk-triage/internal/adapters/handler"
	"omnidesk-triage/internal/adapters/repository"
	"omnidesk-triage/internal/adapters/websocket"
	"omnidesk-triage/internal/config"
	"omnidesk-triage/internal/core/domain"
	"omnidesk-triage/internal/core/ports"
	"omnidesk-triage/internal/core/services"
	"omnidesk-triage/internal/metrics"
)

func main() {
	fmt.Println("=== OmniDesk Triage - Service Initialization ===")

	// 1. Load Configuration from Environment
	fmt.Println("[1/6] Loading configuration...")
	cfg, err := config.LoadConfig()
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}
	fmt.Printf("Config loaded (DB: %s@%s:%d, Redis: %s)\n",
		cfg.DB.User, cfg.DB.Host, cfg.DB.Port, cfg.Redis.Addr)

	// 2. Connect to MariaDB with Retry Logic
	// Containers may not be ready immediately, so we retry
	fmt.Println("[2/6] Connecting to MariaDB...")
	db := connectMariaDB(cfg.DB, 5, 2*time.Second)
	defer db.Close()

	// 3. Connect to Redis with Retry Logic
	fmt.Println("[3/6] Connecting to Redis...")
	rdb := connectRedis(cfg.Redis, 5, 2*time.Second)
	defer rdb.Close()

	// 4. Initialize repositories
	fmt.Println("[4/6] Initializing repositories...")
	m := metrics.New()
	store := repository.NewMariaDBRepository(db)
	cache := repository.NewRedisRepository(rdb, cfg.Triage.CacheMaxEntries, map[string]time.Duration{
		services.CacheCategoryLiveData: cfg.Triage.CacheTTLLive,
		services.CacheCategoryStatic:   cfg.Triage.CacheTTLStatic,
	}, m)
	sessions := repository.NewMemorySessionStore()

	// 5. Initialize core services
	fmt.Println("[5/6] Initializing services...")
	hub := websocket.NewEventHub(cfg.App.DashboardSecret)
	go hub.Run()

	var notifier ports.NotificationGateway
	if cfg.Notify.BaseURL != "" {
		notifier = gateway.NewHTTPNotifier(cfg.Notify.BaseURL, cfg.Notify.AuthToken)
	}

	classifier := services.NewClassifier()
	tracker := services.NewStateTracker(sessions)
	balancer := services.NewLoadBalancer(store, store, notifier, m, cfg.Triage.AssignRetries)
	escalations := services.NewEscalationService(store, store, notifier, balancer)

	sla := services.NewSLAMonitor(store, store, m)
	pipeline := services.NewTriagePipeline(
		classifier,
		tracker,
		escalations,
		balancer,
		store, // ConversationStore
		cache, // ResponseCache
		cache, // DedupStore
		nil,   // DataResolver: wired by the embedding CRM
		hub,
		m,
	)

	// 6. Initialize HTTP handlers
	fmt.Println("[6/6] Initializing HTTP handlers...")
	webhookHandler := handler.NewWebhookHandler(pipeline, cfg.Ingest.HMACSecret)
	triageHandler := handler.NewTriageHandler(classifier, tracker, escalations, balancer, sla)
	dashboardHandler := handler.NewDashboardHandler(cache, escalations, balancer)

	// Background SLA breach sweeper
	runSweeper(sla, hub, cfg.Triage.SweepInterval)

	fmt.Println("\nTriage service ready")
	startHTTPServer(cfg.App.Port, webhookHandler, triageHandler, dashboardHandler, hub)
}

// runSweeper periodically sweeps open conversations for SLA breaches and
// broadcasts them to dashboard observers.
func runSweeper(sla *services.SLAMonitor, hub *websocket.EventHub, interval time.Duration) {
	ticker := time.NewTicker(interval)

	go func() {
		for range ticker.C {
			breached, err := sla.Sweep(context.Background())
			if err != nil {
				slog.Error("SLA sweep failed", "error", err)
				continue
			}
			for _, b := range breached {
				hub.Publish(domain.TriageEvent{
					Kind:           domain.EventSLABreach,
					ConversationID: b.ConversationID,
					Detail:         b.Type,
					At:             time.Now(),
				})
			}
		}
	}()

	slog.Info("SLA sweeper started", "interval", interval)
}

func startHTTPServer(
	port int,
	webhookHandler *handler.WebhookHandler,
	triageHandler *handler.TriageHandler,
	dashboardHandler *handler.DashboardHandler,
	hub *websocket.EventHub,
) {
	r := mux.NewRouter()

	r.HandleFunc("/webhook/inbound", webhookHandler.HandleInbound).Methods(http.MethodPost)
	triageHandler.Register(r)
	r.HandleFunc("/api/system/metrics", dashboardHandler.GetSystemMetrics).Methods(http.MethodGet)
	r.HandleFunc("/api/triage/metrics", dashboardHandler.GetTriageMetrics).Methods(http.MethodGet)
	r.HandleFunc("/ws/events", hub.HandleWS)
	r.Handle("/metrics", promhttp.Handler())

	r.HandleFunc("/healthz", func(w http.ResponseWriter, _ *http.Request) {
		w.WriteHeader(http.StatusOK)
		w.Write([]byte("ok"))
	}).Methods(http.MethodGet)

	addr := fmt.Sprintf(":%d", port)
	slog.Info("HTTP server listening", "addr", addr)
	if err := http.ListenAndServe(addr, r); err != nil {
		log.Fatalf("HTTP server failed: %v", err)
	}
}

// connectMariaDB attempts to connect to MariaDB with retry logic
func connectMariaDB(cfg config.DBConfig, maxRetries int, retryDelay time.Duration) *sql.DB {
	dsn := cfg.GetDSN()

	var db *sql.DB
	var err error

	for i := 1; i <= maxRetries; i++ {
		db, err = sql.Open("mysql", dsn)
		if err != nil {
			log.Printf("  Attempt %d/%d: Failed to configure DB driver: %v", i, maxRetries, err)
			time.Sleep(retryDelay)
			continue
		}

		if err = db.Ping(); err == nil {
			return db
		}

		log.Printf("  Attempt %d/%d: Cannot ping MariaDB: %v", i, maxRetries, err)
		db.Close()

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("Cannot connect to MariaDB after %d attempts: %v", maxRetries, err)
	return nil
}

// connectRedis attempts to connect to Redis with retry logic
func connectRedis(cfg config.RedisConfig, maxRetries int, retryDelay time.Duration) *redis.Client {
	var rdb *redis.Client

	for i := 1; i <= maxRetries; i++ {
		rdb = redis.NewClient(&redis.Options{
			Addr: cfg.Addr,
		})

		ctx, cancel := context.WithTimeout(context.Background(), 3*time.Second)
		err := rdb.Ping(ctx).Err()
		cancel()

		if err == nil {
			return rdb
		}

		log.Printf("  Attempt %d/%d: Cannot ping Redis: %v", i, maxRetries, err)
		rdb.Close()

		if i < maxRetries {
			time.Sleep(retryDelay)
		}
	}

	log.Fatalf("Cannot connect to Redis after %d attempts", maxRetries)
	return nil
}
