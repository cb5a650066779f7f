package main

import (
	"context"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"golang.org/x/sync/errgroup"

	"github.com/fntelecomllc/studio-sub001/internal/api"
	"github.com/fntelecomllc/studio-sub001/internal/campaigns"
	"github.com/fntelecomllc/studio-sub001/internal/config"
	"github.com/fntelecomllc/studio-sub001/internal/httpvalidator"
	"github.com/fntelecomllc/studio-sub001/internal/memorystore"
	"github.com/fntelecomllc/studio-sub001/internal/progress"
	"github.com/fntelecomllc/studio-sub001/internal/proxymanager"
	"github.com/fntelecomllc/studio-sub001/internal/store/postgres"
	"github.com/fntelecomllc/studio-sub001/internal/worker"
)

const (
	defaultPort    = "8080"
	configFilePath = "config.json"
)

func main() {
	appConfig, err := config.Load(configFilePath)
	if err != nil {
		log.Printf("Main: Notice during config.Load: %v. Application will proceed with available/defaulted config.", err)
	}
	if appConfig == nil {
		log.Fatalf("CRITICAL: Configuration could not be loaded by config.Load, and no defaults were returned. Exiting.")
	}

	// --- API Key Configuration ---
	if apiKeyFromEnv := os.Getenv("DOMAINFLOW_API_KEY"); apiKeyFromEnv != "" {
		appConfig.Server.APIKey = apiKeyFromEnv
		log.Printf("API Key: Using value from DOMAINFLOW_API_KEY environment variable (length: %d).", len(appConfig.Server.APIKey))
	} else if appConfig.Server.APIKey == "" {
		log.Printf("API Key: Empty in config.json and no ENV override. Using system default placeholder.")
		appConfig.Server.APIKey = config.DefaultSystemAPIKeyPlaceholder
	}
	if appConfig.Server.APIKey == config.DefaultSystemAPIKeyPlaceholder {
		log.Println("!!! WARNING: API Key is the default system placeholder. THIS IS INSECURE.       !!!")
		log.Println("!!! Set a unique 'server.apiKey' in 'config.json' or the                        !!!")
		log.Println("!!! DOMAINFLOW_API_KEY environment variable for production deployments.         !!!")
	}

	// --- Port Configuration ---
	if appConfig.Server.Port == "" {
		appConfig.Server.Port = defaultPort
	}
	if portEnv := os.Getenv("DOMAINFLOW_PORT"); portEnv != "" {
		appConfig.Server.Port = portEnv
		log.Printf("Port: Overridden by DOMAINFLOW_PORT environment variable: %s", portEnv)
	}
	if dsnEnv := os.Getenv("DOMAINFLOW_DATABASE_DSN"); dsnEnv != "" {
		appConfig.Database.DSN = dsnEnv
		log.Printf("Database: DSN overridden by DOMAINFLOW_DATABASE_DSN environment variable.")
	}

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// --- Store Selection ---
	var store campaigns.Store
	if dsn := appConfig.Database.DSN; dsn != "" {
		pool, err := postgres.Connect(ctx, dsn)
		if err != nil {
			log.Fatalf("CRITICAL: Database connection failed: %v", err)
		}
		defer pool.Close()
		store = postgres.NewStore(pool, appConfig.Database.LockStaleness())
		log.Printf("Main: Using Postgres store (lock staleness %s).", appConfig.Database.LockStaleness())
	} else {
		store = memorystore.NewStore(appConfig.Database.LockStaleness())
		log.Printf("Main: No database DSN configured. Using in-memory store; campaigns will not survive restarts.")
	}

	// --- Core Components ---
	log.Printf("Main: Initializing ProxyManager with %d configured proxies.", len(appConfig.Proxies))
	proxyMgr := proxymanager.NewProxyManager(appConfig.Proxies, proxymanager.SelectionRoundRobin)

	broadcaster := progress.NewBroadcaster(
		appConfig.Broadcaster.EventBufferSize,
		appConfig.Broadcaster.SubscriberBufferSize,
		appConfig.Broadcaster.EvictionGrace(),
	)

	httpVal := httpvalidator.New(appConfig, proxyMgr)
	pool := worker.NewPool(store, broadcaster, appConfig.Worker,
		worker.NewGenerationEngine(store, appConfig.Worker.BatchSize),
		worker.NewDNSEngine(store, appConfig, appConfig.Worker.BatchSize),
		worker.NewHTTPEngine(store, appConfig, httpVal, appConfig.Worker.BatchSize),
	)
	orch := worker.NewOrchestrator(store, appConfig)

	// --- HTTP Server ---
	router := api.NewRouter(appConfig, proxyMgr, orch, store, broadcaster)
	serverAddr := ":" + appConfig.Server.Port
	httpServer := &http.Server{
		Handler:      router,
		Addr:         serverAddr,
		WriteTimeout: 30 * time.Second,
		ReadTimeout:  15 * time.Second,
		IdleTimeout:  60 * time.Second,
	}

	g, gctx := errgroup.WithContext(ctx)
	g.Go(func() error {
		return pool.Run(gctx)
	})
	g.Go(func() error {
		log.Printf("Starting campaign server on http://localhost%s", serverAddr)
		if err := httpServer.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			return err
		}
		return nil
	})
	g.Go(func() error {
		<-gctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		log.Printf("Main: Shutting down HTTP server.")
		return httpServer.Shutdown(shutdownCtx)
	})

	if err := g.Wait(); err != nil && err != context.Canceled {
		log.Fatalf("Main: Shutdown with error: %v", err)
	}
	log.Printf("Main: Shutdown complete.")
}
