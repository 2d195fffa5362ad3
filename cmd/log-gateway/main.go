package main

import (
	"context"
	"flag"
	"log"
	"os"
	"os/signal"
	"strings"
	"syscall"
	"time"

	"github.com/gomodule/redigo/redis"

	"log-gateway/internal/api"
	"log-gateway/internal/config"
	"log-gateway/internal/correlate"
	"log-gateway/internal/dedup"
	"log-gateway/internal/gateway"
	"log-gateway/internal/queue"
	"log-gateway/internal/quota"
	"log-gateway/internal/retention"
	"log-gateway/internal/storage"
)

func main() {
	configPath := flag.String("config", "config.yaml", "Path to configuration file")
	flag.Parse()

	cfg, err := config.LoadConfig(*configPath)
	if err != nil {
		log.Fatalf("Failed to load config: %v", err)
	}

	redisAddr := getEnv("REDIS_ADDR", cfg.Redis.Addr)
	serverAddr := getEnv("SERVER_ADDR", cfg.Server.Addr)
	if v, ok := os.LookupEnv("OPENSEARCH_ADDR"); ok {
		cfg.Storage.OpenSearchAddrs = strings.Split(v, ",")
	}
	if v, ok := os.LookupEnv("KAFKA_BROKERS"); ok {
		cfg.Kafka.Brokers = strings.Split(v, ",")
	}

	pool := &redis.Pool{
		MaxIdle:     10,
		IdleTimeout: 240 * time.Second,
		DialContext: func(ctx context.Context) (redis.Conn, error) {
			return redis.DialContext(ctx, "tcp", redisAddr)
		},
	}
	defer pool.Close()

	ledger := quota.NewLedger(pool, quota.Config{
		Window:         cfg.Quota.Window.Std(),
		WindowCapacity: cfg.Quota.WindowCapacity,
		BudgetCap:      cfg.Quota.BudgetCapPerCycle,
	})
	deduplicator := dedup.New(pool)

	var durable storage.DurableStore
	if len(cfg.Storage.OpenSearchAddrs) > 0 {
		durable, err = storage.NewOpenSearchStore(cfg.Storage.OpenSearchAddrs, cfg.Storage.Index)
		if err != nil {
			log.Fatalf("Failed to create OpenSearch store: %v", err)
		}
		log.Printf("Durable store: opensearch %v index %s", cfg.Storage.OpenSearchAddrs, cfg.Storage.Index)
	} else {
		durable = storage.NewMemDurable()
		log.Println("Durable store: in-memory (no OPENSEARCH_ADDR configured)")
	}
	shortLived := storage.NewMemIndex()

	var q gateway.Queue
	if len(cfg.Kafka.Brokers) > 0 {
		producer := queue.NewProducer(cfg.Kafka.Brokers, cfg.Kafka.Topic)
		defer producer.Close()
		q = producer
		log.Printf("Queue fan-out: kafka %v topic %s", cfg.Kafka.Brokers, cfg.Kafka.Topic)
	}

	gw := gateway.New(deduplicator, ledger, durable, shortLived, q, cfg.Server.SubmitTimeout.Std())
	engine := correlate.New(durable, shortLived, cfg.Correlation.MaxResults)
	manager := retention.New(durable, shortLived, cfg.Retention.Age.Std(), cfg.Retention.BatchesPerSec)

	ctx, cancel := context.WithCancel(context.Background())
	sigChan := make(chan os.Signal, 1)
	signal.Notify(sigChan, syscall.SIGINT, syscall.SIGTERM)

	go func() {
		<-sigChan
		log.Println("Received shutdown signal...")
		cancel()
	}()

	go manager.Run(ctx, cfg.Retention.SweepInterval.Std())

	server := api.NewServer(gw, engine, manager, ledger)
	log.Printf("Starting server on %s", serverAddr)
	if err := server.ListenAndServe(serverAddr); err != nil {
		log.Fatalf("Server failed: %v", err)
	}
}

func getEnv(key, fallback string) string {
	if value, ok := os.LookupEnv(key); ok {
		return value
	}
	return fallback
}
