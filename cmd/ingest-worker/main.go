package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/audioscribe/pipeline/pkg/config"
	"github.com/audioscribe/pipeline/pkg/database"
	"github.com/audioscribe/pipeline/pkg/ingest"
	"github.com/audioscribe/pipeline/pkg/progress"
	"github.com/audioscribe/pipeline/pkg/rabbitmq"
	"github.com/audioscribe/pipeline/pkg/retry"
	"github.com/audioscribe/pipeline/pkg/storage"
)

func main() {
	log.Println("=== Ingest Worker Starting ===")

	cfg := config.Load()

	log.Printf("Config:\n")
	log.Printf("  RabbitMQ URL: %s\n", cfg.RabbitMQ.URL)
	log.Printf("  Ingest Queue: %s\n", cfg.RabbitMQ.IngestQueue)
	log.Printf("  Transcribe Queue: %s\n", cfg.RabbitMQ.TranscribeQueue)
	log.Printf("  MinIO Endpoint: %s\n", cfg.MinIO.Endpoint)
	log.Printf("  Bucket Name: %s\n", cfg.MinIO.Bucket)
	log.Printf("  Database: %s\n", cfg.Database.Driver)
	log.Printf("  Redis: %s:%s\n", cfg.Redis.Host, cfg.Redis.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	// Initialize database
	db, err := database.Open(database.Config{
		Driver:   cfg.Database.Driver,
		Host:     cfg.Database.Host,
		Port:     cfg.Database.Port,
		User:     cfg.Database.User,
		Password: cfg.Database.Password,
		DBName:   cfg.Database.DBName,
		MaxPool:  cfg.Database.MaxPool,
		Path:     cfg.Database.Path,
	})
	if err != nil {
		log.Fatalf("Failed to initialize database: %s", err)
	}
	defer db.Close()
	log.Println("✓ Database connected")

	// Progress store, degrades to memory when Redis is down
	tracker, closeProgress := progress.Connect(ctx,
		progress.RedisOptions(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB))
	defer closeProgress()

	// Initialize MinIO client
	minioClient, err := storage.InitMinIOClient(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Region, cfg.MinIO.UseSSL)
	if err != nil {
		log.Fatalf("Failed to initialize MinIO client: %s", err)
	}
	policy := retry.DefaultPolicy()
	policy.MaxAttempts = cfg.Worker.RetryAttempts
	policy.InitialInterval = cfg.Worker.RetryInitial
	objects := storage.New(minioClient, cfg.MinIO.Bucket, storage.Options{
		URLExpiry: cfg.MinIO.URLExpiry,
		PartSize:  cfg.MinIO.PartSize,
		Retry:     policy,
	})
	if err := objects.EnsureBucket(ctx); err != nil {
		log.Fatalf("Failed to ensure bucket exists: %s", err)
	}
	log.Println("✓ MinIO connected")

	// Create RabbitMQ producer and consumer
	producer, err := rabbitmq.NewProducer(cfg.RabbitMQ.URL, cfg.RabbitMQ.TranscribeQueue)
	if err != nil {
		log.Fatalf("Failed to create producer: %s", err)
	}
	defer producer.Close()

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue, 1)
	if err != nil {
		log.Fatalf("Failed to create consumer: %s", err)
	}
	defer consumer.Close()

	worker := ingest.NewWorker(tracker, objects, db, producer, cfg.RabbitMQ.TranscribeQueue)

	log.Println("\n=== Ingest Worker Ready ===")
	if err := consumer.Start(ctx, worker.Handle); err != nil {
		log.Printf("[✗] Consumer stopped: %s\n", err)
		return
	}
	log.Println("\n[!] Shutdown signal received, closing...")
}
