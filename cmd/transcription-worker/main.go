package main

import (
	"context"
	"log"
	"os/signal"
	"syscall"

	"github.com/audioscribe/pipeline/pkg/config"
	"github.com/audioscribe/pipeline/pkg/database"
	"github.com/audioscribe/pipeline/pkg/rabbitmq"
	"github.com/audioscribe/pipeline/pkg/retry"
	"github.com/audioscribe/pipeline/pkg/storage"
	"github.com/audioscribe/pipeline/pkg/transcribe"
	"github.com/audioscribe/pipeline/pkg/transcription"
)

func main() {
	log.Println("=== Transcription Worker Starting ===")

	cfg := config.Load()

	log.Printf("Config:\n")
	log.Printf("  RabbitMQ URL: %s\n", cfg.RabbitMQ.URL)
	log.Printf("  Transcribe Queue: %s\n", cfg.RabbitMQ.TranscribeQueue)
	log.Printf("  MinIO Endpoint: %s\n", cfg.MinIO.Endpoint)
	log.Printf("  Bucket Name: %s\n", cfg.MinIO.Bucket)
	log.Printf("  Database: %s\n", cfg.Database.Driver)
	log.Printf("  Speech Region: %s (locale %s)\n", cfg.Speech.Region, cfg.Speech.Locale)
	log.Printf("  Poll: every %v, up to %d checks\n", cfg.Worker.PollInterval, cfg.Worker.MaxPollAttempts)
	log.Printf("  Stuck Sweep: every %v, after %v\n", cfg.Worker.SweepInterval, cfg.Worker.StuckAfter)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

	speech, err := transcription.New(transcription.Config{
		Key:     cfg.Speech.Key,
		Region:  cfg.Speech.Region,
		Locale:  cfg.Speech.Locale,
		BaseURL: cfg.Speech.BaseURL,
	})
	if err != nil {
		log.Fatalf("Failed to initialize speech client: %s", err)
	}

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

	consumer, err := rabbitmq.NewConsumer(cfg.RabbitMQ.URL, cfg.RabbitMQ.TranscribeQueue, 1)
	if err != nil {
		log.Fatalf("Failed to create consumer: %s", err)
	}
	defer consumer.Close()

	worker := transcribe.NewWorker(speech, objects, db, transcribe.Options{
		PollInterval: cfg.Worker.PollInterval,
		MaxAttempts:  cfg.Worker.MaxPollAttempts,
	})

	// Check for stuck files
	sweeper := transcribe.NewSweeper(db, cfg.Worker.StuckAfter)
	log.Println("[*] Checking for stuck files...")
	if _, err := sweeper.Sweep(ctx); err != nil {
		log.Printf("[!] Error checking stuck files: %v\n", err)
	}
	go sweeper.Run(ctx, cfg.Worker.SweepInterval)

	log.Println("\n=== Transcription Worker Ready ===")
	if err := consumer.Start(ctx, worker.Handle); err != nil {
		log.Printf("[✗] Consumer stopped: %s\n", err)
		return
	}
	log.Println("\n[!] Shutdown signal received, closing...")
}
