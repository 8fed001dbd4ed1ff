package main

import (
	"context"
	"errors"
	"log"
	"net/http"
	"os/signal"
	"syscall"
	"time"

	"github.com/audioscribe/pipeline/pkg/api"
	"github.com/audioscribe/pipeline/pkg/config"
	"github.com/audioscribe/pipeline/pkg/database"
	"github.com/audioscribe/pipeline/pkg/files"
	"github.com/audioscribe/pipeline/pkg/progress"
	"github.com/audioscribe/pipeline/pkg/rabbitmq"
	"github.com/audioscribe/pipeline/pkg/storage"
	"github.com/audioscribe/pipeline/pkg/transcription"
	"github.com/labstack/echo/v4"
	"github.com/labstack/echo/v4/middleware"
)

func main() {
	log.Println("=== Status API Starting ===")

	cfg := config.Load()

	log.Printf("Config:\n")
	log.Printf("  Port: %s\n", cfg.HTTP.Port)
	log.Printf("  Upload Folder: %s\n", cfg.HTTP.UploadFolder)
	log.Printf("  Ingest Queue: %s\n", cfg.RabbitMQ.IngestQueue)
	log.Printf("  Database: %s\n", cfg.Database.Driver)
	log.Printf("  Redis: %s:%s\n", cfg.Redis.Host, cfg.Redis.Port)

	ctx, stop := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer stop()

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

	tracker, closeProgress := progress.Connect(ctx,
		progress.RedisOptions(cfg.Redis.Host, cfg.Redis.Port, cfg.Redis.Password, cfg.Redis.DB))
	defer closeProgress()

	minioClient, err := storage.InitMinIOClient(cfg.MinIO.Endpoint, cfg.MinIO.AccessKey, cfg.MinIO.SecretKey, cfg.MinIO.Region, cfg.MinIO.UseSSL)
	if err != nil {
		log.Fatalf("Failed to initialize MinIO client: %s", err)
	}
	objects := storage.New(minioClient, cfg.MinIO.Bucket, storage.Options{URLExpiry: cfg.MinIO.URLExpiry})

	producer, err := rabbitmq.NewProducer(cfg.RabbitMQ.URL, cfg.RabbitMQ.IngestQueue)
	if err != nil {
		log.Fatalf("Failed to create producer: %s", err)
	}
	defer producer.Close()

	// Model listing is only offered with a speech key
	var models api.Models
	if cfg.Speech.Key != "" {
		speech, err := transcription.New(transcription.Config{
			Key:     cfg.Speech.Key,
			Region:  cfg.Speech.Region,
			Locale:  cfg.Speech.Locale,
			BaseURL: cfg.Speech.BaseURL,
		})
		if err != nil {
			log.Fatalf("Failed to initialize speech client: %s", err)
		}
		models = speech
	}

	service := files.NewService(db, objects, cfg.MinIO.URLExpiry)
	handler := api.NewHandler(tracker, service, producer, cfg.RabbitMQ.IngestQueue, cfg.HTTP.UploadFolder, models)

	e := echo.New()
	e.HideBanner = true
	e.Use(middleware.Logger())
	e.Use(middleware.Recover())
	handler.Register(e)

	go func() {
		<-ctx.Done()
		log.Println("\n[!] Shutdown signal received, closing...")
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
		defer cancel()
		if err := e.Shutdown(shutdownCtx); err != nil {
			log.Printf("[✗] Shutdown error: %v\n", err)
		}
	}()

	log.Println("\n=== Status API Ready ===")
	if err := e.Start(":" + cfg.HTTP.Port); err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Fatal(err)
	}
}
