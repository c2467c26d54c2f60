package main

import (
	"bytes"
	"context"
	"fmt"
	"log/slog"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/jackc/pgx/v5/pgxpool"
	"github.com/minio/minio-go/v7"
	"github.com/minio/minio-go/v7/pkg/credentials"

	"github.com/avasiliu/tradegate/pkg/archiver"
	"github.com/avasiliu/tradegate/pkg/audit"
	"github.com/avasiliu/tradegate/pkg/config"
	"github.com/avasiliu/tradegate/pkg/workflow"
)

type minioUploader struct {
	client *minio.Client
	bucket string
}

func (m minioUploader) Upload(ctx context.Context, key string, body []byte) error {
	_, err := m.client.PutObject(ctx, m.bucket, key, bytes.NewReader(body), int64(len(body)), minio.PutObjectOptions{
		ContentType: "application/json",
	})
	if err != nil {
		return fmt.Errorf("upload %s: %w", key, err)
	}
	return nil
}

func main() {
	log := slog.New(slog.NewJSONHandler(os.Stdout, &slog.HandlerOptions{Level: slog.LevelInfo}))
	ctx, cancel := signal.NotifyContext(context.Background(), syscall.SIGINT, syscall.SIGTERM)
	defer cancel()

	pool, err := pgxpool.New(ctx, config.PostgresURL())
	if err != nil {
		log.Error("postgres connect failed", "error", err)
		os.Exit(1)
	}
	defer pool.Close()

	minioClient, err := minio.New(config.EnvOr("AUDIT_S3_ENDPOINT", "localhost:9000"), &minio.Options{
		Creds:  credentials.NewStaticV4(config.EnvOr("AUDIT_S3_ACCESS_KEY", "minioadmin"), config.EnvOr("AUDIT_S3_SECRET_KEY", "minioadmin"), ""),
		Secure: config.EnvOr("AUDIT_S3_SECURE", "false") == "true",
	})
	if err != nil {
		log.Error("minio init failed", "error", err)
		os.Exit(1)
	}

	svc := archiver.New(workflow.NewStore(pool), audit.NewStore(pool), minioUploader{
		client: minioClient,
		bucket: config.EnvOr("AUDIT_S3_BUCKET", "tradegate-audit"),
	})

	runOnce := config.EnvOr("ARCHIVER_RUN_ONCE", "true") == "true"
	interval := time.Duration(config.EnvOrInt("ARCHIVER_INTERVAL_SEC", 300)) * time.Second
	batchLimit := config.EnvOrInt("ARCHIVER_BATCH_LIMIT", 100)

	run := func() {
		archived, err := svc.ArchiveBatch(ctx, batchLimit)
		if err != nil {
			log.Error("archive batch incomplete", "archived", archived, "error", err)
			return
		}
		if archived > 0 {
			log.Info("archived settled requests", "archived", archived)
		}
	}

	run()
	if runOnce {
		return
	}

	ticker := time.NewTicker(interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			run()
		}
	}
}
