package main

import (
	"context"
	"encoding/json"
	"log"
	"os"
	"os/signal"
	"syscall"

	"presence/internal/attendance"
	"presence/internal/config"
	"presence/internal/queue"
	"presence/internal/store"
)

// Worker hosts the expiry sweeper and drains accepted-redemption events for
// audit logging. Sweeping runs here, not in the API process, so abandoned
// lectures get reconciled even when no server instance is handling traffic.
func main() {
	cfg := config.Load()
	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	sigCh := make(chan os.Signal, 1)
	signal.Notify(sigCh, syscall.SIGINT, syscall.SIGTERM)
	go func() {
		<-sigCh
		log.Println("shutdown signal received")
		cancel()
	}()

	db, err := store.NewDB(cfg.DatabaseURL)
	if err != nil {
		log.Fatalf("db connect failed: %v", err)
	}
	defer db.Close()

	if err := db.EnsureSchema(ctx); err != nil {
		log.Printf("warning: schema bootstrap failed: %v", err)
	}

	redisClient := store.NewRedis(cfg.RedisAddr)
	defer redisClient.Close()

	var q queue.Queue
	if cfg.QueueBackend == "memory" {
		q = queue.NewInMemory(64)
	} else {
		q = queue.NewRedisQueue(redisClient.Client, "presence:redemptions")
	}

	repo := attendance.NewRepository(db.Client)
	svc := attendance.NewService(repo)

	sweeper := attendance.NewSweeper(svc, cfg.SweepInterval)
	go sweeper.Run(ctx)

	messages, err := q.Consume(ctx)
	if err != nil {
		log.Fatalf("queue consume init failed: %v", err)
	}

	log.Println("worker started, waiting for redemption events...")
	for msg := range messages {
		if msg.Type != "redemption" {
			continue
		}

		var rec attendance.Record
		if err := json.Unmarshal(msg.Body, &rec); err != nil {
			log.Printf("bad redemption event: %v", err)
			continue
		}

		log.Printf("attendance recorded: lecture=%s student=%s at=%s", rec.LectureID, rec.StudentID, rec.Timestamp.Format("15:04:05"))
	}

	log.Println("worker stopped")
}
