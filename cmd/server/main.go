package main

import (
	"context"
	"fmt"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/NovakDetti/magicfitai-sub001/internal/config"
	"github.com/NovakDetti/magicfitai-sub001/internal/gateway"
	"github.com/NovakDetti/magicfitai-sub001/internal/handler"
	"github.com/NovakDetti/magicfitai-sub001/internal/infrastructure/cache"
	"github.com/NovakDetti/magicfitai-sub001/internal/infrastructure/database"
	"github.com/NovakDetti/magicfitai-sub001/internal/infrastructure/mq"
	"github.com/NovakDetti/magicfitai-sub001/internal/job"
	"github.com/NovakDetti/magicfitai-sub001/pkg/idgen"
)

func main() {
	cfg := config.LoadConfig("config/config.yaml")

	idgen.Init(1)

	db := database.InitMySQL(&cfg.MySQL)
	redisClient := cache.InitRedis(&cfg.Redis)

	mq.InitKafka(&cfg.Kafka)
	defer mq.CloseKafka()

	gw := gateway.NewStripeGateway(&cfg.Stripe)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	dispatchSender := job.NewDispatchSender(db, cfg)
	go dispatchSender.Start(ctx)

	stuckSweep := job.NewStuckSessionSweep(db, redisClient, cfg)
	go stuckSweep.Start(ctx)

	router := handler.SetupRouter(db, redisClient, cfg, gw)

	server := &http.Server{
		Addr:    fmt.Sprintf(":%d", cfg.Server.Port),
		Handler: router,
	}

	go func() {
		log.Printf("server listening on port %d", cfg.Server.Port)
		if err := server.ListenAndServe(); err != nil && err != http.ErrServerClosed {
			log.Fatalf("server failed: %v", err)
		}
	}()

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGINT, syscall.SIGTERM)
	<-quit

	log.Println("shutting down...")

	cancel()

	shutdownCtx, shutdownCancel := context.WithTimeout(context.Background(), 5*time.Second)
	defer shutdownCancel()

	if err := server.Shutdown(shutdownCtx); err != nil {
		log.Printf("server shutdown error: %v", err)
	}

	log.Println("server stopped")
}
