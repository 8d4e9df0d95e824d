package main

import (
	"context"
	"fmt"
	"os"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-gonic/gin"
	"github.com/redis/go-redis/v9"
	"github.com/rs/zerolog"

	"syncServer/backend/config"
	"syncServer/backend/internal/cache"
	"syncServer/backend/internal/collab"
	"syncServer/backend/internal/httpapi/handlers"
	"syncServer/backend/internal/ot"
	"syncServer/backend/internal/store"
	"syncServer/backend/internal/ws"
)

func parseStrategy(s string) ot.Strategy {
	switch s {
	case "merge":
		return ot.Merge
	case "manual":
		return ot.Manual
	default:
		return ot.LastWriteWins
	}
}

func main() {
	logger := zerolog.New(os.Stdout).With().Timestamp().Logger()

	cfg, err := config.Load()
	if err != nil {
		logger.Fatal().Err(err).Msg("init config failed")
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err := rdb.Ping(context.Background()).Err(); err != nil {
		logger.Fatal().Err(err).Msg("connect redis failed")
	}
	defer rdb.Close()

	db, err := store.InitMySQL(cfg.Mysql.DSN)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect mysql failed")
	}

	kafkaCfg := sarama.NewConfig()
	kafkaCfg.Producer.Return.Successes = true
	kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
	producer, err := sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
	if err != nil {
		logger.Fatal().Err(err).Msg("connect kafka failed")
	}
	defer producer.Close()

	kafkaSem := collab.NewSemaphore(100)
	wsSem := collab.NewSemaphore(100)

	dispatcher := collab.NewDispatcher(producer, cfg.Kafka.Topic, kafkaSem,
		logger.With().Str("component", "dispatcher").Logger(),
		collab.DispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		})
	// Drains the queue before the deferred producer.Close runs.
	defer dispatcher.Close()

	presence := cache.NewRedisPresence(rdb)
	hub := ws.NewHub(presence)

	svc := collab.NewService(store.New(db), hub, dispatcher,
		logger.With().Str("component", "sync").Logger(),
		collab.Options{
			HistoryWindow: cfg.Sync.HistoryWindow,
			FlushInterval: cfg.FlushInterval(),
			MaxRetry:      cfg.Sync.MaxRetry,
			Strategy:      parseStrategy(cfg.Sync.Strategy),
		})
	svc.Start()
	defer svc.Close()

	manager := ws.NewManager(hub, svc, wsSem, logger.With().Str("component", "ws").Logger())

	r := gin.New()
	r.Use(gin.Logger(), gin.Recovery())

	sync := r.Group("/sync")
	sync.GET("/ws", manager.WebSocketConnect)
	handlers.New(svc).Register(sync)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{"ok": true})
	})

	if err := r.Run(fmt.Sprintf(":%d", cfg.Running.Port)); err != nil {
		logger.Fatal().Err(err).Msg("server stopped")
	}
}
