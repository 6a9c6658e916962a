package main

import (
	"context"
	"database/sql"
	"fmt"
	"log"
	"time"

	"github.com/IBM/sarama"
	"github.com/gin-contrib/cors"
	"github.com/gin-gonic/gin"
	_ "github.com/go-sql-driver/mysql"
	"github.com/redis/go-redis/v9"
	"github.com/spf13/viper"
	gormmysql "gorm.io/driver/mysql"
	"gorm.io/gorm"

	"github.com/george-bobby/proddy-platform-sub005/backend/config"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/announce"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/cache"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/httpapi/handlers"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/persist"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/presence"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/replica"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/store"
	"github.com/george-bobby/proddy-platform-sub005/backend/internal/ws"
)

func initConfig() (*config.Config, error) {
	cfg := &config.Config{}
	v := viper.New()
	v.SetConfigName("syncConfig")
	v.SetConfigType("yaml")
	// 兼容从项目根目录或 backend 目录启动
	v.AddConfigPath("./backend/config")
	v.AddConfigPath("./config")
	v.AddConfigPath(".")
	if err := v.ReadInConfig(); err != nil {
		return nil, err
	}
	if err := v.Unmarshal(cfg); err != nil {
		return nil, err
	}
	return cfg, nil
}

func main() {
	cfg, err := initConfig()
	if err != nil {
		log.Fatalf("init config failed: %v", err)
	}

	rdb := redis.NewClient(&redis.Options{
		Addr:     cfg.Redis.Addr,
		Password: cfg.Redis.Password,
	})
	if err = rdb.Ping(context.Background()).Err(); err != nil {
		log.Fatalf("Failed to connect to redis: %v", err)
	}
	defer rdb.Close()

	db, err := sql.Open("mysql", cfg.Mysql.DSN)
	if err != nil {
		log.Fatalf("Failed to connect to database: %v", err)
	}
	defer db.Close()

	gormDB, err := gorm.Open(gormmysql.Open(cfg.Mysql.DSN), &gorm.Config{})
	if err != nil {
		log.Fatalf("Failed to open gorm: %v", err)
	}

	// === 初始化 Kafka Producer（可选：没配 brokers 就不发公告） ===
	var producer sarama.SyncProducer
	if len(cfg.Kafka.Brokers) > 0 {
		kafkaCfg := sarama.NewConfig()
		// SyncProducer 必须开启 Return.Successes
		kafkaCfg.Producer.Return.Successes = true
		kafkaCfg.Producer.RequiredAcks = sarama.WaitForLocal
		producer, err = sarama.NewSyncProducer(cfg.Kafka.Brokers, kafkaCfg)
		if err != nil {
			log.Fatalf("Failed to connect kafka: %v", err)
		}
		defer producer.Close()
	}

	// 公告走本地队列 + worker 重试发送；公告是建议性的，队列满允许丢
	dispatcher := announce.NewDispatcher(
		producer,
		cfg.Kafka.Topic,
		announce.NewSemaphoreControl(),
		announce.DispatcherOptions{
			QueueSize:   10_000,
			Workers:     4,
			MaxRetry:    3,
			BaseBackoff: 50 * time.Millisecond,
			MaxBackoff:  1 * time.Second,
		},
	)

	documentStore := store.NewDocumentStore(db)
	memberStore := store.NewMemberStore(gormDB)
	folderStore := store.NewFolderStore(gormDB)
	directory := cache.NewCachedDirectory(rdb, memberStore)
	presenceCache := cache.NewRedisPresence(rdb)

	replicaStore := replica.NewStore()
	gate := persist.NewGate(documentStore, persist.RealClock())
	tracker := presence.NewTracker()
	coordinator := presence.NewCoordinator(tracker, dispatcher, directory, replicaStore)

	debounce := time.Duration(cfg.Sync.DebounceMs) * time.Millisecond
	if debounce <= 0 {
		debounce = 1000 * time.Millisecond
	}

	hub := ws.NewHub(presenceCache)
	manager := ws.NewManager(hub, &ws.Deps{
		Store:     replicaStore,
		Gate:      gate,
		Tracker:   tracker,
		Coord:     coordinator,
		Documents: documentStore,
		Debounce:  debounce,
	})

	docHandler := handlers.NewDocumentHandler(documentStore, folderStore)
	presenceHandler := handlers.NewPresenceHandler(presenceCache)

	r := gin.New()
	// 中间件
	r.Use(gin.Logger())
	r.Use(gin.Recovery())
	r.Use(cors.New(cors.Config{
		AllowOriginFunc:  func(origin string) bool { return true },
		AllowMethods:     []string{"GET", "POST", "PUT", "PATCH", "DELETE", "HEAD", "OPTIONS"},
		AllowHeaders:     []string{"Origin", "Content-Type", "Accept", "Authorization"},
		ExposeHeaders:    []string{"Content-Length"},
		AllowCredentials: false,
		MaxAge:           12 * time.Hour,
	}))

	// 路由
	sync := r.Group("/sync")
	sync.GET("/ws", manager.WebSocketConnect)
	sync.POST("/docs", docHandler.CreateDocument)
	sync.GET("/docs/:docID", docHandler.GetDocument)
	sync.DELETE("/folders/:folderID", docHandler.DeleteFolder)
	sync.GET("/active", presenceHandler.ActiveDocuments)
	r.GET("/healthz", func(c *gin.Context) {
		c.JSON(200, gin.H{
			"message": "ok",
		})
	})

	port := cfg.Running.Port
	_ = r.Run(fmt.Sprintf(":%d", port))
}
