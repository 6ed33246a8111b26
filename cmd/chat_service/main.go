package main

import (
	"context"
	"fmt"
	"log"
	"os"
	"os/signal"
	"syscall"
	"time"

	"realtime_chat_service/internal/chat/app"
	"realtime_chat_service/internal/chat/repository"
	"realtime_chat_service/internal/chat/router"
	"realtime_chat_service/pkg/config"
	"realtime_chat_service/pkg/database"
	"realtime_chat_service/pkg/logger"
	testtool "realtime_chat_service/pkg/test_tool"
	"realtime_chat_service/pkg/token"

	"github.com/gofiber/fiber/v2"
	fiber_log "github.com/gofiber/fiber/v2/middleware/logger"
	"go.uber.org/zap"
)

func seconds(n int) time.Duration {
	return time.Duration(n) * time.Second
}

func main() {
	logger.Log = logger.Initialize(config.EnvConfig.ChatService, config.EnvConfig.ChatServiceLogPath)
	defer logger.Log.Sync()
	cfg := config.LoadConfig[config.Chat](config.EnvConfig.ChatService, config.EnvConfig.ChatServiceYAMLPath)
	rt := cfg.Realtime.WithDefaults()

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	testtool.StartPprof("")

	// 1. Mongo (rooms, messages)
	uri := fmt.Sprintf("mongodb://%s:%s@%s:%d", cfg.Mongo.User, cfg.Mongo.Password, cfg.Mongo.Host, cfg.Mongo.Port)
	mongo, err := database.NewMongoDB(ctx,
		database.Connection{
			ConnectStr:    uri,
			RetryCount:    cfg.Mongo.RetryCount,
			RetryInterval: seconds(cfg.Mongo.RetryInterval),
		},
		cfg.Mongo.Database)
	if err != nil {
		logger.Log.Fatal("Unable to connect to mongoDB database after retries", zap.String("host", cfg.Mongo.Host), zap.Error(err))
	}
	defer mongo.Close(context.Background())
	if err := repository.EnsureMessageIndexes(ctx, mongo.Database); err != nil {
		logger.Log.Fatal("create message indexes", zap.Error(err))
	}

	// 2. PostgreSQL (notifications via pgx, attachments via gorm)
	pgConn := database.Connection{
		ConnectStr: fmt.Sprintf("postgres://%s:%s@%s:%d/%s?sslmode=disable",
			cfg.Postgres.User, cfg.Postgres.Password, cfg.Postgres.Host, cfg.Postgres.Port, cfg.Postgres.Database),
		RetryCount:    cfg.Postgres.RetryCount,
		RetryInterval: seconds(cfg.Postgres.RetryInterval),
	}
	pool, err := database.NewDatabaseConnection(ctx, pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to connect to postgreSQL database after retries", zap.String("host", cfg.Postgres.Host), zap.Error(err))
	}
	defer pool.Close()
	if err := repository.MigrateNotifications(ctx, pool); err != nil {
		logger.Log.Fatal("migrate notifications", zap.Error(err))
	}
	gormDB, err := database.NewGormConnection(pgConn)
	if err != nil {
		logger.Log.Fatal("Unable to open gorm connection", zap.Error(err))
	}
	if err := repository.AutoMigrateAttachments(gormDB); err != nil {
		logger.Log.Fatal("migrate attachments", zap.Error(err))
	}

	// 3. Redis (presence, pub/sub, room lock)
	masterName, sentinels := config.GetRedisSetting()
	redisClient, err := database.NewRedisClient(ctx, database.RedisConnection{
		MasterName:    masterName,
		SentinelAddrs: sentinels,
		Addr:          cfg.Redis.Addr,
		Password:      cfg.Redis.Password,
		DB:            cfg.Redis.RedisDB,
	})
	if err != nil {
		logger.Log.Fatal("connect redis", zap.Error(err))
	}
	defer redisClient.Close()

	pubsub := repository.NewRedisPubSub(redisClient, rt.SendQueueSize)
	var bus repository.EventBus = pubsub
	var source repository.EventSource = repository.NewBusEventSource(pubsub)

	// 4. Kafka journal (optional)
	if len(cfg.Kafka.Brokers) > 0 {
		kc := database.KafkaConnection{
			Brokers:       cfg.Kafka.Brokers,
			Topic:         cfg.Kafka.Topic,
			GroupID:       cfg.Kafka.GroupID,
			RetryCount:    cfg.Kafka.RetryCount,
			RetryInterval: seconds(cfg.Kafka.RetryInterval),
		}
		writer, err := database.NewKafkaWriterWithRetry(kc)
		if err != nil {
			logger.Log.Fatal("kafka writer", zap.Error(err))
		}
		journal := repository.NewKafkaJournal(pubsub, writer)
		defer journal.Close()
		bus = journal

		reader, err := database.NewKafkaReader(kc)
		if err != nil {
			logger.Log.Fatal("kafka reader", zap.Error(err))
		}
		ks := repository.NewKafkaEventSource(reader, seconds(cfg.Kafka.RetryInterval))
		defer ks.Close()
		source = ks
	}

	pushers := []repository.NotificationPusher{repository.NewChannelPusher(pubsub)}

	// 5. RabbitMQ offline push (optional)
	if cfg.RabbitMQ.URL != "" {
		conn, err := database.ConnectRabbitMQWithRetry(database.Connection{
			ConnectStr:    cfg.RabbitMQ.URL,
			RetryCount:    cfg.RabbitMQ.RetryCount,
			RetryInterval: seconds(cfg.RabbitMQ.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("rabbitmq", zap.Error(err))
		}
		defer conn.Close()
		ch, err := database.GetRabbitMQChannelWithRetry(conn, cfg.RabbitMQ.RetryCount, seconds(cfg.RabbitMQ.RetryInterval))
		if err != nil {
			logger.Log.Fatal("rabbitmq channel", zap.Error(err))
		}
		if err := database.DeclareQueue(ch, cfg.RabbitMQ.Queue); err != nil {
			logger.Log.Fatal("rabbitmq queue", zap.String("queue", cfg.RabbitMQ.Queue), zap.Error(err))
		}
		pushers = append(pushers, repository.NewRabbitPusher(database.NewRabbitRepository(ch), cfg.RabbitMQ.Queue))
	}

	// 6. MinIO attachment resolver (optional)
	var resolver repository.AttachmentResolver = repository.PassthroughResolver{}
	if cfg.MinIO.Endpoint != "" {
		mc, err := database.NewMinIOConnection(ctx, database.MinIOConnection{
			Endpoint:      cfg.MinIO.Endpoint,
			User:          cfg.MinIO.User,
			Password:      cfg.MinIO.Password,
			BucketName:    cfg.MinIO.Bucket,
			UseSSL:        cfg.MinIO.UseSSL,
			RetryCount:    cfg.MinIO.RetryCount,
			RetryInterval: seconds(cfg.MinIO.RetryInterval),
		})
		if err != nil {
			logger.Log.Fatal("minio", zap.String("endpoint", cfg.MinIO.Endpoint), zap.Error(err))
		}
		resolver = repository.NewMinIOAttachmentResolver(mc.Client, mc.BucketName, cfg.MinIO.PresignExpiry)
	}

	// 7. Repository / UseCases
	rooms := repository.NewMongoRoomRepository(mongo.Database)
	messages := repository.NewMongoMessageRepository(mongo.Database)
	presence := repository.NewRedisPresence(redisClient, rt.PresenceTimeout)
	verifier := token.NewJWTVerifier([]byte(cfg.JWT.Secret), cfg.JWT.Issuer)

	hub := app.NewHub(app.SessionDeps{
		Rooms:       rooms,
		Messages:    messages,
		Attachments: repository.NewAttachmentRepo(gormDB),
		Presence:    presence,
		Bus:         bus,
		Locker:      repository.NewRedisRoomLocker(redisClient, cfg.Redis.LockTTL),
		Resolver:    resolver,
		Config:      rt,
	})
	defer hub.Close()

	dispatcher := app.NewNotificationDispatcher(app.DispatcherDeps{
		Rooms:         rooms,
		Presence:      presence,
		Notifications: repository.NewNotificationRepository(pool),
		Pushers:       pushers,
		Retry:         rt.Retry,
		Retention:     cfg.NotificationRetention,
	})
	go func() {
		if err := dispatcher.Run(ctx, source); err != nil {
			logger.Log.Error("notification dispatcher stopped", zap.Error(err))
		}
	}()

	// 8. gRPC health
	healthSrv, err := database.NewHealthServer(cfg.GRPCPort)
	if err != nil {
		logger.Log.Fatal("grpc health", zap.Error(err))
	}
	go healthSrv.Serve()
	healthSrv.SetServing("", true)

	// 9. 啟動 Fiber
	r := fiber.New()
	file, err := os.OpenFile(fmt.Sprintf("%s/access.log", config.EnvConfig.ChatServiceLogPath), os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0666)
	if err != nil {
		log.Fatalf("Failed to open log file: %v", err)
	}
	defer file.Close()

	r.Use(fiber_log.New(fiber_log.Config{
		Output: file, // 将日志输出到文件
	}))

	router.RegisterRoutes(r, router.Handlers{
		Connections:   app.NewConnectionHandler(hub, verifier, bus, rt),
		Notifications: app.NewNotificationHandler(dispatcher, pubsub, verifier, rt),
		Rooms:         app.NewRoomHandler(app.NewRoomUseCase(rooms, messages, rt)),
		Verifier:      verifier,
	})

	go func() {
		port := ":" + cfg.Port
		logger.Log.Info("Chat Service listening", zap.String("port", port))
		if err := r.Listen(port); err != nil {
			logger.Log.Error("fiber listen", zap.Error(err))
			stop()
		}
	}()

	<-ctx.Done()
	logger.Log.Info("shutting down")
	healthSrv.SetServing("", false)
	if err := r.ShutdownWithTimeout(rt.LeaveTimeout + rt.WriteTimeout); err != nil {
		logger.Log.Error("fiber shutdown", zap.Error(err))
	}
	healthSrv.Stop()
}
