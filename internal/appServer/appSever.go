package appServer

import (
	"context"
	"crypto/tls"
	"log"
	"net/http"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/eventbooker/ticketing/config"
	repository "github.com/eventbooker/ticketing/internal/database/postgres"
	"github.com/eventbooker/ticketing/internal/service"
	"github.com/eventbooker/ticketing/internal/transport"
	"github.com/eventbooker/ticketing/internal/worker"

	"github.com/eventbooker/ticketing/pkg/eticket"
	"github.com/eventbooker/ticketing/pkg/orderid"
	"github.com/eventbooker/ticketing/pkg/postgres"
	"github.com/eventbooker/ticketing/pkg/queue"
	"github.com/eventbooker/ticketing/pkg/redis"
	"github.com/eventbooker/ticketing/pkg/sms"

	"github.com/gin-gonic/gin"
	"github.com/sirupsen/logrus"
)

type Server struct {
	httpServer *http.Server
}

func (s *Server) Run(cfg *config.Config, handler http.Handler) error {
	s.httpServer = &http.Server{
		Addr:              ":" + cfg.Server.Port,
		Handler:           handler,
		MaxHeaderBytes:    1 << 20,
		ReadTimeout:       10 * time.Second,
		WriteTimeout:      cfg.Server.Timeout,
		IdleTimeout:       cfg.Server.IdleTimeout,
		ReadHeaderTimeout: 3 * time.Second,
		TLSConfig:         &tls.Config{MinVersion: tls.VersionTLS12},
		ErrorLog:          log.New(os.Stderr, "SERVER ERROR: ", log.LstdFlags),
	}
	return s.httpServer.ListenAndServe()
}

func (s *Server) Shutdown(ctx context.Context) error {
	return s.httpServer.Shutdown(ctx)
}

func NewServer(cfg *config.Config) {

	logrus.SetFormatter(&logrus.JSONFormatter{})
	logrus.SetOutput(os.Stdout)
	logrus.SetLevel(logrus.InfoLevel)
	logger := logrus.StandardLogger()

	// Initialize database
	db, err := postgres.NewPostgresDB(&cfg.Database)
	if err != nil {
		log.Fatalf("Failed to initialize database: %v", err)
	}
	defer db.Close()

	// Run database migrations
	if err := postgres.RunMigrations(db); err != nil {
		logger.Fatalf("Failed to run migrations: %v", err)
	}

	// Initialize repositories
	repos := repository.NewRepositories(db, orderid.NewSub)

	// Initialize Redis queue
	var taskQueue queue.Queue
	var taskPublisher service.TaskPublisher

	redisClient, err := redis.NewRedisClient(&cfg.Redis)
	if err != nil {
		logger.Errorf("Failed to connect to Redis: %v. Continuing without queue...", err)
	} else {
		defer redisClient.Close()

		redisQueue, err := queue.NewRedisQueue(redisClient, queue.DefaultRedisQueueConfig(), logger)
		if err != nil {
			logger.Errorf("Failed to initialize Redis queue: %v. Continuing without queue...", err)
		} else {
			logger.Info("Redis queue initialized")
			taskQueue = redisQueue
			taskPublisher = service.NewQueueAdapter(redisQueue)
		}
	}

	// Initialize services
	promotionService := service.NewPromotionService(repos.Promotion, repos.Event)
	bookingService := service.NewBookingService(
		repos.Event,
		repos.Customer,
		repos.Sale,
		promotionService,
		taskPublisher,
		service.BookingConfig{
			PendingTTL:    cfg.Booking.PendingTTL,
			CreateRetries: cfg.Booking.CreateRetries,
			RetryBackoff:  cfg.Booking.RetryBackoff,
			ReclaimBatch:  cfg.Booking.ReclaimBatch,
		},
		logger,
	)
	verificationService := service.NewVerificationService(repos.Sale, repos.Event, repos.Access, time.Local, logger)

	// Initialize task handler if queue is available
	if taskQueue != nil {
		var notifier queue.Notifier
		if cfg.SMS.Enabled && cfg.SMS.BaseURL != "" {
			notifier = sms.NewClient(cfg.SMS.BaseURL, cfg.SMS.APIKey, cfg.SMS.Sender)
			logger.Info("SMS notifier initialized")
		} else {
			logger.Warn("SMS gateway not configured, notifications disabled")
		}

		var renderer queue.Renderer
		if cfg.ETicket.Enabled && cfg.ETicket.BaseURL != "" {
			renderer = eticket.NewRenderer(cfg.ETicket.BaseURL)
		} else {
			logger.Warn("E-ticket renderer not configured, rendering disabled")
		}

		taskHandler := queue.NewTaskHandler(bookingService, repos.Customer, notifier, renderer, logger)

		// Start queue consumer
		go func() {
			ctx := context.Background()
			if err := taskQueue.Subscribe(ctx, taskHandler.HandleTask); err != nil {
				logger.Errorf("Queue subscriber error: %v", err)
			}
		}()
		logger.Info("Queue subscriber started")
	}

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()

	// Initialize reclaim worker
	reclaimWorker := worker.NewReclaimWorker(bookingService, cfg.Worker.ReclaimInterval)
	go reclaimWorker.Start(ctx)

	// Initialize handlers
	bookingHandler := transport.NewBookingHandler(bookingService, promotionService)
	verificationHandler := transport.NewVerificationHandler(verificationService)

	// Setup HTTP server
	if cfg.Server.Mode == "release" {
		gin.SetMode(gin.ReleaseMode)
	}

	srv := new(Server)
	go func() {
		if err := srv.Run(cfg, transport.InitRoutes(bookingHandler, verificationHandler, cfg.Server.Timeout)); err != nil && err != http.ErrServerClosed {
			logger.Fatalf("error occured while running http server: %s", err.Error())
		}
	}()

	logger.Print("App Started")

	quit := make(chan os.Signal, 1)
	signal.Notify(quit, syscall.SIGTERM, syscall.SIGINT)
	<-quit

	logger.Print("App Shutting Down")

	if taskQueue != nil {
		if err := taskQueue.Close(); err != nil {
			logger.Errorf("error occured on queue shutdown: %s", err.Error())
		}
	}

	if err := srv.Shutdown(context.Background()); err != nil {
		logger.Errorf("error occured on server shutting down: %s", err.Error())
	}
}
