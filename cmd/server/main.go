package main // Entry point package

import (
	"context"
	"errors"
	"net/http"
	"os"
	"os/signal"
	"sync"
	"syscall"
	"time"

	"github.com/hibiken/asynq"
	"github.com/labstack/echo/v4"
	echomw "github.com/labstack/echo/v4/middleware"
	"github.com/redis/go-redis/v9"
	"github.com/sirupsen/logrus"

	"github.com/iliyamo/room-reservation/internal/calendar"
	"github.com/iliyamo/room-reservation/internal/config"
	"github.com/iliyamo/room-reservation/internal/conflict"
	"github.com/iliyamo/room-reservation/internal/database"
	"github.com/iliyamo/room-reservation/internal/handler"
	"github.com/iliyamo/room-reservation/internal/logging"
	"github.com/iliyamo/room-reservation/internal/middleware"
	"github.com/iliyamo/room-reservation/internal/queue"
	"github.com/iliyamo/room-reservation/internal/reaper"
	"github.com/iliyamo/room-reservation/internal/repository"
	"github.com/iliyamo/room-reservation/internal/reservation"
	"github.com/iliyamo/room-reservation/internal/reviewlock"
	"github.com/iliyamo/room-reservation/internal/router"
	"github.com/iliyamo/room-reservation/internal/worker"
)

func main() {
	cfg := config.Load()
	logger := logging.New(cfg.LogLevel, cfg.LogFormat)
	log := logging.Component(logger, "main")

	db, err := database.Open(database.Options{
		Driver: cfg.DBDriver,
		DSN:    cfg.DBDSN,
		User:   cfg.DBUser,
		Pass:   cfg.DBPass,
		Host:   cfg.DBHost,
		Port:   cfg.DBPort,
		Name:   cfg.DBName,
	})
	if err != nil {
		log.WithError(err).Fatal("database unavailable")
	}
	defer db.Close()
	if cfg.DBAutoMigrate {
		if err := database.Migrate(context.Background(), db); err != nil {
			log.WithError(err).Fatal("migration failed")
		}
	}

	// Redis is optional: without it caching and rate limiting are off
	rdb := config.NewRedisClient()
	if rdb == nil {
		log.Warn("redis unavailable; response cache and rate limiting disabled")
	} else {
		defer rdb.Close()
	}

	reservations := repository.NewReservationRepo(db)
	rooms := repository.NewRoomRepo(db)
	users := repository.NewUserRepo(db)
	tokens := repository.NewTokenRepo(db)
	locks := reviewlock.NewManager(reservations)

	deps := reservation.Deps{
		Store:    reservations,
		Rooms:    rooms,
		Detector: conflict.NewDetector(reservations),
		Locks:    locks,
		Log:      logging.Component(logger, "reservation"),
	}
	var calClient *calendar.Client
	if cfg.Calendar.Enabled {
		calClient = newCalendarClient(cfg.Calendar, rdb, logging.Component(logger, "calendar"))
		deps.Calendar = calClient
	}
	if cfg.AMQPURL != "" {
		deps.Notifier = queue.NewPublisher(cfg.AMQPURL, cfg.NotifyQueue, logging.Component(logger, "publisher"))
	}
	svc := reservation.NewService(deps)

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()
	var wg sync.WaitGroup

	// ---- Review hold reaper ----
	rp := reaper.New(locks, cfg.ReaperInterval, logging.Component(logger, "reaper"))
	var sweepServer *worker.Server
	switch cfg.ReaperMode {
	case config.ReaperAsynq:
		if rdb == nil {
			log.Fatal("REAPER_MODE=asynq requires redis")
		}
		opts := rdb.Options()
		hostname, _ := os.Hostname()
		sweepServer = worker.NewServer(asynq.RedisClientOpt{
			Addr:      opts.Addr,
			Password:  opts.Password,
			DB:        opts.DB,
			TLSConfig: opts.TLSConfig,
		}, rp, rp.Interval(), hostname, logger)
		if err := sweepServer.Start(); err != nil {
			log.WithError(err).Fatal("review sweep worker failed to start")
		}
	default:
		wg.Add(1)
		go func() {
			defer wg.Done()
			rp.Run(ctx)
		}()
	}

	// ---- Notification consumer ----
	if cfg.NotifyConsumerEnabled && cfg.AMQPURL != "" {
		consumer := queue.NewConsumer(cfg.AMQPURL, cfg.NotifyQueue, logging.Component(logger, "consumer"))
		wg.Add(1)
		go func() {
			defer wg.Done()
			if err := consumer.Run(ctx); err != nil && !errors.Is(err, context.Canceled) {
				log.WithError(err).Error("notification consumer stopped")
			}
		}()
	}

	// ---- HTTP ----
	e := echo.New()
	e.HideBanner = true
	e.Use(echomw.Recover())
	e.Use(echomw.RequestID())
	e.Use(middleware.RequestLogger(logging.Component(logger, "http")))

	cacheCfg := config.LoadCacheConfig()
	limiter := middleware.NewTokenBucket(config.LoadRateLimitConfig(), rdb)

	router.RegisterRoutes(e, db)
	router.RegisterAuth(e, handler.NewAuthHandler(cfg, users, tokens), cfg.JWTSecret)
	router.RegisterReservations(e, handler.NewReservationHandler(svc, logging.Component(logger, "handler")), cfg.JWTSecret, limiter)
	roomHandler := &handler.RoomHandler{
		Rooms: rooms,
		Cache: cacheCfg,
		Redis: rdb,
		Log:   logging.Component(logger, "handler"),
	}
	if calClient != nil {
		roomHandler.Calendar = calClient
	}
	router.RegisterRooms(e, roomHandler, cfg.JWTSecret, middleware.NewRedisCache(cacheCfg, rdb))
	router.RegisterAdmin(e, handler.NewReviewHandler(svc, logging.Component(logger, "handler")), roomHandler, cfg.JWTSecret, limiter)
	router.RegisterCalendar(e, &handler.CalendarHandler{
		ClientState: cfg.Calendar.ClientState,
		Log:         logging.Component(logger, "calendar-webhook"),
	})

	go func() {
		addr := ":" + cfg.Port
		log.WithFields(logrus.Fields{"addr": addr, "env": cfg.Env, "reaper": cfg.ReaperMode}).Info("listening")
		if err := e.Start(addr); err != nil && !errors.Is(err, http.ErrServerClosed) {
			log.WithError(err).Fatal("http server failed")
		}
	}()

	// subscribe after the server is up so the validation handshake can be answered
	var subscriptionID string
	if calClient != nil && cfg.Calendar.NotificationURL != "" {
		subscriptionID = subscribe(ctx, calClient, cfg.Calendar, log)
	}

	<-ctx.Done()
	log.Info("shutting down")

	shutdownCtx, cancel := context.WithTimeout(context.Background(), 10*time.Second)
	defer cancel()
	if err := e.Shutdown(shutdownCtx); err != nil {
		log.WithError(err).Error("http shutdown")
	}
	if sweepServer != nil {
		sweepServer.Shutdown()
	}
	if subscriptionID != "" {
		if err := calClient.DeleteSubscription(shutdownCtx, subscriptionID); err != nil {
			log.WithError(err).Warn("calendar subscription not removed")
		}
	}
	wg.Wait()
}

func newCalendarClient(c config.CalendarConfig, rdb *redis.Client, log *logrus.Entry) *calendar.Client {
	var cache calendar.TokenCache = &calendar.MemoryTokenCache{}
	if c.TokenCache == "redis" {
		if rdb == nil {
			log.Warn("CALENDAR_TOKEN_CACHE=redis but redis is unavailable; using memory")
		} else {
			cache = calendar.NewRedisTokenCache(rdb, "")
		}
	}
	return calendar.NewClient(calendar.Config{
		BaseURL: c.BaseURL,
		Mailbox: c.Mailbox,
		Timeout: c.Timeout,
		Credentials: calendar.Credentials{
			TokenURL:     c.TokenURL,
			ClientID:     c.ClientID,
			ClientSecret: c.ClientSecret,
			Scope:        c.Scope,
		},
	}, cache, log)
}

// subscriptionLifetime stays under the three day maximum the calendar
// service allows for event subscriptions.
const subscriptionLifetime = 70 * time.Hour

func subscribe(ctx context.Context, c *calendar.Client, cfg config.CalendarConfig, log *logrus.Entry) string {
	// give the listener a moment before the handshake request arrives
	select {
	case <-ctx.Done():
		return ""
	case <-time.After(time.Second):
	}
	sub, err := c.CreateSubscription(ctx, "", cfg.NotificationURL, cfg.ClientState, time.Now().Add(subscriptionLifetime))
	if err != nil {
		log.WithError(err).Warn("calendar subscription failed; change notifications disabled")
		return ""
	}
	log.WithFields(logrus.Fields{"subscription_id": sub.ID, "expires": sub.ExpirationDateTime}).Info("calendar subscription created")
	return sub.ID
}
