package worker

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"net/http"
	"time"

	"github.com/hibiken/asynq"
	"github.com/sirupsen/logrus"
)

// Sweeper is implemented by reaper.Reaper.
type Sweeper interface {
	Sweep(ctx context.Context) (int, error)
}

// SweepHandler processes review:sweep tasks.
type SweepHandler struct {
	sweeper Sweeper
	log     *logrus.Entry
}

// NewSweepHandler returns a handler that delegates to s.
func NewSweepHandler(s Sweeper, log *logrus.Entry) *SweepHandler {
	return &SweepHandler{sweeper: s, log: log}
}

// ProcessTask implements asynq.Handler.
func (h *SweepHandler) ProcessTask(ctx context.Context, t *asynq.Task) error {
	var payload SweepPayload
	if err := json.Unmarshal(t.Payload(), &payload); err != nil {
		return fmt.Errorf("unmarshal sweep payload: %v: %w", err, asynq.SkipRetry)
	}
	n, err := h.sweeper.Sweep(ctx)
	if err != nil {
		return fmt.Errorf("review sweep: %w", err)
	}
	h.log.WithFields(logrus.Fields{
		"task_type": t.Type(),
		"interval":  payload.Interval,
		"released":  n,
	}).Debug("review sweep task done")
	return nil
}

// Server wraps the asynq server and scheduler that drive review sweeps.
type Server struct {
	server    *asynq.Server
	scheduler *asynq.Scheduler
	handler   *SweepHandler
	interval  time.Duration
	instance  string
	log       *logrus.Entry
}

// NewServer builds the asynq server and scheduler on redisOpt.
func NewServer(redisOpt asynq.RedisClientOpt, s Sweeper, interval time.Duration, instance string, logger *logrus.Logger) *Server {
	log := logger.WithFields(logrus.Fields{"component": "worker", "instance": instance})
	server := asynq.NewServer(redisOpt, asynq.Config{
		Concurrency: 1,
		Queues:      map[string]int{"default": 1},
		ErrorHandler: asynq.ErrorHandlerFunc(func(ctx context.Context, task *asynq.Task, err error) {
			taskID := ""
			if rw := task.ResultWriter(); rw != nil {
				taskID = rw.TaskID()
			}
			log.WithFields(logrus.Fields{"task_id": taskID, "task_type": task.Type()}).
				WithError(err).Error("task failed")
		}),
	})
	scheduler := asynq.NewScheduler(redisOpt, &asynq.SchedulerOpts{Location: time.UTC})
	return &Server{
		server:    server,
		scheduler: scheduler,
		handler:   NewSweepHandler(s, log),
		interval:  interval,
		instance:  instance,
		log:       log,
	}
}

// Start registers the periodic sweep and runs the scheduler and server in
// the background.
func (s *Server) Start() error {
	task, err := NewSweepTask(s.interval)
	if err != nil {
		return err
	}
	spec := fmt.Sprintf("@every %s", s.interval)
	entryID, err := s.scheduler.Register(spec, task, asynq.Queue("default"))
	if err != nil {
		return fmt.Errorf("register review sweep: %w", err)
	}
	s.log.WithFields(logrus.Fields{"schedule": spec, "entry_id": entryID}).Info("review sweep registered")

	if err := s.scheduler.Start(); err != nil {
		return fmt.Errorf("start scheduler: %w", err)
	}

	mux := asynq.NewServeMux()
	mux.Handle(TypeReviewSweep, s.handler)
	go func() {
		s.log.Info("worker server starting")
		if err := s.server.Run(mux); err != nil &&
			!errors.Is(err, http.ErrServerClosed) && !errors.Is(err, asynq.ErrServerClosed) {
			s.log.WithError(err).Error("worker server stopped")
		}
	}()
	return nil
}

// Shutdown stops the scheduler and drains the server.
func (s *Server) Shutdown() {
	s.log.Info("shutting down worker")
	s.scheduler.Shutdown()
	s.server.Shutdown()
}
