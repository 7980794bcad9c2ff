package maintenance

import (
	"context"
	"errors"
	"fmt"
	"log"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/dustin/go-humanize"

	"danmakuoverlay/core/backend/store"
)

type JobType string

const (
	JobTypeCompact    JobType = "compact"
	JobTypeVacuum     JobType = "vacuum"
	JobTypeCheckpoint JobType = "checkpoint"
)

var ErrNotStarted = errors.New("maintenance service not started")

type JobStatus struct {
	ID          string         `json:"id"`
	Type        JobType        `json:"type"`
	Source      string         `json:"source"`
	Status      string         `json:"status"`
	Message     string         `json:"message"`
	QueuedAt    time.Time      `json:"queuedAt"`
	StartedAt   *time.Time     `json:"startedAt,omitempty"`
	FinishedAt  *time.Time     `json:"finishedAt,omitempty"`
	DurationMS  int64          `json:"durationMs"`
	PrunedStats int64          `json:"prunedStats"`
	BeforeDB    *store.DBStats `json:"beforeDb,omitempty"`
	AfterDB     *store.DBStats `json:"afterDb,omitempty"`
	Reclaimed   string         `json:"reclaimed,omitempty"`
}

type Status struct {
	Running     bool           `json:"running"`
	QueueLength int            `json:"queueLength"`
	Current     *JobStatus     `json:"current,omitempty"`
	History     []JobStatus    `json:"history"`
	DB          *store.DBStats `json:"db"`
	DBSize      string         `json:"dbSize"`
}

type queueRequest struct {
	id       string
	jobType  JobType
	source   string
	queuedAt time.Time
}

// Service runs sqlite housekeeping one job at a time. A background loop
// checkpoints the WAL on every interval.
type Service struct {
	store      *store.Store
	interval   time.Duration
	maxHistory int
	queue      chan queueRequest

	mu            sync.RWMutex
	cancel        context.CancelFunc
	current       *JobStatus
	currentCancel context.CancelFunc
	history       []JobStatus
	seq           uint64
}

func New(storeDB *store.Store, interval time.Duration) *Service {
	if interval <= 0 {
		interval = 30 * time.Minute
	}
	return &Service{
		store:      storeDB,
		interval:   interval,
		maxHistory: 20,
		queue:      make(chan queueRequest, 8),
		history:    make([]JobStatus, 0, 20),
	}
}

func (s *Service) Start() {
	s.mu.Lock()
	if s.cancel != nil {
		s.mu.Unlock()
		return
	}
	ctx, cancel := context.WithCancel(context.Background())
	s.cancel = cancel
	s.mu.Unlock()

	go s.workerLoop(ctx)
	go s.autoLoop(ctx)
}

func (s *Service) Stop() {
	s.mu.Lock()
	cancel := s.cancel
	currentCancel := s.currentCancel
	s.cancel = nil
	s.currentCancel = nil
	s.mu.Unlock()
	if cancel != nil {
		cancel()
	}
	if currentCancel != nil {
		currentCancel()
	}
}

func (s *Service) Queue(jobType JobType, source string) (string, error) {
	switch jobType {
	case JobTypeCompact, JobTypeVacuum, JobTypeCheckpoint:
	default:
		return "", fmt.Errorf("unsupported maintenance job type %q", jobType)
	}
	id := s.nextJobID(jobType)
	req := queueRequest{
		id:       id,
		jobType:  jobType,
		source:   normalizedSource(source),
		queuedAt: time.Now(),
	}
	if err := s.enqueue(req); err != nil {
		return "", err
	}
	return id, nil
}

func (s *Service) Status(ctx context.Context) (*Status, error) {
	s.mu.RLock()
	running := s.cancel != nil
	queueLength := len(s.queue)
	var current *JobStatus
	if s.current != nil {
		copied := *s.current
		current = &copied
	}
	history := make([]JobStatus, len(s.history))
	copy(history, s.history)
	s.mu.RUnlock()

	db, err := s.store.DBStats(ctx)
	if err != nil {
		return nil, err
	}
	return &Status{
		Running:     running,
		QueueLength: queueLength,
		Current:     current,
		History:     history,
		DB:          &db,
		DBSize:      humanize.IBytes(uint64(db.FileBytes + db.WALBytes)),
	}, nil
}

func (s *Service) CancelCurrent(jobID string) (bool, error) {
	jobID = strings.TrimSpace(jobID)
	s.mu.RLock()
	current := s.current
	cancel := s.currentCancel
	s.mu.RUnlock()
	if current == nil || cancel == nil {
		return false, nil
	}
	if jobID != "" && !strings.EqualFold(jobID, current.ID) {
		return false, errors.New("job id does not match current running job")
	}
	cancel()
	return true, nil
}

func (s *Service) enqueue(req queueRequest) error {
	s.mu.RLock()
	running := s.cancel != nil
	s.mu.RUnlock()
	if !running {
		return ErrNotStarted
	}
	select {
	case s.queue <- req:
		return nil
	default:
		return errors.New("maintenance queue is full")
	}
}

func (s *Service) workerLoop(ctx context.Context) {
	for {
		select {
		case <-ctx.Done():
			return
		case req := <-s.queue:
			s.runJob(req)
		}
	}
}

func (s *Service) autoLoop(ctx context.Context) {
	ticker := time.NewTicker(s.interval)
	defer ticker.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case <-ticker.C:
			if s.hasRunningJob() {
				continue
			}
			if _, err := s.Queue(JobTypeCheckpoint, "auto"); err != nil {
				log.Printf("[maintenance][warn] queue auto checkpoint failed: %v", err)
			}
		}
	}
}

func (s *Service) hasRunningJob() bool {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.current != nil
}

func (s *Service) runJob(req queueRequest) {
	now := time.Now()
	job := JobStatus{
		ID:        req.id,
		Type:      req.jobType,
		Source:    req.source,
		Status:    "running",
		Message:   "running",
		QueuedAt:  req.queuedAt,
		StartedAt: &now,
	}
	beforeStats, _ := s.store.DBStats(context.Background())
	job.BeforeDB = &beforeStats
	ctx, cancel := context.WithTimeout(context.Background(), 10*time.Minute)
	defer cancel()
	s.setCurrent(job, cancel)

	var runErr error
	switch req.jobType {
	case JobTypeCompact:
		job.PrunedStats, runErr = s.store.PruneIdleStats(ctx)
		if runErr == nil {
			runErr = s.store.Vacuum(ctx)
		}
	case JobTypeVacuum:
		runErr = s.store.Vacuum(ctx)
	case JobTypeCheckpoint:
		runErr = s.store.Checkpoint(ctx)
	}

	afterStats, _ := s.store.DBStats(context.Background())
	job.AfterDB = &afterStats
	if before, after := beforeStats.FileBytes+beforeStats.WALBytes, afterStats.FileBytes+afterStats.WALBytes; before > after {
		job.Reclaimed = humanize.IBytes(uint64(before - after))
	}
	finished := time.Now()
	job.FinishedAt = &finished
	job.DurationMS = finished.Sub(now).Milliseconds()
	switch {
	case runErr == nil:
		job.Status = "succeeded"
		job.Message = "ok"
		if req.source != "auto" {
			log.Printf("[maintenance] job=%s type=%s succeeded duration=%dms", job.ID, job.Type, job.DurationMS)
		}
	case errors.Is(runErr, context.Canceled) || errors.Is(runErr, context.DeadlineExceeded):
		job.Status = "cancelled"
		job.Message = runErr.Error()
		log.Printf("[maintenance][warn] job=%s type=%s cancelled: %v", job.ID, job.Type, runErr)
	default:
		job.Status = "failed"
		job.Message = runErr.Error()
		log.Printf("[maintenance][error] job=%s type=%s failed: %v", job.ID, job.Type, runErr)
	}
	s.finishJob(job)
}

func (s *Service) setCurrent(job JobStatus, cancel context.CancelFunc) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = &job
	s.currentCancel = cancel
}

func (s *Service) finishJob(job JobStatus) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.current = nil
	s.currentCancel = nil
	s.history = append([]JobStatus{job}, s.history...)
	if len(s.history) > s.maxHistory {
		s.history = s.history[:s.maxHistory]
	}
}

func (s *Service) nextJobID(jobType JobType) string {
	seq := atomic.AddUint64(&s.seq, 1)
	return fmt.Sprintf("%s-%d-%d", jobType, time.Now().UnixMilli(), seq)
}

func normalizedSource(source string) string {
	source = strings.TrimSpace(source)
	if source == "" {
		return "manual"
	}
	return source
}
