package orchestrator

import (
	"fmt"
	"sync"
	"time"

	"github.com/robfig/cron/v3"
	"github.com/rs/zerolog"
)

// Scheduler периодический мониторинг, одна cron-запись на кошелек
type Scheduler struct {
	cron     *cron.Cron
	interval time.Duration
	log      zerolog.Logger

	mu      sync.Mutex
	entries map[string]cron.EntryID
}

// NewScheduler создает планировщик
func NewScheduler(interval time.Duration, log zerolog.Logger) *Scheduler {
	return &Scheduler{
		cron:     cron.New(cron.WithChain(cron.Recover(cron.DiscardLogger))),
		interval: interval,
		log:      log.With().Str("component", "scheduler").Logger(),
		entries:  make(map[string]cron.EntryID),
	}
}

// Start запускает cron
func (s *Scheduler) Start() {
	s.cron.Start()
	s.log.Info().Dur("interval", s.interval).Msg("Scheduler started")
}

// Stop останавливает cron и ждет текущие задачи
func (s *Scheduler) Stop() {
	ctx := s.cron.Stop()
	<-ctx.Done()
	s.log.Info().Msg("Scheduler stopped")
}

// Add регистрирует задачу кошелька. Повторный вызов ничего не делает.
func (s *Scheduler) Add(walletAddress string, job func()) (bool, error) {
	s.mu.Lock()
	defer s.mu.Unlock()

	if _, ok := s.entries[walletAddress]; ok {
		return false, nil
	}

	schedule := fmt.Sprintf("@every %s", s.interval)
	id, err := s.cron.AddJob(schedule, cron.NewChain(cron.SkipIfStillRunning(cron.DiscardLogger)).Then(cron.FuncJob(job)))
	if err != nil {
		return false, fmt.Errorf("schedule %s: %w", walletAddress, err)
	}
	s.entries[walletAddress] = id

	s.log.Info().
		Str("schedule", schedule).
		Str("wallet", walletAddress).
		Msg("Job registered")
	return true, nil
}

// Remove снимает задачу кошелька
func (s *Scheduler) Remove(walletAddress string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()

	id, ok := s.entries[walletAddress]
	if !ok {
		return false
	}
	s.cron.Remove(id)
	delete(s.entries, walletAddress)

	s.log.Info().Str("wallet", walletAddress).Msg("Job removed")
	return true
}

// Has есть ли задача
func (s *Scheduler) Has(walletAddress string) bool {
	s.mu.Lock()
	defer s.mu.Unlock()
	_, ok := s.entries[walletAddress]
	return ok
}
