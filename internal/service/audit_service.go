package service

import (
	"context"
	"encoding/json"
	"os"
	"path/filepath"
	"sync"
	"time"

	"github.com/GoPolymarket/astervol/internal/model"
	"github.com/GoPolymarket/astervol/internal/pkg/logger"
)

const defaultAuditBuffer = 1000

// AuditService keeps a trail of every order the bot submits. Entries are
// appended to a daily JSONL file, mirrored into an optional repository and
// kept in a ring buffer for the status endpoint.
type AuditService struct {
	logChan chan *model.OrderAudit
	logFile *os.File
	buffer  *auditBuffer
	repo    AuditRepo
	done    chan struct{}
	once    sync.Once
}

type AuditRepo interface {
	Insert(ctx context.Context, entry *model.OrderAudit) error
	List(ctx context.Context, account string, limit int, from, to *time.Time) ([]*model.OrderAudit, error)
}

// NewAuditService opens the audit file under logDir. An empty logDir keeps
// the trail in memory (and in repo, when set) only.
func NewAuditService(logDir string, size int, repo AuditRepo) (*AuditService, error) {
	if size <= 0 {
		size = defaultAuditBuffer
	}
	svc := &AuditService{
		logChan: make(chan *model.OrderAudit, size),
		buffer:  newAuditBuffer(size),
		repo:    repo,
		done:    make(chan struct{}),
	}

	if logDir != "" {
		if err := os.MkdirAll(logDir, 0o755); err != nil {
			return nil, err
		}
		filename := filepath.Join(logDir, "audit-"+time.Now().UTC().Format("2006-01-02")+".jsonl")
		f, err := os.OpenFile(filename, os.O_APPEND|os.O_CREATE|os.O_WRONLY, 0o644)
		if err != nil {
			return nil, err
		}
		svc.logFile = f
	}

	go svc.processLogs()
	return svc, nil
}

// Record never blocks the trading loop; a full queue drops the entry.
func (s *AuditService) Record(entry *model.OrderAudit) {
	if entry == nil {
		return
	}
	if entry.CreatedAt.IsZero() {
		entry.CreatedAt = time.Now().UTC()
	}
	s.buffer.Add(entry)
	select {
	case s.logChan <- entry:
	default:
		logger.Warn("audit queue full, dropping entry", "account", entry.Account, "purpose", entry.Purpose)
	}
}

func (s *AuditService) List(ctx context.Context, account string, limit int, from, to *time.Time) ([]*model.OrderAudit, error) {
	if s.repo != nil {
		records, err := s.repo.List(ctx, account, limit, from, to)
		if err == nil {
			return records, nil
		}
		logger.Warn("audit repository list failed, serving from memory", "error", err)
	}
	return s.buffer.List(account, limit, from, to), nil
}

func (s *AuditService) processLogs() {
	defer close(s.done)
	var encoder *json.Encoder
	if s.logFile != nil {
		encoder = json.NewEncoder(s.logFile)
	}
	for entry := range s.logChan {
		if s.repo != nil {
			ctx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
			if err := s.repo.Insert(ctx, entry); err != nil {
				logger.Error("failed to write audit entry to database", "error", err, "id", entry.ID)
			}
			cancel()
		}
		if encoder != nil {
			if err := encoder.Encode(entry); err != nil {
				logger.Error("failed to write audit entry", "error", err, "id", entry.ID)
			}
		}
	}
}

// Close drains the queue and closes the file. Record must not be called
// afterwards.
func (s *AuditService) Close() {
	s.once.Do(func() {
		close(s.logChan)
		<-s.done
		if s.logFile != nil {
			_ = s.logFile.Close()
		}
	})
}

type auditBuffer struct {
	mu        sync.Mutex
	maxSize   int
	records   []*model.OrderAudit
	nextIndex int
}

func newAuditBuffer(maxSize int) *auditBuffer {
	if maxSize <= 0 {
		maxSize = defaultAuditBuffer
	}
	return &auditBuffer{
		maxSize: maxSize,
		records: make([]*model.OrderAudit, 0, maxSize),
	}
}

func (b *auditBuffer) Add(entry *model.OrderAudit) {
	b.mu.Lock()
	defer b.mu.Unlock()
	if len(b.records) < b.maxSize {
		b.records = append(b.records, entry)
		return
	}
	b.records[b.nextIndex] = entry
	b.nextIndex = (b.nextIndex + 1) % b.maxSize
}

// List returns newest first.
func (b *auditBuffer) List(account string, limit int, from, to *time.Time) []*model.OrderAudit {
	b.mu.Lock()
	defer b.mu.Unlock()
	if limit <= 0 || limit > b.maxSize {
		limit = b.maxSize
	}
	results := make([]*model.OrderAudit, 0, limit)
	total := len(b.records)
	for i := 0; i < total; i++ {
		idx := (b.nextIndex + total - 1 - i) % total
		entry := b.records[idx]
		if entry == nil {
			continue
		}
		if account != "" && entry.Account != account {
			continue
		}
		if from != nil && entry.CreatedAt.Before(*from) {
			continue
		}
		if to != nil && entry.CreatedAt.After(*to) {
			continue
		}
		results = append(results, entry)
		if len(results) >= limit {
			break
		}
	}
	return results
}
