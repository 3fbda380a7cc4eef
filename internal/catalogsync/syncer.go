// Package catalogsync mirrors a Quake account's flows, entities, contacts and
// flow instances into the snapshot store.
package catalogsync

import (
	"context"
	"fmt"
	"iter"
	"time"

	"github.com/sourcegraph/conc/pool"
	"go.uber.org/zap"

	"github.com/Checker-Finance/quake/internal/metrics"
	"github.com/Checker-Finance/quake/pkg/quake"
)

// Source is the read side; *quake.Client implements it.
type Source interface {
	CompanyID() string
	ListFlows(ctx context.Context) iter.Seq2[*quake.Flow, error]
	ListEntities(ctx context.Context) iter.Seq2[*quake.Entity, error]
	ListContacts(ctx context.Context) iter.Seq2[*quake.Contact, error]
	ListFlowInstances(ctx context.Context) iter.Seq2[*quake.FlowInstance, error]
}

// Sink is the write side; *snapshot.Writer implements it.
type Sink interface {
	UpsertFlow(ctx context.Context, companyID string, f *quake.Flow) error
	UpsertEntity(ctx context.Context, companyID string, e *quake.Entity) error
	UpsertContact(ctx context.Context, companyID string, c *quake.Contact) error
	UpsertFlowInstance(ctx context.Context, companyID string, fi *quake.FlowInstance) error
}

// StatusStore keeps the last Summary per company; *store.HybridStore implements it.
type StatusStore interface {
	SetJSON(ctx context.Context, key string, value any, ttl time.Duration) error
}

// Summary counts the records written by one RunOnce.
type Summary struct {
	CompanyID     string    `json:"company_id"`
	Flows         int       `json:"flows"`
	Entities      int       `json:"entities"`
	Contacts      int       `json:"contacts"`
	FlowInstances int       `json:"flow_instances"`
	StartedAt     time.Time `json:"started_at"`
	FinishedAt    time.Time `json:"finished_at"`
	Error         string    `json:"error,omitempty"`
}

// StatusKey is where the last Summary for a company is stored.
func StatusKey(companyID string) string { return "quake:sync:last:" + companyID }

type Syncer struct {
	logger *zap.Logger
	src    Source
	sink   Sink
	status StatusStore
	now    func() time.Time
}

// NewSyncer builds a Syncer. status may be nil.
func NewSyncer(logger *zap.Logger, src Source, sink Sink, status StatusStore) *Syncer {
	if logger == nil {
		logger = zap.NewNop()
	}
	return &Syncer{logger: logger, src: src, sink: sink, status: status, now: time.Now}
}

// RunOnce walks the four collections concurrently, one goroutine each. A failing
// collection does not stop the others; their errors are joined.
func (s *Syncer) RunOnce(ctx context.Context) (Summary, error) {
	company := s.src.CompanyID()
	sum := Summary{CompanyID: company, StartedAt: s.now().UTC()}

	p := pool.New().WithErrors()
	p.Go(func() error {
		n, err := drain(s, "flows", s.src.ListFlows(ctx), func(f *quake.Flow) error {
			return s.sink.UpsertFlow(ctx, company, f)
		})
		sum.Flows = n
		return err
	})
	p.Go(func() error {
		n, err := drain(s, "entities", s.src.ListEntities(ctx), func(e *quake.Entity) error {
			return s.sink.UpsertEntity(ctx, company, e)
		})
		sum.Entities = n
		return err
	})
	p.Go(func() error {
		n, err := drain(s, "contacts", s.src.ListContacts(ctx), func(c *quake.Contact) error {
			return s.sink.UpsertContact(ctx, company, c)
		})
		sum.Contacts = n
		return err
	})
	p.Go(func() error {
		n, err := drain(s, "flow_instances", s.src.ListFlowInstances(ctx), func(fi *quake.FlowInstance) error {
			return s.sink.UpsertFlowInstance(ctx, company, fi)
		})
		sum.FlowInstances = n
		return err
	})
	err := p.Wait()

	sum.FinishedAt = s.now().UTC()
	if err != nil {
		sum.Error = err.Error()
	}

	if s.status != nil {
		if serr := s.status.SetJSON(ctx, StatusKey(company), sum, 0); serr != nil {
			s.logger.Warn("catalogsync.status_write_failed", zap.String("company", company), zap.Error(serr))
		}
	}

	fields := []zap.Field{
		zap.String("company", company),
		zap.Int("flows", sum.Flows),
		zap.Int("entities", sum.Entities),
		zap.Int("contacts", sum.Contacts),
		zap.Int("flow_instances", sum.FlowInstances),
		zap.Duration("duration", sum.FinishedAt.Sub(sum.StartedAt)),
	}
	if err != nil {
		s.logger.Error("catalogsync.run_failed", append(fields, zap.Error(err))...)
		return sum, err
	}
	s.logger.Info("catalogsync.run_complete", fields...)
	return sum, nil
}

func drain[T any](s *Syncer, collection string, seq iter.Seq2[T, error], write func(T) error) (int, error) {
	n := 0
	for item, err := range seq {
		if err != nil {
			return n, fmt.Errorf("%s: list: %w", collection, err)
		}
		if err := write(item); err != nil {
			metrics.IncSyncRecord(collection, "error")
			return n, fmt.Errorf("%s: write: %w", collection, err)
		}
		metrics.IncSyncRecord(collection, "ok")
		n++
	}
	metrics.SetLastSync(collection, s.now())
	s.logger.Debug("catalogsync.collection_done", zap.String("collection", collection), zap.Int("records", n))
	return n, nil
}
