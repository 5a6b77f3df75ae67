package store

import (
	"context"
	"errors"
	"time"

	"go.uber.org/zap"
	"golang.org/x/sync/errgroup"

	"github.com/DoyleJ11/typerace-backend/internal/engine"
)

const (
	defaultQueueSize = 256
	defaultWorkers   = 2
	writeTimeout     = 5 * time.Second
	flushTimeout     = 5 * time.Second
)

type InsertFunc func(ctx context.Context, rec RoundRecord) error

// Archive takes round results off the session goroutines and writes them in
// the background. Record never blocks; results are dropped when the queue
// is full.
type Archive struct {
	insert  InsertFunc
	queue   chan engine.Result
	workers int
	log     *zap.Logger
}

func NewArchive(insert InsertFunc, queueSize int, log *zap.Logger) *Archive {
	if queueSize <= 0 {
		queueSize = defaultQueueSize
	}
	if log == nil {
		log = zap.NewNop()
	}
	return &Archive{
		insert:  insert,
		queue:   make(chan engine.Result, queueSize),
		workers: defaultWorkers,
		log:     log.Named("archive"),
	}
}

func (a *Archive) Record(res engine.Result) {
	select {
	case a.queue <- res:
	default:
		a.log.Warn("archive queue full, dropping round",
			zap.String("room", res.RoomID), zap.Int("round", res.Round))
	}
}

// Run writes queued results until ctx is done, then flushes what is left.
func (a *Archive) Run(ctx context.Context) error {
	g, gctx := errgroup.WithContext(ctx)
	for range a.workers {
		g.Go(func() error {
			for {
				select {
				case <-gctx.Done():
					return nil
				case res := <-a.queue:
					a.write(gctx, res)
				}
			}
		})
	}
	err := g.Wait()

	fctx, cancel := context.WithTimeout(context.WithoutCancel(ctx), flushTimeout)
	defer cancel()
	a.flush(fctx)
	return err
}

func (a *Archive) flush(ctx context.Context) {
	for {
		select {
		case res := <-a.queue:
			a.write(ctx, res)
		default:
			return
		}
	}
}

func (a *Archive) write(ctx context.Context, res engine.Result) {
	wctx, cancel := context.WithTimeout(ctx, writeTimeout)
	defer cancel()

	err := a.insert(wctx, NewRoundRecord(res))
	switch {
	case err == nil:
		a.log.Debug("round archived", zap.String("room", res.RoomID), zap.Int("round", res.Round))
	case errors.Is(err, ErrDuplicate):
		a.log.Debug("round already archived", zap.String("room", res.RoomID), zap.Int("round", res.Round))
	default:
		a.log.Error("archive round", zap.String("room", res.RoomID), zap.Int("round", res.Round), zap.Error(err))
	}
}
