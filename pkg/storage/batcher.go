// pkg/storage/batcher.go
package storage

import (
	"errors"
	"fmt"
	"sync"
	"time"

	"github.com/dattu/dna_fountain/pkg/logging"
	"github.com/sirupsen/logrus"
	bolt "go.etcd.io/bbolt"
)

const (
	batchSize     = 100
	batchInterval = 250 * time.Millisecond
	queueDepth    = 1024
)

var ErrClosed = errors.New("storage: batcher closed")

type kv struct {
	object string
	k, v   []byte
}

// Batcher groups packet writes into one bbolt transaction per batch. A
// batch is written when it reaches batchSize entries, on every tick, on
// Flush and on Close.
type Batcher struct {
	db      *bolt.DB
	log     logrus.FieldLogger
	ch      chan kv
	flushes chan chan error
	stop    chan struct{}
	done    chan struct{}
	once    sync.Once
}

func NewBatcher(db *bolt.DB, log logrus.FieldLogger) *Batcher {
	b := &Batcher{
		db:      db,
		log:     logging.OrDiscard(log),
		ch:      make(chan kv, queueDepth),
		flushes: make(chan chan error),
		stop:    make(chan struct{}),
		done:    make(chan struct{}),
	}
	go b.loop()
	return b
}

// Put queues value under key in the object's bucket.
func (b *Batcher) Put(object string, k, v []byte) error {
	select {
	case <-b.stop:
		return ErrClosed
	default:
	}
	select {
	case b.ch <- kv{object: object, k: k, v: v}:
		return nil
	case <-b.stop:
		return ErrClosed
	}
}

// Flush writes everything queued so far and returns the write error.
func (b *Batcher) Flush() error {
	reply := make(chan error, 1)
	select {
	case b.flushes <- reply:
		return <-reply
	case <-b.stop:
		return ErrClosed
	}
}

// Close drains the queue and stops the writer.
func (b *Batcher) Close() error {
	b.once.Do(func() { close(b.stop) })
	<-b.done
	return nil
}

func (b *Batcher) loop() {
	defer close(b.done)
	buf := make([]kv, 0, batchSize)
	flush := func() error {
		if len(buf) == 0 {
			return nil
		}
		err := b.db.Update(func(tx *bolt.Tx) error {
			for _, p := range buf {
				if err := put(tx, p); err != nil {
					return err
				}
			}
			return nil
		})
		if err != nil {
			b.log.WithError(err).WithField("records", len(buf)).Warn("batch write failed, retrying per record")
			err = b.each(buf)
		}
		buf = buf[:0]
		return err
	}
	drain := func() {
		for {
			select {
			case p := <-b.ch:
				buf = append(buf, p)
			default:
				return
			}
		}
	}

	ticker := time.NewTicker(batchInterval)
	defer ticker.Stop()
	for {
		select {
		case p := <-b.ch:
			buf = append(buf, p)
			if len(buf) >= batchSize {
				flush()
			}
		case <-ticker.C:
			flush()
		case reply := <-b.flushes:
			drain()
			reply <- flush()
		case <-b.stop:
			drain()
			flush()
			return
		}
	}
}

func put(tx *bolt.Tx, p kv) error {
	bk, err := objectBucket(tx, p.object)
	if err != nil {
		return err
	}
	return bk.Put(p.k, p.v)
}

// each writes every entry in its own transaction so one bad entry only
// loses itself.
func (b *Batcher) each(buf []kv) error {
	var errs []error
	for _, p := range buf {
		err := b.db.Update(func(tx *bolt.Tx) error { return put(tx, p) })
		if err != nil {
			b.log.WithError(err).WithField("object", p.object).Error("record write failed")
			errs = append(errs, fmt.Errorf("object %q: %w", p.object, err))
		}
	}
	return errors.Join(errs...)
}
