// pkg/ingest/service.go
package ingest

import (
	"context"
	"errors"
	"sync"
	"time"

	"github.com/dattu/dna_fountain/pkg/decoder"
	"github.com/dattu/dna_fountain/pkg/logging"
	"github.com/dattu/dna_fountain/pkg/protocol"
	"github.com/dattu/dna_fountain/pkg/storage"
	"github.com/sirupsen/logrus"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

// Options configures a Service. Decoder is the template every object's
// decoder is built from; its Logger and Metrics are shared.
type Options struct {
	Decoder decoder.Options
	// Store persists accepted records; nil keeps everything in memory.
	Store *storage.PacketDB
	// SolveEvery runs elimination after this many packets beyond K.
	// Zero means K/10 (at least 1).
	SolveEvery int
	Logger     logrus.FieldLogger
}

type object struct {
	mu  sync.Mutex
	dec *decoder.Decoder
	// gone is set under mu once the object left the map.
	gone bool
}

// Service is the ingest gRPC server. Each object owns one decoder behind
// its own mutex; pushes for different objects proceed in parallel.
type Service struct {
	protocol.UnimplementedIngestServer

	opts Options
	log  logrus.FieldLogger

	mu      sync.Mutex
	objects map[string]*object
}

func NewService(opts Options) (*Service, error) {
	if _, err := decoder.New(opts.Decoder); err != nil {
		return nil, err
	}
	log := logging.OrDiscard(opts.Logger)
	if opts.Decoder.Logger == nil {
		opts.Decoder.Logger = log
	}
	return &Service{opts: opts, log: log, objects: make(map[string]*object)}, nil
}

func (s *Service) lookup(id string, create bool) (*object, error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if o, ok := s.objects[id]; ok {
		return o, nil
	}
	if !create {
		return nil, nil
	}
	dec, err := decoder.New(s.opts.Decoder)
	if err != nil {
		return nil, err
	}
	o := &object{dec: dec}
	s.objects[id] = o
	return o, nil
}

// acquire returns the locked object for id, creating it when absent.
func (s *Service) acquire(id string) (*object, error) {
	for {
		o, err := s.lookup(id, true)
		if err != nil {
			return nil, err
		}
		o.mu.Lock()
		if !o.gone {
			return o, nil
		}
		o.mu.Unlock()
	}
}

// evict removes o from the map. The caller holds o.mu.
func (s *Service) evict(id string, o *object) {
	o.gone = true
	s.mu.Lock()
	if s.objects[id] == o {
		delete(s.objects, id)
	}
	s.mu.Unlock()
}

// Objects returns the number of objects with a live decoder.
func (s *Service) Objects() int {
	s.mu.Lock()
	defer s.mu.Unlock()
	return len(s.objects)
}

func (s *Service) solveDue(dec *decoder.Decoder) bool {
	k := dec.NumberOfChunks()
	extra := dec.Received() - k
	if k == 0 || extra < 0 {
		return false
	}
	every := s.opts.SolveEvery
	if every <= 0 {
		every = max(1, k/10)
	}
	return extra%every == 0
}

// ingest feeds one record to the object's decoder. Rejections are
// reported in the response, not as an RPC error. An object whose decoder
// has accepted nothing is dropped again.
func (s *Service) ingest(id string, rec []byte, persist bool) (*protocol.PushResponse, error) {
	o, err := s.acquire(id)
	if err != nil {
		return nil, status.Errorf(codes.FailedPrecondition, "decoder: %v", err)
	}
	defer o.mu.Unlock()

	done, err := o.dec.IngestRaw(rec)
	if err != nil {
		if o.dec.Received() == 0 {
			s.evict(id, o)
		}
		if !errors.Is(err, decoder.ErrPacketRejected) {
			return nil, status.Error(codes.Internal, err.Error())
		}
		return &protocol.PushResponse{
			Solved:   uint32(o.dec.Solved()),
			Total:    uint32(o.dec.NumberOfChunks()),
			Complete: o.dec.IsComplete(),
			Rejected: true,
			Reason:   err.Error(),
		}, nil
	}
	if persist && s.opts.Store != nil {
		if err := s.opts.Store.Put(id, rec); err != nil {
			return nil, status.Errorf(codes.Unavailable, "store: %v", err)
		}
	}
	if !done && s.solveDue(o.dec) {
		done = o.dec.Solve().Complete
	}
	if done {
		s.log.WithFields(logrus.Fields{"object": id, "packets": o.dec.Received()}).Info("object complete")
	}
	return &protocol.PushResponse{
		Solved:   uint32(o.dec.Solved()),
		Total:    uint32(o.dec.NumberOfChunks()),
		Complete: done,
	}, nil
}

func (s *Service) Push(_ context.Context, req *protocol.PushRequest) (*protocol.PushResponse, error) {
	if err := storage.CheckObjectID(req.ObjectID); err != nil {
		return nil, status.Error(codes.InvalidArgument, err.Error())
	}
	return s.ingest(req.ObjectID, req.Packet, true)
}

func (s *Service) Fetch(_ context.Context, req *protocol.FetchRequest) (*protocol.FetchResponse, error) {
	o, err := s.lookup(req.ObjectID, false)
	if err != nil {
		return nil, status.Error(codes.Internal, err.Error())
	}
	if o == nil {
		return nil, status.Errorf(codes.NotFound, "object %q", req.ObjectID)
	}
	o.mu.Lock()
	defer o.mu.Unlock()
	if o.gone {
		return nil, status.Errorf(codes.NotFound, "object %q", req.ObjectID)
	}

	res := o.dec.Solve()
	resp := &protocol.FetchResponse{Solved: uint32(res.Solved), Total: uint32(res.Total)}
	if !res.Complete {
		return resp, nil
	}
	data, h, err := o.dec.Reassemble()
	if err != nil {
		return nil, status.Error(codes.DataLoss, err.Error())
	}
	resp.Complete, resp.Data = true, data
	if h != nil {
		resp.FileName = h.FileName
	}
	return resp, nil
}

// Restore replays every stored record into fresh decoders. It returns the
// number of records replayed.
func (s *Service) Restore(ctx context.Context) (int, error) {
	if s.opts.Store == nil {
		return 0, nil
	}
	ids, err := s.opts.Store.Objects()
	if err != nil {
		return 0, err
	}
	total := 0
	for _, id := range ids {
		n := 0
		err := s.opts.Store.ForEach(id, func(rec []byte) error {
			if err := ctx.Err(); err != nil {
				return err
			}
			if _, err := s.ingest(id, rec, false); err != nil {
				return err
			}
			n++
			return nil
		})
		if err != nil {
			return total, err
		}
		total += n
		s.log.WithFields(logrus.Fields{"object": id, "records": n}).Info("object restored")
	}
	return total, nil
}

// Expire drops objects whose first record is older than ttl.
func (s *Service) Expire(ttl time.Duration, now time.Time) ([]string, error) {
	if s.opts.Store == nil {
		return nil, nil
	}
	ids, err := s.opts.Store.Expired(ttl, now)
	if err != nil {
		return nil, err
	}
	for _, id := range ids {
		s.mu.Lock()
		o := s.objects[id]
		s.mu.Unlock()
		if o != nil {
			o.mu.Lock()
			s.evict(id, o)
			o.mu.Unlock()
		}
		if err := s.opts.Store.Delete(id); err != nil && !errors.Is(err, storage.ErrUnknownObject) {
			return nil, err
		}
		s.log.WithField("object", id).Info("object expired")
	}
	return ids, nil
}

// RunExpiry calls Expire every ttl/2 until ctx is done.
func (s *Service) RunExpiry(ctx context.Context, ttl time.Duration) {
	if ttl <= 0 {
		return
	}
	tick := time.NewTicker(ttl / 2)
	defer tick.Stop()
	for {
		select {
		case <-ctx.Done():
			return
		case now := <-tick.C:
			if _, err := s.Expire(ttl, now); err != nil {
				s.log.WithError(err).Warn("expiry pass failed")
			}
		}
	}
}
