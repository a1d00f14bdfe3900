package ingest

import (
	"context"
	"fmt"
	"math/rand"
	"path/filepath"
	"strings"
	"testing"
	"time"

	"github.com/dattu/dna_fountain/pkg/decoder"
	"github.com/dattu/dna_fountain/pkg/ecc"
	"github.com/dattu/dna_fountain/pkg/encoder"
	"github.com/dattu/dna_fountain/pkg/protocol"
	"github.com/dattu/dna_fountain/pkg/scheme"
	"github.com/dattu/dna_fountain/pkg/storage"
	"github.com/sourcegraph/conc"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/status"
)

var sp = scheme.Spec{Name: "raptor"}

func records(t *testing.T, data []byte, n int) [][]byte {
	t.Helper()
	enc, err := encoder.New(data, encoder.Options{
		NumberOfChunks: 9,
		InsertHeader:   true,
		FileName:       "obj.dat",
		Scheme:         sp,
		Codec:          ecc.CRC32{},
	})
	require.NoError(t, err)
	var out [][]byte
	for i := 0; i < n; i++ {
		p, err := enc.Next()
		require.NoError(t, err)
		rec, err := enc.Marshal(p)
		require.NoError(t, err)
		out = append(out, rec)
	}
	return out
}

func newService(t *testing.T, store *storage.PacketDB) *Service {
	t.Helper()
	s, err := NewService(Options{
		Decoder: decoder.Options{Scheme: sp, Codec: ecc.CRC32{}, UseHeaderChunk: true},
		Store:   store,
	})
	require.NoError(t, err)
	return s
}

func body(seed int64) []byte {
	b := make([]byte, 400)
	rand.New(rand.NewSource(seed)).Read(b)
	return b
}

func pushAll(t *testing.T, s *Service, id string, recs [][]byte) *protocol.PushResponse {
	t.Helper()
	var resp *protocol.PushResponse
	for _, rec := range recs {
		var err error
		resp, err = s.Push(context.Background(), &protocol.PushRequest{ObjectID: id, Packet: rec})
		require.NoError(t, err)
		if resp.Complete {
			break
		}
	}
	return resp
}

func TestPushAndFetch(t *testing.T) {
	s := newService(t, nil)
	data := body(1)
	resp := pushAll(t, s, "a", records(t, data, 200))
	require.True(t, resp.Complete)
	assert.EqualValues(t, 9, resp.Total)

	got, err := s.Fetch(context.Background(), &protocol.FetchRequest{ObjectID: "a"})
	require.NoError(t, err)
	assert.True(t, got.Complete)
	assert.Equal(t, "obj.dat", got.FileName)
	assert.Equal(t, data, got.Data)
}

func TestRejectedPacketIsReported(t *testing.T) {
	s := newService(t, nil)
	rec := records(t, body(2), 1)[0]
	rec[3] ^= 1
	resp, err := s.Push(context.Background(), &protocol.PushRequest{ObjectID: "a", Packet: rec})
	require.NoError(t, err)
	assert.True(t, resp.Rejected)
	assert.NotEmpty(t, resp.Reason)
}

func TestRejectedPushesLeaveNoObject(t *testing.T) {
	s := newService(t, nil)
	for i := 0; i < 20; i++ {
		resp, err := s.Push(context.Background(), &protocol.PushRequest{
			ObjectID: fmt.Sprintf("junk-%d", i),
			Packet:   []byte{1, 2, 3, 4, 5, 6, 7, 8, 9},
		})
		require.NoError(t, err)
		assert.True(t, resp.Rejected)
	}
	assert.Zero(t, s.Objects())
	_, err := s.Fetch(context.Background(), &protocol.FetchRequest{ObjectID: "junk-0"})
	assert.Equal(t, codes.NotFound, status.Code(err))

	recs := records(t, body(6), 2)
	bad := append([]byte(nil), recs[1]...)
	bad[3] ^= 1
	pushAll(t, s, "a", recs[:1])
	resp, err := s.Push(context.Background(), &protocol.PushRequest{ObjectID: "a", Packet: bad})
	require.NoError(t, err)
	assert.True(t, resp.Rejected)
	assert.Equal(t, 1, s.Objects(), "object with accepted records is kept")
}

func TestRequestErrors(t *testing.T) {
	s := newService(t, nil)
	_, err := s.Push(context.Background(), &protocol.PushRequest{Packet: []byte{1}})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = s.Push(context.Background(), &protocol.PushRequest{
		ObjectID: strings.Repeat("x", storage.MaxObjectIDLen+1),
		Packet:   []byte{1},
	})
	assert.Equal(t, codes.InvalidArgument, status.Code(err))
	_, err = s.Fetch(context.Background(), &protocol.FetchRequest{ObjectID: "missing"})
	assert.Equal(t, codes.NotFound, status.Code(err))
}

func TestFetchIncomplete(t *testing.T) {
	s := newService(t, nil)
	pushAll(t, s, "a", records(t, body(3), 3))
	got, err := s.Fetch(context.Background(), &protocol.FetchRequest{ObjectID: "a"})
	require.NoError(t, err)
	assert.False(t, got.Complete)
	assert.Empty(t, got.Data)
	assert.EqualValues(t, 9, got.Total)
}

func TestConcurrentObjects(t *testing.T) {
	s := newService(t, nil)
	var wg conc.WaitGroup
	for i := 0; i < 6; i++ {
		id := fmt.Sprintf("obj-%d", i)
		recs := records(t, body(int64(10+i)), 200)
		wg.Go(func() {
			for _, rec := range recs {
				resp, err := s.Push(context.Background(), &protocol.PushRequest{ObjectID: id, Packet: rec})
				if err != nil || resp.Complete {
					return
				}
			}
		})
	}
	wg.Wait()
	for i := 0; i < 6; i++ {
		got, err := s.Fetch(context.Background(), &protocol.FetchRequest{ObjectID: fmt.Sprintf("obj-%d", i)})
		require.NoError(t, err)
		require.True(t, got.Complete)
		assert.Equal(t, body(int64(10+i)), got.Data)
	}
}

func TestRestoreFromStore(t *testing.T) {
	path := filepath.Join(t.TempDir(), "packets.db")
	data := body(4)
	recs := records(t, data, 200)

	db, err := storage.OpenPacketDB(path, nil)
	require.NoError(t, err)
	s := newService(t, db)
	pushAll(t, s, "a", recs[:6])
	require.NoError(t, db.Close())

	db, err = storage.OpenPacketDB(path, nil)
	require.NoError(t, err)
	defer db.Close()
	s = newService(t, db)
	n, err := s.Restore(context.Background())
	require.NoError(t, err)
	assert.Equal(t, 6, n)

	resp := pushAll(t, s, "a", recs[6:])
	require.True(t, resp.Complete)
	got, err := s.Fetch(context.Background(), &protocol.FetchRequest{ObjectID: "a"})
	require.NoError(t, err)
	assert.Equal(t, data, got.Data)
}

func TestExpire(t *testing.T) {
	db, err := storage.OpenPacketDB(filepath.Join(t.TempDir(), "packets.db"), nil)
	require.NoError(t, err)
	defer db.Close()
	s := newService(t, db)
	pushAll(t, s, "a", records(t, body(5), 2))
	require.NoError(t, db.Flush())

	gone, err := s.Expire(time.Hour, time.Now().Add(2*time.Hour))
	require.NoError(t, err)
	assert.Equal(t, []string{"a"}, gone)
	_, err = s.Fetch(context.Background(), &protocol.FetchRequest{ObjectID: "a"})
	assert.Equal(t, codes.NotFound, status.Code(err))
	objs, err := db.Objects()
	require.NoError(t, err)
	assert.Empty(t, objs)
}
