package protocol

import (
	"context"
	"net"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"google.golang.org/grpc"
	"google.golang.org/grpc/codes"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/grpc/test/bufconn"
	"google.golang.org/protobuf/encoding/protowire"
)

func TestUnknownFieldsSkipped(t *testing.T) {
	b, err := (&PushRequest{ObjectID: "obj", Packet: []byte{1, 2, 3}}).Marshal()
	require.NoError(t, err)
	b = protowire.AppendTag(b, 9, protowire.VarintType)
	b = protowire.AppendVarint(b, 300)
	b = protowire.AppendTag(b, 10, protowire.BytesType)
	b = protowire.AppendBytes(b, []byte("extra"))

	var got PushRequest
	require.NoError(t, got.Unmarshal(b))
	assert.Equal(t, PushRequest{ObjectID: "obj", Packet: []byte{1, 2, 3}}, got)
}

func TestTruncatedMessage(t *testing.T) {
	b, err := (&FetchResponse{Complete: true, FileName: "f", Data: []byte("payload")}).Marshal()
	require.NoError(t, err)
	var got FetchResponse
	assert.ErrorIs(t, got.Unmarshal(b[:len(b)-3]), ErrWire)
}

type recorder struct {
	UnimplementedIngestServer
	pushes []*PushRequest
}

func (r *recorder) Push(_ context.Context, req *PushRequest) (*PushResponse, error) {
	r.pushes = append(r.pushes, req)
	return &PushResponse{Solved: uint32(len(r.pushes)), Total: 4, Complete: len(r.pushes) == 4}, nil
}

func dial(t *testing.T, srv IngestServer) *IngestClient {
	t.Helper()
	lis := bufconn.Listen(1 << 20)
	s := grpc.NewServer()
	RegisterIngestServer(s, srv)
	go s.Serve(lis)
	t.Cleanup(s.Stop)

	conn, err := grpc.NewClient("passthrough:///bufnet",
		grpc.WithContextDialer(func(ctx context.Context, _ string) (net.Conn, error) {
			return lis.DialContext(ctx)
		}),
		grpc.WithTransportCredentials(insecure.NewCredentials()),
	)
	require.NoError(t, err)
	t.Cleanup(func() { conn.Close() })
	return NewIngestClient(conn)
}

func TestPushOverGRPC(t *testing.T) {
	rec := &recorder{}
	c := dial(t, rec)
	ctx := context.Background()

	var resp *PushResponse
	for i := 0; i < 4; i++ {
		var err error
		resp, err = c.Push(ctx, &PushRequest{ObjectID: "obj", Packet: []byte{byte(i), 0xFF}})
		require.NoError(t, err)
	}
	assert.True(t, resp.Complete)
	assert.EqualValues(t, 4, resp.Solved)
	require.Len(t, rec.pushes, 4)
	assert.Equal(t, []byte{3, 0xFF}, rec.pushes[3].Packet)
	assert.Equal(t, "obj", rec.pushes[0].ObjectID)
}

func TestUnimplementedFetch(t *testing.T) {
	c := dial(t, &recorder{})
	_, err := c.Fetch(context.Background(), &FetchRequest{ObjectID: "obj"})
	assert.Equal(t, codes.Unimplemented, status.Code(err))
}
