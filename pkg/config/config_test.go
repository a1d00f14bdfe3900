package config

import (
	"os"
	"path/filepath"
	"strconv"
	"strings"
	"testing"
	"time"

	"github.com/dattu/dna_fountain/pkg/decoder"
	"github.com/dattu/dna_fountain/pkg/ecc"
	"github.com/dattu/dna_fountain/pkg/encoder"
	"github.com/dattu/dna_fountain/pkg/packet"
	"github.com/spf13/pflag"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestDefaults(t *testing.T) {
	cfg, err := Load("", nil)
	require.NoError(t, err)
	assert.Equal(t, "lt", cfg.Scheme.Name)
	assert.Equal(t, packet.DefaultLayout, cfg.PacketLayout())
	assert.Equal(t, 24*time.Hour, cfg.Server.TTL)
	assert.Equal(t, encoder.Overhead(2.0), cfg.Stop())

	codec, err := cfg.Codec()
	require.NoError(t, err)
	assert.Equal(t, "crc32", codec.Name())
}

func TestLayering(t *testing.T) {
	path := filepath.Join(t.TempDir(), "fountain.yaml")
	require.NoError(t, os.WriteFile(path, []byte(`
scheme:
  name: online
  quality: 5
encoder:
  chunks: 40
layout:
  degree_width: 1
ecc:
  codec: reedsolomon
  data_shards: 6
  parity_shards: 3
`), 0o644))
	t.Setenv("FOUNTAIN_SCHEME_NAME", "raptor")
	t.Setenv("FOUNTAIN_ENCODER_COUNT", "90")

	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--chunks=64", "--systematic"}))

	cfg, err := Load(path, fs)
	require.NoError(t, err)
	assert.Equal(t, "raptor", cfg.Scheme.Name, "env beats file")
	assert.Equal(t, 5, cfg.Scheme.Quality, "file beats default")
	assert.Equal(t, 64, cfg.Encoder.Chunks, "flag beats file")
	assert.True(t, cfg.Scheme.Systematic)
	assert.Equal(t, 1, cfg.Layout.DegreeWidth)
	assert.Equal(t, encoder.Count(90), cfg.Stop())

	codec, err := cfg.Codec()
	require.NoError(t, err)
	assert.IsType(t, &ecc.ReedSolomon{}, codec)

	eo, err := cfg.EncoderOptions("x.bin")
	require.NoError(t, err)
	assert.Equal(t, "x.bin", eo.FileName)
	assert.Equal(t, "raptor", eo.Scheme.Name)

	do, err := cfg.DecoderOptions()
	require.NoError(t, err)
	assert.Zero(t, do.NumberOfChunks, "chunk count travels in the header")
	assert.True(t, do.UseHeaderChunk)
	assert.Equal(t, decoder.DefaultMaxChunks, do.MaxChunks)
}

func TestUnsetFlagsDoNotShadow(t *testing.T) {
	t.Setenv("FOUNTAIN_SCHEME_NAME", "online")
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse(nil))
	cfg, err := Load("", fs)
	require.NoError(t, err)
	assert.Equal(t, "online", cfg.Scheme.Name)
	assert.True(t, cfg.Encoder.Header)
}

func TestMissingFile(t *testing.T) {
	_, err := Load(filepath.Join(t.TempDir(), "nope.yaml"), nil)
	assert.Error(t, err)
}

func TestSessionRoundTrip(t *testing.T) {
	fs := pflag.NewFlagSet("test", pflag.ContinueOnError)
	RegisterFlags(fs)
	require.NoError(t, fs.Parse([]string{"--scheme=raptor", "--systematic", "--codec=reedsolomon", "--header=false"}))
	t.Setenv("FOUNTAIN_LAYOUT_CHUNKS_WIDTH", "0")
	t.Setenv("FOUNTAIN_LAYOUT_DEGREE_WIDTH", "2")
	t.Setenv("FOUNTAIN_ECC_PARITY_SHARDS", "5")
	enc, err := Load("", fs)
	require.NoError(t, err)

	path := filepath.Join(t.TempDir(), "set.yaml")
	require.NoError(t, enc.WriteSession(path, 37))
	os.Unsetenv("FOUNTAIN_LAYOUT_CHUNKS_WIDTH")
	os.Unsetenv("FOUNTAIN_LAYOUT_DEGREE_WIDTH")
	os.Unsetenv("FOUNTAIN_ECC_PARITY_SHARDS")

	dec, err := Load(path, nil)
	require.NoError(t, err)
	assert.Equal(t, enc.PacketLayout(), dec.PacketLayout())
	assert.Equal(t, enc.ECC, dec.ECC)
	assert.Equal(t, enc.Scheme, dec.Scheme)
	assert.False(t, dec.Encoder.Header)

	want, err := enc.DecoderOptions()
	require.NoError(t, err)
	got, err := dec.DecoderOptions()
	require.NoError(t, err)
	assert.Equal(t, 37, got.NumberOfChunks, "chunk count comes from the session when the layout omits it")
	assert.Equal(t, want.Scheme, got.Scheme)
	assert.Equal(t, want.Layout, got.Layout)
	assert.Equal(t, want.UseHeaderChunk, got.UseHeaderChunk)
}

func TestSchemeTablesFile(t *testing.T) {
	dir := t.TempDir()
	path := filepath.Join(dir, "tables.txt")
	var b strings.Builder
	for _, name := range []string{"V0", "V1"} {
		b.WriteString(name + "\n")
		for i := 0; i < 256; i++ {
			b.WriteString(strconv.Itoa(i) + " ")
		}
		b.WriteString("\n")
	}
	b.WriteString("J\n18 14 61 46\n")
	require.NoError(t, os.WriteFile(path, []byte(b.String()), 0o644))

	t.Setenv("FOUNTAIN_SCHEME_TABLES", path)
	cfg, err := Load("", nil)
	require.NoError(t, err)
	sp, err := cfg.SchemeSpec()
	require.NoError(t, err)
	require.NotNil(t, sp.Tables)
	assert.Len(t, sp.Tables.J, 4)

	t.Setenv("FOUNTAIN_SCHEME_TABLES", filepath.Join(dir, "missing.txt"))
	cfg, err = Load("", nil)
	require.NoError(t, err)
	_, err = cfg.DecoderOptions()
	assert.Error(t, err)
}
