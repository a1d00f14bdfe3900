// pkg/config/config.go
package config

import (
	"fmt"
	"os"
	"strings"
	"time"

	"github.com/dattu/dna_fountain/pkg/bitkernel"
	"github.com/dattu/dna_fountain/pkg/decoder"
	"github.com/dattu/dna_fountain/pkg/distribution"
	"github.com/dattu/dna_fountain/pkg/ecc"
	"github.com/dattu/dna_fountain/pkg/encoder"
	"github.com/dattu/dna_fountain/pkg/indexgen"
	"github.com/dattu/dna_fountain/pkg/packet"
	"github.com/dattu/dna_fountain/pkg/scheme"
	"github.com/spf13/pflag"
	"github.com/spf13/viper"
)

type Config struct {
	Encoder struct {
		Chunks            int     `mapstructure:"chunks"`
		ChunkSize         int     `mapstructure:"chunk_size"`
		Header            bool    `mapstructure:"header"`
		HeaderLengthWidth int     `mapstructure:"header_length_width"`
		Overhead          float64 `mapstructure:"overhead"`
		Count             int     `mapstructure:"count"`
		RandomSeeds       bool    `mapstructure:"random_seeds"`
		MasterSeed        uint32  `mapstructure:"master_seed"`
		EnsureCoverage    bool    `mapstructure:"ensure_coverage"`
		DropUpperBound    float64 `mapstructure:"drop_upper_bound"`
	} `mapstructure:"encoder"`

	Scheme struct {
		Name         string  `mapstructure:"name"`
		Distribution string  `mapstructure:"distribution"`
		Spike        int     `mapstructure:"spike"`
		C            float64 `mapstructure:"c"`
		Delta        float64 `mapstructure:"delta"`
		Epsilon      float64 `mapstructure:"epsilon"`
		Quality      int     `mapstructure:"quality"`
		Systematic   bool    `mapstructure:"systematic"`
		Tables       string  `mapstructure:"tables"`
	} `mapstructure:"scheme"`

	Layout struct {
		ChunksWidth int  `mapstructure:"chunks_width"`
		DegreeWidth int  `mapstructure:"degree_width"`
		SeedWidth   int  `mapstructure:"seed_width"`
		LengthWidth int  `mapstructure:"length_width"`
		Mask        bool `mapstructure:"mask"`
	} `mapstructure:"layout"`

	ECC struct {
		Codec        string `mapstructure:"codec"`
		DataShards   int    `mapstructure:"data_shards"`
		ParityShards int    `mapstructure:"parity_shards"`
		Seed         uint64 `mapstructure:"seed"`
	} `mapstructure:"ecc"`

	Decoder struct {
		Partial   bool   `mapstructure:"partial"`
		Kernel    string `mapstructure:"kernel"`
		MaxChunks int    `mapstructure:"max_chunks"`
	} `mapstructure:"decoder"`

	Storage struct {
		Datadir  string `mapstructure:"datadir"`
		DB       string `mapstructure:"db"`
		Compress bool   `mapstructure:"compress"`
	} `mapstructure:"storage"`

	Server struct {
		GRPCPort    int           `mapstructure:"grpc_port"`
		MetricsPort int           `mapstructure:"metrics_port"`
		TTL         time.Duration `mapstructure:"ttl"`
	} `mapstructure:"server"`

	Log struct {
		Level  string `mapstructure:"level"`
		Format string `mapstructure:"format"`
	} `mapstructure:"log"`
}

// flagKeys maps command-line flags to configuration keys.
var flagKeys = map[string]string{
	"chunks":       "encoder.chunks",
	"chunk-size":   "encoder.chunk_size",
	"header":       "encoder.header",
	"overhead":     "encoder.overhead",
	"count":        "encoder.count",
	"master-seed":  "encoder.master_seed",
	"scheme":       "scheme.name",
	"distribution": "scheme.distribution",
	"systematic":   "scheme.systematic",
	"codec":        "ecc.codec",
	"compress":     "storage.compress",
	"db":           "storage.db",
	"port":         "server.grpc_port",
	"metrics-port": "server.metrics_port",
	"log-level":    "log.level",
	"log-format":   "log.format",
}

// RegisterFlags adds the overridable settings to fs. Flags left unset do
// not shadow file or environment values.
func RegisterFlags(fs *pflag.FlagSet) {
	fs.Int("chunks", 0, "number of chunks (0: derive from --chunk-size)")
	fs.Int("chunk-size", 0, "chunk size in bytes")
	fs.Bool("header", true, "insert a header chunk with file name and length")
	fs.Float64("overhead", 0, "emit ceil(overhead*K) packets")
	fs.Int("count", 0, "emit exactly this many packets")
	fs.Uint32("master-seed", 0, "seed of the random seed generator")
	fs.String("scheme", "", "lt | online | raptor")
	fs.String("distribution", "", "degree distribution for lt")
	fs.Bool("systematic", false, "raptor systematic ids")
	fs.String("codec", "", "nocode | crc32 | fingerprint | reedsolomon")
	fs.Bool("compress", false, "zstd-compress containers")
	fs.String("db", "", "packet database file")
	fs.Int("port", 0, "gRPC port")
	fs.Int("metrics-port", 0, "HTTP port for /metrics")
	fs.String("log-level", "", "log level")
	fs.String("log-format", "", "text | json")
}

func setDefaults(v *viper.Viper) {
	v.SetDefault("encoder.chunks", 0)
	v.SetDefault("encoder.chunk_size", 0)
	v.SetDefault("encoder.header", true)
	v.SetDefault("encoder.header_length_width", packet.DefaultLengthWidth)
	v.SetDefault("encoder.overhead", 2.0)
	v.SetDefault("encoder.count", 0)
	v.SetDefault("encoder.random_seeds", false)
	v.SetDefault("encoder.master_seed", 0)
	v.SetDefault("encoder.ensure_coverage", false)
	v.SetDefault("encoder.drop_upper_bound", 1.0)

	v.SetDefault("scheme.name", "lt")
	v.SetDefault("scheme.distribution", "")
	v.SetDefault("scheme.spike", 0)
	v.SetDefault("scheme.c", distribution.DefaultC)
	v.SetDefault("scheme.delta", distribution.DefaultDelta)
	v.SetDefault("scheme.epsilon", distribution.DefaultEpsilon)
	v.SetDefault("scheme.quality", scheme.DefaultQuality)
	v.SetDefault("scheme.systematic", false)
	v.SetDefault("scheme.tables", "")

	v.SetDefault("layout.chunks_width", packet.DefaultLayout.ChunksWidth)
	v.SetDefault("layout.degree_width", packet.DefaultLayout.DegreeWidth)
	v.SetDefault("layout.seed_width", packet.DefaultLayout.SeedWidth)
	v.SetDefault("layout.length_width", packet.DefaultLayout.LengthWidth)
	v.SetDefault("layout.mask", packet.DefaultLayout.Mask)

	v.SetDefault("ecc.codec", "crc32")
	v.SetDefault("ecc.data_shards", 4)
	v.SetDefault("ecc.parity_shards", 2)
	v.SetDefault("ecc.seed", 0)

	v.SetDefault("decoder.partial", false)
	v.SetDefault("decoder.kernel", "")
	v.SetDefault("decoder.max_chunks", decoder.DefaultMaxChunks)

	v.SetDefault("storage.datadir", "data")
	v.SetDefault("storage.db", "packets.db")
	v.SetDefault("storage.compress", false)

	v.SetDefault("server.grpc_port", 50051)
	v.SetDefault("server.metrics_port", 9102)
	v.SetDefault("server.ttl", "24h")

	v.SetDefault("log.level", "info")
	v.SetDefault("log.format", "text")
}

// Load layers, lowest first: defaults, the YAML file at path (optional),
// FOUNTAIN_* environment variables (FOUNTAIN_SCHEME_NAME=raptor) and the
// flags of fs that were set explicitly.
func Load(path string, fs *pflag.FlagSet) (*Config, error) {
	v := viper.New()
	setDefaults(v)

	if path != "" {
		v.SetConfigFile(path)
		if err := v.ReadInConfig(); err != nil {
			return nil, fmt.Errorf("read config %s: %w", path, err)
		}
	}

	v.SetEnvPrefix("FOUNTAIN")
	v.SetEnvKeyReplacer(strings.NewReplacer(".", "_"))
	v.AutomaticEnv()

	if fs != nil {
		for name, key := range flagKeys {
			if f := fs.Lookup(name); f != nil && f.Changed {
				if err := v.BindPFlag(key, f); err != nil {
					return nil, err
				}
			}
		}
	}

	var cfg Config
	if err := v.Unmarshal(&cfg); err != nil {
		return nil, err
	}
	return &cfg, nil
}

/* ------------------------------------------------------------------------ */
/* builders                                                                 */
/* ------------------------------------------------------------------------ */

// SchemeSpec loads the systematic tables named by scheme.tables, if any.
func (c *Config) SchemeSpec() (scheme.Spec, error) {
	sp := scheme.Spec{
		Name:         c.Scheme.Name,
		Distribution: c.Scheme.Distribution,
		Params: distribution.Params{
			Spike:   c.Scheme.Spike,
			C:       c.Scheme.C,
			Delta:   c.Scheme.Delta,
			Epsilon: c.Scheme.Epsilon,
		},
		Epsilon:    c.Scheme.Epsilon,
		Quality:    c.Scheme.Quality,
		Systematic: c.Scheme.Systematic,
	}
	if c.Scheme.Tables != "" {
		f, err := os.Open(c.Scheme.Tables)
		if err != nil {
			return scheme.Spec{}, fmt.Errorf("scheme tables: %w", err)
		}
		defer f.Close()
		if sp.Tables, err = indexgen.LoadTables(f); err != nil {
			return scheme.Spec{}, fmt.Errorf("scheme tables %s: %w", c.Scheme.Tables, err)
		}
	}
	return sp, nil
}

func (c *Config) PacketLayout() packet.Layout {
	return packet.Layout{
		ChunksWidth: c.Layout.ChunksWidth,
		DegreeWidth: c.Layout.DegreeWidth,
		SeedWidth:   c.Layout.SeedWidth,
		LengthWidth: c.Layout.LengthWidth,
		Mask:        c.Layout.Mask,
	}
}

func (c *Config) Codec() (ecc.Codec, error) {
	return ecc.New(c.ECC.Codec, ecc.Params{
		DataShards:   c.ECC.DataShards,
		ParityShards: c.ECC.ParityShards,
		Seed:         c.ECC.Seed,
	})
}

// Stop prefers an explicit packet count over the overhead ratio.
func (c *Config) Stop() encoder.Stop {
	if c.Encoder.Count > 0 {
		return encoder.Count(c.Encoder.Count)
	}
	return encoder.Overhead(c.Encoder.Overhead)
}

func (c *Config) EncoderOptions(fileName string) (encoder.Options, error) {
	codec, err := c.Codec()
	if err != nil {
		return encoder.Options{}, err
	}
	sp, err := c.SchemeSpec()
	if err != nil {
		return encoder.Options{}, err
	}
	return encoder.Options{
		NumberOfChunks:    c.Encoder.Chunks,
		ChunkSize:         c.Encoder.ChunkSize,
		InsertHeader:      c.Encoder.Header,
		FileName:          fileName,
		HeaderLengthWidth: c.Encoder.HeaderLengthWidth,
		Scheme:            sp,
		Codec:             codec,
		Layout:            c.PacketLayout(),
		DropUpperBound:    c.Encoder.DropUpperBound,
		RandomSeeds:       c.Encoder.RandomSeeds,
		MasterSeed:        c.Encoder.MasterSeed,
		EnsureCoverage:    c.Encoder.EnsureCoverage,
		Kernel:            bitkernel.ByName(c.Decoder.Kernel),
	}, nil
}

// DecoderOptions leaves NumberOfChunks zero when the layout carries it.
func (c *Config) DecoderOptions() (decoder.Options, error) {
	codec, err := c.Codec()
	if err != nil {
		return decoder.Options{}, err
	}
	sp, err := c.SchemeSpec()
	if err != nil {
		return decoder.Options{}, err
	}
	opts := decoder.Options{
		Scheme:            sp,
		Codec:             codec,
		Layout:            c.PacketLayout(),
		UseHeaderChunk:    c.Encoder.Header,
		HeaderLengthWidth: c.Encoder.HeaderLengthWidth,
		Partial:           c.Decoder.Partial,
		Kernel:            bitkernel.ByName(c.Decoder.Kernel),
		MaxChunks:         c.Decoder.MaxChunks,
	}
	if c.Layout.ChunksWidth == 0 {
		opts.NumberOfChunks = c.Encoder.Chunks
	}
	return opts, nil
}

/* ------------------------------------------------------------------------ */
/* session sidecar                                                          */
/* ------------------------------------------------------------------------ */

// WriteSession saves the settings that shaped an encoding of chunks
// chunks as YAML at path. Loading it with Load reproduces the scheme,
// layout, codec and header settings on the decoding side.
func (c *Config) WriteSession(path string, chunks int) error {
	v := viper.New()
	v.Set("encoder.chunks", chunks)
	v.Set("encoder.header", c.Encoder.Header)
	v.Set("encoder.header_length_width", c.Encoder.HeaderLengthWidth)
	v.Set("encoder.random_seeds", c.Encoder.RandomSeeds)
	v.Set("encoder.master_seed", c.Encoder.MasterSeed)

	v.Set("scheme.name", c.Scheme.Name)
	v.Set("scheme.distribution", c.Scheme.Distribution)
	v.Set("scheme.spike", c.Scheme.Spike)
	v.Set("scheme.c", c.Scheme.C)
	v.Set("scheme.delta", c.Scheme.Delta)
	v.Set("scheme.epsilon", c.Scheme.Epsilon)
	v.Set("scheme.quality", c.Scheme.Quality)
	v.Set("scheme.systematic", c.Scheme.Systematic)
	v.Set("scheme.tables", c.Scheme.Tables)

	v.Set("layout.chunks_width", c.Layout.ChunksWidth)
	v.Set("layout.degree_width", c.Layout.DegreeWidth)
	v.Set("layout.seed_width", c.Layout.SeedWidth)
	v.Set("layout.length_width", c.Layout.LengthWidth)
	v.Set("layout.mask", c.Layout.Mask)

	v.Set("ecc.codec", c.ECC.Codec)
	v.Set("ecc.data_shards", c.ECC.DataShards)
	v.Set("ecc.parity_shards", c.ECC.ParityShards)
	v.Set("ecc.seed", c.ECC.Seed)

	if err := v.WriteConfigAs(path); err != nil {
		return fmt.Errorf("write session %s: %w", path, err)
	}
	return nil
}
