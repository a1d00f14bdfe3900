// cmd/client/main.go
// Command-line front end: encode files into packet sets, decode them back,
// push packets to ingest nodes and fetch decoded objects.

package main

import (
	"context"
	"errors"
	"fmt"
	"os"
	"path"
	"path/filepath"
	"strings"
	"sync"
	"time"

	"github.com/dattu/dna_fountain/pkg/config"
	"github.com/dattu/dna_fountain/pkg/decoder"
	"github.com/dattu/dna_fountain/pkg/encoder"
	"github.com/dattu/dna_fountain/pkg/logging"
	"github.com/dattu/dna_fountain/pkg/packet"
	"github.com/dattu/dna_fountain/pkg/protocol"
	"github.com/dattu/dna_fountain/pkg/storage"
	"github.com/dattu/dna_fountain/pkg/sweep"
	"github.com/dustin/go-humanize"
	"github.com/sirupsen/logrus"
	"github.com/sourcegraph/conc"
	"github.com/spf13/pflag"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
)

const (
	pushAttempts = 3
	pushTimeout  = 10 * time.Second
	retryDelay   = 2 * time.Second
)

type flags struct {
	fs      *pflag.FlagSet
	cfgPath *string
	in      *string
	out     *string
	format  *string
	id      *string
	peers   *string
	trials  *int
	workers *int
	drop    *float64
}

func newFlags(mode string) *flags {
	fs := pflag.NewFlagSet(mode, pflag.ExitOnError)
	f := &flags{
		fs:      fs,
		cfgPath: fs.String("config", "", "YAML configuration file"),
		in:      fs.String("in", "", "input file, directory or container"),
		out:     fs.String("out", "", "output file, directory or container"),
		format:  fs.String("format", "dir", "packet set format: dir | container | db"),
		id:      fs.String("id", "", "object id"),
		peers:   fs.String("peers", "localhost:50051", "comma-separated ingest nodes"),
		trials:  fs.Int("trials", 20, "sweep trials"),
		workers: fs.Int("workers", 0, "sweep workers (0: GOMAXPROCS)"),
		drop:    fs.Float64("drop", 0, "fraction of packets erased per sweep trial"),
	}
	config.RegisterFlags(fs)
	return f
}

func main() {
	if len(os.Args) < 2 {
		fmt.Fprintln(os.Stderr, "usage: client encode|decode|push|fetch|sweep [flags]")
		os.Exit(2)
	}
	mode := os.Args[1]
	f := newFlags(mode)
	f.fs.Parse(os.Args[2:])

	cfg, err := config.Load(*f.cfgPath, f.fs)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}
	log, err := logging.New(cfg.Log.Level, cfg.Log.Format, os.Stderr)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(2)
	}

	switch mode {
	case "encode":
		err = encode(cfg, f, log)
	case "decode":
		err = decode(cfg, f, log)
	case "push":
		err = push(cfg, f, log)
	case "fetch":
		err = fetch(f, log)
	case "sweep":
		err = runSweep(cfg, f, log)
	default:
		err = fmt.Errorf("unknown mode %q; must be encode, decode, push, fetch or sweep", mode)
	}
	if err != nil {
		log.WithError(err).Fatal(mode + " failed")
	}
}

/* ------------------------------------------------------------------------ */
/* encode                                                                   */
/* ------------------------------------------------------------------------ */

func newEncoder(cfg *config.Config, file string, log logrus.FieldLogger) (*encoder.Encoder, error) {
	data, err := os.ReadFile(file)
	if err != nil {
		return nil, err
	}
	opts, err := cfg.EncoderOptions(filepath.Base(file))
	if err != nil {
		return nil, err
	}
	opts.Logger = log
	return encoder.New(data, opts)
}

func encode(cfg *config.Config, f *flags, log *logrus.Logger) error {
	if *f.in == "" || *f.out == "" {
		return errors.New("--in and --out are mandatory")
	}
	enc, err := newEncoder(cfg, *f.in, log)
	if err != nil {
		return err
	}

	var (
		recs  [][]byte
		seeds []uint64
		bytes uint64
	)
	st, err := enc.Encode(cfg.Stop(), func(p *packet.Packet) error {
		rec, err := enc.Marshal(p)
		if err != nil {
			return err
		}
		recs, seeds = append(recs, rec), append(seeds, p.Seed())
		bytes += uint64(len(rec))
		return nil
	})
	if err != nil {
		return err
	}
	if err := writeSet(cfg, *f.format, *f.out, *f.id, recs, seeds); err != nil {
		return err
	}
	session := sessionPath(*f.out)
	if err := cfg.WriteSession(session, enc.NumberOfChunks()); err != nil {
		return err
	}
	log.WithFields(logrus.Fields{
		"session": session,
		"chunks":  enc.NumberOfChunks(),
		"packets": st.Emitted,
		"dropped": st.Dropped,
		"size":    humanize.Bytes(bytes),
	}).Infof("encoded %q", *f.in)
	return nil
}

func writeSet(cfg *config.Config, format, out, id string, recs [][]byte, seeds []uint64) error {
	switch format {
	case "dir":
		ds, err := storage.NewDirStore(out, "bin")
		if err != nil {
			return err
		}
		for i, rec := range recs {
			if err := ds.Put(seeds[i], rec); err != nil {
				return err
			}
		}
		return nil
	case "container":
		fh, err := os.Create(out)
		if err != nil {
			return err
		}
		if err := storage.WriteContainer(fh, cfg.PacketLayout(), recs, cfg.Storage.Compress); err != nil {
			fh.Close()
			return err
		}
		return fh.Close()
	case "db":
		if id == "" {
			return errors.New("--id is mandatory for the db format")
		}
		db, err := storage.OpenPacketDB(out, nil)
		if err != nil {
			return err
		}
		for _, rec := range recs {
			if err := db.Put(id, rec); err != nil {
				db.Close()
				return err
			}
		}
		return db.Close()
	}
	return fmt.Errorf("unknown format %q", format)
}

// sessionPath names the YAML sidecar written next to a packet set; pass
// it to decode with --config.
func sessionPath(out string) string {
	return strings.TrimSuffix(out, string(filepath.Separator)) + ".yaml"
}

/* ------------------------------------------------------------------------ */
/* decode                                                                   */
/* ------------------------------------------------------------------------ */

// outputName prefers the --out flag. Otherwise the header's file name is
// reduced to its base name so a decoded set cannot write outside the
// working directory.
func outputName(flagOut, headerName string) (string, error) {
	if flagOut != "" {
		return flagOut, nil
	}
	if headerName == "" {
		return "", errors.New("--out is mandatory without a header file name")
	}
	name := path.Base(strings.ReplaceAll(headerName, `\`, "/"))
	switch name {
	case ".", "..", "/", "":
		return "", fmt.Errorf("header file name %q is not usable; pass --out", headerName)
	}
	return name, nil
}

func readSet(cfg *config.Config, format, in, id string) ([][]byte, error) {
	switch format {
	case "dir":
		ds, err := storage.NewDirStore(in, "bin")
		if err != nil {
			return nil, err
		}
		return ds.Load()
	case "container":
		fh, err := os.Open(in)
		if err != nil {
			return nil, err
		}
		defer fh.Close()
		return storage.ReadContainer(fh, cfg.PacketLayout())
	case "db":
		db, err := storage.OpenPacketDB(in, nil)
		if err != nil {
			return nil, err
		}
		defer db.Close()
		var recs [][]byte
		err = db.ForEach(id, func(rec []byte) error {
			recs = append(recs, append([]byte(nil), rec...))
			return nil
		})
		return recs, err
	}
	return nil, fmt.Errorf("unknown format %q", format)
}

func decode(cfg *config.Config, f *flags, log *logrus.Logger) error {
	if *f.in == "" {
		return errors.New("--in is mandatory")
	}
	recs, err := readSet(cfg, *f.format, *f.in, *f.id)
	if err != nil {
		return err
	}
	opts, err := cfg.DecoderOptions()
	if err != nil {
		return err
	}
	opts.Logger = log
	dec, err := decoder.New(opts)
	if err != nil {
		return err
	}
	for _, rec := range recs {
		done, err := dec.IngestRaw(rec)
		if err != nil && !errors.Is(err, decoder.ErrPacketRejected) {
			return err
		}
		if done {
			break
		}
	}
	res := dec.Solve()
	log.WithFields(logrus.Fields{
		"solved":    res.Solved,
		"total":     res.Total,
		"rejected":  res.Rejected,
		"conflicts": res.Conflicts,
		"passes":    res.EliminationPasses,
	}).Info("decode finished")
	if err := res.Err(); err != nil {
		return err
	}
	data, h, err := dec.Reassemble()
	if err != nil {
		return err
	}
	var name string
	if h != nil {
		name = h.FileName
	}
	out, err := outputName(*f.out, name)
	if err != nil {
		return err
	}
	if err := storage.AtomicWrite(out, data, 0o644); err != nil {
		return err
	}
	fmt.Printf("Decoded %d packets → %q (%s)\n", len(recs), out, humanize.Bytes(uint64(len(data))))
	return nil
}

/* ------------------------------------------------------------------------ */
/* push / fetch                                                             */
/* ------------------------------------------------------------------------ */

func dial(addr string) (*grpc.ClientConn, error) {
	return grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
}

func splitPeers(s string) []string {
	var out []string
	for _, p := range strings.Split(s, ",") {
		if p = strings.TrimSpace(p); p != "" {
			out = append(out, p)
		}
	}
	return out
}

type peer struct {
	addr string
	conn *grpc.ClientConn
	c    *protocol.IngestClient
	done bool
}

func pushRecord(p *peer, req *protocol.PushRequest, log logrus.FieldLogger) (*protocol.PushResponse, error) {
	var lastErr error
	for attempt := 1; attempt <= pushAttempts; attempt++ {
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		resp, err := p.c.Push(ctx, req)
		cancel()
		if err == nil {
			return resp, nil
		}
		lastErr = err
		log.WithError(err).WithFields(logrus.Fields{"peer": p.addr, "attempt": attempt}).Warn("push failed")
		if attempt < pushAttempts {
			time.Sleep(retryDelay)
		}
	}
	return nil, fmt.Errorf("push to %s failed after %d attempts: %w", p.addr, pushAttempts, lastErr)
}

// push streams packets to every peer until each reports the object
// complete or the encoder's stop condition is reached.
func push(cfg *config.Config, f *flags, log *logrus.Logger) error {
	if *f.in == "" || *f.id == "" {
		return errors.New("--in and --id are mandatory")
	}
	enc, err := newEncoder(cfg, *f.in, log)
	if err != nil {
		return err
	}
	var peers []*peer
	for _, addr := range splitPeers(*f.peers) {
		conn, err := dial(addr)
		if err != nil {
			return err
		}
		defer conn.Close()
		peers = append(peers, &peer{addr: addr, conn: conn, c: protocol.NewIngestClient(conn)})
	}
	if len(peers) == 0 {
		return errors.New("no peers")
	}

	errStop := errors.New("all peers complete")
	var mu sync.Mutex
	sent := 0
	_, err = enc.Encode(cfg.Stop(), func(p *packet.Packet) error {
		rec, err := enc.Marshal(p)
		if err != nil {
			return err
		}
		req := &protocol.PushRequest{ObjectID: *f.id, Packet: rec}
		var wg conc.WaitGroup
		var firstErr error
		for _, pr := range peers {
			if pr.done {
				continue
			}
			pr := pr
			wg.Go(func() {
				resp, err := pushRecord(pr, req, log)
				mu.Lock()
				defer mu.Unlock()
				if err != nil {
					if firstErr == nil {
						firstErr = err
					}
					return
				}
				if resp.Complete {
					pr.done = true
					log.WithFields(logrus.Fields{"peer": pr.addr, "solved": resp.Solved}).Info("peer complete")
				}
			})
		}
		wg.Wait()
		if firstErr != nil {
			return firstErr
		}
		sent++
		for _, pr := range peers {
			if !pr.done {
				return nil
			}
		}
		return errStop
	})
	if err != nil && !errors.Is(err, errStop) {
		return err
	}
	for _, pr := range peers {
		if !pr.done {
			return fmt.Errorf("%s did not complete %q after %d packets", pr.addr, *f.id, sent)
		}
	}
	fmt.Printf("Push complete for %q after %d packets\n", *f.id, sent)
	return nil
}

func fetch(f *flags, log *logrus.Logger) error {
	if *f.id == "" {
		return errors.New("--id is mandatory")
	}
	for _, addr := range splitPeers(*f.peers) {
		conn, err := dial(addr)
		if err != nil {
			continue
		}
		ctx, cancel := context.WithTimeout(context.Background(), pushTimeout)
		resp, err := protocol.NewIngestClient(conn).Fetch(ctx, &protocol.FetchRequest{ObjectID: *f.id})
		cancel()
		conn.Close()
		if err != nil {
			log.WithError(err).WithField("peer", addr).Warn("fetch failed")
			continue
		}
		if !resp.Complete {
			log.WithFields(logrus.Fields{"peer": addr, "solved": resp.Solved, "total": resp.Total}).Warn("object incomplete")
			continue
		}
		out, err := outputName(*f.out, resp.FileName)
		if err != nil {
			return err
		}
		if err := storage.AtomicWrite(out, resp.Data, 0o644); err != nil {
			return err
		}
		fmt.Printf("Fetched %q → %q (%s)\n", *f.id, out, humanize.Bytes(uint64(len(resp.Data))))
		return nil
	}
	return fmt.Errorf("no peer holds a complete %q", *f.id)
}

/* ------------------------------------------------------------------------ */
/* sweep                                                                    */
/* ------------------------------------------------------------------------ */

func runSweep(cfg *config.Config, f *flags, log *logrus.Logger) error {
	if *f.in == "" {
		return errors.New("--in is mandatory")
	}
	data, err := os.ReadFile(*f.in)
	if err != nil {
		return err
	}
	eo, err := cfg.EncoderOptions(filepath.Base(*f.in))
	if err != nil {
		return err
	}
	do, err := cfg.DecoderOptions()
	if err != nil {
		return err
	}
	trials, sum, err := sweep.Run(context.Background(), sweep.Options{
		Data:        data,
		Encoder:     eo,
		Decoder:     do,
		Trials:      *f.trials,
		Workers:     *f.workers,
		BaseSeed:    cfg.Encoder.MasterSeed,
		MaxOverhead: cfg.Encoder.Overhead,
		DropRate:    *f.drop,
		Logger:      log,
	})
	if err != nil {
		return err
	}
	for _, t := range trials {
		fmt.Printf("trial %3d seed %10d needed %6d complete %t\n", t.Index, t.Seed, t.Needed, t.Complete)
	}
	fmt.Printf("mean needed %.1f (overhead %.3f), min %d, max %d, failures %d/%d\n",
		sum.MeanNeeded, sum.MeanOverhead, sum.MinNeeded, sum.MaxNeeded, sum.Failures, sum.Trials)
	return nil
}
