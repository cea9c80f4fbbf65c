// Command inspect prints what a snapshot holds, extracts its instance list
// and checks it against the build log.
package main

import (
	"bufio"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"path/filepath"
	"sort"
	"strconv"
	"strings"

	"github.com/dustin/go-humanize"
	"github.com/go-gl/mathgl/mgl32"
	"github.com/klauspost/compress/zstd"
	"go.uber.org/multierr"

	"brickstream.ai/internal/extract"
	plog "brickstream.ai/internal/persistence/log"
	"brickstream.ai/internal/persistence/snapshot"
)

type options struct {
	snapshot   string
	headerOnly bool
	pos        mgl32.Vec3
	sort       bool
	reverse    bool
	max        int
	show       int
	out        string
	buildsDir  string
}

func main() {
	var (
		opts options
		pos  string
	)
	flag.StringVar(&opts.snapshot, "snapshot", "", "path to .snap.zst")
	flag.BoolVar(&opts.headerOnly, "header", false, "print only the header")
	flag.StringVar(&pos, "pos", "0,0,0", "streaming position x,y,z")
	flag.BoolVar(&opts.sort, "sort", true, "sort instances by distance to -pos")
	flag.BoolVar(&opts.reverse, "reverse", false, "farthest first")
	flag.IntVar(&opts.max, "max", 0, "instance budget (0 = all)")
	flag.IntVar(&opts.show, "show", 8, "instances to print")
	flag.StringVar(&opts.out, "out", "", "write encoded instances to this file")
	flag.StringVar(&opts.buildsDir, "builds", "", "build log dir, <data>/logs/builds (optional)")
	flag.Parse()

	if opts.snapshot == "" {
		fmt.Fprintln(os.Stderr, "missing -snapshot")
		os.Exit(2)
	}
	p, err := parseVec3(pos)
	if err != nil {
		fmt.Fprintln(os.Stderr, "pos:", err)
		os.Exit(2)
	}
	opts.pos = p

	if err := inspect(os.Stdout, opts); err != nil {
		fmt.Fprintln(os.Stderr, "inspect:", err)
		os.Exit(1)
	}
}

func inspect(out io.Writer, opts options) error {
	if opts.headerOnly {
		h, err := snapshot.ReadHeader(opts.snapshot)
		if err != nil {
			return err
		}
		printHeader(out, h)
		return nil
	}

	snap, err := snapshot.ReadSnapshot(opts.snapshot)
	if err != nil {
		return err
	}
	printHeader(out, snap.Header)
	fmt.Fprintf(out, "source kind=%s image=%q seed=%d size=%dx%d height_scale=%g world_depth=%d\n",
		snap.Source.Kind, snap.Source.ImagePath, snap.Source.Seed, snap.Source.Width, snap.Source.Depth,
		snap.Source.HeightScale, snap.Source.WorldDepth)

	tree, err := snap.Tree()
	if err != nil {
		return fmt.Errorf("restore: %w", err)
	}
	st := tree.Stats()
	fmt.Fprintf(out, "tree depth=%d nodes=%d internal=%d leaves=%d garbage=%d bricks=%d violations=%d\n",
		st.Depth, st.Nodes, st.Internal, st.Leaves, st.Garbage, st.Bricks, st.Violations)
	fmt.Fprintf(out, "buffers nodes=%s bricks=%s\n",
		humanize.IBytes(uint64(len(tree.NodeBuffer()))), humanize.IBytes(uint64(len(tree.Store().Buffer()))))

	instances, err := extract.Extract(tree, extract.Options{
		Sort:         opts.sort,
		Reverse:      opts.reverse,
		StreamingPos: opts.pos,
		MaxInstances: opts.max,
	}, nil)
	if err != nil {
		fmt.Fprintf(out, "violations=%d\n", len(multierr.Errors(err)))
	}
	fmt.Fprintf(out, "instances=%d\n", len(instances))
	for i, in := range instances {
		if i >= opts.show {
			break
		}
		fmt.Fprintf(out, "  %4d pos=(%g,%g,%g) scale=%g brick=%d\n",
			i, in.Position.X(), in.Position.Y(), in.Position.Z(), in.Scale, in.Brick)
	}

	if opts.out != "" {
		buf := extract.Encode(instances)
		if err := os.WriteFile(opts.out, buf, 0o644); err != nil {
			return err
		}
		fmt.Fprintf(out, "wrote %s (%s)\n", opts.out, humanize.IBytes(uint64(len(buf))))
	}

	if opts.buildsDir == "" {
		return nil
	}
	entries, err := readBuilds(opts.buildsDir)
	if err != nil {
		return err
	}
	for _, e := range entries {
		if e.BuildID != snap.Header.BuildID {
			continue
		}
		if e.Err != "" {
			return fmt.Errorf("build %s failed: %s", e.BuildID, e.Err)
		}
		if e.Bricks != snap.Header.Bricks || e.Nodes != snap.Header.Nodes {
			return fmt.Errorf("build %s: log has %d bricks/%d nodes, snapshot %d/%d",
				e.BuildID, e.Bricks, e.Nodes, snap.Header.Bricks, snap.Header.Nodes)
		}
		fmt.Fprintf(out, "build log ok: build=%s generation=%d took=%dms\n", e.BuildID, e.Generation, e.Millis)
		return nil
	}
	return fmt.Errorf("build %s not found in %s (%d entries)", snap.Header.BuildID, opts.buildsDir, len(entries))
}

func printHeader(out io.Writer, h snapshot.Header) {
	fmt.Fprintf(out, "snapshot v%d world=%s generation=%d build=%s created=%s depth=%d nodes=%d bricks=%d palette=%s\n",
		h.Version, h.WorldID, h.Generation, h.BuildID, humanize.Time(h.CreatedAt), h.Depth, h.Nodes, h.Bricks, h.PaletteDigest)
}

func parseVec3(s string) (mgl32.Vec3, error) {
	var v mgl32.Vec3
	parts := strings.Split(s, ",")
	if len(parts) != 3 {
		return v, errors.New("want x,y,z")
	}
	for i, p := range parts {
		f, err := strconv.ParseFloat(strings.TrimSpace(p), 32)
		if err != nil {
			return v, err
		}
		v[i] = float32(f)
	}
	return v, nil
}

func listBuildFiles(dir string) ([]string, error) {
	ents, err := os.ReadDir(dir)
	if err != nil {
		return nil, err
	}
	names := make([]string, 0, len(ents))
	for _, e := range ents {
		if e.IsDir() {
			continue
		}
		name := e.Name()
		if strings.HasPrefix(name, "builds-") && strings.HasSuffix(name, ".jsonl.zst") {
			names = append(names, name)
		}
	}
	sort.Strings(names)
	out := make([]string, 0, len(names))
	for _, name := range names {
		out = append(out, filepath.Join(dir, name))
	}
	return out, nil
}

func readBuilds(dir string) ([]plog.BuildEntry, error) {
	files, err := listBuildFiles(dir)
	if err != nil {
		return nil, err
	}
	var out []plog.BuildEntry
	for _, path := range files {
		entries, err := readBuildFile(path)
		if err != nil {
			return nil, err
		}
		out = append(out, entries...)
	}
	return out, nil
}

func readBuildFile(path string) ([]plog.BuildEntry, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	defer f.Close()

	dec, err := zstd.NewReader(f)
	if err != nil {
		return nil, err
	}
	defer dec.Close()

	sc := bufio.NewScanner(dec)
	sc.Buffer(make([]byte, 64*1024), 1024*1024)

	var out []plog.BuildEntry
	for sc.Scan() {
		var e plog.BuildEntry
		if err := json.Unmarshal(sc.Bytes(), &e); err != nil {
			return nil, fmt.Errorf("%s: unmarshal: %w", filepath.Base(path), err)
		}
		out = append(out, e)
	}
	return out, sc.Err()
}
