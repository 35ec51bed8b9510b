// Package replay feeds recorded landmark frames through the counting engine,
// either locally on a simulated clock or against a remote server session.
package replay

import (
	"bufio"
	"bytes"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"strings"
	"time"

	"github.com/klauspost/compress/gzip"
	"github.com/meltforce/rehabreps/internal/pose"
)

// FrameInterval is the spacing assumed for frames recorded without a time.
const FrameInterval = time.Second / 30

// maxLine bounds one JSON line; a full body plus two hands stays well below it.
const maxLine = 1 << 20

// Open opens a recording. Files ending in .gz are decompressed.
func Open(path string) (io.ReadCloser, error) {
	f, err := os.Open(path)
	if err != nil {
		return nil, err
	}
	if !strings.HasSuffix(path, ".gz") {
		return f, nil
	}
	zr, err := gzip.NewReader(f)
	if err != nil {
		f.Close()
		return nil, fmt.Errorf("gzip %s: %w", path, err)
	}
	return &gzipFile{Reader: zr, f: f}, nil
}

type gzipFile struct {
	*gzip.Reader
	f *os.File
}

func (g *gzipFile) Close() error {
	err := g.Reader.Close()
	if cerr := g.f.Close(); err == nil {
		err = cerr
	}
	return err
}

// ReadFrames parses JSON Lines, one pose.Frame per line. Blank lines are
// skipped. Frames without a time are placed FrameInterval after the previous
// one; a recording must not go back in time.
func ReadFrames(r io.Reader) ([]pose.Frame, error) {
	sc := bufio.NewScanner(r)
	sc.Buffer(make([]byte, 64*1024), maxLine)

	var frames []pose.Frame
	var last time.Time
	line := 0
	for sc.Scan() {
		line++
		b := bytes.TrimSpace(sc.Bytes())
		if len(b) == 0 {
			continue
		}
		var f pose.Frame
		if err := json.Unmarshal(b, &f); err != nil {
			return nil, fmt.Errorf("line %d: %w", line, err)
		}
		switch {
		case f.Time.IsZero() && last.IsZero():
			f.Time = time.Unix(0, 0).UTC()
		case f.Time.IsZero():
			f.Time = last.Add(FrameInterval)
		case f.Time.Before(last):
			return nil, fmt.Errorf("line %d: time %s is before previous frame %s", line, f.Time.Format(time.RFC3339Nano), last.Format(time.RFC3339Nano))
		}
		last = f.Time
		frames = append(frames, f)
	}
	if err := sc.Err(); err != nil {
		return nil, fmt.Errorf("line %d: %w", line+1, err)
	}
	return frames, nil
}

// Duration is the time covered by frames.
func Duration(frames []pose.Frame) time.Duration {
	if len(frames) < 2 {
		return 0
	}
	return frames[len(frames)-1].Time.Sub(frames[0].Time)
}
