// Package postprocess implements the Post-Processor: the pipeline that
// turns a finished Recording File's segment chain into one uploadable
// output file and thumbnail.
//
// Grounded on original_source/recorder.py's RecordFile._join_files
// (concat), _transcode (AAC remux), and fetch_filesize (ffprobe-based
// size/duration lookup), restated through internal/encoder.Supervisor
// instead of shelling out ad hoc. Paired segments are awaited via
// Segment.MergeFinished() rather than a callback, per the cyclic-reference
// redesign note in spec.md §9.
package postprocess

import (
	"context"
	"encoding/json"
	"fmt"
	"os"
	"strconv"
	"time"

	"github.com/krsna1729/roomrecorder/internal/encoder"
	"github.com/krsna1729/roomrecorder/internal/logger"
	"github.com/krsna1729/roomrecorder/internal/segment"
)

// Result is the pipeline's successful output, handed to the Uploader.
type Result struct {
	Room          string
	OutputPath    string
	ThumbnailPath string
	DurationSecs  float64
	SizeBytes     int64
}

// Probe is the subset of ffprobe's format JSON the pipeline reads.
type probeFormat struct {
	Format struct {
		Duration string `json:"duration"`
		Size     string `json:"size"`
	} `json:"format"`
}

// Pipeline runs the five post-processing steps against one Recording File.
type Pipeline struct {
	log       *logger.Logger
	sup       *encoder.Supervisor
	pollEvery time.Duration
	mergeWait time.Duration
}

// New creates a Pipeline. mergeWait bounds how long step one waits for
// outstanding paired-segment merges before giving up.
func New(log *logger.Logger, sup *encoder.Supervisor, mergeWait time.Duration) *Pipeline {
	return &Pipeline{
		log:       log,
		sup:       sup,
		pollEvery: 500 * time.Millisecond,
		mergeWait: mergeWait,
	}
}

// Run executes the pipeline: await merges, concat, transcode+thumbnail,
// probe. Auxiliary files (segment .ts files, join-list, intermediate
// concat .ts) are left on disk for the caller to clean up only after a
// successful upload; Run itself never deletes segment inputs on failure so
// the Recording File remains inspectable.
func (p *Pipeline) Run(ctx context.Context, file *segment.RecordingFile) (*Result, error) {
	if err := p.awaitMerges(ctx, file); err != nil {
		return nil, fmt.Errorf("postprocess: %w", err)
	}

	if err := p.writeJoinList(file); err != nil {
		return nil, fmt.Errorf("postprocess: write join list: %w", err)
	}

	if err := p.runStep(ctx, encoder.ConcatArgs(file.JoinListPath, file.JoinedPath)); err != nil {
		return nil, fmt.Errorf("postprocess: concat: %w", err)
	}

	if err := p.runStep(ctx, encoder.TranscodeArgs(file.JoinedPath, file.OutputPath)); err != nil {
		return nil, fmt.Errorf("postprocess: transcode: %w", err)
	}

	if err := p.runStep(ctx, encoder.ThumbnailArgs(file.OutputPath, file.ThumbPath)); err != nil {
		return nil, fmt.Errorf("postprocess: thumbnail: %w", err)
	}

	duration, size, err := p.probe(ctx, file.OutputPath)
	if err != nil {
		return nil, fmt.Errorf("postprocess: probe: %w", err)
	}

	return &Result{
		Room:          file.Room,
		OutputPath:    file.OutputPath,
		ThumbnailPath: file.ThumbPath,
		DurationSecs:  duration,
		SizeBytes:     size,
	}, nil
}

// awaitMerges polls each paired segment's merge-finished flag until all are
// done or mergeWait elapses.
func (p *Pipeline) awaitMerges(ctx context.Context, file *segment.RecordingFile) error {
	deadline := time.Now().Add(p.mergeWait)
	for {
		pending := 0
		for _, seg := range file.Segments {
			if !seg.MergeFinished() {
				pending++
			}
		}
		if pending == 0 {
			return nil
		}
		if time.Now().After(deadline) {
			return fmt.Errorf("timed out waiting for %d segment merge(s)", pending)
		}
		select {
		case <-ctx.Done():
			return ctx.Err()
		case <-time.After(p.pollEvery):
		}
	}
}

// writeJoinList emits the concat-demuxer list file, one line per segment's
// primary (screen, or camera-only) file.
func (p *Pipeline) writeJoinList(file *segment.RecordingFile) error {
	var buf []byte
	for _, seg := range file.Segments {
		buf = append(buf, []byte(encoder.JoinListLine(seg.Folder, seg.ScreenName)+"\n")...)
	}
	return os.WriteFile(file.JoinListPath, buf, 0o644)
}

func (p *Pipeline) runStep(ctx context.Context, args []string) error {
	h, err := p.sup.Spawn(ctx, encoder.Spec{Args: args})
	if err != nil {
		return err
	}
	return h.Wait()
}

// probe runs ffprobe against the final output and parses duration/size.
func (p *Pipeline) probe(ctx context.Context, outputPath string) (float64, int64, error) {
	h, err := p.sup.Spawn(ctx, encoder.Spec{Args: encoder.ProbeArgs(outputPath)})
	if err != nil {
		return 0, 0, err
	}
	if err := h.Wait(); err != nil {
		return 0, 0, err
	}

	var parsed probeFormat
	if err := json.Unmarshal([]byte(h.Output()), &parsed); err != nil {
		return 0, 0, fmt.Errorf("parse ffprobe output: %w", err)
	}

	duration, _ := strconv.ParseFloat(parsed.Format.Duration, 64)
	size, _ := strconv.ParseInt(parsed.Format.Size, 10, 64)
	return duration, size, nil
}

// CleanAux removes every auxiliary file (segment inputs, join list,
// intermediate concat file) belonging to file, retaining only the final
// output and thumbnail. Called after a successful upload.
func (p *Pipeline) CleanAux(file *segment.RecordingFile) {
	for _, seg := range file.Segments {
		if seg.ScreenName != "" {
			p.removeQuiet(seg.Folder + "/" + seg.ScreenName)
		}
		if seg.CamName != "" {
			p.removeQuiet(seg.Folder + "/" + seg.CamName)
		}
	}
	p.removeQuiet(file.JoinListPath)
	p.removeQuiet(file.JoinedPath)
}

func (p *Pipeline) removeQuiet(path string) {
	if err := os.Remove(path); err != nil && !os.IsNotExist(err) {
		p.log.Warn("postprocess: failed to remove auxiliary file %s: %v", path, err)
	}
}
