// Package segment owns the on-disk layout for recordings: per-room
// directories, per-publisher segment files, and the room-level chain of
// segments a recording produces across start/pause/resume cycles.
//
// The store itself holds no in-memory ownership beyond file paths; Segment,
// RecordingFile and PausedFile are plain data owned by the caller (the
// session and room packages).
package segment

import (
	"errors"
	"fmt"
	"os"
	"path/filepath"
	"runtime"
	"sync"
	"time"
)

// ErrAlreadyFinalized is returned by Segment.Finalize when End has already
// been set once.
var ErrAlreadyFinalized = errors.New("segment: already finalized")

// Segment is an append-only record of one contiguous encoder invocation.
type Segment struct {
	// ScreenName is the segment's primary file name. For a camera-only
	// segment this is the camera file; for a paired segment it is the
	// screen file (the camera file lives in CamName).
	ScreenName string
	// CamName is set when this segment was produced by a paired
	// screen+camera capture.
	CamName string
	Begin   time.Time
	End     time.Time
	Room    string
	Publisher string
	Folder  string

	mu             sync.Mutex
	finalized      bool
	mergeFinished  bool
}

// IsPaired reports whether this segment has a companion camera file.
func (s *Segment) IsPaired() bool {
	return s.CamName != ""
}

// MergeFinished reports whether the background PiP merge (if any) has
// completed. A non-paired segment is always reported as finished.
func (s *Segment) MergeFinished() bool {
	if !s.IsPaired() {
		return true
	}
	s.mu.Lock()
	defer s.mu.Unlock()
	return s.mergeFinished
}

// SetMergeFinished marks the background merge complete. Called by the
// goroutine started from session.Stop once the composite ffmpeg run exits.
func (s *Segment) SetMergeFinished() {
	s.mu.Lock()
	s.mergeFinished = true
	s.mu.Unlock()
}

// Finalize sets the end timestamp. It rejects a second call on the same
// segment.
func (s *Segment) Finalize(end time.Time) error {
	s.mu.Lock()
	defer s.mu.Unlock()
	if s.finalized {
		return ErrAlreadyFinalized
	}
	s.End = end
	s.finalized = true
	return nil
}

// RecordingFile is the room-level ordered chain of segments produced across
// one logical recording, spanning pause/resume boundaries.
type RecordingFile struct {
	Room     string
	Folder   string
	Segments []*Segment

	JoinListPath string
	JoinedPath   string
	OutputPath   string
	ThumbPath    string
}

// Append adds a segment to the tail of the chain.
func (f *RecordingFile) Append(s *Segment) {
	f.Segments = append(f.Segments, s)
}

// Tail returns the most recently appended segment, or nil if empty.
func (f *RecordingFile) Tail() *Segment {
	if len(f.Segments) == 0 {
		return nil
	}
	return f.Segments[len(f.Segments)-1]
}

// PausedFile holds one or more RecordingFiles belonging to one room across a
// pause boundary, so a subsequent start concatenates onto the existing chain
// instead of starting fresh.
type PausedFile struct {
	Room  string
	Files []*RecordingFile
}

// Store resolves the on-disk layout under a configured or platform-default
// recordings root.
type Store struct {
	root string

	mu      sync.Mutex
	counter map[string]int // disambiguates same-publisher-same-second collisions
}

// New creates a Store rooted at dir. An empty dir resolves the platform
// default (~/recordings on POSIX, %USERPROFILE%\recordings on Windows).
func New(dir string) (*Store, error) {
	if dir == "" {
		var err error
		dir, err = defaultRoot()
		if err != nil {
			return nil, err
		}
	}
	return &Store{root: dir, counter: make(map[string]int)}, nil
}

func defaultRoot() (string, error) {
	home, err := os.UserHomeDir()
	if err != nil {
		return "", fmt.Errorf("segment: resolve home directory: %w", err)
	}
	if runtime.GOOS == "windows" {
		return filepath.Join(home, "recordings"), nil
	}
	return filepath.Join(home, "recordings"), nil
}

// Root returns the recordings root directory.
func (st *Store) Root() string {
	return st.root
}

// EnsureRoomFolder creates the per-room directory if absent. Idempotent.
func (st *Store) EnsureRoomFolder(room string) (string, error) {
	folder := filepath.Join(st.root, room)
	if err := os.MkdirAll(folder, 0o755); err != nil {
		return "", fmt.Errorf("segment: ensure room folder %s: %w", folder, err)
	}
	return folder, nil
}

// NewSegment mints a segment named "<publisher>_<begin-epoch-seconds>.ts".
// Paired screen+cam segments share begin and pass camName. Same-second
// collisions for the same publisher are disambiguated with a monotonic
// counter suffix.
func (st *Store) NewSegment(room, publisher string, begin time.Time, folder, camName string) *Segment {
	name := st.segmentName(room, publisher, begin)
	var camSegName string
	if camName != "" {
		camSegName = st.segmentName(room, camName, begin)
	}
	return &Segment{
		ScreenName: name,
		CamName:    camSegName,
		Begin:      begin,
		Room:       room,
		Publisher:  publisher,
		Folder:     folder,
	}
}

func (st *Store) segmentName(room, publisher string, begin time.Time) string {
	key := room + "/" + publisher + "/" + fmt.Sprint(begin.Unix())

	st.mu.Lock()
	n := st.counter[key]
	st.counter[key] = n + 1
	st.mu.Unlock()

	if n == 0 {
		return fmt.Sprintf("%s_%d.ts", publisher, begin.Unix())
	}
	return fmt.Sprintf("%s_%d-%d.ts", publisher, begin.Unix(), n)
}

// NewRecordingFile creates the cached intermediate path set for a room's
// recording chain, named off a timestamp string shared by joined/output/
// thumbnail/join-list artifacts.
func (st *Store) NewRecordingFile(room, folder string, ts time.Time) *RecordingFile {
	stamp := ts.Format("2006-01-02_15h04m05s")
	return &RecordingFile{
		Room:         room,
		Folder:       folder,
		JoinListPath: filepath.Join(folder, fmt.Sprintf("join_%s.txt", stamp)),
		JoinedPath:   filepath.Join(folder, fmt.Sprintf("joined_%s.ts", stamp)),
		OutputPath:   filepath.Join(folder, fmt.Sprintf("output_%s.mp4", stamp)),
		ThumbPath:    filepath.Join(folder, fmt.Sprintf("thumbnail_%s.png", stamp)),
	}
}
