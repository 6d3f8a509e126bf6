package analyzer

import (
	"context"
	"sort"
	"time"
)

// DefaultSourceName names the only source of a single-source spec.
const DefaultSourceName = "track"

// Source is a playable media handle with an attached frequency analyser.
//
// Ready is closed once the source is decodable (or has failed, in which case
// Err is non-nil). Ended is closed at most once per playthrough; Rewind arms a
// fresh channel.
type Source interface {
	Ready() <-chan struct{}
	Err() error
	Duration() time.Duration
	Position() time.Duration
	Play() error
	Pause() error
	Rewind() error
	SetVolume(v float64)
	SetMuted(muted bool)
	Ended() <-chan struct{}
	SetFFTSize(n int) error
	// FrequencyData fills dst with byte magnitudes for the current position
	// and returns it, resized to the source's bin count.
	FrequencyData(dst []uint8) ([]uint8, error)
	Close() error
}

// Stepper is implemented by sources that can move through the track without
// real-time playback. Calibration uses it to run a pre-roll pass offline.
type Stepper interface {
	// Advance moves the analysis position forward by d and reports whether
	// the end of the track was reached.
	Advance(d time.Duration) bool
}

// Opener creates sources from URIs.
type Opener interface {
	Open(ctx context.Context, name, uri string) (Source, error)
}

// OpenerFunc adapts a function to Opener.
type OpenerFunc func(ctx context.Context, name, uri string) (Source, error)

func (f OpenerFunc) Open(ctx context.Context, name, uri string) (Source, error) {
	return f(ctx, name, uri)
}

// SourceSpec describes either one track or a set of named tracks played in
// lock-step.
type SourceSpec struct {
	uri    string
	tracks map[string]string
}

// SingleSource returns a spec for one URI.
func SingleSource(uri string) SourceSpec {
	return SourceSpec{uri: uri}
}

// MultiSource returns a spec for named URIs.
func MultiSource(tracks map[string]string) SourceSpec {
	cp := make(map[string]string, len(tracks))
	for k, v := range tracks {
		cp[k] = v
	}
	return SourceSpec{tracks: cp}
}

// Multi reports whether s names several tracks.
func (s SourceSpec) Multi() bool { return s.tracks != nil }

type specEntry struct {
	name string
	uri  string
}

// entries lists s in name order so loading and primary selection are
// deterministic.
func (s SourceSpec) entries() []specEntry {
	if !s.Multi() {
		if s.uri == "" {
			return nil
		}
		return []specEntry{{name: DefaultSourceName, uri: s.uri}}
	}
	out := make([]specEntry, 0, len(s.tracks))
	for name, uri := range s.tracks {
		out = append(out, specEntry{name: name, uri: uri})
	}
	sort.Slice(out, func(i, j int) bool { return out[i].name < out[j].name })
	return out
}
