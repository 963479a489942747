package syncer

import (
	"context"
	"fmt"
	"time"

	"github.com/roach88/grove/internal/event"
	"github.com/roach88/grove/internal/remote"
)

// Mode selects how Pull reconciles with the remote.
type Mode int

const (
	// Incremental downloads events after the watermark and merges them.
	Incremental Mode = iota

	// Full downloads the whole remote log and replaces the local one.
	Full
)

func (m Mode) String() string {
	switch m {
	case Incremental:
		return "incremental"
	case Full:
		return "full"
	default:
		return fmt.Sprintf("Mode(%d)", int(m))
	}
}

// ParseMode accepts "incremental" or "full".
func ParseMode(s string) (Mode, error) {
	switch s {
	case "incremental", "":
		return Incremental, nil
	case "full":
		return Full, nil
	default:
		return 0, fmt.Errorf("unknown pull mode %q (want incremental or full)", s)
	}
}

// PullResult describes a completed pull.
type PullResult struct {
	Mode       Mode `json:"-"`
	Downloaded int  `json:"downloaded"`

	// Added counts events that were not in the local log before.
	Added int `json:"added"`
}

// Pull reconciles the local log with the remote.
//
// A stored cache version that differs from CacheVersion turns an
// Incremental pull into a Full one. The local log is only touched after the
// download succeeds; on any error it is left exactly as it was.
//
// Full replaces the log with the remote one, keeping local events whose
// upload is still pending, and stamps the snapshot with CacheVersion.
func (s *Service) Pull(ctx context.Context, mode Mode) (PullResult, error) {
	var watermark string
	if err := s.do(ctx, "plan pull", func() {
		if mode == Incremental && s.storedVersion != CacheVersion {
			s.logger.Info("cache version changed, forcing full pull",
				"stored", s.storedVersion,
				"current", CacheVersion,
			)
			mode = Full
		}
		watermark = s.watermark
	}); err != nil {
		return PullResult{Mode: mode}, fmt.Errorf("pull: %w", err)
	}
	if mode == Full {
		watermark = ""
	}

	start := time.Now()
	downloaded, err := s.client.Since(ctx, watermark)
	if err != nil {
		s.metrics.Pulls.WithLabelValues(mode.String(), "error").Inc()
		if remote.IsNetwork(err) {
			s.logger.Warn("pull failed, keeping cached log", "mode", mode, "error", err)
		}
		return PullResult{Mode: mode}, fmt.Errorf("pull %s: %w", mode, err)
	}

	res := PullResult{Mode: mode, Downloaded: len(downloaded)}
	if err := s.do(ctx, "merge pull", func() {
		if mode == Full {
			res.Added = s.replaceWithRemote(downloaded)
		} else {
			res.Added = s.mergeRemote(downloaded)
		}
	}); err != nil {
		return PullResult{Mode: mode}, fmt.Errorf("pull %s: %w", mode, err)
	}

	s.metrics.Pulls.WithLabelValues(mode.String(), "ok").Inc()
	s.metrics.PulledEvents.Add(float64(res.Added))
	s.logger.Info("pull complete",
		"mode", mode,
		"downloaded", res.Downloaded,
		"added", res.Added,
		"duration", time.Since(start),
	)
	return res, nil
}

// mergeRemote appends unseen events and advances the watermark.
func (s *Service) mergeRemote(downloaded []event.Event) int {
	added := 0
	watermark := s.watermark
	for _, ev := range downloaded {
		if s.appendEvent(ev) {
			added++
		}
		watermark = laterOf(watermark, ev.ServerTimestamp)
	}
	changed := watermark != s.watermark
	s.watermark = watermark
	if added > 0 || changed {
		s.commit(added > 0)
	}
	return added
}

// replaceWithRemote swaps the log for the downloaded one. Pending local
// events missing from the download are carried over so an in-flight push is
// not lost.
func (s *Service) replaceWithRemote(downloaded []event.Event) int {
	before := s.keys
	carried := make([]event.Event, 0, len(s.pending))
	for _, id := range s.pending {
		if i := s.indexOf(id); i >= 0 {
			carried = append(carried, s.events[i])
		}
	}

	s.replaceLog(downloaded)
	added := 0
	for _, ev := range s.events {
		if _, ok := before[ev.DedupKey()]; !ok {
			added++
		}
	}
	for _, ev := range carried {
		s.appendEvent(ev)
	}

	watermark := ""
	for _, ev := range downloaded {
		watermark = laterOf(watermark, ev.ServerTimestamp)
	}
	s.watermark = watermark
	s.storedVersion = CacheVersion
	s.commit(true)
	return added
}

func laterOf(watermark, ts string) string {
	if remote.AfterWatermark(ts, watermark) {
		return ts
	}
	return watermark
}
