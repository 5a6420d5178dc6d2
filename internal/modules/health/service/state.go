package service

import (
	"fmt"
	"strings"
	"sync"
	"sync/atomic"
	"time"
)

// State - живые флаги процесса для /readyz, /healthz и /status в чате.
type State struct {
	ready     atomic.Bool
	startedAt time.Time

	venueState  atomic.Value // string
	lastRunUnix atomic.Int64

	mu      sync.Mutex
	lastRun RunInfo
	lastErr string
}

// RunInfo - итог последнего прохода стратегии.
type RunInfo struct {
	State     string `json:"state"`
	LastIndex int    `json:"lastIndex"`
	Candles   int    `json:"candles"`
	Signals   int    `json:"signals"`
	Enqueued  int    `json:"enqueued"`
}

// Status - то, что отдаём наружу.
type Status struct {
	Ready       bool    `json:"ready"`
	Venue       string  `json:"venue"`
	UptimeSec   int64   `json:"uptimeSec"`
	LastRunUnix int64   `json:"lastRunUnix"`
	LastRun     RunInfo `json:"lastRun"`
	LastError   string  `json:"lastError,omitempty"`
}

func NewState() *State {
	s := &State{startedAt: time.Now()}
	s.venueState.Store("disconnected")
	return s
}

func (s *State) SetReady(v bool) { s.ready.Store(v) }
func (s *State) Ready() bool     { return s.ready.Load() }

func (s *State) SetVenueState(v string) { s.venueState.Store(v) }
func (s *State) VenueState() string     { return s.venueState.Load().(string) }

// TouchRun - успешный проход; сбрасывает последнюю ошибку.
func (s *State) TouchRun(t time.Time, info RunInfo) {
	s.lastRunUnix.Store(t.Unix())
	s.mu.Lock()
	s.lastRun = info
	s.lastErr = ""
	s.mu.Unlock()
}

func (s *State) SetError(err error) {
	s.mu.Lock()
	defer s.mu.Unlock()
	if err == nil {
		s.lastErr = ""
		return
	}
	s.lastErr = err.Error()
}

func (s *State) LastRun() time.Time {
	u := s.lastRunUnix.Load()
	if u == 0 {
		return time.Time{}
	}
	return time.Unix(u, 0)
}

func (s *State) Uptime() time.Duration { return time.Since(s.startedAt) }

func (s *State) Snapshot() Status {
	s.mu.Lock()
	defer s.mu.Unlock()
	return Status{
		Ready:       s.Ready(),
		Venue:       s.VenueState(),
		UptimeSec:   int64(s.Uptime().Seconds()),
		LastRunUnix: s.lastRunUnix.Load(),
		LastRun:     s.lastRun,
		LastError:   s.lastErr,
	}
}

// StatusText - для /status в телеграме.
func (s *State) StatusText() string {
	st := s.Snapshot()
	var b strings.Builder
	fmt.Fprintf(&b, "ready: %v\nvenue: %s\nuptime: %s\n", st.Ready, st.Venue, (time.Duration(st.UptimeSec) * time.Second).String())
	if st.LastRunUnix == 0 {
		b.WriteString("last run: never\n")
	} else {
		fmt.Fprintf(&b, "last run: %s\nstate: %s (bar %d of %d)\nsignals: %d, queued: %d\n",
			time.Unix(st.LastRunUnix, 0).UTC().Format(time.RFC3339),
			st.LastRun.State, st.LastRun.LastIndex, st.LastRun.Candles,
			st.LastRun.Signals, st.LastRun.Enqueued)
	}
	if st.LastError != "" {
		fmt.Fprintf(&b, "error: %s\n", st.LastError)
	}
	return b.String()
}
