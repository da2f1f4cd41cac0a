package monitor

import (
	"sync"
	"sync/atomic"
	"time"

	"launch-guard/internal/domain"
)

// session is the live counterpart of a persisted SessionRecord. It owns the
// expiry timer and the single-shot terminal claim; the record mirror is what
// survives a restart, the session is what schedules.
type session struct {
	mu  sync.RWMutex
	rec *domain.SessionRecord

	// claimed is the single-shot terminal transition. Trigger, expiry and
	// cancel all race for it with CompareAndSwap; exactly one wins, so a
	// session can never both trigger and expire.
	claimed atomic.Bool

	timer *time.Timer

	// trigger carries the qualifying event from the claim winner to the
	// session worker. Capacity 1 and a won CAS guarantee the send never
	// blocks and happens at most once.
	trigger chan *domain.TradeEvent

	cancelled chan struct{}
}

func newSession(rec *domain.SessionRecord) *session {
	return &session{
		rec:       rec,
		trigger:   make(chan *domain.TradeEvent, 1),
		cancelled: make(chan struct{}),
	}
}

// snapshot returns a copy of the persisted mirror under the session lock.
func (s *session) snapshot() domain.SessionRecord {
	s.mu.RLock()
	defer s.mu.RUnlock()
	rec := *s.rec
	rec.IgnoreSet = append([]string(nil), s.rec.IgnoreSet...)
	rec.Targets = append([]domain.SellTarget(nil), s.rec.Targets...)
	return rec
}

func (s *session) status() domain.SessionStatus {
	s.mu.RLock()
	defer s.mu.RUnlock()
	return s.rec.Status
}

func (s *session) setTerminal(status domain.SessionStatus, triggeredBy string, now time.Time) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.rec.Status = status
	if triggeredBy != "" {
		s.rec.TriggeredBy = triggeredBy
	}
	s.rec.UpdatedAt = now
}

// evaluate applies the short-circuit feed checks in order and reports whether
// this event wins the trigger claim. Each event is judged independently
// against the static thresholds, so out-of-order delivery cannot produce a
// wrong answer.
func (s *session) evaluate(e *domain.TradeEvent, now time.Time) feedVerdict {
	if s.claimed.Load() {
		return verdictTerminal
	}

	s.mu.RLock()
	expiresAt := s.rec.Window.ExpiresAt
	thresholds := s.rec.Thresholds
	totalSupply := s.rec.TotalSupply
	ignored := s.rec.IgnoreContains(e.Trader)
	s.mu.RUnlock()

	if now.After(expiresAt) {
		return verdictTerminal
	}
	if !e.IsBuy() {
		return verdictNotBuy
	}
	if ignored {
		return verdictIgnored
	}

	// Both comparisons are strictly greater-than; a buy exactly at a
	// threshold does not trigger.
	exceeds := e.NativeAmount > thresholds.MaxNativeAmount
	if !exceeds && totalSupply > 0 {
		fraction := float64(e.AssetAmount) / float64(totalSupply)
		exceeds = fraction > thresholds.MaxSupplyFraction
	}
	if !exceeds {
		return verdictBelowThreshold
	}

	if !s.claimed.CompareAndSwap(false, true) {
		return verdictTerminal
	}
	s.trigger <- e
	return verdictTriggered
}

type feedVerdict int

const (
	verdictTerminal feedVerdict = iota
	verdictNotBuy
	verdictIgnored
	verdictBelowThreshold
	verdictTriggered
)
