package transport

import (
	"errors"
	"sync/atomic"

	"golang.org/x/sync/semaphore"
	"golang.org/x/time/rate"
)

var (
	ErrRateLimited        = errors.New("upgrade rate exceeded")
	ErrTooManyConnections = errors.New("connection limit reached")
)

// RateLimiter is a token bucket over upgrade attempts.
type RateLimiter struct {
	limiter       *rate.Limiter
	ratePerSec    int
	burst         int
	allowedCount  atomic.Int64
	rejectedCount atomic.Int64
}

// NewRateLimiter returns nil when ratePerSec is not positive; a nil limiter allows everything.
// burst defaults to twice the rate.
func NewRateLimiter(ratePerSec, burst int) *RateLimiter {
	if ratePerSec <= 0 {
		return nil
	}
	if burst <= 0 {
		burst = ratePerSec * 2
	}
	return &RateLimiter{
		limiter:    rate.NewLimiter(rate.Limit(ratePerSec), burst),
		ratePerSec: ratePerSec,
		burst:      burst,
	}
}

func (l *RateLimiter) Allow() bool {
	if l == nil {
		return true
	}
	if l.limiter.Allow() {
		l.allowedCount.Add(1)
		return true
	}
	l.rejectedCount.Add(1)
	return false
}

func (l *RateLimiter) Stats() RateLimiterStats {
	if l == nil {
		return RateLimiterStats{}
	}
	return RateLimiterStats{
		RatePerSecond: l.ratePerSec,
		Burst:         l.burst,
		AllowedTotal:  l.allowedCount.Load(),
		RejectedTotal: l.rejectedCount.Load(),
	}
}

type RateLimiterStats struct {
	RatePerSecond int   `json:"rate_per_second"`
	Burst         int   `json:"burst"`
	AllowedTotal  int64 `json:"allowed_total"`
	RejectedTotal int64 `json:"rejected_total"`
}

// ConnectionLimiter caps concurrently open connections.
type ConnectionLimiter struct {
	sem           *semaphore.Weighted
	maxConn       int
	activeCount   atomic.Int64
	rejectedCount atomic.Int64
}

// NewConnectionLimiter returns nil when maxConn is not positive; a nil limiter admits everything.
func NewConnectionLimiter(maxConn int) *ConnectionLimiter {
	if maxConn <= 0 {
		return nil
	}
	return &ConnectionLimiter{sem: semaphore.NewWeighted(int64(maxConn)), maxConn: maxConn}
}

// TryAcquire takes a slot without waiting.
func (l *ConnectionLimiter) TryAcquire() bool {
	if l == nil {
		return true
	}
	if !l.sem.TryAcquire(1) {
		l.rejectedCount.Add(1)
		return false
	}
	l.activeCount.Add(1)
	return true
}

func (l *ConnectionLimiter) Release() {
	if l == nil {
		return
	}
	l.activeCount.Add(-1)
	l.sem.Release(1)
}

func (l *ConnectionLimiter) Stats() LimiterStats {
	if l == nil {
		return LimiterStats{}
	}
	active := int(l.activeCount.Load())
	return LimiterStats{
		MaxConnections:    l.maxConn,
		ActiveConnections: active,
		RejectedTotal:     l.rejectedCount.Load(),
		Utilization:       float64(active) / float64(l.maxConn),
	}
}

type LimiterStats struct {
	MaxConnections    int     `json:"max_connections"`
	ActiveConnections int     `json:"active_connections"`
	RejectedTotal     int64   `json:"rejected_total"`
	Utilization       float64 `json:"utilization"`
}

// Admission gates new connections on both rate and concurrency.
// Every successful Admit must be paired with one Release.
type Admission struct {
	Rate  *RateLimiter
	Conns *ConnectionLimiter
}

func NewAdmission(ratePerSec, burst, maxConn int) *Admission {
	return &Admission{
		Rate:  NewRateLimiter(ratePerSec, burst),
		Conns: NewConnectionLimiter(maxConn),
	}
}

// Admit takes a connection slot, then a rate token. Attempts turned away by the
// connection cap leave the rate budget untouched.
func (a *Admission) Admit() error {
	if a == nil {
		return nil
	}
	if !a.Conns.TryAcquire() {
		return ErrTooManyConnections
	}
	if !a.Rate.Allow() {
		a.Conns.Release()
		return ErrRateLimited
	}
	return nil
}

func (a *Admission) Release() {
	if a == nil {
		return
	}
	a.Conns.Release()
}

type AdmissionStats struct {
	Rate  RateLimiterStats `json:"rate"`
	Conns LimiterStats     `json:"connections"`
}

func (a *Admission) Stats() AdmissionStats {
	if a == nil {
		return AdmissionStats{}
	}
	return AdmissionStats{Rate: a.Rate.Stats(), Conns: a.Conns.Stats()}
}
