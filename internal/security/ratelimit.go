package security

import (
	"sync"

	"golang.org/x/time/rate"
)

// RateLimitConfig bounds one token bucket.
type RateLimitConfig struct {
	Capacity   int     // burst size
	RefillPerS float64 // tokens/sec
}

func (c RateLimitConfig) limiter() *rate.Limiter {
	return rate.NewLimiter(rate.Limit(c.RefillPerS), c.Capacity)
}

// limiterSet holds independently-keyed token buckets, created lazily, one
// per identity and one per (identity, operation) pair.
type limiterSet struct {
	mu          sync.Mutex
	perIdentity map[string]*rate.Limiter
	perOp       map[string]*rate.Limiter
	identityCfg RateLimitConfig
	opCfg       RateLimitConfig
}

func newLimiterSet(identityCfg, opCfg RateLimitConfig) *limiterSet {
	return &limiterSet{
		perIdentity: make(map[string]*rate.Limiter),
		perOp:       make(map[string]*rate.Limiter),
		identityCfg: identityCfg,
		opCfg:       opCfg,
	}
}

// setLimits swaps the per-identity and per-operation bucket configs and
// discards every existing bucket, so the next call to allow creates a
// fresh limiter under the new rate instead of keeping an old one's
// already-accumulated tokens.
func (s *limiterSet) setLimits(identityCfg, opCfg RateLimitConfig) {
	s.mu.Lock()
	defer s.mu.Unlock()
	s.identityCfg = identityCfg
	s.opCfg = opCfg
	s.perIdentity = make(map[string]*rate.Limiter)
	s.perOp = make(map[string]*rate.Limiter)
}

// allow checks and consumes one token from both the per-identity and the
// per-(identity,operation) buckets. Both must have capacity; retryAfter is
// populated from whichever bucket denied the request.
func (s *limiterSet) allow(identityID, op string) (ok bool, retryAfterMs int64) {
	s.mu.Lock()
	idLim, ok1 := s.perIdentity[identityID]
	if !ok1 {
		idLim = s.identityCfg.limiter()
		s.perIdentity[identityID] = idLim
	}
	opKey := identityID + "\x00" + op
	opLim, ok2 := s.perOp[opKey]
	if !ok2 {
		opLim = s.opCfg.limiter()
		s.perOp[opKey] = opLim
	}
	s.mu.Unlock()

	idRes := idLim.Reserve()
	if !idRes.OK() {
		return false, 0
	}
	idDelay := idRes.Delay()
	if idDelay > 0 {
		idRes.Cancel()
		return false, idDelay.Milliseconds()
	}

	opRes := opLim.Reserve()
	if !opRes.OK() {
		idRes.Cancel()
		return false, 0
	}
	opDelay := opRes.Delay()
	if opDelay > 0 {
		idRes.Cancel()
		opRes.Cancel()
		return false, opDelay.Milliseconds()
	}

	return true, 0
}
