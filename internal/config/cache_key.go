package config

import (
	"fmt"
)

type CacheKeyStruct struct{}

func NewCacheKeyStruct() *CacheKeyStruct {
	return &CacheKeyStruct{}
}

// ExamViewKey returns the cache key for a resolved exam view.
// kind is "direct" or "scheduled".
func (r *CacheKeyStruct) ExamViewKey(kind, id string) string {
	return fmt.Sprintf("exam:%s:%s:view", kind, id)
}

// AttemptHeartbeatKey returns the cache key holding an attempt's last heartbeat (unix seconds).
func (r *CacheKeyStruct) AttemptHeartbeatKey(attemptID string) string {
	return fmt.Sprintf("attempt:%s:heartbeat", attemptID)
}

// AttemptBeaconRateKey returns the fixed-window counter key for an attempt's beacons.
func (r *CacheKeyStruct) AttemptBeaconRateKey(attemptID string, window int64) string {
	return fmt.Sprintf("attempt:%s:beacons:%d", attemptID, window)
}

// ExpirySweepLockKey returns the leader lock key for the expiry sweep.
func (r *CacheKeyStruct) ExpirySweepLockKey() string {
	return "lock:expiry_sweep"
}

var CacheKey = NewCacheKeyStruct()
