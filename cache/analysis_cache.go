package cache

import (
	"context"
	"encoding/json"
	"fmt"
	"time"

	"countcoach/core/analysis"

	"github.com/go-redis/redis/v8"
)

// analysisTTL bounds how long a beat-analysis result stays cached. Results
// only depend on the audio bytes and the section, so a long TTL is safe;
// re-uploading a track gets a new track ID and therefore a new key.
const analysisTTL = 7 * 24 * time.Hour

// AnalysisKey builds the cache key for one (track, section) analysis.
// Sections are keyed at millisecond resolution; a sub-millisecond nudge of
// the window re-running the analyzer is not worth distinguishing.
func AnalysisKey(trackID int64, start, end float64) string {
	return fmt.Sprintf("analysis:%d:%.3f:%.3f", trackID, start, end)
}

// GetAnalysis fetches a cached analysis result. Returns nil on a miss.
func GetAnalysis(ctx context.Context, trackID int64, start, end float64) (*analysis.Result, error) {
	if RedisClient == nil {
		return nil, fmt.Errorf("Redis client not initialized")
	}

	raw, err := RedisClient.Get(ctx, AnalysisKey(trackID, start, end)).Result()
	if err != nil {
		if err == redis.Nil {
			return nil, nil
		}
		return nil, fmt.Errorf("failed to get cached analysis: %w", err)
	}

	var result analysis.Result
	if err := json.Unmarshal([]byte(raw), &result); err != nil {
		return nil, fmt.Errorf("failed to unmarshal cached analysis: %w", err)
	}
	return &result, nil
}

// PutAnalysis stores an analysis result. Only successful results are cached;
// failures should surface fresh every time.
func PutAnalysis(ctx context.Context, trackID int64, start, end float64, result *analysis.Result) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}
	if result == nil || !result.OK {
		return nil
	}

	raw, err := json.Marshal(result)
	if err != nil {
		return fmt.Errorf("failed to marshal analysis result: %w", err)
	}

	err = RedisClient.Set(ctx, AnalysisKey(trackID, start, end), raw, analysisTTL).Err()
	if err != nil {
		return fmt.Errorf("failed to cache analysis result: %w", err)
	}
	return nil
}

// DropAnalysis removes every cached analysis for a track, e.g. when the
// track is deleted.
func DropAnalysis(ctx context.Context, trackID int64) error {
	if RedisClient == nil {
		return fmt.Errorf("Redis client not initialized")
	}

	pattern := fmt.Sprintf("analysis:%d:*", trackID)
	iter := RedisClient.Scan(ctx, 0, pattern, 0).Iterator()
	for iter.Next(ctx) {
		if err := RedisClient.Del(ctx, iter.Val()).Err(); err != nil {
			return fmt.Errorf("failed to delete cached analysis key %s: %w", iter.Val(), err)
		}
	}
	if err := iter.Err(); err != nil {
		return fmt.Errorf("failed to scan cached analysis keys: %w", err)
	}
	return nil
}
