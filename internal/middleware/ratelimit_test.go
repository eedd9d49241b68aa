package middleware

import (
	"encoding/json"
	"net/http"
	"net/http/httptest"
	"testing"
	"time"

	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func limitedRouter(rl *RateLimiter, setUser string) *gin.Engine {
	r := gin.New()
	if setUser != "" {
		r.Use(func(c *gin.Context) {
			c.Set(ContextUserID, setUser)
			c.Next()
		})
	}
	r.Use(rl.Middleware())
	r.POST("/credits/spend", func(c *gin.Context) {
		c.JSON(http.StatusOK, gin.H{"ok": true})
	})
	return r
}

func hit(r *gin.Engine, remoteAddr string) *httptest.ResponseRecorder {
	w := httptest.NewRecorder()
	req := httptest.NewRequest(http.MethodPost, "/credits/spend", nil)
	req.RemoteAddr = remoteAddr
	r.ServeHTTP(w, req)
	return w
}

func TestRateLimit_BurstThenReject(t *testing.T) {
	rl := NewRateLimiter(1, 2)
	defer rl.Close()
	r := limitedRouter(rl, "")

	codes := make([]int, 0, 3)
	for i := 0; i < 3; i++ {
		codes = append(codes, hit(r, "10.0.0.1:4000").Code)
	}
	assert.Equal(t, []int{http.StatusOK, http.StatusOK, http.StatusTooManyRequests}, codes)
}

func TestRateLimit_RejectionBody(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()
	r := limitedRouter(rl, "")

	hit(r, "10.0.0.9:4000")
	w := hit(r, "10.0.0.9:4000")
	require.Equal(t, http.StatusTooManyRequests, w.Code)

	var body map[string]interface{}
	require.NoError(t, json.Unmarshal(w.Body.Bytes(), &body))
	assert.Equal(t, "rate_limited", body["reason"])
}

func TestRateLimit_Buckets(t *testing.T) {
	tests := []struct {
		name  string
		key   KeyFunc
		user  string
		addrs []string
		want  []int
	}{
		{
			name:  "separate client addresses",
			key:   ByClientIP,
			addrs: []string{"10.0.0.1:1", "10.0.0.2:1"},
			want:  []int{http.StatusOK, http.StatusOK},
		},
		{
			name:  "same user across addresses",
			key:   ByUser,
			user:  "user-1",
			addrs: []string{"10.0.0.1:1", "10.0.0.2:1"},
			want:  []int{http.StatusOK, http.StatusTooManyRequests},
		},
		{
			name:  "anonymous falls back to address",
			key:   ByUser,
			addrs: []string{"10.0.0.1:1", "10.0.0.2:1"},
			want:  []int{http.StatusOK, http.StatusOK},
		},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			rl := NewKeyedRateLimiter(1, 1, tt.key)
			defer rl.Close()
			r := limitedRouter(rl, tt.user)

			got := make([]int, 0, len(tt.addrs))
			for _, addr := range tt.addrs {
				got = append(got, hit(r, addr).Code)
			}
			assert.Equal(t, tt.want, got)
		})
	}
}

func TestRateLimit_ZeroBurstStillAllowsOne(t *testing.T) {
	rl := NewRateLimiter(1, 0)
	defer rl.Close()
	assert.Equal(t, http.StatusOK, hit(limitedRouter(rl, ""), "10.0.0.3:1").Code)
}

func TestRateLimit_EvictIdle(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	defer rl.Close()

	rl.limiter("10.0.0.1")
	rl.limiter("10.0.0.2")
	rl.evictIdle(time.Now().Add(limiterIdleTTL + time.Second))

	rl.mu.Lock()
	defer rl.mu.Unlock()
	assert.Empty(t, rl.buckets)
}

func TestRateLimit_CloseIsIdempotent(t *testing.T) {
	rl := NewRateLimiter(1, 1)
	assert.NotPanics(t, func() {
		rl.Close()
		rl.Close()
	})
}
