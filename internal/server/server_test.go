package server

import (
	"net/http"
	"net/http/httptest"
	"testing"

	"github.com/alicebob/miniredis/v2"
	"github.com/gin-gonic/gin"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func init() {
	gin.SetMode(gin.TestMode)
}

func TestInit(t *testing.T) {
	tests := map[string]struct {
		config  func(t *testing.T) Config
		wantErr string
	}{
		"in memory": {
			config: func(t *testing.T) Config { return DefaultConfig() },
		},
		"redis backends": {
			config: func(t *testing.T) Config {
				m := miniredis.RunT(t)
				c := DefaultConfig()
				c.Redis.Addrs = []string{m.Addr()}
				c.Cache.Backend = BackendRedis
				c.Steps.Backend = BackendRedis
				return c
			},
		},
		"redis cache without redis": {
			config: func(t *testing.T) Config {
				c := DefaultConfig()
				c.Cache.Backend = BackendRedis
				return c
			},
			wantErr: "redis backend needs redis.addrs",
		},
		"unknown step backend": {
			config: func(t *testing.T) Config {
				c := DefaultConfig()
				c.Steps.Backend = "session"
				return c
			},
			wantErr: `unknown backend "session"`,
		},
	}

	for name, tt := range tests {
		t.Run(name, func(t *testing.T) {
			s, err := Init(tt.config(t))
			if tt.wantErr != "" {
				require.Error(t, err)
				assert.Contains(t, err.Error(), tt.wantErr)
				return
			}
			require.NoError(t, err)
			t.Cleanup(s.eb.Stop)

			for path, want := range map[string]int{
				"/healthz":              http.StatusOK,
				"/metrics":              http.StatusOK,
				"/contests/autumn-quiz/": http.StatusOK,
				"/contests/missing/":     http.StatusNotFound,
			} {
				w := httptest.NewRecorder()
				s.http.Handler.ServeHTTP(w, httptest.NewRequest(http.MethodGet, path, nil))
				assert.Equal(t, want, w.Code, path)
			}
		})
	}
}
