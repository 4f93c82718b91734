package di

import (
	"testing"

	"github.com/stretchr/testify/assert"

	pkgcache "github.com/AgeeKey/mirai-agent-sub000/pkg/cache"
	"github.com/AgeeKey/mirai-agent-sub000/pkg/config"
)

// the layered cache must satisfy the full cache contract so ProvideCache can
// return either implementation behind the same interface
var _ pkgcache.Service = (*pkgcache.LayeredCache)(nil)

func TestProvideCacheFallsBackToMemory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Redis.Enabled = false

	c := ProvideCache(cfg)
	assert.IsType(t, &pkgcache.MemoryCache{}, c)
}

func TestProvideCacheBadAddrFallsBackToMemory(t *testing.T) {
	cfg := &config.Config{}
	cfg.Redis.Enabled = true
	cfg.Redis.Addr = "not-an-addr"

	c := ProvideCache(cfg)
	assert.IsType(t, &pkgcache.MemoryCache{}, c)
}
