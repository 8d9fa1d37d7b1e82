package pdu

import (
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestWorkerCacheGetFreshWhenEmpty(t *testing.T) {
	pool := NewPool(32)
	cache := NewWorkerCache(pool, 4)

	p := cache.Get()
	require.NotNil(t, p)
	assert.Equal(t, 32, p.Cap())
	assert.Equal(t, 1, p.Need())
}

func TestWorkerCachePutGetReusesBuffer(t *testing.T) {
	pool := NewPool(32)
	cache := NewWorkerCache(pool, 4)

	p1 := cache.Get()
	cache.Release(p1)

	p2 := cache.Get()
	assert.Same(t, p1, p2)
}

func TestWorkerCacheOverflowsToGlobalPastHighWater(t *testing.T) {
	pool := NewPool(32)
	cache := NewWorkerCache(pool, 2)

	var pdus []*PDU
	for i := 0; i < 5; i++ {
		pdus = append(pdus, cache.Get())
	}
	for _, p := range pdus {
		cache.Release(p)
	}

	assert.LessOrEqual(t, len(cache.local), 2)
	assert.Greater(t, len(pool.global), 0)
}

func TestWorkerCacheRefillsFromGlobal(t *testing.T) {
	pool := NewPool(32)
	producer := NewWorkerCache(pool, 1)
	consumer := NewWorkerCache(pool, 1)

	var produced []*PDU
	for i := 0; i < 10; i++ {
		produced = append(produced, producer.Get())
	}
	for _, p := range produced {
		producer.Release(p)
	}
	require.Greater(t, len(pool.global), 0)

	got := consumer.Get()
	assert.NotNil(t, got)
	assert.Greater(t, len(consumer.local), 0)
}

func TestReleaseClearsLinkage(t *testing.T) {
	pool := NewPool(32)
	cache := NewWorkerCache(pool, 4)

	req := cache.Get()
	req.SetKind(KindRequest)
	resp := cache.Get()
	req.AttachResponse(resp)

	cache.Release(req)

	assert.Nil(t, req.Req)
	assert.Nil(t, req.Reals)
}
