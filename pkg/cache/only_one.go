package cache

import (
	"sync"
)

// OnlyOne ensures only one concurrent evaluation of a keyed expression.
type OnlyOne interface {
	// Compute returns the value of calling fn(), but only calls fn once
	// concurrently for each k. Concurrent callers for the same k receive
	// the result of the call in flight.
	Compute(k interface{}, fn ComputeFn) (interface{}, error)
}

type ComputeFn func() (interface{}, error)

type ChanOnlyOne struct {
	m *sync.Map
}

func NewChanOnlyOne() *ChanOnlyOne {
	return &ChanOnlyOne{
		m: &sync.Map{},
	}
}

type chanAndResult struct {
	ch    chan struct{}
	value interface{}
	err   error
}

func (c *ChanOnlyOne) Compute(k interface{}, fn ComputeFn) (interface{}, error) {
	stop := make(chan struct{})
	actual, inFlight := c.m.LoadOrStore(k, &chanAndResult{ch: stop})
	result := actual.(*chanAndResult)
	if inFlight {
		<-result.ch
	} else {
		result.value, result.err = fn()
		c.m.Delete(k)
		close(result.ch)
	}
	return result.value, result.err
}
