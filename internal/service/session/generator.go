package session

import (
	"fmt"
	"sync/atomic"
)

// Generator produces stream ids unique within a session.
type Generator struct {
	counter uint64
}

func NewGenerator() *Generator {
	return &Generator{}
}

func (g *Generator) Next(sessionId string) string {
	n := atomic.AddUint64(&g.counter, 1)
	return fmt.Sprintf("%s-stream-%d", sessionId, n)
}
