package engine

import (
	"fmt"
	"sync"
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestWarningQueueDrain(t *testing.T) {
	q := &WarningQueue{}
	var wg sync.WaitGroup
	for i := 0; i < 20; i++ {
		wg.Add(1)
		go func(i int) {
			defer wg.Done()
			q.Push(fmt.Sprintf("warning %d", i))
		}(i)
	}
	wg.Wait()
	q.Push("   ")

	assert.Equal(t, 20, q.Len())
	assert.Len(t, q.Drain(), 20)
	assert.Empty(t, q.Drain())
}

func TestBlocklist(t *testing.T) {
	b := NewBlocklist("svgload")
	assert.True(t, b.Blocked("SVGLOAD"))

	b.Set([]string{"jpegload", "pdfload"}, true)
	b.Set([]string{"svgload"}, false)
	assert.False(t, b.Blocked("svgload"))
	assert.Equal(t, []string{"jpegload", "pdfload"}, b.List())
	assert.False(t, b.Blocked(""))
}

func TestMetaCloneIsDeep(t *testing.T) {
	m := Meta{Delay: []int{10, 20}, ExifFields: map[string]string{"a": "b"}}
	c := m.Clone()
	c.Delay[0] = 99
	c.ExifFields["a"] = "z"
	assert.Equal(t, 10, m.Delay[0])
	assert.Equal(t, "b", m.ExifFields["a"])
}
