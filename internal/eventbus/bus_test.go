package eventbus

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestEmitOrderAndPayload(t *testing.T) {
	b := New()
	var got []string
	b.On("scan", func(p any) { got = append(got, "a:"+p.(string)) })
	b.On("scan", func(p any) { got = append(got, "b:"+p.(string)) })
	b.On("other", func(any) { got = append(got, "other") })

	b.Emit("scan", "x")
	assert.Equal(t, []string{"a:x", "b:x"}, got)
}

func TestOnceFiresOnce(t *testing.T) {
	b := New()
	n := 0
	b.Once("ready", func(any) { n++ })
	b.Emit("ready", nil)
	b.Emit("ready", nil)
	assert.Equal(t, 1, n)
	assert.Equal(t, 0, b.ListenerCount("ready"))
}

func TestOffRemovesOnlyThatListener(t *testing.T) {
	b := New()
	var a, c int
	offA := b.On("t", func(any) { a++ })
	b.On("t", func(any) { c++ })
	offA()
	offA()
	b.Emit("t", nil)
	assert.Equal(t, 0, a)
	assert.Equal(t, 1, c)
}

func TestListenerMayUnsubscribeDuringEmit(t *testing.T) {
	b := New()
	calls := 0
	var off func()
	off = b.On("t", func(any) {
		calls++
		off()
	})
	b.Emit("t", nil)
	b.Emit("t", nil)
	assert.Equal(t, 1, calls)
}

func TestRemoveAll(t *testing.T) {
	b := New()
	b.On("a", func(any) {})
	b.On("b", func(any) {})
	b.RemoveAll("a")
	assert.Equal(t, 0, b.ListenerCount("a"))
	assert.Equal(t, 1, b.ListenerCount("b"))
	b.RemoveAll("")
	assert.Equal(t, 0, b.ListenerCount("b"))
}

func TestBusesAreIndependent(t *testing.T) {
	b1, b2 := New(), New()
	n := 0
	b1.On("t", func(any) { n++ })
	b2.Emit("t", nil)
	assert.Equal(t, 0, n)
}
