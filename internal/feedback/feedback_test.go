package feedback

import (
	"testing"

	"github.com/stretchr/testify/assert"
)

func TestSetNotifiesOnChangeOnly(t *testing.T) {
	var f Bool
	var got []bool
	f.Subscribe(func(v bool) { got = append(got, v) })

	f.Set(true)
	f.Set(true)
	f.Set(false)

	assert.Equal(t, []bool{true, false}, got)
	assert.False(t, f.Get())
}

func TestUnsubscribe(t *testing.T) {
	var f Int
	calls := 0
	unsub := f.Subscribe(func(int) { calls++ })

	f.Set(10)
	unsub()
	f.Set(20)

	assert.Equal(t, 1, calls)
	assert.Equal(t, 20, f.Get())
}

func TestSubscriberMayReadValue(t *testing.T) {
	var f String
	var seen string
	f.Subscribe(func(string) { seen = f.Get() })

	f.Set("hdmi1")

	assert.Equal(t, "hdmi1", seen)
}
