package idgen

import (
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestTimeOrdered_MonotonicAcrossMilliseconds(t *testing.T) {
	a := TimeOrdered()
	time.Sleep(2 * time.Millisecond)
	b := TimeOrdered()

	assert.Less(t, a.String(), b.String(), "later id should sort after earlier id")
}

func TestTimeOrdered_VersionNibble(t *testing.T) {
	id := TimeOrdered()
	assert.Equal(t, uuid7Version, (id[6]>>4)&0x0F)
}

func TestTimestamp_RoundTrips(t *testing.T) {
	before := time.Now().UTC().Truncate(time.Millisecond)
	id := TimeOrdered()
	got := Timestamp(id)

	assert.WithinDuration(t, before, got, 50*time.Millisecond)
}

const uuid7Version = 0x7
