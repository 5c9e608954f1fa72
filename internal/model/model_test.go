package model

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParseLabel(t *testing.T) {
	for _, s := range []string{"ALLOW", "REVIEW", "BLOCK"} {
		l, err := ParseLabel(s)
		require.NoError(t, err)
		assert.Equal(t, Label(s), l)
	}

	_, err := ParseLabel("allow")
	assert.Error(t, err)
	_, err = ParseLabel("DENY")
	assert.Error(t, err)
}

func TestLabelUnmarshalRejectsUnknown(t *testing.T) {
	var d Decision
	err := json.Unmarshal([]byte(`{"transactionId":"t1","decision":"MAYBE"}`), &d)
	assert.Error(t, err)

	err = json.Unmarshal([]byte(`{"transactionId":"t1","decision":"BLOCK"}`), &d)
	require.NoError(t, err)
	assert.Equal(t, LabelBlock, d.Decision)
}

func TestOccurredAt(t *testing.T) {
	tx := &Transaction{Timestamp: "2026-03-10T03:15:00Z"}
	ts, ok := tx.OccurredAt()
	require.True(t, ok)
	assert.Equal(t, 3, ts.UTC().Hour())

	// Offset timestamps normalize through UTC.
	tx = &Transaction{Timestamp: "2026-03-10T09:15:00+06:00"}
	ts, ok = tx.OccurredAt()
	require.True(t, ok)
	assert.Equal(t, 3, ts.UTC().Hour())

	for _, bad := range []string{"", "not a time", "2026-03-10"} {
		tx = &Transaction{Timestamp: bad}
		_, ok = tx.OccurredAt()
		assert.False(t, ok, "timestamp %q should not parse", bad)
	}
}

func TestHasCoordinates(t *testing.T) {
	lat, lon := 51.5, -0.1
	assert.True(t, (&Transaction{Location: &Location{Lat: &lat, Lon: &lon}}).HasCoordinates())
	assert.False(t, (&Transaction{}).HasCoordinates())
	assert.False(t, (&Transaction{Location: &Location{Lat: &lat}}).HasCoordinates())
	assert.False(t, (&Transaction{Location: &Location{City: "London"}}).HasCoordinates())

	// Zero coordinates are valid, distinct from absent.
	zero := 0.0
	assert.True(t, (&Transaction{Location: &Location{Lat: &zero, Lon: &zero}}).HasCoordinates())
}
