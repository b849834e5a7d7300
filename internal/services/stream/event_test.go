package stream

import (
	"testing"
	"time"

	"github.com/pkg/errors"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"github.com/vadiminshakov/marketpulse/internal/domain"
)

func TestDecode(t *testing.T) {
	ev, err := Decode([]byte(`{"from":"US","to":"DE","amount":"12.5","currency":"eth","hash":"0xab","timestamp":1700000000123,"side":"sell"}`))
	require.NoError(t, err)

	assert.Equal(t, "US", ev.From)
	assert.Equal(t, "DE", ev.To)
	assert.Equal(t, "12.5", ev.Amount.String())
	assert.Equal(t, "ETH", ev.Currency)
	assert.Equal(t, domain.SideSell, ev.Side)
	assert.Equal(t, time.UnixMilli(1700000000123), ev.Timestamp)
}

func TestDecode_Malformed(t *testing.T) {
	tests := []struct {
		name string
		raw  string
	}{
		{"not json", `{"from":`},
		{"missing hash", `{"from":"a","to":"b","amount":1}`},
		{"missing endpoint", `{"from":"a","amount":1,"hash":"0x1"}`},
		{"missing amount", `{"from":"a","to":"b","hash":"0x1"}`},
		{"bad amount", `{"from":"a","to":"b","hash":"0x1","amount":"abc"}`},
		{"negative amount", `{"from":"a","to":"b","hash":"0x1","amount":-1}`},
	}

	for _, tt := range tests {
		t.Run(tt.name, func(t *testing.T) {
			_, err := Decode([]byte(tt.raw))
			require.Error(t, err)
			assert.True(t, errors.Is(err, ErrMalformedEvent))
		})
	}
}

func TestDecode_SecondsTimestamp(t *testing.T) {
	ev, err := Decode([]byte(`{"from":"a","to":"b","amount":1,"hash":"h","timestamp":1700000000}`))
	require.NoError(t, err)
	assert.Equal(t, time.Unix(1700000000, 0), ev.Timestamp)
	assert.Equal(t, domain.SideUnknown, ev.Side)
}

func TestArcID(t *testing.T) {
	assert.Equal(t, ArcID("0xABC"), ArcID("abc"))
	assert.Equal(t, ArcID(" 0xabc "), ArcID("0xabc"))
	assert.NotEqual(t, ArcID("0xabc"), ArcID("0xabd"))
	assert.Len(t, ArcID("0xabc"), 66)

	// non-hex identifiers are digested
	assert.Equal(t, ArcID("tx-42"), ArcID("tx-42"))
	assert.NotEqual(t, ArcID("tx-42"), ArcID("tx-43"))
	assert.Len(t, ArcID("tx-42"), 66)
}
