package money

import (
	"encoding/json"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

func TestParse(t *testing.T) {
	tests := []struct {
		in    string
		cents int64
		ok    bool
	}{
		{"900", 90000, true},
		{"900.00", 90000, true},
		{"900.5", 90050, true},
		{"0.01", 1, true},
		{"R1000", 100000, true},
		{" 12.34 ", 1234, true},
		{".50", 50, true},
		{"", 0, false},
		{"900.555", 0, false},
		{"-5", 0, false},
		{"abc", 0, false},
		{"1,000", 0, false},
	}

	for _, tt := range tests {
		t.Run(tt.in, func(t *testing.T) {
			got, err := Parse(tt.in)
			if !tt.ok {
				assert.Error(t, err)
				return
			}
			require.NoError(t, err)
			assert.Equal(t, tt.cents, got.Cents())
		})
	}
}

func TestString(t *testing.T) {
	assert.Equal(t, "900.00", MustParse("900").String())
	assert.Equal(t, "0.05", FromCents(5).String())
	assert.Equal(t, "12.34", FromCents(1234).String())
}

func TestSubFloored(t *testing.T) {
	assert.Equal(t, FromCents(500), FromCents(900).SubFloored(FromCents(400)))
	assert.Equal(t, Zero, FromCents(400).SubFloored(FromCents(900)))
	assert.Equal(t, Zero, FromCents(400).SubFloored(FromCents(400)))
}

func TestJSONRoundTrip(t *testing.T) {
	b, err := json.Marshal(MustParse("900.50"))
	require.NoError(t, err)
	assert.Equal(t, `"900.50"`, string(b))

	var r Rand
	require.NoError(t, json.Unmarshal([]byte(`"123.45"`), &r))
	assert.Equal(t, int64(12345), r.Cents())

	// Bare numbers are accepted for provider payload compatibility.
	require.NoError(t, json.Unmarshal([]byte(`900`), &r))
	assert.Equal(t, int64(90000), r.Cents())
}
