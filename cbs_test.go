package amqp

import (
	"testing"
	"time"

	"github.com/stretchr/testify/require"
)

func TestParseTokenExpiryUnixSeconds(t *testing.T) {
	got, err := parseTokenExpiry("1700000000")
	require.NoError(t, err)
	require.True(t, got.Equal(time.Unix(1700000000, 0)))
}

func TestParseTokenExpiryRFC3339(t *testing.T) {
	got, err := parseTokenExpiry("2023-11-14T22:13:20Z")
	require.NoError(t, err)
	require.True(t, got.Equal(time.Date(2023, 11, 14, 22, 13, 20, 0, time.UTC)))
}

func TestParseTokenExpiryEmpty(t *testing.T) {
	got, err := parseTokenExpiry("")
	require.NoError(t, err)
	require.True(t, got.IsZero())
}

func TestParseTokenExpiryInvalid(t *testing.T) {
	_, err := parseTokenExpiry("not-a-timestamp")
	require.Error(t, err)
}
