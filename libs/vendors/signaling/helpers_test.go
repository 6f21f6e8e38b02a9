package signaling

import (
	"testing"
	"time"

	"github.com/jacky-htg/webcall/libs/calltoken"
	"github.com/stretchr/testify/require"
)

func mintToken(t *testing.T, secret string) string {
	t.Helper()
	tok, err := calltoken.Generate(secret, "a1", "c1", time.Minute)
	require.NoError(t, err)
	return tok
}
