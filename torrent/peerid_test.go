package torrent

import (
	"regexp"
	"testing"

	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
)

var peerIDPattern = regexp.MustCompile(`^-SB001-[a-z0-9]{13}$`)

func TestNewPeerIDFormat(t *testing.T) {
	id, err := NewPeerID()
	require.NoError(t, err)
	assert.Len(t, id, 20)
	assert.Regexp(t, peerIDPattern, id)
}

func TestNewPeerIDVariesAcrossCalls(t *testing.T) {
	first, err := NewPeerID()
	require.NoError(t, err)
	second, err := NewPeerID()
	require.NoError(t, err)
	assert.NotEqual(t, first, second)
}
