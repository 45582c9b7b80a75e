package video

import (
	"os"
	"path/filepath"
	"testing"
	"time"

	"github.com/chenBenjamin97/traffic-light-visualizer/pkg/utils"
	"github.com/stretchr/testify/assert"
	"github.com/stretchr/testify/require"
	"gocv.io/x/gocv"
)

func TestLatestFrame(t *testing.T) {
	l := NewLatestFrame(time.Second)
	assert.Zero(t, l.Subscribers())

	_, _, err := l.Get()
	assert.Equal(t, ErrNoFrame, err)
	assert.Equal(t, 1, l.Subscribers(), "a poll counts as a subscriber")

	mat, err := blankFrame(stamp0).Mat()
	defer mat.Close()
	require.NoError(t, err)

	require.NoError(t, l.Publish(&AnnotatedFrame{Stamp: stamp0, Mat: &mat}))

	jpeg, stamp, err := l.Get()
	require.NoError(t, err)
	assert.Equal(t, stamp0, stamp)
	assert.Equal(t, []byte{0xff, 0xd8}, jpeg[:2])
}

func TestLatestFramePollExpires(t *testing.T) {
	now := stamp0
	l := NewLatestFrame(5 * time.Second)
	l.now = func() time.Time { return now }

	_, _, _ = l.Get()
	assert.Equal(t, 1, l.Subscribers())

	now = now.Add(5 * time.Second)
	assert.Equal(t, 1, l.Subscribers())

	now = now.Add(time.Millisecond)
	assert.Zero(t, l.Subscribers(), "clients stopped polling")

	_, _, _ = l.Get()
	assert.Equal(t, 1, l.Subscribers())
}

func TestRecorderRotatesOnSizeChange(t *testing.T) {
	dir := t.TempDir()
	r := NewRecorder(dir, 10)
	assert.Equal(t, "", r.currentPath())
	assert.Equal(t, 1, r.Subscribers())

	small := gocv.NewMatWithSize(48, 64, gocv.MatTypeCV8UC3)
	defer small.Close()
	big := gocv.NewMatWithSize(96, 128, gocv.MatTypeCV8UC3)
	defer big.Close()

	for i := 0; i < 3; i++ {
		stamp := stamp0.Add(time.Duration(i) * 100 * time.Millisecond)
		require.NoError(t, r.Publish(&AnnotatedFrame{Stamp: stamp, Mat: &small}))
	}
	first := r.currentPath()
	assert.Equal(t, dir, filepath.Dir(first))
	assert.Equal(t, "."+RecordingExt, filepath.Ext(first))

	require.NoError(t, r.Publish(&AnnotatedFrame{Stamp: stamp0.Add(time.Second), Mat: &big}))
	assert.NotEqual(t, first, r.currentPath())

	require.NoError(t, r.Close())
	assert.Equal(t, "", r.currentPath())

	names, err := utils.ListDir(dir)
	require.NoError(t, err)
	assert.Len(t, names, 2)

	info, err := os.Stat(first)
	require.NoError(t, err)
	assert.NotZero(t, info.Size())
}
