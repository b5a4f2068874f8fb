package ffmpeg

import (
	"fmt"
	"testing"
	"time"

	"github.com/stretchr/testify/assert"
)

func TestProgressWriter(t *testing.T) {
	var got []int
	w := newProgressWriter(10*time.Second, func(p int) { got = append(got, p) })

	// Reports arrive in arbitrary chunks, not whole lines.
	stream := "frame=10\nout_time_us=2500000\nout_time_ms=2500000\nout_ti" +
		"me=00:00:02.500000\nprogress=continue\nout_time_us=N/A\n" +
		"out_time_us=2400000\nout_time_us=12000000\nprogress=end\n"
	for i := 0; i < len(stream); i += 7 {
		_, err := fmt.Fprint(w, stream[i:min(i+7, len(stream))])
		assert.NoError(t, err)
	}

	assert.Equal(t, []int{25, 99, 100}, got)
}
