// Copyright 2018 Dan Jacques. All rights reserved.
// Use of this source code is governed under the MIT License
// that can be found in the LICENSE file.

package replay

import (
	"fmt"
	"time"
)

// Summary is the result of a replay pass.
type Summary struct {
	// Frames is the number of frames replayed.
	Frames uint64
	// Duration is the time spent in the replay pass.
	Duration time.Duration

	// Failed is true if the run failed, and Err is its failure.
	Failed bool
	Err    error
}

// FPS returns the replay pass's average frame rate.
func (s Summary) FPS() float64 {
	secs := s.Duration.Seconds()
	if secs <= 0 {
		return 0
	}
	return float64(s.Frames) / secs
}

// String renders the summary line reported at the end of a replay.
func (s Summary) String() string {
	switch {
	case s.Failed:
		return "A failure has occurred during replay"
	case s.Frames == 0:
		return "File did not contain any frames"
	}

	plural := ""
	if s.Frames > 1 {
		plural = "s"
	}
	return fmt.Sprintf("%f fps, %f seconds, %d frame%s, 1 loop, framerange %d-%d",
		s.FPS(), s.Duration.Seconds(), s.Frames, plural, 1, s.Frames)
}
