package segmenter

import (
	"fmt"
)

const (
	DefaultChunkSize = 1000
	DefaultOverlap   = 200
)

// separators are tried in order; a coarser one wins whenever it yields a
// split point in the back half of the window.
var separators = [][]rune{
	[]rune("\n\n"),
	[]rune("\n"),
	[]rune(". "),
	[]rune("! "),
	[]rune("? "),
	[]rune(" "),
}

// sentenceLevel marks the separators that share one fallback level.
var sentenceLevel = map[int]bool{2: true, 3: true, 4: true}

type Segmenter struct {
	size    int
	overlap int
}

func New(size, overlap int) (*Segmenter, error) {
	if size <= 0 {
		return nil, fmt.Errorf("chunk size must be positive, got %d", size)
	}
	if overlap < 0 || overlap >= size {
		return nil, fmt.Errorf("overlap must be in [0, %d), got %d", size, overlap)
	}
	return &Segmenter{size: size, overlap: overlap}, nil
}

func (s *Segmenter) ChunkSize() int { return s.size }
func (s *Segmenter) Overlap() int   { return s.overlap }

// Segment splits text into chunks of at most ChunkSize runes. Every chunk
// after the first starts with the last Overlap runes of its predecessor, so
// trimming those prefixes and concatenating yields text again.
func (s *Segmenter) Segment(text string) []string {
	runes := []rune(text)
	n := len(runes)
	if n == 0 {
		return nil
	}
	chunks := make([]string, 0, n/(s.size-s.overlap)+1)
	start := 0
	for {
		if n-start <= s.size {
			chunks = append(chunks, string(runes[start:]))
			return chunks
		}
		end := s.splitPoint(runes, start)
		chunks = append(chunks, string(runes[start:end]))
		start = end - s.overlap
	}
}

// splitPoint picks the end of the chunk starting at start. The result is
// always in (start+overlap, start+size], so the next chunk makes progress.
func (s *Segmenter) splitPoint(runes []rune, start int) int {
	limit := start + s.size
	floor := start + s.overlap + 1
	if half := start + s.size/2; half > floor {
		floor = half
	}
	i := 0
	for i < len(separators) {
		best := -1
		level := []int{i}
		if sentenceLevel[i] {
			level = []int{2, 3, 4}
		}
		for _, idx := range level {
			if p := lastSeparatorEnd(runes, separators[idx], floor, limit); p > best {
				best = p
			}
		}
		if best > 0 {
			return best
		}
		i = level[len(level)-1] + 1
	}
	return limit
}

// lastSeparatorEnd returns the largest p in [floor, limit] such that sep ends
// exactly at p, or -1.
func lastSeparatorEnd(runes, sep []rune, floor, limit int) int {
	for p := limit; p >= floor; p-- {
		from := p - len(sep)
		if from < 0 {
			break
		}
		if matchAt(runes, sep, from) {
			return p
		}
	}
	return -1
}

func matchAt(runes, sep []rune, at int) bool {
	if at+len(sep) > len(runes) {
		return false
	}
	for j, r := range sep {
		if runes[at+j] != r {
			return false
		}
	}
	return true
}

// Reassemble inverts Segment for a known overlap.
func Reassemble(chunks []string, overlap int) string {
	var out []rune
	for i, c := range chunks {
		r := []rune(c)
		if i > 0 {
			if overlap > len(r) {
				continue
			}
			r = r[overlap:]
		}
		out = append(out, r...)
	}
	return string(out)
}
