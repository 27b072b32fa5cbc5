package service

import (
	"time"

	"github.com/noah-isme/gema-coding-session/internal/dto"
)

// ChallengeNavigator tracks the single active challenge and the time spent on each one.
// It is not safe for concurrent use; the owning session serializes access.
type ChallengeNavigator struct {
	count     int
	index     int
	since     time.Time
	timeSpent map[int]time.Duration
	now       func() time.Time
	onArrive  func(index int)
}

// NewChallengeNavigator starts at the given index, clamped into range. Previously recorded
// time (milliseconds per index) is carried forward.
func NewChallengeNavigator(count, start int, recorded map[int]int64, now func() time.Time, onArrive func(int)) *ChallengeNavigator {
	if now == nil {
		now = time.Now
	}
	if count < 0 {
		count = 0
	}
	if start < 0 || start >= count {
		start = 0
	}

	spent := make(map[int]time.Duration, len(recorded))
	for idx, ms := range recorded {
		if idx >= 0 && idx < count && ms > 0 {
			spent[idx] = time.Duration(ms) * time.Millisecond
		}
	}

	return &ChallengeNavigator{
		count:     count,
		index:     start,
		since:     now(),
		timeSpent: spent,
		now:       now,
		onArrive:  onArrive,
	}
}

// Count returns the number of challenges.
func (n *ChallengeNavigator) Count() int {
	return n.count
}

// Current returns the active challenge index.
func (n *ChallengeNavigator) Current() int {
	return n.index
}

// Next moves forward one challenge. It is a no-op on the last challenge.
func (n *ChallengeNavigator) Next() bool {
	return n.JumpTo(n.index + 1)
}

// Previous moves back one challenge. It is a no-op on the first challenge.
func (n *ChallengeNavigator) Previous() bool {
	return n.JumpTo(n.index - 1)
}

// JumpTo activates the challenge at index. Out-of-range and same-index jumps are ignored.
func (n *ChallengeNavigator) JumpTo(index int) bool {
	if index < 0 || index >= n.count || index == n.index {
		return false
	}

	n.flush()
	n.index = index
	if n.onArrive != nil {
		n.onArrive(index)
	}
	return true
}

// NextUnsubmitted returns the first index after the active one, wrapping around, for
// which submitted reports false.
func (n *ChallengeNavigator) NextUnsubmitted(submitted func(index int) bool) (int, bool) {
	for step := 1; step <= n.count; step++ {
		candidate := (n.index + step) % n.count
		if !submitted(candidate) {
			return candidate, true
		}
	}
	return n.index, false
}

// TimeSpent returns milliseconds spent per challenge, including the running interval.
func (n *ChallengeNavigator) TimeSpent() map[int]int64 {
	out := make(map[int]int64, len(n.timeSpent)+1)
	for idx, spent := range n.timeSpent {
		out[idx] = spent.Milliseconds()
	}
	if n.count > 0 {
		running := n.timeSpent[n.index] + n.now().Sub(n.since)
		out[n.index] = running.Milliseconds()
	}
	return out
}

// Page returns the display window containing the active challenge.
func (n *ChallengeNavigator) Page(size int) dto.PageResponse {
	if size <= 0 {
		size = 10
	}

	page := dto.PageResponse{PageSize: size, Indices: []int{}}
	if n.count == 0 {
		return page
	}

	page.TotalPages = (n.count + size - 1) / size
	page.Page = n.index / size
	page.Start = page.Page * size
	page.End = page.Start + size
	if page.End > n.count {
		page.End = n.count
	}
	for i := page.Start; i < page.End; i++ {
		page.Indices = append(page.Indices, i)
	}
	return page
}

func (n *ChallengeNavigator) flush() {
	now := n.now()
	if n.count > 0 {
		n.timeSpent[n.index] += now.Sub(n.since)
	}
	n.since = now
}
