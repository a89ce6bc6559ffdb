package segment

type scanState int

const (
	scanning scanState = iota
	confirmed
	exhausted
)

func (s scanState) String() string {
	switch s {
	case scanning:
		return "scanning"
	case confirmed:
		return "confirmed"
	case exhausted:
		return "exhausted"
	}
	return "unknown"
}

// flagScan walks the flag candidates of one segmentation iteration looking for the first
// one whose flag window is dense enough to confirm a change.
type flagScan struct {
	tl         *timeline
	params     Params
	candidates []int // indices of flagged observations after the fit window
	flagPrefix []int // flagPrefix[i] = candidates before index i

	cursor  int
	state   scanState
	trigger int
}

func newFlagScan(tl *timeline, params Params, flagged []bool, afterDay int) *flagScan {
	s := &flagScan{
		tl:         tl,
		params:     params,
		flagPrefix: make([]int, tl.len()+1),
	}
	for i, f := range flagged {
		s.flagPrefix[i+1] = s.flagPrefix[i]
		if f && tl.days[i] > afterDay {
			s.candidates = append(s.candidates, i)
			s.flagPrefix[i+1]++
		}
	}
	return s
}

func (s *flagScan) countFlagged(from, to int) int {
	lo, hi := s.tl.span(from, to)
	return s.flagPrefix[hi] - s.flagPrefix[lo]
}

// step evaluates the candidate under the cursor and moves the walk to its next state.
func (s *flagScan) step() {
	if s.cursor >= len(s.candidates) {
		s.state = exhausted
		return
	}
	idx := s.candidates[s.cursor]
	from := s.tl.days[idx]
	to := from + s.params.FlagDays - 1
	if to > s.tl.lastDay() {
		// Later candidates only push the window further out.
		s.state = exhausted
		return
	}

	total := float64(s.tl.countValid(from, to))
	flagged := float64(s.countFlagged(from, to))
	firstHalf := float64(s.countFlagged(from, from+s.params.FlagDays/2))

	if flagged >= s.params.FlagFraction*total &&
		firstHalf >= s.params.FirstHalf*s.params.FlagFraction*total {
		s.state = confirmed
		s.trigger = idx
		return
	}
	s.cursor++
}

// run walks until the scan leaves the scanning state. It returns the triggering index
// and true when a change is confirmed.
func (s *flagScan) run() (int, bool) {
	for s.state == scanning {
		s.step()
	}
	return s.trigger, s.state == confirmed
}
