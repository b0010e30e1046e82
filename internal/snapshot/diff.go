package snapshot

// DeltaKind tags a DeltaEvent.
type DeltaKind int

const (
	ThreadAdded DeltaKind = iota
	ReviewAdded
	CommentAdded
	ResolutionCountChanged
	NoChange
)

func (k DeltaKind) String() string {
	switch k {
	case ThreadAdded:
		return "thread_added"
	case ReviewAdded:
		return "review_added"
	case CommentAdded:
		return "comment_added"
	case ResolutionCountChanged:
		return "resolution_count_changed"
	case NoChange:
		return "no_change"
	default:
		return "unknown"
	}
}

// Direction of a resolution-count change. INCREASED means a previously
// resolved thread was reopened.
type Direction string

const (
	Increased Direction = "INCREASED"
	Decreased Direction = "DECREASED"
)

// DeltaEvent is one classified difference between two snapshots. Exactly one
// of the payload fields is set, matching Kind.
type DeltaEvent struct {
	Kind DeltaKind

	Thread  *ReviewThread
	Review  *Review
	Comment *Comment

	PrevUnresolved int
	CurrUnresolved int
	Direction      Direction
}

// Diff compares two snapshots by entity-id set difference and returns the
// classified deltas in fixed category priority: threads, then reviews, then
// comments, then a resolution-count change. Within a category, events follow
// the sampler's return order for curr. When nothing differs the result is a
// single NoChange event.
func Diff(prev, curr *Snapshot) []DeltaEvent {
	var events []DeltaEvent

	prevThreads := make(map[string]struct{}, len(prev.ReviewThreads))
	for _, t := range prev.ReviewThreads {
		prevThreads[t.ID] = struct{}{}
	}
	for i := range curr.ReviewThreads {
		t := curr.ReviewThreads[i]
		if _, ok := prevThreads[t.ID]; !ok {
			events = append(events, DeltaEvent{Kind: ThreadAdded, Thread: &t})
		}
	}

	prevReviews := make(map[string]struct{}, len(prev.Reviews))
	for _, r := range prev.Reviews {
		prevReviews[r.ID] = struct{}{}
	}
	for i := range curr.Reviews {
		r := curr.Reviews[i]
		if _, ok := prevReviews[r.ID]; !ok {
			events = append(events, DeltaEvent{Kind: ReviewAdded, Review: &r})
		}
	}

	prevComments := make(map[string]struct{}, len(prev.Comments))
	for _, c := range prev.Comments {
		prevComments[c.ID] = struct{}{}
	}
	for i := range curr.Comments {
		c := curr.Comments[i]
		if _, ok := prevComments[c.ID]; !ok {
			events = append(events, DeltaEvent{Kind: CommentAdded, Comment: &c})
		}
	}

	unresolvedPrev := prev.UnresolvedThreads()
	unresolvedCurr := curr.UnresolvedThreads()
	if unresolvedPrev != unresolvedCurr {
		dir := Decreased
		if unresolvedCurr > unresolvedPrev {
			dir = Increased
		}
		events = append(events, DeltaEvent{
			Kind:           ResolutionCountChanged,
			PrevUnresolved: unresolvedPrev,
			CurrUnresolved: unresolvedCurr,
			Direction:      dir,
		})
	}

	if len(events) == 0 {
		return []DeltaEvent{{Kind: NoChange}}
	}
	return events
}

// HasActivity reports whether any event in the slice is a real delta.
func HasActivity(events []DeltaEvent) bool {
	for _, e := range events {
		if e.Kind != NoChange {
			return true
		}
	}
	return false
}
