package runner

import "time"

// completion is pushed by a run goroutine to the loop exactly once.
type completion struct {
	id       uint64
	started  time.Time
	duration time.Duration
	err      error
}

type flight struct {
	id          uint64
	triggeredAt time.Time
}

// flights is the in-flight table. Only the loop goroutine touches it; run
// goroutines report through done.
type flights struct {
	seq   uint64
	order []uint64
	byID  map[uint64]flight
	done  chan completion
}

func newFlights() *flights {
	return &flights{
		byID: map[uint64]flight{},
		done: make(chan completion),
	}
}

func (f *flights) add(triggeredAt time.Time) uint64 {
	f.seq++
	id := f.seq
	f.byID[id] = flight{id: id, triggeredAt: triggeredAt}
	f.order = append(f.order, id)
	return id
}

func (f *flights) remove(id uint64) (flight, bool) {
	fl, ok := f.byID[id]
	if !ok {
		return flight{}, false
	}
	delete(f.byID, id)
	for i, v := range f.order {
		if v == id {
			f.order = append(f.order[:i], f.order[i+1:]...)
			break
		}
	}
	return fl, true
}

func (f *flights) len() int { return len(f.byID) }

// ids returns in-flight ids in launch order.
func (f *flights) ids() []uint64 { return append([]uint64(nil), f.order...) }
