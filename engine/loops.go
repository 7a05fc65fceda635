package engine

import (
	"fmt"
	"sort"

	"github.com/parley-run/parley/util"
)

// DEFAULT_LOOP is the loop joined by instances with no declared loop and no
// parent to inherit from.
const DEFAULT_LOOP string = "main"

type interactionLoop struct {
	Name     string
	Priority int
	Seq      int
	Members  []int
}

// loopSet owns the interaction loops. Loops are created lazily by the first
// instance declaring them and destroyed when their last member leaves.
type loopSet struct {
	loops map[string]*interactionLoop
	seq   int
}

func newLoopSet() *loopSet {
	return &loopSet{loops: make(map[string]*interactionLoop)}
}

func (ls *loopSet) join(instanceID int, name string, priority int) string {
	if len(name) == 0 {
		ls.seq++
		name = fmt.Sprintf("loop-%d", ls.seq)
	}
	lp, ok := ls.loops[name]
	if !ok {
		ls.seq++
		lp = &interactionLoop{Name: name, Priority: priority, Seq: ls.seq}
		ls.loops[name] = lp
	}
	lp.Members = append(lp.Members, instanceID)
	return name
}

func (ls *loopSet) leave(instanceID int, name string) {
	lp, ok := ls.loops[name]
	if !ok {
		return
	}
	lp.Members = util.Remove(lp.Members, instanceID)
	if len(lp.Members) == 0 {
		delete(ls.loops, name)
	}
}

// ordered returns the loops in processing order: descending priority, with
// creation order breaking ties so behavior stays deterministic.
func (ls *loopSet) ordered() []*interactionLoop {
	out := make([]*interactionLoop, 0, len(ls.loops))
	for _, lp := range ls.loops {
		out = append(out, lp)
	}
	sort.Slice(out, func(i, j int) bool {
		if out[i].Priority != out[j].Priority {
			return out[i].Priority > out[j].Priority
		}
		return out[i].Seq < out[j].Seq
	})
	return out
}
