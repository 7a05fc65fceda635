package engine

import (
	"encoding/json"

	"github.com/parley-run/parley/logger"
	"github.com/parley-run/parley/model"
	"github.com/parley-run/parley/util"
	"go.uber.org/zap"
)

// candidate is an outgoing emission produced while processing one event,
// buffered until the conflict resolver has seen every instance's reaction.
type candidate struct {
	instanceID int
	headID     int
	event      model.Event
	scores     []float64
	actionUID  string
	bindVar    string
}

func (e *Engine) addCandidate(c candidate) {
	e.candidates = append(e.candidates, c)
}

// resolveCandidates arbitrates the emissions buffered for one consumed event.
// Candidates on the same channel with structurally identical payloads merge
// into a single emission sharing one action handle; differing payloads are
// compared lexicographically on their match-score sequences and the losers'
// instances fail.
func (e *Engine) resolveCandidates() {
	if len(e.candidates) == 0 {
		return
	}
	cands := e.candidates
	e.candidates = nil

	channels := make([]string, 0)
	byChannel := make(map[string][]candidate)
	for _, c := range cands {
		channel := c.event.Name
		if _, ok := byChannel[channel]; !ok {
			channels = append(channels, channel)
		}
		byChannel[channel] = append(byChannel[channel], c)
	}

	// an instance that lost an earlier channel has failed; its remaining
	// buffered emissions must not surface
	lost := make(map[int]bool)
	for _, channel := range channels {
		kept := make([]candidate, 0, len(byChannel[channel]))
		for _, c := range byChannel[channel] {
			if lost[c.instanceID] {
				if len(c.actionUID) > 0 {
					delete(e.actions, c.actionUID)
				}
				continue
			}
			kept = append(kept, c)
		}
		if len(kept) == 0 {
			continue
		}
		e.resolveChannel(channel, kept, lost)
	}
}

func (e *Engine) resolveChannel(channel string, cands []candidate, lost map[int]bool) {
	keys := make([]string, 0)
	groups := make(map[string][]candidate)
	for _, c := range cands {
		key := payloadKey(c.event)
		if _, ok := groups[key]; !ok {
			keys = append(keys, key)
		}
		groups[key] = append(groups[key], c)
	}

	if len(keys) == 1 {
		e.emitMerged(groups[keys[0]])
		return
	}

	// structurally different payloads on one channel: pick the most specific
	best := []string{keys[0]}
	for _, key := range keys[1:] {
		switch compareScores(bestScores(groups[key]), bestScores(groups[best[0]])) {
		case 1:
			best = []string{key}
		case 0:
			best = append(best, key)
		}
	}
	winner := best[0]
	if len(best) > 1 {
		winner = best[e.intn(len(best))]
	}
	logger.Debug("conflict resolved", zap.String("channel", channel), zap.Int("candidates", len(cands)))

	e.emitMerged(groups[winner])
	for _, key := range keys {
		if key == winner {
			continue
		}
		for _, c := range groups[key] {
			lost[c.instanceID] = true
			if inst, ok := e.arena[c.instanceID]; ok {
				e.failInstance(inst, "lost conflict on "+channel)
			}
			if len(c.actionUID) > 0 {
				delete(e.actions, c.actionUID)
			}
		}
	}
}

// emitMerged emits one event for a set of structurally identical candidates.
// All merged candidates end up holding the first candidate's action handle.
func (e *Engine) emitMerged(cands []candidate) {
	first := cands[0]
	var shared *actionInstance
	if len(first.actionUID) > 0 {
		if a, ok := e.actions[first.actionUID]; ok {
			a.emitted = true
			shared = a
		}
	}
	e.emitExternal(first.event)

	if shared == nil {
		return
	}
	for _, c := range cands[1:] {
		if len(c.actionUID) == 0 || c.actionUID == shared.UID {
			continue
		}
		delete(e.actions, c.actionUID)
		if !util.Contains(shared.Owners, c.instanceID) {
			shared.Owners = append(shared.Owners, c.instanceID)
		}
		inst, ok := e.arena[c.instanceID]
		if !ok {
			continue
		}
		if len(c.bindVar) > 0 {
			inst.Scope[c.bindVar] = map[string]any{"uid": shared.UID, "action": shared.Name}
		}
		e.rewriteWaits(inst, c.actionUID, shared.UID)
	}
}

// rewriteWaits repoints heads parked on a provisional action uid to the
// shared handle chosen by the merge.
func (e *Engine) rewriteWaits(inst *Instance, from string, to string) {
	for _, h := range inst.Heads {
		if h.Waiting == nil {
			continue
		}
		if uid, ok := h.Waiting.Params[model.PARAM_ACTION_UID]; ok && uid == from {
			params := make(map[string]any, len(h.Waiting.Params))
			for k, v := range h.Waiting.Params {
				params[k] = v
			}
			params[model.PARAM_ACTION_UID] = to
			h.Waiting = &model.EventDef{Name: h.Waiting.Name, Params: params}
		}
	}
}

// payloadKey is the structural identity of an emission: channel plus
// canonical JSON of the parameters, the correlation uid excluded.
func payloadKey(event model.Event) string {
	filtered := make(map[string]any, len(event.Params))
	for k, v := range event.Params {
		if k == model.PARAM_ACTION_UID {
			continue
		}
		filtered[k] = v
	}
	data, _ := json.Marshal(filtered)
	return event.Name + "|" + string(data)
}

// bestScores picks the lexicographically greatest score sequence among a
// payload group's candidates.
func bestScores(cands []candidate) []float64 {
	best := cands[0].scores
	for _, c := range cands[1:] {
		if compareScores(c.scores, best) == 1 {
			best = c.scores
		}
	}
	return best
}

// compareScores orders score sequences lexicographically. Sequences equal up
// to the shorter one's length compare as ties.
func compareScores(a, b []float64) int {
	n := len(a)
	if len(b) < n {
		n = len(b)
	}
	for i := 0; i < n; i++ {
		if a[i] > b[i] {
			return 1
		}
		if a[i] < b[i] {
			return -1
		}
	}
	return 0
}
