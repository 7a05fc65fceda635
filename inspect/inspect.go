package inspect

import (
	"fmt"
	"sort"
	"strings"

	"github.com/parley-run/parley/model"
)

// Inspection works on snapshots only, never on a live engine, so a running
// runtime is never observed mid-tick.

type InstanceSummary struct {
	ID     int              `json:"id"`
	UID    string           `json:"uid"`
	Flow   string           `json:"flow"`
	Status model.FlowStatus `json:"status"`
	Loop   string           `json:"loop"`
	Parent int              `json:"parent,omitempty"`
}

type HeadLocation struct {
	Path    [][2]int        `json:"path,omitempty"`
	PC      int             `json:"pc"`
	Waiting *model.EventDef `json:"waiting,omitempty"`
}

type InstanceDetail struct {
	InstanceSummary
	Args      map[string]any `json:"args,omitempty"`
	Scope     map[string]any `json:"scope,omitempty"`
	Activated bool           `json:"activated,omitempty"`
	Heads     []HeadLocation `json:"heads,omitempty"`
	Ancestry  []string       `json:"ancestry,omitempty"`
}

type Filter struct {
	Flow   string
	Status model.FlowStatus
}

// Instances lists the live instances of a snapshot, ordered by id. A zero
// filter lists everything.
func Instances(snap *model.Snapshot, filter Filter) []InstanceSummary {
	var out []InstanceSummary
	for _, inst := range snap.Instances {
		if len(filter.Flow) > 0 && inst.Flow != filter.Flow {
			continue
		}
		if len(filter.Status) > 0 && inst.Status != filter.Status {
			continue
		}
		out = append(out, summarize(inst))
	}
	sort.Slice(out, func(i, j int) bool { return out[i].ID < out[j].ID })
	return out
}

// Detail resolves one instance by uid, with its bindings, parked heads and
// the chain of flow names from the root down to it.
func Detail(snap *model.Snapshot, uid string) (*InstanceDetail, error) {
	byID := indexByID(snap)
	for _, inst := range snap.Instances {
		if inst.UID != uid {
			continue
		}
		detail := &InstanceDetail{
			InstanceSummary: summarize(inst),
			Args:            inst.Args,
			Scope:           inst.Scope,
			Activated:       inst.Activated,
			Ancestry:        ancestry(inst, byID),
		}
		for _, h := range inst.Heads {
			detail.Heads = append(detail.Heads, HeadLocation{
				Path:    h.Path,
				PC:      h.PC,
				Waiting: h.Waiting,
			})
		}
		return detail, nil
	}
	return nil, fmt.Errorf("no instance with uid %s", uid)
}

// Tree renders the instance hierarchy as an indented listing, one instance
// per line.
func Tree(snap *model.Snapshot) string {
	byID := indexByID(snap)
	children := make(map[int][]int)
	var roots []int
	for _, inst := range snap.Instances {
		if _, ok := byID[inst.Parent]; ok {
			children[inst.Parent] = append(children[inst.Parent], inst.ID)
		} else {
			roots = append(roots, inst.ID)
		}
	}
	sort.Ints(roots)
	var sb strings.Builder
	for _, id := range roots {
		writeTree(&sb, byID, children, id, 0)
	}
	return sb.String()
}

func writeTree(sb *strings.Builder, byID map[int]model.InstanceSnapshot, children map[int][]int, id, depth int) {
	inst := byID[id]
	sb.WriteString(strings.Repeat("  ", depth))
	sb.WriteString(fmt.Sprintf("%s [%s] uid=%s loop=%s\n", inst.Flow, inst.Status, inst.UID, inst.Loop))
	kids := append([]int(nil), children[id]...)
	sort.Ints(kids)
	for _, kid := range kids {
		writeTree(sb, byID, children, kid, depth+1)
	}
}

func summarize(inst model.InstanceSnapshot) InstanceSummary {
	return InstanceSummary{
		ID:     inst.ID,
		UID:    inst.UID,
		Flow:   inst.Flow,
		Status: inst.Status,
		Loop:   inst.Loop,
		Parent: inst.Parent,
	}
}

func indexByID(snap *model.Snapshot) map[int]model.InstanceSnapshot {
	byID := make(map[int]model.InstanceSnapshot, len(snap.Instances))
	for _, inst := range snap.Instances {
		byID[inst.ID] = inst
	}
	return byID
}

func ancestry(inst model.InstanceSnapshot, byID map[int]model.InstanceSnapshot) []string {
	names := []string{inst.Flow}
	for parent, ok := byID[inst.Parent]; ok; parent, ok = byID[parent.Parent] {
		names = append(names, parent.Flow)
	}
	for i, j := 0, len(names)-1; i < j; i, j = i+1, j-1 {
		names[i], names[j] = names[j], names[i]
	}
	return names
}
