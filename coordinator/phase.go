package coordinator

import (
	"encoding/json"
	"fmt"
)

type Phase uint8

const (
	Idle Phase = iota
	Selecting
	Broadcasting
	Collecting
	Aggregating
	Evaluating
	Completed
	Aborted
)

var phaseNames = map[Phase]string{
	Idle:         "idle",
	Selecting:    "selecting",
	Broadcasting: "broadcasting",
	Collecting:   "collecting",
	Aggregating:  "aggregating",
	Evaluating:   "evaluating",
	Completed:    "completed",
	Aborted:      "aborted",
}

func (p Phase) String() string {
	if name, ok := phaseNames[p]; ok {
		return name
	}

	return "unknown"
}

func (p Phase) MarshalJSON() ([]byte, error) {
	return json.Marshal(p.String())
}

// transitions lists, for every phase, the phases it may move to.
var transitions = map[Phase][]Phase{
	Idle:         {Selecting},
	Selecting:    {Broadcasting, Aborted},
	Broadcasting: {Collecting, Aborted},
	Collecting:   {Aggregating, Aborted},
	Aggregating:  {Evaluating, Aborted},
	Evaluating:   {Completed, Aborted},
	Completed:    {Idle},
	Aborted:      {Idle},
}

func canTransition(from, to Phase) bool {
	for _, p := range transitions[from] {
		if p == to {
			return true
		}
	}

	return false
}

type transitionError struct {
	from, to Phase
}

func (e transitionError) Error() string {
	return fmt.Sprintf("illegal round transition %s -> %s", e.from, e.to)
}
