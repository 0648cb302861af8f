package guard

import (
	"fmt"
	"strconv"
	"strings"
)

// Synthetic group names encode activity, extension and sequence:
//
//	Exam_guard_activity_<activity>_extension_<minutes>_<seq>
//
// Older installs wrote the name without a sequence.
func SyntheticPrefix(activityID string) string {
	return fmt.Sprintf("Exam_guard_activity_%s_extension_", activityID)
}

func SyntheticName(activityID string, minutes, seq int) string {
	return fmt.Sprintf("%s%d_%d", SyntheticPrefix(activityID), minutes, seq)
}

// syntheticGroup is a parsed synthetic group name.
type syntheticGroup struct {
	Group
	Minutes int
	Seq     int
	Legacy  bool
}

// parseSynthetic reports whether name is a synthetic group of activityID.
func parseSynthetic(activityID string, g Group) (syntheticGroup, bool) {
	rest, ok := strings.CutPrefix(g.Name, SyntheticPrefix(activityID))
	if !ok {
		return syntheticGroup{}, false
	}
	minPart, seqPart, hasSeq := strings.Cut(rest, "_")
	m, err := strconv.Atoi(minPart)
	if err != nil || m < 0 {
		return syntheticGroup{}, false
	}
	sg := syntheticGroup{Group: g, Minutes: m, Legacy: !hasSeq}
	if hasSeq {
		s, err := strconv.Atoi(seqPart)
		if err != nil || s < 0 {
			return syntheticGroup{}, false
		}
		sg.Seq = s
	}
	return sg, true
}

// findSynthetic lists the activity's synthetic groups. More than one legacy
// name cannot be told apart and is reported as inconsistent.
func findSynthetic(groups []Group, activityID string) ([]syntheticGroup, error) {
	var out []syntheticGroup
	legacy := 0
	for _, g := range groups {
		sg, ok := parseSynthetic(activityID, g)
		if !ok {
			continue
		}
		if sg.Legacy {
			legacy++
		}
		out = append(out, sg)
	}
	if legacy > 1 {
		return nil, &InconsistentStateError{ActivityID: activityID, Reason: "multiple legacy exam guard groups found"}
	}
	return out, nil
}
