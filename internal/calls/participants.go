package calls

// GetJoined returns participants in newRoster whose id is absent from
// oldRoster, in newRoster order.
func GetJoined(newRoster, oldRoster []Participant) []Participant {
	return missingFrom(newRoster, oldRoster)
}

// GetLeft returns participants in oldRoster whose id is absent from
// newRoster, in oldRoster order.
func GetLeft(newRoster, oldRoster []Participant) []Participant {
	return missingFrom(oldRoster, newRoster)
}

func missingFrom(src, other []Participant) []Participant {
	seen := make(map[string]struct{}, len(other))
	for _, p := range other {
		seen[p.ID] = struct{}{}
	}
	var out []Participant
	for _, p := range src {
		if _, ok := seen[p.ID]; ok {
			continue
		}
		out = append(out, p)
	}
	return out
}
