package calls

import "strings"

const resourcePathPrefix = "/communications/calls/"

// ExtractCallID derives a call id from a resource path such as
// "/communications/calls/{id}" or "/communications/calls/{id}/operations/{op}".
//
// It returns "" when the path is not a call resource. It never fails;
// callers treat "" as "cannot process".
func ExtractCallID(resourcePath string) string {
	segs := make([]string, 0, 4)
	for _, s := range strings.Split(resourcePath, "/") {
		if s != "" {
			segs = append(segs, s)
		}
	}
	if len(segs) < 3 {
		return ""
	}
	if !strings.EqualFold(segs[0], "communications") || !strings.EqualFold(segs[1], "calls") {
		return ""
	}
	return segs[2]
}

// BuildResourcePath is the inverse of ExtractCallID.
func BuildResourcePath(callID string) string {
	return resourcePathPrefix + callID
}
