package version

import (
	"strconv"
	"strings"

	"golang.org/x/mod/semver"
)

type Semver struct {
	Major      int
	Minor      int
	Patch      int
	Revision   int
	Prerelease string
}

// canonical converts registry versions ("13.0.3", "v1.2", "4.1.0.1", "2.0.0-rc.1+sha") into the
// "vMAJOR.MINOR.PATCH[-pre]" form golang.org/x/mod/semver understands. A fourth numeric
// component, as NuGet allows, is returned separately as the revision.
func canonical(v string) (string, int) {
	v = strings.TrimPrefix(strings.TrimSpace(v), "v")
	if i := strings.IndexByte(v, '+'); i >= 0 {
		v = v[:i]
	}
	pre := ""
	if i := strings.IndexByte(v, '-'); i >= 0 {
		v, pre = v[:i], v[i:]
	}
	parts := strings.Split(v, ".")
	revision := 0
	switch {
	case len(parts) > 4:
		return "", 0
	case len(parts) == 4:
		n, err := strconv.Atoi(parts[3])
		if err != nil || n < 0 {
			return "", 0
		}
		parts, revision = parts[:3], n
	}
	for len(parts) < 3 {
		parts = append(parts, "0")
	}
	c := semver.Canonical("v" + strings.Join(parts, ".") + pre)
	if c == "" {
		return "", 0
	}
	return c, revision
}

func Valid(v string) bool {
	c, _ := canonical(v)
	return c != ""
}

func IsPrerelease(v string) bool {
	c, _ := canonical(v)
	return c != "" && semver.Prerelease(c) != ""
}

// Compare orders two versions including pre-release precedence. Invalid versions sort first.
func Compare(a, b string) int {
	ca, ra := canonical(a)
	cb, rb := canonical(b)
	if c := semver.Compare(ca, cb); c != 0 || ca == "" || cb == "" {
		return c
	}
	return cmpInt(ra, rb)
}

// Parse extracts major, minor, patch and revision, ignoring pre-release and build suffixes.
func Parse(v string) (Semver, bool) {
	c, revision := canonical(v)
	if c == "" {
		return Semver{}, false
	}
	pre := semver.Prerelease(c)
	core := strings.TrimSuffix(strings.TrimPrefix(c, "v"), pre)
	parts := strings.SplitN(core, ".", 3)
	if len(parts) != 3 {
		return Semver{}, false
	}
	var nums [3]int
	for i, p := range parts {
		n, err := strconv.Atoi(p)
		if err != nil {
			return Semver{}, false
		}
		nums[i] = n
	}
	return Semver{
		Major:      nums[0],
		Minor:      nums[1],
		Patch:      nums[2],
		Revision:   revision,
		Prerelease: strings.TrimPrefix(pre, "-"),
	}, true
}

func (s Semver) compareCore(o Semver) int {
	switch {
	case s.Major != o.Major:
		return cmpInt(s.Major, o.Major)
	case s.Minor != o.Minor:
		return cmpInt(s.Minor, o.Minor)
	case s.Patch != o.Patch:
		return cmpInt(s.Patch, o.Patch)
	default:
		return cmpInt(s.Revision, o.Revision)
	}
}

func cmpInt(a, b int) int {
	switch {
	case a < b:
		return -1
	case a > b:
		return 1
	}
	return 0
}
