package domain

import (
	"fmt"
	"strconv"
	"strings"
)

// Platform is the tag of a third-party publishing target. The integer values
// are persisted and travel on the wire, so they must never be renumbered.
type Platform int

const (
	PlatformXiaohongshu Platform = 1
	PlatformTencent     Platform = 2
	PlatformDouyin      Platform = 3
	PlatformKuaishou    Platform = 4
	PlatformBilibili    Platform = 5
)

// Platforms lists every supported platform in tag order.
var Platforms = []Platform{
	PlatformXiaohongshu,
	PlatformTencent,
	PlatformDouyin,
	PlatformKuaishou,
	PlatformBilibili,
}

var platformNames = map[Platform]string{
	PlatformXiaohongshu: "xiaohongshu",
	PlatformTencent:     "tencent",
	PlatformDouyin:      "douyin",
	PlatformKuaishou:    "kuaishou",
	PlatformBilibili:    "bilibili",
}

var platformAliases = map[string]Platform{
	"wechat": PlatformTencent,
	"xhs":    PlatformXiaohongshu,
	"ks":     PlatformKuaishou,
}

func (p Platform) Valid() bool {
	_, ok := platformNames[p]
	return ok
}

func (p Platform) String() string {
	if name, ok := platformNames[p]; ok {
		return name
	}
	return "platform(" + strconv.Itoa(int(p)) + ")"
}

// ParsePlatform accepts the integer tag ("3"), the CLI name ("douyin") or an alias.
func ParsePlatform(s string) (Platform, error) {
	s = strings.TrimSpace(strings.ToLower(s))
	if n, err := strconv.Atoi(s); err == nil {
		p := Platform(n)
		if !p.Valid() {
			return 0, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown platform type %d", n)}
		}
		return p, nil
	}
	for p, name := range platformNames {
		if name == s {
			return p, nil
		}
	}
	if p, ok := platformAliases[s]; ok {
		return p, nil
	}
	return 0, &ValidationError{Field: "type", Reason: fmt.Sprintf("unknown platform %q", s)}
}
