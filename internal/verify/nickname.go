package verify

import (
	"regexp"
	"strings"
)

// maxNickname is Discord's nickname length limit.
const maxNickname = 32

// rankCodes maps group role names to NATO-style grade codes.
var rankCodes = []struct{ name, code string }{
	{"Master Warrant Officer", "OR-8"},
	{"Chief Warrant Officer", "OR-9"},
	{"Warrant Officer", "OR-7"},
	{"Private Basic", "OR-2"},
	{"Private Trained", "OR-3"},
	{"Private", "OR-2"},
	{"Recruit", "OR-1"},
	{"Master Corporal", "OR-5"},
	{"Lance Corporal", "OR-3"},
	{"Corporal", "OR-4"},
	{"Staff Sergeant", "OR-7"},
	{"Sergeant", "OR-6"},
	{"Second Lieutenant", "OF-1"},
	{"Lieutenant Colonel", "OF-4"},
	{"Lieutenant General", "OF-8"},
	{"Lieutenant", "OF-1"},
	{"Captain", "OF-2"},
	{"Brigadier General", "OF-6"},
	{"Major General", "OF-7"},
	{"Major", "OF-3"},
	{"Colonel", "OF-5"},
	{"General", "OF-9"},
}

var gradePattern = regexp.MustCompile(`(?i)\[(OR|OF)-(\d+)\]`)

// RankCode returns the grade code for a role name, or "M" for members
// without a recognised rank. Longer names are matched first so that
// "Lieutenant Colonel" is not taken for "Colonel".
func RankCode(rankName string) string {
	if rankName == "" {
		return "M"
	}
	lower := strings.ToLower(rankName)
	for _, rc := range rankCodes {
		if strings.EqualFold(rankName, rc.name) {
			return rc.code
		}
	}
	for _, rc := range rankCodes {
		if strings.Contains(lower, strings.ToLower(rc.name)) {
			return rc.code
		}
	}
	if m := gradePattern.FindStringSubmatch(rankName); m != nil {
		return strings.ToUpper(m[1]) + "-" + m[2]
	}
	return "M"
}

// Nickname formats "[CODE] username", truncating the username with "..."
// so the result fits Discord's limit.
func Nickname(rankName, username string) string {
	prefix := "[" + RankCode(rankName) + "] "
	if len(prefix)+len(username) <= maxNickname {
		return prefix + username
	}
	keep := maxNickname - len(prefix) - 3
	if keep < 0 {
		keep = 0
	}
	return prefix + username[:keep] + "..."
}
