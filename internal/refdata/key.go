package refdata

import (
	"strconv"
	"strings"
)

// Separator joins composite key segments:
// region::acNo[::group[::station]].
const Separator = "::"

// Reference kinds held by the cache.
const (
	KindAC       = "ac"
	KindGroup    = "group"
	KindStation  = "station"
	KindQuota    = "quota"
	KindRotation = "rotation"
)

// ACKey builds the composite key for an assembly constituency.
func ACKey(region string, acNo int) string {
	return region + Separator + strconv.Itoa(acNo)
}

// GroupKey builds the composite key for a lot group within an AC.
func GroupKey(region string, acNo int, group string) string {
	return ACKey(region, acNo) + Separator + group
}

// StationKey builds the composite key for a polling station.
func StationKey(region string, acNo int, group, station string) string {
	return GroupKey(region, acNo, group) + Separator + station
}

// SplitKey returns the segments of a composite key.
func SplitKey(key string) []string {
	return strings.Split(key, Separator)
}
