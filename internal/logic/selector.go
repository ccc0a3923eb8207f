package logic

// GroupAverage returns the integer mean of one primary group of the matrix.
func GroupAverage(m *Matrix, group uint8) uint16 {
	var sum uint32
	for _, v := range m[group] {
		sum += uint32(v)
	}
	return uint16(sum / ChannelsPerGroup)
}

// Averages returns the integer mean of every primary group.
func Averages(m *Matrix) [Groups]uint16 {
	var out [Groups]uint16
	for g := uint8(0); g < Groups; g++ {
		out[g] = GroupAverage(m, g)
	}
	return out
}

// GroupSelector tracks the lowest group average seen during a sweep.
// Groups must be offered in ascending order for ties to resolve to the
// lowest index; a later group only wins when it is strictly lower.
type GroupSelector struct {
	best Selection
}

// Offer considers a completed group and reports whether it became the best.
func (s *GroupSelector) Offer(group uint8, average uint16) bool {
	if s.best.Valid && average >= s.best.Average {
		return false
	}
	s.best = Selection{Group: group, Average: average, Valid: true}
	return true
}

// Result returns the best group offered so far.
func (s *GroupSelector) Result() Selection {
	return s.best
}

// SelectGroup picks the group with the strictly smallest average from a fully
// populated matrix.
func SelectGroup(m *Matrix) Selection {
	var sel GroupSelector
	for g := uint8(0); g < Groups; g++ {
		sel.Offer(g, GroupAverage(m, g))
	}
	return sel.Result()
}
