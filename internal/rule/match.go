package rule

// Matches reports whether candidate satisfies pattern. Only pattern fields may
// carry wildcards; candidate.Verdict is ignored. Ports are not compared when
// the candidate is ICMP.
func Matches(pattern, candidate Rule) bool {
	if pattern.Protocol != Any && pattern.Protocol != candidate.Protocol {
		return false
	}
	if !pattern.Src.AnyAddr && candidate.Src.Addr&pattern.Src.Mask != pattern.Src.Addr&pattern.Src.Mask {
		return false
	}
	if !pattern.Dst.AnyAddr && candidate.Dst.Addr&pattern.Dst.Mask != pattern.Dst.Addr&pattern.Dst.Mask {
		return false
	}
	if candidate.Protocol == ICMP {
		return true
	}
	if !pattern.Src.AnyPort && pattern.Src.Port != candidate.Src.Port {
		return false
	}
	return pattern.Dst.AnyPort || pattern.Dst.Port == candidate.Dst.Port
}
