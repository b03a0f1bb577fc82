package forwarder

// Gradient computes G_N(B) = max(0, W_local(B) - W_N(B)), the classical
// backpressure gradient to neighbor N for destination B (spec.md §4.6).
func Gradient(localWeight, neighborWeight uint32) uint32 {
	if localWeight <= neighborWeight {
		return 0
	}
	return localWeight - neighborWeight
}

// Score computes the joint (path, destination) preference score
// G_N(B)*C_N/MTU - alpha*L_N(B) used to rank candidate sends (spec.md
// §4.6). capacityBps is C_N in bits per second; latencyUsec is L_N(B) in
// microseconds; mtu is the path's MTU in bytes.
func Score(gradient uint32, capacityBps uint64, mtu int, alpha float64, latencyUsec float64) float64 {
	if mtu <= 0 {
		mtu = 1
	}
	return float64(gradient)*(float64(capacityBps)/float64(mtu)) - alpha*latencyUsec
}
