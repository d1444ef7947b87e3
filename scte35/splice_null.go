package scte35

// SpliceNull carries no splice information; a live source sends one as a
// heartbeat to prove its SCTE-35 PID is still alive between real cue events.
type SpliceNull struct{}

func (cmd *SpliceNull) Type() uint32 { return SpliceNullType }

func (cmd *SpliceNull) decode(_ []byte) error { return nil }

func (cmd *SpliceNull) commandLength() int { return 0 }
