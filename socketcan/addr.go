package socketcan

import "strconv"

// Addr is the local address of a bound socket: the AF_CAN family and the
// interface index. Index 0 means every CAN interface.
type Addr struct {
	Ifindex int
}

func (a Addr) Network() string { return "can" }
func (a Addr) String() string  { return "can:" + strconv.Itoa(a.Ifindex) }
