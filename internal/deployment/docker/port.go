package docker

import "net"

// findFreePort asks the kernel for an unused TCP port by opening a
// listener on port 0, reading back whichever port it was assigned, and
// closing it immediately. The brief window between close and the caller
// actually binding it is an accepted race.
func findFreePort() (int, error) {
	l, err := net.Listen("tcp", "127.0.0.1:0")
	if err != nil {
		return 0, err
	}
	defer l.Close()
	return l.Addr().(*net.TCPAddr).Port, nil
}
