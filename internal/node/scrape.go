package node

import "strconv"

// Address is the endpoint a worker reported in its startup log.
type Address struct {
	Scheme string
	IP     string
	Port   int
}

// ScrapeAddress extracts the first ready marker from a worker log.
func ScrapeAddress(log []byte) (Address, bool) {
	m := readyPattern.FindSubmatch(log)
	if m == nil {
		return Address{}, false
	}
	port, err := strconv.Atoi(string(m[3]))
	if err != nil {
		return Address{}, false
	}
	return Address{Scheme: string(m[1]), IP: string(m[2]), Port: port}, true
}

// ScrapeFormed reports whether the log announces a cluster of exactly size members.
func ScrapeFormed(log []byte, size int) bool {
	for _, m := range formedPattern.FindAllSubmatch(log, -1) {
		if n, err := strconv.Atoi(string(m[1])); err == nil && n == size {
			return true
		}
	}
	return false
}
