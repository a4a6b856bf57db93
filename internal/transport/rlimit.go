package transport

// FileLimitSlack is the number of descriptors reserved on top of the
// two per connection pair (logs, exporter files, the listener).
const FileLimitSlack = 64

// FileLimit is the process's RLIMIT_NOFILE after RaiseFileLimit.
type FileLimit struct {
	Soft uint64
	Hard uint64
}

// DescriptorsFor returns how many descriptors n loopback connection
// pairs need: one client socket and one accepted socket each.
func DescriptorsFor(n int) uint64 {
	if n < 0 {
		n = 0
	}
	return 2*uint64(n) + FileLimitSlack
}
