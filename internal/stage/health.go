package stage

// Health reports whether a handler can currently run jobs, with detail when
// it cannot (missing engine binary, unreadable library, unreachable
// classifier).
type Health struct {
	Name   string
	Ready  bool
	Detail string
}

// Healthy constructs a ready Health record.
func Healthy(name string) Health {
	return Health{Name: name, Ready: true}
}

// Unhealthy constructs an unready Health record carrying the reason.
func Unhealthy(name, detail string) Health {
	return Health{Name: name, Ready: false, Detail: detail}
}
