package logger

const (
	ComponentMain    = "main"
	ComponentRing    = "ring"
	ComponentStack   = "stack"
	ComponentPump    = "pump"
	ComponentDHCP    = "dhcp"
	ComponentLease   = "lease"
	ComponentMonitor = "mond"
)
