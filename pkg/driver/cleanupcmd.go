package driver

// CleanupCommandName marks a task payload as a synthesized cleanup task
// rather than a job container. Cleanup tasks carry no image; a driver
// that recognizes the marker reclaims the named containers and paths
// directly instead of launching anything.
const CleanupCommandName = "corral-cleanup"

// BuildCleanupCommand renders container names and workspace paths into
// the argv a cleanup task carries in its payload.
func BuildCleanupCommand(containers, paths []string) []string {
	argv := []string{CleanupCommandName}
	for _, c := range containers {
		argv = append(argv, "--container", c)
	}
	for _, p := range paths {
		argv = append(argv, "--path", p)
	}
	return argv
}

// ParseCleanupCommand is the inverse of BuildCleanupCommand. ok is false
// when argv is not a cleanup command.
func ParseCleanupCommand(argv []string) (containers, paths []string, ok bool) {
	if len(argv) == 0 || argv[0] != CleanupCommandName {
		return nil, nil, false
	}
	for i := 1; i+1 < len(argv); i += 2 {
		switch argv[i] {
		case "--container":
			containers = append(containers, argv[i+1])
		case "--path":
			paths = append(paths, argv[i+1])
		}
	}
	return containers, paths, true
}
