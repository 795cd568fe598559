package files

import "os"

// FirstRegular returns the first path in candidates that exists and is a
// regular file, or "" if none match.
func FirstRegular(candidates []string) string {
	for _, p := range candidates {
		info, err := os.Stat(p)
		if err != nil {
			continue
		}
		if info.Mode().IsRegular() {
			return p
		}
	}
	return ""
}
