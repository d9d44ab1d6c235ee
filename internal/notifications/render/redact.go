package render

import "strings"

// RedactDestination masks a destination for logs. Email keeps the first
// character of the local part; phone numbers keep the last four digits;
// device tokens and endpoint ARNs keep the last six characters.
func RedactDestination(dest string) string {
	switch {
	case dest == "":
		return ""
	case strings.Contains(dest, "@"):
		local, domain, _ := strings.Cut(dest, "@")
		if local == "" {
			return "***@" + domain
		}
		return local[:1] + "***@" + domain
	case strings.HasPrefix(dest, "+"):
		if len(dest) <= 5 {
			return "+***"
		}
		return "+***" + dest[len(dest)-4:]
	default:
		if len(dest) <= 6 {
			return "***"
		}
		return "***" + dest[len(dest)-6:]
	}
}

// RedactAll masks every destination in ds.
func RedactAll(ds []string) []string {
	out := make([]string, len(ds))
	for i, d := range ds {
		out[i] = RedactDestination(d)
	}
	return out
}
