package utils

// DateOnlyLength is the length of the date part of an ISO-8601 timestamp (YYYY-MM-DD).
const DateOnlyLength = 10

// TruncateDate keeps the first ten characters of an ISO-8601 timestamp.
// Strings shorter than that are returned unchanged; nothing is validated.
func TruncateDate(s string) string {
	count := 0
	for i := range s {
		if count == DateOnlyLength {
			return s[:i]
		}
		count++
	}
	return s
}

// Deref returns the pointed-to string, or "" and false for nil.
func Deref(s *string) (string, bool) {
	if s == nil {
		return "", false
	}
	return *s, true
}
