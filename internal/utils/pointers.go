package utils

import "time"

// GetOrDefault returns the value if the pointer is not nil, otherwise returns the default value
func GetOrDefault[T any](ptr *T, defaultVal T) T {
	if ptr == nil {
		return defaultVal
	}
	return *ptr
}

func StringPtr(s string) *string {
	return &s
}

func Uint32Ptr(v uint32) *uint32 {
	return &v
}

func TimePtr(t time.Time) *time.Time {
	return &t
}
