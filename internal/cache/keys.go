package cache

import "fmt"

func TaskStatusKey(taskID string) string {
	return fmt.Sprintf("task:%s", taskID)
}

func ActiveModelKey(name string) string {
	return fmt.Sprintf("model:active:%s", name)
}

// RateLimitKey builds the window counter key for one API key and request
// class ("read" or "write").
func RateLimitKey(keyPrefix, class string) string {
	return fmt.Sprintf("ratelimit:%s:%s", keyPrefix, class)
}
