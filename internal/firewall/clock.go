package firewall

import "time"

type clock interface {
	Now() time.Time
}

type timeNowClock struct{}

func (timeNowClock) Now() time.Time {
	return time.Now().UTC()
}
