/*
Copyright © 2026 Seednode <seednode@seedno.de>
*/

package main

import "time"

// Clock lets tests drive the emergency cooldown and auto clear.
type Clock interface {
	Now() time.Time
	AfterFunc(d time.Duration, f func()) Timer
}

type Timer interface {
	Stop() bool
}

type realClock struct{}

func (realClock) Now() time.Time {
	return time.Now()
}

func (realClock) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}
