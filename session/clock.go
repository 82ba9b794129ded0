package session

import (
	"time"

	"github.com/google/uuid"
)

type systemTimers struct{}

func NewTimerFactory() TimerFactory {
	return systemTimers{}
}

func (systemTimers) AfterFunc(d time.Duration, f func()) Timer {
	return time.AfterFunc(d, f)
}

type tickerGen struct{}

func NewTickerGen() PeriodicTickerChannelCreator {
	return tickerGen{}
}

func (tickerGen) Create(d time.Duration) <-chan time.Time {
	return time.NewTicker(d).C
}

type uuidGen struct{}

func NewIdGen() UniqueIdGenerator {
	return uuidGen{}
}

func (uuidGen) Generate() string {
	return uuid.NewString()
}
