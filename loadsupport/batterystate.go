package loadsupport

import (
	"fmt"
	"math/rand"
	"sync"
	"time"
)

type (
	// BatteryState is the record minions push upstream and pollers read back downstream.
	BatteryState struct {
		DeviceID     string `json:"deviceId"`
		Timestamp    int64  `json:"timestamp"`
		BatteryLevel int    `json:"batteryLevel"`
	}
	// BatteryStateGenerator produces battery states of one device. Timestamps strictly increase, so
	// primary keys of a generator never repeat.
	BatteryStateGenerator struct {
		m        sync.Mutex
		deviceID string
		last     int64
		level    int
		rnd      *rand.Rand
		now      func() time.Time
	}
)

// From https://stackoverflow.com/a/31832326
const (
	letterBytes   = "abcdefghijklmnopqrstuvwxyz0123456789"
	letterIdxBits = 6
	letterIdxMask = 1<<letterIdxBits - 1
	letterIdxMax  = 63 / letterIdxBits
)

const deviceIDSuffixLength = 8

// PrimaryKey correlates a battery state pushed upstream with the one found downstream.
func (b BatteryState) PrimaryKey() string {

	return fmt.Sprintf("%s:%d", b.DeviceID, b.Timestamp)

}

func NewBatteryStateGenerator(deviceBaseName string) *BatteryStateGenerator {

	src := rand.NewSource(time.Now().UnixNano())
	rnd := rand.New(src)

	return &BatteryStateGenerator{
		deviceID: fmt.Sprintf("%s-%s", deviceBaseName, generateRandomString(rnd, deviceIDSuffixLength)),
		level:    50 + rnd.Intn(51),
		rnd:      rnd,
		now:      time.Now,
	}

}

func (g *BatteryStateGenerator) DeviceID() string {

	return g.deviceID

}

// Next returns the device's next battery state. The battery level drains by up to two percent per
// state and is recharged to full once empty.
func (g *BatteryStateGenerator) Next() BatteryState {

	g.m.Lock()
	defer g.m.Unlock()

	ts := g.now().UnixMilli()
	if ts <= g.last {
		ts = g.last + 1
	}
	g.last = ts

	g.level -= g.rnd.Intn(3)
	if g.level <= 0 {
		g.level = 100
	}

	return BatteryState{
		DeviceID:     g.deviceID,
		Timestamp:    ts,
		BatteryLevel: g.level,
	}

}

func generateRandomString(rnd *rand.Rand, n int) string {

	b := make([]byte, n)
	// A rnd.Int63() generates 63 random bits, enough for letterIdxMax characters!
	for i, cache, remain := n-1, rnd.Int63(), letterIdxMax; i >= 0; {
		if remain == 0 {
			cache, remain = rnd.Int63(), letterIdxMax
		}
		if idx := int(cache & letterIdxMask); idx < len(letterBytes) {
			b[i] = letterBytes[idx]
			i--
		}
		cache >>= letterIdxBits
		remain--
	}

	return string(b)

}
