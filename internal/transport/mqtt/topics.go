package mqtt

import (
	"strconv"
	"strings"
)

type topics struct {
	base          string
	availability  string
	channelSet    string // wildcard subscription
	durationSet   string
	command       string
	commandResult string
	state         string
	status        string
	schedules     string
	duration      string
	alert         string
	log           string
}

func newTopics(base string) topics {
	return topics{
		base:          base,
		availability:  base + "/availability",
		channelSet:    base + "/channel/+/set",
		durationSet:   base + "/duration/set",
		command:       base + "/command",
		commandResult: base + "/command/result",
		state:         base + "/state",
		status:        base + "/status",
		schedules:     base + "/schedules",
		duration:      base + "/duration",
		alert:         base + "/alert",
		log:           base + "/log",
	}
}

func (t topics) channelState(ch int) string {
	return t.base + "/channel/" + strconv.Itoa(ch) + "/state"
}

// channelOf extracts n from <base>/channel/<n>/set.
func (t topics) channelOf(topic string) (int, bool) {
	rest, ok := strings.CutPrefix(topic, t.base+"/channel/")
	if !ok {
		return 0, false
	}
	num, ok := strings.CutSuffix(rest, "/set")
	if !ok {
		return 0, false
	}
	n, err := strconv.Atoi(num)
	if err != nil || n < 1 {
		return 0, false
	}
	return n, true
}
