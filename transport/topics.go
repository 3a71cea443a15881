package transport

import (
	"strconv"
	"strings"
)

const (
	TopicRequest  = "wpe-request"
	TopicResponse = "wpe-response"

	TopicRequestPurge     = TopicRequest + "/purge"
	TopicRequestConfigure = TopicRequest + "/configure"
	TopicRequestFetch     = TopicRequest + "/fetch"
	TopicRequestLocate    = TopicRequest + "/locate"
	TopicAllRequests      = TopicRequest + "/#"

	TopicResponsePurge     = TopicResponse + "/purge"
	TopicResponseConfigure = TopicResponse + "/configure"
	TopicResponseFetch     = TopicResponse + "/fetch"
	TopicResponseLocate    = TopicResponse + "/locate"
	TopicAllResponses      = TopicResponse + "/#"
)

// LocateResponseTopic returns the topic locate responses of a network are
// published on.
func LocateResponseTopic(networkID int64) string {
	return TopicResponseLocate + "/" + strconv.FormatInt(networkID, 10)
}

// MatchTopic reports whether topic matches an MQTT subscription pattern,
// where "+" matches one level and a trailing "#" matches any remaining levels.
func MatchTopic(pattern, topic string) bool {
	p := strings.Split(pattern, "/")
	t := strings.Split(topic, "/")

	for i, level := range p {
		if level == "#" {
			return i == len(p)-1
		}
		if i >= len(t) {
			return false
		}
		if level != "+" && level != t[i] {
			return false
		}
	}
	return len(p) == len(t)
}
