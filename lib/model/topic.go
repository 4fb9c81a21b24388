package model

import "strings"

// SplitTopic splits a slash-delimited MQTT topic into its tokens.
// "foo/bar/baz" -> ["foo", "bar", "baz"]; "" -> [""].
func SplitTopic(topic string) []string {
	return strings.Split(topic, "/")
}

// JoinTopic is the inverse of SplitTopic.
func JoinTopic(tokens []string) string {
	return strings.Join(tokens, "/")
}

// MatchFilter reports whether topic matches filter under MQTT wildcard
// rules: '+' matches exactly one level, '#' (only legal as the last
// level) matches zero or more trailing levels. Filters starting with a
// wildcard never match topics starting with '$'.
//
// Grounded on the level-by-level scan used by MQTT client libraries to
// dispatch incoming PUBLISH packets to local subscriptions.
func MatchFilter(filter, topic string) bool {
	if len(topic) > 0 && topic[0] == '$' {
		if len(filter) > 0 && (filter[0] == '+' || filter[0] == '#') {
			return false
		}
	}

	fTokens := SplitTopic(filter)
	tTokens := SplitTopic(topic)

	fi := 0
	for fi < len(fTokens) {
		fLevel := fTokens[fi]

		if fLevel == "#" {
			return true
		}

		if fi >= len(tTokens) {
			return false
		}

		if fLevel != "+" && fLevel != tTokens[fi] {
			return false
		}

		fi++
	}

	return fi == len(tTokens)
}

// IsConcrete reports whether a topic filter contains no wildcard tokens,
// i.e. it names exactly one topic.
func IsConcrete(filter string) bool {
	for _, tok := range SplitTopic(filter) {
		if tok == "+" || tok == "#" {
			return false
		}
	}
	return true
}
