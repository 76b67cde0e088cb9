// Package topic builds and parses the bridge channel's topic names. All
// agent/operator traffic flows through one channel, partitioned into
// three sub-channels by topic prefix: chat, input, and status.
package topic

import (
	"path/filepath"
	"strings"
)

// Sub-channel prefixes.
const (
	KindChat   = "chat"
	KindInput  = "input"
	KindStatus = "status"
)

// AdhocProject is the sentinel project label used when no stable project
// name can be derived from a path.
const AdhocProject = "adhoc"

// Parsed is the result of decomposing a bridge topic.
type Parsed struct {
	Kind      string
	Project   string
	Agent     string
	Session   string
	RequestID string
}

// ChatTopic returns the topic for ordinary conversation between an agent
// session and the operator: "chat/<project>/<agent>/<session>".
func ChatTopic(project, agent, session string) string {
	return KindChat + "/" + clean(project) + "/" + clean(agent) + "/" + clean(session)
}

// InputTopic returns the topic a reply to an input request must land on:
// "input/<project>/<requestID>".
func InputTopic(project, requestID string) string {
	return KindInput + "/" + clean(project) + "/" + clean(requestID)
}

// StatusTopic returns the topic for an agent's status reports:
// "status/<agent>".
func StatusTopic(agent string) string {
	return KindStatus + "/" + clean(agent)
}

// Parse decomposes a bridge topic into its components. It exactly
// inverts the builder functions; foreign strings return ok=false rather
// than an error.
func Parse(topic string) (Parsed, bool) {
	parts := strings.Split(topic, "/")
	switch parts[0] {
	case KindChat:
		if len(parts) != 4 || hasEmpty(parts) {
			return Parsed{}, false
		}
		return Parsed{Kind: KindChat, Project: parts[1], Agent: parts[2], Session: parts[3]}, true
	case KindInput:
		if len(parts) != 3 || hasEmpty(parts) {
			return Parsed{}, false
		}
		return Parsed{Kind: KindInput, Project: parts[1], RequestID: parts[2]}, true
	case KindStatus:
		if len(parts) != 2 || hasEmpty(parts) {
			return Parsed{}, false
		}
		return Parsed{Kind: KindStatus, Agent: parts[1]}, true
	}
	return Parsed{}, false
}

// ProjectFromPath derives a stable project label from a filesystem path.
// Missing, relative, or root-ish paths fall back to AdhocProject instead
// of erroring.
func ProjectFromPath(path string) string {
	if path == "" {
		return AdhocProject
	}
	base := filepath.Base(filepath.Clean(path))
	if base == "." || base == string(filepath.Separator) || base == ".." {
		return AdhocProject
	}
	return clean(base)
}

// clean makes a component safe to embed in a topic. Slashes would break
// parsing, so they and whitespace collapse to dashes; empty components
// become the sentinel so builders never emit unparseable topics.
func clean(s string) string {
	s = strings.TrimSpace(s)
	if s == "" {
		return AdhocProject
	}
	s = strings.ReplaceAll(s, "/", "-")
	return strings.Join(strings.Fields(s), "-")
}

func hasEmpty(parts []string) bool {
	for _, p := range parts {
		if p == "" {
			return true
		}
	}
	return false
}
