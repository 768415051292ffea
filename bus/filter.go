package bus

import "path"

// MessageFilter is a composable predicate over a ChannelMessage; a
// Channel only delivers a message once every installed filter accepts
// it (spec.md §3: "all filters must accept for delivery").
type MessageFilter interface {
	Accept(msg ChannelMessage) bool
}

// MessageFilterFunc adapts a plain func into a MessageFilter.
type MessageFilterFunc func(msg ChannelMessage) bool

// Accept implements MessageFilter.
func (f MessageFilterFunc) Accept(msg ChannelMessage) bool { return f(msg) }

// TopicFilter accepts messages whose Topic matches a glob pattern
// (`*`, `?`), per spec.md §6 "matching in filters may be exact or
// glob".
type TopicFilter struct {
	Pattern string
}

// NewTopicFilter builds a TopicFilter for pattern.
func NewTopicFilter(pattern string) TopicFilter { return TopicFilter{Pattern: pattern} }

// Accept implements MessageFilter.
func (f TopicFilter) Accept(msg ChannelMessage) bool {
	if f.Pattern == "" || f.Pattern == "*" {
		return true
	}
	ok, err := path.Match(f.Pattern, msg.Topic)
	return err == nil && ok
}

// PriorityFilter accepts only messages at or above a minimum priority.
type PriorityFilter struct {
	Min uint
}

// Accept implements MessageFilter.
func (f PriorityFilter) Accept(msg ChannelMessage) bool { return msg.Priority >= f.Min }
