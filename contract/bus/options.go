package bus

// PublishOptions controls integration event publishing.
// Key selects the partition on transports that have one.
type PublishOptions struct {
	TopicOverride string
	Key           string
	Headers       map[string]string
}
