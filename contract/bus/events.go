package bus

// DomainEvent is raised inside the service after a state change commits, such as a
// completed transfer. Handlers run synchronously.
type DomainEvent interface{}

// IntegrationEvent leaves the process through an EventPublisher. Topic selects the
// destination topic or subject.
type IntegrationEvent interface{ Topic() string }
