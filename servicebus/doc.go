/*
Package servicebus fans domain events out to in-process handlers and forwards selected
ones to an integration EventPublisher. It is how the bank service announces committed
transfers and issued loans without coupling its handlers to a broker.
*/
package servicebus
