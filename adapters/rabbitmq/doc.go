/*
Package rabbitmq carries RPC requests and replies over AMQP 0-9-1.

Requests are published to one durable direct exchange and land in one durable queue bound
once per routing key. Servers consume that queue with manual acknowledgement and a
prefetch of one. Each client declares its own exclusive, auto-delete, server-named reply
queue and redeclares it after every reconnect; servers answer through the default
exchange using the reply queue name as routing key.
*/
package rabbitmq
