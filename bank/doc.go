/*
Package bank holds the banking operations served over RPC: balance lookup, transaction
history, loan issuance and transfers between accounts.

Handlers decode and validate the JSON payload, run the operation against a Store inside
one database transaction and answer with OK plus data or ERROR plus a message. Business
rejections are Error values; any other failure is returned to the dispatcher, which
replies with a generic internal error.
*/
package bank
