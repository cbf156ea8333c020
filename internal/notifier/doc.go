// Package notifier delivers new-listing notifications asynchronously.
//
// Notify never blocks the caller: notifications go into a bounded queue that
// a single worker drains in order, so messages reach each sink in discovery
// order. The worker rate limits sends and retries failed deliveries with
// exponential backoff and jitter. Delivery is best effort; a full queue drops
// the notification and reports ErrQueueFull.
//
// # Sinks
//
// Each notification is sent to every configured transport.Sender. LogSender
// is always available and writes the message to the structured log; the
// Telegram sender posts it to a chat.
//
// # History
//
// The service keeps a short in-memory history of delivered messages for the
// debug endpoint.
package notifier
