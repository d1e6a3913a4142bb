// Package conversation keeps the recent message history of each user so the
// assistant can answer with context.
//
// Each user keeps at most the last 20 messages. Conversations that stay idle
// longer than the configured TTL are evicted, as is the least recently active
// conversation once the store is full.
package conversation
